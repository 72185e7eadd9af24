// Package merge deep-merges loosely typed configuration mappings.
package merge

// Merge returns a new mapping holding base overlaid with override.
//
// When a key holds a mapping in both inputs the two are merged recursively.
// Any other override value (scalars, slices, a mapping over a non-mapping)
// replaces the base value outright; slices are never concatenated. Keys that
// are absent from override, or present with a nil value, keep the base value:
// nil means "not set", so Merge(empty, b) equals b only when b holds no nil
// values. Use a typed zero value to override with an empty setting.
//
// Neither input is modified. Subtrees that are merged are freshly allocated;
// subtrees taken unchanged from one input may be shared with it.
func Merge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}

	for k, ov := range override {
		if ov == nil {
			continue
		}
		om, overrideIsMap := asMap(ov)
		bm, baseIsMap := asMap(out[k])
		if overrideIsMap && baseIsMap {
			out[k] = Merge(bm, om)
			continue
		}
		out[k] = ov
	}

	return out
}

// All folds Merge over layers from left to right.
func All(layers ...map[string]any) map[string]any {
	out := map[string]any{}
	for _, layer := range layers {
		out = Merge(out, layer)
	}
	return out
}

// Clone returns a deep copy of m. Nested mappings and slices are copied;
// other values are shared.
func Clone(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	if m, ok := asMap(v); ok {
		return Clone(m)
	}
	if s, ok := v.([]any); ok {
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}

// asMap reports whether v is a plain key/value mapping. YAML decoders may
// produce map[any]any for nested documents, which is normalised here.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	}
	return nil, false
}
