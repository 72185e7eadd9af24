package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sample() map[string]any {
	return map[string]any{
		"timeout": "3s",
		"tags":    []any{"a", "b"},
		"nested": map[string]any{
			"keep":  1,
			"swap":  "base",
			"inner": map[string]any{"x": 1},
		},
	}
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	base := sample()
	override := map[string]any{
		"tags": []any{"c"},
		"nested": map[string]any{
			"swap":  "override",
			"inner": map[string]any{"y": 2},
		},
	}

	_ = Merge(base, override)

	assert.Equal(t, sample(), base)
	assert.Equal(t, map[string]any{
		"tags": []any{"c"},
		"nested": map[string]any{
			"swap":  "override",
			"inner": map[string]any{"y": 2},
		},
	}, override)
}

func TestMergeIdentities(t *testing.T) {
	a := sample()
	assert.Equal(t, a, Merge(a, map[string]any{}))
	assert.Equal(t, a, Merge(a, nil))
	assert.Equal(t, a, Merge(map[string]any{}, a))
	assert.Equal(t, a, Merge(nil, a))
}

func TestMergeRecursesIntoMappings(t *testing.T) {
	got := Merge(sample(), map[string]any{
		"nested": map[string]any{
			"swap":  "override",
			"inner": map[string]any{"y": 2},
		},
	})

	assert.Equal(t, map[string]any{
		"keep":  1,
		"swap":  "override",
		"inner": map[string]any{"x": 1, "y": 2},
	}, got["nested"])
}

func TestMergeReplacesSequencesAndScalars(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		override any
	}{
		{name: "sequence replaces sequence", key: "tags", override: []any{"z"}},
		{name: "scalar replaces sequence", key: "tags", override: "none"},
		{name: "scalar replaces mapping", key: "nested", override: false},
		{name: "sequence replaces mapping", key: "nested", override: []any{1, 2}},
		{name: "mapping replaces scalar", key: "timeout", override: map[string]any{"ms": 10}},
		{name: "new key", key: "fresh", override: 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(sample(), map[string]any{tt.key: tt.override})
			assert.Equal(t, tt.override, got[tt.key])
		})
	}
}

func TestMergeNilDoesNotErase(t *testing.T) {
	got := Merge(sample(), map[string]any{"timeout": nil, "nested": nil})
	assert.Equal(t, "3s", got["timeout"])
	assert.Equal(t, sample()["nested"], got["nested"])
}

func TestMergedSubtreesAreFresh(t *testing.T) {
	base := sample()
	got := Merge(base, map[string]any{"nested": map[string]any{"swap": "x"}})

	got["nested"].(map[string]any)["keep"] = 99
	assert.Equal(t, 1, base["nested"].(map[string]any)["keep"])
}

func TestMergeNormalisesYAMLMaps(t *testing.T) {
	base := map[string]any{"limits": map[any]any{"a": 1}}
	got := Merge(base, map[string]any{"limits": map[string]any{"b": 2}})
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, got["limits"])
}

func TestAll(t *testing.T) {
	got := All(
		map[string]any{"a": 1, "b": map[string]any{"c": 1}},
		map[string]any{"b": map[string]any{"d": 2}},
		map[string]any{"a": 3},
	)
	assert.Equal(t, map[string]any{"a": 3, "b": map[string]any{"c": 1, "d": 2}}, got)
}

func TestClone(t *testing.T) {
	in := sample()
	out := Clone(in)
	assert.Equal(t, in, out)

	out["nested"].(map[string]any)["inner"].(map[string]any)["x"] = 2
	out["tags"].([]any)[0] = "z"
	assert.Equal(t, sample(), in)

	assert.Nil(t, Clone(nil))
}
