// Package manifest builds the immutable routing manifest from handler
// definitions.
//
// Definitions reach a Builder either through explicit registration or
// through a discovery strategy such as the directory convention in package
// discovery. Build validates every definition, compiles component patterns,
// merges configuration with category defaults and either returns a Manifest
// or a BuildError listing every problem found.
package manifest

import (
	"context"
	"fmt"
	"strings"

	"github.com/conduit-lang/relay/internal/interaction"
	"github.com/conduit-lang/relay/internal/pattern"
	"github.com/conduit-lang/relay/internal/util/merge"
)

// Handler is the body invoked for a routed request. The returned value is
// handed back to the transport; its encoding is the transport's concern.
type Handler func(ctx context.Context, ic *interaction.Context) (any, error)

// HandlerSet maps binding names to handlers so that definitions sourced from
// files or artifacts can be bound to compiled Go code.
type HandlerSet map[string]Handler

// Register binds name to h, replacing any previous binding.
func (s HandlerSet) Register(name string, h Handler) HandlerSet {
	s[name] = h
	return s
}

// Lookup returns the handler bound to name.
func (s HandlerSet) Lookup(name string) (Handler, bool) {
	h, ok := s[name]
	return h, ok && h != nil
}

// Definition is the builder input for one handler.
type Definition struct {
	Category Category
	// Key is the command name, the component pattern or the event type.
	Key string
	// Kind partitions component handlers. Ignored for other categories.
	Kind interaction.ComponentKind
	// Name distinguishes several subscriptions to one event type. It
	// defaults to HandlerName, then to Source.
	Name string
	// Source is an opaque diagnostic reference, usually a file path.
	Source string
	// HandlerName is the binding name recorded in artifacts.
	HandlerName string
	// Config is the inline configuration, merged over category defaults.
	Config map[string]any
	Handler Handler
}

// Descriptor is a validated handler placed in a Manifest. It is immutable.
type Descriptor struct {
	category    Category
	key         string
	kind        interaction.ComponentKind
	name        string
	source      string
	handlerName string
	config      Config
	rawConfig   map[string]any
	pattern     *pattern.Pattern
	handler     Handler
	order       int
}

func (d *Descriptor) Category() Category              { return d.category }
func (d *Descriptor) Key() string                     { return d.key }
func (d *Descriptor) Kind() interaction.ComponentKind { return d.kind }
func (d *Descriptor) Name() string                    { return d.name }
func (d *Descriptor) Source() string                  { return d.source }
func (d *Descriptor) HandlerName() string             { return d.handlerName }
func (d *Descriptor) Config() Config                  { return d.config }

// Pattern returns the compiled pattern of a component handler, nil otherwise.
func (d *Descriptor) Pattern() *pattern.Pattern { return d.pattern }

// Order is the registration position across the whole manifest.
func (d *Descriptor) Order() int { return d.order }

// RawConfig returns a deep copy of the merged configuration mapping.
func (d *Descriptor) RawConfig() map[string]any {
	return merge.Clone(d.rawConfig)
}

// Invoke calls the handler.
func (d *Descriptor) Invoke(ctx context.Context, ic *interaction.Context) (any, error) {
	return d.handler(ctx, ic)
}

// String identifies the descriptor in logs.
func (d *Descriptor) String() string {
	if d.category == CategoryComponent {
		return fmt.Sprintf("%s(%s) %s [%s]", d.category, d.kind, d.key, d.source)
	}
	return fmt.Sprintf("%s %s [%s]", d.category, d.key, d.source)
}

// identity is the uniqueness key inside a manifest.
func (d *Descriptor) identity() string {
	switch d.category {
	case CategoryComponent:
		// Patterns that differ only in capture names or syntax match the
		// same custom-ids, so they collide.
		return d.category.String() + ":" + shape(d.pattern)
	case CategoryEvent:
		return d.category.String() + ":" + d.key + "#" + d.name
	}
	return d.category.String() + ":" + d.key
}

func shape(p *pattern.Pattern) string {
	segs := p.Segments()
	parts := make([]string, len(segs))
	for i, s := range segs {
		if s.IsCapture() {
			parts[i] = ":"
		} else {
			parts[i] = s.Literal
		}
	}
	return strings.Join(parts, pattern.Delimiter)
}
