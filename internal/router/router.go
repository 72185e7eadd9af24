// Package router resolves inbound keys against a built manifest.
package router

import (
	"sort"
	"strings"

	"github.com/conduit-lang/relay/internal/interaction"
	"github.com/conduit-lang/relay/internal/manifest"
	"github.com/conduit-lang/relay/internal/pattern"
)

// MatchResult is a resolved handler together with the captures bound while
// matching. Params is empty, never nil, for commands and literal patterns.
type MatchResult struct {
	Descriptor *manifest.Descriptor
	Params     map[string]string
}

// Router resolves commands, components and events. It holds no mutable
// state and is safe for concurrent use.
type Router struct {
	manifest *manifest.Manifest
	// components is captured once; Manifest accessors return copies.
	components []*manifest.Descriptor
}

// New creates a Router over m.
func New(m *manifest.Manifest) *Router {
	return &Router{
		manifest:   m,
		components: m.Components(),
	}
}

// Manifest returns the manifest the router resolves against.
func (r *Router) Manifest() *manifest.Manifest {
	return r.manifest
}

// Resolve looks up a command by exact name or a component by custom-id
// across all component kinds. Events resolve through ResolveEvent.
func (r *Router) Resolve(category manifest.Category, key string) (*MatchResult, bool) {
	switch category {
	case manifest.CategoryCommand:
		return r.ResolveCommand(key)
	case manifest.CategoryComponent:
		return r.ResolveComponent(interaction.ComponentAny, key)
	}
	return nil, false
}

// ResolveCommand returns the first key that names a registered command.
// Callers pass candidates most specific first, as produced by
// interaction.Envelope.CommandKeys.
func (r *Router) ResolveCommand(keys ...string) (*MatchResult, bool) {
	for _, key := range keys {
		if d, ok := r.manifest.Command(key); ok {
			return &MatchResult{Descriptor: d, Params: map[string]string{}}, true
		}
	}
	return nil, false
}

// ResolveComponent matches customID against component patterns of kind.
// ComponentAny considers every kind, and a component registered with
// ComponentAny answers to every kind. When several patterns match, the one
// with the fewest captures wins; equal counts fall back to registration
// order.
func (r *Router) ResolveComponent(kind interaction.ComponentKind, customID string) (*MatchResult, bool) {
	if customID == "" {
		return nil, false
	}
	parts := strings.Split(customID, pattern.Delimiter)

	var best *MatchResult
	for _, d := range r.components {
		if !acceptsKind(d, kind) {
			continue
		}
		p := d.Pattern()
		if best != nil && p.Captures() >= best.Descriptor.Pattern().Captures() {
			// Components are in registration order, so an equal count
			// never displaces the current best.
			continue
		}
		params, ok := p.MatchSegments(parts)
		if !ok {
			continue
		}
		best = &MatchResult{Descriptor: d, Params: params}
		if p.IsLiteral() {
			break
		}
	}
	return best, best != nil
}

func acceptsKind(d *manifest.Descriptor, kind interaction.ComponentKind) bool {
	return kind == interaction.ComponentAny || d.Kind() == interaction.ComponentAny || d.Kind() == kind
}

// ResolveEvent returns every subscriber of eventType in registration order.
func (r *Router) ResolveEvent(eventType string) []*manifest.Descriptor {
	return r.manifest.EventHandlers(eventType)
}

// Candidates returns every component of kind whose pattern matches customID,
// in the order the router would prefer them. Used for diagnostics.
func (r *Router) Candidates(kind interaction.ComponentKind, customID string) []*MatchResult {
	parts := strings.Split(customID, pattern.Delimiter)

	var out []*MatchResult
	for _, d := range r.components {
		if !acceptsKind(d, kind) {
			continue
		}
		if params, ok := d.Pattern().MatchSegments(parts); ok {
			out = append(out, &MatchResult{Descriptor: d, Params: params})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Descriptor.Pattern().Captures() < out[j].Descriptor.Pattern().Captures()
	})
	return out
}
