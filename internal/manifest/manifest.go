package manifest

import (
	"sort"
	"time"
)

// Manifest is the immutable routing table produced by Builder.Build. It is
// safe to share across goroutines without locking.
type Manifest struct {
	commands     []*Descriptor
	commandIndex map[string]*Descriptor
	components   []*Descriptor
	events       []*Descriptor
	eventIndex   map[string][]*Descriptor
	builtAt      time.Time
}

func newManifest(descriptors []*Descriptor, builtAt time.Time) *Manifest {
	m := &Manifest{
		commandIndex: make(map[string]*Descriptor),
		eventIndex:   make(map[string][]*Descriptor),
		builtAt:      builtAt,
	}
	for _, d := range descriptors {
		switch d.category {
		case CategoryCommand:
			m.commands = append(m.commands, d)
			m.commandIndex[d.key] = d
		case CategoryComponent:
			m.components = append(m.components, d)
		case CategoryEvent:
			m.events = append(m.events, d)
			m.eventIndex[d.key] = append(m.eventIndex[d.key], d)
		}
	}
	return m
}

// Command returns the command registered under name.
func (m *Manifest) Command(name string) (*Descriptor, bool) {
	d, ok := m.commandIndex[name]
	return d, ok
}

// EventHandlers returns the subscribers of eventType in registration order.
func (m *Manifest) EventHandlers(eventType string) []*Descriptor {
	return clone(m.eventIndex[eventType])
}

// Commands returns command descriptors in registration order.
func (m *Manifest) Commands() []*Descriptor { return clone(m.commands) }

// Components returns component descriptors in registration order.
func (m *Manifest) Components() []*Descriptor { return clone(m.components) }

// Events returns event descriptors in registration order.
func (m *Manifest) Events() []*Descriptor { return clone(m.events) }

// All returns every descriptor in registration order.
func (m *Manifest) All() []*Descriptor {
	out := make([]*Descriptor, 0, m.Len())
	out = append(out, m.commands...)
	out = append(out, m.components...)
	out = append(out, m.events...)
	sort.Slice(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}

// Len returns the number of descriptors.
func (m *Manifest) Len() int {
	return len(m.commands) + len(m.components) + len(m.events)
}

// BuiltAt returns when the manifest was built.
func (m *Manifest) BuiltAt() time.Time {
	return m.builtAt
}

func clone(in []*Descriptor) []*Descriptor {
	if len(in) == 0 {
		return nil
	}
	out := make([]*Descriptor, len(in))
	copy(out, in)
	return out
}
