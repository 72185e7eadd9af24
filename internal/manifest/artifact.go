package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/conduit-lang/relay/internal/interaction"
)

// ArtifactVersion is bumped when the artifact layout changes incompatibly.
const ArtifactVersion = 1

// Artifact is the durable form of a manifest. Handlers are recorded by
// binding name and re-bound from a HandlerSet when loaded.
type Artifact struct {
	Version     int             `json:"version"`
	GeneratedAt time.Time       `json:"generated_at"`
	Handlers    []ArtifactEntry `json:"handlers"`
}

// ArtifactEntry is one descriptor in an Artifact.
type ArtifactEntry struct {
	Category Category                  `json:"category"`
	Key      string                    `json:"key"`
	Kind     interaction.ComponentKind `json:"kind,omitempty"`
	Name     string                    `json:"name,omitempty"`
	Source   string                    `json:"source"`
	Handler  string                    `json:"handler"`
	Config   map[string]any            `json:"config,omitempty"`
}

// Artifact snapshots the manifest in registration order.
func (m *Manifest) Artifact() *Artifact {
	all := m.All()
	a := &Artifact{
		Version:     ArtifactVersion,
		GeneratedAt: m.builtAt.UTC(),
		Handlers:    make([]ArtifactEntry, 0, len(all)),
	}
	for _, d := range all {
		a.Handlers = append(a.Handlers, ArtifactEntry{
			Category: d.category,
			Key:      d.key,
			Kind:     d.kind,
			Name:     d.name,
			Source:   d.source,
			Handler:  d.handlerName,
			Config:   d.RawConfig(),
		})
	}
	return a
}

// WriteArtifact persists the manifest as JSON at path, creating parent
// directories. The file is replaced atomically.
func (m *Manifest) WriteArtifact(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	data, err := json.MarshalIndent(m.Artifact(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace artifact: %w", err)
	}
	return nil
}

// ReadArtifact loads an artifact from path.
func ReadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode artifact %s: %w", path, err)
	}
	if a.Version != ArtifactVersion {
		return nil, fmt.Errorf("artifact %s has version %d, expected %d", path, a.Version, ArtifactVersion)
	}
	return &a, nil
}

// Builder returns a Builder holding the artifact's definitions bound to
// handlers. Stored configuration is already merged, so no defaults apply.
func (a *Artifact) Builder(handlers HandlerSet, opts ...BuilderOption) *Builder {
	b := NewBuilder(Defaults{}, opts...)
	for _, e := range a.Handlers {
		h, _ := handlers.Lookup(e.Handler)
		b.Add(Definition{
			Category:    e.Category,
			Key:         e.Key,
			Kind:        e.Kind,
			Name:        e.Name,
			Source:      e.Source,
			HandlerName: e.Handler,
			Config:      e.Config,
			Handler:     h,
		})
	}
	return b
}

// LoadArtifact reads an artifact and rebuilds the manifest it describes.
func LoadArtifact(path string, handlers HandlerSet, opts ...BuilderOption) (*Manifest, error) {
	a, err := ReadArtifact(path)
	if err != nil {
		return nil, err
	}
	return a.Builder(handlers, opts...).Build()
}
