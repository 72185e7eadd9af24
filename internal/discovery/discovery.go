// Package discovery populates a manifest builder from a project directory.
//
// Handlers are described by YAML definition files laid out by category:
//
//	commands/ping.yml                     command "ping"
//	commands/admin/ban.yml                command "admin.ban"
//	components/buttons/vote_:choice.yml   button pattern "vote_:choice"
//	components/selects/role_[id].yml      select pattern "role_[id]"
//	components/modals/feedback.yml        modal pattern "feedback"
//	events/application_authorized.yml     APPLICATION_AUTHORIZED subscriber
//
// Each file names the Go handler it binds to; compiled handlers are supplied
// through a manifest.HandlerSet.
package discovery

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/conduit-lang/relay/internal/interaction"
	"github.com/conduit-lang/relay/internal/manifest"
)

// Layout names the category directories under a project root.
type Layout struct {
	CommandsDir   string `mapstructure:"commands_dir"`
	ComponentsDir string `mapstructure:"components_dir"`
	EventsDir     string `mapstructure:"events_dir"`
}

// DefaultLayout returns the conventional directory names.
func DefaultLayout() Layout {
	return Layout{
		CommandsDir:   "commands",
		ComponentsDir: "components",
		EventsDir:     "events",
	}
}

func (l Layout) withDefaults() Layout {
	d := DefaultLayout()
	if l.CommandsDir == "" {
		l.CommandsDir = d.CommandsDir
	}
	if l.ComponentsDir == "" {
		l.ComponentsDir = d.ComponentsDir
	}
	if l.EventsDir == "" {
		l.EventsDir = d.EventsDir
	}
	return l
}

// componentDirs maps the subdirectories of ComponentsDir to their kind.
var componentDirs = []struct {
	dir  string
	kind interaction.ComponentKind
}{
	{"buttons", interaction.ComponentButton},
	{"selects", interaction.ComponentSelect},
	{"modals", interaction.ComponentModal},
}

// File is the schema of a handler definition file. Every field is optional.
type File struct {
	// Handler is the binding name in the HandlerSet. It defaults to the
	// derived key.
	Handler string `yaml:"handler"`
	// Name overrides the command name derived from the path, or names an
	// event subscription.
	Name string `yaml:"name"`
	// Pattern overrides the component pattern derived from the file stem.
	Pattern string `yaml:"pattern"`
	// Event overrides the event type derived from the file stem.
	Event       string         `yaml:"event"`
	Description string         `yaml:"description"`
	Config      map[string]any `yaml:"config"`
}

// Discover walks root with layout, binds every definition to handlers and
// builds the manifest. File problems and build problems are reported
// together in one *manifest.BuildError.
func Discover(root string, layout Layout, handlers manifest.HandlerSet, defaults manifest.Defaults, logger *zap.Logger) (*manifest.Manifest, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := manifest.NewBuilder(defaults, manifest.WithLogger(logger))
	fileErrs, err := Populate(b, root, layout, handlers, logger)
	if err != nil {
		return nil, err
	}

	m, buildErr := b.Build()
	if fileErrs.Len() == 0 {
		return m, buildErr
	}

	var be *manifest.BuildError
	if errors.As(buildErr, &be) {
		fileErrs.Add(be.Errors...)
	}
	return nil, fileErrs
}

// Populate adds every definition found under root to b. Unreadable or
// malformed definition files are returned as problems so that the caller
// can report them alongside build problems; the returned error is reserved
// for failures to walk the tree at all.
func Populate(b *manifest.Builder, root string, layout Layout, handlers manifest.HandlerSet, logger *zap.Logger) (*manifest.BuildError, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root %s is not a directory", root)
	}

	layout = layout.withDefaults()
	s := &scanner{
		root:     root,
		builder:  b,
		handlers: handlers,
		logger:   logger,
		problems: &manifest.BuildError{},
	}

	if err := s.walk(filepath.Join(root, layout.CommandsDir), manifest.CategoryCommand, interaction.ComponentAny); err != nil {
		return nil, err
	}
	for _, c := range componentDirs {
		if err := s.walk(filepath.Join(root, layout.ComponentsDir, c.dir), manifest.CategoryComponent, c.kind); err != nil {
			return nil, err
		}
	}
	if err := s.walk(filepath.Join(root, layout.EventsDir), manifest.CategoryEvent, interaction.ComponentAny); err != nil {
		return nil, err
	}

	logger.Debug("discovery finished",
		zap.String("root", root),
		zap.Int("definitions", s.found),
		zap.Int("problems", s.problems.Len()),
	)
	return s.problems, nil
}

type scanner struct {
	root     string
	builder  *manifest.Builder
	handlers manifest.HandlerSet
	logger   *zap.Logger
	problems *manifest.BuildError
	found    int
}

func (s *scanner) walk(dir string, category manifest.Category, kind interaction.ComponentKind) error {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("category directory not present", zap.String("dir", dir))
		return nil
	}

	// WalkDir visits entries in lexical order, which fixes registration order.
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to walk %s: %w", path, err)
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !isDefinition(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		source, err := filepath.Rel(s.root, path)
		if err != nil {
			source = path
		}
		source = filepath.ToSlash(source)

		def, problem := s.load(path, filepath.ToSlash(rel), source, category, kind)
		if problem != nil {
			s.problems.Add(problem)
			return nil
		}
		s.builder.Add(def)
		s.found++
		return nil
	})
}

func (s *scanner) load(path, rel, source string, category manifest.Category, kind interaction.ComponentKind) (manifest.Definition, *manifest.ConfigError) {
	fail := func(format string, args ...any) *manifest.ConfigError {
		return &manifest.ConfigError{
			Code:     manifest.CodeInvalidFile,
			Category: category,
			Source:   source,
			Message:  fmt.Sprintf(format, args...),
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return manifest.Definition{}, fail("failed to read definition: %v", err)
	}
	file, err := parseFile(data)
	if err != nil {
		return manifest.Definition{}, fail("failed to parse definition: %v", err)
	}

	stem := strings.TrimSuffix(rel, filepath.Ext(rel))
	def := manifest.Definition{
		Category: category,
		Kind:     kind,
		Source:   source,
		Config:   file.Config,
	}

	switch category {
	case manifest.CategoryCommand:
		def.Key = firstNonEmpty(file.Name, strings.ReplaceAll(stem, "/", "."))
		if file.Description != "" {
			if def.Config == nil {
				def.Config = map[string]any{}
			}
			if _, ok := def.Config["description"]; !ok {
				def.Config["description"] = file.Description
			}
		}
	case manifest.CategoryComponent:
		if strings.Contains(stem, "/") && file.Pattern == "" {
			return manifest.Definition{}, fail("component definitions must sit directly in their kind directory or declare a pattern")
		}
		def.Key = firstNonEmpty(file.Pattern, stem)
	case manifest.CategoryEvent:
		def.Key = firstNonEmpty(file.Event, strings.ToUpper(filepath.Base(stem)))
		def.Name = file.Name
	}

	def.HandlerName = firstNonEmpty(file.Handler, def.Key)
	if h, ok := s.handlers.Lookup(def.HandlerName); ok {
		def.Handler = h
	}
	return def, nil
}

// parseFile decodes a definition. An empty file is a valid definition with
// every field defaulted; unknown fields are rejected.
func parseFile(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &f, nil
}

func isDefinition(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch filepath.Ext(name) {
	case ".yml", ".yaml":
		return true
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
