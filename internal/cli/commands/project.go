package commands

import (
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/conduit-lang/relay/internal/cli/config"
	"github.com/conduit-lang/relay/internal/discovery"
	"github.com/conduit-lang/relay/internal/logging"
	"github.com/conduit-lang/relay/internal/manifest"
)

// App holds the global flags and the handler set shared by every command.
type App struct {
	Handlers   manifest.HandlerSet
	Dir        string
	ConfigFile string
	LogLevel   string
	NoColor    bool
}

// project is a loaded relay project.
type project struct {
	root   string
	config *config.Config
	logger *zap.Logger
}

// loadProject locates the project from --dir, reads its config and builds
// the logger. Without a config file the directory itself is the root and
// defaults apply.
func (a *App) loadProject() (*project, error) {
	dir := a.Dir
	if dir == "" {
		dir = "."
	}

	var (
		cfg  *config.Config
		root string
		err  error
	)
	if a.ConfigFile != "" {
		cfg, err = config.LoadFile(a.ConfigFile)
		root = dir
	} else {
		root, err = config.FindProjectRoot(dir)
		if err != nil {
			root = dir
		}
		cfg, err = config.Load(root)
	}
	if err != nil {
		return nil, err
	}

	if a.LogLevel != "" {
		cfg.Logging.Level = a.LogLevel
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &project{root: abs, config: cfg, logger: logger}, nil
}

// path resolves rel against the project root.
func (p *project) path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(p.root, rel)
}

func (p *project) handlerDirs() []string {
	l := p.config.Layout
	return []string{p.path(l.CommandsDir), p.path(l.ComponentsDir), p.path(l.EventsDir)}
}

func (p *project) discover(handlers manifest.HandlerSet) (*manifest.Manifest, error) {
	return discovery.Discover(p.root, p.config.Layout.Layout, handlers, p.config.Defaults, p.logger)
}

// loadManifest discovers definitions, or reads the build artifact when
// fromArtifact is set.
func (p *project) loadManifest(handlers manifest.HandlerSet, fromArtifact bool) (*manifest.Manifest, error) {
	if !fromArtifact {
		return p.discover(handlers)
	}
	path := p.path(p.config.Layout.Artifact)
	m, err := manifest.LoadArtifact(path, handlers, manifest.WithLogger(p.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s (run relay build first): %w", path, err)
	}
	return m, nil
}

// problems flattens a build failure into one line per problem.
func problems(err error) []string {
	var be *manifest.BuildError
	if errors.As(err, &be) {
		out := make([]string, len(be.Errors))
		for i, e := range be.Errors {
			out[i] = e.Error()
		}
		return out
	}
	return []string{err.Error()}
}

// reportedError marks an error whose details were already printed.
type reportedError struct{ err error }

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

func reported(err error) error { return &reportedError{err} }

func isReported(err error) bool {
	var r *reportedError
	return errors.As(err, &r)
}
