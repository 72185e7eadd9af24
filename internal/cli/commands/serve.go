package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/relay/internal/cli/config"
	"github.com/conduit-lang/relay/internal/dispatch"
	"github.com/conduit-lang/relay/internal/manifest"
	"github.com/conduit-lang/relay/internal/watch"
	"github.com/conduit-lang/relay/internal/web/auth"
	"github.com/conduit-lang/relay/internal/web/monitor"
	"github.com/conduit-lang/relay/internal/web/profiling"
	"github.com/conduit-lang/relay/internal/web/ratelimit"
	"github.com/conduit-lang/relay/internal/web/replay"
	"github.com/conduit-lang/relay/internal/web/server"
)

// NewServeCommand creates the serve command
func NewServeCommand(app *App) *cobra.Command {
	var (
		addr         string
		fromArtifact bool
		watchFiles   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the interactions and events endpoints",
		Long: `Build the manifest and serve signed platform webhooks until interrupted.

With --watch, handler definitions are rebuilt on change. A failed rebuild
keeps the previous manifest serving and is reported on the admin monitor.`,
		Example: `  relay serve
  relay serve --addr :3000 --watch
  relay serve --artifact`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if watchFiles && fromArtifact {
				return errors.New("--watch and --artifact cannot be combined")
			}
			p, err := app.loadProject()
			if err != nil {
				return err
			}
			defer p.logger.Sync()

			if addr == "" {
				addr = p.config.Server.Addr()
			}
			return runServe(cmd.Context(), app, p, addr, fromArtifact, watchFiles)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: server.host:server.port)")
	cmd.Flags().BoolVar(&fromArtifact, "artifact", false, "Serve the build artifact instead of discovering definitions")
	cmd.Flags().BoolVarP(&watchFiles, "watch", "w", false, "Rebuild when definitions change")

	return cmd
}

func runServe(ctx context.Context, app *App, p *project, addr string, fromArtifact, watchFiles bool) error {
	cfg := p.config
	logger := p.logger

	if cfg.App.PublicKey == "" {
		return errors.New("app.public_key is required to serve (or set RELAY_APP_PUBLIC_KEY)")
	}
	verifier, err := auth.NewVerifier(cfg.App.PublicKey)
	if err != nil {
		return err
	}

	m, err := p.loadManifest(app.Handlers, fromArtifact)
	if err != nil {
		return err
	}

	guard, err := newReplayGuard(ctx, cfg.Replay)
	if err != nil {
		return err
	}

	var (
		hub     *monitor.Hub
		authSvc *auth.AuthService
		limiter ratelimit.Limiter
	)
	if cfg.Admin.Enabled {
		if authSvc, err = auth.NewAuthService(cfg.Admin.Secret, cfg.Admin.TokenTTL); err != nil {
			return err
		}
		if limiter, err = newLoginLimiter(cfg); err != nil {
			return err
		}
		hub = monitor.NewHub(logger.Named("monitor"), cfg.Admin.AllowedOrigins...)
	}

	newCoordinator := func(m *manifest.Manifest) *dispatch.Coordinator {
		opts := []dispatch.Option{
			dispatch.WithLogger(logger.Named("dispatch")),
			dispatch.WithHandlerTimeout(cfg.Server.HandlerTimeout),
			dispatch.WithEventConcurrency(cfg.Server.EventConcurrency),
		}
		if guard != nil {
			opts = append(opts, dispatch.WithReplayGuard(guard))
		}
		if hub != nil {
			opts = append(opts, dispatch.WithObserver(hub.ObserveOutcome))
		}
		return dispatch.New(m, verifier, opts...)
	}

	handlerOpts := server.Options{
		Logger:           logger.Named("http"),
		InteractionsPath: cfg.Server.InteractionsPath,
		EventsPath:       cfg.Server.EventsPath,
		MaxBodyBytes:     cfg.Server.MaxBodyBytes,
		Auth:             authSvc,
		Credentials: auth.Credentials{
			Username:     cfg.Admin.Username,
			PasswordHash: cfg.Admin.PasswordHash,
		},
		LoginLimiter: limiter,
	}
	if cfg.Admin.Profiling {
		handlerOpts.Profiling = &profiling.Config{BlockRate: 1, MutexFraction: 1}
	}
	if hub != nil {
		handlerOpts.Monitor = hub
	}
	handler := server.NewHandler(newCoordinator(m), handlerOpts)

	srvConfig := server.DefaultConfig(handler)
	srvConfig.Address = addr
	if cfg.Server.TLSCert != "" {
		srvConfig.TLSConfig = &server.TLSConfig{CertFile: cfg.Server.TLSCert, KeyFile: cfg.Server.TLSKey}
	}
	srv, err := server.New(srvConfig)
	if err != nil {
		return err
	}

	gs := server.NewGracefulShutdown(srv, &server.ShutdownConfig{
		Timeout: cfg.Server.ShutdownTimeout,
		Logger:  logger,
	})

	if watchFiles {
		r := &reloader{
			discover: func() (*manifest.Manifest, error) { return p.discover(app.Handlers) },
			build:    newCoordinator,
			handler:  handler,
			hub:      hub,
			logger:   logger.Named("watch"),
		}
		w, err := watch.NewWatcher(p.handlerDirs(), logger.Named("watch"), r.reload)
		if err != nil {
			return err
		}
		if err := w.Start(); err != nil {
			return err
		}
		gs.RegisterHook(func(context.Context) error { return w.Stop() })
		logger.Info("watching handler definitions", zap.Strings("dirs", p.handlerDirs()))
	}
	if guard != nil {
		gs.RegisterHook(func(context.Context) error { return guard.Close() })
	}
	if limiter != nil {
		gs.RegisterHook(func(context.Context) error { return limiter.Close() })
	}
	if hub != nil {
		gs.RegisterHook(func(context.Context) error {
			hub.Close()
			return nil
		})
	}

	logger.Info("manifest loaded",
		zap.Int("handlers", m.Len()),
		zap.String("interactions", cfg.Server.InteractionsPath),
		zap.String("events", cfg.Server.EventsPath),
		zap.String("replay", cfg.Replay.Backend),
		zap.Bool("admin", cfg.Admin.Enabled),
	)

	if ctx == nil {
		ctx = context.Background()
	}
	return gs.Run(ctx)
}

func newReplayGuard(ctx context.Context, cfg config.ReplayConfig) (*replay.Guard, error) {
	switch cfg.Backend {
	case config.ReplayNone:
		return nil, nil
	case config.ReplayRedis:
		if ctx == nil {
			ctx = context.Background()
		}
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		store, err := replay.NewRedisStore(connectCtx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("replay store: %w", err)
		}
		return replay.NewGuard(store, cfg.Window), nil
	default:
		return replay.NewGuard(replay.NewMemoryStore(), cfg.Window), nil
	}
}

// newLoginLimiter throttles admin logins. Processes sharing a Redis replay
// store also share login attempts; otherwise attempts are counted in
// memory. It returns nil when throttling is disabled.
func newLoginLimiter(cfg *config.Config) (ratelimit.Limiter, error) {
	if cfg.Admin.LoginLimit.Limit == 0 {
		return nil, nil
	}
	if cfg.Replay.Backend == config.ReplayRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Replay.Redis.Addr,
			Password: cfg.Replay.Redis.Password,
			DB:       cfg.Replay.Redis.DB,
		})
		l, err := ratelimit.NewRedis(client, cfg.Admin.LoginLimit, ratelimit.DefaultRedisPrefix)
		if err != nil {
			client.Close()
			return nil, err
		}
		return l, nil
	}
	l, err := ratelimit.NewMemory(cfg.Admin.LoginLimit)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// reloader rebuilds the manifest after definition changes and swaps it into
// the running handler. A failed build leaves the current manifest serving.
type reloader struct {
	discover func() (*manifest.Manifest, error)
	build    func(*manifest.Manifest) *dispatch.Coordinator
	handler  *server.Handler
	hub      *monitor.Hub
	logger   *zap.Logger

	mu sync.Mutex
}

func (r *reloader) reload(changed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	m, err := r.discover()
	if err != nil {
		errs := problems(err)
		r.logger.Error("rebuild failed, keeping previous manifest",
			zap.Strings("changed", changed),
			zap.Strings("errors", errs),
		)
		if r.hub != nil {
			r.hub.NotifyBuildError(errs)
		}
		return
	}

	r.handler.Swap(r.build(m))
	r.logger.Info("manifest reloaded",
		zap.Strings("changed", changed),
		zap.Int("handlers", m.Len()),
		zap.Duration("duration", time.Since(start)),
	)
	if r.hub != nil {
		r.hub.NotifyReload(m.Len())
	}
}
