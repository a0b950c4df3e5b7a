// Package server builds the application's dependencies and runs the HTTP
// service until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-digest/internal/api"
	"github.com/JakeFAU/news-digest/internal/clock/system"
	"github.com/JakeFAU/news-digest/internal/config"
	"github.com/JakeFAU/news-digest/internal/feed"
	"github.com/JakeFAU/news-digest/internal/hash/sha256"
	"github.com/JakeFAU/news-digest/internal/id/uuid"
	"github.com/JakeFAU/news-digest/internal/logging"
	"github.com/JakeFAU/news-digest/internal/news"
	"github.com/JakeFAU/news-digest/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/news-digest/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/news-digest/internal/publisher/pubsub"
	"github.com/JakeFAU/news-digest/internal/resolver"
	"github.com/JakeFAU/news-digest/internal/session"
	"github.com/JakeFAU/news-digest/internal/telemetry"
)

const sweepInterval = time.Minute

// App contains the application's dependencies.
type App struct {
	cfg             config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	sessions        *session.Manager
	worker          *resolver.ProcessWorker
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	tracerShutdown  func(context.Context) error
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.Strings("keywords", cfg.Keywords),
		zap.Bool("auth", cfg.Auth.Enabled),
	)

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	app.worker, err = NewWorker(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := app.worker.Check(); err != nil {
		logger.Warn("resolution worker not runnable, links will not be resolved", zap.Error(err))
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	app.sessions = session.NewManager(uuid.New(), SessionDeps(cfg, app.worker, logger))
	app.apiServer = api.NewServer(api.Options{
		Sessions:  app.sessions,
		Publisher: publisher,
		Topic:     cfg.PubSub.TopicName,
		Ready: func(context.Context) error {
			return app.worker.Check()
		},
		Config: cfg,
		Logger: logger.Named("api"),
	})
	return app, nil
}

// NewWorker builds the process worker that re-executes this binary in
// resolve-worker mode with the configured browser settings.
func NewWorker(cfg config.Config, logger *zap.Logger) (*resolver.ProcessWorker, error) {
	w, err := resolver.NewProcessWorker("", WorkerArgs(cfg), nil, logger.Named("resolver"))
	if err != nil {
		return nil, fmt.Errorf("resolution worker init failed: %w", err)
	}
	return w, nil
}

// WorkerArgs is the child command line for one resolution.
func WorkerArgs(cfg config.Config) []string {
	args := []string{resolver.WorkerCommand, "--log-level", cfg.Logging.Level}
	if cfg.Resolver.ChromePath != "" {
		args = append(args, "--chrome-path", cfg.Resolver.ChromePath)
	}
	if cfg.Resolver.NoSandbox {
		args = append(args, "--no-sandbox")
	}
	return args
}

// SessionDeps wires the feed fetcher and a fresh resolution engine per
// session around worker.
func SessionDeps(cfg config.Config, worker resolver.Worker, logger *zap.Logger) session.Deps {
	clock := system.New()
	fetcher := feed.New(feed.Config{
		BaseURL:   cfg.Feed.BaseURL,
		Language:  cfg.Feed.Language,
		Region:    cfg.Feed.Region,
		Edition:   cfg.Feed.Edition,
		UserAgent: cfg.Feed.UserAgent,
		Timeout:   cfg.FeedTimeout(),
		Window:    cfg.RecencyWindow(),
	}, clock)

	var limiter resolver.Limiter
	if cfg.Resolver.RateLimitRPS > 0 {
		limiter = ratelimit.New(ratelimit.Config{
			RPS:   cfg.Resolver.RateLimitRPS,
			Burst: cfg.Resolver.RateLimitBurst,
		})
		logger.Info("resolution rate limit enabled",
			zap.Float64("rps", cfg.Resolver.RateLimitRPS),
			zap.Int("burst", cfg.Resolver.RateLimitBurst),
		)
	}

	engineCfg := resolver.Config{
		RedirectHosts:     cfg.Resolver.RedirectHosts,
		WorkerTimeout:     cfg.WorkerTimeout(),
		NavigationTimeout: cfg.NavigationTimeout(),
		SettleDelay:       cfg.SettleDelay(),
		UserAgent:         cfg.Resolver.UserAgent,
	}
	resolverLogger := logger.Named("resolver")
	return session.Deps{
		Fetcher: fetcher,
		NewResolver: func() news.Resolver {
			return resolver.NewEngine(engineCfg, worker, limiter, resolverLogger)
		},
		Hasher: sha256.New(),
		Clock:  clock,
		Header: cfg.Compose.Header,
		Logger: logger.Named("session"),
	}
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go a.sweepSessions(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

func (a *App) sweepSessions(ctx context.Context) {
	idle := a.cfg.SessionIdleTimeout()
	if idle <= 0 {
		return
	}
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := a.sessions.Sweep(now, idle); n > 0 {
				a.logger.Info("expired idle sessions", zap.Int("count", n), zap.Int("remaining", a.sessions.Len()))
			}
		}
	}
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	// Sync on stderr fails on some terminals.
	_ = a.logger.Sync()
	return nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

func setupPublisher(ctx context.Context, app *App) (news.Publisher, error) {
	if !app.cfg.PublishingEnabled() {
		if app.cfg.Logging.Development {
			app.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
			return memorypublisher.New(), nil
		}
		app.logger.Info("No Pub/Sub topic configured, publishing disabled")
		return nil, nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = app.pubsubClient.Publisher(app.cfg.PubSub.TopicName)
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(app.pubsubPublisher), nil
}
