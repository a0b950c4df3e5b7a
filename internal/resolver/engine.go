package resolver

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-digest/internal/metrics"
	"github.com/JakeFAU/news-digest/internal/telemetry"
)

// Default timing policy for one resolution.
const (
	DefaultWorkerTimeout     = 30 * time.Second
	DefaultNavigationTimeout = 20 * time.Second
	DefaultSettleDelay       = 2 * time.Second
)

// DefaultRedirectHosts lists the aggregator link-wrapping hosts.
var DefaultRedirectHosts = []string{"news.google.com"}

// Outcome classifies how a Resolve call finished.
type Outcome string

// Resolution outcomes, also used as metric labels.
const (
	OutcomeCacheHit    Outcome = "cache_hit"
	OutcomeDirect      Outcome = "direct"
	OutcomeResolved    Outcome = "resolved"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeCanceled    Outcome = "canceled"
	OutcomeWorkerError Outcome = "worker_error"
)

// Worker runs one isolated resolution. Implementations should stop when ctx
// ends, but the Engine does not rely on it.
type Worker interface {
	Run(ctx context.Context, req Request) (Response, error)
}

// Limiter throttles worker launches per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls resolution policy.
type Config struct {
	RedirectHosts     []string
	WorkerTimeout     time.Duration
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	UserAgent         string
}

// Engine resolves URLs cache-first. One Engine belongs to one session.
type Engine struct {
	cfg     Config
	cache   *Cache
	worker  Worker
	limiter Limiter
	logger  *zap.Logger
}

// NewEngine constructs an Engine with an empty cache. limiter may be nil.
func NewEngine(cfg Config, worker Worker, limiter Limiter, logger *zap.Logger) *Engine {
	if len(cfg.RedirectHosts) == 0 {
		cfg.RedirectHosts = DefaultRedirectHosts
	}
	hosts := make([]string, 0, len(cfg.RedirectHosts))
	for _, h := range cfg.RedirectHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts = append(hosts, h)
		}
	}
	cfg.RedirectHosts = hosts
	if cfg.WorkerTimeout <= 0 {
		cfg.WorkerTimeout = DefaultWorkerTimeout
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = DefaultNavigationTimeout
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:     cfg,
		cache:   NewCache(),
		worker:  worker,
		limiter: limiter,
		logger:  logger,
	}
}

// Cache exposes the engine's resolution cache.
func (e *Engine) Cache() *Cache {
	return e.cache
}

// Resolve returns the final destination of rawURL. It never fails: timeouts
// and worker errors yield rawURL itself. Repeat calls are served from cache
// without launching a worker.
func (e *Engine) Resolve(ctx context.Context, rawURL string) string {
	if cached, ok := e.cache.Get(rawURL); ok {
		metrics.ObserveResolution(string(OutcomeCacheHit))
		return cached
	}

	resolved, outcome := e.resolveMiss(ctx, rawURL)
	metrics.ObserveResolution(string(outcome))
	// The caller gave up before the worker had its full budget; a later
	// call with a live context may still resolve the link.
	if outcome == OutcomeCanceled {
		return rawURL
	}
	return e.cache.Store(rawURL, resolved)
}

// NeedsRendering reports whether rawURL points at a redirect host.
func (e *Engine) NeedsRendering(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, h := range e.cfg.RedirectHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func (e *Engine) resolveMiss(ctx context.Context, rawURL string) (string, Outcome) {
	if !e.NeedsRendering(rawURL) {
		return rawURL, OutcomeDirect
	}
	if e.worker == nil {
		e.logger.Warn("no resolution worker configured", zap.String("url", rawURL))
		return rawURL, OutcomeWorkerError
	}
	return e.launch(ctx, rawURL)
}

type workerResult struct {
	resp Response
	err  error
}

func (e *Engine) launch(ctx context.Context, rawURL string) (string, Outcome) {
	ctx, span := telemetry.Tracer("resolver").Start(ctx, "resolver.launch",
		trace.WithAttributes(attribute.String("url.full", rawURL)))
	defer span.End()

	start := time.Now()
	workerCtx, cancel := context.WithTimeout(ctx, e.cfg.WorkerTimeout)
	defer cancel()

	final, outcome, reason := e.await(workerCtx, rawURL)
	elapsed := time.Since(start)
	metrics.ObserveWorker(string(outcome), elapsed)
	span.SetAttributes(attribute.String("resolver.outcome", string(outcome)))
	if outcome != OutcomeResolved {
		span.SetStatus(codes.Error, string(outcome))
	}

	fields := []zap.Field{
		zap.String("url", rawURL),
		zap.String("outcome", string(outcome)),
		zap.Duration("elapsed", elapsed),
	}
	if outcome == OutcomeResolved {
		e.logger.Info("url resolved", append(fields, zap.String("final_url", final))...)
		return final, outcome
	}
	if reason != nil {
		fields = append(fields, zap.Error(reason))
	}
	e.logger.Warn("url resolution degraded to original", fields...)
	return rawURL, outcome
}

// await runs the worker in its own goroutine so the deadline is honored even
// if the Worker ignores its context.
func (e *Engine) await(ctx context.Context, rawURL string) (string, Outcome, error) {
	if err := ctx.Err(); err != nil {
		return "", deadlineOutcome(ctx), err
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, rawURL); err != nil {
			return "", deadlineOutcome(ctx), err
		}
	}

	req := Request{
		URL:               rawURL,
		NavigationTimeout: e.cfg.NavigationTimeout,
		SettleDelay:       e.cfg.SettleDelay,
		UserAgent:         e.cfg.UserAgent,
	}
	done := make(chan workerResult, 1)
	go func() {
		resp, err := e.worker.Run(ctx, req)
		done <- workerResult{resp: resp, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", deadlineOutcome(ctx), ctx.Err()
	case res := <-done:
		switch {
		case res.err != nil:
			if ctx.Err() != nil {
				return "", deadlineOutcome(ctx), res.err
			}
			return "", OutcomeWorkerError, res.err
		case res.resp.Error != "":
			return "", OutcomeWorkerError, errors.New(res.resp.Error)
		case !usableURL(res.resp.FinalURL):
			return "", OutcomeWorkerError, errors.New("worker reported unusable url " + res.resp.FinalURL)
		default:
			return res.resp.FinalURL, OutcomeResolved, nil
		}
	}
}

func deadlineOutcome(ctx context.Context) Outcome {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return OutcomeTimeout
	}
	if ctx.Err() != nil {
		return OutcomeCanceled
	}
	return OutcomeWorkerError
}

// usableURL rejects browser-internal locations such as about:blank or
// chrome-error pages.
func usableURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
