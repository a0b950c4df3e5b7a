package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-digest/internal/config"
	"github.com/JakeFAU/news-digest/internal/metrics"
	"github.com/JakeFAU/news-digest/internal/news"
	"github.com/JakeFAU/news-digest/internal/session"
)

const defaultRequestTimeout = 10 * time.Minute

// Options wires the server to its collaborators.
type Options struct {
	Sessions *session.Manager
	// Publisher is nil when no topic is configured; publish then answers 503.
	Publisher news.Publisher
	Topic     string
	// Ready reports downstream readiness for /readyz. Nil means always ready.
	Ready  func(ctx context.Context) error
	Config config.Config
	Logger *zap.Logger
}

// Server wires HTTP handlers to sessions and the publisher.
type Server struct {
	router    chi.Router
	sessions  *session.Manager
	publisher news.Publisher
	topic     string
	ready     func(ctx context.Context) error
	keywords  []string
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	keywords := opts.Config.Keywords
	if len(keywords) == 0 {
		keywords = config.DefaultKeywords
	}
	s := &Server{
		sessions:  opts.Sessions,
		publisher: opts.Publisher,
		topic:     opts.Topic,
		ready:     opts.Ready,
		keywords:  keywords,
		cfg:       opts.Config,
		logger:    logger,
	}

	timeout := opts.Config.RequestTimeout()
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Get("/", s.index)
	r.Post("/fetch", s.fetchForm)
	r.Post("/export", s.exportForm)

	r.Route("/v1", func(r chi.Router) {
		if opts.Config.Auth.Enabled {
			r.Use(apiKeyMiddleware(opts.Config.Auth.APIKey))
		}
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.createSession)
			r.Route("/{session_id}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Delete("/", s.deleteSession)
				r.Post("/fetch", s.fetchSession)
				r.Put("/selection", s.putSelection)
				r.Post("/export", s.exportSession)
				r.Post("/publish", s.publishSession)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
