package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-agentcore/internal/console/handler"
	"github.com/xela07ax/spaceai-agentcore/internal/domain"
	"github.com/xela07ax/spaceai-agentcore/internal/engine"
	"github.com/xela07ax/spaceai-agentcore/internal/infra/auth"
)

// Handlers groups the business handlers mounted under /v1.
type Handlers struct {
	Chat      *handler.ChatHandler
	Approvals *handler.ApprovalHandler
	Policy    *handler.PolicyHandler
	// Control serves /v1/skills and /v1/callers.
	Control *handler.ControlHandler
	Audit   *handler.AuditHandler
}

type Options struct {
	// APIKeyHash guards the caller routes (and operator routes without Validator).
	APIKeyHash string
	// Validator enables RS256 operator tokens with scopes on operator routes.
	Validator auth.TokenValidator
	Gatherer  prometheus.Gatherer
	// Health reports readiness of backing stores; nil means always healthy.
	Health func(ctx context.Context) error
}

type Server struct {
	router *chi.Mux
	logger *zap.Logger
	opts   Options
	h      Handlers
}

func New(h Handlers, opts Options, logger *zap.Logger) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		router: chi.NewRouter(),
		logger: logger.Named("http-api"),
		opts:   opts,
		h:      h,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(engine.TracingMiddleware)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	// --- 2. Публичные роуты ---
	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))

	apiKey := auth.NewAPIKeyMiddleware(s.opts.APIKeyHash, s.logger)

	r.Route("/v1", func(r chi.Router) {
		// --- 3. Caller-facing (API key) ---
		r.Group(func(r chi.Router) {
			r.Use(apiKey)
			r.Post("/chat", s.h.Chat.Chat)
			r.Get("/chat/history/{userID}", s.h.Chat.History)
			r.Delete("/chat/history/{userID}", s.h.Chat.ClearHistory)
		})

		// --- 4. Operator perimeter ---
		r.Group(func(r chi.Router) {
			if s.opts.Validator != nil {
				r.Use(auth.NewMiddleware(s.opts.Validator, s.logger))
			} else {
				s.logger.Warn("operator routes fall back to api key auth: no token public key configured")
				r.Use(apiKey)
			}

			r.Route("/approvals", func(r chi.Router) {
				r.Use(s.scope(domain.ScopeApprovals))
				r.Get("/", s.h.Approvals.List)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.h.Approvals.GetDetails)
					r.Post("/respond", s.h.Approvals.Respond)
				})
			})

			r.Group(func(r chi.Router) {
				r.Use(s.scope(domain.ScopeAdmin))

				r.Post("/policy/reload", s.h.Policy.Reload)
				r.Post("/policy/evaluate", s.h.Policy.Evaluate)

				r.Get("/skills", s.h.Control.ListSkills)
				r.Post("/skills/{name}/disable", s.h.Control.DisableSkill)
				r.Post("/skills/{name}/enable", s.h.Control.EnableSkill)

				r.Get("/callers/quarantine", s.h.Control.ListQuarantine)
				r.Post("/callers/{userID}/quarantine", s.h.Control.Quarantine)
				r.Post("/callers/{userID}/release", s.h.Control.Release)

				r.Get("/audit", s.h.Audit.GetLogs)
				r.Get("/audit/stats", s.h.Audit.GetStats)
				r.Get("/overview", s.h.Audit.GetOverview)
			})
		})
	})
}

// scope is a no-op without operator tokens.
func (s *Server) scope(name string) func(http.Handler) http.Handler {
	if s.opts.Validator == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return auth.RequireScope(name)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Health(ctx); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("trace_id", domain.CallerFromContext(r.Context()).TraceID))
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
