package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ignite/campaign-engine/internal/metrics"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// RouterConfig carries everything NewRouter mounts. Health, Metrics and
// MetricsHandler may be nil.
type RouterConfig struct {
	Handlers       *Handlers
	Health         *HealthChecker
	AdminToken     string
	AllowedOrigins []string
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
}

// NewRouter configures all routes. Everything under /api requires the admin
// bearer token; health and metrics do not.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cfg.Metrics.Middleware)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.Health != nil {
		r.Get("/health", cfg.Health.HandleHealth)
		r.Get("/health/live", cfg.Health.HandleLiveness)
		r.Get("/health/ready", cfg.Health.HandleReadiness)
	}
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	h := cfg.Handlers
	r.Route("/api", func(r chi.Router) {
		r.Use(RequireBearer(cfg.AdminToken))

		r.Post("/verify-smtp", h.HandleVerifySingle)
		r.Put("/verify-smtp", h.HandleVerifyBulk)
		r.Get("/verification-jobs/{id}", h.HandleGetJob)
		r.Get("/processes", h.HandleProcesses)
		r.Post("/emails/send", h.HandleSend)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
