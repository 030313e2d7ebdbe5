// Package web provides the HTTP surface: the authorization endpoints the
// MCP router calls on the hot path, and the admin API for key management.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/artpar/fitgate/adapters/metrics"
	"github.com/artpar/fitgate/app"
	"github.com/artpar/fitgate/ports"
)

// Handler provides the HTTP endpoints.
type Handler struct {
	guard      *app.Guard
	keys       *app.KeyService
	usage      ports.UsageStore
	clock      ports.Clock
	metrics    *metrics.Collector
	registry   *prometheus.Registry
	adminToken string
	logger     zerolog.Logger
}

// Deps contains dependencies for the HTTP handler.
type Deps struct {
	Guard      *app.Guard
	Keys       *app.KeyService
	Usage      ports.UsageStore
	Clock      ports.Clock
	Metrics    *metrics.Collector
	Registry   *prometheus.Registry // nil disables the /metrics endpoint
	AdminToken string               // empty disables the admin API
	Logger     zerolog.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		guard:      deps.Guard,
		keys:       deps.Keys,
		usage:      deps.Usage,
		clock:      deps.Clock,
		metrics:    deps.Metrics,
		registry:   deps.Registry,
		adminToken: deps.AdminToken,
		logger:     deps.Logger,
	}
}

// Router returns the HTTP router.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)

	if h.registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		// Hot path, called by the MCP router per tool invocation.
		r.Post("/authorize", h.Authorize)
		r.Post("/finalize", h.Finalize)

		// Key management, bearer-token protected.
		if h.adminToken != "" {
			r.Group(func(r chi.Router) {
				r.Use(h.adminAuth)

				r.Get("/keys", h.ListKeys)
				r.Post("/keys", h.CreateKey)
				r.Get("/keys/{id}", h.GetKey)
				r.Delete("/keys/{id}", h.RevokeKey)
				r.Post("/keys/{id}/rotate", h.RotateKey)
				r.Get("/keys/{id}/usage", h.KeyUsage)
			})
		}
	})

	return r
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// adminAuth requires a matching bearer token on the admin endpoints.
func (h *Handler) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const scheme = "Bearer "
		auth := r.Header.Get("Authorization")
		if len(auth) <= len(scheme) || auth[:len(scheme)] != scheme {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Bearer token required")
			return
		}
		token := auth[len(scheme):]
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs each request after it completes.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		h.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
