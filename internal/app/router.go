package app

import (
	"net/http"
	"time"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/signalmesh/router/internal/adapter/httpserver"
	"github.com/signalmesh/router/internal/adapter/observability"
	"github.com/signalmesh/router/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" { return []string{"*"} }
	if s == "*" { return []string{"*"} }
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" { out = append(out, p) }
	}
	if len(out) == 0 { return []string{"*"} }
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	// Security & instrumentation middleware
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Routing surface: key-gated, with an optional per-IP guard ahead of the
	// sender-level budget enforced inside the route handler.
	r.Group(func(ar chi.Router) {
		if cfg.IPRateLimitPerMin > 0 {
			ar.Use(httprate.LimitByIP(cfg.IPRateLimitPerMin, time.Minute))
		}
		ar.Use(httpserver.APIKeyAuth(cfg.APIKey))
		ar.Post("/route", srv.RouteHandler())
		ar.Get("/logs", srv.LogsHandler())
		ar.Get("/dlq/status", srv.DLQStatusHandler())
		ar.Post("/dlq/replay", srv.ReplayHandler())
	})

	// Health and metrics stay open so probes and scrapers need no key.
	r.Get("/health", srv.HealthHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	return httpserver.SecurityHeaders(r)
}
