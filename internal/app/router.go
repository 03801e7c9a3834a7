// Package app wires application components and startup helpers.
//
// It provides dependency injection and application initialization.
// The package coordinates between different layers and provides
// a clean application bootstrap process.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	httpserver "github.com/fairyhunter13/drift-detection-service/internal/adapter/httpserver"
	"github.com/fairyhunter13/drift-detection-service/internal/adapter/observability"
	"github.com/fairyhunter13/drift-detection-service/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{"*"}
	}
	if s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler for the thin surface of §6:
// health/readiness, manual detect, and drift event read/acknowledge.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())

	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
		wr.Post("/detect/{user}", srv.DetectHandler())
		wr.Post("/events/{user}/{event_id}/acknowledge", srv.AcknowledgeEventHandler())
	})

	r.Get("/events/{user}", srv.ListEventsHandler())
	r.Get("/events/{user}/{event_id}", srv.GetEventHandler())

	r.Get("/stats", srv.StatsHandler())
	r.Get("/jobs", srv.JobsHandler())
	r.Get("/admin/deadletters", srv.DeadLettersHandler())

	return httpserver.SecurityHeaders(r)
}
