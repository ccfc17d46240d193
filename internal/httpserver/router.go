package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"tgrelay/internal/middleware"
)

type RouterDeps struct {
	Logger         *slog.Logger
	WebhookHandler http.Handler
	// MetricsHandler is optional; /metrics is not mounted without it.
	MetricsHandler http.Handler
}

// NewRouter mounts the health, metrics and webhook routes behind the
// request id, recovery and access log middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(deps.Logger))
	r.Use(middleware.Logging(deps.Logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteJSONError(w, r, http.StatusNotFound, "not_found", "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	})

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Post("/webhook/{token}", deps.WebhookHandler.ServeHTTP)

	return r
}
