package chi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"

	"github.com/voxintel/callgate/gateway"
)

// Handlers sets up the gateway HTTP routes
func Handlers(ctx context.Context, pipeline *gateway.Pipeline, metricsHandler http.Handler) *chi.Mux {
	logger := httplog.NewLogger("callgate", httplog.Options{
		JSON: true,
	})

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	// Provider callbacks. One route per tenant; the signature scheme is
	// resolved from headers, not the path.
	r.Post("/webhook/{tenant_id}", postWebhook(pipeline).ServeHTTP)

	return r
}
