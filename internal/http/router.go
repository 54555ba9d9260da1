package http

import (
	"net/http"

	"ai-speech-translate-core/internal/app"
	"ai-speech-translate-core/internal/transport/ws"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs the HTTP router for the service. wsServer may be
// nil in tests that don't exercise the websocket data plane.
func NewRouter(application *app.Application, wsServer *ws.Server) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/hello", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"message": "Hello from AI Speech Translate Core!"}`))
		})
	})

	if wsServer != nil {
		r.Get("/v1/stream/host", wsServer.HandleHost)
		r.Get("/v1/stream/listen", wsServer.HandleListener)
	}

	return r
}

