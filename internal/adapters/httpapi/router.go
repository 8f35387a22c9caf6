package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterOptions configures cross-cutting router behavior.
type RouterOptions struct {
	AuthMiddleware func(http.Handler) http.Handler
}

// NewRouter constructs the API HTTP router with the default key-based
// subject middleware.
func NewRouter(s *Server) http.Handler {
	return NewRouterWithOptions(s, RouterOptions{
		AuthMiddleware: NewAuthMiddleware(KeyIsSubjectResolver{}),
	})
}

// NewRouterWithOptions wires routes and middleware around the Server.
//
// This is intentionally a thin adapter: request decoding, subject
// resolution and error envelopes live here; all pipeline behavior lives
// in the application services.
func NewRouterWithOptions(s *Server, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	// Baseline production-safe middleware (minimal but useful).
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoint stays outside the authenticated group so load
	// balancers can probe it.
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		if opts.AuthMiddleware != nil {
			r.Use(opts.AuthMiddleware)
		}
		r.Route("/v1", func(r chi.Router) {
			r.Post("/generations", s.SubmitGeneration)
			r.Get("/generations/{jobID}", s.GetGeneration)
			r.Delete("/generations/{jobID}", s.CancelGeneration)
			r.Get("/deadletters", s.ListDeadLetters)
		})
	})

	return r
}
