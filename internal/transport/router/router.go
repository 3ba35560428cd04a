package router

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/framecast/compilation-service/internal/transport/handler"
)

func New(h *handler.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Healthz)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", h.Stats)
		r.Route("/videos", func(r chi.Router) {
			r.Post("/", h.CreateRequest)
			r.Get("/", h.ListRequests)
			r.Post("/{requestID}/frames/{frameNumber}", h.UploadFrame)
			r.Get("/{requestID}/status", h.GetStatus)
			r.Post("/{requestID}/retry", h.Retry)
		})
	})

	return r
}
