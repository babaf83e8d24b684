package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"anchor-delivery/internal/observability"
)

func Router(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(observability.Measure)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Second))
	r.Use(WithPrincipal)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/injections", h.Injections)
		r.Get("/render/{placement}", h.Render)
		r.Get("/bootstrap", h.Bootstrap)

		r.Get("/visitors/{visitor}/popups/{id}/eligible", h.Eligible)
		r.Post("/visitors/{visitor}/popups/{id}/shown", h.Shown)
		r.Delete("/visitors/{visitor}/popups/{id}/shown", h.ResetShown)

		r.Route("/admin", func(r chi.Router) {
			r.Use(Require(CapManageOptions))
			r.Get("/items", h.ListItems)
			r.Post("/items", h.CreateItem)
			r.Get("/items/{id}", h.GetItem)
			r.Put("/items/{id}", h.UpdateItem)
			r.Delete("/items/{id}", h.DeleteItem)
			r.Get("/search", h.SearchPages)
			r.Post("/images/crop", h.CropImage)
			r.Post("/migrate-legacy", h.MigrateLegacy)
			r.Get("/calendar", h.Calendar)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", h.Ready)
	r.Handle("/metrics", observability.MetricsHandler())
	return r
}
