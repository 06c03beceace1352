package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/circulation-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса книговыдачи.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Route("/items", func(r chi.Router) {
			r.Post("/", h.AddItem)
			r.Get("/", h.ListItems)
			r.Get("/{id}", h.GetItem)
			r.Put("/{id}", h.UpdateItem)
			r.Post("/{id}/copies", h.AdjustCopies)
			r.Post("/{id}/withdraw", h.WithdrawItem)
		})

		r.Route("/patrons", func(r chi.Router) {
			r.Post("/", h.RegisterPatron)
			r.Get("/{id}", h.GetPatron)
			r.Post("/{id}/membership/renew", h.RenewMembership)
			r.Post("/{id}/deactivate", h.DeactivatePatron)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/patron/checkout", h.Checkout)
			r.Get("/patron/loans", h.GetPatronLoans)
			r.Post("/patron/fines/settle", h.SettleFine)

			r.Post("/loans/{id}/renew", h.RenewLoan)
			r.Post("/loans/{id}/return", h.ReturnLoan)
			r.Get("/loans/{id}/preview", h.PreviewLoan)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
