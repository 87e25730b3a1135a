package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/kmorozov/buyback-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса скупки.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/products", h.ListProducts)

			r.Post("/orders", h.CreateOrder)
			r.Get("/orders", h.GetOrders)

			r.Route("/orders/{orderID}", func(r chi.Router) {
				r.Get("/", h.GetOrder)
				r.Get("/total", h.PreviewTotal)

				r.Post("/items", h.AddItem)
				r.Put("/items/{itemID}", h.UpdateItem)
				r.Delete("/items/{itemID}", h.DeleteItem)
				r.Post("/items/{itemID}/confirm", h.ConfirmItem)

				r.Post("/accept", h.AcceptOffer)
				r.Post("/reject", h.RejectOffer)
			})
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(custommiddleware.RequireAdmin)

		r.Post("/products", h.CreateProduct)

		r.Route("/orders/{orderID}", func(r chi.Router) {
			r.Post("/receive", h.MarkReceived)
			r.Post("/offer", h.SendOffer)
			r.Post("/offer/resend", h.ResendOffer)
			r.Get("/spots", h.GetOrderMetals)
			r.Post("/spots/lock", h.LockSpots)
			r.Post("/spots/unlock", h.UnlockSpots)
			r.Post("/cancel", h.CancelOrder)
			r.Post("/reopen", h.ReopenOrder)
			r.Post("/payment", h.StartPayment)
			r.Post("/complete", h.CompleteOrder)
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
