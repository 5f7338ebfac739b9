package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shopflow/shopflow/internal/handler"
)

// Handlers groups the endpoint handlers the router mounts.
type Handlers struct {
	Orders   *handler.OrderHandler
	Payments *handler.PaymentHandler
	Notify   *handler.NotifyHandler
}

func NewRouter(h Handlers) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.Orders.CreateOrder)
		r.Get("/", h.Orders.ListOrders)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Orders.GetOrderByID)
			r.Post("/transition", h.Orders.TransitionOrder)
			r.Patch("/fulfilment", h.Orders.UpdateFulfilment)
			r.Get("/history", h.Orders.GetOrderHistory)

			r.Post("/payments", h.Payments.CreateIntent)
			r.Get("/payments", h.Payments.ListAttempts)
			r.Post("/payments/confirm", h.Payments.Confirm)

			r.Post("/notifications", h.Notify.Send)
			r.Get("/notifications", h.Notify.History)
		})
	})

	r.Post("/webhooks/stripe", h.Payments.StripeWebhook)
	r.Post("/webhooks/paypal", h.Payments.PayPalWebhook)

	return r
}
