package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/academy-shop/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware магазина монет.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.Logger(h.logger))

	// promhttp сжимает ответ самостоятельно.
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.Health)

	r.Route("/shop", func(r chi.Router) {
		r.Use(custommiddleware.GzipMiddleware)

		r.Get("/coins/paypal", h.PaypalClientID)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/coins/paypal/orders", h.ListCoinOrders)
			r.Post("/coins/paypal/orders", h.CreateCoinOrder)
			r.Post("/coins/paypal/orders/{order_id}/capture", h.CaptureCoinOrder)

			r.Get("/coins/{user_id}", h.GetBalance)
			r.Post("/coins/{user_id}", h.AddCoins)
			r.Get("/coins/{user_id}/transactions", h.ListTransactions)
			r.Post("/coins/{user_id}/release", h.ReleaseWithheld)

			r.Post("/_internal/coins/{user_id}", h.InternalAddCoins)
			r.Post("/_internal/coins/{user_id}/reconcile", h.ReconcileEligibility)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusMethodNotAllowed)
	})

	return r
}
