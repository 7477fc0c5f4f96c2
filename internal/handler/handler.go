// Package handler exposes the checkout core over HTTP.
package handler

import (
	"context"

	"github.com/go-chi/chi/v5"

	"github.com/oakmart/checkout/internal/auth"
	"github.com/oakmart/checkout/internal/catalog"
	"github.com/oakmart/checkout/internal/checkout"
)

// CheckoutService is the slice of the checkout core the HTTP layer depends
// on.
type CheckoutService interface {
	Preview(ctx context.Context, req checkout.PreviewRequest) (*checkout.Quote, error)
	Submit(ctx context.Context, req checkout.SubmitRequest) (*checkout.SubmitResult, error)
	GetOrder(ctx context.Context, id string) (*checkout.Order, error)
}

var _ CheckoutService = (*checkout.Service)(nil)

// Handler serves the storefront checkout API.
type Handler struct {
	checkout CheckoutService
	products catalog.Repository
	verifier *auth.Verifier
}

// NewHandler constructs a Handler with the required dependencies.
func NewHandler(checkoutSvc CheckoutService, products catalog.Repository, verifier *auth.Verifier) *Handler {
	return &Handler{
		checkout: checkoutSvc,
		products: products,
		verifier: verifier,
	}
}

// RegisterRoutes mounts the API on the given router. Quote and catalog reads
// are public; order writes and reads require an API key.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/product", h.listProducts)
	r.Get("/api/product/{productId}", h.getProduct)
	r.Post("/api/checkout/quote", h.quote)

	r.Group(func(r chi.Router) {
		r.Use(RequireAPIKey(h.verifier))
		r.Post("/api/order", h.submitOrder)
		r.Get("/api/order/{orderId}", h.getOrder)
	})
}
