package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/oakmart/checkout/internal/catalog"
)

type productResponse struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Category string  `json:"category"`
	InStock  bool    `json:"inStock"`
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		h.respondMappedError(w, r, err)
		return
	}

	resp := make([]productResponse, len(products))
	for i, p := range products {
		resp[i] = toProductResponse(p)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		h.respondMappedError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toProductResponse(*p))
}

func toProductResponse(p catalog.Product) productResponse {
	return productResponse{
		ID:       p.ID,
		Name:     p.Name,
		Price:    p.Price.InexactFloat64(),
		Category: p.CategoryID,
		InStock:  !p.TrackInventory || p.StockCount > 0,
	}
}
