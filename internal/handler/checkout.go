package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/oakmart/checkout/internal/checkout"
)

// Wire DTOs. Money travels as float dollars; the decimal arithmetic stays
// server-side.

type cartLineRequest struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Variants  json.RawMessage `json:"variants,omitempty"`
}

type quoteRequest struct {
	Items      []cartLineRequest `json:"items"`
	CouponCode string            `json:"couponCode,omitempty"`
}

type orderRequest struct {
	Items           []cartLineRequest `json:"items"`
	CouponCode      string            `json:"couponCode,omitempty"`
	OrderNumber     string            `json:"orderNumber,omitempty"`
	ShippingAddress json.RawMessage   `json:"shippingAddress"`
	PaymentMethod   string            `json:"paymentMethod"`
}

type quoteResponse struct {
	Subtotal    float64              `json:"subtotal"`
	Discount    float64              `json:"discount"`
	Shipping    float64              `json:"shipping"`
	Tax         float64              `json:"tax"`
	Total       float64              `json:"total"`
	Coupon      *couponResponse      `json:"coupon,omitempty"`
	Items       []quoteItemResponse  `json:"items"`
	Adjustments []adjustmentResponse `json:"adjustments,omitempty"`
}

type couponResponse struct {
	Code string `json:"code"`
	Type string `json:"type"`
}

type quoteItemResponse struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
	LineTotal float64 `json:"lineTotal"`
}

type adjustmentResponse struct {
	ProductID string `json:"productId"`
	Requested int    `json:"requested"`
	Effective int    `json:"effective"`
}

type orderResponse struct {
	ID            string               `json:"id"`
	OrderNumber   string               `json:"orderNumber"`
	Status        string               `json:"status"`
	PaymentStatus string               `json:"paymentStatus"`
	Subtotal      float64              `json:"subtotal"`
	Discount      float64              `json:"discount"`
	Shipping      float64              `json:"shipping"`
	Tax           float64              `json:"tax"`
	Total         float64              `json:"total"`
	CouponCode    string               `json:"couponCode,omitempty"`
	Items         []orderItemResponse  `json:"items"`
	Adjustments   []adjustmentResponse `json:"adjustments,omitempty"`
	CreatedAt     time.Time            `json:"createdAt"`
}

type orderItemResponse struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice float64         `json:"unitPrice"`
	LineTotal float64         `json:"lineTotal"`
	Variants  json.RawMessage `json:"variants,omitempty"`
}

// quote prices a cart without touching inventory or coupon counters.
func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body", "")
		return
	}

	q, err := h.checkout.Preview(r.Context(), checkout.PreviewRequest{
		UserID:     r.Header.Get(userIDHeader),
		CouponCode: req.CouponCode,
		Lines:      toCartLines(req.Items),
	})
	if err != nil {
		h.respondMappedError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, toQuoteResponse(q))
}

// submitOrder re-prices the cart and commits it as an order.
func (h *Handler) submitOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request body", "")
		return
	}

	res, err := h.checkout.Submit(r.Context(), checkout.SubmitRequest{
		UserID:          r.Header.Get(userIDHeader),
		OrderNumber:     req.OrderNumber,
		CouponCode:      req.CouponCode,
		Lines:           toCartLines(req.Items),
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
	})
	if err != nil {
		h.respondMappedError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, toOrderResponse(res.Order, res.Adjustments))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.checkout.GetOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.respondMappedError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(o, nil))
}

func toCartLines(items []cartLineRequest) []checkout.CartLine {
	lines := make([]checkout.CartLine, len(items))
	for i, it := range items {
		lines[i] = checkout.CartLine{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Variants:  it.Variants,
		}
	}
	return lines
}

func toQuoteResponse(q *checkout.Quote) quoteResponse {
	resp := quoteResponse{
		Subtotal:    q.Totals.Subtotal.InexactFloat64(),
		Discount:    q.Totals.Discount.InexactFloat64(),
		Shipping:    q.Totals.Shipping.InexactFloat64(),
		Tax:         q.Totals.Tax.InexactFloat64(),
		Total:       q.Totals.Total.InexactFloat64(),
		Items:       make([]quoteItemResponse, len(q.Lines)),
		Adjustments: toAdjustments(q.Adjustments),
	}
	for i, line := range q.Lines {
		resp.Items[i] = quoteItemResponse{
			ProductID: line.Product.ID,
			Quantity:  line.Effective,
			UnitPrice: line.UnitPrice.InexactFloat64(),
			LineTotal: line.LineTotal.InexactFloat64(),
		}
	}
	if q.Coupon != nil {
		resp.Coupon = &couponResponse{Code: q.Coupon.Code, Type: string(q.Coupon.Type)}
	}
	return resp
}

func toOrderResponse(o *checkout.Order, adjustments []checkout.Adjustment) orderResponse {
	resp := orderResponse{
		ID:            o.ID,
		OrderNumber:   o.OrderNumber,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		Subtotal:      o.Subtotal.InexactFloat64(),
		Discount:      o.Discount.InexactFloat64(),
		Shipping:      o.Shipping.InexactFloat64(),
		Tax:           o.Tax.InexactFloat64(),
		Total:         o.Total.InexactFloat64(),
		CouponCode:    o.CouponCode,
		Items:         make([]orderItemResponse, len(o.Items)),
		Adjustments:   toAdjustments(adjustments),
		CreatedAt:     o.CreatedAt,
	}
	for i := range o.Items {
		it := &o.Items[i]
		resp.Items[i] = orderItemResponse{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.InexactFloat64(),
			LineTotal: it.LineTotal.InexactFloat64(),
			Variants:  it.Variants,
		}
	}
	return resp
}

func toAdjustments(adjustments []checkout.Adjustment) []adjustmentResponse {
	if len(adjustments) == 0 {
		return nil
	}
	resp := make([]adjustmentResponse, len(adjustments))
	for i, a := range adjustments {
		resp[i] = adjustmentResponse{
			ProductID: a.ProductID,
			Requested: a.Requested,
			Effective: a.Effective,
		}
	}
	return resp
}
