package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/oakmart/checkout/internal/catalog"
	"github.com/oakmart/checkout/internal/checkout"
	"github.com/oakmart/checkout/internal/coupon"
	"github.com/oakmart/checkout/internal/pricing"
)

// errorResponse is the JSON envelope for every error status. Reason carries
// a machine-readable rejection code when one exists.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message, reason string) {
	respondJSON(w, status, errorResponse{Code: status, Message: message, Reason: reason})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// respondMappedError converts domain errors to their HTTP status and
// envelope. Malformed input is 400, unknown resources 404, carts that cannot
// be honored 422, lost commit races 409. Anything unrecognized is logged and
// reported as 500.
func (h *Handler) respondMappedError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *checkout.ValidationError
		missingErr    *checkout.ProductNotFoundError
		rejectedErr   *coupon.RejectedError
		stockErr      *pricing.InsufficientStockError
		conflictErr   *checkout.ConflictError
	)

	switch {
	case errors.As(err, &validationErr):
		respondError(w, http.StatusBadRequest, validationErr.Error(), "")
	case errors.As(err, &missingErr):
		respondError(w, http.StatusUnprocessableEntity, missingErr.Error(), "PRODUCT_NOT_FOUND")
	case errors.As(err, &rejectedErr):
		respondError(w, http.StatusUnprocessableEntity, rejectedErr.Error(), string(rejectedErr.Reason))
	case errors.As(err, &stockErr):
		respondError(w, http.StatusUnprocessableEntity, stockErr.Error(), "INSUFFICIENT_STOCK")
	case errors.As(err, &conflictErr):
		respondError(w, http.StatusConflict, conflictErr.Error(), "")
	case errors.Is(err, checkout.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "order not found", "")
	case errors.Is(err, catalog.ErrNotFound):
		respondError(w, http.StatusNotFound, "product not found", "")
	default:
		zctx.From(r.Context()).Error("request failed", zap.Error(err))
		span := trace.SpanFromContext(r.Context())
		span.RecordError(err)
		span.SetStatus(codes.Error, "internal error")
		respondError(w, http.StatusInternalServerError, "internal error", "")
	}
}
