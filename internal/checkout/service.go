// Package checkout turns carts into priced quotes and committed orders.
//
// Quotes and commits share one pricing path: product lookup, coupon
// resolution, and the totals calculator. A quote runs it against the pooled
// store; a commit re-runs it inside the transaction that persists the
// order, so the committed price is always computed from data the
// transaction itself read. Client-supplied totals are never consulted.
package checkout

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/oakmart/checkout/internal/catalog"
	"github.com/oakmart/checkout/internal/coupon"
	"github.com/oakmart/checkout/internal/pricing"
)

// CartLine is one requested cart position.
type CartLine struct {
	ProductID string
	Quantity  int
	// Variants is an opaque JSON blob of the buyer's option selections,
	// stored with the order item untouched.
	Variants []byte
}

// PreviewRequest prices a cart without side effects.
type PreviewRequest struct {
	// UserID of the buyer; empty for anonymous quotes.
	UserID     string
	CouponCode string
	Lines      []CartLine
}

// SubmitRequest commits a cart as an order.
type SubmitRequest struct {
	UserID string
	// OrderNumber is the client's idempotency key. Left empty, the service
	// generates one. The store enforces uniqueness, so a retried submit
	// with the same number cannot create a second order.
	OrderNumber     string
	CouponCode      string
	Lines           []CartLine
	ShippingAddress []byte
	PaymentMethod   string
}

// Adjustment reports a stock clamp applied to one cart line.
type Adjustment struct {
	ProductID string
	Requested int
	Effective int
}

// AppliedCoupon echoes the coupon that participated in pricing.
type AppliedCoupon struct {
	Code string
	Type coupon.Type
}

// Quote is a priced preview of a cart.
type Quote struct {
	Totals      pricing.Totals
	Lines       []pricing.Line
	Coupon      *AppliedCoupon
	Adjustments []Adjustment
}

// SubmitResult is a committed order plus the stock adjustments applied on
// the way.
type SubmitResult struct {
	Order       *Order
	Adjustments []Adjustment
}

// Config carries the pricing policy of the service. The app layer validates
// it before wiring.
type Config struct {
	// StockPolicy selects clamp or reject behavior for under-stocked lines.
	StockPolicy pricing.StockPolicy
	// Rates is the shipping table quotes and commits charge by.
	Rates pricing.Rates
	// FreeShippingThreshold waives shipping at or above this subtotal; a
	// non-positive value disables the waiver.
	FreeShippingThreshold decimal.Decimal
}

// Service prices carts and commits orders.
type Service struct {
	store    Store
	resolver *coupon.Resolver
	cfg      Config
	metrics  *Metrics
	now      func() time.Time
}

// NewService creates a checkout Service. metrics may be nil in tests.
func NewService(store Store, cfg Config, metrics *Metrics) *Service {
	return &Service{
		store:    store,
		resolver: coupon.NewResolver(),
		cfg:      cfg,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Preview prices the cart against current data. Read-only, anonymous
// callers allowed.
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (*Quote, error) {
	cart, err := normalizeCart(req.Lines)
	if err != nil {
		return nil, err
	}

	quote, _, err := s.price(ctx, s.store, req.UserID, req.CouponCode, cart)
	if err != nil {
		return nil, err
	}

	s.metrics.quote(ctx)
	return quote, nil
}

// Submit re-validates and re-prices the cart inside one transaction and
// persists the order together with its stock decrement and coupon
// redemption. Any failure rolls back all of it.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if req.UserID == "" {
		return nil, &ValidationError{Field: "user_id", Reason: "required"}
	}
	if err := validateAddress(req.ShippingAddress); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.PaymentMethod) == "" {
		return nil, &ValidationError{Field: "payment_method", Reason: "required"}
	}

	cart, err := normalizeCart(req.Lines)
	if err != nil {
		return nil, err
	}

	orderNumber := strings.TrimSpace(req.OrderNumber)
	if orderNumber == "" {
		orderNumber = newOrderNumber()
	}

	var result *SubmitResult
	err = s.store.Commit(ctx, func(tx Tx) error {
		quote, resolved, err := s.price(ctx, tx, req.UserID, req.CouponCode, cart)
		if err != nil {
			return err
		}

		o := &Order{
			ID:              uuid.New().String(),
			OrderNumber:     orderNumber,
			UserID:          req.UserID,
			Subtotal:        quote.Totals.Subtotal,
			Discount:        quote.Totals.Discount,
			Shipping:        quote.Totals.Shipping,
			Tax:             quote.Totals.Tax,
			Total:           quote.Totals.Total,
			Status:          StatusPending,
			PaymentStatus:   PaymentPending,
			ShippingAddress: req.ShippingAddress,
			PaymentMethod:   req.PaymentMethod,
			CreatedAt:       s.now(),
		}
		if resolved != nil {
			o.CouponCode = resolved.Code
		}
		o.Items = buildItems(o.ID, cart, quote.Lines)

		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}

		for _, line := range quote.Lines {
			if line.Effective == 0 {
				continue
			}
			if err := tx.DeductStock(ctx, line.Product.ID, line.Effective); err != nil {
				return err
			}
		}

		if resolved != nil {
			if err := s.redeem(ctx, tx, resolved, o); err != nil {
				return err
			}
		}

		result = &SubmitResult{Order: o, Adjustments: quote.Adjustments}
		return nil
	})
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			s.metrics.conflict(ctx, conflict.Resource)
		}
		return nil, err
	}

	s.metrics.committed(ctx, result.Order.CouponCode != "")
	return result, nil
}

// GetOrder returns a committed order with its items.
func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	if id == "" {
		return nil, &ValidationError{Field: "id", Reason: "required"}
	}
	return s.store.GetOrder(ctx, id)
}

// price is the single pricing path shared by quotes and commits: batch
// product lookup, coupon resolution, totals. src decides whether it reads
// from the pool or from an open transaction.
func (s *Service) price(ctx context.Context, src Reader, userID, couponCode string, cart []CartLine) (*Quote, *coupon.Resolved, error) {
	ids := make([]string, len(cart))
	for i, l := range cart {
		ids[i] = l.ProductID
	}

	products, err := src.LookupProducts(ctx, ids)
	if err != nil {
		return nil, nil, errors.Wrap(err, "lookup products")
	}
	byID := make(map[string]catalog.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	items := make([]pricing.Item, 0, len(cart))
	for _, l := range cart {
		p, ok := byID[l.ProductID]
		if !ok {
			return nil, nil, &ProductNotFoundError{ProductID: l.ProductID}
		}
		items = append(items, pricing.Item{Product: p, Quantity: l.Quantity})
	}

	lines, err := pricing.PriceLines(items, s.cfg.StockPolicy)
	if err != nil {
		return nil, nil, err
	}

	var resolved *coupon.Resolved
	if code := strings.TrimSpace(couponCode); code != "" {
		couponLines := make([]coupon.Line, len(lines))
		for i, l := range lines {
			couponLines[i] = coupon.Line{ProductID: l.Product.ID, CategoryID: l.Product.CategoryID}
		}

		resolved, err = s.resolver.Resolve(ctx, src, coupon.Request{
			Code:     code,
			UserID:   userID,
			Subtotal: pricing.Subtotal(lines),
			Lines:    couponLines,
		})
		if err != nil {
			return nil, nil, err
		}
	}

	totals := pricing.Compute(lines, resolved, s.cfg.Rates, s.cfg.FreeShippingThreshold)

	quote := &Quote{
		Totals:      totals,
		Lines:       lines,
		Adjustments: collectAdjustments(lines),
	}
	if resolved != nil {
		quote.Coupon = &AppliedCoupon{Code: resolved.Code, Type: resolved.Type}
	}
	return quote, resolved, nil
}

// redeem consumes one redemption slot and writes the ledger row. The
// conditional update takes the coupon row lock first, so the per-user
// re-count below runs serialized against racing commits of the same code.
func (s *Service) redeem(ctx context.Context, tx Tx, resolved *coupon.Resolved, o *Order) error {
	if err := tx.ConsumeCoupon(ctx, resolved.ID); err != nil {
		return err
	}

	if resolved.UsageLimitPerUser != nil {
		used, err := tx.UserUsageCount(ctx, resolved.ID, o.UserID)
		if err != nil {
			return errors.Wrap(err, "recount user redemptions")
		}
		if used >= *resolved.UsageLimitPerUser {
			return &ConflictError{Resource: "coupon", ID: resolved.Code}
		}
	}

	usage := &CouponUsage{
		ID:                uuid.New().String(),
		CouponID:          resolved.ID,
		UserID:            o.UserID,
		OrderID:           o.ID,
		DiscountAmount:    o.Discount,
		OrderTotal:        o.Total,
		AppliedProductIDs: resolved.EligibleProductIDs,
		UsedAt:            s.now(),
	}
	if err := tx.RecordCouponUsage(ctx, usage); err != nil {
		return errors.Wrap(err, "record coupon usage")
	}
	return nil
}

// normalizeCart validates the cart shape and merges duplicate product lines
// by summing their quantities, keeping first position and variants.
func normalizeCart(lines []CartLine) ([]CartLine, error) {
	if len(lines) == 0 {
		return nil, &ValidationError{Field: "items", Reason: "at least one item required"}
	}

	merged := make([]CartLine, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, l := range lines {
		if l.ProductID == "" {
			return nil, &ValidationError{Field: "items", Reason: "product id required"}
		}
		if l.Quantity <= 0 {
			return nil, &ValidationError{
				Field:  "items",
				Reason: fmt.Sprintf("quantity must be positive for product %s", l.ProductID),
			}
		}
		if len(l.Variants) > 0 && !jx.Valid(l.Variants) {
			return nil, &ValidationError{
				Field:  "items",
				Reason: fmt.Sprintf("malformed variants for product %s", l.ProductID),
			}
		}

		if i, ok := index[l.ProductID]; ok {
			merged[i].Quantity += l.Quantity
			continue
		}
		index[l.ProductID] = len(merged)
		merged = append(merged, l)
	}
	return merged, nil
}

func validateAddress(blob []byte) error {
	addr := bytes.TrimSpace(blob)
	if len(addr) == 0 || bytes.Equal(addr, []byte("null")) {
		return &ValidationError{Field: "shipping_address", Reason: "required"}
	}
	if !jx.Valid(addr) {
		return &ValidationError{Field: "shipping_address", Reason: "malformed JSON"}
	}
	return nil
}

func buildItems(orderID string, cart []CartLine, lines []pricing.Line) []OrderItem {
	items := make([]OrderItem, len(lines))
	for i, l := range lines {
		items[i] = OrderItem{
			ID:        uuid.New().String(),
			OrderID:   orderID,
			ProductID: l.Product.ID,
			Quantity:  l.Effective,
			UnitPrice: l.UnitPrice,
			LineTotal: l.LineTotal,
			Variants:  cart[i].Variants,
		}
	}
	return items
}

func collectAdjustments(lines []pricing.Line) []Adjustment {
	var adj []Adjustment
	for _, l := range lines {
		if l.Adjusted {
			adj = append(adj, Adjustment{
				ProductID: l.Product.ID,
				Requested: l.Requested,
				Effective: l.Effective,
			})
		}
	}
	return adj
}

// newOrderNumber generates a server-side idempotency key for clients that
// did not supply one.
func newOrderNumber() string {
	id := uuid.New()
	return "OM-" + strings.ToUpper(hex.EncodeToString(id[:6]))
}
