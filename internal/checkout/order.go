package checkout

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order. This core only ever writes
// StatusPending; payment and fulfillment collaborators own the transitions
// that follow.
type Status string

// PaymentStatus mirrors the payment collaborator's view of an order.
type PaymentStatus string

const (
	StatusPending  Status        = "pending"
	PaymentPending PaymentStatus = "pending"
)

// Order is a committed order as persisted, totals recomputed server-side.
type Order struct {
	ID            string
	OrderNumber   string
	UserID        string
	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	Shipping      decimal.Decimal
	Tax           decimal.Decimal
	Total         decimal.Decimal
	Status        Status
	PaymentStatus PaymentStatus
	// CouponCode is the redeemed code, empty when no coupon applied.
	CouponCode string
	// ShippingAddress is an opaque JSON blob. This core checks that it is
	// well-formed and passes it through; only downstream collaborators read
	// its fields.
	ShippingAddress []byte
	PaymentMethod   string
	CreatedAt       time.Time
	Items           []OrderItem
}

// OrderItem is one billed line of an order. Quantity is the effective
// quantity after any stock adjustment.
type OrderItem struct {
	ID        string
	OrderID   string
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
	// Variants is an opaque JSON blob of the buyer's option selections.
	Variants []byte
}

// CouponUsage is one row of the append-only redemption ledger. Rows are
// written only by the commit transaction, paired 1:1 with an order.
type CouponUsage struct {
	ID                string
	CouponID          string
	UserID            string
	OrderID           string
	DiscountAmount    decimal.Decimal
	OrderTotal        decimal.Decimal
	AppliedProductIDs []string
	UsedAt            time.Time
}
