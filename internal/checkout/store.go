package checkout

import (
	"context"

	"github.com/oakmart/checkout/internal/catalog"
	"github.com/oakmart/checkout/internal/coupon"
)

// Reader provides the catalog and coupon reads pricing depends on. Both the
// pooled store and an open commit transaction implement it, so quotes and
// commits run the exact same queries.
type Reader interface {
	coupon.Source
	// LookupProducts returns the active products among ids; missing or
	// inactive ids are absent from the result.
	LookupProducts(ctx context.Context, ids []string) ([]catalog.Product, error)
}

// Tx is the mutation surface available inside one commit transaction. Every
// method sees the transaction's own reads and is rolled back with it.
type Tx interface {
	Reader

	// InsertOrder persists the order row and its items. A duplicate order
	// number surfaces as *ConflictError.
	InsertOrder(ctx context.Context, o *Order) error

	// DeductStock decrements stock_count and increments sales_count for one
	// product, guarded by the available quantity. Zero affected rows surface
	// as *ConflictError.
	DeductStock(ctx context.Context, productID string, qty int) error

	// ConsumeCoupon increments the coupon's usage counter, guarded by its
	// usage limit. Zero affected rows surface as *ConflictError. On success
	// the coupon row stays locked until the transaction ends, which
	// serializes racing redemptions of the same coupon.
	ConsumeCoupon(ctx context.Context, couponID string) error

	// RecordCouponUsage appends one row to the redemption ledger.
	RecordCouponUsage(ctx context.Context, u *CouponUsage) error
}

// Store is the persistence surface of the checkout service.
type Store interface {
	Reader

	// Commit runs fn inside a single transaction. Any error from fn rolls
	// back every mutation made through the Tx.
	Commit(ctx context.Context, fn func(tx Tx) error) error

	// GetOrder loads a committed order with its items, or ErrOrderNotFound.
	GetOrder(ctx context.Context, id string) (*Order, error)
}
