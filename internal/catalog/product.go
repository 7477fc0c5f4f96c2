// Package catalog holds the product model the checkout core prices against.
// The catalog itself is owned by another service; this core only reads it,
// except for the stock and sales counters mutated inside an order commit.
package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist or is
// no longer active.
var ErrNotFound = errors.New("product not found")

// Product represents a purchasable catalog item.
type Product struct {
	ID             string
	Name           string
	Price          decimal.Decimal
	StockCount     int
	TrackInventory bool
	// Weight is the unit shipping weight in kilograms. Products without a
	// recorded weight fall back to a default during shipping estimation.
	Weight     decimal.NullDecimal
	CategoryID string
	IsActive   bool
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	// Lookup returns the active products matching the given IDs. Missing or
	// inactive IDs are simply absent from the result; callers decide whether
	// that is an error.
	Lookup(ctx context.Context, ids []string) ([]Product, error)
}
