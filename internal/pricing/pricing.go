// Package pricing computes checkout money. Every function here is pure:
// catalog rows and cart quantities in, a deterministic breakdown out, no
// I/O and no clock. The same code prices a quote and re-prices an order
// inside the commit transaction.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/oakmart/checkout/internal/catalog"
	"github.com/oakmart/checkout/internal/coupon"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// StockPolicy decides what happens when a requested quantity exceeds the
// available stock of an inventory-tracked product.
type StockPolicy string

const (
	// StockClamp caps the line at the available stock and flags the
	// adjustment; the order still goes through.
	StockClamp StockPolicy = "clamp"
	// StockReject fails pricing with an InsufficientStockError.
	StockReject StockPolicy = "reject"
)

// Valid reports whether p is a recognized policy value.
func (p StockPolicy) Valid() bool {
	return p == StockClamp || p == StockReject
}

// InsufficientStockError is returned under StockReject when a line asks for
// more units than are available.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// Item pairs a catalog product with the quantity the buyer asked for.
type Item struct {
	Product  catalog.Product
	Quantity int
}

// Line is one priced cart position.
type Line struct {
	Product   catalog.Product
	Requested int
	// Effective is the quantity actually priced. Under StockClamp it may be
	// lower than Requested, down to zero for sold-out products.
	Effective int
	// Adjusted is set when Effective differs from Requested.
	Adjusted  bool
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// PriceLines prices each item against its catalog row, applying the stock
// policy to inventory-tracked products. Line totals are unit price times
// effective quantity; a clamped-to-zero line keeps a zero total.
func PriceLines(items []Item, policy StockPolicy) ([]Line, error) {
	lines := make([]Line, 0, len(items))
	for _, it := range items {
		effective := it.Quantity
		adjusted := false
		if it.Product.TrackInventory && it.Quantity > it.Product.StockCount {
			if policy == StockReject {
				return nil, &InsufficientStockError{
					ProductID: it.Product.ID,
					Requested: it.Quantity,
					Available: it.Product.StockCount,
				}
			}
			effective = it.Product.StockCount
			adjusted = true
		}

		lineTotal := it.Product.Price.Mul(decimal.NewFromInt(int64(effective)))
		lines = append(lines, Line{
			Product:   it.Product,
			Requested: it.Quantity,
			Effective: effective,
			Adjusted:  adjusted,
			UnitPrice: it.Product.Price,
			LineTotal: lineTotal,
		})
	}
	return lines, nil
}

// Subtotal sums the line totals of priced lines.
func Subtotal(lines []Line) decimal.Decimal {
	sum := zero
	for _, l := range lines {
		sum = sum.Add(l.LineTotal)
	}
	return sum
}

// Totals is the complete money breakdown of a priced cart. All amounts are
// rounded to two decimal places and never negative.
type Totals struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// Compute derives order totals from priced lines and an optional resolved
// coupon. Shipping is waived by a free-shipping coupon or when the subtotal
// reaches the threshold; a non-positive threshold disables the waiver.
// Tax is a flat zero for the single supported jurisdiction.
func Compute(lines []Line, resolved *coupon.Resolved, rates Rates, freeShippingThreshold decimal.Decimal) Totals {
	subtotal := Subtotal(lines)

	discount := zero
	freeShipping := false
	if resolved != nil {
		switch resolved.Type {
		case coupon.TypeFreeShipping:
			freeShipping = true
		default:
			discount = discountAmount(resolved, lines)
		}
	}

	if freeShippingThreshold.IsPositive() && subtotal.GreaterThanOrEqual(freeShippingThreshold) {
		freeShipping = true
	}

	shipping := zero
	if !freeShipping {
		shipping = rates.Cost(totalWeight(lines, rates.DefaultItemWeight))
	}

	tax := zero

	total := subtotal.Sub(discount).Add(shipping).Add(tax)
	return Totals{
		Subtotal: subtotal.Round(2),
		Discount: discount.Round(2),
		Shipping: shipping.Round(2),
		Tax:      tax.Round(2),
		Total:    floorAtZero(total).Round(2),
	}
}

// discountAmount computes the item discount over the eligible subtotal.
// Percentage discounts are capped at the coupon's max discount and at the
// eligible subtotal; fixed discounts at the eligible subtotal.
func discountAmount(resolved *coupon.Resolved, lines []Line) decimal.Decimal {
	eligible := eligibleSubtotal(resolved.EligibleProductIDs, lines)

	var amount decimal.Decimal
	switch resolved.Type {
	case coupon.TypePercentage:
		amount = eligible.Mul(resolved.Value).Div(hundred)
		if resolved.MaxDiscount.Valid {
			amount = decimal.Min(amount, resolved.MaxDiscount.Decimal)
		}
		amount = decimal.Min(amount, eligible)
	case coupon.TypeFixedAmount:
		amount = decimal.Min(resolved.Value, eligible)
	default:
		amount = zero
	}
	return floorAtZero(amount).Round(2)
}

func eligibleSubtotal(productIDs []string, lines []Line) decimal.Decimal {
	ids := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		ids[id] = struct{}{}
	}

	sum := zero
	for _, l := range lines {
		if _, ok := ids[l.Product.ID]; ok {
			sum = sum.Add(l.LineTotal)
		}
	}
	return sum
}

// totalWeight sums effective quantity times unit weight across all lines,
// substituting defaultItemWeight for products without a recorded weight.
func totalWeight(lines []Line, defaultItemWeight decimal.Decimal) decimal.Decimal {
	sum := zero
	for _, l := range lines {
		unit := defaultItemWeight
		if l.Product.Weight.Valid {
			unit = l.Product.Weight.Decimal
		}
		sum = sum.Add(unit.Mul(decimal.NewFromInt(int64(l.Effective))))
	}
	return sum
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
