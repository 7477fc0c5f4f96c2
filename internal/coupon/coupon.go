// Package coupon implements promotion lookup and resolution for checkout.
//
// Resolution answers one question: may this code be applied to this cart,
// and to which lines. It never computes money; the pricing package turns a
// Resolved coupon into a discount amount.
package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type enumerates the supported coupon discount strategies.
type Type string

const (
	// TypePercentage discounts a percentage of the eligible subtotal.
	TypePercentage Type = "percentage"
	// TypeFixedAmount discounts a fixed sum capped at the eligible subtotal.
	TypeFixedAmount Type = "fixed_amount"
	// TypeFreeShipping waives the shipping cost instead of discounting items.
	TypeFreeShipping Type = "free_shipping"
)

// ApplicationType controls which cart lines a coupon may discount.
type ApplicationType string

const (
	// ApplyAll makes every line eligible.
	ApplyAll ApplicationType = "all"
	// ApplyProducts restricts eligibility to the coupon's product list.
	ApplyProducts ApplicationType = "specific_products"
	// ApplyCategories restricts eligibility to the coupon's category list.
	ApplyCategories ApplicationType = "specific_categories"
	// ApplyExcludeProducts makes every line except the listed products eligible.
	ApplyExcludeProducts ApplicationType = "exclude_products"
)

// ErrNotFound is returned by a Source when no coupon is stored under a code.
var ErrNotFound = errors.New("coupon not found")

// Coupon is a promotion rule as persisted in the coupons table.
type Coupon struct {
	ID                string
	Code              string
	Type              Type
	Value             decimal.Decimal
	MinAmount         decimal.NullDecimal
	MaxDiscount       decimal.NullDecimal
	UsageLimit        *int
	UsageLimitPerUser *int
	ApplicationType   ApplicationType
	ProductIDs        []string
	CategoryIDs       []string
	IsActive          bool
	StartsAt          *time.Time
	ExpiresAt         *time.Time
	UsageCount        int
}

// Source provides the reads resolution needs. Both the connection pool
// (quote path) and an open transaction (commit path) satisfy it, so the
// exact same checks run in both.
type Source interface {
	// FindByCode returns the coupon stored under the given code regardless
	// of its active flag, or ErrNotFound. Codes are matched case-insensitively.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// UserUsageCount counts committed redemptions of the coupon by one user.
	UserUsageCount(ctx context.Context, couponID, userID string) (int, error)
}
