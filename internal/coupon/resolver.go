package coupon

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Reason is a machine-readable code explaining why a coupon was refused.
type Reason string

const (
	ReasonNotFound          Reason = "NOT_FOUND"
	ReasonInactive          Reason = "INACTIVE"
	ReasonNotStarted        Reason = "NOT_STARTED"
	ReasonExpired           Reason = "EXPIRED"
	ReasonLimitReached      Reason = "LIMIT_REACHED"
	ReasonUserLimitReached  Reason = "USER_LIMIT_REACHED"
	ReasonBelowMinimum      Reason = "BELOW_MINIMUM"
	ReasonNoApplicableItems Reason = "NO_APPLICABLE_ITEMS"
)

// RejectedError reports a coupon that failed a resolution check. It is a
// business outcome, not a system failure; handlers translate it into a
// structured response with the reason code.
type RejectedError struct {
	Code   string
	Reason Reason
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("coupon %s rejected: %s", e.Code, e.Reason)
}

// Line carries the product identity of one cart line for eligibility
// filtering. Quantities and prices are irrelevant here.
type Line struct {
	ProductID  string
	CategoryID string
}

// Request is the input to Resolve.
type Request struct {
	// Code as submitted by the client; it is normalized before lookup.
	Code string
	// UserID of the buyer, empty for anonymous quote requests. Per-user
	// limits are only enforced when a user is known.
	UserID string
	// Subtotal of the cart after stock adjustments, used for the minimum
	// amount check.
	Subtotal decimal.Decimal
	Lines    []Line
}

// Resolved is a coupon that passed every check, narrowed to the cart lines
// it may discount.
type Resolved struct {
	ID          string
	Code        string
	Type        Type
	Value       decimal.Decimal
	MaxDiscount decimal.NullDecimal
	// UsageLimitPerUser is carried along so the commit transaction can
	// re-check the per-user cap after taking the coupon row lock.
	UsageLimitPerUser *int
	// EligibleProductIDs lists the cart products the coupon applies to,
	// in cart order. Never empty.
	EligibleProductIDs []string
}

// Resolver runs the resolution checks in a fixed order so that clients can
// rely on the first failing reason: NOT_FOUND, INACTIVE, NOT_STARTED,
// EXPIRED, LIMIT_REACHED, USER_LIMIT_REACHED, BELOW_MINIMUM,
// NO_APPLICABLE_ITEMS.
type Resolver struct {
	now func() time.Time
}

// NewResolver creates a Resolver using the wall clock.
func NewResolver() *Resolver {
	return &Resolver{now: time.Now}
}

// Resolve checks the coupon identified by req.Code against the cart and
// returns the applicable rule. Business refusals are *RejectedError; any
// other error is a storage failure.
func (r *Resolver) Resolve(ctx context.Context, src Source, req Request) (*Resolved, error) {
	code := Normalize(req.Code)

	c, err := src.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &RejectedError{Code: code, Reason: ReasonNotFound}
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if !c.IsActive {
		return nil, &RejectedError{Code: c.Code, Reason: ReasonInactive}
	}

	now := r.now()
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return nil, &RejectedError{Code: c.Code, Reason: ReasonNotStarted}
	}
	if c.ExpiresAt != nil && now.After(*c.ExpiresAt) {
		return nil, &RejectedError{Code: c.Code, Reason: ReasonExpired}
	}

	if c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit {
		return nil, &RejectedError{Code: c.Code, Reason: ReasonLimitReached}
	}

	if c.UsageLimitPerUser != nil && req.UserID != "" {
		used, err := src.UserUsageCount(ctx, c.ID, req.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "count user redemptions")
		}
		if used >= *c.UsageLimitPerUser {
			return nil, &RejectedError{Code: c.Code, Reason: ReasonUserLimitReached}
		}
	}

	if c.MinAmount.Valid && req.Subtotal.LessThan(c.MinAmount.Decimal) {
		return nil, &RejectedError{Code: c.Code, Reason: ReasonBelowMinimum}
	}

	eligible := eligibleProducts(c, req.Lines)
	if len(eligible) == 0 {
		return nil, &RejectedError{Code: c.Code, Reason: ReasonNoApplicableItems}
	}

	return &Resolved{
		ID:                 c.ID,
		Code:               c.Code,
		Type:               c.Type,
		Value:              c.Value,
		MaxDiscount:        c.MaxDiscount,
		UsageLimitPerUser:  c.UsageLimitPerUser,
		EligibleProductIDs: eligible,
	}, nil
}

// Normalize maps a client-submitted code to its stored form.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func eligibleProducts(c *Coupon, lines []Line) []string {
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		if lineEligible(c, l) {
			ids = append(ids, l.ProductID)
		}
	}
	return ids
}

func lineEligible(c *Coupon, l Line) bool {
	switch c.ApplicationType {
	case ApplyProducts:
		return slices.Contains(c.ProductIDs, l.ProductID)
	case ApplyCategories:
		return slices.Contains(c.CategoryIDs, l.CategoryID)
	case ApplyExcludeProducts:
		return !slices.Contains(c.ProductIDs, l.ProductID)
	default:
		// ApplyAll and unrecognized values treat every line as eligible.
		return true
	}
}
