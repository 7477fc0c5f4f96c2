package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/oakmart/checkout/internal/checkout"
	"github.com/oakmart/checkout/internal/coupon"
)

const (
	getCouponByCodeSQL = `SELECT id, code, type, value, min_amount, max_discount,
		usage_limit, usage_limit_per_user, application_type, product_ids, category_ids,
		is_active, starts_at, expires_at, usage_count
		FROM coupons WHERE UPPER(code) = UPPER($1)`

	userUsageCountSQL = `SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2`

	consumeCouponSQL = `UPDATE coupons SET usage_count = usage_count + 1
		WHERE id = $1 AND (usage_limit IS NULL OR usage_count < usage_limit)`

	recordCouponUsageSQL = `INSERT INTO coupon_usages
		(id, coupon_id, user_id, order_id, discount_amount, order_total, applied_product_ids, used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
)

var _ coupon.Source = (*CouponRepository)(nil)

// CouponRepository implements coupon.Source backed by PostgreSQL.
type CouponRepository struct {
	db DBTX
}

// NewCouponRepository returns a CouponRepository bound to the given querier.
func NewCouponRepository(db DBTX) *CouponRepository {
	return &CouponRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *CouponRepository) WithTx(tx pgx.Tx) *CouponRepository {
	return &CouponRepository{db: tx}
}

// FindByCode looks up a coupon by its code (case-insensitive). The row is
// returned regardless of active or date status, so the resolver can report
// the precise rejection reason. Returns coupon.ErrNotFound when no row
// matches.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.db.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// UserUsageCount returns how many times the given user has redeemed the
// coupon. Inside a commit transaction this runs after ConsumeCoupon has
// locked the coupon row, so racing redemptions of the same code observe
// each other's ledger inserts.
func (r *CouponRepository) UserUsageCount(ctx context.Context, couponID, userID string) (int, error) {
	var count int64
	if err := r.db.QueryRow(ctx, userUsageCountSQL, couponID, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting coupon usage for %q: %w", couponID, err)
	}
	return int(count), nil
}

// ConsumeCoupon increments the global usage counter in a single conditional
// update, which also takes the coupon row lock for the rest of the
// transaction. Zero affected rows means the usage limit was already
// exhausted by a concurrent order.
func (r *CouponRepository) ConsumeCoupon(ctx context.Context, couponID string) error {
	tag, err := r.db.Exec(ctx, consumeCouponSQL, couponID)
	if err != nil {
		return fmt.Errorf("consuming coupon %q: %w", couponID, err)
	}
	if tag.RowsAffected() == 0 {
		return &checkout.ConflictError{Resource: "coupon", ID: couponID}
	}
	return nil
}

// RecordUsage appends one row to the redemption ledger.
func (r *CouponRepository) RecordUsage(ctx context.Context, u *checkout.CouponUsage) error {
	_, err := r.db.Exec(ctx, recordCouponUsageSQL,
		u.ID, u.CouponID, u.UserID, u.OrderID,
		u.DiscountAmount, u.OrderTotal, u.AppliedProductIDs, u.UsedAt,
	)
	if err != nil {
		return fmt.Errorf("recording usage of coupon %q: %w", u.CouponID, err)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c                 coupon.Coupon
		couponType        string
		value             decimal.Decimal
		minAmount         decimal.NullDecimal
		maxDiscount       decimal.NullDecimal
		usageLimit        *int32
		usageLimitPerUser *int32
		applicationType   string
		usageCount        int32
	)
	err := row.Scan(
		&c.ID, &c.Code, &couponType, &value, &minAmount, &maxDiscount,
		&usageLimit, &usageLimitPerUser, &applicationType, &c.ProductIDs, &c.CategoryIDs,
		&c.IsActive, &c.StartsAt, &c.ExpiresAt, &usageCount,
	)
	c.Type = coupon.Type(couponType)
	c.Value = value
	c.MinAmount = minAmount
	c.MaxDiscount = maxDiscount
	c.UsageLimit = intPtr(usageLimit)
	c.UsageLimitPerUser = intPtr(usageLimitPerUser)
	c.ApplicationType = coupon.ApplicationType(applicationType)
	c.UsageCount = int(usageCount)
	return c, err
}

func intPtr(v *int32) *int {
	if v == nil {
		return nil
	}
	n := int(*v)
	return &n
}
