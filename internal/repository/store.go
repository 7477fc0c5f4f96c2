package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakmart/checkout/internal/catalog"
	"github.com/oakmart/checkout/internal/checkout"
	"github.com/oakmart/checkout/internal/coupon"
)

var (
	_ checkout.Store = (*Store)(nil)
	_ checkout.Tx    = (*txStore)(nil)
)

// Store bundles the repositories behind the checkout service's persistence
// contract. Reads outside Commit run on the pool; Commit rebinds every
// repository to a single transaction so the pricing reads and the
// conditional updates share one snapshot.
type Store struct {
	pool     *pgxpool.Pool
	products *ProductRepository
	coupons  *CouponRepository
	orders   *OrderRepository
}

// NewStore returns a Store that uses the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:     pool,
		products: NewProductRepository(pool),
		coupons:  NewCouponRepository(pool),
		orders:   NewOrderRepository(pool),
	}
}

// LookupProducts returns the active products matching the given IDs.
func (s *Store) LookupProducts(ctx context.Context, ids []string) ([]catalog.Product, error) {
	return s.products.Lookup(ctx, ids)
}

// FindByCode looks up a coupon by its code.
func (s *Store) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return s.coupons.FindByCode(ctx, code)
}

// UserUsageCount returns how many times the user has redeemed the coupon.
func (s *Store) UserUsageCount(ctx context.Context, couponID, userID string) (int, error) {
	return s.coupons.UserUsageCount(ctx, couponID, userID)
}

// GetOrder returns a persisted order with its line items.
func (s *Store) GetOrder(ctx context.Context, id string) (*checkout.Order, error) {
	return s.orders.Get(ctx, id)
}

// Commit runs fn inside a single database transaction. The transaction is
// rolled back when fn returns an error and committed otherwise.
func (s *Store) Commit(ctx context.Context, fn func(tx checkout.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&txStore{
			products: s.products.WithTx(tx),
			coupons:  s.coupons.WithTx(tx),
			orders:   s.orders.WithTx(tx),
		})
	})
}

// txStore is the transaction-scoped view handed to Commit callbacks.
type txStore struct {
	products *ProductRepository
	coupons  *CouponRepository
	orders   *OrderRepository
}

func (t *txStore) LookupProducts(ctx context.Context, ids []string) ([]catalog.Product, error) {
	return t.products.Lookup(ctx, ids)
}

func (t *txStore) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return t.coupons.FindByCode(ctx, code)
}

func (t *txStore) UserUsageCount(ctx context.Context, couponID, userID string) (int, error) {
	return t.coupons.UserUsageCount(ctx, couponID, userID)
}

func (t *txStore) InsertOrder(ctx context.Context, o *checkout.Order) error {
	return t.orders.Insert(ctx, o)
}

func (t *txStore) DeductStock(ctx context.Context, productID string, qty int) error {
	return t.products.DeductStock(ctx, productID, qty)
}

func (t *txStore) ConsumeCoupon(ctx context.Context, couponID string) error {
	return t.coupons.ConsumeCoupon(ctx, couponID)
}

func (t *txStore) RecordCouponUsage(ctx context.Context, u *checkout.CouponUsage) error {
	return t.coupons.RecordUsage(ctx, u)
}
