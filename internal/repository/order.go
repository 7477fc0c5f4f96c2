package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/oakmart/checkout/internal/checkout"
)

const (
	insertOrderSQL = `INSERT INTO orders
		(id, order_number, user_id, subtotal, discount, shipping, tax, total,
		status, payment_status, coupon_code, shipping_address, payment_method, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	insertOrderItemSQL = `INSERT INTO order_items
		(id, order_id, product_id, quantity, unit_price, line_total, variants)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	getOrderSQL = `SELECT id, order_number, user_id, subtotal, discount, shipping, tax, total,
		status, payment_status, coupon_code, shipping_address, payment_method, created_at
		FROM orders WHERE id = $1`

	listOrderItemsSQL = `SELECT id, order_id, product_id, quantity, unit_price, line_total, variants
		FROM order_items WHERE order_id = $1 ORDER BY id`
)

// uniqueViolation is the PostgreSQL error code for a unique constraint
// violation.
const uniqueViolation = "23505"

// OrderRepository persists orders and their line items in PostgreSQL.
type OrderRepository struct {
	db DBTX
}

// NewOrderRepository returns an OrderRepository bound to the given querier.
func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *OrderRepository) WithTx(tx pgx.Tx) *OrderRepository {
	return &OrderRepository{db: tx}
}

// Insert persists a new order together with its line items. A duplicate
// order number is reported as a ConflictError so a replayed submission
// aborts instead of creating a second order.
func (r *OrderRepository) Insert(ctx context.Context, o *checkout.Order) error {
	_, err := r.db.Exec(ctx, insertOrderSQL,
		o.ID, o.OrderNumber, o.UserID, o.Subtotal, o.Discount, o.Shipping, o.Tax, o.Total,
		string(o.Status), string(o.PaymentStatus), nullString(o.CouponCode),
		o.ShippingAddress, o.PaymentMethod, o.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return &checkout.ConflictError{Resource: "order", ID: o.OrderNumber}
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	for i := range o.Items {
		it := &o.Items[i]
		_, err := r.db.Exec(ctx, insertOrderItemSQL,
			it.ID, it.OrderID, it.ProductID, it.Quantity, it.UnitPrice, it.LineTotal, it.Variants,
		)
		if err != nil {
			return fmt.Errorf("creating order item %q: %w", it.ID, err)
		}
	}

	return nil
}

// Get returns an order with its line items. Returns checkout.ErrOrderNotFound
// when no order matches the ID.
func (r *OrderRepository) Get(ctx context.Context, id string) (*checkout.Order, error) {
	rows, err := r.db.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, checkout.ErrOrderNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	itemRows, err := r.db.Query(ctx, listOrderItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("listing items of order %q: %w", id, err)
	}
	o.Items, err = pgx.CollectRows(itemRows, scanOrderItem)
	if err != nil {
		return nil, fmt.Errorf("listing items of order %q: %w", id, err)
	}

	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (checkout.Order, error) {
	var (
		o             checkout.Order
		subtotal      decimal.Decimal
		discount      decimal.Decimal
		shipping      decimal.Decimal
		tax           decimal.Decimal
		total         decimal.Decimal
		status        string
		paymentStatus string
		couponCode    *string
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &subtotal, &discount, &shipping, &tax, &total,
		&status, &paymentStatus, &couponCode, &o.ShippingAddress, &o.PaymentMethod, &o.CreatedAt,
	)
	o.Subtotal = subtotal
	o.Discount = discount
	o.Shipping = shipping
	o.Tax = tax
	o.Total = total
	o.Status = checkout.Status(status)
	o.PaymentStatus = checkout.PaymentStatus(paymentStatus)
	if couponCode != nil {
		o.CouponCode = *couponCode
	}
	return o, err
}

func scanOrderItem(row pgx.CollectableRow) (checkout.OrderItem, error) {
	var (
		it        checkout.OrderItem
		unitPrice decimal.Decimal
		lineTotal decimal.Decimal
	)
	err := row.Scan(
		&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &unitPrice, &lineTotal, &it.Variants,
	)
	it.UnitPrice = unitPrice
	it.LineTotal = lineTotal
	return it, err
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
