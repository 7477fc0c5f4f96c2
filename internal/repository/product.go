package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/oakmart/checkout/internal/catalog"
	"github.com/oakmart/checkout/internal/checkout"
)

const (
	listProductsSQL = `SELECT id, name, price, stock_count, track_inventory, weight, category_id, is_active
		FROM products WHERE is_active ORDER BY id`

	getProductByIDSQL = `SELECT id, name, price, stock_count, track_inventory, weight, category_id, is_active
		FROM products WHERE id = $1 AND is_active`

	lookupProductsSQL = `SELECT id, name, price, stock_count, track_inventory, weight, category_id, is_active
		FROM products WHERE id = ANY($1) AND is_active`

	deductStockSQL = `UPDATE products
		SET stock_count = CASE WHEN track_inventory THEN stock_count - $2 ELSE stock_count END,
			sales_count = sales_count + $2
		WHERE id = $1 AND (NOT track_inventory OR stock_count >= $2)`
)

var _ catalog.Repository = (*ProductRepository)(nil)

// ProductRepository implements catalog.Repository backed by PostgreSQL.
type ProductRepository struct {
	db DBTX
}

// NewProductRepository returns a ProductRepository bound to the given querier.
func NewProductRepository(db DBTX) *ProductRepository {
	return &ProductRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *ProductRepository) WithTx(tx pgx.Tx) *ProductRepository {
	return &ProductRepository{db: tx}
}

// List returns all active products ordered by ID.
func (r *ProductRepository) List(ctx context.Context) ([]catalog.Product, error) {
	rows, err := r.db.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single active product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*catalog.Product, error) {
	rows, err := r.db.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// Lookup returns the active products matching any of the given IDs. Missing
// and inactive IDs are absent from the result rather than an error.
func (r *ProductRepository) Lookup(ctx context.Context, ids []string) ([]catalog.Product, error) {
	rows, err := r.db.Query(ctx, lookupProductsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("looking up products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// DeductStock decrements the stock of a tracked product by qty in a single
// conditional update. The guard keeps stock_count from going below zero;
// zero affected rows means another order won the remaining stock and the
// caller's transaction must abort.
func (r *ProductRepository) DeductStock(ctx context.Context, productID string, qty int) error {
	tag, err := r.db.Exec(ctx, deductStockSQL, productID, qty)
	if err != nil {
		return fmt.Errorf("deducting stock for %q: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return &checkout.ConflictError{Resource: "product", ID: productID}
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var (
		p      catalog.Product
		price  decimal.Decimal
		weight decimal.NullDecimal
	)
	err := row.Scan(
		&p.ID, &p.Name, &price, &p.StockCount, &p.TrackInventory,
		&weight, &p.CategoryID, &p.IsActive,
	)
	p.Price = price
	p.Weight = weight
	return p, err
}
