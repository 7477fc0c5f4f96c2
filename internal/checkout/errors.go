package checkout

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ErrOrderNotFound is returned when a requested order does not exist.
var ErrOrderNotFound = errors.New("order not found")

// ValidationError reports malformed input, rejected before any storage
// reads. Retrying without changing the request will fail the same way.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ProductNotFoundError indicates a cart line references a product that does
// not exist or is no longer active.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// ConflictError reports a commit that lost a concurrent race: the last unit
// of stock, the last coupon redemption, or a duplicate order number. The
// transaction was rolled back completely; a retry with fresh state may
// succeed.
type ConflictError struct {
	// Resource names what was contended: "product", "coupon", or "order".
	Resource string
	ID       string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s %s", e.Resource, e.ID)
}
