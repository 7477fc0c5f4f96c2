package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the service's OpenTelemetry instruments.
type Metrics struct {
	quotesPriced    metric.Int64Counter
	ordersCommitted metric.Int64Counter
	commitConflicts metric.Int64Counter
	couponsRedeemed metric.Int64Counter
}

// NewMetrics registers the checkout instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	quotesPriced, err := meter.Int64Counter("checkout.quotes.priced",
		metric.WithDescription("Cart quotes priced successfully."))
	if err != nil {
		return nil, errors.Wrap(err, "create quotes counter")
	}

	ordersCommitted, err := meter.Int64Counter("checkout.orders.committed",
		metric.WithDescription("Orders committed with all mutations applied."))
	if err != nil {
		return nil, errors.Wrap(err, "create orders counter")
	}

	commitConflicts, err := meter.Int64Counter("checkout.commit.conflicts",
		metric.WithDescription("Commits rolled back after losing a stock or coupon race."))
	if err != nil {
		return nil, errors.Wrap(err, "create conflicts counter")
	}

	couponsRedeemed, err := meter.Int64Counter("checkout.coupons.redeemed",
		metric.WithDescription("Coupon redemptions recorded in the usage ledger."))
	if err != nil {
		return nil, errors.Wrap(err, "create redemptions counter")
	}

	return &Metrics{
		quotesPriced:    quotesPriced,
		ordersCommitted: ordersCommitted,
		commitConflicts: commitConflicts,
		couponsRedeemed: couponsRedeemed,
	}, nil
}

func (m *Metrics) quote(ctx context.Context) {
	if m == nil {
		return
	}
	m.quotesPriced.Add(ctx, 1)
}

func (m *Metrics) committed(ctx context.Context, withCoupon bool) {
	if m == nil {
		return
	}
	m.ordersCommitted.Add(ctx, 1)
	if withCoupon {
		m.couponsRedeemed.Add(ctx, 1)
	}
}

func (m *Metrics) conflict(ctx context.Context, resource string) {
	if m == nil {
		return
	}
	m.commitConflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("resource", resource)))
}
