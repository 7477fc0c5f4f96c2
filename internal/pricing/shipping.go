package pricing

import "github.com/shopspring/decimal"

// RateTier maps an inclusive weight bound in kilograms to a flat cost.
type RateTier struct {
	MaxWeight decimal.Decimal
	Cost      decimal.Decimal
}

// Rates is a weight-tiered shipping table. Tiers must be ordered by
// ascending MaxWeight; weights above the last tier pay its cost plus a
// surcharge per started kilogram, capped at MaxCost.
type Rates struct {
	Tiers             []RateTier
	SurchargePerKg    decimal.Decimal
	MaxCost           decimal.Decimal
	DefaultItemWeight decimal.Decimal
}

// DefaultRates returns the standard domestic parcel table.
func DefaultRates() Rates {
	return Rates{
		Tiers: []RateTier{
			{MaxWeight: decimal.NewFromInt(1), Cost: decimal.RequireFromString("5.90")},
			{MaxWeight: decimal.NewFromInt(3), Cost: decimal.RequireFromString("7.90")},
			{MaxWeight: decimal.NewFromInt(5), Cost: decimal.RequireFromString("9.90")},
			{MaxWeight: decimal.NewFromInt(10), Cost: decimal.RequireFromString("14.90")},
		},
		SurchargePerKg:    decimal.RequireFromString("1.50"),
		MaxCost:           decimal.RequireFromString("49.90"),
		DefaultItemWeight: decimal.RequireFromString("0.5"),
	}
}

// Cost returns the shipping cost for the given total weight in kilograms.
// A weight of zero ships free.
func (r Rates) Cost(weight decimal.Decimal) decimal.Decimal {
	if !weight.IsPositive() || len(r.Tiers) == 0 {
		return zero
	}

	for _, tier := range r.Tiers {
		if weight.LessThanOrEqual(tier.MaxWeight) {
			return tier.Cost
		}
	}

	last := r.Tiers[len(r.Tiers)-1]
	startedKg := weight.Sub(last.MaxWeight).Ceil()
	cost := last.Cost.Add(startedKg.Mul(r.SurchargePerKg))
	return decimal.Min(cost, r.MaxCost)
}
