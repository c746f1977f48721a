// Package fees is the single implementation of the platform fee math.
// Checkout and any reporting code must go through it; a diverging rate
// between capture time and report time is a correctness bug.
package fees

import (
	"github.com/shopspring/decimal"
)

type Calculator struct {
	rate decimal.Decimal
}

// NewCalculator builds a calculator for the given fee rate (0.05 = 5%).
func NewCalculator(rate float64) *Calculator {
	return &Calculator{rate: decimal.NewFromFloat(rate)}
}

// Fee returns max(0, round(grossCents * rate)) in minor units.
func (c *Calculator) Fee(grossCents int64) int64 {
	fee := decimal.NewFromInt(grossCents).Mul(c.rate).Round(0).IntPart()
	if fee < 0 {
		return 0
	}
	return fee
}

// Split returns the platform fee and the teacher net for a gross amount.
// fee + net == grossCents always holds.
func (c *Calculator) Split(grossCents int64) (fee, net int64) {
	fee = c.Fee(grossCents)
	return fee, grossCents - fee
}

// Rate exposes the configured rate for reporting.
func (c *Calculator) Rate() decimal.Decimal {
	return c.rate
}
