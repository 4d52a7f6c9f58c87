// Package commission computes the platform's cut of a sub-order settlement.
//
// The platform charges a percentage fee plus a flat fee per sub-order. The
// seller receives the remainder. Calculation is pure integer arithmetic on
// minor units; the calculator never touches storage.
package commission

import "github.com/sellora/escrowd/internal/currency"

// Calculator holds the fee schedule.
type Calculator struct {
	// RateBps is the percentage fee in basis points (250 = 2.5%).
	RateBps int64
	// FlatFee is the fixed per-sub-order fee in minor units.
	FlatFee currency.Amount
}

// Breakdown is the result of a commission calculation.
type Breakdown struct {
	Gross          currency.Amount `json:"gross"`
	PercentageFee  currency.Amount `json:"percentageFee"`
	FlatFeeApplied currency.Amount `json:"flatFeeApplied"`
	Commission     currency.Amount `json:"commission"`
	SettleAmount   currency.Amount `json:"settleAmount"`
}

// New creates a calculator with the given fee schedule.
func New(rateBps int64, flatFee currency.Amount) Calculator {
	return Calculator{RateBps: rateBps, FlatFee: flatFee}
}

// Calculate splits a gross amount into commission and seller settle amount.
//
// Invariants: SettleAmount >= 0 and Commission + SettleAmount == gross.
// If the configured fees would exceed the gross amount, the commission is
// clamped to the gross amount (flat fee absorbs the clamp) so the seller
// is never settled a negative amount.
func (c Calculator) Calculate(gross currency.Amount) Breakdown {
	if gross < 0 {
		gross = 0
	}

	pctFee := currency.Amount(int64(gross) * c.RateBps / 10000)
	flat := c.FlatFee
	if flat < 0 {
		flat = 0
	}

	// Clamp: commission never exceeds gross.
	if pctFee > gross {
		pctFee = gross
	}
	remaining := currency.Sub(gross, pctFee)
	if flat > remaining {
		flat = remaining
	}

	total := currency.Add(pctFee, flat)
	return Breakdown{
		Gross:          gross,
		PercentageFee:  pctFee,
		FlatFeeApplied: flat,
		Commission:     total,
		SettleAmount:   currency.Sub(gross, total),
	}
}
