package commission

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sellora/escrowd/internal/currency"
)

func TestCalculate_StandardSchedule(t *testing.T) {
	// 2.5% + 50 minor units flat: 10000 gross -> 250 + 50 = 300 commission.
	calc := New(250, 50)

	b := calc.Calculate(10000)
	assert.Equal(t, currency.Amount(250), b.PercentageFee)
	assert.Equal(t, currency.Amount(50), b.FlatFeeApplied)
	assert.Equal(t, currency.Amount(300), b.Commission)
	assert.Equal(t, currency.Amount(9700), b.SettleAmount)
}

func TestCalculate_ZeroGross(t *testing.T) {
	calc := New(250, 50)

	b := calc.Calculate(0)
	assert.Equal(t, currency.Amount(0), b.Commission)
	assert.Equal(t, currency.Amount(0), b.SettleAmount)
}

func TestCalculate_FlatFeeExceedsGross(t *testing.T) {
	calc := New(250, 5000)

	b := calc.Calculate(100)
	// 2 pct fee, flat clamped to the remaining 98.
	assert.Equal(t, currency.Amount(2), b.PercentageFee)
	assert.Equal(t, currency.Amount(98), b.FlatFeeApplied)
	assert.Equal(t, currency.Amount(100), b.Commission)
	assert.Equal(t, currency.Amount(0), b.SettleAmount)
}

func TestCalculate_NegativeGrossTreatedAsZero(t *testing.T) {
	calc := New(250, 50)

	b := calc.Calculate(-500)
	assert.Equal(t, currency.Amount(0), b.Gross)
	assert.Equal(t, currency.Amount(0), b.SettleAmount)
}

// Commission and settle amount always sum back to the gross amount, and the
// settle amount is never negative.
func TestCalculate_Conservation(t *testing.T) {
	schedules := []Calculator{
		New(0, 0),
		New(250, 50),
		New(1000, 0),
		New(10000, 0),
		New(9999, 100000),
	}
	grosses := []currency.Amount{0, 1, 49, 50, 99, 100, 999, 10000, 123456789}

	for _, calc := range schedules {
		for _, g := range grosses {
			b := calc.Calculate(g)
			assert.Equal(t, g, currency.Add(b.Commission, b.SettleAmount),
				"conservation violated for rate=%d flat=%d gross=%d", calc.RateBps, calc.FlatFee, g)
			assert.GreaterOrEqual(t, int64(b.SettleAmount), int64(0))
			assert.GreaterOrEqual(t, int64(b.Commission), int64(0))
		}
	}
}
