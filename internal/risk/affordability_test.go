package risk

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/internal/ports"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// flatCost prices shares at price with a fixed fee.
func flatCost(price, fee string) CostFunc {
	return func(qty decimal.Decimal) (decimal.Decimal, error) {
		return qty.Mul(d(price)).Round(2).Add(d(fee)), nil
	}
}

func TestAffordabilityGuard_ClipBuy(t *testing.T) {
	guard := NewAffordabilityGuard(AffordabilityConfig{EnforceCash: true})

	tests := []struct {
		name     string
		balance  string
		qty      string
		cost     CostFunc
		expected string
		wantErr  error
	}{
		{name: "fits", balance: "10000", qty: "50", cost: flatCost("100.25", "0"), expected: "50"},
		{name: "exact fit", balance: "5012.50", qty: "50", cost: flatCost("100.25", "0"), expected: "50"},
		{name: "clipped by slippage", balance: "5000", qty: "50", cost: flatCost("100.25", "0"), expected: "49"},
		{name: "clipped by fee", balance: "1000", qty: "10", cost: flatCost("100", "4.95"), expected: "9"},
		{name: "nothing fits", balance: "50", qty: "10", cost: flatCost("100", "0"), wantErr: ports.ErrInsufficientFunds},
		{name: "fractional request clipped to whole shares", balance: "240", qty: "2.5", cost: flatCost("100", "0"), expected: "2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := guard.ClipBuy(d(tt.balance), d(tt.qty), tt.cost)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(d(tt.expected)), "expected %s, got %s", tt.expected, got)
		})
	}
}

func TestAffordabilityGuard_Disabled(t *testing.T) {
	guard := NewAffordabilityGuard(AffordabilityConfig{})

	got, err := guard.ClipBuy(decimal.Zero, d("100"), flatCost("100", "0"))
	require.NoError(t, err)
	assert.True(t, got.Equal(d("100")))
	assert.NoError(t, guard.CheckSell(decimal.Zero, decimal.Zero, d("5")))
	assert.False(t, guard.Enforced())
}

func TestAffordabilityGuard_CostError(t *testing.T) {
	guard := NewAffordabilityGuard(AffordabilityConfig{EnforceCash: true})
	boom := errors.New("boom")

	_, err := guard.ClipBuy(d("100"), d("1"), func(decimal.Decimal) (decimal.Decimal, error) {
		return decimal.Zero, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestAffordabilityGuard_CheckSell(t *testing.T) {
	guard := NewAffordabilityGuard(AffordabilityConfig{EnforceCash: true})

	assert.NoError(t, guard.CheckSell(decimal.Zero, d("100"), d("4.95")))
	assert.NoError(t, guard.CheckSell(d("5"), d("0"), d("4.95")))
	assert.ErrorIs(t, guard.CheckSell(decimal.Zero, d("1"), d("4.95")), ports.ErrInsufficientFunds)
}
