package simulation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTieredLiquidity_AvailableQuantity(t *testing.T) {
	tests := []struct {
		name      string
		draws     []float64
		requested string
		expected  string
	}{
		{name: "small order likely band full fill", draws: []float64{0.1, 0.999}, requested: "50", expected: "49"},
		{name: "small order unlikely band", draws: []float64{0.96, 0}, requested: "50", expected: "25"},
		{name: "medium order unlikely band low end", draws: []float64{0.9, 0}, requested: "1000", expected: "300"},
		{name: "medium order likely band", draws: []float64{0.5, 0}, requested: "500", expected: "425"},
		{name: "large order unlikely band", draws: []float64{0.6, 0}, requested: "5000", expected: "1000"},
		{name: "large order likely band", draws: []float64{0.4, 0}, requested: "5000", expected: "3500"},
		{name: "single share never rounds to zero", draws: []float64{0.99, 0}, requested: "1", expected: "1"},
		{name: "fractional request capped at requested", draws: []float64{0.99, 0}, requested: "0.5", expected: "0.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewTieredLiquidity(DefaultLiquidityConfig(), &seqRand{values: tt.draws})
			require.NoError(t, err)

			got := l.AvailableQuantity(d(tt.requested))
			assert.True(t, got.Equal(d(tt.expected)), "expected %s, got %s", tt.expected, got)
		})
	}
}

func TestTieredLiquidity_MinimumFillFloor(t *testing.T) {
	cfg := DefaultLiquidityConfig()
	cfg.MinFillPct = d("0.6")
	l, err := NewTieredLiquidity(cfg, &seqRand{values: []float64{0.99, 0}})
	require.NoError(t, err)

	// The unlikely small band would give 50 of 100; the floor lifts it to 60.
	assert.True(t, l.AvailableQuantity(d("100")).Equal(d("60")))
}

func TestTieredLiquidity_Bounds(t *testing.T) {
	l, err := NewTieredLiquidity(DefaultLiquidityConfig(), NewSource(5))
	require.NoError(t, err)

	for _, req := range []string{"1", "7", "99", "100", "101", "999", "1001", "25000"} {
		for i := 0; i < 100; i++ {
			got := l.AvailableQuantity(d(req))
			assert.True(t, got.GreaterThanOrEqual(d("1")), "fill %s below one share", got)
			assert.True(t, got.LessThanOrEqual(d(req)), "fill %s above requested %s", got, req)
			assert.True(t, got.Equal(got.Floor()), "fill %s is not whole", got)
		}
	}
}

func TestLiquidityConfig_Validate(t *testing.T) {
	cfg := DefaultLiquidityConfig()
	cfg.MediumOrderMax = d("10")
	assert.Error(t, cfg.Validate())
}
