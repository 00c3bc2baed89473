package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"papertrader/internal/ports"
)

// AffordabilityConfig holds the post-slippage cash policy.
type AffordabilityConfig struct {
	// EnforceCash refuses any fill that would leave a cash ledger negative.
	EnforceCash bool `envconfig:"ENFORCE_CASH"`
}

// CostFunc returns the all-in cash cost (value plus fees) of buying qty shares.
type CostFunc func(qty decimal.Decimal) (decimal.Decimal, error)

// AffordabilityGuard applies one cash policy to both sides of a fill,
// evaluated on the final slippage-adjusted price.
type AffordabilityGuard struct {
	config AffordabilityConfig
}

// NewAffordabilityGuard creates a new guard.
func NewAffordabilityGuard(config AffordabilityConfig) *AffordabilityGuard {
	return &AffordabilityGuard{config: config}
}

// Enforced reports whether the guard is active.
func (g *AffordabilityGuard) Enforced() bool {
	return g != nil && g.config.EnforceCash
}

// ClipBuy returns the largest quantity up to qty whose cost fits in balance.
// Partial results are whole shares. It fails with ErrInsufficientFunds when
// not even one share fits.
func (g *AffordabilityGuard) ClipBuy(balance, qty decimal.Decimal, cost CostFunc) (decimal.Decimal, error) {
	if !g.Enforced() {
		return qty, nil
	}

	full, err := cost(qty)
	if err != nil {
		return decimal.Zero, err
	}
	if full.LessThanOrEqual(balance) {
		return qty, nil
	}

	// Cost is non-decreasing in quantity, so binary search the whole-share range.
	lo, hi := int64(0), qty.Floor().IntPart()
	if decimal.NewFromInt(hi).Equal(qty) {
		hi-- // qty itself is already known not to fit
	}
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		c, err := cost(decimal.NewFromInt(mid))
		if err != nil {
			return decimal.Zero, err
		}
		if c.LessThanOrEqual(balance) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	if lo == 0 {
		return decimal.Zero, fmt.Errorf("%w: cost %s exceeds balance %s", ports.ErrInsufficientFunds, full.StringFixed(2), balance.StringFixed(2))
	}
	return decimal.NewFromInt(lo), nil
}

// CheckSell verifies that crediting proceeds net of fees keeps the balance non-negative.
func (g *AffordabilityGuard) CheckSell(balance, proceeds, commission decimal.Decimal) error {
	if !g.Enforced() {
		return nil
	}
	after := balance.Add(proceeds).Sub(commission)
	if after.IsNegative() {
		return fmt.Errorf("%w: fees %s exceed proceeds %s with balance %s",
			ports.ErrInsufficientFunds, commission.StringFixed(2), proceeds.StringFixed(2), balance.StringFixed(2))
	}
	return nil
}
