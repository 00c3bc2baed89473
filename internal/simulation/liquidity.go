package simulation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"papertrader/internal/ports"
)

// LiquiditySimulator decides how much of a resting order the market can absorb.
type LiquiditySimulator interface {
	// AvailableQuantity returns the fillable quantity for a requested size.
	AvailableQuantity(requested decimal.Decimal) decimal.Decimal
}

// FillBand is the fill-fraction distribution of one order size tier:
// with probability Likely the fraction is drawn from [HighMin, 1],
// otherwise from [LowMin, HighMin].
type FillBand struct {
	Likely  float64
	HighMin decimal.Decimal
	LowMin  decimal.Decimal
}

// LiquidityConfig holds the order size tiers and their fill bands.
type LiquidityConfig struct {
	SmallOrderMax  decimal.Decimal `envconfig:"SMALL_ORDER_MAX"`  // Shares; orders up to this size are small
	MediumOrderMax decimal.Decimal `envconfig:"MEDIUM_ORDER_MAX"` // Shares; larger orders are large
	MinFillPct     decimal.Decimal `envconfig:"MIN_FILL_PCT"`     // Floor of a partial fill as a share of requested

	Small  FillBand `ignored:"true"`
	Medium FillBand `ignored:"true"`
	Large  FillBand `ignored:"true"`
}

// DefaultLiquidityConfig returns the default tiers.
func DefaultLiquidityConfig() LiquidityConfig {
	return LiquidityConfig{
		SmallOrderMax:  decimal.NewFromInt(100),
		MediumOrderMax: decimal.NewFromInt(1000),
		MinFillPct:     decimal.RequireFromString("0.10"),
		Small:          FillBand{Likely: 0.95, HighMin: decimal.RequireFromString("0.95"), LowMin: decimal.RequireFromString("0.50")},
		Medium:         FillBand{Likely: 0.75, HighMin: decimal.RequireFromString("0.85"), LowMin: decimal.RequireFromString("0.30")},
		Large:          FillBand{Likely: 0.50, HighMin: decimal.RequireFromString("0.70"), LowMin: decimal.RequireFromString("0.20")},
	}
}

// Validate checks the tier boundaries.
func (c LiquidityConfig) Validate() error {
	if !c.SmallOrderMax.IsPositive() || c.MediumOrderMax.LessThan(c.SmallOrderMax) {
		return fmt.Errorf("liquidity tiers must satisfy 0 < small (%s) <= medium (%s)", c.SmallOrderMax, c.MediumOrderMax)
	}
	if c.MinFillPct.IsNegative() || c.MinFillPct.GreaterThan(one) {
		return fmt.Errorf("liquidity min fill pct must be in [0, 1]")
	}
	return nil
}

// TieredLiquidity samples a fill fraction conditioned on the order size tier.
type TieredLiquidity struct {
	cfg LiquidityConfig
	rng ports.Random
}

// NewTieredLiquidity creates a tiered liquidity simulator.
func NewTieredLiquidity(cfg LiquidityConfig, rng ports.Random) (*TieredLiquidity, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("random source is required for liquidity simulator")
	}
	return &TieredLiquidity{cfg: cfg, rng: rng}, nil
}

// AvailableQuantity samples a whole-share fill of at least max(1, MinFillPct x requested)
// and never more than requested.
func (l *TieredLiquidity) AvailableQuantity(requested decimal.Decimal) decimal.Decimal {
	band := l.band(requested)

	var fraction decimal.Decimal
	if chance(l.rng, band.Likely) {
		fraction = uniform(l.rng, band.HighMin, one)
	} else {
		fraction = uniform(l.rng, band.LowMin, band.HighMin)
	}

	fill := requested.Mul(fraction).Floor()
	floor := decimal.Max(one, requested.Mul(l.cfg.MinFillPct).Floor())
	if fill.LessThan(floor) {
		fill = floor
	}
	return decimal.Min(fill, requested)
}

func (l *TieredLiquidity) band(requested decimal.Decimal) FillBand {
	switch {
	case requested.LessThanOrEqual(l.cfg.SmallOrderMax):
		return l.cfg.Small
	case requested.LessThanOrEqual(l.cfg.MediumOrderMax):
		return l.cfg.Medium
	default:
		return l.cfg.Large
	}
}

// FixedLiquidity always offers the same quantity. Useful for replays and tests.
type FixedLiquidity struct {
	Quantity decimal.Decimal
}

// AvailableQuantity returns the fixed quantity.
func (f FixedLiquidity) AvailableQuantity(_ decimal.Decimal) decimal.Decimal {
	return f.Quantity
}

// FullLiquidity fills every order completely.
type FullLiquidity struct{}

// AvailableQuantity returns requested.
func (FullLiquidity) AvailableQuantity(requested decimal.Decimal) decimal.Decimal {
	return requested
}
