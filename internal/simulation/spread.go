package simulation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"papertrader/internal/domain"
	"papertrader/internal/ports"
)

// SpreadConfig holds the bid/ask spread model parameters.
type SpreadConfig struct {
	BasePct              decimal.Decimal `envconfig:"BASE_PCT"`
	VolatilityMultiplier decimal.Decimal `envconfig:"VOLATILITY_MULTIPLIER"`
	LiquidityMultiplier  decimal.Decimal `envconfig:"LIQUIDITY_MULTIPLIER"`
	HighVolumeMultiplier decimal.Decimal `envconfig:"HIGH_VOLUME_MULTIPLIER"`
	MinSpreadAbsolute    decimal.Decimal `envconfig:"MIN_ABSOLUTE"`
	MaxSpreadPct         decimal.Decimal `envconfig:"MAX_PCT"`
	NoisePct             decimal.Decimal `envconfig:"NOISE_PCT"`       // Bounded multiplicative noise, e.g. 0.30 for +-30%
	PriceIncrement       decimal.Decimal `envconfig:"PRICE_INCREMENT"` // Coarsest tick; low prices use finer ones
}

// DefaultSpreadConfig returns equity-market defaults (5 bps base, cents increment).
func DefaultSpreadConfig() SpreadConfig {
	return SpreadConfig{
		BasePct:              decimal.RequireFromString("0.0005"),
		VolatilityMultiplier: decimal.NewFromInt(3),
		LiquidityMultiplier:  decimal.NewFromInt(2),
		HighVolumeMultiplier: decimal.RequireFromString("0.5"),
		MinSpreadAbsolute:    decimal.RequireFromString("0.01"),
		MaxSpreadPct:         decimal.RequireFromString("0.02"),
		NoisePct:             decimal.RequireFromString("0.30"),
		PriceIncrement:       decimal.RequireFromString("0.01"),
	}
}

// Validate checks the spread parameters.
func (c SpreadConfig) Validate() error {
	if c.BasePct.IsNegative() || c.MinSpreadAbsolute.IsNegative() {
		return fmt.Errorf("spread base and minimum must not be negative")
	}
	if !c.BasePct.IsPositive() && !c.MinSpreadAbsolute.IsPositive() {
		return fmt.Errorf("spread needs a positive base pct or minimum absolute spread")
	}
	if !c.MaxSpreadPct.IsPositive() || c.MaxSpreadPct.GreaterThanOrEqual(one) {
		return fmt.Errorf("spread max pct must be in (0, 1)")
	}
	if c.NoisePct.IsNegative() || c.NoisePct.GreaterThanOrEqual(one) {
		return fmt.Errorf("spread noise pct must be in [0, 1)")
	}
	if c.VolatilityMultiplier.IsNegative() || c.LiquidityMultiplier.IsNegative() || c.HighVolumeMultiplier.IsNegative() {
		return fmt.Errorf("spread multipliers must not be negative")
	}
	return nil
}

// SpreadQuote is a simulated bid/ask pair around a mid price.
type SpreadQuote struct {
	Mid       decimal.Decimal
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	SpreadPct decimal.Decimal
}

// SpreadSimulator derives a bid/ask pair from a mid price and market condition.
type SpreadSimulator struct {
	cfg SpreadConfig
	rng ports.Random
}

// NewSpreadSimulator creates a spread simulator.
func NewSpreadSimulator(cfg SpreadConfig, rng ports.Random) (*SpreadSimulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("random source is required for spread simulator")
	}
	return &SpreadSimulator{cfg: cfg, rng: rng}, nil
}

// Quote simulates the bid and ask around mid.
// Bid rounds down and ask rounds up to a tick fine enough for the price, so
// 0 < bid < mid < ask and (ask-bid)/mid never exceeds MaxSpreadPct.
// SpreadPct describes the rounded quote.
func (s *SpreadSimulator) Quote(mid decimal.Decimal, cond domain.MarketCondition) (SpreadQuote, error) {
	if !mid.IsPositive() {
		return SpreadQuote{}, fmt.Errorf("mid price must be positive, got %s", mid)
	}

	pct := s.cfg.BasePct.Mul(s.conditionFactor(cond))
	pct = pct.Mul(uniform(s.rng, one.Sub(s.cfg.NoisePct), one.Add(s.cfg.NoisePct)))

	minPct := s.cfg.MinSpreadAbsolute.Div(mid)
	if pct.LessThan(minPct) {
		pct = minPct
	}
	if pct.GreaterThan(s.cfg.MaxSpreadPct) {
		pct = s.cfg.MaxSpreadPct
	}

	tick := PriceTick(mid, s.cfg.PriceIncrement, s.cfg.MaxSpreadPct.Div(four))
	half := mid.Mul(pct).Div(two)
	bid := FloorToIncrement(mid.Sub(half), tick)
	ask := CeilToIncrement(mid.Add(half), tick)

	// Outward rounding can widen the quote past the cap; round inward from the cap instead.
	maxWidth := mid.Mul(s.cfg.MaxSpreadPct)
	if ask.Sub(bid).GreaterThan(maxWidth) {
		maxHalf := maxWidth.Div(two)
		bid = CeilToIncrement(mid.Sub(maxHalf), tick)
		ask = FloorToIncrement(mid.Add(maxHalf), tick)
	}
	if !bid.IsPositive() || !bid.LessThan(mid) || !ask.GreaterThan(mid) {
		return SpreadQuote{}, fmt.Errorf("no valid quote around mid %s at tick %s: bid %s ask %s", mid, tick, bid, ask)
	}

	return SpreadQuote{
		Mid:       mid,
		Bid:       bid,
		Ask:       ask,
		SpreadPct: ask.Sub(bid).Div(mid),
	}, nil
}

func (s *SpreadSimulator) conditionFactor(cond domain.MarketCondition) decimal.Decimal {
	switch cond {
	case domain.ConditionVolatile:
		return s.cfg.VolatilityMultiplier
	case domain.ConditionLowLiquidity:
		return s.cfg.LiquidityMultiplier
	case domain.ConditionHighVolume:
		return s.cfg.HighVolumeMultiplier
	default:
		return one
	}
}
