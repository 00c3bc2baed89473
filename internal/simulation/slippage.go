package simulation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"papertrader/internal/domain"
	"papertrader/internal/ports"
)

// SlippageConfig holds the market-impact model parameters.
type SlippageConfig struct {
	BasePct              decimal.Decimal `envconfig:"BASE_PCT"`
	VolatilityMultiplier decimal.Decimal `envconfig:"VOLATILITY_MULTIPLIER"`
	LiquidityMultiplier  decimal.Decimal `envconfig:"LIQUIDITY_MULTIPLIER"`
	HighVolumeMultiplier decimal.Decimal `envconfig:"HIGH_VOLUME_MULTIPLIER"`
	SizeThreshold        decimal.Decimal `envconfig:"SIZE_THRESHOLD"` // Order notional above which size impact applies
	SizeImpactFactor     decimal.Decimal `envconfig:"SIZE_IMPACT_FACTOR"`
	MaxSlippagePct       decimal.Decimal `envconfig:"MAX_PCT"`
	NoiseMin             decimal.Decimal `envconfig:"NOISE_MIN"`
	NoiseMax             decimal.Decimal `envconfig:"NOISE_MAX"`
	PriceIncrement       decimal.Decimal `envconfig:"PRICE_INCREMENT"`
}

// DefaultSlippageConfig returns the default impact model.
func DefaultSlippageConfig() SlippageConfig {
	return SlippageConfig{
		BasePct:              decimal.RequireFromString("0.0005"),
		VolatilityMultiplier: decimal.NewFromInt(2),
		LiquidityMultiplier:  decimal.RequireFromString("1.5"),
		HighVolumeMultiplier: decimal.RequireFromString("0.5"),
		SizeThreshold:        decimal.NewFromInt(10000),
		SizeImpactFactor:     decimal.RequireFromString("0.001"),
		MaxSlippagePct:       decimal.RequireFromString("0.01"),
		NoiseMin:             decimal.RequireFromString("0.8"),
		NoiseMax:             decimal.RequireFromString("1.5"),
		PriceIncrement:       decimal.RequireFromString("0.01"),
	}
}

// Validate checks the slippage parameters.
func (c SlippageConfig) Validate() error {
	if c.BasePct.IsNegative() || c.SizeImpactFactor.IsNegative() {
		return fmt.Errorf("slippage base pct and size impact factor must not be negative")
	}
	if c.MaxSlippagePct.IsNegative() || c.MaxSlippagePct.GreaterThanOrEqual(one) {
		return fmt.Errorf("slippage max pct must be in [0, 1)")
	}
	if c.SizeThreshold.IsNegative() {
		return fmt.Errorf("slippage size threshold must not be negative")
	}
	if !c.NoiseMin.IsPositive() || c.NoiseMax.LessThan(c.NoiseMin) {
		return fmt.Errorf("slippage noise range [%s, %s] is invalid", c.NoiseMin, c.NoiseMax)
	}
	return nil
}

// SlippageModel derives the adverse price impact of an order.
type SlippageModel struct {
	cfg SlippageConfig
	rng ports.Random
}

// NewSlippageModel creates a slippage model.
func NewSlippageModel(cfg SlippageConfig, rng ports.Random) (*SlippageModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("random source is required for slippage model")
	}
	return &SlippageModel{cfg: cfg, rng: rng}, nil
}

// Impact returns the slippage percentage for an order of quantity at basePrice.
// The magnitude is the same for both sides; Apply decides the direction.
func (m *SlippageModel) Impact(basePrice, quantity decimal.Decimal, _ domain.OrderSide, cond domain.MarketCondition) decimal.Decimal {
	pct := m.cfg.BasePct.Mul(m.conditionFactor(cond))

	orderValue := basePrice.Mul(quantity)
	if m.cfg.SizeThreshold.IsPositive() && orderValue.GreaterThan(m.cfg.SizeThreshold) {
		excess := orderValue.Sub(m.cfg.SizeThreshold).Div(m.cfg.SizeThreshold)
		pct = pct.Add(excess.Mul(m.cfg.SizeImpactFactor))
	}

	pct = pct.Mul(uniform(m.rng, m.cfg.NoiseMin, m.cfg.NoiseMax))
	if pct.GreaterThan(m.cfg.MaxSlippagePct) {
		pct = m.cfg.MaxSlippagePct
	}
	return pct
}

// Apply moves price against the initiator: up for BUY, down for SELL.
// The result rounds to a tick of at most 10 bps of price and never crosses price.
func (m *SlippageModel) Apply(price, pct decimal.Decimal, side domain.OrderSide) decimal.Decimal {
	tick := PriceTick(price, m.cfg.PriceIncrement, maxTickFraction)
	if side == domain.Buy {
		return decimal.Max(RoundToIncrement(price.Mul(one.Add(pct)), tick), price)
	}
	return decimal.Min(RoundToIncrement(price.Mul(one.Sub(pct)), tick), price)
}

func (m *SlippageModel) conditionFactor(cond domain.MarketCondition) decimal.Decimal {
	switch cond {
	case domain.ConditionVolatile:
		return m.cfg.VolatilityMultiplier
	case domain.ConditionLowLiquidity:
		return m.cfg.LiquidityMultiplier
	case domain.ConditionHighVolume:
		return m.cfg.HighVolumeMultiplier
	default:
		return one
	}
}
