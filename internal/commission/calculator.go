// Package commission computes broker fees and sale-side regulatory fees.
package commission

import (
	"fmt"

	"github.com/shopspring/decimal"

	"papertrader/internal/domain"
	"papertrader/internal/ports"
)

// Model selects how the broker fee is charged.
type Model string

const (
	ModelZero       Model = "zero"
	ModelPerShare   Model = "per_share"
	ModelFlat       Model = "flat"
	ModelPercentage Model = "percentage"
	ModelTiered     Model = "tiered"
)

// ParseModel converts a string to a Model.
func ParseModel(s string) (Model, error) {
	switch m := Model(s); m {
	case ModelZero, ModelPerShare, ModelFlat, ModelPercentage, ModelTiered:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown commission model %q", ports.ErrInvalidRequest, s)
}

// Config holds the fee schedule. A zero Max means uncapped.
type Config struct {
	Model Model `envconfig:"MODEL"`

	PerShareRate decimal.Decimal `envconfig:"PER_SHARE_RATE"`
	PerShareMin  decimal.Decimal `envconfig:"PER_SHARE_MIN"`
	PerShareMax  decimal.Decimal `envconfig:"PER_SHARE_MAX"`

	FlatFee decimal.Decimal `envconfig:"FLAT_FEE"`

	PercentageRate decimal.Decimal `envconfig:"PERCENTAGE_RATE"`
	PercentageMin  decimal.Decimal `envconfig:"PERCENTAGE_MIN"`
	PercentageMax  decimal.Decimal `envconfig:"PERCENTAGE_MAX"`

	TierShares       decimal.Decimal `envconfig:"TIER_SHARES"` // Shares included in the tiered flat fee
	TierFlatFee      decimal.Decimal `envconfig:"TIER_FLAT_FEE"`
	TierPerShareRate decimal.Decimal `envconfig:"TIER_PER_SHARE_RATE"`

	SecFeeRate decimal.Decimal `envconfig:"SEC_FEE_RATE"`
	TafRate    decimal.Decimal `envconfig:"FINRA_TAF_RATE"`
	TafCap     decimal.Decimal `envconfig:"FINRA_TAF_CAP"`
}

// DefaultConfig returns a commission-free broker with current US regulatory fees.
func DefaultConfig() Config {
	return Config{
		Model:            ModelZero,
		PerShareRate:     decimal.RequireFromString("0.005"),
		PerShareMin:      decimal.RequireFromString("1.00"),
		PerShareMax:      decimal.Zero,
		FlatFee:          decimal.RequireFromString("4.95"),
		PercentageRate:   decimal.RequireFromString("0.001"),
		PercentageMin:    decimal.RequireFromString("1.00"),
		PercentageMax:    decimal.Zero,
		TierShares:       decimal.NewFromInt(500),
		TierFlatFee:      decimal.RequireFromString("1.00"),
		TierPerShareRate: decimal.RequireFromString("0.003"),
		SecFeeRate:       decimal.RequireFromString("0.0000278"),
		TafRate:          decimal.RequireFromString("0.000166"),
		TafCap:           decimal.RequireFromString("8.30"),
	}
}

// Validate checks the schedule.
func (c Config) Validate() error {
	if _, err := ParseModel(string(c.Model)); err != nil {
		return err
	}
	for name, v := range map[string]decimal.Decimal{
		"per share rate": c.PerShareRate, "per share min": c.PerShareMin, "per share max": c.PerShareMax,
		"flat fee": c.FlatFee, "percentage rate": c.PercentageRate, "percentage min": c.PercentageMin,
		"percentage max": c.PercentageMax, "tier shares": c.TierShares, "tier flat fee": c.TierFlatFee,
		"tier per share rate": c.TierPerShareRate, "sec fee rate": c.SecFeeRate,
		"finra taf rate": c.TafRate, "finra taf cap": c.TafCap,
	} {
		if v.IsNegative() {
			return fmt.Errorf("commission %s must not be negative", name)
		}
	}
	return nil
}

// Calculator computes commissions for a fee schedule.
type Calculator struct {
	cfg Config
}

// NewCalculator creates a calculator.
func NewCalculator(cfg Config) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{cfg: cfg}, nil
}

// Model returns the configured default model.
func (c *Calculator) Model() Model {
	return c.cfg.Model
}

// Default computes fees with the configured default model.
func (c *Calculator) Default(tradeValue, quantity decimal.Decimal, side domain.OrderSide) (decimal.Decimal, domain.CommissionBreakdown, error) {
	return c.Compute(tradeValue, quantity, side, c.cfg.Model)
}

// Compute returns the total commission and its breakdown. Every component is
// rounded half-up to cents before summing, so the total equals the breakdown sum.
// SEC and FINRA TAF fees are charged on SELL orders only.
func (c *Calculator) Compute(tradeValue, quantity decimal.Decimal, side domain.OrderSide, model Model) (decimal.Decimal, domain.CommissionBreakdown, error) {
	if tradeValue.IsNegative() || quantity.IsNegative() {
		return decimal.Zero, nil, fmt.Errorf("%w: trade value and quantity must not be negative", ports.ErrInvalidRequest)
	}

	breakdown := make(domain.CommissionBreakdown, 0, 4)
	add := func(name string, amount decimal.Decimal) {
		breakdown = append(breakdown, domain.FeeComponent{Name: name, Amount: cents(amount)})
	}

	switch model {
	case ModelZero:
	case ModelPerShare:
		add(domain.FeePerShare, clamp(quantity.Mul(c.cfg.PerShareRate), c.cfg.PerShareMin, c.cfg.PerShareMax))
	case ModelFlat:
		add(domain.FeeFlat, c.cfg.FlatFee)
	case ModelPercentage:
		add(domain.FeePercentage, clamp(tradeValue.Mul(c.cfg.PercentageRate), c.cfg.PercentageMin, c.cfg.PercentageMax))
	case ModelTiered:
		add(domain.FeeFlat, c.cfg.TierFlatFee)
		if quantity.GreaterThan(c.cfg.TierShares) {
			add(domain.FeePerShare, quantity.Sub(c.cfg.TierShares).Mul(c.cfg.TierPerShareRate))
		}
	default:
		return decimal.Zero, nil, fmt.Errorf("%w: unknown commission model %q", ports.ErrInvalidRequest, model)
	}

	if side == domain.Sell {
		add(domain.FeeSEC, tradeValue.Mul(c.cfg.SecFeeRate))
		add(domain.FeeFINRATAF, decimal.Min(quantity.Mul(c.cfg.TafRate), c.cfg.TafCap))
	}

	return breakdown.Total(), breakdown, nil
}

// cents rounds half-up to two decimal places.
func cents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		v = lo
	}
	if hi.IsPositive() && v.GreaterThan(hi) {
		v = hi
	}
	return v
}
