package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the market snapshot an order executes against.
type Quote struct {
	Price     decimal.Decimal
	Condition MarketCondition
	Time      time.Time
}

// FeeComponent is one named line of a commission breakdown.
type FeeComponent struct {
	Name   string
	Amount decimal.Decimal
}

// Fee component names.
const (
	FeePerShare   = "per_share"
	FeeFlat       = "flat_fee"
	FeePercentage = "percentage"
	FeeSEC        = "sec_fee"
	FeeFINRATAF   = "finra_taf"
)

// CommissionBreakdown is an ordered list of fee components whose sum is the commission.
type CommissionBreakdown []FeeComponent

// Get returns the amount of the named component, zero when absent.
func (b CommissionBreakdown) Get(name string) decimal.Decimal {
	for _, c := range b {
		if c.Name == name {
			return c.Amount
		}
	}
	return decimal.Zero
}

// Has reports whether the named component is present.
func (b CommissionBreakdown) Has(name string) bool {
	for _, c := range b {
		if c.Name == name {
			return true
		}
	}
	return false
}

// Total sums all components.
func (b CommissionBreakdown) Total() decimal.Decimal {
	total := decimal.Zero
	for _, c := range b {
		total = total.Add(c.Amount)
	}
	return total
}

// Map flattens the breakdown for logging.
func (b CommissionBreakdown) Map() map[string]string {
	m := make(map[string]string, len(b))
	for _, c := range b {
		m[c.Name] = c.Amount.StringFixed(2)
	}
	return m
}

// ExecutionResult describes the outcome of one execution attempt.
type ExecutionResult struct {
	OrderID             string
	Success             bool
	Triggered           bool // False when a limit/stop condition was not met
	ExecutedPrice       decimal.Decimal
	ExecutedQuantity    decimal.Decimal
	TotalValue          decimal.Decimal
	Commission          decimal.Decimal
	CommissionBreakdown CommissionBreakdown
	SlippagePct         decimal.Decimal
	BidPrice            decimal.Decimal
	AskPrice            decimal.Decimal
	SpreadPct           decimal.Decimal
	IsPartialFill       bool
	RemainingQuantity   decimal.Decimal
	RealizedPnL         *decimal.Decimal
	Message             string
}

// LedgerUpdate is the complete post-fill state of the rows touched by one execution.
// It is applied as a single unit.
type LedgerUpdate struct {
	Order          *Order      // Post-fill order snapshot
	Cash           *CashLedger // New cash row state
	Position       *Position   // New position row state; nil when DeletePosition is set
	DeletePosition bool
	Symbol         string
}
