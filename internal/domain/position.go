package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position represents a long holding of one symbol inside a portfolio.
type Position struct {
	PortfolioID  string
	Symbol       string
	Quantity     decimal.Decimal // Always >= 0; the row is removed at exactly zero
	AvgCost      decimal.Decimal // Quantity-weighted average purchase price
	CurrentPrice decimal.Decimal // Last known price, used for valuation
	Currency     string
	OpenedAt     time.Time
	UpdatedAt    time.Time
}

// MarketValue is Quantity x CurrentPrice.
func (p *Position) MarketValue() decimal.Decimal {
	return p.Quantity.Mul(p.CurrentPrice)
}

// CostBasis is Quantity x AvgCost.
func (p *Position) CostBasis() decimal.Decimal {
	return p.Quantity.Mul(p.AvgCost)
}

// UnrealizedPnL is the mark-to-market gain of the open quantity.
func (p *Position) UnrealizedPnL() decimal.Decimal {
	return p.MarketValue().Sub(p.CostBasis())
}

// Clone returns a copy that can be mutated without touching the original row.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// CashLedger is the balance of one currency inside a portfolio.
type CashLedger struct {
	PortfolioID string
	Currency    string
	Balance     decimal.Decimal
	UpdatedAt   time.Time
}

// Clone returns a copy of the ledger row.
func (c *CashLedger) Clone() *CashLedger {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
