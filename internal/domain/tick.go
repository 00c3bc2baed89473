package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick is one recorded market observation used to replay prices through the engine.
type Tick struct {
	Time      time.Time
	Symbol    string
	Price     decimal.Decimal
	Condition MarketCondition
}

// Quote converts the tick into the snapshot an order executes against.
func (t Tick) Quote() Quote {
	return Quote{Price: t.Price, Condition: t.Condition, Time: t.Time}
}
