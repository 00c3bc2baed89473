package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPosition_Valuation(t *testing.T) {
	p := &Position{Quantity: qty("40"), AvgCost: qty("107.5"), CurrentPrice: qty("110")}

	assert.Equal(t, "4400.00", p.MarketValue().StringFixed(2))
	assert.Equal(t, "4300.00", p.CostBasis().StringFixed(2))
	assert.Equal(t, "100.00", p.UnrealizedPnL().StringFixed(2))

	c := p.Clone()
	c.Quantity = qty("1")
	assert.True(t, p.Quantity.Equal(qty("40")))

	var nilPos *Position
	assert.Nil(t, nilPos.Clone())
	var nilCash *CashLedger
	assert.Nil(t, nilCash.Clone())
}

func TestCommissionBreakdown(t *testing.T) {
	b := CommissionBreakdown{
		{Name: FeePerShare, Amount: qty("1.00")},
		{Name: FeeSEC, Amount: qty("0.03")},
		{Name: FeeFINRATAF, Amount: qty("0.02")},
	}

	assert.Equal(t, "1.05", b.Total().StringFixed(2))
	assert.True(t, b.Has(FeeSEC))
	assert.False(t, b.Has(FeeFlat))
	assert.True(t, b.Get(FeeFlat).IsZero())
	assert.Equal(t, map[string]string{"per_share": "1.00", "sec_fee": "0.03", "finra_taf": "0.02"}, b.Map())
}
