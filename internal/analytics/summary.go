// Package analytics summarizes the fills of a paper portfolio.
package analytics

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"papertrader/internal/domain"
)

// Summary holds trading metrics computed from filled orders.
type Summary struct {
	// Activity
	Fills       int
	Buys        int
	Sells       int
	BuyVolume   decimal.Decimal // Sum of buy TotalValue
	SellVolume  decimal.Decimal // Sum of sell TotalValue
	Commissions decimal.Decimal

	// Closing sells
	RealizedPnL          decimal.Decimal
	NetPnL               decimal.Decimal // RealizedPnL minus every commission paid
	WinningSells         int
	LosingSells          int
	WinRate              float64
	GrossProfit          decimal.Decimal
	GrossLoss            decimal.Decimal // Positive amount
	ProfitFactor         decimal.Decimal // Zero when there are no losses
	LargestWin           decimal.Decimal
	LargestLoss          decimal.Decimal // Negative or zero
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	MaxDrawdown          decimal.Decimal // Largest peak-to-trough drop of cumulative net P&L

	BySymbol map[string]*SymbolSummary
	PnLCurve []PnLPoint
}

// SymbolSummary holds the per-symbol totals.
type SymbolSummary struct {
	Fills       int
	BoughtQty   decimal.Decimal
	SoldQty     decimal.Decimal
	RealizedPnL decimal.Decimal
	Commissions decimal.Decimal
}

// PnLPoint is one point of the cumulative net P&L curve.
type PnLPoint struct {
	Time     time.Time
	OrderID  string
	NetPnL   decimal.Decimal
	Drawdown decimal.Decimal
}

// Summarize computes the metrics of the EXECUTED and PARTIAL orders in the list.
// Other orders are ignored. Fills are processed in execution-time order.
func Summarize(orders []*domain.Order) *Summary {
	s := &Summary{
		BuyVolume:   decimal.Zero,
		SellVolume:  decimal.Zero,
		Commissions: decimal.Zero,
		RealizedPnL: decimal.Zero,
		NetPnL:      decimal.Zero,
		GrossProfit: decimal.Zero,
		GrossLoss:   decimal.Zero,
		LargestWin:  decimal.Zero,
		LargestLoss: decimal.Zero,
		MaxDrawdown: decimal.Zero,
		BySymbol:    make(map[string]*SymbolSummary),
	}

	fills := make([]*domain.Order, 0, len(orders))
	for _, o := range orders {
		if o == nil || (o.Status != domain.StatusExecuted && o.Status != domain.StatusPartial) {
			continue
		}
		if !o.ExecutedQuantity.IsPositive() {
			continue
		}
		fills = append(fills, o)
	}
	sort.SliceStable(fills, func(i, j int) bool {
		return fillTime(fills[i]).Before(fillTime(fills[j]))
	})

	peak := decimal.Zero
	var consecutiveWins, consecutiveLosses int
	for _, o := range fills {
		s.Fills++
		sym := s.BySymbol[o.Symbol]
		if sym == nil {
			sym = &SymbolSummary{BoughtQty: decimal.Zero, SoldQty: decimal.Zero, RealizedPnL: decimal.Zero, Commissions: decimal.Zero}
			s.BySymbol[o.Symbol] = sym
		}
		sym.Fills++
		sym.Commissions = sym.Commissions.Add(o.Commission)
		s.Commissions = s.Commissions.Add(o.Commission)
		s.NetPnL = s.NetPnL.Sub(o.Commission)

		if o.Side == domain.Buy {
			s.Buys++
			s.BuyVolume = s.BuyVolume.Add(o.TotalValue)
			sym.BoughtQty = sym.BoughtQty.Add(o.ExecutedQuantity)
		} else {
			s.Sells++
			s.SellVolume = s.SellVolume.Add(o.TotalValue)
			sym.SoldQty = sym.SoldQty.Add(o.ExecutedQuantity)
		}

		if o.RealizedPnL != nil {
			pnl := *o.RealizedPnL
			s.RealizedPnL = s.RealizedPnL.Add(pnl)
			s.NetPnL = s.NetPnL.Add(pnl)
			sym.RealizedPnL = sym.RealizedPnL.Add(pnl)

			switch {
			case pnl.IsPositive():
				s.WinningSells++
				s.GrossProfit = s.GrossProfit.Add(pnl)
				s.LargestWin = decimal.Max(s.LargestWin, pnl)
				consecutiveWins++
				consecutiveLosses = 0
			case pnl.IsNegative():
				s.LosingSells++
				s.GrossLoss = s.GrossLoss.Sub(pnl)
				s.LargestLoss = decimal.Min(s.LargestLoss, pnl)
				consecutiveLosses++
				consecutiveWins = 0
			}
			if consecutiveWins > s.MaxConsecutiveWins {
				s.MaxConsecutiveWins = consecutiveWins
			}
			if consecutiveLosses > s.MaxConsecutiveLosses {
				s.MaxConsecutiveLosses = consecutiveLosses
			}
		}

		// Drawdown tracking on the cumulative net curve
		peak = decimal.Max(peak, s.NetPnL)
		drawdown := peak.Sub(s.NetPnL)
		s.MaxDrawdown = decimal.Max(s.MaxDrawdown, drawdown)
		s.PnLCurve = append(s.PnLCurve, PnLPoint{
			Time:     fillTime(o),
			OrderID:  o.ID,
			NetPnL:   s.NetPnL,
			Drawdown: drawdown,
		})
	}

	if decided := s.WinningSells + s.LosingSells; decided > 0 {
		s.WinRate = float64(s.WinningSells) / float64(decided)
	}
	if s.GrossLoss.IsPositive() {
		s.ProfitFactor = s.GrossProfit.Div(s.GrossLoss).Round(4)
	} else {
		s.ProfitFactor = decimal.Zero
	}
	return s
}

// Symbols returns the traded symbols in alphabetical order.
func (s *Summary) Symbols() []string {
	out := make([]string, 0, len(s.BySymbol))
	for sym := range s.BySymbol {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func fillTime(o *domain.Order) time.Time {
	if o.ExecutedAt != nil {
		return *o.ExecutedAt
	}
	return o.SubmittedAt
}
