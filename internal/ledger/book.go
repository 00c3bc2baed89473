// Package ledger keeps position and cash rows in memory for simulations,
// replays and tests.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"papertrader/internal/domain"
	"papertrader/internal/ports"
)

// Book is an in-memory PositionLedger and CashLedger.
// Reads return copies; ApplyFill swaps the touched rows under one lock.
type Book struct {
	mu        sync.RWMutex
	positions map[string]map[string]*domain.Position   // portfolio -> symbol
	cash      map[string]map[string]*domain.CashLedger // portfolio -> currency

	writers KeyedLocker
	orders  ports.OrderStore // Optional, see WithOrderStore
}

// BookOption customizes NewBook.
type BookOption func(*Book)

// WithOrderStore makes ApplyFill save the filled order before it swaps the
// ledger rows. A failed save leaves the rows untouched, so a fill is never
// booked while its order is still stored as PENDING.
func WithOrderStore(orders ports.OrderStore) BookOption {
	return func(b *Book) { b.orders = orders }
}

// NewBook creates an empty book.
func NewBook(opts ...BookOption) *Book {
	b := &Book{
		positions: make(map[string]map[string]*domain.Position),
		cash:      make(map[string]map[string]*domain.CashLedger),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Lock serializes writers of one portfolio.
func (b *Book) Lock(portfolioID string) func() {
	return b.writers.Lock(portfolioID)
}

// Position returns a copy of the position, or nil if none is held.
func (b *Book) Position(_ context.Context, portfolioID, symbol string) (*domain.Position, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.positions[portfolioID][symbol].Clone(), nil
}

// Cash returns a copy of the cash row, or nil if it does not exist yet.
func (b *Book) Cash(_ context.Context, portfolioID, currency string) (*domain.CashLedger, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cash[portfolioID][currency].Clone(), nil
}

// ApplyFill writes the cash and position rows of one execution, and the
// order row when the book has an order store.
func (b *Book) ApplyFill(ctx context.Context, update *domain.LedgerUpdate) error {
	if err := validateUpdate(update); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ports.ErrContextCanceled, err)
	}
	if b.orders != nil && update.Order != nil {
		if err := b.orders.SaveOrder(ctx, update.Order); err != nil {
			return fmt.Errorf("%w: save order %s: %w", ports.ErrUpdateFailed, update.Order.ID, err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cash := update.Cash.Clone()
	b.cashRows(cash.PortfolioID)[cash.Currency] = cash

	rows := b.positionRows(cash.PortfolioID)
	if update.DeletePosition {
		delete(rows, update.Symbol)
	} else {
		rows[update.Symbol] = update.Position.Clone()
	}
	return nil
}

// Deposit credits (or, with a negative amount, debits) cash and returns the new balance.
func (b *Book) Deposit(portfolioID, currency string, amount decimal.Decimal) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()

	rows := b.cashRows(portfolioID)
	row, ok := rows[currency]
	if !ok {
		row = &domain.CashLedger{PortfolioID: portfolioID, Currency: currency}
		rows[currency] = row
	}
	row.Balance = row.Balance.Add(amount)
	row.UpdatedAt = time.Now()
	return row.Balance
}

// Positions returns copies of every position of a portfolio, sorted by symbol.
func (b *Book) Positions(portfolioID string) []*domain.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*domain.Position, 0, len(b.positions[portfolioID]))
	for _, p := range b.positions[portfolioID] {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Balances returns copies of every cash row of a portfolio, sorted by currency.
func (b *Book) Balances(portfolioID string) []*domain.CashLedger {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*domain.CashLedger, 0, len(b.cash[portfolioID]))
	for _, c := range b.cash[portfolioID] {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out
}

// MarkToMarket updates the current price of every position in the given symbols.
func (b *Book) MarkToMarket(prices map[string]decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, rows := range b.positions {
		for symbol, p := range rows {
			if price, ok := prices[symbol]; ok {
				p.CurrentPrice = price
			}
		}
	}
}

// Equity returns cash plus market value of a portfolio in one currency.
func (b *Book) Equity(portfolioID, currency string) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := decimal.Zero
	if c, ok := b.cash[portfolioID][currency]; ok {
		total = total.Add(c.Balance)
	}
	for _, p := range b.positions[portfolioID] {
		if p.Currency == currency {
			total = total.Add(p.MarketValue())
		}
	}
	return total
}

func (b *Book) cashRows(portfolioID string) map[string]*domain.CashLedger {
	rows, ok := b.cash[portfolioID]
	if !ok {
		rows = make(map[string]*domain.CashLedger)
		b.cash[portfolioID] = rows
	}
	return rows
}

func (b *Book) positionRows(portfolioID string) map[string]*domain.Position {
	rows, ok := b.positions[portfolioID]
	if !ok {
		rows = make(map[string]*domain.Position)
		b.positions[portfolioID] = rows
	}
	return rows
}

func validateUpdate(u *domain.LedgerUpdate) error {
	switch {
	case u == nil:
		return fmt.Errorf("%w: nil ledger update", ports.ErrInvalidRequest)
	case u.Cash == nil:
		return fmt.Errorf("%w: ledger update without cash row", ports.ErrInvalidRequest)
	case u.Symbol == "":
		return fmt.Errorf("%w: ledger update without symbol", ports.ErrInvalidRequest)
	case !u.DeletePosition && u.Position == nil:
		return fmt.Errorf("%w: ledger update without position row", ports.ErrInvalidRequest)
	case !u.DeletePosition && u.Position.Quantity.IsNegative():
		return fmt.Errorf("%w: negative position quantity %s", ports.ErrContractViolation, u.Position.Quantity)
	}
	return nil
}

// Snapshot is a point-in-time copy of one portfolio.
type Snapshot struct {
	PortfolioID string
	Positions   []*domain.Position
	Balances    []*domain.CashLedger
}

// Snapshot copies every row of a portfolio.
func (b *Book) Snapshot(portfolioID string) Snapshot {
	return Snapshot{
		PortfolioID: portfolioID,
		Positions:   b.Positions(portfolioID),
		Balances:    b.Balances(portfolioID),
	}
}
