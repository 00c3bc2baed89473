package ports

import (
	"context"

	"papertrader/internal/domain"
)

// Ledger gives the execution engine read access to position and cash rows and
// a single atomic write for the post-fill state.
type Ledger interface {
	// Position returns the position of a symbol in a portfolio.
	// Returns nil, nil if the portfolio holds no position in the symbol.
	Position(ctx context.Context, portfolioID, symbol string) (*domain.Position, error)
	// Cash returns the cash row of a currency in a portfolio.
	// Returns nil, nil if the row does not exist yet.
	Cash(ctx context.Context, portfolioID, currency string) (*domain.CashLedger, error)
	// ApplyFill writes the order, cash and position rows of one execution.
	// Either every row is written or none is.
	ApplyFill(ctx context.Context, update *domain.LedgerUpdate) error
}

// PortfolioLocker serializes writes per portfolio.
type PortfolioLocker interface {
	// Lock blocks until the portfolio is free and returns the release function.
	Lock(portfolioID string) (unlock func())
}

// OrderStore persists orders between execution attempts.
type OrderStore interface {
	// SaveOrder inserts or updates an order.
	SaveOrder(ctx context.Context, order *domain.Order) error
	// FindOrder retrieves an order by ID. Returns nil, nil if not found.
	FindOrder(ctx context.Context, id string) (*domain.Order, error)
	// PendingOrders returns every order in PENDING status, oldest first.
	PendingOrders(ctx context.Context) ([]*domain.Order, error)
}

// FillHistory lists executed orders for reporting.
type FillHistory interface {
	// FilledOrders returns the EXECUTED and PARTIAL orders of a portfolio in
	// execution order. An empty portfolioID selects every portfolio.
	FilledOrders(ctx context.Context, portfolioID string) ([]*domain.Order, error)
}
