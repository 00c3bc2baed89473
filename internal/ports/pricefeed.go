package ports

import (
	"context"

	"papertrader/internal/domain"
)

// PriceFeed supplies the reference price and market condition for a symbol.
// The execution engine never calls it; hosts fetch quotes and pass them in.
type PriceFeed interface {
	Quote(ctx context.Context, symbol string) (domain.Quote, error)
	// Quotes fetches several symbols at once. Unknown symbols are left out of the map.
	Quotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error)
}

// Random is the randomness source used by the market simulation.
// *math/rand.Rand satisfies it.
type Random interface {
	// Float64 returns a pseudo-random number in [0.0, 1.0).
	Float64() float64
}
