// Package replay drives recorded ticks through the execution stack and
// summarizes the resulting fills.
package replay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"papertrader/internal/analytics"
	"papertrader/internal/domain"
	"papertrader/internal/ports"
)

// Processor executes pending orders against a set of quotes.
type Processor interface {
	ProcessQuotes(ctx context.Context, quotes map[string]domain.Quote) (map[string]*domain.ExecutionResult, error)
}

// Marker revalues open positions. *ledger.Book satisfies it.
type Marker interface {
	MarkToMarket(prices map[string]decimal.Decimal)
}

// Clock is a settable time source. Hand Clock.Now to the engine so fills are
// stamped with the tick time instead of wall time.
type Clock struct {
	mu  sync.RWMutex
	now time.Time
}

// Now returns the current replay time.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Set moves the clock.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Config holds the optional collaborators of a run.
type Config struct {
	PortfolioID string // Summary scope; empty summarizes every portfolio
	Clock       *Clock // Set to each batch time before it executes
	Marker      Marker // Marked with each batch's prices after it executes
	StopOnError bool   // Abort on the first batch that returns an error
	Logger      ports.Logger
}

// Step is the outcome of one batch of ticks sharing a timestamp.
type Step struct {
	Time    time.Time
	Quotes  map[string]domain.Quote
	Results map[string]*domain.ExecutionResult
	Err     error
}

// Report is the outcome of a whole run.
type Report struct {
	Ticks    int
	Steps    []Step
	Executed int
	Errors   []error
	Summary  *analytics.Summary
}

// Run replays ticks in time order. Ticks with the same timestamp execute as one
// batch; within a batch the last tick of a symbol wins. Batch errors are
// collected and returned joined unless cfg.StopOnError ends the run early.
func Run(ctx context.Context, proc Processor, fills ports.FillHistory, ticks []domain.Tick, cfg Config) (*Report, error) {
	if proc == nil || fills == nil {
		return nil, fmt.Errorf("%w: replay needs a processor and a fill history", ports.ErrConfigurationError)
	}

	sorted := make([]domain.Tick, len(ticks))
	copy(sorted, ticks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	report := &Report{Ticks: len(sorted)}
	for start := 0; start < len(sorted); {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("%w: %w", ports.ErrContextCanceled, err)
		}

		end := start + 1
		for end < len(sorted) && sorted[end].Time.Equal(sorted[start].Time) {
			end++
		}
		step := runBatch(ctx, proc, sorted[start:end], cfg)
		report.Steps = append(report.Steps, step)
		for _, r := range step.Results {
			if r.Success {
				report.Executed++
			}
		}
		if step.Err != nil {
			report.Errors = append(report.Errors, step.Err)
			if cfg.StopOnError {
				break
			}
		}
		start = end
	}

	filled, err := fills.FilledOrders(ctx, cfg.PortfolioID)
	if err != nil {
		return report, fmt.Errorf("load filled orders: %w", err)
	}
	report.Summary = analytics.Summarize(filled)

	if cfg.Logger != nil {
		cfg.Logger.Info(ctx, "Replay finished", ports.Fields{
			"ticks":       report.Ticks,
			"steps":       len(report.Steps),
			"executed":    report.Executed,
			"errors":      len(report.Errors),
			"realizedPnL": report.Summary.RealizedPnL.String(),
		})
	}
	return report, errors.Join(report.Errors...)
}

func runBatch(ctx context.Context, proc Processor, batch []domain.Tick, cfg Config) Step {
	at := batch[0].Time
	quotes := make(map[string]domain.Quote, len(batch))
	prices := make(map[string]decimal.Decimal, len(batch))
	for _, t := range batch {
		quotes[t.Symbol] = t.Quote()
		prices[t.Symbol] = t.Price
	}

	if cfg.Clock != nil {
		cfg.Clock.Set(at)
	}
	results, err := proc.ProcessQuotes(ctx, quotes)
	if err != nil {
		err = fmt.Errorf("batch at %s: %w", at.Format(time.RFC3339), err)
	}
	if cfg.Marker != nil {
		cfg.Marker.MarkToMarket(prices)
	}
	return Step{Time: at, Quotes: quotes, Results: results, Err: err}
}
