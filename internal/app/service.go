package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"papertrader/internal/domain"
	"papertrader/internal/ports"
)

// OrderProcessor executes pending orders against a set of quotes.
// *execution.Dispatcher satisfies it.
type OrderProcessor interface {
	ProcessQuotes(ctx context.Context, quotes map[string]domain.Quote) (map[string]*domain.ExecutionResult, error)
}

// Config holds the polling settings of the service.
type Config struct {
	PollInterval time.Duration
	FeedTimeout  time.Duration
}

// Stats counts the work done since the service started.
type Stats struct {
	Cycles   int
	Executed int
	Failed   int
	Errors   int
}

// ExecutionService polls the price feed and executes the pending order book.
type ExecutionService struct {
	cfg       Config
	logger    ports.Logger
	feed      ports.PriceFeed
	orders    ports.OrderStore
	processor OrderProcessor

	mu    sync.Mutex // Protects stats
	stats Stats
}

// NewExecutionService creates a new application service instance.
func NewExecutionService(
	cfg Config,
	logger ports.Logger,
	feed ports.PriceFeed,
	orders ports.OrderStore,
	processor OrderProcessor,
) (*ExecutionService, error) {
	if logger == nil || feed == nil || orders == nil || processor == nil {
		return nil, fmt.Errorf("%w: missing required dependencies for ExecutionService", ports.ErrConfigurationError)
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("%w: poll interval must be positive", ports.ErrConfigurationError)
	}
	if cfg.FeedTimeout <= 0 {
		return nil, fmt.Errorf("%w: feed timeout must be positive", ports.ErrConfigurationError)
	}
	return &ExecutionService{
		cfg:       cfg,
		logger:    logger,
		feed:      feed,
		orders:    orders,
		processor: processor,
	}, nil
}

// Start runs the polling loop until the context is cancelled or the process
// receives SIGINT or SIGTERM.
func (s *ExecutionService) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting execution service...", ports.Fields{
		"pollInterval": s.cfg.PollInterval.String(),
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", ports.Fields{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	return s.Run(ctx)
}

// Run polls until the context is done. Cycle errors are logged and the loop continues.
func (s *ExecutionService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error(ctx, err, "Execution cycle failed")
		}
		select {
		case <-ctx.Done():
			st := s.Stats()
			s.logger.Info(context.Background(), "Execution service stopped.", ports.Fields{
				"cycles": st.Cycles, "executed": st.Executed, "failed": st.Failed, "errors": st.Errors,
			})
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce fetches quotes for every symbol with a pending order and executes the book once.
func (s *ExecutionService) RunOnce(ctx context.Context) (map[string]*domain.ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrContextCanceled, err)
	}

	pending, err := s.orders.PendingOrders(ctx)
	if err != nil {
		s.recordError()
		return nil, fmt.Errorf("load pending orders: %w", err)
	}
	symbols := pendingSymbols(pending)
	if len(symbols) == 0 {
		s.logger.Debug(ctx, "No pending orders")
		s.record(nil, nil)
		return nil, nil
	}

	feedCtx, cancel := context.WithTimeout(ctx, s.cfg.FeedTimeout)
	quotes, err := s.feed.Quotes(feedCtx, symbols)
	cancel()
	if err != nil {
		s.recordError()
		return nil, fmt.Errorf("fetch quotes: %w", err)
	}
	for _, sym := range symbols {
		if _, ok := quotes[sym]; !ok {
			s.logger.Warn(ctx, "No quote for symbol with pending orders", ports.Fields{"symbol": sym})
		}
	}

	results, err := s.processor.ProcessQuotes(ctx, quotes)
	s.record(results, err)
	if err != nil {
		return results, fmt.Errorf("process pending orders: %w", err)
	}
	return results, nil
}

// Stats returns a copy of the counters.
func (s *ExecutionService) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *ExecutionService) record(results map[string]*domain.ExecutionResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Cycles++
	for _, r := range results {
		if r.Success {
			s.stats.Executed++
		} else if strings.HasPrefix(r.Message, ports.ErrExecutionFailed.Error()) {
			s.stats.Failed++
		}
	}
	if err != nil {
		s.stats.Errors++
	}
}

func (s *ExecutionService) recordError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Cycles++
	s.stats.Errors++
}

func pendingSymbols(orders []*domain.Order) []string {
	seen := make(map[string]struct{})
	var symbols []string
	for _, o := range orders {
		if _, ok := seen[o.Symbol]; ok {
			continue
		}
		seen[o.Symbol] = struct{}{}
		symbols = append(symbols, o.Symbol)
	}
	sort.Strings(symbols)
	return symbols
}
