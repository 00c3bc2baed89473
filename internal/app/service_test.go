package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/config"
	"papertrader/internal/domain"
	"papertrader/internal/ledger"
	"papertrader/internal/ports"
)

// Mock implementations
type mockLogger struct {
	mu        sync.Mutex
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

type mockFeed struct {
	mu      sync.Mutex
	quotes  map[string]domain.Quote
	err     error
	calls   int
	symbols []string
}

func (m *mockFeed) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	q, ok := m.quotes[symbol]
	if !ok {
		return domain.Quote{}, ports.ErrNoPrice
	}
	return q, m.err
}

func (m *mockFeed) Quotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.symbols = append([]string(nil), symbols...)
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]domain.Quote)
	for _, s := range symbols {
		if q, ok := m.quotes[s]; ok {
			out[s] = q
		}
	}
	return out, nil
}

type mockProcessor struct {
	results map[string]*domain.ExecutionResult
	err     error
	seen    map[string]domain.Quote
}

func (m *mockProcessor) ProcessQuotes(ctx context.Context, quotes map[string]domain.Quote) (map[string]*domain.ExecutionResult, error) {
	m.seen = quotes
	return m.results, m.err
}

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

var testCfg = Config{PollInterval: 10 * time.Millisecond, FeedTimeout: time.Second}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func pendingOrder(t *testing.T, orders *ledger.Orders, pid, symbol string) *domain.Order {
	t.Helper()
	o := domain.NewOrder(pid, symbol, domain.Buy, domain.OrderTypeMarket, d("10"), "USD", time.Now())
	require.NoError(t, orders.SaveOrder(context.Background(), o))
	return o
}

func TestNewExecutionService_Validation(t *testing.T) {
	logger := &mockLogger{}
	feed := &mockFeed{}
	orders := ledger.NewOrders()
	proc := &mockProcessor{}

	_, err := NewExecutionService(testCfg, nil, feed, orders, proc)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, err = NewExecutionService(Config{FeedTimeout: time.Second}, logger, feed, orders, proc)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, err = NewExecutionService(Config{PollInterval: time.Second}, logger, feed, orders, proc)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	svc, err := NewExecutionService(testCfg, logger, feed, orders, proc)
	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestRunOnce_NoPendingOrdersSkipsFeed(t *testing.T) {
	feed := &mockFeed{}
	svc, err := NewExecutionService(testCfg, &mockLogger{}, feed, ledger.NewOrders(), &mockProcessor{})
	require.NoError(t, err)

	results, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Nil(t, results)
	assert.Zero(t, feed.calls)
	assert.Equal(t, 1, svc.Stats().Cycles)
}

func TestRunOnce_FetchesQuotesForPendingSymbols(t *testing.T) {
	orders := ledger.NewOrders()
	pendingOrder(t, orders, "p1", "MSFT")
	pendingOrder(t, orders, "p2", "AAPL")
	pendingOrder(t, orders, "p1", "AAPL")
	pendingOrder(t, orders, "p1", "GONE")

	feed := &mockFeed{quotes: map[string]domain.Quote{
		"AAPL": {Price: d("100"), Condition: domain.ConditionNormal},
		"MSFT": {Price: d("400"), Condition: domain.ConditionVolatile},
	}}
	proc := &mockProcessor{results: map[string]*domain.ExecutionResult{
		"a": {Success: true},
		"b": {Message: ports.ErrExecutionFailed.Error() + ": insufficient funds"},
		"c": {Message: ports.ErrNotTriggered.Error()},
	}}
	logger := &mockLogger{}
	svc, err := NewExecutionService(testCfg, logger, feed, orders, proc)
	require.NoError(t, err)

	results, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, results, 3)

	assert.Equal(t, []string{"AAPL", "GONE", "MSFT"}, feed.symbols)
	assert.Len(t, proc.seen, 2)
	assert.Equal(t, domain.ConditionVolatile, proc.seen["MSFT"].Condition)
	assert.Contains(t, logger.warnMsgs, "No quote for symbol with pending orders")

	st := svc.Stats()
	assert.Equal(t, Stats{Cycles: 1, Executed: 1, Failed: 1}, st)
}

func TestRunOnce_FeedError(t *testing.T) {
	orders := ledger.NewOrders()
	pendingOrder(t, orders, "p1", "AAPL")
	feed := &mockFeed{err: ports.ErrFeedUnavailable}
	proc := &mockProcessor{}
	svc, err := NewExecutionService(testCfg, &mockLogger{}, feed, orders, proc)
	require.NoError(t, err)

	_, err = svc.RunOnce(context.Background())
	assert.ErrorIs(t, err, ports.ErrFeedUnavailable)
	assert.Nil(t, proc.seen)
	assert.Equal(t, 1, svc.Stats().Errors)
}

func TestRunOnce_ProcessorErrorKeepsResults(t *testing.T) {
	orders := ledger.NewOrders()
	pendingOrder(t, orders, "p1", "AAPL")
	feed := &mockFeed{quotes: map[string]domain.Quote{"AAPL": {Price: d("100")}}}
	violation := errors.Join(ports.ErrContractViolation)
	proc := &mockProcessor{
		results: map[string]*domain.ExecutionResult{"a": {Success: true}},
		err:     violation,
	}
	svc, err := NewExecutionService(testCfg, &mockLogger{}, feed, orders, proc)
	require.NoError(t, err)

	results, err := svc.RunOnce(context.Background())
	assert.ErrorIs(t, err, ports.ErrContractViolation)
	assert.Len(t, results, 1)
	assert.Equal(t, Stats{Cycles: 1, Executed: 1, Errors: 1}, svc.Stats())
}

func TestRunOnce_CanceledContext(t *testing.T) {
	svc, err := NewExecutionService(testCfg, &mockLogger{}, &mockFeed{}, ledger.NewOrders(), &mockProcessor{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.RunOnce(ctx)
	assert.ErrorIs(t, err, ports.ErrContextCanceled)
}

func TestRun_StopsOnCancel(t *testing.T) {
	orders := ledger.NewOrders()
	pendingOrder(t, orders, "p1", "AAPL")
	feed := &mockFeed{err: ports.ErrFeedUnavailable}
	logger := &mockLogger{}
	svc, err := NewExecutionService(testCfg, logger, feed, orders, &mockProcessor{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Millisecond)
	defer cancel()
	require.NoError(t, svc.Run(ctx))

	st := svc.Stats()
	assert.GreaterOrEqual(t, st.Cycles, 2)
	assert.Equal(t, st.Cycles, st.Errors)
	logger.mu.Lock()
	defer logger.mu.Unlock()
	assert.Contains(t, logger.errorMsgs, "Execution cycle failed")
	assert.Contains(t, logger.infoMsgs, "Execution service stopped.")
}

func TestExecutionService_EndToEndWithStack(t *testing.T) {
	orders := ledger.NewOrders()
	book := ledger.NewBook(ledger.WithOrderStore(orders))
	logger := &mockLogger{}
	book.Deposit("p1", "USD", d("10000"))

	stack, err := NewStack(config.Default(), Stores{Ledger: book, Orders: orders, Locker: book}, logger,
		WithRandom(fixedRand(0.5)))
	require.NoError(t, err)

	order := pendingOrder(t, orders, "p1", "AAPL")
	feed := &mockFeed{quotes: map[string]domain.Quote{"AAPL": {Price: d("100"), Condition: domain.ConditionNormal}}}
	svc, err := NewExecutionService(testCfg, logger, feed, orders, stack.Dispatcher)
	require.NoError(t, err)

	results, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	require.Contains(t, results, order.ID)
	res := results[order.ID]
	assert.True(t, res.Success)
	assert.Equal(t, "100.09", res.ExecutedPrice.StringFixed(2))

	cash, err := book.Cash(context.Background(), "p1", "USD")
	require.NoError(t, err)
	assert.Equal(t, "8999.10", cash.Balance.StringFixed(2))

	stored, err := orders.FindOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExecuted, stored.Status)

	// A second cycle finds nothing to do.
	results, err = svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestNewStack_Validation(t *testing.T) {
	_, err := NewStack(nil, Stores{}, &mockLogger{})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	cfg := config.Default()
	cfg.Liquidity.SmallOrderMax = decimal.Zero
	_, err = NewStack(cfg, Stores{Ledger: ledger.NewBook(), Orders: ledger.NewOrders()}, &mockLogger{})
	assert.Error(t, err)
}

func TestNewStack_SeededFillsDoNotDependOnOtherPortfolios(t *testing.T) {
	base := time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)
	run := func(portfolios ...string) map[string][]string {
		cfg := config.Default()
		cfg.Seed = 11
		cfg.Execution.Workers = 4
		orders := ledger.NewOrders()
		book := ledger.NewBook(ledger.WithOrderStore(orders))
		stack, err := NewStack(cfg, Stores{Ledger: book, Orders: orders, Locker: book}, &mockLogger{})
		require.NoError(t, err)

		submitted := make(map[string][]*domain.Order)
		for _, pid := range portfolios {
			book.Deposit(pid, "USD", d("1000000"))
			for i, qty := range []string{"10", "400", "2500"} {
				o := domain.NewOrder(pid, "AAPL", domain.Buy, domain.OrderTypeMarket, d(qty), "USD", base.Add(time.Duration(i)*time.Second))
				require.NoError(t, stack.Dispatcher.Submit(context.Background(), o))
				submitted[pid] = append(submitted[pid], o)
			}
		}

		results, err := stack.Dispatcher.ProcessPending(context.Background(),
			map[string]decimal.Decimal{"AAPL": d("145.37")}, domain.ConditionVolatile)
		require.NoError(t, err)

		prices := make(map[string][]string)
		for pid, list := range submitted {
			for _, o := range list {
				res := results[o.ID]
				require.NotNil(t, res)
				require.True(t, res.Success, res.Message)
				prices[pid] = append(prices[pid], res.ExecutedPrice.String())
			}
		}
		return prices
	}

	all := run("p1", "p2", "p3", "p4")
	assert.Equal(t, all, run("p1", "p2", "p3", "p4"))
	assert.Equal(t, all["p2"], run("p2")["p2"])
	assert.Equal(t, all["p4"], run("p4", "p3")["p4"])
}
