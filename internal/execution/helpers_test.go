package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"papertrader/internal/commission"
	"papertrader/internal/domain"
	"papertrader/internal/ledger"
	"papertrader/internal/ports"
	"papertrader/internal/risk"
	"papertrader/internal/simulation"
)

type mockLogger struct {
	mu        sync.Mutex
	debugMsgs []string
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debugMsgs = append(m.debugMsgs, msg)
}

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

// fixedRand always returns the same draw. 0.5 puts every noise factor at its midpoint.
type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

var testNow = time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)

type harness struct {
	engine *Engine
	book   *ledger.Book
	logger *mockLogger
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	rng       ports.Random
	liquidity simulation.LiquiditySimulator
	fees      commission.Config
	enforce   bool
	ledger    func(*ledger.Book) ports.Ledger
	orders    ports.OrderStore
}

func withLiquidity(l simulation.LiquiditySimulator) harnessOption {
	return func(c *harnessConfig) { c.liquidity = l }
}

func withFees(f commission.Config) harnessOption {
	return func(c *harnessConfig) { c.fees = f }
}

func withoutCashCheck() harnessOption {
	return func(c *harnessConfig) { c.enforce = false }
}

func withRandom(r ports.Random) harnessOption {
	return func(c *harnessConfig) { c.rng = r }
}

func withLedger(wrap func(*ledger.Book) ports.Ledger) harnessOption {
	return func(c *harnessConfig) { c.ledger = wrap }
}

func withOrderStore(orders ports.OrderStore) harnessOption {
	return func(c *harnessConfig) { c.orders = orders }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	hc := harnessConfig{
		rng:       fixedRand(0.5),
		liquidity: simulation.FullLiquidity{},
		fees:      commission.DefaultConfig(),
		enforce:   true,
	}
	for _, opt := range opts {
		opt(&hc)
	}

	spread, err := simulation.NewSpreadSimulator(simulation.DefaultSpreadConfig(), hc.rng)
	require.NoError(t, err)
	slippage, err := simulation.NewSlippageModel(simulation.DefaultSlippageConfig(), hc.rng)
	require.NoError(t, err)
	fees, err := commission.NewCalculator(hc.fees)
	require.NoError(t, err)

	var bookOpts []ledger.BookOption
	if hc.orders != nil {
		bookOpts = append(bookOpts, ledger.WithOrderStore(hc.orders))
	}
	book := ledger.NewBook(bookOpts...)
	var l ports.Ledger = book
	if hc.ledger != nil {
		l = hc.ledger(book)
	}
	logger := &mockLogger{}

	engine, err := NewEngine(DefaultConfig(), Dependencies{
		Spread:     spread,
		Slippage:   slippage,
		Liquidity:  hc.liquidity,
		Commission: fees,
		Guard:      risk.NewAffordabilityGuard(risk.AffordabilityConfig{EnforceCash: hc.enforce}),
		Ledger:     l,
		Logger:     logger,
		Clock:      func() time.Time { return testNow },
	})
	require.NoError(t, err)

	return &harness{engine: engine, book: book, logger: logger}
}

func (h *harness) cash(t *testing.T, portfolioID string) decimal.Decimal {
	t.Helper()
	c, err := h.book.Cash(context.Background(), portfolioID, "USD")
	require.NoError(t, err)
	if c == nil {
		return decimal.Zero
	}
	return c.Balance
}

func (h *harness) position(t *testing.T, portfolioID, symbol string) *domain.Position {
	t.Helper()
	p, err := h.book.Position(context.Background(), portfolioID, symbol)
	require.NoError(t, err)
	return p
}

func noRegulatoryFees() commission.Config {
	cfg := commission.DefaultConfig()
	cfg.SecFeeRate = decimal.Zero
	cfg.TafRate = decimal.Zero
	return cfg
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func quote(price string) domain.Quote {
	return domain.Quote{Price: d(price), Condition: domain.ConditionNormal, Time: testNow}
}

func marketOrder(portfolioID, symbol string, side domain.OrderSide, qty string) *domain.Order {
	return domain.NewOrder(portfolioID, symbol, side, domain.OrderTypeMarket, d(qty), "USD", testNow)
}

func limitOrder(portfolioID, symbol string, side domain.OrderSide, qty, limit string) *domain.Order {
	return domain.NewOrder(portfolioID, symbol, side, domain.OrderTypeLimit, d(qty), "USD", testNow).WithLimit(d(limit))
}

// failingLedger reads from the book but refuses every write.
type failingLedger struct {
	*ledger.Book
	err error
}

func (f failingLedger) ApplyFill(context.Context, *domain.LedgerUpdate) error {
	return f.err
}
