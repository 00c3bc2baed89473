package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"papertrader/internal/domain"
	"papertrader/internal/ledger"
	"papertrader/internal/ports"
)

// EngineFactory builds the engine that executes the orders of one portfolio.
type EngineFactory func(portfolioID string) (*Engine, error)

// DispatcherOption customizes NewDispatcher.
type DispatcherOption func(*Dispatcher)

// WithEngineFactory gives every portfolio its own engine, built on first use.
// Engines that draw from per-portfolio generators keep seeded runs
// reproducible while portfolios execute in parallel.
func WithEngineFactory(factory EngineFactory) DispatcherOption {
	return func(d *Dispatcher) { d.factory = factory }
}

// Dispatcher routes orders to the engine by type and drives the pending book.
type Dispatcher struct {
	engine  *Engine
	orders  ports.OrderStore
	locker  ports.PortfolioLocker
	logger  ports.Logger
	workers int

	factory EngineFactory
	mu      sync.Mutex
	engines map[string]*Engine
}

// NewDispatcher creates a new dispatcher. A nil locker falls back to an in-process keyed mutex.
func NewDispatcher(engine *Engine, orders ports.OrderStore, locker ports.PortfolioLocker, logger ports.Logger, workers int, opts ...DispatcherOption) (*Dispatcher, error) {
	if engine == nil || orders == nil || logger == nil {
		return nil, fmt.Errorf("%w: missing required dependencies for dispatcher", ports.ErrConfigurationError)
	}
	if locker == nil {
		locker = &ledger.KeyedLocker{}
	}
	if workers < 1 {
		workers = 1
	}
	d := &Dispatcher{
		engine:  engine,
		orders:  orders,
		locker:  locker,
		logger:  logger,
		workers: workers,
		engines: make(map[string]*Engine),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// engineFor returns the engine of a portfolio. Without a factory every portfolio shares one engine.
func (d *Dispatcher) engineFor(portfolioID string) (*Engine, error) {
	if d.factory == nil {
		return d.engine, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.engines[portfolioID]; ok {
		return e, nil
	}
	e, err := d.factory(portfolioID)
	if err != nil {
		return nil, fmt.Errorf("build engine for portfolio %s: %w", portfolioID, err)
	}
	d.engines[portfolioID] = e
	return e, nil
}

// Execute runs one order against a quote. Only PENDING orders execute; anything
// else gets a failed result and is left untouched. The caller holds the portfolio lock.
func (d *Dispatcher) Execute(ctx context.Context, order *domain.Order, quote domain.Quote) (*domain.ExecutionResult, error) {
	if order == nil {
		return nil, fmt.Errorf("%w: nil order", ports.ErrInvalidRequest)
	}
	if !order.IsPending() {
		return &domain.ExecutionResult{
			OrderID: order.ID,
			Message: fmt.Sprintf("%s: status %s", domain.ErrOrderNotPending, order.Status),
		}, nil
	}
	if !quote.Price.IsPositive() {
		return &domain.ExecutionResult{
			OrderID: order.ID,
			Message: fmt.Sprintf("%s: %s", ports.ErrNoPrice, order.Symbol),
		}, nil
	}
	if err := order.Validate(); err != nil {
		_ = order.Fail(err.Error())
		d.logger.Warn(ctx, "Rejected invalid order", ports.Fields{"orderID": order.ID, "reason": err.Error()})
		return &domain.ExecutionResult{OrderID: order.ID, Message: order.Message}, nil
	}

	engine, err := d.engineFor(order.PortfolioID)
	if err != nil {
		return nil, err
	}

	switch order.Type {
	case domain.OrderTypeMarket:
		return engine.ExecuteMarket(ctx, order, quote)
	case domain.OrderTypeLimit:
		return engine.ExecuteLimit(ctx, order, quote)
	case domain.OrderTypeStop:
		return engine.ExecuteStop(ctx, order, quote)
	case domain.OrderTypeStopLimit:
		return engine.ExecuteStopLimit(ctx, order, quote)
	default:
		// Validate already rejects unknown types.
		return nil, fmt.Errorf("%w: unknown order type %q", ports.ErrInvalidRequest, order.Type)
	}
}

// ProcessPending executes every PENDING order whose symbol has a price, all under one market condition.
func (d *Dispatcher) ProcessPending(ctx context.Context, prices map[string]decimal.Decimal, cond domain.MarketCondition) (map[string]*domain.ExecutionResult, error) {
	now := time.Now()
	quotes := make(map[string]domain.Quote, len(prices))
	for symbol, price := range prices {
		quotes[symbol] = domain.Quote{Price: price, Condition: cond, Time: now}
	}
	return d.ProcessQuotes(ctx, quotes)
}

// ProcessQuotes executes every PENDING order whose symbol has a quote.
// Portfolios run in parallel; orders of one portfolio run in submission order.
// Results are keyed by order ID. Contract violations and store failures are
// joined into the returned error while the remaining orders still run.
func (d *Dispatcher) ProcessQuotes(ctx context.Context, quotes map[string]domain.Quote) (map[string]*domain.ExecutionResult, error) {
	pending, err := d.orders.PendingOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pending orders: %w", err)
	}

	groups := make(map[string][]*domain.Order)
	var portfolios []string
	for _, o := range pending {
		if _, ok := quotes[o.Symbol]; !ok {
			continue
		}
		if _, seen := groups[o.PortfolioID]; !seen {
			portfolios = append(portfolios, o.PortfolioID)
		}
		groups[o.PortfolioID] = append(groups[o.PortfolioID], o)
	}

	var (
		mu      sync.Mutex
		results = make(map[string]*domain.ExecutionResult)
		errs    []error
	)
	record := func(id string, res *domain.ExecutionResult, err error) {
		mu.Lock()
		defer mu.Unlock()
		if res != nil {
			results[id] = res
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	var g errgroup.Group
	g.SetLimit(d.workers)
	for _, pid := range portfolios {
		batch := groups[pid]
		g.Go(func() error {
			for _, order := range batch {
				if err := ctx.Err(); err != nil {
					record(order.ID, nil, fmt.Errorf("%w: %w", ports.ErrContextCanceled, err))
					return nil
				}
				res, err := d.executeLocked(ctx, order, quotes[order.Symbol])
				record(order.ID, res, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	executed := 0
	for _, r := range results {
		if r.Success {
			executed++
		}
	}
	d.logger.Info(ctx, "Processed pending orders", ports.Fields{
		"pending":    len(pending),
		"portfolios": len(portfolios),
		"executed":   executed,
		"errors":     len(errs),
	})

	return results, errors.Join(errs...)
}

func (d *Dispatcher) executeLocked(ctx context.Context, order *domain.Order, quote domain.Quote) (*domain.ExecutionResult, error) {
	unlock := d.locker.Lock(order.PortfolioID)
	defer unlock()

	before := order.Status
	res, execErr := d.Execute(ctx, order, quote)
	if order.Status != before {
		if err := d.orders.SaveOrder(ctx, order); err != nil {
			d.logger.Error(ctx, err, "Failed to save order after execution", ports.Fields{"orderID": order.ID})
			return res, errors.Join(execErr, fmt.Errorf("save order %s: %w", order.ID, err))
		}
	}
	return res, execErr
}

// Submit validates and stores a new PENDING order.
func (d *Dispatcher) Submit(ctx context.Context, order *domain.Order) error {
	if order == nil {
		return fmt.Errorf("%w: nil order", ports.ErrInvalidRequest)
	}
	if !order.IsPending() {
		return fmt.Errorf("%w: new orders must be PENDING, got %s", domain.ErrInvalidOrder, order.Status)
	}
	if err := order.Validate(); err != nil {
		return err
	}
	if err := d.orders.SaveOrder(ctx, order); err != nil {
		return fmt.Errorf("save order %s: %w", order.ID, err)
	}
	d.logger.Info(ctx, "Order submitted", ports.Fields{
		"orderID": order.ID, "portfolioID": order.PortfolioID, "symbol": order.Symbol,
		"side": order.Side, "type": order.Type, "quantity": order.Quantity.String(),
	})
	return nil
}

// Cancel moves a PENDING order to CANCELLED.
func (d *Dispatcher) Cancel(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := d.find(ctx, orderID)
	if err != nil {
		return nil, err
	}

	unlock := d.locker.Lock(order.PortfolioID)
	defer unlock()

	if err := order.Cancel(); err != nil {
		return nil, err
	}
	if err := d.orders.SaveOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("save order %s: %w", order.ID, err)
	}
	d.logger.Info(ctx, "Order cancelled", ports.Fields{"orderID": order.ID})
	return order, nil
}

// Resubmit creates a PENDING child order for the unfilled remainder of a PARTIAL order.
// The parent keeps its fill and loses its remainder so it cannot be resubmitted twice.
func (d *Dispatcher) Resubmit(ctx context.Context, orderID string) (*domain.Order, error) {
	parent, err := d.find(ctx, orderID)
	if err != nil {
		return nil, err
	}

	unlock := d.locker.Lock(parent.PortfolioID)
	defer unlock()

	child, err := parent.Remainder(time.Now())
	if err != nil {
		return nil, err
	}
	if err := d.orders.SaveOrder(ctx, child); err != nil {
		return nil, fmt.Errorf("save remainder order: %w", err)
	}

	parent.RemainingQuantity = decimal.Zero
	parent.Message = fmt.Sprintf("remainder %s resubmitted as %s", child.Quantity, child.ID)
	if err := d.orders.SaveOrder(ctx, parent); err != nil {
		return nil, fmt.Errorf("save order %s: %w", parent.ID, err)
	}

	d.logger.Info(ctx, "Remainder resubmitted", ports.Fields{
		"orderID": child.ID, "parentID": parent.ID, "quantity": child.Quantity.String(),
	})
	return child, nil
}

func (d *Dispatcher) find(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := d.orders.FindOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("find order %s: %w", orderID, err)
	}
	if order == nil {
		return nil, fmt.Errorf("%w: order %s", ports.ErrNotFound, orderID)
	}
	return order, nil
}
