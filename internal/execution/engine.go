// Package execution fills simulated orders and books them into the position
// and cash ledgers.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"papertrader/internal/commission"
	"papertrader/internal/domain"
	"papertrader/internal/ports"
	"papertrader/internal/risk"
	"papertrader/internal/simulation"
)

// Config holds engine settings that are not part of the market models.
type Config struct {
	DefaultCurrency string `envconfig:"DEFAULT_CURRENCY"` // Used when an order carries no currency
	AvgCostPlaces   int32  `envconfig:"AVG_COST_PLACES"`  // Decimal places kept in the average cost
	Workers         int    `envconfig:"WORKERS"`          // Portfolios processed in parallel by the dispatcher
}

// DefaultConfig returns the default engine settings.
func DefaultConfig() Config {
	return Config{
		DefaultCurrency: "USD",
		AvgCostPlaces:   6,
		Workers:         4,
	}
}

// Dependencies are the collaborators of the engine.
type Dependencies struct {
	Spread     *simulation.SpreadSimulator
	Slippage   *simulation.SlippageModel
	Liquidity  simulation.LiquiditySimulator
	Commission *commission.Calculator
	Guard      *risk.AffordabilityGuard
	Ledger     ports.Ledger
	Logger     ports.Logger
	Clock      func() time.Time // Optional, defaults to time.Now
}

// Engine fills one order at a time. Callers serialize calls per portfolio.
type Engine struct {
	cfg       Config
	spread    *simulation.SpreadSimulator
	slippage  *simulation.SlippageModel
	liquidity simulation.LiquiditySimulator
	fees      *commission.Calculator
	guard     *risk.AffordabilityGuard
	ledger    ports.Ledger
	logger    ports.Logger
	now       func() time.Time
}

// NewEngine creates a new execution engine.
func NewEngine(cfg Config, deps Dependencies) (*Engine, error) {
	if deps.Spread == nil || deps.Slippage == nil || deps.Liquidity == nil ||
		deps.Commission == nil || deps.Ledger == nil || deps.Logger == nil {
		return nil, fmt.Errorf("%w: missing required dependencies for execution engine", ports.ErrConfigurationError)
	}
	if cfg.DefaultCurrency == "" {
		return nil, fmt.Errorf("%w: default currency must be set", ports.ErrConfigurationError)
	}
	if cfg.AvgCostPlaces < 2 {
		return nil, fmt.Errorf("%w: average cost needs at least 2 decimal places", ports.ErrConfigurationError)
	}
	guard := deps.Guard
	if guard == nil {
		guard = risk.NewAffordabilityGuard(risk.AffordabilityConfig{})
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Engine{
		cfg:       cfg,
		spread:    deps.Spread,
		slippage:  deps.Slippage,
		liquidity: deps.Liquidity,
		fees:      deps.Commission,
		guard:     guard,
		ledger:    deps.Ledger,
		logger:    deps.Logger,
		now:       clock,
	}, nil
}

// ExecuteMarket fills the full quantity at the spread side plus slippage.
func (e *Engine) ExecuteMarket(ctx context.Context, order *domain.Order, quote domain.Quote) (*domain.ExecutionResult, error) {
	if res := e.checkPending(order); res != nil {
		return res, nil
	}

	res := &domain.ExecutionResult{OrderID: order.ID, Triggered: true}
	sq, err := e.spread.Quote(quote.Price, quote.Condition)
	if err != nil {
		return e.fail(ctx, order, res, err), nil
	}
	res.BidPrice, res.AskPrice, res.SpreadPct = sq.Bid, sq.Ask, sq.SpreadPct

	base := sq.Bid
	if order.Side == domain.Buy {
		base = sq.Ask
	}
	res.SlippagePct = e.slippage.Impact(base, order.Quantity, order.Side, quote.Condition)
	price := e.slippage.Apply(base, res.SlippagePct, order.Side)

	return e.settle(ctx, order, price, order.Quantity, res)
}

// ExecuteLimit fills at exactly the limit price once the market reaches it,
// limited by simulated available liquidity.
func (e *Engine) ExecuteLimit(ctx context.Context, order *domain.Order, quote domain.Quote) (*domain.ExecutionResult, error) {
	if res := e.checkPending(order); res != nil {
		return res, nil
	}
	if order.LimitPrice == nil {
		return e.fail(ctx, order, &domain.ExecutionResult{OrderID: order.ID}, errors.New("limit price is required")), nil
	}
	if !limitReached(order.Side, quote.Price, *order.LimitPrice) {
		return e.notTriggered(ctx, order, quote, "limit", *order.LimitPrice), nil
	}
	return e.fillAtLimit(ctx, order)
}

// ExecuteStop becomes a market order once the stop price is crossed.
func (e *Engine) ExecuteStop(ctx context.Context, order *domain.Order, quote domain.Quote) (*domain.ExecutionResult, error) {
	if res := e.checkPending(order); res != nil {
		return res, nil
	}
	if order.StopPrice == nil {
		return e.fail(ctx, order, &domain.ExecutionResult{OrderID: order.ID}, errors.New("stop price is required")), nil
	}
	if !stopReached(order.Side, quote.Price, *order.StopPrice) {
		return e.notTriggered(ctx, order, quote, "stop", *order.StopPrice), nil
	}
	e.logger.Debug(ctx, "Stop triggered, executing as market order", ports.Fields{
		"orderID": order.ID, "stopPrice": order.StopPrice.String(), "price": quote.Price.String(),
	})
	return e.ExecuteMarket(ctx, order, quote)
}

// ExecuteStopLimit becomes a limit order once the stop price is crossed.
func (e *Engine) ExecuteStopLimit(ctx context.Context, order *domain.Order, quote domain.Quote) (*domain.ExecutionResult, error) {
	if res := e.checkPending(order); res != nil {
		return res, nil
	}
	if order.StopPrice == nil {
		return e.fail(ctx, order, &domain.ExecutionResult{OrderID: order.ID}, errors.New("stop price is required")), nil
	}
	if !stopReached(order.Side, quote.Price, *order.StopPrice) {
		return e.notTriggered(ctx, order, quote, "stop", *order.StopPrice), nil
	}
	e.logger.Debug(ctx, "Stop triggered, executing as limit order", ports.Fields{
		"orderID": order.ID, "stopPrice": order.StopPrice.String(), "price": quote.Price.String(),
	})
	return e.ExecuteLimit(ctx, order, quote)
}

func (e *Engine) fillAtLimit(ctx context.Context, order *domain.Order) (*domain.ExecutionResult, error) {
	res := &domain.ExecutionResult{OrderID: order.ID, Triggered: true, SlippagePct: decimal.Zero}

	qty := decimal.Min(order.Quantity, e.liquidity.AvailableQuantity(order.Quantity))
	if !qty.IsPositive() {
		return e.fail(ctx, order, res, errors.New("no liquidity available at limit price")), nil
	}
	return e.settle(ctx, order, *order.LimitPrice, qty, res)
}

// settle prices the fill, computes the complete post-fill ledger state and
// applies it in one call. Nothing is written unless every step succeeds.
func (e *Engine) settle(ctx context.Context, order *domain.Order, price, qty decimal.Decimal, res *domain.ExecutionResult) (*domain.ExecutionResult, error) {
	currency := e.currency(order)

	cash, err := e.ledger.Cash(ctx, order.PortfolioID, currency)
	if err != nil {
		return e.fail(ctx, order, res, fmt.Errorf("load cash ledger: %w", err)), nil
	}
	if cash == nil {
		cash = &domain.CashLedger{PortfolioID: order.PortfolioID, Currency: currency, Balance: decimal.Zero}
	}
	pos, err := e.ledger.Position(ctx, order.PortfolioID, order.Symbol)
	if err != nil {
		return e.fail(ctx, order, res, fmt.Errorf("load position: %w", err)), nil
	}

	if order.Side == domain.Sell {
		if err := checkSellable(order, pos, qty); err != nil {
			res.Success = false
			res.Message = err.Error()
			e.logger.Error(ctx, err, "Sell rejected by ledger contract", ports.Fields{
				"orderID": order.ID, "portfolioID": order.PortfolioID, "symbol": order.Symbol,
			})
			return res, err
		}
	} else {
		qty, err = e.guard.ClipBuy(cash.Balance, qty, e.buyCost(price))
		if err != nil {
			return e.fail(ctx, order, res, err), nil
		}
	}

	total := qty.Mul(price).Round(2)
	fee, breakdown, err := e.fees.Default(total, qty, order.Side)
	if err != nil {
		return e.fail(ctx, order, res, fmt.Errorf("compute commission: %w", err)), nil
	}
	if order.Side == domain.Sell {
		if err := e.guard.CheckSell(cash.Balance, total, fee); err != nil {
			return e.fail(ctx, order, res, err), nil
		}
	}

	now := e.now()
	update, realized := e.buildLedgerUpdate(order, cash, pos, price, qty, total, fee, now)

	post := *order
	post.Currency = currency
	post.ExecutedPrice = price
	post.ExecutedQuantity = qty
	post.RemainingQuantity = order.Quantity.Sub(qty)
	post.TotalValue = total
	post.Commission = fee
	post.RealizedPnL = realized
	post.ExecutedAt = &now
	post.Message = ""
	if post.RemainingQuantity.IsPositive() {
		post.Status = domain.StatusPartial
		post.Message = fmt.Sprintf("partially filled %s of %s", qty, order.Quantity)
	} else {
		post.Status = domain.StatusExecuted
	}
	update.Order = &post

	if err := e.ledger.ApplyFill(ctx, update); err != nil {
		return e.fail(ctx, order, res, fmt.Errorf("apply fill: %w", err)), nil
	}
	*order = post

	res.Success = true
	res.ExecutedPrice = price
	res.ExecutedQuantity = qty
	res.TotalValue = total
	res.Commission = fee
	res.CommissionBreakdown = breakdown
	res.IsPartialFill = order.Status == domain.StatusPartial
	res.RemainingQuantity = order.RemainingQuantity
	res.RealizedPnL = realized
	res.Message = order.Message

	fields := ports.Fields{
		"orderID":     order.ID,
		"portfolioID": order.PortfolioID,
		"symbol":      order.Symbol,
		"side":        order.Side,
		"type":        order.Type,
		"status":      order.Status,
		"price":       price.String(),
		"quantity":    qty.String(),
		"totalValue":  total.StringFixed(2),
		"commission":  fee.StringFixed(2),
		"slippagePct": res.SlippagePct.String(),
	}
	if realized != nil {
		fields["realizedPnl"] = realized.StringFixed(2)
	}
	e.logger.Info(ctx, "Order executed", fields)
	return res, nil
}

// buildLedgerUpdate computes the new cash and position rows. It does not write anything.
func (e *Engine) buildLedgerUpdate(order *domain.Order, cash *domain.CashLedger, pos *domain.Position,
	price, qty, total, fee decimal.Decimal, now time.Time) (*domain.LedgerUpdate, *decimal.Decimal) {

	newCash := cash.Clone()
	newCash.UpdatedAt = now
	update := &domain.LedgerUpdate{Cash: newCash, Symbol: order.Symbol}

	if order.Side == domain.Buy {
		newCash.Balance = newCash.Balance.Sub(total.Add(fee))

		if pos == nil {
			update.Position = &domain.Position{
				PortfolioID:  order.PortfolioID,
				Symbol:       order.Symbol,
				Quantity:     qty,
				AvgCost:      price,
				CurrentPrice: price,
				Currency:     newCash.Currency,
				OpenedAt:     now,
				UpdatedAt:    now,
			}
			return update, nil
		}

		next := pos.Clone()
		next.Quantity = pos.Quantity.Add(qty)
		next.AvgCost = pos.Quantity.Mul(pos.AvgCost).Add(qty.Mul(price)).Div(next.Quantity).Round(e.cfg.AvgCostPlaces)
		next.CurrentPrice = price
		next.UpdatedAt = now
		update.Position = next
		return update, nil
	}

	realized := qty.Mul(price.Sub(pos.AvgCost)).Round(2)
	newCash.Balance = newCash.Balance.Add(total).Sub(fee)

	next := pos.Clone()
	next.Quantity = pos.Quantity.Sub(qty)
	next.CurrentPrice = price
	next.UpdatedAt = now
	if next.Quantity.IsZero() {
		update.DeletePosition = true
	} else {
		update.Position = next
	}
	return update, &realized
}

func (e *Engine) buyCost(price decimal.Decimal) risk.CostFunc {
	return func(qty decimal.Decimal) (decimal.Decimal, error) {
		value := qty.Mul(price).Round(2)
		fee, _, err := e.fees.Default(value, qty, domain.Buy)
		if err != nil {
			return decimal.Zero, err
		}
		return value.Add(fee), nil
	}
}

func (e *Engine) currency(order *domain.Order) string {
	if order.Currency != "" {
		return order.Currency
	}
	return e.cfg.DefaultCurrency
}

// checkPending returns a rejection result for orders that may not execute.
func (e *Engine) checkPending(order *domain.Order) *domain.ExecutionResult {
	if order.IsPending() {
		return nil
	}
	return &domain.ExecutionResult{
		OrderID: order.ID,
		Message: fmt.Sprintf("%s: status %s", domain.ErrOrderNotPending, order.Status),
	}
}

// fail marks the order FAILED. The ledger has not been touched when this runs.
func (e *Engine) fail(ctx context.Context, order *domain.Order, res *domain.ExecutionResult, cause error) *domain.ExecutionResult {
	msg := fmt.Sprintf("%s: %s", ports.ErrExecutionFailed, cause)
	if err := order.Fail(msg); err != nil {
		msg = fmt.Sprintf("%s (%s)", msg, err)
	}
	res.Success = false
	res.Message = msg
	e.logger.Warn(ctx, "Order execution failed", ports.Fields{
		"orderID": order.ID, "portfolioID": order.PortfolioID, "symbol": order.Symbol, "reason": cause.Error(),
	})
	return res
}

// notTriggered reports that the order stays PENDING.
func (e *Engine) notTriggered(ctx context.Context, order *domain.Order, quote domain.Quote, kind string, trigger decimal.Decimal) *domain.ExecutionResult {
	msg := fmt.Sprintf("%s: %s %s %s at price %s", ports.ErrNotTriggered, order.Side, kind, trigger, quote.Price)
	e.logger.Debug(ctx, "Order not triggered", ports.Fields{
		"orderID": order.ID, "symbol": order.Symbol, "kind": kind, "trigger": trigger.String(), "price": quote.Price.String(),
	})
	return &domain.ExecutionResult{OrderID: order.ID, Message: msg}
}

func checkSellable(order *domain.Order, pos *domain.Position, qty decimal.Decimal) error {
	if pos == nil {
		return fmt.Errorf("%w: sell of %s in portfolio %s without a position", ports.ErrContractViolation, order.Symbol, order.PortfolioID)
	}
	if qty.GreaterThan(pos.Quantity) {
		return fmt.Errorf("%w: sell of %s %s exceeds held quantity %s", ports.ErrContractViolation, qty, order.Symbol, pos.Quantity)
	}
	return nil
}

// limitReached: BUY when price <= limit, SELL when price >= limit.
func limitReached(side domain.OrderSide, price, limit decimal.Decimal) bool {
	if side == domain.Buy {
		return price.LessThanOrEqual(limit)
	}
	return price.GreaterThanOrEqual(limit)
}

// stopReached: BUY when price >= stop, SELL when price <= stop.
func stopReached(side domain.OrderSide, price, stop decimal.Decimal) bool {
	if side == domain.Buy {
		return price.GreaterThanOrEqual(stop)
	}
	return price.LessThanOrEqual(stop)
}
