package app

import (
	"fmt"
	"time"

	"papertrader/config"
	"papertrader/internal/commission"
	"papertrader/internal/execution"
	"papertrader/internal/ports"
	"papertrader/internal/risk"
	"papertrader/internal/simulation"
)

// Stores is the persistence side of the execution stack.
type Stores struct {
	Ledger ports.Ledger
	Orders ports.OrderStore
	Locker ports.PortfolioLocker // Optional; the dispatcher falls back to an in-process lock
}

// Stack is a fully wired engine and dispatcher.
type Stack struct {
	Engine     *execution.Engine // Shared engine; the dispatcher may run per-portfolio ones
	Dispatcher *execution.Dispatcher
	Commission *commission.Calculator
}

type stackOptions struct {
	rng   ports.Random
	clock func() time.Time
}

// StackOption customizes NewStack.
type StackOption func(*stackOptions)

// WithRandom replaces the generator seeded from the configuration.
func WithRandom(rng ports.Random) StackOption {
	return func(o *stackOptions) { o.rng = rng }
}

// WithClock stamps executions with the given clock instead of wall time.
func WithClock(clock func() time.Time) StackOption {
	return func(o *stackOptions) { o.clock = clock }
}

// NewStack builds the market models, the engine and the dispatcher from the configuration.
// Without WithRandom every portfolio draws from its own generator derived from
// cfg.Seed, so a seeded run gives the same fills however portfolios are scheduled.
func NewStack(cfg *config.Config, stores Stores, logger ports.Logger, opts ...StackOption) (*Stack, error) {
	if cfg == nil || logger == nil || stores.Ledger == nil || stores.Orders == nil {
		return nil, fmt.Errorf("%w: missing required dependencies for execution stack", ports.ErrConfigurationError)
	}
	var o stackOptions
	for _, opt := range opts {
		opt(&o)
	}

	fees, err := commission.NewCalculator(cfg.Commission)
	if err != nil {
		return nil, fmt.Errorf("commission schedule: %w", err)
	}
	build := func(rng ports.Random) (*execution.Engine, error) {
		return newEngine(cfg, stores.Ledger, fees, rng, logger, o.clock)
	}

	var (
		engine     *execution.Engine
		dispatchOp []execution.DispatcherOption
	)
	if o.rng != nil {
		engine, err = build(o.rng)
	} else {
		streams := simulation.NewStreams(cfg.Seed)
		engine, err = build(streams.For(""))
		dispatchOp = append(dispatchOp, execution.WithEngineFactory(func(portfolioID string) (*execution.Engine, error) {
			return build(streams.For(portfolioID))
		}))
	}
	if err != nil {
		return nil, err
	}

	dispatcher, err := execution.NewDispatcher(engine, stores.Orders, stores.Locker, logger, cfg.Execution.Workers, dispatchOp...)
	if err != nil {
		return nil, err
	}
	return &Stack{Engine: engine, Dispatcher: dispatcher, Commission: fees}, nil
}

// newEngine wires one engine whose market models share rng.
func newEngine(cfg *config.Config, ledger ports.Ledger, fees *commission.Calculator, rng ports.Random,
	logger ports.Logger, clock func() time.Time) (*execution.Engine, error) {

	spread, err := simulation.NewSpreadSimulator(cfg.Spread, rng)
	if err != nil {
		return nil, fmt.Errorf("spread model: %w", err)
	}
	slippage, err := simulation.NewSlippageModel(cfg.Slippage, rng)
	if err != nil {
		return nil, fmt.Errorf("slippage model: %w", err)
	}
	liquidity, err := simulation.NewTieredLiquidity(cfg.Liquidity, rng)
	if err != nil {
		return nil, fmt.Errorf("liquidity model: %w", err)
	}

	return execution.NewEngine(cfg.Execution, execution.Dependencies{
		Spread:     spread,
		Slippage:   slippage,
		Liquidity:  liquidity,
		Commission: fees,
		Guard:      risk.NewAffordabilityGuard(cfg.Affordability),
		Ledger:     ledger,
		Logger:     logger,
		Clock:      clock,
	})
}
