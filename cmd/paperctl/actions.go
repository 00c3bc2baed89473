package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli"

	"papertrader/internal/analytics"
	"papertrader/internal/app"
	"papertrader/internal/commission"
	"papertrader/internal/domain"
	"papertrader/internal/ledger"
	"papertrader/internal/replay"
	"papertrader/internal/utils"
)

func quoteAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("quote needs at least one symbol")
	}
	s, err := loadSession(c)
	if err != nil {
		return err
	}
	feed, err := s.feed()
	if err != nil {
		return err
	}
	ctx, cancel := s.feedContext()
	defer cancel()

	symbols := make([]string, 0, c.NArg())
	for _, a := range c.Args() {
		symbols = append(symbols, strings.ToUpper(a))
	}
	quotes, err := feed.Quotes(ctx, symbols)
	if err != nil {
		return err
	}
	for _, sym := range symbols {
		q, ok := quotes[sym]
		if !ok {
			fmt.Fprintf(c.App.Writer, "%s\tno quote\n", sym)
			continue
		}
		fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\t%s\n", sym, q.Price, q.Condition, q.Time.UTC().Format(time.RFC3339))
	}
	return nil
}

func commissionAction(c *cli.Context) error {
	s, err := loadSession(c)
	if err != nil {
		return err
	}
	value, err := decimalFlag(c, "value")
	if err != nil {
		return err
	}
	qty, err := decimalFlag(c, "qty")
	if err != nil {
		return err
	}
	side, err := domain.ParseSide(strings.ToUpper(c.String("side")))
	if err != nil {
		return err
	}
	model := s.cfg.Commission.Model
	if m := c.String("model"); m != "" {
		if model, err = commission.ParseModel(strings.ToLower(m)); err != nil {
			return err
		}
	}

	calc, err := commission.NewCalculator(s.cfg.Commission)
	if err != nil {
		return err
	}
	total, breakdown, err := calc.Compute(value, qty, side, model)
	if err != nil {
		return err
	}
	for _, part := range breakdown {
		fmt.Fprintf(c.App.Writer, "%s\t%s\n", part.Name, part.Amount.StringFixed(2))
	}
	fmt.Fprintf(c.App.Writer, "total\t%s\n", total.StringFixed(2))
	return nil
}

func depositAction(c *cli.Context) error {
	s, err := openStore(c)
	if err != nil {
		return err
	}
	defer s.Close()

	amount, err := decimalFlag(c, "amount")
	if err != nil {
		return err
	}
	currency := orDefault(c.String("currency"), s.cfg.Execution.DefaultCurrency)
	balance, err := s.repo.Deposit(context.Background(), c.String("portfolio"), currency, amount)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\n", c.String("portfolio"), currency, balance.StringFixed(2))
	return nil
}

func submitAction(c *cli.Context) error {
	s, err := openStore(c)
	if err != nil {
		return err
	}
	defer s.Close()

	side, err := domain.ParseSide(strings.ToUpper(c.String("side")))
	if err != nil {
		return err
	}
	typ, err := domain.ParseOrderType(strings.ToUpper(c.String("type")))
	if err != nil {
		return err
	}
	qty, err := decimalFlag(c, "qty")
	if err != nil {
		return err
	}
	currency := orDefault(c.String("currency"), s.cfg.Execution.DefaultCurrency)
	order := domain.NewOrder(c.String("portfolio"), strings.ToUpper(c.String("symbol")), side, typ, qty, currency, time.Now().UTC())
	if c.String("limit") != "" {
		limit, err := decimalFlag(c, "limit")
		if err != nil {
			return err
		}
		order.WithLimit(limit)
	}
	if c.String("stop") != "" {
		stop, err := decimalFlag(c, "stop")
		if err != nil {
			return err
		}
		order.WithStop(stop)
	}

	if err := s.stack.Dispatcher.Submit(context.Background(), order); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "submitted %s\n", order.ID)
	return nil
}

func processAction(c *cli.Context) error {
	s, err := openStore(c)
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := context.Background()

	var results map[string]*domain.ExecutionResult
	var runErr error
	if raw := c.StringSlice("price"); len(raw) > 0 {
		prices, err := parsePrices(raw)
		if err != nil {
			return err
		}
		cond, err := domain.ParseCondition(strings.ToUpper(c.String("condition")))
		if err != nil {
			return err
		}
		results, runErr = s.stack.Dispatcher.ProcessPending(ctx, prices, cond)
	} else {
		feed, err := s.feed()
		if err != nil {
			return err
		}
		svc, err := app.NewExecutionService(app.Config{PollInterval: s.cfg.PollInterval, FeedTimeout: s.cfg.FeedTimeout},
			s.logger, feed, s.repo, s.stack.Dispatcher)
		if err != nil {
			return err
		}
		results, runErr = svc.RunOnce(ctx)
	}

	printResults(c.App.Writer, results)
	return runErr
}

func cancelAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("cancel needs exactly one order ID")
	}
	s, err := openStore(c)
	if err != nil {
		return err
	}
	defer s.Close()

	order, err := s.stack.Dispatcher.Cancel(context.Background(), c.Args().First())
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s\t%s\n", order.ID, order.Status)
	return nil
}

func resubmitAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("resubmit needs exactly one order ID")
	}
	s, err := openStore(c)
	if err != nil {
		return err
	}
	defer s.Close()

	child, err := s.stack.Dispatcher.Resubmit(context.Background(), c.Args().First())
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "submitted %s\t%s\n", child.ID, child.Quantity)
	return nil
}

func positionsAction(c *cli.Context) error {
	s, err := openStore(c)
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := context.Background()
	pid := c.String("portfolio")

	balances, err := s.repo.Balances(ctx, pid)
	if err != nil {
		return err
	}
	positions, err := s.repo.Positions(ctx, pid)
	if err != nil {
		return err
	}
	for _, b := range balances {
		fmt.Fprintf(c.App.Writer, "cash\t%s\t%s\n", b.Currency, b.Balance.StringFixed(2))
	}
	for _, p := range positions {
		fmt.Fprintf(c.App.Writer, "position\t%s\t%s\t%s\t%s\n", p.Symbol, p.Quantity, p.AvgCost, p.Currency)
	}
	return nil
}

func reportAction(c *cli.Context) error {
	s, err := openStore(c)
	if err != nil {
		return err
	}
	defer s.Close()

	fills, err := s.repo.FilledOrders(context.Background(), c.String("portfolio"))
	if err != nil {
		return err
	}
	printSummary(c.App.Writer, analytics.Summarize(fills))
	return nil
}

func fetchTicksAction(c *cli.Context) error {
	s, err := loadSession(c)
	if err != nil {
		return err
	}
	end := time.Now().UTC()
	if v := c.String("end"); v != "" {
		if end, err = parseTime(v); err != nil {
			return err
		}
	}
	start := end.AddDate(0, 0, -1)
	if v := c.String("start"); v != "" {
		if start, err = parseTime(v); err != nil {
			return err
		}
	}
	symbol, interval := strings.ToUpper(c.String("symbol")), c.String("interval")

	feed, err := s.feed()
	if err != nil {
		return err
	}
	ticks, err := feed.Ticks(context.Background(), symbol, interval, start, end)
	if err != nil {
		return err
	}

	filename := c.String("out")
	if filename == "" {
		filename = fmt.Sprintf("data/%s_%s_%s_to_%s.csv", symbol, interval, start.Format("20060102"), end.Format("20060102"))
	}
	if err := utils.WriteTicksToCSV(ticks, filename); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "wrote %d ticks to %s\n", len(ticks), filename)
	return nil
}

func replayAction(c *cli.Context) error {
	if c.String("ticks") == "" {
		return errors.New("replay needs --ticks")
	}
	ticks, err := utils.ReadTicksFromCSV(c.String("ticks"))
	if err != nil {
		return err
	}
	if len(ticks) == 0 {
		return errors.New("tick file has no rows")
	}

	var s *session
	if c.Bool("from-db") {
		s, err = openStore(c)
	} else {
		s, err = loadSession(c)
	}
	if err != nil {
		return err
	}
	defer s.Close()
	ctx := context.Background()
	pid := c.String("portfolio")

	orders := ledger.NewOrders()
	book := ledger.NewBook(ledger.WithOrderStore(orders))
	clock := &replay.Clock{}
	clock.Set(ticks[0].Time)
	stack, err := app.NewStack(s.cfg, app.Stores{Ledger: book, Orders: orders, Locker: book}, s.logger, app.WithClock(clock.Now))
	if err != nil {
		return err
	}

	if c.Bool("from-db") {
		if err := copyPortfolio(ctx, s, book, orders, pid); err != nil {
			return err
		}
	} else {
		cash, err := decimalFlag(c, "cash")
		if err != nil {
			return err
		}
		book.Deposit(pid, s.cfg.Execution.DefaultCurrency, cash)
	}
	for _, spec := range c.StringSlice("order") {
		order, err := parseOrderSpec(spec, pid, s.cfg.Execution.DefaultCurrency, ticks[0].Time)
		if err != nil {
			return err
		}
		if err := stack.Dispatcher.Submit(ctx, order); err != nil {
			return err
		}
	}

	report, runErr := replay.Run(ctx, stack.Dispatcher, orders, ticks, replay.Config{
		PortfolioID: pid,
		Clock:       clock,
		Marker:      book,
		StopOnError: c.Bool("stop-on-error"),
		Logger:      s.logger,
	})
	if report == nil {
		return runErr
	}

	w := c.App.Writer
	fmt.Fprintf(w, "ticks\t%d\nbatches\t%d\nexecuted\t%d\n", report.Ticks, len(report.Steps), report.Executed)
	if report.Summary != nil {
		printSummary(w, report.Summary)
	}
	for _, b := range book.Balances(pid) {
		fmt.Fprintf(w, "cash\t%s\t%s\n", b.Currency, b.Balance.StringFixed(2))
		fmt.Fprintf(w, "equity\t%s\t%s\n", b.Currency, book.Equity(pid, b.Currency).StringFixed(2))
	}
	for _, p := range book.Positions(pid) {
		fmt.Fprintf(w, "position\t%s\t%s\t%s\n", p.Symbol, p.Quantity, p.CurrentPrice)
	}
	return runErr
}

// copyPortfolio seeds the in-memory stores with a stored portfolio.
func copyPortfolio(ctx context.Context, s *session, book *ledger.Book, orders *ledger.Orders, pid string) error {
	balances, err := s.repo.Balances(ctx, pid)
	if err != nil {
		return err
	}
	for _, b := range balances {
		book.Deposit(pid, b.Currency, b.Balance)
	}
	positions, err := s.repo.Positions(ctx, pid)
	if err != nil {
		return err
	}
	for _, p := range positions {
		cash, err := book.Cash(ctx, pid, p.Currency)
		if err != nil {
			return err
		}
		if cash == nil {
			cash = &domain.CashLedger{PortfolioID: pid, Currency: p.Currency, Balance: decimal.Zero}
		}
		if err := book.ApplyFill(ctx, &domain.LedgerUpdate{Cash: cash, Position: p, Symbol: p.Symbol}); err != nil {
			return err
		}
	}
	pending, err := s.repo.PendingOrders(ctx)
	if err != nil {
		return err
	}
	for _, o := range pending {
		if o.PortfolioID != pid {
			continue
		}
		if err := orders.SaveOrder(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

// --- Parsing and printing helpers ---

func decimalFlag(c *cli.Context, name string) (decimal.Decimal, error) {
	raw := c.String(name)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("--%s is required", name)
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid --%s %q: %w", name, raw, err)
	}
	return v, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return strings.ToUpper(v)
}

// parsePrices reads SYMBOL=PRICE pairs.
func parsePrices(raw []string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(raw))
	for _, kv := range raw {
		sym, val, ok := strings.Cut(kv, "=")
		if !ok || sym == "" {
			return nil, fmt.Errorf("invalid price %q, want SYMBOL=PRICE", kv)
		}
		price, err := decimal.NewFromString(val)
		if err != nil {
			return nil, fmt.Errorf("invalid price %q: %w", kv, err)
		}
		prices[strings.ToUpper(sym)] = price
	}
	return prices, nil
}

// parseOrderSpec reads SIDE:TYPE:SYMBOL:QTY[:PRICE[:STOP]]. PRICE is the limit
// of LIMIT and STOP_LIMIT orders and the stop of STOP orders.
func parseOrderSpec(spec, portfolioID, currency string, at time.Time) (*domain.Order, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 4 || len(parts) > 6 {
		return nil, fmt.Errorf("invalid order %q, want SIDE:TYPE:SYMBOL:QTY[:PRICE[:STOP]]", spec)
	}
	side, err := domain.ParseSide(strings.ToUpper(parts[0]))
	if err != nil {
		return nil, err
	}
	typ, err := domain.ParseOrderType(strings.ToUpper(parts[1]))
	if err != nil {
		return nil, err
	}
	nums := make([]decimal.Decimal, 0, 3)
	for _, p := range parts[3:] {
		v, err := decimal.NewFromString(p)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q in order %q: %w", p, spec, err)
		}
		nums = append(nums, v)
	}

	order := domain.NewOrder(portfolioID, strings.ToUpper(parts[2]), side, typ, nums[0], currency, at)
	switch {
	case typ == domain.OrderTypeLimit && len(nums) > 1:
		order.WithLimit(nums[1])
	case typ == domain.OrderTypeStop && len(nums) > 1:
		order.WithStop(nums[1])
	case typ == domain.OrderTypeStopLimit && len(nums) > 2:
		order.WithLimit(nums[1]).WithStop(nums[2])
	}
	return order, order.Validate()
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, want YYYY-MM-DD or RFC3339", v)
	}
	return t, nil
}

func printResults(w io.Writer, results map[string]*domain.ExecutionResult) {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		r := results[id]
		if r.Success {
			fmt.Fprintf(w, "%s\tfilled %s @ %s\tcommission %s\t%s\n",
				id, r.ExecutedQuantity, r.ExecutedPrice.StringFixed(2), r.Commission.StringFixed(2), r.Message)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\n", id, r.Message)
	}
}

func printSummary(w io.Writer, s *analytics.Summary) {
	fmt.Fprintf(w, "fills\t%d (buys %d, sells %d)\n", s.Fills, s.Buys, s.Sells)
	fmt.Fprintf(w, "volume\tbuy %s\tsell %s\n", s.BuyVolume.StringFixed(2), s.SellVolume.StringFixed(2))
	fmt.Fprintf(w, "commissions\t%s\n", s.Commissions.StringFixed(2))
	fmt.Fprintf(w, "realized\t%s\n", s.RealizedPnL.StringFixed(2))
	fmt.Fprintf(w, "net\t%s\n", s.NetPnL.StringFixed(2))
	fmt.Fprintf(w, "win rate\t%.2f%% (%d/%d)\n", s.WinRate*100, s.WinningSells, s.WinningSells+s.LosingSells)
	fmt.Fprintf(w, "profit factor\t%s\n", s.ProfitFactor.String())
	fmt.Fprintf(w, "largest\twin %s\tloss %s\n", s.LargestWin.StringFixed(2), s.LargestLoss.StringFixed(2))
	fmt.Fprintf(w, "max drawdown\t%s\n", s.MaxDrawdown.StringFixed(2))
	for _, sym := range s.Symbols() {
		ss := s.BySymbol[sym]
		fmt.Fprintf(w, "symbol\t%s\tfills %d\tbought %s\tsold %s\trealized %s\n",
			sym, ss.Fills, ss.BoughtQty, ss.SoldQty, ss.RealizedPnL.StringFixed(2))
	}
}
