package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"papertrader/internal/domain"
	"papertrader/internal/ledger"
	"papertrader/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.Ledger, ports.OrderStore and ports.PortfolioLocker using SQLite.
// Decimals are stored as TEXT so no precision is lost.
type Repository struct {
	db     *sql.DB
	logger ports.Logger

	ledger.KeyedLocker // Per-portfolio writer lock
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/papertrader.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		err = fmt.Errorf("%w: failed to open database at '%s': %w", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("%w: failed to ping database at '%s': %w", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Single writer connection; fills are serialized per database anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", ports.Fields{"path": dbPath})

	repo, err := NewRepositoryFromDB(db, cfg.Logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := repo.Migrate(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// NewRepositoryFromDB wraps an already opened database. The schema is not touched.
func NewRepositoryFromDB(db *sql.DB, logger ports.Logger) (*Repository, error) {
	if db == nil || logger == nil {
		return nil, fmt.Errorf("%w: database and logger are required", ports.ErrConfigurationError)
	}
	return &Repository{db: db, logger: logger}, nil
}

// Migrate creates tables if they don't exist.
func (r *Repository) Migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		portfolio_id TEXT NOT NULL,
		parent_id TEXT NOT NULL DEFAULT '',
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		type TEXT NOT NULL,
		quantity TEXT NOT NULL,
		limit_price TEXT DEFAULT NULL,
		stop_price TEXT DEFAULT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		executed_price TEXT NOT NULL DEFAULT '0',
		executed_quantity TEXT NOT NULL DEFAULT '0',
		remaining_quantity TEXT NOT NULL DEFAULT '0',
		total_value TEXT NOT NULL DEFAULT '0',
		commission TEXT NOT NULL DEFAULT '0',
		realized_pnl TEXT DEFAULT NULL,
		message TEXT NOT NULL DEFAULT '',
		submitted_at TIMESTAMP NOT NULL,
		executed_at TIMESTAMP DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS positions (
		portfolio_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		quantity TEXT NOT NULL,
		avg_cost TEXT NOT NULL,
		current_price TEXT NOT NULL,
		currency TEXT NOT NULL,
		opened_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (portfolio_id, symbol)
	);

	CREATE TABLE IF NOT EXISTS cash_ledgers (
		portfolio_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		balance TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (portfolio_id, currency)
	);

	CREATE INDEX IF NOT EXISTS idx_orders_status_submitted ON orders (status, submitted_at);
	CREATE INDEX IF NOT EXISTS idx_orders_portfolio ON orders (portfolio_id);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- Ledger Implementation ---

const positionColumns = `portfolio_id, symbol, quantity, avg_cost, current_price, currency, opened_at, updated_at`

// Position retrieves the position of a symbol in a portfolio, if any.
func (r *Repository) Position(ctx context.Context, portfolioID, symbol string) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE portfolio_id = ? AND symbol = ?`

	pos, err := scanPosition(r.db.QueryRowContext(ctx, query, portfolioID, symbol))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: position %s/%s: %w", ports.ErrQueryFailed, portfolioID, symbol, err)
	}
	return pos, nil
}

// Cash retrieves the cash row of a currency in a portfolio, if any.
func (r *Repository) Cash(ctx context.Context, portfolioID, currency string) (*domain.CashLedger, error) {
	const query = `SELECT portfolio_id, currency, balance, updated_at FROM cash_ledgers WHERE portfolio_id = ? AND currency = ?`

	c := &domain.CashLedger{}
	err := r.db.QueryRowContext(ctx, query, portfolioID, currency).Scan(&c.PortfolioID, &c.Currency, &c.Balance, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: cash %s/%s: %w", ports.ErrQueryFailed, portfolioID, currency, err)
	}
	return c, nil
}

// ApplyFill writes the order, position and cash rows of one execution in a single transaction.
func (r *Repository) ApplyFill(ctx context.Context, update *domain.LedgerUpdate) error {
	if update == nil || update.Cash == nil || update.Symbol == "" || (!update.DeletePosition && update.Position == nil) {
		return fmt.Errorf("%w: incomplete ledger update", ports.ErrInvalidRequest)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin fill transaction: %w", ports.ErrDBConnection, err)
	}
	defer tx.Rollback() // No-op after Commit

	if update.Order != nil {
		if err := upsertOrder(ctx, tx, update.Order); err != nil {
			return err
		}
	}

	if update.DeletePosition {
		const del = `DELETE FROM positions WHERE portfolio_id = ? AND symbol = ?`
		if _, err := tx.ExecContext(ctx, del, update.Cash.PortfolioID, update.Symbol); err != nil {
			return fmt.Errorf("%w: delete position %s: %w", ports.ErrUpdateFailed, update.Symbol, err)
		}
	} else if err := upsertPosition(ctx, tx, update.Position); err != nil {
		return err
	}

	if err := upsertCash(ctx, tx, update.Cash); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit fill transaction: %w", ports.ErrUpdateFailed, err)
	}
	r.logger.Debug(ctx, "Fill applied", ports.Fields{
		"portfolioID": update.Cash.PortfolioID, "symbol": update.Symbol,
		"balance": update.Cash.Balance.String(), "deletePosition": update.DeletePosition,
	})
	return nil
}

// Deposit credits (or, with a negative amount, debits) cash and returns the new balance.
func (r *Repository) Deposit(ctx context.Context, portfolioID, currency string, amount decimal.Decimal) (decimal.Decimal, error) {
	unlock := r.Lock(portfolioID)
	defer unlock()

	current, err := r.Cash(ctx, portfolioID, currency)
	if err != nil {
		return decimal.Zero, err
	}
	row := &domain.CashLedger{PortfolioID: portfolioID, Currency: currency, Balance: decimal.Zero}
	if current != nil {
		row = current
	}
	row.Balance = row.Balance.Add(amount)
	row.UpdatedAt = time.Now().UTC()

	if err := upsertCash(ctx, r.db, row); err != nil {
		return decimal.Zero, err
	}
	r.logger.Info(ctx, "Cash deposited", ports.Fields{
		"portfolioID": portfolioID, "currency": currency, "amount": amount.String(), "balance": row.Balance.String(),
	})
	return row.Balance, nil
}

// Positions retrieves every position of a portfolio ordered by symbol.
func (r *Repository) Positions(ctx context.Context, portfolioID string) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE portfolio_id = ? ORDER BY symbol`

	rows, err := r.db.QueryContext(ctx, query, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("%w: positions of %s: %w", ports.ErrQueryFailed, portfolioID, err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return positions, nil
}

// Balances retrieves every cash row of a portfolio ordered by currency.
func (r *Repository) Balances(ctx context.Context, portfolioID string) ([]*domain.CashLedger, error) {
	const query = `SELECT portfolio_id, currency, balance, updated_at FROM cash_ledgers WHERE portfolio_id = ? ORDER BY currency`

	rows, err := r.db.QueryContext(ctx, query, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("%w: balances of %s: %w", ports.ErrQueryFailed, portfolioID, err)
	}
	defer rows.Close()

	balances := make([]*domain.CashLedger, 0)
	for rows.Next() {
		c := &domain.CashLedger{}
		if err := rows.Scan(&c.PortfolioID, &c.Currency, &c.Balance, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan cash row: %w", err)
		}
		balances = append(balances, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cash rows: %w", err)
	}
	return balances, nil
}

// --- OrderStore Implementation ---

const orderColumns = `id, portfolio_id, parent_id, symbol, side, type, quantity, limit_price, stop_price, currency,
	status, executed_price, executed_quantity, remaining_quantity, total_value, commission, realized_pnl,
	message, submitted_at, executed_at`

// SaveOrder inserts or updates an order.
func (r *Repository) SaveOrder(ctx context.Context, order *domain.Order) error {
	if err := upsertOrder(ctx, r.db, order); err != nil {
		return err
	}
	r.logger.Debug(ctx, "Order saved", ports.Fields{"orderID": order.ID, "status": order.Status})
	return nil
}

// FindOrder retrieves an order by ID. Returns nil, nil if not found.
func (r *Repository) FindOrder(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "Order not found by ID", ports.Fields{"orderID": id})
			return nil, nil
		}
		return nil, fmt.Errorf("%w: order %s: %w", ports.ErrQueryFailed, id, err)
	}
	return order, nil
}

// PendingOrders retrieves every PENDING order, oldest first.
func (r *Repository) PendingOrders(ctx context.Context) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE status = ? ORDER BY submitted_at, id`
	return r.queryOrders(ctx, query, domain.StatusPending)
}

// FilledOrders retrieves the EXECUTED and PARTIAL orders of a portfolio in execution order.
// An empty portfolioID selects every portfolio.
func (r *Repository) FilledOrders(ctx context.Context, portfolioID string) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
	WHERE status IN (?, ?) AND (? = '' OR portfolio_id = ?)
	ORDER BY executed_at, id`
	return r.queryOrders(ctx, query, domain.StatusExecuted, domain.StatusPartial, portfolioID, portfolioID)
}

func (r *Repository) queryOrders(ctx context.Context, query string, args ...interface{}) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: orders: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	orders := make([]*domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order rows: %w", err)
	}
	return orders, nil
}

// --- Writers ---

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func upsertOrder(ctx context.Context, ex execer, o *domain.Order) error {
	const query = `
	INSERT INTO orders (` + orderColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		executed_price = excluded.executed_price,
		executed_quantity = excluded.executed_quantity,
		remaining_quantity = excluded.remaining_quantity,
		total_value = excluded.total_value,
		commission = excluded.commission,
		realized_pnl = excluded.realized_pnl,
		message = excluded.message,
		executed_at = excluded.executed_at`

	var executedAt sql.NullTime
	if o.ExecutedAt != nil {
		executedAt = sql.NullTime{Time: o.ExecutedAt.UTC(), Valid: true}
	}

	_, err := ex.ExecContext(ctx, query,
		o.ID, o.PortfolioID, o.ParentID, o.Symbol, string(o.Side), string(o.Type), o.Quantity,
		nullDecimal(o.LimitPrice), nullDecimal(o.StopPrice), o.Currency,
		string(o.Status), o.ExecutedPrice, o.ExecutedQuantity, o.RemainingQuantity, o.TotalValue, o.Commission,
		nullDecimal(o.RealizedPnL), o.Message, o.SubmittedAt.UTC(), executedAt)
	if err != nil {
		return fmt.Errorf("%w: upsert order %s: %w", ports.ErrUpdateFailed, o.ID, err)
	}
	return nil
}

func upsertPosition(ctx context.Context, ex execer, p *domain.Position) error {
	const query = `
	INSERT INTO positions (` + positionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(portfolio_id, symbol) DO UPDATE SET
		quantity = excluded.quantity,
		avg_cost = excluded.avg_cost,
		current_price = excluded.current_price,
		updated_at = excluded.updated_at`

	_, err := ex.ExecContext(ctx, query,
		p.PortfolioID, p.Symbol, p.Quantity, p.AvgCost, p.CurrentPrice, p.Currency, p.OpenedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: upsert position %s/%s: %w", ports.ErrUpdateFailed, p.PortfolioID, p.Symbol, err)
	}
	return nil
}

func upsertCash(ctx context.Context, ex execer, c *domain.CashLedger) error {
	const query = `
	INSERT INTO cash_ledgers (portfolio_id, currency, balance, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(portfolio_id, currency) DO UPDATE SET
		balance = excluded.balance,
		updated_at = excluded.updated_at`

	if _, err := ex.ExecContext(ctx, query, c.PortfolioID, c.Currency, c.Balance, c.UpdatedAt.UTC()); err != nil {
		return fmt.Errorf("%w: upsert cash %s/%s: %w", ports.ErrUpdateFailed, c.PortfolioID, c.Currency, err)
	}
	return nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	err := s.Scan(&p.PortfolioID, &p.Symbol, &p.Quantity, &p.AvgCost, &p.CurrentPrice, &p.Currency, &p.OpenedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	return p, nil
}

func scanOrder(s scanner) (*domain.Order, error) {
	o := &domain.Order{}
	var (
		side, typ, status     string
		limit, stop, realized decimal.NullDecimal
		executedAt            sql.NullTime
	)
	err := s.Scan(
		&o.ID, &o.PortfolioID, &o.ParentID, &o.Symbol, &side, &typ, &o.Quantity, &limit, &stop, &o.Currency,
		&status, &o.ExecutedPrice, &o.ExecutedQuantity, &o.RemainingQuantity, &o.TotalValue, &o.Commission, &realized,
		&o.Message, &o.SubmittedAt, &executedAt)
	if err != nil {
		return nil, err
	}
	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(typ)
	o.Status = domain.OrderStatus(status)
	o.LimitPrice = decimalPtr(limit)
	o.StopPrice = decimalPtr(stop)
	o.RealizedPnL = decimalPtr(realized)
	if executedAt.Valid {
		t := executedAt.Time
		o.ExecutedAt = &t
	}
	return o, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := n.Decimal
	return &d
}
