package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"papertrader/config"
	"papertrader/internal/adapters/binanceclient"
	"papertrader/internal/adapters/logger"
	"papertrader/internal/adapters/sqlite"
	"papertrader/internal/app"
	"papertrader/internal/ledger"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Stores (SQLite, or in memory when DB_PATH is empty)
	var stores app.Stores
	if cfg.DBPath == "" {
		orders := ledger.NewOrders()
		book := ledger.NewBook(ledger.WithOrderStore(orders))
		stores = app.Stores{Ledger: book, Orders: orders, Locker: book}
		appLogger.Warn(context.Background(), "No database configured, orders and ledgers are kept in memory")
	} else {
		repo, err := sqlite.NewRepository(sqlite.Config{
			DBPath: cfg.DBPath,
			Logger: appLogger,
		})
		if err != nil {
			appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
			log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
		}
		defer func() {
			if err := repo.Close(); err != nil {
				appLogger.Error(context.Background(), err, "Error closing database repository")
			}
		}()
		stores = app.Stores{Ledger: repo, Orders: repo, Locker: repo}
		appLogger.Info(context.Background(), "Database repository initialized", map[string]interface{}{"path": cfg.DBPath})
	}

	// 4. Initialize Price Feed (Binance Adapter)
	feed, err := binanceclient.New(binanceclient.Config{
		APIKey:    cfg.APIKey,
		SecretKey: cfg.SecretKey,
		Feed:      cfg.Feed,
		Logger:    appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance price feed")
		log.Fatalf("FATAL: Failed to initialize Binance price feed: %v", err)
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), cfg.FeedTimeout)
	if err := feed.Ping(pingCtx); err != nil {
		appLogger.Warn(context.Background(), "Binance price feed is not reachable yet", map[string]interface{}{"error": err.Error()})
	}
	cancel()

	// 5. Initialize Execution Stack
	stack, err := app.NewStack(cfg, stores, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize execution engine")
		log.Fatalf("FATAL: Failed to initialize execution engine: %v", err)
	}
	appLogger.Info(context.Background(), "Execution engine initialized", map[string]interface{}{
		"commissionModel": string(stack.Commission.Model()),
		"enforceCash":     cfg.Affordability.EnforceCash,
		"workers":         cfg.Execution.Workers,
	})

	// 6. Initialize Application Service
	service, err := app.NewExecutionService(
		app.Config{PollInterval: cfg.PollInterval, FeedTimeout: cfg.FeedTimeout},
		appLogger,
		feed,
		stores.Orders,
		stack.Dispatcher,
	)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize execution service")
		log.Fatalf("FATAL: Failed to initialize execution service: %v", err)
	}

	// 7. Start the Service
	if err := service.Start(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Execution service exited with error")
		log.Fatalf("FATAL: Execution service exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
