package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli"

	"papertrader/config"
	"papertrader/internal/adapters/binanceclient"
	"papertrader/internal/adapters/logger"
	"papertrader/internal/adapters/sqlite"
	"papertrader/internal/app"
)

// session holds what a command needs. Fields are filled on demand.
type session struct {
	cfg    *config.Config
	logger *logger.Logger
	repo   *sqlite.Repository
	stack  *app.Stack
}

func loadSession(c *cli.Context) (*session, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if db := c.GlobalString("db"); db != "" {
		cfg.DBPath = db
	}
	log := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stderr}).
		With(map[string]interface{}{"cmd": c.Command.Name})
	return &session{cfg: cfg, logger: log}, nil
}

// openStore opens the SQLite store and wires the execution stack on top of it.
func openStore(c *cli.Context) (*session, error) {
	s, err := loadSession(c)
	if err != nil {
		return nil, err
	}
	if s.cfg.DBPath == "" {
		return nil, fmt.Errorf("paperctl needs a database: set DB_PATH or --db")
	}
	s.repo, err = sqlite.NewRepository(sqlite.Config{DBPath: s.cfg.DBPath, Logger: s.logger})
	if err != nil {
		return nil, err
	}
	s.stack, err = app.NewStack(s.cfg, app.Stores{Ledger: s.repo, Orders: s.repo, Locker: s.repo}, s.logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) feed() (*binanceclient.PriceFeed, error) {
	return binanceclient.New(binanceclient.Config{
		APIKey:    s.cfg.APIKey,
		SecretKey: s.cfg.SecretKey,
		Feed:      s.cfg.Feed,
		Logger:    s.logger,
	})
}

func (s *session) feedContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.cfg.FeedTimeout)
}

func (s *session) Close() {
	if s.repo == nil {
		return
	}
	if err := s.repo.Close(); err != nil {
		s.logger.Error(context.Background(), err, "Error closing database repository")
	}
}
