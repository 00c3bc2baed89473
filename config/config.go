package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"papertrader/internal/adapters/binanceclient"
	"papertrader/internal/adapters/logger"
	"papertrader/internal/commission"
	"papertrader/internal/execution"
	"papertrader/internal/risk"
	"papertrader/internal/simulation"
)

// Config holds all application configuration.
type Config struct {
	// Binance market data
	APIKey    string
	SecretKey string

	// Storage
	DBPath string // Empty keeps orders and ledgers in memory

	// Service loop
	PollInterval time.Duration
	FeedTimeout  time.Duration

	// Simulation
	Seed int64 // 0 seeds from the clock

	// Logging
	LogLevel  logger.LogLevel
	LogFormat string

	// Model blocks, read with envconfig under their own prefixes
	Spread        simulation.SpreadConfig
	Slippage      simulation.SlippageConfig
	Liquidity     simulation.LiquidityConfig
	Commission    commission.Config
	Execution     execution.Config
	Affordability risk.AffordabilityConfig
	Feed          binanceclient.FeedConfig
}

// Default returns the configuration used when no environment is set.
func Default() *Config {
	return &Config{
		DBPath:        "./data/papertrader.db",
		PollInterval:  5 * time.Second,
		FeedTimeout:   10 * time.Second,
		LogLevel:      logger.LevelInfo,
		LogFormat:     "text",
		Spread:        simulation.DefaultSpreadConfig(),
		Slippage:      simulation.DefaultSlippageConfig(),
		Liquidity:     simulation.DefaultLiquidityConfig(),
		Commission:    commission.DefaultConfig(),
		Execution:     execution.DefaultConfig(),
		Affordability: risk.AffordabilityConfig{EnforceCash: true},
		Feed:          binanceclient.DefaultFeedConfig(),
	}
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the process environment on top of the defaults.
func FromEnv() (*Config, error) {
	cfg := Default()
	var err error
	var errs []string // Collect validation errors

	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")

	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	if strings.EqualFold(cfg.DBPath, "memory") {
		cfg.DBPath = ""
	}

	pollMillis, err := getEnvAsIntRequired("POLL_INTERVAL_MS", int(cfg.PollInterval/time.Millisecond))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid POLL_INTERVAL_MS: %v", err))
	} else if pollMillis <= 0 {
		errs = append(errs, "POLL_INTERVAL_MS must be positive")
	}
	cfg.PollInterval = time.Duration(pollMillis) * time.Millisecond

	timeoutSeconds := getEnvAsInt("FEED_TIMEOUT_SECONDS", int(cfg.FeedTimeout/time.Second))
	if timeoutSeconds <= 0 {
		errs = append(errs, "FEED_TIMEOUT_SECONDS must be positive")
	}
	cfg.FeedTimeout = time.Duration(timeoutSeconds) * time.Second

	seed, err := getEnvAsInt64Required("SIM_SEED", 0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid SIM_SEED: %v", err))
	}
	cfg.Seed = seed

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", cfg.LogFormat))
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, "LOG_FORMAT must be text or json")
	}

	// Model blocks keep their defaults for every variable that is not set.
	blocks := []struct {
		prefix string
		spec   interface{}
	}{
		{"SPREAD", &cfg.Spread},
		{"SLIPPAGE", &cfg.Slippage},
		{"LIQUIDITY", &cfg.Liquidity},
		{"COMMISSION", &cfg.Commission},
		{"EXECUTION", &cfg.Execution},
		{"EXECUTION", &cfg.Affordability},
		{"FEED", &cfg.Feed},
	}
	for _, b := range blocks {
		if err := envconfig.Process(b.prefix, b.spec); err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s_* settings: %v", b.prefix, err))
		}
	}

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// Validate checks every model block.
func (c *Config) Validate() error {
	var errs []string
	checks := []struct {
		name string
		err  error
	}{
		{"spread", c.Spread.Validate()},
		{"slippage", c.Slippage.Validate()},
		{"liquidity", c.Liquidity.Validate()},
		{"commission", c.Commission.Validate()},
		{"feed", c.Feed.Validate()},
	}
	for _, ch := range checks {
		if ch.err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", ch.name, ch.err))
		}
	}
	if c.Execution.DefaultCurrency == "" {
		errs = append(errs, "EXECUTION_DEFAULT_CURRENCY must be set")
	}
	if c.Execution.AvgCostPlaces < 2 {
		errs = append(errs, "EXECUTION_AVG_COST_PLACES must be at least 2")
	}
	if c.Execution.Workers <= 0 {
		errs = append(errs, "EXECUTION_WORKERS must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsInt64Required(key string, defaultValue int64) (int64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}
