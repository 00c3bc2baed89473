package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"papertrader/internal/domain"
	"papertrader/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

// FeedConfig holds the market condition thresholds of the price feed.
type FeedConfig struct {
	UseTestnet         bool            `envconfig:"USE_TESTNET"`
	VolatileChangePct  decimal.Decimal `envconfig:"VOLATILE_CHANGE_PCT"`  // |24h change %| at or above this is VOLATILE
	LowLiquidityVolume decimal.Decimal `envconfig:"LOW_LIQUIDITY_VOLUME"` // 24h quote volume below this is LOW_LIQUIDITY
	HighVolumeVolume   decimal.Decimal `envconfig:"HIGH_VOLUME_VOLUME"`   // 24h quote volume at or above this is HIGH_VOLUME
	CandleVolatilePct  decimal.Decimal `envconfig:"CANDLE_VOLATILE_PCT"`  // Candle range % at or above this is VOLATILE
}

// DefaultFeedConfig returns thresholds tuned for liquid USDT perpetuals.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		VolatileChangePct:  decimal.NewFromInt(5),
		LowLiquidityVolume: decimal.NewFromInt(5_000_000),
		HighVolumeVolume:   decimal.NewFromInt(2_000_000_000),
		CandleVolatilePct:  decimal.RequireFromString("1.5"),
	}
}

// Validate checks the thresholds.
func (c FeedConfig) Validate() error {
	if !c.VolatileChangePct.IsPositive() || !c.CandleVolatilePct.IsPositive() {
		return fmt.Errorf("%w: volatility thresholds must be positive", ports.ErrConfigurationError)
	}
	if c.LowLiquidityVolume.IsNegative() || c.HighVolumeVolume.LessThan(c.LowLiquidityVolume) {
		return fmt.Errorf("%w: volume thresholds must satisfy 0 <= low <= high", ports.ErrConfigurationError)
	}
	return nil
}

// PriceFeed implements ports.PriceFeed using Binance futures market data.
type PriceFeed struct {
	futuresClient *futures.Client
	cfg           FeedConfig
	logger        ports.Logger
}

// Config holds configuration specific to the Binance price feed adapter.
type Config struct {
	APIKey    string // Optional; market data endpoints are public
	SecretKey string
	Feed      FeedConfig
	BaseURL   string // Overrides the production/testnet URL when set
	Logger    ports.Logger
}

// New creates a new Binance price feed adapter.
func New(cfg Config) (*PriceFeed, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance price feed")
	}
	if err := cfg.Feed.Validate(); err != nil {
		return nil, err
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	switch {
	case cfg.BaseURL != "":
		client.BaseURL = cfg.BaseURL
	case cfg.Feed.UseTestnet:
		client.BaseURL = baseURLTestnet
	default:
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance price feed configured", ports.Fields{"baseURL": client.BaseURL})

	return &PriceFeed{
		futuresClient: client,
		cfg:           cfg.Feed,
		logger:        cfg.Logger,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (f *PriceFeed) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := ports.Fields{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1000, -1001, -1016: // Unknown error, disconnected, service shutting down
			mappedErr = ports.ErrFeedUnavailable
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1120, -1121, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		f.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	f.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// Ping checks the connectivity to the exchange API.
func (f *PriceFeed) Ping(ctx context.Context) error {
	op := "Ping"
	if err := f.futuresClient.NewPingService().Do(ctx); err != nil {
		return f.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	f.logger.Debug(ctx, op+" successful")
	return nil
}

// Quote returns the last price of a symbol and the market condition derived from its 24h statistics.
func (f *PriceFeed) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	op := "Quote"
	stats, err := f.futuresClient.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return domain.Quote{}, f.handleError(ctx, err, op)
	}
	for _, s := range stats {
		if s.Symbol == symbol || len(stats) == 1 {
			q, err := f.translateStats(s)
			if err != nil {
				return domain.Quote{}, f.handleError(ctx, err, op)
			}
			return q, nil
		}
	}
	return domain.Quote{}, fmt.Errorf("%s failed: %w: %s", op, ports.ErrNoPrice, symbol)
}

// Quotes fetches every requested symbol with one request. Symbols the exchange does not list are omitted.
func (f *PriceFeed) Quotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	op := "Quotes"
	stats, err := f.futuresClient.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, f.handleError(ctx, err, op)
	}

	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[s] = true
	}

	quotes := make(map[string]domain.Quote, len(symbols))
	for _, s := range stats {
		if !wanted[s.Symbol] {
			continue
		}
		q, err := f.translateStats(s)
		if err != nil {
			return nil, f.handleError(ctx, err, op)
		}
		quotes[s.Symbol] = q
	}
	if len(quotes) < len(wanted) {
		f.logger.Warn(ctx, "Some symbols have no ticker data", ports.Fields{"requested": len(wanted), "received": len(quotes)})
	}
	return quotes, nil
}

// Ticks fetches candles between start and end and turns each close into a replay tick.
func (f *PriceFeed) Ticks(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Tick, error) {
	op := "Ticks"
	var ticks []domain.Tick
	const maxLimit = 1500
	from := start

	for {
		klines, err := f.futuresClient.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxLimit).
			Do(ctx)
		if err != nil {
			return nil, f.handleError(ctx, err, op)
		}
		if len(klines) == 0 {
			break
		}
		for _, k := range klines {
			tick, err := f.translateKline(k, symbol)
			if err != nil {
				return nil, f.handleError(ctx, fmt.Errorf("failed to translate kline: %w", err), op)
			}
			ticks = append(ticks, tick)
		}
		last := klines[len(klines)-1]
		from = time.UnixMilli(last.CloseTime + 1)
		if from.After(end) || len(klines) < maxLimit {
			break
		}
	}

	f.logger.Info(ctx, "Fetched replay ticks", ports.Fields{"symbol": symbol, "interval": interval, "count": len(ticks)})
	return ticks, nil
}

// Classify maps 24h statistics to a market condition. Volatility wins over volume.
func (f *PriceFeed) Classify(changePct, quoteVolume decimal.Decimal) domain.MarketCondition {
	switch {
	case changePct.Abs().GreaterThanOrEqual(f.cfg.VolatileChangePct):
		return domain.ConditionVolatile
	case quoteVolume.LessThan(f.cfg.LowLiquidityVolume):
		return domain.ConditionLowLiquidity
	case quoteVolume.GreaterThanOrEqual(f.cfg.HighVolumeVolume):
		return domain.ConditionHighVolume
	default:
		return domain.ConditionNormal
	}
}

func (f *PriceFeed) translateStats(s *futures.PriceChangeStats) (domain.Quote, error) {
	if s == nil {
		return domain.Quote{}, errors.New("received nil ticker statistics")
	}
	price, err := decimal.NewFromString(s.LastPrice)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("parsing last price '%s': %w", s.LastPrice, err)
	}
	change, err := decimal.NewFromString(s.PriceChangePercent)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("parsing price change percent '%s': %w", s.PriceChangePercent, err)
	}
	volume, err := decimal.NewFromString(s.QuoteVolume)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("parsing quote volume '%s': %w", s.QuoteVolume, err)
	}
	if !price.IsPositive() {
		return domain.Quote{}, fmt.Errorf("%w: last price %s for %s", ports.ErrNoPrice, price, s.Symbol)
	}

	ts := time.Now()
	if s.CloseTime > 0 {
		ts = time.UnixMilli(s.CloseTime)
	}
	return domain.Quote{Price: price, Condition: f.Classify(change, volume), Time: ts}, nil
}

func (f *PriceFeed) translateKline(k *futures.Kline, symbol string) (domain.Tick, error) {
	if k == nil {
		return domain.Tick{}, errors.New("received nil historical kline")
	}
	open, err := decimal.NewFromString(k.Open)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("parsing open price '%s': %w", k.Open, err)
	}
	high, err := decimal.NewFromString(k.High)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("parsing high price '%s': %w", k.High, err)
	}
	low, err := decimal.NewFromString(k.Low)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("parsing low price '%s': %w", k.Low, err)
	}
	cls, err := decimal.NewFromString(k.Close)
	if err != nil {
		return domain.Tick{}, fmt.Errorf("parsing close price '%s': %w", k.Close, err)
	}

	cond := domain.ConditionNormal
	if open.IsPositive() && high.Sub(low).Div(open).Mul(decimal.NewFromInt(100)).GreaterThanOrEqual(f.cfg.CandleVolatilePct) {
		cond = domain.ConditionVolatile
	}
	return domain.Tick{
		Time:      time.UnixMilli(k.CloseTime).UTC(),
		Symbol:    symbol,
		Price:     cls,
		Condition: cond,
	}, nil
}
