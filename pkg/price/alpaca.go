package price

import (
	"context"
	"errors"
	"fmt"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"go.uber.org/zap"
)

type latestTrader interface {
	GetLatestTrade(symbol string, req marketdata.GetLatestTradeRequest) (*marketdata.Trade, error)
}

// Alpaca uses the latest trade of Symbol as the reference price.
type Alpaca struct {
	Symbol string
	Client latestTrader
	Logger *zap.Logger
}

func NewAlpaca(apiKey, apiSecret, symbol string, logger *zap.Logger) *Alpaca {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Alpaca{
		Symbol: symbol,
		Client: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
		}),
		Logger: logger,
	}
}

func (a *Alpaca) Name() string { return "alpaca" }

// Fetch checks ctx before the call; the marketdata client has no context
// aware variant of GetLatestTrade.
func (a *Alpaca) Fetch(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	trade, err := a.Client.GetLatestTrade(a.Symbol, marketdata.GetLatestTradeRequest{})
	if err != nil {
		return 0, &FetchError{Source: a.Name(), Err: fmt.Errorf("latest trade %s: %w", a.Symbol, err)}
	}
	if trade == nil || trade.Price <= 0 {
		return 0, &FetchError{Source: a.Name(), Err: errors.New("no trade price for " + a.Symbol)}
	}

	a.Logger.Debug("latest trade",
		zap.String("symbol", a.Symbol),
		zap.Float64("price", trade.Price),
		zap.Time("at", trade.Timestamp),
	)
	return trade.Price, nil
}
