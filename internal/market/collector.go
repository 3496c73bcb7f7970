// Package market defines the data-collection surface of the trading
// cycle. The controller only consumes the Collector interface; indicator
// math lives with the concrete source.
package market

import (
	"context"
	"time"
)

// Data is one coin's snapshot handed to the decision prompt.
type Data struct {
	Coin          string    `json:"coin"`
	Price         float64   `json:"price"`
	Change24hPct  float64   `json:"change_24h_pct"`
	Volume24h     float64   `json:"volume_24h"`
	FundingRate   float64   `json:"funding_rate"`
	OpenInterest  float64   `json:"open_interest"`
	RSI14         float64   `json:"rsi_14"`
	EMA20         float64   `json:"ema_20"`
	EMA50         float64   `json:"ema_50"`
	MACD          float64   `json:"macd"`
	MACDSignal    float64   `json:"macd_signal"`
	ATR14         float64   `json:"atr_14"`
	CollectedAt   time.Time `json:"collected_at"`
}

type Collector interface {
	// CollectAll fetches a full snapshot for every tracked coin. A coin
	// that fails to collect is omitted from the map; an empty map is an
	// error at the cycle level, a partial map is not.
	CollectAll(ctx context.Context) (map[string]Data, error)

	// PricesSnapshot fetches only current prices, for the execution phase.
	PricesSnapshot(ctx context.Context) (map[string]float64, error)
}
