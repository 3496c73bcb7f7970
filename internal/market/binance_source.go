package market

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tradewind/internal/logger"
	"tradewind/internal/pkg/failsafe"

	"github.com/adshao/go-binance/v2/futures"
	talib "github.com/markcheno/go-talib"
)

const klineLimit = 100

// BinanceSource collects snapshots from Binance USD-M futures public
// endpoints. No credentials needed; it is shared across all agents.
type BinanceSource struct {
	client *futures.Client
	coins  []string
}

var _ Collector = (*BinanceSource)(nil)

func NewBinanceSource(coins []string) *BinanceSource {
	normalized := make([]string, 0, len(coins))
	seen := make(map[string]struct{}, len(coins))
	for _, c := range coins {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		normalized = append(normalized, c)
	}
	return &BinanceSource{
		client: futures.NewClient("", ""),
		coins:  normalized,
	}
}

func toSymbol(coin string) string {
	return strings.ToUpper(coin) + "USDT"
}

func (s *BinanceSource) CollectAll(ctx context.Context) (map[string]Data, error) {
	out := make(map[string]Data, len(s.coins))
	for _, coin := range s.coins {
		data, err := s.collectOne(ctx, coin)
		if err != nil {
			logger.Warnf("market: collect %s failed: %v", coin, err)
			continue
		}
		out[coin] = data
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: market data collection produced no coins", failsafe.ErrNetwork)
	}
	return out, nil
}

func (s *BinanceSource) collectOne(ctx context.Context, coin string) (Data, error) {
	symbol := toSymbol(coin)
	kls, err := s.client.NewKlinesService().
		Symbol(symbol).
		Interval("15m").
		Limit(klineLimit).
		Do(ctx)
	if err != nil {
		return Data{}, fmt.Errorf("%w: klines %s: %v", failsafe.ErrNetwork, symbol, err)
	}
	if len(kls) < 60 {
		return Data{}, fmt.Errorf("insufficient klines for %s: %d", symbol, len(kls))
	}
	highs := make([]float64, len(kls))
	lows := make([]float64, len(kls))
	closes := make([]float64, len(kls))
	for i, k := range kls {
		highs[i] = parseF(k.High)
		lows[i] = parseF(k.Low)
		closes[i] = parseF(k.Close)
	}
	data := Data{
		Coin:        coin,
		Price:       closes[len(closes)-1],
		CollectedAt: time.Now(),
	}
	rsi := talib.Rsi(closes, 14)
	data.RSI14 = last(rsi)
	data.EMA20 = last(talib.Ema(closes, 20))
	data.EMA50 = last(talib.Ema(closes, 50))
	macd, signal, _ := talib.Macd(closes, 12, 26, 9)
	data.MACD = last(macd)
	data.MACDSignal = last(signal)
	data.ATR14 = last(talib.Atr(highs, lows, closes, 14))

	if stats, err := s.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx); err == nil && len(stats) > 0 {
		data.Change24hPct = parseF(stats[0].PriceChangePercent)
		data.Volume24h = parseF(stats[0].QuoteVolume)
	}
	if prem, err := s.client.NewPremiumIndexService().Symbol(symbol).Do(ctx); err == nil && len(prem) > 0 {
		data.FundingRate = parseF(prem[0].LastFundingRate)
	}
	if oi, err := s.client.NewGetOpenInterestService().Symbol(symbol).Do(ctx); err == nil {
		data.OpenInterest = parseF(oi.OpenInterest)
	}
	return data, nil
}

func (s *BinanceSource) PricesSnapshot(ctx context.Context) (map[string]float64, error) {
	prices, err := s.client.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list prices: %v", failsafe.ErrNetwork, err)
	}
	bySymbol := make(map[string]float64, len(prices))
	for _, p := range prices {
		bySymbol[p.Symbol] = parseF(p.Price)
	}
	out := make(map[string]float64, len(s.coins))
	for _, coin := range s.coins {
		if price, ok := bySymbol[toSymbol(coin)]; ok && price > 0 {
			out[coin] = price
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: price snapshot produced no coins", failsafe.ErrNetwork)
	}
	return out, nil
}

func last(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	return vals[len(vals)-1]
}

func parseF(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}
