// Package binance implements the execution gateway against Binance USD-M
// futures using the go-binance SDK.
package binance

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"tradewind/internal/gateway/exchange"
	"tradewind/internal/pkg/failsafe"

	"github.com/adshao/go-binance/v2/futures"
)

type Config struct {
	Name      string
	APIKey    string
	APISecret string
	Testnet   bool
}

type Gateway struct {
	name   string
	client *futures.Client
}

var _ exchange.Gateway = (*Gateway)(nil)

func New(cfg Config) *Gateway {
	if cfg.Testnet {
		futures.UseTestnet = true
	}
	client := futures.NewClient(cfg.APIKey, cfg.APISecret)
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "binance"
	}
	return &Gateway{name: name, client: client}
}

func (g *Gateway) Name() string { return g.name }

// toSymbol maps a base coin to the USD-M perp symbol ("BTC" -> "BTCUSDT").
func toSymbol(coin string) string {
	coin = strings.ToUpper(strings.TrimSpace(coin))
	if strings.HasSuffix(coin, "USDT") {
		return coin
	}
	return coin + "USDT"
}

func formatQty(size float64) string {
	// Binance rejects scientific notation; 3 decimals covers the contract
	// step sizes of the majors this controller trades.
	return strconv.FormatFloat(math.Abs(size), 'f', 3, 64)
}

func formatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', -1, 64)
}

func (g *Gateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	side := futures.SideTypeSell
	if req.IsBuy {
		side = futures.SideTypeBuy
	}
	svc := g.client.NewCreateOrderService().
		Symbol(toSymbol(req.Coin)).
		Side(side).
		Quantity(formatQty(req.Size))
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	switch req.Type {
	case exchange.OrderTypeLimit:
		tif := futures.TimeInForceTypeGTC
		switch strings.ToUpper(req.TIF) {
		case "IOC":
			tif = futures.TimeInForceTypeIOC
		case "FOK":
			tif = futures.TimeInForceTypeFOK
		}
		svc = svc.Type(futures.OrderTypeLimit).
			Price(formatPrice(req.Price)).
			TimeInForce(tif)
	default:
		svc = svc.Type(futures.OrderTypeMarket)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return exchange.OrderResult{}, wrapErr("place order", err)
	}
	avg, _ := strconv.ParseFloat(resp.AvgPrice, 64)
	return exchange.OrderResult{
		OrderID:  strconv.FormatInt(resp.OrderID, 10),
		AvgPrice: avg,
	}, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, coin, orderID string) error {
	id, err := strconv.ParseInt(strings.TrimSpace(orderID), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid order id %q: %w", orderID, err)
	}
	_, err = g.client.NewCancelOrderService().
		Symbol(toSymbol(coin)).
		OrderID(id).
		Do(ctx)
	if err != nil {
		return wrapErr("cancel order", err)
	}
	return nil
}

func (g *Gateway) UpdateLeverage(ctx context.Context, coin string, leverage int, cross bool) error {
	symbol := toSymbol(coin)
	marginType := futures.MarginTypeIsolated
	if cross {
		marginType = futures.MarginTypeCrossed
	}
	// Margin-type change fails with a -4046 style error when it is already
	// set; that is not a real failure.
	if err := g.client.NewChangeMarginTypeService().
		Symbol(symbol).
		MarginType(marginType).
		Do(ctx); err != nil && !strings.Contains(err.Error(), "No need to change margin type") {
		return wrapErr("change margin type", err)
	}
	_, err := g.client.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return wrapErr("change leverage", err)
	}
	return nil
}

func (g *Gateway) PlaceTriggerOrder(ctx context.Context, req exchange.TriggerRequest) (exchange.OrderResult, error) {
	side := futures.SideTypeSell
	if req.IsBuy {
		side = futures.SideTypeBuy
	}
	orderType := futures.OrderTypeStopMarket
	if req.IsTakeProfit {
		orderType = futures.OrderTypeTakeProfitMarket
	}
	svc := g.client.NewCreateOrderService().
		Symbol(toSymbol(req.Coin)).
		Side(side).
		Type(orderType).
		StopPrice(formatPrice(req.TriggerPrice)).
		Quantity(formatQty(req.Size)).
		WorkingType(futures.WorkingTypeMarkPrice)
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return exchange.OrderResult{}, wrapErr("place trigger order", err)
	}
	return exchange.OrderResult{OrderID: strconv.FormatInt(resp.OrderID, 10)}, nil
}

func (g *Gateway) AccountState(ctx context.Context) (exchange.AccountState, error) {
	acct, err := g.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return exchange.AccountState{}, wrapErr("get account", err)
	}
	risks, err := g.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return exchange.AccountState{}, wrapErr("get position risk", err)
	}
	state := exchange.AccountState{
		AccountValue:  parseF(acct.TotalMarginBalance),
		Withdrawable:  parseF(acct.AvailableBalance),
		MarginUsed:    parseF(acct.TotalInitialMargin),
		UnrealizedPnL: parseF(acct.TotalUnrealizedProfit),
		UpdatedAt:     time.Now(),
	}
	for _, r := range risks {
		amt := parseF(r.PositionAmt)
		if amt == 0 {
			continue
		}
		side := "long"
		if amt < 0 {
			side = "short"
		}
		state.Positions = append(state.Positions, exchange.PositionState{
			Coin:             strings.TrimSuffix(r.Symbol, "USDT"),
			Side:             side,
			Size:             math.Abs(amt),
			EntryPrice:       parseF(r.EntryPrice),
			MarkPrice:        parseF(r.MarkPrice),
			UnrealizedPnL:    parseF(r.UnRealizedProfit),
			Leverage:         parseF(r.Leverage),
			LiquidationPrice: parseF(r.LiquidationPrice),
		})
	}
	return state, nil
}

func (g *Gateway) MarkPrice(ctx context.Context, coin string) (float64, error) {
	prems, err := g.client.NewPremiumIndexService().Symbol(toSymbol(coin)).Do(ctx)
	if err != nil {
		return 0, wrapErr("mark price", err)
	}
	if len(prems) == 0 {
		return 0, fmt.Errorf("%w: no mark price for %s", failsafe.ErrExchangeUnavailable, coin)
	}
	return parseF(prems[0].MarkPrice), nil
}

func parseF(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

// wrapErr tags transport-level failures as transient so the error handler
// classifies them as retryable; auth failures are fatal.
func wrapErr(op string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Invalid API-key") || strings.Contains(msg, "Signature for this request"):
		return fmt.Errorf("%w: %s: %v", failsafe.ErrAuth, op, err)
	case strings.Contains(msg, "Too many requests") || strings.Contains(msg, "-1003"):
		return fmt.Errorf("%w: %s: %v", failsafe.ErrRateLimited, op, err)
	case strings.Contains(msg, "context deadline exceeded"):
		return fmt.Errorf("%w: %s: %v", failsafe.ErrTimeout, op, err)
	default:
		return fmt.Errorf("%w: %s: %v", failsafe.ErrNetwork, op, err)
	}
}
