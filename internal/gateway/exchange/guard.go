package exchange

import (
	"context"
	"fmt"
	"time"

	"tradewind/internal/pkg/circuit"
	"tradewind/internal/pkg/failsafe"
)

// Guarded wraps a Gateway with a circuit breaker so a failing exchange is
// probed instead of hammered. The orchestrator never retries; the breaker
// plus transport timeouts are the whole resilience story at this layer.
type Guarded struct {
	inner   Gateway
	breaker *circuit.Breaker
}

func Guard(inner Gateway) *Guarded {
	return &Guarded{
		inner:   inner,
		breaker: circuit.NewBreaker(inner.Name(), 5, time.Minute),
	}
}

func (g *Guarded) Name() string { return g.inner.Name() }

func (g *Guarded) allow() error {
	if !g.breaker.Allow() {
		return fmt.Errorf("%w: circuit open for %s", failsafe.ErrExchangeUnavailable, g.inner.Name())
	}
	return nil
}

func (g *Guarded) record(err error) {
	if err != nil {
		g.breaker.RecordFailure()
		return
	}
	g.breaker.RecordSuccess()
}

func (g *Guarded) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if err := g.allow(); err != nil {
		return OrderResult{}, err
	}
	res, err := g.inner.PlaceOrder(ctx, req)
	g.record(err)
	return res, err
}

func (g *Guarded) CancelOrder(ctx context.Context, coin, orderID string) error {
	if err := g.allow(); err != nil {
		return err
	}
	err := g.inner.CancelOrder(ctx, coin, orderID)
	g.record(err)
	return err
}

func (g *Guarded) UpdateLeverage(ctx context.Context, coin string, leverage int, cross bool) error {
	if err := g.allow(); err != nil {
		return err
	}
	err := g.inner.UpdateLeverage(ctx, coin, leverage, cross)
	g.record(err)
	return err
}

func (g *Guarded) PlaceTriggerOrder(ctx context.Context, req TriggerRequest) (OrderResult, error) {
	if err := g.allow(); err != nil {
		return OrderResult{}, err
	}
	res, err := g.inner.PlaceTriggerOrder(ctx, req)
	g.record(err)
	return res, err
}

func (g *Guarded) AccountState(ctx context.Context) (AccountState, error) {
	if err := g.allow(); err != nil {
		return AccountState{}, err
	}
	state, err := g.inner.AccountState(ctx)
	g.record(err)
	return state, err
}

func (g *Guarded) MarkPrice(ctx context.Context, coin string) (float64, error) {
	if err := g.allow(); err != nil {
		return 0, err
	}
	price, err := g.inner.MarkPrice(ctx, coin)
	g.record(err)
	return price, err
}
