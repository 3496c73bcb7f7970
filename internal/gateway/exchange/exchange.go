package exchange

import "context"

type Gateway interface {
	Name() string

	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)

	CancelOrder(ctx context.Context, coin, orderID string) error

	UpdateLeverage(ctx context.Context, coin string, leverage int, cross bool) error

	PlaceTriggerOrder(ctx context.Context, req TriggerRequest) (OrderResult, error)

	AccountState(ctx context.Context) (AccountState, error)

	MarkPrice(ctx context.Context, coin string) (float64, error)
}
