package failsafe

import "errors"

// Error kinds used across the controller. Wrap them with fmt.Errorf("%w")
// so the classifier can match with errors.Is.
var (
	// Transient: worth retrying on the next cycle.
	ErrNetwork             = errors.New("network error")
	ErrTimeout             = errors.New("timeout")
	ErrRateLimited         = errors.New("rate limited")
	ErrExchangeUnavailable = errors.New("exchange unavailable")

	// Business rejections: skip, no exchange action.
	ErrRiskRejected        = errors.New("risk check rejected")
	ErrInvalidDecision     = errors.New("invalid decision")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNoPosition          = errors.New("no open position")

	// Unrecoverable: the process cannot make progress.
	ErrPersistence = errors.New("persistence failure")
	ErrConfig      = errors.New("configuration error")
	ErrAuth        = errors.New("authentication failure")
)

var (
	retryKinds    = []error{ErrNetwork, ErrTimeout, ErrRateLimited, ErrExchangeUnavailable}
	skipKinds     = []error{ErrRiskRejected, ErrInvalidDecision, ErrInsufficientBalance, ErrNoPosition}
	shutdownKinds = []error{ErrPersistence, ErrConfig, ErrAuth}
)

// Classify maps an error to an action by kind. Unknown kinds default to
// ActionRetry: an unclassified failure is assumed transient rather than
// fatal.
func Classify(err error) Action {
	if err == nil {
		return ActionRetry
	}
	for _, kind := range shutdownKinds {
		if errors.Is(err, kind) {
			return ActionShutdown
		}
	}
	for _, kind := range skipKinds {
		if errors.Is(err, kind) {
			return ActionSkip
		}
	}
	for _, kind := range retryKinds {
		if errors.Is(err, kind) {
			return ActionRetry
		}
	}
	return ActionRetry
}
