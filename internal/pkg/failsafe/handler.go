package failsafe

import (
	"sync"
	"time"

	"tradewind/internal/logger"
)

type Action int

const (
	ActionRetry Action = iota
	ActionSkip
	ActionShutdown
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "RETRY"
	case ActionSkip:
		return "SKIP"
	case ActionShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

const (
	defaultMaxConsecutive = 5
	defaultWindow         = 30 * time.Minute
)

type record struct {
	action  Action
	context string
	at      time.Time
}

// Handler tracks failures across cycles and escalates to shutdown once a
// consecutive-failure threshold is reached, regardless of the triggering
// error's own class.
type Handler struct {
	mu             sync.Mutex
	maxConsecutive int
	window         time.Duration
	consecutive    int
	records        []record
	lastError      string
	lastErrorAt    time.Time
	totalErrors    int
	nowFn          func() time.Time
}

func NewHandler(maxConsecutive int, window time.Duration) *Handler {
	if maxConsecutive <= 0 {
		maxConsecutive = defaultMaxConsecutive
	}
	if window <= 0 {
		window = defaultWindow
	}
	return &Handler{
		maxConsecutive: maxConsecutive,
		window:         window,
		nowFn:          time.Now,
	}
}

// HandleError classifies err and advances the failure counters. The call
// that reaches the consecutive threshold returns ActionShutdown even when
// the error itself would only warrant a retry or skip.
func (h *Handler) HandleError(err error, context string) Action {
	if err == nil {
		return ActionRetry
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.nowFn()
	action := Classify(err)
	h.consecutive++
	h.totalErrors++
	h.lastError = err.Error()
	h.lastErrorAt = now
	h.records = append(h.records, record{action: action, context: context, at: now})
	h.pruneLocked(now)

	if h.consecutive >= h.maxConsecutive {
		logger.Errorf("failsafe: %d consecutive failures (max %d), escalating to shutdown, last=%v context=%s",
			h.consecutive, h.maxConsecutive, err, context)
		return ActionShutdown
	}
	logger.Warnf("failsafe: %s (consecutive=%d/%d) context=%s err=%v",
		action, h.consecutive, h.maxConsecutive, context, err)
	return action
}

// ResetErrorCount clears the consecutive counter after any success. The
// windowed history is reporting-only and is left intact.
func (h *Handler) ResetErrorCount() {
	h.mu.Lock()
	h.consecutive = 0
	h.mu.Unlock()
}

func (h *Handler) ShouldShutdown() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.consecutive >= h.maxConsecutive
}

type Stats struct {
	Consecutive    int       `json:"consecutive"`
	MaxConsecutive int       `json:"max_consecutive"`
	WindowCount    int       `json:"window_count"`
	WindowMinutes  float64   `json:"window_minutes"`
	TotalErrors    int       `json:"total_errors"`
	LastError      string    `json:"last_error,omitempty"`
	LastErrorTime  time.Time `json:"last_error_time,omitempty"`
}

func (h *Handler) Statistics() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pruneLocked(h.nowFn())
	return Stats{
		Consecutive:    h.consecutive,
		MaxConsecutive: h.maxConsecutive,
		WindowCount:    len(h.records),
		WindowMinutes:  h.window.Minutes(),
		TotalErrors:    h.totalErrors,
		LastError:      h.lastError,
		LastErrorTime:  h.lastErrorAt,
	}
}

func (h *Handler) pruneLocked(now time.Time) {
	cutoff := now.Add(-h.window)
	keep := h.records[:0]
	for _, r := range h.records {
		if r.at.After(cutoff) {
			keep = append(keep, r)
		}
	}
	h.records = keep
}
