// Package state persists the controller's cycle counter and last-error
// record so a restart resumes exactly where the previous process stopped.
package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradewind/internal/pkg/failsafe"
	"tradewind/internal/store"
	"tradewind/internal/store/model"
)

// stateKey is the single row the controller owns.
const stateKey = "controller"

// Manager caches the persisted cycle state and writes it through after
// every mutation. Reads after Load never touch the database.
type Manager struct {
	repo store.StateRepository

	mu    sync.Mutex
	state model.CycleStateModel
}

func NewManager(repo store.StateRepository) *Manager {
	return &Manager{repo: repo}
}

// Load restores the persisted state, or starts fresh when none exists.
// The service start time is stamped on the very first load and then
// survives restarts with the rest of the row.
func (m *Manager) Load(ctx context.Context) error {
	stored, err := m.repo.LoadState(ctx, stateKey)
	if err != nil {
		return fmt.Errorf("%w: load cycle state: %v", failsafe.ErrPersistence, err)
	}
	m.mu.Lock()
	if stored != nil {
		m.state = *stored
	} else {
		m.state = model.CycleStateModel{Key: stateKey}
	}
	stamped := false
	if m.state.ServiceStartTime == "" {
		m.state.ServiceStartTime = time.Now().UTC().Format(time.RFC3339)
		stamped = true
	}
	snapshot := m.state
	m.mu.Unlock()
	if stamped {
		return m.persist(ctx, snapshot)
	}
	return nil
}

func (m *Manager) ServiceStartTime() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.ServiceStartTime == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, m.state.ServiceStartTime)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (m *Manager) CycleCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CycleCount
}

func (m *Manager) LastCycleTime() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.LastCycleTime == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, m.state.LastCycleTime)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (m *Manager) LastError() (string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.LastError, m.state.LastErrorTime
}

// AdvanceCycle increments the counter and stamps the cycle completion
// time, then persists. The state only advances on a finished cycle, so a
// crash mid-cycle replays the same cycle number on restart.
func (m *Manager) AdvanceCycle(ctx context.Context, completedAt time.Time) (int64, error) {
	m.mu.Lock()
	m.state.CycleCount++
	m.state.LastCycleTime = completedAt.UTC().Format(time.RFC3339)
	snapshot := m.state
	count := m.state.CycleCount
	m.mu.Unlock()
	if err := m.persist(ctx, snapshot); err != nil {
		return count, err
	}
	return count, nil
}

// RecordError stamps the last error for operator visibility. A persist
// failure here is only logged upstream; the in-memory record stands.
func (m *Manager) RecordError(ctx context.Context, cause error, at time.Time) error {
	m.mu.Lock()
	m.state.LastError = cause.Error()
	m.state.LastErrorTime = at.UTC().Format(time.RFC3339)
	snapshot := m.state
	m.mu.Unlock()
	return m.persist(ctx, snapshot)
}

func (m *Manager) persist(ctx context.Context, s model.CycleStateModel) error {
	s.UpdatedAtUnix = time.Now().Unix()
	if err := m.repo.SaveState(ctx, &s); err != nil {
		return fmt.Errorf("%w: save cycle state: %v", failsafe.ErrPersistence, err)
	}
	return nil
}
