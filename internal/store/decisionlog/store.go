package decisionlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one append-only decision audit row. Rows are created once per
// (agent, coin, cycle) and never mutated; re-running after a crash writes
// new rows instead of overwriting.
type Record struct {
	ID           int64   `json:"id"`
	CycleID      string  `json:"cycle_id"`
	AgentID      string  `json:"agent_id"`
	Coin         string  `json:"coin"`
	Action       string  `json:"action"`
	SizeUSD      float64 `json:"size_usd"`
	Leverage     int     `json:"leverage"`
	StopLoss     float64 `json:"stop_loss"`
	TakeProfit   float64 `json:"take_profit"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
	Status       string  `json:"status"`
	FailReason   string  `json:"fail_reason,omitempty"`
	RawOutput    string  `json:"raw_output,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	UserPrompt   string  `json:"user_prompt,omitempty"`
	Timestamp    int64   `json:"ts"`
}

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Query filters ListRecent; zero values mean "any".
type Query struct {
	AgentID string
	Coin    string
	Status  string
	Limit   int
}

// Store keeps the decision audit trail in its own SQLite database, separate
// from the trade bookkeeping store.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("decision log path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS decisions (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle_id      TEXT NOT NULL,
    agent_id      TEXT NOT NULL,
    coin          TEXT NOT NULL,
    action        TEXT NOT NULL,
    size_usd      REAL NOT NULL DEFAULT 0,
    leverage      INTEGER NOT NULL DEFAULT 1,
    stop_loss     REAL NOT NULL DEFAULT 0,
    take_profit   REAL NOT NULL DEFAULT 0,
    confidence    REAL NOT NULL DEFAULT 0,
    reasoning     TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL,
    fail_reason   TEXT NOT NULL DEFAULT '',
    raw_output    TEXT NOT NULL DEFAULT '',
    system_prompt TEXT NOT NULL DEFAULT '',
    user_prompt   TEXT NOT NULL DEFAULT '',
    ts            INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_agent ON decisions(agent_id, ts);
CREATE INDEX IF NOT EXISTS idx_decisions_cycle ON decisions(cycle_id);
`)
	return err
}

func (s *Store) Insert(ctx context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().UnixMilli()
	}
	rec.Coin = strings.ToUpper(strings.TrimSpace(rec.Coin))
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO decisions (cycle_id, agent_id, coin, action, size_usd, leverage,
    stop_loss, take_profit, confidence, reasoning, status, fail_reason,
    raw_output, system_prompt, user_prompt, ts)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CycleID, rec.AgentID, rec.Coin, rec.Action, rec.SizeUSD, rec.Leverage,
		rec.StopLoss, rec.TakeProfit, rec.Confidence, rec.Reasoning, rec.Status,
		rec.FailReason, rec.RawOutput, rec.SystemPrompt, rec.UserPrompt, rec.Timestamp)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

func (s *Store) ListRecent(ctx context.Context, q Query) ([]Record, error) {
	where := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if q.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, q.AgentID)
	}
	if q.Coin != "" {
		where = append(where, "coin = ?")
		args = append(args, strings.ToUpper(q.Coin))
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, q.Status)
	}
	query := `SELECT id, cycle_id, agent_id, coin, action, size_usd, leverage,
    stop_loss, take_profit, confidence, reasoning, status, fail_reason, ts
FROM decisions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.CycleID, &r.AgentID, &r.Coin, &r.Action,
			&r.SizeUSD, &r.Leverage, &r.StopLoss, &r.TakeProfit, &r.Confidence,
			&r.Reasoning, &r.Status, &r.FailReason, &r.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountByStatus reports success/failed decision counts for one cycle.
func (s *Store) CountByStatus(ctx context.Context, cycleID string) (success, failed int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM decisions WHERE cycle_id = ? GROUP BY status`, cycleID)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return 0, 0, err
		}
		switch status {
		case StatusSuccess:
			success = n
		case StatusFailed:
			failed = n
		}
	}
	return success, failed, rows.Err()
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
