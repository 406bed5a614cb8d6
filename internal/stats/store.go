// Package stats records per-request outcomes for operational reporting.
// Only outcome metadata is stored; question text and answers never touch
// the database.
package stats

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"doubtbot/internal/domain"

	_ "modernc.org/sqlite"
)

// Store persists request outcomes in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Totals summarizes the recorded outcomes for the status report.
type Totals struct {
	Requests     int64
	Answered     int64
	Rejected     int64
	Failed       int64
	AvgLatencyMs float64
}

func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS outcomes (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		channel     TEXT NOT NULL,
		chat_id     TEXT NOT NULL,
		modality    TEXT NOT NULL,
		outcome     TEXT NOT NULL,
		latency_ms  INTEGER DEFAULT 0,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_outcomes_time ON outcomes(created_at);
	CREATE INDEX IF NOT EXISTS idx_outcomes_chat ON outcomes(channel, chat_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Record stores one request outcome. outcome is "answered" or a rejection
// kind such as "missing_instruction" or "upstream_failure".
func (s *Store) Record(ctx context.Context, channel, chatID string, modality domain.Modality, outcome string, latencyMs int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outcomes (channel, chat_id, modality, outcome, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		channel, chatID, string(modality), outcome, latencyMs, time.Now(),
	)
	return err
}

// GetTotals aggregates all recorded outcomes. Average latency covers
// answered requests only.
func (s *Store) GetTotals(ctx context.Context) (*Totals, error) {
	var t Totals
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN outcome = 'answered' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN outcome IN ('missing_instruction', 'malformed_event') THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN outcome = 'upstream_failure' THEN 1 ELSE 0 END), 0),
		        COALESCE(AVG(CASE WHEN outcome = 'answered' THEN latency_ms END), 0)
		 FROM outcomes`,
	).Scan(&t.Requests, &t.Answered, &t.Rejected, &t.Failed, &t.AvgLatencyMs)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// RecentByChannel returns request counts per channel since the given time.
func (s *Store) RecentByChannel(ctx context.Context, since time.Time) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel, COUNT(*) FROM outcomes WHERE created_at >= ? GROUP BY channel`,
		since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var channel string
		var n int64
		if err := rows.Scan(&channel, &n); err != nil {
			return nil, err
		}
		counts[channel] = n
	}
	return counts, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
