package logsink

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"lock-approach.klederson.com/internal/mode"
)

// DistanceRecord is one persisted front/back pair.
type DistanceRecord struct {
	ID         string
	FrontCm    float64
	BackCm     float64
	RecordedAt time.Time
}

// SignalRecord is one persisted strength reading.
type SignalRecord struct {
	ID         string
	DBm        int
	RecordedAt time.Time
}

// ApproachRecord is one persisted confirmation.
type ApproachRecord struct {
	ID         string
	Mode       string
	RecordedAt time.Time
}

var tables = []string{"distance_logs", "signal_logs", "approach_events"}

// SQLite persists engine logs, keeping only the newest rows per table.
type SQLite struct {
	db     *sql.DB
	retain int
	log    *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// OpenSQLite opens (or creates) the database at path. retain <= 0 keeps
// every row.
func OpenSQLite(path string, retain int, log *slog.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open log db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate log db: %w", err)
	}
	return &SQLite{
		db:      db,
		retain:  retain,
		log:     log.With("component", "logsink"),
		now:     func() time.Time { return time.Now().UTC() },
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS distance_logs (
			id          TEXT PRIMARY KEY,
			front_cm    REAL NOT NULL,
			back_cm     REAL NOT NULL,
			recorded_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS signal_logs (
			id          TEXT PRIMARY KEY,
			dbm         INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS approach_events (
			id          TEXT PRIMARY KEY,
			mode        TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// newID returns a ULID for t. IDs are monotonic, so they sort by insertion.
func (s *SQLite) newID(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

func (s *SQLite) insert(ctx context.Context, table, query string, args ...any) {
	t := s.now()
	args = append([]any{s.newID(t)}, args...)
	args = append(args, t.Format(time.RFC3339Nano))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		s.log.Warn("log write failed", "table", table, "error", err)
		return
	}
	s.prune(ctx, table)
}

func (s *SQLite) prune(ctx context.Context, table string) {
	if s.retain <= 0 {
		return
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE id NOT IN (SELECT id FROM %s ORDER BY id DESC LIMIT ?)`, table, table)
	if _, err := s.db.ExecContext(ctx, q, s.retain); err != nil {
		s.log.Warn("log prune failed", "table", table, "error", err)
	}
}

func (s *SQLite) RecordDistances(ctx context.Context, frontCm, backCm float64) {
	s.insert(ctx, "distance_logs",
		"INSERT INTO distance_logs (id, front_cm, back_cm, recorded_at) VALUES (?, ?, ?, ?)",
		frontCm, backCm)
}

func (s *SQLite) RecordSignal(ctx context.Context, dbm int) {
	s.insert(ctx, "signal_logs",
		"INSERT INTO signal_logs (id, dbm, recorded_at) VALUES (?, ?, ?)", dbm)
}

func (s *SQLite) RecordConfirmation(ctx context.Context, m mode.Mode) {
	s.insert(ctx, "approach_events",
		"INSERT INTO approach_events (id, mode, recorded_at) VALUES (?, ?, ?)", m.String())
}

// Distances returns up to limit records, newest first.
func (s *SQLite) Distances(ctx context.Context, limit int) ([]DistanceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, front_cm, back_cm, recorded_at FROM distance_logs ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query distances: %w", err)
	}
	defer rows.Close()

	var out []DistanceRecord
	for rows.Next() {
		var r DistanceRecord
		var at string
		if err := rows.Scan(&r.ID, &r.FrontCm, &r.BackCm, &at); err != nil {
			return nil, fmt.Errorf("scan distance: %w", err)
		}
		r.RecordedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Signals returns up to limit records, newest first.
func (s *SQLite) Signals(ctx context.Context, limit int) ([]SignalRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, dbm, recorded_at FROM signal_logs ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var out []SignalRecord
	for rows.Next() {
		var r SignalRecord
		var at string
		if err := rows.Scan(&r.ID, &r.DBm, &at); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		r.RecordedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Approaches returns up to limit confirmations, newest first.
func (s *SQLite) Approaches(ctx context.Context, limit int) ([]ApproachRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, mode, recorded_at FROM approach_events ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query approaches: %w", err)
	}
	defer rows.Close()

	var out []ApproachRecord
	for rows.Next() {
		var r ApproachRecord
		var at string
		if err := rows.Scan(&r.ID, &r.Mode, &at); err != nil {
			return nil, fmt.Errorf("scan approach: %w", err)
		}
		r.RecordedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of rows in one of the log tables.
func (s *SQLite) Count(ctx context.Context, table string) (int, error) {
	known := false
	for _, t := range tables {
		known = known || t == table
	}
	if !known {
		return 0, fmt.Errorf("unknown log table %q", table)
	}
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	return n, err
}
