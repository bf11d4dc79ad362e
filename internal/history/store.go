// Package history persists a bounded record of the HTTP calls a harness run
// makes, so failed test sessions can be inspected after the fact. Backed by
// an embedded SQLite database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".

	"github.com/bearsqa/bears-go/internal/rest"
)

// busyTimeoutMillis bounds how long a write waits on a locked database.
const busyTimeoutMillis = 5000

// Store records completed calls and serves recent-history queries.
// It implements rest.Recorder.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	insertStmt *sql.Stmt
	recentStmt *sql.Stmt
	pruneStmt  *sql.Stmt
}

// NewStore opens (or creates) the history database at dbPath, applies
// migrations, and prepares the repeated statements. Use ":memory:" for tests.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("history: opening database: %w", err)
	}

	ctx := context.Background()

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMillis),
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: setting pragma: %w", err)
		}
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger}
	if err := s.prepare(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) prepare(ctx context.Context) error {
	var err error

	s.insertStmt, err = s.db.PrepareContext(ctx,
		`INSERT INTO calls (request_id, method, url, status, attempts, duration_ms, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("history: preparing insert: %w", err)
	}

	s.recentStmt, err = s.db.PrepareContext(ctx,
		`SELECT request_id, method, url, status, attempts, duration_ms, started_at
		 FROM calls ORDER BY id DESC LIMIT ?`)
	if err != nil {
		return fmt.Errorf("history: preparing recent query: %w", err)
	}

	s.pruneStmt, err = s.db.PrepareContext(ctx,
		`DELETE FROM calls WHERE id NOT IN (SELECT id FROM calls ORDER BY id DESC LIMIT ?)`)
	if err != nil {
		return fmt.Errorf("history: preparing prune: %w", err)
	}

	return nil
}

// Record implements rest.Recorder. Persistence failures are logged, never
// surfaced: history must not fail the request it observes.
func (s *Store) Record(ctx context.Context, call rest.Call) {
	if err := s.Insert(ctx, call); err != nil {
		s.logger.Warn("failed to record call history", slog.String("error", err.Error()))
	}
}

// Insert writes one call row.
func (s *Store) Insert(ctx context.Context, call rest.Call) error {
	_, err := s.insertStmt.ExecContext(ctx,
		call.RequestID,
		call.Method,
		call.URL,
		call.Status,
		call.Attempts,
		call.Duration.Milliseconds(),
		call.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("history: inserting call: %w", err)
	}

	return nil
}

// Recent returns up to limit calls, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]rest.Call, error) {
	rows, err := s.recentStmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("history: querying recent calls: %w", err)
	}

	defer rows.Close()

	var calls []rest.Call

	for rows.Next() {
		var (
			call       rest.Call
			durationMs int64
			startedAt  string
		)

		if err := rows.Scan(&call.RequestID, &call.Method, &call.URL,
			&call.Status, &call.Attempts, &durationMs, &startedAt); err != nil {
			return nil, fmt.Errorf("history: scanning call row: %w", err)
		}

		call.Duration = time.Duration(durationMs) * time.Millisecond

		ts, err := time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, fmt.Errorf("history: parsing started_at: %w", err)
		}

		call.StartedAt = ts

		calls = append(calls, call)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterating call rows: %w", err)
	}

	return calls, nil
}

// Prune deletes all but the newest keep rows, returning how many were
// removed.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := s.pruneStmt.ExecContext(ctx, keep)
	if err != nil {
		return 0, fmt.Errorf("history: pruning calls: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("history: counting pruned rows: %w", err)
	}

	return removed, nil
}

// Close releases prepared statements and the database handle.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{s.insertStmt, s.recentStmt, s.pruneStmt} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}

	return s.db.Close()
}
