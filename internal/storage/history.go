package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"htr/internal/domain"
	"htr/internal/migration"
)

// HistoryStore records finished runs in MySQL
type HistoryStore struct {
	db *sql.DB
}

// OpenHistoryStore connects to the history database
func OpenHistoryStore(ctx context.Context, dsn string) (*HistoryStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}
	return &HistoryStore{db: db}, nil
}

// Migrator returns the schema migrator of the history database
func (h *HistoryStore) Migrator(silent bool) migration.Migrator {
	m := migration.NewSchemaMigrator(h.db)
	if silent {
		m.Silent()
	}
	return m
}

// EnsureSchema applies pending schema migrations
func (h *HistoryStore) EnsureSchema(ctx context.Context, silent bool) error {
	return h.Migrator(silent).Run(ctx)
}

// Record stores a finished run and its failures
func (h *HistoryStore) Record(ctx context.Context, summary domain.RunSummary, failures []domain.TestFailure) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history transaction: %w", err)
	}
	defer tx.Rollback()

	finished := time.Now().UTC()
	if ts, err := time.Parse(time.RFC3339, summary.Timestamp); err == nil {
		finished = ts.UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO test_runs (run_id, finished_at, passed, skipped, failed, cancelled, product, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.RunID, finished,
		summary.Counts.Passed, summary.Counts.Skipped, summary.Counts.Failed,
		summary.Cancelled, summary.Product, summary.Elapsed.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert run %s: %w", summary.RunID, err)
	}

	for _, f := range failures {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO test_failures (run_id, test_id, status, message) VALUES (?, ?, ?, ?)",
			summary.RunID, f.TestID, f.Status, f.Message); err != nil {
			return fmt.Errorf("insert failure %s: %w", f.TestID, err)
		}
	}
	return tx.Commit()
}

// Recent returns the last n runs, newest first
func (h *HistoryStore) Recent(ctx context.Context, n int) ([]domain.HistoryEntry, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT run_id, finished_at, passed, skipped, failed, cancelled, product, duration_ms
		 FROM test_runs ORDER BY finished_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		var durationMs int64
		if err := rows.Scan(&e.RunID, &e.FinishedAt, &e.Passed, &e.Skipped, &e.Failed, &e.Cancelled, &e.Product, &durationMs); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Duration = time.Duration(durationMs) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close releases the connection pool
func (h *HistoryStore) Close() error {
	return h.db.Close()
}
