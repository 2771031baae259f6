package migration

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

// schemaMigrations are applied in order; the index+1 is the schema version
var schemaMigrations = []string{
	`CREATE TABLE IF NOT EXISTS test_runs (
		run_id      CHAR(36)     NOT NULL PRIMARY KEY,
		finished_at DATETIME(3)  NOT NULL,
		passed      INT          NOT NULL DEFAULT 0,
		skipped     INT          NOT NULL DEFAULT 0,
		failed      INT          NOT NULL DEFAULT 0,
		cancelled   BOOLEAN      NOT NULL DEFAULT FALSE,
		product     VARCHAR(255) NOT NULL DEFAULT '',
		duration_ms BIGINT       NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX idx_test_runs_finished_at ON test_runs (finished_at)`,
	`CREATE TABLE IF NOT EXISTS test_failures (
		run_id    CHAR(36)     NOT NULL,
		test_id   VARCHAR(512) NOT NULL,
		status    VARCHAR(32)  NOT NULL,
		message   TEXT,
		INDEX idx_test_failures_run (run_id)
	)`,
}

// SchemaMigrator applies the run history schema to an open database
type SchemaMigrator struct {
	db     *sql.DB
	out    io.Writer
	silent bool
}

// NewSchemaMigrator creates a new SchemaMigrator
func NewSchemaMigrator(db *sql.DB) *SchemaMigrator {
	return &SchemaMigrator{db: db, out: os.Stderr}
}

// Silent disables progress output
func (m *SchemaMigrator) Silent() *SchemaMigrator {
	m.silent = true
	return m
}

// Run applies every migration newer than the recorded schema version
func (m *SchemaMigrator) Run(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS schema_migrations (version INT NOT NULL PRIMARY KEY, applied_at DATETIME(3) NOT NULL)"); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	current, err := m.version(ctx)
	if err != nil {
		return err
	}
	pending := PendingMigrations(current)
	if len(pending) == 0 {
		return nil
	}

	var bar *progressbar.ProgressBar
	if !m.silent {
		bar = progressbar.NewOptions(len(pending),
			progressbar.OptionSetDescription(color.CyanString("Migrating history: ")),
			progressbar.OptionSetWidth(50),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        color.CyanString("█"),
				SaucerHead:    color.CyanString("█"),
				SaucerPadding: "░",
				BarStart:      "│",
				BarEnd:        "│",
			}),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetWriter(m.out),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprint(m.out, "\n")
			}),
			progressbar.OptionSetRenderBlankState(true),
		)
	}

	for i, stmt := range pending {
		version := current + i + 1
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", version, err)
		}
		if _, err := m.db.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", version, time.Now().UTC()); err != nil {
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return nil
}

func (m *SchemaMigrator) version(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := m.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return int(v.Int64), nil
}

// PendingMigrations returns the statements newer than version
func PendingMigrations(version int) []string {
	if version < 0 {
		version = 0
	}
	if version >= len(schemaMigrations) {
		return nil
	}
	return schemaMigrations[version:]
}
