package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// sqlStore implements Ledger over any sqlx driver; queries use ? and are
// rebound for the driver
type sqlStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	return s.db.Close()
}

func (s *sqlStore) StartRun(ctx context.Context, run *Run) error {
	if run.Status == "" {
		run.Status = StatusRunning
	}
	query := `
		INSERT INTO runs (id, plan, fingerprint, store_uri, status, dry_run, error, started_at, finished_at)
		VALUES (:id, :plan, :fingerprint, :store_uri, :status, :dry_run, :error, :started_at, :finished_at)
	`
	if _, err := s.db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	s.logger.WithFields(logrus.Fields{"run_id": run.ID, "plan": run.Plan}).Debug("run recorded")
	return nil
}

func (s *sqlStore) FinishRun(ctx context.Context, id, status, errMsg string, finishedAt time.Time) error {
	query := s.db.Rebind(`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, status, errMsg, finishedAt, id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) RecordGroup(ctx context.Context, rec *GroupRecord) error {
	query := `
		INSERT INTO run_groups (run_id, position, name, operations, applied, rejected,
			chunks, attempts, duration_ms, status, error, finished_at)
		VALUES (:run_id, :position, :name, :operations, :applied, :rejected,
			:chunks, :attempts, :duration_ms, :status, :error, :finished_at)
	`
	if _, err := s.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("record group: %w", err)
	}
	return nil
}

func (s *sqlStore) RecordDrain(ctx context.Context, rec *DrainRecord) error {
	query := `
		INSERT INTO run_drains (run_id, after_group, query, outcome, attempts, elapsed_ms,
			last_count, connection_errors, rejected_errors, finished_at)
		VALUES (:run_id, :after_group, :query, :outcome, :attempts, :elapsed_ms,
			:last_count, :connection_errors, :rejected_errors, :finished_at)
	`
	if _, err := s.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("record drain: %w", err)
	}
	return nil
}

func (s *sqlStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	query := s.db.Rebind(`SELECT * FROM runs WHERE id = ?`)
	if err := s.db.GetContext(ctx, &run, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &run, nil
}

// ListRuns returns the most recent runs first
func (s *sqlStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []Run
	query := s.db.Rebind(`SELECT * FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func (s *sqlStore) Groups(ctx context.Context, runID string) ([]GroupRecord, error) {
	var recs []GroupRecord
	query := s.db.Rebind(`SELECT * FROM run_groups WHERE run_id = ? ORDER BY position, id`)
	if err := s.db.SelectContext(ctx, &recs, query, runID); err != nil {
		return nil, fmt.Errorf("get groups: %w", err)
	}
	return recs, nil
}

func (s *sqlStore) Drains(ctx context.Context, runID string) ([]DrainRecord, error) {
	var recs []DrainRecord
	query := s.db.Rebind(`SELECT * FROM run_drains WHERE run_id = ? ORDER BY id`)
	if err := s.db.SelectContext(ctx, &recs, query, runID); err != nil {
		return nil, fmt.Errorf("get drains: %w", err)
	}
	return recs, nil
}

// Nop discards every record. It is used when the ledger is disabled.
type Nop struct{}

func (Nop) StartRun(context.Context, *Run) error                              { return nil }
func (Nop) FinishRun(context.Context, string, string, string, time.Time) error { return nil }
func (Nop) RecordGroup(context.Context, *GroupRecord) error                   { return nil }
func (Nop) RecordDrain(context.Context, *DrainRecord) error                   { return nil }
func (Nop) RecordRejections(context.Context, []Rejection) error               { return nil }
func (Nop) Rejections(context.Context, string, int) ([]Rejection, error)       { return nil, nil }
func (Nop) GetRun(context.Context, string) (*Run, error)                      { return nil, ErrNotFound }
func (Nop) ListRuns(context.Context, int) ([]Run, error)                      { return nil, nil }
func (Nop) Groups(context.Context, string) ([]GroupRecord, error)             { return nil, nil }
func (Nop) Drains(context.Context, string) ([]DrainRecord, error)             { return nil, nil }
func (Nop) Close() error                                                      { return nil }

// Open opens the ledger for driver: sqlite (path), postgres (DSN) or none
func Open(driver, dsn string, logger *logrus.Logger) (Ledger, error) {
	switch driver {
	case "sqlite", "sqlite3":
		return NewSQLiteStore(dsn, logger)
	case "postgres", "pgx":
		return NewPostgresStore(dsn, logger)
	case "", "none":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %q (want sqlite, postgres or none)", driver)
	}
}
