package ledger

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// RecordRejections stores rejected statements in one transaction
func (s *sqlStore) RecordRejections(ctx context.Context, recs []Rejection) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO run_rejections (run_id, group_name, statement, error, recorded_at)
		VALUES (:run_id, :group_name, :statement, :error, :recorded_at)
	`
	for i := range recs {
		if _, err := tx.NamedExecContext(ctx, query, &recs[i]); err != nil {
			return fmt.Errorf("record rejection: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rejections: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"run_id": recs[0].RunID,
		"group":  recs[0].Group,
		"count":  len(recs),
	}).Debug("rejections recorded")
	return nil
}

func (s *sqlStore) Rejections(ctx context.Context, runID string, limit int) ([]Rejection, error) {
	if limit <= 0 {
		limit = 100
	}

	var recs []Rejection
	var err error
	if runID == "" {
		query := s.db.Rebind(`SELECT * FROM run_rejections ORDER BY recorded_at DESC, id DESC LIMIT ?`)
		err = s.db.SelectContext(ctx, &recs, query, limit)
	} else {
		query := s.db.Rebind(`SELECT * FROM run_rejections WHERE run_id = ? ORDER BY id LIMIT ?`)
		err = s.db.SelectContext(ctx, &recs, query, runID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("get rejections: %w", err)
	}
	return recs, nil
}
