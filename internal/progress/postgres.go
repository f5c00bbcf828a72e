package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pathforge/pkg/models"
)

// PostgresStore persists progress records in Postgres. Put uses an optimistic
// revision guard so a concurrent writer that raced past us loses cleanly
// instead of clobbering a newer record.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectRecord = `
	SELECT learner_id, task_id, status, revision, confidence,
	       time_spent_minutes, origin, blocker_notes, started_at,
	       completed_at, updated_at
	FROM progress_records`

func (s *PostgresStore) Get(ctx context.Context, learnerID, taskID string) (models.ProgressRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, selectRecord+` WHERE learner_id = $1 AND task_id = $2`,
		learnerID, taskID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ProgressRecord{}, false, nil
	}
	if err != nil {
		return models.ProgressRecord{}, false, fmt.Errorf("query progress record: %w", err)
	}
	return rec, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, record models.ProgressRecord) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO progress_records
			(learner_id, task_id, status, revision, confidence,
			 time_spent_minutes, origin, blocker_notes, started_at,
			 completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (learner_id, task_id) DO UPDATE SET
			status = EXCLUDED.status,
			revision = EXCLUDED.revision,
			confidence = EXCLUDED.confidence,
			time_spent_minutes = EXCLUDED.time_spent_minutes,
			origin = EXCLUDED.origin,
			blocker_notes = EXCLUDED.blocker_notes,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			updated_at = EXCLUDED.updated_at
		WHERE progress_records.revision <= EXCLUDED.revision`,
		record.LearnerID, record.TaskID, record.Status, record.Revision,
		record.Confidence, record.TimeSpentMinutes, record.Origin,
		record.BlockerNotes, record.StartedAt, record.CompletedAt,
		record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert progress record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("progress record for %s/%s moved past revision %d",
			record.LearnerID, record.TaskID, record.Revision)
	}
	return nil
}

func (s *PostgresStore) ByLearner(ctx context.Context, learnerID string) ([]models.ProgressRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectRecord+` WHERE learner_id = $1 ORDER BY task_id`,
		learnerID)
	if err != nil {
		return nil, fmt.Errorf("query learner records: %w", err)
	}
	defer rows.Close()

	var out []models.ProgressRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan progress record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate learner records: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (models.ProgressRecord, error) {
	var rec models.ProgressRecord
	err := row.Scan(&rec.LearnerID, &rec.TaskID, &rec.Status, &rec.Revision,
		&rec.Confidence, &rec.TimeSpentMinutes, &rec.Origin, &rec.BlockerNotes,
		&rec.StartedAt, &rec.CompletedAt, &rec.UpdatedAt)
	return rec, err
}
