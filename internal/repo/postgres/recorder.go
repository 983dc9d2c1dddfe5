package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/onhm-labs/onhm-go/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS batches (
	batch_id   TEXT PRIMARY KEY,
	run_mode   TEXT NOT NULL,
	task_count INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS batch_state_events (
	batch_id    TEXT NOT NULL REFERENCES batches(batch_id),
	status      TEXT NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL,
	note        TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (batch_id, status)
);
CREATE TABLE IF NOT EXISTS run_attempts (
	attempt_id TEXT PRIMARY KEY,
	task_id    TEXT NOT NULL,
	attempt    INTEGER NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at   TIMESTAMPTZ,
	exit_code  INTEGER NOT NULL,
	status     TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	UNIQUE (task_id, attempt)
);
`

// Recorder persists batch and attempt records to postgres.
type Recorder struct {
	db *sql.DB
}

func NewRecorder(ctx context.Context, db *sql.DB) (*Recorder, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, err
	}
	return &Recorder{db: db}, nil
}

func (r *Recorder) RecordBatch(ctx context.Context, batch domain.Batch) error {
	if err := batch.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO batches (batch_id, run_mode, task_count, created_at)
		 VALUES ($1,$2,$3,$4)
		 ON CONFLICT (batch_id) DO NOTHING`,
		batch.ID,
		string(batch.Mode),
		len(batch.Tasks),
		batch.CreatedAt.UTC(),
	)
	return err
}

func (r *Recorder) RecordBatchStatus(ctx context.Context, batchID string, status domain.BatchStatus, at time.Time, note string) error {
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return errors.New("batch id is required")
	}
	if batchStatusInvalid(status) {
		return errors.New("status is required")
	}
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO batch_state_events (batch_id, status, observed_at, note)
		 VALUES ($1,$2,$3,$4)
		 ON CONFLICT (batch_id, status) DO NOTHING`,
		batchID,
		string(status),
		at.UTC(),
		strings.TrimSpace(note),
	)
	return err
}

func (r *Recorder) RecordAttempt(ctx context.Context, attempt domain.RunAttempt) error {
	if err := attempt.Validate(); err != nil {
		return err
	}
	var endedAt any
	if attempt.EndedAt != nil {
		endedAt = attempt.EndedAt.UTC()
	}
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO run_attempts (attempt_id, task_id, attempt, started_at, ended_at, exit_code, status, message)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (attempt_id) DO UPDATE
		 SET ended_at = EXCLUDED.ended_at,
		     exit_code = EXCLUDED.exit_code,
		     status = EXCLUDED.status,
		     message = EXCLUDED.message`,
		attempt.ID,
		attempt.TaskID,
		attempt.Attempt,
		attempt.StartedAt.UTC(),
		endedAt,
		attempt.ExitCode,
		string(attempt.Status),
		strings.TrimSpace(attempt.Message),
	)
	if err != nil && isUniqueViolation(err) {
		// A duplicate (task_id, attempt) pair means the same attempt was
		// already recorded under another id; the ledger keeps the first.
		return nil
	}
	return err
}

func batchStatusInvalid(status domain.BatchStatus) bool {
	return strings.TrimSpace(string(status)) == ""
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
