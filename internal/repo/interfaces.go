// Package repo defines the persistence surface for batch and attempt
// records. Partial progress, retries and partial failure are inspectable
// states, not re-run-the-whole-script behavior.
package repo

import (
	"context"
	"time"

	"github.com/onhm-labs/onhm-go/internal/domain"
)

// RunRecorder persists batch lifecycle records as the orchestrator and
// scheduler produce them. Implementations must tolerate being called for a
// batch that already exists (safe batch retry).
type RunRecorder interface {
	RecordBatch(ctx context.Context, batch domain.Batch) error
	RecordBatchStatus(ctx context.Context, batchID string, status domain.BatchStatus, at time.Time, note string) error
	RecordAttempt(ctx context.Context, attempt domain.RunAttempt) error
}

// NoopRecorder keeps the CLI usable without a database.
type NoopRecorder struct{}

func (NoopRecorder) RecordBatch(context.Context, domain.Batch) error {
	return nil
}

func (NoopRecorder) RecordBatchStatus(context.Context, string, domain.BatchStatus, time.Time, string) error {
	return nil
}

func (NoopRecorder) RecordAttempt(context.Context, domain.RunAttempt) error {
	return nil
}
