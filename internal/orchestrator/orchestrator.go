// Package orchestrator runs one batch end to end: stage inputs, schedule
// the members, collect outputs, seal the manifest. The batch moves
// through its states forward only; a failed stage short-circuits to a
// terminal status instead of leaving the batch dangling.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onhm-labs/onhm-go/internal/collector"
	"github.com/onhm-labs/onhm-go/internal/domain"
	"github.com/onhm-labs/onhm-go/internal/repo"
	"github.com/onhm-labs/onhm-go/internal/scheduler"
	"github.com/onhm-labs/onhm-go/internal/staging"
)

type Orchestrator struct {
	stager    *staging.Stager
	scheduler *scheduler.Scheduler
	collector *collector.Collector
	recorder  repo.RunRecorder
	logger    *slog.Logger
}

func New(stager *staging.Stager, sched *scheduler.Scheduler, coll *collector.Collector, recorder repo.RunRecorder, logger *slog.Logger) (*Orchestrator, error) {
	if stager == nil {
		return nil, errors.New("stager is required")
	}
	if sched == nil {
		return nil, errors.New("scheduler is required")
	}
	if coll == nil {
		return nil, errors.New("collector is required")
	}
	if recorder == nil {
		recorder = repo.NoopRecorder{}
	}
	return &Orchestrator{
		stager:    stager,
		scheduler: sched,
		collector: coll,
		recorder:  recorder,
		logger:    logger,
	}, nil
}

// Run drives the batch to a terminal status and returns its finalized
// manifest. The returned error reports orchestration faults (staging
// failure, invalid batch); member failures are not errors here, they are
// recorded in the manifest and reflected in its status.
func (o *Orchestrator) Run(ctx context.Context, batch domain.Batch, sources []staging.Source) (*domain.ResultManifest, error) {
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	if err := o.recorder.RecordBatch(ctx, batch); err != nil {
		o.log("record batch failed", "batch_id", batch.ID, "error", err)
	}
	o.transition(ctx, &batch, domain.BatchStaging, "")

	if _, err := o.stager.Prepare(ctx, batch.ID, sources); err != nil {
		// Nothing ran, so the manifest is sealed empty of attempts.
		o.transition(ctx, &batch, domain.BatchFailed, err.Error())
		manifest := domain.NewResultManifest(batch.ID, batch.Mode, time.Now())
		if finErr := manifest.Finalize(domain.BatchFailed, time.Now()); finErr != nil {
			return nil, finErr
		}
		return manifest, fmt.Errorf("batch %s: %w", batch.ID, err)
	}

	o.transition(ctx, &batch, domain.BatchRunning, "")
	results, err := o.scheduler.Run(ctx, batch)
	if err != nil {
		o.transition(ctx, &batch, domain.BatchFailed, err.Error())
		return nil, fmt.Errorf("schedule batch %s: %w", batch.ID, err)
	}

	// Collection always runs, even when every member failed; partial
	// output is kept for diagnosis.
	o.transition(ctx, &batch, domain.BatchCollecting, "")
	manifest, err := o.collector.Collect(ctx, batch, results)
	if err != nil {
		o.transition(ctx, &batch, domain.BatchFailed, err.Error())
		return nil, fmt.Errorf("collect batch %s: %w", batch.ID, err)
	}

	status := domain.SummarizeBatchStatus(collector.FinalStatuses(manifest))
	if err := manifest.Finalize(status, time.Now()); err != nil {
		return nil, err
	}
	o.transition(ctx, &batch, status, "")

	if path, err := o.collector.WriteManifest(manifest); err != nil {
		o.log("write manifest failed", "batch_id", batch.ID, "error", err)
	} else {
		o.log("manifest written", "batch_id", batch.ID, "path", path)
	}
	return manifest, nil
}

// transition advances the batch status, refusing backward moves.
func (o *Orchestrator) transition(ctx context.Context, batch *domain.Batch, next domain.BatchStatus, note string) {
	if !domain.CanTransitionBatchStatus(batch.Status, next) {
		o.log("refusing backward batch transition", "batch_id", batch.ID, "from", string(batch.Status), "to", string(next))
		return
	}
	batch.Status = next
	o.log("batch state", "batch_id", batch.ID, "status", string(next))
	if err := o.recorder.RecordBatchStatus(context.WithoutCancel(ctx), batch.ID, next, time.Now().UTC(), note); err != nil {
		o.log("record batch status failed", "batch_id", batch.ID, "status", string(next), "error", err)
	}
}

func (o *Orchestrator) log(msg string, attrs ...any) {
	if o.logger == nil {
		return
	}
	fields := []any{"component", "orchestrator"}
	fields = append(fields, attrs...)
	o.logger.Info(msg, fields...)
}
