// Package collector validates and aggregates per-member outputs into a
// result manifest once scheduling is done.
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/onhm-labs/onhm-go/internal/domain"
	"github.com/onhm-labs/onhm-go/internal/scheduler"
)

// OutputFetcher materializes one member's output into a host directory and
// returns the resulting path.
type OutputFetcher interface {
	FetchOutput(ctx context.Context, task domain.RunTask, destDir string) (string, error)
}

// ValidationError marks output that exists but is malformed. A member with
// a zero exit code and invalid output is downgraded to failed; it is never
// retried, since the container already reported success.
type ValidationError struct {
	MemberIndex int
	Reason      string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("member %d output invalid: %s", e.MemberIndex, e.Reason)
}

type Collector struct {
	logger     *slog.Logger
	fetcher    OutputFetcher
	validator  Validator
	resultRoot string
}

func New(logger *slog.Logger, fetcher OutputFetcher, validator Validator, resultRoot string) (*Collector, error) {
	if fetcher == nil {
		return nil, errors.New("output fetcher is required")
	}
	if validator == nil {
		validator = NonEmptyDirValidator{}
	}
	resultRoot = strings.TrimSpace(resultRoot)
	if resultRoot == "" {
		return nil, errors.New("result root is required")
	}
	return &Collector{logger: logger, fetcher: fetcher, validator: validator, resultRoot: resultRoot}, nil
}

// Collect builds the manifest for the batch from the scheduler's results.
// Per-member data is retained for audit regardless of outcome. The manifest
// is not finalized here; the orchestrator seals it with the batch's
// terminal status.
func (c *Collector) Collect(ctx context.Context, batch domain.Batch, results map[string]*scheduler.MemberResult) (*domain.ResultManifest, error) {
	manifest := domain.NewResultManifest(batch.ID, batch.Mode, time.Now())
	batchRoot := filepath.Join(c.resultRoot, batch.ID)

	for _, task := range batch.Tasks {
		rec, ok := results[task.ID]
		if !ok {
			return nil, fmt.Errorf("no result for task %s", task.ID)
		}
		entry := c.collectMember(ctx, task, rec, batchRoot)
		if err := manifest.SetMember(entry); err != nil {
			return nil, err
		}
	}
	return manifest, nil
}

func (c *Collector) collectMember(ctx context.Context, task domain.RunTask, rec *scheduler.MemberResult, batchRoot string) domain.MemberResult {
	final := rec.Final()
	entry := domain.MemberResult{
		MemberIndex: task.MemberIndex,
		TaskID:      task.ID,
		Attempts:    len(rec.Attempts),
		FinalStatus: final.Status,
		ExitCode:    final.ExitCode,
	}
	if final.Status != domain.AttemptSucceeded {
		entry.Notes = final.Message
		return entry
	}

	destDir := filepath.Join(batchRoot, fmt.Sprintf("member-%02d", task.MemberIndex))
	outputPath, err := c.fetcher.FetchOutput(ctx, task, destDir)
	if err != nil {
		entry.FinalStatus = domain.AttemptFailed
		entry.Notes = "output fetch failed: " + err.Error()
		c.log("output fetch failed", "task_id", task.ID, "member", task.MemberIndex, "error", err)
		return entry
	}
	entry.OutputPath = outputPath

	if err := c.validator.Validate(ctx, task, outputPath); err != nil {
		// Exit code zero but the output is unusable; guard against silent
		// model-internal failures.
		entry.FinalStatus = domain.AttemptFailed
		entry.Notes = (&ValidationError{MemberIndex: task.MemberIndex, Reason: err.Error()}).Error()
		c.log("output validation failed", "task_id", task.ID, "member", task.MemberIndex, "error", err)
		return entry
	}

	entry.Succeeded = true
	return entry
}

// FinalStatuses maps each member entry to the attempt status the batch
// summary is derived from, after any validation downgrades.
func FinalStatuses(manifest *domain.ResultManifest) map[string]domain.AttemptStatus {
	out := make(map[string]domain.AttemptStatus, len(manifest.Members))
	for _, e := range manifest.Members {
		out[e.TaskID] = e.FinalStatus
	}
	return out
}

// WriteManifest writes the finalized manifest as JSON next to the batch's
// member directories and returns the file path.
func (c *Collector) WriteManifest(manifest *domain.ResultManifest) (string, error) {
	if !manifest.Finalized() {
		return "", errors.New("manifest must be finalized before writing")
	}
	batchRoot := filepath.Join(c.resultRoot, manifest.BatchID)
	if err := os.MkdirAll(batchRoot, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(batchRoot, "manifest.json")
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (c *Collector) log(msg string, attrs ...any) {
	if c.logger == nil {
		return
	}
	fields := []any{"component", "collector"}
	fields = append(fields, attrs...)
	c.logger.Warn(msg, fields...)
}
