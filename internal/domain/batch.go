package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RunMode selects the cardinality and container layout of a batch.
type RunMode string

const (
	ModeOperational RunMode = "operational"
	ModeSubSeasonal RunMode = "sub-seasonal"
	ModeSeasonal    RunMode = "seasonal"
	ModeAdmin       RunMode = "admin"
)

// NormalizeRunMode maps free-form mode values to canonical ones.
func NormalizeRunMode(value string) RunMode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(ModeOperational):
		return ModeOperational
	case string(ModeSubSeasonal), "sub_seasonal", "subseasonal":
		return ModeSubSeasonal
	case string(ModeSeasonal):
		return ModeSeasonal
	case string(ModeAdmin):
		return ModeAdmin
	default:
		return ""
	}
}

// BatchStatus is the overall status of a batch.
type BatchStatus string

const (
	BatchStaging         BatchStatus = "staging"
	BatchRunning         BatchStatus = "running"
	BatchCollecting      BatchStatus = "collecting"
	BatchSucceeded       BatchStatus = "succeeded"
	BatchPartiallyFailed BatchStatus = "partially_failed"
	BatchFailed          BatchStatus = "failed"
)

// Terminal reports whether the batch reached a final status.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchSucceeded, BatchPartiallyFailed, BatchFailed:
		return true
	default:
		return false
	}
}

// CanTransitionBatchStatus enforces forward-only batch progression.
func CanTransitionBatchStatus(current, next BatchStatus) bool {
	if current == "" || next == "" {
		return false
	}
	if current == next {
		return true
	}
	return batchStatusOrder(current) < batchStatusOrder(next)
}

func batchStatusOrder(status BatchStatus) int {
	switch status {
	case BatchStaging:
		return 1
	case BatchRunning:
		return 2
	case BatchCollecting:
		return 3
	case BatchSucceeded, BatchPartiallyFailed, BatchFailed:
		return 4
	default:
		return 0
	}
}

// Batch owns the run tasks of one invocation of a run mode. Tasks do not
// outlive their batch.
type Batch struct {
	ID        string
	Mode      RunMode
	Tasks     []RunTask
	CreatedAt time.Time
	Status    BatchStatus
}

func (b Batch) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return errors.New("batch id is required")
	}
	if NormalizeRunMode(string(b.Mode)) == "" {
		return fmt.Errorf("unknown run mode: %q", b.Mode)
	}
	if len(b.Tasks) == 0 {
		return errors.New("batch has no tasks")
	}
	seen := make(map[string]struct{}, len(b.Tasks))
	for _, t := range b.Tasks {
		if err := t.Validate(); err != nil {
			return err
		}
		if t.BatchID != b.ID {
			return fmt.Errorf("task %s does not belong to batch %s", t.ID, b.ID)
		}
		if _, ok := seen[t.ID]; ok {
			return fmt.Errorf("duplicate task id: %s", t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	if !DisjointOutputSubpaths(b.Tasks) {
		return errors.New("member output subpaths must be disjoint")
	}
	return nil
}

// SummarizeBatchStatus derives the terminal batch status from the final
// attempt status of every member. Succeeded iff all members succeeded,
// partially_failed iff at least one but not all did.
func SummarizeBatchStatus(finals map[string]AttemptStatus) BatchStatus {
	if len(finals) == 0 {
		return BatchFailed
	}
	succeeded := 0
	for _, s := range finals {
		if s == AttemptSucceeded {
			succeeded++
		}
	}
	switch succeeded {
	case len(finals):
		return BatchSucceeded
	case 0:
		return BatchFailed
	default:
		return BatchPartiallyFailed
	}
}
