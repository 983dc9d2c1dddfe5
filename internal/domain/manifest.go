package domain

import (
	"errors"
	"fmt"
	"time"
)

// MemberResult is one member's entry in the result manifest.
type MemberResult struct {
	MemberIndex int           `json:"member_index"`
	TaskID      string        `json:"task_id"`
	Succeeded   bool          `json:"succeeded"`
	Attempts    int           `json:"attempts"`
	FinalStatus AttemptStatus `json:"final_status"`
	ExitCode    int           `json:"exit_code"`
	OutputPath  string        `json:"output_path,omitempty"`
	Notes       string        `json:"notes,omitempty"`
}

// ResultManifest aggregates per-member outcomes for one batch. Entries are
// set incrementally while collecting; Finalize seals the manifest once the
// batch is terminal.
type ResultManifest struct {
	BatchID     string               `json:"batch_id"`
	Mode        RunMode              `json:"run_mode"`
	CreatedAt   time.Time            `json:"created_at"`
	Members     map[int]MemberResult `json:"members"`
	Status      BatchStatus          `json:"status,omitempty"`
	FinalizedAt *time.Time           `json:"finalized_at,omitempty"`

	finalized bool
}

// NewResultManifest creates an empty manifest for a batch.
func NewResultManifest(batchID string, mode RunMode, now time.Time) *ResultManifest {
	return &ResultManifest{
		BatchID:   batchID,
		Mode:      mode,
		CreatedAt: now.UTC(),
		Members:   map[int]MemberResult{},
	}
}

// SetMember records or replaces one member's entry.
func (m *ResultManifest) SetMember(entry MemberResult) error {
	if m.finalized {
		return errors.New("manifest is finalized")
	}
	if entry.MemberIndex < 0 {
		return errors.New("member index must be >= 0")
	}
	if m.Members == nil {
		m.Members = map[int]MemberResult{}
	}
	m.Members[entry.MemberIndex] = entry
	return nil
}

// Finalize seals the manifest with the batch's terminal status. A manifest
// can only be finalized once, and only with a terminal status.
func (m *ResultManifest) Finalize(status BatchStatus, now time.Time) error {
	if m.finalized {
		return errors.New("manifest already finalized")
	}
	if !status.Terminal() {
		return fmt.Errorf("cannot finalize with non-terminal status: %q", status)
	}
	t := now.UTC()
	m.Status = status
	m.FinalizedAt = &t
	m.finalized = true
	return nil
}

// Finalized reports whether the manifest is sealed.
func (m *ResultManifest) Finalized() bool {
	return m.finalized
}

// Counts returns the number of succeeded and failed member entries.
func (m *ResultManifest) Counts() (succeeded, failed int) {
	for _, e := range m.Members {
		if e.Succeeded {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}
