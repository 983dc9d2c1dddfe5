package domain

import (
	"errors"
	"strings"
	"time"
)

// AttemptStatus is the lifecycle status of one container attempt.
type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "pending"
	AttemptRunning   AttemptStatus = "running"
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptFailed    AttemptStatus = "failed"
	AttemptTimedOut  AttemptStatus = "timed_out"
	AttemptCancelled AttemptStatus = "cancelled"
)

// Terminal reports whether no further transition occurs for this attempt.
func (s AttemptStatus) Terminal() bool {
	switch s {
	case AttemptSucceeded, AttemptFailed, AttemptTimedOut, AttemptCancelled:
		return true
	default:
		return false
	}
}

// NormalizeAttemptStatus maps free-form status values to canonical ones.
func NormalizeAttemptStatus(value string) AttemptStatus {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(AttemptPending):
		return AttemptPending
	case string(AttemptRunning):
		return AttemptRunning
	case string(AttemptSucceeded):
		return AttemptSucceeded
	case string(AttemptFailed):
		return AttemptFailed
	case string(AttemptTimedOut):
		return AttemptTimedOut
	case string(AttemptCancelled), "canceled":
		return AttemptCancelled
	default:
		return ""
	}
}

// RunAttempt records one execution of a RunTask. A task owns up to
// MaxRetries+1 attempts; the highest attempt number is the current one.
type RunAttempt struct {
	ID        string
	TaskID    string
	Attempt   int
	StartedAt time.Time
	EndedAt   *time.Time
	ExitCode  int
	Status    AttemptStatus
	Message   string
}

func (a RunAttempt) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("attempt id is required")
	}
	if strings.TrimSpace(a.TaskID) == "" {
		return errors.New("task id is required")
	}
	if a.Attempt < 1 {
		return errors.New("attempt number must be >= 1")
	}
	if NormalizeAttemptStatus(string(a.Status)) == "" {
		return errors.New("status is required")
	}
	return nil
}

// FinalAttempt returns the attempt with the highest attempt number.
func FinalAttempt(attempts []RunAttempt) (RunAttempt, bool) {
	var out RunAttempt
	found := false
	for _, a := range attempts {
		if !found || a.Attempt > out.Attempt {
			out = a
			found = true
		}
	}
	return out, found
}
