package domain

import (
	"testing"
	"time"
)

func TestNormalizeAttemptStatus(t *testing.T) {
	cases := []struct {
		in   string
		want AttemptStatus
	}{
		{"succeeded", AttemptSucceeded},
		{" Failed ", AttemptFailed},
		{"timed_out", AttemptTimedOut},
		{"cancelled", AttemptCancelled},
		{"canceled", AttemptCancelled},
		{"running", AttemptRunning},
		{"pending", AttemptPending},
		{"done", ""},
	}
	for _, tc := range cases {
		if got := NormalizeAttemptStatus(tc.in); got != tc.want {
			t.Fatalf("NormalizeAttemptStatus(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAttemptStatusTerminal(t *testing.T) {
	for _, s := range []AttemptStatus{AttemptSucceeded, AttemptFailed, AttemptTimedOut, AttemptCancelled} {
		if !s.Terminal() {
			t.Fatalf("%q should be terminal", s)
		}
	}
	for _, s := range []AttemptStatus{AttemptPending, AttemptRunning, ""} {
		if s.Terminal() {
			t.Fatalf("%q should not be terminal", s)
		}
	}
}

func TestRunAttemptValidate(t *testing.T) {
	valid := RunAttempt{ID: "a1", TaskID: "t1", Attempt: 1, StartedAt: time.Now(), Status: AttemptRunning}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid attempt rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*RunAttempt)
	}{
		{"missing id", func(a *RunAttempt) { a.ID = "" }},
		{"missing task id", func(a *RunAttempt) { a.TaskID = " " }},
		{"zero attempt number", func(a *RunAttempt) { a.Attempt = 0 }},
		{"bad status", func(a *RunAttempt) { a.Status = "exploded" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := valid
			tc.mutate(&a)
			if err := a.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestFinalAttempt(t *testing.T) {
	if _, ok := FinalAttempt(nil); ok {
		t.Fatal("empty slice should report no final attempt")
	}

	attempts := []RunAttempt{
		{ID: "a1", TaskID: "t1", Attempt: 1, Status: AttemptFailed},
		{ID: "a3", TaskID: "t1", Attempt: 3, Status: AttemptSucceeded},
		{ID: "a2", TaskID: "t1", Attempt: 2, Status: AttemptFailed},
	}
	final, ok := FinalAttempt(attempts)
	if !ok {
		t.Fatal("expected a final attempt")
	}
	if final.ID != "a3" || final.Status != AttemptSucceeded {
		t.Fatalf("final = %+v, want attempt 3", final)
	}
}
