// Package scheduler drives a batch's run tasks through the container
// runtime under a bounded concurrency limit, with per-task retry and
// failure accounting. One member's permanent failure never halts its
// siblings.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/onhm-labs/onhm-go/internal/domain"
	"github.com/onhm-labs/onhm-go/internal/repo"
	"github.com/onhm-labs/onhm-go/internal/runtimeexec"
)

type Config struct {
	MaxConcurrency int
	AttemptTimeout time.Duration
	BatchTimeout   time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

// MemberResult accumulates the attempts of one run task.
type MemberResult struct {
	Task     domain.RunTask
	Attempts []domain.RunAttempt
}

// Final returns the task's current (highest-numbered) attempt.
func (r *MemberResult) Final() domain.RunAttempt {
	final, _ := domain.FinalAttempt(r.Attempts)
	return final
}

type Scheduler struct {
	runtime  runtimeexec.Runtime
	recorder repo.RunRecorder
	logger   *slog.Logger
	cfg      Config
}

func New(runtime runtimeexec.Runtime, recorder repo.RunRecorder, logger *slog.Logger, cfg Config) (*Scheduler, error) {
	if runtime == nil {
		return nil, errors.New("runtime is required")
	}
	if recorder == nil {
		recorder = repo.NoopRecorder{}
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = time.Minute
	}
	return &Scheduler{runtime: runtime, recorder: recorder, logger: logger, cfg: cfg}, nil
}

type pendingTask struct {
	task    domain.RunTask
	attempt int
	readyAt time.Time
}

type attemptOutcome struct {
	task      domain.RunTask
	attempt   domain.RunAttempt
	permanent bool
}

// Run drives every task of the batch to a terminal state and returns the
// per-task results keyed by task id. It returns once the queue is empty;
// the batch timeout is the only hard deadline.
func (s *Scheduler) Run(ctx context.Context, batch domain.Batch) (map[string]*MemberResult, error) {
	if err := batch.Validate(); err != nil {
		return nil, err
	}

	runCtx := ctx
	if s.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.BatchTimeout)
		defer cancel()
	}

	pending := make([]pendingTask, 0, len(batch.Tasks))
	results := make(map[string]*MemberResult, len(batch.Tasks))
	for _, task := range batch.Tasks {
		pending = append(pending, pendingTask{task: task, attempt: 1})
		results[task.ID] = &MemberResult{Task: task}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].task.ID < pending[j].task.ID })

	doneCh := make(chan attemptOutcome)
	abortCh := runCtx.Done()
	inflight := 0
	remaining := len(pending)
	aborted := false

	for remaining > 0 {
		if aborted && len(pending) > 0 {
			// The batch deadline passed before these tasks launched; they
			// still must reach a terminal state.
			for _, item := range pending {
				att := s.abortedAttempt(runCtx, item)
				s.appendAttempt(ctx, results, att)
				remaining--
			}
			pending = pending[:0]
		}

		if !aborted {
			now := time.Now()
			for inflight < s.cfg.MaxConcurrency {
				idx := nextReady(pending, now)
				if idx < 0 {
					break
				}
				item := pending[idx]
				pending = append(pending[:idx], pending[idx+1:]...)
				inflight++
				go s.execute(runCtx, item.task, item.attempt, doneCh)
			}
		}
		if remaining == 0 {
			break
		}

		var wake <-chan time.Time
		if !aborted && inflight < s.cfg.MaxConcurrency {
			if at, ok := earliestReady(pending); ok {
				wake = time.After(time.Until(at))
			}
		}

		select {
		case out := <-doneCh:
			inflight--
			s.appendAttempt(ctx, results, out.attempt)
			switch {
			case out.attempt.Status == domain.AttemptSucceeded:
				remaining--
			case out.permanent:
				remaining--
			case out.attempt.Attempt <= out.task.MaxRetries:
				delay := backoffDelay(s.cfg.BackoffBase, s.cfg.BackoffMax, out.attempt.Attempt)
				s.log("retrying member", "task_id", out.task.ID, "attempt", out.attempt.Attempt, "delay", delay.String())
				pending = insertPending(pending, pendingTask{
					task:    out.task,
					attempt: out.attempt.Attempt + 1,
					readyAt: time.Now().Add(delay),
				})
			default:
				s.log("member permanently failed", "task_id", out.task.ID, "attempts", out.attempt.Attempt, "status", string(out.attempt.Status))
				remaining--
			}
		case <-wake:
		case <-abortCh:
			aborted = true
			abortCh = nil
		}
	}

	return results, nil
}

// execute runs one attempt to a terminal status and reports it. All Batch
// and task bookkeeping stays in Run; this goroutine only talks to the
// runtime.
func (s *Scheduler) execute(ctx context.Context, task domain.RunTask, attemptNo int, doneCh chan<- attemptOutcome) {
	start := time.Now().UTC()
	att := domain.RunAttempt{
		ID:        uuid.NewString(),
		TaskID:    task.ID,
		Attempt:   attemptNo,
		StartedAt: start,
		Status:    domain.AttemptRunning,
	}

	handle, err := s.runtime.Start(ctx, task)
	if err != nil {
		finishAttempt(&att, domain.AttemptFailed, -1, err.Error())
		permanent := runtimeexec.IsLaunchError(err)
		if ctx.Err() != nil {
			finishAttempt(&att, abortStatus(ctx), -1, "batch aborted before launch")
			permanent = true
		}
		doneCh <- attemptOutcome{task: task, attempt: att, permanent: permanent}
		return
	}

	res, err := s.runtime.Wait(ctx, handle, s.cfg.AttemptTimeout)
	if err != nil {
		_ = s.runtime.Cancel(context.WithoutCancel(ctx), handle)
		if ctx.Err() != nil {
			finishAttempt(&att, abortStatus(ctx), -1, "batch aborted")
			doneCh <- attemptOutcome{task: task, attempt: att, permanent: true}
			return
		}
		finishAttempt(&att, domain.AttemptFailed, -1, err.Error())
		doneCh <- attemptOutcome{task: task, attempt: att, permanent: false}
		return
	}

	message := res.Message
	switch res.Status {
	case domain.AttemptTimedOut:
		_ = s.runtime.Cancel(context.WithoutCancel(ctx), handle)
	case domain.AttemptFailed:
		if logs, logErr := s.runtime.Logs(ctx, handle); logErr == nil {
			message = joinMessage(message, tail(logs, 20))
		}
		_ = s.runtime.Remove(context.WithoutCancel(ctx), handle)
	default:
		_ = s.runtime.Remove(context.WithoutCancel(ctx), handle)
	}
	finishAttempt(&att, res.Status, res.ExitCode, message)
	doneCh <- attemptOutcome{task: task, attempt: att, permanent: res.Status == domain.AttemptCancelled}
}

func (s *Scheduler) abortedAttempt(ctx context.Context, item pendingTask) domain.RunAttempt {
	now := time.Now().UTC()
	att := domain.RunAttempt{
		ID:        uuid.NewString(),
		TaskID:    item.task.ID,
		Attempt:   item.attempt,
		StartedAt: now,
		Status:    abortStatus(ctx),
		ExitCode:  -1,
		Message:   "batch aborted before launch",
	}
	att.EndedAt = &now
	return att
}

func (s *Scheduler) appendAttempt(ctx context.Context, results map[string]*MemberResult, att domain.RunAttempt) {
	rec, ok := results[att.TaskID]
	if !ok {
		return
	}
	rec.Attempts = append(rec.Attempts, att)
	if err := s.recorder.RecordAttempt(context.WithoutCancel(ctx), att); err != nil {
		s.log("record attempt failed", "task_id", att.TaskID, "attempt", att.Attempt, "error", err)
	}
}

func (s *Scheduler) log(msg string, attrs ...any) {
	if s.logger == nil {
		return
	}
	fields := []any{"component", "scheduler"}
	fields = append(fields, attrs...)
	s.logger.Info(msg, fields...)
}

func finishAttempt(att *domain.RunAttempt, status domain.AttemptStatus, exitCode int, message string) {
	now := time.Now().UTC()
	att.EndedAt = &now
	att.Status = status
	att.ExitCode = exitCode
	att.Message = strings.TrimSpace(message)
}

func abortStatus(ctx context.Context) domain.AttemptStatus {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.AttemptTimedOut
	}
	return domain.AttemptCancelled
}

// nextReady returns the index of the first launchable task in task id
// order, or -1. Pending stays id-sorted so scheduling is reproducible for a
// fixed concurrency bound.
func nextReady(pending []pendingTask, now time.Time) int {
	for i, item := range pending {
		if !item.readyAt.After(now) {
			return i
		}
	}
	return -1
}

func earliestReady(pending []pendingTask) (time.Time, bool) {
	var at time.Time
	found := false
	for _, item := range pending {
		if !found || item.readyAt.Before(at) {
			at = item.readyAt
			found = true
		}
	}
	return at, found
}

func insertPending(pending []pendingTask, item pendingTask) []pendingTask {
	idx := sort.Search(len(pending), func(i int) bool { return pending[i].task.ID >= item.task.ID })
	pending = append(pending, pendingTask{})
	copy(pending[idx+1:], pending[idx:])
	pending[idx] = item
	return pending
}

func joinMessage(message, logs string) string {
	logs = strings.TrimSpace(logs)
	if logs == "" {
		return message
	}
	if message == "" {
		return logs
	}
	return message + "\n" + logs
}

func tail(text string, lines int) string {
	parts := strings.Split(strings.TrimSpace(text), "\n")
	if len(parts) <= lines {
		return strings.Join(parts, "\n")
	}
	return strings.Join(parts[len(parts)-lines:], "\n")
}
