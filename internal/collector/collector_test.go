package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/onhm-labs/onhm-go/internal/domain"
	"github.com/onhm-labs/onhm-go/internal/scheduler"
)

type fakeFetcher struct {
	failFor map[string]bool
	fetched []string
}

func (f *fakeFetcher) FetchOutput(ctx context.Context, task domain.RunTask, destDir string) (string, error) {
	if f.failFor[task.ID] {
		return "", errors.New("copy failed")
	}
	f.fetched = append(f.fetched, task.ID)
	return destDir, nil
}

type fakeValidator struct {
	rejectFor map[string]string
}

func (v fakeValidator) Validate(ctx context.Context, task domain.RunTask, outputPath string) error {
	if reason, ok := v.rejectFor[task.ID]; ok {
		return errors.New(reason)
	}
	return nil
}

func testBatchAndResults(members int) (domain.Batch, map[string]*scheduler.MemberResult) {
	tasks := make([]domain.RunTask, 0, members)
	results := map[string]*scheduler.MemberResult{}
	for i := 0; i < members; i++ {
		task := domain.RunTask{
			ID:            fmt.Sprintf("member-%02d", i),
			BatchID:       "b1",
			MemberIndex:   i,
			ImageRef:      "img",
			ContainerName: fmt.Sprintf("c%02d", i),
			OutputSubpath: fmt.Sprintf("/out/member-%02d", i),
		}
		tasks = append(tasks, task)
		results[task.ID] = &scheduler.MemberResult{
			Task: task,
			Attempts: []domain.RunAttempt{
				{ID: fmt.Sprintf("a%02d", i), TaskID: task.ID, Attempt: 1, Status: domain.AttemptSucceeded},
			},
		}
	}
	batch := domain.Batch{ID: "b1", Mode: domain.ModeSubSeasonal, Tasks: tasks, CreatedAt: time.Now(), Status: domain.BatchCollecting}
	return batch, results
}

func TestCollectAllSucceeded(t *testing.T) {
	batch, results := testBatchAndResults(3)
	fetcher := &fakeFetcher{}
	c, err := New(nil, fetcher, fakeValidator{}, t.TempDir())
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}

	manifest, err := c.Collect(context.Background(), batch, results)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(manifest.Members) != 3 {
		t.Fatalf("manifest has %d members, want 3", len(manifest.Members))
	}
	for _, m := range manifest.Members {
		if !m.Succeeded || m.FinalStatus != domain.AttemptSucceeded {
			t.Fatalf("member %d not marked succeeded: %+v", m.MemberIndex, m)
		}
		if m.OutputPath == "" {
			t.Fatalf("member %d has no output path", m.MemberIndex)
		}
	}
	if got := domain.SummarizeBatchStatus(FinalStatuses(manifest)); got != domain.BatchSucceeded {
		t.Fatalf("summary %q, want succeeded", got)
	}
}

func TestCollectValidationDowngrade(t *testing.T) {
	batch, results := testBatchAndResults(2)
	fetcher := &fakeFetcher{}
	c, err := New(nil, fetcher, fakeValidator{rejectFor: map[string]string{"member-01": "statvar file truncated"}}, t.TempDir())
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}

	manifest, err := c.Collect(context.Background(), batch, results)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	bad := manifest.Members[1]
	if bad.Succeeded {
		t.Fatal("invalid output still marked succeeded")
	}
	if bad.FinalStatus != domain.AttemptFailed {
		t.Fatalf("final status %q, want failed", bad.FinalStatus)
	}
	if !strings.Contains(bad.Notes, "statvar file truncated") {
		t.Fatalf("notes do not carry the reason: %q", bad.Notes)
	}
	if got := domain.SummarizeBatchStatus(FinalStatuses(manifest)); got != domain.BatchPartiallyFailed {
		t.Fatalf("summary %q, want partially_failed", got)
	}
}

func TestCollectFetchFailureDowngrade(t *testing.T) {
	batch, results := testBatchAndResults(2)
	fetcher := &fakeFetcher{failFor: map[string]bool{"member-00": true}}
	c, err := New(nil, fetcher, fakeValidator{}, t.TempDir())
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}

	manifest, err := c.Collect(context.Background(), batch, results)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	bad := manifest.Members[0]
	if bad.Succeeded || bad.FinalStatus != domain.AttemptFailed {
		t.Fatalf("fetch failure not downgraded: %+v", bad)
	}
	if !strings.Contains(bad.Notes, "output fetch failed") {
		t.Fatalf("notes = %q", bad.Notes)
	}
}

func TestCollectFailedMemberKeepsMessage(t *testing.T) {
	batch, results := testBatchAndResults(2)
	results["member-01"].Attempts = []domain.RunAttempt{
		{ID: "a1", TaskID: "member-01", Attempt: 1, Status: domain.AttemptFailed, ExitCode: 1, Message: "first try"},
		{ID: "a2", TaskID: "member-01", Attempt: 2, Status: domain.AttemptTimedOut, ExitCode: -1, Message: "attempt deadline exceeded"},
	}

	fetcher := &fakeFetcher{}
	c, err := New(nil, fetcher, fakeValidator{}, t.TempDir())
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	manifest, err := c.Collect(context.Background(), batch, results)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	bad := manifest.Members[1]
	if bad.Succeeded {
		t.Fatal("failed member marked succeeded")
	}
	if bad.FinalStatus != domain.AttemptTimedOut || bad.Attempts != 2 {
		t.Fatalf("entry = %+v, want timed_out after 2 attempts", bad)
	}
	if bad.Notes != "attempt deadline exceeded" {
		t.Fatalf("notes = %q", bad.Notes)
	}
	for _, id := range fetcher.fetched {
		if id == "member-01" {
			t.Fatal("output fetched for a failed member")
		}
	}
}

func TestCollectMissingResult(t *testing.T) {
	batch, results := testBatchAndResults(2)
	delete(results, "member-01")

	c, err := New(nil, &fakeFetcher{}, fakeValidator{}, t.TempDir())
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	if _, err := c.Collect(context.Background(), batch, results); err == nil {
		t.Fatal("expected error for missing task result")
	}
}

func TestWriteManifest(t *testing.T) {
	root := t.TempDir()
	c, err := New(nil, &fakeFetcher{}, fakeValidator{}, root)
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}

	manifest := domain.NewResultManifest("b1", domain.ModeOperational, time.Now())
	if _, err := c.WriteManifest(manifest); err == nil {
		t.Fatal("unfinalized manifest written")
	}

	if err := manifest.Finalize(domain.BatchSucceeded, time.Now()); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	path, err := c.WriteManifest(manifest)
	if err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if path != filepath.Join(root, "b1", "manifest.json") {
		t.Fatalf("manifest path = %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("manifest is not valid JSON: %v", err)
	}
	if decoded["status"] != string(domain.BatchSucceeded) {
		t.Fatalf("status = %v", decoded["status"])
	}
}
