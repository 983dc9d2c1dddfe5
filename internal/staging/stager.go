// Package staging materializes required input data into named shared
// volumes before any run starts.
package staging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/onhm-labs/onhm-go/internal/domain"
	"github.com/onhm-labs/onhm-go/internal/runtimeexec"
)

// Source describes one input dataset and how to materialize it. CheckPath
// is a sentinel path inside the volume; when it exists the source is
// already staged and Prepare is a no-op for it.
type Source struct {
	Name         string
	Volume       string
	VolumeMount  string
	Image        string
	WorkingDir   string
	CheckPath    string
	FetchCommand string
	Env          map[string]string
	// Always skips the sentinel probe and runs the image's entrypoint
	// unconditionally. Used for conversion steps that rewrite the same
	// content for an unchanged input window.
	Always bool
}

func (s Source) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("source name is required")
	}
	if strings.TrimSpace(s.Volume) == "" {
		return fmt.Errorf("source %s: volume is required", s.Name)
	}
	if strings.TrimSpace(s.Image) == "" {
		return fmt.Errorf("source %s: image is required", s.Name)
	}
	if !s.Always && strings.TrimSpace(s.CheckPath) == "" {
		return fmt.Errorf("source %s: check path is required", s.Name)
	}
	return nil
}

// Error reports a required input that could not be materialized. Staging
// errors are fatal to the batch.
type Error struct {
	Source string
	Cause  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("stage source %s: %v", e.Source, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

type Stager struct {
	runtime      runtimeexec.Runtime
	logger       *slog.Logger
	probeTimeout time.Duration
	fetchTimeout time.Duration
	env          map[string]string
}

func NewStager(runtime runtimeexec.Runtime, logger *slog.Logger, probeTimeout, fetchTimeout time.Duration, env map[string]string) (*Stager, error) {
	if runtime == nil {
		return nil, fmt.Errorf("runtime is required")
	}
	if probeTimeout <= 0 {
		probeTimeout = 2 * time.Minute
	}
	if fetchTimeout <= 0 {
		fetchTimeout = 2 * time.Hour
	}
	return &Stager{
		runtime:      runtime,
		logger:       logger,
		probeTimeout: probeTimeout,
		fetchTimeout: fetchTimeout,
		env:          env,
	}, nil
}

// Prepare makes every source's volume ready and returns the ready volume
// names. Re-invoking for a volume already populated with matching content
// is a no-op, so a whole batch can be retried safely.
func (st *Stager) Prepare(ctx context.Context, batchID string, sources []Source) ([]string, error) {
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return nil, fmt.Errorf("batch id is required")
	}
	ready := make([]string, 0, len(sources))
	seen := map[string]struct{}{}
	for _, src := range sources {
		if err := src.Validate(); err != nil {
			return nil, &Error{Source: src.Name, Cause: err}
		}
		if err := st.prepareSource(ctx, batchID, src); err != nil {
			return nil, err
		}
		if _, ok := seen[src.Volume]; !ok {
			seen[src.Volume] = struct{}{}
			ready = append(ready, src.Volume)
		}
	}
	return ready, nil
}

func (st *Stager) prepareSource(ctx context.Context, batchID string, src Source) error {
	if err := st.runtime.EnsureVolume(ctx, src.Volume); err != nil {
		return &Error{Source: src.Name, Cause: err}
	}

	if src.Always {
		st.log("running staging step", "source", src.Name, "image", src.Image)
		task := st.stageTask(batchID, src, "step", nil)
		res, err := st.runOnce(ctx, task, st.fetchTimeout)
		if err != nil {
			return &Error{Source: src.Name, Cause: err}
		}
		if res.Status != domain.AttemptSucceeded {
			return &Error{Source: src.Name, Cause: fmt.Errorf("staging step exited with status %s (exit code %d): %s", res.Status, res.ExitCode, res.Message)}
		}
		return nil
	}

	staged, err := st.probe(ctx, batchID, src)
	if err != nil {
		return &Error{Source: src.Name, Cause: err}
	}
	if staged {
		st.log("source already staged", "source", src.Name, "check_path", src.CheckPath)
		return nil
	}
	if strings.TrimSpace(src.FetchCommand) == "" {
		return &Error{Source: src.Name, Cause: fmt.Errorf("data missing at %s and no fetch command configured", src.CheckPath)}
	}

	st.log("fetching source", "source", src.Name, "volume", src.Volume)
	if err := st.fetch(ctx, batchID, src); err != nil {
		return &Error{Source: src.Name, Cause: err}
	}

	staged, err = st.probe(ctx, batchID, src)
	if err != nil {
		return &Error{Source: src.Name, Cause: err}
	}
	if !staged {
		return &Error{Source: src.Name, Cause: fmt.Errorf("fetch completed but %s still missing", src.CheckPath)}
	}
	return nil
}

// probe runs a short-lived container that tests the sentinel path.
func (st *Stager) probe(ctx context.Context, batchID string, src Source) (bool, error) {
	task := st.stageTask(batchID, src, "probe", []string{
		"sh", "-c", "test -e " + src.CheckPath,
	})
	res, err := st.runOnce(ctx, task, st.probeTimeout)
	if err != nil {
		return false, err
	}
	switch res.Status {
	case domain.AttemptSucceeded:
		return true, nil
	case domain.AttemptFailed:
		return false, nil
	default:
		return false, fmt.Errorf("probe for %s did not complete: %s", src.CheckPath, res.Status)
	}
}

func (st *Stager) fetch(ctx context.Context, batchID string, src Source) error {
	task := st.stageTask(batchID, src, "fetch", []string{"sh", "-c", src.FetchCommand})
	res, err := st.runOnce(ctx, task, st.fetchTimeout)
	if err != nil {
		return err
	}
	if res.Status != domain.AttemptSucceeded {
		return fmt.Errorf("fetch exited with status %s (exit code %d): %s", res.Status, res.ExitCode, res.Message)
	}
	return nil
}

func (st *Stager) runOnce(ctx context.Context, task domain.RunTask, timeout time.Duration) (runtimeexec.WaitResult, error) {
	handle, err := st.runtime.Start(ctx, task)
	if err != nil {
		return runtimeexec.WaitResult{}, err
	}
	defer func() { _ = st.runtime.Remove(context.WithoutCancel(ctx), handle) }()

	res, err := st.runtime.Wait(ctx, handle, timeout)
	if err != nil {
		_ = st.runtime.Cancel(context.WithoutCancel(ctx), handle)
		return runtimeexec.WaitResult{}, err
	}
	if res.Status == domain.AttemptTimedOut {
		_ = st.runtime.Cancel(context.WithoutCancel(ctx), handle)
	}
	return res, nil
}

func (st *Stager) stageTask(batchID string, src Source, kind string, command []string) domain.RunTask {
	mount := src.VolumeMount
	if strings.TrimSpace(mount) == "" {
		mount = "/nhm"
	}
	env := map[string]string{"TERM": "dumb"}
	for k, v := range st.env {
		env[k] = v
	}
	for k, v := range src.Env {
		env[k] = v
	}
	return domain.RunTask{
		ID:            "stage-" + kind + "-" + src.Name,
		BatchID:       batchID,
		ImageRef:      src.Image,
		ContainerName: "onhm-stage-" + src.Name + "-" + uuid.NewString()[:8],
		Mounts: []domain.Mount{
			{Source: src.Volume, Target: mount, Mode: domain.MountReadWrite},
		},
		Env:           env,
		Command:       command,
		WorkingDir:    src.WorkingDir,
		OutputSubpath: mount + "/" + src.Name,
	}
}

func (st *Stager) log(msg string, attrs ...any) {
	if st.logger == nil {
		return
	}
	fields := []any{"component", "stager"}
	fields = append(fields, attrs...)
	st.logger.Info(msg, fields...)
}
