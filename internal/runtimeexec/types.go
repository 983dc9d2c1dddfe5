package runtimeexec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/onhm-labs/onhm-go/internal/domain"
)

// Runtime is the only point of contact with the container runtime. No other
// code path touches it directly.
type Runtime interface {
	Kind() string

	ImageExists(ctx context.Context, imageRef string) (bool, error)
	BuildImage(ctx context.Context, contextPath, tag string, noCache bool) error

	// Start launches a detached container for the task and returns a handle.
	// A failure to start is a LaunchError: the image is missing, a mount is
	// invalid, or the runtime rejected the container.
	Start(ctx context.Context, task domain.RunTask) (Handle, error)

	// Wait blocks until the container reaches a terminal state or the
	// timeout elapses. A timeout is reported as status timed_out, not as an
	// error; the caller decides whether to Cancel.
	Wait(ctx context.Context, handle Handle, timeout time.Duration) (WaitResult, error)

	// Cancel sends a termination signal and reclaims the container.
	// Best effort: a missing container is not an error.
	Cancel(ctx context.Context, handle Handle) error

	Logs(ctx context.Context, handle Handle) (string, error)
	Remove(ctx context.Context, handle Handle) error

	EnsureVolume(ctx context.Context, name string) error
	VolumeExists(ctx context.Context, name string) (bool, error)
	RemoveVolume(ctx context.Context, name string) error

	// CopyOut copies srcPath (a path inside the volume, as seen at
	// volumeMount) to destDir on the host, via a throwaway mounter
	// container.
	CopyOut(ctx context.Context, volume, volumeMount, srcPath, destDir string) error
}

// Handle identifies one started container.
type Handle struct {
	TaskID      string
	ContainerID string
	Name        string
}

// WaitResult is the terminal observation of one container attempt.
type WaitResult struct {
	Status   domain.AttemptStatus
	ExitCode int
	Message  string
}

var ErrImageNotFound = errors.New("image_not_found")
var ErrContainerNotFound = errors.New("container_not_found")

// LaunchError marks a container that could not be started at all. Launch
// failures are permanent for the task; retrying an unfixable launch
// condition wastes the retry budget.
type LaunchError struct {
	TaskID string
	Cause  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch task %s: %v", e.TaskID, e.Cause)
}

func (e *LaunchError) Unwrap() error {
	return e.Cause
}

// IsLaunchError reports whether err carries a LaunchError.
func IsLaunchError(err error) bool {
	var le *LaunchError
	return errors.As(err, &le)
}
