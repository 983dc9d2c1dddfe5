package runtimeexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/onhm-labs/onhm-go/internal/domain"
)

// DockerRuntime drives containers through the docker CLI.
type DockerRuntime struct {
	dockerBin    string
	mounterImage string
}

func NewDockerRuntime(dockerBin, mounterImage string) (*DockerRuntime, error) {
	dockerBin = strings.TrimSpace(dockerBin)
	if dockerBin == "" {
		dockerBin = "docker"
	}
	if _, err := exec.LookPath(dockerBin); err != nil {
		return nil, fmt.Errorf("docker binary not found: %w", err)
	}
	mounterImage = strings.TrimSpace(mounterImage)
	if mounterImage == "" {
		mounterImage = "alpine"
	}
	return &DockerRuntime{dockerBin: dockerBin, mounterImage: mounterImage}, nil
}

func (r *DockerRuntime) Kind() string {
	return "docker"
}

func (r *DockerRuntime) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, r.dockerBin, args...)
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		return text, fmt.Errorf("docker %s failed: %w: %s", args[0], err, text)
	}
	return text, nil
}

func (r *DockerRuntime) ImageExists(ctx context.Context, imageRef string) (bool, error) {
	imageRef = strings.TrimSpace(imageRef)
	if imageRef == "" {
		return false, errors.New("image ref is required")
	}
	text, err := r.run(ctx, "image", "inspect", "--format", "{{.Id}}", imageRef)
	if err != nil {
		if isNotFoundText(text) {
			return false, nil
		}
		return false, err
	}
	return strings.TrimSpace(text) != "", nil
}

func (r *DockerRuntime) BuildImage(ctx context.Context, contextPath, tag string, noCache bool) error {
	contextPath = strings.TrimSpace(contextPath)
	tag = strings.TrimSpace(tag)
	if contextPath == "" || tag == "" {
		return errors.New("build context and tag are required")
	}
	args := []string{"build", "--rm", "-t", tag}
	if noCache {
		args = append(args, "--no-cache")
	}
	args = append(args, contextPath)
	_, err := r.run(ctx, args...)
	return err
}

func (r *DockerRuntime) Start(ctx context.Context, task domain.RunTask) (Handle, error) {
	if err := task.Validate(); err != nil {
		return Handle{}, &LaunchError{TaskID: task.ID, Cause: err}
	}

	// A leftover container with the same name from an earlier batch blocks
	// the new one; reclaim it first.
	_ = r.removeByName(ctx, task.ContainerName)

	args := []string{"run", "--detach", "--name", task.ContainerName}
	for _, m := range task.Mounts {
		spec := m.Source + ":" + m.Target
		if m.Mode == domain.MountReadOnly {
			spec += ":ro"
		}
		args = append(args, "-v", spec)
	}
	for _, key := range task.SortedEnvKeys() {
		args = append(args, "-e", key+"="+task.Env[key])
	}
	if strings.TrimSpace(task.WorkingDir) != "" {
		args = append(args, "-w", task.WorkingDir)
	}
	args = append(args, task.ImageRef)
	args = append(args, task.Command...)

	text, err := r.run(ctx, args...)
	if err != nil {
		cause := err
		if isImageMissingText(text) {
			cause = fmt.Errorf("%w: %s", ErrImageNotFound, text)
		}
		return Handle{}, &LaunchError{TaskID: task.ID, Cause: cause}
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Handle{}, &LaunchError{TaskID: task.ID, Cause: errors.New("empty container id from docker run")}
	}
	id := fields[len(fields)-1]
	return Handle{TaskID: task.ID, ContainerID: id, Name: task.ContainerName}, nil
}

func (r *DockerRuntime) Wait(ctx context.Context, handle Handle, timeout time.Duration) (WaitResult, error) {
	name := handleRef(handle)
	if name == "" {
		return WaitResult{}, errors.New("container handle is required")
	}
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	text, err := r.run(waitCtx, "wait", name)
	if err != nil {
		if waitCtx.Err() != nil && ctx.Err() == nil {
			// Attempt timeout elapsed while the parent context is alive.
			return WaitResult{Status: domain.AttemptTimedOut, ExitCode: -1, Message: "attempt timeout elapsed"}, nil
		}
		if ctx.Err() != nil {
			return WaitResult{}, ctx.Err()
		}
		if isNotFoundText(text) {
			return WaitResult{}, fmt.Errorf("%w: %s", ErrContainerNotFound, name)
		}
		return WaitResult{}, err
	}

	code, convErr := strconv.Atoi(strings.TrimSpace(text))
	if convErr != nil {
		return WaitResult{}, fmt.Errorf("parse docker wait output %q: %w", text, convErr)
	}
	state, stateErr := r.inspectState(ctx, name)
	message := "exit status " + strconv.Itoa(code)
	if stateErr == nil && strings.TrimSpace(state.Error) != "" {
		message = strings.TrimSpace(state.Error)
	}
	status := domain.AttemptSucceeded
	if code != 0 {
		status = domain.AttemptFailed
	}
	return WaitResult{Status: status, ExitCode: code, Message: message}, nil
}

func (r *DockerRuntime) Cancel(ctx context.Context, handle Handle) error {
	name := handleRef(handle)
	if name == "" {
		return errors.New("container handle is required")
	}
	if text, err := r.run(ctx, "stop", "--time", "10", name); err != nil && !isNotFoundText(text) {
		return err
	}
	return r.removeByName(ctx, name)
}

func (r *DockerRuntime) Logs(ctx context.Context, handle Handle) (string, error) {
	name := handleRef(handle)
	if name == "" {
		return "", errors.New("container handle is required")
	}
	cmd := exec.CommandContext(ctx, r.dockerBin, "logs", name)
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		if isNotFoundText(text) {
			return "", fmt.Errorf("%w: %s", ErrContainerNotFound, name)
		}
		return "", fmt.Errorf("docker logs failed: %w: %s", err, text)
	}
	return text, nil
}

func (r *DockerRuntime) Remove(ctx context.Context, handle Handle) error {
	name := handleRef(handle)
	if name == "" {
		return errors.New("container handle is required")
	}
	return r.removeByName(ctx, name)
}

func (r *DockerRuntime) EnsureVolume(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("volume name is required")
	}
	// docker volume create is idempotent for an existing name.
	_, err := r.run(ctx, "volume", "create", name)
	return err
}

func (r *DockerRuntime) VolumeExists(ctx context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, errors.New("volume name is required")
	}
	text, err := r.run(ctx, "volume", "inspect", "--format", "{{.Name}}", name)
	if err != nil {
		if isNotFoundText(text) {
			return false, nil
		}
		return false, err
	}
	return strings.TrimSpace(text) == name, nil
}

func (r *DockerRuntime) RemoveVolume(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("volume name is required")
	}
	text, err := r.run(ctx, "volume", "rm", name)
	if err != nil && !isNotFoundText(text) {
		return err
	}
	return nil
}

func (r *DockerRuntime) CopyOut(ctx context.Context, volume, volumeMount, srcPath, destDir string) error {
	volume = strings.TrimSpace(volume)
	volumeMount = strings.TrimSpace(volumeMount)
	srcPath = strings.TrimSpace(srcPath)
	destDir = strings.TrimSpace(destDir)
	if volume == "" || volumeMount == "" || srcPath == "" || destDir == "" {
		return errors.New("volume, mount, source and destination are required")
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create destination %s: %w", destDir, err)
	}

	mounter := "onhm-mounter-" + uuid.NewString()[:8]
	if _, err := r.run(ctx, "create", "--name", mounter, "-v", volume+":"+volumeMount, r.mounterImage, "true"); err != nil {
		return err
	}
	defer func() { _ = r.removeByName(context.WithoutCancel(ctx), mounter) }()

	if _, err := r.run(ctx, "cp", mounter+":"+srcPath, destDir); err != nil {
		return err
	}
	return nil
}

type dockerContainerState struct {
	Status     string    `json:"Status"`
	ExitCode   int       `json:"ExitCode"`
	Error      string    `json:"Error"`
	FinishedAt time.Time `json:"FinishedAt"`
}

func (r *DockerRuntime) inspectState(ctx context.Context, name string) (dockerContainerState, error) {
	text, err := r.run(ctx, "inspect", "--format", "{{json .State}}", name)
	if err != nil {
		if isNotFoundText(text) {
			return dockerContainerState{}, fmt.Errorf("%w: %s", ErrContainerNotFound, name)
		}
		return dockerContainerState{}, err
	}
	var state dockerContainerState
	if err := json.Unmarshal([]byte(text), &state); err != nil {
		return dockerContainerState{}, fmt.Errorf("parse docker inspect: %w", err)
	}
	return state, nil
}

func (r *DockerRuntime) removeByName(ctx context.Context, name string) error {
	text, err := r.run(ctx, "rm", "--force", name)
	if err != nil && !isNotFoundText(text) {
		return err
	}
	return nil
}

func handleRef(handle Handle) string {
	if name := strings.TrimSpace(handle.Name); name != "" {
		return name
	}
	return strings.TrimSpace(handle.ContainerID)
}

func isNotFoundText(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "no such object") ||
		strings.Contains(lower, "no such container") ||
		strings.Contains(lower, "no such volume") ||
		strings.Contains(lower, "not found")
}

func isImageMissingText(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "no such image") ||
		strings.Contains(lower, "pull access denied") ||
		strings.Contains(lower, "manifest unknown") ||
		strings.Contains(lower, "not found")
}
