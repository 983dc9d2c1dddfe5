package staging

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/onhm-labs/onhm-go/internal/domain"
	"github.com/onhm-labs/onhm-go/internal/runtimeexec"
)

var restartDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// LatestRestartDate finds the date of the newest .restart file in
// restartDir inside the shared volume. The model's next run starts the
// day after this state.
func LatestRestartDate(ctx context.Context, runtime runtimeexec.Runtime, volume, volumeMount, image, restartDir string) (string, error) {
	if runtime == nil {
		return "", fmt.Errorf("runtime is required")
	}
	if strings.TrimSpace(restartDir) == "" {
		return "", fmt.Errorf("restart dir is required")
	}
	if strings.TrimSpace(volumeMount) == "" {
		volumeMount = "/nhm"
	}

	task := domain.RunTask{
		ID:            "restart-date",
		BatchID:       "restart-probe",
		ImageRef:      image,
		ContainerName: "onhm-restart-probe-" + uuid.NewString()[:8],
		Mounts: []domain.Mount{
			{Source: volume, Target: volumeMount, Mode: domain.MountReadOnly},
		},
		Env:           map[string]string{"TERM": "dumb"},
		Command:       []string{"sh", "-c", "ls -1 *.restart | sort | tail -1 | cut -f1 -d ."},
		WorkingDir:    restartDir,
		OutputSubpath: restartDir,
	}

	handle, err := runtime.Start(ctx, task)
	if err != nil {
		return "", err
	}
	defer func() { _ = runtime.Remove(context.WithoutCancel(ctx), handle) }()

	res, err := runtime.Wait(ctx, handle, 0)
	if err != nil {
		return "", err
	}
	if res.Status != domain.AttemptSucceeded {
		return "", fmt.Errorf("restart date probe exited with status %s: %s", res.Status, res.Message)
	}

	logs, err := runtime.Logs(ctx, handle)
	if err != nil {
		return "", err
	}
	date := strings.TrimSpace(logs)
	if lines := strings.Split(date, "\n"); len(lines) > 0 {
		date = strings.TrimSpace(lines[len(lines)-1])
	}
	if !restartDatePattern.MatchString(date) {
		return "", fmt.Errorf("no restart file found in %s (got %q)", restartDir, date)
	}
	return date, nil
}
