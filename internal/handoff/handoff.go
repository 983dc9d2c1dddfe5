// Package handoff relocates model outputs out of the shared volume: to
// host directories for inspection and, when configured, to long-term
// object storage.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/onhm-labs/onhm-go/internal/domain"
	"github.com/onhm-labs/onhm-go/internal/runtimeexec"
	"github.com/onhm-labs/onhm-go/internal/storage/objectstore"
)

// VolumeFetcher copies a member's output subtree from the shared volume to
// a host directory through the runtime's copy-out path.
type VolumeFetcher struct {
	runtime     runtimeexec.Runtime
	volume      string
	volumeMount string
}

func NewVolumeFetcher(runtime runtimeexec.Runtime, volume, volumeMount string) (*VolumeFetcher, error) {
	if runtime == nil {
		return nil, errors.New("runtime is required")
	}
	volume = strings.TrimSpace(volume)
	if volume == "" {
		return nil, errors.New("volume is required")
	}
	if strings.TrimSpace(volumeMount) == "" {
		volumeMount = "/nhm"
	}
	return &VolumeFetcher{runtime: runtime, volume: volume, volumeMount: volumeMount}, nil
}

func (f *VolumeFetcher) FetchOutput(ctx context.Context, task domain.RunTask, destDir string) (string, error) {
	src := strings.TrimSpace(task.OutputSubpath)
	if src == "" {
		return "", fmt.Errorf("task %s has no output subpath", task.ID)
	}
	if !strings.HasPrefix(src, "/") {
		src = path.Join(f.volumeMount, src)
	}
	if err := f.runtime.CopyOut(ctx, f.volume, f.volumeMount, src, destDir); err != nil {
		return "", err
	}
	return destDir, nil
}

// OpResultsConfig lists the volume subtrees the daily operational and
// forecast runs leave behind, and where to place them on the host.
type OpResultsConfig struct {
	Volume      string
	VolumeMount string
	ProjectRoot string
	OutputDir   string
	ForecastDir string
}

func (c OpResultsConfig) Validate() error {
	if strings.TrimSpace(c.Volume) == "" {
		return errors.New("volume is required")
	}
	if strings.TrimSpace(c.ProjectRoot) == "" {
		return errors.New("project root is required")
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return errors.New("output dir is required")
	}
	if strings.TrimSpace(c.ForecastDir) == "" {
		return errors.New("forecast dir is required")
	}
	return nil
}

// FetchOpResults copies the daily input/output/restart trees and their
// forecast counterparts from the shared volume to the host.
func FetchOpResults(ctx context.Context, runtime runtimeexec.Runtime, logger *slog.Logger, cfg OpResultsConfig) error {
	if runtime == nil {
		return errors.New("runtime is required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	mount := cfg.VolumeMount
	if strings.TrimSpace(mount) == "" {
		mount = "/nhm"
	}
	copies := []struct {
		src  string
		dest string
	}{
		{path.Join(cfg.ProjectRoot, "daily", "input"), cfg.OutputDir},
		{path.Join(cfg.ProjectRoot, "daily", "output"), cfg.OutputDir},
		{path.Join(cfg.ProjectRoot, "daily", "restart"), cfg.OutputDir},
		{path.Join(cfg.ProjectRoot, "forecast", "input"), cfg.ForecastDir},
		{path.Join(cfg.ProjectRoot, "forecast", "output"), cfg.ForecastDir},
		{path.Join(cfg.ProjectRoot, "forecast", "restart"), cfg.ForecastDir},
	}
	for _, c := range copies {
		if logger != nil {
			logger.Info("copying results", "component", "handoff", "src", c.src, "dest", c.dest)
		}
		if err := runtime.CopyOut(ctx, cfg.Volume, mount, c.src, c.dest); err != nil {
			return fmt.Errorf("copy %s: %w", c.src, err)
		}
	}
	return nil
}

// Upload pushes the finalized manifest and the batch's member directories
// to long-term object storage.
func Upload(ctx context.Context, store *objectstore.Store, logger *slog.Logger, manifest *domain.ResultManifest, batchDir string) error {
	if store == nil {
		return errors.New("store is required")
	}
	if !manifest.Finalized() {
		return errors.New("manifest must be finalized before upload")
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return err
	}
	key, err := store.PutJSON(ctx, manifest.BatchID, "manifest.json", manifest)
	if err != nil {
		return fmt.Errorf("upload manifest: %w", err)
	}
	count, err := store.PutDir(ctx, manifest.BatchID, batchDir)
	if err != nil {
		return err
	}
	if logger != nil {
		logger.Info("results uploaded", "component", "handoff", "manifest_key", key, "objects", count)
	}
	return nil
}
