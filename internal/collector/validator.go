package collector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/onhm-labs/onhm-go/internal/domain"
)

// Validator checks one member's fetched output. The format-specific check
// is pluggable per run mode.
type Validator interface {
	Validate(ctx context.Context, task domain.RunTask, outputPath string) error
}

// NonEmptyDirValidator accepts any output directory containing at least one
// non-empty regular file.
type NonEmptyDirValidator struct{}

func (NonEmptyDirValidator) Validate(_ context.Context, _ domain.RunTask, outputPath string) error {
	info, err := os.Stat(outputPath)
	if err != nil {
		return fmt.Errorf("output missing: %w", err)
	}
	if !info.IsDir() {
		if info.Size() == 0 {
			return fmt.Errorf("output file %s is empty", outputPath)
		}
		return nil
	}
	found := false
	walkErr := filepath.WalkDir(outputPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			fi, statErr := d.Info()
			if statErr != nil {
				return statErr
			}
			if fi.Size() > 0 {
				found = true
				return filepath.SkipAll
			}
		}
		return nil
	})
	if walkErr != nil {
		return walkErr
	}
	if !found {
		return fmt.Errorf("output directory %s has no non-empty files", outputPath)
	}
	return nil
}

// RequiredFilesValidator checks that a fixed set of files exists under the
// output path and each is at least MinBytes long.
type RequiredFilesValidator struct {
	Required []string
	MinBytes int64
}

func (v RequiredFilesValidator) Validate(_ context.Context, _ domain.RunTask, outputPath string) error {
	for _, name := range v.Required {
		path := filepath.Join(outputPath, name)
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("required output %s missing: %w", name, err)
		}
		if info.Size() < v.MinBytes {
			return fmt.Errorf("required output %s is %d bytes, expected at least %d", name, info.Size(), v.MinBytes)
		}
	}
	return nil
}
