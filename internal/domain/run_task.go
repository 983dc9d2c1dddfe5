package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// MountMode controls whether a container sees a volume read-only or read-write.
type MountMode string

const (
	MountReadOnly  MountMode = "ro"
	MountReadWrite MountMode = "rw"
)

// Mount binds a named volume or host path into a container.
type Mount struct {
	Source string
	Target string
	Mode   MountMode
}

// RunTask describes one containerized execution unit. Immutable once built;
// the scheduler copies it by value.
type RunTask struct {
	ID            string
	BatchID       string
	MemberIndex   int
	ImageRef      string
	ContainerName string
	Mounts        []Mount
	Env           map[string]string
	Command       []string
	WorkingDir    string
	// OutputSubpath is the container-side directory this member writes its
	// results to. Members of one batch must use disjoint subpaths.
	OutputSubpath string
	MaxRetries    int
}

func (m Mount) Validate() error {
	if strings.TrimSpace(m.Source) == "" {
		return errors.New("mount source is required")
	}
	if !strings.HasPrefix(m.Target, "/") {
		return fmt.Errorf("mount target must be absolute: %q", m.Target)
	}
	switch m.Mode {
	case MountReadOnly, MountReadWrite:
		return nil
	default:
		return fmt.Errorf("unknown mount mode: %q", m.Mode)
	}
}

func (t RunTask) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("task id is required")
	}
	if strings.TrimSpace(t.BatchID) == "" {
		return errors.New("batch id is required")
	}
	if t.MemberIndex < 0 {
		return errors.New("member index must be >= 0")
	}
	if strings.TrimSpace(t.ImageRef) == "" {
		return errors.New("image ref is required")
	}
	if strings.TrimSpace(t.ContainerName) == "" {
		return errors.New("container name is required")
	}
	if t.MaxRetries < 0 {
		return errors.New("max retries must be >= 0")
	}
	for _, m := range t.Mounts {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SortedEnvKeys returns the task's env keys in a stable order for
// reproducible container invocations.
func (t RunTask) SortedEnvKeys() []string {
	keys := make([]string, 0, len(t.Env))
	for k := range t.Env {
		if strings.TrimSpace(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DisjointOutputSubpaths reports whether every task writes to its own
// output subpath. Concurrent members sharing a subpath would race.
func DisjointOutputSubpaths(tasks []RunTask) bool {
	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		p := strings.TrimSpace(t.OutputSubpath)
		if p == "" {
			return false
		}
		if _, ok := seen[p]; ok {
			return false
		}
		seen[p] = struct{}{}
	}
	return true
}
