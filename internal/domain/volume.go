package domain

import (
	"errors"
	"fmt"
	"strings"
)

// VolumePurpose tags what a shared volume holds.
type VolumePurpose string

const (
	VolumeInput   VolumePurpose = "input"
	VolumeScratch VolumePurpose = "scratch"
	VolumeOutput  VolumePurpose = "output"
)

// Volume is a named shared volume. Volumes are shared by reference across
// all tasks of a batch; no task owns one exclusively.
type Volume struct {
	Name    string
	Purpose VolumePurpose
	// Retain keeps the volume across batches. Input and output volumes are
	// retained; scratch volumes may be reclaimed once the batch is terminal.
	Retain bool
}

func (v Volume) Validate() error {
	if strings.TrimSpace(v.Name) == "" {
		return errors.New("volume name is required")
	}
	switch v.Purpose {
	case VolumeInput, VolumeScratch, VolumeOutput:
		return nil
	default:
		return fmt.Errorf("unknown volume purpose: %q", v.Purpose)
	}
}
