// Package kernel determines the newest installed kernel for each supported
// distribution family. The analyzer compares those versions against the
// running kernel to decide whether a full system restart is due.
package kernel

import (
	"context"
	"fmt"

	"github.com/staleproc/restartcheck/internal/platform"
	"github.com/staleproc/restartcheck/pkg/models"
)

// Detector finds the version strings of the most recently installed kernel,
// spelled the way they would appear inside the uname string of a host that
// booted them.
type Detector interface {
	Detect(ctx context.Context) (models.KernelVersions, error)
}

// ForFamily returns the detector for family.
func ForFamily(family models.OSFamily, host platform.Host) (Detector, error) {
	switch family {
	case models.FamilyDebian:
		return &DebianDetector{Runner: host.Runner, Facts: host.Facts}, nil
	case models.FamilyRedHat:
		return &RedHatDetector{Runner: host.Runner}, nil
	case models.FamilyNILinuxRT:
		return &NILRTDetector{Runner: host.Runner, Facts: host.Facts, Root: "/"}, nil
	default:
		return nil, fmt.Errorf("no kernel detector for OS family %q", family)
	}
}
