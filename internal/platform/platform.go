// Package platform abstracts the host surface the analyzer touches: external
// commands, distribution facts, package ownership lookups and service manager
// queries. Everything is an interface so tests can run against scripted fakes
// instead of a live system.
package platform

import (
	"context"
	"os/exec"

	"go.uber.org/zap"

	"github.com/staleproc/restartcheck/pkg/models"
)

// Runner executes external commands and returns their standard output with
// the trailing newline removed.
type Runner interface {
	// Run executes a single command with arguments.
	Run(ctx context.Context, name string, args ...string) (string, error)
	// Shell executes a script through /bin/sh -c, for the few probes that
	// genuinely need a pipeline.
	Shell(ctx context.Context, script string) (string, error)
}

// Facts exposes the host identity facts the analyzer branches on.
type Facts interface {
	// OSFamily returns the package-management family of the host.
	OSFamily() models.OSFamily
	// OS returns the distribution name, e.g. "Ubuntu" or "Debian".
	OS() string
	// CPUArch returns the machine hardware name from uname.
	CPUArch() string
	// Kernel returns the full uname string of the running kernel.
	Kernel() string
}

// PackageOwner resolves an absolute file path to the name of the package that
// installed it. An empty name with a nil error means no package owns the path.
type PackageOwner interface {
	Owner(ctx context.Context, path string) (string, error)
}

// ServiceProbe answers whether the host's service manager knows a service by
// the given name.
type ServiceProbe interface {
	Available(ctx context.Context, name string) bool
}

// Host bundles the collaborators for one host. The zero value is not usable;
// construct it with NewHost or assemble it from fakes in tests.
type Host struct {
	Runner  Runner
	Facts   Facts
	Pkg     PackageOwner
	Service ServiceProbe
}

// NewHost detects the local host and wires up the family-specific
// collaborators. The package owner is left nil for unsupported families; the
// analyzer rejects those before any lookup happens.
func NewHost(root string, logger *zap.Logger) (Host, error) {
	facts, err := DetectFacts(root)
	if err != nil {
		return Host{}, err
	}
	runner := NewExecRunner(logger)

	var owner PackageOwner
	switch facts.OSFamily() {
	case models.FamilyDebian:
		owner = DpkgOwner{Runner: runner}
	case models.FamilyRedHat:
		owner = RpmOwner{Runner: runner}
	case models.FamilyNILinuxRT:
		owner = OpkgOwner{Runner: runner}
	}

	var probe ServiceProbe
	if _, err := exec.LookPath("systemctl"); err == nil {
		probe = SystemdProbe{Runner: runner}
	} else {
		probe = InitdProbe{Root: root}
	}

	return Host{Runner: runner, Facts: facts, Pkg: owner, Service: probe}, nil
}
