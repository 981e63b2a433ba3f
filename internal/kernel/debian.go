package kernel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/staleproc/restartcheck/internal/platform"
	"github.com/staleproc/restartcheck/pkg/models"
)

// DebianDetector resolves the newest installed kernel through dpkg and
// apt-cache.
type DebianDetector struct {
	Runner platform.Runner
	Facts  platform.Facts
}

var _ Detector = (*DebianDetector)(nil)

// Detect picks the newest linux-image package from the dpkg selections and
// reads its installed version from apt-cache policy. On Ubuntu the package
// version X.Y.Z-N.M is additionally expanded into the "X.Y.Z-N-generic #M"
// and "-lowlatency" forms, which is how the booted kernel reports itself.
func (d *DebianDetector) Detect(ctx context.Context) (models.KernelVersions, error) {
	out, err := d.Runner.Run(ctx, "dpkg", "--get-selections", "linux-image-*")
	if err != nil {
		return nil, fmt.Errorf("query installed kernel packages: %w", err)
	}
	if out == "" {
		return nil, errors.New("no linux-image packages installed")
	}

	// Selections sort by version with the meta package last, so the
	// second-to-last line names the newest real image.
	lines := strings.Split(out, "\n")
	pick := lines[0]
	if len(lines) >= 2 {
		pick = lines[len(lines)-2]
	}
	fields := strings.Fields(pick)
	if len(fields) == 0 {
		return nil, fmt.Errorf("unexpected dpkg selections line %q", pick)
	}
	pkg := fields[0]

	policy, err := d.Runner.Run(ctx, "apt-cache", "policy", pkg)
	if err != nil {
		return nil, fmt.Errorf("read policy for %s: %w", pkg, err)
	}
	var versions models.KernelVersions
	for _, line := range strings.Split(policy, "\n") {
		if strings.HasPrefix(line, "  Installed: ") {
			versions = append(versions, strings.TrimPrefix(line, "  Installed: "))
			break
		}
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("no installed version for %s in apt-cache policy", pkg)
	}

	if d.Facts.OS() == "Ubuntu" {
		if i := strings.LastIndex(versions[0], "."); i >= 0 {
			base, abi := versions[0][:i], versions[0][i+1:]
			versions = append(versions,
				base+"-generic #"+abi,
				base+"-lowlatency #"+abi,
			)
		}
	}
	return versions, nil
}
