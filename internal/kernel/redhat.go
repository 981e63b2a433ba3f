package kernel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/staleproc/restartcheck/internal/platform"
	"github.com/staleproc/restartcheck/pkg/models"
)

// RedHatDetector reads the most recently installed kernel from the rpm
// install history.
type RedHatDetector struct {
	Runner platform.Runner
}

var _ Detector = (*RedHatDetector)(nil)

// Detect returns the version of the newest kernel package. rpm -q --last
// sorts by install time, newest first, so the first kernel- line wins.
func (d *RedHatDetector) Detect(ctx context.Context) (models.KernelVersions, error) {
	out, err := d.Runner.Run(ctx, "rpm", "-q", "--last", "kernel")
	if err != nil {
		return nil, fmt.Errorf("query kernel install history: %w", err)
	}
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "kernel-") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		return models.KernelVersions{strings.TrimPrefix(fields[0], "kernel-")}, nil
	}
	return nil, errors.New("no kernel packages in rpm install history")
}
