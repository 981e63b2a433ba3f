package platform

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// SystemdProbe asks systemctl whether a service unit is known to the host.
type SystemdProbe struct {
	Runner Runner
}

var _ ServiceProbe = SystemdProbe{}

// Available reports whether name.service appears in the unit file list.
func (p SystemdProbe) Available(ctx context.Context, name string) bool {
	unit := name + ".service"
	out, err := p.Runner.Run(ctx, "systemctl",
		"list-unit-files", "--full", "--type=service", "--no-legend", "--no-pager", unit)
	if err != nil {
		return false
	}
	return strings.Contains(out, unit)
}

// InitdProbe checks for a script under /etc/init.d, for hosts without
// systemd.
type InitdProbe struct {
	Root string
}

var _ ServiceProbe = InitdProbe{}

// Available reports whether an init script named name exists.
func (p InitdProbe) Available(_ context.Context, name string) bool {
	root := p.Root
	if root == "" {
		root = "/"
	}
	info, err := os.Stat(filepath.Join(root, "etc/init.d", name))
	return err == nil && info.Mode().IsRegular()
}
