// Package initsys discovers how a package's services can be restarted: init
// scripts under /etc/init.d and non-oneshot systemd service units, with a
// service-manager probe as the fallback when the package installs neither.
package initsys

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/staleproc/restartcheck/internal/pkgquery"
	"github.com/staleproc/restartcheck/internal/platform"
	"github.com/staleproc/restartcheck/pkg/models"
)

// Config names the restart handle locations for one OS family. An empty
// SystemdBin disables the unit scan entirely.
type Config struct {
	InitDir    string
	UnitDir    string
	SystemdBin string
}

// ConfigFor returns the handle locations for a family. Debian ships units
// under /lib, Red Hat under /usr/lib; NI Linux RT has no systemd at all.
func ConfigFor(family models.OSFamily) Config {
	switch family {
	case models.FamilyDebian:
		return Config{
			InitDir:    "/etc/init.d/",
			UnitDir:    "/lib/systemd/system/",
			SystemdBin: "/bin/systemd",
		}
	case models.FamilyRedHat:
		return Config{
			InitDir:    "/etc/init.d/",
			UnitDir:    "/usr/lib/systemd/system/",
			SystemdBin: "/usr/bin/systemctl",
		}
	case models.FamilyNILinuxRT:
		return Config{InitDir: "/etc/init.d/"}
	default:
		return Config{}
	}
}

// Resolver classifies the files a package installed into restart handles.
// Root points the filesystem probes at "/" in production and at a scratch
// tree in tests.
type Resolver struct {
	Root string

	lister pkgquery.FileLister
	probe  platform.ServiceProbe
	cfg    Config
	log    *zap.Logger
}

// NewResolver returns a resolver for one family configuration.
func NewResolver(lister pkgquery.FileLister, probe platform.ServiceProbe, cfg Config, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{Root: "/", lister: lister, probe: probe, cfg: cfg, log: logger}
}

// Populate fills in the restart handles for one package entry. Handle names
// are recorded relative to their directory, ready for command synthesis. A
// failed file query is treated as an empty file list; the service-manager
// fallback still runs.
func (r *Resolver) Populate(ctx context.Context, e *models.PackageEntry) {
	paths, err := r.lister.Files(ctx, e.Name)
	if err != nil {
		r.log.Debug("package file query failed",
			zap.String("package", e.Name), zap.Error(err))
	}

	systemd := r.systemdPresent()
	for _, path := range paths {
		if strings.HasPrefix(path, r.cfg.InitDir) && !strings.HasSuffix(path, ".sh") {
			e.InitScripts = append(e.InitScripts, strings.TrimPrefix(path, r.cfg.InitDir))
		}
		if systemd && strings.HasPrefix(path, r.cfg.UnitDir) &&
			strings.HasSuffix(path, ".service") && !strings.Contains(path, ".wants") {
			oneshot, err := r.unitIsOneshot(path)
			if err != nil {
				continue
			}
			if !oneshot {
				e.Units = append(e.Units, strings.TrimPrefix(path, r.cfg.UnitDir))
			}
		}
	}

	if len(e.InitScripts) == 0 && len(e.Units) == 0 {
		r.fallback(ctx, e)
	}
}

// fallback asks the service manager about the process name itself. A known
// name becomes an init script when the script file exists, otherwise it is
// assumed to be a unit.
func (r *Resolver) fallback(ctx context.Context, e *models.PackageEntry) {
	if !r.probe.Available(ctx, e.ProcessName) {
		return
	}
	if _, err := os.Stat(r.hostPath(r.cfg.InitDir + e.ProcessName)); err == nil {
		e.InitScripts = append(e.InitScripts, e.ProcessName)
	} else {
		e.Units = append(e.Units, e.ProcessName)
	}
}

func (r *Resolver) systemdPresent() bool {
	if r.cfg.SystemdBin == "" {
		return false
	}
	_, err := os.Stat(r.hostPath(r.cfg.SystemdBin))
	return err == nil
}

// unitIsOneshot reports whether the unit file declares Type=oneshot. Oneshot
// units finish and exit, so restarting them does not bring a daemon back.
func (r *Resolver) unitIsOneshot(unitPath string) (bool, error) {
	f, err := os.Open(r.hostPath(unitPath))
	if err != nil {
		return false, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.Contains(sc.Text(), "Type=oneshot") {
			return true, nil
		}
	}
	return false, sc.Err()
}

func (r *Resolver) hostPath(path string) string {
	return filepath.Join(r.Root, path)
}
