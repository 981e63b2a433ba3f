package initsys

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/staleproc/restartcheck/internal/testutil"
	"github.com/staleproc/restartcheck/pkg/models"
)

type fixedLister struct {
	files map[string][]string
	err   error
}

func (l fixedLister) Files(_ context.Context, pkg string) ([]string, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.files[pkg], nil
}

func writeHostFile(t *testing.T, root, path, content string) {
	t.Helper()
	full := filepath.Join(root, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestPopulateDebianHandles(t *testing.T) {
	root := t.TempDir()
	writeHostFile(t, root, "bin/systemd", "")
	writeHostFile(t, root, "lib/systemd/system/nginx.service", "[Service]\nType=forking\n")
	writeHostFile(t, root, "lib/systemd/system/nginx-config.service", "[Service]\nType=oneshot\n")

	lister := fixedLister{files: map[string][]string{
		"nginx-core": {
			"/usr/sbin/nginx",
			"/etc/init.d/nginx",
			"/etc/init.d/nginx-migrate.sh",
			"/lib/systemd/system/nginx.service",
			"/lib/systemd/system/nginx-config.service",
			"/lib/systemd/system/multi-user.target.wants/nginx.service",
			"/lib/systemd/system/nginx.socket",
		},
	}}

	r := NewResolver(lister, testutil.FakeProbe{}, ConfigFor(models.FamilyDebian), zap.NewNop())
	r.Root = root

	e := &models.PackageEntry{Name: "nginx-core", ProcessName: "nginx"}
	r.Populate(context.Background(), e)

	if want := []string{"nginx"}; !reflect.DeepEqual(e.InitScripts, want) {
		t.Errorf("InitScripts = %v, want %v", e.InitScripts, want)
	}
	if want := []string{"nginx.service"}; !reflect.DeepEqual(e.Units, want) {
		t.Errorf("Units = %v, want %v (oneshot, .wants and non-.service files excluded)", e.Units, want)
	}
}

func TestPopulateWithoutSystemd(t *testing.T) {
	root := t.TempDir()
	// No bin/systemd in the tree: unit files must be ignored entirely.
	writeHostFile(t, root, "lib/systemd/system/nginx.service", "[Service]\nType=forking\n")

	lister := fixedLister{files: map[string][]string{
		"nginx-core": {
			"/etc/init.d/nginx",
			"/lib/systemd/system/nginx.service",
		},
	}}

	r := NewResolver(lister, testutil.FakeProbe{}, ConfigFor(models.FamilyDebian), zap.NewNop())
	r.Root = root

	e := &models.PackageEntry{Name: "nginx-core", ProcessName: "nginx"}
	r.Populate(context.Background(), e)

	if len(e.Units) != 0 {
		t.Errorf("Units = %v, want none without a systemd binary", e.Units)
	}
	if len(e.InitScripts) != 1 {
		t.Errorf("InitScripts = %v, want the init script", e.InitScripts)
	}
}

func TestPopulateUnreadableUnitSkipped(t *testing.T) {
	root := t.TempDir()
	writeHostFile(t, root, "bin/systemd", "")
	// postgresql.service is listed by the package manager but missing on disk.

	lister := fixedLister{files: map[string][]string{
		"postgresql": {"/lib/systemd/system/postgresql.service"},
	}}

	r := NewResolver(lister, testutil.FakeProbe{}, ConfigFor(models.FamilyDebian), zap.NewNop())
	r.Root = root

	e := &models.PackageEntry{Name: "postgresql", ProcessName: "postgres"}
	r.Populate(context.Background(), e)

	if len(e.Units) != 0 {
		t.Errorf("Units = %v, want unreadable unit skipped", e.Units)
	}
}

func TestPopulateFallback(t *testing.T) {
	root := t.TempDir()
	writeHostFile(t, root, "etc/init.d/redis", "#!/bin/sh\n")

	probe := testutil.FakeProbe{Known: map[string]bool{"redis": true, "postgres": true}}
	lister := fixedLister{files: map[string][]string{}}

	r := NewResolver(lister, probe, ConfigFor(models.FamilyDebian), zap.NewNop())
	r.Root = root

	// Known service with an init script on disk.
	e := &models.PackageEntry{Name: "redis-server", ProcessName: "redis"}
	r.Populate(context.Background(), e)
	if want := []string{"redis"}; !reflect.DeepEqual(e.InitScripts, want) {
		t.Errorf("InitScripts = %v, want %v", e.InitScripts, want)
	}
	if len(e.Units) != 0 {
		t.Errorf("Units = %v, want none", e.Units)
	}

	// Known service without a script is assumed to be a unit.
	e = &models.PackageEntry{Name: "postgresql", ProcessName: "postgres"}
	r.Populate(context.Background(), e)
	if want := []string{"postgres"}; !reflect.DeepEqual(e.Units, want) {
		t.Errorf("Units = %v, want %v", e.Units, want)
	}

	// Unknown service gets nothing.
	e = &models.PackageEntry{Name: "custom-agent", ProcessName: "agentd"}
	r.Populate(context.Background(), e)
	if len(e.InitScripts) != 0 || len(e.Units) != 0 {
		t.Errorf("unknown service should stay empty, got %v / %v", e.InitScripts, e.Units)
	}
}

func TestPopulateQueryFailureStillFallsBack(t *testing.T) {
	root := t.TempDir()
	writeHostFile(t, root, "etc/init.d/cron", "#!/bin/sh\n")

	probe := testutil.FakeProbe{Known: map[string]bool{"cron": true}}
	lister := fixedLister{err: errors.New("dpkg-query: package not installed")}

	r := NewResolver(lister, probe, ConfigFor(models.FamilyDebian), zap.NewNop())
	r.Root = root

	e := &models.PackageEntry{Name: "cron", ProcessName: "cron"}
	r.Populate(context.Background(), e)

	if want := []string{"cron"}; !reflect.DeepEqual(e.InitScripts, want) {
		t.Errorf("InitScripts = %v, want fallback to run after a query failure", e.InitScripts)
	}
}

func TestConfigFor(t *testing.T) {
	deb := ConfigFor(models.FamilyDebian)
	if deb.UnitDir != "/lib/systemd/system/" || deb.SystemdBin != "/bin/systemd" {
		t.Errorf("Debian config = %+v", deb)
	}
	rh := ConfigFor(models.FamilyRedHat)
	if rh.UnitDir != "/usr/lib/systemd/system/" || rh.SystemdBin != "/usr/bin/systemctl" {
		t.Errorf("RedHat config = %+v", rh)
	}
	ni := ConfigFor(models.FamilyNILinuxRT)
	if ni.SystemdBin != "" || ni.UnitDir != "" || ni.InitDir != "/etc/init.d/" {
		t.Errorf("NILinuxRT config = %+v", ni)
	}
}
