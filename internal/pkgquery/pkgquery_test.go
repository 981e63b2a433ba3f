package pkgquery

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/staleproc/restartcheck/internal/testutil"
	"github.com/staleproc/restartcheck/pkg/models"
)

func TestResolverMemoizes(t *testing.T) {
	owner := &testutil.FakeOwner{Table: map[string]string{
		"/usr/sbin/nginx": "nginx-core",
	}}
	r, err := NewResolver(owner, zap.NewNop())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if got := r.Resolve(ctx, "/usr/sbin/nginx", "nginx"); got != "nginx-core" {
			t.Fatalf("Resolve = %q, want nginx-core", got)
		}
	}
	if owner.Calls != 1 {
		t.Errorf("owner queried %d times, want 1", owner.Calls)
	}
}

func TestResolverFallsBackToProcessName(t *testing.T) {
	ctx := context.Background()

	// Unowned path: lookup succeeds but returns nothing.
	owner := &testutil.FakeOwner{Table: map[string]string{}}
	r, err := NewResolver(owner, zap.NewNop())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	if got := r.Resolve(ctx, "/opt/vendor/bin/agent", "agent"); got != "agent" {
		t.Errorf("Resolve = %q, want process name fallback", got)
	}
	// The fallback is memoized too.
	r.Resolve(ctx, "/opt/vendor/bin/agent", "agent")
	if owner.Calls != 1 {
		t.Errorf("owner queried %d times, want 1", owner.Calls)
	}

	// Failing lookup.
	broken := &testutil.FakeOwner{Err: errors.New("dpkg database locked")}
	r, err = NewResolver(broken, zap.NewNop())
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	if got := r.Resolve(ctx, "/usr/bin/redis-server", "redis-server"); got != "redis-server" {
		t.Errorf("Resolve = %q, want process name fallback on error", got)
	}
}

func TestListerCommandsPerFamily(t *testing.T) {
	runner := testutil.NewFakeRunner().
		Script("dpkg-query --listfiles nginx-core", "/.\n/usr\n/usr/sbin/nginx\n/etc/init.d/nginx\n").
		Script("repoquery -l httpd", "/usr/sbin/httpd\n/usr/lib/systemd/system/httpd.service").
		Script("opkg files ni-webserver", "Package ni-webserver (24.0) is installed on root and has the following files:\n/etc/init.d/niwebserver\n/usr/sbin/niwebserver")

	ctx := context.Background()

	deb, err := NewLister(runner, models.FamilyDebian)
	if err != nil {
		t.Fatalf("NewLister(Debian): %v", err)
	}
	got, err := deb.Files(ctx, "nginx-core")
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	want := []string{"/.", "/usr", "/usr/sbin/nginx", "/etc/init.d/nginx"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Debian Files = %v, want %v", got, want)
	}

	rh, err := NewLister(runner, models.FamilyRedHat)
	if err != nil {
		t.Fatalf("NewLister(RedHat): %v", err)
	}
	got, err = rh.Files(ctx, "httpd")
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(got) != 2 || got[1] != "/usr/lib/systemd/system/httpd.service" {
		t.Errorf("RedHat Files = %v", got)
	}

	ni, err := NewLister(runner, models.FamilyNILinuxRT)
	if err != nil {
		t.Fatalf("NewLister(NILinuxRT): %v", err)
	}
	got, err = ni.Files(ctx, "ni-webserver")
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(got) != 2 || got[0] != "/etc/init.d/niwebserver" {
		t.Errorf("NILinuxRT Files should drop the opkg header, got %v", got)
	}

	if _, err := NewLister(runner, models.FamilyOther); err == nil {
		t.Error("NewLister should reject an unsupported family")
	}
}

func TestListerQueryFailure(t *testing.T) {
	runner := testutil.NewFakeRunner().
		Fail("dpkg-query --listfiles ghost", errors.New("exit status 1"))

	deb, err := NewLister(runner, models.FamilyDebian)
	if err != nil {
		t.Fatalf("NewLister: %v", err)
	}
	if _, err := deb.Files(context.Background(), "ghost"); err == nil {
		t.Error("Files should surface the query failure")
	}
}
