package pathfilter

import "testing"

func TestDeletedRequiresMarker(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if c.Deleted("/usr/lib/x86_64-linux-gnu/libssl.so.3") {
		t.Error("path without a marker must not qualify")
	}
	if !c.Deleted("/usr/lib/x86_64-linux-gnu/libssl.so.3 (deleted)") {
		t.Error("marked library path must qualify")
	}
	if !c.Deleted("/usr/sbin/nginx (path inode=42137)") {
		t.Error("inode-marked path must qualify")
	}
}

func TestDeletedExclusions(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	excluded := []string{
		"/var/log/syslog.1 (deleted)",
		"/var/local/log/app.log (deleted)",
		"/var/run/daemon.pid (deleted)",
		"/run/user/1000/dbus.sock (deleted)",
		"/tmp/scratch-4193 (deleted)",
		"/var/tmp/build (deleted)",
		"/var/local/tmp/old (deleted)",
		"/dev/shm/sem.mutex (deleted)",
		"/dev/zero (deleted)",
		"/dev/pts/3 (deleted)",
		"/drm mm object (deleted)",
		"/usr/lib/locale/locale-archive (deleted)",
		"/home/alice/.cache/blob (deleted)",
		"/usr/share/icons/hicolor/icon-theme.cache (deleted)",
		"/var/cache/fontconfig/cafe.cache-7 (deleted)",
		"/var/lib/nagios3/spool/checkresults/cXu1Sb (deleted)",
		"/var/lib/postgresql/14/main/base/16384/2619 (deleted)",
		"/var/lib/vdr/recording.ts (deleted)",
		"/[aio] (deleted)",
		"/SYSV00000000 (deleted)",
		"/home/bob/tool (path inode=99)",
	}
	for _, p := range excluded {
		if c.Deleted(p) {
			t.Errorf("Deleted(%q) = true, want excluded", p)
		}
	}
}

func TestDeletedExtraRules(t *testing.T) {
	c, err := New(Rule{Prefix: "/srv/cache/"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if c.Deleted("/srv/cache/blob (deleted)") {
		t.Error("extra rule should exclude the path")
	}
	if !c.Deleted("/srv/bin/tool (deleted)") {
		t.Error("unrelated path should still qualify")
	}
}

func TestTrimMarker(t *testing.T) {
	if got := TrimMarker("/usr/sbin/sshd (deleted)"); got != "/usr/sbin/sshd" {
		t.Errorf("TrimMarker = %q", got)
	}
	if got := TrimMarker("/usr/sbin/sshd (path inode=7)"); got != "/usr/sbin/sshd (path inode=7)" {
		t.Errorf("inode marker should be preserved, got %q", got)
	}
}
