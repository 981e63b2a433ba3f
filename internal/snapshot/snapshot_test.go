package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestChangedWithoutBaseline(t *testing.T) {
	s, err := Open(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !s.Changed("/lib/modules/5.15.0/modules.dep") {
		t.Error("unrecorded path must count as changed")
	}
	if !s.CountChanged("/usr/lib/x86_64-linux-gnu/nisysapi/conf.d/experts/") {
		t.Error("unrecorded directory must count as changed")
	}
}

func TestRecordAndCompare(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "modules.dep")
	writeFile(t, target, "kernel/net/bridge.ko:\n")

	s, err := Open(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Record(target); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if s.Changed(target) {
		t.Error("freshly recorded file must not be changed")
	}

	// Content change with the mtime pinned back: only the checksum differs.
	info, err := os.Stat(target)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, target, "kernel/net/bonding.ko\n")
	if err := os.Chtimes(target, info.ModTime(), info.ModTime()); err != nil {
		t.Fatal(err)
	}
	if !s.Changed(target) {
		t.Error("content change not detected")
	}

	// Re-record, then move only the mtime.
	if err := s.Record(target); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if s.Changed(target) {
		t.Error("re-recorded file must not be changed")
	}
	stamp := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(target, stamp, stamp); err != nil {
		t.Fatal(err)
	}
	if !s.Changed(target) {
		t.Error("mtime change not detected")
	}

	// A vanished file counts as changed.
	if err := os.Remove(target); err != nil {
		t.Fatal(err)
	}
	if !s.Changed(target) {
		t.Error("missing file must count as changed")
	}
}

func TestCountChanged(t *testing.T) {
	dir := t.TempDir()
	experts := filepath.Join(dir, "experts")
	writeFile(t, filepath.Join(experts, "one.conf"), "a")
	writeFile(t, filepath.Join(experts, "two.conf"), "b")

	s, err := Open(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.RecordCount(experts); err != nil {
		t.Fatalf("RecordCount: %v", err)
	}
	if s.CountChanged(experts) {
		t.Error("count just recorded, want unchanged")
	}

	writeFile(t, filepath.Join(experts, "three.conf"), "c")
	if !s.CountChanged(experts) {
		t.Error("added file not detected")
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "nisysapi.ini")
	writeFile(t, target, "[expert]\n")

	s, err := Open(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Record(target); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.RecordCount(dir); err != nil {
		t.Fatalf("RecordCount: %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Open(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("Open after Save: %v", err)
	}
	if reloaded.Changed(target) {
		t.Error("fingerprint lost across reload")
	}
}

func TestOpenCorruptState(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, stateFile), "{not json")

	s, err := Open(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("corrupt state must not fail Open, got %v", err)
	}
	if !s.Changed("/anything") {
		t.Error("store recovered from corrupt state must report changed")
	}
}
