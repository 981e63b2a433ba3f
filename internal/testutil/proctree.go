package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/staleproc/restartcheck/internal/procscan"
)

// ProcTree builds a fake /proc layout on disk for scanner and end-to-end
// tests.
type ProcTree struct {
	t     *testing.T
	Root  string
	procs []procscan.ProcessInfo
}

// NewProcTree returns an empty tree rooted in a scratch directory.
func NewProcTree(t *testing.T) *ProcTree {
	t.Helper()
	return &ProcTree{t: t, Root: t.TempDir()}
}

// AddProcess lays out maps, fd links and the exe link for one pid and
// registers the process for the Lister. exe may point at a path that does not
// exist; the link is created regardless, like a live /proc does for deleted
// executables.
func (pt *ProcTree) AddProcess(pid int32, name, exe string, maps []string, fds map[string]string) {
	pt.t.Helper()
	dir := filepath.Join(pt.Root, strconv.Itoa(int(pid)))
	if err := os.MkdirAll(filepath.Join(dir, "fd"), 0o755); err != nil {
		pt.t.Fatal(err)
	}
	content := ""
	if len(maps) > 0 {
		content = strings.Join(maps, "\n") + "\n"
	}
	if err := os.WriteFile(filepath.Join(dir, "maps"), []byte(content), 0o644); err != nil {
		pt.t.Fatal(err)
	}
	if exe != "" {
		if err := os.Symlink(exe, filepath.Join(dir, "exe")); err != nil {
			pt.t.Fatal(err)
		}
	}
	for fd, target := range fds {
		if err := os.Symlink(target, filepath.Join(dir, "fd", fd)); err != nil {
			pt.t.Fatal(err)
		}
	}
	pt.procs = append(pt.procs, procscan.ProcessInfo{PID: pid, Name: name})
}

// Lister enumerates the processes added so far.
func (pt *ProcTree) Lister() procscan.Lister {
	procs := append([]procscan.ProcessInfo(nil), pt.procs...)
	return func(context.Context) ([]procscan.ProcessInfo, error) { return procs, nil }
}

// MapsLine formats one /proc maps row naming path.
func MapsLine(inode int, path string) string {
	return fmt.Sprintf("7f0000000000-7f0000001000 r-xp 00000000 08:02 %d %s", inode, path)
}
