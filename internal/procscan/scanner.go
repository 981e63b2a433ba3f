// Package procscan walks the process table and collects deleted or superseded
// files that running processes still map or hold open.
package procscan

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/staleproc/restartcheck/internal/pathfilter"
	"github.com/staleproc/restartcheck/pkg/models"
)

// ErrUnavailable reports that the process tables could not be read at all,
// usually because the caller lacks root.
var ErrUnavailable = errors.New("process tables are not accessible")

// mapsLine matches one /proc/<pid>/maps entry that names a backing path. The
// single capture group is everything after the inode column, marker included.
var mapsLine = regexp.MustCompile(`^[0-9a-f]+-[0-9a-f]+ [r-][w-][x-][sp-] [0-9a-f]+ [0-9a-f]+:[0-9a-f]+ [0-9]+ *(.+)$`)

// ProcessInfo identifies one process to inspect.
type ProcessInfo struct {
	PID  int32
	Name string
}

// Lister enumerates the processes to inspect. The default implementation
// walks the live process table through gopsutil; tests substitute a fixed
// list.
type Lister func(ctx context.Context) ([]ProcessInfo, error)

func listProcesses(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// Gone between enumeration and inspection.
			continue
		}
		infos = append(infos, ProcessInfo{PID: p.Pid, Name: name})
	}
	return infos, nil
}

// Scanner collects stale file records from /proc. ProcRoot and List are
// exported so tests can point the scanner at a scratch tree.
type Scanner struct {
	ProcRoot string
	List     Lister

	classify func(string) bool
	log      *zap.Logger
}

// New returns a scanner over the live /proc using classify to decide which
// paths qualify as stale.
func New(classify func(string) bool, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		ProcRoot: "/proc",
		List:     listProcesses,
		classify: classify,
		log:      logger,
	}
}

// Scan inspects every listed process and returns the stale files found, in
// discovery order, deduplicated by (process, pid, path). Processes that
// disappear mid-scan are skipped; a permission failure aborts the scan with
// ErrUnavailable.
func (s *Scanner) Scan(ctx context.Context) ([]models.StaleFile, error) {
	procs, err := s.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list processes: %v", ErrUnavailable, err)
	}

	var out []models.StaleFile
	seen := make(map[models.StaleFile]struct{})
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.scanMaps(p, seen, &out); err != nil {
			return nil, err
		}
		if err := s.scanFDs(p, seen, &out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// scanMaps parses /proc/<pid>/maps and records mapped paths that carry a
// deletion marker. The marker suffix is trimmed from the recorded path.
func (s *Scanner) scanMaps(p ProcessInfo, seen map[models.StaleFile]struct{}, out *[]models.StaleFile) error {
	path := filepath.Join(s.ProcRoot, strconv.Itoa(int(p.PID)), "maps")
	f, err := os.Open(path)
	if err != nil {
		if vanished(err) {
			s.log.Debug("process vanished during scan", zap.Int32("pid", p.PID))
			return nil
		}
		return fmt.Errorf("%w: open %s: %v", ErrUnavailable, path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m := mapsLine.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		if !s.classify(m[1]) {
			continue
		}
		record(p, pathfilter.TrimMarker(m[1]), seen, out)
	}
	if err := sc.Err(); err != nil && !vanished(err) {
		return fmt.Errorf("%w: read %s: %v", ErrUnavailable, path, err)
	}
	return nil
}

// scanFDs resolves every open file descriptor. Links to regular files are
// classified directly; links to directories other than / are walked,
// following symlinks, and every file inside is classified. Recorded paths
// keep whatever marker their names carry.
func (s *Scanner) scanFDs(p ProcessInfo, seen map[models.StaleFile]struct{}, out *[]models.StaleFile) error {
	fdDir := filepath.Join(s.ProcRoot, strconv.Itoa(int(p.PID)), "fd")
	entries, err := os.ReadDir(fdDir)
	if err != nil {
		if vanished(err) {
			return nil
		}
		return fmt.Errorf("%w: read %s: %v", ErrUnavailable, fdDir, err)
	}

	for _, ent := range entries {
		target, err := os.Readlink(filepath.Join(fdDir, ent.Name()))
		if err != nil {
			continue
		}
		info, err := os.Stat(target)
		if err != nil {
			// Dangling link, socket peer, or the deleted file itself.
			continue
		}
		switch {
		case info.Mode().IsRegular():
			if s.classify(target) {
				record(p, target, seen, out)
			}
		case info.IsDir() && target != "/":
			s.walkDir(target, make(map[string]struct{}), func(name string) {
				if s.classify(name) {
					record(p, name, seen, out)
				}
			})
		}
	}
	return nil
}

// walkDir emits every non-directory entry below dir, following symlinked
// directories. Resolved directories are visited once so link cycles cannot
// recurse forever.
func (s *Scanner) walkDir(dir string, visited map[string]struct{}, emit func(string)) {
	real, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return
	}
	if _, ok := visited[real]; ok {
		return
	}
	visited[real] = struct{}{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, ent := range entries {
		path := filepath.Join(dir, ent.Name())
		if ent.IsDir() {
			s.walkDir(path, visited, emit)
			continue
		}
		if ent.Type()&fs.ModeSymlink != 0 {
			if info, err := os.Stat(path); err == nil && info.IsDir() {
				s.walkDir(path, visited, emit)
				continue
			}
		}
		emit(path)
	}
}

func record(p ProcessInfo, path string, seen map[models.StaleFile]struct{}, out *[]models.StaleFile) {
	rec := models.StaleFile{Process: p.Name, PID: p.PID, Path: path}
	if _, ok := seen[rec]; ok {
		return
	}
	seen[rec] = struct{}{}
	*out = append(*out, rec)
}

// vanished reports whether err means the process exited while we were
// looking at it.
func vanished(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ESRCH)
}
