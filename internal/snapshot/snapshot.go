// Package snapshot persists baseline fingerprints of kernel-critical files so
// later runs can tell whether the files changed since the baseline was taken.
// NI Linux RT hosts use this to decide whether an installed kernel update has
// actually been booted into.
package snapshot

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const stateFile = "snapshots.json"

type entry struct {
	ModTime int64  `json:"mtime"`
	MD5     string `json:"md5"`
}

type state struct {
	Version int              `json:"version"`
	Files   map[string]entry `json:"files"`
	Counts  map[string]int   `json:"counts"`
}

// Store holds file fingerprints and directory entry counts under a state
// directory. Not safe for concurrent use; the analyzer runs single-threaded.
type Store struct {
	path string
	st   state
	log  *zap.Logger
}

// Open loads the store under dir, starting empty when no state exists yet.
// Unreadable state is discarded rather than wedging the analyzer; every
// comparison then reports changed, which errs on the side of a reboot.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		path: filepath.Join(dir, stateFile),
		st:   emptyState(),
		log:  logger,
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot state: %w", err)
	}
	if err := json.Unmarshal(data, &s.st); err != nil {
		s.log.Warn("snapshot state unreadable, starting over",
			zap.String("path", s.path), zap.Error(err))
		s.st = emptyState()
		return s, nil
	}
	if s.st.Files == nil {
		s.st.Files = make(map[string]entry)
	}
	if s.st.Counts == nil {
		s.st.Counts = make(map[string]int)
	}
	return s, nil
}

func emptyState() state {
	return state{
		Version: 1,
		Files:   make(map[string]entry),
		Counts:  make(map[string]int),
	}
}

// Changed reports whether path differs from its recorded fingerprint. A path
// with no fingerprint, or one that cannot be read now, counts as changed.
func (s *Store) Changed(path string) bool {
	e, ok := s.st.Files[path]
	if !ok {
		return true
	}
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	if info.ModTime().Unix() != e.ModTime {
		return true
	}
	sum, err := fileMD5(path)
	if err != nil {
		return true
	}
	return sum != e.MD5
}

// CountChanged reports whether the number of entries in dir differs from the
// recorded count. An unrecorded directory counts as changed.
func (s *Store) CountChanged(dir string) bool {
	stored, ok := s.st.Counts[dir]
	if !ok {
		return true
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return true
	}
	return len(entries) != stored
}

// Record fingerprints path into the store. Save must be called to persist.
func (s *Store) Record(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	sum, err := fileMD5(path)
	if err != nil {
		return fmt.Errorf("hash %s: %w", path, err)
	}
	s.st.Files[path] = entry{ModTime: info.ModTime().Unix(), MD5: sum}
	return nil
}

// RecordCount stores the current entry count of dir.
func (s *Store) RecordCount(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}
	s.st.Counts[dir] = len(entries)
	return nil
}

// Save writes the state to a temporary file and renames it into place, so a
// crash mid-write never leaves a truncated state behind.
func (s *Store) Save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	data, err := json.MarshalIndent(s.st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace snapshot state: %w", err)
	}
	return nil
}

// fileMD5 fingerprints file content. md5 matches what the fleet tooling has
// always recorded; this is not a security boundary.
func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
