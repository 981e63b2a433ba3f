package testutil

import (
	"path/filepath"
	"testing"

	"github.com/staleproc/restartcheck/internal/history"
)

// NewHistory creates a history store backed by a scratch database file.
// The store is automatically closed when the test completes.
func NewHistory(t *testing.T) *history.Store {
	t.Helper()
	s, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("testutil.NewHistory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
