package metrics

import (
	"os"
	"path/filepath"
)

// WriteTextfileAtomic writes content to path atomically. node_exporter's
// textfile collector must never read a half-written file, so the content
// lands in a sibling tmp file first and is renamed into place.
func WriteTextfileAtomic(path, content string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), mode); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
