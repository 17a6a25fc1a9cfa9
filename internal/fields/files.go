package fields

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// Files is a FieldAccessor backed by one file per field. A mapped field whose
// file does not exist yet reads as empty. A field whose file cannot be read
// keeps its last known value so a snapshot never loses fields.
type Files struct {
	fs     afero.Fs
	paths  map[string]string
	logger *slog.Logger

	mu    sync.Mutex
	known map[string]string
}

func NewFiles(fsys afero.Fs, paths map[string]string, logger *slog.Logger) *Files {
	if logger == nil {
		logger = slog.Default()
	}
	copied := make(map[string]string, len(paths))
	for id, path := range paths {
		copied[id] = path
	}
	return &Files{fs: fsys, paths: copied, logger: logger, known: make(map[string]string)}
}

func (f *Files) GetFieldValue(id string) (string, bool) {
	path, ok := f.paths[id]
	if !ok {
		return "", false
	}
	data, err := afero.ReadFile(f.fs, path)
	if errors.Is(err, fs.ErrNotExist) {
		f.remember(id, "")
		return "", true
	}
	if err != nil {
		f.mu.Lock()
		value, ok := f.known[id]
		f.mu.Unlock()
		f.logger.Warn("read field file", "field", id, "path", path, "error", err, "using_last_known", ok)
		return value, ok
	}
	f.remember(id, string(data))
	return string(data), true
}

func (f *Files) remember(id, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.known[id] = value
}

func (f *Files) SetFieldValue(id, value string) bool {
	path, ok := f.paths[id]
	if !ok {
		return false
	}
	if err := writeFileAtomic(f.fs, path, []byte(value)); err != nil {
		f.logger.Warn("write field file", "field", id, "path", path, "error", err)
		return false
	}
	f.remember(id, value)
	return true
}

// writeFileAtomic writes through a temp file in the same directory and
// renames it over path.
func writeFileAtomic(fsys afero.Fs, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(fsys, dir, ".field-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer fsys.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := fsys.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file to %s: %w", path, err)
	}
	return nil
}
