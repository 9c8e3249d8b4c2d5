package backend

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
)

const fileSuffix = ".txt"

// File stores each key as its own file inside a directory. Writes go through
// a temp file and rename so a crash never leaves a half-written value.
type File struct {
	dir string

	mu     sync.RWMutex
	closed bool
}

// OpenFile creates dir when needed and returns a backend rooted there.
func OpenFile(dir string) (*File, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("backend: directory is required")
	}
	clean := filepath.Clean(dir)
	if err := os.MkdirAll(clean, 0o700); err != nil {
		return nil, fmt.Errorf("backend: create directory %s: %w", clean, err)
	}
	return &File{dir: clean}, nil
}

// Dir returns the directory values are stored in.
func (f *File) Dir() string {
	return f.dir
}

// Get implements Backend.
func (f *File) Get(key string) (string, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return "", false, ErrUnavailable
	}
	raw, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("backend: read %q: %w", key, err)
	}
	return string(raw), true, nil
}

// Set implements Backend.
func (f *File) Set(key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrUnavailable
	}
	if err := atomic.WriteFile(f.path(key), strings.NewReader(value)); err != nil {
		return fmt.Errorf("backend: write %q: %w", key, err)
	}
	return nil
}

// Delete implements Deleter.
func (f *File) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrUnavailable
	}
	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("backend: delete %q: %w", key, err)
	}
	return nil
}

// Close marks the backend unavailable. Files are left in place.
func (f *File) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *File) path(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key)+fileSuffix)
}
