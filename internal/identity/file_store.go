package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore persists a profile as a small JSON object on disk, the CLI
// counterpart of a browser's durable storage.
type FileStore struct {
	path string

	mu     sync.Mutex
	values map[string]string
	loaded bool
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the profile file location.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.loadLocked(); err != nil {
		return "", false, err
	}
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *FileStore) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.loadLocked(); err != nil {
		return err
	}
	next := f.withLocked(func(m map[string]string) { m[key] = value })
	return f.commitLocked(next)
}

func (f *FileStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.loadLocked(); err != nil {
		return err
	}
	if _, ok := f.values[key]; !ok {
		return nil
	}
	next := f.withLocked(func(m map[string]string) { delete(m, key) })
	return f.commitLocked(next)
}

func (f *FileStore) SetIfAbsent(_ context.Context, key, value string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.loadLocked(); err != nil {
		return "", err
	}
	if existing, ok := f.values[key]; ok && existing != "" {
		return existing, nil
	}
	next := f.withLocked(func(m map[string]string) { m[key] = value })
	if err := f.commitLocked(next); err != nil {
		return "", err
	}
	return value, nil
}

func (f *FileStore) loadLocked() error {
	if f.loaded {
		return nil
	}
	values := make(map[string]string)
	raw, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("read identity file: %w", err)
	case len(raw) > 0:
		if err := json.Unmarshal(raw, &values); err != nil {
			return fmt.Errorf("decode identity file: %w", err)
		}
	}
	f.values = values
	f.loaded = true
	return nil
}

// withLocked returns a copy of the loaded values with edit applied.
func (f *FileStore) withLocked(edit func(map[string]string)) map[string]string {
	next := make(map[string]string, len(f.values)+1)
	for k, v := range f.values {
		next[k] = v
	}
	edit(next)
	return next
}

// commitLocked adopts values only once they are on disk, so memory never
// reports a value the file does not hold.
func (f *FileStore) commitLocked(values map[string]string) error {
	if err := f.flushLocked(values); err != nil {
		return err
	}
	f.values = values
	return nil
}

// flushLocked writes through a temp file so a crash never leaves a torn profile.
func (f *FileStore) flushLocked(values map[string]string) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	payload, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode identity file: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".identity-*")
	if err != nil {
		return fmt.Errorf("create identity temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write identity file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close identity file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod identity file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace identity file: %w", err)
	}
	return nil
}
