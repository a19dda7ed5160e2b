package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Namespace selects a directory of records inside a Records store.
type Namespace string

const (
	Characters Namespace = "characters"
	Scenes     Namespace = "scenes"
)

const recordExt = ".json"

// ErrInvalidName is returned when a record name sanitizes to nothing usable.
var ErrInvalidName = errors.New("invalid record name")

// Records is a key-addressable JSON record store: one file per record,
// grouped by namespace under a root directory.
type Records struct {
	root string
	mu   sync.Mutex
}

// NewRecords returns a store rooted at dir. The directory is created lazily.
func NewRecords(dir string) *Records {
	return &Records{root: dir}
}

// Root returns the store's root directory.
func (r *Records) Root() string {
	return r.root
}

// SanitizeName maps a display name to a file-safe record key. Spaces and
// path or shell-hostile characters become underscores.
func SanitizeName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	var b strings.Builder
	for _, ch := range trimmed {
		switch {
		case ch == ' ' || ch == '\t':
			b.WriteByte('_')
		case strings.ContainsRune(`/\:*?"<>|`, ch), ch < 0x20:
			b.WriteByte('_')
		default:
			b.WriteRune(ch)
		}
	}
	key := b.String()
	if key == "" || key == "." || key == ".." || strings.Trim(key, "_") == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return key, nil
}

func (r *Records) dir(ns Namespace) string {
	return filepath.Join(r.root, string(ns))
}

func (r *Records) path(ns Namespace, name string) (string, error) {
	key, err := SanitizeName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(r.dir(ns), key+recordExt), nil
}

// Put writes v as the record for name, replacing any previous record.
func (r *Records) Put(ns Namespace, name string, v any) error {
	path, err := r.path(ns, name)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return WriteJSON(path, v)
}

// Get decodes the record for name into v. A missing record reports
// an error matching os.ErrNotExist.
func (r *Records) Get(ns Namespace, name string, v any) error {
	path, err := r.path(ns, name)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return ReadJSON(path, v)
}

// List returns the sanitized keys of every record in ns, sorted.
func (r *Records) List(ns Namespace) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(ns)
}

func (r *Records) listLocked(ns Namespace) ([]string, error) {
	entries, err := os.ReadDir(r.dir(ns))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", ns, err)
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, recordExt))
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes the record for name and reports whether it existed.
func (r *Records) Delete(ns Namespace, name string) (bool, error) {
	path, err := r.path(ns, name)
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("delete %s/%s: %w", ns, name, err)
	}
	return true, nil
}

// Clear removes every record in ns and returns how many were removed.
func (r *Records) Clear(ns Namespace) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys, err := r.listLocked(ns)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, key := range keys {
		if err := os.Remove(filepath.Join(r.dir(ns), key+recordExt)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("clear %s/%s: %w", ns, key, err)
		}
		removed++
	}
	return removed, nil
}

// Wipe removes the whole store directory and recreates it empty with
// one subdirectory per known namespace.
func (r *Records) Wipe() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := RemoveAll(r.root); err != nil {
		return err
	}
	for _, ns := range []Namespace{Characters, Scenes} {
		if err := os.MkdirAll(r.dir(ns), 0o755); err != nil {
			return fmt.Errorf("recreate %s: %w", ns, err)
		}
	}
	return nil
}
