package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
)

// ErrNotFound is returned by a source when no template with the
// requested name exists.
var ErrNotFound = errors.New("template not found")

// DirStore is a filesystem template source rooted at a directory.
// Template names are relative paths under the root; names that would
// escape the root are rejected.
type DirStore struct {
	root string
}

// NewDirStore returns a DirStore rooted at dir. The directory is not
// required to exist until the first Load or Save.
func NewDirStore(dir string) *DirStore {
	return &DirStore{root: dir}
}

// cleanName validates a template name and returns it in cleaned form.
func cleanName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty template name")
	}
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("template name %q escapes the store root", name)
	}
	return cleaned, nil
}

// Load reads the named template file from the store root.
func (s *DirStore) Load(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleaned, err := cleanName(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(filepath.Join(s.root, cleaned))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return "", err
	}
	return string(data), nil
}

// Save writes the named template atomically, creating any missing parent
// directories under the root. A partially written file is never visible
// to a concurrent Load.
func (s *DirStore) Save(name, content string) error {
	cleaned, err := cleanName(name)
	if err != nil {
		return err
	}
	path := filepath.Join(s.root, cleaned)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create template dir: %w", err)
	}
	if err := atomic.WriteFile(path, strings.NewReader(content)); err != nil {
		return fmt.Errorf("failed to write template %q: %w", name, err)
	}
	return nil
}

// Delete removes the named template file.
func (s *DirStore) Delete(name string) error {
	cleaned, err := cleanName(name)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.root, cleaned)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return err
	}
	return nil
}

// List returns the names of all template files under the root, in slash
// form, sorted.
func (s *DirStore) List() ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// MapStore is an in-memory template source. The zero value is not
// usable; construct it with NewMapStore. All methods are concurrent-safe.
type MapStore struct {
	mu        sync.RWMutex
	templates map[string]string
}

// NewMapStore returns a MapStore seeded with the given templates. The
// map is copied; a nil map is allowed.
func NewMapStore(templates map[string]string) *MapStore {
	s := &MapStore{templates: make(map[string]string, len(templates))}
	for name, text := range templates {
		s.templates[name] = text
	}
	return s
}

// Load returns the named template text.
func (s *MapStore) Load(_ context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok := s.templates[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return text, nil
}

// Save stores the named template text.
func (s *MapStore) Save(name, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[name] = content
}
