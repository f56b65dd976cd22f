// Package sessionstore persists one JSON document per session id.
//
// Files live at <dir>/<sessionID>.json. A missing file is the normal "no
// data yet" state. A file that fails to parse is treated the same way by
// Load, since writes are not atomic and users edit these files by hand.
package sessionstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrNotFound means no file exists for the session.
	ErrNotFound = errors.New("sessionstore: no data for session")
	// ErrCorrupt means the session file exists but is not valid JSON for T.
	ErrCorrupt = errors.New("sessionstore: corrupt session file")
	// ErrInvalidSessionID means the id cannot be mapped to a file in the store.
	ErrInvalidSessionID = errors.New("sessionstore: invalid session id")
)

const fileExt = ".json"

// Store persists values of type T keyed by session id.
type Store[T any] struct {
	dir string
}

// New returns a store rooted at dir. The directory is created on first Save.
func New[T any](dir string) *Store[T] {
	return &Store[T]{dir: dir}
}

// Dir returns the storage directory.
func (s *Store[T]) Dir() string {
	return s.dir
}

// ValidateID reports whether id can name a session file.
func ValidateID(id string) error {
	if id == "" || id == "." || id == ".." ||
		strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}
	return nil
}

// Path returns the file backing sessionID.
func (s *Store[T]) Path(sessionID string) (string, error) {
	if err := ValidateID(sessionID); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, sessionID+fileExt), nil
}

// LoadStrict reads the value for sessionID, reporting ErrNotFound and
// ErrCorrupt explicitly.
func (s *Store[T]) LoadStrict(sessionID string) (T, error) {
	var zero T
	path, err := s.Path(sessionID)
	if err != nil {
		return zero, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return zero, ErrNotFound
		}
		return zero, fmt.Errorf("read session file: %w", err)
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return v, nil
}

// Load returns the value for sessionID, or ok=false when there is none.
// Missing, unreadable, corrupt files and invalid ids all count as no data.
func (s *Store[T]) Load(sessionID string) (v T, ok bool) {
	v, err := s.LoadStrict(sessionID)
	if err != nil {
		var zero T
		return zero, false
	}
	return v, true
}

// Save writes v as indented JSON, replacing any previous content. The write
// is not atomic; Load tolerates a torn file.
func (s *Store[T]) Save(sessionID string, v T) error {
	path, err := s.Path(sessionID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create storage directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", sessionID, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

// Clear removes the session file. Clearing a missing session is a no-op.
func (s *Store[T]) Clear(sessionID string) error {
	path, err := s.Path(sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// List returns the ids of all stored sessions, sorted. A missing storage
// directory yields an empty list.
func (s *Store[T]) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, fileExt))
	}
	sort.Strings(ids)
	return ids, nil
}
