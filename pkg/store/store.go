// Package store persists reference palm images, one per enrolled subject.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrNotFound is returned when no reference exists for a subject.
	ErrNotFound = errors.New("store: reference not found")

	// ErrInvalidSubject is returned for subject ids that cannot be used as keys.
	ErrInvalidSubject = errors.New("store: invalid subject id")

	// ErrEmptyImage is returned when saving an empty frame.
	ErrEmptyImage = errors.New("store: empty image")
)

const fileExt = ".jpg"

var subjectPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// ValidSubject reports whether id can be used as a reference key.
func ValidSubject(id string) bool {
	return subjectPattern.MatchString(id) && id != "." && id != ".."
}

// FileStore keeps one JPEG per subject in a directory.
// Writes go through a temp file and a rename, so readers never see a
// partially written reference. Re-enrolling a subject replaces its image.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFileStore creates the store directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory backing the store.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(subjectID string) (string, error) {
	if !ValidSubject(subjectID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSubject, subjectID)
	}
	return filepath.Join(s.dir, subjectID+fileExt), nil
}

// Save writes the reference image for a subject, replacing any previous one.
func (s *FileStore) Save(subjectID string, jpeg []byte) error {
	path, err := s.path(subjectID)
	if err != nil {
		return err
	}
	if len(jpeg) == 0 {
		return ErrEmptyImage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, jpeg, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Load returns the reference image for a subject.
func (s *FileStore) Load(subjectID string) ([]byte, error) {
	path, err := s.path(subjectID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, subjectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read reference: %w", err)
	}
	return data, nil
}

// Exists reports whether a subject has a stored reference.
func (s *FileStore) Exists(subjectID string) bool {
	path, err := s.path(subjectID)
	if err != nil {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err = os.Stat(path)
	return err == nil
}

// List returns all enrolled subject ids in lexical order.
func (s *FileStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		id := strings.TrimSuffix(name, fileExt)
		if ValidSubject(id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes a subject's reference.
func (s *FileStore) Delete(subjectID string) error {
	path, err := s.path(subjectID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, subjectID)
	}
	return err
}
