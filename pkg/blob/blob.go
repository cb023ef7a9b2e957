// Package blob stores encrypted payloads as flat files in a single
// directory. Names are generated server-side and never derived from
// user input.
package blob

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cryptdrop/pkg/log"
)

const (
	dirPerm  = 0o750
	filePerm = 0o600
)

// NotFoundError is returned when the named blob does not exist.
type NotFoundError struct {
	Name string
}

func (e NotFoundError) Error() string {
	return "blob not found"
}

// InvalidNameError is returned when a blob name would escape the storage
// directory.
type InvalidNameError struct {
	Name string
}

func (e InvalidNameError) Error() string {
	return "invalid blob name"
}

// Store is a directory of encrypted blobs.
type Store struct {
	dir string
}

// NewStore creates the storage directory if needed and returns a store.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the storage directory path.
func (s *Store) Dir() string {
	return s.dir
}

// NewName returns a fresh server-side storage name for an encrypted
// payload. The random suffix keeps two uploads landing in the same
// millisecond apart.
func (s *Store) NewName() string {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		// crypto/rand never fails on supported platforms
		log.Fatal().Err(err).Msg("Random source unavailable")
	}
	return fmt.Sprintf("%d-%s-encrypted", time.Now().UnixMilli(), hex.EncodeToString(suffix))
}

func (s *Store) path(name string) (string, error) {
	if name == "" || strings.Contains(name, "/") || strings.Contains(name, "\\") || strings.Contains(name, "..") {
		return "", InvalidNameError{Name: name}
	}
	return filepath.Join(s.dir, name), nil
}

// Write stores the payload under the given name.
func (s *Store) Write(name string, data []byte) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(p, data, filePerm); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	return nil
}

// Read returns the payload stored under the given name.
func (s *Store) Read(name string) ([]byte, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, NotFoundError{Name: name}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

// Exists reports whether the named blob is on disk.
func (s *Store) Exists(name string) bool {
	p, err := s.path(name)
	if err != nil {
		return false
	}
	_, statErr := os.Stat(p)
	return statErr == nil
}

// Delete removes the named blob. Deleting an absent blob returns
// NotFoundError.
func (s *Store) Delete(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return NotFoundError{Name: name}
		}
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}
