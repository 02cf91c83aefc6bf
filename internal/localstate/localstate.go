// Package localstate persists the last-used account id outside the
// remote store so a session can be resumed at startup. It is a single
// file holding a single value, cleared on logout or on a failed resume.
package localstate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Slot struct {
	path string
}

func NewSlot(path string) *Slot {
	return &Slot{path: path}
}

// Load returns the saved account id, or "" when none is saved.
func (s *Slot) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read state file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Save records the account id for the next startup.
func (s *Slot) Save(id string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(id+"\n"), 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

// Clear forgets the saved id. Clearing an empty slot is not an error.
func (s *Slot) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear state file: %w", err)
	}
	return nil
}
