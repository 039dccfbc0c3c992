package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileSessionSlot stores the session record in a single file. Writes go to a
// temp file in the same directory and are renamed into place, so a reader
// sees either the old record or the new one.
type FileSessionSlot struct {
	path string
}

func NewFileSessionSlot(path string) (*FileSessionSlot, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("session slot file path is required")
	}
	return &FileSessionSlot{path: path}, nil
}

func (s *FileSessionSlot) Path() string { return s.path }

func (s *FileSessionSlot) Load() ([]byte, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSlotEmpty
		}
		return nil, fmt.Errorf("read session slot: %w", err)
	}
	if len(b) == 0 {
		return nil, ErrSlotEmpty
	}
	return b, nil
}

func (s *FileSessionSlot) Save(payload []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir session slot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("create session slot temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write session slot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync session slot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session slot: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod session slot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace session slot: %w", err)
	}
	return nil
}

func (s *FileSessionSlot) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session slot: %w", err)
	}
	return nil
}
