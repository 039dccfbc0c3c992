package auth

import (
	"errors"
	"sync"
)

// SessionKey is the well-known key the session record is stored under.
const SessionKey = "user"

var ErrSlotEmpty = errors.New("session slot is empty")

// SessionSlot is the durable location of the current session record. Load
// returns ErrSlotEmpty when nothing is stored. Clear on an empty slot is not
// an error.
type SessionSlot interface {
	Load() ([]byte, error)
	Save(payload []byte) error
	Clear() error
}

type MemorySessionSlot struct {
	mu      sync.Mutex
	payload []byte
}

func NewMemorySessionSlot() *MemorySessionSlot {
	return &MemorySessionSlot{}
}

func (s *MemorySessionSlot) Load() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.payload == nil {
		return nil, ErrSlotEmpty
	}
	return append([]byte(nil), s.payload...), nil
}

func (s *MemorySessionSlot) Save(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payload = append([]byte(nil), payload...)
	return nil
}

func (s *MemorySessionSlot) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payload = nil
	return nil
}
