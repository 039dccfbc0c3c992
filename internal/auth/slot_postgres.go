package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// PostgresSessionSlot keeps the session record in one row of portal_session_slot.
type PostgresSessionSlot struct {
	db  *sql.DB
	key string
}

func NewPostgresSessionSlot(db *sql.DB, key string) (*PostgresSessionSlot, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = SessionKey
	}
	s := &PostgresSessionSlot{db: db, key: key}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresSessionSlot) ensureSchema() error {
	const q = `
CREATE TABLE IF NOT EXISTS portal_session_slot (
	key TEXT PRIMARY KEY,
	payload BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("ensure portal_session_slot schema: %w", err)
	}
	return nil
}

func (s *PostgresSessionSlot) Load() ([]byte, error) {
	var payload []byte
	const q = `SELECT payload FROM portal_session_slot WHERE key = $1`
	if err := s.db.QueryRow(q, s.key).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSlotEmpty
		}
		return nil, fmt.Errorf("query session slot: %w", err)
	}
	if len(payload) == 0 {
		return nil, ErrSlotEmpty
	}
	return payload, nil
}

func (s *PostgresSessionSlot) Save(payload []byte) error {
	const q = `
INSERT INTO portal_session_slot (key, payload, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE
SET payload = EXCLUDED.payload,
	updated_at = NOW()`
	if _, err := s.db.Exec(q, s.key, payload); err != nil {
		return fmt.Errorf("upsert session slot: %w", err)
	}
	return nil
}

func (s *PostgresSessionSlot) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM portal_session_slot WHERE key = $1`, s.key); err != nil {
		return fmt.Errorf("clear session slot: %w", err)
	}
	return nil
}
