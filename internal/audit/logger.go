// Package audit appends portal security events to a JSON-lines file.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"medcare/portal/internal/auth"
)

const (
	ActionViewOpen = "view.open"
	OutcomeDenied  = "denied"

	// ReasonRoleNotPermitted marks a view the session's role may not open.
	ReasonRoleNotPermitted = "role_not_permitted"
)

// tailPrealloc bounds the up-front allocation of Tail; larger windows grow
// as lines are read.
const tailPrealloc = 1024

// Event is one line of the audit file. Role and Reason are set for access
// decisions and empty for session changes.
type Event struct {
	At      string `json:"at"`
	Actor   string `json:"actor"`
	Role    string `json:"role,omitempty"`
	Action  string `json:"action"`
	Target  string `json:"target,omitempty"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

type Logger struct {
	path    string
	nowFunc func() time.Time
	mu      sync.Mutex
}

// NewLogger returns a logger writing to path. An empty path disables it.
func NewLogger(path string) *Logger {
	return &Logger{path: path, nowFunc: time.Now}
}

// Log records a session event such as a login or logout.
func (l *Logger) Log(actor, action, target, outcome, detail string) error {
	return l.Record(Event{
		Actor:   actor,
		Action:  action,
		Target:  target,
		Outcome: outcome,
		Detail:  detail,
	})
}

// Denied records that actor, holding role, was refused the view at path.
func (l *Logger) Denied(actor string, role auth.Role, path, detail string) error {
	return l.Record(Event{
		Actor:   actor,
		Role:    string(role),
		Action:  ActionViewOpen,
		Target:  path,
		Outcome: OutcomeDenied,
		Reason:  ReasonRoleNotPermitted,
		Detail:  detail,
	})
}

// Record appends e, stamping At when it is empty.
func (l *Logger) Record(e Event) error {
	if l == nil || l.path == "" {
		return nil
	}
	if e.At == "" {
		e.At = l.nowFunc().UTC().Format(time.RFC3339)
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("mkdir audit log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("write audit log entry: %w", err)
	}
	return nil
}

// Tail returns up to n of the most recent events, oldest first. Lines that do
// not decode are skipped.
func (l *Logger) Tail(n int) ([]Event, error) {
	if l == nil || l.path == "" || n <= 0 {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log file: %w", err)
	}
	defer f.Close()

	window := make([]Event, 0, min(n, tailPrealloc))
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		window = append(window, e)
		if len(window) > n {
			window = window[1:]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read audit log file: %w", err)
	}
	return append([]Event(nil), window...), nil
}
