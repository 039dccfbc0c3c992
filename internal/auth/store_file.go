package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileCredentialStore keeps accounts in a JSON array on disk and rewrites the
// whole file on every insert.
type FileCredentialStore struct {
	path string

	mu       sync.RWMutex
	accounts map[string]Account
}

type accountRecord struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	SecretHash     string    `json:"secret_hash"`
	Role           Role      `json:"role"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Phone          string    `json:"phone,omitempty"`
	Specialization string    `json:"specialization,omitempty"`
	Department     string    `json:"department,omitempty"`
	DateOfBirth    string    `json:"date_of_birth,omitempty"`
	Address        string    `json:"address,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func NewFileCredentialStore(path string) (*FileCredentialStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("account state file path is required")
	}

	s := &FileCredentialStore{
		path:     path,
		accounts: make(map[string]Account),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileCredentialStore) FindByEmail(email string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[normalizeEmail(email)]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (s *FileCredentialStore) EmailExists(email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.accounts[normalizeEmail(email)]
	return ok, nil
}

func (s *FileCredentialStore) Insert(account Account) (Account, error) {
	if err := validateAccount(account); err != nil {
		return Account{}, err
	}
	account.Email = normalizeEmail(account.Email)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkUnique(s.accounts, account); err != nil {
		return Account{}, err
	}
	s.accounts[account.Email] = account
	if err := s.persistLocked(); err != nil {
		delete(s.accounts, account.Email)
		return Account{}, err
	}
	return account, nil
}

func (s *FileCredentialStore) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read account store file: %w", err)
	}
	if len(b) == 0 {
		return nil
	}

	var decoded []accountRecord
	if err := json.Unmarshal(b, &decoded); err != nil {
		return fmt.Errorf("decode account store file: %w", err)
	}
	for _, rec := range decoded {
		a, err := rec.account()
		if err != nil {
			return fmt.Errorf("decode account %q: %w", rec.Email, err)
		}
		if a.Email == "" {
			continue
		}
		s.accounts[a.Email] = a
	}
	return nil
}

func (s *FileCredentialStore) persistLocked() error {
	out := make([]accountRecord, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, recordOf(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode account store file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir account store dir: %w", err)
	}
	if err := os.WriteFile(s.path, b, 0o600); err != nil {
		return fmt.Errorf("write account store file: %w", err)
	}
	return nil
}

func recordOf(a Account) accountRecord {
	f := FieldsOf(a.Details)
	return accountRecord{
		ID:             a.ID,
		Email:          a.Email,
		SecretHash:     a.SecretHash,
		Role:           a.Role(),
		FirstName:      a.FirstName,
		LastName:       a.LastName,
		Phone:          a.Phone,
		Specialization: f.Specialization,
		Department:     f.Department,
		DateOfBirth:    f.DateOfBirth,
		Address:        f.Address,
		CreatedAt:      a.CreatedAt,
	}
}

func (r accountRecord) account() (Account, error) {
	role, err := ParseRole(string(r.Role))
	if err != nil {
		return Account{}, err
	}
	details, err := BuildDetails(role, ProfileFields{
		Specialization: r.Specialization,
		Department:     r.Department,
		DateOfBirth:    r.DateOfBirth,
		Address:        r.Address,
	})
	if err != nil {
		return Account{}, err
	}
	return Account{
		User: User{
			ID:        r.ID,
			Email:     normalizeEmail(r.Email),
			FirstName: r.FirstName,
			LastName:  r.LastName,
			Phone:     r.Phone,
			Details:   details,
			CreatedAt: r.CreatedAt,
		},
		SecretHash: r.SecretHash,
	}, nil
}
