package auth

import (
	"errors"
	"sync"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrDuplicateEmail  = errors.New("email already registered")
	ErrDuplicateID     = errors.New("account id already exists")
)

// CredentialStore owns Account records. Emails are matched case-insensitively
// and both the email and the id are unique.
type CredentialStore interface {
	FindByEmail(email string) (Account, error)
	EmailExists(email string) (bool, error)
	Insert(account Account) (Account, error)
}

type InMemoryCredentialStore struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

func NewInMemoryCredentialStore() *InMemoryCredentialStore {
	return &InMemoryCredentialStore{accounts: make(map[string]Account)}
}

func (s *InMemoryCredentialStore) FindByEmail(email string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[normalizeEmail(email)]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (s *InMemoryCredentialStore) EmailExists(email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.accounts[normalizeEmail(email)]
	return ok, nil
}

func (s *InMemoryCredentialStore) Insert(account Account) (Account, error) {
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
	return account, nil
}

// checkUnique reports whether account clashes with an entry of accounts,
// which is keyed by normalized email.
func checkUnique(accounts map[string]Account, account Account) error {
	if _, ok := accounts[account.Email]; ok {
		return ErrDuplicateEmail
	}
	for _, a := range accounts {
		if a.ID == account.ID {
			return ErrDuplicateID
		}
	}
	return nil
}

func validateAccount(a Account) error {
	if a.ID == "" || normalizeEmail(a.Email) == "" || a.SecretHash == "" {
		return errors.New("id, email, and secret hash are required")
	}
	if a.Details == nil {
		return errors.New("role details are required")
	}
	return nil
}
