package auth

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SeedAccount is an account definition with a clear-text secret, hashed when
// it is seeded into a store.
type SeedAccount struct {
	ID             string    `yaml:"id"`
	Email          string    `yaml:"email"`
	Password       string    `yaml:"password"`
	Role           string    `yaml:"role"`
	FirstName      string    `yaml:"first_name"`
	LastName       string    `yaml:"last_name"`
	Phone          string    `yaml:"phone,omitempty"`
	Specialization string    `yaml:"specialization,omitempty"`
	Department     string    `yaml:"department,omitempty"`
	DateOfBirth    string    `yaml:"date_of_birth,omitempty"`
	Address        string    `yaml:"address,omitempty"`
	CreatedAt      time.Time `yaml:"created_at"`
}

type seedFile struct {
	Accounts []SeedAccount `yaml:"accounts"`
}

var demoCreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// DefaultSeedAccounts returns the demo accounts of the portal, one per role.
func DefaultSeedAccounts() []SeedAccount {
	return []SeedAccount{
		{
			ID:             "1",
			Email:          "doctor@hospital.com",
			Password:       "doctor123",
			Role:           string(RoleDoctor),
			FirstName:      "Dr. Sarah",
			LastName:       "Johnson",
			Phone:          "+1234567890",
			Specialization: "Cardiology",
			CreatedAt:      demoCreatedAt,
		},
		{
			ID:          "2",
			Email:       "patient@email.com",
			Password:    "patient123",
			Role:        string(RolePatient),
			FirstName:   "John",
			LastName:    "Doe",
			Phone:       "+1234567891",
			DateOfBirth: "1990-01-01",
			Address:     "123 Main St, City, State",
			CreatedAt:   demoCreatedAt,
		},
		{
			ID:         "3",
			Email:      "staff@hospital.com",
			Password:   "staff123",
			Role:       string(RoleStaff),
			FirstName:  "Mary",
			LastName:   "Smith",
			Phone:      "+1234567892",
			Department: "Administration",
			CreatedAt:  demoCreatedAt,
		},
	}
}

func LoadSeedFile(path string) ([]SeedAccount, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	for i, a := range f.Accounts {
		if a.Email == "" || a.Password == "" {
			return nil, fmt.Errorf("seed account %d: email and password are required", i)
		}
	}
	return f.Accounts, nil
}

// Seed inserts the accounts whose email is not yet present and returns how
// many were added. An account whose id belongs to a different email is an
// error.
func (s *Service) Seed(accounts []SeedAccount) (int, error) {
	added := 0
	for _, sa := range accounts {
		exists, err := s.accounts.EmailExists(sa.Email)
		if err != nil {
			return added, fmt.Errorf("check seed account %q: %w", sa.Email, err)
		}
		if exists {
			continue
		}
		acct, err := s.seedAccount(sa)
		if err != nil {
			return added, fmt.Errorf("seed account %q: %w", sa.Email, err)
		}
		if _, err := s.accounts.Insert(acct); err != nil {
			if errors.Is(err, ErrDuplicateEmail) {
				continue
			}
			return added, fmt.Errorf("insert seed account %q: %w", sa.Email, err)
		}
		added++
	}
	return added, nil
}

func (s *Service) seedAccount(sa SeedAccount) (Account, error) {
	role, err := ParseRole(sa.Role)
	if err != nil {
		return Account{}, err
	}
	details, err := BuildDetails(role, ProfileFields{
		Specialization: sa.Specialization,
		Department:     sa.Department,
		DateOfBirth:    sa.DateOfBirth,
		Address:        sa.Address,
	})
	if err != nil {
		return Account{}, err
	}
	hash, err := s.HashSecret(sa.Password)
	if err != nil {
		return Account{}, err
	}
	id := sa.ID
	if id == "" {
		id = s.newID()
	}
	createdAt := sa.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.nowFunc().UTC().Truncate(time.Second)
	}
	return Account{
		User: User{
			ID:        id,
			Email:     normalizeEmail(sa.Email),
			FirstName: sa.FirstName,
			LastName:  sa.LastName,
			Phone:     sa.Phone,
			Details:   details,
			CreatedAt: createdAt,
		},
		SecretHash: hash,
	}, nil
}
