package auth

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const (
	accountsPrimaryKey  = "portal_accounts_pkey"
	accountsEmailUnique = "portal_accounts_email_key"
)

type PostgresCredentialStore struct {
	db *sql.DB
}

func NewPostgresCredentialStore(db *sql.DB) (*PostgresCredentialStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	s := &PostgresCredentialStore{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresCredentialStore) ensureSchema() error {
	const q = `
CREATE TABLE IF NOT EXISTS portal_accounts (
	id TEXT NOT NULL,
	email TEXT NOT NULL,
	secret_hash TEXT NOT NULL,
	role TEXT NOT NULL CHECK (role IN ('doctor', 'patient', 'staff')),
	first_name TEXT NOT NULL,
	last_name TEXT NOT NULL,
	phone TEXT NOT NULL DEFAULT '',
	specialization TEXT NOT NULL DEFAULT '',
	department TEXT NOT NULL DEFAULT '',
	date_of_birth TEXT NOT NULL DEFAULT '',
	address TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT portal_accounts_pkey PRIMARY KEY (id),
	CONSTRAINT portal_accounts_email_key UNIQUE (email)
)`
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("ensure portal_accounts schema: %w", err)
	}
	return nil
}

func (s *PostgresCredentialStore) FindByEmail(email string) (Account, error) {
	email = normalizeEmail(email)
	if email == "" {
		return Account{}, ErrAccountNotFound
	}

	var rec accountRecord
	var role string
	const q = `
SELECT id, email, secret_hash, role, first_name, last_name, phone,
	specialization, department, date_of_birth, address, created_at
FROM portal_accounts WHERE email = $1`
	err := s.db.QueryRow(q, email).Scan(
		&rec.ID, &rec.Email, &rec.SecretHash, &role, &rec.FirstName, &rec.LastName, &rec.Phone,
		&rec.Specialization, &rec.Department, &rec.DateOfBirth, &rec.Address, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("query account: %w", err)
	}
	rec.Role = Role(role)
	a, err := rec.account()
	if err != nil {
		return Account{}, fmt.Errorf("decode account: %w", err)
	}
	return a, nil
}

func (s *PostgresCredentialStore) EmailExists(email string) (bool, error) {
	email = normalizeEmail(email)
	if email == "" {
		return false, nil
	}
	var exists bool
	const q = `SELECT EXISTS (SELECT 1 FROM portal_accounts WHERE email = $1)`
	if err := s.db.QueryRow(q, email).Scan(&exists); err != nil {
		return false, fmt.Errorf("query account exists: %w", err)
	}
	return exists, nil
}

func (s *PostgresCredentialStore) Insert(account Account) (Account, error) {
	if err := validateAccount(account); err != nil {
		return Account{}, err
	}
	account.Email = normalizeEmail(account.Email)
	rec := recordOf(account)

	const q = `
INSERT INTO portal_accounts (id, email, secret_hash, role, first_name, last_name, phone,
	specialization, department, date_of_birth, address, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := s.db.Exec(q,
		rec.ID, rec.Email, rec.SecretHash, string(rec.Role), rec.FirstName, rec.LastName, rec.Phone,
		rec.Specialization, rec.Department, rec.DateOfBirth, rec.Address, rec.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			switch pqErr.Constraint {
			case accountsEmailUnique:
				return Account{}, ErrDuplicateEmail
			case accountsPrimaryKey:
				return Account{}, ErrDuplicateID
			}
		}
		return Account{}, fmt.Errorf("insert account: %w", err)
	}
	return account, nil
}
