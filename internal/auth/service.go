package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrCorruptSession      = errors.New("corrupt session record")
	ErrAuthInProgress      = errors.New("authentication already in progress")
	ErrInvalidRegistration = errors.New("invalid registration")
)

const maxSecretLength = 72 // bcrypt ignores anything longer

// State is the lifecycle state of the process-wide session.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type AuditLogger interface {
	Log(actor, action, target, outcome, detail string) error
}

// Recorder receives one call per session operation.
type Recorder interface {
	ObserveAuth(op, outcome string)
}

// Service is the session manager: it owns the single current session of the
// running portal instance and mirrors it into a SessionSlot.
//
// Login and Register are rejected with ErrAuthInProgress while another one is
// running. Logout and Restore wait for it to finish.
type Service struct {
	accounts             CredentialStore
	slot                 SessionSlot
	log                  *slog.Logger
	audit                AuditLogger
	metrics              Recorder
	hashCost             int
	dummyHash            []byte
	loginDelay           time.Duration
	persistRegistrations bool
	nowFunc              func() time.Time
	newID                func() string
	sleep                func(time.Duration)

	opMu sync.Mutex

	mu      sync.RWMutex
	user    *User
	pending bool
}

type ServiceConfig struct {
	Slot   SessionSlot
	Logger *slog.Logger
	Audit  AuditLogger
	// Metrics may be nil.
	Metrics Recorder
	// HashCost is the bcrypt cost; zero means bcrypt.DefaultCost.
	HashCost int
	// LoginDelay is an artificial pause inside Login and Register.
	LoginDelay time.Duration
	// PersistRegistrations inserts registered accounts into the credential
	// store. When false a registered user is logged in but cannot log in
	// again after logout.
	PersistRegistrations bool
}

func NewService(accounts CredentialStore, cfg ServiceConfig) (*Service, error) {
	if accounts == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if cfg.Slot == nil {
		return nil, fmt.Errorf("session slot is required")
	}
	if cfg.LoginDelay < 0 {
		return nil, fmt.Errorf("login delay must be >= 0")
	}
	cost := cfg.HashCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("hash cost must be within [%d, %d]", bcrypt.MinCost, bcrypt.MaxCost)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("portal-unknown-account"), cost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Service{
		accounts:             accounts,
		slot:                 cfg.Slot,
		log:                  logger,
		audit:                cfg.Audit,
		metrics:              cfg.Metrics,
		hashCost:             cost,
		dummyHash:            dummy,
		loginDelay:           cfg.LoginDelay,
		persistRegistrations: cfg.PersistRegistrations,
		nowFunc:              time.Now,
		newID:                uuid.NewString,
		sleep:                time.Sleep,
	}, nil
}

func (s *Service) HashSecret(secret string) (string, error) {
	if len(secret) > maxSecretLength {
		return "", fmt.Errorf("%w: secret longer than %d bytes", ErrInvalidRegistration, maxSecretLength)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(secret), s.hashCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(h), nil
}

// Restore loads the session from the slot. A missing record leaves the
// service unauthenticated. An unreadable record is removed and reported as
// ErrCorruptSession; the service is still usable afterwards.
func (s *Service) Restore() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	payload, err := s.slot.Load()
	if err != nil {
		s.setUser(nil)
		if errors.Is(err, ErrSlotEmpty) {
			s.observe("restore", "empty")
			return nil
		}
		s.observe("restore", "error")
		return fmt.Errorf("load session: %w", err)
	}

	var u User
	if err := json.Unmarshal(payload, &u); err != nil {
		s.setUser(nil)
		s.observe("restore", "corrupt")
		s.log.Warn("discarding unreadable session record", "error", err)
		if clearErr := s.slot.Clear(); clearErr != nil {
			s.log.Error("clear corrupt session record", "error", clearErr)
		}
		return fmt.Errorf("%w: %w", ErrCorruptSession, err)
	}

	s.setUser(&u)
	s.observe("restore", "success")
	s.log.Info("session restored", "user_id", u.ID, "role", u.Role())
	return nil
}

// Login authenticates email and secret against the credential store. Unknown
// emails and wrong secrets both yield ErrInvalidCredentials. On failure the
// current session is left as it was.
func (s *Service) Login(email, secret string) (User, error) {
	if !s.opMu.TryLock() {
		s.observe("login", "busy")
		return User{}, ErrAuthInProgress
	}
	defer s.opMu.Unlock()
	s.setPending(true)
	defer s.setPending(false)
	s.pause()

	acct, err := s.accounts.FindByEmail(email)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			s.observe("login", "error")
			s.auditSafe(email, "auth.login", "failed", err.Error())
			return User{}, fmt.Errorf("lookup account: %w", err)
		}
		// Same work as a real comparison so response time does not reveal
		// whether the email exists.
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(secret))
		s.observe("login", "invalid_credentials")
		s.auditSafe(email, "auth.login", "failed", "invalid credentials")
		return User{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.SecretHash), []byte(secret)) != nil {
		s.observe("login", "invalid_credentials")
		s.auditSafe(email, "auth.login", "failed", "invalid credentials")
		return User{}, ErrInvalidCredentials
	}

	u := acct.User
	if err := s.commit(u); err != nil {
		s.observe("login", "error")
		s.auditSafe(u.Email, "auth.login", "failed", err.Error())
		return User{}, err
	}
	s.observe("login", "success")
	s.auditSafe(u.Email, "auth.login", "success", "")
	s.log.Info("user logged in", "user_id", u.ID, "role", u.Role())
	return u, nil
}

// Register creates an account from data and logs it in.
func (s *Service) Register(data RegisterData) (User, error) {
	if !s.opMu.TryLock() {
		s.observe("register", "busy")
		return User{}, ErrAuthInProgress
	}
	defer s.opMu.Unlock()
	s.setPending(true)
	defer s.setPending(false)
	s.pause()

	if err := validateRegistration(data); err != nil {
		s.observe("register", "invalid")
		s.auditSafe(data.Email, "auth.register", "failed", err.Error())
		return User{}, err
	}

	exists, err := s.accounts.EmailExists(data.Email)
	if err != nil {
		s.observe("register", "error")
		return User{}, fmt.Errorf("check email: %w", err)
	}
	if exists {
		s.observe("register", "duplicate_email")
		s.auditSafe(data.Email, "auth.register", "failed", "duplicate email")
		return User{}, ErrDuplicateEmail
	}

	u := User{
		ID:        s.newID(),
		Email:     normalizeEmail(data.Email),
		FirstName: strings.TrimSpace(data.FirstName),
		LastName:  strings.TrimSpace(data.LastName),
		Phone:     strings.TrimSpace(data.Phone),
		Details:   data.Details,
		CreatedAt: s.nowFunc().UTC().Truncate(time.Second),
	}

	if s.persistRegistrations {
		if err := s.commitRegistration(u, data.Secret); err != nil {
			if errors.Is(err, ErrDuplicateEmail) {
				s.observe("register", "duplicate_email")
				s.auditSafe(u.Email, "auth.register", "failed", "duplicate email")
				return User{}, ErrDuplicateEmail
			}
			s.observe("register", "error")
			s.auditSafe(u.Email, "auth.register", "failed", err.Error())
			return User{}, err
		}
	} else if err := s.commit(u); err != nil {
		s.observe("register", "error")
		s.auditSafe(u.Email, "auth.register", "failed", err.Error())
		return User{}, err
	}
	s.observe("register", "success")
	s.auditSafe(u.Email, "auth.register", "success", "")
	s.log.Info("user registered", "user_id", u.ID, "role", u.Role(), "persisted", s.persistRegistrations)
	return u, nil
}

// Logout always ends the in-memory session. The returned error only reports a
// failure to clear the slot.
func (s *Service) Logout() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	prev, _ := s.CurrentUser()
	s.setUser(nil)
	if err := s.slot.Clear(); err != nil {
		s.observe("logout", "error")
		s.log.Error("clear session slot on logout", "error", err)
		return fmt.Errorf("clear session: %w", err)
	}
	s.observe("logout", "success")
	if prev.ID != "" {
		s.auditSafe(prev.Email, "auth.logout", "success", "")
		s.log.Info("user logged out", "user_id", prev.ID)
	}
	return nil
}

// CurrentUser returns a copy of the session's user. It does not wait for an
// in-flight Login or Register.
func (s *Service) CurrentUser() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return User{}, false
	}
	return *s.user, true
}

func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.pending:
		return StateAuthenticating
	case s.user != nil:
		return StateAuthenticated
	default:
		return StateUnauthenticated
	}
}

// commit writes u to the slot and only then makes it the current session.
func (s *Service) commit(u User) error {
	if err := s.persist(u); err != nil {
		return err
	}
	s.setUser(&u)
	return nil
}

func (s *Service) persist(u User) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.slot.Save(payload); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// commitRegistration writes u to the slot, stores the account and only then
// makes u the current session. If the account cannot be stored the slot gets
// its previous record back.
func (s *Service) commitRegistration(u User, secret string) error {
	hash, err := s.HashSecret(secret)
	if err != nil {
		return err
	}
	prev, err := s.slot.Load()
	if err != nil {
		if !errors.Is(err, ErrSlotEmpty) {
			return fmt.Errorf("read session: %w", err)
		}
	}
	if err := s.persist(u); err != nil {
		return err
	}
	if _, err := s.accounts.Insert(Account{User: u, SecretHash: hash}); err != nil {
		s.rollbackSlot(prev)
		if errors.Is(err, ErrDuplicateEmail) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("store account: %w", err)
	}
	s.setUser(&u)
	return nil
}

func (s *Service) rollbackSlot(prev []byte) {
	var err error
	if prev == nil {
		err = s.slot.Clear()
	} else {
		err = s.slot.Save(prev)
	}
	if err != nil {
		s.log.Error("roll back session slot", "error", err)
	}
}

func (s *Service) setUser(u *User) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
}

func (s *Service) setPending(p bool) {
	s.mu.Lock()
	s.pending = p
	s.mu.Unlock()
}

func (s *Service) pause() {
	if s.loginDelay > 0 {
		s.sleep(s.loginDelay)
	}
}

func (s *Service) observe(op, outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveAuth(op, outcome)
	}
}

func (s *Service) auditSafe(actor, action, outcome, detail string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(normalizeEmail(actor), action, "", outcome, detail); err != nil {
		s.log.Warn("write audit event", "action", action, "error", err)
	}
}

func validateRegistration(d RegisterData) error {
	email := normalizeEmail(d.Email)
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidRegistration)
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return fmt.Errorf("%w: email %q is malformed", ErrInvalidRegistration, d.Email)
	}
	if d.Secret == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidRegistration)
	}
	if len(d.Secret) > maxSecretLength {
		return fmt.Errorf("%w: password longer than %d bytes", ErrInvalidRegistration, maxSecretLength)
	}
	if strings.TrimSpace(d.FirstName) == "" || strings.TrimSpace(d.LastName) == "" {
		return fmt.Errorf("%w: first and last name are required", ErrInvalidRegistration)
	}
	if d.Details == nil {
		return fmt.Errorf("%w: role is required", ErrInvalidRegistration)
	}
	return nil
}
