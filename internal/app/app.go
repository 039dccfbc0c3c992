package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	_ "github.com/lib/pq"
	"medcare/portal/internal/audit"
	"medcare/portal/internal/auth"
	"medcare/portal/internal/authz"
	"medcare/portal/internal/config"
	"medcare/portal/internal/httpserver"
	"medcare/portal/internal/metrics"
	"medcare/portal/internal/router"
)

// Core is the wired portal: one session manager, the gate and view router
// that consult it, and the sinks they report to. The CLI and the HTTP server
// both run on top of it.
type Core struct {
	Sessions *auth.Service
	Gate     *authz.Gate
	Views    *router.Router
	Metrics  *metrics.Collector
	Audit    *audit.Logger
	Log      *slog.Logger

	db *sql.DB
}

// NewCore builds the stores from cfg, seeds accounts and restores the
// persisted session. A corrupt session record is logged and discarded.
func NewCore(cfg config.Config, logger *slog.Logger) (*Core, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	var err error
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
	}
	closeDB := func() {
		if db != nil {
			_ = db.Close()
		}
	}

	var accounts auth.CredentialStore
	var slot auth.SessionSlot
	if db != nil {
		accounts, err = auth.NewPostgresCredentialStore(db)
		if err != nil {
			closeDB()
			return nil, fmt.Errorf("create postgres credential store: %w", err)
		}
		slot, err = auth.NewPostgresSessionSlot(db, auth.SessionKey)
		if err != nil {
			closeDB()
			return nil, fmt.Errorf("create postgres session slot: %w", err)
		}
	} else {
		accounts, err = auth.NewFileCredentialStore(cfg.Auth.AccountStateFile)
		if err != nil {
			return nil, fmt.Errorf("create credential store: %w", err)
		}
		slot, err = auth.NewFileSessionSlot(cfg.Auth.SessionSlotFile)
		if err != nil {
			return nil, fmt.Errorf("create session slot: %w", err)
		}
	}

	collector := metrics.New()
	auditLogger := audit.NewLogger(cfg.AuditLogFile)

	sessions, err := auth.NewService(accounts, auth.ServiceConfig{
		Slot:                 slot,
		Logger:               logger,
		Audit:                auditLogger,
		Metrics:              collector,
		HashCost:             cfg.Auth.HashCost,
		LoginDelay:           cfg.Auth.LoginDelay,
		PersistRegistrations: cfg.Auth.PersistRegistrations,
	})
	if err != nil {
		closeDB()
		return nil, fmt.Errorf("create session manager: %w", err)
	}

	if err := seed(sessions, cfg.Auth, logger); err != nil {
		closeDB()
		return nil, err
	}

	if err := sessions.Restore(); err != nil {
		if !errors.Is(err, auth.ErrCorruptSession) {
			closeDB()
			return nil, fmt.Errorf("restore session: %w", err)
		}
		logger.Warn("stored session was unreadable and has been cleared", "error", err)
	}

	gate := authz.NewGate(collector)
	return &Core{
		Sessions: sessions,
		Gate:     gate,
		Views:    router.New(gate, router.DefaultRoutes()),
		Metrics:  collector,
		Audit:    auditLogger,
		Log:      logger,
		db:       db,
	}, nil
}

func seed(sessions *auth.Service, cfg config.AuthConfig, logger *slog.Logger) error {
	var accounts []auth.SeedAccount
	if cfg.SeedDemoAccounts {
		accounts = append(accounts, auth.DefaultSeedAccounts()...)
	}
	if cfg.SeedFile != "" {
		fromFile, err := auth.LoadSeedFile(cfg.SeedFile)
		if err != nil {
			return fmt.Errorf("load seed file: %w", err)
		}
		accounts = append(accounts, fromFile...)
	}
	if len(accounts) == 0 {
		return nil
	}
	added, err := sessions.Seed(accounts)
	if err != nil {
		return fmt.Errorf("seed accounts: %w", err)
	}
	if added > 0 {
		logger.Info("seed accounts created", "count", added)
	}
	return nil
}

func (c *Core) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

type App struct {
	cfg    config.Config
	core   *Core
	log    *slog.Logger
	server *httpserver.Server
}

func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	core, err := NewCore(cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewWithCore(cfg, core), nil
}

func NewWithCore(cfg config.Config, core *Core) *App {
	server := httpserver.New(cfg.HTTP, httpserver.Deps{
		Sessions: core.Sessions,
		Views:    core.Views,
		Audit:    core.Audit,
		Metrics:  core.Metrics.Handler(),
		Logger:   core.Log,
	})
	return &App{
		cfg:    cfg,
		core:   core,
		log:    core.Log,
		server: server,
	}
}

func (a *App) Run(ctx context.Context) error {
	defer func() {
		_ = a.core.Close()
	}()

	errCh := make(chan error, 1)

	go func() {
		a.log.Info("http server starting", "addr", a.cfg.HTTP.Addr)
		errCh <- a.server.Start()
	}()

	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server exited: %w", err)
	}
}
