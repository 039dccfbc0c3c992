package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTP         HTTPConfig
	DatabaseURL  string
	Auth         AuthConfig
	AuditLogFile string
	LogLevel     string
}

type HTTPConfig struct {
	Addr string
	// AllowRemote permits Addr to bind a non-loopback interface. The API has
	// no tokens, so anyone who can reach it acts on the current session.
	AllowRemote     bool
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type AuthConfig struct {
	AccountStateFile     string
	SessionSlotFile      string
	SeedFile             string
	SeedDemoAccounts     bool
	PersistRegistrations bool
	LoginDelay           time.Duration
	HashCost             int
}

func Load() (Config, error) {
	cfg := Config{
		HTTP: HTTPConfig{
			Addr:            getEnv("HTTP_ADDR", "127.0.0.1:8080"),
			AllowRemote:     getEnvBool("HTTP_ALLOW_REMOTE", false),
			ReadTimeout:     time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SEC", 10)) * time.Second,
			WriteTimeout:    time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SEC", 15)) * time.Second,
			ShutdownTimeout: time.Duration(getEnvInt("HTTP_SHUTDOWN_TIMEOUT_SEC", 20)) * time.Second,
		},
		DatabaseURL: getEnv("DATABASE_URL", ""),
		Auth: AuthConfig{
			AccountStateFile:     getEnv("AUTH_ACCOUNT_STATE_FILE", "./data/accounts.json"),
			SessionSlotFile:      getEnv("AUTH_SESSION_SLOT_FILE", "./data/session.json"),
			SeedFile:             getEnv("AUTH_SEED_FILE", ""),
			SeedDemoAccounts:     getEnvBool("AUTH_SEED_DEMO_ACCOUNTS", true),
			PersistRegistrations: getEnvBool("AUTH_PERSIST_REGISTRATIONS", false),
			LoginDelay:           time.Duration(getEnvInt("AUTH_LOGIN_DELAY_MS", 0)) * time.Millisecond,
			HashCost:             getEnvInt("AUTH_BCRYPT_COST", 10),
		},
		AuditLogFile: getEnv("AUDIT_LOG_FILE", "./data/audit.log"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}

	if cfg.HTTP.Addr == "" {
		return Config{}, fmt.Errorf("HTTP_ADDR must not be empty")
	}
	host, _, err := net.SplitHostPort(cfg.HTTP.Addr)
	if err != nil {
		return Config{}, fmt.Errorf("HTTP_ADDR %q: %w", cfg.HTTP.Addr, err)
	}
	if !cfg.HTTP.AllowRemote && !isLoopback(host) {
		return Config{}, fmt.Errorf("HTTP_ADDR %q is not a loopback address; set HTTP_ALLOW_REMOTE=true to serve it", cfg.HTTP.Addr)
	}
	if cfg.Auth.AccountStateFile == "" {
		return Config{}, fmt.Errorf("AUTH_ACCOUNT_STATE_FILE must not be empty")
	}
	if cfg.Auth.SessionSlotFile == "" {
		return Config{}, fmt.Errorf("AUTH_SESSION_SLOT_FILE must not be empty")
	}
	if cfg.Auth.LoginDelay < 0 {
		return Config{}, fmt.Errorf("AUTH_LOGIN_DELAY_MS must be >= 0")
	}
	if cfg.Auth.HashCost < 4 || cfg.Auth.HashCost > 31 {
		return Config{}, fmt.Errorf("AUTH_BCRYPT_COST must be within [4, 31]")
	}

	return cfg, nil
}

// isLoopback reports whether host only accepts local connections. An empty
// host binds every interface.
func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func getEnv(key, fallback string) string {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	val, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(val) == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(val))
	if err != nil {
		return fallback
	}
	return b
}
