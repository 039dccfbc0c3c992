package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medcare/portal/internal/auth"
	"medcare/portal/internal/config"
	"medcare/portal/internal/router"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		HTTP: config.HTTPConfig{
			Addr:            "127.0.0.1:0",
			ReadTimeout:     time.Second,
			WriteTimeout:    time.Second,
			ShutdownTimeout: time.Second,
		},
		Auth: config.AuthConfig{
			AccountStateFile: filepath.Join(dir, "accounts.json"),
			SessionSlotFile:  filepath.Join(dir, "session.json"),
			SeedDemoAccounts: true,
			HashCost:         4,
		},
		AuditLogFile: filepath.Join(dir, "audit.log"),
	}
}

func TestCoreSessionSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)

	first, err := NewCore(cfg, nil)
	require.NoError(t, err)
	_, ok := first.Sessions.CurrentUser()
	assert.False(t, ok)

	u, err := first.Sessions.Login("staff@hospital.com", "staff123")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewCore(cfg, nil)
	require.NoError(t, err)
	restored, ok := second.Sessions.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, u, restored)
	assert.Equal(t, router.OutcomeRender, second.Views.Resolve("/upload", &restored).Outcome)
}

func TestCoreDiscardsCorruptSession(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Auth.SessionSlotFile, []byte("{not json"), 0o600))

	core, err := NewCore(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, auth.StateUnauthenticated, core.Sessions.State())

	_, err = os.Stat(cfg.Auth.SessionSlotFile)
	assert.True(t, os.IsNotExist(err), "corrupt record should be removed")
}

func TestCoreFailsWhenSessionSlotIsUnreadable(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.Mkdir(cfg.Auth.SessionSlotFile, 0o700))

	_, err := NewCore(cfg, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, auth.ErrCorruptSession)
	assert.Contains(t, err.Error(), "restore session")

	info, statErr := os.Stat(cfg.Auth.SessionSlotFile)
	require.NoError(t, statErr)
	assert.True(t, info.IsDir(), "unreadable slot must be left in place")
}

func TestCoreSeedsFromFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.SeedDemoAccounts = false
	cfg.Auth.SeedFile = filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(cfg.Auth.SeedFile, []byte(`accounts:
  - email: desk@hospital.com
    password: front-desk
    role: staff
    first_name: Dana
    last_name: Desk
    department: Reception
`), 0o600))

	core, err := NewCore(cfg, nil)
	require.NoError(t, err)

	_, err = core.Sessions.Login("doctor@hospital.com", "doctor123")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials, "demo accounts are disabled")

	u, err := core.Sessions.Login("desk@hospital.com", "front-desk")
	require.NoError(t, err)
	assert.Equal(t, auth.StaffDetails{Department: "Reception"}, u.Details)
}

func TestCoreRejectsMissingSeedFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.SeedFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := NewCore(cfg, nil)
	assert.Error(t, err)
}

func TestAppRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
