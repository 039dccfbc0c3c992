// Package cli is the command line front end of the portal. Every invocation
// restores the persisted session, acts on it, and leaves it in the slot for
// the next one.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"medcare/portal/internal/app"
	"medcare/portal/internal/auth"
	"medcare/portal/internal/config"
	"medcare/portal/internal/observability"
)

var ErrNotLoggedIn = errors.New("not logged in")

// Loader supplies the configuration for one invocation.
type Loader func() (config.Config, error)

type runtime struct {
	load Loader
	cfg  config.Config
	core *app.Core
}

func NewRootCommand(load Loader) *cobra.Command {
	root, _ := newRootCommand(load)
	return root
}

func newRootCommand(load Loader) (*cobra.Command, *runtime) {
	rt := &runtime{load: load}
	root := &cobra.Command{
		Use:           "portal",
		Short:         "Hospital portal sessions and role-based access",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return rt.open(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return rt.close()
		},
	}
	root.AddCommand(
		rt.loginCmd(),
		rt.registerCmd(),
		rt.logoutCmd(),
		rt.whoamiCmd(),
		rt.canCmd(),
		rt.navCmd(),
		rt.auditCmd(),
		rt.serveCmd(),
	)
	return root, rt
}

func Execute(ctx context.Context) error {
	root, rt := newRootCommand(config.Load)
	return rt.execute(ctx, root)
}

// execute runs root and closes the core afterwards. Cobra skips
// PersistentPostRunE when a command fails, so the close here covers that path.
func (rt *runtime) execute(ctx context.Context, root *cobra.Command) (err error) {
	defer func() {
		if closeErr := rt.close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return root.ExecuteContext(ctx)
}

func (rt *runtime) open(cmd *cobra.Command) error {
	cfg, err := rt.load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	core, err := app.NewCore(cfg, observability.NewLoggerTo(cmd.ErrOrStderr(), cfg.LogLevel))
	if err != nil {
		return err
	}
	rt.cfg = cfg
	rt.core = core
	return nil
}

func (rt *runtime) close() error {
	if rt.core == nil {
		return nil
	}
	err := rt.core.Close()
	rt.core = nil
	return err
}

func (rt *runtime) currentUser() (auth.User, error) {
	u, ok := rt.core.Sessions.CurrentUser()
	if !ok {
		return auth.User{}, ErrNotLoggedIn
	}
	return u, nil
}
