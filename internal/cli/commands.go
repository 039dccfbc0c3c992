package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"medcare/portal/internal/app"
	"medcare/portal/internal/auth"
	"medcare/portal/internal/authz"
	"medcare/portal/internal/router"
)

func (rt *runtime) loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				p, err := promptSecret(cmd, "Password: ")
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				password = p
			}
			u, err := rt.core.Sessions.Login(email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", u.DisplayName(), u.Role())
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password (prompted when empty)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (rt *runtime) registerCmd() *cobra.Command {
	var (
		password string
		role     string
		fields   auth.ProfileFields
		data     auth.RegisterData
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log in with it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := auth.ParseRole(role)
			if err != nil {
				return err
			}
			details, err := auth.BuildDetails(r, fields)
			if err != nil {
				return err
			}
			if password == "" {
				p, err := promptSecret(cmd, "Choose a password: ")
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				password = p
			}
			data.Secret = password
			data.Details = details

			u, err := rt.core.Sessions.Register(data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s as %s (%s)\n", u.Email, u.DisplayName(), u.Role())
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&data.Email, "email", "e", "", "account email")
	f.StringVarP(&password, "password", "p", "", "account password (prompted when empty)")
	f.StringVar(&data.FirstName, "first-name", "", "first name")
	f.StringVar(&data.LastName, "last-name", "", "last name")
	f.StringVar(&data.Phone, "phone", "", "phone number")
	f.StringVar(&role, "role", "", "doctor, patient or staff")
	f.StringVar(&fields.Specialization, "specialization", "", "doctor specialization")
	f.StringVar(&fields.Department, "department", "", "staff department")
	f.StringVar(&fields.DateOfBirth, "date-of-birth", "", "patient date of birth")
	f.StringVar(&fields.Address, "address", "", "patient address")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func (rt *runtime) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := rt.core.Sessions.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func (rt *runtime) whoamiCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := rt.currentUser()
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(u)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s <%s>\n", u.DisplayName(), u.Email)
			fmt.Fprintf(out, "role: %s\n", u.Role())
			for _, kv := range detailLines(u.Details) {
				fmt.Fprintln(out, kv)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the session record as JSON")
	return cmd
}

func detailLines(d auth.RoleDetails) []string {
	switch d := d.(type) {
	case auth.DoctorDetails:
		return []string{"specialization: " + d.Specialization}
	case auth.PatientDetails:
		return []string{"date of birth: " + d.DateOfBirth, "address: " + d.Address}
	case auth.StaffDetails:
		return []string{"department: " + d.Department}
	}
	return nil
}

func (rt *runtime) canCmd() *cobra.Command {
	var roles []string
	cmd := &cobra.Command{
		Use:   "can [view-path]",
		Short: "Check whether the current session may open a view",
		Long: "Resolves a view path such as /patients against the current session.\n" +
			"With --roles the session is checked against that role set instead.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var session *auth.User
			if u, ok := rt.core.Sessions.CurrentUser(); ok {
				session = &u
			}

			if cmd.Flags().Changed("roles") {
				allowed, err := parseRoles(roles)
				if err != nil {
					return err
				}
				if err := rt.core.Gate.Check(session, allowed); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "allowed")
				return nil
			}

			if len(args) == 0 {
				return fmt.Errorf("a view path or --roles is required")
			}
			res := rt.core.Views.Resolve(args[0], session)
			switch res.Outcome {
			case router.OutcomeRender:
				fmt.Fprintf(cmd.OutOrStdout(), "allowed: %s\n", res.Route.View)
				return nil
			case router.OutcomeRedirect:
				fmt.Fprintf(cmd.OutOrStdout(), "redirect: %s\n", res.Location)
				return nil
			case router.OutcomeLogin:
				return ErrNotLoggedIn
			default:
				if session != nil {
					if err := rt.core.Audit.Denied(session.Email, session.Role(), res.Route.Path, "source=cli"); err != nil {
						rt.core.Log.Warn("write audit event", "action", "view.open", "error", err)
					}
				}
				return fmt.Errorf("%s: %w", res.Route.Path, authz.ErrNotAuthorized)
			}
		},
	}
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "comma separated roles; empty means unrestricted")
	return cmd
}

func parseRoles(raw []string) (authz.Roles, error) {
	var out []auth.Role
	for _, s := range raw {
		if strings.TrimSpace(s) == "" {
			continue
		}
		r, err := auth.ParseRole(s)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return authz.AnyOf(out...), nil
}

func (rt *runtime) navCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nav",
		Short: "List the views available to the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := rt.currentUser()
			if err != nil {
				return err
			}
			for _, item := range rt.core.Views.Navigation(u.Role()) {
				fmt.Fprintf(cmd.OutOrStdout(), "%-18s %s\n", item.Path, item.Label)
			}
			return nil
		},
	}
}

func (rt *runtime) auditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent audit events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			events, err := rt.core.Audit.Tail(limit)
			if err != nil {
				return err
			}
			for _, e := range events {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-24s %-8s %-14s %-8s %s\n", e.At, e.Actor, e.Role, e.Action, e.Outcome, e.Target)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of events")
	return cmd
}

func (rt *runtime) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the portal HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			core := rt.core
			rt.core = nil
			return app.NewWithCore(rt.cfg, core).Run(cmd.Context())
		},
	}
}
