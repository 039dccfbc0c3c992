// Package router maps portal view paths to the roles allowed to open them and
// builds the per-role navigation menu.
package router

import (
	"path"
	"strings"

	"medcare/portal/internal/auth"
	"medcare/portal/internal/authz"
)

const (
	LoginPath    = "/login"
	RegisterPath = "/register"
	HomePath     = "/dashboard"
)

type Route struct {
	Path    string
	View    string
	Allowed authz.Roles
}

// Outcome is what the caller must do with a resolved path.
type Outcome string

const (
	OutcomeRender        Outcome = "render"
	OutcomeRedirect      Outcome = "redirect"
	OutcomeLogin         Outcome = "login"
	OutcomeNotAuthorized Outcome = "not_authorized"
)

type Resolution struct {
	Outcome  Outcome
	Route    Route
	Location string
}

type NavItem struct {
	Path  string `json:"path"`
	Label string `json:"label"`
}

// DefaultRoutes is the portal's protected view table.
func DefaultRoutes() []Route {
	return []Route{
		{Path: "/dashboard", View: "dashboard", Allowed: authz.Unrestricted},
		{Path: "/appointments", View: "appointments", Allowed: authz.Unrestricted},
		{Path: "/patients", View: "patients", Allowed: authz.AnyOf(auth.RoleDoctor, auth.RoleStaff)},
		{Path: "/reports", View: "reports", Allowed: authz.Unrestricted},
		{Path: "/book-appointment", View: "book-appointment", Allowed: authz.AnyOf(auth.RolePatient)},
		{Path: "/upload", View: "upload", Allowed: authz.AnyOf(auth.RoleStaff)},
	}
}

var navigation = map[auth.Role][]NavItem{
	auth.RoleDoctor: {
		{Path: "/dashboard", Label: "Dashboard"},
		{Path: "/appointments", Label: "Appointments"},
		{Path: "/patients", Label: "Patients"},
		{Path: "/reports", Label: "Medical Reports"},
	},
	auth.RolePatient: {
		{Path: "/dashboard", Label: "Dashboard"},
		{Path: "/appointments", Label: "My Appointments"},
		{Path: "/reports", Label: "My Reports"},
		{Path: "/book-appointment", Label: "Book Appointment"},
	},
	auth.RoleStaff: {
		{Path: "/dashboard", Label: "Dashboard"},
		{Path: "/appointments", Label: "Manage Appointments"},
		{Path: "/reports", Label: "Reports"},
		{Path: "/upload", Label: "Upload Documents"},
		{Path: "/patients", Label: "Patient Records"},
	},
}

type Router struct {
	gate   *authz.Gate
	routes map[string]Route
	order  []string
}

func New(gate *authz.Gate, routes []Route) *Router {
	r := &Router{gate: gate, routes: make(map[string]Route, len(routes))}
	for _, rt := range routes {
		r.routes[rt.Path] = rt
		r.order = append(r.order, rt.Path)
	}
	return r
}

func (r *Router) Routes() []Route {
	out := make([]Route, 0, len(r.order))
	for _, p := range r.order {
		out = append(out, r.routes[p])
	}
	return out
}

// Resolve decides what to show for p given the current session (nil when
// logged out). The root and unknown paths redirect home; an unauthenticated
// session is sent to the login view before anything else.
func (r *Router) Resolve(p string, session *auth.User) Resolution {
	clean := path.Clean("/" + strings.TrimSpace(p))
	rt, ok := r.routes[clean]
	if !ok {
		return Resolution{Outcome: OutcomeRedirect, Location: HomePath}
	}

	d := r.gate.Decide(session, rt.Allowed)
	switch {
	case d.Allowed:
		return Resolution{Outcome: OutcomeRender, Route: rt}
	case d.Reason == authz.ReasonUnauthenticated:
		return Resolution{Outcome: OutcomeLogin, Route: rt, Location: LoginPath}
	default:
		return Resolution{Outcome: OutcomeNotAuthorized, Route: rt}
	}
}

// Navigation returns the menu for role, restricted to routes the role may
// open. Unknown roles get an empty menu.
func (r *Router) Navigation(role auth.Role) []NavItem {
	items := navigation[role]
	out := make([]NavItem, 0, len(items))
	for _, item := range items {
		rt, ok := r.routes[item.Path]
		if !ok {
			continue
		}
		if !rt.Allowed.Unrestricted() && !rt.Allowed.Contains(role) {
			continue
		}
		out = append(out, item)
	}
	return out
}
