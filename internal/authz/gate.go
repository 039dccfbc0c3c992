// Package authz decides whether the current session may open a protected view.
package authz

import (
	"errors"

	"medcare/portal/internal/auth"
)

var ErrNotAuthorized = errors.New("not authorized")

// Reason explains a Decision.
type Reason string

const (
	ReasonAllowed         Reason = "allowed"
	ReasonUnauthenticated Reason = "unauthenticated"
	ReasonRoleNotAllowed  Reason = "role_not_allowed"
)

// Roles is the set of roles permitted to open a view. A nil or empty Roles is
// unrestricted: any authenticated session may pass.
type Roles []auth.Role

// Unrestricted admits every authenticated session.
var Unrestricted Roles

func AnyOf(roles ...auth.Role) Roles {
	return Roles(roles)
}

func (r Roles) Unrestricted() bool { return len(r) == 0 }

func (r Roles) Contains(role auth.Role) bool {
	for _, candidate := range r {
		if candidate == role {
			return true
		}
	}
	return false
}

type Decision struct {
	Allowed bool
	Reason  Reason
}

// Err is nil for an allowed decision and wraps ErrNotAuthorized otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Reason: d.Reason}
}

type DeniedError struct {
	Reason Reason
}

func (e *DeniedError) Error() string { return "not authorized: " + string(e.Reason) }

func (e *DeniedError) Unwrap() error { return ErrNotAuthorized }

// Observer receives every decision. It may be nil.
type Observer interface {
	ObserveDecision(allowed bool, reason string)
}

// Gate is stateless apart from its observer; the session is passed in on
// every call.
type Gate struct {
	obs Observer
}

func NewGate(obs Observer) *Gate {
	return &Gate{obs: obs}
}

// Decide evaluates allowed against session. A nil session is unauthenticated.
func (g *Gate) Decide(session *auth.User, allowed Roles) Decision {
	d := decide(session, allowed)
	if g != nil && g.obs != nil {
		g.obs.ObserveDecision(d.Allowed, string(d.Reason))
	}
	return d
}

func (g *Gate) IsAllowed(session *auth.User, allowed Roles) bool {
	return g.Decide(session, allowed).Allowed
}

// Check returns nil or an error wrapping ErrNotAuthorized.
func (g *Gate) Check(session *auth.User, allowed Roles) error {
	return g.Decide(session, allowed).Err()
}

// IsAllowed is the gate without an observer.
func IsAllowed(session *auth.User, allowed Roles) bool {
	return decide(session, allowed).Allowed
}

func decide(session *auth.User, allowed Roles) Decision {
	if session == nil || session.Role() == "" {
		return Decision{Reason: ReasonUnauthenticated}
	}
	if allowed.Unrestricted() || allowed.Contains(session.Role()) {
		return Decision{Allowed: true, Reason: ReasonAllowed}
	}
	return Decision{Reason: ReasonRoleNotAllowed}
}
