package httpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"medcare/portal/internal/auth"
	"medcare/portal/internal/authz"
	"medcare/portal/internal/router"
)

type fakeSessionService struct {
	loginFunc    func(email, secret string) (auth.User, error)
	registerFunc func(data auth.RegisterData) (auth.User, error)
	logoutFunc   func() error
	currentFunc  func() (auth.User, bool)
}

func (f fakeSessionService) Login(email, secret string) (auth.User, error) {
	if f.loginFunc == nil {
		return auth.User{}, errors.New("not implemented")
	}
	return f.loginFunc(email, secret)
}

func (f fakeSessionService) Register(data auth.RegisterData) (auth.User, error) {
	if f.registerFunc == nil {
		return auth.User{}, errors.New("not implemented")
	}
	return f.registerFunc(data)
}

func (f fakeSessionService) Logout() error {
	if f.logoutFunc == nil {
		return nil
	}
	return f.logoutFunc()
}

func (f fakeSessionService) CurrentUser() (auth.User, bool) {
	if f.currentFunc == nil {
		return auth.User{}, false
	}
	return f.currentFunc()
}

func (f fakeSessionService) State() auth.State {
	if _, ok := f.CurrentUser(); ok {
		return auth.StateAuthenticated
	}
	return auth.StateUnauthenticated
}

type auditEntry struct {
	actor, action, target, outcome, detail string
	role                                   auth.Role
}

type fakeAudit struct {
	entries []auditEntry
}

func (f *fakeAudit) Log(actor, action, target, outcome, detail string) error {
	f.entries = append(f.entries, auditEntry{actor: actor, action: action, target: target, outcome: outcome, detail: detail})
	return nil
}

func (f *fakeAudit) Denied(actor string, role auth.Role, path, detail string) error {
	f.entries = append(f.entries, auditEntry{actor: actor, action: "view.open", target: path, outcome: "denied", detail: detail, role: role})
	return nil
}

func doctorUser() auth.User {
	return auth.User{
		ID:        "1",
		Email:     "doctor@hospital.com",
		FirstName: "Sarah",
		LastName:  "Johnson",
		Phone:     "555-0101",
		Details:   auth.DoctorDetails{Specialization: "Cardiology"},
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func loggedIn(u auth.User) fakeSessionService {
	return fakeSessionService{currentFunc: func() (auth.User, bool) { return u, true }}
}

func views() ViewRouter {
	return router.New(authz.NewGate(nil), router.DefaultRoutes())
}

func TestHealthz(t *testing.T) {
	handler := loggingMiddleware(nil, NewHandler(Deps{}))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected X-Request-Id header to be set")
	}
}

func TestReadyzRequiresSessions(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(Deps{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	NewHandler(Deps{Sessions: fakeSessionService{}}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestInfo(t *testing.T) {
	handler := NewHandler(Deps{})
	req := httptest.NewRequest(http.MethodGet, "/v1/info", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if got["service"] != "medcare-portal" {
		t.Fatalf("expected service 'medcare-portal', got %q", got["service"])
	}
}

func TestMetricsMountedWhenProvided(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("portal_session_operations_total 1\n"))
	})
	rec := httptest.NewRecorder()
	NewHandler(Deps{Metrics: metrics}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "portal_session_operations_total") {
		t.Fatalf("expected metrics body, got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	NewHandler(Deps{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without metrics handler, got %d", rec.Code)
	}
}

func TestLoginSuccess(t *testing.T) {
	audit := &fakeAudit{}
	handler := NewHandler(Deps{Audit: audit, Sessions: fakeSessionService{loginFunc: func(email, secret string) (auth.User, error) {
		if email != "doctor@hospital.com" || secret != "doctor123" {
			return auth.User{}, auth.ErrInvalidCredentials
		}
		return doctorUser(), nil
	}}})

	body := bytes.NewBufferString(`{"email":"doctor@hospital.com","password":"doctor123"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", body)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got struct {
		User map[string]any `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.User["role"] != "doctor" || got.User["specialization"] != "Cardiology" {
		t.Fatalf("unexpected user projection: %v", got.User)
	}
	if _, ok := got.User["password"]; ok {
		t.Fatal("projection must not carry a secret")
	}
	if len(audit.entries) != 1 || audit.entries[0].action != "http.login" || audit.entries[0].outcome != "success" {
		t.Fatalf("unexpected audit entries: %+v", audit.entries)
	}
}

func TestLoginErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{name: "bad body", body: `{`, status: http.StatusBadRequest},
		{name: "missing fields", body: `{"email":"  "}`, status: http.StatusBadRequest},
		{name: "invalid credentials", body: `{"email":"a@b.c","password":"x"}`, err: auth.ErrInvalidCredentials, status: http.StatusUnauthorized},
		{name: "in progress", body: `{"email":"a@b.c","password":"x"}`, err: auth.ErrAuthInProgress, status: http.StatusConflict},
		{name: "store failure", body: `{"email":"a@b.c","password":"x"}`, err: errors.New("db down"), status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler(Deps{Sessions: fakeSessionService{loginFunc: func(string, string) (auth.User, error) {
				return auth.User{}, tt.err
			}}})
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/login", bytes.NewBufferString(tt.body)))
			if rec.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, rec.Code)
			}
		})
	}
}

func TestLoginMethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(Deps{Sessions: fakeSessionService{}}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/auth/login", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rec.Code)
	}
}

func TestRegisterBuildsRoleDetails(t *testing.T) {
	var got auth.RegisterData
	handler := NewHandler(Deps{Sessions: fakeSessionService{registerFunc: func(data auth.RegisterData) (auth.User, error) {
		got = data
		return auth.User{ID: "new", Email: data.Email, Details: data.Details}, nil
	}}})

	body := `{"email":"p@x.com","password":"pw","firstName":"P","lastName":"Q","phone":"1","role":"patient","dateOfBirth":"1990-01-01","address":"1 Road"}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/register", bytes.NewBufferString(body)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	details, ok := got.Details.(auth.PatientDetails)
	if !ok || details.DateOfBirth != "1990-01-01" || details.Address != "1 Road" {
		t.Fatalf("unexpected details: %#v", got.Details)
	}
	if got.Secret != "pw" {
		t.Fatalf("expected secret to be forwarded")
	}
}

func TestRegisterErrors(t *testing.T) {
	valid := `{"email":"p@x.com","password":"pw","role":"staff","department":"Lab"}`
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		msg    string
	}{
		{name: "unknown role", body: `{"email":"p@x.com","password":"pw","role":"admin"}`, status: http.StatusBadRequest},
		{name: "foreign field", body: `{"email":"p@x.com","password":"pw","role":"staff","specialization":"x"}`, status: http.StatusBadRequest},
		{name: "duplicate", body: valid, err: fmt.Errorf("register: %w", auth.ErrDuplicateEmail), status: http.StatusConflict, msg: "Email already exists"},
		{name: "invalid", body: valid, err: auth.ErrInvalidRegistration, status: http.StatusBadRequest},
		{name: "in progress", body: valid, err: auth.ErrAuthInProgress, status: http.StatusConflict},
		{name: "failure", body: valid, err: errors.New("disk full"), status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler(Deps{Sessions: fakeSessionService{registerFunc: func(auth.RegisterData) (auth.User, error) {
				return auth.User{}, tt.err
			}}})
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/register", bytes.NewBufferString(tt.body)))
			if rec.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, rec.Code)
			}
			if tt.msg != "" && !strings.Contains(rec.Body.String(), tt.msg) {
				t.Fatalf("expected message %q in %q", tt.msg, rec.Body.String())
			}
		})
	}
}

func TestMeRequiresSession(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(Deps{Sessions: fakeSessionService{}}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	NewHandler(Deps{Sessions: loggedIn(doctorUser())}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var got struct {
		User  auth.User `json:"user"`
		State string    `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.User.Email != "doctor@hospital.com" || got.State != "authenticated" {
		t.Fatalf("unexpected me response: %+v", got)
	}
}

func TestLogout(t *testing.T) {
	calls := 0
	sessions := loggedIn(doctorUser())
	sessions.logoutFunc = func() error {
		calls++
		return nil
	}
	audit := &fakeAudit{}
	rec := httptest.NewRecorder()
	NewHandler(Deps{Sessions: sessions, Audit: audit}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/logout", nil))
	if rec.Code != http.StatusNoContent || calls != 1 {
		t.Fatalf("expected 204 and one logout call, got %d and %d", rec.Code, calls)
	}
	if len(audit.entries) != 1 || audit.entries[0].actor != "doctor@hospital.com" {
		t.Fatalf("unexpected audit entries: %+v", audit.entries)
	}

	sessions.logoutFunc = func() error { return errors.New("slot locked") }
	rec = httptest.NewRecorder()
	NewHandler(Deps{Sessions: sessions}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/auth/logout", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rec.Code)
	}
}

func TestNavigation(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(Deps{Sessions: loggedIn(doctorUser()), Views: views()}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/navigation", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var got struct {
		Role  string           `json:"role"`
		Items []router.NavItem `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Role != "doctor" || len(got.Items) != 4 || got.Items[2].Path != "/patients" {
		t.Fatalf("unexpected navigation: %+v", got)
	}

	rec = httptest.NewRecorder()
	NewHandler(Deps{Sessions: fakeSessionService{}, Views: views()}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/navigation", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

func TestViews(t *testing.T) {
	patient := auth.User{ID: "2", Email: "patient@email.com", Details: auth.PatientDetails{}}
	tests := []struct {
		name     string
		sessions fakeSessionService
		path     string
		status   int
		location string
	}{
		{name: "render", sessions: loggedIn(doctorUser()), path: "/v1/views/patients", status: http.StatusOK},
		{name: "denied", sessions: loggedIn(patient), path: "/v1/views/patients", status: http.StatusForbidden},
		{name: "login", sessions: fakeSessionService{}, path: "/v1/views/dashboard", status: http.StatusUnauthorized},
		{name: "unknown", sessions: loggedIn(patient), path: "/v1/views/nowhere", status: http.StatusTemporaryRedirect, location: "/v1/views/dashboard"},
		{name: "root", sessions: loggedIn(patient), path: "/v1/views/", status: http.StatusTemporaryRedirect, location: "/v1/views/dashboard"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			audit := &fakeAudit{}
			rec := httptest.NewRecorder()
			NewHandler(Deps{Sessions: tt.sessions, Views: views(), Audit: audit}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if tt.location != "" && rec.Header().Get("Location") != tt.location {
				t.Fatalf("expected location %q, got %q", tt.location, rec.Header().Get("Location"))
			}
			if tt.status == http.StatusForbidden {
				if len(audit.entries) != 1 || audit.entries[0].outcome != "denied" || audit.entries[0].target != "/patients" {
					t.Fatalf("expected denial to be audited, got %+v", audit.entries)
				}
				if e := audit.entries[0]; e.role != auth.RolePatient || e.actor != "patient@email.com" || !strings.Contains(e.detail, "ip=") {
					t.Fatalf("expected role and request context on denial, got %+v", e)
				}
				if !strings.Contains(rec.Body.String(), "Access Denied") {
					t.Fatalf("expected access denied body, got %q", rec.Body.String())
				}
			}
		})
	}
}

func TestAuditReqCarriesRequestContext(t *testing.T) {
	audit := &fakeAudit{}
	handler := loggingMiddleware(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auditReq(audit, r, " Doctor@Hospital.com ", "http.login", "", "success", "ok")
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil)
	req.Header.Set("X-Request-Id", "rid-1")
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if len(audit.entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(audit.entries))
	}
	e := audit.entries[0]
	if e.actor != "doctor@hospital.com" {
		t.Fatalf("expected normalized actor, got %q", e.actor)
	}
	if !strings.Contains(e.detail, "rid=rid-1") || !strings.Contains(e.detail, "ip=10.0.0.1") || !strings.Contains(e.detail, "detail=ok") {
		t.Fatalf("unexpected audit detail %q", e.detail)
	}
}
