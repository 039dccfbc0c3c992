package httpserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"medcare/portal/internal/auth"
	"medcare/portal/internal/config"
	"medcare/portal/internal/router"
)

// SessionService is the process-wide session of the portal instance.
type SessionService interface {
	Login(email, secret string) (auth.User, error)
	Register(data auth.RegisterData) (auth.User, error)
	Logout() error
	CurrentUser() (auth.User, bool)
	State() auth.State
}

type ViewRouter interface {
	Resolve(p string, session *auth.User) router.Resolution
	Navigation(role auth.Role) []router.NavItem
}

type AuditLogger interface {
	Log(actor, action, target, outcome, detail string) error
	Denied(actor string, role auth.Role, path, detail string) error
}

type Deps struct {
	Sessions SessionService
	Views    ViewRouter
	Audit    AuditLogger
	Metrics  http.Handler
	Logger   *slog.Logger
}

type Server struct {
	httpServer *http.Server
}

func New(cfg config.HTTPConfig, deps Deps) *Server {
	handler := NewHandler(deps)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      loggingMiddleware(deps.Logger, handler),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
	}
}

func NewHandler(deps Deps) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if deps.Sessions == nil {
			writeError(w, http.StatusServiceUnavailable, "session service unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	mux.HandleFunc("/v1/info", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"service": "medcare-portal",
			"version": "0.1.0",
		})
	})
	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics)
	}

	registerAuthHandlers(mux, deps)
	registerViewHandlers(mux, deps)

	return mux
}

type registerRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	Phone          string `json:"phone"`
	Role           string `json:"role"`
	Specialization string `json:"specialization"`
	Department     string `json:"department"`
	DateOfBirth    string `json:"dateOfBirth"`
	Address        string `json:"address"`
}

func (req registerRequest) data() (auth.RegisterData, error) {
	role, err := auth.ParseRole(req.Role)
	if err != nil {
		return auth.RegisterData{}, err
	}
	details, err := auth.BuildDetails(role, auth.ProfileFields{
		Specialization: req.Specialization,
		Department:     req.Department,
		DateOfBirth:    req.DateOfBirth,
		Address:        req.Address,
	})
	if err != nil {
		return auth.RegisterData{}, err
	}
	return auth.RegisterData{
		Email:     req.Email,
		Secret:    req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Details:   details,
	}, nil
}

func registerAuthHandlers(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if deps.Sessions == nil {
			writeError(w, http.StatusServiceUnavailable, "session service unavailable")
			return
		}

		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.Email) == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "email and password are required")
			return
		}

		user, err := deps.Sessions.Login(req.Email, req.Password)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidCredentials):
				auditReq(deps.Audit, r, req.Email, "http.login", "", "failed", "invalid credentials")
				writeError(w, http.StatusUnauthorized, "Invalid email or password")
			case errors.Is(err, auth.ErrAuthInProgress):
				writeError(w, http.StatusConflict, "authentication already in progress")
			default:
				auditReq(deps.Audit, r, req.Email, "http.login", "", "failed", err.Error())
				writeError(w, http.StatusInternalServerError, "login failed")
			}
			return
		}
		auditReq(deps.Audit, r, user.Email, "http.login", "", "success", "")
		writeJSON(w, http.StatusOK, map[string]any{"user": user})
	})

	mux.HandleFunc("/v1/auth/register", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if deps.Sessions == nil {
			writeError(w, http.StatusServiceUnavailable, "session service unavailable")
			return
		}

		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		data, err := req.data()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		user, err := deps.Sessions.Register(data)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrDuplicateEmail):
				auditReq(deps.Audit, r, req.Email, "http.register", "", "failed", "duplicate email")
				writeError(w, http.StatusConflict, "Email already exists")
			case errors.Is(err, auth.ErrInvalidRegistration):
				writeError(w, http.StatusBadRequest, err.Error())
			case errors.Is(err, auth.ErrAuthInProgress):
				writeError(w, http.StatusConflict, "authentication already in progress")
			default:
				auditReq(deps.Audit, r, req.Email, "http.register", "", "failed", err.Error())
				writeError(w, http.StatusInternalServerError, "registration failed")
			}
			return
		}
		auditReq(deps.Audit, r, user.Email, "http.register", user.ID, "success", "")
		writeJSON(w, http.StatusCreated, map[string]any{"user": user})
	})

	mux.HandleFunc("/v1/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		user, ok := requireSession(w, deps.Sessions)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user":  user,
			"state": deps.Sessions.State().String(),
		})
	})

	mux.HandleFunc("/v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if deps.Sessions == nil {
			writeError(w, http.StatusServiceUnavailable, "session service unavailable")
			return
		}
		user, _ := deps.Sessions.CurrentUser()
		if err := deps.Sessions.Logout(); err != nil {
			auditReq(deps.Audit, r, user.Email, "http.logout", "", "failed", err.Error())
			writeError(w, http.StatusInternalServerError, "logout failed")
			return
		}
		auditReq(deps.Audit, r, user.Email, "http.logout", "", "success", "")
		w.WriteHeader(http.StatusNoContent)
	})
}

func registerViewHandlers(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("/v1/navigation", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if deps.Views == nil {
			writeError(w, http.StatusServiceUnavailable, "view router unavailable")
			return
		}
		user, ok := requireSession(w, deps.Sessions)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"role":  user.Role(),
			"items": deps.Views.Navigation(user.Role()),
		})
	})

	mux.HandleFunc("/v1/views/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if deps.Views == nil || deps.Sessions == nil {
			writeError(w, http.StatusServiceUnavailable, "view router unavailable")
			return
		}

		viewPath := "/" + strings.TrimPrefix(r.URL.Path, "/v1/views/")
		var session *auth.User
		if u, ok := deps.Sessions.CurrentUser(); ok {
			session = &u
		}

		res := deps.Views.Resolve(viewPath, session)
		switch res.Outcome {
		case router.OutcomeRender:
			writeJSON(w, http.StatusOK, map[string]any{
				"outcome": res.Outcome,
				"path":    res.Route.Path,
				"view":    res.Route.View,
			})
		case router.OutcomeRedirect:
			w.Header().Set("Location", "/v1/views"+res.Location)
			writeJSON(w, http.StatusTemporaryRedirect, map[string]any{
				"outcome":  res.Outcome,
				"location": res.Location,
			})
		case router.OutcomeLogin:
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"outcome":  res.Outcome,
				"location": res.Location,
				"error":    "not authenticated",
			})
		default:
			var actor string
			var role auth.Role
			if session != nil {
				actor, role = session.Email, session.Role()
			}
			if err := auditDenied(deps.Audit, r, actor, role, res.Route.Path); err != nil && deps.Logger != nil {
				deps.Logger.Warn("write audit event", "action", "view.open", "error", err)
			}
			writeJSON(w, http.StatusForbidden, map[string]any{
				"outcome": res.Outcome,
				"path":    res.Route.Path,
				"error":   "Access Denied",
				"message": "You don't have permission to access this page.",
			})
		}
	})
}

func requireSession(w http.ResponseWriter, sessions SessionService) (auth.User, bool) {
	if sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session service unavailable")
		return auth.User{}, false
	}
	user, ok := sessions.CurrentUser()
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return auth.User{}, false
	}
	return user, true
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if reqID == "" {
			reqID = newRequestID()
		}
		w.Header().Set("X-Request-Id", reqID)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, reqID))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("http request",
			"rid", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

type requestIDKey struct{}

func newRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func requestIDFromContext(ctx context.Context) string {
	v := ctx.Value(requestIDKey{})
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func clientIP(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

func auditReq(a AuditLogger, r *http.Request, actor, action, target, outcome, detail string) {
	auditSafe(a, strings.ToLower(strings.TrimSpace(actor)), action, target, outcome, requestDetail(r, detail))
}

func auditDenied(a AuditLogger, r *http.Request, actor string, role auth.Role, path string) error {
	if a == nil {
		return nil
	}
	return a.Denied(strings.ToLower(strings.TrimSpace(actor)), role, path, requestDetail(r, ""))
}

func requestDetail(r *http.Request, detail string) string {
	parts := []string{
		"rid=" + requestIDFromContext(r.Context()),
		"ip=" + clientIP(r),
		"ua=" + strings.TrimSpace(r.UserAgent()),
	}
	if strings.TrimSpace(detail) != "" {
		parts = append(parts, "detail="+strings.TrimSpace(detail))
	}
	return strings.Join(parts, " | ")
}

func auditSafe(a AuditLogger, actor, action, target, outcome, detail string) {
	if a == nil {
		return
	}
	_ = a.Log(actor, action, target, outcome, detail)
}
