package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"claimtrail.org/internal/auth"
	"claimtrail.org/internal/audit"
	"claimtrail.org/internal/obs"
	"claimtrail.org/internal/ratelimit"
)

// ReadyProbe checks readiness, typically a DB ping.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP surface of the security core.
type API struct {
	mux *http.ServeMux

	sessions *auth.Service
	apikeys  *auth.APIKeys
	audits   *audit.Service
	matrix   *auth.Matrix

	loginLimiter ratelimit.Limiter
	apiLimiter   ratelimit.Limiter

	readyProbe  ReadyProbe
	version     string
	development bool
}

// Config wires the API's collaborators.
type Config struct {
	Sessions *auth.Service
	APIKeys  *auth.APIKeys
	Audits   *audit.Service
	Matrix   *auth.Matrix

	LoginLimiter ratelimit.Limiter
	APILimiter   ratelimit.Limiter

	ReadyProbe  ReadyProbe
	Version     string
	Development bool
}

// New constructs the API and registers routes.
func New(cfg Config) *API {
	a := &API{
		mux:          http.NewServeMux(),
		sessions:     cfg.Sessions,
		apikeys:      cfg.APIKeys,
		audits:       cfg.Audits,
		matrix:       cfg.Matrix,
		loginLimiter: cfg.LoginLimiter,
		apiLimiter:   cfg.APILimiter,
		readyProbe:   cfg.ReadyProbe,
		version:      cfg.Version,
		development:  cfg.Development,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.Handle("/v1/auth/login", a.rateLimited(a.loginLimiter, http.HandlerFunc(a.handleLogin)))
	a.mux.Handle("/v1/auth/refresh", a.rateLimited(a.loginLimiter, http.HandlerFunc(a.handleRefresh)))
	a.mux.Handle("/v1/auth/logout", a.authorized("", http.HandlerFunc(a.handleLogout)))
	a.mux.Handle("/v1/auth/password", a.authorized("", http.HandlerFunc(a.handleChangePassword)))
	a.mux.Handle("/v1/auth/mfa/setup", a.authorized("", http.HandlerFunc(a.handleMFASetup)))
	a.mux.Handle("/v1/auth/mfa/verify", a.authorized("", http.HandlerFunc(a.handleMFAVerify)))

	a.mux.Handle("/v1/apikeys", a.authorized("apikeys:manage", http.HandlerFunc(a.handleAPIKeys)))
	a.mux.Handle("/v1/apikeys/", a.authorized("apikeys:manage", http.HandlerFunc(a.handleAPIKeyByID)))

	a.mux.Handle("/v1/audit/", a.authorized("audit:read", http.HandlerFunc(a.handleAuditHistory)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	return obs.Instrument(RequestID(LoggingJSON(SecurityHeaders(a.mux))))
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "claimtrail-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	body := map[string]any{"error": msg}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		body["request_id"] = rid
	}
	writeJSON(w, code, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return errors.New("invalid request body")
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

// writeAuthError maps core sentinels onto the failure classes the boundary
// is allowed to reveal: 429 rate limited, 401 unauthenticated, 403 denied.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrPermissionDenied):
		writeError(w, r, http.StatusForbidden, "insufficient permissions")
	case errors.Is(err, auth.ErrTokenExpired):
		writeError(w, r, http.StatusUnauthorized, "token expired")
	case errors.Is(err, auth.ErrTokenInvalid),
		errors.Is(err, auth.ErrSessionRevoked),
		errors.Is(err, auth.ErrAccountInactive),
		errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrMfaCodeInvalid),
		errors.Is(err, auth.ErrMfaRequired),
		errors.Is(err, auth.ErrAccountLocked):
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid request")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func pathSegments(path, prefix string) []string {
	rest := strings.TrimPrefix(path, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}
