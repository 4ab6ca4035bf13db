package httpapi

import (
	"errors"
	"net/http"
	"time"

	"claimtrail.org/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	MFACode  string `json:"mfa_code,omitempty"`
}

type userResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type loginResponse struct {
	Token        string       `json:"token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresAt    time.Time    `json:"expires_at"`
	User         userResponse `json:"user"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result, err := a.sessions.Login(r.Context(), req.Username, req.Password, req.MFACode, clientIP(r), r.UserAgent())
	if err != nil {
		a.writeLoginError(w, r, err)
		return
	}

	a.setAuthCookies(w, result.Tokens)
	writeJSON(w, http.StatusOK, loginResponse{
		Token:        result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		ExpiresAt:    result.Tokens.AccessExpiresAt,
		User: userResponse{
			ID:       result.Principal.ID,
			Username: result.Principal.Username,
			Role:     result.Principal.Role,
		},
	})
}

// writeLoginError is the one place allowed to give actionable feedback:
// remaining attempts and the unlock time. Everything else stays generic.
func (a *API) writeLoginError(w http.ResponseWriter, r *http.Request, err error) {
	var credErr *auth.CredentialsError
	if errors.As(err, &credErr) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error":              "invalid credentials",
			"attempts_remaining": credErr.AttemptsRemaining,
		})
		return
	}
	var lockErr *auth.LockedError
	if errors.As(err, &lockErr) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error":        "account locked",
			"locked_until": lockErr.Until.UTC().Format(time.RFC3339),
		})
		return
	}
	if errors.Is(err, auth.ErrMfaRequired) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error":        "mfa code required",
			"mfa_required": true,
		})
		return
	}
	writeAuthError(w, r, err)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req refreshRequest
	// Body is optional; the refresh cookie serves browser clients.
	_ = decodeJSON(w, r, &req)
	token := req.RefreshToken
	if token == "" {
		if cookie, err := r.Cookie(refreshCookieName); err == nil {
			token = cookie.Value
		}
	}
	if token == "" {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	result, err := a.sessions.Refresh(r.Context(), token)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}

	a.setAuthCookies(w, result.Tokens)
	writeJSON(w, http.StatusOK, loginResponse{
		Token:        result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		ExpiresAt:    result.Tokens.AccessExpiresAt,
		User: userResponse{
			ID:       result.Principal.ID,
			Username: result.Principal.Username,
			Role:     result.Principal.Role,
		},
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	identity, _ := auth.IdentityFromContext(r.Context())
	if identity.SessionID != "" {
		if err := a.sessions.Logout(r.Context(), identity.SessionID); err != nil {
			writeAuthError(w, r, err)
			return
		}
	}
	a.clearAuthCookies(w)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity.FromAPIKey() {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.sessions.ChangePassword(r.Context(), identity.PrincipalID, req.CurrentPassword, req.NewPassword); err != nil {
		writeAuthError(w, r, err)
		return
	}
	// Password change revoked every session, this one included.
	a.clearAuthCookies(w)
	writeJSON(w, http.StatusOK, map[string]any{"status": "password_changed"})
}

func (a *API) handleMFASetup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity.FromAPIKey() {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	enrollment, err := a.sessions.SetupMFA(r.Context(), identity.PrincipalID)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"secret":         enrollment.Secret,
		"provision_uri":  enrollment.ProvisionURI,
		"recovery_codes": enrollment.RecoveryCodes,
	})
}

type mfaVerifyRequest struct {
	Code string `json:"code"`
}

func (a *API) handleMFAVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity.FromAPIKey() {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req mfaVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.sessions.ConfirmMFA(r.Context(), identity.PrincipalID, req.Code); err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "mfa_enabled"})
}

// setAuthCookies stores both tokens as HTTP-only SameSite=Strict cookies,
// Secure outside development.
func (a *API) setAuthCookies(w http.ResponseWriter, pair auth.TokenPair) {
	now := time.Now()
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookieName,
		Value:    pair.AccessToken,
		Path:     "/",
		MaxAge:   int(pair.AccessExpiresAt.Sub(now).Seconds()),
		HttpOnly: true,
		Secure:   !a.development,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    pair.RefreshToken,
		Path:     "/v1/auth",
		MaxAge:   int(pair.RefreshExpiresAt.Sub(now).Seconds()),
		HttpOnly: true,
		Secure:   !a.development,
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *API) clearAuthCookies(w http.ResponseWriter) {
	for _, c := range []struct{ name, path string }{
		{accessCookieName, "/"},
		{refreshCookieName, "/v1/auth"},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     c.path,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   !a.development,
			SameSite: http.SameSiteStrictMode,
		})
	}
}
