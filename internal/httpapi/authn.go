package httpapi

import (
	"net/http"
	"strings"

	"claimtrail.org/internal/auth"
)

const (
	authHeader   = "Authorization"
	apiKeyHeader = "X-API-Key"
	bearerPrefix = "Bearer "

	accessCookieName  = "auth_token"
	refreshCookieName = "refresh_token"
)

// authorized composes the fixed-order request checks: rate limit, credential
// extraction (header preferred over cookie), token or API-key verification,
// principal lookup, then the permission check. On success the resolved
// identity rides the request context. Failures reveal only their class.
func (a *API) authorized(permission string, next http.Handler) http.Handler {
	return a.rateLimited(a.apiLimiter, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := a.authenticate(r)
		if err != nil {
			writeAuthError(w, r, err)
			return
		}

		if permission != "" {
			if err := a.authorize(identity, permission); err != nil {
				writeAuthError(w, r, err)
				return
			}
		}

		ctx := auth.ContextWithIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	}))
}

// authenticate resolves the request's credential to an identity. Machine
// credentials (X-API-Key, or a Bearer value carrying the key prefix) verify
// against the API key service; everything else is an access token.
func (a *API) authenticate(r *http.Request) (auth.Identity, error) {
	if raw := strings.TrimSpace(r.Header.Get(apiKeyHeader)); raw != "" {
		return a.apikeys.Verify(r.Context(), raw)
	}

	credential, err := extractCredential(r)
	if err != nil {
		return auth.Identity{}, err
	}
	if strings.HasPrefix(credential, "ctk_") {
		return a.apikeys.Verify(r.Context(), credential)
	}
	return a.sessions.AuthenticateAccess(r.Context(), credential)
}

// authorize checks the permission. Users are bound by the role matrix; API
// keys are additionally bound by their issued scope, so a key never exceeds
// either its scope or its owner's role.
func (a *API) authorize(identity auth.Identity, permission string) error {
	if !a.matrix.HasPermission(identity.Role, permission) {
		return auth.ErrPermissionDenied
	}
	if identity.FromAPIKey() && !auth.PermissionInSet(identity.KeyPermissions, permission) {
		return auth.ErrPermissionDenied
	}
	return nil
}

// extractCredential reads the bearer header first, then the access-token
// cookie.
func extractCredential(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get(authHeader))
	if header != "" {
		if !strings.HasPrefix(header, bearerPrefix) {
			return "", auth.ErrTokenInvalid
		}
		token := strings.TrimSpace(header[len(bearerPrefix):])
		if token == "" {
			return "", auth.ErrTokenInvalid
		}
		return token, nil
	}
	if cookie, err := r.Cookie(accessCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	return "", auth.ErrTokenInvalid
}
