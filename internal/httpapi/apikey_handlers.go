package httpapi

import (
	"net/http"
	"time"

	"claimtrail.org/internal/auth"
)

type issueAPIKeyRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	TTLDays     int      `json:"ttl_days,omitempty"`
}

type issueAPIKeyResponse struct {
	ID     string `json:"id"`
	KeyID  string `json:"key_id"`
	Name   string `json:"name"`
	Secret string `json:"secret"`

	Permissions []string   `json:"permissions"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func (a *API) handleAPIKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity.FromAPIKey() {
		// Keys do not mint keys.
		writeError(w, r, http.StatusForbidden, "insufficient permissions")
		return
	}
	var req issueAPIKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// A key's scope must not exceed the issuing principal's role.
	for _, perm := range req.Permissions {
		if !a.matrix.HasPermission(identity.Role, perm) {
			writeError(w, r, http.StatusForbidden, "insufficient permissions")
			return
		}
	}

	key, secret, err := a.apikeys.Issue(r.Context(), identity.PrincipalID, req.Name, req.Permissions, req.TTLDays)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, issueAPIKeyResponse{
		ID:          key.ID,
		KeyID:       key.KeyID,
		Name:        key.Name,
		Secret:      secret,
		Permissions: key.Permissions,
		ExpiresAt:   key.ExpiresAt,
	})
}

func (a *API) handleAPIKeyByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	segments := pathSegments(r.URL.Path, "/v1/apikeys")
	if len(segments) != 1 {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	identity, _ := auth.IdentityFromContext(r.Context())
	if err := a.apikeys.Revoke(r.Context(), identity.PrincipalID, segments[0]); err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "revoked"})
}
