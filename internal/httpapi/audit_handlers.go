package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"claimtrail.org/internal/audit"
)

type auditEventResponse struct {
	ID        string              `json:"id"`
	Action    string              `json:"action"`
	Timestamp time.Time           `json:"timestamp"`
	Actor     audit.Actor         `json:"actor"`
	Changes   []audit.FieldChange `json:"changes"`
	Success   bool                `json:"success"`
	Formatted string              `json:"formatted"`
}

// handleAuditHistory serves GET /v1/audit/{entityType}/{entityId}.
func (a *API) handleAuditHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	segments := pathSegments(r.URL.Path, "/v1/audit")
	if len(segments) != 2 {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	entityType, entityID := segments[0], segments[1]

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	events, err := a.audits.GetHistory(r.Context(), entityType, entityID, limit, offset)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid audit query")
		return
	}

	out := make([]auditEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, auditEventResponse{
			ID:        e.ID,
			Action:    e.Action,
			Timestamp: e.OccurredAt,
			Actor:     e.Actor,
			Changes:   e.Changes,
			Success:   e.Success,
			Formatted: audit.FormatEntry(e),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entity_type": entityType,
		"entity_id":   entityID,
		"events":      out,
	})
}

func queryInt(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
