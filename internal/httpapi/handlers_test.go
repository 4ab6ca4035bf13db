package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"claimtrail.org/internal/audit"
)

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rr := doJSON(t, env.api.mux, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestReadyzWithoutDB(t *testing.T) {
	env := newTestEnv(t)
	rr := doJSON(t, env.api.mux, http.MethodGet, "/readyz", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rr.Code)
	}
}

func TestUnknownPathIs404(t *testing.T) {
	env := newTestEnv(t)
	rr := doJSON(t, env.api.mux, http.MethodGet, "/v2/nothing", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", rr.Code)
	}
}

func TestAuditHistoryEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.store.addPrincipal(t, "p1", "admin", "swordfish pilot", "admin")
	resp := login(t, env, "admin", "swordfish pilot")

	at := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	for i, action := range []string{"content.create", "content.update", "content.update"} {
		_ = env.audits.Append(context.Background(), &audit.Event{
			ID: "evt-" + string(rune('a'+i)), Action: action,
			Actor: audit.Actor{ID: "u1", Type: "user"}, EntityType: "statement", EntityID: "s1",
			Description: action + " on statement s1", Success: true, OccurredAt: at,
		})
	}

	rr := doJSON(t, env.api.mux, http.MethodGet, "/v1/audit/statement/s1?limit=2", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+resp.Token)
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		EntityType string               `json:"entity_type"`
		EntityID   string               `json:"entity_id"`
		Events     []auditEventResponse `json:"events"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.EntityType != "statement" || body.EntityID != "s1" {
		t.Fatalf("unexpected envelope: %+v", body)
	}
	if len(body.Events) != 2 {
		t.Fatalf("limit not applied: got %d events", len(body.Events))
	}
	if body.Events[0].Formatted == "" {
		t.Fatal("events should carry a formatted rendering")
	}

	// Bad shapes.
	rr = doJSON(t, env.api.mux, http.MethodGet, "/v1/audit/statement", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+resp.Token)
	})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing id segment: want 404, got %d", rr.Code)
	}
	rr = doJSON(t, env.api.mux, http.MethodDelete, "/v1/audit/statement/s1", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+resp.Token)
	})
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("audit events are read-only over HTTP: want 405, got %d", rr.Code)
	}
}
