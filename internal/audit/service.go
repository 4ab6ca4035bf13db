package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"claimtrail.org/internal/ids"
	"claimtrail.org/internal/obs"
)

// Actor identifies who performed an action.
type Actor struct {
	ID   string `json:"id"`
	Type string `json:"type"` // "user" or "apikey"
}

// Event is one immutable record of an action taken on an entity.
// Events are append-only; nothing updates or deletes them.
type Event struct {
	ID          string            `json:"id"`
	Action      string            `json:"action"`
	Actor       Actor             `json:"actor"`
	EntityType  string            `json:"entity_type"`
	EntityID    string            `json:"entity_id"`
	Description string            `json:"description"`
	Changes     []FieldChange     `json:"changes"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Success     bool              `json:"success"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// Store appends and queries immutable audit events.
type Store interface {
	Append(ctx context.Context, e *Event) error
	ListByEntity(ctx context.Context, entityType, entityID string, limit, offset int) ([]Event, error)
}

// Service persists field-level change history. Writes are best-effort with
// respect to the triggering business operation: a failed audit write is
// logged and counted but never rolls back or blocks the mutation.
type Service struct {
	store Store
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs an audit service over the given store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LogChange persists one audit event for a non-empty change set. An empty
// change set is a no-op: events with zero detected changes are never stored.
func (s *Service) LogChange(ctx context.Context, entityType, entityID string, changes []FieldChange, actor Actor, action string, metadata map[string]string) {
	if len(changes) == 0 {
		return
	}
	event := &Event{
		ID:          ids.New(),
		Action:      action,
		Actor:       actor,
		EntityType:  entityType,
		EntityID:    entityID,
		Description: fmt.Sprintf("%d field(s) changed on %s %s", len(changes), entityType, entityID),
		Changes:     changes,
		Metadata:    metadata,
		Success:     true,
		OccurredAt:  s.now().UTC(),
	}
	s.append(ctx, event)
}

// LogAction persists an event with no field diff, for actions such as logins
// and lockouts where the event itself is the payload.
func (s *Service) LogAction(ctx context.Context, entityType, entityID string, actor Actor, action string, success bool, metadata map[string]string) {
	event := &Event{
		ID:          ids.New(),
		Action:      action,
		Actor:       actor,
		EntityType:  entityType,
		EntityID:    entityID,
		Description: action + " on " + entityType + " " + entityID,
		Metadata:    metadata,
		Success:     success,
		OccurredAt:  s.now().UTC(),
	}
	s.append(ctx, event)
}

func (s *Service) append(ctx context.Context, event *Event) {
	if err := s.store.Append(ctx, event); err != nil {
		obs.ObserveAuditWriteFailure()
		obs.Error("audit write failed", map[string]any{
			"action":      event.Action,
			"entity_type": event.EntityType,
			"entity_id":   event.EntityID,
			"error":       err.Error(),
		})
	}
}

// GetHistory returns events for one entity ordered newest-first.
func (s *Service) GetHistory(ctx context.Context, entityType, entityID string, limit, offset int) ([]Event, error) {
	entityType = strings.TrimSpace(entityType)
	entityID = strings.TrimSpace(entityID)
	if entityType == "" || entityID == "" {
		return nil, fmt.Errorf("entity type and id are required")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListByEntity(ctx, entityType, entityID, limit, offset)
}

// FormatEntry renders one event for display:
//
//	[2026-01-02T15:04:05Z] user abc content.update: 2 field(s) changed on statement s1 (title: old → new)
func FormatEntry(e Event) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(e.OccurredAt.UTC().Format(time.RFC3339))
	b.WriteString("] ")
	b.WriteString(e.Actor.Type)
	b.WriteString(" ")
	b.WriteString(e.Actor.ID)
	b.WriteString(" ")
	b.WriteString(e.Action)
	b.WriteString(": ")
	b.WriteString(e.Description)
	if len(e.Changes) > 0 {
		parts := make([]string, 0, len(e.Changes))
		for _, c := range e.Changes {
			old := c.Old
			if old == "" {
				old = "∅"
			}
			next := c.New
			if next == "" {
				next = "∅"
			}
			parts = append(parts, fmt.Sprintf("%s: %s → %s", c.Field, old, next))
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, "; "))
		b.WriteString(")")
	}
	return b.String()
}
