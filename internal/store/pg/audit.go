package pg

import (
	"context"
	"database/sql"
	"encoding/json"

	"claimtrail.org/internal/audit"
)

// AuditStore exposes the append-only audit event table.
func (s *Store) AuditStore() audit.Store { return &auditStore{db: s.db} }

type auditStore struct{ db *sql.DB }

var _ audit.Store = (*auditStore)(nil)

// Append inserts one immutable event. There is no update or delete path.
func (s *auditStore) Append(ctx context.Context, e *audit.Event) error {
	changes, err := json.Marshal(e.Changes)
	if err != nil {
		return err
	}
	metadata := []byte("{}")
	if len(e.Metadata) > 0 {
		metadata, err = json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_events(id, action, actor_id, actor_type, entity_type, entity_id, description, changes, metadata, success, occurred_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, e.ID, e.Action, e.Actor.ID, e.Actor.Type, e.EntityType, e.EntityID,
		e.Description, changes, metadata, e.Success, e.OccurredAt)
	return err
}

// ListByEntity returns events for one entity newest-first. ULID ids sort in
// insertion order, which breaks ties within one timestamp.
func (s *auditStore) ListByEntity(ctx context.Context, entityType, entityID string, limit, offset int) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, action, actor_id, actor_type, entity_type, entity_id, description, changes, metadata, success, occurred_at
		from audit_events
		where entity_type=$1 and entity_id=$2
		order by occurred_at desc, id desc
		limit $3 offset $4
	`, entityType, entityID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			e        audit.Event
			changes  []byte
			metadata []byte
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.Actor.ID, &e.Actor.Type,
			&e.EntityType, &e.EntityID, &e.Description, &changes, &metadata,
			&e.Success, &e.OccurredAt); err != nil {
			return nil, err
		}
		if len(changes) > 0 {
			if err := json.Unmarshal(changes, &e.Changes); err != nil {
				return nil, err
			}
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, err
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
