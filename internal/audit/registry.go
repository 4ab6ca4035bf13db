package audit

// Tracked field declarations per entity type. The diff never falls back to
// untyped reflection over arbitrary payloads: an entity either declares its
// auditable fields here or callers pass an explicit list.
var trackedFields = map[string][]string{
	"statement": {"title", "body", "status", "stated_at", "tags", "source_url"},
	"person":    {"name", "role", "organization", "aliases"},
	"source":    {"name", "url", "kind"},
	"principal": {"username", "role", "active", "mfa_enabled"},
	"apikey":    {"name", "active", "permissions", "expires_at"},
}

// TrackedFields returns the declared auditable fields for an entity type,
// or nil when the type declares none.
func TrackedFields(entityType string) []string {
	fields, ok := trackedFields[entityType]
	if !ok {
		return nil
	}
	out := make([]string, len(fields))
	copy(out, fields)
	return out
}
