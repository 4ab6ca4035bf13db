package auth

import "time"

// Principal is an authenticated actor: a human user or, for machine clients,
// the owner of an API key.
type Principal struct {
	ID           string
	Username     string
	PasswordHash string
	Role         string
	Active       bool

	MFAEnabled bool
	MFASecret  string

	FailedLogins int
	LockedUntil  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Locked reports whether the principal has an outstanding lockout at now.
func (p *Principal) Locked(now time.Time) bool {
	return p.LockedUntil != nil && now.Before(*p.LockedUntil)
}

// Session binds one login event to a token lineage. Tokens stay
// cryptographically valid until their TTL, so revocation is enforced by
// looking the session up on every authorization.
type Session struct {
	ID          string
	PrincipalID string
	IP          string
	UserAgent   string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Revoked     bool
}

// Active reports whether the session may still authorize requests at now.
func (s *Session) Active(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}

// APIKey is a long-lived machine credential. The public KeyID is safe to log;
// only a bcrypt hash of the secret is stored.
type APIKey struct {
	ID          string
	KeyID       string
	SecretHash  string
	PrincipalID string
	Name        string
	Permissions []string
	Active      bool
	ExpiresAt   *time.Time
	LastUsedAt  *time.Time
	CreatedAt   time.Time
}

// Expired reports whether the key's optional expiry has elapsed at now.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// RecoveryCode is a single-use MFA fallback credential, stored hashed.
type RecoveryCode struct {
	PrincipalID string
	CodeHash    string
	Used        bool
}

// Built-in roles.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)
