package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the security core.
// Lockout counters live on the principal row, not in memory, so they survive
// process restarts.
type Store interface {
	Principals(ctx context.Context) PrincipalStore
	Sessions(ctx context.Context) SessionStore
	APIKeys(ctx context.Context) APIKeyStore
}

// PrincipalStore manages user accounts and their lockout/MFA state.
type PrincipalStore interface {
	Create(ctx context.Context, p *Principal) error
	Find(ctx context.Context, id string) (*Principal, error)
	FindByUsername(ctx context.Context, username string) (*Principal, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateLoginState(ctx context.Context, id string, failedLogins int, lockedUntil *time.Time) error
	SetMFASecret(ctx context.Context, id, secret string) error
	SetMFAEnabled(ctx context.Context, id string, enabled bool) error
	SetActive(ctx context.Context, id string, active bool) error

	ReplaceRecoveryCodes(ctx context.Context, principalID string, codeHashes []string) error
	RecoveryCodes(ctx context.Context, principalID string) ([]RecoveryCode, error)
	ConsumeRecoveryCode(ctx context.Context, principalID, codeHash string) error
}

// SessionStore manages session lifecycle. Revocation must be visible to the
// next authorization check (read-after-write).
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	Revoke(ctx context.Context, id string) error
	RevokeByPrincipal(ctx context.Context, principalID string) error
	ExtendExpiry(ctx context.Context, id string, expiresAt time.Time) error
}

// APIKeyStore manages machine credentials.
type APIKeyStore interface {
	Create(ctx context.Context, k *APIKey) error
	FindByKeyID(ctx context.Context, keyID string) (*APIKey, error)
	SetActive(ctx context.Context, id string, active bool) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}
