package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"claimtrail.org/internal/audit"
	"claimtrail.org/internal/ids"
	"claimtrail.org/internal/obs"
)

// apiKeyPrefix marks the public key identifier. The identifier is safe to
// log; the secret is shown once at issuance and stored only as a bcrypt hash.
const apiKeyPrefix = "ctk_"

const apiKeySecretBytes = 32

// APIKeys issues and verifies scoped machine credentials, independent of
// interactive sessions.
type APIKeys struct {
	store  Store
	audits *audit.Service
	now    func() time.Time
}

// APIKeysOption configures an APIKeys service.
type APIKeysOption func(*APIKeys)

// WithAPIKeysClock overrides the time source, for tests.
func WithAPIKeysClock(fn func() time.Time) APIKeysOption {
	return func(a *APIKeys) {
		if fn != nil {
			a.now = fn
		}
	}
}

// NewAPIKeys constructs the API key service.
func NewAPIKeys(store Store, audits *audit.Service, opts ...APIKeysOption) (*APIKeys, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	a := &APIKeys{store: store, audits: audits, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Issue creates a scoped key for the principal. The returned credential is
// "<keyID>.<secret>" and cannot be reconstructed later.
func (a *APIKeys) Issue(ctx context.Context, principalID, name string, permissions []string, ttlDays int) (*APIKey, string, error) {
	principalID = strings.TrimSpace(principalID)
	name = strings.TrimSpace(name)
	if principalID == "" || name == "" {
		return nil, "", ErrInvalidInput
	}

	secretBytes := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, "", err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	secretHash, err := HashPassword(secret)
	if err != nil {
		return nil, "", err
	}

	now := a.now().UTC()
	var expiresAt *time.Time
	if ttlDays > 0 {
		exp := now.Add(time.Duration(ttlDays) * 24 * time.Hour)
		expiresAt = &exp
	}

	key := &APIKey{
		ID:          ids.New(),
		KeyID:       apiKeyPrefix + strings.ToLower(ids.New()),
		SecretHash:  secretHash,
		PrincipalID: principalID,
		Name:        name,
		Permissions: dedupePermissions(permissions),
		Active:      true,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
	}
	if err := a.store.APIKeys(ctx).Create(ctx, key); err != nil {
		return nil, "", err
	}

	a.audits.LogAction(ctx, "apikey", key.ID,
		audit.Actor{ID: principalID, Type: "user"}, "apikey.issued", true,
		map[string]string{"key_id": key.KeyID, "name": name})

	return key, key.KeyID + "." + secret, nil
}

// Verify authenticates a presented credential. Inactive or expired keys are
// invalid regardless of the secret. The last-used timestamp update runs in
// the background and never blocks or fails the decision.
func (a *APIKeys) Verify(ctx context.Context, presented string) (Identity, error) {
	keyID, secret, err := splitCredential(presented)
	if err != nil {
		return Identity{}, ErrTokenInvalid
	}

	key, err := a.store.APIKeys(ctx).FindByKeyID(ctx, keyID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, ErrTokenInvalid
		}
		return Identity{}, err
	}
	now := a.now().UTC()
	if !key.Active || key.Expired(now) {
		return Identity{}, ErrTokenInvalid
	}
	if VerifyPassword(key.SecretHash, secret) != nil {
		return Identity{}, ErrTokenInvalid
	}

	principal, err := a.store.Principals(ctx).Find(ctx, key.PrincipalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, ErrTokenInvalid
		}
		return Identity{}, err
	}
	if !principal.Active {
		return Identity{}, ErrAccountInactive
	}

	go func(id string, at time.Time) {
		touchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.store.APIKeys(touchCtx).TouchLastUsed(touchCtx, id, at); err != nil {
			obs.Error("apikey last-used update failed", map[string]any{
				"key_id": keyID, "error": err.Error(),
			})
		}
	}(key.ID, now)

	return Identity{
		PrincipalID:    principal.ID,
		Role:           principal.Role,
		APIKeyID:       key.ID,
		KeyPermissions: key.Permissions,
	}, nil
}

// Revoke deactivates a key. The record stays for audit history.
func (a *APIKeys) Revoke(ctx context.Context, actorID, keyID string) error {
	if strings.TrimSpace(keyID) == "" {
		return ErrInvalidInput
	}
	if err := a.store.APIKeys(ctx).SetActive(ctx, keyID, false); err != nil {
		return err
	}
	a.audits.LogAction(ctx, "apikey", keyID,
		audit.Actor{ID: actorID, Type: "user"}, "apikey.revoked", true, nil)
	return nil
}

func splitCredential(raw string) (keyID, secret string, err error) {
	raw = strings.TrimSpace(raw)
	parts := strings.SplitN(raw, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid api key format")
	}
	if !strings.HasPrefix(parts[0], apiKeyPrefix) {
		return "", "", errors.New("invalid api key format")
	}
	return parts[0], parts[1], nil
}

// PermissionInSet reports whether a permission list grants the named
// permission, using the same wildcard rules as the role matrix. API key
// scopes are matched this way.
func PermissionInSet(perms []string, permission string) bool {
	permission = strings.TrimSpace(permission)
	if permission == "" {
		return false
	}
	for _, entry := range perms {
		if entry == WildcardAll || entry == permission {
			return true
		}
		if strings.HasSuffix(entry, wildcardSuffix) {
			prefix := strings.TrimSuffix(entry, wildcardSuffix)
			if strings.HasPrefix(permission, prefix+":") {
				return true
			}
		}
	}
	return false
}

func dedupePermissions(perms []string) []string {
	seen := make(map[string]struct{}, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
