package httpapi

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"claimtrail.org/internal/audit"
	"claimtrail.org/internal/auth"
	"claimtrail.org/internal/ratelimit"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// fakeStore is an in-memory auth.Store for handler tests.
type fakeStore struct {
	mu         sync.Mutex
	principals map[string]*auth.Principal
	sessions   map[string]*auth.Session
	apiKeys    map[string]*auth.APIKey
	recovery   map[string][]auth.RecoveryCode
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		principals: map[string]*auth.Principal{},
		sessions:   map[string]*auth.Session{},
		apiKeys:    map[string]*auth.APIKey{},
		recovery:   map[string][]auth.RecoveryCode{},
	}
}

func (f *fakeStore) Principals(context.Context) auth.PrincipalStore { return (*fakePrincipals)(f) }
func (f *fakeStore) Sessions(context.Context) auth.SessionStore     { return (*fakeSessions)(f) }
func (f *fakeStore) APIKeys(context.Context) auth.APIKeyStore       { return (*fakeAPIKeys)(f) }

func (f *fakeStore) addPrincipal(t *testing.T, id, username, password, role string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.principals[id] = &auth.Principal{
		ID: id, Username: username, PasswordHash: string(hash), Role: role, Active: true,
	}
}

type fakePrincipals fakeStore

func (f *fakePrincipals) Create(_ context.Context, p *auth.Principal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.principals[p.ID] = &cp
	return nil
}

func (f *fakePrincipals) Find(_ context.Context, id string) (*auth.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.principals[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePrincipals) FindByUsername(_ context.Context, username string) (*auth.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.principals {
		if p.Username == username {
			cp := *p
			return &cp, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (f *fakePrincipals) UpdatePassword(_ context.Context, id, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.principals[id]
	if !ok {
		return auth.ErrNotFound
	}
	p.PasswordHash = hash
	return nil
}

func (f *fakePrincipals) UpdateLoginState(_ context.Context, id string, failed int, lockedUntil *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.principals[id]
	if !ok {
		return auth.ErrNotFound
	}
	p.FailedLogins = failed
	p.LockedUntil = lockedUntil
	return nil
}

func (f *fakePrincipals) SetMFASecret(_ context.Context, id, secret string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.principals[id]
	if !ok {
		return auth.ErrNotFound
	}
	p.MFASecret = secret
	return nil
}

func (f *fakePrincipals) SetMFAEnabled(_ context.Context, id string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.principals[id]
	if !ok {
		return auth.ErrNotFound
	}
	p.MFAEnabled = enabled
	return nil
}

func (f *fakePrincipals) SetActive(_ context.Context, id string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.principals[id]
	if !ok {
		return auth.ErrNotFound
	}
	p.Active = active
	return nil
}

func (f *fakePrincipals) ReplaceRecoveryCodes(_ context.Context, principalID string, hashes []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	codes := make([]auth.RecoveryCode, 0, len(hashes))
	for _, h := range hashes {
		codes = append(codes, auth.RecoveryCode{PrincipalID: principalID, CodeHash: h})
	}
	f.recovery[principalID] = codes
	return nil
}

func (f *fakePrincipals) RecoveryCodes(_ context.Context, principalID string) ([]auth.RecoveryCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]auth.RecoveryCode, len(f.recovery[principalID]))
	copy(out, f.recovery[principalID])
	return out, nil
}

func (f *fakePrincipals) ConsumeRecoveryCode(_ context.Context, principalID, codeHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	codes := f.recovery[principalID]
	for i := range codes {
		if codes[i].CodeHash == codeHash && !codes[i].Used {
			codes[i].Used = true
			return nil
		}
	}
	return auth.ErrNotFound
}

type fakeSessions fakeStore

func (f *fakeSessions) Create(_ context.Context, s *auth.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeSessions) Find(_ context.Context, id string) (*auth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) Revoke(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return auth.ErrNotFound
	}
	s.Revoked = true
	return nil
}

func (f *fakeSessions) RevokeByPrincipal(_ context.Context, principalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.PrincipalID == principalID {
			s.Revoked = true
		}
	}
	return nil
}

func (f *fakeSessions) ExtendExpiry(_ context.Context, id string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.Revoked {
		return auth.ErrNotFound
	}
	s.ExpiresAt = expiresAt
	return nil
}

type fakeAPIKeys fakeStore

func (f *fakeAPIKeys) Create(_ context.Context, k *auth.APIKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *k
	f.apiKeys[k.KeyID] = &cp
	return nil
}

func (f *fakeAPIKeys) FindByKeyID(_ context.Context, keyID string) (*auth.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.apiKeys[keyID]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (f *fakeAPIKeys) SetActive(_ context.Context, id string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.apiKeys {
		if k.ID == id {
			k.Active = active
			return nil
		}
	}
	return auth.ErrNotFound
}

func (f *fakeAPIKeys) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.apiKeys {
		if k.ID == id {
			t := at
			k.LastUsedAt = &t
			return nil
		}
	}
	return auth.ErrNotFound
}

type fakeAuditStore struct {
	mu     sync.Mutex
	events []audit.Event
}

func (f *fakeAuditStore) Append(_ context.Context, e *audit.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *e)
	return nil
}

func (f *fakeAuditStore) ListByEntity(_ context.Context, entityType, entityID string, limit, offset int) ([]audit.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []audit.Event
	for _, e := range f.events {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// allowLimiter admits everything.
type allowLimiter struct{}

func (allowLimiter) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: true, Remaining: 1}, nil
}

type testEnv struct {
	api    *API
	store  *fakeStore
	audits *fakeAuditStore
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:  newFakeStore(),
		audits: &fakeAuditStore{},
		now:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return env.now }

	tokens, err := auth.NewTokens(testSecret, "claimtrail-test", auth.WithTokenClock(clock))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	audits := audit.NewService(env.audits, audit.WithClock(clock))
	mfa := auth.NewMFA("claimtrail-test", auth.WithMFAClock(clock))
	sessions, err := auth.NewService(env.store, tokens, audits, mfa, auth.WithServiceClock(clock))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	apikeys, err := auth.NewAPIKeys(env.store, audits, auth.WithAPIKeysClock(clock))
	if err != nil {
		t.Fatalf("NewAPIKeys: %v", err)
	}

	env.api = New(Config{
		Sessions:     sessions,
		APIKeys:      apikeys,
		Audits:       audits,
		Matrix:       auth.DefaultMatrix(),
		LoginLimiter: allowLimiter{},
		APILimiter:   allowLimiter{},
		Version:      "test",
		Development:  true,
	})
	return env
}
