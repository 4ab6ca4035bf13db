package auth

import (
	"context"
	"sync"
	"time"
)

// memStore is an in-memory Store for unit tests.
type memStore struct {
	mu         sync.Mutex
	principals map[string]*Principal
	sessions   map[string]*Session
	apiKeys    map[string]*APIKey
	recovery   map[string][]RecoveryCode

	failPrincipalUpdate error
}

func newMemStore() *memStore {
	return &memStore{
		principals: map[string]*Principal{},
		sessions:   map[string]*Session{},
		apiKeys:    map[string]*APIKey{},
		recovery:   map[string][]RecoveryCode{},
	}
}

func (m *memStore) Principals(context.Context) PrincipalStore { return (*memPrincipals)(m) }
func (m *memStore) Sessions(context.Context) SessionStore     { return (*memSessions)(m) }
func (m *memStore) APIKeys(context.Context) APIKeyStore       { return (*memAPIKeys)(m) }

func (m *memStore) addPrincipal(p *Principal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.principals[p.ID] = &cp
}

type memPrincipals memStore

func (m *memPrincipals) Create(_ context.Context, p *Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.principals[p.ID] = &cp
	return nil
}

func (m *memPrincipals) Find(_ context.Context, id string) (*Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPrincipals) FindByUsername(_ context.Context, username string) (*Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.principals {
		if p.Username == username {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memPrincipals) UpdatePassword(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.PasswordHash = hash
	return nil
}

func (m *memPrincipals) UpdateLoginState(_ context.Context, id string, failed int, lockedUntil *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPrincipalUpdate != nil {
		return m.failPrincipalUpdate
	}
	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.FailedLogins = failed
	p.LockedUntil = lockedUntil
	return nil
}

func (m *memPrincipals) SetMFASecret(_ context.Context, id, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.MFASecret = secret
	return nil
}

func (m *memPrincipals) SetMFAEnabled(_ context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.MFAEnabled = enabled
	return nil
}

func (m *memPrincipals) SetActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.Active = active
	return nil
}

func (m *memPrincipals) ReplaceRecoveryCodes(_ context.Context, principalID string, hashes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	codes := make([]RecoveryCode, 0, len(hashes))
	for _, h := range hashes {
		codes = append(codes, RecoveryCode{PrincipalID: principalID, CodeHash: h})
	}
	m.recovery[principalID] = codes
	return nil
}

func (m *memPrincipals) RecoveryCodes(_ context.Context, principalID string) ([]RecoveryCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecoveryCode, len(m.recovery[principalID]))
	copy(out, m.recovery[principalID])
	return out, nil
}

func (m *memPrincipals) ConsumeRecoveryCode(_ context.Context, principalID, codeHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	codes := m.recovery[principalID]
	for i := range codes {
		if codes[i].CodeHash == codeHash && !codes[i].Used {
			codes[i].Used = true
			return nil
		}
	}
	return ErrNotFound
}

type memSessions memStore

func (m *memSessions) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memSessions) Find(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSessions) Revoke(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Revoked = true
	return nil
}

func (m *memSessions) RevokeByPrincipal(_ context.Context, principalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.PrincipalID == principalID {
			s.Revoked = true
		}
	}
	return nil
}

func (m *memSessions) ExtendExpiry(_ context.Context, id string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Revoked {
		return ErrNotFound
	}
	s.ExpiresAt = expiresAt
	return nil
}

type memAPIKeys memStore

func (m *memAPIKeys) Create(_ context.Context, k *APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *k
	m.apiKeys[k.KeyID] = &cp
	return nil
}

func (m *memAPIKeys) FindByKeyID(_ context.Context, keyID string) (*APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.apiKeys[keyID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (m *memAPIKeys) SetActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.apiKeys {
		if k.ID == id {
			k.Active = active
			return nil
		}
	}
	return ErrNotFound
}

func (m *memAPIKeys) TouchLastUsed(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.apiKeys {
		if k.ID == id {
			t := at
			k.LastUsedAt = &t
			return nil
		}
	}
	return ErrNotFound
}
