package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"claimtrail.org/internal/audit"
	"claimtrail.org/internal/obs"
)

const (
	maxFailedLogins = 5
	lockoutDuration = 30 * time.Minute
)

// CredentialsError wraps ErrInvalidCredentials with the feedback the login
// path is allowed to give a legitimate user.
type CredentialsError struct {
	AttemptsRemaining int
}

func (e *CredentialsError) Error() string {
	return fmt.Sprintf("%v (%d attempts remaining)", ErrInvalidCredentials, e.AttemptsRemaining)
}

func (e *CredentialsError) Unwrap() error { return ErrInvalidCredentials }

// LockedError wraps ErrAccountLocked with the unlock time.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%v until %s", ErrAccountLocked, e.Until.UTC().Format(time.RFC3339))
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

// LoginResult is a successful authentication: the session record, its token
// pair, and the principal that logged in.
type LoginResult struct {
	Session   *Session
	Tokens    TokenPair
	Principal *Principal
}

// Service drives session lifecycle: login with lockout enforcement, refresh
// rotation, revocation, and the authorization-time session check.
type Service struct {
	store  Store
	tokens *Tokens
	audits *audit.Service
	mfa    *MFA
	now    func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceClock overrides the time source, for tests.
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the session service.
func NewService(store Store, tokens *Tokens, audits *audit.Service, mfa *MFA, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token service is required")
	}
	s := &Service{
		store:  store,
		tokens: tokens,
		audits: audits,
		mfa:    mfa,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Login authenticates credentials and, when the account has MFA enabled, a
// one-time code. Lockout is checked before the password so a locked account
// refuses even correct credentials. Counters and lockout expiry live on the
// principal row and survive restarts.
func (s *Service) Login(ctx context.Context, username, password, mfaCode, ip, userAgent string) (LoginResult, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	if username == "" || password == "" {
		obs.ObserveLogin("failure")
		return LoginResult{}, ErrInvalidCredentials
	}

	principal, err := s.store.Principals(ctx).FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.ObserveLogin("failure")
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if !principal.Active {
		obs.ObserveLogin("failure")
		return LoginResult{}, ErrInvalidCredentials
	}

	now := s.now().UTC()
	if principal.Locked(now) {
		obs.ObserveLogin("locked")
		return LoginResult{}, &LockedError{Until: *principal.LockedUntil}
	}

	if err := VerifyPassword(principal.PasswordHash, password); err != nil {
		return LoginResult{}, s.recordFailedAttempt(ctx, principal, ip)
	}

	if principal.MFAEnabled {
		if strings.TrimSpace(mfaCode) == "" {
			obs.ObserveLogin("failure")
			return LoginResult{}, ErrMfaRequired
		}
		if err := s.verifyMFACode(ctx, principal, mfaCode); err != nil {
			return LoginResult{}, s.recordFailedAttempt(ctx, principal, ip)
		}
	}

	// Success clears the failed-attempt counter and any stale lockout.
	if principal.FailedLogins != 0 || principal.LockedUntil != nil {
		if err := s.store.Principals(ctx).UpdateLoginState(ctx, principal.ID, 0, nil); err != nil {
			return LoginResult{}, err
		}
	}

	session := &Session{
		ID:          uuid.NewString(),
		PrincipalID: principal.ID,
		IP:          ip,
		UserAgent:   userAgent,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.tokens.RefreshTTL()),
	}
	if err := s.store.Sessions(ctx).Create(ctx, session); err != nil {
		return LoginResult{}, err
	}

	pair, err := s.tokens.IssuePair(principal.ID, principal.Role, session.ID)
	if err != nil {
		return LoginResult{}, err
	}

	obs.ObserveLogin("success")
	s.audits.LogAction(ctx, "principal", principal.ID,
		audit.Actor{ID: principal.ID, Type: "user"}, "auth.login", true,
		map[string]string{"ip": ip, "session_id": session.ID})

	return LoginResult{Session: session, Tokens: pair, Principal: principal}, nil
}

func (s *Service) recordFailedAttempt(ctx context.Context, principal *Principal, ip string) error {
	failed := principal.FailedLogins + 1
	var lockedUntil *time.Time

	if failed >= maxFailedLogins {
		until := s.now().UTC().Add(lockoutDuration)
		lockedUntil = &until
	}
	if err := s.store.Principals(ctx).UpdateLoginState(ctx, principal.ID, failed, lockedUntil); err != nil {
		return err
	}

	if lockedUntil != nil {
		// Lockout also revokes outstanding sessions; tokens stay signed but
		// the session lookup refuses them.
		if err := s.store.Sessions(ctx).RevokeByPrincipal(ctx, principal.ID); err != nil {
			return err
		}
		obs.ObserveLockout()
		obs.ObserveLogin("locked")
		s.audits.LogAction(ctx, "principal", principal.ID,
			audit.Actor{ID: principal.ID, Type: "user"}, "auth.lockout", false,
			map[string]string{"ip": ip, "failed_attempts": fmt.Sprintf("%d", failed)})
		return &LockedError{Until: *lockedUntil}
	}

	obs.ObserveLogin("failure")
	s.audits.LogAction(ctx, "principal", principal.ID,
		audit.Actor{ID: principal.ID, Type: "user"}, "auth.login", false,
		map[string]string{"ip": ip, "failed_attempts": fmt.Sprintf("%d", failed)})
	return &CredentialsError{AttemptsRemaining: maxFailedLogins - failed}
}

func (s *Service) verifyMFACode(ctx context.Context, principal *Principal, code string) error {
	if s.mfa == nil {
		return ErrMfaCodeInvalid
	}
	if s.mfa.VerifyCode(code, principal.MFASecret) {
		return nil
	}
	// Recovery codes are the single-use fallback when the authenticator is
	// unavailable.
	if err := s.consumeRecoveryCode(ctx, principal.ID, code); err == nil {
		return nil
	}
	return ErrMfaCodeInvalid
}

func (s *Service) consumeRecoveryCode(ctx context.Context, principalID, code string) error {
	codes, err := s.store.Principals(ctx).RecoveryCodes(ctx, principalID)
	if err != nil {
		return err
	}
	for _, rc := range codes {
		if rc.Used {
			continue
		}
		if VerifyPassword(rc.CodeHash, normalizeRecoveryCode(code)) == nil {
			return s.store.Principals(ctx).ConsumeRecoveryCode(ctx, principalID, rc.CodeHash)
		}
	}
	return ErrMfaCodeInvalid
}

// Refresh verifies a refresh token, confirms its session is still live, and
// rotates the token pair. The session id is stable across rotations; its
// expiry slides forward with each refresh.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (LoginResult, error) {
	claims, err := s.tokens.Verify(refreshToken, TokenTypeRefresh)
	if err != nil {
		return LoginResult{}, err
	}

	session, err := s.store.Sessions(ctx).Find(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LoginResult{}, ErrTokenInvalid
		}
		return LoginResult{}, err
	}
	now := s.now().UTC()
	if !session.Active(now) {
		return LoginResult{}, ErrSessionRevoked
	}

	principal, err := s.store.Principals(ctx).Find(ctx, session.PrincipalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LoginResult{}, ErrTokenInvalid
		}
		return LoginResult{}, err
	}
	if !principal.Active || principal.Locked(now) {
		return LoginResult{}, ErrSessionRevoked
	}

	expiresAt := now.Add(s.tokens.RefreshTTL())
	if err := s.store.Sessions(ctx).ExtendExpiry(ctx, session.ID, expiresAt); err != nil {
		return LoginResult{}, err
	}
	session.ExpiresAt = expiresAt

	pair, err := s.tokens.IssuePair(principal.ID, principal.Role, session.ID)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Session: session, Tokens: pair, Principal: principal}, nil
}

// Logout revokes the session. The access token stays signed until its TTL
// but no longer authorizes anything.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidInput
	}
	if err := s.store.Sessions(ctx).Revoke(ctx, sessionID); err != nil {
		return err
	}
	s.audits.LogAction(ctx, "session", sessionID,
		audit.Actor{Type: "user"}, "auth.logout", true, nil)
	return nil
}

// ChangePassword verifies the current password, stores the new hash, and
// revokes every session the principal holds.
func (s *Service) ChangePassword(ctx context.Context, principalID, current, next string) error {
	principal, err := s.store.Principals(ctx).Find(ctx, principalID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(principal.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	if len(next) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.store.Principals(ctx).UpdatePassword(ctx, principal.ID, hash); err != nil {
		return err
	}
	if err := s.store.Sessions(ctx).RevokeByPrincipal(ctx, principal.ID); err != nil {
		return err
	}
	s.audits.LogAction(ctx, "principal", principal.ID,
		audit.Actor{ID: principal.ID, Type: "user"}, "auth.password_change", true, nil)
	return nil
}

// AuthenticateAccess verifies an access token and confirms both the session
// and the principal are still live. This is the per-request check that makes
// revocation stick before the token's TTL runs out.
func (s *Service) AuthenticateAccess(ctx context.Context, accessToken string) (Identity, error) {
	claims, err := s.tokens.Verify(accessToken, TokenTypeAccess)
	if err != nil {
		return Identity{}, err
	}

	session, err := s.store.Sessions(ctx).Find(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, ErrTokenInvalid
		}
		return Identity{}, err
	}
	now := s.now().UTC()
	if !session.Active(now) {
		return Identity{}, ErrSessionRevoked
	}

	principal, err := s.store.Principals(ctx).Find(ctx, session.PrincipalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identity{}, ErrTokenInvalid
		}
		return Identity{}, err
	}
	if !principal.Active {
		return Identity{}, ErrAccountInactive
	}

	return Identity{
		PrincipalID: principal.ID,
		Role:        principal.Role,
		SessionID:   session.ID,
	}, nil
}
