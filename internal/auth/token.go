package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token types embedded in the token_type claim. A refresh token presented
// where an access token is expected is rejected, and vice versa.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims carried by both token kinds. Role is a snapshot taken at issuance;
// the session lookup on every authorization is what makes revocation stick.
type Claims struct {
	Role      string `json:"role"`
	SessionID string `json:"session_id"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenPair is one session's access and refresh tokens.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Tokens issues and verifies signed, stateless session tokens. The signing
// secret is supplied externally and must be stable across restarts and
// instances.
type Tokens struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// TokensOption configures a Tokens service.
type TokensOption func(*Tokens)

// WithTokenClock overrides the time source, for tests.
func WithTokenClock(fn func() time.Time) TokensOption {
	return func(t *Tokens) {
		if fn != nil {
			t.now = fn
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) TokensOption {
	return func(t *Tokens) {
		if ttl > 0 {
			t.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) TokensOption {
	return func(t *Tokens) {
		if ttl > 0 {
			t.refreshTTL = ttl
		}
	}
}

// NewTokens constructs the token service. An empty secret is a configuration
// error, never a cue to generate one.
func NewTokens(secret, issuer string, opts ...TokensOption) (*Tokens, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	t := &Tokens{
		secret:     []byte(secret),
		issuer:     strings.TrimSpace(issuer),
		accessTTL:  15 * time.Minute,
		refreshTTL: 7 * 24 * time.Hour,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// AccessTTL returns the configured access token lifetime.
func (t *Tokens) AccessTTL() time.Duration { return t.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (t *Tokens) RefreshTTL() time.Duration { return t.refreshTTL }

// IssuePair signs an access and a refresh token bound to one session.
func (t *Tokens) IssuePair(principalID, role, sessionID string) (TokenPair, error) {
	if strings.TrimSpace(principalID) == "" || strings.TrimSpace(sessionID) == "" {
		return TokenPair{}, ErrInvalidInput
	}
	now := t.now().UTC()
	access, accessExp, err := t.sign(principalID, role, sessionID, TokenTypeAccess, now, t.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := t.sign(principalID, role, sessionID, TokenTypeRefresh, now, t.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (t *Tokens) sign(principalID, role, sessionID, tokenType string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := Claims{
		Role:      role,
		SessionID: sessionID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, expiry, and that the embedded type matches the
// expected one. Expired tokens surface as ErrTokenExpired; every other
// defect collapses into ErrTokenInvalid.
func (t *Tokens) Verify(token, expectedType string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenInvalid
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenInvalid
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return t.now().UTC() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if t.issuer != "" && claims.Issuer != t.issuer {
		return nil, ErrTokenInvalid
	}
	if claims.TokenType != expectedType {
		return nil, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.SessionID) == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
