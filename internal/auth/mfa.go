package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"claimtrail.org/internal/audit"
)

const (
	totpSecretBytes = 20
	totpPeriod      = 30
	totpDigits      = 6

	// totpSkew bounds clock-drift tolerance to two adjacent time steps in
	// either direction. Codes outside that window fail.
	totpSkew = 2

	recoveryCodeCount  = 10
	recoveryCodeLength = 10
)

// MFA generates shared secrets and verifies time-based one-time codes.
type MFA struct {
	issuer string
	now    func() time.Time
}

// MFAOption configures an MFA service.
type MFAOption func(*MFA)

// WithMFAClock overrides the time source, for tests.
func WithMFAClock(fn func() time.Time) MFAOption {
	return func(m *MFA) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewMFA constructs the MFA service.
func NewMFA(issuer string, opts ...MFAOption) *MFA {
	m := &MFA{issuer: issuer, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MFAEnrollment is the material handed to the user once during setup. The
// recovery codes are shown in plaintext here and stored only as hashes.
type MFAEnrollment struct {
	Secret        string
	ProvisionURI  string
	RecoveryCodes []string
}

// GenerateSecret creates a base32 shared secret, an otpauth provisioning URI
// for the given account, and a fresh set of single-use recovery codes.
func (m *MFA) GenerateSecret(account string) (MFAEnrollment, error) {
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return MFAEnrollment{}, err
	}
	secret := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)

	codes := make([]string, 0, recoveryCodeCount)
	for i := 0; i < recoveryCodeCount; i++ {
		code, err := randomRecoveryCode()
		if err != nil {
			return MFAEnrollment{}, err
		}
		codes = append(codes, code)
	}

	return MFAEnrollment{
		Secret:        secret,
		ProvisionURI:  m.provisionURI(secret, account),
		RecoveryCodes: codes,
	}, nil
}

func (m *MFA) provisionURI(secret, account string) string {
	label := url.PathEscape(m.issuer + ":" + account)
	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", m.issuer)
	v.Set("period", strconv.Itoa(totpPeriod))
	v.Set("digits", strconv.Itoa(totpDigits))
	v.Set("algorithm", "SHA1")
	return "otpauth://totp/" + label + "?" + v.Encode()
}

// VerifyCode checks a one-time code against the shared secret, accepting the
// current time step and up to totpSkew adjacent steps on either side.
func (m *MFA) VerifyCode(code, secret string) bool {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != totpDigits || !isDigits(trimmed) {
		return false
	}
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(secret))
	if err != nil || len(raw) == 0 {
		return false
	}

	baseCounter := m.now().Unix() / totpPeriod
	for step := -totpSkew; step <= totpSkew; step++ {
		counter := baseCounter + int64(step)
		if counter < 0 {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hotpCode(raw, counter)), []byte(trimmed)) == 1 {
			return true
		}
	}
	return false
}

// hotpCode computes the RFC 4226 truncated HMAC-SHA1 code for one counter.
func hotpCode(secret []byte, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < totpDigits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", totpDigits, bin%mod)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

const recoveryCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func randomRecoveryCode() (string, error) {
	buf := make([]byte, recoveryCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, recoveryCodeLength)
	for i, b := range buf {
		out[i] = recoveryCodeAlphabet[int(b)%len(recoveryCodeAlphabet)]
	}
	return string(out[:5]) + "-" + string(out[5:]), nil
}

func normalizeRecoveryCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	return code
}

// SetupMFA generates enrollment material for the principal and stores the
// secret and hashed recovery codes. The MFA flag stays off until ConfirmMFA
// proves the authenticator produces valid codes.
func (s *Service) SetupMFA(ctx context.Context, principalID string) (MFAEnrollment, error) {
	if s.mfa == nil {
		return MFAEnrollment{}, ErrInvalidInput
	}
	principal, err := s.store.Principals(ctx).Find(ctx, principalID)
	if err != nil {
		return MFAEnrollment{}, err
	}

	enrollment, err := s.mfa.GenerateSecret(principal.Username)
	if err != nil {
		return MFAEnrollment{}, err
	}

	hashes := make([]string, 0, len(enrollment.RecoveryCodes))
	for _, code := range enrollment.RecoveryCodes {
		hash, err := HashPassword(normalizeRecoveryCode(code))
		if err != nil {
			return MFAEnrollment{}, err
		}
		hashes = append(hashes, hash)
	}

	principals := s.store.Principals(ctx)
	if err := principals.SetMFASecret(ctx, principal.ID, enrollment.Secret); err != nil {
		return MFAEnrollment{}, err
	}
	if err := principals.ReplaceRecoveryCodes(ctx, principal.ID, hashes); err != nil {
		return MFAEnrollment{}, err
	}
	return enrollment, nil
}

// ConfirmMFA enables MFA once the user proves possession of the secret.
func (s *Service) ConfirmMFA(ctx context.Context, principalID, code string) error {
	if s.mfa == nil {
		return ErrMfaCodeInvalid
	}
	principal, err := s.store.Principals(ctx).Find(ctx, principalID)
	if err != nil {
		return err
	}
	if principal.MFASecret == "" || !s.mfa.VerifyCode(code, principal.MFASecret) {
		return ErrMfaCodeInvalid
	}
	if err := s.store.Principals(ctx).SetMFAEnabled(ctx, principal.ID, true); err != nil {
		return err
	}
	s.audits.LogAction(ctx, "principal", principal.ID,
		audit.Actor{ID: principal.ID, Type: "user"}, "auth.mfa_enabled", true, nil)
	return nil
}
