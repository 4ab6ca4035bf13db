package auth

import "errors"

// Sentinel errors for the security core. The httpapi boundary maps them onto
// HTTP classes; nothing beyond the class leaks to the client.
var (
	ErrNotFound           = errors.New("auth: not found")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountLocked      = errors.New("auth: account locked")
	ErrAccountInactive    = errors.New("auth: account inactive")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrTokenInvalid       = errors.New("auth: token invalid")
	ErrSessionRevoked     = errors.New("auth: session revoked")
	ErrPermissionDenied   = errors.New("auth: insufficient permission")
	ErrMfaCodeInvalid     = errors.New("auth: mfa code invalid")
	ErrMfaRequired        = errors.New("auth: mfa code required")
)
