package auth

import "context"

type identityContextKey struct{}

// Identity is the resolved actor attached to a request context after the
// middleware chain accepts it.
type Identity struct {
	PrincipalID string
	Role        string
	SessionID   string

	// APIKeyID is set instead of SessionID when the request authenticated
	// with a machine credential.
	APIKeyID       string
	KeyPermissions []string
}

// FromAPIKey reports whether the identity came from an API key rather than
// an interactive session.
func (id Identity) FromAPIKey() bool { return id.APIKeyID != "" }

// ContextWithIdentity attaches the authenticated identity to the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, &id)
}

// IdentityFromContext extracts the authenticated identity from the context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || v == nil {
		return Identity{}, false
	}
	return *v, true
}
