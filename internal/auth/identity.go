// Package auth authenticates staff callers of the write endpoints, either
// with an identity-provider token or with a locally issued API key.
package auth

import "context"

type contextKey struct{}

// Identity is the authenticated staff member behind a request.
type Identity struct {
	Email string
	// Method is "token" for identity-provider JWTs and "api_key" for API keys.
	Method string
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFromContext returns the identity stored by RequireStaff.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
