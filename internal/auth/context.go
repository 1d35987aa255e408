package auth

import "context"

// Identity is the verified caller attached to a request context by the
// access guard. It is derived from token claims, not from storage.
type Identity struct {
	ID   string
	Role Role
}

type identityContextKey struct{}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(Identity)
	return identity, ok
}
