package common

import "context"

type ctxKey string

const identityKey ctxKey = "auth/identity"

// Identity is the verified caller extracted from a bearer credential. RawHeader
// keeps the original Authorization value so it can be forwarded to the wallet
// service unchanged.
type Identity struct {
	AuthID    string
	Admin     bool
	RawHeader string
}

// WithIdentity stores the authenticated identity on the provided context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom extracts the authenticated identity from the context if present.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	v := ctx.Value(identityKey)
	if v == nil {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}
