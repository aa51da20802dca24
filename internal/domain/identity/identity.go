// Package identity defines who is studying. The tracker needs nothing but a
// user id; display name and email are carried for the dashboard.
package identity

import (
	"context"

	"github.com/studyhub/study-companion/internal/domain/shared"
)

// Identity is an authenticated user.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
}

// IsZero reports whether the identity is absent.
func (i Identity) IsZero() bool {
	return shared.UserID(i.UserID).IsEmpty()
}

// Name returns the display name or the default placeholder.
func (i Identity) Name() string {
	return shared.DisplayNameOrDefault(i.DisplayName)
}

// Provider resolves the identity of the current caller.
type Provider interface {
	// Current returns the identity, or ok=false when nobody is signed in.
	Current(ctx context.Context) (id Identity, ok bool)
}

// Static is a Provider that always returns the same identity. An empty
// UserID behaves as "nobody signed in".
type Static Identity

// Current implements Provider.
func (s Static) Current(context.Context) (Identity, bool) {
	id := Identity(s)
	if id.IsZero() {
		return Identity{}, false
	}
	return id, true
}

type ctxKey struct{}

// WithIdentity attaches an identity to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity attached to ctx.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	if !ok || id.IsZero() {
		return Identity{}, false
	}
	return id, true
}

// ContextProvider resolves the identity placed into the request context by
// the authentication middleware.
type ContextProvider struct{}

// Current implements Provider.
func (ContextProvider) Current(ctx context.Context) (Identity, bool) {
	return FromContext(ctx)
}
