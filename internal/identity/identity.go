// Package identity resolves the signed-in user for a request.
//
// An Identity carries both the user id and the bearer token. Every outbound
// call to the AI backend needs the two together, so an Identity missing
// either is never handed out.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"finary/internal/core"
)

// Request headers carrying the caller's identity.
const (
	HeaderAuthorization = "Authorization"
	HeaderUserID        = "X-User-Id"
	HeaderUserEmail     = "X-User-Email"
	HeaderUserName      = "X-User-Name"
)

// Identity is the resolved user plus the token that authenticates them.
type Identity struct {
	UserID   string
	Token    string
	Email    string
	FullName string
}

// Valid reports whether both the user id and the token are present.
func (i Identity) Valid() bool {
	return i.UserID != "" && i.Token != ""
}

// SessionKey identifies the session this identity belongs to. A session
// lives as long as its bearer token.
func (i Identity) SessionKey() string {
	sum := sha256.Sum256([]byte(i.Token))
	return hex.EncodeToString(sum[:])
}

// DisplayName is the greeting name for this user.
func (i Identity) DisplayName() string {
	return core.DisplayName(i.Email, i.FullName)
}

// Provider resolves the identity of the current caller.
type Provider interface {
	Resolve(ctx context.Context) (Identity, error)
}

type ctxKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored in ctx, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// ContextProvider resolves the identity placed on the context by the HTTP layer.
type ContextProvider struct{}

func (ContextProvider) Resolve(ctx context.Context) (Identity, error) {
	id, ok := FromContext(ctx)
	if !ok || !id.Valid() {
		return Identity{}, core.ErrUnauthenticated
	}
	return id, nil
}

// Static always resolves to the same identity. A zero Static is signed out.
type Static Identity

func (s Static) Resolve(context.Context) (Identity, error) {
	id := Identity(s)
	if !id.Valid() {
		return Identity{}, core.ErrUnauthenticated
	}
	return id, nil
}

// FromHeaders builds an identity from request headers. It fails with
// ErrUnauthenticated unless both a bearer token and a user id are present.
func FromHeaders(authorization, userID, email, name string) (Identity, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authorization), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return Identity{}, fmt.Errorf("missing bearer token: %w", core.ErrUnauthenticated)
	}
	id := Identity{
		UserID:   strings.TrimSpace(userID),
		Token:    strings.TrimSpace(token),
		Email:    strings.TrimSpace(email),
		FullName: strings.TrimSpace(name),
	}
	if !id.Valid() {
		return Identity{}, fmt.Errorf("missing user id or token: %w", core.ErrUnauthenticated)
	}
	return id, nil
}
