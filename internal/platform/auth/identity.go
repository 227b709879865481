package auth

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Customers carry RoleUser. Fulfilment routes require RoleStaff or RoleAdmin.
const (
	RoleUser  = "user"
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

// ErrNoProfileLoader is returned by Identity.Profile when the identity was built without a loader.
var ErrNoProfileLoader = errors.New("auth: profile loader not configured")

// ProfileFunc loads the Firebase user record behind a UID.
type ProfileFunc func(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)

// Identity is the caller resolved from a verified ID token.
type Identity struct {
	UID   string
	Email string
	Name  string
	Roles []string

	loadProfile ProfileFunc
	profileOnce sync.Once
	profile     *firebaseauth.UserRecord
	profileErr  error
}

// HasRole matches case-insensitively.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = canonicalRole(role)
	return role != "" && slices.Contains(i.Roles, role)
}

// IsStaff reports whether the caller may act on orders owned by other users.
func (i *Identity) IsStaff() bool {
	return i.HasRole(RoleStaff) || i.HasRole(RoleAdmin)
}

// Profile fetches the user record once per request.
func (i *Identity) Profile(ctx context.Context) (*firebaseauth.UserRecord, error) {
	if i == nil || i.loadProfile == nil {
		return nil, ErrNoProfileLoader
	}
	i.profileOnce.Do(func() {
		i.profile, i.profileErr = i.loadProfile(ctx, i.UID)
	})
	return i.profile, i.profileErr
}

// PayerName is the name shown on the hosted payment page. The token claim wins; the user record's display
// name is used when the token has none.
func (i *Identity) PayerName(ctx context.Context) string {
	if i == nil {
		return ""
	}
	if name := strings.TrimSpace(i.Name); name != "" {
		return name
	}
	record, err := i.Profile(ctx)
	if err != nil || record == nil || record.UserInfo == nil {
		return ""
	}
	return strings.TrimSpace(record.DisplayName)
}

type identityKey struct{}

// WithIdentity attaches the caller to ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the caller attached by the auth middleware.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, _ := ctx.Value(identityKey{}).(*Identity)
	return identity, identity != nil
}
