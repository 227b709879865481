package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/pawmart/api/internal/platform/httpx"
)

const defaultTimeout = 5 * time.Second

var (
	// ErrTokenExpired lets verifiers other than Firebase report an expired token.
	ErrTokenExpired = errors.New("auth: id token expired")
	// ErrTokenInvalid lets verifiers other than Firebase report a rejected token.
	ErrTokenInvalid = errors.New("auth: id token invalid")
)

// TokenVerifier checks a bearer ID token.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// ProfileLoader resolves user records for payer details.
type ProfileLoader interface {
	GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)
}

// ClaimNames selects the token claims the identity is read from.
type ClaimNames struct {
	Role  string
	Name  string
	Email string
}

// Authenticator guards routes with Firebase ID tokens.
type Authenticator struct {
	verifier    TokenVerifier
	profiles    ProfileLoader
	claims      ClaimNames
	defaultRole string
	timeout     time.Duration
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithProfileLoader lets handlers fall back to the user record for payer names.
func WithProfileLoader(loader ProfileLoader) Option {
	return func(a *Authenticator) { a.profiles = loader }
}

// WithClaimNames overrides individual claim names; empty fields keep the defaults.
func WithClaimNames(names ClaimNames) Option {
	return func(a *Authenticator) {
		if v := strings.TrimSpace(names.Role); v != "" {
			a.claims.Role = v
		}
		if v := strings.TrimSpace(names.Name); v != "" {
			a.claims.Name = v
		}
		if v := strings.TrimSpace(names.Email); v != "" {
			a.claims.Email = v
		}
	}
}

// WithDefaultRole is granted to tokens without a role claim. An empty role rejects such tokens.
func WithDefaultRole(role string) Option {
	return func(a *Authenticator) { a.defaultRole = canonicalRole(role) }
}

// WithTimeout bounds token verification and profile lookups.
func WithTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:    verifier,
		claims:      ClaimNames{Role: "role", Name: "name", Email: "email"},
		defaultRole: RoleUser,
		timeout:     defaultTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Require authenticates the caller and, when roles are given, demands at least one of them.
func (a *Authenticator) Require(roles ...string) func(http.Handler) http.Handler {
	var wanted []string
	for _, role := range roles {
		if role = canonicalRole(role); role != "" {
			wanted = append(wanted, role)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				deny(ctx, w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a == nil || a.verifier == nil {
				deny(ctx, w, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
				return
			}

			verifyCtx, cancel := context.WithTimeout(ctx, a.timeout)
			token, err := a.verifier.VerifyIDToken(verifyCtx, raw)
			cancel()
			if err != nil {
				code, message := verificationFailure(err)
				deny(ctx, w, http.StatusUnauthorized, code, message)
				return
			}

			identity := a.identity(token)
			switch {
			case len(identity.Roles) == 0:
				deny(ctx, w, http.StatusForbidden, "missing_role", "no roles associated with identity")
				return
			case len(wanted) > 0 && !slices.ContainsFunc(wanted, identity.HasRole):
				deny(ctx, w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

func (a *Authenticator) identity(token *firebaseauth.Token) *Identity {
	identity := &Identity{
		UID:   token.UID,
		Email: firstClaim(token.Claims, a.claims.Email, "email"),
		Name:  firstClaim(token.Claims, a.claims.Name, "name"),
		Roles: parseRoles(token.Claims[a.claims.Role]),
	}
	if len(identity.Roles) == 0 && a.defaultRole != "" {
		identity.Roles = []string{a.defaultRole}
	}
	if a.profiles != nil {
		identity.loadProfile = func(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
			ctx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()
			return a.profiles.GetUser(ctx, uid)
		}
	}
	return identity
}

// parseRoles accepts a single role, a list of roles, or a {"role": true} map.
func parseRoles(raw any) []string {
	var candidates []string
	switch v := raw.(type) {
	case string:
		candidates = []string{v}
	case []string:
		candidates = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				candidates = append(candidates, s)
			}
		}
	case map[string]any:
		for name, enabled := range v {
			if on, _ := enabled.(bool); on {
				candidates = append(candidates, name)
			}
		}
		slices.Sort(candidates)
	}

	var roles []string
	for _, c := range candidates {
		if role := canonicalRole(c); role != "" && !slices.Contains(roles, role) {
			roles = append(roles, role)
		}
	}
	return roles
}

func firstClaim(claims map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := claims[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func canonicalRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func verificationFailure(err error) (code, message string) {
	switch {
	case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
		return "token_expired", "id token expired"
	case errors.Is(err, ErrTokenInvalid), firebaseauth.IsIDTokenInvalid(err):
		return "invalid_token", "id token invalid"
	default:
		return "invalid_token", "id token verification failed"
	}
}

func deny(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}
