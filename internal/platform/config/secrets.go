package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// SecretResolver turns a secret:// reference into its value.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// SecretError reports a reference that could not be resolved. Ref is normalised to the secret:// scheme.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("resolve secret %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError lists required secret fields that ended up empty.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return "missing required secrets [" + strings.Join(e.RedactedNames(), ", ") + "]"
}

// RedactedNames hashes each field name so the error can be logged.
func (e *MissingSecretsError) RedactedNames() []string {
	out := make([]string, len(e.names))
	for i, name := range e.names {
		out[i] = redactSecretName(name)
	}
	slices.Sort(out)
	return out
}

func (e *MissingSecretsError) Names() []string {
	return slices.Sorted(slices.Values(e.names))
}

// resolveSecretFields replaces references in place and returns every field's final value by name.
func resolveSecretFields(ctx context.Context, resolver SecretResolver, fields map[string]*string) (map[string]string, error) {
	resolved := make(map[string]string, len(fields))
	for _, name := range slices.Sorted(maps.Keys(fields)) {
		field := fields[name]
		if ref, ok := secretReference(*field); ok {
			if resolver == nil {
				return nil, &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
			}
			value, err := resolver.ResolveSecret(ctx, ref)
			if err != nil {
				return nil, &SecretError{Ref: ref, Err: err}
			}
			*field = value
		}
		resolved[name] = strings.TrimSpace(*field)
	}
	return resolved, nil
}

func missingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var names []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name != "" && resolved[name] == "" && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	return &MissingSecretsError{names: names}
}

// secretReference reports whether value points at Secret Manager, returning it in secret:// form.
func secretReference(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(value, "sm://"); ok {
		return "secret://" + rest, true
	}
	return value, strings.HasPrefix(value, "secret://")
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}
