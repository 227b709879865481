package config

import (
	"bufio"
	"errors"
	"fmt"
	"maps"
	"os"
	"strconv"
	"strings"
	"time"
)

// Option customises Load and EnvironmentValues.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	overrides       map[string]string
	systemEnv       bool
	resolver        SecretResolver
	requiredSecrets []string
}

func newLoaderOptions(opts []Option) loaderOptions {
	o := loaderOptions{envFile: defaultEnvFile, systemEnv: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithEnvFile reads fallback values from path. An empty path disables the file.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.overrides = values }
}

func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.systemEnv = false }
}

// WithSecretResolver resolves secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.resolver = resolver }
}

// WithRequiredSecrets names config fields, such as "Gateway.Salt", that must not resolve to an empty value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// EnvironmentValues flattens every source into one map using the precedence Load applies.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	src, err := newLoaderOptions(opts).source()
	if err != nil {
		return nil, err
	}
	values := maps.Clone(src.file)
	if values == nil {
		values = map[string]string{}
	}
	if src.system {
		for _, kv := range os.Environ() {
			if key, value, ok := strings.Cut(kv, "="); ok && strings.TrimSpace(key) != "" {
				values[strings.TrimSpace(key)] = value
			}
		}
	}
	maps.Copy(values, src.overrides)
	return values, nil
}

// envSource answers lookups from the override map, then the process environment, then the .env file.
type envSource struct {
	overrides map[string]string
	system    bool
	file      map[string]string
}

func (o loaderOptions) source() (envSource, error) {
	file, err := readDotEnv(o.envFile)
	if err != nil {
		return envSource{}, err
	}
	return envSource{overrides: o.overrides, system: o.systemEnv, file: file}, nil
}

func (s envSource) lookup(key string) string {
	if v, ok := s.overrides[key]; ok {
		return strings.TrimSpace(v)
	}
	if s.system {
		if v, ok := os.LookupEnv(key); ok {
			return strings.TrimSpace(v)
		}
	}
	return strings.TrimSpace(s.file[key])
}

func (s envSource) str(key, fallback string) string {
	if v := s.lookup(key); v != "" {
		return v
	}
	return fallback
}

// Unparseable values fall back to the default, as do empty ones.
func (s envSource) duration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(s.lookup(key)); err == nil {
		return d
	}
	return fallback
}

func (s envSource) integer(key string, fallback int) int {
	if n, err := strconv.Atoi(s.lookup(key)); err == nil {
		return n
	}
	return fallback
}

func (s envSource) boolean(key string, fallback bool) bool {
	switch strings.ToLower(s.lookup(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func (s envSource) list(key string) []string {
	out := []string{}
	for _, item := range strings.Split(s.lookup(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// readDotEnv parses KEY=value lines, allowing "export " prefixes, comments and quoted values. A missing
// file is not an error.
func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	values := map[string]string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if key = strings.TrimSpace(key); !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return values, nil
}
