// Package secrets resolves secret:// references used by configuration, such as the gateway
// merchant key and salt, against Google Secret Manager with a local file fallback.
package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	defaultCacheTTL     = 10 * time.Minute
	latestVersion       = "latest"

	sourceCache    = "cache"
	sourceRemote   = "remote"
	sourceFallback = "fallback"
	sourceError    = "error"
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret references with caching. Values are cached for CacheTTL so rotated
// gateway salts are picked up without a restart.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	logger     *zap.Logger
	clock      func() time.Time

	env         string
	defaultProj string
	projectMap  map[string]string
	versionPins map[string]string
	cacheTTL    time.Duration

	fallbackPath string
	fallbackOnce sync.Once
	fallbackVals map[string]string
	fallbackErr  error

	mu    sync.RWMutex
	cache map[string]cacheEntry

	resolutions *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

type cacheEntry struct {
	value     string
	canonical string
	expiresAt time.Time
}

type fetcherConfig struct {
	logger       *zap.Logger
	env          string
	defaultProj  string
	projectMap   map[string]string
	versionPins  map[string]string
	fallbackPath string
	cacheTTL     time.Duration
	clock        func() time.Time
	registerer   prometheus.Registerer
	client       secretManagerClient
	clientOpts   []option.ClientOption
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) {
		cfg.logger = logger
	}
}

// WithEnvironment selects the key used to look up per-environment project IDs.
func WithEnvironment(env string) Option {
	return func(cfg *fetcherConfig) {
		if env = strings.ToLower(strings.TrimSpace(env)); env != "" {
			cfg.env = env
		}
	}
}

// WithDefaultProject configures the project used when no environment mapping matches.
func WithDefaultProject(projectID string) Option {
	return func(cfg *fetcherConfig) {
		cfg.defaultProj = strings.TrimSpace(projectID)
	}
}

// WithProjectMap supplies environment specific project IDs.
func WithProjectMap(m map[string]string) Option {
	return func(cfg *fetcherConfig) {
		cfg.projectMap = copyStringMap(m)
	}
}

// WithVersionPins sets explicit versions keyed by canonical reference, optionally prefixed by "<env>:".
func WithVersionPins(pins map[string]string) Option {
	return func(cfg *fetcherConfig) {
		cfg.versionPins = copyStringMap(pins)
	}
}

// WithFallbackFile overrides the path to the local KEY=VALUE secrets file.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) {
		cfg.fallbackPath = strings.TrimSpace(path)
	}
}

// WithCacheTTL bounds how long a resolved value is served from memory.
func WithCacheTTL(ttl time.Duration) Option {
	return func(cfg *fetcherConfig) {
		if ttl > 0 {
			cfg.cacheTTL = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(cfg *fetcherConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// WithRegisterer exposes resolution metrics on the given Prometheus registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(cfg *fetcherConfig) {
		cfg.registerer = reg
	}
}

// WithSecretManagerClient injects a preconfigured client.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(cfg *fetcherConfig) {
		cfg.client = client
	}
}

// WithClientOptions forwards options when the fetcher constructs its own client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) {
		cfg.clientOpts = append(cfg.clientOpts, opts...)
	}
}

// NewFetcher builds a Fetcher. A Secret Manager client that cannot be created leaves the fetcher
// in fallback-only mode instead of failing.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{
		logger:       zap.NewNop(),
		env:          defaultEnvironment,
		fallbackPath: defaultFallbackPath,
		cacheTTL:     defaultCacheTTL,
		clock:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	f := &Fetcher{
		logger:       cfg.logger,
		clock:        cfg.clock,
		env:          cfg.env,
		defaultProj:  cfg.defaultProj,
		projectMap:   copyStringMap(cfg.projectMap),
		versionPins:  copyStringMap(cfg.versionPins),
		cacheTTL:     cfg.cacheTTL,
		fallbackPath: cfg.fallbackPath,
		cache:        make(map[string]cacheEntry),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pawmart",
			Subsystem: "secrets",
			Name:      "resolutions_total",
			Help:      "Secret resolutions by source.",
		}, []string{"source"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pawmart",
			Subsystem: "secrets",
			Name:      "resolve_duration_ms",
			Help:      "Secret resolution latency in milliseconds.",
			Buckets:   []float64{1, 5, 25, 100, 250, 1000, 5000},
		}, []string{"source"}),
	}
	if cfg.registerer != nil {
		for _, c := range []prometheus.Collector{f.resolutions, f.latency} {
			if err := cfg.registerer.Register(c); err != nil {
				cfg.logger.Warn("secrets: metric registration failed", zap.Error(err))
			}
		}
	}

	if cfg.client != nil {
		f.client = cfg.client
	} else {
		client, err := secretManagerClientFactory(ctx, cfg.clientOpts...)
		if err != nil {
			cfg.logger.Warn("secrets: secret manager client unavailable; using fallback file only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// ResolveSecret lets the fetcher act as the configuration secret resolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the value behind ref. Only permission and availability errors fall back to the
// local file; a missing secret is an error.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	start := f.clock()
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}

	version := f.selectVersion(parsed)
	key := cacheKey(parsed.Canonical, version)
	if value, ok := f.lookupCache(key); ok {
		f.observe(start, sourceCache)
		return value, nil
	}

	projectID := f.projectID(parsed)
	if projectID != "" && f.client != nil {
		value, fetchErr := f.fetchRemote(ctx, projectID, parsed.Secret, version)
		if fetchErr == nil {
			f.storeCache(key, parsed.Canonical, value)
			f.observe(start, sourceRemote)
			return value, nil
		}
		if !isFallbackError(fetchErr) {
			f.observe(start, sourceError)
			return "", fmt.Errorf("secrets: fetch %s: %w", parsed.Canonical, fetchErr)
		}
		f.logger.Debug("secrets: falling back to local file", zap.String("ref", parsed.Canonical), zap.Error(fetchErr))
	}

	value, ok := f.lookupFallback(parsed, version)
	if !ok {
		f.observe(start, sourceError)
		return "", fmt.Errorf("secrets: no fallback value for %s", parsed.Canonical)
	}
	f.storeCache(key, parsed.Canonical, value)
	f.observe(start, sourceFallback)
	return value, nil
}

// Invalidate drops cached values for ref.
func (f *Fetcher) Invalidate(ref string) {
	parsed, err := parseReference(ref)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, entry := range f.cache {
		if entry.canonical == parsed.Canonical {
			delete(f.cache, key)
		}
	}
}

func (f *Fetcher) lookupCache(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[key]
	if !ok || !f.clock().Before(entry.expiresAt) {
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) storeCache(key, canonical, value string) {
	f.mu.Lock()
	f.cache[key] = cacheEntry{value: value, canonical: canonical, expiresAt: f.clock().Add(f.cacheTTL)}
	f.mu.Unlock()
}

func (f *Fetcher) fetchRemote(ctx context.Context, projectID, secretName, version string) (string, error) {
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", projectID, secretName, version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secret manager returned empty payload for %s", name)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) projectID(ref parsedReference) string {
	if ref.ProjectOverride != "" {
		return ref.ProjectOverride
	}
	if id := strings.TrimSpace(f.projectMap[f.env]); id != "" {
		return id
	}
	return f.defaultProj
}

func (f *Fetcher) selectVersion(ref parsedReference) string {
	if ref.Version != "" {
		return ref.Version
	}
	if pin := strings.TrimSpace(f.versionPins[f.env+":"+ref.Canonical]); pin != "" {
		return pin
	}
	if pin := strings.TrimSpace(f.versionPins[ref.Canonical]); pin != "" {
		return pin
	}
	return latestVersion
}

func (f *Fetcher) lookupFallback(ref parsedReference, version string) (string, bool) {
	f.fallbackOnce.Do(f.loadFallback)
	if f.fallbackErr != nil {
		f.logger.Warn("secrets: fallback file unreadable", zap.Error(f.fallbackErr))
		return "", false
	}
	if val, ok := f.fallbackVals[cacheKey(ref.Canonical, version)]; ok {
		return val, true
	}
	val, ok := f.fallbackVals[ref.Canonical]
	return val, ok
}

func (f *Fetcher) loadFallback() {
	f.fallbackVals = map[string]string{}
	if f.fallbackPath == "" {
		return
	}
	path, err := filepath.Abs(f.fallbackPath)
	if err != nil {
		path = f.fallbackPath
	}
	file, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.fallbackErr = fmt.Errorf("secrets: open fallback file %s: %w", path, err)
		}
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, ok := strings.Cut(line, "=")
		name = normalizeScheme(strings.TrimSpace(name))
		if !ok || name == "" {
			continue
		}
		value = strings.TrimSpace(value)
		parsed, err := parseReference(name)
		if err != nil {
			f.fallbackVals[name] = value
			continue
		}
		version := parsed.Version
		if version == "" {
			version = latestVersion
		}
		f.fallbackVals[parsed.Canonical] = value
		f.fallbackVals[cacheKey(parsed.Canonical, version)] = value
	}
	if err := scanner.Err(); err != nil {
		f.fallbackErr = fmt.Errorf("secrets: read %s: %w", path, err)
	}
}

func (f *Fetcher) observe(start time.Time, source string) {
	f.resolutions.WithLabelValues(source).Inc()
	f.latency.WithLabelValues(source).Observe(float64(f.clock().Sub(start)) / float64(time.Millisecond))
}

type parsedReference struct {
	Canonical       string
	Secret          string
	Version         string
	ProjectOverride string
}

func parseReference(ref string) (parsedReference, error) {
	ref = normalizeScheme(strings.TrimSpace(ref))
	if ref == "" {
		return parsedReference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return parsedReference{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return parsedReference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return parsedReference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}

	canonical := *u
	canonical.RawQuery = ""
	canonical.Fragment = ""
	query := u.Query()
	return parsedReference{
		Canonical:       canonical.String(),
		Secret:          name,
		Version:         strings.TrimSpace(query.Get("version")),
		ProjectOverride: strings.TrimSpace(query.Get("project")),
	}, nil
}

func normalizeScheme(ref string) string {
	if rest, ok := strings.CutPrefix(ref, "sm://"); ok {
		return "secret://" + rest
	}
	return ref
}

func cacheKey(canonical, version string) string {
	return canonical + "#" + version
}

func copyStringMap(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}

func isFallbackError(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
