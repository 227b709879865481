package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/pawmart/api/internal/di"
	"github.com/pawmart/api/internal/platform/config"
	"github.com/pawmart/api/internal/platform/observability"
	"github.com/pawmart/api/internal/platform/secrets"
	"github.com/pawmart/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(observability.WithLogLevel(envValues["API_LOG_LEVEL"]))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	metrics := observability.NewMetrics()

	fetcher, err := newSecretFetcher(ctx, logger, envValues, metrics)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames()...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg,
		di.WithLogger(logger),
		di.WithMetrics(metrics),
		di.WithBuildInfo(buildInfoFromEnv(envValues, cfg, startedAt)),
	)
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      container.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("pawmart api listening",
			zap.String("environment", cfg.Security.Environment),
			zap.String("events", cfg.Events.Driver),
			zap.Bool("redis", cfg.Redis.Addr != ""),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string, metrics *observability.Metrics) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithRegisterer(metrics.Registry()),
	}
	if projectMap := parseKeyValueList(lookup("API_SECRET_PROJECT_IDS")); len(projectMap) > 0 {
		lowered := make(map[string]string, len(projectMap))
		for envName, project := range projectMap {
			lowered[strings.ToLower(envName)] = project
		}
		opts = append(opts, secrets.WithProjectMap(lowered))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := secretVersionPins(lookup("API_SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if ttl, err := time.ParseDuration(lookup("API_SECRET_CACHE_TTL")); err == nil && ttl > 0 {
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the configuration fields that must resolve to a non-empty value.
func requiredSecretNames() []string {
	return []string{"Gateway.Key", "Gateway.Salt"}
}

// secretVersionPins parses "ref=version" pairs. A ref may carry an "<env>:" prefix and the sm:// scheme.
func secretVersionPins(raw string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range parseKeyValueList(raw) {
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			schemeSplit := strings.Index(ref, "://")
			if schemeSplit == -1 || idx < schemeSplit {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		switch {
		case strings.HasPrefix(ref, "sm://"):
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		case !strings.HasPrefix(ref, "secret://"):
			ref = "secret://" + ref
		}
		pins[prefix+ref] = version
	}
	return pins
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}
