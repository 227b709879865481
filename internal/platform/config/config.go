// Package config loads API settings from the environment, an optional .env file and Secret Manager.
package config

import (
	"context"
	"strings"
	"time"
)

const (
	defaultEnvFile = ".env"

	defaultIdempotencyHeader = "Idempotency-Key"
)

// Supported order event transports.
const (
	EventsDriverNone   = "none"
	EventsDriverPubSub = "pubsub"
	EventsDriverKafka  = "kafka"
)

// Config is the API configuration, grouped by the component that consumes it.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Gateway     GatewayConfig
	Checkout    CheckoutConfig
	Redis       RedisConfig
	Events      EventsConfig
	RateLimits  RateLimitConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
	Metrics     MetricsConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig selects the project whose ID tokens the API accepts.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig defaults ProjectID to the Firebase project.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// GatewayConfig holds the hosted payment gateway settings. Key and Salt are usually secret references.
type GatewayConfig struct {
	BaseURL         string
	Key             string
	Salt            string
	FrontendURL     string
	ServiceProvider string
	Timeout         time.Duration
}

// CheckoutConfig tunes checkout behaviour.
type CheckoutConfig struct {
	Currency           string
	SettlementWindow   time.Duration
	CallbackLeaseTTL   time.Duration
	IdentifierAttempts int
	OrderListLimit     int
}

// RedisConfig points at the Redis instance backing idempotency records and callback leases.
// An empty Addr selects in-process stores.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EventsConfig selects the transport for order events.
type EventsConfig struct {
	Driver       string
	PubSubTopic  string
	KafkaBrokers []string
	KafkaTopic   string
}

// RateLimitConfig sets the token buckets for checkout and gateway callbacks.
type RateLimitConfig struct {
	OrdersPerMinute   int
	CallbackPerSecond int
	Burst             int
}

type SecurityConfig struct {
	Environment string
}

// IdempotencyConfig names the request header and how long replays are kept.
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
}

// Load reads every setting, resolves secret:// and sm:// references through the configured resolver and
// validates the result. Explicit env maps win over the process environment, which wins over the .env file.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	o := newLoaderOptions(opts)
	src, err := o.source()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         src.str("API_SERVER_PORT", "8080"),
			ReadTimeout:  src.duration("API_SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: src.duration("API_SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  src.duration("API_SERVER_IDLE_TIMEOUT", 2*time.Minute),
		},
		Firebase: FirebaseConfig{
			ProjectID:       src.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: src.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    src.str("API_FIRESTORE_PROJECT_ID", src.str("API_FIREBASE_PROJECT_ID", "")),
			EmulatorHost: src.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Gateway: GatewayConfig{
			BaseURL:         strings.TrimRight(src.str("API_GATEWAY_BASE_URL", ""), "/"),
			Key:             src.str("API_GATEWAY_KEY", ""),
			Salt:            src.str("API_GATEWAY_SALT", ""),
			FrontendURL:     strings.TrimRight(src.str("API_GATEWAY_FRONTEND_URL", ""), "/"),
			ServiceProvider: src.str("API_GATEWAY_SERVICE_PROVIDER", "payu_paisa"),
			Timeout:         src.duration("API_GATEWAY_TIMEOUT", 15*time.Second),
		},
		Checkout: CheckoutConfig{
			Currency:           strings.ToUpper(src.str("API_CHECKOUT_CURRENCY", "INR")),
			SettlementWindow:   src.duration("API_CHECKOUT_SETTLEMENT_WINDOW", 30*time.Minute),
			CallbackLeaseTTL:   src.duration("API_CHECKOUT_CALLBACK_LEASE_TTL", 30*time.Second),
			IdentifierAttempts: src.integer("API_CHECKOUT_IDENTIFIER_ATTEMPTS", 10),
			OrderListLimit:     src.integer("API_CHECKOUT_ORDER_LIST_LIMIT", 50),
		},
		Redis: RedisConfig{
			Addr:     src.str("API_REDIS_ADDR", ""),
			Password: src.str("API_REDIS_PASSWORD", ""),
			DB:       src.integer("API_REDIS_DB", 0),
		},
		Events: EventsConfig{
			Driver:       strings.ToLower(src.str("API_EVENTS_DRIVER", EventsDriverNone)),
			PubSubTopic:  src.str("API_EVENTS_PUBSUB_TOPIC", ""),
			KafkaBrokers: src.list("API_EVENTS_KAFKA_BROKERS"),
			KafkaTopic:   src.str("API_EVENTS_KAFKA_TOPIC", ""),
		},
		RateLimits: RateLimitConfig{
			OrdersPerMinute:   src.integer("API_RATELIMIT_ORDERS_PER_MIN", 60),
			CallbackPerSecond: src.integer("API_RATELIMIT_CALLBACK_PER_SEC", 20),
			Burst:             src.integer("API_RATELIMIT_BURST", 40),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(src.str("API_SECURITY_ENVIRONMENT", "local")),
		},
		Idempotency: IdempotencyConfig{
			Header: src.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:    src.duration("API_IDEMPOTENCY_TTL", 24*time.Hour),
		},
		Metrics: MetricsConfig{
			Enabled: src.boolean("API_METRICS_ENABLED", true),
		},
	}

	resolved, err := resolveSecretFields(ctx, o.resolver, map[string]*string{
		"Gateway.Key":    &cfg.Gateway.Key,
		"Gateway.Salt":   &cfg.Gateway.Salt,
		"Redis.Password": &cfg.Redis.Password,
	})
	if err != nil {
		return Config{}, err
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	if missing := missingSecrets(o.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}
