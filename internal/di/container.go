package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	domain "github.com/pawmart/api/internal/domain"
	"github.com/pawmart/api/internal/handlers"
	"github.com/pawmart/api/internal/payments"
	"github.com/pawmart/api/internal/platform/auth"
	"github.com/pawmart/api/internal/platform/config"
	pfirestore "github.com/pawmart/api/internal/platform/firestore"
	"github.com/pawmart/api/internal/platform/idempotency"
	"github.com/pawmart/api/internal/platform/jobs"
	"github.com/pawmart/api/internal/platform/locks"
	"github.com/pawmart/api/internal/platform/observability"
	"github.com/pawmart/api/internal/platform/requestctx"
	"github.com/pawmart/api/internal/repositories"
	firestoreRepo "github.com/pawmart/api/internal/repositories/firestore"
	"github.com/pawmart/api/internal/services"
)

const redisPingTimeout = time.Second

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders    services.OrderService
	Inventory services.InventoryService
	System    services.SystemService
}

// Container wires repositories, services, and transport for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Metrics      *observability.Metrics
	Router       http.Handler

	closers []func(context.Context) error
}

// Option overrides a dependency the container would otherwise build from configuration.
type Option func(*options)

type options struct {
	logger        *zap.Logger
	build         services.BuildInfo
	registry      repositories.Registry
	gateway       payments.Gateway
	authenticator *auth.Authenticator
	authSet       bool
	publisher     services.OrderEventPublisher
	redis         redis.UniversalClient
	metrics       *observability.Metrics
}

// WithLogger sets the base logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithBuildInfo sets the metadata reported by /healthz.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *options) { o.build = build }
}

// WithRegistry supplies repositories instead of connecting to Firestore.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithGateway supplies the payment gateway instead of the hosted gateway client.
func WithGateway(gateway payments.Gateway) Option {
	return func(o *options) { o.gateway = gateway }
}

// WithAuthenticator supplies the request authenticator. A nil authenticator leaves routes unauthenticated
// and only identities placed on the context by earlier middleware are honoured.
func WithAuthenticator(authn *auth.Authenticator) Option {
	return func(o *options) {
		o.authenticator = authn
		o.authSet = true
	}
}

// WithEventPublisher supplies the order event publisher instead of the configured driver.
func WithEventPublisher(publisher services.OrderEventPublisher) Option {
	return func(o *options) { o.publisher = publisher }
}

// WithRedisClient reuses an existing Redis client for idempotency records and callback leases.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) { o.redis = client }
}

// WithMetrics shares a metrics registry created earlier in start-up, e.g. by the secret fetcher.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *options) { o.metrics = metrics }
}

// NewContainer constructs the runtime dependencies. Anything built here is released by Close.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (_ *Container, err error) {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	metrics := o.metrics
	if metrics == nil {
		metrics = observability.NewMetrics()
	}
	c := &Container{Config: cfg, Metrics: metrics}
	defer func() {
		if err != nil {
			_ = c.Close(context.Background())
		}
	}()

	redisClient := o.redis
	if redisClient == nil && strings.TrimSpace(cfg.Redis.Addr) != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		redisClient = client
	}

	reg := o.registry
	if reg == nil {
		var checks []repositories.DependencyCheck
		if redisClient != nil {
			checks = append(checks, redisCheck(redisClient))
		}
		provider := pfirestore.NewProvider(cfg.Firestore)
		firestoreReg, err := firestoreRepo.NewRegistry(provider, firestoreRepo.WithHealthChecks(checks...))
		if err != nil {
			return nil, fmt.Errorf("build firestore registry: %w", err)
		}
		reg = firestoreReg
	}
	c.Repositories = reg
	c.closers = append(c.closers, reg.Close)

	store, guard, err := buildCoordination(redisClient, logger)
	if err != nil {
		return nil, err
	}

	publisher := o.publisher
	if publisher == nil {
		publisher, err = c.buildEventPublisher(ctx, cfg, logger.Named("events"))
		if err != nil {
			return nil, err
		}
	}

	gateway := o.gateway
	if gateway == nil {
		hosted, err := payments.NewHostedGateway(payments.HostedGatewayConfig{
			BaseURL:         cfg.Gateway.BaseURL,
			Key:             cfg.Gateway.Key,
			Salt:            cfg.Gateway.Salt,
			FrontendURL:     cfg.Gateway.FrontendURL,
			ServiceProvider: cfg.Gateway.ServiceProvider,
			Timeout:         cfg.Gateway.Timeout,
			Logger:          requestctx.EventLogger(logger.Named("payments")),
		})
		if err != nil {
			return nil, fmt.Errorf("build payment gateway: %w", err)
		}
		gateway = hosted
	}

	svc, err := buildServices(reg, cfg, gateway, guard, publisher, c.Metrics, o.build, logger)
	if err != nil {
		return nil, err
	}
	c.Services = svc

	authn := o.authenticator
	if !o.authSet {
		verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			return nil, fmt.Errorf("build firebase verifier: %w", err)
		}
		authn = auth.NewAuthenticator(verifier, auth.WithProfileLoader(verifier))
	}

	c.Router = buildRouter(cfg, authn, svc, store, c.Metrics, o.build, logger)
	return c, nil
}

// Close releases resources in reverse construction order.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func buildCoordination(client redis.UniversalClient, logger *zap.Logger) (idempotency.Store, services.CallbackGuard, error) {
	if client == nil {
		logger.Info("redis not configured; idempotency records and callback leases are process local")
		return idempotency.NewMemoryStore(), locks.NewMemoryGuard(time.Now), nil
	}
	store, err := idempotency.NewRedisStore(client)
	if err != nil {
		return nil, nil, fmt.Errorf("build idempotency store: %w", err)
	}
	guard, err := locks.NewRedisGuard(client,
		locks.WithReleaseLogger(observability.NewErrorPrintfAdapter(logger.Named("locks")).Printf),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("build callback guard: %w", err)
	}
	return store, guard, nil
}

func (c *Container) buildEventPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (services.OrderEventPublisher, error) {
	switch cfg.Events.Driver {
	case config.EventsDriverPubSub:
		client, err := pubsub.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("build pubsub client: %w", err)
		}
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		publisher, err := jobs.NewPubSubOrderEventPublisher(client.Topic(cfg.Events.PubSubTopic))
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func(context.Context) error { return publisher.Close() })
		return publisher, nil
	case config.EventsDriverKafka:
		publisher, err := jobs.NewKafkaOrderEventPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic,
			jobs.WithKafkaLoggers(observability.NewPrintfAdapter(logger), observability.NewErrorPrintfAdapter(logger)),
		)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func(context.Context) error { return publisher.Close() })
		return publisher, nil
	default:
		logger.Info("order events disabled", zap.String("driver", cfg.Events.Driver))
		return nil, nil
	}
}

func buildServices(
	reg repositories.Registry,
	cfg config.Config,
	gateway payments.Gateway,
	guard services.CallbackGuard,
	publisher services.OrderEventPublisher,
	metrics *observability.Metrics,
	build services.BuildInfo,
	logger *zap.Logger,
) (Services, error) {
	var svc Services

	inventory, err := services.NewInventoryService(services.InventoryServiceDeps{
		Products: reg.Products(),
		Logger:   requestctx.EventLogger(logger.Named("inventory")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventory

	pricing := domain.DefaultPricingPolicy()
	if currency := strings.TrimSpace(cfg.Checkout.Currency); currency != "" {
		pricing.Currency = currency
	}

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:           reg.Orders(),
		Products:         reg.Products(),
		Carts:            reg.Carts(),
		Inventory:        inventory,
		Gateway:          gateway,
		Guard:            guard,
		UnitOfWork:       reg,
		Identifiers:      services.NewIdentifierGenerator(nil, cfg.Checkout.IdentifierAttempts),
		Pricing:          pricing,
		Clock:            time.Now,
		Events:           publisher,
		Metrics:          metrics,
		Logger:           requestctx.EventLogger(logger.Named("orders")),
		SettlementWindow: cfg.Checkout.SettlementWindow,
		CallbackLeaseTTL: cfg.Checkout.CallbackLeaseTTL,
		ListLimit:        cfg.Checkout.OrderListLimit,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	if build.Environment == "" {
		build.Environment = cfg.Security.Environment
	}
	system, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            time.Now,
		Build:            build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = system

	return svc, nil
}

func buildRouter(
	cfg config.Config,
	authn *auth.Authenticator,
	svc Services,
	store idempotency.Store,
	metrics *observability.Metrics,
	build services.BuildInfo,
	logger *zap.Logger,
) http.Handler {
	idem := idempotency.Middleware(store,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	orderHandlers := handlers.NewOrderHandlers(authn, svc.Orders,
		handlers.WithOrderRateLimit(cfg.RateLimits.OrdersPerMinute, cfg.RateLimits.Burst),
		handlers.WithOrderIdempotency(idem),
	)
	paymentHandlers := handlers.NewPaymentHandlers(authn, svc.Orders, cfg.Gateway.FrontendURL,
		handlers.WithCallbackRateLimit(cfg.RateLimits.CallbackPerSecond, cfg.RateLimits.Burst),
		handlers.WithPaymentIdempotency(idem),
	)

	if build.Environment == "" {
		build.Environment = cfg.Security.Environment
	}
	health := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(build),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := strings.TrimSpace(cfg.Firebase.ProjectID)
	if projectID == "" {
		projectID = strings.TrimSpace(cfg.Firestore.ProjectID)
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(metrics),
		),
		handlers.WithHealthHandlers(health),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, handlers.WithMetricsHandler(metrics.Handler()))
	}
	return handlers.NewRouter(opts...)
}

func redisCheck(client redis.UniversalClient) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name:    "redis",
		Timeout: redisPingTimeout,
		Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}
