package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/pawmart/api/internal/platform/config"
)

const (
	emulatorHostEnv = "FIRESTORE_EMULATOR_HOST"
	projectEnv      = "GOOGLE_CLOUD_PROJECT"
)

// ErrProviderClosed is returned by Client after Close.
var ErrProviderClosed = errors.New("firestore: provider is closed")

// Provider owns the process-wide Firestore client, dialled on first use.
type Provider struct {
	cfg         config.FirestoreConfig
	dialTimeout time.Duration
	extra       []option.ClientOption

	mu     sync.Mutex
	client *firestore.Client
	closed bool
}

type ProviderOption func(*Provider)

func WithDialTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) {
		if d > 0 {
			p.dialTimeout = d
		}
	}
}

func WithClientOptions(opts ...option.ClientOption) ProviderOption {
	return func(p *Provider) { p.extra = append(p.extra, opts...) }
}

func NewProvider(cfg config.FirestoreConfig, opts ...ProviderOption) *Provider {
	p := &Provider{cfg: cfg, dialTimeout: 10 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Client returns the shared client, dialling it under the provider lock if needed.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return nil, ErrProviderClosed
	case p.client != nil:
		return p.client, nil
	}

	project := firstNonBlank(p.cfg.ProjectID, os.Getenv(projectEnv))
	if project == "" {
		return nil, errors.New("firestore: project id is required")
	}
	dialCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()
	client, err := firestore.NewClient(dialCtx, project, p.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client: %w", err)
	}
	p.client = client
	return client, nil
}

// clientOptions points the client at the emulator, without credentials, when one is configured.
func (p *Provider) clientOptions() []option.ClientOption {
	opts := append([]option.ClientOption(nil), p.extra...)
	host := firstNonBlank(p.cfg.EmulatorHost, os.Getenv(emulatorHostEnv))
	if host == "" {
		return opts
	}
	if os.Getenv(emulatorHostEnv) == "" {
		_ = os.Setenv(emulatorHostEnv, host)
	}
	return append(opts,
		option.WithEndpoint(host),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
}

// Ping is the readiness probe: it asks for the first top-level collection.
func (p *Provider) Ping(ctx context.Context) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	if _, err := client.Collections(ctx).Next(); err != nil && !errors.Is(err, iterator.Done) {
		return WrapError("ping", err)
	}
	return nil
}

// RunTransaction runs fn in a transaction on the shared client.
func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc, opts ...TxOption) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	return RunTransaction(ctx, client, fn, opts...)
}

// Close releases the client and is safe to call more than once. It gives up when ctx ends first.
func (p *Provider) Close(ctx context.Context) error {
	p.mu.Lock()
	client := p.client
	p.client, p.closed = nil, true
	p.mu.Unlock()
	if client == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- client.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
