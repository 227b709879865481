package firestore

import (
	"context"
	"errors"
	"time"

	pfirestore "github.com/pawmart/api/internal/platform/firestore"
	"github.com/pawmart/api/internal/repositories"
)

// Registry implements repositories.Registry on top of a single Firestore provider.
type Registry struct {
	provider *pfirestore.Provider
	uow      *pfirestore.UnitOfWork
	orders   *OrderRepository
	products *ProductRepository
	carts    *CartRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises registry construction.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	extraChecks []repositories.DependencyCheck
	txOpts      []pfirestore.TxOption
}

// WithHealthChecks adds probes for dependencies that live outside Firestore (Redis, the event bus).
func WithHealthChecks(checks ...repositories.DependencyCheck) RegistryOption {
	return func(o *registryOptions) {
		o.extraChecks = append(o.extraChecks, checks...)
	}
}

// WithTransactionOptions tunes the transactions opened by RunInTx.
func WithTransactionOptions(opts ...pfirestore.TxOption) RegistryOption {
	return func(o *registryOptions) {
		o.txOpts = append(o.txOpts, opts...)
	}
}

// NewRegistry wires every Firestore repository against the provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	var options registryOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}

	checks := append([]repositories.DependencyCheck{{
		Name:     "firestore",
		Critical: true,
		Timeout:  2 * time.Second,
		Check:    provider.Ping,
	}}, options.extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider: provider,
		uow:      pfirestore.NewUnitOfWork(provider, options.txOpts...),
		orders:   orders,
		products: products,
		carts:    carts,
		health:   health,
	}, nil
}

func (r *Registry) Orders() repositories.OrderRepository     { return r.orders }
func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) Carts() repositories.CartRepository       { return r.carts }
func (r *Registry) Health() repositories.HealthRepository    { return r.health }

// RunInTx implements repositories.UnitOfWork.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.uow.RunInTx(ctx, fn)
}

// Close releases the Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}
