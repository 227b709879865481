package repositories

import (
	"context"

	domain "github.com/pawmart/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Products() ProductRepository
	Carts() CartRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary. Repositories called with the
// context passed to fn take part in the same transaction. Within one unit all reads must happen before
// the first write.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderListFilter narrows order listings for a single user.
type OrderListFilter struct {
	UserID string
	Limit  int
}

// OrderRepository persists order documents.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	FindByTrackingNumber(ctx context.Context, trackingNumber string) (domain.Order, error)
	ListByUser(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
	OrderNumberExists(ctx context.Context, orderNumber string) (bool, error)
	TrackingNumberExists(ctx context.Context, trackingNumber string) (bool, error)
}

// ProductRepository reads catalog products and owns stock mutation for the order workflow.
type ProductRepository interface {
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	// ReserveStock checks every line before decrementing any of them. When one or more lines are short
	// it returns an *InventoryError carrying all shortages and writes nothing.
	ReserveStock(ctx context.Context, lines []domain.StockLine) error
	RestoreStock(ctx context.Context, lines []domain.StockLine) error
}

// CartRepository reads and clears carts.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	ClearCart(ctx context.Context, userID string) error
}
