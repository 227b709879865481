package services

import (
	"context"
	"time"

	domain "github.com/pawmart/api/internal/domain"
	"github.com/pawmart/api/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order           = domain.Order
	OrderItem       = domain.OrderItem
	OrderTotals     = domain.OrderTotals
	OrderStatus     = domain.OrderStatus
	PaymentStatus   = domain.PaymentStatus
	PaymentMethod   = domain.PaymentMethod
	Address         = domain.Address
	Cart            = domain.Cart
	CartItem        = domain.CartItem
	Product         = domain.Product
	StockLine       = domain.StockLine
	PricingPolicy   = domain.PricingPolicy
	SystemHealth    = domain.SystemHealthReport
	PaymentCallback = payments.Callback
)

// OrderService turns carts into orders and reconciles payment outcomes with stock and order state.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (CheckoutResult, error)
	ListMine(ctx context.Context, userID string) ([]Order, error)
	GetMine(ctx context.Context, userID, orderID string) (Order, error)
	GetByTracking(ctx context.Context, userID, trackingNumber string) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	InitiatePayment(ctx context.Context, cmd InitiatePaymentCommand) (CheckoutResult, error)
	ApplyCallback(ctx context.Context, cb PaymentCallback) (CallbackResult, error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
}

// InventoryService reserves and restores product stock.
type InventoryService interface {
	Reserve(ctx context.Context, lines []StockLine) error
	Restore(ctx context.Context, lines []StockLine) error
}

// SystemService reports service health for probes.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealth, error)
}

// CallbackGuard hands out short per-order leases while a payment callback is being applied.
type CallbackGuard interface {
	// Acquire takes the lease for orderID. acquired is false when another holder owns it.
	Acquire(ctx context.Context, orderID string, ttl time.Duration) (release func(context.Context), acquired bool, err error)
	// Held reports whether a lease for orderID is currently active.
	Held(ctx context.Context, orderID string) (bool, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	UserID         string
	PreviousStatus string
	CurrentStatus  string
	PaymentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderMetrics receives business counters. Implementations must be safe for concurrent use.
type OrderMetrics interface {
	OrderPlaced(method PaymentMethod, outcome string)
	PaymentSettled(outcome string)
	StockRestored(reason string, units int)
}

// CreateOrderCommand places an order from the user's current cart.
type CreateOrderCommand struct {
	UserID          string
	PayerEmail      string
	PayerName       string
	ShippingAddress Address
	PaymentMethod   PaymentMethod
	CouponCode      string
	Notes           string
}

// CheckoutResult returns the order and, for online orders, the hosted payment page.
type CheckoutResult struct {
	Order      Order
	PaymentURL string
}

// CancelOrderCommand cancels an order owned by UserID.
type CancelOrderCommand struct {
	UserID  string
	OrderID string
	Reason  string
	Notes   string
}

// InitiatePaymentCommand (re)starts the gateway handshake for a pending online order.
type InitiatePaymentCommand struct {
	UserID     string
	OrderID    string
	PayerEmail string
	PayerName  string
}

// CallbackResult summarises how a gateway callback was applied.
type CallbackResult struct {
	Order   Order
	Success bool
	Message string
}

// UpdateOrderStatusCommand moves an order along the fulfilment track on behalf of staff.
type UpdateOrderStatusCommand struct {
	OrderID      string
	Status       OrderStatus
	DeliveryDate *time.Time
	ActorID      string
	Reason       string
}
