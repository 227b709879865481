package domain

import (
	"time"
)

// PaymentMethod identifies how the customer settles an order.
type PaymentMethod string

const (
	// PaymentMethodCOD settles the order in cash on delivery.
	PaymentMethodCOD PaymentMethod = "cod"
	// PaymentMethodOnline settles the order through the hosted payment gateway.
	PaymentMethodOnline PaymentMethod = "online"
)

// PaymentStatus tracks the payment side of an order independently from fulfilment.
type PaymentStatus string

const (
	// PaymentStatusPending indicates no gateway interaction has happened yet.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusInitiated indicates a payment link was issued and a callback is expected.
	PaymentStatusInitiated PaymentStatus = "initiated"
	// PaymentStatusPaid indicates the gateway confirmed the payment.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed indicates the gateway reported failure or could not be reached.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded indicates a paid order was cancelled and must be refunded.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// OrderStatus enumerates fulfilment lifecycle states.
type OrderStatus string

const (
	// OrderStatusPendingPayment indicates an online order awaiting the gateway callback.
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	// OrderStatusProcessing indicates the order is accepted and being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusConfirmed indicates staff confirmed the order for dispatch.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusShipped indicates the parcel left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the parcel reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusReturned indicates the parcel was sent back after shipping.
	OrderStatusReturned OrderStatus = "returned"
)

// StockAdjustment records which stock mutation has been applied for an order.
// It only moves forward: none -> reserved -> restored.
type StockAdjustment string

const (
	// StockAdjustmentNone indicates no stock was taken for the order.
	StockAdjustmentNone StockAdjustment = "none"
	// StockAdjustmentReserved indicates stock was decremented at checkout.
	StockAdjustmentReserved StockAdjustment = "reserved"
	// StockAdjustmentRestored indicates reserved stock was given back.
	StockAdjustmentRestored StockAdjustment = "restored"
)

// Product is the catalog entity read by the order workflow. Only Stock is mutated here.
type Product struct {
	ID            string
	Name          string
	Description   string
	Type          string
	CategoryRef   string
	Tags          []string
	Images        []string
	Size          string
	Price         int64
	DiscountPrice int64
	Stock         int
	Attributes    map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Cart aggregates the shopping cart owned by one user.
type Cart struct {
	UserID    string
	Items     []CartItem
	UpdatedAt time.Time
}

// CartItem references a product and the requested quantity.
type CartItem struct {
	ProductRef string
	Quantity   int
}

// Address is the shipping destination captured with the order.
type Address struct {
	FullName   string
	Phone      string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// Order captures the durable order record.
type Order struct {
	ID              string
	OrderNumber     string
	TrackingNumber  string
	UserID          string
	Items           []OrderItem
	Subtotal        int64
	TaxAmount       int64
	ShippingFee     int64
	TotalAmount     int64
	Currency        string
	ShippingAddress Address
	PaymentMethod   PaymentMethod
	PaymentStatus   PaymentStatus
	Status          OrderStatus
	StockAdjustment StockAdjustment
	Payment         OrderPayment
	CancelDetails   *CancelDetails
	CouponCode      string
	Notes           string
	DeliveryDate    *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderItem is a priced line captured at purchase time.
type OrderItem struct {
	ProductRef      string
	Quantity        int
	PriceAtPurchase int64
	Subtotal        int64
	ProductSnapshot map[string]any
}

// OrderPayment stores gateway interaction metadata.
type OrderPayment struct {
	TransactionID string
	PaymentURL    string
	GatewayStatus string
	Message       string
	InitiatedAt   *time.Time
	PaidAt        *time.Time
	FailedAt      *time.Time
}

// CancelDetails is set once when the order is cancelled.
type CancelDetails struct {
	Reason      string
	Notes       string
	CancelledBy string
	CancelledAt time.Time
}

// StockLine is a product/quantity pair used by stock reservation and restoration.
type StockLine struct {
	ProductRef string
	Quantity   int
}

// StockLines extracts the stock lines of the order items.
func (o Order) StockLines() []StockLine {
	lines := make([]StockLine, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, StockLine{ProductRef: item.ProductRef, Quantity: item.Quantity})
	}
	return lines
}
