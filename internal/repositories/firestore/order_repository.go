package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/pawmart/api/internal/domain"
	pfirestore "github.com/pawmart/api/internal/platform/firestore"
	"github.com/pawmart/api/internal/repositories"
)

const (
	ordersCollection    = "orders"
	defaultOrderPageCap = 100
)

// OrderRepository stores orders as documents keyed by order ID.
type OrderRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{provider: provider}, nil
}

func (r *OrderRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(ordersCollection), nil
}

// Insert creates the order document and fails with a conflict when the ID is taken.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	return pfirestore.CreateDocument(ctx, "orders.insert", coll.Doc(id), encodeOrder(order))
}

// Update overwrites the stored order with the provided state.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	return pfirestore.SetDocument(ctx, "orders.update", coll.Doc(id), encodeOrder(order))
}

// FindByID loads one order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, pfirestore.NotFound("orders.get", "order id is empty")
	}
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := pfirestore.GetDocument(ctx, "orders.get", coll.Doc(id))
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(snap)
}

// FindByOrderNumber resolves an order through its human readable number.
func (r *OrderRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	return r.findOne(ctx, "orders.by_number", "orderNumber", orderNumber)
}

// FindByTrackingNumber resolves an order through its tracking number.
func (r *OrderRepository) FindByTrackingNumber(ctx context.Context, trackingNumber string) (domain.Order, error) {
	return r.findOne(ctx, "orders.by_tracking", "trackingNumber", trackingNumber)
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	userID := strings.TrimSpace(filter.UserID)
	if userID == "" {
		return nil, errors.New("order repository: user id is required")
	}
	limit := filter.Limit
	if limit <= 0 || limit > defaultOrderPageCap {
		limit = defaultOrderPageCap
	}
	coll, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}
	query := coll.Where("userId", "==", userID).OrderBy("createdAt", firestore.Desc).Limit(limit)
	snaps, err := pfirestore.QueryDocuments(ctx, "orders.list_by_user", query)
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(snaps))
	for _, snap := range snaps {
		order, err := decodeOrder(snap)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// OrderNumberExists reports whether any order already uses the number.
func (r *OrderRepository) OrderNumberExists(ctx context.Context, orderNumber string) (bool, error) {
	return r.exists(ctx, "orders.number_exists", "orderNumber", orderNumber)
}

// TrackingNumberExists reports whether any order already uses the tracking number.
func (r *OrderRepository) TrackingNumberExists(ctx context.Context, trackingNumber string) (bool, error) {
	return r.exists(ctx, "orders.tracking_exists", "trackingNumber", trackingNumber)
}

func (r *OrderRepository) findOne(ctx context.Context, op, field, value string) (domain.Order, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return domain.Order{}, pfirestore.NotFound(op, field+" is empty")
	}
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	snaps, err := pfirestore.QueryDocuments(ctx, op, coll.Where(field, "==", value).Limit(1))
	if err != nil {
		return domain.Order{}, err
	}
	if len(snaps) == 0 {
		return domain.Order{}, pfirestore.NotFound(op, "order not found")
	}
	return decodeOrder(snaps[0])
}

func (r *OrderRepository) exists(ctx context.Context, op, field, value string) (bool, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return false, err
	}
	snaps, err := pfirestore.QueryDocuments(ctx, op, coll.Where(field, "==", value).Limit(1))
	if err != nil {
		return false, err
	}
	return len(snaps) > 0, nil
}

type orderDocument struct {
	OrderNumber     string                 `firestore:"orderNumber"`
	TrackingNumber  string                 `firestore:"trackingNumber"`
	UserID          string                 `firestore:"userId"`
	Items           []orderItemDocument    `firestore:"items"`
	Subtotal        int64                  `firestore:"subtotal"`
	TaxAmount       int64                  `firestore:"taxAmount"`
	ShippingFee     int64                  `firestore:"shippingFee"`
	TotalAmount     int64                  `firestore:"totalAmount"`
	Currency        string                 `firestore:"currency"`
	ShippingAddress addressDocument        `firestore:"shippingAddress"`
	PaymentMethod   string                 `firestore:"paymentMethod"`
	PaymentStatus   string                 `firestore:"paymentStatus"`
	Status          string                 `firestore:"status"`
	StockAdjustment string                 `firestore:"stockAdjustment"`
	Payment         orderPaymentDocument   `firestore:"paymentDetails"`
	CancelDetails   *cancelDetailsDocument `firestore:"cancelDetails,omitempty"`
	CouponCode      string                 `firestore:"couponCode,omitempty"`
	Notes           string                 `firestore:"notes,omitempty"`
	DeliveryDate    *time.Time             `firestore:"deliveryDate,omitempty"`
	CreatedAt       time.Time              `firestore:"createdAt"`
	UpdatedAt       time.Time              `firestore:"updatedAt"`
}

type orderItemDocument struct {
	Product         string         `firestore:"product"`
	Quantity        int            `firestore:"quantity"`
	PriceAtPurchase int64          `firestore:"priceAtPurchase"`
	Subtotal        int64          `firestore:"subtotal"`
	ProductSnapshot map[string]any `firestore:"productSnapshot,omitempty"`
}

type addressDocument struct {
	FullName   string `firestore:"fullName"`
	Phone      string `firestore:"phone"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
}

type orderPaymentDocument struct {
	TransactionID string     `firestore:"transactionId,omitempty"`
	PaymentURL    string     `firestore:"paymentUrl,omitempty"`
	GatewayStatus string     `firestore:"gatewayStatus,omitempty"`
	Message       string     `firestore:"message,omitempty"`
	InitiatedAt   *time.Time `firestore:"initiatedAt,omitempty"`
	PaidAt        *time.Time `firestore:"paidAt,omitempty"`
	FailedAt      *time.Time `firestore:"failedAt,omitempty"`
}

type cancelDetailsDocument struct {
	Reason      string    `firestore:"reason"`
	Notes       string    `firestore:"notes,omitempty"`
	CancelledBy string    `firestore:"cancelledBy"`
	CancelledAt time.Time `firestore:"cancelledAt"`
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:    order.OrderNumber,
		TrackingNumber: order.TrackingNumber,
		UserID:         order.UserID,
		Items:          make([]orderItemDocument, 0, len(order.Items)),
		Subtotal:       order.Subtotal,
		TaxAmount:      order.TaxAmount,
		ShippingFee:    order.ShippingFee,
		TotalAmount:    order.TotalAmount,
		Currency:       order.Currency,
		ShippingAddress: addressDocument{
			FullName:   order.ShippingAddress.FullName,
			Phone:      order.ShippingAddress.Phone,
			Line1:      order.ShippingAddress.Line1,
			Line2:      order.ShippingAddress.Line2,
			City:       order.ShippingAddress.City,
			State:      order.ShippingAddress.State,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
		},
		PaymentMethod:   string(order.PaymentMethod),
		PaymentStatus:   string(order.PaymentStatus),
		Status:          string(order.Status),
		StockAdjustment: string(order.StockAdjustment),
		Payment: orderPaymentDocument{
			TransactionID: order.Payment.TransactionID,
			PaymentURL:    order.Payment.PaymentURL,
			GatewayStatus: order.Payment.GatewayStatus,
			Message:       order.Payment.Message,
			InitiatedAt:   utcPtr(order.Payment.InitiatedAt),
			PaidAt:        utcPtr(order.Payment.PaidAt),
			FailedAt:      utcPtr(order.Payment.FailedAt),
		},
		CouponCode:   order.CouponCode,
		Notes:        order.Notes,
		DeliveryDate: utcPtr(order.DeliveryDate),
		CreatedAt:    order.CreatedAt.UTC(),
		UpdatedAt:    order.UpdatedAt.UTC(),
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			Product:         item.ProductRef,
			Quantity:        item.Quantity,
			PriceAtPurchase: item.PriceAtPurchase,
			Subtotal:        item.Subtotal,
			ProductSnapshot: cloneAnyMap(item.ProductSnapshot),
		})
	}
	if order.CancelDetails != nil {
		doc.CancelDetails = &cancelDetailsDocument{
			Reason:      order.CancelDetails.Reason,
			Notes:       order.CancelDetails.Notes,
			CancelledBy: order.CancelDetails.CancelledBy,
			CancelledAt: order.CancelDetails.CancelledAt.UTC(),
		}
	}
	return doc
}

func decodeOrder(snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.decode", err)
	}
	order := domain.Order{
		ID:             snap.Ref.ID,
		OrderNumber:    doc.OrderNumber,
		TrackingNumber: doc.TrackingNumber,
		UserID:         doc.UserID,
		Items:          make([]domain.OrderItem, 0, len(doc.Items)),
		Subtotal:       doc.Subtotal,
		TaxAmount:      doc.TaxAmount,
		ShippingFee:    doc.ShippingFee,
		TotalAmount:    doc.TotalAmount,
		Currency:       doc.Currency,
		ShippingAddress: domain.Address{
			FullName:   doc.ShippingAddress.FullName,
			Phone:      doc.ShippingAddress.Phone,
			Line1:      doc.ShippingAddress.Line1,
			Line2:      doc.ShippingAddress.Line2,
			City:       doc.ShippingAddress.City,
			State:      doc.ShippingAddress.State,
			PostalCode: doc.ShippingAddress.PostalCode,
			Country:    doc.ShippingAddress.Country,
		},
		PaymentMethod:   domain.PaymentMethod(doc.PaymentMethod),
		PaymentStatus:   domain.PaymentStatus(doc.PaymentStatus),
		Status:          domain.OrderStatus(doc.Status),
		StockAdjustment: domain.StockAdjustment(doc.StockAdjustment),
		Payment: domain.OrderPayment{
			TransactionID: doc.Payment.TransactionID,
			PaymentURL:    doc.Payment.PaymentURL,
			GatewayStatus: doc.Payment.GatewayStatus,
			Message:       doc.Payment.Message,
			InitiatedAt:   utcPtr(doc.Payment.InitiatedAt),
			PaidAt:        utcPtr(doc.Payment.PaidAt),
			FailedAt:      utcPtr(doc.Payment.FailedAt),
		},
		CouponCode:   doc.CouponCode,
		Notes:        doc.Notes,
		DeliveryDate: utcPtr(doc.DeliveryDate),
		CreatedAt:    doc.CreatedAt.UTC(),
		UpdatedAt:    doc.UpdatedAt.UTC(),
	}
	if order.StockAdjustment == "" {
		order.StockAdjustment = domain.StockAdjustmentNone
	}
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductRef:      item.Product,
			Quantity:        item.Quantity,
			PriceAtPurchase: item.PriceAtPurchase,
			Subtotal:        item.Subtotal,
			ProductSnapshot: cloneAnyMap(item.ProductSnapshot),
		})
	}
	if doc.CancelDetails != nil {
		order.CancelDetails = &domain.CancelDetails{
			Reason:      doc.CancelDetails.Reason,
			Notes:       doc.CancelDetails.Notes,
			CancelledBy: doc.CancelDetails.CancelledBy,
			CancelledAt: doc.CancelDetails.CancelledAt.UTC(),
		}
	}
	return order, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}

func cloneAnyMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
