package handlers

import (
	"time"

	"github.com/pawmart/api/internal/services"
)

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type checkoutResponse struct {
	Order      orderPayload `json:"order"`
	PaymentURL string       `json:"payment_url"`
}

type orderListResponse struct {
	Orders []orderPayload `json:"orders"`
}

type orderPayload struct {
	ID              string                `json:"id"`
	OrderNumber     string                `json:"orderNumber"`
	TrackingNumber  string                `json:"trackingNumber"`
	UserID          string                `json:"userId"`
	Items           []orderItemPayload    `json:"items"`
	Subtotal        int64                 `json:"subtotal"`
	TaxAmount       int64                 `json:"taxAmount"`
	ShippingFee     int64                 `json:"shippingFee"`
	TotalAmount     int64                 `json:"totalAmount"`
	Currency        string                `json:"currency"`
	ShippingAddress addressPayload        `json:"shippingAddress"`
	PaymentMethod   string                `json:"paymentMethod"`
	PaymentStatus   string                `json:"paymentStatus"`
	OrderStatus     string                `json:"orderStatus"`
	Payment         *orderPaymentPayload  `json:"payment,omitempty"`
	CancelDetails   *cancelDetailsPayload `json:"cancelDetails,omitempty"`
	CouponCode      string                `json:"couponCode,omitempty"`
	Notes           string                `json:"notes,omitempty"`
	DeliveryDate    string                `json:"deliveryDate,omitempty"`
	CreatedAt       string                `json:"createdAt"`
	UpdatedAt       string                `json:"updatedAt,omitempty"`
}

type orderItemPayload struct {
	ProductID       string         `json:"productId"`
	Quantity        int            `json:"quantity"`
	PriceAtPurchase int64          `json:"priceAtPurchase"`
	Subtotal        int64          `json:"subtotal"`
	ProductSnapshot map[string]any `json:"productSnapshot,omitempty"`
}

type addressPayload struct {
	FullName   string `json:"fullName"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type orderPaymentPayload struct {
	TransactionID string `json:"transactionId,omitempty"`
	PaymentURL    string `json:"paymentUrl,omitempty"`
	GatewayStatus string `json:"gatewayStatus,omitempty"`
	Message       string `json:"message,omitempty"`
	InitiatedAt   string `json:"initiatedAt,omitempty"`
	PaidAt        string `json:"paidAt,omitempty"`
	FailedAt      string `json:"failedAt,omitempty"`
}

type cancelDetailsPayload struct {
	Reason      string `json:"reason"`
	Notes       string `json:"notes,omitempty"`
	CancelledBy string `json:"cancelledBy"`
	CancelledAt string `json:"cancelledAt"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:             order.ID,
		OrderNumber:    order.OrderNumber,
		TrackingNumber: order.TrackingNumber,
		UserID:         order.UserID,
		Items:          make([]orderItemPayload, 0, len(order.Items)),
		Subtotal:       order.Subtotal,
		TaxAmount:      order.TaxAmount,
		ShippingFee:    order.ShippingFee,
		TotalAmount:    order.TotalAmount,
		Currency:       order.Currency,
		ShippingAddress: addressPayload{
			FullName:   order.ShippingAddress.FullName,
			Phone:      order.ShippingAddress.Phone,
			Line1:      order.ShippingAddress.Line1,
			Line2:      order.ShippingAddress.Line2,
			City:       order.ShippingAddress.City,
			State:      order.ShippingAddress.State,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
		},
		PaymentMethod: string(order.PaymentMethod),
		PaymentStatus: string(order.PaymentStatus),
		OrderStatus:   string(order.Status),
		CouponCode:    order.CouponCode,
		Notes:         order.Notes,
		DeliveryDate:  formatTime(order.DeliveryDate),
		CreatedAt:     formatTime(&order.CreatedAt),
		UpdatedAt:     formatTime(&order.UpdatedAt),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:       item.ProductRef,
			Quantity:        item.Quantity,
			PriceAtPurchase: item.PriceAtPurchase,
			Subtotal:        item.Subtotal,
			ProductSnapshot: item.ProductSnapshot,
		})
	}

	p := order.Payment
	if p.TransactionID != "" || p.PaymentURL != "" || p.GatewayStatus != "" || p.InitiatedAt != nil {
		payload.Payment = &orderPaymentPayload{
			TransactionID: p.TransactionID,
			PaymentURL:    p.PaymentURL,
			GatewayStatus: p.GatewayStatus,
			Message:       p.Message,
			InitiatedAt:   formatTime(p.InitiatedAt),
			PaidAt:        formatTime(p.PaidAt),
			FailedAt:      formatTime(p.FailedAt),
		}
	}

	if c := order.CancelDetails; c != nil {
		payload.CancelDetails = &cancelDetailsPayload{
			Reason:      c.Reason,
			Notes:       c.Notes,
			CancelledBy: c.CancelledBy,
			CancelledAt: formatTime(&c.CancelledAt),
		}
	}
	return payload
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
