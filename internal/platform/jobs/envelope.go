// Package jobs delivers order domain events to downstream consumers.
package jobs

import (
	"strings"
	"time"

	"github.com/pawmart/api/internal/services"
)

// eventEnvelope is the wire shape shared by every transport.
type eventEnvelope struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	OrderNumber    string         `json:"orderNumber,omitempty"`
	UserID         string         `json:"userId,omitempty"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus,omitempty"`
	PaymentStatus  string         `json:"paymentStatus,omitempty"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func newEnvelope(event services.OrderEvent) eventEnvelope {
	return eventEnvelope{
		Type:           event.Type,
		OrderID:        event.OrderID,
		OrderNumber:    event.OrderNumber,
		UserID:         event.UserID,
		PreviousStatus: event.PreviousStatus,
		CurrentStatus:  event.CurrentStatus,
		PaymentStatus:  event.PaymentStatus,
		ActorID:        event.ActorID,
		OccurredAt:     event.OccurredAt.UTC(),
		Metadata:       event.Metadata,
	}
}

func eventAttributes(event services.OrderEvent) map[string]string {
	attrs := make(map[string]string, 4)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "orderNumber", event.OrderNumber)
	setAttr(attrs, "status", event.CurrentStatus)
	return attrs
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
