package services

import (
	"fmt"
	"strings"
	"time"

	domain "github.com/pawmart/api/internal/domain"
)

const (
	defaultDeliveryLead = 72 * time.Hour
	gatewayStatusPaid   = "success"
	gatewayStatusFailed = "failure"
	systemActor         = "system"
	refundDueMessage    = "paid after cancellation, refund due"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	domain.OrderStatusPendingPayment: {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing:     {domain.OrderStatusConfirmed, domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:      {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:        {domain.OrderStatusDelivered, domain.OrderStatusReturned, domain.OrderStatusCancelled},
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	domain.PaymentStatusPending:   {domain.PaymentStatusInitiated, domain.PaymentStatusPaid, domain.PaymentStatusFailed},
	domain.PaymentStatusInitiated: {domain.PaymentStatusPaid, domain.PaymentStatusFailed},
	domain.PaymentStatusPaid:      {domain.PaymentStatusRefunded},
}

var knownOrderStatuses = map[OrderStatus]struct{}{
	domain.OrderStatusPendingPayment: {},
	domain.OrderStatusProcessing:     {},
	domain.OrderStatusConfirmed:      {},
	domain.OrderStatusShipped:        {},
	domain.OrderStatusDelivered:      {},
	domain.OrderStatusCancelled:      {},
	domain.OrderStatusReturned:       {},
}

// OrderLifecycle owns every status mutation of an order and the stock adjustment ledger that goes with it.
// Methods mutate the order in place and return the stock lines the caller must give back, if any.
type OrderLifecycle struct {
	deliveryLead time.Duration
}

// NewOrderLifecycle returns a lifecycle using the default delivery estimate for shipped orders.
func NewOrderLifecycle() OrderLifecycle {
	return OrderLifecycle{deliveryLead: defaultDeliveryLead}
}

// CanTransition reports whether the order track allows moving from one status to another.
func CanTransition(from, to OrderStatus) bool {
	for _, allowed := range orderTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func canTransitionPayment(from, to PaymentStatus) bool {
	for _, allowed := range paymentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// InitialState returns the statuses a freshly placed order starts in.
func (OrderLifecycle) InitialState(method PaymentMethod) (OrderStatus, PaymentStatus, error) {
	switch method {
	case domain.PaymentMethodCOD:
		return domain.OrderStatusProcessing, domain.PaymentStatusPending, nil
	case domain.PaymentMethodOnline:
		return domain.OrderStatusPendingPayment, domain.PaymentStatusPending, nil
	default:
		return "", "", fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, method)
	}
}

// Cancel moves the order to cancelled on behalf of actor. Paid orders become refunded.
func (l OrderLifecycle) Cancel(order *Order, reason, notes, actor string, now time.Time) ([]StockLine, error) {
	if order == nil {
		return nil, fmt.Errorf("%w: order is required", ErrOrderInvalidInput)
	}
	verr := &ValidationError{}
	cleanReason, ok := sanitizeText(reason, maxCancelReasonLength)
	switch {
	case cleanReason == "":
		verr.add("reason", "is required")
	case !ok:
		verr.add("reason", fmt.Sprintf("must be at most %d characters", maxCancelReasonLength))
	}
	cleanNotes, ok := sanitizeText(notes, maxNotesLength)
	if !ok {
		verr.add("notes", fmt.Sprintf("must be at most %d characters", maxNotesLength))
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}
	if !CanTransition(order.Status, domain.OrderStatusCancelled) {
		return nil, fmt.Errorf("%w: cannot cancel order in status %s", ErrOrderInvalidState, order.Status)
	}

	order.Status = domain.OrderStatusCancelled
	if order.PaymentStatus == domain.PaymentStatusPaid {
		order.PaymentStatus = domain.PaymentStatusRefunded
	}
	order.CancelDetails = &domain.CancelDetails{
		Reason:      cleanReason,
		Notes:       cleanNotes,
		CancelledBy: strings.TrimSpace(actor),
		CancelledAt: now,
	}
	order.UpdatedAt = now
	return releaseStock(order), nil
}

// UpdateStatus moves the order along the fulfilment track. Cancellation goes through Cancel so the refund
// and stock rules still apply. Only a settled payment takes an online order out of pending_payment.
func (l OrderLifecycle) UpdateStatus(order *Order, target OrderStatus, deliveryDate *time.Time, actor, reason string, now time.Time) ([]StockLine, error) {
	if order == nil {
		return nil, fmt.Errorf("%w: order is required", ErrOrderInvalidInput)
	}
	target = OrderStatus(strings.ToLower(strings.TrimSpace(string(target))))
	if _, ok := knownOrderStatuses[target]; !ok {
		return nil, &ValidationError{Fields: map[string]string{"status": fmt.Sprintf("unknown status %q", target)}}
	}
	if target == domain.OrderStatusCancelled {
		if strings.TrimSpace(reason) == "" {
			reason = "cancelled by staff"
		}
		return l.Cancel(order, reason, "", actor, now)
	}
	if order.Status == domain.OrderStatusPendingPayment {
		return nil, fmt.Errorf("%w: order is awaiting payment", ErrOrderInvalidState)
	}
	if !CanTransition(order.Status, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, order.Status, target)
	}

	order.Status = target
	switch {
	case deliveryDate != nil:
		d := deliveryDate.UTC()
		order.DeliveryDate = &d
	case target == domain.OrderStatusShipped && order.DeliveryDate == nil:
		d := now.Add(l.deliveryLead)
		order.DeliveryDate = &d
	}
	order.UpdatedAt = now
	return nil, nil
}

// MarkPaymentInitiated records an issued payment link. Re-issuing a link for an initiated order is allowed.
func (OrderLifecycle) MarkPaymentInitiated(order *Order, paymentURL, transactionID string, now time.Time) error {
	if order == nil {
		return fmt.Errorf("%w: order is required", ErrOrderInvalidInput)
	}
	if order.PaymentMethod != domain.PaymentMethodOnline {
		return fmt.Errorf("%w: order is not paid online", ErrOrderInvalidState)
	}
	if order.Status != domain.OrderStatusPendingPayment {
		return fmt.Errorf("%w: order status is %s", ErrOrderInvalidState, order.Status)
	}
	if order.PaymentStatus != domain.PaymentStatusInitiated && !canTransitionPayment(order.PaymentStatus, domain.PaymentStatusInitiated) {
		return fmt.Errorf("%w: payment status is %s", ErrOrderInvalidState, order.PaymentStatus)
	}
	order.PaymentStatus = domain.PaymentStatusInitiated
	order.Payment.PaymentURL = paymentURL
	order.Payment.TransactionID = transactionID
	order.Payment.Message = ""
	initiated := now
	order.Payment.InitiatedAt = &initiated
	order.UpdatedAt = now
	return nil
}

// ApplyPaymentResult settles the payment side of an online order. Applying the result the order already
// carries is a no-op and reports changed == false. A result that contradicts the settled state is a conflict.
// A success for an order cancelled in the meantime is recorded as refunded and leaves the order cancelled.
func (OrderLifecycle) ApplyPaymentResult(order *Order, success bool, transactionID, message string, now time.Time) (bool, []StockLine, error) {
	if order == nil {
		return false, nil, fmt.Errorf("%w: order is required", ErrOrderInvalidInput)
	}
	if order.PaymentMethod != domain.PaymentMethodOnline {
		return false, nil, fmt.Errorf("%w: order is not paid online", ErrOrderInvalidState)
	}

	if success {
		switch order.PaymentStatus {
		case domain.PaymentStatusPaid:
			return false, nil, nil
		case domain.PaymentStatusFailed:
			return false, nil, fmt.Errorf("%w: payment already %s", ErrOrderConflict, order.PaymentStatus)
		case domain.PaymentStatusRefunded:
			if order.Payment.GatewayStatus == gatewayStatusPaid {
				return false, nil, nil
			}
			return false, nil, fmt.Errorf("%w: payment already %s", ErrOrderConflict, order.PaymentStatus)
		}
		if order.Status == domain.OrderStatusCancelled {
			// Money arrived for an order that no longer exists; it is owed back.
			order.PaymentStatus = domain.PaymentStatusRefunded
			order.Payment.GatewayStatus = gatewayStatusPaid
			order.Payment.Message = refundDueMessage
			if transactionID != "" {
				order.Payment.TransactionID = transactionID
			}
			paid := now
			order.Payment.PaidAt = &paid
			order.UpdatedAt = now
			return true, nil, nil
		}
		if order.Status != domain.OrderStatusPendingPayment {
			return false, nil, fmt.Errorf("%w: order is %s", ErrOrderConflict, order.Status)
		}
		order.PaymentStatus = domain.PaymentStatusPaid
		order.Status = domain.OrderStatusProcessing
		order.Payment.GatewayStatus = gatewayStatusPaid
		order.Payment.Message = strings.TrimSpace(message)
		if transactionID != "" {
			order.Payment.TransactionID = transactionID
		}
		paid := now
		order.Payment.PaidAt = &paid
		order.UpdatedAt = now
		return true, nil, nil
	}

	switch order.PaymentStatus {
	case domain.PaymentStatusFailed:
		return false, nil, nil
	case domain.PaymentStatusPaid, domain.PaymentStatusRefunded:
		return false, nil, fmt.Errorf("%w: payment already %s", ErrOrderConflict, order.PaymentStatus)
	}
	order.PaymentStatus = domain.PaymentStatusFailed
	order.Payment.GatewayStatus = gatewayStatusFailed
	order.Payment.Message = strings.TrimSpace(message)
	if transactionID != "" {
		order.Payment.TransactionID = transactionID
	}
	failed := now
	order.Payment.FailedAt = &failed
	if order.Status != domain.OrderStatusCancelled {
		order.Status = domain.OrderStatusCancelled
		reason := "payment failed"
		if order.Payment.Message != "" {
			reason = reason + ": " + order.Payment.Message
		}
		if len(reason) > maxCancelReasonLength {
			reason = reason[:maxCancelReasonLength]
		}
		order.CancelDetails = &domain.CancelDetails{Reason: reason, CancelledBy: systemActor, CancelledAt: now}
	}
	order.UpdatedAt = now
	return true, releaseStock(order), nil
}

// releaseStock flips the ledger to restored and returns the lines to give back. It returns nil when the order
// holds no reserved stock, so stock is restored at most once per order.
func releaseStock(order *Order) []StockLine {
	if order.StockAdjustment != domain.StockAdjustmentReserved {
		return nil
	}
	order.StockAdjustment = domain.StockAdjustmentRestored
	return order.StockLines()
}
