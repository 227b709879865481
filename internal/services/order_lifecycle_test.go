package services

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/pawmart/api/internal/domain"
)

var lifecycleNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func reservedOnlineOrder() Order {
	return Order{
		ID:              "ord_1",
		PaymentMethod:   domain.PaymentMethodOnline,
		PaymentStatus:   domain.PaymentStatusPending,
		Status:          domain.OrderStatusPendingPayment,
		StockAdjustment: domain.StockAdjustmentReserved,
		Items:           []OrderItem{{ProductRef: "prod_a", Quantity: 3}, {ProductRef: "prod_b", Quantity: 1}},
	}
}

func TestInitialState(t *testing.T) {
	l := NewOrderLifecycle()

	status, payment, err := l.InitialState(domain.PaymentMethodCOD)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusProcessing, status)
	require.Equal(t, domain.PaymentStatusPending, payment)

	status, payment, err = l.InitialState(domain.PaymentMethodOnline)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPendingPayment, status)
	require.Equal(t, domain.PaymentStatusPending, payment)

	_, _, err = l.InitialState("barter")
	require.ErrorIs(t, err, ErrOrderInvalidInput)
}

func TestCancelRestoresStockOnce(t *testing.T) {
	l := NewOrderLifecycle()
	order := reservedOnlineOrder()
	order.Status = domain.OrderStatusProcessing
	order.PaymentStatus = domain.PaymentStatusPaid

	lines, err := l.Cancel(&order, "  <b>changed</b> my mind ", "", "user_1", lifecycleNow)
	require.NoError(t, err)
	require.Equal(t, []StockLine{{ProductRef: "prod_a", Quantity: 3}, {ProductRef: "prod_b", Quantity: 1}}, lines)
	require.Equal(t, domain.OrderStatusCancelled, order.Status)
	require.Equal(t, domain.PaymentStatusRefunded, order.PaymentStatus)
	require.Equal(t, domain.StockAdjustmentRestored, order.StockAdjustment)
	require.NotNil(t, order.CancelDetails)
	require.Equal(t, "changed my mind", order.CancelDetails.Reason)
	require.Equal(t, "user_1", order.CancelDetails.CancelledBy)

	_, err = l.Cancel(&order, "again", "", "user_1", lifecycleNow)
	require.ErrorIs(t, err, ErrOrderInvalidState)
}

func TestCancelValidation(t *testing.T) {
	l := NewOrderLifecycle()
	order := reservedOnlineOrder()

	_, err := l.Cancel(&order, "   ", "", "user_1", lifecycleNow)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Fields, "reason")

	_, err = l.Cancel(&order, strings.Repeat("x", maxCancelReasonLength+1), "", "user_1", lifecycleNow)
	require.ErrorIs(t, err, ErrOrderInvalidInput)
	require.Equal(t, domain.OrderStatusPendingPayment, order.Status)
}

func TestCancelRejectedForTerminalStatuses(t *testing.T) {
	l := NewOrderLifecycle()
	for _, status := range []OrderStatus{domain.OrderStatusDelivered, domain.OrderStatusReturned, domain.OrderStatusCancelled} {
		order := reservedOnlineOrder()
		order.Status = status
		_, err := l.Cancel(&order, "reason", "", "user_1", lifecycleNow)
		require.ErrorIs(t, err, ErrOrderInvalidState, status)
		require.Equal(t, domain.StockAdjustmentReserved, order.StockAdjustment)
	}
}

func TestUpdateStatusShippedSetsDeliveryDate(t *testing.T) {
	l := NewOrderLifecycle()
	order := reservedOnlineOrder()
	order.Status = domain.OrderStatusConfirmed

	lines, err := l.UpdateStatus(&order, "Shipped", nil, "staff_1", "", lifecycleNow)
	require.NoError(t, err)
	require.Nil(t, lines)
	require.Equal(t, domain.OrderStatusShipped, order.Status)
	require.NotNil(t, order.DeliveryDate)
	require.Equal(t, lifecycleNow.Add(72*time.Hour), *order.DeliveryDate)

	_, err = l.UpdateStatus(&order, domain.OrderStatusConfirmed, nil, "staff_1", "", lifecycleNow)
	require.ErrorIs(t, err, ErrOrderInvalidState)

	_, err = l.UpdateStatus(&order, "lost", nil, "staff_1", "", lifecycleNow)
	require.ErrorIs(t, err, ErrOrderInvalidInput)
}

func TestUpdateStatusCancelledUsesCancelRules(t *testing.T) {
	l := NewOrderLifecycle()
	order := reservedOnlineOrder()
	order.Status = domain.OrderStatusShipped

	lines, err := l.UpdateStatus(&order, domain.OrderStatusCancelled, nil, "staff_1", "", lifecycleNow)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.Equal(t, "cancelled by staff", order.CancelDetails.Reason)
	require.Equal(t, "staff_1", order.CancelDetails.CancelledBy)
}

func TestMarkPaymentInitiated(t *testing.T) {
	l := NewOrderLifecycle()
	order := reservedOnlineOrder()

	require.NoError(t, l.MarkPaymentInitiated(&order, "https://pay/x", "ORD-1", lifecycleNow))
	require.Equal(t, domain.PaymentStatusInitiated, order.PaymentStatus)
	require.Equal(t, "https://pay/x", order.Payment.PaymentURL)
	require.Equal(t, lifecycleNow, *order.Payment.InitiatedAt)

	later := lifecycleNow.Add(time.Minute)
	require.NoError(t, l.MarkPaymentInitiated(&order, "https://pay/y", "ORD-1", later))
	require.Equal(t, later, *order.Payment.InitiatedAt)

	cod := reservedOnlineOrder()
	cod.PaymentMethod = domain.PaymentMethodCOD
	require.ErrorIs(t, l.MarkPaymentInitiated(&cod, "u", "t", lifecycleNow), ErrOrderInvalidState)
}

func TestApplyPaymentResultSuccessIsIdempotent(t *testing.T) {
	l := NewOrderLifecycle()
	order := reservedOnlineOrder()
	order.PaymentStatus = domain.PaymentStatusInitiated

	changed, lines, err := l.ApplyPaymentResult(&order, true, "gw_1", "", lifecycleNow)
	require.NoError(t, err)
	require.True(t, changed)
	require.Nil(t, lines)
	require.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)
	require.Equal(t, domain.OrderStatusProcessing, order.Status)
	require.Equal(t, domain.StockAdjustmentReserved, order.StockAdjustment)

	changed, _, err = l.ApplyPaymentResult(&order, true, "gw_1", "", lifecycleNow)
	require.NoError(t, err)
	require.False(t, changed)

	_, _, err = l.ApplyPaymentResult(&order, false, "gw_1", "declined", lifecycleNow)
	require.ErrorIs(t, err, ErrOrderConflict)
	require.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)
}

func TestApplyPaymentResultFailureRestoresOnce(t *testing.T) {
	l := NewOrderLifecycle()
	order := reservedOnlineOrder()
	order.PaymentStatus = domain.PaymentStatusInitiated

	changed, lines, err := l.ApplyPaymentResult(&order, false, "", "card declined", lifecycleNow)
	require.NoError(t, err)
	require.True(t, changed)
	require.Len(t, lines, 2)
	require.Equal(t, domain.PaymentStatusFailed, order.PaymentStatus)
	require.Equal(t, domain.OrderStatusCancelled, order.Status)
	require.Equal(t, "payment failed: card declined", order.CancelDetails.Reason)

	changed, lines, err = l.ApplyPaymentResult(&order, false, "", "card declined", lifecycleNow)
	require.NoError(t, err)
	require.False(t, changed)
	require.Nil(t, lines)

	_, _, err = l.ApplyPaymentResult(&order, true, "", "", lifecycleNow)
	require.ErrorIs(t, err, ErrOrderConflict)
}

func TestApplyPaymentResultAfterUserCancellation(t *testing.T) {
	l := NewOrderLifecycle()
	order := reservedOnlineOrder()
	order.PaymentStatus = domain.PaymentStatusInitiated
	_, err := l.Cancel(&order, "too slow", "", "user_1", lifecycleNow)
	require.NoError(t, err)

	changed, lines, err := l.ApplyPaymentResult(&order, false, "", "expired", lifecycleNow)
	require.NoError(t, err)
	require.True(t, changed)
	require.Nil(t, lines)
	require.Equal(t, "too slow", order.CancelDetails.Reason)

	_, _, err = l.ApplyPaymentResult(&order, true, "", "", lifecycleNow)
	require.ErrorIs(t, err, ErrOrderConflict)
}

func TestApplyPaymentResultPaidAfterCancellationIsRefundDue(t *testing.T) {
	l := NewOrderLifecycle()
	order := reservedOnlineOrder()
	order.PaymentStatus = domain.PaymentStatusInitiated
	lines, err := l.Cancel(&order, "changed my mind", "", "user_1", lifecycleNow)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	paidAt := lifecycleNow.Add(45 * time.Minute)
	changed, lines, err := l.ApplyPaymentResult(&order, true, "gw_9", "", paidAt)
	require.NoError(t, err)
	require.True(t, changed)
	require.Nil(t, lines, "stock was already given back by the cancellation")
	require.Equal(t, domain.OrderStatusCancelled, order.Status)
	require.Equal(t, domain.PaymentStatusRefunded, order.PaymentStatus)
	require.Equal(t, "success", order.Payment.GatewayStatus)
	require.Equal(t, "gw_9", order.Payment.TransactionID)
	require.Equal(t, paidAt, *order.Payment.PaidAt)
	require.Equal(t, domain.StockAdjustmentRestored, order.StockAdjustment)

	changed, _, err = l.ApplyPaymentResult(&order, true, "gw_9", "", paidAt)
	require.NoError(t, err)
	require.False(t, changed)

	_, _, err = l.ApplyPaymentResult(&order, false, "gw_9", "declined", paidAt)
	require.ErrorIs(t, err, ErrOrderConflict)
}

func TestUpdateStatusRejectsUnpaidOnlineOrder(t *testing.T) {
	l := NewOrderLifecycle()
	for _, target := range []OrderStatus{domain.OrderStatusProcessing, domain.OrderStatusConfirmed, domain.OrderStatusShipped} {
		order := reservedOnlineOrder()
		order.PaymentStatus = domain.PaymentStatusInitiated

		_, err := l.UpdateStatus(&order, target, nil, "staff_1", "", lifecycleNow)
		require.ErrorIs(t, err, ErrOrderInvalidState, string(target))
		require.Equal(t, domain.OrderStatusPendingPayment, order.Status)
	}

	order := reservedOnlineOrder()
	lines, err := l.UpdateStatus(&order, domain.OrderStatusCancelled, nil, "staff_1", "", lifecycleNow)
	require.NoError(t, err)
	require.Len(t, lines, 2)
}

func TestCanTransitionTable(t *testing.T) {
	require.True(t, CanTransition(domain.OrderStatusPendingPayment, domain.OrderStatusProcessing))
	require.False(t, CanTransition(domain.OrderStatusPendingPayment, domain.OrderStatusShipped))
	require.True(t, CanTransition(domain.OrderStatusShipped, domain.OrderStatusReturned))
	require.False(t, CanTransition(domain.OrderStatusDelivered, domain.OrderStatusCancelled))
	require.True(t, canTransitionPayment(domain.PaymentStatusPaid, domain.PaymentStatusRefunded))
	require.False(t, canTransitionPayment(domain.PaymentStatusFailed, domain.PaymentStatusPaid))
}
