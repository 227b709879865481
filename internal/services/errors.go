package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located for the caller.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates a duplicate or conflicting concurrent update.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderInvalidState indicates the order cannot move to the requested state.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderPaymentInFlight blocks cancellation while a payment may still settle.
	ErrOrderPaymentInFlight = errors.New("order: payment settlement in progress")
	// ErrOrderEmptyCart indicates checkout was attempted with no cart items.
	ErrOrderEmptyCart = errors.New("order: cart is empty")
	// ErrOrderProductNotFound indicates a cart line references an unknown product.
	ErrOrderProductNotFound = errors.New("order: product not found")
	// ErrOrderUnavailable indicates the backing store is temporarily unreachable.
	ErrOrderUnavailable = errors.New("order: repository unavailable")
	// ErrIdentifierExhausted indicates no free identifier was found within the attempt budget.
	ErrIdentifierExhausted = errors.New("order: identifier attempts exhausted")
	// ErrInventoryInsufficientStock indicates one or more products lack stock.
	ErrInventoryInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrPaymentRejected indicates the gateway refused the payment request.
	ErrPaymentRejected = errors.New("payment: rejected by gateway")
	// ErrPaymentUnavailable indicates the gateway could not be reached.
	ErrPaymentUnavailable = errors.New("payment: gateway unavailable")
	// ErrCallbackIntegrity indicates a callback failed signature or amount verification.
	ErrCallbackIntegrity = errors.New("payment: callback integrity check failed")
)

// StockShortage reports one product that cannot cover the requested quantity.
type StockShortage struct {
	ProductRef string `json:"productId"`
	Available  int    `json:"available"`
	Requested  int    `json:"requested"`
}

// OutOfStockError lists every short product of a failed reservation.
type OutOfStockError struct {
	Items []StockShortage
}

func (e *OutOfStockError) Error() string {
	if e == nil || len(e.Items) == 0 {
		return ErrInventoryInsufficientStock.Error()
	}
	parts := make([]string, 0, len(e.Items))
	for _, item := range e.Items {
		parts = append(parts, fmt.Sprintf("%s (available %d, requested %d)", item.ProductRef, item.Available, item.Requested))
	}
	return fmt.Sprintf("%s: %s", ErrInventoryInsufficientStock, strings.Join(parts, "; "))
}

func (e *OutOfStockError) Unwrap() error { return ErrInventoryInsufficientStock }

// ValidationError carries field level messages. It unwraps to ErrOrderInvalidInput.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = message
	}
}

func (e *ValidationError) orNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("%s: %s", ErrOrderInvalidInput, strings.Join(parts, ", "))
}

func (e *ValidationError) Unwrap() error { return ErrOrderInvalidInput }

// PaymentGatewayError reports a failed initiation after the order was compensated.
type PaymentGatewayError struct {
	OrderID string
	Message string
	cause   error
}

func (e *PaymentGatewayError) Error() string {
	return fmt.Sprintf("%s: %s", e.cause, e.Message)
}

// Unwrap returns ErrPaymentRejected or ErrPaymentUnavailable.
func (e *PaymentGatewayError) Unwrap() error { return e.cause }

// NewPaymentGatewayError builds a gateway failure for orderID. cause should be ErrPaymentRejected or
// ErrPaymentUnavailable; anything else is treated as unavailable.
func NewPaymentGatewayError(orderID, message string, cause error) *PaymentGatewayError {
	if !errors.Is(cause, ErrPaymentRejected) {
		cause = ErrPaymentUnavailable
	}
	return &PaymentGatewayError{OrderID: orderID, Message: message, cause: cause}
}
