package repositories

import "fmt"

// InventoryErrorCode enumerates repository error causes for stock operations.
type InventoryErrorCode string

const (
	// InventoryErrorUnknown represents an unspecified failure.
	InventoryErrorUnknown InventoryErrorCode = "inventory_unknown"
	// InventoryErrorInsufficientStock indicates requested quantity exceeds availability.
	InventoryErrorInsufficientStock InventoryErrorCode = "inventory_insufficient_stock"
	// InventoryErrorProductNotFound indicates the product document is missing.
	InventoryErrorProductNotFound InventoryErrorCode = "inventory_product_not_found"
)

// StockShortage describes one product whose stock cannot cover the requested quantity.
type StockShortage struct {
	ProductRef string
	Available  int
	Requested  int
}

// InventoryError wraps stock failures with machine readable codes.
type InventoryError struct {
	Op        string
	Code      InventoryErrorCode
	Message   string
	Shortages []StockShortage
	Err       error
}

// Error implements the error interface.
func (e *InventoryError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *InventoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewInventoryError constructs a typed inventory error.
func NewInventoryError(code InventoryErrorCode, message string, err error) *InventoryError {
	if message == "" {
		message = string(code)
	}
	return &InventoryError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewInsufficientStockError reports every shortage found in a single reservation attempt.
func NewInsufficientStockError(op string, shortages []StockShortage) *InventoryError {
	copied := make([]StockShortage, len(shortages))
	copy(copied, shortages)
	return &InventoryError{
		Op:        op,
		Code:      InventoryErrorInsufficientStock,
		Message:   fmt.Sprintf("insufficient stock for %d product(s)", len(copied)),
		Shortages: copied,
	}
}
