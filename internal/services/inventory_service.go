package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pawmart/api/internal/repositories"
)

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Products repositories.ProductRepository
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	products repositories.ProductRepository
	logger   func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory service: product repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &inventoryService{products: deps.Products, logger: logger}, nil
}

// Reserve decrements stock for every line or for none. Shortages surface as *OutOfStockError.
func (s *inventoryService) Reserve(ctx context.Context, lines []StockLine) error {
	merged, err := mergeStockLines(lines)
	if err != nil {
		return err
	}
	if err := s.products.ReserveStock(ctx, merged); err != nil {
		return s.mapInventoryError(ctx, err)
	}
	return nil
}

// Restore gives stock back. Callers guard against repeats with the order's stock adjustment flag.
func (s *inventoryService) Restore(ctx context.Context, lines []StockLine) error {
	merged, err := mergeStockLines(lines)
	if err != nil {
		return err
	}
	if len(merged) == 0 {
		return nil
	}
	if err := s.products.RestoreStock(ctx, merged); err != nil {
		return s.mapInventoryError(ctx, err)
	}
	return nil
}

func (s *inventoryService) mapInventoryError(ctx context.Context, err error) error {
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			out := &OutOfStockError{Items: make([]StockShortage, 0, len(invErr.Shortages))}
			for _, shortage := range invErr.Shortages {
				out.Items = append(out.Items, StockShortage{
					ProductRef: shortage.ProductRef,
					Available:  shortage.Available,
					Requested:  shortage.Requested,
				})
			}
			s.logger(ctx, "inventory.reserve.insufficient", map[string]any{"items": len(out.Items)})
			return out
		case repositories.InventoryErrorProductNotFound:
			return fmt.Errorf("%w: %s", ErrOrderProductNotFound, invErr.Message)
		}
	}
	return mapRepositoryError(err)
}

// mergeStockLines sums duplicate product lines and orders them by product for stable lock ordering.
func mergeStockLines(lines []StockLine) ([]StockLine, error) {
	totals := make(map[string]int, len(lines))
	for _, line := range lines {
		ref := strings.TrimSpace(line.ProductRef)
		if ref == "" {
			return nil, fmt.Errorf("%w: stock line product is required", ErrOrderInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrOrderInvalidInput, ref)
		}
		totals[ref] += line.Quantity
	}
	merged := make([]StockLine, 0, len(totals))
	for ref, qty := range totals {
		merged = append(merged, StockLine{ProductRef: ref, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductRef < merged[j].ProductRef })
	return merged, nil
}

// mapRepositoryError translates repository categories into service sentinels.
func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return err
}
