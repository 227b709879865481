//go:build integration

package firestore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/pawmart/api/internal/domain"
	"github.com/pawmart/api/internal/repositories"
)

func TestRegistryCheckoutFlowIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "orders-test")
	reg, err := NewRegistry(provider)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("provider client: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	if _, err := client.Collection(productsCollection).Doc("prod_collar").Set(ctx, map[string]any{
		"name": "Collar", "price": int64(2000), "stock": 5, "createdAt": now, "updatedAt": now,
	}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	if _, err := client.Collection(cartCollection).Doc("user_1").Set(ctx, map[string]any{
		"items":     []map[string]any{{"product": "prod_collar", "quantity": 3}},
		"updatedAt": now,
	}); err != nil {
		t.Fatalf("seed cart: %v", err)
	}

	order := domain.Order{
		ID:              "ord_1",
		OrderNumber:     "ORD-1700000000000-0042",
		TrackingNumber:  "ABCDEF123456",
		UserID:          "user_1",
		Items:           []domain.OrderItem{{ProductRef: "prod_collar", Quantity: 3, PriceAtPurchase: 2000, Subtotal: 6000}},
		Subtotal:        6000,
		TaxAmount:       600,
		ShippingFee:     500,
		TotalAmount:     7100,
		Currency:        "INR",
		PaymentMethod:   domain.PaymentMethodCOD,
		PaymentStatus:   domain.PaymentStatusPending,
		Status:          domain.OrderStatusProcessing,
		StockAdjustment: domain.StockAdjustmentReserved,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = reg.RunInTx(ctx, func(txCtx context.Context) error {
		cart, err := reg.Carts().GetCart(txCtx, "user_1")
		if err != nil {
			return err
		}
		if len(cart.Items) != 1 {
			t.Errorf("expected one cart item, got %d", len(cart.Items))
		}
		if exists, err := reg.Orders().OrderNumberExists(txCtx, order.OrderNumber); err != nil || exists {
			t.Errorf("expected order number to be free, exists=%v err=%v", exists, err)
		}
		if err := reg.Products().ReserveStock(txCtx, order.StockLines()); err != nil {
			return err
		}
		if err := reg.Orders().Insert(txCtx, order); err != nil {
			return err
		}
		return reg.Carts().ClearCart(txCtx, "user_1")
	})
	if err != nil {
		t.Fatalf("checkout transaction: %v", err)
	}

	products, err := reg.Products().FindByIDs(ctx, []string{"prod_collar"})
	if err != nil {
		t.Fatalf("find products: %v", err)
	}
	if got := products["prod_collar"].Stock; got != 2 {
		t.Fatalf("expected stock 2 after reservation, got %d", got)
	}

	err = reg.Products().ReserveStock(ctx, order.StockLines())
	var invErr *repositories.InventoryError
	if !errors.As(err, &invErr) || invErr.Code != repositories.InventoryErrorInsufficientStock {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	if len(invErr.Shortages) != 1 || invErr.Shortages[0].Available != 2 || invErr.Shortages[0].Requested != 3 {
		t.Fatalf("unexpected shortages %+v", invErr.Shortages)
	}

	byNumber, err := reg.Orders().FindByOrderNumber(ctx, order.OrderNumber)
	if err != nil {
		t.Fatalf("find by number: %v", err)
	}
	if byNumber.ID != "ord_1" || byNumber.TotalAmount != 7100 {
		t.Fatalf("unexpected order %+v", byNumber)
	}
	if exists, err := reg.Orders().TrackingNumberExists(ctx, order.TrackingNumber); err != nil || !exists {
		t.Fatalf("expected tracking number to exist, exists=%v err=%v", exists, err)
	}
	list, err := reg.Orders().ListByUser(ctx, repositories.OrderListFilter{UserID: "user_1", Limit: 10})
	if err != nil {
		t.Fatalf("list by user: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one order, got %d", len(list))
	}

	cart, err := reg.Carts().GetCart(ctx, "user_1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(cart.Items) != 0 {
		t.Fatalf("expected cleared cart, got %+v", cart.Items)
	}

	if err := reg.Products().RestoreStock(ctx, order.StockLines()); err != nil {
		t.Fatalf("restore stock: %v", err)
	}
	products, err = reg.Products().FindByIDs(ctx, []string{"prod_collar"})
	if err != nil {
		t.Fatalf("find products: %v", err)
	}
	if got := products["prod_collar"].Stock; got != 5 {
		t.Fatalf("expected stock 5 after restore, got %d", got)
	}

	_, err = reg.Orders().FindByTrackingNumber(ctx, "NOPE00000000")
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}

	report, err := reg.Health().Collect(ctx)
	if err != nil {
		t.Fatalf("health collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok health, got %s", report.Status)
	}
}

func TestRegistryLastUnitReservedOnceIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "orders-contention-test")
	reg, err := NewRegistry(provider)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("provider client: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	if _, err := client.Collection(productsCollection).Doc("prod_bowl").Set(ctx, map[string]any{
		"name": "Bowl", "price": int64(900), "stock": 1, "createdAt": now, "updatedAt": now,
	}); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	lines := []domain.StockLine{{ProductRef: "prod_bowl", Quantity: 1}}
	start := make(chan struct{})
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = reg.RunInTx(ctx, func(txCtx context.Context) error {
				return reg.Products().ReserveStock(txCtx, lines)
			})
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var invErr *repositories.InventoryError
		var repoErr repositories.RepositoryError
		switch {
		case errors.As(err, &invErr) && invErr.Code == repositories.InventoryErrorInsufficientStock:
		case errors.As(err, &repoErr) && repoErr.IsConflict():
		default:
			t.Fatalf("expected insufficient stock or conflict, got %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one reservation to succeed, got %d (errors %v)", succeeded, errs)
	}

	products, err := reg.Products().FindByIDs(ctx, []string{"prod_bowl"})
	if err != nil {
		t.Fatalf("find products: %v", err)
	}
	if got := products["prod_bowl"].Stock; got != 0 {
		t.Fatalf("expected stock 0 after contention, got %d", got)
	}
}
