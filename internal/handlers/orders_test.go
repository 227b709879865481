package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/pawmart/api/internal/domain"
	"github.com/pawmart/api/internal/platform/auth"
	"github.com/pawmart/api/internal/platform/idempotency"
	"github.com/pawmart/api/internal/services"
)

type stubOrderService struct {
	createFn   func(context.Context, services.CreateOrderCommand) (services.CheckoutResult, error)
	listFn     func(context.Context, string) ([]services.Order, error)
	getFn      func(context.Context, string, string) (services.Order, error)
	trackingFn func(context.Context, string, string) (services.Order, error)
	cancelFn   func(context.Context, services.CancelOrderCommand) (services.Order, error)
	initiateFn func(context.Context, services.InitiatePaymentCommand) (services.CheckoutResult, error)
	callbackFn func(context.Context, services.PaymentCallback) (services.CallbackResult, error)
	statusFn   func(context.Context, services.UpdateOrderStatusCommand) (services.Order, error)
}

var _ services.OrderService = (*stubOrderService)(nil)

func (s *stubOrderService) Create(ctx context.Context, cmd services.CreateOrderCommand) (services.CheckoutResult, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.CheckoutResult{}, errors.New("not implemented")
}

func (s *stubOrderService) ListMine(ctx context.Context, userID string) ([]services.Order, error) {
	if s.listFn != nil {
		return s.listFn(ctx, userID)
	}
	return nil, nil
}

func (s *stubOrderService) GetMine(ctx context.Context, userID, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID, orderID)
	}
	return services.Order{}, services.ErrOrderNotFound
}

func (s *stubOrderService) GetByTracking(ctx context.Context, userID, tracking string) (services.Order, error) {
	if s.trackingFn != nil {
		return s.trackingFn(ctx, userID, tracking)
	}
	return services.Order{}, services.ErrOrderNotFound
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) InitiatePayment(ctx context.Context, cmd services.InitiatePaymentCommand) (services.CheckoutResult, error) {
	if s.initiateFn != nil {
		return s.initiateFn(ctx, cmd)
	}
	return services.CheckoutResult{}, errors.New("not implemented")
}

func (s *stubOrderService) ApplyCallback(ctx context.Context, cb services.PaymentCallback) (services.CallbackResult, error) {
	if s.callbackFn != nil {
		return s.callbackFn(ctx, cb)
	}
	return services.CallbackResult{}, errors.New("not implemented")
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
	if s.statusFn != nil {
		return s.statusFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func withIdentity(uid string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := &auth.Identity{UID: uid, Email: uid + "@example.com", Name: "Asha Rao", Roles: []string{auth.RoleUser}}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
	})
}

func newOrderRouter(svc services.OrderService, opts ...OrderHandlerOption) http.Handler {
	router := chi.NewRouter()
	router.Route("/orders", NewOrderHandlers(nil, svc, opts...).Routes)
	return withIdentity("user-1", router)
}

func sampleOrder() services.Order {
	created := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	return services.Order{
		ID:             "ord_01",
		OrderNumber:    "ORD-1738404000000-0042",
		TrackingNumber: "ABCDEF123456",
		UserID:         "user-1",
		Items: []services.OrderItem{{
			ProductRef:      "prod-1",
			Quantity:        2,
			PriceAtPurchase: 3000,
			Subtotal:        6000,
			ProductSnapshot: map[string]any{"name": "Chew toy"},
		}},
		Subtotal:        6000,
		TaxAmount:       600,
		ShippingFee:     500,
		TotalAmount:     7100,
		Currency:        "INR",
		ShippingAddress: domain.Address{FullName: "Asha Rao", Phone: "9999999999", Line1: "1 MG Road", City: "Pune", PostalCode: "411001", Country: "IN"},
		PaymentMethod:   domain.PaymentMethodCOD,
		PaymentStatus:   domain.PaymentStatusPending,
		Status:          domain.OrderStatusProcessing,
		CreatedAt:       created,
		UpdatedAt:       created,
	}
}

const createBody = `{"shippingAddress":{"fullName":"Asha Rao","phone":"9999999999","line1":"1 MG Road","city":"Pune","postalCode":"411001"},"paymentMethod":"COD","notes":"leave at door"}`

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestOrderHandlers_CreateCOD(t *testing.T) {
	var captured services.CreateOrderCommand
	svc := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.CheckoutResult, error) {
			captured = cmd
			return services.CheckoutResult{Order: sampleOrder()}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(createBody))
	rr := httptest.NewRecorder()
	newOrderRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-1" || captured.PayerEmail != "user-1@example.com" || captured.PayerName != "Asha Rao" {
		t.Fatalf("unexpected identity propagation %#v", captured)
	}
	if captured.PaymentMethod != domain.PaymentMethodCOD {
		t.Fatalf("expected payment method to be normalised, got %q", captured.PaymentMethod)
	}
	if captured.ShippingAddress.City != "Pune" || captured.Notes != "leave at door" {
		t.Fatalf("unexpected command %#v", captured)
	}

	body := decodeBody(t, rr)
	order := body["order"].(map[string]any)
	if order["totalAmount"].(float64) != 7100 || order["orderStatus"] != "processing" {
		t.Fatalf("unexpected order payload %#v", order)
	}
	if _, ok := body["payment_url"]; ok {
		t.Fatalf("cod order must not carry a payment url")
	}
}

func TestOrderHandlers_CreateOnlineReturnsPaymentURL(t *testing.T) {
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.CheckoutResult, error) {
			order := sampleOrder()
			order.PaymentMethod = domain.PaymentMethodOnline
			order.PaymentStatus = domain.PaymentStatusInitiated
			order.Status = domain.OrderStatusPendingPayment
			return services.CheckoutResult{Order: order, PaymentURL: "https://pay.example.com/pay/abc"}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(createBody))
	rr := httptest.NewRecorder()
	newOrderRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := decodeBody(t, rr)["payment_url"]; got != "https://pay.example.com/pay/abc" {
		t.Fatalf("unexpected payment url %v", got)
	}
}

func TestOrderHandlers_CreateErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"empty cart", services.ErrOrderEmptyCart, http.StatusBadRequest, "cart_empty"},
		{"validation", &services.ValidationError{Fields: map[string]string{"shippingAddress.city": "required"}}, http.StatusBadRequest, "invalid_request"},
		{"out of stock", &services.OutOfStockError{Items: []services.StockShortage{{ProductRef: "prod-2", Available: 2, Requested: 3}}}, http.StatusBadRequest, "out_of_stock"},
		{"identifier exhaustion", services.ErrOrderConflict, http.StatusConflict, "order_conflict"},
		{"unavailable", services.ErrOrderUnavailable, http.StatusServiceUnavailable, "order_unavailable"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "order_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubOrderService{
				createFn: func(context.Context, services.CreateOrderCommand) (services.CheckoutResult, error) {
					return services.CheckoutResult{}, tc.err
				},
			}
			req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(createBody))
			rr := httptest.NewRecorder()
			newOrderRouter(svc).ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			body := decodeBody(t, rr)
			if body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestOrderHandlers_OutOfStockDetails(t *testing.T) {
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{}, &services.OutOfStockError{Items: []services.StockShortage{{ProductRef: "prod-2", Available: 2, Requested: 3}}}
		},
	}
	rr := httptest.NewRecorder()
	newOrderRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(createBody)))

	details := decodeBody(t, rr)["details"].(map[string]any)
	items := details["items"].([]any)
	first := items[0].(map[string]any)
	if first["productId"] != "prod-2" || first["available"].(float64) != 2 || first["requested"].(float64) != 3 {
		t.Fatalf("unexpected shortage payload %#v", first)
	}
}

func TestOrderHandlers_GatewayErrors(t *testing.T) {
	cases := []struct {
		cause  error
		status int
		code   string
	}{
		{services.ErrPaymentRejected, http.StatusBadRequest, "payment_rejected"},
		{services.ErrPaymentUnavailable, http.StatusInternalServerError, "payment_unavailable"},
	}
	for _, tc := range cases {
		svc := &stubOrderService{
			createFn: func(context.Context, services.CreateOrderCommand) (services.CheckoutResult, error) {
				return services.CheckoutResult{}, services.NewPaymentGatewayError("ord_01", "gateway said no", tc.cause)
			},
		}
		rr := httptest.NewRecorder()
		newOrderRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(createBody)))
		if rr.Code != tc.status {
			t.Fatalf("expected %d, got %d", tc.status, rr.Code)
		}
		body := decodeBody(t, rr)
		if body["error"] != tc.code {
			t.Fatalf("expected %s, got %v", tc.code, body["error"])
		}
		if body["details"].(map[string]any)["orderId"] != "ord_01" {
			t.Fatalf("expected order id in details, got %v", body["details"])
		}
	}
}

func TestOrderHandlers_RejectsMalformedBody(t *testing.T) {
	svc := &stubOrderService{}
	rr := httptest.NewRecorder()
	newOrderRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"paymentMethod":"cod","extra":1}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rr.Code)
	}
}

func TestOrderHandlers_Reads(t *testing.T) {
	svc := &stubOrderService{
		listFn: func(_ context.Context, userID string) ([]services.Order, error) {
			if userID != "user-1" {
				t.Errorf("unexpected user %s", userID)
			}
			return []services.Order{sampleOrder(), sampleOrder()}, nil
		},
		getFn: func(_ context.Context, userID, orderID string) (services.Order, error) {
			if orderID != "ord_01" {
				return services.Order{}, services.ErrOrderNotFound
			}
			return sampleOrder(), nil
		},
		trackingFn: func(_ context.Context, _ string, tracking string) (services.Order, error) {
			if tracking != "ABCDEF123456" {
				return services.Order{}, services.ErrOrderNotFound
			}
			return sampleOrder(), nil
		},
	}
	router := newOrderRouter(svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/me", nil))
	if rr.Code != http.StatusOK || len(decodeBody(t, rr)["orders"].([]any)) != 2 {
		t.Fatalf("unexpected list response %d %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/ord_01", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/ord_other", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign order, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/tracking/ABCDEF123456", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected tracking lookup to succeed, got %d", rr.Code)
	}
	if got := decodeBody(t, rr)["order"].(map[string]any)["trackingNumber"]; got != "ABCDEF123456" {
		t.Fatalf("unexpected tracking number %v", got)
	}
}

func TestOrderHandlers_Cancel(t *testing.T) {
	var captured services.CancelOrderCommand
	svc := &stubOrderService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusCancelled
			order.CancelDetails = &domain.CancelDetails{Reason: cmd.Reason, CancelledBy: cmd.UserID, CancelledAt: order.CreatedAt}
			return order, nil
		},
	}
	req := httptest.NewRequest(http.MethodPatch, "/orders/ord_01/cancel", strings.NewReader(`{"reason":"changed my mind"}`))
	rr := httptest.NewRecorder()
	newOrderRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_01" || captured.UserID != "user-1" || captured.Reason != "changed my mind" {
		t.Fatalf("unexpected cancel command %#v", captured)
	}
	details := decodeBody(t, rr)["order"].(map[string]any)["cancelDetails"].(map[string]any)
	if details["reason"] != "changed my mind" {
		t.Fatalf("unexpected cancel details %#v", details)
	}
}

func TestOrderHandlers_CancelWhileSettling(t *testing.T) {
	svc := &stubOrderService{
		cancelFn: func(context.Context, services.CancelOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrOrderPaymentInFlight
		},
	}
	rr := httptest.NewRecorder()
	newOrderRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPatch, "/orders/ord_01/cancel", strings.NewReader(`{"reason":"x"}`)))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if decodeBody(t, rr)["error"] != "payment_in_flight" {
		t.Fatalf("unexpected error code")
	}
}

func TestOrderHandlers_UpdateStatus(t *testing.T) {
	var captured services.UpdateOrderStatusCommand
	svc := &stubOrderService{
		statusFn: func(_ context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusShipped
			return order, nil
		},
	}
	req := httptest.NewRequest(http.MethodPatch, "/orders/ord_01/status", strings.NewReader(`{"status":"shipped","deliveryDate":"2025-02-05T00:00:00Z"}`))
	rr := httptest.NewRecorder()
	newOrderRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Status != domain.OrderStatusShipped || captured.ActorID != "user-1" {
		t.Fatalf("unexpected status command %#v", captured)
	}
	if captured.DeliveryDate == nil || !captured.DeliveryDate.Equal(time.Date(2025, 2, 5, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected delivery date to be parsed, got %v", captured.DeliveryDate)
	}
}

func TestOrderHandlers_RequiresIdentity(t *testing.T) {
	router := chi.NewRouter()
	router.Route("/orders", NewOrderHandlers(nil, &stubOrderService{}).Routes)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/me", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", rr.Code)
	}
}

func TestOrderHandlers_RateLimited(t *testing.T) {
	router := newOrderRouter(&stubOrderService{}, WithOrderRateLimit(60, 1))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/me", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/me", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
}

func TestOrderHandlers_IdempotentCreateReplays(t *testing.T) {
	calls := 0
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.CheckoutResult, error) {
			calls++
			return services.CheckoutResult{Order: sampleOrder()}, nil
		},
	}
	router := newOrderRouter(svc, WithOrderIdempotency(idempotency.Middleware(idempotency.NewMemoryStore())))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(createBody))
		req.Header.Set("Idempotency-Key", "checkout-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201, got %d", i, rr.Code)
		}
	}
	if calls != 1 {
		t.Fatalf("expected a single order to be placed, got %d", calls)
	}
}
