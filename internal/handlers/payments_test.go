package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/pawmart/api/internal/domain"
	"github.com/pawmart/api/internal/services"
)

const storefront = "https://shop.example.com"

func newPaymentRouter(svc services.OrderService, opts ...PaymentHandlerOption) http.Handler {
	router := chi.NewRouter()
	router.Route("/payment", NewPaymentHandlers(nil, svc, storefront+"/", opts...).Routes)
	return withIdentity("user-1", router)
}

func postCallback(router http.Handler, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/payment/callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "203.0.113.7:4411"
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func redirectTarget(t *testing.T, rr *httptest.ResponseRecorder) *url.URL {
	t.Helper()
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d: %s", rr.Code, rr.Body.String())
	}
	target, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatalf("invalid redirect location: %v", err)
	}
	return target
}

func TestPaymentHandlers_CallbackSuccessRedirect(t *testing.T) {
	var captured services.PaymentCallback
	svc := &stubOrderService{
		callbackFn: func(_ context.Context, cb services.PaymentCallback) (services.CallbackResult, error) {
			captured = cb
			order := sampleOrder()
			order.PaymentStatus = domain.PaymentStatusPaid
			return services.CallbackResult{Order: order, Success: true, Message: "Payment successful"}, nil
		},
	}

	form := url.Values{
		"status":      {"success"},
		"txnid":       {"ORD-1738404000000-0042"},
		"amount":      {"71.00"},
		"productinfo": {"Order ORD-1738404000000-0042"},
		"firstname":   {"Asha"},
		"email":       {"asha@example.com"},
		"hash":        {"abc"},
		"easepayid":   {"E123"},
	}
	target := redirectTarget(t, postCallback(newPaymentRouter(svc), form))

	if target.Scheme+"://"+target.Host != storefront || target.Path != "/order-success" {
		t.Fatalf("unexpected redirect %s", target)
	}
	if target.Query().Get("orderId") != "ord_01" {
		t.Fatalf("expected order id in redirect, got %s", target.RawQuery)
	}
	if captured.TxnID != "ORD-1738404000000-0042" || captured.GatewayTxnID != "E123" || !captured.Succeeded() {
		t.Fatalf("callback fields not forwarded: %#v", captured)
	}
}

func TestPaymentHandlers_CallbackFailureRedirect(t *testing.T) {
	svc := &stubOrderService{
		callbackFn: func(context.Context, services.PaymentCallback) (services.CallbackResult, error) {
			return services.CallbackResult{Order: sampleOrder(), Message: "Bank declined"}, nil
		},
	}
	form := url.Values{"status": {"failure"}, "txnid": {"ORD-1"}, "hash": {"abc"}, "error_Message": {"Bank declined"}}
	target := redirectTarget(t, postCallback(newPaymentRouter(svc), form))

	if target.Path != "/order-failed" {
		t.Fatalf("expected failure page, got %s", target.Path)
	}
	if target.Query().Get("orderId") != "ord_01" || target.Query().Get("message") != "Bank declined" {
		t.Fatalf("unexpected query %s", target.RawQuery)
	}
}

func TestPaymentHandlers_CallbackErrorsHideInternalDetail(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		result  services.CallbackResult
		message string
		orderID string
	}{
		{
			name:    "integrity failure is surfaced",
			err:     fmt.Errorf("%w: digest mismatch", services.ErrCallbackIntegrity),
			result:  services.CallbackResult{Order: sampleOrder(), Message: "Payment verification failed"},
			message: "Payment verification failed",
			orderID: "ord_01",
		},
		{
			name:    "unknown order",
			err:     services.ErrOrderNotFound,
			result:  services.CallbackResult{Message: "Order not found"},
			message: "Order not found",
		},
		{
			name:    "store outage is masked",
			err:     fmt.Errorf("%w: firestore down", services.ErrOrderUnavailable),
			result:  services.CallbackResult{Order: sampleOrder(), Message: "order: repository unavailable"},
			message: callbackErrorMessage,
			orderID: "ord_01",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubOrderService{
				callbackFn: func(context.Context, services.PaymentCallback) (services.CallbackResult, error) {
					return tc.result, tc.err
				},
			}
			target := redirectTarget(t, postCallback(newPaymentRouter(svc), url.Values{"status": {"success"}}))
			if target.Path != "/order-failed" {
				t.Fatalf("expected failure page, got %s", target.Path)
			}
			if got := target.Query().Get("message"); got != tc.message {
				t.Fatalf("expected message %q, got %q", tc.message, got)
			}
			if got := target.Query().Get("orderId"); got != tc.orderID {
				t.Fatalf("expected order id %q, got %q", tc.orderID, got)
			}
		})
	}
}

func TestPaymentHandlers_CallbackAcceptsQueryString(t *testing.T) {
	var status string
	svc := &stubOrderService{
		callbackFn: func(_ context.Context, cb services.PaymentCallback) (services.CallbackResult, error) {
			status = cb.Status
			return services.CallbackResult{Order: sampleOrder(), Success: true}, nil
		},
	}
	req := httptest.NewRequest(http.MethodGet, "/payment/callback?status=success&txnid=ORD-1&hash=abc", nil)
	rr := httptest.NewRecorder()
	newPaymentRouter(svc).ServeHTTP(rr, req)

	if redirectTarget(t, rr).Path != "/order-success" || status != "success" {
		t.Fatalf("expected query callback to be applied, status=%q", status)
	}
}

func TestPaymentHandlers_CallbackRateLimitedPerClient(t *testing.T) {
	svc := &stubOrderService{
		callbackFn: func(context.Context, services.PaymentCallback) (services.CallbackResult, error) {
			return services.CallbackResult{Order: sampleOrder(), Success: true}, nil
		},
	}
	router := newPaymentRouter(svc, WithCallbackRateLimit(1, 1))

	if rr := postCallback(router, url.Values{"status": {"success"}}); rr.Code != http.StatusSeeOther {
		t.Fatalf("expected first callback to pass, got %d", rr.Code)
	}
	if rr := postCallback(router, url.Values{"status": {"success"}}); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
}

func TestPaymentHandlers_Initiate(t *testing.T) {
	var captured services.InitiatePaymentCommand
	svc := &stubOrderService{
		initiateFn: func(_ context.Context, cmd services.InitiatePaymentCommand) (services.CheckoutResult, error) {
			captured = cmd
			order := sampleOrder()
			order.PaymentMethod = domain.PaymentMethodOnline
			return services.CheckoutResult{Order: order, PaymentURL: "https://pay.example.com/pay/xyz"}, nil
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/payment/initiate", strings.NewReader(`{"orderId":" ord_01 "}`))
	rr := httptest.NewRecorder()
	newPaymentRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_01" || captured.UserID != "user-1" || captured.PayerName != "Asha Rao" {
		t.Fatalf("unexpected initiate command %#v", captured)
	}
	if decodeBody(t, rr)["payment_url"] != "https://pay.example.com/pay/xyz" {
		t.Fatalf("expected payment url in response")
	}
}

func TestPaymentHandlers_InitiateValidation(t *testing.T) {
	rr := httptest.NewRecorder()
	newPaymentRouter(&stubOrderService{}).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payment/initiate", strings.NewReader(`{"orderId":""}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	svc := &stubOrderService{
		initiateFn: func(context.Context, services.InitiatePaymentCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{}, fmt.Errorf("%w: order is cod", services.ErrOrderInvalidState)
		},
	}
	rr = httptest.NewRecorder()
	newPaymentRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payment/initiate", strings.NewReader(`{"orderId":"ord_01"}`)))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for non-payable order, got %d", rr.Code)
	}
}
