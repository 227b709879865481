package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/pawmart/api/internal/payments"
	"github.com/pawmart/api/internal/platform/auth"
	"github.com/pawmart/api/internal/platform/httpx"
	"github.com/pawmart/api/internal/services"
)

const (
	maxCallbackFormBytes = 64 * 1024
	callbackErrorMessage = "Error processing payment"
	callbackFailurePath  = "/order-failed"
	callbackSuccessPath  = "/order-success"
	callbackOrderIDParam = "orderId"
	callbackMessageParam = "message"
)

type initiatePaymentRequest struct {
	OrderID string `json:"orderId"`
}

// PaymentHandlers exposes payment initiation and the gateway callback.
type PaymentHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	frontendURL string
	limiter     rateLimiter
	idempotency func(http.Handler) http.Handler
}

// PaymentHandlerOption customises PaymentHandlers.
type PaymentHandlerOption func(*PaymentHandlers)

// WithCallbackRateLimit throttles the callback per client address.
func WithCallbackRateLimit(perSecond, burst int) PaymentHandlerOption {
	return func(h *PaymentHandlers) {
		h.limiter = newKeyedRateLimiter(rate.Limit(perSecond), burst, 0, nil)
	}
}

// WithPaymentIdempotency wraps payment initiation with the given idempotency middleware.
func WithPaymentIdempotency(mw func(http.Handler) http.Handler) PaymentHandlerOption {
	return func(h *PaymentHandlers) {
		h.idempotency = mw
	}
}

// NewPaymentHandlers constructs the handlers. frontendURL is the storefront origin used for callback redirects.
func NewPaymentHandlers(authn *auth.Authenticator, orders services.OrderService, frontendURL string, opts ...PaymentHandlerOption) *PaymentHandlers {
	h := &PaymentHandlers{
		authn:       authn,
		orders:      orders,
		frontendURL: strings.TrimRight(strings.TrimSpace(frontendURL), "/"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /payment endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}

	r.Group(func(user chi.Router) {
		if h.authn != nil {
			user.Use(h.authn.Require())
		}
		initiate := http.Handler(http.HandlerFunc(h.initiate))
		if h.idempotency != nil {
			initiate = h.idempotency(initiate)
		}
		user.Method(http.MethodPost, "/initiate", initiate)
	})

	r.Group(func(gateway chi.Router) {
		gateway.Use(rateLimitMiddleware(h.limiter, clientIPKey))
		gateway.Post("/callback", h.callback)
		gateway.Get("/callback", h.callback)
	})
}

func (h *PaymentHandlers) initiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req initiatePaymentRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "orderId is required", http.StatusBadRequest))
		return
	}

	result, err := h.orders.InitiatePayment(ctx, services.InitiatePaymentCommand{
		UserID:     identity.UID,
		OrderID:    strings.TrimSpace(req.OrderID),
		PayerEmail: identity.Email,
		PayerName:  identity.PayerName(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, checkoutResponse{Order: buildOrderPayload(result.Order), PaymentURL: result.PaymentURL})
}

// callback always answers with a redirect; the customer's browser is the caller.
func (h *PaymentHandlers) callback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCallbackFormBytes)
	if err := r.ParseForm(); err != nil {
		h.redirect(w, r, false, "", callbackErrorMessage)
		return
	}

	result, err := h.orders.ApplyCallback(r.Context(), payments.ParseCallback(r.Form))
	if err != nil {
		message := result.Message
		if message == "" || !isCustomerFacing(err) {
			message = callbackErrorMessage
		}
		h.redirect(w, r, false, result.Order.ID, message)
		return
	}
	h.redirect(w, r, result.Success, result.Order.ID, result.Message)
}

func (h *PaymentHandlers) redirect(w http.ResponseWriter, r *http.Request, success bool, orderID, message string) {
	query := url.Values{}
	path := callbackFailurePath
	if success {
		path = callbackSuccessPath
		query.Set(callbackOrderIDParam, orderID)
	} else {
		if orderID != "" {
			query.Set(callbackOrderIDParam, orderID)
		}
		if message == "" {
			message = callbackErrorMessage
		}
		query.Set(callbackMessageParam, message)
	}
	http.Redirect(w, r, h.frontendURL+path+"?"+query.Encode(), http.StatusSeeOther)
}

func isCustomerFacing(err error) bool {
	return errors.Is(err, services.ErrCallbackIntegrity) ||
		errors.Is(err, services.ErrOrderNotFound) ||
		errors.Is(err, services.ErrOrderPaymentInFlight) ||
		errors.Is(err, services.ErrOrderConflict) ||
		errors.Is(err, services.ErrOrderInvalidInput)
}
