package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/pawmart/api/internal/domain"
	"github.com/pawmart/api/internal/platform/auth"
	"github.com/pawmart/api/internal/platform/httpx"
	"github.com/pawmart/api/internal/services"
)

type addressRequest struct {
	FullName   string `json:"fullName"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type createOrderRequest struct {
	ShippingAddress addressRequest `json:"shippingAddress"`
	PaymentMethod   string         `json:"paymentMethod"`
	CouponCode      string         `json:"couponCode"`
	Notes           string         `json:"notes"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
	Notes  string `json:"notes"`
}

type updateStatusRequest struct {
	Status       string     `json:"status"`
	DeliveryDate *time.Time `json:"deliveryDate"`
	Reason       string     `json:"reason"`
}

// OrderHandlers exposes the /orders endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	limiter     rateLimiter
	idempotency func(http.Handler) http.Handler
}

// OrderHandlerOption customises OrderHandlers.
type OrderHandlerOption func(*OrderHandlers)

// WithOrderRateLimit throttles order routes per user.
func WithOrderRateLimit(requestsPerMinute, burst int) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.limiter = newKeyedRateLimiter(perMinute(requestsPerMinute), burst, 0, nil)
	}
}

// WithOrderIdempotency wraps order creation with the given idempotency middleware.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{authn: authn, orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.Require())
	}
	r.Use(rateLimitMiddleware(h.limiter, userOrIPKey))

	create := http.Handler(http.HandlerFunc(h.createOrder))
	if h.idempotency != nil {
		create = h.idempotency(create)
	}
	r.Method(http.MethodPost, "/", create)
	r.Get("/me", h.listMine)
	r.Get("/tracking/{trackingNumber}", h.getByTracking)
	r.Get("/{orderID}", h.getOrder)
	r.Patch("/{orderID}/cancel", h.cancelOrder)

	r.Group(func(staff chi.Router) {
		if h.authn != nil {
			staff.Use(h.authn.Require(auth.RoleStaff, auth.RoleAdmin))
		}
		staff.Patch("/{orderID}/status", h.updateStatus)
	})
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	result, err := h.orders.Create(ctx, services.CreateOrderCommand{
		UserID:          identity.UID,
		PayerEmail:      identity.Email,
		PayerName:       identity.PayerName(ctx),
		ShippingAddress: req.ShippingAddress.toDomain(),
		PaymentMethod:   domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		CouponCode:      req.CouponCode,
		Notes:           req.Notes,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	if result.PaymentURL != "" {
		httpx.WriteJSON(w, http.StatusOK, checkoutResponse{Order: buildOrderPayload(result.Order), PaymentURL: result.PaymentURL})
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(result.Order)})
}

func (h *OrderHandlers) listMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orders, err := h.orders.ListMine(ctx, identity.UID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	items := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, orderListResponse{Orders: items})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := requirePathParam(ctx, w, r, "orderID")
	if !ok {
		return
	}

	order, err := h.orders.GetMine(ctx, identity.UID, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) getByTracking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	tracking, ok := requirePathParam(ctx, w, r, "trackingNumber")
	if !ok {
		return
	}

	order, err := h.orders.GetByTracking(ctx, identity.UID, tracking)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := requirePathParam(ctx, w, r, "orderID")
	if !ok {
		return
	}

	var req cancelOrderRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		UserID:  identity.UID,
		OrderID: orderID,
		Reason:  req.Reason,
		Notes:   req.Notes,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := requirePathParam(ctx, w, r, "orderID")
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := httpx.DecodeJSON(r, &req, false); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID:      orderID,
		Status:       domain.OrderStatus(req.Status),
		DeliveryDate: req.DeliveryDate,
		ActorID:      identity.UID,
		Reason:       req.Reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (a addressRequest) toDomain() domain.Address {
	return domain.Address{
		FullName:   a.FullName,
		Phone:      a.Phone,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func requirePathParam(ctx context.Context, w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	value := strings.TrimSpace(chi.URLParam(r, name))
	if value == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", name+" is required", http.StatusBadRequest))
		return "", false
	}
	return value, true
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var validation *services.ValidationError
	var outOfStock *services.OutOfStockError
	var gatewayErr *services.PaymentGatewayError

	switch {
	case errors.As(err, &validation):
		fields := make(map[string]any, len(validation.Fields))
		for k, v := range validation.Fields {
			fields[k] = v
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request validation failed", http.StatusBadRequest).
			WithDetails(map[string]any{"fields": fields}))
	case errors.As(err, &outOfStock):
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", "some items are out of stock", http.StatusBadRequest).
			WithDetails(map[string]any{"items": outOfStock.Items}))
	case errors.As(err, &gatewayErr):
		status := http.StatusInternalServerError
		code := "payment_unavailable"
		if errors.Is(err, services.ErrPaymentRejected) {
			status = http.StatusBadRequest
			code = "payment_rejected"
		}
		httpx.WriteError(ctx, w, httpx.NewError(code, gatewayErr.Message, status).
			WithDetails(map[string]any{"orderId": gatewayErr.OrderID}))
	case errors.Is(err, services.ErrOrderEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "a product in the cart no longer exists", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderPaymentInFlight):
		httpx.WriteError(ctx, w, httpx.NewError("payment_in_flight", "payment is being settled, try again shortly", http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently", http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_unavailable", "order store temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
