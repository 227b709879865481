package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/pawmart/api/internal/domain"
	"github.com/pawmart/api/internal/payments"
	"github.com/pawmart/api/internal/repositories"
)

const (
	orderEventCreated          = "order.created"
	orderEventPaymentInitiated = "order.payment_initiated"
	orderEventPaid             = "order.paid"
	orderEventPaymentFailed    = "order.payment_failed"
	orderEventCancelled        = "order.cancelled"
	orderEventStatusChanged    = "order.status_changed"
	orderEventRefundDue        = "order.refund_due"

	orderIDPrefix = "ord_"

	defaultSettlementWindow = 30 * time.Minute
	defaultCallbackLeaseTTL = 30 * time.Second
	defaultOrderListLimit   = 50
	defaultCountry          = "IN"
	compensationTimeout     = 10 * time.Second

	restoreReasonCancelled     = "cancelled"
	restoreReasonPaymentFailed = "payment_failed"
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	Carts       repositories.CartRepository
	Inventory   InventoryService
	Gateway     payments.Gateway
	Guard       CallbackGuard
	UnitOfWork  repositories.UnitOfWork
	Identifiers *IdentifierGenerator
	Pricing     PricingPolicy
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Metrics     OrderMetrics
	Logger      func(ctx context.Context, event string, fields map[string]any)

	// SettlementWindow blocks cancellation of an initiated payment younger than this.
	SettlementWindow time.Duration
	CallbackLeaseTTL time.Duration
	ListLimit        int
}

type orderService struct {
	orders      repositories.OrderRepository
	products    repositories.ProductRepository
	carts       repositories.CartRepository
	inventory   InventoryService
	gateway     payments.Gateway
	guard       CallbackGuard
	unitOfWork  repositories.UnitOfWork
	identifiers *IdentifierGenerator
	assembler   OrderAssembler
	lifecycle   OrderLifecycle
	clock       func() time.Time
	newID       func() string
	events      OrderEventPublisher
	metrics     OrderMetrics
	logger      func(context.Context, string, map[string]any)

	settlementWindow time.Duration
	leaseTTL         time.Duration
	listLimit        int
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("order service: payment gateway is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	guard := deps.Guard
	if guard == nil {
		guard = noopCallbackGuard{}
	}
	identifiers := deps.Identifiers
	if identifiers == nil {
		identifiers = NewIdentifierGenerator(nil, 0)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	window := deps.SettlementWindow
	if window <= 0 {
		window = defaultSettlementWindow
	}
	leaseTTL := deps.CallbackLeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = defaultCallbackLeaseTTL
	}
	listLimit := deps.ListLimit
	if listLimit <= 0 {
		listLimit = defaultOrderListLimit
	}

	return &orderService{
		orders:      deps.Orders,
		products:    deps.Products,
		carts:       deps.Carts,
		inventory:   deps.Inventory,
		gateway:     deps.Gateway,
		guard:       guard,
		unitOfWork:  unit,
		identifiers: identifiers,
		assembler:   NewOrderAssembler(deps.Pricing),
		lifecycle:   NewOrderLifecycle(),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:            idGen,
		events:           deps.Events,
		metrics:          deps.Metrics,
		logger:           logger,
		settlementWindow: window,
		leaseTTL:         leaseTTL,
		listLimit:        listLimit,
	}, nil
}

// Create runs checkout. The order and the stock decrement commit together. COD orders clear the cart in the
// same transaction; online orders keep it until the gateway reports success, and a failed handshake is
// compensated on the committed order.
func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (CheckoutResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	method := PaymentMethod(strings.ToLower(strings.TrimSpace(string(cmd.PaymentMethod))))

	verr := &ValidationError{}
	if userID == "" {
		verr.add("userId", "is required")
	}
	if method != domain.PaymentMethodCOD && method != domain.PaymentMethodOnline {
		verr.add("paymentMethod", "must be cod or online")
	}
	if method == domain.PaymentMethodOnline && strings.TrimSpace(cmd.PayerEmail) == "" {
		verr.add("email", "is required for online payment")
	}
	address := normalizeAddress(cmd.ShippingAddress, verr)
	notes, ok := sanitizeText(cmd.Notes, maxNotesLength)
	if !ok {
		verr.add("notes", fmt.Sprintf("must be at most %d characters", maxNotesLength))
	}
	coupon, ok := sanitizeText(cmd.CouponCode, maxCouponLength)
	if !ok {
		verr.add("couponCode", fmt.Sprintf("must be at most %d characters", maxCouponLength))
	}
	if err := verr.orNil(); err != nil {
		return CheckoutResult{}, err
	}

	status, paymentStatus, err := s.lifecycle.InitialState(method)
	if err != nil {
		return CheckoutResult{}, err
	}

	now := s.now()
	orderID := s.nextOrderID()
	var order Order
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		cart, err := s.carts.GetCart(txCtx, userID)
		if err != nil {
			return mapRepositoryError(err)
		}
		if len(cart.Items) == 0 {
			return ErrOrderEmptyCart
		}

		products, err := s.products.FindByIDs(txCtx, cartProductRefs(cart.Items))
		if err != nil {
			return mapRepositoryError(err)
		}
		assembly, err := s.assembler.Assemble(cart.Items, products)
		if err != nil {
			return err
		}

		orderNumber, err := s.identifiers.UniqueOrderNumber(txCtx, now, s.orders.OrderNumberExists)
		if err != nil {
			return mapIdentifierError(err)
		}
		tracking, err := s.identifiers.TrackingNumber(txCtx, s.orders.TrackingNumberExists)
		if err != nil {
			return mapIdentifierError(err)
		}

		order = Order{
			ID:              orderID,
			OrderNumber:     orderNumber,
			TrackingNumber:  tracking,
			UserID:          userID,
			Items:           assembly.Items,
			Subtotal:        assembly.Totals.Subtotal,
			TaxAmount:       assembly.Totals.TaxAmount,
			ShippingFee:     assembly.Totals.ShippingFee,
			TotalAmount:     assembly.Totals.TotalAmount,
			Currency:        s.assembler.Policy().Currency,
			ShippingAddress: address,
			PaymentMethod:   method,
			PaymentStatus:   paymentStatus,
			Status:          status,
			StockAdjustment: domain.StockAdjustmentNone,
			CouponCode:      coupon,
			Notes:           notes,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		if err := s.inventory.Reserve(txCtx, order.StockLines()); err != nil {
			return err
		}
		order.StockAdjustment = domain.StockAdjustmentReserved

		if err := s.orders.Insert(txCtx, order); err != nil {
			return mapRepositoryError(err)
		}
		if method == domain.PaymentMethodCOD {
			if err := s.carts.ClearCart(txCtx, userID); err != nil {
				return mapRepositoryError(err)
			}
		}
		return nil
	})
	if err != nil {
		s.recordPlaced(method, placementOutcome(err))
		s.logger(ctx, "order.create.failed", map[string]any{
			"userId": userID,
			"method": string(method),
			"error":  err.Error(),
		})
		return CheckoutResult{}, err
	}

	s.recordPlaced(method, "created")
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		CurrentStatus: string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		ActorID:       userID,
		OccurredAt:    now,
		Metadata: map[string]any{
			"totalAmount":   order.TotalAmount,
			"currency":      order.Currency,
			"paymentMethod": string(order.PaymentMethod),
			"items":         len(order.Items),
		},
	})

	if method == domain.PaymentMethodCOD {
		return CheckoutResult{Order: order}, nil
	}
	return s.startPayment(ctx, order, payer{email: cmd.PayerEmail, name: cmd.PayerName, phone: address.Phone})
}

// InitiatePayment returns the live payment link of a pending online order or requests a new one.
func (s *orderService) InitiatePayment(ctx context.Context, cmd InitiatePaymentCommand) (CheckoutResult, error) {
	order, err := s.GetMine(ctx, cmd.UserID, cmd.OrderID)
	if err != nil {
		return CheckoutResult{}, err
	}
	if order.PaymentMethod != domain.PaymentMethodOnline {
		return CheckoutResult{}, fmt.Errorf("%w: order is not paid online", ErrOrderInvalidState)
	}
	if order.Status != domain.OrderStatusPendingPayment {
		return CheckoutResult{}, fmt.Errorf("%w: order status is %s", ErrOrderInvalidState, order.Status)
	}
	if order.PaymentStatus == domain.PaymentStatusInitiated && order.Payment.PaymentURL != "" && s.withinSettlementWindow(order) {
		return CheckoutResult{Order: order, PaymentURL: order.Payment.PaymentURL}, nil
	}
	if order.PaymentStatus != domain.PaymentStatusPending && order.PaymentStatus != domain.PaymentStatusInitiated {
		return CheckoutResult{}, fmt.Errorf("%w: payment status is %s", ErrOrderInvalidState, order.PaymentStatus)
	}
	return s.startPayment(ctx, order, payer{email: cmd.PayerEmail, name: cmd.PayerName, phone: order.ShippingAddress.Phone})
}

type payer struct {
	email string
	name  string
	phone string
}

func (s *orderService) startPayment(ctx context.Context, order Order, p payer) (CheckoutResult, error) {
	result, err := s.gateway.Initiate(ctx, payments.InitiateRequest{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Amount:      order.TotalAmount,
		FirstName:   firstName(p.name),
		Email:       strings.TrimSpace(p.email),
		Phone:       p.phone,
	})
	if err != nil {
		return s.failPayment(ctx, order, err)
	}

	now := s.now()
	var updated Order
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, order.ID)
		if err != nil {
			return mapRepositoryError(err)
		}
		if err := s.lifecycle.MarkPaymentInitiated(&current, result.PaymentURL, result.TransactionID, now); err != nil {
			return err
		}
		if err := s.orders.Update(txCtx, current); err != nil {
			return mapRepositoryError(err)
		}
		updated = current
		return nil
	})
	if err != nil {
		s.logger(ctx, "order.payment.initiate.record_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return CheckoutResult{Order: order}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventPaymentInitiated,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		UserID:         updated.UserID,
		PreviousStatus: string(order.Status),
		CurrentStatus:  string(updated.Status),
		PaymentStatus:  string(updated.PaymentStatus),
		OccurredAt:     now,
		Metadata:       map[string]any{"transactionId": updated.Payment.TransactionID},
	})
	return CheckoutResult{Order: updated, PaymentURL: result.PaymentURL}, nil
}

// failPayment compensates a committed order whose gateway handshake failed: the order is cancelled and its
// stock is given back once. It runs detached from the caller's cancellation so a client disconnect does not
// leave stock reserved.
func (s *orderService) failPayment(ctx context.Context, order Order, cause error) (CheckoutResult, error) {
	sentinel := ErrPaymentUnavailable
	message := "payment gateway unavailable"
	var gwErr *payments.GatewayError
	switch {
	case errors.As(cause, &gwErr):
		if gwErr.Kind == payments.GatewayRejected {
			sentinel = ErrPaymentRejected
		}
		if strings.TrimSpace(gwErr.Message) != "" {
			message = gwErr.Message
		}
	case errors.Is(cause, payments.ErrInvalidRequest):
		sentinel = ErrPaymentRejected
		message = cause.Error()
	}

	s.logger(ctx, "order.payment.initiate.failed", map[string]any{
		"orderId": order.ID,
		"message": message,
		"error":   cause.Error(),
	})

	compCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	now := s.now()
	var (
		compensated Order
		restored    []StockLine
		changed     bool
	)
	err := s.runInTx(compCtx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, order.ID)
		if err != nil {
			return mapRepositoryError(err)
		}
		changed, restored, err = s.lifecycle.ApplyPaymentResult(&current, false, "", message, now)
		if err != nil {
			return err
		}
		if !changed {
			compensated = current
			return nil
		}
		if len(restored) > 0 {
			if err := s.inventory.Restore(txCtx, restored); err != nil {
				return err
			}
		}
		if err := s.orders.Update(txCtx, current); err != nil {
			return mapRepositoryError(err)
		}
		compensated = current
		return nil
	})
	if err != nil {
		s.logger(ctx, "order.payment.compensation.failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return CheckoutResult{Order: order}, errors.Join(&PaymentGatewayError{OrderID: order.ID, Message: message, cause: sentinel}, err)
	}

	s.recordSettled("initiation_failed")
	if changed {
		s.recordRestored(restoreReasonPaymentFailed, restored)
		s.publishEvent(ctx, OrderEvent{
			Type:           orderEventPaymentFailed,
			OrderID:        compensated.ID,
			OrderNumber:    compensated.OrderNumber,
			UserID:         compensated.UserID,
			PreviousStatus: string(order.Status),
			CurrentStatus:  string(compensated.Status),
			PaymentStatus:  string(compensated.PaymentStatus),
			ActorID:        systemActor,
			OccurredAt:     now,
			Metadata:       map[string]any{"message": message, "stage": "initiate"},
		})
	}
	return CheckoutResult{Order: compensated}, &PaymentGatewayError{OrderID: order.ID, Message: message, cause: sentinel}
}

// ApplyCallback verifies a gateway callback and applies its result while holding the order's callback lease.
func (s *orderService) ApplyCallback(ctx context.Context, cb PaymentCallback) (CallbackResult, error) {
	if err := s.gateway.VerifyCallback(cb); err != nil {
		if errors.Is(err, payments.ErrCallbackIntegrity) {
			s.logger(ctx, "order.payment.callback.tampered", map[string]any{"txnid": cb.TxnID})
			return CallbackResult{Message: "payment verification failed"}, fmt.Errorf("%w: %v", ErrCallbackIntegrity, err)
		}
		return CallbackResult{Message: "invalid payment callback"}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	order, err := s.orders.FindByOrderNumber(ctx, cb.TxnID)
	if err != nil {
		return CallbackResult{Message: "order not found"}, mapRepositoryError(err)
	}
	if paid, ok := parseAmountMinor(cb.Amount); !ok || paid != order.TotalAmount {
		s.logger(ctx, "order.payment.callback.amount_mismatch", map[string]any{
			"orderId":  order.ID,
			"expected": payments.FormatAmount(order.TotalAmount),
			"received": cb.Amount,
		})
		return CallbackResult{Order: order, Message: "payment verification failed"}, fmt.Errorf("%w: amount mismatch", ErrCallbackIntegrity)
	}

	release, acquired, err := s.guard.Acquire(ctx, order.ID, s.leaseTTL)
	if err != nil {
		return CallbackResult{Order: order, Message: "payment could not be processed"}, fmt.Errorf("%w: callback lease: %v", ErrOrderUnavailable, err)
	}
	if !acquired {
		return CallbackResult{Order: order, Message: "payment is already being processed"}, ErrOrderPaymentInFlight
	}
	defer release(context.WithoutCancel(ctx))

	success := cb.Succeeded()
	message := strings.TrimSpace(cb.FailureReason)
	if !success && message == "" {
		message = "payment failed"
	}

	now := s.now()
	var (
		updated  Order
		restored []StockLine
		changed  bool
	)
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, order.ID)
		if err != nil {
			return mapRepositoryError(err)
		}
		changed, restored, err = s.lifecycle.ApplyPaymentResult(&current, success, cb.GatewayTxnID, message, now)
		if err != nil {
			return err
		}
		updated = current
		if !changed {
			return nil
		}
		if len(restored) > 0 {
			if err := s.inventory.Restore(txCtx, restored); err != nil {
				return err
			}
		}
		if err := s.orders.Update(txCtx, current); err != nil {
			return mapRepositoryError(err)
		}
		if success && current.Status != domain.OrderStatusCancelled {
			if err := s.carts.ClearCart(txCtx, current.UserID); err != nil {
				return mapRepositoryError(err)
			}
		}
		return nil
	})
	if err != nil {
		s.recordSettled("rejected")
		s.logger(ctx, "order.payment.callback.failed", map[string]any{
			"orderId": order.ID,
			"status":  cb.Status,
			"error":   err.Error(),
		})
		return CallbackResult{Order: order, Message: "payment could not be applied"}, err
	}

	if !changed {
		s.recordSettled("duplicate")
		return CallbackResult{Order: updated, Success: updated.PaymentStatus == domain.PaymentStatusPaid, Message: updated.Payment.Message}, nil
	}

	eventType := orderEventPaid
	outcome := "paid"
	switch {
	case !success:
		eventType = orderEventPaymentFailed
		outcome = "failed"
		s.recordRestored(restoreReasonPaymentFailed, restored)
	case updated.Status == domain.OrderStatusCancelled:
		eventType = orderEventRefundDue
		outcome = "paid_after_cancel"
		success = false
		message = updated.Payment.Message
		s.logger(ctx, "order.payment.paid_after_cancel", map[string]any{
			"orderId":              updated.ID,
			"orderNumber":          updated.OrderNumber,
			"amount":               cb.Amount,
			"gatewayTransactionId": cb.GatewayTxnID,
		})
	}
	s.recordSettled(outcome)
	s.publishEvent(ctx, OrderEvent{
		Type:           eventType,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		UserID:         updated.UserID,
		PreviousStatus: string(order.Status),
		CurrentStatus:  string(updated.Status),
		PaymentStatus:  string(updated.PaymentStatus),
		ActorID:        systemActor,
		OccurredAt:     now,
		Metadata: map[string]any{
			"gatewayTransactionId": cb.GatewayTxnID,
			"message":              message,
			"stage":                "callback",
		},
	})
	if success {
		message = ""
	}
	return CallbackResult{Order: updated, Success: success, Message: message}, nil
}

// Cancel cancels an order owned by the caller and gives its stock back once.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	existing, err := s.GetMine(ctx, userID, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if err := s.ensureNotSettling(ctx, existing); err != nil {
		return Order{}, err
	}

	now := s.now()
	var (
		updated  Order
		restored []StockLine
	)
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, existing.ID)
		if err != nil {
			return mapRepositoryError(err)
		}
		if current.UserID != userID {
			return ErrOrderNotFound
		}
		if current.PaymentMethod == domain.PaymentMethodOnline && s.initiatedRecently(current, now) {
			return ErrOrderPaymentInFlight
		}
		restored, err = s.lifecycle.Cancel(&current, cmd.Reason, cmd.Notes, userID, now)
		if err != nil {
			return err
		}
		if len(restored) > 0 {
			if err := s.inventory.Restore(txCtx, restored); err != nil {
				return err
			}
		}
		if err := s.orders.Update(txCtx, current); err != nil {
			return mapRepositoryError(err)
		}
		updated = current
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.recordRestored(restoreReasonCancelled, restored)
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventCancelled,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		UserID:         updated.UserID,
		PreviousStatus: string(existing.Status),
		CurrentStatus:  string(updated.Status),
		PaymentStatus:  string(updated.PaymentStatus),
		ActorID:        userID,
		OccurredAt:     now,
		Metadata: map[string]any{
			"reason":        updated.CancelDetails.Reason,
			"restoredLines": len(restored),
		},
	})
	return updated, nil
}

// UpdateStatus moves an order along the fulfilment track on behalf of staff.
func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, &ValidationError{Fields: map[string]string{"orderId": "is required"}}
	}
	actor := strings.TrimSpace(cmd.ActorID)
	target := OrderStatus(strings.ToLower(strings.TrimSpace(string(cmd.Status))))

	if target == domain.OrderStatusCancelled {
		existing, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return Order{}, mapRepositoryError(err)
		}
		if err := s.ensureNotSettling(ctx, existing); err != nil {
			return Order{}, err
		}
	}

	now := s.now()
	var (
		previous OrderStatus
		updated  Order
		restored []StockLine
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		previous = current.Status
		restored, err = s.lifecycle.UpdateStatus(&current, target, cmd.DeliveryDate, actor, cmd.Reason, now)
		if err != nil {
			return err
		}
		if len(restored) > 0 {
			if err := s.inventory.Restore(txCtx, restored); err != nil {
				return err
			}
		}
		if err := s.orders.Update(txCtx, current); err != nil {
			return mapRepositoryError(err)
		}
		updated = current
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	eventType := orderEventStatusChanged
	if updated.Status == domain.OrderStatusCancelled {
		eventType = orderEventCancelled
		s.recordRestored(restoreReasonCancelled, restored)
	}
	metadata := map[string]any{}
	if updated.DeliveryDate != nil {
		metadata["deliveryDate"] = updated.DeliveryDate.Format(time.RFC3339)
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           eventType,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		UserID:         updated.UserID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(updated.Status),
		PaymentStatus:  string(updated.PaymentStatus),
		ActorID:        actor,
		OccurredAt:     now,
		Metadata:       metadata,
	})
	return updated, nil
}

// ListMine returns the caller's orders, newest first.
func (s *orderService) ListMine(ctx context.Context, userID string) ([]Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	orders, err := s.orders.ListByUser(ctx, repositories.OrderListFilter{UserID: userID, Limit: s.listLimit})
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	if orders == nil {
		orders = []Order{}
	}
	return orders, nil
}

// GetMine loads an order owned by userID. Orders of other users are reported as not found.
func (s *orderService) GetMine(ctx context.Context, userID, orderID string) (Order, error) {
	userID = strings.TrimSpace(userID)
	orderID = strings.TrimSpace(orderID)
	if userID == "" || orderID == "" {
		return Order{}, fmt.Errorf("%w: user id and order id are required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	if order.UserID != userID {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

// GetByTracking loads an order owned by userID by its tracking number.
func (s *orderService) GetByTracking(ctx context.Context, userID, trackingNumber string) (Order, error) {
	userID = strings.TrimSpace(userID)
	trackingNumber = strings.ToUpper(strings.TrimSpace(trackingNumber))
	if userID == "" || trackingNumber == "" {
		return Order{}, fmt.Errorf("%w: user id and tracking number are required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByTrackingNumber(ctx, trackingNumber)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	if order.UserID != userID {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

func (s *orderService) ensureNotSettling(ctx context.Context, order Order) error {
	if order.PaymentMethod != domain.PaymentMethodOnline {
		return nil
	}
	held, err := s.guard.Held(ctx, order.ID)
	if err != nil {
		return fmt.Errorf("%w: callback lease: %v", ErrOrderUnavailable, err)
	}
	if held || s.initiatedRecently(order, s.now()) {
		return ErrOrderPaymentInFlight
	}
	return nil
}

func (s *orderService) initiatedRecently(order Order, now time.Time) bool {
	if order.PaymentStatus != domain.PaymentStatusInitiated || order.Payment.InitiatedAt == nil {
		return false
	}
	return now.Sub(*order.Payment.InitiatedAt) < s.settlementWindow
}

func (s *orderService) withinSettlementWindow(order Order) bool {
	return s.initiatedRecently(order, s.now())
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

func (s *orderService) recordPlaced(method PaymentMethod, outcome string) {
	if s.metrics != nil {
		s.metrics.OrderPlaced(method, outcome)
	}
}

func (s *orderService) recordSettled(outcome string) {
	if s.metrics != nil {
		s.metrics.PaymentSettled(outcome)
	}
}

func (s *orderService) recordRestored(reason string, lines []StockLine) {
	if s.metrics == nil || len(lines) == 0 {
		return
	}
	units := 0
	for _, line := range lines {
		units += line.Quantity
	}
	s.metrics.StockRestored(reason, units)
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type noopCallbackGuard struct{}

func (noopCallbackGuard) Acquire(context.Context, string, time.Duration) (func(context.Context), bool, error) {
	return func(context.Context) {}, true, nil
}

func (noopCallbackGuard) Held(context.Context, string) (bool, error) { return false, nil }

func normalizeAddress(addr Address, verr *ValidationError) Address {
	clean := func(field, value string, required bool) string {
		out, ok := sanitizeText(value, 200)
		if !ok {
			verr.add("shippingAddress."+field, "is too long")
		}
		if required && out == "" {
			verr.add("shippingAddress."+field, "is required")
		}
		return out
	}
	out := Address{
		FullName:   clean("fullName", addr.FullName, true),
		Phone:      clean("phone", addr.Phone, true),
		Line1:      clean("line1", addr.Line1, true),
		Line2:      clean("line2", addr.Line2, false),
		City:       clean("city", addr.City, true),
		State:      clean("state", addr.State, false),
		PostalCode: clean("postalCode", addr.PostalCode, true),
		Country:    strings.ToUpper(clean("country", addr.Country, false)),
	}
	if out.Country == "" {
		out.Country = defaultCountry
	}
	return out
}

func cartProductRefs(items []CartItem) []string {
	seen := make(map[string]struct{}, len(items))
	refs := make([]string, 0, len(items))
	for _, item := range items {
		ref := strings.TrimSpace(item.ProductRef)
		if ref == "" {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}
	return refs
}

func mapIdentifierError(err error) error {
	if errors.Is(err, ErrIdentifierExhausted) {
		return fmt.Errorf("%w: %v", ErrOrderConflict, err)
	}
	return mapRepositoryError(err)
}

func placementOutcome(err error) string {
	switch {
	case errors.Is(err, ErrInventoryInsufficientStock):
		return "out_of_stock"
	case errors.Is(err, ErrOrderEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrOrderInvalidInput), errors.Is(err, ErrOrderProductNotFound):
		return "invalid"
	case errors.Is(err, ErrOrderConflict):
		return "conflict"
	default:
		return "error"
	}
}

func firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// parseAmountMinor reads a gateway decimal amount such as "71.00" into minor units.
func parseAmountMinor(raw string) (int64, bool) {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return 0, false
	}
	return int64(math.Round(value * 100)), true
}
