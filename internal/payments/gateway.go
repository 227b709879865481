package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultGatewayTimeout  = 15 * time.Second
	defaultServiceProvider = "payu_paisa"
	defaultPayerName       = "Customer"
	defaultPayerPhone      = "0000000000"
	maxGatewayBody         = 1 << 20
)

var (
	// ErrCallbackIntegrity is returned when a callback signature does not match the recomputed digest.
	ErrCallbackIntegrity = errors.New("payments: callback signature mismatch")
	// ErrCallbackInvalid is returned when a callback lacks the fields needed to verify it.
	ErrCallbackInvalid = errors.New("payments: callback is missing required fields")
	// ErrInvalidRequest is returned when an initiation request fails local validation.
	ErrInvalidRequest = errors.New("payments: invalid initiation request")
)

// GatewayErrorKind separates refusals by the gateway from failures to reach it.
type GatewayErrorKind string

const (
	GatewayRejected    GatewayErrorKind = "rejected"
	GatewayUnreachable GatewayErrorKind = "unreachable"
)

// GatewayError describes a failed initiation.
type GatewayError struct {
	Kind    GatewayErrorKind
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("payments: gateway %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("payments: gateway %s: %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// InitiateRequest carries the order fields the gateway needs. Amount is in minor units.
type InitiateRequest struct {
	OrderID     string
	OrderNumber string
	Amount      int64
	FirstName   string
	Email       string
	Phone       string
}

// InitiateResult is the hosted payment page for the order.
type InitiateResult struct {
	PaymentURL    string
	AccessKey     string
	TransactionID string
	Message       string
}

// Callback is the signed payload the gateway posts back after the customer pays.
type Callback struct {
	Status        string
	TxnID         string
	Amount        string
	ProductInfo   string
	FirstName     string
	Email         string
	Key           string
	Hash          string
	GatewayTxnID  string
	FailureReason string
}

// Succeeded reports whether the gateway marked the payment as successful.
func (c Callback) Succeeded() bool {
	return strings.EqualFold(strings.TrimSpace(c.Status), "success")
}

// ParseCallback reads the callback fields from query or form values.
func ParseCallback(values url.Values) Callback {
	get := func(key string) string { return strings.TrimSpace(values.Get(key)) }
	reason := get("error_Message")
	if reason == "" {
		reason = get("error")
	}
	return Callback{
		Status:        get("status"),
		TxnID:         get("txnid"),
		Amount:        get("amount"),
		ProductInfo:   get("productinfo"),
		FirstName:     get("firstname"),
		Email:         get("email"),
		Key:           get("key"),
		Hash:          get("hash"),
		GatewayTxnID:  get("easepayid"),
		FailureReason: reason,
	}
}

// Gateway is the contract the order service depends on.
type Gateway interface {
	Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error)
	VerifyCallback(cb Callback) error
}

// GatewayLogger records gateway interactions without exposing credentials.
type GatewayLogger func(ctx context.Context, event string, fields map[string]any)

// HostedGatewayConfig configures the hosted checkout client.
type HostedGatewayConfig struct {
	BaseURL         string
	Key             string
	Salt            string
	FrontendURL     string
	ServiceProvider string
	Timeout         time.Duration
	HTTPClient      *http.Client
	Logger          GatewayLogger
}

// HostedGateway talks to a hash-signed hosted payment page provider over form-encoded HTTP.
type HostedGateway struct {
	baseURL         string
	key             string
	salt            string
	frontendURL     string
	serviceProvider string
	client          *http.Client
	logger          GatewayLogger
}

var _ Gateway = (*HostedGateway)(nil)

// NewHostedGateway validates the configuration and builds the client.
func NewHostedGateway(cfg HostedGatewayConfig) (*HostedGateway, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("payments: gateway base url is required")
	}
	if strings.TrimSpace(cfg.Key) == "" || strings.TrimSpace(cfg.Salt) == "" {
		return nil, errors.New("payments: gateway key and salt are required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	provider := strings.TrimSpace(cfg.ServiceProvider)
	if provider == "" {
		provider = defaultServiceProvider
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &HostedGateway{
		baseURL:         baseURL,
		key:             strings.TrimSpace(cfg.Key),
		salt:            strings.TrimSpace(cfg.Salt),
		frontendURL:     strings.TrimRight(strings.TrimSpace(cfg.FrontendURL), "/"),
		serviceProvider: provider,
		client:          client,
		logger:          logger,
	}, nil
}

type initiateResponse struct {
	Status    int             `json:"status"`
	Data      json.RawMessage `json:"data"`
	Message   string          `json:"message"`
	ErrorDesc string          `json:"error_desc"`
}

// Initiate requests a payment link for the order.
func (g *HostedGateway) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	if err := validateInitiate(req); err != nil {
		return InitiateResult{}, err
	}

	form := g.initiateForm(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/payment/initiateLink", strings.NewReader(form.Encode()))
	if err != nil {
		return InitiateResult{}, &GatewayError{Kind: GatewayUnreachable, Message: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		g.logger(ctx, "payments.gateway.unreachable", map[string]any{
			"orderNumber": req.OrderNumber,
			"error":       err.Error(),
		})
		return InitiateResult{}, &GatewayError{Kind: GatewayUnreachable, Message: "payment gateway is not responding", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxGatewayBody))
	if err != nil {
		return InitiateResult{}, &GatewayError{Kind: GatewayUnreachable, Message: "read gateway response", Err: err}
	}

	var decoded initiateResponse
	decodeErr := json.Unmarshal(body, &decoded)

	if resp.StatusCode >= http.StatusInternalServerError {
		return InitiateResult{}, &GatewayError{Kind: GatewayUnreachable, Message: gatewayMessage(decoded, resp.Status)}
	}
	if decodeErr != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return InitiateResult{}, &GatewayError{Kind: GatewayRejected, Message: resp.Status}
		}
		return InitiateResult{}, &GatewayError{Kind: GatewayRejected, Message: "invalid response from payment gateway", Err: decodeErr}
	}

	accessKey := accessKeyFrom(decoded.Data)
	if resp.StatusCode >= http.StatusBadRequest || decoded.Status != 1 || accessKey == "" {
		message := gatewayMessage(decoded, "payment initiation failed")
		g.logger(ctx, "payments.gateway.rejected", map[string]any{
			"orderNumber": req.OrderNumber,
			"httpStatus":  resp.StatusCode,
			"message":     message,
		})
		return InitiateResult{}, &GatewayError{Kind: GatewayRejected, Message: message}
	}

	g.logger(ctx, "payments.gateway.initiated", map[string]any{
		"orderNumber": req.OrderNumber,
		"latencyMs":   time.Since(started).Milliseconds(),
	})

	return InitiateResult{
		PaymentURL:    g.baseURL + "/pay/" + url.PathEscape(accessKey),
		AccessKey:     accessKey,
		TransactionID: req.OrderNumber,
		Message:       decoded.Message,
	}, nil
}

// VerifyCallback checks the callback signature against the merchant key and salt. A callback echoing any
// other merchant key is rejected before the digest is computed.
func (g *HostedGateway) VerifyCallback(cb Callback) error {
	if cb.Status == "" || cb.TxnID == "" || cb.Hash == "" {
		return ErrCallbackInvalid
	}
	if cb.Key != "" && cb.Key != g.key {
		return ErrCallbackIntegrity
	}
	expected := ResponseDigest(g.salt, cb.Status, cb.Email, cb.FirstName, cb.ProductInfo, cb.Amount, cb.TxnID, g.key)
	if !DigestEqual(expected, cb.Hash) {
		return ErrCallbackIntegrity
	}
	return nil
}

func (g *HostedGateway) initiateForm(req InitiateRequest) url.Values {
	firstName := strings.TrimSpace(req.FirstName)
	if firstName == "" {
		firstName = defaultPayerName
	}
	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		phone = defaultPayerPhone
	}
	amount := FormatAmount(req.Amount)
	productInfo := "Order " + req.OrderNumber
	email := strings.TrimSpace(req.Email)
	orderID := url.QueryEscape(req.OrderID)

	form := url.Values{}
	form.Set("key", g.key)
	form.Set("txnid", req.OrderNumber)
	form.Set("amount", amount)
	form.Set("firstname", firstName)
	form.Set("email", email)
	form.Set("phone", phone)
	form.Set("productinfo", productInfo)
	form.Set("surl", g.frontendURL+"/payment/success?orderId="+orderID)
	form.Set("furl", g.frontendURL+"/payment/failure?orderId="+orderID)
	form.Set("service_provider", g.serviceProvider)
	form.Set("hash", RequestDigest(g.key, req.OrderNumber, amount, productInfo, firstName, email, g.salt))
	return form
}

// FormatAmount renders minor units with two decimals, e.g. 7100 -> "71.00".
func FormatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

func validateInitiate(req InitiateRequest) error {
	var missing []string
	if strings.TrimSpace(req.OrderID) == "" {
		missing = append(missing, "orderId")
	}
	if strings.TrimSpace(req.OrderNumber) == "" {
		missing = append(missing, "orderNumber")
	}
	if req.Amount <= 0 {
		missing = append(missing, "amount")
	}
	if strings.TrimSpace(req.Email) == "" {
		missing = append(missing, "email")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

func accessKeyFrom(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var key string
	if err := json.Unmarshal(raw, &key); err == nil {
		return strings.TrimSpace(key)
	}
	return ""
}

func gatewayMessage(resp initiateResponse, fallback string) string {
	if msg := strings.TrimSpace(resp.ErrorDesc); msg != "" {
		return msg
	}
	if msg := strings.TrimSpace(resp.Message); msg != "" {
		return msg
	}
	return fallback
}
