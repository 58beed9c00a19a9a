package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/recurforge/commerce-backend/pkg/config"
	pkgerrors "github.com/recurforge/commerce-backend/pkg/errors"
	"github.com/recurforge/commerce-backend/pkg/logger"
)

const (
	sandboxEnv = "sandbox"
	liveEnv    = "live"

	tokenExpirySlack = 30 * time.Second
)

var (
	errClientIDRequired = errors.New("paypal client id is required")
	errSecretRequired   = errors.New("paypal secret is required")
	errInvalidEnv       = fmt.Errorf("paypal environment must be %q or %q", sandboxEnv, liveEnv)
	errLoggerRequired   = errors.New("paypal logger is required")
)

var baseURLs = map[string]string{
	sandboxEnv: "https://api-m.sandbox.paypal.com",
	liveEnv:    "https://api-m.paypal.com",
}

// APIError is a decoded PayPal error body plus the HTTP status it rode in on.
type APIError struct {
	StatusCode int
	Name       string
	Message    string
	DebugID    string
	Details    []ErrorDetail
}

func (e *APIError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("paypal: %s (%d): %s", e.Name, e.StatusCode, e.Details[0].Issue)
	}
	return fmt.Sprintf("paypal: %s (%d): %s", e.Name, e.StatusCode, e.Message)
}

// HasIssue reports whether err is a PayPal API error carrying the given
// details issue code.
func HasIssue(err error, issue string) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, detail := range apiErr.Details {
		if detail.Issue == issue {
			return true
		}
	}
	return false
}

// IsInstrumentDeclined reports whether the capture failed because the
// funding instrument was declined.
func IsInstrumentDeclined(err error) bool {
	return HasIssue(err, IssueInstrumentDeclined)
}

// Client exposes the PayPal REST primitives with centralized auth, logging,
// and error mapping.
type Client struct {
	httpClient *http.Client
	baseURL    string
	clientID   string
	secret     string
	webhookID  string
	env        string
	logger     *logger.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// Option overrides client construction defaults.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL overrides the environment base URL.
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(base, "/") }
}

// NewClient initializes the PayPal wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.PayPalConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		return nil, errClientIDRequired
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errSecretRequired
	}

	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURLs[env],
		clientID:   clientID,
		secret:     secret,
		webhookID:  strings.TrimSpace(cfg.WebhookID),
		env:        env,
		logger:     logg,
	}
	for _, opt := range opts {
		opt(c)
	}

	logg.Info(ctx, "paypal client initialized")
	return c, nil
}

// Environment reports the normalized PayPal environment.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.env
}

// WebhookID returns the configured webhook listener id.
func (c *Client) WebhookID() string {
	if c == nil {
		return ""
	}
	return c.webhookID
}

// CreateOrder creates a capture-intent checkout order.
func (c *Client) CreateOrder(ctx context.Context, params CreateOrderParams) (*Order, error) {
	if len(params.PurchaseUnits) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one purchase unit is required")
	}
	req := createOrderRequest{Intent: "CAPTURE", PurchaseUnits: params.PurchaseUnits}
	c.log(ctx, "request", "create_order", map[string]any{"units": len(params.PurchaseUnits)})

	var order Order
	if err := c.do(ctx, http.MethodPost, "/v2/checkout/orders", req, &order); err != nil {
		c.log(ctx, "error", "create_order", map[string]any{"error": err.Error()})
		return nil, c.mapError(err, "create order")
	}

	c.log(ctx, "response", "create_order", map[string]any{"order_id": order.ID, "status": order.Status})
	return &order, nil
}

// GetOrder fetches an order by id.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	c.log(ctx, "request", "get_order", map[string]any{"order_id": orderID})

	var order Order
	path := "/v2/checkout/orders/" + url.PathEscape(orderID)
	if err := c.do(ctx, http.MethodGet, path, nil, &order); err != nil {
		c.log(ctx, "error", "get_order", map[string]any{"error": err.Error()})
		return nil, c.mapError(err, "get order")
	}

	c.log(ctx, "response", "get_order", map[string]any{"order_id": order.ID, "status": order.Status})
	return &order, nil
}

// CaptureOrder captures an approved order. INSTRUMENT_DECLINED surfaces as a
// retryable gateway error distinguishable via IsInstrumentDeclined.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*Order, error) {
	c.log(ctx, "request", "capture_order", map[string]any{"order_id": orderID})

	var order Order
	path := "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	if err := c.do(ctx, http.MethodPost, path, struct{}{}, &order); err != nil {
		c.log(ctx, "error", "capture_order", map[string]any{"error": err.Error()})
		return nil, c.mapError(err, "capture order")
	}

	c.log(ctx, "response", "capture_order", map[string]any{"order_id": order.ID, "status": order.Status})
	return &order, nil
}

// RefundCapture refunds a capture, partially when params.Amount is set.
func (c *Client) RefundCapture(ctx context.Context, captureID string, params RefundCaptureParams) (*Refund, error) {
	c.log(ctx, "request", "refund_capture", map[string]any{"capture_id": captureID})

	var refund Refund
	path := "/v2/payments/captures/" + url.PathEscape(captureID) + "/refund"
	if err := c.do(ctx, http.MethodPost, path, params, &refund); err != nil {
		c.log(ctx, "error", "refund_capture", map[string]any{"error": err.Error()})
		return nil, c.mapError(err, "refund capture")
	}

	c.log(ctx, "response", "refund_capture", map[string]any{"refund_id": refund.ID, "status": refund.Status})
	return &refund, nil
}

// CreateSubscription starts a billing subscription against a plan.
func (c *Client) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*BillingSubscription, error) {
	if strings.TrimSpace(params.PlanID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan id is required")
	}
	c.log(ctx, "request", "create_subscription", map[string]any{"plan_id": params.PlanID, "custom_id": params.CustomID})

	var sub BillingSubscription
	if err := c.do(ctx, http.MethodPost, "/v1/billing/subscriptions", params, &sub); err != nil {
		c.log(ctx, "error", "create_subscription", map[string]any{"error": err.Error()})
		return nil, c.mapError(err, "create subscription")
	}

	c.log(ctx, "response", "create_subscription", map[string]any{"subscription_id": sub.ID, "status": sub.Status})
	return &sub, nil
}

// GetSubscription fetches a billing subscription by id.
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*BillingSubscription, error) {
	c.log(ctx, "request", "get_subscription", map[string]any{"subscription_id": subscriptionID})

	var sub BillingSubscription
	path := "/v1/billing/subscriptions/" + url.PathEscape(subscriptionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &sub); err != nil {
		c.log(ctx, "error", "get_subscription", map[string]any{"error": err.Error()})
		return nil, c.mapError(err, "get subscription")
	}

	c.log(ctx, "response", "get_subscription", map[string]any{"subscription_id": sub.ID, "status": sub.Status})
	return &sub, nil
}

// CancelSubscription cancels a billing subscription.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID, reason string) error {
	c.log(ctx, "request", "cancel_subscription", map[string]any{"subscription_id": subscriptionID})

	path := "/v1/billing/subscriptions/" + url.PathEscape(subscriptionID) + "/cancel"
	if err := c.do(ctx, http.MethodPost, path, subscriptionReasonRequest{Reason: reason}, nil); err != nil {
		c.log(ctx, "error", "cancel_subscription", map[string]any{"error": err.Error()})
		return c.mapError(err, "cancel subscription")
	}

	c.log(ctx, "response", "cancel_subscription", map[string]any{"subscription_id": subscriptionID})
	return nil
}

// ActivateSubscription reactivates a suspended billing subscription.
func (c *Client) ActivateSubscription(ctx context.Context, subscriptionID, reason string) error {
	c.log(ctx, "request", "activate_subscription", map[string]any{"subscription_id": subscriptionID})

	path := "/v1/billing/subscriptions/" + url.PathEscape(subscriptionID) + "/activate"
	if err := c.do(ctx, http.MethodPost, path, subscriptionReasonRequest{Reason: reason}, nil); err != nil {
		c.log(ctx, "error", "activate_subscription", map[string]any{"error": err.Error()})
		return c.mapError(err, "activate subscription")
	}

	c.log(ctx, "response", "activate_subscription", map[string]any{"subscription_id": subscriptionID})
	return nil
}

// VerifyWebhookSignature asks PayPal to validate the signed transmission
// headers against the configured webhook listener.
func (c *Client) VerifyWebhookSignature(ctx context.Context, params VerifyWebhookSignatureParams) (bool, error) {
	if params.WebhookID == "" {
		params.WebhookID = c.webhookID
	}
	if params.WebhookID == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "webhook id is required")
	}
	c.log(ctx, "request", "verify_webhook_signature", map[string]any{"transmission_id": params.TransmissionID})

	var resp verifyWebhookSignatureResponse
	if err := c.do(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", params, &resp); err != nil {
		c.log(ctx, "error", "verify_webhook_signature", map[string]any{"error": err.Error()})
		return false, c.mapError(err, "verify webhook signature")
	}

	verified := resp.VerificationStatus == "SUCCESS"
	c.log(ctx, "response", "verify_webhook_signature", map[string]any{"verified": verified})
	return verified, nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-tokenExpirySlack)) {
		return c.accessToken, nil
	}

	form := strings.NewReader("grant_type=client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", form)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.clientID, c.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting paypal token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading paypal token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", decodeAPIError(resp.StatusCode, body)
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("decoding paypal token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("paypal token response missing access_token")
	}

	c.accessToken = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding paypal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling paypal: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("reading paypal response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding paypal response: %w", err)
	}
	return nil
}

func decodeAPIError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status}
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil {
		apiErr.Name = parsed.Name
		apiErr.Message = parsed.Message
		apiErr.DebugID = parsed.DebugID
		apiErr.Details = parsed.Details
	}
	if apiErr.Name == "" {
		apiErr.Name = http.StatusText(status)
	}
	return apiErr
}

func (c *Client) mapError(err error, op string) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		code := domainCodeForStatus(apiErr.StatusCode)
		if IsInstrumentDeclined(err) {
			code = pkgerrors.CodeGateway
		}
		return pkgerrors.Wrap(code, err, fmt.Sprintf("paypal %s failed", op))
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("paypal %s failed", op))
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	case http.StatusBadRequest:
		return pkgerrors.CodeValidation
	case http.StatusUnprocessableEntity:
		return pkgerrors.CodeGateway
	default:
		if status >= 400 && status < 500 {
			return pkgerrors.CodeValidation
		}
		return pkgerrors.CodeDependency
	}
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = c.redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("paypal %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("paypal %s", phase))
	}
}

func (c *Client) redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"token", "secret", "email", "payer"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = sandboxEnv
	}
	switch env {
	case sandboxEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidEnv
	}
}
