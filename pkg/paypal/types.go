package paypal

import "time"

// Order statuses returned by the /v2/checkout/orders endpoints.
const (
	OrderStatusCreated             = "CREATED"
	OrderStatusApproved            = "APPROVED"
	OrderStatusCompleted           = "COMPLETED"
	OrderStatusPayerActionRequired = "PAYER_ACTION_REQUIRED"
)

// Billing subscription statuses returned by /v1/billing/subscriptions.
const (
	SubscriptionStatusApprovalPending = "APPROVAL_PENDING"
	SubscriptionStatusActive          = "ACTIVE"
	SubscriptionStatusSuspended       = "SUSPENDED"
	SubscriptionStatusCancelled       = "CANCELLED"
	SubscriptionStatusExpired         = "EXPIRED"
)

// IssueInstrumentDeclined is the processor issue code for a declined
// funding instrument. The buyer may retry with a different instrument.
const IssueInstrumentDeclined = "INSTRUMENT_DECLINED"

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Amount is a currency value in PayPal's string representation.
type Amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

// PurchaseUnit is one priced unit on an order.
type PurchaseUnit struct {
	ReferenceID string    `json:"reference_id,omitempty"`
	CustomID    string    `json:"custom_id,omitempty"`
	Description string    `json:"description,omitempty"`
	Amount      Amount    `json:"amount"`
	Payments    *Payments `json:"payments,omitempty"`
}

// Payments holds the captures/refunds recorded against a purchase unit.
type Payments struct {
	Captures []Capture `json:"captures,omitempty"`
	Refunds  []Refund  `json:"refunds,omitempty"`
}

// Capture is one completed or pending capture.
type Capture struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Amount       Amount `json:"amount"`
	FinalCapture bool   `json:"final_capture,omitempty"`
	CreateTime   string `json:"create_time,omitempty"`
	UpdateTime   string `json:"update_time,omitempty"`
}

// Refund is one refund against a capture.
type Refund struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Amount     Amount `json:"amount"`
	CreateTime string `json:"create_time,omitempty"`
}

// Payer identifies the approving buyer on an order.
type Payer struct {
	PayerID string     `json:"payer_id,omitempty"`
	Email   string     `json:"email_address,omitempty"`
	Name    *PayerName `json:"name,omitempty"`
}

// PayerName is the buyer's split name.
type PayerName struct {
	GivenName string `json:"given_name,omitempty"`
	Surname   string `json:"surname,omitempty"`
}

// Order is the /v2/checkout/orders resource.
type Order struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	Intent        string         `json:"intent,omitempty"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units,omitempty"`
	Payer         *Payer         `json:"payer,omitempty"`
	Links         []Link         `json:"links,omitempty"`
	CreateTime    string         `json:"create_time,omitempty"`
}

// Link is a HATEOAS link on a PayPal resource.
type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

// CreateOrderParams builds a capture-intent order.
type CreateOrderParams struct {
	PurchaseUnits []PurchaseUnit
}

type createOrderRequest struct {
	Intent        string         `json:"intent"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units"`
}

// RefundCaptureParams refunds a capture; a zero Amount refunds in full.
type RefundCaptureParams struct {
	Amount      *Amount `json:"amount,omitempty"`
	NoteToPayer string  `json:"note_to_payer,omitempty"`
}

// BillingSubscription is the /v1/billing/subscriptions resource.
type BillingSubscription struct {
	ID               string                   `json:"id"`
	PlanID           string                   `json:"plan_id,omitempty"`
	Status           string                   `json:"status"`
	StatusUpdateTime string                   `json:"status_update_time,omitempty"`
	Subscriber       *Subscriber              `json:"subscriber,omitempty"`
	BillingInfo      *SubscriptionBillingInfo `json:"billing_info,omitempty"`
	Links            []Link                   `json:"links,omitempty"`
}

// Subscriber is the buyer attached to a billing subscription.
type Subscriber struct {
	Email string     `json:"email_address,omitempty"`
	Name  *PayerName `json:"name,omitempty"`
}

// SubscriptionBillingInfo carries cycle accounting for a subscription.
type SubscriptionBillingInfo struct {
	NextBillingTime     *time.Time   `json:"next_billing_time,omitempty"`
	FailedPaymentsCount int          `json:"failed_payments_count,omitempty"`
	LastPayment         *LastPayment `json:"last_payment,omitempty"`
}

// LastPayment records the most recent collected cycle payment.
type LastPayment struct {
	Amount Amount     `json:"amount"`
	Time   *time.Time `json:"time,omitempty"`
}

// CreateSubscriptionParams starts a billing subscription against a plan.
type CreateSubscriptionParams struct {
	PlanID     string      `json:"plan_id"`
	CustomID   string      `json:"custom_id,omitempty"`
	Subscriber *Subscriber `json:"subscriber,omitempty"`
}

type subscriptionReasonRequest struct {
	Reason string `json:"reason"`
}

// VerifyWebhookSignatureParams carries the headers PayPal signs plus the raw
// event body.
type VerifyWebhookSignatureParams struct {
	AuthAlgo         string `json:"auth_algo"`
	CertURL          string `json:"cert_url"`
	TransmissionID   string `json:"transmission_id"`
	TransmissionSig  string `json:"transmission_sig"`
	TransmissionTime string `json:"transmission_time"`
	WebhookID        string `json:"webhook_id"`
	WebhookEvent     any    `json:"webhook_event"`
}

type verifyWebhookSignatureResponse struct {
	VerificationStatus string `json:"verification_status"`
}

// WebhookEvent is the envelope PayPal posts to webhook listeners.
type WebhookEvent struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	ResourceType string          `json:"resource_type,omitempty"`
	Summary      string          `json:"summary,omitempty"`
	Resource     WebhookResource `json:"resource"`
	CreateTime   string          `json:"create_time,omitempty"`
}

// WebhookResource is the union of resource fields the billing events carry.
type WebhookResource struct {
	ID                 string  `json:"id"`
	Status             string  `json:"status,omitempty"`
	BillingAgreementID string  `json:"billing_agreement_id,omitempty"`
	CustomID           string  `json:"custom_id,omitempty"`
	Amount             *Amount `json:"amount,omitempty"`
}

// ErrorDetail is one entry of a PayPal error body's details array.
type ErrorDetail struct {
	Issue       string `json:"issue"`
	Description string `json:"description,omitempty"`
	Field       string `json:"field,omitempty"`
}

type errorResponse struct {
	Name    string        `json:"name"`
	Message string        `json:"message"`
	DebugID string        `json:"debug_id"`
	Details []ErrorDetail `json:"details"`
}
