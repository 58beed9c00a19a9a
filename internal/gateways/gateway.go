package gateways

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/recurforge/commerce-backend/pkg/db/models"
	"github.com/recurforge/commerce-backend/pkg/enums"
	pkgerrors "github.com/recurforge/commerce-backend/pkg/errors"
)

// FailedLine marks one subscription line the gateway rejected during
// profile creation. Rejection is data, not an error: the orchestrator
// prunes failed lines and continues with the survivors.
type FailedLine struct {
	Index  int
	Reason string
}

// Session is the per-checkout transient state handed to an adapter.
type Session struct {
	Order         *models.Order
	Customer      *models.Customer
	Subscriptions []*models.Subscription
	Failed        []FailedLine

	// PaymentPayload carries gateway-specific checkout inputs, e.g. a
	// vaulted card source id for on-site gateways.
	PaymentPayload map[string]string

	// GatewayOrderID is set by off-site adapters once the processor-side
	// order exists and the buyer must approve it externally.
	GatewayOrderID string

	// TransactionID is set by on-site adapters that collect payment
	// synchronously during profile creation.
	TransactionID string

	Currency enums.Currency
	Mode     enums.GatewayMode
}

// Fail marks the line at index as rejected.
func (s *Session) Fail(index int, reason string) {
	s.Failed = append(s.Failed, FailedLine{Index: index, Reason: reason})
}

// FailedIndex reports whether the line at index was rejected.
func (s *Session) FailedIndex(index int) bool {
	for _, f := range s.Failed {
		if f.Index == index {
			return true
		}
	}
	return false
}

// Surviving returns the subscription lines the gateway accepted.
func (s *Session) Surviving() []*models.Subscription {
	if len(s.Failed) == 0 {
		return s.Subscriptions
	}
	out := make([]*models.Subscription, 0, len(s.Subscriptions))
	for i, sub := range s.Subscriptions {
		if s.FailedIndex(i) {
			continue
		}
		out = append(out, sub)
	}
	return out
}

// AllFailed reports whether the gateway rejected every line.
func (s *Session) AllFailed() bool {
	return len(s.Subscriptions) > 0 && len(s.Failed) >= len(s.Subscriptions)
}

// RemoteDetails is the processor-side view of a subscription profile.
type RemoteDetails struct {
	ProfileID           string
	Status              string
	NextBillingTime     *time.Time
	FailedPaymentsCount int
}

// Adapter is the contract every payment gateway implements. Lifecycle
// support is opt-in: the capability predicates gate which operations the
// API exposes for profiles on this gateway.
type Adapter interface {
	ID() string

	// Offsite reports whether payment completes outside our checkout
	// (approval redirect + asynchronous capture).
	Offsite() bool

	CanCancel(sub *models.Subscription) bool
	CanReactivate(sub *models.Subscription) bool
	CanRetry(sub *models.Subscription) bool
	CanUpdate(sub *models.Subscription) bool

	// CreateProfiles registers the session's subscription lines with the
	// processor. Per-line rejections are recorded on the session.
	CreateProfiles(ctx context.Context, session *Session) error

	Cancel(ctx context.Context, sub *models.Subscription, atPeriodEnd bool) error
	CancelImmediately(ctx context.Context, sub *models.Subscription) error
	Reactivate(ctx context.Context, sub *models.Subscription) error
	Retry(ctx context.Context, sub *models.Subscription) error
	UpdatePaymentMethod(ctx context.Context, sub *models.Subscription, token string) error
	SubscriptionDetails(ctx context.Context, sub *models.Subscription) (*RemoteDetails, error)
}

// BaseAdapter supplies conservative defaults so adapters only implement
// the lifecycle surface their processor supports.
type BaseAdapter struct{}

func (BaseAdapter) Offsite() bool                           { return false }
func (BaseAdapter) CanCancel(*models.Subscription) bool     { return false }
func (BaseAdapter) CanReactivate(*models.Subscription) bool { return false }
func (BaseAdapter) CanRetry(*models.Subscription) bool      { return false }
func (BaseAdapter) CanUpdate(*models.Subscription) bool     { return false }

func (BaseAdapter) Cancel(context.Context, *models.Subscription, bool) error {
	return errUnsupported("cancel")
}

func (BaseAdapter) CancelImmediately(context.Context, *models.Subscription) error {
	return errUnsupported("cancel")
}

func (BaseAdapter) Reactivate(context.Context, *models.Subscription) error {
	return errUnsupported("reactivate")
}

func (BaseAdapter) Retry(context.Context, *models.Subscription) error {
	return errUnsupported("retry")
}

func (BaseAdapter) UpdatePaymentMethod(context.Context, *models.Subscription, string) error {
	return errUnsupported("update payment method")
}

func (BaseAdapter) SubscriptionDetails(context.Context, *models.Subscription) (*RemoteDetails, error) {
	return nil, errUnsupported("subscription details")
}

func errUnsupported(op string) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("gateway does not support %s", op))
}

// Registry maps gateway ids to adapters.
type Registry struct {
	mtx      sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds the adapter under its own id; a duplicate id is a
// programming error.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return fmt.Errorf("adapter is required")
	}
	id := adapter.ID()
	if id == "" {
		return fmt.Errorf("adapter id is required")
	}
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if _, exists := r.adapters[id]; exists {
		return fmt.Errorf("gateway %q already registered", id)
	}
	r.adapters[id] = adapter
	return nil
}

// Get resolves the adapter for the gateway id.
func (r *Registry) Get(id string) (Adapter, error) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	adapter, ok := r.adapters[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown gateway %q", id))
	}
	return adapter, nil
}

// IDs lists the registered gateway ids in stable order.
func (r *Registry) IDs() []string {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
