package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/recurforge/commerce-backend/api/middleware"
	"github.com/recurforge/commerce-backend/api/responses"
	"github.com/recurforge/commerce-backend/api/validators"
	"github.com/recurforge/commerce-backend/internal/customers"
	subscriptionsvc "github.com/recurforge/commerce-backend/internal/subscriptions"
	"github.com/recurforge/commerce-backend/pkg/db/models"
	"github.com/recurforge/commerce-backend/pkg/enums"
	pkgerrors "github.com/recurforge/commerce-backend/pkg/errors"
	"github.com/recurforge/commerce-backend/pkg/logger"
)

// Stubbed in tests to pin the clock.
var timeNow = func() time.Time { return time.Now().UTC() }

// CustomerSubscriptions lists every subscription a customer holds,
// terminal ones included. Status is reported lazily so a lapsed row reads
// expired before the sweep touches it.
func CustomerSubscriptions(svc *customers.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := pathUUID(r, "customerId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := authorizeCustomer(r, customerID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		subs, err := svc.Subscriptions(r.Context(), customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]subscriptionResponse, 0, len(subs))
		for i := range subs {
			resp := newSubscriptionResponse(&subs[i])
			resp.Status = string(subscriptionsvc.EffectiveStatus(&subs[i], timeNow()))
			out = append(out, resp)
		}
		responses.WriteSuccess(w, map[string]any{"subscriptions": out})
	}
}

// SubscriptionDetail returns one subscription with its lazily computed
// status.
func SubscriptionDetail(svc subscriptionsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := ownedSubscriptionFromPath(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		resp := newSubscriptionResponse(sub)
		resp.Status = string(subscriptionsvc.EffectiveStatus(sub, timeNow()))
		responses.WriteSuccess(w, resp)
	}
}

type cancelRequest struct {
	Immediately bool `json:"immediately"`
}

// SubscriptionCancel stops future billing. Default is period-end so the
// customer keeps the time already paid for.
func SubscriptionCancel(svc subscriptionsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := ownedSubscriptionFromPath(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id := sub.ID
		var payload cancelRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		if err := svc.Cancel(r.Context(), id, payload.Immediately); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeSubscription(w, r, svc, id, logg)
	}
}

// SubscriptionReactivate undoes a cancellation that has not reached its
// paid-through date yet.
func SubscriptionReactivate(svc subscriptionsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := ownedSubscriptionFromPath(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id := sub.ID
		if err := svc.Reactivate(r.Context(), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeSubscription(w, r, svc, id, logg)
	}
}

// SubscriptionRetry asks the gateway to collect the outstanding payment
// on a failing subscription. Recovery is confirmed by webhook, not here.
func SubscriptionRetry(svc subscriptionsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := ownedSubscriptionFromPath(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id := sub.ID
		if err := svc.Retry(r.Context(), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeSubscription(w, r, svc, id, logg)
	}
}

type paymentMethodRequest struct {
	Token string `json:"token" validate:"required"`
}

// SubscriptionPaymentMethod swaps the payment instrument backing the
// profile on gateways that support it.
func SubscriptionPaymentMethod(svc subscriptionsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := ownedSubscriptionFromPath(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id := sub.ID
		var payload paymentMethodRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.UpdatePaymentMethod(r.Context(), id, payload.Token); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeSubscription(w, r, svc, id, logg)
	}
}

func subscriptionFromPath(r *http.Request, svc subscriptionsvc.Service) (*models.Subscription, error) {
	id, err := pathUUID(r, "subscriptionId")
	if err != nil {
		return nil, err
	}
	return svc.Get(r.Context(), id)
}

// ownedSubscriptionFromPath loads the subscription and rejects callers
// acting on a subscription they do not own.
func ownedSubscriptionFromPath(r *http.Request, svc subscriptionsvc.Service) (*models.Subscription, error) {
	sub, err := subscriptionFromPath(r, svc)
	if err != nil {
		return nil, err
	}
	if err := authorizeCustomer(r, sub.CustomerID); err != nil {
		return nil, err
	}
	return sub, nil
}

// authorizeCustomer checks the caller identity seeded by the auth
// middleware against the customer that owns the resource. Admin tokens
// may act on any customer's records.
func authorizeCustomer(r *http.Request, customerID uuid.UUID) error {
	ctx := r.Context()
	if middleware.RoleFromContext(ctx) == string(enums.ActorRoleAdmin) {
		return nil
	}
	if middleware.CustomerIDFromContext(ctx) != customerID.String() {
		return pkgerrors.New(pkgerrors.CodeForbidden, "resource belongs to another customer")
	}
	return nil
}

func writeSubscription(w http.ResponseWriter, r *http.Request, svc subscriptionsvc.Service, id uuid.UUID, logg *logger.Logger) {
	sub, err := svc.Get(r.Context(), id)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	resp := newSubscriptionResponse(sub)
	resp.Status = string(subscriptionsvc.EffectiveStatus(sub, timeNow()))
	responses.WriteSuccess(w, resp)
}

func pathUUID(r *http.Request, param string) (uuid.UUID, error) {
	raw := chi.URLParam(r, param)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+param)
	}
	return id, nil
}
