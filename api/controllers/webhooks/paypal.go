// Package webhooks exposes the processor-facing callback endpoints.
package webhooks

import (
	"io"
	"net/http"

	"github.com/recurforge/commerce-backend/api/responses"
	paypalwebhook "github.com/recurforge/commerce-backend/internal/webhooks/paypal"
	pkgerrors "github.com/recurforge/commerce-backend/pkg/errors"
	"github.com/recurforge/commerce-backend/pkg/logger"
)

// Webhook deliveries are capped well under this; anything larger is not
// a PayPal event.
const maxWebhookBody = 1 << 20

// PayPalWebhook receives billing event deliveries. The body is passed
// through verbatim because signature verification covers the raw bytes.
func PayPalWebhook(svc *paypalwebhook.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read webhook body"))
			return
		}

		err = svc.HandleWebhook(r.Context(), paypalwebhook.WebhookRequest{
			AuthAlgo:         r.Header.Get("Paypal-Auth-Algo"),
			CertURL:          r.Header.Get("Paypal-Cert-Url"),
			TransmissionID:   r.Header.Get("Paypal-Transmission-Id"),
			TransmissionSig:  r.Header.Get("Paypal-Transmission-Sig"),
			TransmissionTime: r.Header.Get("Paypal-Transmission-Time"),
			Body:             body,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "received"})
	}
}
