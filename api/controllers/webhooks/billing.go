package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/kitafinder-backend/api/responses"
	stripewebhook "github.com/angelmondragon/kitafinder-backend/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/kitafinder-backend/pkg/errors"
	"github.com/angelmondragon/kitafinder-backend/pkg/logger"
	"github.com/angelmondragon/kitafinder-backend/pkg/metrics"
	pkgstripe "github.com/angelmondragon/kitafinder-backend/pkg/stripe"
)

// BillingWebhookService processes a verified event.
type BillingWebhookService interface {
	Process(ctx context.Context, event *stripe.Event) (stripewebhook.Result, error)
}

// EventVerifier authenticates a raw delivery and decodes its envelope.
type EventVerifier interface {
	Verify(payload []byte, signatureHeader string) (*stripe.Event, error)
}

type ack struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// BillingWebhook accepts processor deliveries. A 200 tells the processor to
// stop retrying; any 5xx asks it to deliver again.
func BillingWebhook(svc BillingWebhookService, verifier EventVerifier, m *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeMethodNotAllowed, "use POST"))
			return
		}
		if svc == nil || verifier == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing webhook not configured"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unreadable request body"))
			return
		}

		event, err := verifier.Verify(payload, r.Header.Get(pkgstripe.SignatureHeader))
		if err != nil {
			if pkgerrors.CodeOf(err) == pkgerrors.CodeSignature {
				m.ObserveEvent("", metrics.OutcomeRejected, 0)
				if logg != nil {
					logg.Warn(logg.WithFields(ctx, map[string]any{
						"source_ip": r.RemoteAddr,
						"reason":    err.Error(),
					}), "billing webhook signature rejected")
				}
				responses.WriteError(ctx, nil, w, err)
				return
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		res, err := svc.Process(ctx, event)
		if err != nil {
			if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
				// Every processing failure is retryable from the processor's side.
				err = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "billing event not processed")
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteJSON(w, http.StatusOK, ack{
			Received:  true,
			Duplicate: res.Disposition == stripewebhook.DispositionDuplicate,
		})
	}
}
