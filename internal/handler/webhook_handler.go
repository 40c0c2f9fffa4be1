package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ghostwriter/ghostwriter-api/internal/domain"
	"github.com/ghostwriter/ghostwriter-api/internal/infra/observability"
	"github.com/ghostwriter/ghostwriter-api/internal/infra/payment"
	"github.com/ghostwriter/ghostwriter-api/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// maxWebhookBody caps webhook payload reads; real events are a few KB.
const maxWebhookBody = 1 << 20

// paymentWebhookHandler verifies, parses and applies payment processor
// events. Redelivered events are acknowledged with 200 so the processor
// stops retrying; the ledger absorbed them without double-crediting.
func paymentWebhookHandler(creditSvc *service.CreditService, webhookSecret string, metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/webhooks/payment")
		defer span.End()

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "could not read request body")
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if err := payment.VerifySignature(payload, sigHeader, webhookSecret, time.Now(), payment.DefaultTolerance); err != nil {
			metrics.IncrWebhookEvent("rejected")
			logger.Warn("webhook signature rejected",
				zap.String("remote_addr", r.RemoteAddr),
				zap.Error(err),
			)
			writeError(w, http.StatusBadRequest, "invalid webhook signature")
			return
		}

		event, err := payment.ParseEvent(payload)
		if err != nil {
			metrics.IncrWebhookEvent("rejected")
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(
			attribute.String("payment.event_id", event.EventID),
			attribute.String("payment.type", event.Type),
		)

		entry, err := creditSvc.ApplyPaymentEvent(ctx, event)
		if err != nil {
			var dup *domain.ErrDuplicateEvent
			if errors.As(err, &dup) {
				logger.Info("duplicate webhook delivery absorbed",
					zap.String("event_id", event.EventID),
				)
				writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
				return
			}
			handleServiceError(w, err, logger)
			return
		}

		if entry == nil {
			// Event type we don't act on; acknowledge and move on.
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}

		logger.Info("payment event applied",
			zap.String("event_id", event.EventID),
			zap.String("entry_id", entry.ID),
			zap.Int64("credits", entry.Delta),
		)
		writeJSON(w, http.StatusOK, map[string]string{"status": "success", "entry_id": entry.ID})
	}
}
