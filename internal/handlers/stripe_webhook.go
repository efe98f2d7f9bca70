package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	stripeapi "github.com/stripe/stripe-go/v84"

	"github.com/aelleshop/aelle-api/internal/cache"
	"github.com/aelleshop/aelle-api/internal/services"
	stripewebhook "github.com/aelleshop/aelle-api/internal/stripe"
)

// stripeWebhookIdempotencyTTL is how long webhook event IDs are kept for deduplication
const stripeWebhookIdempotencyTTL = 24 * time.Hour

// StripeWebhook handles POST /webhooks/stripe. Events are verified
// against the endpoint secret and deduplicated by event ID before any
// order state is touched.
func (h *Handlers) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)

	event, err := stripewebhook.ReadWebhookEvent(r, h.config.StripeWebhookSecret)
	if err != nil {
		logger.Error("failed to read stripe webhook payload", "error", err)
		http.Error(w, "Invalid webhook", http.StatusBadRequest)
		return
	}

	if event == nil || event.ID == "" {
		logger.Error("missing stripe event id")
		http.Error(w, "Missing event ID", http.StatusBadRequest)
		return
	}

	cacheKey := cache.WebhookKey("stripe", event.ID)
	if _, err := h.cacheProvider.Get(ctx, cacheKey); err == nil {
		logger.Info("webhook already processed", "event_id", event.ID)
		w.WriteHeader(http.StatusOK)
		return
	}

	if processErr := h.handleStripeEvent(r, event); processErr != nil {
		logger.Error("failed to process stripe webhook", "error", processErr, "type", event.Type)
		http.Error(w, "Processing failed", http.StatusInternalServerError)
		return
	}

	if err := h.cacheProvider.Set(ctx, cacheKey, "processed", stripeWebhookIdempotencyTTL); err != nil {
		logger.Error("failed to mark webhook as processed in cache", "error", err)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) handleStripeEvent(r *http.Request, event *stripeapi.Event) error {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	switch event.Type {
	case "payment_intent.succeeded":
		var intent stripeapi.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return err
		}
		orderID, err := uuid.Parse(intent.Metadata["order_id"])
		if err != nil {
			logger.Warn("payment intent without a usable order_id", "intent_id", intent.ID)
			return nil
		}
		confirmErr := h.orderService.ConfirmStripePayment(ctx, orderID, intent.ID)
		switch services.KindOf(confirmErr) {
		case services.KindNotFound, services.KindVerificationFailed, services.KindInvalidTransition:
			// Permanent conditions: acknowledge so the gateway stops
			// redelivering the event.
			logger.Warn("stripe confirmation not applicable", "error", confirmErr, "order_id", orderID)
			return nil
		}
		return confirmErr
	default:
		logger.Debug("ignoring stripe event", "type", event.Type)
		return nil
	}
}
