package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"

	"lessonpay/internal/services"
)

type WebhookHandler struct {
	app      *pocketbase.PocketBase
	webhooks *services.WebhookService
}

func NewWebhookHandler(app *pocketbase.PocketBase, webhooks *services.WebhookService) *WebhookHandler {
	return &WebhookHandler{
		app:      app,
		webhooks: webhooks,
	}
}

// HandleStripeEvent - Verify and reconcile a processor event delivery.
// Signature verification runs over the raw body; unknown event types are
// acknowledged so the processor does not retry them forever, while failures
// on recognized types return 500 to trigger a redelivery of that event.
func (h *WebhookHandler) HandleStripeEvent(e *core.RequestEvent) error {
	payload, err := io.ReadAll(e.Request.Body)
	if err != nil {
		return e.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable body"})
	}

	_, err = h.webhooks.HandleEvent(
		e.Request.Context(),
		payload,
		e.Request.Header.Get("Stripe-Signature"),
	)
	if errors.Is(err, services.ErrBadSignature) {
		slog.Warn("webhook: signature verification failed")
		return e.JSON(http.StatusBadRequest, map[string]string{"error": "invalid signature"})
	}
	if err != nil {
		slog.Error("webhook: event processing failed", "error", err)
		return e.JSON(http.StatusInternalServerError, map[string]string{"error": "processing failed"})
	}

	return e.JSON(http.StatusOK, map[string]bool{"received": true})
}
