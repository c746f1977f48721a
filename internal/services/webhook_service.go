package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"lessonpay/models"
	"lessonpay/monitoring"
)

// ErrBadSignature rejects webhook payloads that fail verification. Nothing
// from an unverified payload is ever processed.
var ErrBadSignature = errors.New("invalid webhook signature")

// WebhookService verifies and reconciles asynchronous processor events.
// It runs decoupled from the settlement flow: capability updates and late
// capture confirmations, nothing else.
type WebhookService struct {
	secret   string
	accounts *AccountService
	checkout *CheckoutService
}

func NewWebhookService(secret string, accounts *AccountService, checkout *CheckoutService) *WebhookService {
	return &WebhookService{
		secret:   secret,
		accounts: accounts,
		checkout: checkout,
	}
}

// HandleEvent verifies the signature over the raw body and dispatches the
// event. handled=false with a nil error means the event type is not modeled
// and must be acknowledged anyway, so the processor stops retrying it.
func (s *WebhookService) HandleEvent(ctx context.Context, payload []byte, signatureHeader string) (handled bool, err error) {
	event, err := webhook.ConstructEvent(payload, signatureHeader, s.secret)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	switch event.Type {
	case "account.updated":
		var account stripe.Account
		if err := json.Unmarshal(event.Data.Raw, &account); err != nil {
			return true, fmt.Errorf("webhook: decode account: %w", err)
		}

		err := s.accounts.ApplyAccountUpdate(ctx, account.ID, models.AccountCapabilities{
			PayoutsEnabled:   account.PayoutsEnabled,
			ChargesEnabled:   account.ChargesEnabled,
			DetailsSubmitted: account.DetailsSubmitted,
		})
		if errors.Is(err, ErrAccountNotFound) {
			// not one of ours; acknowledge so the processor stops retrying
			monitoring.TrackWebhookEvent(string(event.Type), "ignored")
			return true, nil
		}
		if err != nil {
			monitoring.TrackWebhookEvent(string(event.Type), "error")
			return true, fmt.Errorf("webhook: account update: %w", err)
		}
		monitoring.TrackWebhookEvent(string(event.Type), "ok")
		return true, nil

	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return true, fmt.Errorf("webhook: decode session: %w", err)
		}

		// ConfirmSession re-reads the session from the processor, which
		// stays the source of truth for whether money moved.
		if _, err := s.checkout.ConfirmSession(ctx, session.ID); err != nil {
			monitoring.TrackWebhookEvent(string(event.Type), "error")
			return true, fmt.Errorf("webhook: confirm session: %w", err)
		}
		monitoring.TrackWebhookEvent(string(event.Type), "ok")
		return true, nil
	}

	slog.Debug("webhook: unhandled event type", "type", event.Type)
	monitoring.TrackWebhookEvent(string(event.Type), "unhandled")
	return false, nil
}
