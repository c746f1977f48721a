// Package gateway wraps the external payment processor behind a single
// interface so the settlement services never import the vendor SDK directly.
package gateway

import (
	"context"
	"errors"
)

// Standard gateway errors. Services branch on these instead of vendor codes.
var (
	ErrPaymentFailed   = errors.New("gateway: processor rejected the operation")
	ErrInvalidAmount   = errors.New("gateway: invalid amount")
	ErrProviderDown    = errors.New("gateway: payment provider is currently unavailable")
	ErrAccountNotFound = errors.New("gateway: connected account not found")
)

// CheckoutRequest parameterizes a destination charge: the buyer pays gross,
// the platform keeps FeeCents, the rest is destined to the teacher's
// connected account once released.
type CheckoutRequest struct {
	GrossCents         int64
	FeeCents           int64
	Currency           string
	DestinationAccount string
	Description        string
	SuccessURL         string
	CancelURL          string
	Metadata           map[string]string
}

type CheckoutSession struct {
	ID              string
	URL             string
	Paid            bool
	AmountCents     int64
	PaymentIntentID string
	Metadata        map[string]string
}

type TransferRequest struct {
	AmountCents        int64
	Currency           string
	DestinationAccount string
	TransferGroup      string
	Metadata           map[string]string
	IdempotencyKey     string
}

type Transfer struct {
	ID string
}

type Reversal struct {
	ID          string
	AmountCents int64
}

type Refund struct {
	ID          string
	AmountCents int64
}

type Account struct {
	ID               string
	PayoutsEnabled   bool
	ChargesEnabled   bool
	DetailsSubmitted bool
}

// PaymentGateway is the processor boundary consumed by the settlement engine.
type PaymentGateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	RetrieveSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
	CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error)
	ReverseTransfer(ctx context.Context, transferID string, amountCents int64, idempotencyKey string) (*Reversal, error)
	CreateRefund(ctx context.Context, paymentIntentID string, amountCents int64, reason, idempotencyKey string) (*Refund, error)
	RetrieveAccount(ctx context.Context, accountID string) (*Account, error)
	CreateAccount(ctx context.Context) (*Account, error)
	CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error)
}
