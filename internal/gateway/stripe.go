package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// StripeGateway implements PaymentGateway on top of the Stripe Connect API.
// The client is constructed once and injected, never taken from the SDK's
// global state.
type StripeGateway struct {
	client *client.API
}

func NewStripeGateway(apiKey string) *StripeGateway {
	sc := &client.API{}
	sc.Init(apiKey, nil)

	return &StripeGateway{client: sc}
}

// CreateCheckout creates a hosted checkout session configured as a
// destination charge: application fee for the platform, transfer data
// pointing at the teacher's connected account.
func (g *StripeGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.GrossCents <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.DestinationAccount == "" {
		return nil, ErrAccountNotFound
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Currency),
					UnitAmount: stripe.Int64(req.GrossCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			ApplicationFeeAmount: stripe.Int64(req.FeeCents),
			TransferData: &stripe.CheckoutSessionPaymentIntentDataTransferDataParams{
				Destination: stripe.String(req.DestinationAccount),
			},
			Metadata: req.Metadata,
		},
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	sess, err := g.client.CheckoutSessions.New(params)
	if err != nil {
		return nil, g.mapStripeError(err)
	}

	return sessionToDomain(sess), nil
}

// RetrieveSession fetches a checkout session with its payment intent
// expanded. The processor is the source of truth for whether money moved.
func (g *StripeGateway) RetrieveSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")

	sess, err := g.client.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, g.mapStripeError(err)
	}

	return sessionToDomain(sess), nil
}

func (g *StripeGateway) CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	if req.AmountCents <= 0 {
		return nil, ErrInvalidAmount
	}

	params := &stripe.TransferParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(req.Currency),
		Destination:   stripe.String(req.DestinationAccount),
		TransferGroup: stripe.String(req.TransferGroup),
	}
	params.Context = ctx
	// Prevents a double payout if the network fails but Stripe succeeded.
	if req.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	tr, err := g.client.Transfers.New(params)
	if err != nil {
		return nil, g.mapStripeError(err)
	}

	return &Transfer{ID: tr.ID}, nil
}

func (g *StripeGateway) ReverseTransfer(ctx context.Context, transferID string, amountCents int64, idempotencyKey string) (*Reversal, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}

	params := &stripe.TransferReversalParams{
		ID:     stripe.String(transferID),
		Amount: stripe.Int64(amountCents),
	}
	params.Context = ctx
	if idempotencyKey != "" {
		params.IdempotencyKey = stripe.String(idempotencyKey)
	}

	rev, err := g.client.TransferReversals.New(params)
	if err != nil {
		return nil, g.mapStripeError(err)
	}

	return &Reversal{ID: rev.ID, AmountCents: rev.Amount}, nil
}

func (g *StripeGateway) CreateRefund(ctx context.Context, paymentIntentID string, amountCents int64, reason, idempotencyKey string) (*Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
	}
	params.Context = ctx
	if amountCents > 0 {
		params.Amount = stripe.Int64(amountCents)
	}
	// Reason is free-form operator text; the Reason param only accepts
	// Stripe's fixed enum, so it travels as metadata instead.
	if reason != "" {
		params.AddMetadata("reason", reason)
	}
	if idempotencyKey != "" {
		params.IdempotencyKey = stripe.String(idempotencyKey)
	}

	ref, err := g.client.Refunds.New(params)
	if err != nil {
		return nil, g.mapStripeError(err)
	}

	return &Refund{ID: ref.ID, AmountCents: ref.Amount}, nil
}

func (g *StripeGateway) RetrieveAccount(ctx context.Context, accountID string) (*Account, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx

	acct, err := g.client.Accounts.GetByID(accountID, params)
	if err != nil {
		return nil, g.mapStripeError(err)
	}

	return &Account{
		ID:               acct.ID,
		PayoutsEnabled:   acct.PayoutsEnabled,
		ChargesEnabled:   acct.ChargesEnabled,
		DetailsSubmitted: acct.DetailsSubmitted,
	}, nil
}

// CreateAccount creates an Express connected account for a teacher.
func (g *StripeGateway) CreateAccount(ctx context.Context) (*Account, error) {
	params := &stripe.AccountParams{
		Type: stripe.String(string(stripe.AccountTypeExpress)),
	}
	params.Context = ctx

	acct, err := g.client.Accounts.New(params)
	if err != nil {
		return nil, g.mapStripeError(err)
	}

	return &Account{
		ID:               acct.ID,
		PayoutsEnabled:   acct.PayoutsEnabled,
		ChargesEnabled:   acct.ChargesEnabled,
		DetailsSubmitted: acct.DetailsSubmitted,
	}, nil
}

func (g *StripeGateway) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(refreshURL),
		ReturnURL:  stripe.String(returnURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx

	link, err := g.client.AccountLinks.New(params)
	if err != nil {
		return "", g.mapStripeError(err)
	}

	return link.URL, nil
}

func sessionToDomain(sess *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:          sess.ID,
		URL:         sess.URL,
		Paid:        sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		AmountCents: sess.AmountTotal,
		Metadata:    sess.Metadata,
	}
	if sess.PaymentIntent != nil {
		out.PaymentIntentID = sess.PaymentIntent.ID
	}
	return out
}

// mapStripeError converts vendor errors into domain errors so stripe-go
// types never leak into the service layer.
func (g *StripeGateway) mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Code {
		case stripe.ErrorCodeCardDeclined:
			return fmt.Errorf("%w: card was declined (%s)", ErrPaymentFailed, stripeErr.Msg)
		case stripe.ErrorCodeExpiredCard:
			return fmt.Errorf("%w: card has expired", ErrPaymentFailed)
		case stripe.ErrorCodeBalanceInsufficient:
			return fmt.Errorf("%w: insufficient platform balance", ErrPaymentFailed)
		case stripe.ErrorCodeAccountInvalid:
			return fmt.Errorf("%w: %s", ErrAccountNotFound, stripeErr.Msg)
		case stripe.ErrorCodeIdempotencyKeyInUse:
			return fmt.Errorf("gateway: idempotency key collision: %s", stripeErr.Msg)
		}

		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError {
			return ErrProviderDown
		}
		if stripeErr.HTTPStatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrPaymentFailed, stripeErr.Msg)
		}
	}
	return fmt.Errorf("gateway: %w", err)
}
