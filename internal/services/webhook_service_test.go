package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"

	"lessonpay/internal/fees"
	"lessonpay/internal/gateway"
	"lessonpay/models"
)

const testWebhookSecret = "whsec_test"

// signPayload builds a Stripe-Signature header the verifier accepts.
func signPayload(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func accountUpdatedPayload(accountID string, payouts bool) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"api_version": %q,
		"type": "account.updated",
		"data": {
			"object": {
				"id": %q,
				"payouts_enabled": %t,
				"charges_enabled": true,
				"details_submitted": true
			}
		}
	}`, stripe.APIVersion, accountID, payouts))
}

func setupWebhookTest() (*WebhookService, *fakePaymentStore, *fakeLessonStore, *fakeAccountStore, *fakeGateway) {
	payments := newFakePaymentStore()
	lessons := newFakeLessonStore()
	accounts := newFakeAccountStore()
	gw := &fakeGateway{}
	notifier := &noopNotifier{}

	checkout := NewCheckoutService(
		payments, lessons, accounts, gw,
		fees.NewCalculator(0.05), notifier,
		"https://app.test", 5*time.Second,
	)
	accountSvc := NewAccountService(accounts, gw, "https://app.test", 5*time.Second)

	return NewWebhookService(testWebhookSecret, accountSvc, checkout), payments, lessons, accounts, gw
}

func TestHandleEvent_BadSignatureRejected(t *testing.T) {
	svc, _, _, accounts, _ := setupWebhookTest()
	accounts.put(&models.TeacherAccount{TeacherUID: "teacher1", AccountID: "acct_1"})

	payload := accountUpdatedPayload("acct_1", true)

	_, err := svc.HandleEvent(context.Background(), payload, "t=12345,v1=deadbeef")
	assert.ErrorIs(t, err, ErrBadSignature)
	assert.Empty(t, accounts.capCalls, "unverified payload must not mutate anything")

	// signing with the wrong secret fails the same way
	_, err = svc.HandleEvent(context.Background(), payload, signPayload(payload, "whsec_other", time.Now()))
	assert.ErrorIs(t, err, ErrBadSignature)
	assert.Empty(t, accounts.capCalls)
}

func TestHandleEvent_AccountUpdatedSyncsCapabilities(t *testing.T) {
	svc, _, _, accounts, _ := setupWebhookTest()
	accounts.put(&models.TeacherAccount{TeacherUID: "teacher1", AccountID: "acct_1"})

	payload := accountUpdatedPayload("acct_1", true)

	handled, err := svc.HandleEvent(context.Background(), payload, signPayload(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.True(t, handled)

	acct, err := accounts.GetByTeacher(context.Background(), "teacher1")
	require.NoError(t, err)
	assert.True(t, acct.PayoutsEnabled)
	assert.True(t, acct.ChargesEnabled)
	assert.True(t, acct.DetailsSubmitted)
}

func TestHandleEvent_UnknownAccountAcknowledged(t *testing.T) {
	svc, _, _, accounts, _ := setupWebhookTest()

	payload := accountUpdatedPayload("acct_stranger", true)

	handled, err := svc.HandleEvent(context.Background(), payload, signPayload(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err, "unknown accounts are acknowledged, not retried")
	assert.True(t, handled)
	assert.Empty(t, accounts.capCalls)
}

func TestHandleEvent_CheckoutCompletedConfirmsSession(t *testing.T) {
	svc, payments, lessons, _, gw := setupWebhookTest()

	lessons.put(testLesson("lesson1"))
	gw.session = &gateway.CheckoutSession{
		ID:              "cs_1",
		Paid:            true,
		AmountCents:     5000,
		PaymentIntentID: "pi_1",
		Metadata: map[string]string{
			"lesson_id":      "lesson1",
			"teacher_uid":    "teacher1",
			"payer_uid":      "payer1",
			"for_student_id": "student1",
			"fee_cents":      "250",
		},
	}

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_2",
		"api_version": %q,
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_1", "object": "checkout.session"}}
	}`, stripe.APIVersion))

	handled, err := svc.HandleEvent(context.Background(), payload, signPayload(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.True(t, handled)

	p, err := payments.GetBySessionID(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentHeld, p.Status)
}

func TestHandleEvent_UnmodeledTypeAcknowledged(t *testing.T) {
	svc, payments, _, accounts, _ := setupWebhookTest()

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_3",
		"api_version": %q,
		"type": "payout.paid",
		"data": {"object": {"id": "po_1"}}
	}`, stripe.APIVersion))

	handled, err := svc.HandleEvent(context.Background(), payload, signPayload(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Empty(t, payments.payments)
	assert.Empty(t, accounts.capCalls)
}
