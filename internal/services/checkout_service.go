package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lessonpay/internal/fees"
	"lessonpay/internal/gateway"
	"lessonpay/models"
)

// CheckoutService builds the checkout request for a lesson and records the
// payment once the processor confirmed the capture. Nothing is written
// before money has moved.
type CheckoutService struct {
	payments PaymentStore
	lessons  LessonStore
	accounts AccountStore
	gateway  gateway.PaymentGateway
	fees     *fees.Calculator
	notifier Notifier

	baseURL     string
	callTimeout time.Duration
}

func NewCheckoutService(
	payments PaymentStore,
	lessons LessonStore,
	accounts AccountStore,
	gw gateway.PaymentGateway,
	calc *fees.Calculator,
	notifier Notifier,
	baseURL string,
	callTimeout time.Duration,
) *CheckoutService {
	return &CheckoutService{
		payments:    payments,
		lessons:     lessons,
		accounts:    accounts,
		gateway:     gw,
		fees:        calc,
		notifier:    notifier,
		baseURL:     baseURL,
		callTimeout: callTimeout,
	}
}

type CheckoutRequest struct {
	LessonID string `json:"lesson_id"`
	// ForStudentID is the lesson beneficiary; defaults to the payer.
	ForStudentID string `json:"for_student_id,omitempty"`
}

type CheckoutIntent struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
}

// StartCheckout validates the lesson and the teacher's payout capability,
// computes the fee split and opens a checkout session with the processor.
func (s *CheckoutService) StartCheckout(ctx context.Context, payerID string, req CheckoutRequest) (*CheckoutIntent, error) {
	lesson, err := s.lessons.GetByID(ctx, req.LessonID)
	if err != nil {
		return nil, ErrLessonNotFound
	}

	account, err := s.accounts.GetByTeacher(ctx, lesson.TeacherUID)
	if err != nil || account.AccountID == "" {
		// a lesson cannot be monetized for a seller who cannot receive funds
		return nil, ErrTeacherNotOnboarded
	}

	grossCents := lesson.GrossCents()
	if grossCents <= 0 {
		return nil, ErrInvalidAmount
	}
	feeCents, _ := s.fees.Split(grossCents)

	forStudent := req.ForStudentID
	if forStudent == "" {
		forStudent = payerID
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	sess, err := s.gateway.CreateCheckout(callCtx, gateway.CheckoutRequest{
		GrossCents:         grossCents,
		FeeCents:           feeCents,
		Currency:           "eur",
		DestinationAccount: account.AccountID,
		Description:        lesson.Title,
		SuccessURL:         s.baseURL + "/payments/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:          s.baseURL + "/payments/cancel",
		Metadata: map[string]string{
			"lesson_id":      lesson.ID,
			"teacher_uid":    lesson.TeacherUID,
			"payer_uid":      payerID,
			"for_student_id": forStudent,
			"fee_cents":      fmt.Sprintf("%d", feeCents),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("checkout: create session: %w", err)
	}

	return &CheckoutIntent{URL: sess.URL, SessionID: sess.ID}, nil
}

type SessionStatus struct {
	Paid        bool           `json:"paid"`
	AmountCents int64          `json:"amount_cents"`
	LessonID    string         `json:"lesson_id"`
	PaymentID   string         `json:"payment_id,omitempty"`
	Lesson      *models.Lesson `json:"lesson,omitempty"`
}

// ConfirmSession asks the processor whether the session was paid and, on
// first confirmation, creates the held payment and marks the participant
// paid. Safe to call repeatedly: an already recorded session returns the
// existing payment. The webhook reconciler funnels the asynchronous
// checkout.session.completed event through the same path.
func (s *CheckoutService) ConfirmSession(ctx context.Context, sessionID string) (*SessionStatus, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	sess, err := s.gateway.RetrieveSession(callCtx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("checkout: retrieve session: %w", err)
	}

	lessonID := sess.Metadata["lesson_id"]
	if !sess.Paid {
		return &SessionStatus{Paid: false, AmountCents: sess.AmountCents, LessonID: lessonID}, nil
	}

	if existing, err := s.payments.GetBySessionID(ctx, sessionID); err == nil {
		lesson, _ := s.lessons.GetByID(ctx, existing.LessonID)
		return &SessionStatus{
			Paid:        true,
			AmountCents: existing.GrossCents(),
			LessonID:    existing.LessonID,
			PaymentID:   existing.ID,
			Lesson:      lesson,
		}, nil
	}

	grossEUR := models.CentsToEUR(sess.AmountCents)
	// the split persisted is the one computed at capture time
	feeCents := s.fees.Fee(sess.AmountCents)
	if v, ok := sess.Metadata["fee_cents"]; ok {
		if _, err := fmt.Sscanf(v, "%d", &feeCents); err != nil {
			slog.Warn("checkout: bad fee metadata, recomputing", "session_id", sessionID, "fee_cents", v)
			feeCents = s.fees.Fee(sess.AmountCents)
		}
	}
	feeEUR := models.CentsToEUR(feeCents)

	payment := &models.Payment{
		LessonID:        lessonID,
		PayerUID:        sess.Metadata["payer_uid"],
		ForStudentID:    sess.Metadata["for_student_id"],
		TeacherUID:      sess.Metadata["teacher_uid"],
		SessionID:       sessionID,
		PaymentIntentID: sess.PaymentIntentID,
		GrossEUR:        grossEUR,
		FeeEUR:          feeEUR,
		NetToTeacherEUR: grossEUR.Sub(feeEUR),
		Status:          models.PaymentHeld,
	}

	id, err := s.payments.CreateHeld(ctx, payment)
	if err != nil {
		return nil, fmt.Errorf("checkout: record payment: %w", err)
	}
	payment.ID = id

	if err := s.lessons.MarkParticipantPaid(ctx, lessonID, payment.ForStudentID, payment.PayerUID); err != nil {
		// the payment record exists and money moved; paid flags are derived
		// state and recoverable, so log instead of failing the confirmation
		slog.Error("checkout: mark participant paid", "lesson_id", lessonID, "payment_id", id, "error", err)
	}

	s.notifier.PaymentCaptured(payment)

	lesson, _ := s.lessons.GetByID(ctx, lessonID)
	return &SessionStatus{
		Paid:        true,
		AmountCents: sess.AmountCents,
		LessonID:    lessonID,
		PaymentID:   id,
		Lesson:      lesson,
	}, nil
}
