package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"lessonpay/internal/gateway"
	"lessonpay/models"
	"lessonpay/monitoring"
)

const refundLockTTL = time.Minute

// ErrRefundRunning is returned when a refund for the same payment is
// already in flight.
var ErrRefundRunning = errors.New("refund already in progress for this payment")

// RefundService un-winds settled payments on administrative request. A held
// payment gets a plain charge refund; a released payment additionally needs
// the teacher's net clawed back through a transfer reversal. Any gateway
// failure aborts the attempt without a state transition so a retry is safe.
type RefundService struct {
	payments PaymentStore
	lessons  LessonStore
	gateway  gateway.PaymentGateway
	redis    *redis.Client
	notifier Notifier

	callTimeout time.Duration
}

func NewRefundService(
	payments PaymentStore,
	lessons LessonStore,
	gw gateway.PaymentGateway,
	redisClient *redis.Client,
	notifier Notifier,
	callTimeout time.Duration,
) *RefundService {
	return &RefundService{
		payments:    payments,
		lessons:     lessons,
		gateway:     gw,
		redis:       redisClient,
		notifier:    notifier,
		callTimeout: callTimeout,
	}
}

type RefundRequest struct {
	PaymentID string `json:"payment_id"`
	// AmountEUR empty means full refund.
	AmountEUR decimal.Decimal `json:"amount_eur,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

type RefundResult struct {
	OK        bool   `json:"ok"`
	Type      string `json:"type"` // "refund" or "reversal_and_refund"
	RefundID  string `json:"refund_id,omitempty"`
	ReverseID string `json:"reverse_id,omitempty"`
}

// Refund executes the refund/reversal flow for an administrative actor.
func (s *RefundService) Refund(ctx context.Context, adminID string, req RefundRequest) (*RefundResult, error) {
	payment, err := s.payments.GetByID(ctx, req.PaymentID)
	if err != nil {
		return nil, ErrPaymentNotFound
	}

	amount := req.AmountEUR
	if amount.IsZero() {
		amount = payment.GrossEUR
	}
	if amount.IsNegative() || amount.GreaterThan(payment.GrossEUR) {
		return nil, ErrInvalidAmount
	}

	if payment.Status != models.PaymentHeld && payment.Status != models.PaymentReleased {
		return nil, &InvalidStatusError{Status: payment.Status}
	}

	// Serialize refund attempts per payment. The lock guards against a
	// double-submitted admin request; the deterministic idempotency keys
	// below make an operator retry after a partial failure replay the same
	// processor requests instead of issuing new ones.
	lockKey := fmt.Sprintf("refund:lock:%s", payment.ID)
	locked, err := s.redis.SetNX(ctx, lockKey, "1", refundLockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("refund: acquire lock: %w", err)
	}
	if !locked {
		return nil, ErrRefundRunning
	}
	defer s.redis.Del(context.WithoutCancel(ctx), lockKey)

	idemKey := func(op string) string {
		return fmt.Sprintf("refund:%s:%s", op, payment.ID)
	}

	var result *RefundResult
	if payment.Status == models.PaymentHeld {
		result, err = s.refundHeld(ctx, payment, amount, req.Reason, adminID, idemKey("charge"))
	} else {
		result, err = s.refundReleased(ctx, payment, amount, req.Reason, adminID, idemKey)
	}
	if err != nil {
		return nil, err
	}

	// Paid flags are cleared only after financial success, never before.
	if err := s.lessons.ClearParticipantPaid(ctx, payment.LessonID, payment.ForStudentID); err != nil {
		slog.Error("refund: clear paid flags", "lesson_id", payment.LessonID, "payment_id", payment.ID, "error", err)
	}

	monitoring.TrackRefund(result.Type)
	s.notifier.PaymentRefunded(payment)
	return result, nil
}

// refundHeld: money never left the platform, refund the charge.
func (s *RefundService) refundHeld(ctx context.Context, payment *models.Payment, amount decimal.Decimal, reason, adminID, idemKey string) (*RefundResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	refund, err := s.gateway.CreateRefund(callCtx, payment.PaymentIntentID, models.EURToCents(amount), reason, idemKey)
	if err != nil {
		return nil, fmt.Errorf("refund: create refund: %w", err)
	}

	if err := s.payments.MarkRefunded(ctx, payment.ID, models.PaymentHeld, models.RefundUpdate{
		RefundID:        refund.ID,
		RefundAmountEUR: amount,
		RefundReason:    reason,
		RefundedBy:      adminID,
	}); err != nil {
		return nil, fmt.Errorf("refund: persist: %w", err)
	}

	payment.Status = models.PaymentRefunded
	return &RefundResult{OK: true, Type: "refund", RefundID: refund.ID}, nil
}

// refundReleased: claw the prorated net back from the teacher, then refund
// the buyer for the requested amount. The platform fee is never prorated;
// only the requested amount goes back to the buyer.
func (s *RefundService) refundReleased(ctx context.Context, payment *models.Payment, amount decimal.Decimal, reason, adminID string, idemKey func(string) string) (*RefundResult, error) {
	reverseAmount := payment.NetToTeacherEUR
	if amount.LessThan(payment.GrossEUR) {
		// prorate: floor(net * requested/gross), capped at the net
		prorated := payment.NetToTeacherEUR.Mul(amount).Div(payment.GrossEUR).Floor()
		reverseAmount = decimal.Min(payment.NetToTeacherEUR, prorated)
	}

	var reverseID string
	if reverseAmount.IsPositive() {
		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		defer cancel()

		reversal, err := s.gateway.ReverseTransfer(callCtx, payment.TransferID, models.EURToCents(reverseAmount), idemKey("reverse"))
		if err != nil {
			return nil, fmt.Errorf("refund: reverse transfer: %w", err)
		}
		reverseID = reversal.ID
	}

	var refundID string
	if payment.PaymentIntentID != "" {
		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		defer cancel()

		refund, err := s.gateway.CreateRefund(callCtx, payment.PaymentIntentID, models.EURToCents(amount), reason, idemKey("charge"))
		if err != nil {
			// reversal may have succeeded; status stays released so the
			// operator can retry, and the idempotency key prevents a
			// second reversal on that retry
			return nil, fmt.Errorf("refund: create refund after reversal: %w", err)
		}
		refundID = refund.ID
	}

	if err := s.payments.MarkRefunded(ctx, payment.ID, models.PaymentReleased, models.RefundUpdate{
		RefundID:          refundID,
		RefundAmountEUR:   amount,
		RefundReason:      reason,
		RefundedBy:        adminID,
		ReverseTransferID: reverseID,
		ReverseAmountEUR:  reverseAmount,
	}); err != nil {
		return nil, fmt.Errorf("refund: persist: %w", err)
	}

	payment.Status = models.PaymentRefunded
	return &RefundResult{OK: true, Type: "reversal_and_refund", RefundID: refundID, ReverseID: reverseID}, nil
}
