package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"lessonpay/internal/gateway"
	"lessonpay/internal/store"
	"lessonpay/models"
	"lessonpay/monitoring"
)

const (
	releaseLockKey = "settlement:release:lock"

	errMissingTeacherAccount = "MISSING_TEACHER_ACCOUNT"
)

// ErrReleaseRunning is returned when another release batch holds the lock.
var ErrReleaseRunning = errors.New("release batch already running")

// ReleaseService is the escrow release job: it pays out held funds for
// lessons that have started. Stateless; any transport (cron tick, HTTP
// trigger, queue consumer) may invoke ReleaseDue.
type ReleaseService struct {
	payments PaymentStore
	lessons  LessonStore
	accounts AccountStore
	gateway  gateway.PaymentGateway
	redis    *redis.Client
	notifier Notifier

	batchSize   int
	lockTTL     time.Duration
	callTimeout time.Duration

	now func() time.Time
}

func NewReleaseService(
	payments PaymentStore,
	lessons LessonStore,
	accounts AccountStore,
	gw gateway.PaymentGateway,
	redisClient *redis.Client,
	notifier Notifier,
	batchSize int,
	lockTTL time.Duration,
	callTimeout time.Duration,
) *ReleaseService {
	return &ReleaseService{
		payments:    payments,
		lessons:     lessons,
		accounts:    accounts,
		gateway:     gw,
		redis:       redisClient,
		notifier:    notifier,
		batchSize:   batchSize,
		lockTTL:     lockTTL,
		callTimeout: callTimeout,
		now:         time.Now,
	}
}

// ReleaseReport aggregates one batch run for observability.
type ReleaseReport struct {
	Processed int `json:"processed"`
	Released  int `json:"released"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// ReleaseDue processes one batch of held payments. A single payment's
// failure is recorded on that payment and never aborts the batch. The redis
// lock keeps overlapping runs out; the conditional status update in the
// store is the actual at-most-once guarantee.
func (s *ReleaseService) ReleaseDue(ctx context.Context) (*ReleaseReport, error) {
	locked, err := s.redis.SetNX(ctx, releaseLockKey, "1", s.lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("release: acquire lock: %w", err)
	}
	if !locked {
		return nil, ErrReleaseRunning
	}
	defer s.redis.Del(context.WithoutCancel(ctx), releaseLockKey)

	start := s.now()
	defer func() {
		monitoring.ObserveReleaseBatch(s.now().Sub(start))
	}()

	held, err := s.payments.ListHeld(ctx, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("release: list held payments: %w", err)
	}
	monitoring.SetHeldPayments(len(held))

	report := &ReleaseReport{}
	for _, payment := range held {
		report.Processed++

		switch released, err := s.releaseOne(ctx, payment); {
		case err != nil:
			report.Errors++
			monitoring.TrackRelease("error")
			slog.Error("release: payment failed", "payment_id", payment.ID, "error", err)
			if recErr := s.payments.RecordReleaseError(ctx, payment.ID, err.Error()); recErr != nil {
				slog.Error("release: record error", "payment_id", payment.ID, "error", recErr)
			}
		case released:
			report.Released++
			monitoring.TrackRelease("released")
		default:
			report.Skipped++
			monitoring.TrackRelease("skipped")
		}
	}

	slog.Info("release: batch done",
		"processed", report.Processed,
		"released", report.Released,
		"skipped", report.Skipped,
		"errors", report.Errors,
	)
	return report, nil
}

func (s *ReleaseService) releaseOne(ctx context.Context, payment *models.Payment) (released bool, err error) {
	lesson, err := s.lessons.GetByID(ctx, payment.LessonID)
	if err != nil {
		return false, fmt.Errorf("load lesson %s: %w", payment.LessonID, err)
	}

	// funds stay held until the lesson has actually started
	if !lesson.Started(s.now()) {
		return false, nil
	}

	// Defensive idempotency: a transfer id on a held payment means a prior
	// run transferred but crashed before the status write. Correct the
	// status, do not transfer again. Status stays authoritative; the
	// mismatch is logged as a data-integrity warning.
	if payment.TransferID != "" {
		slog.Warn("release: held payment already has transfer, correcting status",
			"payment_id", payment.ID, "transfer_id", payment.TransferID)
		if err := s.markReleased(ctx, payment, payment.TransferID); err != nil {
			return false, err
		}
		return true, nil
	}

	account, err := s.accounts.GetByTeacher(ctx, payment.TeacherUID)
	if err != nil || account.AccountID == "" {
		// recoverable by operator action, not a batch failure
		if recErr := s.payments.RecordReleaseError(ctx, payment.ID, errMissingTeacherAccount); recErr != nil {
			slog.Error("release: record missing account", "payment_id", payment.ID, "error", recErr)
		}
		monitoring.TrackRelease("missing_account")
		return false, nil
	}

	netCents := payment.NetCents()
	if netCents <= 0 {
		// zero-value settlements must not generate a zero-amount transfer
		if err := s.markReleased(ctx, payment, ""); err != nil {
			return false, err
		}
		return true, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	transfer, err := s.gateway.CreateTransfer(callCtx, gateway.TransferRequest{
		AmountCents:        netCents,
		Currency:           "eur",
		DestinationAccount: account.AccountID,
		TransferGroup:      fmt.Sprintf("lesson_%s", payment.LessonID),
		Metadata: map[string]string{
			"lesson_id":      payment.LessonID,
			"payment_id":     payment.ID,
			"for_student_id": payment.ForStudentID,
			"teacher_uid":    payment.TeacherUID,
		},
		IdempotencyKey: fmt.Sprintf("release:%s", payment.ID),
	})
	if err != nil {
		return false, fmt.Errorf("create transfer: %w", err)
	}

	if err := s.markReleased(ctx, payment, transfer.ID); err != nil {
		return false, err
	}
	return true, nil
}

func (s *ReleaseService) markReleased(ctx context.Context, payment *models.Payment, transferID string) error {
	err := s.payments.MarkReleased(ctx, payment.ID, transferID)
	if errors.Is(err, store.ErrStatusConflict) {
		// a concurrent run got there first; the transfer idempotency key
		// guarantees at most one payout either way
		slog.Warn("release: payment claimed concurrently", "payment_id", payment.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark released: %w", err)
	}

	payment.Status = models.PaymentReleased
	payment.TransferID = transferID
	payment.ReleasedAt = s.now()
	s.notifier.PaymentReleased(payment)
	return nil
}
