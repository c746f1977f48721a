// Package services holds the settlement engine: checkout initiation, the
// escrow release job, the refund/reversal engine and the payee account sync.
// Stores and the processor gateway are injected behind small interfaces so
// tests can substitute doubles without touching global state.
package services

import (
	"context"
	"errors"
	"fmt"

	"lessonpay/models"
)

// Precondition and validation errors surfaced to callers with stable codes.
var (
	ErrLessonNotFound      = errors.New("LESSON_NOT_FOUND")
	ErrPaymentNotFound     = errors.New("PAYMENT_NOT_FOUND")
	ErrTeacherNotOnboarded = errors.New("TEACHER_NOT_ONBOARDED")
	ErrInvalidAmount       = errors.New("INVALID_AMOUNT")
	ErrAccountNotFound     = errors.New("ACCOUNT_NOT_FOUND")
)

// InvalidStatusError rejects a refund on a payment that is not in a
// refundable status. A second refund call is a client error, not a no-op.
type InvalidStatusError struct {
	Status models.PaymentStatus
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("INVALID_STATUS_%s", e.Status)
}

// PaymentStore is the payment slice of the record store contract.
type PaymentStore interface {
	CreateHeld(ctx context.Context, p *models.Payment) (string, error)
	GetByID(ctx context.Context, id string) (*models.Payment, error)
	GetBySessionID(ctx context.Context, sessionID string) (*models.Payment, error)
	ListHeld(ctx context.Context, limit int) ([]*models.Payment, error)
	MarkReleased(ctx context.Context, id, transferID string) error
	MarkRefunded(ctx context.Context, id string, from models.PaymentStatus, upd models.RefundUpdate) error
	RecordReleaseError(ctx context.Context, id, msg string) error
}

// LessonStore reads lessons and mutates their derived paid flags.
type LessonStore interface {
	GetByID(ctx context.Context, id string) (*models.Lesson, error)
	MarkParticipantPaid(ctx context.Context, lessonID, studentID, payerID string) error
	ClearParticipantPaid(ctx context.Context, lessonID, studentID string) error
}

// AccountStore mirrors teacher connected-account capability flags.
type AccountStore interface {
	GetByTeacher(ctx context.Context, teacherUID string) (*models.TeacherAccount, error)
	GetByAccountID(ctx context.Context, accountID string) (*models.TeacherAccount, error)
	SaveAccountID(ctx context.Context, teacherUID, accountID string) error
	UpdateCapabilities(ctx context.Context, accountID string, caps models.AccountCapabilities) error
}

// Notifier pushes best-effort settlement notifications; failures are logged
// by implementations and never propagate into settlement flow.
type Notifier interface {
	PaymentCaptured(p *models.Payment)
	PaymentReleased(p *models.Payment)
	PaymentRefunded(p *models.Payment)
}
