package store

import (
	"context"
	"fmt"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/shopspring/decimal"

	"lessonpay/models"
)

const paymentsCollection = "payments"

type PaymentStore struct {
	app core.App
}

func NewPaymentStore(app core.App) *PaymentStore {
	return &PaymentStore{app: app}
}

// CreateHeld persists a freshly captured payment. Capture success is the
// precondition for creation; there is no earlier persisted state.
func (s *PaymentStore) CreateHeld(ctx context.Context, p *models.Payment) (string, error) {
	collection, err := s.app.FindCollectionByNameOrId(paymentsCollection)
	if err != nil {
		return "", fmt.Errorf("payments: find collection: %w", err)
	}

	record := core.NewRecord(collection)
	record.Set("lesson_id", p.LessonID)
	record.Set("payer_uid", p.PayerUID)
	record.Set("for_student_id", p.ForStudentID)
	record.Set("teacher_uid", p.TeacherUID)
	record.Set("session_id", p.SessionID)
	record.Set("payment_intent_id", p.PaymentIntentID)
	record.Set("gross_eur", p.GrossEUR.InexactFloat64())
	record.Set("fee_eur", p.FeeEUR.InexactFloat64())
	record.Set("net_to_teacher_eur", p.NetToTeacherEUR.InexactFloat64())
	record.Set("status", string(models.PaymentHeld))

	if err := s.app.SaveWithContext(ctx, record); err != nil {
		return "", fmt.Errorf("payments: save: %w", err)
	}

	return record.Id, nil
}

func (s *PaymentStore) GetByID(ctx context.Context, id string) (*models.Payment, error) {
	record, err := s.app.FindRecordById(paymentsCollection, id)
	if err != nil {
		return nil, fmt.Errorf("payments: %w: %s", ErrNotFound, id)
	}
	return paymentFromRecord(record), nil
}

func (s *PaymentStore) GetBySessionID(ctx context.Context, sessionID string) (*models.Payment, error) {
	record, err := s.app.FindFirstRecordByFilter(
		paymentsCollection,
		"session_id = {:sessionId}",
		dbx.Params{"sessionId": sessionID},
	)
	if err != nil {
		return nil, fmt.Errorf("payments: %w: session %s", ErrNotFound, sessionID)
	}
	return paymentFromRecord(record), nil
}

// ListHeld returns up to limit payments still waiting for escrow release,
// oldest first.
func (s *PaymentStore) ListHeld(ctx context.Context, limit int) ([]*models.Payment, error) {
	records, err := s.app.FindRecordsByFilter(
		paymentsCollection,
		"status = {:status}",
		"created",
		limit,
		0,
		dbx.Params{"status": string(models.PaymentHeld)},
	)
	if err != nil {
		return nil, fmt.Errorf("payments: list held: %w", err)
	}

	payments := make([]*models.Payment, 0, len(records))
	for _, record := range records {
		payments = append(payments, paymentFromRecord(record))
	}
	return payments, nil
}

// MarkReleased flips held -> released with a conditional update, so two
// concurrent release runs cannot both claim the same payment. transferID may
// be empty for zero-value settlements.
func (s *PaymentStore) MarkReleased(ctx context.Context, id, transferID string) error {
	now := types.NowDateTime().String()
	res, err := s.app.DB().Update(paymentsCollection, dbx.Params{
		"status":             string(models.PaymentReleased),
		"transfer_id":        transferID,
		"released_at":        now,
		"last_release_error": "",
		"updated":            now,
	}, dbx.NewExp(
		"id = {:id} AND status = {:status}",
		dbx.Params{"id": id, "status": string(models.PaymentHeld)},
	)).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("payments: mark released: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStatusConflict
	}
	return nil
}

// MarkRefunded transitions the payment to refunded, guarded on the status
// the refund engine observed. A payment never regresses out of refunded.
func (s *PaymentStore) MarkRefunded(ctx context.Context, id string, from models.PaymentStatus, upd models.RefundUpdate) error {
	now := types.NowDateTime().String()
	res, err := s.app.DB().Update(paymentsCollection, dbx.Params{
		"status":              string(models.PaymentRefunded),
		"refund_id":           upd.RefundID,
		"refund_amount_eur":   upd.RefundAmountEUR.InexactFloat64(),
		"refund_reason":       upd.RefundReason,
		"refunded_by":         upd.RefundedBy,
		"reverse_transfer_id": upd.ReverseTransferID,
		"reverse_amount_eur":  upd.ReverseAmountEUR.InexactFloat64(),
		"refunded_at":         now,
		"updated":             now,
	}, dbx.NewExp(
		"id = {:id} AND status = {:status}",
		dbx.Params{"id": id, "status": string(from)},
	)).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("payments: mark refunded: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStatusConflict
	}
	return nil
}

// RecordReleaseError stores a sticky per-payment release error without
// touching the status; the next run retries the payment.
func (s *PaymentStore) RecordReleaseError(ctx context.Context, id, msg string) error {
	_, err := s.app.DB().Update(paymentsCollection, dbx.Params{
		"last_release_error": msg,
		"updated":            types.NowDateTime().String(),
	}, dbx.NewExp("id = {:id}", dbx.Params{"id": id})).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("payments: record release error: %w", err)
	}
	return nil
}

func paymentFromRecord(record *core.Record) *models.Payment {
	return &models.Payment{
		ID:                record.Id,
		LessonID:          record.GetString("lesson_id"),
		PayerUID:          record.GetString("payer_uid"),
		ForStudentID:      record.GetString("for_student_id"),
		TeacherUID:        record.GetString("teacher_uid"),
		SessionID:         record.GetString("session_id"),
		PaymentIntentID:   record.GetString("payment_intent_id"),
		TransferID:        record.GetString("transfer_id"),
		GrossEUR:          decimal.NewFromFloat(record.GetFloat("gross_eur")),
		FeeEUR:            decimal.NewFromFloat(record.GetFloat("fee_eur")),
		NetToTeacherEUR:   decimal.NewFromFloat(record.GetFloat("net_to_teacher_eur")),
		Status:            models.PaymentStatus(record.GetString("status")),
		CreatedAt:         record.GetDateTime("created").Time(),
		ReleasedAt:        record.GetDateTime("released_at").Time(),
		RefundedAt:        record.GetDateTime("refunded_at").Time(),
		RefundID:          record.GetString("refund_id"),
		RefundAmountEUR:   decimal.NewFromFloat(record.GetFloat("refund_amount_eur")),
		RefundReason:      record.GetString("refund_reason"),
		RefundedBy:        record.GetString("refunded_by"),
		ReverseTransferID: record.GetString("reverse_transfer_id"),
		ReverseAmountEUR:  decimal.NewFromFloat(record.GetFloat("reverse_amount_eur")),
		LastReleaseError:  record.GetString("last_release_error"),
	}
}
