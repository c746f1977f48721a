package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentHeld     PaymentStatus = "held"
	PaymentReleased PaymentStatus = "released"
	PaymentRefunded PaymentStatus = "refunded"
)

// Payment is one captured lesson charge. It is created only after the
// processor confirmed the capture, always in status "held".
type Payment struct {
	ID              string          `json:"id"`
	LessonID        string          `json:"lesson_id"`
	PayerUID        string          `json:"payer_uid"`
	ForStudentID    string          `json:"for_student_id"` // lesson beneficiary, may differ from payer
	TeacherUID      string          `json:"teacher_uid"`
	SessionID       string          `json:"session_id"`
	PaymentIntentID string          `json:"payment_intent_id"`
	TransferID      string          `json:"transfer_id,omitempty"`
	GrossEUR        decimal.Decimal `json:"gross_eur"`
	FeeEUR          decimal.Decimal `json:"fee_eur"`
	NetToTeacherEUR decimal.Decimal `json:"net_to_teacher_eur"`
	Status          PaymentStatus   `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	ReleasedAt      time.Time       `json:"released_at,omitempty"`
	RefundedAt      time.Time       `json:"refunded_at,omitempty"`

	// Refund details, set when status becomes "refunded"
	RefundID          string          `json:"refund_id,omitempty"`
	RefundAmountEUR   decimal.Decimal `json:"refund_amount_eur,omitempty"`
	RefundReason      string          `json:"refund_reason,omitempty"`
	RefundedBy        string          `json:"refunded_by,omitempty"`
	ReverseTransferID string          `json:"reverse_transfer_id,omitempty"`
	ReverseAmountEUR  decimal.Decimal `json:"reverse_amount_eur,omitempty"`

	// Sticky error recorded by the release job, cleared on success
	LastReleaseError string `json:"last_release_error,omitempty"`
}

// GrossCents returns the gross amount in minor units for processor calls.
func (p *Payment) GrossCents() int64 {
	return eurToCents(p.GrossEUR)
}

// NetCents returns the teacher net amount in minor units.
func (p *Payment) NetCents() int64 {
	return eurToCents(p.NetToTeacherEUR)
}

func eurToCents(eur decimal.Decimal) int64 {
	return eur.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// CentsToEUR converts a processor minor-unit amount into a euro decimal.
func CentsToEUR(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100))
}

// EURToCents converts a euro decimal into processor minor units.
func EURToCents(eur decimal.Decimal) int64 {
	return eurToCents(eur)
}

// RefundUpdate carries the fields persisted when a payment transitions to
// "refunded". ReverseTransferID/ReverseAmountEUR are zero for held refunds.
type RefundUpdate struct {
	RefundID          string
	RefundAmountEUR   decimal.Decimal
	RefundReason      string
	RefundedBy        string
	ReverseTransferID string
	ReverseAmountEUR  decimal.Decimal
}
