package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Participant is one student's seat inside a group lesson. is_paid/paid_at/
// paid_by are derived state owned by the settlement engine.
type Participant struct {
	IsPaid bool      `json:"is_paid"`
	PaidAt time.Time `json:"paid_at,omitzero"`
	PaidBy string    `json:"paid_by,omitempty"`
	Status string    `json:"status,omitempty"`
}

type Lesson struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	TeacherUID    string          `json:"teacher_uid"`
	StudentID     string          `json:"student_id"` // individual lessons only
	StartTime     time.Time       `json:"start_time"`
	DurationHours decimal.Decimal `json:"duration_hours"`
	PricePerHour  decimal.Decimal `json:"price_per_hour"`
	IsGroup       bool            `json:"is_group"`
	Capacity      int             `json:"capacity,omitempty"`

	// Group lessons: one entry per enrolled student
	Participants map[string]Participant `json:"participants,omitempty"`

	// Individual lessons: lesson-level paid flags
	IsPaid bool      `json:"is_paid"`
	PaidAt time.Time `json:"paid_at,omitzero"`
	PaidBy string    `json:"paid_by,omitempty"`
}

// Started reports whether the lesson start time has elapsed.
func (l *Lesson) Started(now time.Time) bool {
	return !l.StartTime.IsZero() && !now.Before(l.StartTime)
}

// GrossCents computes price_per_hour x duration_hours in minor units.
func (l *Lesson) GrossCents() int64 {
	return l.PricePerHour.Mul(l.DurationHours).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
