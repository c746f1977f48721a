package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/shopspring/decimal"

	"lessonpay/models"
)

const lessonsCollection = "lessons"

type LessonStore struct {
	app core.App
}

func NewLessonStore(app core.App) *LessonStore {
	return &LessonStore{app: app}
}

func (s *LessonStore) GetByID(ctx context.Context, id string) (*models.Lesson, error) {
	record, err := s.app.FindRecordById(lessonsCollection, id)
	if err != nil {
		return nil, fmt.Errorf("lessons: %w: %s", ErrNotFound, id)
	}
	return lessonFromRecord(record)
}

// MarkParticipantPaid sets the paid flags for one participant of a group
// lesson, or the lesson-level flags for an individual lesson. Only the
// targeted participant entry is touched; other entries are carried over
// unchanged to avoid lost updates.
func (s *LessonStore) MarkParticipantPaid(ctx context.Context, lessonID, studentID, payerID string) error {
	return s.setPaid(ctx, lessonID, studentID, payerID, true)
}

// ClearParticipantPaid removes the paid flags after a refund. Individual
// lessons clear the lesson-level flags, group lessons only the given
// student's entry.
func (s *LessonStore) ClearParticipantPaid(ctx context.Context, lessonID, studentID string) error {
	return s.setPaid(ctx, lessonID, studentID, "", false)
}

func (s *LessonStore) setPaid(ctx context.Context, lessonID, studentID, payerID string, paid bool) error {
	record, err := s.app.FindRecordById(lessonsCollection, lessonID)
	if err != nil {
		return fmt.Errorf("lessons: %w: %s", ErrNotFound, lessonID)
	}

	if record.GetBool("is_group") {
		participants := map[string]models.Participant{}
		if err := record.UnmarshalJSONField("participants", &participants); err != nil {
			return fmt.Errorf("lessons: decode participants: %w", err)
		}

		entry := participants[studentID]
		entry.IsPaid = paid
		if paid {
			entry.PaidAt = types.NowDateTime().Time()
			entry.PaidBy = payerID
		} else {
			entry.PaidAt = time.Time{}
			entry.PaidBy = ""
		}
		participants[studentID] = entry
		record.Set("participants", participants)
	} else {
		record.Set("is_paid", paid)
		if paid {
			record.Set("paid_at", types.NowDateTime())
			record.Set("paid_by", payerID)
		} else {
			record.Set("paid_at", "")
			record.Set("paid_by", "")
		}
	}

	if err := s.app.SaveWithContext(ctx, record); err != nil {
		return fmt.Errorf("lessons: save paid flags: %w", err)
	}
	return nil
}

func lessonFromRecord(record *core.Record) (*models.Lesson, error) {
	lesson := &models.Lesson{
		ID:            record.Id,
		Title:         record.GetString("title"),
		TeacherUID:    record.GetString("teacher_uid"),
		StudentID:     record.GetString("student_id"),
		StartTime:     record.GetDateTime("start_time").Time(),
		DurationHours: decimal.NewFromFloat(record.GetFloat("duration_hours")),
		PricePerHour:  decimal.NewFromFloat(record.GetFloat("price_per_hour")),
		IsGroup:       record.GetBool("is_group"),
		Capacity:      record.GetInt("capacity"),
		IsPaid:        record.GetBool("is_paid"),
		PaidAt:        record.GetDateTime("paid_at").Time(),
		PaidBy:        record.GetString("paid_by"),
	}

	if lesson.IsGroup {
		participants := map[string]models.Participant{}
		if err := record.UnmarshalJSONField("participants", &participants); err == nil {
			lesson.Participants = participants
		}
	}

	return lesson, nil
}
