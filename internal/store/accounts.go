package store

import (
	"context"
	"fmt"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"

	"lessonpay/models"
)

const accountsCollection = "teacher_accounts"

type AccountStore struct {
	app core.App
}

func NewAccountStore(app core.App) *AccountStore {
	return &AccountStore{app: app}
}

func (s *AccountStore) GetByTeacher(ctx context.Context, teacherUID string) (*models.TeacherAccount, error) {
	record, err := s.app.FindFirstRecordByFilter(
		accountsCollection,
		"teacher_uid = {:teacherUid}",
		dbx.Params{"teacherUid": teacherUID},
	)
	if err != nil {
		return nil, fmt.Errorf("accounts: %w: teacher %s", ErrNotFound, teacherUID)
	}
	return accountFromRecord(record), nil
}

func (s *AccountStore) GetByAccountID(ctx context.Context, accountID string) (*models.TeacherAccount, error) {
	record, err := s.app.FindFirstRecordByFilter(
		accountsCollection,
		"account_id = {:accountId}",
		dbx.Params{"accountId": accountID},
	)
	if err != nil {
		return nil, fmt.Errorf("accounts: %w: account %s", ErrNotFound, accountID)
	}
	return accountFromRecord(record), nil
}

// SaveAccountID upserts the mirror record for a teacher's connected account.
// Created lazily on the first onboarding request.
func (s *AccountStore) SaveAccountID(ctx context.Context, teacherUID, accountID string) error {
	record, err := s.app.FindFirstRecordByFilter(
		accountsCollection,
		"teacher_uid = {:teacherUid}",
		dbx.Params{"teacherUid": teacherUID},
	)
	if err != nil {
		collection, err := s.app.FindCollectionByNameOrId(accountsCollection)
		if err != nil {
			return fmt.Errorf("accounts: find collection: %w", err)
		}
		record = core.NewRecord(collection)
		record.Set("teacher_uid", teacherUID)
	}

	record.Set("account_id", accountID)
	if err := s.app.SaveWithContext(ctx, record); err != nil {
		return fmt.Errorf("accounts: save account id: %w", err)
	}
	return nil
}

// UpdateCapabilities syncs the processor-reported capability flags, keyed by
// the processor account id. Only the webhook reconciler and the explicit
// status refresh call write these fields.
func (s *AccountStore) UpdateCapabilities(ctx context.Context, accountID string, caps models.AccountCapabilities) error {
	record, err := s.app.FindFirstRecordByFilter(
		accountsCollection,
		"account_id = {:accountId}",
		dbx.Params{"accountId": accountID},
	)
	if err != nil {
		return fmt.Errorf("accounts: %w: account %s", ErrNotFound, accountID)
	}

	record.Set("payouts_enabled", caps.PayoutsEnabled)
	record.Set("charges_enabled", caps.ChargesEnabled)
	record.Set("details_submitted", caps.DetailsSubmitted)

	if err := s.app.SaveWithContext(ctx, record); err != nil {
		return fmt.Errorf("accounts: update capabilities: %w", err)
	}
	return nil
}

func accountFromRecord(record *core.Record) *models.TeacherAccount {
	return &models.TeacherAccount{
		ID:         record.Id,
		TeacherUID: record.GetString("teacher_uid"),
		AccountID:  record.GetString("account_id"),
		AccountCapabilities: models.AccountCapabilities{
			PayoutsEnabled:   record.GetBool("payouts_enabled"),
			ChargesEnabled:   record.GetBool("charges_enabled"),
			DetailsSubmitted: record.GetBool("details_submitted"),
		},
	}
}
