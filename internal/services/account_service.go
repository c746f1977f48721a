package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"lessonpay/internal/gateway"
	"lessonpay/models"
)

// AccountService manages the mirror of teacher connected accounts: lazy
// creation on first onboarding request, onboarding links, and capability
// flag sync from the processor (webhook or explicit refresh).
type AccountService struct {
	accounts AccountStore
	gateway  gateway.PaymentGateway

	baseURL     string
	callTimeout time.Duration
}

func NewAccountService(accounts AccountStore, gw gateway.PaymentGateway, baseURL string, callTimeout time.Duration) *AccountService {
	return &AccountService{
		accounts:    accounts,
		gateway:     gw,
		baseURL:     baseURL,
		callTimeout: callTimeout,
	}
}

type OnboardingLink struct {
	AccountID string `json:"account_id"`
	URL       string `json:"url"`
}

// EnsureOnboardingLink creates the teacher's connected account if it does
// not exist yet and returns a fresh onboarding link for it.
func (s *AccountService) EnsureOnboardingLink(ctx context.Context, teacherUID string) (*OnboardingLink, error) {
	var accountID string
	if existing, err := s.accounts.GetByTeacher(ctx, teacherUID); err == nil && existing.AccountID != "" {
		accountID = existing.AccountID
	} else {
		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		account, err := s.gateway.CreateAccount(callCtx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("onboarding: create account: %w", err)
		}
		accountID = account.ID

		if err := s.accounts.SaveAccountID(ctx, teacherUID, accountID); err != nil {
			return nil, fmt.Errorf("onboarding: save account id: %w", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	url, err := s.gateway.CreateAccountLink(
		callCtx,
		accountID,
		s.baseURL+"/payouts/onboard/refresh",
		s.baseURL+"/payouts/onboard/return",
	)
	if err != nil {
		return nil, fmt.Errorf("onboarding: create link: %w", err)
	}

	return &OnboardingLink{AccountID: accountID, URL: url}, nil
}

// RefreshStatus pulls the current capability flags from the processor and
// stores them. This is the explicit status-refresh path; the webhook
// reconciler covers the asynchronous one.
func (s *AccountService) RefreshStatus(ctx context.Context, teacherUID string) (*models.TeacherAccount, error) {
	account, err := s.accounts.GetByTeacher(ctx, teacherUID)
	if err != nil || account.AccountID == "" {
		return nil, ErrTeacherNotOnboarded
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	remote, err := s.gateway.RetrieveAccount(callCtx, account.AccountID)
	if err != nil {
		return nil, fmt.Errorf("onboarding: retrieve account: %w", err)
	}

	caps := models.AccountCapabilities{
		PayoutsEnabled:   remote.PayoutsEnabled,
		ChargesEnabled:   remote.ChargesEnabled,
		DetailsSubmitted: remote.DetailsSubmitted,
	}
	if err := s.accounts.UpdateCapabilities(ctx, account.AccountID, caps); err != nil {
		return nil, fmt.Errorf("onboarding: update capabilities: %w", err)
	}

	account.AccountCapabilities = caps
	return account, nil
}

// ApplyAccountUpdate syncs capability flags reported by a processor event.
func (s *AccountService) ApplyAccountUpdate(ctx context.Context, accountID string, caps models.AccountCapabilities) error {
	if _, err := s.accounts.GetByAccountID(ctx, accountID); err != nil {
		// an account we never onboarded; nothing to reconcile
		slog.Warn("accounts: capability update for unknown account", "account_id", accountID)
		return ErrAccountNotFound
	}

	return s.accounts.UpdateCapabilities(ctx, accountID, caps)
}
