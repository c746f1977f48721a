package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"lessonpay/internal/services"
)

type PayoutHandler struct {
	app      *pocketbase.PocketBase
	release  *services.ReleaseService
	accounts *services.AccountService
}

func NewPayoutHandler(app *pocketbase.PocketBase, release *services.ReleaseService, accounts *services.AccountService) *PayoutHandler {
	return &PayoutHandler{
		app:      app,
		release:  release,
		accounts: accounts,
	}
}

// Release - Operator/cron trigger for one escrow release batch
func (h *PayoutHandler) Release(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}
	if !e.Auth.IsSuperuser() {
		return apis.NewForbiddenError("Admin access required", nil)
	}

	report, err := h.release.ReleaseDue(e.Request.Context())
	if errors.Is(err, services.ErrReleaseRunning) {
		return e.JSON(http.StatusConflict, map[string]string{"error": "RELEASE_IN_PROGRESS"})
	}
	if err != nil {
		slog.Error("h.release.ReleaseDue()", "error", err)
		return apis.NewInternalServerError("internal error", err)
	}

	return e.JSON(http.StatusOK, report)
}

// Onboard - Create/refresh the connected account onboarding link
func (h *PayoutHandler) Onboard(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	link, err := h.accounts.EnsureOnboardingLink(e.Request.Context(), e.Auth.Id)
	if err != nil {
		slog.Error("h.accounts.EnsureOnboardingLink()", "teacher_uid", e.Auth.Id, "error", err)
		return apis.NewInternalServerError("internal error", err)
	}

	return e.JSON(http.StatusOK, link)
}

// Status - Explicit capability flag refresh from the processor
func (h *PayoutHandler) Status(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	account, err := h.accounts.RefreshStatus(e.Request.Context(), e.Auth.Id)
	if errors.Is(err, services.ErrTeacherNotOnboarded) {
		return e.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	if err != nil {
		slog.Error("h.accounts.RefreshStatus()", "teacher_uid", e.Auth.Id, "error", err)
		return apis.NewInternalServerError("internal error", err)
	}

	return e.JSON(http.StatusOK, account)
}
