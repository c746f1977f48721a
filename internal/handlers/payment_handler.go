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

type PaymentHandler struct {
	app      *pocketbase.PocketBase
	checkout *services.CheckoutService
	refunds  *services.RefundService
}

func NewPaymentHandler(app *pocketbase.PocketBase, checkout *services.CheckoutService, refunds *services.RefundService) *PaymentHandler {
	return &PaymentHandler{
		app:      app,
		checkout: checkout,
		refunds:  refunds,
	}
}

// StartCheckout - Create a checkout session for a lesson
func (h *PaymentHandler) StartCheckout(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req services.CheckoutRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	ctx := e.Request.Context()

	intent, err := h.checkout.StartCheckout(ctx, e.Auth.Id, req)
	if err != nil {
		return settlementError(e, err)
	}

	return e.JSON(http.StatusOK, intent)
}

// SessionStatus - Poll a checkout session and record capture on success
func (h *PaymentHandler) SessionStatus(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := e.BindBody(&req); err != nil || req.SessionID == "" {
		return apis.NewBadRequestError("Invalid request", err)
	}
	ctx := e.Request.Context()

	status, err := h.checkout.ConfirmSession(ctx, req.SessionID)
	if err != nil {
		slog.Error("h.checkout.ConfirmSession()", "session_id", req.SessionID, "error", err)
		return apis.NewInternalServerError("internal error", err)
	}

	return e.JSON(http.StatusOK, status)
}

// Refund - Administrative refund / reversal of a settled payment
func (h *PaymentHandler) Refund(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}
	if !e.Auth.IsSuperuser() {
		return apis.NewForbiddenError("Admin access required", nil)
	}

	var req services.RefundRequest
	if err := e.BindBody(&req); err != nil || req.PaymentID == "" {
		return apis.NewBadRequestError("Invalid request", err)
	}
	ctx := e.Request.Context()

	result, err := h.refunds.Refund(ctx, e.Auth.Id, req)
	if err != nil {
		return settlementError(e, err)
	}

	return e.JSON(http.StatusOK, result)
}

// settlementError maps service errors to structured JSON error responses
// with stable codes.
func settlementError(e *core.RequestEvent, err error) error {
	var invalidStatus *services.InvalidStatusError

	switch {
	case errors.Is(err, services.ErrLessonNotFound),
		errors.Is(err, services.ErrPaymentNotFound):
		return e.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})

	case errors.Is(err, services.ErrTeacherNotOnboarded),
		errors.Is(err, services.ErrInvalidAmount):
		return e.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})

	case errors.As(err, &invalidStatus):
		return e.JSON(http.StatusConflict, map[string]string{"error": invalidStatus.Error()})

	case errors.Is(err, services.ErrRefundRunning):
		return e.JSON(http.StatusConflict, map[string]string{"error": "REFUND_IN_PROGRESS"})

	default:
		slog.Error("settlement request failed", "error", err)
		return apis.NewInternalServerError("internal error", err)
	}
}
