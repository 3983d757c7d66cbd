package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appmetering "github.com/voxsuite/backend/internal/application/metering"
)

// PeriodAdmin exposes the administrative reset and statistics operations
type PeriodAdmin interface {
	ResetPeriod(ctx context.Context, caller appmetering.Caller, input appmetering.ResetInput) (*appmetering.ResetResult, error)
	GetStatistics(ctx context.Context, caller appmetering.Caller) (*appmetering.StatisticsDTO, error)
}

// AdminHandler handles administrative metering HTTP requests
type AdminHandler struct {
	BaseHandler
	rollover PeriodAdmin
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(rollover PeriodAdmin) *AdminHandler {
	return &AdminHandler{rollover: rollover}
}

// ResetPeriodRequest targets a single account or, when user_id is empty,
// sweeps every account with an elapsed period. Force resets regardless of
// whether the period has elapsed.
type ResetPeriodRequest struct {
	UserID string `json:"user_id"`
	Force  bool   `json:"force"`
}

// ResetPeriod archives elapsed billing periods and zeroes current usage.
// Admin only; the monthly rollover normally happens opportunistically and
// this endpoint exists for support and backfill work.
//
// POST /api/v1/admin/usage/reset
func (h *AdminHandler) ResetPeriod(c *gin.Context) {
	caller := getCaller(c)
	if !caller.IsAuthenticated() {
		h.Unauthorized(c, "Authentication required")
		return
	}

	// Body is optional: an empty body sweeps all due accounts
	var req ResetPeriodRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.BadRequest(c, "Invalid request body")
			return
		}
	}

	input := appmetering.ResetInput{Force: req.Force}
	if req.UserID != "" {
		userID, err := uuid.Parse(req.UserID)
		if err != nil {
			h.BadRequest(c, "Invalid user ID format")
			return
		}
		input.UserID = userID
	}

	result, err := h.rollover.ResetPeriod(c.Request.Context(), caller, input)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, result)
}

// GetStatistics returns system-wide metering aggregates. Admin only.
//
// GET /api/v1/admin/usage/statistics
func (h *AdminHandler) GetStatistics(c *gin.Context) {
	caller := getCaller(c)
	if !caller.IsAuthenticated() {
		h.Unauthorized(c, "Authentication required")
		return
	}

	stats, err := h.rollover.GetStatistics(c.Request.Context(), caller)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, stats)
}
