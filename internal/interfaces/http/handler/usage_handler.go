package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appmetering "github.com/voxsuite/backend/internal/application/metering"
	"github.com/voxsuite/backend/internal/domain/metering"
)

// QuotaChecker answers quota questions without consuming anything
type QuotaChecker interface {
	ValidateUsage(ctx context.Context, caller appmetering.Caller, input appmetering.QuotaCheckInput) (*appmetering.QuotaCheckResult, error)
	GetUsageSummary(ctx context.Context, caller appmetering.Caller, userID uuid.UUID) (*appmetering.UsageSummaryDTO, error)
}

// UsageLedger performs usage mutations
type UsageLedger interface {
	TrackUsage(ctx context.Context, caller appmetering.Caller, input appmetering.UsageInput) error
	DeductUsage(ctx context.Context, caller appmetering.Caller, input appmetering.UsageInput) (*appmetering.DeductionResult, error)
}

// UsageHandler handles quota and usage HTTP requests
type UsageHandler struct {
	BaseHandler
	quota   QuotaChecker
	ledger  UsageLedger
	history metering.UsageHistoryRepository
}

// NewUsageHandler creates a new usage handler
func NewUsageHandler(quota QuotaChecker, ledger UsageLedger, history metering.UsageHistoryRepository) *UsageHandler {
	return &UsageHandler{
		quota:   quota,
		ledger:  ledger,
		history: history,
	}
}

// ============================================================================
// Request/Response DTOs
// ============================================================================

// UsageRequest is the shared request body for validate, track and deduct.
// UserID is optional; admins may target other users with it.
type UsageRequest struct {
	UserID   string `json:"user_id"`
	Resource string `json:"resource" binding:"required"`
	Amount   int64  `json:"amount"`
}

// ValidateUsageResponse reports whether a consumption would be allowed
type ValidateUsageResponse struct {
	Allowed         bool   `json:"allowed"`
	Resource        string `json:"resource"`
	Requested       int64  `json:"requested"`
	RemainingPlan   int64  `json:"remaining_plan"`
	PaygBalance     int64  `json:"payg_balance"`
	TotalAvailable  int64  `json:"total_available"`
	CurrentPeriod   int64  `json:"current_period"`
	PlanLimit       int64  `json:"plan_limit"`
	PlanID          string `json:"plan_id"`
	Unlimited       bool   `json:"unlimited"`
	UpgradeRequired bool   `json:"upgrade_required"`
	Reason          string `json:"reason,omitempty"`
	NextResetDate   string `json:"next_reset_date"`
}

// UsageHistoryItem is one archived billing period
type UsageHistoryItem struct {
	ArchivePeriod string                 `json:"archive_period"`
	PlanType      string                 `json:"plan_type"`
	Usage         metering.UsageCounters `json:"usage"`
	PeriodStart   string                 `json:"period_start"`
	ArchivedAt    string                 `json:"archived_at"`
}

// UsageHistoryResponse lists archived periods, most recent first
type UsageHistoryResponse struct {
	UserID  string             `json:"user_id"`
	Periods []UsageHistoryItem `json:"periods"`
}

// ============================================================================
// Handlers
// ============================================================================

// ValidateUsage checks whether the caller (or, for admins, the targeted
// user) may consume the requested amount of a resource. Read-only.
//
// POST /api/v1/usage/validate
func (h *UsageHandler) ValidateUsage(c *gin.Context) {
	caller := getCaller(c)
	if !caller.IsAuthenticated() {
		h.Unauthorized(c, "Authentication required")
		return
	}

	var req UsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body")
		return
	}

	targetID, err := resolveTargetUser(caller, req.UserID)
	if err != nil {
		h.BadRequest(c, "Invalid user ID format")
		return
	}

	resource, err := metering.ParseResourceKind(req.Resource)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	result, err := h.quota.ValidateUsage(c.Request.Context(), caller, appmetering.QuotaCheckInput{
		UserID:   targetID,
		Resource: resource,
		Amount:   req.Amount,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, ValidateUsageResponse{
		Allowed:         result.Allowed,
		Resource:        result.Resource.String(),
		Requested:       result.Requested,
		RemainingPlan:   result.RemainingPlan,
		PaygBalance:     result.PaygBalance,
		TotalAvailable:  result.TotalAvailable,
		CurrentPeriod:   result.CurrentPeriod,
		PlanLimit:       result.PlanLimit,
		PlanID:          result.PlanID,
		Unlimited:       result.Unlimited,
		UpgradeRequired: result.UpgradeRequired,
		Reason:          result.Reason,
		NextResetDate:   result.NextResetDate.UTC().Format(time.RFC3339),
	})
}

// TrackUsage records consumption without a quota gate. Intended for
// post-hoc metering where the work has already happened.
//
// POST /api/v1/usage/track
func (h *UsageHandler) TrackUsage(c *gin.Context) {
	caller := getCaller(c)
	if !caller.IsAuthenticated() {
		h.Unauthorized(c, "Authentication required")
		return
	}

	var req UsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body")
		return
	}

	targetID, err := resolveTargetUser(caller, req.UserID)
	if err != nil {
		h.BadRequest(c, "Invalid user ID format")
		return
	}

	resource, err := metering.ParseResourceKind(req.Resource)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	if err := h.ledger.TrackUsage(c.Request.Context(), caller, appmetering.UsageInput{
		UserID:   targetID,
		Resource: resource,
		Amount:   req.Amount,
	}); err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, gin.H{"tracked": true})
}

// DeductUsage atomically consumes quota, drawing from the plan allocation
// first and the pay-as-you-go balance for any overflow.
//
// POST /api/v1/usage/deduct
func (h *UsageHandler) DeductUsage(c *gin.Context) {
	caller := getCaller(c)
	if !caller.IsAuthenticated() {
		h.Unauthorized(c, "Authentication required")
		return
	}

	var req UsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body")
		return
	}

	targetID, err := resolveTargetUser(caller, req.UserID)
	if err != nil {
		h.BadRequest(c, "Invalid user ID format")
		return
	}

	resource, err := metering.ParseResourceKind(req.Resource)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	result, err := h.ledger.DeductUsage(c.Request.Context(), caller, appmetering.UsageInput{
		UserID:   targetID,
		Resource: resource,
		Amount:   req.Amount,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, result)
}

// GetUsageSummary returns quota state across all resources for one user.
// Defaults to the caller; admins may pass ?user_id= to inspect others.
//
// GET /api/v1/usage/summary
func (h *UsageHandler) GetUsageSummary(c *gin.Context) {
	caller := getCaller(c)
	if !caller.IsAuthenticated() {
		h.Unauthorized(c, "Authentication required")
		return
	}

	targetID, err := resolveTargetUser(caller, c.Query("user_id"))
	if err != nil {
		h.BadRequest(c, "Invalid user ID format")
		return
	}

	summary, err := h.quota.GetUsageSummary(c.Request.Context(), caller, targetID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, summary)
}

// GetUsageHistory returns archived billing periods, most recent first.
// Defaults to the caller; admins may pass ?user_id= to inspect others.
//
// GET /api/v1/usage/history
func (h *UsageHandler) GetUsageHistory(c *gin.Context) {
	caller := getCaller(c)
	if !caller.IsAuthenticated() {
		h.Unauthorized(c, "Authentication required")
		return
	}

	targetID, err := resolveTargetUser(caller, c.Query("user_id"))
	if err != nil {
		h.BadRequest(c, "Invalid user ID format")
		return
	}
	if !caller.IsAdmin && targetID != caller.UserID {
		h.Forbidden(c, "Cannot view usage history of another user")
		return
	}

	limit := 12
	if raw := c.Query("limit"); raw != "" {
		parsed, err := parsePositiveInt(raw)
		if err != nil {
			h.BadRequest(c, "Invalid limit")
			return
		}
		limit = parsed
	}

	records, err := h.history.FindByUser(c.Request.Context(), targetID, limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	items := make([]UsageHistoryItem, 0, len(records))
	for _, record := range records {
		items = append(items, UsageHistoryItem{
			ArchivePeriod: record.ArchivePeriod,
			PlanType:      record.PlanType,
			Usage:         record.Counters,
			PeriodStart:   record.PeriodStart.UTC().Format(time.RFC3339),
			ArchivedAt:    record.ArchivedAt.UTC().Format(time.RFC3339),
		})
	}

	h.Success(c, UsageHistoryResponse{
		UserID:  targetID.String(),
		Periods: items,
	})
}
