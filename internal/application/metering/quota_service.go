package metering

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voxsuite/backend/internal/domain/metering"
	"github.com/voxsuite/backend/internal/domain/shared"
	"github.com/voxsuite/backend/internal/infrastructure/telemetry"
)

// QuotaCheckInput contains input for a quota check
type QuotaCheckInput struct {
	UserID   uuid.UUID
	Resource metering.ResourceKind
	Amount   int64 // Amount to be consumed; zero or negative is a no-op probe
}

// QuotaCheckResult is the outcome of a quota check, including what the
// opportunistic rollover did along the way.
type QuotaCheckResult struct {
	metering.Evaluation
	NextResetDate     time.Time
	RolloverAttempted bool
	RolloverSucceeded bool
}

// UsageDetailDTO describes one resource in a usage summary
type UsageDetailDTO struct {
	Resource       string `json:"resource"`
	DisplayName    string `json:"display_name"`
	Unit           string `json:"unit"`
	CurrentPeriod  int64  `json:"current_period"`
	PlanLimit      int64  `json:"plan_limit"`
	RemainingPlan  int64  `json:"remaining_plan"`
	PaygBalance    int64  `json:"payg_balance"`
	TotalAvailable int64  `json:"total_available"`
	Available      bool   `json:"available"`
}

// UsageSummaryDTO contains the full quota state for one user
type UsageSummaryDTO struct {
	UserID        uuid.UUID                 `json:"user_id"`
	PlanID        string                    `json:"plan_id"`
	Unlimited     bool                      `json:"unlimited"`
	PeriodStart   time.Time                 `json:"period_start"`
	NextResetDate time.Time                 `json:"next_reset_date"`
	Resources     map[string]UsageDetailDTO `json:"resources"`
}

// QuotaService answers "may this user consume N units" without mutating
// usage. The only write it performs is the opportunistic period rollover,
// whose failure never fails the check itself.
type QuotaService struct {
	accounts metering.AccountRepository
	plans    metering.PlanRepository
	logger   *zap.Logger

	now func() time.Time
}

// NewQuotaService creates a new QuotaService
func NewQuotaService(
	accounts metering.AccountRepository,
	plans metering.PlanRepository,
	logger *zap.Logger,
) *QuotaService {
	return &QuotaService{
		accounts: accounts,
		plans:    plans,
		logger:   logger,
		now:      time.Now,
	}
}

// ValidateUsage checks whether the user may consume the requested amount of
// the resource. Role exemption is resolved before any plan lookup, so an
// admin account with a missing or broken plan still validates.
func (s *QuotaService) ValidateUsage(ctx context.Context, caller Caller, input QuotaCheckInput) (*QuotaCheckResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "quota", "validate")
	defer span.End()

	telemetry.SetAttributes(span,
		telemetry.SpanAttrUserID, input.UserID.String(),
		telemetry.SpanAttrResource, string(input.Resource),
	)

	if err := authorizeOwnerOrAdmin(caller, input.UserID); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if !input.Resource.IsValid() {
		telemetry.RecordError(span, shared.ErrInvalidResource)
		return nil, shared.ErrInvalidResource
	}
	now := s.now()
	account, err := s.loadAccount(ctx, input.UserID, now)
	if err != nil {
		return nil, err
	}

	result := &QuotaCheckResult{}
	s.maybeRollover(ctx, account, now, result)

	eval, err := s.evaluate(ctx, account, input.Resource, input.Amount)
	if err != nil {
		return nil, err
	}
	result.Evaluation = eval
	result.NextResetDate = metering.NextMonthStart(account.PeriodStart)

	telemetry.SetAttributes(span,
		telemetry.SpanAttrPlanID, eval.PlanID,
		telemetry.SpanAttrAllowed, eval.Allowed,
	)

	s.logger.Debug("Quota check",
		zap.String("user_id", input.UserID.String()),
		zap.String("resource", string(input.Resource)),
		zap.Int64("amount", input.Amount),
		zap.Bool("allowed", eval.Allowed))
	return result, nil
}

// GetUsageSummary retrieves quota state across all resources for one user
func (s *QuotaService) GetUsageSummary(ctx context.Context, caller Caller, userID uuid.UUID) (*UsageSummaryDTO, error) {
	if err := authorizeOwnerOrAdmin(caller, userID); err != nil {
		return nil, err
	}

	now := s.now()
	account, err := s.loadAccount(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	s.maybeRollover(ctx, account, now, &QuotaCheckResult{})

	summary := &UsageSummaryDTO{
		UserID:        userID,
		PlanID:        account.EffectivePlanID(),
		Unlimited:     account.HasUnlimitedQuota(),
		PeriodStart:   account.PeriodStart,
		NextResetDate: metering.NextMonthStart(account.PeriodStart),
		Resources:     make(map[string]UsageDetailDTO, len(metering.AllResourceKinds)),
	}

	var plan *metering.Plan
	if !account.HasUnlimitedQuota() {
		plan, err = s.effectivePlan(ctx, account)
		if err != nil {
			return nil, err
		}
	}

	for _, kind := range metering.AllResourceKinds {
		eval := metering.Evaluate(account, plan, kind, 0)
		summary.Resources[string(kind)] = UsageDetailDTO{
			Resource:       string(kind),
			DisplayName:    kind.DisplayName(),
			Unit:           kind.Unit(),
			CurrentPeriod:  account.CurrentPeriod.Get(kind),
			PlanLimit:      eval.PlanLimit,
			RemainingPlan:  eval.RemainingPlan,
			PaygBalance:    eval.PaygBalance,
			TotalAvailable: eval.TotalAvailable,
			Available:      account.HasUnlimitedQuota() || plan.Allows(kind),
		}
	}
	return summary, nil
}

// loadAccount fetches the user's account and lazily initializes the usage
// substructure of an existing row. An absent account is the caller's error:
// provisioning happens at signup, not here.
func (s *QuotaService) loadAccount(ctx context.Context, userID uuid.UUID, now time.Time) (*metering.Account, error) {
	account, err := s.accounts.FindByUserID(ctx, userID)
	if err != nil {
		if !errors.Is(err, shared.ErrAccountNotFound) {
			s.logger.Error("Failed to load account", zap.String("user_id", userID.String()), zap.Error(err))
		}
		return nil, err
	}
	account.EnsureUsageInitialized(now)
	return account, nil
}

// maybeRollover performs the opportunistic period rollover. Persistence
// failures are swallowed: the check proceeds on the pre-rollover counters
// and the caller learns about it through the result flags.
func (s *QuotaService) maybeRollover(ctx context.Context, account *metering.Account, now time.Time, result *QuotaCheckResult) {
	if !account.NeedsRollover(now) {
		return
	}
	result.RolloverAttempted = true

	archived := *account
	history := account.Rollover(now)
	if err := s.accounts.ArchiveAndReset(ctx, account, history); err != nil {
		s.logger.Warn("Opportunistic rollover failed, proceeding with stale period",
			zap.String("user_id", account.UserID.String()),
			zap.String("period", history.ArchivePeriod),
			zap.Error(err))
		*account = archived
		return
	}
	result.RolloverSucceeded = true
}

func (s *QuotaService) evaluate(ctx context.Context, account *metering.Account, kind metering.ResourceKind, amount int64) (metering.Evaluation, error) {
	if account.HasUnlimitedQuota() {
		return metering.Evaluate(account, nil, kind, amount), nil
	}
	plan, err := s.effectivePlan(ctx, account)
	if err != nil {
		return metering.Evaluation{}, err
	}
	return metering.Evaluate(account, plan, kind, amount), nil
}

// effectivePlan resolves the account's plan, falling back to the free plan
// when the subscription references a plan the catalog no longer carries.
func (s *QuotaService) effectivePlan(ctx context.Context, account *metering.Account) (*metering.Plan, error) {
	planID := account.EffectivePlanID()
	plan, err := s.plans.FindByID(ctx, planID)
	if err == nil {
		return plan, nil
	}
	if errors.Is(err, shared.ErrPlanNotFound) && planID != metering.FreePlanID {
		s.logger.Warn("Subscribed plan missing from catalog, falling back to free",
			zap.String("user_id", account.UserID.String()),
			zap.String("plan_id", planID))
		return s.plans.FindByID(ctx, metering.FreePlanID)
	}
	return nil, err
}
