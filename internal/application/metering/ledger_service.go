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

// UsageInput contains input for recording or deducting usage
type UsageInput struct {
	UserID   uuid.UUID
	Resource metering.ResourceKind
	Amount   int64
}

// DeductionResult reports what a deduction actually consumed and the quota
// state after it committed.
type DeductionResult struct {
	Resource       metering.ResourceKind   `json:"resource"`
	Requested      int64                   `json:"requested"`
	Deducted       int64                   `json:"deducted"`
	Split          metering.DeductionSplit `json:"split"`
	RemainingPlan  int64                   `json:"remaining_plan"`
	PaygBalance    int64                   `json:"payg_balance"`
	TotalAvailable int64                   `json:"total_available"`
	Unlimited      bool                    `json:"unlimited"`
}

// LedgerServiceConfig contains configuration for LedgerService
type LedgerServiceConfig struct {
	// MaxRetries bounds the optimistic-lock retry loop for deductions
	MaxRetries int
}

// DefaultLedgerServiceConfig returns default configuration
func DefaultLedgerServiceConfig() LedgerServiceConfig {
	return LedgerServiceConfig{MaxRetries: 5}
}

// LedgerService owns all usage mutations. Deductions run under optimistic
// locking with bounded retries; tracking is a weaker last-write-wins path
// for analytics-grade counters.
type LedgerService struct {
	accounts   metering.AccountRepository
	plans      metering.PlanRepository
	logger     *zap.Logger
	maxRetries int

	now func() time.Time
}

// NewLedgerService creates a new LedgerService
func NewLedgerService(
	accounts metering.AccountRepository,
	plans metering.PlanRepository,
	logger *zap.Logger,
	config LedgerServiceConfig,
) *LedgerService {
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultLedgerServiceConfig().MaxRetries
	}
	return &LedgerService{
		accounts:   accounts,
		plans:      plans,
		logger:     logger,
		maxRetries: config.MaxRetries,
		now:        time.Now,
	}
}

// TrackUsage records consumption without any quota enforcement. Concurrent
// trackers may interleave; the counters are advisory and the occasional
// lost update is acceptable on this path.
func (s *LedgerService) TrackUsage(ctx context.Context, caller Caller, input UsageInput) error {
	if err := authorizeOwnerOrAdmin(caller, input.UserID); err != nil {
		return err
	}
	if !input.Resource.IsValid() {
		return shared.ErrInvalidResource
	}
	if input.Amount <= 0 {
		return shared.NewDomainError("INVALID_AMOUNT", "Amount must be positive")
	}

	now := s.now()
	account, err := s.loadAccount(ctx, input.UserID, now)
	if err != nil {
		return err
	}
	s.rolloverIfDue(ctx, account, now)

	account.RecordUsage(input.Resource, input.Amount, now)
	if err := s.accounts.Save(ctx, account); err != nil {
		s.logger.Error("Failed to track usage",
			zap.String("user_id", input.UserID.String()),
			zap.String("resource", string(input.Resource)),
			zap.Error(err))
		return err
	}
	return nil
}

// DeductUsage consumes the amount against the plan allocation first and the
// pay-as-you-go balance second. Deduction is best-effort: a pool too small
// to cover the amount yields a partial deduction, never a rejection. The
// read-modify-write runs under optimistic locking and retries on conflict;
// exhausting the retry budget returns ErrTransactionFailed.
func (s *LedgerService) DeductUsage(ctx context.Context, caller Caller, input UsageInput) (*DeductionResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "deduct")
	defer span.End()

	telemetry.SetAttributes(span,
		telemetry.SpanAttrUserID, input.UserID.String(),
		telemetry.SpanAttrResource, string(input.Resource),
		telemetry.SpanAttrAmount, input.Amount,
	)

	if err := authorizeOwnerOrAdmin(caller, input.UserID); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if !input.Resource.IsValid() {
		telemetry.RecordError(span, shared.ErrInvalidResource)
		return nil, shared.ErrInvalidResource
	}
	if input.Amount <= 0 {
		err := shared.NewDomainError("INVALID_AMOUNT", "Amount must be positive")
		telemetry.RecordError(span, err)
		return nil, err
	}

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		result, err := s.deductOnce(ctx, input)
		if err == nil {
			telemetry.SetAttributes(span,
				telemetry.SpanAttrFromPlan, result.Split.FromPlan,
				telemetry.SpanAttrFromPayg, result.Split.FromPayg,
			)
			return result, nil
		}
		if !errors.Is(err, shared.ErrConcurrencyConflict) {
			telemetry.RecordError(span, err)
			return nil, err
		}
		s.logger.Debug("Deduction conflicted, retrying",
			zap.String("user_id", input.UserID.String()),
			zap.Int("attempt", attempt))
	}

	s.logger.Warn("Deduction retry budget exhausted",
		zap.String("user_id", input.UserID.String()),
		zap.String("resource", string(input.Resource)),
		zap.Int("max_retries", s.maxRetries))
	telemetry.RecordError(span, shared.ErrTransactionFailed)
	return nil, shared.ErrTransactionFailed
}

// deductOnce performs one optimistic attempt: load at a version, mutate,
// and commit only if the version still matches.
func (s *LedgerService) deductOnce(ctx context.Context, input UsageInput) (*DeductionResult, error) {
	now := s.now()
	account, err := s.loadAccount(ctx, input.UserID, now)
	if err != nil {
		return nil, err
	}
	s.rolloverIfDue(ctx, account, now)

	if account.HasUnlimitedQuota() {
		// Exempt roles consume nothing; the ledger only notes the activity.
		account.LastActivityAt = now
		if err := s.accounts.Save(ctx, account); err != nil {
			return nil, err
		}
		return &DeductionResult{
			Resource:       input.Resource,
			Requested:      input.Amount,
			RemainingPlan:  metering.UnlimitedRemaining,
			PaygBalance:    account.PaygBalance.Get(input.Resource),
			TotalAvailable: metering.UnlimitedRemaining,
			Unlimited:      true,
		}, nil
	}

	plan, err := s.effectivePlan(ctx, account)
	if err != nil {
		return nil, err
	}

	remaining := account.RemainingPlan(plan, input.Resource)
	payg := account.PaygBalance.Get(input.Resource)
	split := metering.SplitDeduction(remaining, payg, input.Amount)
	account.ApplyDeduction(input.Resource, split, now)

	if err := s.accounts.SaveWithLock(ctx, account); err != nil {
		return nil, err
	}

	return &DeductionResult{
		Resource:       input.Resource,
		Requested:      input.Amount,
		Deducted:       split.Total(),
		Split:          split,
		RemainingPlan:  account.RemainingPlan(plan, input.Resource),
		PaygBalance:    account.PaygBalance.Get(input.Resource),
		TotalAvailable: account.RemainingPlan(plan, input.Resource) + account.PaygBalance.Get(input.Resource),
	}, nil
}

// DeductTranscriptionMinutes deducts transcription minutes for a user
func (s *LedgerService) DeductTranscriptionMinutes(ctx context.Context, caller Caller, userID uuid.UUID, minutes int64) (*DeductionResult, error) {
	return s.DeductUsage(ctx, caller, UsageInput{UserID: userID, Resource: metering.ResourceTranscriptionMinutes, Amount: minutes})
}

// DeductTranslationWords deducts translation words for a user
func (s *LedgerService) DeductTranslationWords(ctx context.Context, caller Caller, userID uuid.UUID, words int64) (*DeductionResult, error) {
	return s.DeductUsage(ctx, caller, UsageInput{UserID: userID, Resource: metering.ResourceTranslationWords, Amount: words})
}

// DeductTTSMinutes deducts text-to-speech minutes for a user
func (s *LedgerService) DeductTTSMinutes(ctx context.Context, caller Caller, userID uuid.UUID, minutes int64) (*DeductionResult, error) {
	return s.DeductUsage(ctx, caller, UsageInput{UserID: userID, Resource: metering.ResourceTTSMinutes, Amount: minutes})
}

// DeductAICredits deducts AI credits for a user
func (s *LedgerService) DeductAICredits(ctx context.Context, caller Caller, userID uuid.UUID, credits int64) (*DeductionResult, error) {
	return s.DeductUsage(ctx, caller, UsageInput{UserID: userID, Resource: metering.ResourceAICredits, Amount: credits})
}

// loadAccount fetches the user's account and lazily initializes the usage
// substructure of an existing row. An absent account aborts the mutation
// before anything is written.
func (s *LedgerService) loadAccount(ctx context.Context, userID uuid.UUID, now time.Time) (*metering.Account, error) {
	account, err := s.accounts.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	account.EnsureUsageInitialized(now)
	return account, nil
}

// rolloverIfDue archives and resets an elapsed period before the mutation.
// Failure is logged and swallowed: usage lands in the stale period rather
// than being dropped, and the bulk sweep reconciles later.
func (s *LedgerService) rolloverIfDue(ctx context.Context, account *metering.Account, now time.Time) {
	if !account.NeedsRollover(now) {
		return
	}
	archived := *account
	history := account.Rollover(now)
	if err := s.accounts.ArchiveAndReset(ctx, account, history); err != nil {
		s.logger.Warn("Rollover before mutation failed, using stale period",
			zap.String("user_id", account.UserID.String()),
			zap.String("period", history.ArchivePeriod),
			zap.Error(err))
		*account = archived
	}
}

func (s *LedgerService) effectivePlan(ctx context.Context, account *metering.Account) (*metering.Plan, error) {
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
