package metering

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voxsuite/backend/internal/domain/metering"
	"github.com/voxsuite/backend/internal/domain/shared"
)

// ResetInput contains input for a period reset
type ResetInput struct {
	// UserID limits the reset to one account; uuid.Nil sweeps all accounts
	UserID uuid.UUID
	// Force resets every targeted account even when its period has not
	// elapsed yet
	Force bool
}

// ResetOutcome describes one account's fate during a sweep
type ResetOutcome struct {
	UserID        uuid.UUID `json:"user_id"`
	ArchivePeriod string    `json:"archive_period,omitempty"`
	Reset         bool      `json:"reset"`
	Error         string    `json:"error,omitempty"`
}

// ResetResult summarizes a reset run. Per-account failures are collected
// rather than aborting the sweep. TotalArchived sums the counters moved to
// history across every reset account.
type ResetResult struct {
	Scanned       int                    `json:"scanned"`
	Reset         int                    `json:"reset"`
	Skipped       int                    `json:"skipped"`
	Failed        int                    `json:"failed"`
	ArchivePeriod string                 `json:"archive_period"`
	TotalArchived metering.UsageCounters `json:"total_archived"`
	Outcomes      []ResetOutcome         `json:"outcomes,omitempty"`
}

// StatisticsDTO is the admin-facing aggregate view of the metering system
type StatisticsDTO struct {
	TotalAccounts        int64                  `json:"total_accounts"`
	CurrentPeriodTotals  metering.UsageCounters `json:"current_period_totals"`
	AccountsNeedingReset int64                  `json:"accounts_needing_reset"`
	PlanDistribution     map[string]int64       `json:"plan_distribution"`
	NextResetDate        time.Time              `json:"next_reset_date"`
}

// RolloverService owns explicit period resets and system-wide statistics.
// Both operations are restricted to administrators; the opportunistic
// rollover on the read and write paths handles the common case without it.
type RolloverService struct {
	accounts metering.AccountRepository
	logger   *zap.Logger

	now func() time.Time
}

// NewRolloverService creates a new RolloverService
func NewRolloverService(accounts metering.AccountRepository, logger *zap.Logger) *RolloverService {
	return &RolloverService{
		accounts: accounts,
		logger:   logger,
		now:      time.Now,
	}
}

// ResetPeriod archives and resets billing periods. With a user ID it targets
// that single account; without one it sweeps every account. Only accounts
// whose period has elapsed are touched unless Force is set.
func (s *RolloverService) ResetPeriod(ctx context.Context, caller Caller, input ResetInput) (*ResetResult, error) {
	if err := authorizeAdmin(caller); err != nil {
		return nil, err
	}

	now := s.now()
	closedMonth := metering.PeriodKey(metering.MonthStart(now).AddDate(0, -1, 0))

	if input.UserID != uuid.Nil {
		outcome, archived := s.resetOne(ctx, input.UserID, input.Force, now)
		result := &ResetResult{Scanned: 1, ArchivePeriod: closedMonth, Outcomes: []ResetOutcome{outcome}}
		s.tally(result, outcome, archived)
		return result, nil
	}

	userIDs, err := s.accounts.ListUserIDs(ctx)
	if err != nil {
		s.logger.Error("Failed to list accounts for sweep", zap.Error(err))
		return nil, err
	}

	result := &ResetResult{Scanned: len(userIDs), ArchivePeriod: closedMonth}
	for _, userID := range userIDs {
		outcome, archived := s.resetOne(ctx, userID, input.Force, now)
		s.tally(result, outcome, archived)
		if outcome.Error != "" || outcome.Reset {
			result.Outcomes = append(result.Outcomes, outcome)
		}
	}

	s.logger.Info("Period reset sweep finished",
		zap.Int("scanned", result.Scanned),
		zap.Int("reset", result.Reset),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Int64("total_archived", result.TotalArchived.Total()),
		zap.Bool("force", input.Force))
	return result, nil
}

// resetOne resets a single account, reporting rather than propagating its
// failure so one broken row cannot stall the sweep. The second return value
// carries the counters that were moved into history.
func (s *RolloverService) resetOne(ctx context.Context, userID uuid.UUID, force bool, now time.Time) (ResetOutcome, metering.UsageCounters) {
	outcome := ResetOutcome{UserID: userID}

	account, err := s.accounts.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrAccountNotFound) {
			outcome.Error = "account not found"
		} else {
			outcome.Error = err.Error()
		}
		return outcome, metering.UsageCounters{}
	}

	if !account.HasUsage() {
		return outcome, metering.UsageCounters{} // nothing to archive
	}
	if !force && !account.NeedsRollover(now) {
		return outcome, metering.UsageCounters{}
	}

	history := account.Rollover(now)
	if err := s.accounts.ArchiveAndReset(ctx, account, history); err != nil {
		s.logger.Warn("Account reset failed",
			zap.String("user_id", userID.String()),
			zap.String("period", history.ArchivePeriod),
			zap.Error(err))
		outcome.Error = err.Error()
		return outcome, metering.UsageCounters{}
	}

	outcome.Reset = true
	outcome.ArchivePeriod = history.ArchivePeriod
	return outcome, history.Counters
}

func (s *RolloverService) tally(result *ResetResult, outcome ResetOutcome, archived metering.UsageCounters) {
	switch {
	case outcome.Error != "":
		result.Failed++
	case outcome.Reset:
		result.Reset++
		result.TotalArchived.AddAll(archived)
	default:
		result.Skipped++
	}
}

// GetStatistics returns the aggregate state of the metering system
func (s *RolloverService) GetStatistics(ctx context.Context, caller Caller) (*StatisticsDTO, error) {
	if err := authorizeAdmin(caller); err != nil {
		return nil, err
	}

	now := s.now()
	total, err := s.accounts.Count(ctx)
	if err != nil {
		return nil, err
	}
	totals, err := s.accounts.SumCurrentPeriod(ctx)
	if err != nil {
		return nil, err
	}
	needingReset, err := s.accounts.CountNeedingRollover(ctx, metering.MonthStart(now))
	if err != nil {
		return nil, err
	}
	distribution, err := s.accounts.PlanDistribution(ctx)
	if err != nil {
		return nil, err
	}

	return &StatisticsDTO{
		TotalAccounts:        total,
		CurrentPeriodTotals:  totals,
		AccountsNeedingReset: needingReset,
		PlanDistribution:     distribution,
		NextResetDate:        metering.NextMonthStart(now),
	}, nil
}
