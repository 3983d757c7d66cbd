package metering

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AccountRepository persists metering accounts
type AccountRepository interface {
	// FindByUserID returns shared.ErrAccountNotFound when no account exists
	FindByUserID(ctx context.Context, userID uuid.UUID) (*Account, error)
	Create(ctx context.Context, account *Account) error
	// Save writes unconditionally, last write wins
	Save(ctx context.Context, account *Account) error
	// SaveWithLock writes only when the stored version matches the version
	// the account was loaded at, returning shared.ErrConcurrencyConflict
	// otherwise
	SaveWithLock(ctx context.Context, account *Account) error
	// ArchiveAndReset persists a rollover atomically: the history record
	// upsert and the version-checked account update commit together or not
	// at all
	ArchiveAndReset(ctx context.Context, account *Account, history *UsageHistory) error
	// ListUserIDs returns the user IDs of all accounts with initialized usage
	ListUserIDs(ctx context.Context) ([]uuid.UUID, error)
	Count(ctx context.Context) (int64, error)
	// CountNeedingRollover counts accounts whose period started before the
	// given month start
	CountNeedingRollover(ctx context.Context, monthStart time.Time) (int64, error)
	// SumCurrentPeriod aggregates current-period counters across all accounts
	SumCurrentPeriod(ctx context.Context) (UsageCounters, error)
	// PlanDistribution returns account counts grouped by effective plan
	PlanDistribution(ctx context.Context) (map[string]int64, error)
}

// UsageHistoryRepository persists archived billing periods
type UsageHistoryRepository interface {
	// Upsert inserts the record or overwrites the one already stored for the
	// same (period, user) key
	Upsert(ctx context.Context, history *UsageHistory) error
	FindByPeriodAndUser(ctx context.Context, period string, userID uuid.UUID) (*UsageHistory, error)
	FindByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*UsageHistory, error)
}

// PlanRepository reads the subscription plan catalog
type PlanRepository interface {
	// FindByID returns shared.ErrPlanNotFound when the plan does not exist
	FindByID(ctx context.Context, id string) (*Plan, error)
	FindAll(ctx context.Context) ([]*Plan, error)
}
