package metering

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/voxsuite/backend/internal/domain/shared"
)

// Role represents the account role for quota purposes
type Role string

const (
	// RoleNormal is a regular metered user
	RoleNormal Role = "normal"

	// RoleAdmin bypasses quota entirely
	RoleAdmin Role = "admin"

	// RoleSuper bypasses quota entirely
	RoleSuper Role = "super"
)

// IsValid returns true if the role is valid
func (r Role) IsValid() bool {
	switch r {
	case RoleNormal, RoleAdmin, RoleSuper:
		return true
	}
	return false
}

// SubscriptionStatus represents the state of an account's subscription
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionInactive  SubscriptionStatus = "inactive"
	SubscriptionTrial     SubscriptionStatus = "trial"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Subscription ties an account to a plan in the catalog
type Subscription struct {
	PlanID string             `json:"plan_id"`
	Status SubscriptionStatus `json:"status"`
}

// Account is the per-user metering aggregate. All usage mutations go through
// the ledger's transactional operations; there is no shared in-process state.
type Account struct {
	shared.BaseAggregateRoot
	UserID         uuid.UUID
	Role           Role
	Subscription   Subscription
	CurrentPeriod  UsageCounters
	PeriodStart    time.Time // zero value means the usage substructure is uninitialized
	TotalUsage     UsageCounters
	PaygBalance    UsageCounters
	LastResetAt    time.Time
	LastActivityAt time.Time
}

// NewAccount creates a fresh account with zero usage on the free plan
func NewAccount(userID uuid.UUID, now time.Time) (*Account, error) {
	if userID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_USER", "User ID cannot be empty")
	}
	return &Account{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		UserID:            userID,
		Role:              RoleNormal,
		Subscription:      Subscription{PlanID: FreePlanID, Status: SubscriptionInactive},
		PeriodStart:       MonthStart(now),
	}, nil
}

// HasUnlimitedQuota returns true for roles that bypass quota entirely.
// This is checked before any plan lookup.
func (a *Account) HasUnlimitedQuota() bool {
	return a.Role == RoleAdmin || a.Role == RoleSuper
}

// EffectivePlanID returns the plan used for limit lookups. Any subscription
// status other than active falls back to the free plan regardless of the
// stored plan ID.
func (a *Account) EffectivePlanID() string {
	if a.Subscription.Status == SubscriptionActive && a.Subscription.PlanID != "" {
		return a.Subscription.PlanID
	}
	return FreePlanID
}

// HasUsage returns true once the usage substructure has been initialized
func (a *Account) HasUsage() bool {
	return !a.PeriodStart.IsZero()
}

// EnsureUsageInitialized lazily initializes the usage substructure with
// all-zero counters and a period starting at the first instant of the
// current calendar month. Returns true if initialization happened.
func (a *Account) EnsureUsageInitialized(now time.Time) bool {
	if a.HasUsage() {
		return false
	}
	a.CurrentPeriod = UsageCounters{}
	a.PeriodStart = MonthStart(now)
	return true
}

// NeedsRollover reports whether the billing period has elapsed: the current
// UTC calendar month is strictly later than the period-start month.
func (a *Account) NeedsRollover(now time.Time) bool {
	if !a.HasUsage() {
		return false
	}
	return monthIndex(now) > monthIndex(a.PeriodStart)
}

// ArchivePeriod returns the history key ("YYYY-MM") of the period being
// closed, derived from the period start.
func (a *Account) ArchivePeriod() string {
	return PeriodKey(a.PeriodStart)
}

// PeriodKey formats a timestamp as its UTC calendar-month history key
func PeriodKey(t time.Time) string {
	u := t.UTC()
	return fmt.Sprintf("%04d-%02d", u.Year(), int(u.Month()))
}

// Rollover archives the closing period into a history record and resets the
// current-period counters for the month containing now. Callers persist the
// returned record and the mutated account atomically.
func (a *Account) Rollover(now time.Time) *UsageHistory {
	history := &UsageHistory{
		BaseEntity:    shared.NewBaseEntity(),
		ArchivePeriod: a.ArchivePeriod(),
		UserID:        a.UserID,
		Counters:      a.CurrentPeriod,
		PeriodStart:   a.PeriodStart,
		ArchivedAt:    now,
		PlanType:      a.EffectivePlanID(),
	}

	a.CurrentPeriod = UsageCounters{}
	a.PeriodStart = MonthStart(now)
	a.LastResetAt = now
	return history
}

// RecordUsage adds amount to the current-period and lifetime counters.
// Used by the track path, which performs no quota check.
func (a *Account) RecordUsage(kind ResourceKind, amount int64, now time.Time) {
	a.EnsureUsageInitialized(now)
	a.CurrentPeriod.Add(kind, amount)
	a.TotalUsage.Add(kind, amount)
	a.LastActivityAt = now
}

// ApplyDeduction applies a computed split: plan units go into the period
// counter, overflow units come off the pay-as-you-go balance, and the
// lifetime total grows by the full deducted amount.
func (a *Account) ApplyDeduction(kind ResourceKind, split DeductionSplit, now time.Time) {
	a.CurrentPeriod.Add(kind, split.FromPlan)
	a.PaygBalance.Add(kind, -split.FromPayg)
	a.TotalUsage.Add(kind, split.FromPlan+split.FromPayg)
	a.LastActivityAt = now
}

// RemainingPlan returns the unconsumed plan allocation for the resource,
// never negative: period counters may legitimately exceed the plan limit
// once overflow has been consumed.
func (a *Account) RemainingPlan(plan *Plan, kind ResourceKind) int64 {
	remaining := plan.Limit(kind) - a.CurrentPeriod.Get(kind)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// MonthStart returns the first instant of t's calendar month in UTC
func MonthStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// NextMonthStart returns the first instant of the month after t's in UTC
func NextMonthStart(t time.Time) time.Time {
	return MonthStart(t).AddDate(0, 1, 0)
}

// monthIndex flattens a timestamp to a comparable UTC year*12+month ordinal
func monthIndex(t time.Time) int {
	u := t.UTC()
	return u.Year()*12 + int(u.Month())
}
