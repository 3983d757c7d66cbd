package metering

import (
	"slices"
	"time"

	"github.com/voxsuite/backend/internal/domain/shared"
)

// FreePlanID is the implicit plan for accounts without an active subscription
const FreePlanID = "free"

// Plan defines per-resource limits for a subscription tier. Plans are edited
// by external catalog tooling and are read-only within this subsystem.
type Plan struct {
	ID          string
	Name        string
	Limits      UsageCounters
	Unavailable []ResourceKind // resources hard-gated off this plan regardless of counters
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewPlan creates a plan with validation
func NewPlan(id, name string, limits UsageCounters) (*Plan, error) {
	if id == "" {
		return nil, shared.NewDomainError("INVALID_PLAN", "Plan ID cannot be empty")
	}
	for _, kind := range AllResourceKinds {
		if limits.Get(kind) < 0 {
			return nil, shared.NewDomainError("INVALID_LIMIT", "Plan limits cannot be negative")
		}
	}
	now := time.Now()
	return &Plan{
		ID:        id,
		Name:      name,
		Limits:    limits,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Limit returns the plan allocation for the resource
func (p *Plan) Limit(kind ResourceKind) int64 {
	return p.Limits.Get(kind)
}

// Allows returns false when the resource is unconditionally unavailable on
// this plan (e.g. text-to-speech on free), independent of counters.
func (p *Plan) Allows(kind ResourceKind) bool {
	return !slices.Contains(p.Unavailable, kind)
}

// WithUnavailable marks resources as hard-gated off this plan
func (p *Plan) WithUnavailable(kinds ...ResourceKind) *Plan {
	p.Unavailable = append(p.Unavailable, kinds...)
	return p
}

// DefaultPlans returns the seed catalog used by migrations and tests
func DefaultPlans() []*Plan {
	free, _ := NewPlan(FreePlanID, "Free", UsageCounters{
		TranscriptionMinutes: 30,
		TranslationWords:     5000,
		TTSMinutes:           0,
		AICredits:            50,
	})
	free.WithUnavailable(ResourceTTSMinutes)

	starter, _ := NewPlan("starter", "Starter", UsageCounters{
		TranscriptionMinutes: 300,
		TranslationWords:     50000,
		TTSMinutes:           60,
		AICredits:            500,
	})

	pro, _ := NewPlan("pro", "Pro", UsageCounters{
		TranscriptionMinutes: 1200,
		TranslationWords:     200000,
		TTSMinutes:           300,
		AICredits:            2000,
	})

	business, _ := NewPlan("business", "Business", UsageCounters{
		TranscriptionMinutes: 6000,
		TranslationWords:     1000000,
		TTSMinutes:           1500,
		AICredits:            10000,
	})

	return []*Plan{free, starter, pro, business}
}
