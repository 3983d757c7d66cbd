package metering

// UnlimitedRemaining is the sentinel returned for accounts whose role grants
// quota exemption; clients render it as "unlimited" rather than a number.
const UnlimitedRemaining int64 = -1

// PlanTypeUnlimited labels evaluations that bypassed plan limits by role
const PlanTypeUnlimited = "unlimited"

// Evaluation is the outcome of checking a requested amount against an
// account's plan allocation and pay-as-you-go balance. It carries enough
// detail for clients to render quota state without a second call.
type Evaluation struct {
	Allowed         bool
	Resource        ResourceKind
	Requested       int64
	RemainingPlan   int64
	PaygBalance     int64
	TotalAvailable  int64
	CurrentPeriod   int64
	PlanLimit       int64
	PlanID          string
	Unlimited       bool
	UpgradeRequired bool
	Reason          string
}

// Evaluation reasons surfaced to clients when a request is rejected
const (
	ReasonResourceUnavailable = "resource_not_available_on_plan"
	ReasonQuotaExceeded       = "quota_exceeded"
)

// Evaluate checks whether the account may consume the requested amount of the
// resource. It is a pure function over the given state: role exemption is
// checked before anything else (plan may be nil in that branch), then the
// plan's availability gate, then the plan-plus-payg arithmetic.
func Evaluate(account *Account, plan *Plan, kind ResourceKind, requested int64) Evaluation {
	if account.HasUnlimitedQuota() {
		return Evaluation{
			Allowed:        true,
			Resource:       kind,
			Requested:      requested,
			RemainingPlan:  UnlimitedRemaining,
			PaygBalance:    account.PaygBalance.Get(kind),
			TotalAvailable: UnlimitedRemaining,
			PlanID:         PlanTypeUnlimited,
			Unlimited:      true,
		}
	}

	remainingPlan := account.RemainingPlan(plan, kind)
	payg := account.PaygBalance.Get(kind)
	eval := Evaluation{
		Resource:       kind,
		Requested:      requested,
		RemainingPlan:  remainingPlan,
		PaygBalance:    payg,
		TotalAvailable: remainingPlan + payg,
		CurrentPeriod:  account.CurrentPeriod.Get(kind),
		PlanLimit:      plan.Limit(kind),
		PlanID:         plan.ID,
	}

	// A non-positive request is a no-op probe and always passes, even on a
	// gated resource.
	if requested <= 0 {
		eval.Allowed = true
		return eval
	}

	if !plan.Allows(kind) {
		eval.Allowed = false
		eval.RemainingPlan = 0
		eval.TotalAvailable = 0
		eval.UpgradeRequired = true
		eval.Reason = ReasonResourceUnavailable
		return eval
	}

	eval.Allowed = requested <= eval.TotalAvailable
	if !eval.Allowed {
		eval.Reason = ReasonQuotaExceeded
	}
	// Upgrade nudge keys off the plan allocation alone. An account denied
	// purely on an exhausted payg balance with plan headroom left does not
	// get the nudge, which matches how the storefront surfaces it.
	eval.UpgradeRequired = !eval.Allowed && remainingPlan < requested
	return eval
}

// DeductionSplit describes how a deducted amount divides between the plan
// allocation and the pay-as-you-go balance.
type DeductionSplit struct {
	FromPlan int64 `json:"from_plan"`
	FromPayg int64 `json:"from_payg"`
}

// Total returns the amount actually deducted
func (s DeductionSplit) Total() int64 {
	return s.FromPlan + s.FromPayg
}

// SplitDeduction divides an amount across plan headroom first, then the
// pay-as-you-go balance. Deduction is best-effort: when the combined pool
// cannot cover the full amount the split covers what it can and the
// remainder is forgiven, never rejected.
func SplitDeduction(remainingPlan, paygBalance, amount int64) DeductionSplit {
	if amount <= 0 {
		return DeductionSplit{}
	}
	fromPlan := min(amount, remainingPlan)
	if fromPlan < 0 {
		fromPlan = 0
	}
	fromPayg := min(amount-fromPlan, paygBalance)
	if fromPayg < 0 {
		fromPayg = 0
	}
	return DeductionSplit{FromPlan: fromPlan, FromPayg: fromPayg}
}
