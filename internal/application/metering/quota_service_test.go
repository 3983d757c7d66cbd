package metering

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voxsuite/backend/internal/domain/metering"
	"github.com/voxsuite/backend/internal/domain/shared"
)

var testTime = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testTime }

func seedPlan(t *testing.T, id string) *metering.Plan {
	t.Helper()
	for _, plan := range metering.DefaultPlans() {
		if plan.ID == id {
			return plan
		}
	}
	t.Fatalf("no seed plan %q", id)
	return nil
}

func newTestAccount(t *testing.T, planID string) *metering.Account {
	t.Helper()
	account, err := metering.NewAccount(uuid.New(), testTime)
	require.NoError(t, err)
	if planID != metering.FreePlanID {
		account.Subscription = metering.Subscription{PlanID: planID, Status: metering.SubscriptionActive}
	}
	return account
}

func ownerOf(account *metering.Account) Caller {
	return Caller{UserID: account.UserID}
}

func TestQuotaService_ValidateUsage(t *testing.T) {
	t.Run("allowed within plan", func(t *testing.T) {
		accounts := new(mockAccountRepository)
		plans := new(mockPlanRepository)
		service := NewQuotaService(accounts, plans, zap.NewNop())
		service.now = fixedNow

		account := newTestAccount(t, "starter")
		account.CurrentPeriod.Set(metering.ResourceTranscriptionMinutes, 100)
		accounts.On("FindByUserID", mock.Anything, account.UserID).Return(account, nil)
		plans.On("FindByID", mock.Anything, "starter").Return(seedPlan(t, "starter"), nil)

		result, err := service.ValidateUsage(context.Background(), ownerOf(account), QuotaCheckInput{
			UserID:   account.UserID,
			Resource: metering.ResourceTranscriptionMinutes,
			Amount:   50,
		})

		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, int64(200), result.RemainingPlan)
		assert.Equal(t, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), result.NextResetDate)
		assert.False(t, result.RolloverAttempted)
	})

	t.Run("zero amount is a no-op probe and always passes", func(t *testing.T) {
		accounts := new(mockAccountRepository)
		plans := new(mockPlanRepository)
		service := NewQuotaService(accounts, plans, zap.NewNop())
		service.now = fixedNow

		// plan fully exhausted: a real request would be denied
		account := newTestAccount(t, "starter")
		account.CurrentPeriod.Set(metering.ResourceAICredits, 500)
		accounts.On("FindByUserID", mock.Anything, account.UserID).Return(account, nil)
		plans.On("FindByID", mock.Anything, "starter").Return(seedPlan(t, "starter"), nil)

		result, err := service.ValidateUsage(context.Background(), ownerOf(account), QuotaCheckInput{
			UserID:   account.UserID,
			Resource: metering.ResourceAICredits,
		})

		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, int64(0), result.Requested)
		assert.Equal(t, int64(0), result.RemainingPlan)
	})

	t.Run("zero amount passes even on a gated resource", func(t *testing.T) {
		accounts := new(mockAccountRepository)
		plans := new(mockPlanRepository)
		service := NewQuotaService(accounts, plans, zap.NewNop())
		service.now = fixedNow

		account := newTestAccount(t, metering.FreePlanID)
		accounts.On("FindByUserID", mock.Anything, account.UserID).Return(account, nil)
		plans.On("FindByID", mock.Anything, metering.FreePlanID).Return(seedPlan(t, metering.FreePlanID), nil)

		result, err := service.ValidateUsage(context.Background(), ownerOf(account), QuotaCheckInput{
			UserID:   account.UserID,
			Resource: metering.ResourceTTSMinutes,
			Amount:   0,
		})

		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Empty(t, result.Reason)
	})

	t.Run("admin role bypasses plan lookup", func(t *testing.T) {
		accounts := new(mockAccountRepository)
		plans := new(mockPlanRepository)
		service := NewQuotaService(accounts, plans, zap.NewNop())
		service.now = fixedNow

		account := newTestAccount(t, metering.FreePlanID)
		account.Role = metering.RoleAdmin
		accounts.On("FindByUserID", mock.Anything, account.UserID).Return(account, nil)

		result, err := service.ValidateUsage(context.Background(), ownerOf(account), QuotaCheckInput{
			UserID:   account.UserID,
			Resource: metering.ResourceTTSMinutes,
			Amount:   1_000_000,
		})

		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.True(t, result.Unlimited)
		plans.AssertNotCalled(t, "FindByID")
	})

	t.Run("absent account is rejected, never provisioned", func(t *testing.T) {
		accounts := new(mockAccountRepository)
		plans := new(mockPlanRepository)
		service := NewQuotaService(accounts, plans, zap.NewNop())
		service.now = fixedNow

		userID := uuid.New()
		accounts.On("FindByUserID", mock.Anything, userID).Return(nil, shared.ErrAccountNotFound)

		_, err := service.ValidateUsage(context.Background(), Caller{UserID: userID}, QuotaCheckInput{
			UserID:   userID,
			Resource: metering.ResourceTranscriptionMinutes,
			Amount:   10,
		})

		assert.ErrorIs(t, err, shared.ErrAccountNotFound)
		accounts.AssertNotCalled(t, "Create")
	})

	t.Run("free plan gates off text-to-speech", func(t *testing.T) {
		accounts := new(mockAccountRepository)
		plans := new(mockPlanRepository)
		service := NewQuotaService(accounts, plans, zap.NewNop())
		service.now = fixedNow

		account := newTestAccount(t, metering.FreePlanID)
		account.PaygBalance.Set(metering.ResourceTTSMinutes, 100)
		accounts.On("FindByUserID", mock.Anything, account.UserID).Return(account, nil)
		plans.On("FindByID", mock.Anything, metering.FreePlanID).Return(seedPlan(t, metering.FreePlanID), nil)

		result, err := service.ValidateUsage(context.Background(), ownerOf(account), QuotaCheckInput{
			UserID:   account.UserID,
			Resource: metering.ResourceTTSMinutes,
			Amount:   1,
		})

		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Equal(t, metering.ReasonResourceUnavailable, result.Reason)
		assert.True(t, result.UpgradeRequired)
	})

	t.Run("performs opportunistic rollover", func(t *testing.T) {
		accounts := new(mockAccountRepository)
		plans := new(mockPlanRepository)
		service := NewQuotaService(accounts, plans, zap.NewNop())
		service.now = fixedNow

		account, err := metering.NewAccount(uuid.New(), testTime.AddDate(0, -1, 0))
		require.NoError(t, err)
		account.CurrentPeriod.Set(metering.ResourceAICredits, 45)
		accounts.On("FindByUserID", mock.Anything, account.UserID).Return(account, nil)
		accounts.On("ArchiveAndReset", mock.Anything, account, mock.AnythingOfType("*metering.UsageHistory")).
			Run(func(args mock.Arguments) {
				history := args.Get(2).(*metering.UsageHistory)
				assert.Equal(t, "2024-05", history.ArchivePeriod)
				assert.Equal(t, int64(45), history.Counters.AICredits)
			}).Return(nil)
		plans.On("FindByID", mock.Anything, metering.FreePlanID).Return(seedPlan(t, metering.FreePlanID), nil)

		result, err := service.ValidateUsage(context.Background(), ownerOf(account), QuotaCheckInput{
			UserID:   account.UserID,
			Resource: metering.ResourceAICredits,
			Amount:   40,
		})

		require.NoError(t, err)
		assert.True(t, result.RolloverAttempted)
		assert.True(t, result.RolloverSucceeded)
		// evaluated against the fresh period, not the archived counters
		assert.True(t, result.Allowed)
		assert.Equal(t, int64(50), result.RemainingPlan)
		accounts.AssertExpectations(t)
	})

	t.Run("rollover failure does not fail the check", func(t *testing.T) {
		accounts := new(mockAccountRepository)
		plans := new(mockPlanRepository)
		service := NewQuotaService(accounts, plans, zap.NewNop())
		service.now = fixedNow

		account, err := metering.NewAccount(uuid.New(), testTime.AddDate(0, -1, 0))
		require.NoError(t, err)
		account.CurrentPeriod.Set(metering.ResourceAICredits, 45)
		accounts.On("FindByUserID", mock.Anything, account.UserID).Return(account, nil)
		accounts.On("ArchiveAndReset", mock.Anything, account, mock.Anything).Return(errors.New("db down"))
		plans.On("FindByID", mock.Anything, metering.FreePlanID).Return(seedPlan(t, metering.FreePlanID), nil)

		result, err := service.ValidateUsage(context.Background(), ownerOf(account), QuotaCheckInput{
			UserID:   account.UserID,
			Resource: metering.ResourceAICredits,
			Amount:   40,
		})

		require.NoError(t, err)
		assert.True(t, result.RolloverAttempted)
		assert.False(t, result.RolloverSucceeded)
		// stale period stays in force: 45 of 50 used, 40 more denied
		assert.False(t, result.Allowed)
	})

	t.Run("missing subscribed plan falls back to free", func(t *testing.T) {
		accounts := new(mockAccountRepository)
		plans := new(mockPlanRepository)
		service := NewQuotaService(accounts, plans, zap.NewNop())
		service.now = fixedNow

		account := newTestAccount(t, "legacy-gold")
		accounts.On("FindByUserID", mock.Anything, account.UserID).Return(account, nil)
		plans.On("FindByID", mock.Anything, "legacy-gold").Return(nil, shared.ErrPlanNotFound)
		plans.On("FindByID", mock.Anything, metering.FreePlanID).Return(seedPlan(t, metering.FreePlanID), nil)

		result, err := service.ValidateUsage(context.Background(), ownerOf(account), QuotaCheckInput{
			UserID:   account.UserID,
			Resource: metering.ResourceTranscriptionMinutes,
			Amount:   10,
		})

		require.NoError(t, err)
		assert.Equal(t, metering.FreePlanID, result.PlanID)
	})

	t.Run("rejects invalid resource", func(t *testing.T) {
		service := NewQuotaService(new(mockAccountRepository), new(mockPlanRepository), zap.NewNop())

		caller := Caller{UserID: uuid.New()}
		_, err := service.ValidateUsage(context.Background(), caller, QuotaCheckInput{
			UserID:   caller.UserID,
			Resource: metering.ResourceKind("GPU_HOURS"),
			Amount:   1,
		})

		assert.ErrorIs(t, err, shared.ErrInvalidResource)
	})

	t.Run("unauthenticated caller", func(t *testing.T) {
		service := NewQuotaService(new(mockAccountRepository), new(mockPlanRepository), zap.NewNop())

		_, err := service.ValidateUsage(context.Background(), Caller{}, QuotaCheckInput{
			UserID:   uuid.New(),
			Resource: metering.ResourceAICredits,
			Amount:   1,
		})

		assert.ErrorIs(t, err, shared.ErrUnauthorized)
	})

	t.Run("non-owner without admin", func(t *testing.T) {
		service := NewQuotaService(new(mockAccountRepository), new(mockPlanRepository), zap.NewNop())

		_, err := service.ValidateUsage(context.Background(), Caller{UserID: uuid.New()}, QuotaCheckInput{
			UserID:   uuid.New(),
			Resource: metering.ResourceAICredits,
			Amount:   1,
		})

		assert.ErrorIs(t, err, shared.ErrForbidden)
	})

	t.Run("admin may check another user", func(t *testing.T) {
		accounts := new(mockAccountRepository)
		plans := new(mockPlanRepository)
		service := NewQuotaService(accounts, plans, zap.NewNop())
		service.now = fixedNow

		account := newTestAccount(t, metering.FreePlanID)
		accounts.On("FindByUserID", mock.Anything, account.UserID).Return(account, nil)
		plans.On("FindByID", mock.Anything, metering.FreePlanID).Return(seedPlan(t, metering.FreePlanID), nil)

		_, err := service.ValidateUsage(context.Background(), Caller{UserID: uuid.New(), IsAdmin: true}, QuotaCheckInput{
			UserID:   account.UserID,
			Resource: metering.ResourceAICredits,
			Amount:   1,
		})

		assert.NoError(t, err)
	})
}

func TestQuotaService_GetUsageSummary(t *testing.T) {
	t.Run("reports every resource", func(t *testing.T) {
		accounts := new(mockAccountRepository)
		plans := new(mockPlanRepository)
		service := NewQuotaService(accounts, plans, zap.NewNop())
		service.now = fixedNow

		account := newTestAccount(t, "starter")
		account.CurrentPeriod.Set(metering.ResourceTranscriptionMinutes, 120)
		account.PaygBalance.Set(metering.ResourceTTSMinutes, 25)
		accounts.On("FindByUserID", mock.Anything, account.UserID).Return(account, nil)
		plans.On("FindByID", mock.Anything, "starter").Return(seedPlan(t, "starter"), nil)

		summary, err := service.GetUsageSummary(context.Background(), ownerOf(account), account.UserID)

		require.NoError(t, err)
		assert.Equal(t, "starter", summary.PlanID)
		assert.Len(t, summary.Resources, len(metering.AllResourceKinds))

		transcription := summary.Resources[string(metering.ResourceTranscriptionMinutes)]
		assert.Equal(t, int64(120), transcription.CurrentPeriod)
		assert.Equal(t, int64(300), transcription.PlanLimit)
		assert.Equal(t, int64(180), transcription.RemainingPlan)

		tts := summary.Resources[string(metering.ResourceTTSMinutes)]
		assert.Equal(t, int64(25), tts.PaygBalance)
		assert.True(t, tts.Available)
	})

	t.Run("unlimited role reports unlimited everywhere", func(t *testing.T) {
		accounts := new(mockAccountRepository)
		plans := new(mockPlanRepository)
		service := NewQuotaService(accounts, plans, zap.NewNop())
		service.now = fixedNow

		account := newTestAccount(t, metering.FreePlanID)
		account.Role = metering.RoleSuper
		accounts.On("FindByUserID", mock.Anything, account.UserID).Return(account, nil)

		summary, err := service.GetUsageSummary(context.Background(), ownerOf(account), account.UserID)

		require.NoError(t, err)
		assert.True(t, summary.Unlimited)
		for _, detail := range summary.Resources {
			assert.Equal(t, metering.UnlimitedRemaining, detail.RemainingPlan)
			assert.True(t, detail.Available)
		}
		plans.AssertNotCalled(t, "FindByID")
	})
}
