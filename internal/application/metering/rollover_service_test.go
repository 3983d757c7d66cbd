package metering

import (
	"context"
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

var adminCaller = Caller{UserID: uuid.New(), IsAdmin: true}

func newRolloverService(accounts metering.AccountRepository) *RolloverService {
	service := NewRolloverService(accounts, zap.NewNop())
	service.now = fixedNow
	return service
}

func TestRolloverService_ResetPeriod_SingleUser(t *testing.T) {
	t.Run("resets an elapsed period", func(t *testing.T) {
		repo := newMemoryAccountRepository()
		service := newRolloverService(repo)

		account, err := metering.NewAccount(uuid.New(), testTime.AddDate(0, -2, 0))
		require.NoError(t, err)
		account.CurrentPeriod.Set(metering.ResourceTranslationWords, 4000)
		require.NoError(t, repo.Create(context.Background(), account))

		result, err := service.ResetPeriod(context.Background(), adminCaller, ResetInput{UserID: account.UserID})

		require.NoError(t, err)
		assert.Equal(t, 1, result.Scanned)
		assert.Equal(t, 1, result.Reset)
		assert.Equal(t, "2024-05", result.ArchivePeriod)
		assert.Equal(t, int64(4000), result.TotalArchived.TranslationWords)
		require.Len(t, result.Outcomes, 1)
		assert.Equal(t, "2024-04", result.Outcomes[0].ArchivePeriod)

		stored, _ := repo.FindByUserID(context.Background(), account.UserID)
		assert.True(t, stored.CurrentPeriod.IsZero())
		assert.Equal(t, testTime, stored.LastResetAt)
	})

	t.Run("skips a current period without force", func(t *testing.T) {
		repo := newMemoryAccountRepository()
		service := newRolloverService(repo)

		account := newTestAccount(t, metering.FreePlanID)
		account.CurrentPeriod.Set(metering.ResourceAICredits, 10)
		require.NoError(t, repo.Create(context.Background(), account))

		result, err := service.ResetPeriod(context.Background(), adminCaller, ResetInput{UserID: account.UserID})

		require.NoError(t, err)
		assert.Equal(t, 1, result.Skipped)
		assert.Equal(t, 0, result.Reset)

		stored, _ := repo.FindByUserID(context.Background(), account.UserID)
		assert.Equal(t, int64(10), stored.CurrentPeriod.AICredits)
	})

	t.Run("force resets a current period", func(t *testing.T) {
		repo := newMemoryAccountRepository()
		service := newRolloverService(repo)

		account := newTestAccount(t, metering.FreePlanID)
		account.CurrentPeriod.Set(metering.ResourceAICredits, 10)
		require.NoError(t, repo.Create(context.Background(), account))

		result, err := service.ResetPeriod(context.Background(), adminCaller, ResetInput{UserID: account.UserID, Force: true})

		require.NoError(t, err)
		assert.Equal(t, 1, result.Reset)

		stored, _ := repo.FindByUserID(context.Background(), account.UserID)
		assert.True(t, stored.CurrentPeriod.IsZero())
		// the partial month is still archived under its own key
		archived := repo.history["2024-06/"+account.UserID.String()]
		require.NotNil(t, archived)
		assert.Equal(t, int64(10), archived.Counters.AICredits)
	})

	t.Run("missing account is reported not fatal", func(t *testing.T) {
		repo := newMemoryAccountRepository()
		service := newRolloverService(repo)

		result, err := service.ResetPeriod(context.Background(), adminCaller, ResetInput{UserID: uuid.New()})

		require.NoError(t, err)
		assert.Equal(t, 1, result.Failed)
		require.Len(t, result.Outcomes, 1)
		assert.Equal(t, "account not found", result.Outcomes[0].Error)
	})
}

func TestRolloverService_ResetPeriod_Sweep(t *testing.T) {
	t.Run("resets only elapsed periods", func(t *testing.T) {
		repo := newMemoryAccountRepository()
		service := newRolloverService(repo)
		ctx := context.Background()

		stale, _ := metering.NewAccount(uuid.New(), testTime.AddDate(0, -1, 0))
		stale.CurrentPeriod.Set(metering.ResourceAICredits, 7)
		fresh := newTestAccount(t, metering.FreePlanID)
		fresh.CurrentPeriod.Set(metering.ResourceAICredits, 3)
		require.NoError(t, repo.Create(ctx, stale))
		require.NoError(t, repo.Create(ctx, fresh))

		result, err := service.ResetPeriod(ctx, adminCaller, ResetInput{})

		require.NoError(t, err)
		assert.Equal(t, 2, result.Scanned)
		assert.Equal(t, 1, result.Reset)
		assert.Equal(t, 1, result.Skipped)
		assert.Equal(t, "2024-05", result.ArchivePeriod)
		// only the reset account's counters count toward the aggregate
		assert.Equal(t, int64(7), result.TotalArchived.AICredits)

		storedFresh, _ := repo.FindByUserID(ctx, fresh.UserID)
		assert.Equal(t, int64(3), storedFresh.CurrentPeriod.AICredits)
	})

	t.Run("force sweeps every account", func(t *testing.T) {
		repo := newMemoryAccountRepository()
		service := newRolloverService(repo)
		ctx := context.Background()

		for range 3 {
			account := newTestAccount(t, metering.FreePlanID)
			account.CurrentPeriod.Set(metering.ResourceAICredits, 1)
			require.NoError(t, repo.Create(ctx, account))
		}

		result, err := service.ResetPeriod(ctx, adminCaller, ResetInput{Force: true})

		require.NoError(t, err)
		assert.Equal(t, 3, result.Reset)
		assert.Equal(t, int64(3), result.TotalArchived.AICredits)
	})

	t.Run("one failure does not stall the sweep", func(t *testing.T) {
		accounts := new(mockAccountRepository)
		service := newRolloverService(accounts)

		healthy, _ := metering.NewAccount(uuid.New(), testTime.AddDate(0, -1, 0))
		broken, _ := metering.NewAccount(uuid.New(), testTime.AddDate(0, -1, 0))

		accounts.On("ListUserIDs", mock.Anything).Return([]uuid.UUID{broken.UserID, healthy.UserID}, nil)
		accounts.On("FindByUserID", mock.Anything, broken.UserID).Return(broken, nil)
		accounts.On("FindByUserID", mock.Anything, healthy.UserID).Return(healthy, nil)
		accounts.On("ArchiveAndReset", mock.Anything, broken, mock.Anything).Return(shared.ErrConcurrencyConflict)
		accounts.On("ArchiveAndReset", mock.Anything, healthy, mock.Anything).Return(nil)

		result, err := service.ResetPeriod(context.Background(), adminCaller, ResetInput{})

		require.NoError(t, err)
		assert.Equal(t, 2, result.Scanned)
		assert.Equal(t, 1, result.Reset)
		assert.Equal(t, 1, result.Failed)
	})

	t.Run("requires admin", func(t *testing.T) {
		service := newRolloverService(new(mockAccountRepository))

		_, err := service.ResetPeriod(context.Background(), Caller{UserID: uuid.New()}, ResetInput{})
		assert.ErrorIs(t, err, shared.ErrForbidden)

		_, err = service.ResetPeriod(context.Background(), Caller{}, ResetInput{})
		assert.ErrorIs(t, err, shared.ErrUnauthorized)
	})
}

func TestRolloverService_GetStatistics(t *testing.T) {
	t.Run("aggregates system state", func(t *testing.T) {
		accounts := new(mockAccountRepository)
		service := newRolloverService(accounts)

		accounts.On("Count", mock.Anything).Return(int64(42), nil)
		accounts.On("SumCurrentPeriod", mock.Anything).Return(metering.UsageCounters{
			TranscriptionMinutes: 1200,
			AICredits:            900,
		}, nil)
		accounts.On("CountNeedingRollover", mock.Anything, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)).Return(int64(5), nil)
		accounts.On("PlanDistribution", mock.Anything).Return(map[string]int64{"free": 30, "pro": 12}, nil)

		stats, err := service.GetStatistics(context.Background(), adminCaller)

		require.NoError(t, err)
		assert.Equal(t, int64(42), stats.TotalAccounts)
		assert.Equal(t, int64(1200), stats.CurrentPeriodTotals.TranscriptionMinutes)
		assert.Equal(t, int64(5), stats.AccountsNeedingReset)
		assert.Equal(t, int64(12), stats.PlanDistribution["pro"])
		assert.Equal(t, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), stats.NextResetDate)
	})

	t.Run("requires admin", func(t *testing.T) {
		service := newRolloverService(new(mockAccountRepository))

		_, err := service.GetStatistics(context.Background(), Caller{UserID: uuid.New()})
		assert.ErrorIs(t, err, shared.ErrForbidden)
	})
}
