package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/voxsuite/backend/internal/domain/metering"
	"github.com/voxsuite/backend/internal/domain/shared"
)

// PlanModelSQLite is a SQLite-compatible version of PlanModel for testing
type PlanModelSQLite struct {
	ID   string `gorm:"primaryKey"`
	Name string `gorm:"not null"`

	TranscriptionMinutes int64 `gorm:"not null;default:0"`
	TranslationWords     int64 `gorm:"not null;default:0"`
	TTSMinutes           int64 `gorm:"column:tts_minutes;not null;default:0"`
	AICredits            int64 `gorm:"column:ai_credits;not null;default:0"`

	Unavailable string `gorm:"not null;default:''"`
	IsActive    bool   `gorm:"not null;default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (PlanModelSQLite) TableName() string {
	return "plans"
}

func setupPlanTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	err = db.AutoMigrate(&PlanModelSQLite{})
	require.NoError(t, err)

	return db
}

func TestPlanRepository_SeedDefaults(t *testing.T) {
	db := setupPlanTestDB(t)
	repo := NewPlanRepository(db)
	ctx := context.Background()

	t.Run("seeds the built-in catalog", func(t *testing.T) {
		require.NoError(t, repo.SeedDefaults(ctx))

		plans, err := repo.FindAll(ctx)
		require.NoError(t, err)
		assert.Len(t, plans, len(metering.DefaultPlans()))
	})

	t.Run("reseeding leaves existing rows untouched", func(t *testing.T) {
		// Simulate an operator tweak to the free plan
		err := db.Model(&PlanModelSQLite{}).
			Where("id = ?", metering.FreePlanID).
			Update("transcription_minutes", 45).Error
		require.NoError(t, err)

		require.NoError(t, repo.SeedDefaults(ctx))

		free, err := repo.FindByID(ctx, metering.FreePlanID)
		require.NoError(t, err)
		assert.Equal(t, int64(45), free.Limits.TranscriptionMinutes)
	})
}

func TestPlanRepository_FindByID(t *testing.T) {
	db := setupPlanTestDB(t)
	repo := NewPlanRepository(db)
	ctx := context.Background()
	require.NoError(t, repo.SeedDefaults(ctx))

	t.Run("free plan gates TTS", func(t *testing.T) {
		free, err := repo.FindByID(ctx, metering.FreePlanID)
		require.NoError(t, err)

		assert.Equal(t, "Free", free.Name)
		assert.False(t, free.Allows(metering.ResourceTTSMinutes))
		assert.True(t, free.Allows(metering.ResourceTranscriptionMinutes))
	})

	t.Run("paid plan allows everything", func(t *testing.T) {
		pro, err := repo.FindByID(ctx, "pro")
		require.NoError(t, err)

		for _, kind := range metering.AllResourceKinds {
			assert.True(t, pro.Allows(kind), kind)
		}
	})

	t.Run("unknown plan returns ErrPlanNotFound", func(t *testing.T) {
		_, err := repo.FindByID(ctx, "enterprise")
		assert.ErrorIs(t, err, shared.ErrPlanNotFound)
	})

	t.Run("inactive plan is invisible", func(t *testing.T) {
		err := db.Model(&PlanModelSQLite{}).
			Where("id = ?", "starter").
			Update("is_active", false).Error
		require.NoError(t, err)

		_, err = repo.FindByID(ctx, "starter")
		assert.ErrorIs(t, err, shared.ErrPlanNotFound)

		plans, err := repo.FindAll(ctx)
		require.NoError(t, err)
		assert.Len(t, plans, len(metering.DefaultPlans())-1)
	})
}

func TestPlanModel_UnavailableRoundTrip(t *testing.T) {
	plan, err := metering.NewPlan("custom", "Custom", metering.UsageCounters{AICredits: 100})
	require.NoError(t, err)
	plan.WithUnavailable(metering.ResourceTTSMinutes, metering.ResourceTranslationWords)

	model := PlanModelFromEntity(plan)
	assert.Equal(t, "TTS_MINUTES,TRANSLATION_WORDS", model.Unavailable)

	back := model.ToEntity()
	assert.False(t, back.Allows(metering.ResourceTTSMinutes))
	assert.False(t, back.Allows(metering.ResourceTranslationWords))
	assert.True(t, back.Allows(metering.ResourceAICredits))
}
