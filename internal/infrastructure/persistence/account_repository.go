package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/voxsuite/backend/internal/domain/metering"
	"github.com/voxsuite/backend/internal/domain/shared"
)

// AccountModel is the GORM model for metering accounts
type AccountModel struct {
	ID                 uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID             uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	Role               string    `gorm:"type:varchar(20);not null;default:'normal'"`
	PlanID             string    `gorm:"type:varchar(50);not null;default:'free'"`
	SubscriptionStatus string    `gorm:"type:varchar(20);not null;default:'inactive'"`

	CurrentTranscriptionMinutes int64 `gorm:"not null;default:0"`
	CurrentTranslationWords     int64 `gorm:"not null;default:0"`
	CurrentTTSMinutes           int64 `gorm:"column:current_tts_minutes;not null;default:0"`
	CurrentAICredits            int64 `gorm:"column:current_ai_credits;not null;default:0"`

	TotalTranscriptionMinutes int64 `gorm:"not null;default:0"`
	TotalTranslationWords     int64 `gorm:"not null;default:0"`
	TotalTTSMinutes           int64 `gorm:"column:total_tts_minutes;not null;default:0"`
	TotalAICredits            int64 `gorm:"column:total_ai_credits;not null;default:0"`

	PaygTranscriptionMinutes int64 `gorm:"not null;default:0"`
	PaygTranslationWords     int64 `gorm:"not null;default:0"`
	PaygTTSMinutes           int64 `gorm:"column:payg_tts_minutes;not null;default:0"`
	PaygAICredits            int64 `gorm:"column:payg_ai_credits;not null;default:0"`

	PeriodStart    *time.Time `gorm:"index"`
	LastResetAt    *time.Time
	LastActivityAt *time.Time
	Version        int       `gorm:"not null;default:1"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (AccountModel) TableName() string {
	return "usage_accounts"
}

// ToEntity converts the model to a domain entity
func (m *AccountModel) ToEntity() *metering.Account {
	return &metering.Account{
		BaseAggregateRoot: shared.BaseAggregateRoot{
			BaseEntity: shared.BaseEntity{
				ID:        m.ID,
				CreatedAt: m.CreatedAt,
				UpdatedAt: m.UpdatedAt,
			},
			Version: m.Version,
		},
		UserID: m.UserID,
		Role:   metering.Role(m.Role),
		Subscription: metering.Subscription{
			PlanID: m.PlanID,
			Status: metering.SubscriptionStatus(m.SubscriptionStatus),
		},
		CurrentPeriod: metering.UsageCounters{
			TranscriptionMinutes: m.CurrentTranscriptionMinutes,
			TranslationWords:     m.CurrentTranslationWords,
			TTSMinutes:           m.CurrentTTSMinutes,
			AICredits:            m.CurrentAICredits,
		},
		TotalUsage: metering.UsageCounters{
			TranscriptionMinutes: m.TotalTranscriptionMinutes,
			TranslationWords:     m.TotalTranslationWords,
			TTSMinutes:           m.TotalTTSMinutes,
			AICredits:            m.TotalAICredits,
		},
		PaygBalance: metering.UsageCounters{
			TranscriptionMinutes: m.PaygTranscriptionMinutes,
			TranslationWords:     m.PaygTranslationWords,
			TTSMinutes:           m.PaygTTSMinutes,
			AICredits:            m.PaygAICredits,
		},
		PeriodStart:    timeFromPtr(m.PeriodStart),
		LastResetAt:    timeFromPtr(m.LastResetAt),
		LastActivityAt: timeFromPtr(m.LastActivityAt),
	}
}

// AccountModelFromEntity creates a model from a domain entity
func AccountModelFromEntity(e *metering.Account) *AccountModel {
	return &AccountModel{
		ID:                 e.ID,
		UserID:             e.UserID,
		Role:               string(e.Role),
		PlanID:             e.Subscription.PlanID,
		SubscriptionStatus: string(e.Subscription.Status),

		CurrentTranscriptionMinutes: e.CurrentPeriod.TranscriptionMinutes,
		CurrentTranslationWords:     e.CurrentPeriod.TranslationWords,
		CurrentTTSMinutes:           e.CurrentPeriod.TTSMinutes,
		CurrentAICredits:            e.CurrentPeriod.AICredits,

		TotalTranscriptionMinutes: e.TotalUsage.TranscriptionMinutes,
		TotalTranslationWords:     e.TotalUsage.TranslationWords,
		TotalTTSMinutes:           e.TotalUsage.TTSMinutes,
		TotalAICredits:            e.TotalUsage.AICredits,

		PaygTranscriptionMinutes: e.PaygBalance.TranscriptionMinutes,
		PaygTranslationWords:     e.PaygBalance.TranslationWords,
		PaygTTSMinutes:           e.PaygBalance.TTSMinutes,
		PaygAICredits:            e.PaygBalance.AICredits,

		PeriodStart:    timeToPtr(e.PeriodStart),
		LastResetAt:    timeToPtr(e.LastResetAt),
		LastActivityAt: timeToPtr(e.LastActivityAt),
		Version:        e.Version,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func timeToPtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeFromPtr(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// AccountRepository implements the metering.AccountRepository interface
type AccountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// FindByUserID retrieves an account by its owning user
func (r *AccountRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*metering.Account, error) {
	var model AccountModel
	if err := r.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrAccountNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// Create persists a new account
func (r *AccountRepository) Create(ctx context.Context, account *metering.Account) error {
	model := AccountModelFromEntity(account)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// Save writes the account unconditionally, last write wins
func (r *AccountRepository) Save(ctx context.Context, account *metering.Account) error {
	model := AccountModelFromEntity(account)
	return r.db.WithContext(ctx).Save(model).Error
}

// SaveWithLock writes the account only when the stored row still carries the
// version the account was loaded at. On success the in-memory version is
// advanced to match the row.
func (r *AccountRepository) SaveWithLock(ctx context.Context, account *metering.Account) error {
	result := r.versionedUpdate(r.db.WithContext(ctx), account)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	account.IncrementVersion()
	return nil
}

// ArchiveAndReset commits a period rollover atomically: the history upsert and
// the version-checked account update succeed or fail together.
func (r *AccountRepository) ArchiveAndReset(ctx context.Context, account *metering.Account, history *metering.UsageHistory) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertUsageHistory(tx, history); err != nil {
			return err
		}

		result := r.versionedUpdate(tx, account)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return shared.ErrConcurrencyConflict
		}
		return nil
	})
	if err != nil {
		return err
	}
	account.IncrementVersion()
	return nil
}

func (r *AccountRepository) versionedUpdate(db *gorm.DB, account *metering.Account) *gorm.DB {
	model := AccountModelFromEntity(account)
	return db.
		Model(&AccountModel{}).
		Where("id = ? AND version = ?", account.ID, account.Version).
		Updates(map[string]interface{}{
			"role":                          model.Role,
			"plan_id":                       model.PlanID,
			"subscription_status":           model.SubscriptionStatus,
			"current_transcription_minutes": model.CurrentTranscriptionMinutes,
			"current_translation_words":     model.CurrentTranslationWords,
			"current_tts_minutes":           model.CurrentTTSMinutes,
			"current_ai_credits":            model.CurrentAICredits,
			"total_transcription_minutes":   model.TotalTranscriptionMinutes,
			"total_translation_words":       model.TotalTranslationWords,
			"total_tts_minutes":             model.TotalTTSMinutes,
			"total_ai_credits":              model.TotalAICredits,
			"payg_transcription_minutes":    model.PaygTranscriptionMinutes,
			"payg_translation_words":        model.PaygTranslationWords,
			"payg_tts_minutes":              model.PaygTTSMinutes,
			"payg_ai_credits":               model.PaygAICredits,
			"period_start":                  model.PeriodStart,
			"last_reset_at":                 model.LastResetAt,
			"last_activity_at":              model.LastActivityAt,
			"version":                       account.Version + 1,
			"updated_at":                    time.Now().UTC(),
		})
}

// ListUserIDs returns the user IDs of all accounts with initialized usage
func (r *AccountRepository) ListUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&AccountModel{}).
		Where("period_start IS NOT NULL").
		Order("created_at ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Count returns the total number of accounts
func (r *AccountRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&AccountModel{}).Count(&count).Error
	return count, err
}

// CountNeedingRollover counts accounts whose period started before the given month start
func (r *AccountRepository) CountNeedingRollover(ctx context.Context, monthStart time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&AccountModel{}).
		Where("period_start IS NOT NULL AND period_start < ?", monthStart).
		Count(&count).Error
	return count, err
}

type periodTotalsRow struct {
	TranscriptionMinutes int64
	TranslationWords     int64
	TTSMinutes           int64 `gorm:"column:tts_minutes"`
	AICredits            int64 `gorm:"column:ai_credits"`
}

// SumCurrentPeriod aggregates current-period counters across all accounts
func (r *AccountRepository) SumCurrentPeriod(ctx context.Context) (metering.UsageCounters, error) {
	var row periodTotalsRow
	err := r.db.WithContext(ctx).
		Model(&AccountModel{}).
		Select(
			"COALESCE(SUM(current_transcription_minutes), 0) AS transcription_minutes, " +
				"COALESCE(SUM(current_translation_words), 0) AS translation_words, " +
				"COALESCE(SUM(current_tts_minutes), 0) AS tts_minutes, " +
				"COALESCE(SUM(current_ai_credits), 0) AS ai_credits").
		Scan(&row).Error
	if err != nil {
		return metering.UsageCounters{}, err
	}
	return metering.UsageCounters{
		TranscriptionMinutes: row.TranscriptionMinutes,
		TranslationWords:     row.TranslationWords,
		TTSMinutes:           row.TTSMinutes,
		AICredits:            row.AICredits,
	}, nil
}

type planCountRow struct {
	Plan  string
	Count int64
}

// PlanDistribution returns account counts grouped by effective plan. Accounts
// without an active subscription count under the free plan.
func (r *AccountRepository) PlanDistribution(ctx context.Context) (map[string]int64, error) {
	var rows []planCountRow
	err := r.db.WithContext(ctx).
		Model(&AccountModel{}).
		Select("CASE WHEN subscription_status = ? AND plan_id <> '' THEN plan_id ELSE ? END AS plan, COUNT(*) AS count",
			string(metering.SubscriptionActive), metering.FreePlanID).
		Group("plan").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	distribution := make(map[string]int64, len(rows))
	for _, row := range rows {
		distribution[row.Plan] = row.Count
	}
	return distribution, nil
}

// Ensure AccountRepository implements the interface
var _ metering.AccountRepository = (*AccountRepository)(nil)
