package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/voxsuite/backend/internal/domain/metering"
	"github.com/voxsuite/backend/internal/domain/shared"
)

// UsageHistoryModel is the GORM model for archived billing periods.
// Rows are unique per (archive_period, user_id).
type UsageHistoryModel struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	ArchivePeriod string    `gorm:"type:varchar(7);not null;uniqueIndex:idx_usage_history_period_user"`
	UserID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_usage_history_period_user;index"`

	TranscriptionMinutes int64 `gorm:"not null;default:0"`
	TranslationWords     int64 `gorm:"not null;default:0"`
	TTSMinutes           int64 `gorm:"column:tts_minutes;not null;default:0"`
	AICredits            int64 `gorm:"column:ai_credits;not null;default:0"`

	PeriodStart time.Time `gorm:"not null"`
	ArchivedAt  time.Time `gorm:"not null"`
	PlanType    string    `gorm:"type:varchar(50);not null;default:'free'"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (UsageHistoryModel) TableName() string {
	return "usage_history"
}

// ToEntity converts the model to a domain entity
func (m *UsageHistoryModel) ToEntity() *metering.UsageHistory {
	return &metering.UsageHistory{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ArchivePeriod: m.ArchivePeriod,
		UserID:        m.UserID,
		Counters: metering.UsageCounters{
			TranscriptionMinutes: m.TranscriptionMinutes,
			TranslationWords:     m.TranslationWords,
			TTSMinutes:           m.TTSMinutes,
			AICredits:            m.AICredits,
		},
		PeriodStart: m.PeriodStart,
		ArchivedAt:  m.ArchivedAt,
		PlanType:    m.PlanType,
	}
}

// UsageHistoryModelFromEntity creates a model from a domain entity
func UsageHistoryModelFromEntity(e *metering.UsageHistory) *UsageHistoryModel {
	return &UsageHistoryModel{
		ID:                   e.ID,
		ArchivePeriod:        e.ArchivePeriod,
		UserID:               e.UserID,
		TranscriptionMinutes: e.Counters.TranscriptionMinutes,
		TranslationWords:     e.Counters.TranslationWords,
		TTSMinutes:           e.Counters.TTSMinutes,
		AICredits:            e.Counters.AICredits,
		PeriodStart:          e.PeriodStart,
		ArchivedAt:           e.ArchivedAt,
		PlanType:             e.PlanType,
		CreatedAt:            e.CreatedAt,
		UpdatedAt:            e.UpdatedAt,
	}
}

// upsertUsageHistory inserts the record or overwrites the counters of the row
// already stored for the same (period, user) key. Shared with the account
// repository's rollover transaction.
func upsertUsageHistory(db *gorm.DB, history *metering.UsageHistory) error {
	model := UsageHistoryModelFromEntity(history)
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "archive_period"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"transcription_minutes",
			"translation_words",
			"tts_minutes",
			"ai_credits",
			"period_start",
			"archived_at",
			"plan_type",
			"updated_at",
		}),
	}).Create(model).Error
}

// UsageHistoryRepository implements the metering.UsageHistoryRepository interface
type UsageHistoryRepository struct {
	db *gorm.DB
}

// NewUsageHistoryRepository creates a new usage history repository
func NewUsageHistoryRepository(db *gorm.DB) *UsageHistoryRepository {
	return &UsageHistoryRepository{db: db}
}

// Upsert inserts or overwrites the record for the history's (period, user) key
func (r *UsageHistoryRepository) Upsert(ctx context.Context, history *metering.UsageHistory) error {
	return upsertUsageHistory(r.db.WithContext(ctx), history)
}

// FindByPeriodAndUser retrieves the archived record for one period of one user
func (r *UsageHistoryRepository) FindByPeriodAndUser(ctx context.Context, period string, userID uuid.UUID) (*metering.UsageHistory, error) {
	var model UsageHistoryModel
	err := r.db.WithContext(ctx).
		First(&model, "archive_period = ? AND user_id = ?", period, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// FindByUser retrieves a user's archived periods, most recent first
func (r *UsageHistoryRepository) FindByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*metering.UsageHistory, error) {
	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("archive_period DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []UsageHistoryModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	records := make([]*metering.UsageHistory, len(models))
	for i := range models {
		records[i] = models[i].ToEntity()
	}
	return records, nil
}

// Ensure UsageHistoryRepository implements the interface
var _ metering.UsageHistoryRepository = (*UsageHistoryRepository)(nil)
