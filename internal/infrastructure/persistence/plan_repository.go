package persistence

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/voxsuite/backend/internal/domain/metering"
	"github.com/voxsuite/backend/internal/domain/shared"
)

// PlanModel is the GORM model for subscription plans
type PlanModel struct {
	ID   string `gorm:"type:varchar(50);primaryKey"`
	Name string `gorm:"type:varchar(100);not null"`

	TranscriptionMinutes int64 `gorm:"not null;default:0"`
	TranslationWords     int64 `gorm:"not null;default:0"`
	TTSMinutes           int64 `gorm:"column:tts_minutes;not null;default:0"`
	AICredits            int64 `gorm:"column:ai_credits;not null;default:0"`

	// Unavailable holds comma-separated resource kinds the plan gates off
	Unavailable string    `gorm:"type:text;not null;default:''"`
	IsActive    bool      `gorm:"not null;default:true"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (PlanModel) TableName() string {
	return "plans"
}

// ToEntity converts the model to a domain entity
func (m *PlanModel) ToEntity() *metering.Plan {
	var unavailable []metering.ResourceKind
	for _, raw := range strings.Split(m.Unavailable, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if kind, err := metering.ParseResourceKind(raw); err == nil {
			unavailable = append(unavailable, kind)
		}
	}

	return &metering.Plan{
		ID:   m.ID,
		Name: m.Name,
		Limits: metering.UsageCounters{
			TranscriptionMinutes: m.TranscriptionMinutes,
			TranslationWords:     m.TranslationWords,
			TTSMinutes:           m.TTSMinutes,
			AICredits:            m.AICredits,
		},
		Unavailable: unavailable,
		IsActive:    m.IsActive,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// PlanModelFromEntity creates a model from a domain entity
func PlanModelFromEntity(e *metering.Plan) *PlanModel {
	kinds := make([]string, len(e.Unavailable))
	for i, kind := range e.Unavailable {
		kinds[i] = kind.String()
	}

	return &PlanModel{
		ID:                   e.ID,
		Name:                 e.Name,
		TranscriptionMinutes: e.Limits.TranscriptionMinutes,
		TranslationWords:     e.Limits.TranslationWords,
		TTSMinutes:           e.Limits.TTSMinutes,
		AICredits:            e.Limits.AICredits,
		Unavailable:          strings.Join(kinds, ","),
		IsActive:             e.IsActive,
		CreatedAt:            e.CreatedAt,
		UpdatedAt:            e.UpdatedAt,
	}
}

// PlanRepository implements the metering.PlanRepository interface
type PlanRepository struct {
	db *gorm.DB
}

// NewPlanRepository creates a new plan repository
func NewPlanRepository(db *gorm.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// FindByID retrieves an active plan by its identifier
func (r *PlanRepository) FindByID(ctx context.Context, id string) (*metering.Plan, error) {
	var model PlanModel
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrPlanNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// FindAll retrieves all active plans
func (r *PlanRepository) FindAll(ctx context.Context) ([]*metering.Plan, error) {
	var models []PlanModel
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	plans := make([]*metering.Plan, len(models))
	for i := range models {
		plans[i] = models[i].ToEntity()
	}
	return plans, nil
}

// SeedDefaults inserts the built-in plan catalog, leaving existing rows untouched
func (r *PlanRepository) SeedDefaults(ctx context.Context) error {
	for _, plan := range metering.DefaultPlans() {
		model := PlanModelFromEntity(plan)
		err := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(model).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// Ensure PlanRepository implements the interface
var _ metering.PlanRepository = (*PlanRepository)(nil)
