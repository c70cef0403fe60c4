package api

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type deploymentModel struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey"`
	OwnerID     uuid.UUID         `gorm:"type:uuid;not null;index"`
	Title       string            `gorm:"type:text;not null"`
	DeployKey   string            `gorm:"type:text;uniqueIndex;not null"`
	StoragePath string            `gorm:"type:text;not null"`
	SizeBytes   int64             `gorm:"type:bigint;not null;default:0"`
	MimeType    string            `gorm:"type:text;not null;default:''"`
	Status      string            `gorm:"type:text;not null;default:'active'"`
	Usage       int64             `gorm:"type:bigint;not null;default:0"`
	Meta        datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt   time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (deploymentModel) TableName() string { return "deployments" }

func (m deploymentModel) toAPI() Deployment {
	return Deployment{
		ID:          m.ID,
		OwnerID:     m.OwnerID,
		Title:       m.Title,
		DeployKey:   m.DeployKey,
		StoragePath: m.StoragePath,
		SizeBytes:   m.SizeBytes,
		MimeType:    m.MimeType,
		Status:      m.Status,
		Usage:       m.Usage,
		Meta:        map[string]any(m.Meta),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// gormRepo is the Postgres-backed deploymentRepo. All lookups are scoped by
// owner so a foreign ID and a missing ID are indistinguishable to callers.
type gormRepo struct {
	orm *gorm.DB
}

func newGormRepo(orm *gorm.DB) *gormRepo { return &gormRepo{orm: orm} }

func (r *gormRepo) Create(ctx context.Context, m *deploymentModel) error {
	return r.orm.WithContext(ctx).Create(m).Error
}

func (r *gormRepo) GetByID(ctx context.Context, owner, id uuid.UUID) (deploymentModel, error) {
	var m deploymentModel
	err := r.orm.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, owner).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return deploymentModel{}, ErrNotFound
		}
		return deploymentModel{}, err
	}
	return m, nil
}

func (r *gormRepo) ListByOwner(ctx context.Context, owner uuid.UUID) ([]deploymentModel, error) {
	var out []deploymentModel
	err := r.orm.WithContext(ctx).
		Where("owner_id = ?", owner).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

func (r *gormRepo) Update(ctx context.Context, m *deploymentModel) error {
	return r.orm.WithContext(ctx).Save(m).Error
}

func (r *gormRepo) Delete(ctx context.Context, owner, id uuid.UUID) error {
	res := r.orm.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, owner).
		Delete(&deploymentModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormRepo) CountByOwner(ctx context.Context, owner uuid.UUID) (int64, error) {
	var count int64
	err := r.orm.WithContext(ctx).
		Model(&deploymentModel{}).
		Where("owner_id = ?", owner).
		Count(&count).Error
	return count, err
}

func (r *gormRepo) StatsByOwner(ctx context.Context, owner uuid.UUID) (OwnerStats, error) {
	var stats OwnerStats
	err := r.orm.WithContext(ctx).
		Model(&deploymentModel{}).
		Select("COUNT(*) AS deployments, COALESCE(SUM(size_bytes), 0) AS total_bytes, COALESCE(SUM(usage), 0) AS total_usage").
		Where("owner_id = ?", owner).
		Scan(&stats).Error
	return stats, err
}
