package api

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type planModel struct {
	OwnerID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name           string    `gorm:"type:text;not null"`
	MaxDeployments int       `gorm:"type:integer;not null"`
	CreatedAt      time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt      time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (planModel) TableName() string { return "plans" }

// planResolver maps an owner to their deployment ceiling.
type planResolver interface {
	MaxDeployments(ctx context.Context, owner uuid.UUID) (int, error)
}

// gormPlans resolves limits from the plans table. Owners without a plan row
// get zero and no error; the quota gate applies its default in that case.
type gormPlans struct {
	orm *gorm.DB
}

func newGormPlans(orm *gorm.DB) *gormPlans { return &gormPlans{orm: orm} }

func (p *gormPlans) MaxDeployments(ctx context.Context, owner uuid.UUID) (int, error) {
	var plan planModel
	err := p.orm.WithContext(ctx).
		Where("owner_id = ?", owner).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return plan.MaxDeployments, nil
}
