package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type Plan struct {
	OwnerID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name           string    `gorm:"type:text;not null"`
	MaxDeployments int       `gorm:"type:integer;not null"`
	CreatedAt      time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt      time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

type Deployment struct {
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

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).AutoMigrate(
		&Plan{},
		&Deployment{},
	)
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&Deployment{},
		&Plan{},
	)
}
