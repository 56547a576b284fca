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

type Run struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Stamp      string         `gorm:"type:text;not null;index"`
	Engines    datatypes.JSON `gorm:"type:jsonb"`
	Status     string         `gorm:"type:text;not null"`
	Files      int            `gorm:"not null;default:0"`
	Failed     int            `gorm:"not null;default:0"`
	StartedAt  time.Time      `gorm:"type:timestamptz;not null;index"`
	FinishedAt *time.Time     `gorm:"type:timestamptz"`
}

type FileResult struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey"`
	RunID         uuid.UUID      `gorm:"type:uuid;not null;index"`
	Path          string         `gorm:"type:text;not null"`
	ObjectType    string         `gorm:"type:text"`
	Category      string         `gorm:"type:text"`
	Rows          int            `gorm:"not null;default:0"`
	Success       bool           `gorm:"not null"`
	Error         string         `gorm:"type:text"`
	TotalUpdates  int            `gorm:"not null;default:0"`
	TotalFailures int            `gorm:"not null;default:0"`
	MissingIDs    datatypes.JSON `gorm:"column:missing_ids;type:jsonb"`
	Unreachable   datatypes.JSON `gorm:"type:jsonb"`
	Engines       datatypes.JSON `gorm:"type:jsonb"`
	ArchiveKeys   datatypes.JSON `gorm:"type:jsonb"`
	StartedAt     time.Time      `gorm:"type:timestamptz;not null"`
	FinishedAt    time.Time      `gorm:"type:timestamptz;not null"`
	Run           Run            `gorm:"foreignKey:RunID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func openTx(tx *sql.Tx) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openTx(tx)
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(&Run{}, &FileResult{}); err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().CreateConstraint(&FileResult{}, "Run")
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openTx(tx)
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(&FileResult{}, &Run{})
}
