// Package persistence wires gorm to the sqlite/postgres file backing
// llmlb.db and implements every domain/repository interface against it.
package persistence

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/llmlb/llmlb/internal/infrastructure/persistence/models"
)

// NewDBConnection opens the configured database and runs AutoMigrate for
// every table the core owns. dsn is LLMLB_DATABASE_URL (or the resolved
// sqlite file path under LLMLB_DATA_DIR); a "postgres://" prefix selects
// the postgres dialector, anything else is treated as a sqlite file.
func NewDBConnection(dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := autoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return db, nil
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.EndpointModel{},
		&models.EndpointModelAssocModel{},
		&models.RequestRecordModel{},
		&models.AuditEntryModel{},
		&models.SettingModel{},
		&models.UserModel{},
		&models.APIKeyModel{},
		&models.InvitationModel{},
	)
}
