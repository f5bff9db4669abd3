package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wheeltrack/wheeltrack-api/internal/database/migrations"
	"github.com/wheeltrack/wheeltrack-api/internal/types"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate runs schema migrations. Split out from NewDatabase so tests can
// run it against an in-memory database.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&types.Execution{},
		&types.Wheel{},
		&types.PositionSnapshot{},
		&types.AccountSettings{},
		&types.SyncRun{},
	)
	if err != nil {
		return err
	}

	if err := migrations.AddWheelIndexes(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
