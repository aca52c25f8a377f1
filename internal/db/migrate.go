package db

import (
	"fmt"

	"github.com/zulandar/llamagram/internal/models"
	"gorm.io/gorm"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.HistoryEntry{},
	}
}

// AutoMigrate creates any missing tables, columns and indexes. It never
// drops or rewrites existing data.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
