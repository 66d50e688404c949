package db

import (
	"fmt"

	"github.com/zulandar/shopfloor/internal/config"
	"github.com/zulandar/shopfloor/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Job{},
		&models.Part{},
		&models.Operation{},
		&models.TimeEntry{},
		&models.Pause{},
		&models.Cell{},
		&models.EventRecord{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedCells upserts Cell rows from configuration. Cells removed from the
// config are left in place but deactivated so historical operations keep
// a valid cell reference.
func SeedCells(db *gorm.DB, cells []config.CellConfig) error {
	names := make([]string, 0, len(cells))
	for _, cc := range cells {
		cell := models.Cell{
			ID:                  cc.Name,
			Description:         cc.Description,
			WipLimit:            cc.WipLimit,
			WipWarningThreshold: cc.WipWarningThreshold,
			EnforceLimit:        cc.EnforceLimit,
			Active:              true,
		}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"description", "wip_limit", "wip_warning_threshold", "enforce_limit", "active"}),
		}).Create(&cell)
		if result.Error != nil {
			return fmt.Errorf("db: seed cell %q: %w", cc.Name, result.Error)
		}
		names = append(names, cc.Name)
	}

	if len(names) > 0 {
		if err := db.Model(&models.Cell{}).
			Where("id NOT IN ?", names).
			Update("active", false).Error; err != nil {
			return fmt.Errorf("db: deactivate removed cells: %w", err)
		}
	}
	return nil
}
