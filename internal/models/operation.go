package models

import "time"

// Operation is an atomic unit of work against a part, bound to exactly one
// production cell. Status is authoritative at this level; part and job
// statuses are recomputed from it. Version guards concurrent status
// writes: every transition UPDATE carries "AND version = ?" and bumps it.
type Operation struct {
	ID                string  `gorm:"primaryKey;size:32"`
	PartID            string  `gorm:"size:32;not null;uniqueIndex:idx_part_sequence,priority:1"`
	Sequence          int     `gorm:"not null;uniqueIndex:idx_part_sequence,priority:2"`
	Name              string  `gorm:"not null"`
	CellID            string  `gorm:"size:64;not null;index:idx_op_cell_status,priority:1"`
	RoutingNextCellID *string `gorm:"size:64"`
	Status            string  `gorm:"size:16;default:not_started;index:idx_op_cell_status,priority:2"`
	EstimatedSeconds  int64   `gorm:"default:0"`
	ActualSeconds     int64   `gorm:"default:0"`
	QuantityGood      int     `gorm:"default:0"`
	QuantityScrap     int     `gorm:"default:0"`
	Meta              string  `gorm:"type:json"`
	Version           int     `gorm:"default:1;not null"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time

	Part        Part        `gorm:"foreignKey:PartID"`
	TimeEntries []TimeEntry `gorm:"foreignKey:OperationID"`
}
