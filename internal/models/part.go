package models

import "time"

// Part is a physical component within a job. Parts may nest to form an
// assembly hierarchy; a parent part always belongs to the same job and a
// part may not be its own ancestor. Status is derived by the cascade.
//
// CurrentCellID is non-null exactly while one of the part's operations is
// in progress, and names the cell of one such operation; completions
// re-point it at a still-running sibling before clearing it.
type Part struct {
	ID            string  `gorm:"primaryKey;size:32"`
	JobID         string  `gorm:"size:32;index;not null"`
	ParentID      *string `gorm:"size:32;index"`
	Name          string  `gorm:"not null"`
	Status        string  `gorm:"size:16;default:not_started;index"`
	CurrentCellID *string `gorm:"size:64"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time

	Job        Job         `gorm:"foreignKey:JobID"`
	Parent     *Part       `gorm:"foreignKey:ParentID"`
	Children   []Part      `gorm:"foreignKey:ParentID"`
	Operations []Operation `gorm:"foreignKey:PartID"`
}
