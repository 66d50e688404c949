package models

import "time"

// Job is a top-level work order. Its Status is derived from its parts by
// the lifecycle cascade and is never set directly by callers.
type Job struct {
	ID          string `gorm:"primaryKey;size:32"`
	Number      string `gorm:"size:64;uniqueIndex"`
	Title       string `gorm:"not null"`
	Customer    string `gorm:"size:128"`
	Status      string `gorm:"size:16;default:not_started;index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	HeldAt      *time.Time
	ResumedAt   *time.Time
	CompletedAt *time.Time

	Parts []Part `gorm:"foreignKey:JobID"`
}
