package models

import "time"

// TimeEntry is one labor session against an operation. EndTime is null
// while the session is open. At most one open entry exists per operator
// across the whole system; the timeclock ledger enforces this.
type TimeEntry struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	OperationID     string `gorm:"size:32;index;not null"`
	OperatorID      string `gorm:"size:64;not null;index:idx_operator_open,priority:1"`
	StartTime       time.Time
	EndTime         *time.Time `gorm:"index:idx_operator_open,priority:2"`
	PauseSeconds    int64      `gorm:"default:0"`
	DurationSeconds int64      `gorm:"default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Operation Operation `gorm:"foreignKey:OperationID"`
	Pauses    []Pause   `gorm:"foreignKey:TimeEntryID"`
}

// Pause is a break nested within a time entry. ResumedAt is null while
// the pause is still open. An operation cannot complete with an open
// pause; the ledger closes trailing pauses as part of stop bookkeeping.
type Pause struct {
	ID          uint `gorm:"primaryKey;autoIncrement"`
	TimeEntryID uint `gorm:"index;not null"`
	PausedAt    time.Time
	ResumedAt   *time.Time
}
