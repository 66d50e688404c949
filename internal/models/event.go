package models

import "time"

// EventRecord is the outbox row for a committed domain event. Rows are
// written once per committed transition and handed to the dispatcher;
// DispatchedAt stays null until every configured sink has been attempted.
type EventRecord struct {
	ID           string `gorm:"primaryKey;size:36"`
	Type         string `gorm:"size:32;index;not null"`
	JobID        string `gorm:"size:32;index"`
	PartID       string `gorm:"size:32;index"`
	OperationID  string `gorm:"size:32;index"`
	PrevStatus   string `gorm:"size:16"`
	NewStatus    string `gorm:"size:16"`
	Payload      string `gorm:"type:json"`
	CreatedAt    time.Time
	DispatchedAt *time.Time
}
