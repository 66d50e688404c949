// Package events defines the domain event catalogue and the emitter that
// records and dispatches events for committed transitions.
package events

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/shopfloor/internal/models"
	"gorm.io/gorm"
)

// Domain event types. This catalogue is a stable contract for external
// consumers; new types may be added but existing ones never renamed.
const (
	OperationStarted   = "operation.started"
	OperationPaused    = "operation.paused"
	OperationResumed   = "operation.resumed"
	OperationCompleted = "operation.completed"
	PartCompleted      = "part.completed"
	JobCompleted       = "job.completed"
)

// Event is one committed domain transition.
type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	JobID       string    `json:"jobId,omitempty"`
	PartID      string    `json:"partId,omitempty"`
	OperationID string    `json:"operationId,omitempty"`
	PrevStatus  string    `json:"prevStatus,omitempty"`
	NewStatus   string    `json:"newStatus,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
	Detail      Detail    `json:"detail"`
}

// Detail carries transition-specific measurements. Zero-valued fields are
// omitted from the payload.
type Detail struct {
	OperatorID     string `json:"operatorId,omitempty"`
	ActualSeconds  int64  `json:"actualSeconds,omitempty"`
	QuantityGood   int    `json:"quantityGood,omitempty"`
	QuantityScrap  int    `json:"quantityScrap,omitempty"`
	CellID         string `json:"cellId,omitempty"`
	Decision       string `json:"decision,omitempty"`
	WIP            int    `json:"wip,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

// Emitter persists committed events to the outbox and hands them to the
// dispatcher. Emission is fire-and-forget relative to the caller: a full
// queue or a failed outbox write is logged and never fails the command
// that produced the event.
type Emitter struct {
	// Now is the time source for event timestamps. Defaults to time.Now.
	Now func() time.Time

	db *gorm.DB
	ch chan Event
}

// NewEmitter creates an Emitter with the given queue depth.
func NewEmitter(db *gorm.DB, buffer int) *Emitter {
	if buffer <= 0 {
		buffer = 256
	}
	return &Emitter{
		Now: time.Now,
		db:  db,
		ch:  make(chan Event, buffer),
	}
}

// Emit records an event and enqueues it for dispatch. Called once per
// committed transition, after the mutation is durably applied.
func (e *Emitter) Emit(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = e.Now()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("events: marshal %s %s: %v", ev.Type, ev.ID, err)
		payload = []byte("{}")
	}
	record := models.EventRecord{
		ID:          ev.ID,
		Type:        ev.Type,
		JobID:       ev.JobID,
		PartID:      ev.PartID,
		OperationID: ev.OperationID,
		PrevStatus:  ev.PrevStatus,
		NewStatus:   ev.NewStatus,
		Payload:     string(payload),
		CreatedAt:   ev.OccurredAt,
	}
	if err := e.db.Create(&record).Error; err != nil {
		log.Printf("events: record %s %s: %v", ev.Type, ev.ID, err)
	}

	select {
	case e.ch <- ev:
	default:
		log.Printf("events: queue full, %s %s left for redelivery", ev.Type, ev.ID)
	}
}

// Events returns the dispatch queue.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Pending returns outbox rows that have not yet been handed to the sinks,
// oldest first.
func Pending(db *gorm.DB, limit int) ([]models.EventRecord, error) {
	var records []models.EventRecord
	q := db.Where("dispatched_at IS NULL").Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
