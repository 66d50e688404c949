package events

import (
	"context"
	"log"
	"time"

	"github.com/zulandar/shopfloor/internal/models"
	"gorm.io/gorm"
)

// publishTimeout bounds a single sink attempt.
const publishTimeout = 10 * time.Second

// Sink delivers events to an external destination. Implementations live
// in internal/notify.
type Sink interface {
	// Name identifies the sink in logs.
	Name() string

	// Publish delivers one event. Errors are logged by the dispatcher,
	// never surfaced to the command that emitted the event.
	Publish(ctx context.Context, ev Event) error
}

// Dispatcher fans emitted events out to the configured sinks. Delivery is
// at-least-once attempted: every sink is tried once per event, failures
// are logged, and the outbox row is stamped after the attempts.
type Dispatcher struct {
	db      *gorm.DB
	emitter *Emitter
	sinks   []Sink
}

// NewDispatcher creates a Dispatcher reading from emitter.
func NewDispatcher(db *gorm.DB, emitter *Emitter, sinks ...Sink) *Dispatcher {
	return &Dispatcher{db: db, emitter: emitter, sinks: sinks}
}

// Run consumes the emitter queue until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.emitter.Events():
			d.dispatch(ctx, ev)
		}
	}
}

// dispatch attempts every sink for one event, then stamps the outbox row.
func (d *Dispatcher) dispatch(ctx context.Context, ev Event) {
	for _, sink := range d.sinks {
		pctx, cancel := context.WithTimeout(ctx, publishTimeout)
		if err := sink.Publish(pctx, ev); err != nil {
			log.Printf("events: %s publish %s %s: %v", sink.Name(), ev.Type, ev.ID, err)
		}
		cancel()
	}

	now := time.Now()
	if err := d.db.Model(&models.EventRecord{}).
		Where("id = ?", ev.ID).
		Update("dispatched_at", now).Error; err != nil {
		log.Printf("events: stamp %s: %v", ev.ID, err)
	}
}

// Redeliver picks up outbox rows that were recorded but never handed to
// the sinks (emitted while the queue was full or before a crash) and
// dispatches them. Intended to run on a schedule alongside Run.
func (d *Dispatcher) Redeliver(ctx context.Context, limit int) error {
	records, err := Pending(d.db, limit)
	if err != nil {
		return err
	}
	for _, rec := range records {
		ev := Event{
			ID:          rec.ID,
			Type:        rec.Type,
			JobID:       rec.JobID,
			PartID:      rec.PartID,
			OperationID: rec.OperationID,
			PrevStatus:  rec.PrevStatus,
			NewStatus:   rec.NewStatus,
			OccurredAt:  rec.CreatedAt,
		}
		d.dispatch(ctx, ev)
	}
	return nil
}
