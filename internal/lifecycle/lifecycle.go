// Package lifecycle implements the production execution state machine:
// operation start/pause/resume/complete, the WIP admission gate on
// completion, and the upward completion cascade to parts and jobs.
package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/shopfloor/internal/capacity"
	"github.com/zulandar/shopfloor/internal/events"
	"github.com/zulandar/shopfloor/internal/models"
	"github.com/zulandar/shopfloor/internal/timeclock"
	"gorm.io/gorm"
)

// maxConflictRetries bounds internal retries of version-guarded updates
// before ErrConflict is surfaced.
const maxConflictRetries = 3

// ValidTransitions maps each operation status to its valid next statuses.
var ValidTransitions = map[string][]string{
	models.StatusNotStarted: {models.StatusInProgress},
	models.StatusInProgress: {models.StatusPaused, models.StatusCompleted},
	models.StatusPaused:     {models.StatusInProgress, models.StatusCompleted},
	models.StatusCompleted:  {},
}

// Quantities reports the outcome of a completed operation. Detail carries
// loose extra fields as string pairs rather than an untyped map so the
// column stays schema-checkable.
type Quantities struct {
	Good        int               `json:"good"`
	Scrap       int               `json:"scrap"`
	ScrapReason string            `json:"scrapReason,omitempty"`
	Detail      map[string]string `json:"detail,omitempty"`
}

// CompleteResult describes the outcome of CompleteOperation.
type CompleteResult struct {
	Operation        *models.Operation
	Capacity         *capacity.Evaluation // nil when the operation is the terminal stage
	ActualSeconds    int64                // labor seconds from the entry closed by this call
	AlreadyCompleted bool                 // true means the call was a benign no-op
}

// Engine executes actor commands against operations and cascades the
// results upward. Every command either fully commits or leaves all state
// untouched; events are emitted only after commit.
type Engine struct {
	// Now is the time source for status timestamps. Defaults to time.Now.
	Now func() time.Time

	db      *gorm.DB
	ledger  *timeclock.Ledger
	emitter *events.Emitter
}

// New creates an Engine. emitter may be nil, in which case transitions
// commit without event emission.
func New(db *gorm.DB, ledger *timeclock.Ledger, emitter *events.Emitter) *Engine {
	if ledger == nil {
		ledger = timeclock.NewLedger()
	}
	return &Engine{
		Now:     time.Now,
		db:      db,
		ledger:  ledger,
		emitter: emitter,
	}
}

// StartOperation begins work on an operation: opens a time entry for the
// operator (force-closing any other open entry they have), marks the
// operation in progress, stamps the part's current cell if unset, and
// advances a not-yet-started job to in progress.
func (e *Engine) StartOperation(operationID, operatorID string) (*models.Operation, error) {
	if operatorID == "" {
		return nil, fmt.Errorf("lifecycle: operatorID is required")
	}

	var op models.Operation
	var evs []events.Event
	err := e.withRetry(func(tx *gorm.DB) error {
		evs = evs[:0]
		if err := getOperation(tx, operationID, &op); err != nil {
			return err
		}
		if op.Status == models.StatusInProgress || op.Status == models.StatusCompleted {
			return transitionError("start", op.Status)
		}

		if _, err := e.ledger.StartTiming(tx, op.ID, operatorID); err != nil {
			return err
		}

		now := e.Now()
		prev := op.Status
		updates := map[string]interface{}{
			"status":  models.StatusInProgress,
			"version": op.Version + 1,
		}
		if op.StartedAt == nil {
			updates["started_at"] = now
		}
		res := tx.Model(&models.Operation{}).
			Where("id = ? AND version = ?", op.ID, op.Version).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}

		// Stamp the part's current cell only when no sibling already holds it.
		if err := tx.Model(&models.Part{}).
			Where("id = ? AND current_cell_id IS NULL", op.PartID).
			Update("current_cell_id", op.CellID).Error; err != nil {
			return err
		}

		var part models.Part
		if err := tx.Where("id = ?", op.PartID).First(&part).Error; err != nil {
			return err
		}
		// The part and every ancestor assembly are now in progress.
		if err := markPartChainStarted(tx, &part); err != nil {
			return err
		}
		if err := tx.Model(&models.Job{}).
			Where("id = ? AND status = ?", part.JobID, models.StatusNotStarted).
			Updates(map[string]interface{}{"status": models.StatusInProgress, "started_at": now}).Error; err != nil {
			return err
		}

		op.Status = models.StatusInProgress
		op.Version++
		evs = append(evs, events.Event{
			Type:        events.OperationStarted,
			JobID:       part.JobID,
			PartID:      op.PartID,
			OperationID: op.ID,
			PrevStatus:  prev,
			NewStatus:   models.StatusInProgress,
			Detail:      events.Detail{OperatorID: operatorID, CellID: op.CellID},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.emitAll(evs)
	return &op, nil
}

// PauseOperation pauses an in-progress operation, opening a pause on its
// open time entry when one exists.
func (e *Engine) PauseOperation(operationID string) error {
	var evs []events.Event
	err := e.withRetry(func(tx *gorm.DB) error {
		evs = evs[:0]
		var op models.Operation
		if err := getOperation(tx, operationID, &op); err != nil {
			return err
		}
		if !canTransition(op.Status, models.StatusPaused) {
			return transitionError("pause", op.Status)
		}

		// The entry may have been force-closed by the operator starting a
		// timer elsewhere; the status transition still applies.
		entry, err := timeclock.OpenEntryForOperation(tx, op.ID)
		if err != nil {
			return err
		}
		if entry != nil {
			if err := e.ledger.PauseTiming(tx, entry.ID); err != nil {
				return err
			}
		}

		res := tx.Model(&models.Operation{}).
			Where("id = ? AND version = ?", op.ID, op.Version).
			Updates(map[string]interface{}{"status": models.StatusPaused, "version": op.Version + 1})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}

		var part models.Part
		if err := tx.Where("id = ?", op.PartID).First(&part).Error; err != nil {
			return err
		}
		evs = append(evs, events.Event{
			Type:        events.OperationPaused,
			JobID:       part.JobID,
			PartID:      op.PartID,
			OperationID: op.ID,
			PrevStatus:  models.StatusInProgress,
			NewStatus:   models.StatusPaused,
			Detail:      events.Detail{CellID: op.CellID},
		})
		return nil
	})
	if err != nil {
		return err
	}
	e.emitAll(evs)
	return nil
}

// ResumeOperation resumes a paused operation. When the operation still
// has an open time entry its open pause is closed; when the entry was
// force-closed elsewhere a fresh entry is opened for the operator.
func (e *Engine) ResumeOperation(operationID, operatorID string) error {
	if operatorID == "" {
		return fmt.Errorf("lifecycle: operatorID is required")
	}

	var evs []events.Event
	err := e.withRetry(func(tx *gorm.DB) error {
		evs = evs[:0]
		var op models.Operation
		if err := getOperation(tx, operationID, &op); err != nil {
			return err
		}
		if op.Status != models.StatusPaused {
			return transitionError("resume", op.Status)
		}

		entry, err := timeclock.OpenEntryForOperation(tx, op.ID)
		if err != nil {
			return err
		}
		if entry != nil {
			if err := e.ledger.ResumeTiming(tx, entry.ID); err != nil && !errors.Is(err, timeclock.ErrNoOpenPause) {
				return err
			}
		} else {
			if _, err := e.ledger.StartTiming(tx, op.ID, operatorID); err != nil {
				return err
			}
		}

		res := tx.Model(&models.Operation{}).
			Where("id = ? AND version = ?", op.ID, op.Version).
			Updates(map[string]interface{}{"status": models.StatusInProgress, "version": op.Version + 1})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}

		var part models.Part
		if err := tx.Where("id = ?", op.PartID).First(&part).Error; err != nil {
			return err
		}
		evs = append(evs, events.Event{
			Type:        events.OperationResumed,
			JobID:       part.JobID,
			PartID:      op.PartID,
			OperationID: op.ID,
			PrevStatus:  models.StatusPaused,
			NewStatus:   models.StatusInProgress,
			Detail:      events.Detail{OperatorID: operatorID, CellID: op.CellID},
		})
		return nil
	})
	if err != nil {
		return err
	}
	e.emitAll(evs)
	return nil
}

// CompleteOperation finishes an operation: the admission gate for the
// next cell in the routing is consulted first, then the open time entry
// is closed (a trailing pause is resolved as part of the bookkeeping),
// the labor duration and quantities are recorded, and the completion
// cascade runs. Completing an already-completed operation is a benign
// no-op, not an error.
//
// The WIP read and the completion write are deliberately not wrapped in
// one serializable transaction; the gate is a point-in-time snapshot and
// concurrent completions into a nearly-full cell may overshoot the limit
// by the race window.
func (e *Engine) CompleteOperation(operationID string, q Quantities) (*CompleteResult, error) {
	var op models.Operation
	if err := getOperation(e.db, operationID, &op); err != nil {
		return nil, err
	}
	if op.Status == models.StatusCompleted {
		return &CompleteResult{Operation: &op, AlreadyCompleted: true}, nil
	}
	if !canTransition(op.Status, models.StatusCompleted) {
		return nil, transitionError("complete", op.Status)
	}

	var eval *capacity.Evaluation
	if op.RoutingNextCellID != nil {
		var err error
		eval, err = capacity.Evaluate(e.db, *op.RoutingNextCellID)
		if err != nil {
			return nil, err
		}
		if eval.Decision == capacity.Blocked {
			return nil, &CapacityBlockedError{CellID: eval.CellID, WIP: eval.WIP, Limit: eval.Limit}
		}
	}

	meta, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: marshal quantities: %w", err)
	}

	result := &CompleteResult{Capacity: eval}
	var evs []events.Event
	err = e.withRetry(func(tx *gorm.DB) error {
		evs = evs[:0]
		if err := getOperation(tx, operationID, &op); err != nil {
			return err
		}
		if op.Status == models.StatusCompleted {
			result.AlreadyCompleted = true
			return nil
		}
		if !canTransition(op.Status, models.StatusCompleted) {
			return transitionError("complete", op.Status)
		}

		var duration int64
		entry, err := timeclock.OpenEntryForOperation(tx, op.ID)
		if err != nil {
			return err
		}
		if entry != nil {
			duration, err = e.ledger.StopTiming(tx, entry.ID)
			if err != nil {
				return err
			}
		}

		now := e.Now()
		prev := op.Status
		res := tx.Model(&models.Operation{}).
			Where("id = ? AND version = ?", op.ID, op.Version).
			Updates(map[string]interface{}{
				"status":         models.StatusCompleted,
				"completed_at":   now,
				"actual_seconds": op.ActualSeconds + duration,
				"quantity_good":  q.Good,
				"quantity_scrap": q.Scrap,
				"meta":           string(meta),
				"version":        op.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		op.Status = models.StatusCompleted
		op.ActualSeconds += duration
		op.QuantityGood = q.Good
		op.QuantityScrap = q.Scrap
		op.Version++

		// Re-point the part's current cell at a still-running sibling,
		// or clear it when none remain.
		var sibling models.Operation
		serr := tx.Where("part_id = ? AND status = ?", op.PartID, models.StatusInProgress).
			Order("sequence ASC").First(&sibling).Error
		switch {
		case errors.Is(serr, gorm.ErrRecordNotFound):
			if err := tx.Model(&models.Part{}).
				Where("id = ?", op.PartID).
				Update("current_cell_id", nil).Error; err != nil {
				return err
			}
		case serr != nil:
			return serr
		default:
			if err := tx.Model(&models.Part{}).
				Where("id = ?", op.PartID).
				Update("current_cell_id", sibling.CellID).Error; err != nil {
				return err
			}
		}

		var part models.Part
		if err := tx.Where("id = ?", op.PartID).First(&part).Error; err != nil {
			return err
		}
		detail := events.Detail{
			ActualSeconds: duration,
			QuantityGood:  q.Good,
			QuantityScrap: q.Scrap,
			CellID:        op.CellID,
		}
		if eval != nil {
			detail.Decision = eval.Decision
			detail.WIP = eval.WIP
			detail.Limit = eval.Limit
		}
		evs = append(evs, events.Event{
			Type:        events.OperationCompleted,
			JobID:       part.JobID,
			PartID:      op.PartID,
			OperationID: op.ID,
			PrevStatus:  prev,
			NewStatus:   models.StatusCompleted,
			Detail:      detail,
		})

		casEvs, err := e.cascadePart(tx, op.PartID)
		if err != nil {
			return err
		}
		evs = append(evs, casEvs...)

		result.ActualSeconds = duration
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Operation = &op
	e.emitAll(evs)
	return result, nil
}

// withRetry runs fn in a transaction, retrying a bounded number of times
// when a version-guarded update loses a race.
func (e *Engine) withRetry(fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = e.db.Transaction(fn)
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("%w: retries exhausted", ErrConflict)
}

// emitAll hands committed-transition events to the emitter, in order.
func (e *Engine) emitAll(evs []events.Event) {
	if e.emitter == nil {
		return
	}
	for _, ev := range evs {
		e.emitter.Emit(ev)
	}
}

// getOperation loads an operation into dst.
func getOperation(tx *gorm.DB, operationID string, dst *models.Operation) error {
	*dst = models.Operation{}
	if err := tx.Where("id = ?", operationID).First(dst).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: operation %s", ErrNotFound, operationID)
		}
		return fmt.Errorf("lifecycle: get operation %s: %w", operationID, err)
	}
	return nil
}

// transitionError formats an invalid-transition failure for a command verb.
func transitionError(verb, status string) error {
	return fmt.Errorf("%w: cannot %s operation in status %q", ErrInvalidTransition, verb, status)
}

// canTransition checks the operation status graph.
func canTransition(from, to string) bool {
	for _, v := range ValidTransitions[from] {
		if v == to {
			return true
		}
	}
	return false
}

// markPartChainStarted advances a part and its ancestor assemblies from
// not_started to in_progress.
func markPartChainStarted(tx *gorm.DB, part *models.Part) error {
	current := part
	for {
		if err := tx.Model(&models.Part{}).
			Where("id = ? AND status = ?", current.ID, models.StatusNotStarted).
			Update("status", models.StatusInProgress).Error; err != nil {
			return err
		}
		if current.ParentID == nil {
			return nil
		}
		var parent models.Part
		if err := tx.Where("id = ?", *current.ParentID).First(&parent).Error; err != nil {
			return err
		}
		current = &parent
	}
}
