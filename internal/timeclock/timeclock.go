// Package timeclock owns labor time entries: starting, pausing, resuming
// and stopping timers, and the duration math that accounts for pauses.
package timeclock

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zulandar/shopfloor/internal/models"
	"gorm.io/gorm"
)

// ErrEntryClosed is returned when a timing command targets an entry that
// already has an end time.
var ErrEntryClosed = errors.New("timeclock: entry already closed")

// ErrPauseOpen is returned when pausing an entry that already has an open pause.
var ErrPauseOpen = errors.New("timeclock: entry already paused")

// ErrNoOpenPause is returned when resuming an entry with no open pause.
var ErrNoOpenPause = errors.New("timeclock: no open pause")

// Ledger serializes timer mutations per operator and performs all
// duration bookkeeping. An operator has at most one open time entry
// system-wide; starting a new timer force-closes any prior open entry for
// that operator without touching the displaced operation's status.
type Ledger struct {
	// Now is the time source for all duration math. Defaults to time.Now.
	Now func() time.Time

	mu        sync.Mutex
	operators map[string]*sync.Mutex
}

// NewLedger creates a Ledger using the wall clock.
func NewLedger() *Ledger {
	return &Ledger{
		Now:       time.Now,
		operators: make(map[string]*sync.Mutex),
	}
}

// operatorLock returns the mutex serializing timer mutations for one
// operator. The open-entry invariant is a check-then-act; without this
// two concurrent starts for the same operator could both miss the other's
// new entry and leave two open.
func (l *Ledger) operatorLock(operatorID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.operators[operatorID]
	if !ok {
		lk = &sync.Mutex{}
		l.operators[operatorID] = lk
	}
	return lk
}

// StartTiming opens a new time entry for operator on operation. Any open
// entry for the same operator is force-closed first; operators do not
// always stop a timer before starting the next one, so this is a policy,
// not an error.
func (l *Ledger) StartTiming(db *gorm.DB, operationID, operatorID string) (*models.TimeEntry, error) {
	if operationID == "" {
		return nil, fmt.Errorf("timeclock: operationID is required")
	}
	if operatorID == "" {
		return nil, fmt.Errorf("timeclock: operatorID is required")
	}

	lk := l.operatorLock(operatorID)
	lk.Lock()
	defer lk.Unlock()

	now := l.Now()
	var entry models.TimeEntry
	err := db.Transaction(func(tx *gorm.DB) error {
		var open models.TimeEntry
		err := tx.Where("operator_id = ? AND end_time IS NULL", operatorID).First(&open).Error
		switch {
		case err == nil:
			if err := l.closeEntry(tx, &open, now); err != nil {
				return err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		entry = models.TimeEntry{
			OperationID: operationID,
			OperatorID:  operatorID,
			StartTime:   now,
		}
		return tx.Create(&entry).Error
	})
	if err != nil {
		return nil, fmt.Errorf("timeclock: start timing %s for %s: %w", operationID, operatorID, err)
	}
	return &entry, nil
}

// PauseTiming opens a pause on an open time entry.
func (l *Ledger) PauseTiming(db *gorm.DB, entryID uint) error {
	err := db.Transaction(func(tx *gorm.DB) error {
		entry, err := getEntry(tx, entryID)
		if err != nil {
			return err
		}
		if entry.EndTime != nil {
			return ErrEntryClosed
		}
		open, err := openPause(tx, entryID)
		if err != nil {
			return err
		}
		if open != nil {
			return ErrPauseOpen
		}
		pause := models.Pause{TimeEntryID: entryID, PausedAt: l.Now()}
		return tx.Create(&pause).Error
	})
	if err != nil {
		return fmt.Errorf("timeclock: pause entry %d: %w", entryID, err)
	}
	return nil
}

// ResumeTiming closes the open pause on a time entry.
func (l *Ledger) ResumeTiming(db *gorm.DB, entryID uint) error {
	err := db.Transaction(func(tx *gorm.DB) error {
		entry, err := getEntry(tx, entryID)
		if err != nil {
			return err
		}
		if entry.EndTime != nil {
			return ErrEntryClosed
		}
		pause, err := openPause(tx, entryID)
		if err != nil {
			return err
		}
		if pause == nil {
			return ErrNoOpenPause
		}
		now := l.Now()
		pause.ResumedAt = &now
		return tx.Save(pause).Error
	})
	if err != nil {
		return fmt.Errorf("timeclock: resume entry %d: %w", entryID, err)
	}
	return nil
}

// StopTiming closes a time entry and returns its labor duration in
// seconds. A pause still open at stop time is closed at the end time so
// the duration formula only ever sees closed intervals.
func (l *Ledger) StopTiming(db *gorm.DB, entryID uint) (int64, error) {
	var duration int64
	err := db.Transaction(func(tx *gorm.DB) error {
		entry, err := getEntry(tx, entryID)
		if err != nil {
			return err
		}
		if entry.EndTime != nil {
			return ErrEntryClosed
		}
		if err := l.closeEntry(tx, entry, l.Now()); err != nil {
			return err
		}
		duration = entry.DurationSeconds
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("timeclock: stop entry %d: %w", entryID, err)
	}
	return duration, nil
}

// OpenEntryForOperation returns the open time entry for an operation, or
// nil if none exists.
func OpenEntryForOperation(db *gorm.DB, operationID string) (*models.TimeEntry, error) {
	var entry models.TimeEntry
	err := db.Where("operation_id = ? AND end_time IS NULL", operationID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("timeclock: open entry for operation %s: %w", operationID, err)
	}
	return &entry, nil
}

// OpenEntryForOperator returns the open time entry for an operator, or
// nil if none exists.
func OpenEntryForOperator(db *gorm.DB, operatorID string) (*models.TimeEntry, error) {
	var entry models.TimeEntry
	err := db.Where("operator_id = ? AND end_time IS NULL", operatorID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("timeclock: open entry for operator %s: %w", operatorID, err)
	}
	return &entry, nil
}

// Duration returns (end − start) − pauseSeconds in whole seconds, clamped
// to zero. The clamp guards against skew from the external time source.
func Duration(start, end time.Time, pauseSeconds int64) int64 {
	d := int64(end.Sub(start).Seconds()) - pauseSeconds
	if d < 0 {
		return 0
	}
	return d
}

// closeEntry closes any open pause at end, totals pause time, and writes
// the entry's end time and computed duration.
func (l *Ledger) closeEntry(tx *gorm.DB, entry *models.TimeEntry, end time.Time) error {
	var pauses []models.Pause
	if err := tx.Where("time_entry_id = ?", entry.ID).Find(&pauses).Error; err != nil {
		return err
	}

	var pauseTotal int64
	for i := range pauses {
		p := &pauses[i]
		if p.ResumedAt == nil {
			resumed := end
			p.ResumedAt = &resumed
			if err := tx.Save(p).Error; err != nil {
				return err
			}
		}
		pauseTotal += int64(p.ResumedAt.Sub(p.PausedAt).Seconds())
	}

	entry.EndTime = &end
	entry.PauseSeconds = pauseTotal
	entry.DurationSeconds = Duration(entry.StartTime, end, pauseTotal)
	return tx.Save(entry).Error
}

// openPause returns the open pause for a time entry, or nil if none exists.
func openPause(tx *gorm.DB, entryID uint) (*models.Pause, error) {
	var pause models.Pause
	if err := tx.Where("time_entry_id = ? AND resumed_at IS NULL", entryID).First(&pause).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pause, nil
}

// getEntry loads a time entry by ID.
func getEntry(tx *gorm.DB, entryID uint) (*models.TimeEntry, error) {
	var entry models.TimeEntry
	if err := tx.Where("id = ?", entryID).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("entry not found: %d", entryID)
		}
		return nil, err
	}
	return &entry, nil
}
