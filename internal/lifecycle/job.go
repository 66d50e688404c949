package lifecycle

import (
	"errors"
	"fmt"

	"github.com/zulandar/shopfloor/internal/models"
	"gorm.io/gorm"
)

// HoldJob places a job on hold. Operation timers are untouched; holding a
// job is a planning action, not a labor one.
func (e *Engine) HoldJob(jobID string) error {
	return e.db.Transaction(func(tx *gorm.DB) error {
		job, err := getJob(tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != models.StatusNotStarted && job.Status != models.StatusInProgress {
			return fmt.Errorf("%w: cannot hold job in status %q", ErrInvalidTransition, job.Status)
		}
		now := e.Now()
		return tx.Model(&models.Job{}).
			Where("id = ?", jobID).
			Updates(map[string]interface{}{"status": models.StatusOnHold, "held_at": now}).Error
	})
}

// ResumeJob takes a job off hold, recomputing whether it is in progress
// (any operation has started) or still not started.
func (e *Engine) ResumeJob(jobID string) error {
	return e.db.Transaction(func(tx *gorm.DB) error {
		job, err := getJob(tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != models.StatusOnHold {
			return fmt.Errorf("%w: cannot resume job in status %q", ErrInvalidTransition, job.Status)
		}

		var started int64
		if err := tx.Model(&models.Operation{}).
			Joins("JOIN parts ON parts.id = operations.part_id").
			Where("parts.job_id = ? AND operations.status <> ?", jobID, models.StatusNotStarted).
			Count(&started).Error; err != nil {
			return err
		}

		status := models.StatusNotStarted
		if started > 0 {
			status = models.StatusInProgress
		}
		now := e.Now()
		return tx.Model(&models.Job{}).
			Where("id = ?", jobID).
			Updates(map[string]interface{}{"status": status, "resumed_at": now}).Error
	})
}

// getJob loads a job by ID.
func getJob(tx *gorm.DB, jobID string) (*models.Job, error) {
	var job models.Job
	if err := tx.Where("id = ?", jobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
		}
		return nil, fmt.Errorf("lifecycle: get job %s: %w", jobID, err)
	}
	return &job, nil
}
