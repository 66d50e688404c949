package lifecycle

import (
	"github.com/zulandar/shopfloor/internal/events"
	"github.com/zulandar/shopfloor/internal/models"
	"gorm.io/gorm"
)

// cascadePart recomputes a part's status after one of its operations (or
// child parts) completed, and walks upward on success. The recompute is a
// count over source rows inside the caller's transaction, never an
// incremented counter, so two sibling completions racing here are safe:
// whichever writer observes all children complete performs the upward
// transition, and the guarded update ensures it happens exactly once.
// Re-running on an already-completed part is a no-op.
func (e *Engine) cascadePart(tx *gorm.DB, partID string) ([]events.Event, error) {
	var part models.Part
	if err := tx.Where("id = ?", partID).First(&part).Error; err != nil {
		return nil, err
	}

	var openOps int64
	if err := tx.Model(&models.Operation{}).
		Where("part_id = ? AND status <> ?", partID, models.StatusCompleted).
		Count(&openOps).Error; err != nil {
		return nil, err
	}
	var openChildren int64
	if err := tx.Model(&models.Part{}).
		Where("parent_id = ? AND status <> ?", partID, models.StatusCompleted).
		Count(&openChildren).Error; err != nil {
		return nil, err
	}
	if openOps > 0 || openChildren > 0 {
		return nil, nil
	}

	now := e.Now()
	res := tx.Model(&models.Part{}).
		Where("id = ? AND status <> ?", partID, models.StatusCompleted).
		Updates(map[string]interface{}{
			"status":          models.StatusCompleted,
			"completed_at":    now,
			"current_cell_id": nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Another writer completed the part; it owns the upward walk.
		return nil, nil
	}

	evs := []events.Event{{
		Type:       events.PartCompleted,
		JobID:      part.JobID,
		PartID:     part.ID,
		PrevStatus: part.Status,
		NewStatus:  models.StatusCompleted,
	}}

	if part.ParentID != nil {
		parentEvs, err := e.cascadePart(tx, *part.ParentID)
		if err != nil {
			return nil, err
		}
		return append(evs, parentEvs...), nil
	}

	jobEvs, err := e.cascadeJob(tx, part.JobID)
	if err != nil {
		return nil, err
	}
	return append(evs, jobEvs...), nil
}

// cascadeJob completes a job once every one of its parts is complete.
func (e *Engine) cascadeJob(tx *gorm.DB, jobID string) ([]events.Event, error) {
	var job models.Job
	if err := tx.Where("id = ?", jobID).First(&job).Error; err != nil {
		return nil, err
	}

	var openParts int64
	if err := tx.Model(&models.Part{}).
		Where("job_id = ? AND status <> ?", jobID, models.StatusCompleted).
		Count(&openParts).Error; err != nil {
		return nil, err
	}
	if openParts > 0 {
		return nil, nil
	}

	now := e.Now()
	res := tx.Model(&models.Job{}).
		Where("id = ? AND status <> ?", jobID, models.StatusCompleted).
		Updates(map[string]interface{}{"status": models.StatusCompleted, "completed_at": now})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	return []events.Event{{
		Type:       events.JobCompleted,
		JobID:      job.ID,
		PrevStatus: job.Status,
		NewStatus:  models.StatusCompleted,
	}}, nil
}
