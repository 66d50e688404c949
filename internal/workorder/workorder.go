// Package workorder provides creation and retrieval of jobs, parts, and
// operations. Execution-state transitions live in package lifecycle.
package workorder

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zulandar/shopfloor/internal/models"
	"gorm.io/gorm"
)

// JobOpts holds parameters for creating a new job.
type JobOpts struct {
	Number   string
	Title    string
	Customer string
}

// PartOpts holds parameters for adding a part to a job.
type PartOpts struct {
	JobID    string
	Name     string
	ParentID string // optional, must be a part of the same job
}

// OperationOpts holds parameters for adding an operation to a part.
type OperationOpts struct {
	PartID           string
	Name             string
	Sequence         int
	CellID           string
	RoutingNextCell  string // optional, empty means terminal stage
	EstimatedSeconds int64
}

// GenerateID creates a unique entity ID as prefix-xxxxx (5-char hex).
func GenerateID(prefix string) (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("workorder: generate ID: %w", err)
	}
	return prefix + "-" + hex.EncodeToString(b)[:5], nil
}

// CreateJob creates a new job with an auto-generated ID.
func CreateJob(db *gorm.DB, opts JobOpts) (*models.Job, error) {
	if opts.Title == "" {
		return nil, fmt.Errorf("workorder: title is required")
	}
	if opts.Number == "" {
		return nil, fmt.Errorf("workorder: number is required")
	}

	id, err := generateUniqueID(db, "job", &models.Job{})
	if err != nil {
		return nil, err
	}

	job := models.Job{
		ID:       id,
		Number:   opts.Number,
		Title:    opts.Title,
		Customer: opts.Customer,
		Status:   models.StatusNotStarted,
	}
	if err := db.Create(&job).Error; err != nil {
		return nil, fmt.Errorf("workorder: create job: %w", err)
	}
	return &job, nil
}

// AddPart adds a part to a job, optionally nested under a parent part of
// the same job.
func AddPart(db *gorm.DB, opts PartOpts) (*models.Part, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("workorder: part name is required")
	}

	var job models.Job
	if err := db.Where("id = ?", opts.JobID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("workorder: job not found: %s", opts.JobID)
		}
		return nil, fmt.Errorf("workorder: check job %s: %w", opts.JobID, err)
	}

	if opts.ParentID != "" {
		var parent models.Part
		if err := db.Where("id = ?", opts.ParentID).First(&parent).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("workorder: parent part not found: %s", opts.ParentID)
			}
			return nil, fmt.Errorf("workorder: check parent %s: %w", opts.ParentID, err)
		}
		if parent.JobID != opts.JobID {
			return nil, fmt.Errorf("workorder: parent part %s belongs to job %s, not %s", opts.ParentID, parent.JobID, opts.JobID)
		}
	}

	id, err := generateUniqueID(db, "prt", &models.Part{})
	if err != nil {
		return nil, err
	}

	part := models.Part{
		ID:     id,
		JobID:  opts.JobID,
		Name:   opts.Name,
		Status: models.StatusNotStarted,
	}
	if opts.ParentID != "" {
		part.ParentID = &opts.ParentID
	}
	if err := db.Create(&part).Error; err != nil {
		return nil, fmt.Errorf("workorder: create part: %w", err)
	}
	return &part, nil
}

// AddOperation adds an operation to a part, bound to one cell, with a
// sequence number unique within the part.
func AddOperation(db *gorm.DB, opts OperationOpts) (*models.Operation, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("workorder: operation name is required")
	}
	if opts.Sequence < 1 {
		return nil, fmt.Errorf("workorder: sequence must be at least 1")
	}

	var part models.Part
	if err := db.Where("id = ?", opts.PartID).First(&part).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("workorder: part not found: %s", opts.PartID)
		}
		return nil, fmt.Errorf("workorder: check part %s: %w", opts.PartID, err)
	}

	if err := checkCell(db, opts.CellID); err != nil {
		return nil, err
	}
	if opts.RoutingNextCell != "" {
		if err := checkCell(db, opts.RoutingNextCell); err != nil {
			return nil, err
		}
	}

	var clash int64
	if err := db.Model(&models.Operation{}).
		Where("part_id = ? AND sequence = ?", opts.PartID, opts.Sequence).
		Count(&clash).Error; err != nil {
		return nil, fmt.Errorf("workorder: check sequence: %w", err)
	}
	if clash > 0 {
		return nil, fmt.Errorf("workorder: part %s already has an operation at sequence %d", opts.PartID, opts.Sequence)
	}

	id, err := generateUniqueID(db, "op", &models.Operation{})
	if err != nil {
		return nil, err
	}

	op := models.Operation{
		ID:               id,
		PartID:           opts.PartID,
		Name:             opts.Name,
		Sequence:         opts.Sequence,
		CellID:           opts.CellID,
		Status:           models.StatusNotStarted,
		EstimatedSeconds: opts.EstimatedSeconds,
		Meta:             "{}",
	}
	if opts.RoutingNextCell != "" {
		op.RoutingNextCellID = &opts.RoutingNextCell
	}
	if err := db.Create(&op).Error; err != nil {
		return nil, fmt.Errorf("workorder: create operation: %w", err)
	}
	return &op, nil
}

// GetJob retrieves a job with its parts and their operations preloaded.
func GetJob(db *gorm.DB, id string) (*models.Job, error) {
	var job models.Job
	err := db.Preload("Parts").Preload("Parts.Operations", func(q *gorm.DB) *gorm.DB {
		return q.Order("sequence ASC")
	}).Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("workorder: job not found: %s", id)
		}
		return nil, fmt.Errorf("workorder: get job %s: %w", id, err)
	}
	return &job, nil
}

// GetOperation retrieves an operation with its time entries preloaded.
func GetOperation(db *gorm.DB, id string) (*models.Operation, error) {
	var op models.Operation
	err := db.Preload("TimeEntries").Preload("TimeEntries.Pauses").
		Where("id = ?", id).First(&op).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("workorder: operation not found: %s", id)
		}
		return nil, fmt.Errorf("workorder: get operation %s: %w", id, err)
	}
	return &op, nil
}

// checkCell verifies a cell exists and is active.
func checkCell(db *gorm.DB, cellID string) error {
	var cell models.Cell
	if err := db.Where("id = ?", cellID).First(&cell).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("workorder: cell not found: %s", cellID)
		}
		return fmt.Errorf("workorder: check cell %s: %w", cellID, err)
	}
	if !cell.Active {
		return fmt.Errorf("workorder: cell %s is inactive", cellID)
	}
	return nil
}

// generateUniqueID generates an ID and retries once on collision.
func generateUniqueID(db *gorm.DB, prefix string, model interface{}) (string, error) {
	for i := 0; i < 2; i++ {
		id, err := GenerateID(prefix)
		if err != nil {
			return "", err
		}
		var count int64
		if err := db.Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
			return "", fmt.Errorf("workorder: check ID uniqueness: %w", err)
		}
		if count == 0 {
			return id, nil
		}
	}
	return "", fmt.Errorf("workorder: failed to generate unique ID after retries")
}
