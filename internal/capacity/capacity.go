// Package capacity computes work-in-progress per production cell and
// renders admission decisions for the completion gate.
package capacity

import (
	"errors"
	"fmt"

	"github.com/zulandar/shopfloor/internal/models"
	"gorm.io/gorm"
)

// Admission decisions.
const (
	Allowed = "allowed"
	Warning = "warning"
	Blocked = "blocked"
)

// ErrCellNotFound is returned when evaluating an unknown cell.
var ErrCellNotFound = errors.New("capacity: cell not found")

// Evaluation is the result of an admission check against one cell. The
// WIP count is a point-in-time snapshot, not a linearizable gate: no lock
// spans this read and the completion write that follows it.
type Evaluation struct {
	CellID    string  `json:"cellId"`
	Decision  string  `json:"decision"`
	WIP       int     `json:"wip"`
	Limit     int     `json:"limit"`
	Threshold float64 `json:"threshold"`
	Enforced  bool    `json:"enforced"`
}

// CellLoad pairs a cell with its current WIP, for snapshots and digests.
type CellLoad struct {
	Cell models.Cell `json:"cell"`
	WIP  int         `json:"wip"`
}

// Evaluate reads the current WIP for a cell and renders an admission
// decision. Blocked requires the cell to enforce its limit; a saturated
// cell with enforcement off degrades to a warning.
func Evaluate(db *gorm.DB, cellID string) (*Evaluation, error) {
	var cell models.Cell
	if err := db.Where("id = ?", cellID).First(&cell).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCellNotFound, cellID)
		}
		return nil, fmt.Errorf("capacity: load cell %s: %w", cellID, err)
	}

	wip, err := WIP(db, cellID)
	if err != nil {
		return nil, err
	}

	ev := &Evaluation{
		CellID:    cell.ID,
		WIP:       wip,
		Limit:     cell.WipLimit,
		Threshold: cell.WipWarningThreshold,
		Enforced:  cell.EnforceLimit,
	}

	ratio := float64(wip) / float64(cell.WipLimit)
	switch {
	case wip >= cell.WipLimit && cell.EnforceLimit:
		ev.Decision = Blocked
	case ratio >= cell.WipWarningThreshold:
		ev.Decision = Warning
	default:
		ev.Decision = Allowed
	}
	return ev, nil
}

// WIP counts the operations currently occupying a cell: those queued for
// it (not_started) or being worked in it (in_progress).
func WIP(db *gorm.DB, cellID string) (int, error) {
	var count int64
	err := db.Model(&models.Operation{}).
		Where("cell_id = ? AND status IN ?", cellID, []string{models.StatusNotStarted, models.StatusInProgress}).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("capacity: count wip for %s: %w", cellID, err)
	}
	return int(count), nil
}

// Snapshot returns the current load of every active cell, ordered by cell ID.
func Snapshot(db *gorm.DB) ([]CellLoad, error) {
	var cells []models.Cell
	if err := db.Where("active = ?", true).Order("id ASC").Find(&cells).Error; err != nil {
		return nil, fmt.Errorf("capacity: list cells: %w", err)
	}

	loads := make([]CellLoad, 0, len(cells))
	for _, cell := range cells {
		wip, err := WIP(db, cell.ID)
		if err != nil {
			return nil, err
		}
		loads = append(loads, CellLoad{Cell: cell, WIP: wip})
	}
	return loads, nil
}
