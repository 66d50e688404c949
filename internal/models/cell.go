package models

// Cell is a named production stage with a configured WIP capacity.
// Cells are seeded from configuration; ID is the config name
// (e.g. "machining", "inspection").
type Cell struct {
	ID                  string  `gorm:"primaryKey;size:64"`
	Description         string  `gorm:"type:text"`
	WipLimit            int     `gorm:"default:10"`
	WipWarningThreshold float64 `gorm:"default:0.8"`
	EnforceLimit        bool    `gorm:"default:false"`
	Active              bool    `gorm:"default:true"`
}
