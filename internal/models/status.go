package models

// Operation statuses. Operations own their status; parts and jobs derive
// theirs from their children.
const (
	StatusNotStarted = "not_started"
	StatusInProgress = "in_progress"
	StatusPaused     = "paused"
	StatusCompleted  = "completed"

	// StatusOnHold applies to jobs only, via an explicit hold action.
	StatusOnHold = "on_hold"
)
