package lifecycle

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by engine commands. Callers match with errors.Is
// (and errors.As for CapacityBlockedError); only these three reach an
// interactive caller under normal operation — everything else is
// infrastructure trouble wrapped with context.
var (
	// ErrNotFound means the referenced entity does not exist. No mutation
	// occurred.
	ErrNotFound = errors.New("lifecycle: not found")

	// ErrInvalidTransition means the command is not valid for the entity's
	// current status. No mutation occurred.
	ErrInvalidTransition = errors.New("lifecycle: invalid transition")

	// ErrConflict means a version-guarded update lost a race and the
	// bounded retries were exhausted.
	ErrConflict = errors.New("lifecycle: concurrent update conflict")
)

// CapacityBlockedError reports a completion refused because the
// operation's next cell is at its WIP limit with enforcement on. No state
// was mutated.
type CapacityBlockedError struct {
	CellID string
	WIP    int
	Limit  int
}

func (e *CapacityBlockedError) Error() string {
	return fmt.Sprintf("lifecycle: next cell %s at wip limit (%d/%d)", e.CellID, e.WIP, e.Limit)
}
