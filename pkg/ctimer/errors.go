package ctimer

import (
	"errors"
	"fmt"
	"time"

	"ctimer/pkg/epoch"
)

var (
	// ErrInvalidArgument is returned for a non-positive interval or a nil action.
	ErrInvalidArgument = epoch.ErrInvalidArgument
	// ErrInvalidState is returned when Start is called on a Runner that is not idle.
	ErrInvalidState = errors.New("invalid state")
	// ErrActionFailed matches every *ActionError via errors.Is.
	ErrActionFailed = errors.New("action failed")
)

// ActionError records a failed cycle. It unwraps to the action's error.
type ActionError struct {
	Runner   string
	Cycle    uint64
	Deadline time.Time
	Err      error
}

func (e *ActionError) Error() string {
	if e.Runner != "" {
		return fmt.Sprintf("ctimer %s: cycle %d (deadline %s): %v", e.Runner, e.Cycle, e.Deadline.Format(time.RFC3339Nano), e.Err)
	}
	return fmt.Sprintf("ctimer: cycle %d (deadline %s): %v", e.Cycle, e.Deadline.Format(time.RFC3339Nano), e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

func (e *ActionError) Is(target error) bool { return target == ErrActionFailed }
