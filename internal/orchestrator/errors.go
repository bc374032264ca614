package orchestrator

import (
	"errors"
	"fmt"
)

// ErrInsufficientData means the buffer does not yet hold a full segment.
var ErrInsufficientData = errors.New("orchestrator: insufficient audio data")

// TransientIOError is a persistence or device failure. The loop continues.
type TransientIOError struct {
	Op  string
	Err error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("transient io: %s: %v", e.Op, e.Err)
}

func (e *TransientIOError) Unwrap() error { return e.Err }

// CollaboratorFailure is a failed classifier, sensor or actuator call.
// The cycle makes no decision.
type CollaboratorFailure struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorFailure) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorFailure) Unwrap() error { return e.Err }
