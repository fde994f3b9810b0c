package worker

import (
	"errors"
	"fmt"

	"github.com/danmuck/simctl/internal/workload"
)

var (
	ErrInvalidTestID = errors.New("worker: invalid test id")
	ErrTestExists    = errors.New("worker: test already exists")
	ErrPhaseRunning  = errors.New("worker: phase still running")
	ErrClosed        = errors.New("worker: processor closed")
)

// PhaseRunningError rejects a phase start while another phase of the same
// test is active.
type PhaseRunningError struct {
	TestID    string
	Running   workload.Phase
	Requested workload.Phase
}

func (e *PhaseRunningError) Error() string {
	return fmt.Sprintf("worker: test %s: cannot start %s, %s is still running", e.TestID, e.Requested, e.Running)
}

func (e *PhaseRunningError) Unwrap() error {
	return ErrPhaseRunning
}
