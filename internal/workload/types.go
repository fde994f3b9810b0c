// Package workload owns the pluggable benchmark unit contract.
//
// A workload type is registered under a stable name and instantiated from a
// string-keyed property map whose "class" entry names the type. Instances are
// driven through one hook per test phase.
package workload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

// Phase is one stage of a test lifecycle.
type Phase string

const (
	PhaseSetup          Phase = "SETUP"
	PhaseLocalVerify    Phase = "LOCAL_VERIFY"
	PhaseGlobalVerify   Phase = "GLOBAL_VERIFY"
	PhaseRun            Phase = "RUN"
	PhaseLocalTeardown  Phase = "LOCAL_TEARDOWN"
	PhaseGlobalTeardown Phase = "GLOBAL_TEARDOWN"
)

var ErrUnknownPhase = errors.New("workload: unknown phase")

// Phases lists every phase in lifecycle order.
func Phases() []Phase {
	return []Phase{PhaseSetup, PhaseRun, PhaseLocalVerify, PhaseGlobalVerify, PhaseGlobalTeardown, PhaseLocalTeardown}
}

// ParsePhase validates a phase name.
func ParsePhase(raw string) (Phase, error) {
	p := Phase(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range Phases() {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPhase, raw)
}

// Desc is the lower-case human form used in logs.
func (p Phase) Desc() string {
	return strings.ReplaceAll(strings.ToLower(string(p)), "_", " ")
}

// Workload is the lifecycle surface every benchmark unit implements.
// RequestStop asks a running Run hook to return; it must not block.
type Workload interface {
	Setup(ctx context.Context, tc *TestContext) error
	LocalVerify(ctx context.Context) error
	GlobalVerify(ctx context.Context) error
	Run(ctx context.Context) error
	LocalTeardown(ctx context.Context) error
	GlobalTeardown(ctx context.Context) error
	RequestStop()
}

// ErrNoTestContext is returned by hooks that need state only Setup provides.
var ErrNoTestContext = errors.New("workload: test context is nil (setup not executed)")

// TestContext is handed to a workload at setup and shared with the worker.
type TestContext struct {
	testID  string
	stopped atomic.Bool
}

func NewTestContext(testID string) *TestContext {
	return &TestContext{testID: testID}
}

func (c *TestContext) TestID() string {
	return c.testID
}

// Stop flags the test as stopped; workloads poll IsStopped in their run loop.
func (c *TestContext) Stop() {
	c.stopped.Store(true)
}

func (c *TestContext) IsStopped() bool {
	return c.stopped.Load()
}

// Rearm clears the stop flag before another run.
func (c *TestContext) Rearm() {
	c.stopped.Store(false)
}

// RequestStop asks w to stop and turns a panic into an error.
func RequestStop(w Workload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workload: request stop panicked: %v", r)
		}
	}()
	w.RequestStop()
	return nil
}

// Invoke runs the hook for phase and turns panics into errors.
func Invoke(ctx context.Context, w Workload, phase Phase, tc *TestContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workload: %s panicked: %v", phase.Desc(), r)
		}
	}()
	switch phase {
	case PhaseSetup:
		return w.Setup(ctx, tc)
	case PhaseLocalVerify:
		return w.LocalVerify(ctx)
	case PhaseGlobalVerify:
		return w.GlobalVerify(ctx)
	case PhaseRun:
		return w.Run(ctx)
	case PhaseLocalTeardown:
		return w.LocalTeardown(ctx)
	case PhaseGlobalTeardown:
		return w.GlobalTeardown(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPhase, phase)
	}
}
