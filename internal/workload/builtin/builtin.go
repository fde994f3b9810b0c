// Package builtin carries the workloads every worker can instantiate
// without extra registration.
package builtin

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/danmuck/simctl/internal/tools"
	"github.com/danmuck/simctl/internal/workload"
	"github.com/rs/zerolog/log"
)

const (
	TypeSuccess = "success"
	TypeFailing = "failing"
)

// ErrExpectedFailure is what the failing workload returns from its failing hooks.
var ErrExpectedFailure = errors.New("builtin: expected failure")

// Register installs every builtin workload into reg.
func Register(reg *workload.Registry) error {
	if err := reg.Register(TypeSuccess, NewSuccess); err != nil {
		return err
	}
	if err := reg.Register(TypeFailing, NewFailing); err != nil {
		return err
	}
	return reg.Register(TypeCommand, NewCommandFactory(tools.ExecRunner{}))
}

// NewRegistry returns a registry preloaded with the builtin workloads.
func NewRegistry() *workload.Registry {
	reg := workload.NewRegistry()
	if err := Register(reg); err != nil {
		panic(fmt.Sprintf("builtin: register: %v", err))
	}
	return reg
}

// Success completes every phase. Run spins until stopped, the phase
// context ends, or the optional "duration" property elapses.
type Success struct {
	setupDelay time.Duration
	duration   time.Duration
	tick       time.Duration

	tc         *workload.TestContext
	stop       atomic.Bool
	iterations atomic.Int64
}

// NewSuccess reads setupDelay, duration and tick from props.
func NewSuccess(props workload.Properties) (workload.Workload, error) {
	setupDelay, err := props.Duration("setupDelay", 0)
	if err != nil {
		return nil, err
	}
	duration, err := props.Duration("duration", 0)
	if err != nil {
		return nil, err
	}
	tick, err := props.Duration("tick", 10*time.Millisecond)
	if err != nil {
		return nil, err
	}
	if tick <= 0 {
		return nil, fmt.Errorf("builtin: tick must be positive, got %s", tick)
	}
	log.Debug().Dur("setup_delay", setupDelay).Dur("duration", duration).Msg("builtin.NewSuccess")
	return &Success{setupDelay: setupDelay, duration: duration, tick: tick}, nil
}

func (s *Success) Setup(ctx context.Context, tc *workload.TestContext) error {
	s.tc = tc
	return sleepCtx(ctx, s.setupDelay)
}

func (s *Success) Run(ctx context.Context) error {
	if s.tc == nil {
		return workload.ErrNoTestContext
	}
	// A later run starts fresh; the worker carries a pending stop on tc.
	s.stop.Store(false)
	var deadline <-chan time.Time
	if s.duration > 0 {
		timer := time.NewTimer(s.duration)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for !s.stop.Load() && !s.tc.IsStopped() {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			return nil
		case <-ticker.C:
			s.iterations.Add(1)
		}
	}
	log.Debug().Str("test_id", s.tc.TestID()).Int64("iterations", s.iterations.Load()).Msg("builtin.Success.Run stopped")
	return nil
}

// Iterations reports how many run ticks completed.
func (s *Success) Iterations() int64 {
	return s.iterations.Load()
}

func (s *Success) LocalVerify(context.Context) error    { return nil }
func (s *Success) GlobalVerify(context.Context) error   { return nil }
func (s *Success) LocalTeardown(context.Context) error  { return nil }
func (s *Success) GlobalTeardown(context.Context) error { return nil }

func (s *Success) RequestStop() {
	s.stop.Store(true)
}

// Failing errors in Run and GlobalVerify.
type Failing struct{}

func NewFailing(workload.Properties) (workload.Workload, error) {
	return Failing{}, nil
}

func (Failing) Setup(context.Context, *workload.TestContext) error { return nil }

func (Failing) Run(context.Context) error {
	return fmt.Errorf("%w: run", ErrExpectedFailure)
}

func (Failing) GlobalVerify(context.Context) error {
	return fmt.Errorf("%w: global verify", ErrExpectedFailure)
}

func (Failing) LocalVerify(context.Context) error    { return nil }
func (Failing) LocalTeardown(context.Context) error  { return nil }
func (Failing) GlobalTeardown(context.Context) error { return nil }
func (Failing) RequestStop()                         {}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
