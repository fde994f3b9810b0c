// Package worker hosts test instances inside one worker process and drives
// each through its lifecycle phases.
//
// Per test id the processor keeps one container. At most one phase of a
// test is active at a time; starting another is rejected with
// TEST_PHASE_IS_RUNNING rather than queued. Hooks run on their own
// goroutine and never under the processor lock.
package worker

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/simctl/internal/observability"
	"github.com/danmuck/simctl/internal/protocol/address"
	"github.com/danmuck/simctl/internal/protocol/operation"
	"github.com/danmuck/simctl/internal/protocol/response"
	"github.com/danmuck/simctl/internal/workload"
	"github.com/rs/zerolog"
)

const DefaultPollInterval = 100 * time.Millisecond

var validTestID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ValidTestID reports whether id may key a test container.
func ValidTestID(id string) bool {
	return validTestID.MatchString(id)
}

type Config struct {
	Address      address.Address
	Registry     *workload.Registry
	Reporter     ExceptionReporter
	PollInterval time.Duration
}

type testContainer struct {
	index    int
	id       string
	workload workload.Workload
	tc       *workload.TestContext

	phase   workload.Phase
	active  bool
	cancel  context.CancelFunc
	results map[workload.Phase]error
}

// OperationProcessor is the worker-side handler of lifecycle operations.
type OperationProcessor struct {
	addr         address.Address
	registry     *workload.Registry
	reporter     ExceptionReporter
	pollInterval time.Duration
	log          zerolog.Logger

	mu     sync.Mutex
	tests  map[string]*testContainer
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewOperationProcessor(cfg Config) *OperationProcessor {
	if cfg.Registry == nil {
		cfg.Registry = workload.NewRegistry()
	}
	if cfg.Reporter == nil {
		cfg.Reporter = NewExceptionLog()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &OperationProcessor{
		addr:         cfg.Address,
		registry:     cfg.Registry,
		reporter:     cfg.Reporter,
		pollInterval: cfg.PollInterval,
		log:          observability.ComponentLogger("worker", cfg.Address.String()),
		tests:        make(map[string]*testContainer),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (p *OperationProcessor) Address() address.Address {
	return p.addr
}

// Process handles one operation and returns its outcome. Only a
// non-passive StartTest blocks past the phase launch.
func (p *OperationProcessor) Process(ctx context.Context, op operation.Operation) response.Type {
	outcome := p.process(ctx, op)
	observability.RecordWorkerOperation("worker", op.Type().String(), string(outcome))
	return outcome
}

func (p *OperationProcessor) process(ctx context.Context, op operation.Operation) response.Type {
	switch o := op.(type) {
	case operation.CreateTest:
		return p.createTest(o)
	case operation.StartTestPhase:
		return p.startTestPhase(o.TestID, o.Phase)
	case operation.IsPhaseCompleted:
		return p.isPhaseCompleted(o.TestID, o.Phase)
	case operation.StartTest:
		return p.startTest(ctx, o)
	case operation.StopTest:
		return p.stopTest(o.TestID)
	case operation.Ping:
		p.log.Debug().Msg("worker.OperationProcessor.Process ping")
		return response.Success
	case operation.Log:
		p.log.WithLevel(logLevel(o.Level)).Msg(o.Message)
		return response.Success
	default:
		p.log.Debug().Str("op", op.Type().String()).Msg("worker.OperationProcessor.Process unsupported")
		return response.UnsupportedOperation
	}
}

func (p *OperationProcessor) createTest(op operation.CreateTest) response.Type {
	if !ValidTestID(op.TestID) {
		p.reporter.Report(op.TestID, fmt.Errorf("%w: %q", ErrInvalidTestID, op.TestID))
		return response.ExceptionDuringOperation
	}
	if p.exists(op.TestID) {
		p.reporter.Report(op.TestID, fmt.Errorf("%w: %s", ErrTestExists, op.TestID))
		return response.ExceptionDuringOperation
	}

	w, err := p.registry.New(workload.Properties(op.Properties))
	if err != nil {
		p.reporter.Report(op.TestID, fmt.Errorf("worker: create test %s: %w", op.TestID, err))
		return response.ExceptionDuringOperation
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.reporter.Report(op.TestID, ErrClosed)
		return response.ExceptionDuringOperation
	}
	if _, ok := p.tests[op.TestID]; ok {
		p.mu.Unlock()
		p.reporter.Report(op.TestID, fmt.Errorf("%w: %s", ErrTestExists, op.TestID))
		return response.ExceptionDuringOperation
	}
	p.tests[op.TestID] = &testContainer{
		index:    op.TestIndex,
		id:       op.TestID,
		workload: w,
		tc:       workload.NewTestContext(op.TestID),
		results:  make(map[workload.Phase]error),
	}
	p.mu.Unlock()

	p.log.Info().Str("test_id", op.TestID).Int("test_index", op.TestIndex).
		Str("class", op.Properties[workload.PropertyClass]).Msg("worker.OperationProcessor.createTest")
	return response.Success
}

func (p *OperationProcessor) exists(testID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tests[testID]
	return ok
}

func (p *OperationProcessor) startTestPhase(testID string, phase workload.Phase) response.Type {
	if _, err := workload.ParsePhase(string(phase)); err != nil {
		p.reporter.Report(testID, err)
		return response.ExceptionDuringOperation
	}

	p.mu.Lock()
	c, ok := p.tests[testID]
	if !ok {
		p.mu.Unlock()
		p.log.Warn().Str("test_id", testID).Str("phase", string(phase)).
			Msg("worker.OperationProcessor.startTestPhase test not found")
		return response.Success
	}
	if c.active {
		rejected := &PhaseRunningError{TestID: testID, Running: c.phase, Requested: phase}
		p.mu.Unlock()
		p.reporter.Report(testID, rejected)
		return response.TestPhaseIsRunning
	}
	if p.closed {
		p.mu.Unlock()
		p.reporter.Report(testID, ErrClosed)
		return response.ExceptionDuringOperation
	}
	if phase == workload.PhaseRun {
		c.tc.Rearm()
	}
	phaseCtx, cancel := context.WithCancel(p.ctx)
	c.active = true
	c.phase = phase
	c.cancel = cancel
	delete(c.results, phase)
	p.wg.Add(1)
	p.mu.Unlock()

	p.log.Info().Str("test_id", testID).Str("phase", string(phase)).Msg("worker.OperationProcessor.startTestPhase")
	go p.runPhase(phaseCtx, cancel, c, phase)
	return response.Success
}

func (p *OperationProcessor) runPhase(ctx context.Context, cancel context.CancelFunc, c *testContainer, phase workload.Phase) {
	defer p.wg.Done()
	defer cancel()

	start := time.Now()
	err := workload.Invoke(ctx, c.workload, phase, c.tc)
	elapsed := time.Since(start)
	observability.RecordPhase(string(phase), elapsed, err == nil)
	if err != nil {
		p.reporter.Report(c.id, fmt.Errorf("worker: test %s %s: %w", c.id, phase.Desc(), err))
	}

	p.mu.Lock()
	c.active = false
	c.cancel = nil
	c.results[phase] = err
	if phase == workload.PhaseLocalTeardown && p.tests[c.id] == c {
		delete(p.tests, c.id)
	}
	p.mu.Unlock()

	p.log.Info().Str("test_id", c.id).Str("phase", string(phase)).Dur("elapsed", elapsed).
		Bool("failed", err != nil).Msg("worker.OperationProcessor.runPhase completed")
}

func (p *OperationProcessor) isPhaseCompleted(testID string, phase workload.Phase) response.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.tests[testID]
	if !ok {
		return response.Success
	}
	if c.active && c.phase == phase {
		return response.TestPhaseIsRunning
	}
	if err, done := c.results[phase]; done && err != nil {
		return response.ExceptionDuringOperation
	}
	return response.Success
}

func (p *OperationProcessor) startTest(ctx context.Context, op operation.StartTest) response.Type {
	outcome := p.startTestPhase(op.TestID, workload.PhaseRun)
	if outcome != response.Success || op.Passive {
		return outcome
	}
	return p.waitForPhase(ctx, op.TestID, workload.PhaseRun)
}

// waitForPhase polls until phase is no longer active for testID.
func (p *OperationProcessor) waitForPhase(ctx context.Context, testID string, phase workload.Phase) response.Type {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		outcome := p.isPhaseCompleted(testID, phase)
		if outcome != response.TestPhaseIsRunning {
			return outcome
		}
		select {
		case <-ctx.Done():
			p.reporter.Report(testID, fmt.Errorf("worker: wait for %s: %w", phase.Desc(), ctx.Err()))
			return response.ExceptionDuringOperation
		case <-p.ctx.Done():
			p.reporter.Report(testID, ErrClosed)
			return response.ExceptionDuringOperation
		case <-ticker.C:
		}
	}
}

func (p *OperationProcessor) stopTest(testID string) response.Type {
	p.mu.Lock()
	c, ok := p.tests[testID]
	if !ok || !c.active || c.phase != workload.PhaseRun {
		p.mu.Unlock()
		p.log.Debug().Str("test_id", testID).Msg("worker.OperationProcessor.stopTest nothing running")
		return response.Success
	}
	w, tc, cancel := c.workload, c.tc, c.cancel
	p.mu.Unlock()

	p.log.Info().Str("test_id", testID).Msg("worker.OperationProcessor.stopTest")
	tc.Stop()
	if cancel != nil {
		cancel()
	}
	if err := workload.RequestStop(w); err != nil {
		p.reporter.Report(testID, fmt.Errorf("worker: stop test %s: %w", testID, err))
		return response.ExceptionDuringOperation
	}
	return response.Success
}

// Tests returns the registered test ids in sorted order.
func (p *OperationProcessor) Tests() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.tests))
	for id := range p.tests {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Close cancels every running phase and waits for the hooks to return.
func (p *OperationProcessor) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
	return nil
}

func logLevel(raw string) zerolog.Level {
	if raw == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(raw)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
