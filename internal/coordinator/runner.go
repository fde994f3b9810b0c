package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/simctl/internal/protocol/operation"
	"github.com/danmuck/simctl/internal/registry"
	"github.com/danmuck/simctl/internal/workload"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
)

const abortTimeout = 10 * time.Second

// TestCaseRunner drives one test through its full lifecycle on every
// worker.
type TestCaseRunner struct {
	client   *RemoteClient
	test     registry.TestData
	duration time.Duration
}

func NewTestCaseRunner(client *RemoteClient, test registry.TestData, duration time.Duration) *TestCaseRunner {
	return &TestCaseRunner{client: client, test: test, duration: duration}
}

func (r *TestCaseRunner) Run(ctx context.Context) (err error) {
	id := r.test.Case.ID
	start := time.Now()
	r.echo(ctx, "Starting test %s", id)

	create := operation.CreateTest{TestIndex: r.test.TestIndex, TestID: id, Properties: r.test.Case.Properties}
	if err := r.client.SendToAllWorkers(ctx, create); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			r.abort(id)
		}
	}()

	if err := r.runPhase(ctx, workload.PhaseSetup, false); err != nil {
		return err
	}

	r.echo(ctx, "Starting run of %s for %s", id, r.duration)
	if err := r.client.SendToTestOnAllWorkers(ctx, id, operation.StartTest{TestID: id, Passive: true}); err != nil {
		return err
	}
	if err := sleepCtx(ctx, r.duration); err != nil {
		return err
	}
	if err := r.client.SendToTestOnAllWorkers(ctx, id, operation.StopTest{TestID: id}); err != nil {
		return err
	}
	if err := r.client.WaitForPhaseCompletion(ctx, id, workload.PhaseRun, false); err != nil {
		return err
	}

	steps := []struct {
		phase     workload.Phase
		firstOnly bool
	}{
		{workload.PhaseLocalVerify, false},
		{workload.PhaseGlobalVerify, true},
		{workload.PhaseGlobalTeardown, true},
		{workload.PhaseLocalTeardown, false},
	}
	for _, step := range steps {
		if err := r.runPhase(ctx, step.phase, step.firstOnly); err != nil {
			return err
		}
	}

	r.echo(ctx, "Completed test %s in %s", id, time.Since(start).Round(time.Millisecond))
	return nil
}

func (r *TestCaseRunner) runPhase(ctx context.Context, phase workload.Phase, firstWorkerOnly bool) error {
	id := r.test.Case.ID
	r.echo(ctx, "Starting %s of %s", phase.Desc(), id)
	op := operation.StartTestPhase{TestID: id, Phase: phase}
	send := r.client.SendToTestOnAllWorkers
	if firstWorkerOnly {
		send = r.client.SendToTestOnFirstWorker
	}
	if err := send(ctx, id, op); err != nil {
		return err
	}
	return r.client.WaitForPhaseCompletion(ctx, id, phase, firstWorkerOnly)
}

// abort stops the test and tears it down on every worker so the id can be
// reused. Failures here are only logged.
func (r *TestCaseRunner) abort(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()
	log.Warn().Str("test_id", id).Msg("coordinator.TestCaseRunner.abort")

	_ = r.client.SendToTestOnAllWorkers(ctx, id, operation.StopTest{TestID: id})
	_ = r.client.WaitForPhaseCompletion(ctx, id, workload.PhaseRun, false)
	if err := r.runPhase(ctx, workload.PhaseLocalTeardown, false); err != nil {
		log.Warn().Err(err).Str("test_id", id).Msg("coordinator.TestCaseRunner.abort teardown failed")
	}
}

func (r *TestCaseRunner) echo(ctx context.Context, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Info().Str("test_id", r.test.Case.ID).Msg(msg)
	r.client.LogOnAllAgents(ctx, msg)
	r.client.LogOnAllWorkers(ctx, msg)
}

// RunSuite runs tests in order. With failFast the first failure ends the
// run; otherwise every failure is collected.
func RunSuite(ctx context.Context, client *RemoteClient, tests []registry.TestData, duration time.Duration, failFast bool) error {
	var failures *multierror.Error
	for _, td := range tests {
		err := NewTestCaseRunner(client, td, duration).Run(ctx)
		if err == nil {
			continue
		}
		if failFast || ctx.Err() != nil {
			return err
		}
		failures = multierror.Append(failures, err)
	}
	return failures.ErrorOrNil()
}

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
