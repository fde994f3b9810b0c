package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/simctl/internal/protocol/address"
	"github.com/danmuck/simctl/internal/protocol/operation"
	"github.com/danmuck/simctl/internal/protocol/response"
	"github.com/danmuck/simctl/internal/workload"
	"github.com/rs/zerolog/log"
)

// WaitForPhaseCompletion polls IsPhaseCompleted until no recipient reports
// the phase as running. Any failure outcome is fatal.
func (c *RemoteClient) WaitForPhaseCompletion(ctx context.Context, testID string, phase workload.Phase, firstWorkerOnly bool) error {
	resolve := c.testOnAllWorkers
	if firstWorkerOnly {
		resolve = c.testOnFirstWorker
	}
	op := operation.IsPhaseCompleted{TestID: testID, Phase: phase}
	target, err := resolve(testID)
	if err != nil {
		return &FatalError{Op: op.Type().String(), Err: err}
	}

	ticker := time.NewTicker(c.phasePoll)
	defer ticker.Stop()
	for {
		start := time.Now()
		resp, err := c.connector.Write(ctx, target, op)
		if err != nil {
			return &FatalError{Op: op.Type().String(), Target: target, Err: err}
		}
		running, err := c.phaseProgress(op, target, resp, time.Since(start))
		if err != nil || !running {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("coordinator: wait for %s of %s: %w", phase.Desc(), testID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *RemoteClient) phaseProgress(op operation.Operation, target address.Address, resp *response.Response, elapsed time.Duration) (bool, error) {
	running := false
	filtered := response.New(resp.MessageID(), resp.Destination())
	for _, e := range resp.Entries() {
		if e.Type == response.TestPhaseIsRunning {
			running = true
			continue
		}
		filtered.Add(e.Address, e.Type)
	}
	if err := c.interpret(op, target, filtered, elapsed); err != nil {
		return false, err
	}
	if running {
		log.Debug().Str("op", op.Type().String()).Str("target", target.String()).
			Msg("coordinator.RemoteClient.phaseProgress still running")
	}
	return running, nil
}
