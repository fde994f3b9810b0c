// Package coordinator dispatches operations to the agent/worker tree and
// turns the aggregated responses into run-level success or failure.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/simctl/internal/observability"
	"github.com/danmuck/simctl/internal/protocol/address"
	"github.com/danmuck/simctl/internal/protocol/operation"
	"github.com/danmuck/simctl/internal/protocol/response"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
)

const DefaultPhasePollInterval = 100 * time.Millisecond

// Connector delivers one operation to target and blocks for the
// aggregated response.
type Connector interface {
	Write(ctx context.Context, target address.Address, op operation.Operation) (*response.Response, error)
}

// Topology resolves the dynamic targets.
type Topology interface {
	FirstWorker() (address.Address, error)
	TestIndex(testID string) (int, error)
}

type Option func(*RemoteClient)

// WithPhasePollInterval sets how often phase completion is polled.
func WithPhasePollInterval(d time.Duration) Option {
	return func(c *RemoteClient) {
		if d > 0 {
			c.phasePoll = d
		}
	}
}

// RemoteClient is the coordinator's dispatcher.
type RemoteClient struct {
	connector    Connector
	topology     Topology
	pingInterval time.Duration
	phasePoll    time.Duration

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRemoteClient starts the worker liveness probe when
// pingIntervalMillis is positive.
func NewRemoteClient(connector Connector, topology Topology, pingIntervalMillis int, opts ...Option) *RemoteClient {
	c := &RemoteClient{
		connector:    connector,
		topology:     topology,
		pingInterval: time.Duration(pingIntervalMillis) * time.Millisecond,
		phasePoll:    DefaultPhasePollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.startProbe()
	return c
}

func (c *RemoteClient) SendToAllAgents(ctx context.Context, op operation.Operation) error {
	return c.send(ctx, address.AllAgents, op)
}

func (c *RemoteClient) SendToAllWorkers(ctx context.Context, op operation.Operation) error {
	return c.send(ctx, address.AllWorkers, op)
}

func (c *RemoteClient) SendToFirstWorker(ctx context.Context, op operation.Operation) error {
	target, err := c.topology.FirstWorker()
	if err != nil {
		return &FatalError{Op: op.Type().String(), Err: err}
	}
	return c.send(ctx, target, op)
}

// SendToTestOnAllWorkers targets the test instance on every worker.
func (c *RemoteClient) SendToTestOnAllWorkers(ctx context.Context, testID string, op operation.Operation) error {
	target, err := c.testOnAllWorkers(testID)
	if err != nil {
		return &FatalError{Op: op.Type().String(), Err: err}
	}
	return c.send(ctx, target, op)
}

// SendToTestOnFirstWorker targets the test instance on the first worker.
func (c *RemoteClient) SendToTestOnFirstWorker(ctx context.Context, testID string, op operation.Operation) error {
	target, err := c.testOnFirstWorker(testID)
	if err != nil {
		return &FatalError{Op: op.Type().String(), Err: err}
	}
	return c.send(ctx, target, op)
}

func (c *RemoteClient) LogOnAllAgents(ctx context.Context, message string) {
	c.logOn(ctx, address.AllAgents, message)
}

func (c *RemoteClient) LogOnAllWorkers(ctx context.Context, message string) {
	c.logOn(ctx, address.AllWorkers, message)
}

func (c *RemoteClient) logOn(ctx context.Context, target address.Address, message string) {
	if _, err := c.connector.Write(ctx, target, operation.Log{Message: message, Level: "info"}); err != nil {
		log.Debug().Err(err).Str("target", target.String()).Msg("coordinator.RemoteClient.logOn dropped")
	}
}

func (c *RemoteClient) testOnAllWorkers(testID string) (address.Address, error) {
	idx, err := c.topology.TestIndex(testID)
	if err != nil {
		return address.Address{}, err
	}
	return address.AllWorkers.Child(idx)
}

func (c *RemoteClient) testOnFirstWorker(testID string) (address.Address, error) {
	idx, err := c.topology.TestIndex(testID)
	if err != nil {
		return address.Address{}, err
	}
	first, err := c.topology.FirstWorker()
	if err != nil {
		return address.Address{}, err
	}
	return first.Child(idx)
}

func (c *RemoteClient) send(ctx context.Context, target address.Address, op operation.Operation) error {
	start := time.Now()
	resp, err := c.connector.Write(ctx, target, op)
	if err != nil {
		log.Error().Err(err).Str("op", op.Type().String()).Str("target", target.String()).
			Msg("coordinator.RemoteClient.send transport failure")
		return &FatalError{Op: op.Type().String(), Target: target, Err: err}
	}
	return c.interpret(op, target, resp, time.Since(start))
}

// interpret inspects every entry before deciding, so the error names all
// failing recipients.
func (c *RemoteClient) interpret(op operation.Operation, target address.Address, resp *response.Response, elapsed time.Duration) error {
	counts := make(map[string]int)
	var failures *multierror.Error
	for _, e := range resp.Entries() {
		counts[string(e.Type)]++
		if e.Type.Accepted() {
			continue
		}
		log.Error().Str("op", op.Type().String()).Str("addr", e.Address.String()).Str("outcome", string(e.Type)).
			Msg("coordinator.RemoteClient.interpret failure outcome")
		failures = multierror.Append(failures, &OutcomeError{Address: e.Address, Type: e.Type})
	}
	observability.RecordDispatch(op.Type().String(), target.Level().String(), counts, elapsed)
	if failures == nil {
		return nil
	}
	failures.ErrorFormat = outcomeErrorFormat
	return &FatalError{Op: op.Type().String(), Target: target, Err: failures}
}

// Close stops the probe loop and waits for it. Safe to call repeatedly.
func (c *RemoteClient) Close() error {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()
	})
	return nil
}
