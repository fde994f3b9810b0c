package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/simctl/internal/protocol"
	"github.com/danmuck/simctl/internal/protocol/address"
	"github.com/danmuck/simctl/internal/protocol/operation"
	"github.com/danmuck/simctl/internal/protocol/response"
	"github.com/danmuck/simctl/internal/registry"
	"github.com/danmuck/simctl/internal/suite"
	"github.com/danmuck/simctl/internal/testutil/testlog"
	"github.com/danmuck/simctl/internal/workload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const defaultTestID = "RemoteClientTest"

var defaultOperation = operation.IntegrationTest{Data: operation.IntegrationTestData}

type mockConnector struct {
	mock.Mock
}

func (m *mockConnector) Write(ctx context.Context, target address.Address, op operation.Operation) (*response.Response, error) {
	args := m.Called(ctx, target, op)
	resp, _ := args.Get(0).(*response.Response)
	return resp, args.Error(1)
}

func newTopology(t *testing.T) *registry.ComponentRegistry {
	t.Helper()
	r := registry.New()
	r.AddAgent("192.168.0.1", "192.168.0.1")
	r.AddAgent("192.168.0.2", "192.168.0.2")
	r.AddAgent("192.168.0.3", "192.168.0.3")
	first, err := r.FirstAgent()
	require.NoError(t, err)
	require.NoError(t, r.AddWorkers(first.Address, []registry.WorkerSettings{{WorkerIndex: 1}}))
	require.NoError(t, r.AddTests(suite.Suite{Name: defaultTestID, Tests: []suite.TestCase{{ID: defaultTestID}}}))
	return r
}

func newClient(t *testing.T, conn Connector, topo Topology, pingMillis int) *RemoteClient {
	t.Helper()
	c := NewRemoteClient(conn, topo, pingMillis, WithPhasePollInterval(5*time.Millisecond))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func respondWith(m *mockConnector, t response.Type) {
	m.On("Write", mock.Anything, mock.Anything, mock.Anything).Return(response.Single(1, address.Coordinator, t), nil)
}

func TestLogOnAllAgentsSwallowsTransportErrors(t *testing.T) {
	testlog.Start(t)
	m := &mockConnector{}
	m.On("Write", mock.Anything, address.AllAgents, mock.IsType(operation.Log{})).Return(nil, errors.New("transport down"))
	c := newClient(t, m, newTopology(t), 0)

	c.LogOnAllAgents(context.Background(), "test")

	m.AssertExpectations(t)
	m.AssertNumberOfCalls(t, "Write", 1)
}

func TestLogOnAllWorkers(t *testing.T) {
	testlog.Start(t)
	m := &mockConnector{}
	m.On("Write", mock.Anything, address.AllWorkers, mock.IsType(operation.Log{})).
		Return(response.Single(1, address.AllWorkers, response.Success), nil)
	c := newClient(t, m, newTopology(t), 0)

	c.LogOnAllWorkers(context.Background(), "test")

	m.AssertExpectations(t)
	m.AssertNumberOfCalls(t, "Write", 1)
}

func TestSendInterpretsOutcomes(t *testing.T) {
	testlog.Start(t)
	topo := newTopology(t)
	firstWorker, err := topo.FirstWorker()
	require.NoError(t, err)

	sends := []struct {
		name   string
		target address.Address
		send   func(c *RemoteClient) error
	}{
		{"all agents", address.AllAgents, func(c *RemoteClient) error {
			return c.SendToAllAgents(context.Background(), defaultOperation)
		}},
		{"all workers", address.AllWorkers, func(c *RemoteClient) error {
			return c.SendToAllWorkers(context.Background(), defaultOperation)
		}},
		{"first worker", firstWorker, func(c *RemoteClient) error {
			return c.SendToFirstWorker(context.Background(), defaultOperation)
		}},
		{"test on all workers", address.AllWorkers.MustChild(1), func(c *RemoteClient) error {
			return c.SendToTestOnAllWorkers(context.Background(), defaultTestID, defaultOperation)
		}},
		{"test on first worker", firstWorker.MustChild(1), func(c *RemoteClient) error {
			return c.SendToTestOnFirstWorker(context.Background(), defaultTestID, defaultOperation)
		}},
	}
	outcomes := []struct {
		outcome response.Type
		fatal   bool
	}{
		{response.Success, false},
		{response.UnblockedByFailure, false},
		{response.ExceptionDuringOperation, true},
	}

	for _, s := range sends {
		for _, o := range outcomes {
			t.Run(s.name+"/"+string(o.outcome), func(t *testing.T) {
				m := &mockConnector{}
				respondWith(m, o.outcome)
				c := newClient(t, m, topo, 0)

				err := s.send(c)

				if o.fatal {
					var fe *FatalError
					require.ErrorAs(t, err, &fe)
					assert.Len(t, fe.Outcomes(), 1)
				} else {
					require.NoError(t, err)
				}
				m.AssertCalled(t, "Write", mock.Anything, s.target, defaultOperation)
				m.AssertNumberOfCalls(t, "Write", 1)
			})
		}
	}
}

func TestSendCollectsEveryFailureOutcome(t *testing.T) {
	testlog.Start(t)
	resp := response.New(3, address.AllWorkers)
	resp.Add(address.Coordinator.MustChild(1).MustChild(1), response.Success)
	resp.Add(address.Coordinator.MustChild(1).MustChild(2), response.ExceptionDuringOperation)
	resp.Add(address.Coordinator.MustChild(2).MustChild(1), response.UnblockedByFailure)
	resp.Add(address.Coordinator.MustChild(2).MustChild(2), response.UnsupportedOperation)
	m := &mockConnector{}
	m.On("Write", mock.Anything, address.AllWorkers, mock.Anything).Return(resp, nil)
	c := newClient(t, m, newTopology(t), 0)

	err := c.SendToAllWorkers(context.Background(), operation.Ping{})

	var fe *FatalError
	require.ErrorAs(t, err, &fe)
	outcomes := fe.Outcomes()
	require.Len(t, outcomes, 2)
	assert.Equal(t, "C_A1_W2", outcomes[0].Address.String())
	assert.Equal(t, response.ExceptionDuringOperation, outcomes[0].Type)
	assert.Equal(t, response.UnsupportedOperation, outcomes[1].Type)
	assert.True(t, IsFatal(err))
	assert.Contains(t, err.Error(), "2 failure outcome(s)")
}

func TestSendTransportErrorIsFatal(t *testing.T) {
	testlog.Start(t)
	cause := errors.New("connection reset")
	m := &mockConnector{}
	m.On("Write", mock.Anything, address.AllAgents, mock.Anything).Return(nil, cause)
	c := newClient(t, m, newTopology(t), 0)

	err := c.SendToAllAgents(context.Background(), defaultOperation)

	var fe *FatalError
	require.ErrorAs(t, err, &fe)
	assert.ErrorIs(t, err, cause)
	assert.Empty(t, fe.Outcomes())
}

func TestSendToUnknownTestNeverWrites(t *testing.T) {
	testlog.Start(t)
	m := &mockConnector{}
	c := newClient(t, m, newTopology(t), 0)

	err := c.SendToTestOnAllWorkers(context.Background(), "missing", defaultOperation)

	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, registry.ErrTestNotFound)
	m.AssertNotCalled(t, "Write", mock.Anything, mock.Anything, mock.Anything)
}

func TestPingLoopStopsAfterInterruption(t *testing.T) {
	testlog.Start(t)
	ok := response.Single(1, address.AllWorkers, response.Success)
	m := &mockConnector{}
	m.On("Write", mock.Anything, address.AllWorkers, mock.IsType(operation.Ping{})).
		Return(nil, protocol.NewError(address.AllWorkers, "PING", protocol.ErrInterrupted)).Once()
	m.On("Write", mock.Anything, address.AllWorkers, mock.IsType(operation.Ping{})).Return(ok, nil)

	c := NewRemoteClient(m, newTopology(t), 50)
	time.Sleep(300 * time.Millisecond)
	require.NoError(t, c.Close())

	m.AssertNumberOfCalls(t, "Write", 1)
}

func TestPingLoopContinuesAfterOtherErrors(t *testing.T) {
	testlog.Start(t)
	ok := response.Single(1, address.AllWorkers, response.Success)
	m := &mockConnector{}
	m.On("Write", mock.Anything, address.AllWorkers, mock.IsType(operation.Ping{})).
		Return(nil, protocol.NewError(address.AllWorkers, "PING", context.DeadlineExceeded)).Once()
	m.On("Write", mock.Anything, address.AllWorkers, mock.IsType(operation.Ping{})).Return(ok, nil)

	c := NewRemoteClient(m, newTopology(t), 50)
	time.Sleep(300 * time.Millisecond)
	require.NoError(t, c.Close())

	calls := 0
	for _, call := range m.Calls {
		if call.Method == "Write" {
			calls++
		}
	}
	assert.GreaterOrEqual(t, calls, 2)
}

func TestPingLoopDisabled(t *testing.T) {
	testlog.Start(t)
	for _, interval := range []int{-1, 0} {
		m := &mockConnector{}
		c := NewRemoteClient(m, newTopology(t), interval)
		time.Sleep(100 * time.Millisecond)
		require.NoError(t, c.Close())
		m.AssertNotCalled(t, "Write", mock.Anything, mock.Anything, mock.Anything)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	testlog.Start(t)
	m := &mockConnector{}
	m.On("Write", mock.Anything, mock.Anything, mock.Anything).Return(response.Single(1, address.AllWorkers, response.Success), nil)
	c := NewRemoteClient(m, newTopology(t), 10)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestShouldStop(t *testing.T) {
	testlog.Start(t)
	assert.True(t, ShouldStop(protocol.ErrInterrupted))
	assert.True(t, ShouldStop(context.Canceled))
	assert.True(t, ShouldStop(protocol.NewError(address.AllWorkers, "PING", context.Canceled)))
	assert.False(t, ShouldStop(context.DeadlineExceeded))
	assert.False(t, ShouldStop(errors.New("timeout")))
}

func TestWaitForPhaseCompletionRetriesWhileRunning(t *testing.T) {
	testlog.Start(t)
	target := address.AllWorkers.MustChild(1)
	running := response.New(1, target)
	running.Add(address.Coordinator.MustChild(1).MustChild(1).MustChild(1), response.TestPhaseIsRunning)
	done := response.Single(2, target, response.Success)
	op := operation.IsPhaseCompleted{TestID: defaultTestID, Phase: workload.PhaseRun}

	m := &mockConnector{}
	m.On("Write", mock.Anything, target, op).Return(running, nil).Twice()
	m.On("Write", mock.Anything, target, op).Return(done, nil)
	c := newClient(t, m, newTopology(t), 0)

	require.NoError(t, c.WaitForPhaseCompletion(context.Background(), defaultTestID, workload.PhaseRun, false))
	m.AssertNumberOfCalls(t, "Write", 3)
}

func TestWaitForPhaseCompletionFailsOnException(t *testing.T) {
	testlog.Start(t)
	topo := newTopology(t)
	first, _ := topo.FirstWorker()
	target := first.MustChild(1)
	failed := response.Single(1, target, response.ExceptionDuringOperation)

	m := &mockConnector{}
	m.On("Write", mock.Anything, target, mock.IsType(operation.IsPhaseCompleted{})).Return(failed, nil)
	c := newClient(t, m, topo, 0)

	err := c.WaitForPhaseCompletion(context.Background(), defaultTestID, workload.PhaseGlobalVerify, true)
	assert.True(t, IsFatal(err))
}
