package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/simctl/internal/cluster"
	"github.com/danmuck/simctl/internal/suite"
	"github.com/danmuck/simctl/internal/testutil/testlog"
	"github.com/danmuck/simctl/internal/worker"
	"github.com/danmuck/simctl/internal/workload"
	"github.com/danmuck/simctl/internal/workload/builtin"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type localRun struct {
	cluster    *cluster.Local
	client     *RemoteClient
	exceptions *worker.ExceptionLog
}

func startLocal(t *testing.T, tests ...suite.TestCase) *localRun {
	t.Helper()
	exceptions := worker.NewExceptionLog()
	l, err := cluster.Start(cluster.Spec{
		Agents: []cluster.AgentSpec{
			{PublicAddress: "10.0.0.1", Workers: 2},
			{PublicAddress: "10.0.0.2", Workers: 1},
		},
		Workloads:    builtin.NewRegistry(),
		Reporter:     exceptions,
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, l.AddSuite(suite.Suite{Name: "runner", Tests: tests}))
	client := NewRemoteClient(l.Connector, l.Registry, 20, WithPhasePollInterval(5*time.Millisecond))
	t.Cleanup(func() {
		_ = client.Close()
		_ = l.Close()
	})
	return &localRun{cluster: l, client: client, exceptions: exceptions}
}

func testCase(id, class string) suite.TestCase {
	return suite.TestCase{ID: id, Properties: map[string]string{workload.PropertyClass: class, "tick": "1ms"}}
}

func (r *localRun) assertNoTestsLeft(t *testing.T) {
	t.Helper()
	for _, w := range r.cluster.Workers {
		assert.Empty(t, w.Tests(), "worker %s", w.Address())
	}
}

func TestRunnerCompletesSuccessfulTest(t *testing.T) {
	testlog.Start(t)
	run := startLocal(t, testCase("SuccessTest", builtin.TypeSuccess))
	td, err := run.cluster.Registry.Test("SuccessTest")
	require.NoError(t, err)

	err = NewTestCaseRunner(run.client, td, 50*time.Millisecond).Run(context.Background())

	require.NoError(t, err)
	assert.Zero(t, run.exceptions.Len())
	run.assertNoTestsLeft(t)
}

func TestRunnerFailingTestIsFatalAndCleanedUp(t *testing.T) {
	testlog.Start(t)
	run := startLocal(t, testCase("FailingTest", builtin.TypeFailing))
	td, err := run.cluster.Registry.Test("FailingTest")
	require.NoError(t, err)

	err = NewTestCaseRunner(run.client, td, 10*time.Millisecond).Run(context.Background())

	var fe *FatalError
	require.ErrorAs(t, err, &fe)
	assert.Len(t, fe.Outcomes(), 3)
	assert.NotZero(t, len(run.exceptions.ForTest("FailingTest")))
	run.assertNoTestsLeft(t)
}

func TestRunSuiteCollectsFailures(t *testing.T) {
	testlog.Start(t)
	run := startLocal(t, testCase("FailingTest", builtin.TypeFailing), testCase("SuccessTest", builtin.TypeSuccess))

	err := RunSuite(context.Background(), run.client, run.cluster.Registry.Tests(), 10*time.Millisecond, false)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 1)
	assert.True(t, IsFatal(err))
	assert.Empty(t, run.exceptions.ForTest("SuccessTest"))
	run.assertNoTestsLeft(t)
}

func TestRunSuiteFailFastSkipsRemainingTests(t *testing.T) {
	testlog.Start(t)
	run := startLocal(t, testCase("FailingTest", builtin.TypeFailing), testCase("SuccessTest", builtin.TypeSuccess))

	err := RunSuite(context.Background(), run.client, run.cluster.Registry.Tests(), 10*time.Millisecond, true)

	var fe *FatalError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Target.String(), "_T1")
	for _, rec := range run.exceptions.Records() {
		assert.Equal(t, "FailingTest", rec.TestID)
	}
}

func TestRunnerHonorsCancellation(t *testing.T) {
	testlog.Start(t)
	run := startLocal(t, testCase("SuccessTest", builtin.TypeSuccess))
	td, err := run.cluster.Registry.Test("SuccessTest")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err = NewTestCaseRunner(run.client, td, time.Hour).Run(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	run.assertNoTestsLeft(t)
}
