package builtin

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/danmuck/simctl/internal/tools"
	"github.com/danmuck/simctl/internal/workload"
	"github.com/rs/zerolog/log"
)

const TypeCommand = "command"

// commandProperties maps each phase to the property holding its command line.
var commandProperties = map[workload.Phase]string{
	workload.PhaseSetup:          "setup",
	workload.PhaseRun:            "run",
	workload.PhaseLocalVerify:    "localVerify",
	workload.PhaseGlobalVerify:   "globalVerify",
	workload.PhaseLocalTeardown:  "localTeardown",
	workload.PhaseGlobalTeardown: "globalTeardown",
}

// Command runs one host command per phase. Phases without a command
// succeed immediately. A run command killed by a stop request counts
// as success.
type Command struct {
	runner   tools.CommandRunner
	commands map[workload.Phase][]string
	tc       *workload.TestContext

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped atomic.Bool
}

// NewCommandFactory builds Command workloads backed by runner.
func NewCommandFactory(runner tools.CommandRunner) workload.Factory {
	return func(props workload.Properties) (workload.Workload, error) {
		commands := make(map[workload.Phase][]string, len(commandProperties))
		for phase, key := range commandProperties {
			if argv := strings.Fields(props.String(key, "")); len(argv) > 0 {
				commands[phase] = argv
			}
		}
		return &Command{runner: runner, commands: commands}, nil
	}
}

func (c *Command) Setup(ctx context.Context, tc *workload.TestContext) error {
	c.tc = tc
	return c.exec(ctx, workload.PhaseSetup)
}

func (c *Command) Run(ctx context.Context) error {
	if c.tc == nil {
		return workload.ErrNoTestContext
	}
	c.stopped.Store(false)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	if c.stopped.Load() || c.tc.IsStopped() {
		return nil
	}

	err := c.exec(ctx, workload.PhaseRun)
	if err != nil && (c.stopped.Load() || c.tc.IsStopped()) {
		log.Debug().Str("test_id", c.tc.TestID()).Err(err).Msg("builtin.Command.Run stopped")
		return nil
	}
	return err
}

func (c *Command) LocalVerify(ctx context.Context) error {
	return c.exec(ctx, workload.PhaseLocalVerify)
}

func (c *Command) GlobalVerify(ctx context.Context) error {
	return c.exec(ctx, workload.PhaseGlobalVerify)
}

func (c *Command) LocalTeardown(ctx context.Context) error {
	return c.exec(ctx, workload.PhaseLocalTeardown)
}

func (c *Command) GlobalTeardown(ctx context.Context) error {
	return c.exec(ctx, workload.PhaseGlobalTeardown)
}

func (c *Command) RequestStop() {
	c.stopped.Store(true)
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Command) exec(ctx context.Context, phase workload.Phase) error {
	argv, ok := c.commands[phase]
	if !ok {
		return nil
	}
	res, err := c.runner.Run(ctx, argv[0], argv[1:]...)
	log.Debug().
		Str("phase", string(phase)).
		Strs("argv", argv).
		Int("exit_code", res.ExitCode).
		Err(err).
		Msg("builtin.Command.exec")
	return err
}
