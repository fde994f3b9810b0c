package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/simctl/internal/cluster"
	"github.com/danmuck/simctl/internal/config"
	"github.com/danmuck/simctl/internal/coordinator"
	"github.com/danmuck/simctl/internal/logging"
	"github.com/danmuck/simctl/internal/observability"
	"github.com/danmuck/simctl/internal/protocol/operation"
	"github.com/danmuck/simctl/internal/suite"
	"github.com/danmuck/simctl/internal/worker"
	"github.com/danmuck/simctl/internal/workload/builtin"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrWorkerExceptions fails a run whose tests passed while workers still
// reported hook errors, e.g. from a local teardown.
var ErrWorkerExceptions = errors.New("simctl: workers reported exceptions")

type runOptions struct {
	configPath string
	suitePath  string
	failFast   bool
}

func executeRun(ctx context.Context, opts runOptions, out io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.suitePath != "" {
		cfg.SuitePath = opts.suitePath
	}
	if cfg.LogLevel != "" {
		level, _ := logging.ParseLevel(cfg.LogLevel)
		zerolog.SetGlobalLevel(level)
	}

	s, err := suite.Load(cfg.SuitePath)
	if err != nil {
		return err
	}
	runID := uuid.New()
	logger := log.With().Str("run_id", runID.String()).Str("suite", s.Name).Logger()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	observability.RegisterMetrics()
	metricsDone := make(chan struct{})
	if cfg.MetricsAddr != "" {
		go func() {
			defer close(metricsDone)
			if err := observability.ServeMetrics(ctx, cfg.MetricsAddr); err != nil {
				logger.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("simctl.run metrics server failed")
			}
		}()
	} else {
		close(metricsDone)
	}
	defer func() {
		cancel()
		<-metricsDone
	}()

	exceptions := worker.NewExceptionLog()
	local, err := cluster.Start(cfg.ClusterSpec(builtin.NewRegistry(), exceptions))
	if err != nil {
		return err
	}
	defer func() {
		if err := local.Close(); err != nil {
			logger.Warn().Err(err).Msg("simctl.run cluster close")
		}
	}()
	if err := local.AddSuite(s); err != nil {
		return err
	}

	client := coordinator.NewRemoteClient(
		local.Connector,
		local.Registry,
		int(cfg.PingInterval.Milliseconds()),
		coordinator.WithPhasePollInterval(cfg.PhasePollInterval),
	)
	defer client.Close()

	duration := cfg.Duration
	if s.Duration > 0 {
		duration = s.Duration
	}
	failFast := opts.failFast || cfg.FailFast || s.FailFast
	tests := local.Registry.Tests()

	if first, err := local.Registry.FirstAgent(); err == nil {
		logger.Debug().Str("addr", first.Address.String()).Str("public_address", first.PublicAddress).
			Msg("simctl.run first agent")
	}
	if err := checkAgents(ctx, client); err != nil {
		return err
	}

	logger.Info().
		Int("agents", len(local.Registry.Agents())).
		Int("workers", len(local.Workers)).
		Int("tests", len(tests)).
		Dur("duration", duration).
		Bool("fail_fast", failFast).
		Msg("simctl.run starting")

	start := time.Now()
	runErr := coordinator.RunSuite(ctx, client, tests, duration, failFast)
	elapsed := time.Since(start)

	failures := 0
	if runErr != nil {
		failures = 1
		if merr, ok := runErr.(*multierror.Error); ok {
			failures = len(merr.Errors)
		}
		logger.Error().Err(runErr).Msg("simctl.run suite failed")
	}
	unexpected := unexpectedExceptions(exceptions)
	if runErr == nil && unexpected != nil {
		runErr = fmt.Errorf("%w: %w", ErrWorkerExceptions, unexpected)
		logger.Error().Err(runErr).Msg("simctl.run worker exceptions")
	}
	var pings int64
	for _, a := range local.Agents {
		pings += a.Pings()
	}
	fmt.Fprintf(out, "\n======= SUMMARY %s =======\n", s.Name)
	fmt.Fprintf(out, "Run: %s\n", runID)
	fmt.Fprintf(out, "Suite of %d test(s) finished in %s\n", len(tests), elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "Failures: %d\n", failures)
	fmt.Fprintf(out, "Agents: %d answered %d ping(s)\n", len(local.Agents), pings)
	fmt.Fprintf(out, "Worker exceptions: %d\n", len(unexpected.WrappedErrors()))
	return runErr
}

// checkAgents confirms every agent answers before any test is created.
func checkAgents(ctx context.Context, client *coordinator.RemoteClient) error {
	if err := client.SendToAllAgents(ctx, operation.IntegrationTest{Data: operation.IntegrationTestData}); err != nil {
		return err
	}
	return client.SendToAllAgents(ctx, operation.Ping{})
}

// unexpectedExceptions collects reported worker exceptions other than
// phase guard rejections.
func unexpectedExceptions(exceptions *worker.ExceptionLog) *multierror.Error {
	var errs *multierror.Error
	for _, rec := range exceptions.Records() {
		if errors.Is(rec.Err, worker.ErrPhaseRunning) {
			continue
		}
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", rec.TestID, rec.Err))
	}
	return errs
}
