// Package cluster assembles an in-process cluster: agent and worker
// processors attached to a local connector, with the topology registry
// populated to match.
package cluster

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/simctl/internal/agent"
	"github.com/danmuck/simctl/internal/connector"
	"github.com/danmuck/simctl/internal/registry"
	"github.com/danmuck/simctl/internal/suite"
	"github.com/danmuck/simctl/internal/worker"
	"github.com/danmuck/simctl/internal/workload"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
)

var ErrNoAgents = errors.New("cluster: at least one agent is required")

type AgentSpec struct {
	PublicAddress  string
	PrivateAddress string
	Workers        int
}

type Spec struct {
	Agents       []AgentSpec
	Workloads    *workload.Registry
	Reporter     worker.ExceptionReporter
	PollInterval time.Duration
}

// Local is a running in-process cluster.
type Local struct {
	Registry  *registry.ComponentRegistry
	Connector *connector.LocalConnector
	Agents    []*agent.OperationProcessor
	Workers   []*worker.OperationProcessor
}

// Start wires every agent and worker in spec. Agent and worker indexes
// follow declaration order starting at 1. On failure everything already
// started is closed again.
func Start(spec Spec) (*Local, error) {
	if len(spec.Agents) == 0 {
		return nil, ErrNoAgents
	}
	if spec.Reporter == nil {
		spec.Reporter = worker.NewExceptionLog()
	}
	l := &Local{Registry: registry.New(), Connector: connector.New()}
	if err := l.wire(spec); err != nil {
		if cerr := l.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("cluster.Start cleanup")
		}
		return nil, err
	}
	return l, nil
}

func (l *Local) wire(spec Spec) error {
	for i, as := range spec.Agents {
		if as.Workers < 0 {
			return fmt.Errorf("cluster: agent %d: negative worker count %d", i+1, as.Workers)
		}
		public := strings.TrimSpace(as.PublicAddress)
		private := strings.TrimSpace(as.PrivateAddress)
		if private == "" {
			private = public
		}
		data, err := l.Registry.AddAgent(public, private)
		if err != nil {
			return err
		}
		ap := agent.NewOperationProcessor(data.Address)
		if err := l.Connector.Attach(ap); err != nil {
			return err
		}
		l.Agents = append(l.Agents, ap)

		settings := make([]registry.WorkerSettings, 0, as.Workers)
		for w := 1; w <= as.Workers; w++ {
			settings = append(settings, registry.WorkerSettings{WorkerIndex: w, Label: fmt.Sprintf("%s-w%d", public, w)})
		}
		if err := l.Registry.AddWorkers(data.Address, settings); err != nil {
			return err
		}
		for _, s := range settings {
			wp := worker.NewOperationProcessor(worker.Config{
				Address:      data.Address.MustChild(s.WorkerIndex),
				Registry:     spec.Workloads,
				Reporter:     spec.Reporter,
				PollInterval: spec.PollInterval,
			})
			l.Workers = append(l.Workers, wp)
			if err := l.Connector.Attach(wp); err != nil {
				return err
			}
		}
		log.Debug().Str("agent", data.Address.String()).Int("workers", as.Workers).Msg("cluster.Start agent ready")
	}
	return nil
}

// AddSuite registers the tests of s with the topology.
func (l *Local) AddSuite(s suite.Suite) error {
	return l.Registry.AddTests(s)
}

// Close stops accepting writes, shuts every worker down and removes the
// processors from the connector and the topology. Safe to call again.
func (l *Local) Close() error {
	var errs *multierror.Error
	if err := l.Connector.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	for _, w := range l.Workers {
		if err := w.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
		l.Connector.Detach(w.Address())
	}
	for _, a := range l.Agents {
		l.Connector.Detach(a.Address())
	}
	for _, wd := range l.Registry.Workers() {
		if err := l.Registry.RemoveWorker(wd.Address); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
