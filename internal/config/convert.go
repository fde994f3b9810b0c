package config

import (
	"github.com/danmuck/simctl/internal/cluster"
	"github.com/danmuck/simctl/internal/worker"
	"github.com/danmuck/simctl/internal/workload"
)

// ClusterSpec maps the configured agents onto an in-process cluster.
func (c Config) ClusterSpec(workloads *workload.Registry, reporter worker.ExceptionReporter) cluster.Spec {
	agents := make([]cluster.AgentSpec, 0, len(c.Agents))
	for _, a := range c.Agents {
		agents = append(agents, cluster.AgentSpec{
			PublicAddress:  a.PublicAddress,
			PrivateAddress: a.PrivateAddress,
			Workers:        a.Workers,
		})
	}
	return cluster.Spec{
		Agents:       agents,
		Workloads:    workloads,
		Reporter:     reporter,
		PollInterval: c.PhasePollInterval,
	}
}
