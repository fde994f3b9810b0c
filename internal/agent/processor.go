// Package agent is the per-host processor that sits between the
// coordinator and the workers it spawned.
package agent

import (
	"context"
	"sync/atomic"

	"github.com/danmuck/simctl/internal/observability"
	"github.com/danmuck/simctl/internal/protocol/address"
	"github.com/danmuck/simctl/internal/protocol/operation"
	"github.com/danmuck/simctl/internal/protocol/response"
	"github.com/rs/zerolog"
)

// OperationProcessor answers the agent-level operations. Test lifecycle
// operations belong to workers and are rejected here.
type OperationProcessor struct {
	addr  address.Address
	log   zerolog.Logger
	pings atomic.Int64
}

func NewOperationProcessor(addr address.Address) *OperationProcessor {
	return &OperationProcessor{
		addr: addr,
		log:  observability.ComponentLogger("agent", addr.String()),
	}
}

func (p *OperationProcessor) Address() address.Address {
	return p.addr
}

func (p *OperationProcessor) Process(_ context.Context, op operation.Operation) response.Type {
	outcome := p.process(op)
	observability.RecordWorkerOperation("agent", op.Type().String(), string(outcome))
	return outcome
}

func (p *OperationProcessor) process(op operation.Operation) response.Type {
	switch o := op.(type) {
	case operation.IntegrationTest:
		if o.Data != operation.IntegrationTestData {
			p.log.Warn().Str("data", o.Data).Msg("agent.OperationProcessor.process unexpected integration data")
			return response.ExceptionDuringOperation
		}
		return response.Success
	case operation.Ping:
		p.pings.Add(1)
		return response.Success
	case operation.Log:
		lvl, err := zerolog.ParseLevel(o.Level)
		if err != nil || o.Level == "" {
			lvl = zerolog.InfoLevel
		}
		p.log.WithLevel(lvl).Msg(o.Message)
		return response.Success
	default:
		p.log.Debug().Str("op", op.Type().String()).Msg("agent.OperationProcessor.process unsupported")
		return response.UnsupportedOperation
	}
}

// Pings is the number of probes answered.
func (p *OperationProcessor) Pings() int64 {
	return p.pings.Load()
}
