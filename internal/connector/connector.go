// Package connector is the in-process transport between the coordinator
// and the agent/worker processors of a local cluster.
//
// Group addresses are expanded at send time against the attached
// processors. Every delivery goes through the wire codec in both
// directions so the local path exercises the same encoding as a remote one.
package connector

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/danmuck/simctl/internal/protocol"
	"github.com/danmuck/simctl/internal/protocol/address"
	"github.com/danmuck/simctl/internal/protocol/codec"
	"github.com/danmuck/simctl/internal/protocol/operation"
	"github.com/danmuck/simctl/internal/protocol/response"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Processor handles operations delivered to one agent or worker.
type Processor interface {
	Address() address.Address
	Process(ctx context.Context, op operation.Operation) response.Type
}

// LocalConnector routes writes to attached processors.
type LocalConnector struct {
	mu      sync.RWMutex
	agents  map[address.Address]Processor
	workers map[address.Address]Processor

	nextID atomic.Uint64
	closed atomic.Bool
}

func New() *LocalConnector {
	return &LocalConnector{
		agents:  make(map[address.Address]Processor),
		workers: make(map[address.Address]Processor),
	}
}

// Attach registers p under its own address, which must be a concrete
// agent or worker address.
func (c *LocalConnector) Attach(p Processor) error {
	addr := p.Address()
	if addr.IsGroup() {
		return fmt.Errorf("%w: cannot attach group %s", address.ErrInvalidAddress, addr)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch addr.Level() {
	case address.LevelAgent:
		c.agents[addr] = p
	case address.LevelWorker:
		c.workers[addr] = p
	default:
		return fmt.Errorf("%w: cannot attach %s", address.ErrInvalidAddress, addr)
	}
	log.Debug().Str("addr", addr.String()).Msg("connector.LocalConnector.Attach")
	return nil
}

// Detach removes the processor at addr.
func (c *LocalConnector) Detach(addr address.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.agents, addr)
	delete(c.workers, addr)
}

// Write delivers op to every processor target resolves to and blocks
// until each has answered.
func (c *LocalConnector) Write(ctx context.Context, target address.Address, op operation.Operation) (*response.Response, error) {
	opName := op.Type().String()
	if c.closed.Load() {
		return nil, protocol.NewError(target, opName, protocol.ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return nil, protocol.NewError(target, opName, err)
	}

	id := c.nextID.Add(1)
	var frame bytes.Buffer
	if err := codec.WriteOperation(&frame, codec.Envelope{
		MessageID:   id,
		Source:      address.Coordinator,
		Destination: target,
		Op:          op,
	}); err != nil {
		return nil, protocol.NewError(target, opName, err)
	}

	resp := response.New(id, target)
	if target.Level() == address.LevelCoordinator {
		resp.Add(address.Coordinator, response.Success)
		return resp, nil
	}

	recipients := c.resolve(target)
	if len(recipients) == 0 {
		return nil, protocol.NewError(target, opName, protocol.ErrNoRecipient)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range recipients {
		g.Go(func() error {
			part, err := deliver(gctx, p, target, frame.Bytes())
			if err != nil {
				return err
			}
			mu.Lock()
			resp.Merge(part)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, protocol.NewError(target, opName, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, protocol.NewError(target, opName, err)
	}
	return resp, nil
}

// deliver plays the receiving side: decode, process, encode the reply,
// then decode it again as the sender would.
func deliver(ctx context.Context, p Processor, target address.Address, frame []byte) (*response.Response, error) {
	env, err := codec.ReadOperation(bytes.NewReader(frame))
	if err != nil {
		return nil, err
	}
	outcome := p.Process(ctx, env.Op)

	entry, err := entryAddress(p.Address(), target)
	if err != nil {
		return nil, err
	}
	part := response.New(env.MessageID, env.Destination)
	part.Add(entry, outcome)
	var reply bytes.Buffer
	if err := codec.WriteResponse(&reply, part); err != nil {
		return nil, err
	}
	return codec.ReadResponse(&reply)
}

// entryAddress is the concrete address an outcome is recorded under: the
// recipient itself, or its test instance for test-level targets.
func entryAddress(recipient, target address.Address) (address.Address, error) {
	if target.Level() == address.LevelTest && target.TestIndex() != address.Wildcard {
		return address.Test(recipient.AgentIndex(), recipient.WorkerIndex(), target.TestIndex())
	}
	return recipient, nil
}

func (c *LocalConnector) resolve(target address.Address) []Processor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pool := c.workers
	match := target
	switch target.Level() {
	case address.LevelAgent:
		pool = c.agents
	case address.LevelTest:
		match = target.Parent()
	}

	out := make([]Processor, 0, len(pool))
	for addr, p := range pool {
		if match.Matches(addr) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return address.Compare(out[i].Address(), out[j].Address()) < 0
	})
	return out
}

// Close rejects further writes.
func (c *LocalConnector) Close() error {
	c.closed.Store(true)
	return nil
}
