// Package registry holds the cluster topology the coordinator dispatches
// against: agents, the workers they host, and the tests of the running
// suite with their 1-based indexes.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/simctl/internal/protocol/address"
	"github.com/danmuck/simctl/internal/suite"
)

var (
	ErrAgentNotFound      = errors.New("registry: agent not found")
	ErrNoAgents           = errors.New("registry: no agents registered")
	ErrNoWorkers          = errors.New("registry: no workers registered")
	ErrWorkerNotFound     = errors.New("registry: worker not found")
	ErrWorkerExists       = errors.New("registry: worker already registered")
	ErrInvalidWorkerIndex = errors.New("registry: invalid worker index")
	ErrTestNotFound       = errors.New("registry: test not found")
	ErrTestExists         = errors.New("registry: test already registered")
)

type AgentData struct {
	Address        address.Address
	PublicAddress  string
	PrivateAddress string
	RegisteredAt   time.Time
}

// WorkerSettings describes one worker an agent spawned.
type WorkerSettings struct {
	WorkerIndex int
	Label       string
}

type WorkerData struct {
	Address  address.Address
	Settings WorkerSettings
}

// TestData is one test of the suite. Address is the test-on-all-workers
// group for TestIndex.
type TestData struct {
	TestIndex int
	Address   address.Address
	SuiteName string
	Case      suite.TestCase
}

// ComponentRegistry is populated before dispatch and read during a run.
type ComponentRegistry struct {
	mu      sync.RWMutex
	agents  []AgentData
	workers []WorkerData
	tests   []TestData
	byID    map[string]int
}

func New() *ComponentRegistry {
	return &ComponentRegistry{byID: make(map[string]int)}
}

// AddAgent registers the next agent; indexes start at 1.
func (r *ComponentRegistry) AddAgent(publicAddress, privateAddress string) (AgentData, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	addr, err := address.Agent(len(r.agents) + 1)
	if err != nil {
		return AgentData{}, err
	}
	agent := AgentData{
		Address:        addr,
		PublicAddress:  strings.TrimSpace(publicAddress),
		PrivateAddress: strings.TrimSpace(privateAddress),
		RegisteredAt:   time.Now(),
	}
	r.agents = append(r.agents, agent)
	return agent, nil
}

// AddWorkers registers workers under agentAddr.
func (r *ComponentRegistry) AddWorkers(agentAddr address.Address, settings []WorkerSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasAgent(agentAddr) {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agentAddr)
	}
	for _, s := range settings {
		if s.WorkerIndex <= 0 {
			return fmt.Errorf("%w: %d", ErrInvalidWorkerIndex, s.WorkerIndex)
		}
		addr, err := agentAddr.Child(s.WorkerIndex)
		if err != nil {
			return err
		}
		if r.workerPos(addr) >= 0 {
			return fmt.Errorf("%w: %s", ErrWorkerExists, addr)
		}
		r.workers = append(r.workers, WorkerData{Address: addr, Settings: s})
	}
	return nil
}

// RemoveWorker drops a worker, e.g. after its process exited.
func (r *ComponentRegistry) RemoveWorker(addr address.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pos := r.workerPos(addr)
	if pos < 0 {
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, addr)
	}
	r.workers = append(r.workers[:pos], r.workers[pos+1:]...)
	return nil
}

// AddTests registers every test of s, continuing the index sequence.
func (r *ComponentRegistry) AddTests(s suite.Suite) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tc := range s.Tests {
		if _, ok := r.byID[tc.ID]; ok {
			return fmt.Errorf("%w: %s", ErrTestExists, tc.ID)
		}
		idx := len(r.tests) + 1
		r.tests = append(r.tests, TestData{
			TestIndex: idx,
			Address:   address.AllWorkers.MustChild(idx),
			SuiteName: s.Name,
			Case:      tc,
		})
		r.byID[tc.ID] = idx - 1
	}
	return nil
}

func (r *ComponentRegistry) FirstAgent() (AgentData, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.agents) == 0 {
		return AgentData{}, ErrNoAgents
	}
	return r.agents[0], nil
}

// FirstWorker returns the address of the earliest registered worker.
func (r *ComponentRegistry) FirstWorker() (address.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.workers) == 0 {
		return address.Address{}, ErrNoWorkers
	}
	return r.workers[0].Address, nil
}

func (r *ComponentRegistry) Test(testID string) (TestData, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pos, ok := r.byID[testID]
	if !ok {
		return TestData{}, fmt.Errorf("%w: %s", ErrTestNotFound, testID)
	}
	return r.tests[pos], nil
}

// TestIndex resolves a test id to its 1-based index.
func (r *ComponentRegistry) TestIndex(testID string) (int, error) {
	td, err := r.Test(testID)
	if err != nil {
		return 0, err
	}
	return td.TestIndex, nil
}

func (r *ComponentRegistry) Agents() []AgentData {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]AgentData(nil), r.agents...)
}

func (r *ComponentRegistry) Workers() []WorkerData {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]WorkerData(nil), r.workers...)
}

// Tests returns the tests in index order.
func (r *ComponentRegistry) Tests() []TestData {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]TestData(nil), r.tests...)
}

func (r *ComponentRegistry) hasAgent(addr address.Address) bool {
	for _, a := range r.agents {
		if a.Address == addr {
			return true
		}
	}
	return false
}

func (r *ComponentRegistry) workerPos(addr address.Address) int {
	for i, w := range r.workers {
		if w.Address == addr {
			return i
		}
	}
	return -1
}
