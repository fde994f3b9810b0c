// Package address owns the hierarchical simulator addressing model.
//
// An address has a level (coordinator, agent, worker, test) and up to three
// 1-based indices. Index 0 at or above the level is the wildcard; an address
// carrying a wildcard is a group and is only ever a dispatch target.
package address

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidAddress = errors.New("address: invalid address")

// Level is the depth of an address in the coordinator/agent/worker/test tree.
type Level int

const (
	LevelCoordinator Level = iota
	LevelAgent
	LevelWorker
	LevelTest
)

// Wildcard is the index value meaning "every entity at this position".
const Wildcard = 0

func (l Level) String() string {
	switch l {
	case LevelCoordinator:
		return "COORDINATOR"
	case LevelAgent:
		return "AGENT"
	case LevelWorker:
		return "WORKER"
	case LevelTest:
		return "TEST"
	default:
		return "Level(" + strconv.Itoa(int(l)) + ")"
	}
}

// Address is an immutable value usable as a map key.
type Address struct {
	level       Level
	agentIndex  int
	workerIndex int
	testIndex   int
}

var (
	Coordinator = Address{level: LevelCoordinator}
	AllAgents   = Address{level: LevelAgent}
	AllWorkers  = Address{level: LevelWorker}
)

// New validates and builds an address. Indices below level must be zero.
func New(level Level, agentIndex, workerIndex, testIndex int) (Address, error) {
	if level < LevelCoordinator || level > LevelTest {
		return Address{}, fmt.Errorf("%w: unknown level %d", ErrInvalidAddress, level)
	}
	indices := [3]int{agentIndex, workerIndex, testIndex}
	for i, idx := range indices {
		if idx < 0 {
			return Address{}, fmt.Errorf("%w: negative index %d", ErrInvalidAddress, idx)
		}
		if Level(i+1) > level && idx != 0 {
			return Address{}, fmt.Errorf("%w: index %d defined below level %s", ErrInvalidAddress, idx, level)
		}
	}
	return Address{level: level, agentIndex: agentIndex, workerIndex: workerIndex, testIndex: testIndex}, nil
}

// Agent returns the concrete or wildcard address of one agent.
func Agent(agentIndex int) (Address, error) {
	return Coordinator.Child(agentIndex)
}

// Worker returns the address of one worker on one agent.
func Worker(agentIndex, workerIndex int) (Address, error) {
	return New(LevelWorker, agentIndex, workerIndex, 0)
}

// Test returns the address of one test instance on one worker.
func Test(agentIndex, workerIndex, testIndex int) (Address, error) {
	return New(LevelTest, agentIndex, workerIndex, testIndex)
}

func (a Address) Level() Level { return a.level }

func (a Address) AgentIndex() int { return a.agentIndex }

func (a Address) WorkerIndex() int { return a.workerIndex }

func (a Address) TestIndex() int { return a.testIndex }

// Child derives the next-level address carrying index at the new position.
func (a Address) Child(index int) (Address, error) {
	if index < 0 {
		return Address{}, fmt.Errorf("%w: negative child index %d", ErrInvalidAddress, index)
	}
	child := a
	switch a.level {
	case LevelCoordinator:
		child.agentIndex = index
	case LevelAgent:
		child.workerIndex = index
	case LevelWorker:
		child.testIndex = index
	default:
		return Address{}, fmt.Errorf("%w: %s has no child level", ErrInvalidAddress, a.level)
	}
	child.level = a.level + 1
	return child, nil
}

// MustChild is Child for statically known derivations; it panics on error.
func (a Address) MustChild(index int) Address {
	child, err := a.Child(index)
	if err != nil {
		panic(err)
	}
	return child
}

// Parent drops the deepest index. The coordinator is its own parent.
func (a Address) Parent() Address {
	p := a
	switch a.level {
	case LevelAgent:
		p.agentIndex = 0
	case LevelWorker:
		p.workerIndex = 0
	case LevelTest:
		p.testIndex = 0
	default:
		return a
	}
	p.level = a.level - 1
	return p
}

// IsGroup reports whether any index at or above the level is a wildcard.
func (a Address) IsGroup() bool {
	for _, idx := range a.definedIndices() {
		if idx == Wildcard {
			return true
		}
	}
	return false
}

// Matches reports whether concrete is covered by a (a group or the same address).
func (a Address) Matches(concrete Address) bool {
	if concrete.level != a.level || concrete.IsGroup() {
		return false
	}
	want := a.definedIndices()
	got := concrete.definedIndices()
	for i := range want {
		if want[i] != Wildcard && want[i] != got[i] {
			return false
		}
	}
	return true
}

func (a Address) definedIndices() []int {
	all := []int{a.agentIndex, a.workerIndex, a.testIndex}
	return all[:int(a.level)]
}

// Compare orders by (level, agent, worker, test); wildcards sort first.
func Compare(a, b Address) int {
	ka := [4]int{int(a.level), a.agentIndex, a.workerIndex, a.testIndex}
	kb := [4]int{int(b.level), b.agentIndex, b.workerIndex, b.testIndex}
	for i := range ka {
		switch {
		case ka[i] < kb[i]:
			return -1
		case ka[i] > kb[i]:
			return 1
		}
	}
	return 0
}

// String renders C, C_A1, C_A1_W2 or C_A1_W2_T3 with * for wildcards.
func (a Address) String() string {
	var b strings.Builder
	b.WriteString("C")
	prefixes := []string{"_A", "_W", "_T"}
	for i, idx := range a.definedIndices() {
		b.WriteString(prefixes[i])
		if idx == Wildcard {
			b.WriteString("*")
			continue
		}
		b.WriteString(strconv.Itoa(idx))
	}
	return b.String()
}

// Parse is the inverse of String.
func Parse(raw string) (Address, error) {
	parts := strings.Split(strings.TrimSpace(raw), "_")
	if len(parts) == 0 || parts[0] != "C" || len(parts) > 4 {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
	}
	out := Coordinator
	prefixes := []byte{'A', 'W', 'T'}
	for i, part := range parts[1:] {
		if len(part) < 2 || part[0] != prefixes[i] {
			return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
		}
		idx := Wildcard
		if part[1:] != "*" {
			n, err := strconv.Atoi(part[1:])
			if err != nil || n <= 0 {
				return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
			}
			idx = n
		}
		child, err := out.Child(idx)
		if err != nil {
			return Address{}, err
		}
		out = child
	}
	return out, nil
}
