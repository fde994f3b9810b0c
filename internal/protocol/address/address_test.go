package address

import (
	"errors"
	"sort"
	"testing"

	"github.com/danmuck/simctl/internal/testutil/testlog"
)

func TestChildCompositionPreservesAncestors(t *testing.T) {
	testlog.Start(t)
	for a := 1; a <= 3; a++ {
		for w := 1; w <= 3; w++ {
			for tst := 1; tst <= 3; tst++ {
				agent, err := Coordinator.Child(a)
				if err != nil {
					t.Fatalf("agent child: %v", err)
				}
				worker, err := agent.Child(w)
				if err != nil {
					t.Fatalf("worker child: %v", err)
				}
				test, err := worker.Child(tst)
				if err != nil {
					t.Fatalf("test child: %v", err)
				}
				if !(Coordinator.Level() < agent.Level() && agent.Level() < worker.Level() && worker.Level() < test.Level()) {
					t.Fatalf("levels not strictly increasing: %s %s %s", agent, worker, test)
				}
				if test.AgentIndex() != a || test.WorkerIndex() != w || test.TestIndex() != tst {
					t.Fatalf("indices not preserved: %s", test)
				}
				if worker.AgentIndex() != a || test.Parent() != worker || worker.Parent() != agent {
					t.Fatalf("parent chain broken: %s -> %s -> %s", test, worker, agent)
				}
			}
		}
	}
}

func TestChildOfTestLevelFails(t *testing.T) {
	testlog.Start(t)
	test, err := Test(1, 1, 1)
	if err != nil {
		t.Fatalf("build test address: %v", err)
	}
	if _, err := test.Child(1); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	if _, err := Coordinator.Child(-1); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress for negative index, got %v", err)
	}
}

func TestChildIsDeterministic(t *testing.T) {
	testlog.Start(t)
	a := AllWorkers.MustChild(4)
	b := AllWorkers.MustChild(4)
	if a != b || Compare(a, b) != 0 {
		t.Fatalf("expected equal children, got %s and %s", a, b)
	}
}

func TestNewRejectsIndicesBelowLevel(t *testing.T) {
	testlog.Start(t)
	if _, err := New(LevelAgent, 1, 2, 0); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	if _, err := New(Level(9), 0, 0, 0); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress for unknown level, got %v", err)
	}
	addr, err := New(LevelWorker, 2, 3, 0)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	if addr.String() != "C_A2_W3" {
		t.Fatalf("unexpected string: %s", addr)
	}
}

func TestGroupAddresses(t *testing.T) {
	testlog.Start(t)
	worker, _ := Worker(1, 2)
	if !AllWorkers.IsGroup() || !AllAgents.IsGroup() || Coordinator.IsGroup() || worker.IsGroup() {
		t.Fatalf("group detection mismatch")
	}
	if AllWorkers == worker {
		t.Fatalf("group must not equal a concrete address")
	}
	if !AllWorkers.Matches(worker) {
		t.Fatalf("all workers should match %s", worker)
	}
	agentTwoWorkers := AllAgents.MustChild(0)
	if agentTwoWorkers != AllWorkers {
		t.Fatalf("AllAgents child 0 should be AllWorkers, got %s", agentTwoWorkers)
	}
	onAgent2, _ := Agent(2)
	if onAgent2.MustChild(Wildcard).Matches(worker) {
		t.Fatalf("workers on agent 2 should not match %s", worker)
	}
	if AllWorkers.Matches(AllWorkers) {
		t.Fatalf("a group never matches another group")
	}
	testOnAll := AllWorkers.MustChild(1)
	concrete, _ := Test(3, 1, 1)
	if !testOnAll.Matches(concrete) || testOnAll.Matches(worker) {
		t.Fatalf("test group matching mismatch")
	}
}

func TestCompareOrdersWildcardFirst(t *testing.T) {
	testlog.Start(t)
	w11, _ := Worker(1, 1)
	w12, _ := Worker(1, 2)
	a2, _ := Agent(2)
	list := []Address{w12, AllWorkers, a2, w11, Coordinator, AllAgents}
	sort.Slice(list, func(i, j int) bool { return Compare(list[i], list[j]) < 0 })
	want := []string{"C", "C_A*", "C_A2", "C_A*_W*", "C_A1_W1", "C_A1_W2"}
	for i, addr := range list {
		if addr.String() != want[i] {
			t.Fatalf("order[%d]=%s want %s (full=%v)", i, addr, want[i], list)
		}
	}
}

func TestParseRoundTrip(t *testing.T) {
	testlog.Start(t)
	for _, raw := range []string{"C", "C_A*", "C_A3", "C_A*_W*", "C_A1_W2", "C_A*_W*_T4", "C_A1_W2_T3"} {
		addr, err := Parse(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if addr.String() != raw {
			t.Fatalf("round trip mismatch: %q -> %s", raw, addr)
		}
	}
	for _, raw := range []string{"", "X", "C_W1", "C_A0", "C_A1_W1_T1_T2", "C_Ax"} {
		if _, err := Parse(raw); !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("expected ErrInvalidAddress for %q, got %v", raw, err)
		}
	}
}
