// Package operation defines the closed set of commands the coordinator
// sends down the address tree.
package operation

import (
	"fmt"

	"github.com/danmuck/simctl/internal/workload"
)

// Type identifies an operation on the wire.
type Type uint32

const (
	TypeIntegrationTest Type = iota + 1
	TypeLog
	TypePing
	TypeCreateTest
	TypeStartTestPhase
	TypeIsPhaseCompleted
	TypeStartTest
	TypeStopTest
)

var typeNames = map[Type]string{
	TypeIntegrationTest:  "INTEGRATION_TEST",
	TypeLog:              "LOG",
	TypePing:             "PING",
	TypeCreateTest:       "CREATE_TEST",
	TypeStartTestPhase:   "START_TEST_PHASE",
	TypeIsPhaseCompleted: "IS_PHASE_COMPLETED",
	TypeStartTest:        "START_TEST",
	TypeStopTest:         "STOP_TEST",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint32(t))
}

func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// Operation is implemented by every command payload.
type Operation interface {
	Type() Type
}

// TestScoped is implemented by operations addressed to one test id.
type TestScoped interface {
	Operation
	Test() string
}

// IntegrationTestData is the payload the integration probe carries.
const IntegrationTestData = "IntegrationTestData"

type IntegrationTest struct {
	Data string
}

func (IntegrationTest) Type() Type { return TypeIntegrationTest }

// Log asks the receiver to write Message to its own log.
type Log struct {
	Message string
	Level   string
}

func (Log) Type() Type { return TypeLog }

type Ping struct{}

func (Ping) Type() Type { return TypePing }

// CreateTest instantiates the workload named by Properties["class"].
type CreateTest struct {
	TestIndex  int
	TestID     string
	Properties map[string]string
}

func (CreateTest) Type() Type { return TypeCreateTest }

func (o CreateTest) Test() string { return o.TestID }

type StartTestPhase struct {
	TestID string
	Phase  workload.Phase
}

func (StartTestPhase) Type() Type { return TypeStartTestPhase }

func (o StartTestPhase) Test() string { return o.TestID }

type IsPhaseCompleted struct {
	TestID string
	Phase  workload.Phase
}

func (IsPhaseCompleted) Type() Type { return TypeIsPhaseCompleted }

func (o IsPhaseCompleted) Test() string { return o.TestID }

// StartTest runs the RUN phase. A passive start returns once the phase is
// launched; otherwise the receiver waits for it to finish.
type StartTest struct {
	TestID  string
	Passive bool
}

func (StartTest) Type() Type { return TypeStartTest }

func (o StartTest) Test() string { return o.TestID }

type StopTest struct {
	TestID string
}

func (StopTest) Type() Type { return TypeStopTest }

func (o StopTest) Test() string { return o.TestID }
