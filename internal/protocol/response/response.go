// Package response owns outcome codes and per-recipient response aggregation.
package response

import (
	"fmt"
	"sort"

	"github.com/danmuck/simctl/internal/protocol/address"
)

// Type is the closed set of outcomes a recipient reports for one operation.
type Type string

const (
	Success                  Type = "SUCCESS"
	UnblockedByFailure       Type = "UNBLOCKED_BY_FAILURE"
	TestPhaseIsRunning       Type = "TEST_PHASE_IS_RUNNING"
	UnsupportedOperation     Type = "UNSUPPORTED_OPERATION_ON_THIS_PROCESSOR"
	ExceptionDuringOperation Type = "EXCEPTION_DURING_OPERATION_EXECUTION"
)

// Valid reports whether t is one of the known outcome codes.
func (t Type) Valid() bool {
	switch t {
	case Success, UnblockedByFailure, TestPhaseIsRunning, UnsupportedOperation, ExceptionDuringOperation:
		return true
	default:
		return false
	}
}

// Accepted reports whether a dispatcher tolerates t without failing the run.
func (t Type) Accepted() bool {
	return t == Success || t == UnblockedByFailure
}

// ParseType validates a wire-level outcome string.
func ParseType(raw string) (Type, error) {
	t := Type(raw)
	if !t.Valid() {
		return "", fmt.Errorf("response: unknown type %q", raw)
	}
	return t, nil
}

// Entry is one recipient outcome.
type Entry struct {
	Address address.Address
	Type    Type
}

// Response maps every reached recipient of one message to its outcome.
// The transport fills it; consumers treat it as read-only.
type Response struct {
	messageID   uint64
	destination address.Address
	parts       map[address.Address]Type
}

func New(messageID uint64, destination address.Address) *Response {
	return &Response{
		messageID:   messageID,
		destination: destination,
		parts:       make(map[address.Address]Type),
	}
}

// Single builds a one-entry response.
func Single(messageID uint64, destination address.Address, t Type) *Response {
	r := New(messageID, destination)
	r.Add(destination, t)
	return r
}

func (r *Response) MessageID() uint64 {
	return r.messageID
}

func (r *Response) Destination() address.Address {
	return r.destination
}

// Add records the outcome of one concrete recipient, replacing any earlier one.
func (r *Response) Add(addr address.Address, t Type) {
	r.parts[addr] = t
}

// Merge copies all entries of other into r.
func (r *Response) Merge(other *Response) {
	if other == nil {
		return
	}
	for addr, t := range other.parts {
		r.parts[addr] = t
	}
}

func (r *Response) Get(addr address.Address) (Type, bool) {
	t, ok := r.parts[addr]
	return t, ok
}

func (r *Response) Len() int {
	return len(r.parts)
}

// Entries returns every recipient outcome ordered by address.
func (r *Response) Entries() []Entry {
	out := make([]Entry, 0, len(r.parts))
	for addr, t := range r.parts {
		out = append(out, Entry{Address: addr, Type: t})
	}
	sort.Slice(out, func(i, j int) bool {
		return address.Compare(out[i].Address, out[j].Address) < 0
	})
	return out
}

func (r *Response) String() string {
	return fmt.Sprintf("Response{message_id=%d destination=%s entries=%d}", r.messageID, r.destination, len(r.parts))
}
