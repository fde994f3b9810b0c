package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/simctl/internal/protocol/address"
)

var (
	// ErrInterrupted marks a write that was abandoned because the caller is
	// shutting down.
	ErrInterrupted = errors.New("protocol: interrupted")
	ErrNoRecipient = errors.New("protocol: no recipient for address")
	ErrClosed      = errors.New("protocol: connector closed")
)

// Error is a transport failure for one write.
type Error struct {
	Target address.Address
	Op     string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("protocol: %s to %s: %v", e.Op, e.Target, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err as a transport failure. Context cancellation is
// folded into ErrInterrupted so callers test a single sentinel.
func NewError(target address.Address, op string, err error) *Error {
	if errors.Is(err, context.Canceled) && !errors.Is(err, ErrInterrupted) {
		err = fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	return &Error{Target: target, Op: op, Err: err}
}

// IsInterrupted reports whether err was caused by an interruption.
func IsInterrupted(err error) bool {
	return errors.Is(err, ErrInterrupted) || errors.Is(err, context.Canceled)
}
