package coordinator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/simctl/internal/protocol/address"
	"github.com/danmuck/simctl/internal/protocol/response"
	"github.com/hashicorp/go-multierror"
)

// OutcomeError is one recipient that answered with a non-accepted outcome.
type OutcomeError struct {
	Address address.Address
	Type    response.Type
}

func (e *OutcomeError) Error() string {
	return fmt.Sprintf("%s answered %s", e.Address, e.Type)
}

// FatalError ends the run: a dispatch failed in transport or at least one
// recipient reported a failure outcome.
type FatalError struct {
	Op     string
	Target address.Address
	Err    error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("coordinator: %s to %s failed: %v", e.Op, e.Target, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Outcomes lists the offending recipients; empty for transport failures.
func (e *FatalError) Outcomes() []*OutcomeError {
	var merr *multierror.Error
	if !errors.As(e.Err, &merr) {
		var single *OutcomeError
		if errors.As(e.Err, &single) {
			return []*OutcomeError{single}
		}
		return nil
	}
	out := make([]*OutcomeError, 0, len(merr.Errors))
	for _, err := range merr.Errors {
		var oe *OutcomeError
		if errors.As(err, &oe) {
			out = append(out, oe)
		}
	}
	return out
}

// IsFatal reports whether err carries a *FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

func outcomeErrorFormat(errs []error) string {
	parts := make([]string, 0, len(errs))
	for _, err := range errs {
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("%d failure outcome(s): %s", len(errs), strings.Join(parts, "; "))
}
