package scope

import (
	"errors"
	"fmt"

	"github.com/roach88/diagrun/internal/ir"
)

// ProtocolErrorCode categorizes scope protocol violations.
type ProtocolErrorCode string

const (
	// ErrCodeRunAlreadyOpen indicates a second run was entered while one is open.
	ErrCodeRunAlreadyOpen ProtocolErrorCode = "RUN_ALREADY_OPEN"

	// ErrCodeParentNotOpen indicates a child was entered under a closed parent,
	// or under a parent that is not the innermost open scope.
	ErrCodeParentNotOpen ProtocolErrorCode = "PARENT_NOT_OPEN"

	// ErrCodeInvalidNesting indicates a child kind that cannot live under its parent.
	ErrCodeInvalidNesting ProtocolErrorCode = "INVALID_NESTING"

	// ErrCodeScopeClosed indicates emission through a handle whose scope has ended.
	ErrCodeScopeClosed ProtocolErrorCode = "SCOPE_CLOSED"

	// ErrCodeChildOpen indicates a scope ended while one of its children was open.
	ErrCodeChildOpen ProtocolErrorCode = "CHILD_OPEN"
)

// ProtocolError is a misuse of the scope hierarchy.
//
// Protocol errors are programming errors: the engine treats them as fatal and
// never retries the operation that produced them.
type ProtocolError struct {
	Code    ProtocolErrorCode
	ScopeID string
	Message string
}

func (e *ProtocolError) Error() string {
	if e.ScopeID != "" {
		return fmt.Sprintf("%s: %s (scope=%s)", e.Code, e.Message, e.ScopeID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsProtocolError reports whether err is, or wraps, a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// OutcomeError ends a scope with an explicit outcome instead of an Error.
//
// A body returns one (via Skip or EndWith) to stop early with, for example,
// a Skip status. The scope records the carried outcome and the error is not
// propagated to the caller.
type OutcomeError struct {
	Outcome ir.Outcome
	Reason  string
}

func (e *OutcomeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("scope ended with %s: %s", e.Outcome, e.Reason)
	}
	return fmt.Sprintf("scope ended with %s", e.Outcome)
}

// Skip ends the current scope with a Skip/NotApplicable outcome.
func Skip(reason string) error {
	return &OutcomeError{Outcome: ir.OutcomeSkip, Reason: reason}
}

// EndWith ends the current scope with the given outcome.
func EndWith(outcome ir.Outcome, reason string) error {
	return &OutcomeError{Outcome: outcome, Reason: reason}
}
