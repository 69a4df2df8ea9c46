package hybrid

import (
	"fmt"

	"github.com/adalundhe/switchback/core/keys"
)

// =============================================================================
// Error Kinds
// =============================================================================

// ErrorKind classifies failures of the hybrid elimination engine.
type ErrorKind int

const (
	// KindOrderingViolation: a discrete key was eliminated while a mixture
	// factor referencing it still carried continuous variables.
	KindOrderingViolation ErrorKind = iota

	// KindCardinalityMismatch: a mixture factor's declared continuous keys
	// disagree with a component factor's keys.
	KindCardinalityMismatch

	// KindInconsistentAssignment: a lookup hit a branch removed by pruning;
	// the assignment is infeasible under the current approximation, not a
	// bug.
	KindInconsistentAssignment

	// KindSingularElimination: the Gaussian system for one discrete branch
	// is rank deficient.
	KindSingularElimination
)

// errorKindNames maps ErrorKind values to their string representations.
var errorKindNames = map[ErrorKind]string{
	KindOrderingViolation:      "ordering_violation",
	KindCardinalityMismatch:    "cardinality_mismatch",
	KindInconsistentAssignment: "inconsistent_assignment",
	KindSingularElimination:    "singular_elimination",
}

// String returns a human-readable name for the error kind.
func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("error_kind(%d)", int(k))
}

// Error is a typed engine failure. Use errors.As plus Kind to distinguish
// infeasibility from construction bugs at the call site.
type Error struct {
	Kind       ErrorKind
	Key        keys.Key        // variable involved, when known
	Assignment keys.Assignment // discrete branch involved, when known
	Detail     string
	Wrapped    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is matches errors carrying the same kind, so sentinel comparisons work.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Kind == e.Kind
}

// ErrKind builds a sentinel for errors.Is comparisons against a kind.
func ErrKind(kind ErrorKind) error {
	return &Error{Kind: kind}
}
