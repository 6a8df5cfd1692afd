package solver

import "fmt"

// Kind classifies solver errors.
type Kind int

const (
	// KindDimension is a structural mismatch between the problem size and
	// bounds, constraint matrices, or an attached penalty. Detected at
	// configuration time, never mid-solve.
	KindDimension Kind = iota + 1
	// KindEvaluation is an objective or constraint callable that returned an
	// error or a non-finite value during a solve.
	KindEvaluation
	// KindConvergence is a subproblem failure: an infeasible linearization
	// or a singular quadratic subproblem.
	KindConvergence
	// KindBudget is an exhausted evaluation budget. It terminates the solve
	// normally and is carried on the result as a diagnostic, not raised.
	KindBudget
)

// String returns a human-readable name for the error kind.
func (k Kind) String() string {
	switch k {
	case KindDimension:
		return "dimension"
	case KindEvaluation:
		return "evaluation"
	case KindConvergence:
		return "convergence"
	case KindBudget:
		return "budget"
	}
	return "unknown"
}

// Error is a solver error carrying its classification and optional
// operation context.
type Error struct {
	// Kind classifies the error.
	Kind Kind
	// Message describes the error that occurred.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Err is the underlying error that triggered this one, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// NewDimensionError creates a configuration-time dimension mismatch error.
func NewDimensionError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindDimension, Message: fmt.Sprintf(format, args...)}
}

// NewEvaluationError creates an error for a failed or non-finite function
// evaluation. If err is nil the message stands alone.
func NewEvaluationError(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindEvaluation, Message: fmt.Sprintf(format, args...), Err: err}
}

// NewConvergenceError creates an error for a failed quadratic subproblem.
func NewConvergenceError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConvergence, Message: fmt.Sprintf(format, args...)}
}

// NewBudgetError creates an error for an exhausted evaluation budget.
func NewBudgetError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindBudget, Message: fmt.Sprintf(format, args...)}
}

// AsError returns the error as a solver *Error if it is one.
func AsError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	if e, ok := err.(*Error); ok {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err is a solver error of the given kind.
func IsKind(err error, k Kind) bool {
	e, ok := AsError(err)
	return ok && e.Kind == k
}
