package parity

import (
	"fmt"

	"github.com/23skdu/longbow-parity/internal/tensor"
)

// UnsupportedOperationError reports that a backend has no implementation for an operation,
// element kind or shape. It is an expected outcome for a backend under development and is kept
// apart from numeric failures.
type UnsupportedOperationError struct {
	Backend string
	Op      string
	Kind    tensor.Kind
	Err     error
}

func (e *UnsupportedOperationError) Error() string {
	msg := fmt.Sprintf("%s does not support %s", e.Backend, e.Op)
	if e.Kind != tensor.Invalid {
		msg += " for " + e.Kind.String()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UnsupportedOperationError) Unwrap() error { return e.Err }

// BackendExecutionError is any other failure while uploading, launching or reading back.
type BackendExecutionError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendExecutionError) Error() string {
	return fmt.Sprintf("%s failed executing %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendExecutionError) Unwrap() error { return e.Err }

// StructuralMismatchError reports outputs that differ in count, shape or kind. No numeric
// comparison is attempted once one is found.
type StructuralMismatchError struct {
	Output    int
	What      string
	Reference string
	Candidate string
}

func (e *StructuralMismatchError) Error() string {
	if e.Output < 0 {
		return fmt.Sprintf("%s differs: reference %s, candidate %s", e.What, e.Reference, e.Candidate)
	}
	return fmt.Sprintf("output %d: %s differs: reference %s, candidate %s", e.Output, e.What, e.Reference, e.Candidate)
}

// ToleranceViolationError carries the largest violating deviation and where it occurred.
type ToleranceViolationError struct {
	Output     int
	Index      []int
	Reference  float64
	Candidate  float64
	AbsDiff    float64
	Tolerance  Tolerance
	Violations int
}

func (e *ToleranceViolationError) Error() string {
	return fmt.Sprintf("output %d at %v: reference %g, candidate %g, |diff| %g exceeds atol %g + rtol %g (%d elements out of tolerance)",
		e.Output, e.Index, e.Reference, e.Candidate, e.AbsDiff, e.Tolerance.Atol, e.Tolerance.Rtol, e.Violations)
}

// SynthesisError reports an operand that could not be generated or that violates its own
// constraints, such as an index outside the operand it addresses.
type SynthesisError struct {
	Operand string
	Err     error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesizing operand %s: %v", e.Operand, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }
