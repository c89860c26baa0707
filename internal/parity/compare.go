package parity

import (
	"fmt"
	"math"
	"time"

	"github.com/23skdu/longbow-parity/internal/tensor"
)

// OutputSet is the host copy of an execution's outputs, one buffer per output position.
// A nil entry marks a position with no value, such as the gradient of an index operand.
type OutputSet []*tensor.Buffer

// Verdict classifies a case outcome.
type Verdict int

const (
	Pass Verdict = iota
	ToleranceViolation
	StructuralMismatch
	Unsupported
	SynthesisFailure
	ExecutionFailure
)

var verdictNames = [...]string{
	Pass:               "pass",
	ToleranceViolation: "tolerance_violation",
	StructuralMismatch: "structural_mismatch",
	Unsupported:        "unsupported",
	SynthesisFailure:   "synthesis_error",
	ExecutionFailure:   "execution_error",
}

func (v Verdict) String() string {
	if int(v) >= 0 && int(v) < len(verdictNames) {
		return verdictNames[v]
	}
	return fmt.Sprintf("Verdict(%d)", int(v))
}

// Phase names the stage of a case a result refers to.
type Phase string

const (
	PhaseForward  Phase = "forward"
	PhaseBackward Phase = "backward"
)

// ComparisonResult is the outcome of one case.
type ComparisonResult struct {
	Suite   string
	Case    Case
	Verdict Verdict
	Phase   Phase

	// MaxAbsDiff is the largest |reference - candidate| seen over the elements of Phase.
	MaxAbsDiff float64

	// ForwardMaxAbsDiff keeps the forward deviation of a case that went on to compare gradients.
	ForwardMaxAbsDiff float64

	// Location of the reported deviation: the worst violation on failure, the largest
	// deviation otherwise.
	Output    int
	Index     []int
	Reference float64
	Candidate float64

	Err      error
	Duration time.Duration
}

// Passed reports whether the case passed.
func (r ComparisonResult) Passed() bool { return r.Verdict == Pass }

// Compare checks candidate against reference position by position. Any difference in output
// count, shape or kind is a structural mismatch and stops the comparison before numeric checks.
// NaN matches NaN and an infinity matches the same infinity.
func Compare(reference, candidate OutputSet, tol ToleranceSpec) ComparisonResult {
	if len(reference) != len(candidate) {
		return structural(-1, "output count", fmt.Sprint(len(reference)), fmt.Sprint(len(candidate)))
	}
	for i := range reference {
		ref, cand := reference[i], candidate[i]
		switch {
		case ref == nil && cand == nil:
			continue
		case ref == nil || cand == nil:
			return structural(i, "presence", present(ref), present(cand))
		case !ref.Shape().Equal(cand.Shape()):
			return structural(i, "shape", ref.Shape().String(), cand.Shape().String())
		case ref.Kind() != cand.Kind():
			return structural(i, "kind", ref.Kind().String(), cand.Kind().String())
		}
	}

	res := ComparisonResult{Verdict: Pass, Output: -1}
	var worst *ToleranceViolationError
	violations := 0
	for i := range reference {
		ref, cand := reference[i], candidate[i]
		if ref == nil {
			continue
		}
		t := tol.For(ref.Kind())
		rd, cd := ref.Data(), cand.Data()
		for j := range rd {
			a, b := rd[j], cd[j]
			if sameSpecial(a, b) {
				continue
			}
			diff := math.Abs(a - b)
			if math.IsNaN(diff) {
				diff = math.Inf(1)
			}
			if diff > res.MaxAbsDiff || res.Output < 0 {
				res.MaxAbsDiff = diff
				if worst == nil {
					res.Output, res.Index, res.Reference, res.Candidate = i, ref.Shape().Unravel(j), a, b
				}
			}
			if t.Allows(a, b) {
				continue
			}
			violations++
			if worst == nil || diff > worst.AbsDiff {
				worst = &ToleranceViolationError{Output: i, Index: ref.Shape().Unravel(j), Reference: a, Candidate: b, AbsDiff: diff, Tolerance: t}
				res.Output, res.Index, res.Reference, res.Candidate = i, worst.Index, a, b
			}
		}
	}
	if worst != nil {
		worst.Violations = violations
		res.Verdict = ToleranceViolation
		res.Err = worst
	}
	return res
}

func structural(output int, what, ref, cand string) ComparisonResult {
	return ComparisonResult{
		Verdict: StructuralMismatch,
		Output:  output,
		Err:     &StructuralMismatchError{Output: output, What: what, Reference: ref, Candidate: cand},
	}
}

func present(b *tensor.Buffer) string {
	if b == nil {
		return "absent"
	}
	return "present"
}

func sameSpecial(a, b float64) bool {
	if math.IsNaN(a) && math.IsNaN(b) {
		return true
	}
	return math.IsInf(a, 0) && a == b
}
