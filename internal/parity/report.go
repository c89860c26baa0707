package parity

import "time"

// SuiteReport holds the results of one suite in enumeration order.
type SuiteReport struct {
	Suite       string
	Description string
	Results     []ComparisonResult

	// Skipped counts cases never started because the run stopped early.
	Skipped int

	// Err is set when the suite itself is malformed and produced no cases.
	Err string
}

// Report is the outcome of a run over several suites.
type Report struct {
	Reference string
	Target    string
	Seed      uint64
	Started   time.Time
	Duration  time.Duration
	Suites    []SuiteReport
}

// Summary counts case outcomes. A case either passes or fails; failures are broken down by verdict.
type Summary struct {
	Suites      int `cbor:"suites" json:"suites"`
	Total       int `cbor:"total" json:"total"`
	Passed      int `cbor:"passed" json:"passed"`
	Failed      int `cbor:"failed" json:"failed"`
	Skipped     int `cbor:"skipped" json:"skipped"`
	Tolerance   int `cbor:"tolerance_violations" json:"tolerance_violations"`
	Structural  int `cbor:"structural_mismatches" json:"structural_mismatches"`
	Unsupported int `cbor:"unsupported" json:"unsupported"`
	Synthesis   int `cbor:"synthesis_errors" json:"synthesis_errors"`
	Execution   int `cbor:"execution_errors" json:"execution_errors"`
	Malformed   int `cbor:"malformed_suites" json:"malformed_suites"`
}

func (s *Summary) add(r ComparisonResult) {
	s.Total++
	switch r.Verdict {
	case Pass:
		s.Passed++
		return
	case ToleranceViolation:
		s.Tolerance++
	case StructuralMismatch:
		s.Structural++
	case Unsupported:
		s.Unsupported++
	case SynthesisFailure:
		s.Synthesis++
	case ExecutionFailure:
		s.Execution++
	}
	s.Failed++
}

// Summary aggregates the suite.
func (r SuiteReport) Summary() Summary {
	s := Summary{Suites: 1, Skipped: r.Skipped}
	if r.Err != "" {
		s.Malformed++
	}
	for _, res := range r.Results {
		s.add(res)
	}
	return s
}

// Summary aggregates every suite of the report.
func (r *Report) Summary() Summary {
	var s Summary
	for _, sr := range r.Suites {
		ss := sr.Summary()
		s.Suites++
		s.Total += ss.Total
		s.Passed += ss.Passed
		s.Failed += ss.Failed
		s.Skipped += ss.Skipped
		s.Tolerance += ss.Tolerance
		s.Structural += ss.Structural
		s.Unsupported += ss.Unsupported
		s.Synthesis += ss.Synthesis
		s.Execution += ss.Execution
		s.Malformed += ss.Malformed
	}
	return s
}

// OK reports whether every case passed. With allowUnsupported, cases the target does not
// implement are not counted against the run.
func (s Summary) OK(allowUnsupported bool) bool {
	failed := s.Failed
	if allowUnsupported {
		failed -= s.Unsupported
	}
	return failed == 0 && s.Malformed == 0 && s.Skipped == 0
}

// Failures returns every non-passing result of the report.
func (r *Report) Failures() []ComparisonResult {
	var out []ComparisonResult
	for _, sr := range r.Suites {
		for _, res := range sr.Results {
			if !res.Passed() {
				out = append(out, res)
			}
		}
	}
	return out
}
