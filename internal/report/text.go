package report

import (
	"io"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/23skdu/longbow-parity/internal/parity"
)

// WriteText prints a per-suite table and the failing cases of rep. Counts are formatted for tag.
func WriteText(w io.Writer, rep *parity.Report, tag language.Tag) error {
	p := message.NewPrinter(tag)
	sum := rep.Summary()

	if _, err := p.Fprintf(w, "parity %s vs %s (seed %d) in %v\n", rep.Reference, rep.Target, rep.Seed, rep.Duration.Round(time.Millisecond)); err != nil {
		return err
	}
	for _, sr := range rep.Suites {
		s := sr.Summary()
		status := "ok"
		switch {
		case sr.Err != "":
			status = "malformed: " + sr.Err
		case s.Failed > 0 || s.Skipped > 0:
			status = "FAIL"
		}
		if _, err := p.Fprintf(w, "  %-28s %7d cases %7d passed %5d failed %5d skipped  %s\n",
			sr.Suite, s.Total, s.Passed, s.Failed, s.Skipped, status); err != nil {
			return err
		}
	}
	for _, res := range rep.Failures() {
		line := []string{"  " + res.Suite, res.Case.String(), res.Verdict.String()}
		if res.Phase != "" {
			line = append(line, "phase="+string(res.Phase))
		}
		if res.Verdict == parity.ToleranceViolation {
			line = append(line, p.Sprintf("output=%d at %v ref=%g cand=%g max_abs_diff=%.3g",
				res.Output, res.Index, res.Reference, res.Candidate, res.MaxAbsDiff))
		}
		if res.Err != nil {
			line = append(line, res.Err.Error())
		}
		if _, err := io.WriteString(w, strings.Join(line, " ")+"\n"); err != nil {
			return err
		}
	}
	_, err := p.Fprintf(w, "%d suites, %d cases: %d passed, %d failed (%d tolerance, %d structural, %d unsupported, %d synthesis, %d execution), %d skipped\n",
		sum.Suites, sum.Total, sum.Passed, sum.Failed, sum.Tolerance, sum.Structural, sum.Unsupported,
		sum.Synthesis, sum.Execution, sum.Skipped)
	return err
}
