// Package report encodes parity reports as CBOR documents, Arrow records and text summaries.
package report

import (
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/23skdu/longbow-parity/internal/parity"
)

// Document is the serialized form of a parity.Report. Errors are flattened to their messages.
type Document struct {
	Reference string         `cbor:"reference" json:"reference"`
	Target    string         `cbor:"target" json:"target"`
	Seed      uint64         `cbor:"seed" json:"seed"`
	Started   time.Time      `cbor:"started" json:"started"`
	Duration  time.Duration  `cbor:"duration_ns" json:"duration_ns"`
	Summary   parity.Summary `cbor:"summary" json:"summary"`
	Suites    []SuiteDoc     `cbor:"suites" json:"suites"`
}

type SuiteDoc struct {
	Name        string    `cbor:"name" json:"name"`
	Description string    `cbor:"description,omitempty" json:"description,omitempty"`
	Skipped     int       `cbor:"skipped,omitempty" json:"skipped,omitempty"`
	Error       string    `cbor:"error,omitempty" json:"error,omitempty"`
	Cases       []CaseDoc `cbor:"cases" json:"cases"`
}

type CaseDoc struct {
	Index             int               `cbor:"index" json:"index"`
	Params            map[string]string `cbor:"params,omitempty" json:"params,omitempty"`
	Verdict           string            `cbor:"verdict" json:"verdict"`
	Phase             string            `cbor:"phase,omitempty" json:"phase,omitempty"`
	MaxAbsDiff        float64           `cbor:"max_abs_diff" json:"max_abs_diff"`
	ForwardMaxAbsDiff float64           `cbor:"forward_max_abs_diff,omitempty" json:"forward_max_abs_diff,omitempty"`
	Output            int               `cbor:"output" json:"output"`
	Position          []int             `cbor:"position,omitempty" json:"position,omitempty"`
	Reference         float64           `cbor:"reference,omitempty" json:"reference,omitempty"`
	Candidate         float64           `cbor:"candidate,omitempty" json:"candidate,omitempty"`
	Error             string            `cbor:"error,omitempty" json:"error,omitempty"`
	Duration          time.Duration     `cbor:"duration_ns" json:"duration_ns"`
}

// NewDocument flattens rep.
func NewDocument(rep *parity.Report) *Document {
	doc := &Document{
		Reference: rep.Reference,
		Target:    rep.Target,
		Seed:      rep.Seed,
		Started:   rep.Started,
		Duration:  rep.Duration,
		Summary:   rep.Summary(),
		Suites:    make([]SuiteDoc, len(rep.Suites)),
	}
	for i, sr := range rep.Suites {
		sd := SuiteDoc{
			Name:        sr.Suite,
			Description: sr.Description,
			Skipped:     sr.Skipped,
			Error:       sr.Err,
			Cases:       make([]CaseDoc, len(sr.Results)),
		}
		for j, res := range sr.Results {
			cd := CaseDoc{
				Index:             res.Case.Index,
				Params:            res.Case.Params(),
				Verdict:           res.Verdict.String(),
				Phase:             string(res.Phase),
				MaxAbsDiff:        res.MaxAbsDiff,
				ForwardMaxAbsDiff: res.ForwardMaxAbsDiff,
				Output:            res.Output,
				Position:          res.Index,
				Reference:         res.Reference,
				Candidate:         res.Candidate,
				Duration:          res.Duration,
			}
			if res.Err != nil {
				cd.Error = res.Err.Error()
			}
			sd.Cases[j] = cd
		}
		doc.Suites[i] = sd
	}
	return doc
}

var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{
		Sort:       cbor.SortCanonical,
		Time:       cbor.TimeRFC3339Nano,
		NaNConvert: cbor.NaNConvertNone,
		InfConvert: cbor.InfConvertNone,
	}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// EncodeCBOR serializes rep.
func EncodeCBOR(rep *parity.Report) ([]byte, error) {
	b, err := encMode.Marshal(NewDocument(rep))
	return b, errors.Wrap(err, "encode report")
}

// WriteCBOR streams rep to w.
func WriteCBOR(w io.Writer, rep *parity.Report) error {
	return errors.Wrap(encMode.NewEncoder(w).Encode(NewDocument(rep)), "encode report")
}

// DecodeCBOR parses a document produced by EncodeCBOR.
func DecodeCBOR(data []byte) (*Document, error) {
	var doc Document
	if err := cbor.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decode report")
	}
	return &doc, nil
}

// Failures returns the non-passing cases of the document, keyed by suite.
func (d *Document) Failures() map[string][]CaseDoc {
	out := map[string][]CaseDoc{}
	for _, s := range d.Suites {
		for _, c := range s.Cases {
			if c.Verdict != parity.Pass.String() {
				out[s.Name] = append(out[s.Name], c)
			}
		}
	}
	return out
}
