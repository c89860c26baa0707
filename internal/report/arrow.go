package report

import (
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pkg/errors"

	"github.com/23skdu/longbow-parity/internal/parity"
)

// Schema is the columnar layout of case results, one row per case.
var Schema = arrow.NewSchema(
	[]arrow.Field{
		{Name: "suite", Type: arrow.BinaryTypes.String},
		{Name: "case", Type: arrow.PrimitiveTypes.Int32},
		{Name: "params", Type: arrow.BinaryTypes.String},
		{Name: "verdict", Type: arrow.BinaryTypes.String},
		{Name: "phase", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "max_abs_diff", Type: arrow.PrimitiveTypes.Float64},
		{Name: "output", Type: arrow.PrimitiveTypes.Int32},
		{Name: "index", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
		{Name: "reference", Type: arrow.PrimitiveTypes.Float64},
		{Name: "candidate", Type: arrow.PrimitiveTypes.Float64},
		{Name: "error", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "duration_ns", Type: arrow.PrimitiveTypes.Int64},
	},
	nil,
)

// RecordBuilder converts reports into Arrow record batches.
type RecordBuilder struct {
	mem memory.Allocator
}

func NewRecordBuilder(mem memory.Allocator) *RecordBuilder {
	return &RecordBuilder{mem: mem}
}

// Build returns one row per case result of rep, or nil when rep has no results. The caller
// releases the record.
func (b *RecordBuilder) Build(rep *parity.Report) (arrow.RecordBatch, error) {
	rows := 0
	for _, sr := range rep.Suites {
		rows += len(sr.Results)
	}
	if rows == 0 {
		return nil, nil
	}

	rb := array.NewRecordBuilder(b.mem, Schema)
	defer rb.Release()

	suite := rb.Field(0).(*array.StringBuilder)
	idx := rb.Field(1).(*array.Int32Builder)
	params := rb.Field(2).(*array.StringBuilder)
	verdict := rb.Field(3).(*array.StringBuilder)
	phase := rb.Field(4).(*array.StringBuilder)
	diff := rb.Field(5).(*array.Float64Builder)
	output := rb.Field(6).(*array.Int32Builder)
	index := rb.Field(7).(*array.ListBuilder)
	indexValues := index.ValueBuilder().(*array.Int32Builder)
	ref := rb.Field(8).(*array.Float64Builder)
	cand := rb.Field(9).(*array.Float64Builder)
	errs := rb.Field(10).(*array.StringBuilder)
	dur := rb.Field(11).(*array.Int64Builder)

	for _, sr := range rep.Suites {
		for _, res := range sr.Results {
			suite.Append(sr.Suite)
			idx.Append(int32(res.Case.Index))
			params.Append(res.Case.String())
			verdict.Append(res.Verdict.String())
			if res.Phase == "" {
				phase.AppendNull()
			} else {
				phase.Append(string(res.Phase))
			}
			diff.Append(res.MaxAbsDiff)
			output.Append(int32(res.Output))
			index.Append(true)
			for _, i := range res.Index {
				indexValues.Append(int32(i))
			}
			ref.Append(res.Reference)
			cand.Append(res.Candidate)
			if res.Err == nil {
				errs.AppendNull()
			} else {
				errs.Append(res.Err.Error())
			}
			dur.Append(res.Duration.Nanoseconds())
		}
	}
	return rb.NewRecord(), nil
}

// WriteIPC writes rec as an Arrow IPC stream.
func WriteIPC(w io.Writer, rec arrow.RecordBatch) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

// Row is a decoded record row.
type Row struct {
	Suite    string
	Case     int
	Verdict  string
	Error    string
	Duration time.Duration
}

// ReadIPC decodes the rows of every record in an IPC stream written by WriteIPC.
func ReadIPC(r io.Reader, mem memory.Allocator) ([]Row, error) {
	reader, err := ipc.NewReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return nil, err
	}
	defer reader.Release()

	var rows []Row
	for reader.Next() {
		batch, err := Rows(reader.Record())
		if err != nil {
			return nil, err
		}
		rows = append(rows, batch...)
	}
	return rows, reader.Err()
}

// ErrSchemaMismatch is returned by Rows for a record that was not built by RecordBuilder.
var ErrSchemaMismatch = errors.New("record does not have the report schema")

// Rows decodes the identifying columns of a record built by RecordBuilder.
func Rows(rec arrow.RecordBatch) ([]Row, error) {
	if !rec.Schema().Equal(Schema) {
		return nil, errors.Wrapf(ErrSchemaMismatch, "got %s", rec.Schema())
	}
	suite := rec.Column(0).(*array.String)
	idx := rec.Column(1).(*array.Int32)
	verdict := rec.Column(3).(*array.String)
	errs := rec.Column(10).(*array.String)
	dur := rec.Column(11).(*array.Int64)

	rows := make([]Row, rec.NumRows())
	for i := range rows {
		rows[i] = Row{
			Suite:    suite.Value(i),
			Case:     int(idx.Value(i)),
			Verdict:  verdict.Value(i),
			Duration: time.Duration(dur.Value(i)),
		}
		if errs.IsValid(i) {
			rows[i].Error = errs.Value(i)
		}
	}
	return rows, nil
}
