package client

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/23skdu/longbow-parity/internal/parity"
	"github.com/23skdu/longbow-parity/internal/report"
)

var uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "parity_report_uploads_total",
	Help: "Report uploads to the Flight collector by result",
}, []string{"result"})

// Putter is the part of FlightClient the uploader needs.
type Putter interface {
	DoPut(ctx context.Context, dataset string, record arrow.RecordBatch) error
}

// Uploader sends parity reports to a collector dataset, one row per case.
type Uploader struct {
	put     Putter
	dataset string
	breaker *CircuitBreaker
	builder *report.RecordBuilder
	logger  zerolog.Logger
}

func NewUploader(put Putter, dataset string, breaker *CircuitBreaker, logger zerolog.Logger) *Uploader {
	if breaker == nil {
		breaker = NewCircuitBreaker(3, defaultBreakerTimeout)
	}
	return &Uploader{
		put:     put,
		dataset: dataset,
		breaker: breaker,
		builder: report.NewRecordBuilder(memory.NewGoAllocator()),
		logger:  logger,
	}
}

// Upload sends rep. A report without case results is not sent. While the breaker is open the
// upload fails fast with ErrCircuitOpen.
func (u *Uploader) Upload(ctx context.Context, rep *parity.Report) error {
	rec, err := u.builder.Build(rep)
	if err != nil {
		return errors.Wrap(err, "build report record")
	}
	if rec == nil {
		return nil
	}
	defer rec.Release()

	err = u.breaker.Do(func() error { return u.put.DoPut(ctx, u.dataset, rec) })
	switch {
	case errors.Is(err, ErrCircuitOpen):
		uploadsTotal.WithLabelValues("rejected").Inc()
		u.logger.Warn().Str("dataset", u.dataset).Msg("Collector circuit open, report not uploaded")
		return err
	case err != nil:
		uploadsTotal.WithLabelValues("error").Inc()
		u.logger.Error().Err(err).Str("dataset", u.dataset).Str("breaker", u.breaker.State().String()).Msg("Report upload failed")
		return err
	}
	uploadsTotal.WithLabelValues("ok").Inc()
	u.logger.Info().Str("dataset", u.dataset).Int64("rows", rec.NumRows()).Msg("Uploaded report")
	return nil
}
