package main

import (
	"sync"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/23skdu/longbow-parity/internal/report"
)

var collectedRows = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "parity_collected_rows_total",
	Help: "Report rows received by the Flight collector",
}, []string{"dataset", "verdict"})

// ReportCollector is a Flight service that receives uploaded parity reports. It keeps the rows
// of the latest upload per dataset.
type ReportCollector struct {
	flight.BaseFlightServer
	alloc memory.Allocator

	mu     sync.Mutex
	latest map[string][]report.Row
}

func NewReportCollector() *ReportCollector {
	return &ReportCollector{
		alloc:  memory.NewGoAllocator(),
		latest: make(map[string][]report.Row),
	}
}

func (s *ReportCollector) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	return errors.New("DoExchange not implemented")
}

func (s *ReportCollector) DoPut(stream flight.FlightService_DoPutServer) error {
	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.alloc))
	if err != nil {
		return err
	}
	defer reader.Release()

	dataset := "default"
	if path := reader.LatestFlightDescriptor().GetPath(); len(path) > 0 {
		dataset = path[0]
	}

	if !reader.Schema().Equal(report.Schema) {
		log.Warn().Str("dataset", dataset).Str("schema", reader.Schema().String()).Msg("DoPut rejected, not a report")
		return status.Errorf(codes.InvalidArgument, "dataset %s: %v", dataset, report.ErrSchemaMismatch)
	}

	var rows []report.Row
	for reader.Next() {
		rec := reader.Record()
		log.Info().Str("dataset", dataset).Int64("rows", rec.NumRows()).Msg("DoPut received batch")
		batch, err := report.Rows(rec)
		if err != nil {
			return status.Error(codes.InvalidArgument, err.Error())
		}
		rows = append(rows, batch...)
	}
	if err := reader.Err(); err != nil {
		return err
	}

	for _, row := range rows {
		collectedRows.WithLabelValues(dataset, row.Verdict).Inc()
		if row.Verdict != "pass" {
			log.Warn().Str("dataset", dataset).Str("suite", row.Suite).Int("case", row.Case).
				Str("verdict", row.Verdict).Str("error", row.Error).Msg("Collected failing case")
		}
	}

	s.mu.Lock()
	s.latest[dataset] = rows
	s.mu.Unlock()
	return nil
}

// Latest returns the rows of the last upload to dataset.
func (s *ReportCollector) Latest(dataset string) []report.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest[dataset]
}

// StartCollector listens on addr and serves a ReportCollector in the background.
func StartCollector(addr string) (flight.Server, *ReportCollector, error) {
	collector := NewReportCollector()
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(collector)

	if err := server.Init(addr); err != nil {
		return nil, nil, errors.Wrap(err, "init Flight collector")
	}

	log.Info().Str("addr", server.Addr().String()).Msg("Starting Flight collector")
	go func() {
		if err := server.Serve(); err != nil {
			log.Error().Err(err).Msg("Flight collector failed")
		}
	}()
	return server, collector, nil
}
