package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-parity/internal/cache"
	"github.com/23skdu/longbow-parity/internal/client"
	"github.com/23skdu/longbow-parity/internal/config"
	"github.com/23skdu/longbow-parity/internal/parity"
	"github.com/23skdu/longbow-parity/internal/report"
	"github.com/23skdu/longbow-parity/internal/suites"
)

var (
	runRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parity_run_requests_total",
		Help: "The total number of /run requests by status code",
	}, []string{"code"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "parity_request_duration_seconds",
		Help:    "Time spent serving /run requests",
		Buckets: prometheus.DefBuckets,
	})
)

// ReportUploader forwards finished reports, typically to a Flight collector.
type ReportUploader interface {
	Upload(ctx context.Context, rep *parity.Report) error
}

// RunRequest is the CBOR body of POST /run. Empty Suites runs the whole catalog; a zero Seed
// keeps the configured one.
type RunRequest struct {
	Suites   []string `cbor:"suites,omitempty"`
	Seed     uint64   `cbor:"seed,omitempty"`
	FailFast bool     `cbor:"fail_fast,omitempty"`
}

// SuiteInfo is one entry of GET /suites.
type SuiteInfo struct {
	Name        string `cbor:"name"`
	Description string `cbor:"description"`
	Cases       int    `cbor:"cases"`
}

type Server struct {
	cfg              parity.Config
	allowUnsupported bool
	cache            cache.OutputCache
	uploader         ReportUploader
	sem              *semaphore.Weighted
	logger           zerolog.Logger
}

// defaultCacheEntries bounds the reference outputs a server keeps across requests.
const defaultCacheEntries = 4096

type ServerOption func(*Server)

// WithOutputCache replaces the server's bounded reference output cache.
func WithOutputCache(c cache.OutputCache) ServerOption { return func(s *Server) { s.cache = c } }

func NewServer(cfg parity.Config, uploader ReportUploader, maxConcurrent int, allowUnsupported bool, opts ...ServerOption) *Server {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	s := &Server{
		cfg:              cfg,
		allowUnsupported: allowUnsupported,
		uploader:         uploader,
		sem:              semaphore.NewWeighted(int64(maxConcurrent)),
		logger:           log.Logger,
	}
	for _, o := range opts {
		o(s)
	}
	if s.cache == nil {
		lc, err := cache.NewLRUCache(defaultCacheEntries)
		if err != nil {
			panic(err)
		}
		s.cache = lc
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/run", s.handleRun)
	mux.HandleFunc("/suites", s.handleSuites)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

var tracer = otel.Tracer("parity-server")

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleRun")
	defer span.End()

	start := time.Now()
	code := http.StatusOK
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
		runRequests.WithLabelValues(strconv.Itoa(code)).Inc()
	}()
	fail := func(status int, msg string) {
		code = status
		http.Error(w, msg, status)
	}

	if r.Method != http.MethodPost {
		fail(http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req RunRequest
	if err := cbor.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		span.RecordError(err)
		fail(http.StatusBadRequest, fmt.Sprintf("Bad Request (CBOR decode): %v", err))
		return
	}

	selected, err := suites.Select(req.Suites...)
	if err != nil {
		span.RecordError(err)
		fail(http.StatusBadRequest, err.Error())
		return
	}

	// Admission Control
	if !s.sem.TryAcquire(1) {
		s.logger.Warn().Msg("Rejecting run, all slots busy")
		fail(http.StatusServiceUnavailable, "Server busy")
		return
	}
	defer s.sem.Release(1)

	cfg := s.cfg
	if req.Seed != 0 {
		cfg.Seed = req.Seed
	}
	cfg.FailFast = cfg.FailFast || req.FailFast

	h := parity.New(cfg, parity.WithLogger(s.logger), parity.WithCache(s.cache))
	rep := parity.NewRunner(h).Run(ctx, selected)
	sum := rep.Summary()
	span.SetAttributes(
		attribute.Int("suite_count", sum.Suites),
		attribute.Int("case_count", sum.Total),
		attribute.Int("failed", sum.Failed),
	)

	if s.uploader != nil {
		if err := s.uploader.Upload(ctx, rep); err != nil {
			s.logger.Error().Err(err).Msg("Error forwarding report to collector")
		}
	}

	data, err := report.EncodeCBOR(rep)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode report")
		fail(http.StatusInternalServerError, err.Error())
		return
	}

	ok := sum.OK(s.allowUnsupported)
	w.Header().Set("Content-Type", "application/cbor")
	w.Header().Set("X-Parity-OK", strconv.FormatBool(ok))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleSuites(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	all := suites.All()
	out := make([]SuiteInfo, len(all))
	for i, s := range all {
		out[i] = SuiteInfo{Name: s.Name, Description: s.Description, Cases: s.Matrix.Len()}
	}
	data, err := cbor.Marshal(out)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/cbor")
	_, _ = w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "serve",
		Short:        "Serve parity runs over HTTP",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return startServer(ctx, activeCfg)
		},
	}
}

// startServer serves HTTP until ctx is done. With a collector address it also runs a Flight
// collector; with a Flight address finished reports are uploaded there.
func startServer(ctx context.Context, cfg config.Config) error {
	pc, err := cfg.Parity()
	if err != nil {
		return err
	}

	if cfg.Server.CollectorAddr != "" {
		collector, _, err := StartCollector(cfg.Server.CollectorAddr)
		if err != nil {
			return err
		}
		defer collector.Shutdown()
	}

	var uploader ReportUploader
	if cfg.Report.FlightAddr != "" {
		fc, err := client.NewFlightClient(cfg.Report.FlightAddr)
		if err != nil {
			return err
		}
		defer func() { _ = fc.Close() }()
		log.Info().Str("addr", cfg.Report.FlightAddr).Str("dataset", cfg.Report.Dataset).Msg("Forwarding reports to Flight collector")
		uploader = client.NewUploader(fc, cfg.Report.Dataset, nil, log.Logger)
	}

	outputs, err := cache.NewLRUCache(cfg.Server.CacheEntries)
	if err != nil {
		return err
	}
	srv := NewServer(pc, uploader, cfg.Server.MaxConcurrent, cfg.Harness.AllowUnsupported, WithOutputCache(outputs))
	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.ListenAddr).Msg("Starting Parity Server")
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	log.Info().Msg("Shutting down Parity Server")
	return httpSrv.Shutdown(shutdownCtx)
}
