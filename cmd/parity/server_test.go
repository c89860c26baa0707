package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/23skdu/longbow-parity/internal/cache"
	"github.com/23skdu/longbow-parity/internal/client"
	"github.com/23skdu/longbow-parity/internal/parity"
	"github.com/23skdu/longbow-parity/internal/report"
	"github.com/23skdu/longbow-parity/internal/suites"
)

type mockUploader struct {
	mock.Mock
}

func (m *mockUploader) Upload(ctx context.Context, rep *parity.Report) error {
	args := m.Called(ctx, rep)
	return args.Error(0)
}

func postRun(t *testing.T, h http.Handler, req RunRequest) *httptest.ResponseRecorder {
	t.Helper()
	data, err := cbor.Marshal(req)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, "/run", bytes.NewReader(data))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, r)
	return rr
}

func TestServer_Run(t *testing.T) {
	mu := &mockUploader{}
	srv := NewServer(parity.DefaultConfig(), mu, 1, false)
	h := srv.Handler()

	t.Run("Run with forwarding", func(t *testing.T) {
		mu.On("Upload", mock.Anything, mock.MatchedBy(func(rep *parity.Report) bool {
			return rep.Seed == 3 && len(rep.Suites) == 1
		})).Return(nil).Once()

		rr := postRun(t, h, RunRequest{Suites: []string{"add"}, Seed: 3})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, "application/cbor", rr.Header().Get("Content-Type"))
		assert.Equal(t, "true", rr.Header().Get("X-Parity-OK"))

		doc, err := report.DecodeCBOR(rr.Body.Bytes())
		require.NoError(t, err)
		assert.Equal(t, uint64(3), doc.Seed)
		assert.Equal(t, suites.Add().Matrix.Len(), doc.Summary.Total)
		assert.Equal(t, doc.Summary.Total, doc.Summary.Passed)
		mu.AssertExpectations(t)
	})

	t.Run("Upload failure does not fail the run", func(t *testing.T) {
		mu.On("Upload", mock.Anything, mock.Anything).Return(errors.New("collector down")).Once()
		rr := postRun(t, h, RunRequest{Suites: []string{"scalar_add"}})
		assert.Equal(t, http.StatusOK, rr.Code)
		mu.AssertExpectations(t)
	})

	t.Run("Unknown suite", func(t *testing.T) {
		rr := postRun(t, h, RunRequest{Suites: []string{"no_such_suite"}})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "unknown suite")
	})

	t.Run("Bad CBOR", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/run", bytes.NewReader([]byte{0xff})))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Method not allowed", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/run", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})

	t.Run("Busy", func(t *testing.T) {
		require.True(t, srv.sem.TryAcquire(1))
		defer srv.sem.Release(1)
		rr := postRun(t, h, RunRequest{Suites: []string{"add"}})
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Contains(t, rr.Body.String(), "Server busy")
	})

	t.Run("Health Check", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "OK", rr.Body.String())
	})

	t.Run("Suites", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/suites", nil))
		require.Equal(t, http.StatusOK, rr.Code)
		var infos []SuiteInfo
		require.NoError(t, cbor.Unmarshal(rr.Body.Bytes(), &infos))
		assert.Len(t, infos, len(suites.All()))
		assert.Equal(t, "add", infos[0].Name)
		assert.Positive(t, infos[0].Cases)
	})
}

func TestServer_OutputCacheIsBounded(t *testing.T) {
	outputs, err := cache.NewLRUCache(3)
	require.NoError(t, err)
	h := NewServer(parity.DefaultConfig(), nil, 1, false, WithOutputCache(outputs)).Handler()

	for seed := uint64(1); seed <= 4; seed++ {
		rr := postRun(t, h, RunRequest{Suites: []string{"scalar_add"}, Seed: seed})
		require.Equal(t, http.StatusOK, rr.Code)
	}
	assert.Equal(t, 3, outputs.Size())
}

func TestServer_RunUnsupportedTarget(t *testing.T) {
	cfg := parity.DefaultConfig()
	cfg.TargetDevice.Unsupported = []string{"add"}

	rr := postRun(t, NewServer(cfg, nil, 1, false).Handler(), RunRequest{Suites: []string{"add"}})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "false", rr.Header().Get("X-Parity-OK"))

	doc, err := report.DecodeCBOR(rr.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, doc.Summary.Total, doc.Summary.Unsupported)

	rr = postRun(t, NewServer(cfg, nil, 1, true).Handler(), RunRequest{Suites: []string{"add"}})
	assert.Equal(t, "true", rr.Header().Get("X-Parity-OK"))
}

func TestReportCollector(t *testing.T) {
	server, collector, err := StartCollector("localhost:0")
	require.NoError(t, err)
	t.Cleanup(server.Shutdown)

	fc, err := client.NewFlightClient(server.Addr().String())
	require.NoError(t, err)
	defer fc.Close()

	cfg := parity.DefaultConfig()
	cfg.TargetDevice.Unsupported = []string{"scalar_add"}
	rep := parity.NewRunner(parity.New(cfg)).Run(context.Background(), []*parity.Suite{suites.ScalarAdd()})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	up := client.NewUploader(fc, "nightly", nil, zerolog.Nop())
	require.NoError(t, up.Upload(ctx, rep))

	rows := collector.Latest("nightly")
	require.Len(t, rows, suites.ScalarAdd().Matrix.Len())
	for _, row := range rows {
		assert.Equal(t, "scalar_add", row.Suite)
		assert.Equal(t, "unsupported", row.Verdict)
	}
	assert.Empty(t, collector.Latest("other"))
}

func TestReportCollector_RejectsForeignSchema(t *testing.T) {
	server, collector, err := StartCollector("localhost:0")
	require.NoError(t, err)
	t.Cleanup(server.Shutdown)

	fc, err := client.NewFlightClient(server.Addr().String())
	require.NoError(t, err)
	defer fc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	schema := arrow.NewSchema([]arrow.Field{{Name: "f1", Type: arrow.PrimitiveTypes.Float32}}, nil)
	b := array.NewFloat32Builder(memory.NewGoAllocator())
	defer b.Release()
	b.AppendValues([]float32{1, 2}, nil)
	a := b.NewArray()
	defer a.Release()
	rec := array.NewRecordBatch(schema, []arrow.Array{a}, 2)
	defer rec.Release()

	err = fc.DoPut(ctx, "foreign", rec)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(errors.Cause(err)))
	assert.Empty(t, collector.Latest("foreign"))

	// the collector keeps serving report uploads
	cfg := parity.DefaultConfig()
	rep := parity.NewRunner(parity.New(cfg)).Run(ctx, []*parity.Suite{suites.ScalarAdd()})
	up := client.NewUploader(fc, "nightly", nil, zerolog.Nop())
	require.NoError(t, up.Upload(ctx, rep))
	assert.Len(t, collector.Latest("nightly"), suites.ScalarAdd().Matrix.Len())
}
