package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/sybilwatch/service/db"
	"github.com/brojonat/sybilwatch/service/metrics"
	"github.com/brojonat/sybilwatch/service/registry"
	"github.com/brojonat/sybilwatch/service/sybil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	identityA = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	identityB = "Vote111111111111111111111111111111111111111"
	identityC = "SysvarC1ock11111111111111111111111111111111"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeReports struct {
	report *sybil.Report
	err    error
}

func (f *fakeReports) GetLatestReport(ctx context.Context) (*sybil.Report, error) {
	return f.report, f.err
}

type fakeHistory struct {
	runs      []*db.Run
	records   []*db.ClusterRecord
	err       error
	lastLimit int32
	lastID    string
}

func (f *fakeHistory) ListRuns(ctx context.Context, limit int32) ([]*db.Run, error) {
	f.lastLimit = limit
	return f.runs, f.err
}

func (f *fakeHistory) ListClustersByIdentity(ctx context.Context, identity string, limit int32) ([]*db.ClusterRecord, error) {
	f.lastLimit = limit
	f.lastID = identity
	return f.records, f.err
}

func sampleReport() *sybil.Report {
	return &sybil.Report{
		GeneratedAt:           time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		SnapshotCount:         3,
		FirstSnapshot:         "t1.json",
		LastSnapshot:          "t3.json",
		CandidateCount:        3,
		ClusterCount:          2,
		TotalClusteredStakeUI: 160,
		Candidates:            []*sybil.Candidate{},
		Clusters: []*sybil.Cluster{
			{
				Addresses:        []string{"1.1.1.1"},
				StakedIdentities: []string{identityA, identityB},
				Validators: []*registry.Validator{
					{IdentityPubkey: identityA, ActivatedStakeUI: 100, IPs: []string{"1.1.1.1"}},
					{IdentityPubkey: identityB, ActivatedStakeUI: 50, IPs: []string{"1.1.1.1"}},
				},
				TotalStake:   150_000_000_000,
				TotalStakeUI: 150,
			},
			{
				Addresses:        []string{"2.2.2.2"},
				StakedIdentities: []string{identityC},
				Validators:       []*registry.Validator{{IdentityPubkey: identityC, ActivatedStakeUI: 10, IPs: []string{"2.2.2.2"}}},
				TotalStake:       10_000_000_000,
				TotalStakeUI:     10,
			},
		},
	}
}

func newTestHandler(reports ReportSource, history HistorySource) http.Handler {
	return New(":0", reports, history, nil, nil, quietLogger).Handler()
}

func doGet(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestGetLatestReport(t *testing.T) {
	tests := []struct {
		name           string
		reports        *fakeReports
		target         string
		expectedStatus int
		check          func(t *testing.T, rec *httptest.ResponseRecorder)
	}{
		{
			name:           "full report",
			reports:        &fakeReports{report: sampleReport()},
			target:         "/api/v1/report/latest",
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				var got sybil.Report
				decodeBody(t, rec, &got)
				assert.Equal(t, 2, got.ClusterCount)
				require.Len(t, got.Clusters, 2)
			},
		},
		{
			name:           "summary only",
			reports:        &fakeReports{report: sampleReport()},
			target:         "/api/v1/report/latest?summary=true",
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.NotContains(t, rec.Body.String(), `"clusters"`)
				assert.Contains(t, rec.Body.String(), `"cluster_count":2`)
			},
		},
		{
			name:           "no report yet",
			reports:        &fakeReports{err: db.ErrNoReports},
			target:         "/api/v1/report/latest",
			expectedStatus: http.StatusNotFound,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.Contains(t, rec.Body.String(), "no report available")
			},
		},
		{
			name:           "source failure",
			reports:        &fakeReports{err: errors.New("connection refused")},
			target:         "/api/v1/report/latest",
			expectedStatus: http.StatusInternalServerError,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.NotContains(t, rec.Body.String(), "connection refused")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doGet(t, newTestHandler(tt.reports, nil), tt.target)
			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			tt.check(t, rec)
		})
	}
}

func TestListClusters(t *testing.T) {
	h := newTestHandler(&fakeReports{report: sampleReport()}, nil)

	tests := []struct {
		name           string
		target         string
		expectedStatus int
		expectedTotal  int
		expectedLen    int
	}{
		{name: "all clusters", target: "/api/v1/clusters", expectedStatus: http.StatusOK, expectedTotal: 2, expectedLen: 2},
		{name: "threshold", target: "/api/v1/clusters?min_stake=100", expectedStatus: http.StatusOK, expectedTotal: 1, expectedLen: 1},
		{name: "threshold is inclusive", target: "/api/v1/clusters?min_stake=10", expectedStatus: http.StatusOK, expectedTotal: 2, expectedLen: 2},
		{name: "threshold above all", target: "/api/v1/clusters?min_stake=1000", expectedStatus: http.StatusOK, expectedTotal: 0, expectedLen: 0},
		{name: "limit truncates", target: "/api/v1/clusters?limit=1", expectedStatus: http.StatusOK, expectedTotal: 2, expectedLen: 1},
		{name: "negative threshold", target: "/api/v1/clusters?min_stake=-1", expectedStatus: http.StatusBadRequest},
		{name: "non-numeric threshold", target: "/api/v1/clusters?min_stake=lots", expectedStatus: http.StatusBadRequest},
		{name: "NaN threshold", target: "/api/v1/clusters?min_stake=NaN", expectedStatus: http.StatusBadRequest},
		{name: "zero limit", target: "/api/v1/clusters?limit=0", expectedStatus: http.StatusBadRequest},
		{name: "limit too large", target: "/api/v1/clusters?limit=5000", expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doGet(t, h, tt.target)
			require.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())
			if tt.expectedStatus != http.StatusOK {
				return
			}

			var got clustersResponse
			decodeBody(t, rec, &got)
			assert.Equal(t, tt.expectedTotal, got.Total)
			assert.Len(t, got.Clusters, tt.expectedLen)
		})
	}
}

func TestGetCluster(t *testing.T) {
	h := newTestHandler(&fakeReports{report: sampleReport()}, nil)

	rec := doGet(t, h, "/api/v1/clusters/2")
	require.Equal(t, http.StatusOK, rec.Code)
	var got sybil.Cluster
	decodeBody(t, rec, &got)
	assert.Equal(t, []string{identityC}, got.StakedIdentities)

	for _, target := range []string{"/api/v1/clusters/0", "/api/v1/clusters/abc"} {
		assert.Equal(t, http.StatusBadRequest, doGet(t, h, target).Code, target)
	}
	assert.Equal(t, http.StatusNotFound, doGet(t, h, "/api/v1/clusters/3").Code)
}

func TestListRuns(t *testing.T) {
	history := &fakeHistory{runs: []*db.Run{{ID: 2}, {ID: 1}}}
	h := newTestHandler(&fakeReports{}, history)

	rec := doGet(t, h, "/api/v1/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(defaultRunLimit), history.lastLimit)

	var got struct {
		Runs  []*db.Run `json:"runs"`
		Count int       `json:"count"`
	}
	decodeBody(t, rec, &got)
	assert.Equal(t, 2, got.Count)
	assert.Equal(t, int64(2), got.Runs[0].ID)

	doGet(t, h, "/api/v1/runs?limit=5")
	assert.Equal(t, int32(5), history.lastLimit)

	history.err = errors.New("database down")
	assert.Equal(t, http.StatusInternalServerError, doGet(t, h, "/api/v1/runs").Code)
}

func TestListIdentityClusters(t *testing.T) {
	history := &fakeHistory{records: []*db.ClusterRecord{{RunID: 4, Rank: 1, LeadIdentity: identityA}}}
	h := newTestHandler(&fakeReports{}, history)

	tests := []struct {
		name           string
		identity       string
		expectedStatus int
	}{
		{name: "valid identity", identity: identityB, expectedStatus: http.StatusOK},
		{name: "not base58", identity: "0OIl", expectedStatus: http.StatusBadRequest},
		{name: "wrong length", identity: "abc", expectedStatus: http.StatusBadRequest},
		{name: "too long", identity: strings.Repeat("1", 100), expectedStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doGet(t, h, "/api/v1/identities/"+tt.identity+"/clusters")
			assert.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())
			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, tt.identity, history.lastID)
				assert.Contains(t, rec.Body.String(), `"count":1`)
			}
		})
	}
}

func TestHistoryRoutesDisabledWithoutStore(t *testing.T) {
	h := newTestHandler(&fakeReports{report: sampleReport()}, nil)
	assert.Equal(t, http.StatusNotFound, doGet(t, h, "/api/v1/runs").Code)
}

func TestHealthAndMiddleware(t *testing.T) {
	h := newTestHandler(&fakeReports{}, nil)

	rec := doGet(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/clusters", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMetricsRecordedPerRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	h := New(":0", &fakeReports{report: sampleReport()}, nil, nil, m, quietLogger).Handler()

	doGet(t, h, "/api/v1/clusters/1")
	doGet(t, h, "/api/v1/clusters/9")

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if mf.GetName() != "http_requests_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "handler" {
					assert.Equal(t, "/api/v1/clusters/{rank}", label.GetValue())
					found = true
				}
			}
		}
	}
	assert.True(t, found)
}

func TestDashboardPage(t *testing.T) {
	srv := New(":0", &fakeReports{report: sampleReport()}, nil, nil, nil, quietLogger)
	require.NoError(t, srv.WithTemplates())
	h := srv.Handler()

	rec := doGet(t, h, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), identityC)
	assert.Contains(t, rec.Body.String(), "150.00")

	empty := New(":0", &fakeReports{err: db.ErrNoReports}, nil, nil, nil, quietLogger)
	require.NoError(t, empty.WithTemplates())
	rec = doGet(t, empty.Handler(), "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No report available")

	assert.Equal(t, http.StatusNotFound, doGet(t, h, "/nope").Code)
}

func TestFileReportSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")
	src := FileReportSource{Path: path}

	_, err := src.GetLatestReport(context.Background())
	require.ErrorIs(t, err, db.ErrNoReports)

	require.NoError(t, sampleReport().WriteFile(path))
	got, err := src.GetLatestReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, got.ClusterCount)

	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err = src.GetLatestReport(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, db.ErrNoReports)
}

func TestStreamSubject(t *testing.T) {
	assert.Equal(t, "sybil.clusters.*", streamSubject(""))
	assert.Equal(t, "sybil.clusters."+identityA, streamSubject(identityA))
}

func TestWriteSSE(t *testing.T) {
	var b strings.Builder
	require.NoError(t, writeSSE(&b, "cluster", []byte(`{"rank":1}`)))
	assert.Equal(t, "event: cluster\ndata: {\"rank\":1}\n\n", b.String())
}
