package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cyclopcam/herdcount/pkg/evaluation"
	"github.com/cyclopcam/herdcount/pkg/storage"
	"github.com/cyclopcam/herdcount/server/config"
	"github.com/cyclopcam/herdcount/server/metrics"
	"github.com/cyclopcam/herdcount/server/tsdb"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

const testConfig = `
model:
  path: models/yolov8n.onnx
animals:
  classes:
    - {name: horse, coco_id: 17, color: [255, 0, 0]}
    - {name: cow, coco_id: 19, color: [0, 0, 255]}
    - {name: zebra, coco_id: 22, color: [0, 255, 0]}
video:
  source: "0"
database:
  url: http://localhost:8086
  token: secret-token
  org: farm
  bucket: animals
`

type fakeStore struct {
	tsdb.Store
	lastQuery   tsdb.SeriesQuery
	counts      []tsdb.SeriesPoint
	performance []tsdb.SeriesPoint
	detections  map[string]int
	connErr     error
	closed      bool
}

func (f *fakeStore) QueryCounts(ctx context.Context, q tsdb.SeriesQuery) ([]tsdb.SeriesPoint, error) {
	f.lastQuery = q
	return f.counts, nil
}

func (f *fakeStore) QueryTotals(ctx context.Context, q tsdb.SeriesQuery) ([]tsdb.SeriesPoint, error) {
	f.lastQuery = q
	return nil, nil
}

func (f *fakeStore) QueryPerformance(ctx context.Context, q tsdb.SeriesQuery) ([]tsdb.SeriesPoint, error) {
	return f.performance, nil
}

func (f *fakeStore) QueryDetectionSummary(ctx context.Context, since time.Duration) (map[string]int, error) {
	return f.detections, nil
}

func (f *fakeStore) TestConnection(ctx context.Context) error {
	return f.connErr
}

func (f *fakeStore) Ping(ctx context.Context) error {
	return f.connErr
}

func (f *fakeStore) Close() {
	f.closed = true
}

func newTestServer(t *testing.T, store *fakeStore) (*Server, storage.Storage) {
	for _, k := range []string{"INFLUXDB_URL", "INFLUXDB_TOKEN", "INFLUXDB_ORG", "INFLUXDB_BUCKET", "HERDCOUNT_VIDEO_SOURCE", "HERDCOUNT_PERSISTENCE_INTERVAL"} {
		t.Setenv(k, "")
	}
	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)
	log := logs.NewTestingLog(t)
	reports, err := storage.NewStorageFS(log, t.TempDir())
	require.NoError(t, err)
	return NewServer(log, cfg, store, reports, metrics.New()), reports
}

func get(t *testing.T, s *Server, method, url string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, url, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestConfigHidesToken(t *testing.T) {
	s, _ := newTestServer(t, &fakeStore{})
	rec := get(t, s, "GET", "/api/config")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "secret-token")
	cfg := decode[configJSON](t, rec)
	require.Len(t, cfg.Classes, 3)
	require.Equal(t, 17, cfg.Classes[0].COCOID)
	require.Equal(t, "animals", cfg.Database.Bucket)
	require.Equal(t, []int{1, 6, 24}, cfg.TimeRanges)
}

func TestCountsTimeRange(t *testing.T) {
	store := &fakeStore{}
	s, _ := newTestServer(t, store)

	rec := get(t, s, "GET", "/api/counts")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 6*time.Hour, store.lastQuery.Since)
	require.Equal(t, "[]", rec.Body.String()[:2])

	rec = get(t, s, "GET", "/api/counts?hours=24&animal=cow")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 24*time.Hour, store.lastQuery.Since)
	require.Equal(t, "cow", store.lastQuery.AnimalType)

	require.Equal(t, http.StatusBadRequest, get(t, s, "GET", "/api/counts?hours=3").Code)
	require.Equal(t, http.StatusBadRequest, get(t, s, "GET", "/api/totals?hours=abc").Code)
	require.Equal(t, http.StatusBadRequest, get(t, s, "GET", "/api/counts?animal=dog").Code)

	require.Equal(t, http.StatusOK, get(t, s, "GET", "/api/totals?hours=1").Code)
	require.Equal(t, time.Hour, store.lastQuery.Since)
}

func TestSummary(t *testing.T) {
	store := &fakeStore{
		detections: map[string]int{"horse": 4, "cow": 2, "dog": 9},
		performance: []tsdb.SeriesPoint{
			{Field: tsdb.FieldFPS, Value: 20},
			{Field: tsdb.FieldFPS, Value: 30},
			{Field: tsdb.FieldProcessingTimeMS, Value: 45},
		},
	}
	s, _ := newTestServer(t, store)
	rec := get(t, s, "GET", "/api/summary?hours=1")
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[summaryJSON](t, rec)
	require.Equal(t, 6, sum.Total)
	require.Equal(t, 2, sum.ActiveClasses)
	require.Equal(t, 3, sum.ClassCount)
	require.Equal(t, 0, sum.Counts["zebra"])
	require.NotContains(t, sum.Counts, "dog")
	require.Equal(t, 25.0, sum.AverageFPS)
	require.True(t, sum.Online)
}

func TestTestConnection(t *testing.T) {
	store := &fakeStore{connErr: errors.New("unauthorized")}
	s, _ := newTestServer(t, store)
	rec := get(t, s, "POST", "/api/testConnection")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"connected":false,"error":"unauthorized"}`, rec.Body.String())

	store.connErr = nil
	rec = get(t, s, "POST", "/api/testConnection")
	require.JSONEq(t, `{"connected":true}`, rec.Body.String())

	for i := 2; i < TestConnectionLimit; i++ {
		require.Equal(t, http.StatusOK, get(t, s, "POST", "/api/testConnection").Code)
	}
	require.Equal(t, http.StatusTooManyRequests, get(t, s, "POST", "/api/testConnection").Code)
}

func TestEvaluationReport(t *testing.T) {
	s, reports := newTestServer(t, &fakeStore{})
	require.Equal(t, http.StatusNotFound, get(t, s, "GET", "/api/evaluation").Code)

	ev := evaluation.NewEvaluator()
	r, err := evaluation.ScoreVideo(map[string]int{"horse": 2}, evaluation.GroundTruth{"horse": 2}, "farm.mp4")
	require.NoError(t, err)
	ev.Add(r)
	require.NoError(t, evaluation.WriteReport(reports, s.config.Evaluation.ReportPath, ev.Report()))

	rec := get(t, s, "GET", "/api/evaluation")
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[evaluation.Report](t, rec)
	require.Len(t, report.Results, 1)
	require.Equal(t, 100.0, report.Overall.AvgAccuracy)
}

func TestIndexPage(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{
		counts: []tsdb.SeriesPoint{
			{Time: t0, Field: tsdb.FieldCount, Tags: map[string]string{tsdb.TagAnimalType: "horse"}, Value: 2},
			{Time: t0.Add(2 * time.Minute), Field: tsdb.FieldCount, Tags: map[string]string{tsdb.TagAnimalType: "cow"}, Value: 1},
		},
		detections: map[string]int{"horse": 1},
	}
	s, _ := newTestServer(t, store)
	rec := get(t, s, "GET", "/")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	require.Contains(t, body, "Detection Trends Over Time")
	require.Contains(t, body, "Detections per Class")

	require.Equal(t, http.StatusBadRequest, get(t, s, "GET", "/?hours=2").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &fakeStore{})
	s.metrics.FramesProcessed.Add(3)
	rec := get(t, s, "GET", "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "herdcount_frames_processed_total 3")

	get(t, s, "GET", "/api/ping")
	get(t, s, "GET", "/api/counts?hours=2")
	body := get(t, s, "GET", "/metrics").Body.String()
	require.Contains(t, body, `herdcount_http_requests_total{code="200",method="get"} 2`)
	require.Contains(t, body, `herdcount_http_requests_total{code="400",method="get"} 1`)
}

func TestShutdownClosesStoreOnce(t *testing.T) {
	store := &fakeStore{}
	s, _ := newTestServer(t, store)
	s.ListenForKillSignals()

	done := make(chan bool)
	go func() {
		s.Shutdown()
		done <- true
	}()
	s.Shutdown()
	<-done
	require.True(t, store.closed)
}

func TestMakeTimeTable(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	tag := func(v string) map[string]string { return map[string]string{tsdb.TagAnimalType: v} }
	table := makeTimeTable([]tsdb.SeriesPoint{
		{Time: t0.Add(time.Minute), Tags: tag("cow"), Value: 3},
		{Time: t0, Tags: tag("horse"), Value: 1},
		{Time: t0.Add(time.Minute), Tags: tag("horse"), Value: 2},
	}, tsdb.TagAnimalType)
	require.Equal(t, []time.Time{t0, t0.Add(time.Minute)}, table.Times)
	require.Equal(t, []float64{1, 2}, table.Series["horse"])
	require.Equal(t, []float64{0, 3}, table.Series["cow"])
	require.Equal(t, []string{"03-01 10:00", "03-01 10:01"}, table.labels(time.UTC))
}

func TestHexColor(t *testing.T) {
	require.Equal(t, "#0000ff", hexColor([]int{255, 0, 0}))
	require.Equal(t, "", hexColor(nil))
}
