package tsdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cyclopcam/herdcount/pkg/nn"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func createTestStore(t *testing.T) *SQLiteStore {
	s, err := NewSQLiteStore(logs.NewTestingLog(t), filepath.Join(t.TempDir(), "series.sqlite"))
	require.NoError(t, err)
	s.now = func() time.Time { return testNow }
	t.Cleanup(s.Close)
	return s
}

func snapshot(t time.Time, counts map[string]int) CountSnapshot {
	return CountSnapshot{
		Time:     t,
		Source:   "camera_1",
		Location: "detection_area",
		Counts:   counts,
	}
}

func TestSQLiteCounts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	require.NoError(t, s.WriteCounts(ctx, snapshot(testNow.Add(-10*time.Minute), map[string]int{"horse": 2, "cow": 1})))
	require.NoError(t, s.WriteCounts(ctx, snapshot(testNow.Add(-10*time.Minute+30*time.Second), map[string]int{"horse": 4})))
	require.NoError(t, s.WriteCounts(ctx, snapshot(testNow.Add(-3*time.Hour), map[string]int{"horse": 9})))
	// Empty snapshots write nothing
	require.NoError(t, s.WriteCounts(ctx, snapshot(testNow.Add(-time.Minute), map[string]int{})))

	points, err := s.QueryCounts(ctx, SeriesQuery{Since: time.Hour})
	require.NoError(t, err)
	require.Len(t, points, 2)
	windowEnd := testNow.Add(-8 * time.Minute)
	require.Equal(t, "cow", points[0].Tags[TagAnimalType])
	require.Equal(t, 1.0, points[0].Value)
	require.True(t, windowEnd.Equal(points[0].Time))
	require.Equal(t, "horse", points[1].Tags[TagAnimalType])
	require.Equal(t, 3.0, points[1].Value)
	require.Equal(t, FieldCount, points[1].Field)

	points, err = s.QueryCounts(ctx, SeriesQuery{Since: 6 * time.Hour, AnimalType: "horse"})
	require.NoError(t, err)
	require.Len(t, points, 2)
	require.Equal(t, 9.0, points[0].Value)
	require.Equal(t, 3.0, points[1].Value)

	totals, err := s.QueryTotals(ctx, SeriesQuery{Since: time.Hour})
	require.NoError(t, err)
	require.Len(t, totals, 2)
	require.Equal(t, 3.5, totals[0].Value)
	require.Equal(t, FieldTotalCount, totals[0].Field)
	require.Equal(t, 1.5, totals[1].Value)
	require.Equal(t, FieldUniqueTypes, totals[1].Field)
}

func TestSQLiteDetectionsAndPerformance(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	dets := []DetectionPoint{
		{AnimalType: "horse", COCOID: nn.COCOHorse, Confidence: 0.9, Box: nn.MakeRect(0, 0, 10, 10)},
		{AnimalType: "horse", COCOID: nn.COCOHorse, Confidence: 0.8, Box: nn.MakeRect(20, 20, 30, 30)},
		{AnimalType: "cow", COCOID: nn.COCOCow, Confidence: 0.7, Box: nn.MakeRect(40, 40, 50, 50)},
	}
	require.NoError(t, s.WriteDetections(ctx, testNow.Add(-time.Minute), "camera_1", "detection_area", dets))
	require.NoError(t, s.WriteDetections(ctx, testNow.Add(-30*time.Hour), "camera_1", "detection_area", dets[:1]))

	summary, err := s.QueryDetectionSummary(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"horse": 2, "cow": 1}, summary)

	require.NoError(t, s.WritePerformance(ctx, "camera_1", PerformancePoint{Time: testNow.Add(-4 * time.Minute), FPS: 10, ProcessingTime: 50 * time.Millisecond, FrameCount: 100}))
	require.NoError(t, s.WritePerformance(ctx, "camera_1", PerformancePoint{Time: testNow.Add(-3 * time.Minute), FPS: 20, ProcessingTime: 100 * time.Millisecond, FrameCount: 200}))
	perf, err := s.QueryPerformance(ctx, SeriesQuery{Since: time.Hour})
	require.NoError(t, err)
	require.Len(t, perf, 2)
	require.Equal(t, FieldFPS, perf[0].Field)
	require.Equal(t, 15.0, perf[0].Value)
	require.Equal(t, FieldProcessingTimeMS, perf[1].Field)
	require.Equal(t, 75.0, perf[1].Value)

	require.NoError(t, s.TestConnection(ctx))
}
