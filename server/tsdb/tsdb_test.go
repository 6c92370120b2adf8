package tsdb

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWindowMean(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	horse := map[string]string{TagAnimalType: "horse"}
	cow := map[string]string{TagAnimalType: "cow"}
	raw := []rawPoint{
		{Time: base.Add(10 * time.Second), Field: "count", Tags: horse, Value: 1},
		{Time: base.Add(70 * time.Second), Field: "count", Tags: horse, Value: 3},
		{Time: base.Add(130 * time.Second), Field: "count", Tags: horse, Value: 5},
		{Time: base.Add(20 * time.Second), Field: "count", Tags: cow, Value: 4},
		// Nothing between 2m and 6m for cow, so no windows there
		{Time: base.Add(6*time.Minute + time.Second), Field: "count", Tags: cow, Value: 6},
	}
	out := windowMean(raw, 2*time.Minute)
	require.Len(t, out, 4)

	require.Equal(t, "cow", out[0].Tags[TagAnimalType])
	require.Equal(t, 4.0, out[0].Value)
	require.Equal(t, base.Add(2*time.Minute), out[0].Time)
	require.Equal(t, 6.0, out[1].Value)
	require.Equal(t, base.Add(8*time.Minute), out[1].Time)

	require.Equal(t, "horse", out[2].Tags[TagAnimalType])
	require.Equal(t, 2.0, out[2].Value)
	require.Equal(t, 5.0, out[3].Value)
	require.Equal(t, base.Add(4*time.Minute), out[3].Time)

	require.Empty(t, windowMean(nil, time.Minute))
}

func TestSnapshot(t *testing.T) {
	bangkok, err := time.LoadLocation("Asia/Bangkok")
	require.NoError(t, err)
	s := CountSnapshot{
		Time:   time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC),
		Zone:   bangkok,
		Counts: map[string]int{"sheep": 3, "bear": 1},
	}
	require.Equal(t, "2024-01-01T12:00:00.000000+07:00", s.DetectionTime())
	require.Equal(t, []string{"bear", "sheep"}, s.Classes())
	require.Equal(t, 4, s.Total())
}

func TestFlux(t *testing.T) {
	require.Equal(t, "2m", fluxDuration(2*time.Minute))
	require.Equal(t, "6h", fluxDuration(6*time.Hour))
	require.Equal(t, "90s", fluxDuration(90*time.Second))

	q := fluxCounts("animals", SeriesQuery{Since: 6 * time.Hour, AnimalType: `ho"rse`})
	require.Contains(t, q, `from(bucket: "animals")`)
	require.Contains(t, q, "range(start: -6h)")
	require.Contains(t, q, `r["animal_type"] == "ho\"rse"`)
	require.Contains(t, q, "aggregateWindow(every: 2m, fn: mean, createEmpty: false)")

	q = fluxCounts("animals", SeriesQuery{Since: time.Hour})
	require.False(t, strings.Contains(q, `r["animal_type"] ==`))

	q = fluxTotals("animals", SeriesQuery{Since: time.Hour})
	require.Contains(t, q, `r["_field"] == "total_count" or r["_field"] == "unique_types"`)

	q = fluxPerformance("animals", SeriesQuery{Since: time.Hour})
	require.Contains(t, q, "every: 5m")
	require.Contains(t, q, `"processing_time_ms"`)

	q = fluxDetectionSummary("animals", 24*time.Hour)
	require.Contains(t, q, "range(start: -24h)")
	require.Contains(t, q, "count()")
}
