package tsdb

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Format a duration as a Flux duration literal, eg "2m" or "90s"
func fluxDuration(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	case d%time.Second == 0:
		return fmt.Sprintf("%ds", d/time.Second)
	}
	return fmt.Sprintf("%dms", d/time.Millisecond)
}

// Flux string literals use the same escaping rules as Go for the characters we care about
func fluxString(s string) string {
	return strconv.Quote(s)
}

func fluxCounts(bucket string, q SeriesQuery) string {
	sb := strings.Builder{}
	fmt.Fprintf(&sb, "from(bucket: %v)\n", fluxString(bucket))
	fmt.Fprintf(&sb, "  |> range(start: -%v)\n", fluxDuration(q.since()))
	fmt.Fprintf(&sb, "  |> filter(fn: (r) => r[\"_measurement\"] == %v)\n", fluxString(MeasurementCounts))
	if q.AnimalType != "" {
		fmt.Fprintf(&sb, "  |> filter(fn: (r) => r[\"%v\"] == %v)\n", TagAnimalType, fluxString(q.AnimalType))
	}
	fmt.Fprintf(&sb, "  |> filter(fn: (r) => r[\"_field\"] == %v)\n", fluxString(FieldCount))
	fmt.Fprintf(&sb, "  |> group(columns: [\"%v\", \"_field\"])\n", TagAnimalType)
	fmt.Fprintf(&sb, "  |> aggregateWindow(every: %v, fn: mean, createEmpty: false)\n", fluxDuration(q.window(DefaultCountWindow)))
	sb.WriteString("  |> yield(name: \"mean\")\n")
	return sb.String()
}

func fluxTotals(bucket string, q SeriesQuery) string {
	sb := strings.Builder{}
	fmt.Fprintf(&sb, "from(bucket: %v)\n", fluxString(bucket))
	fmt.Fprintf(&sb, "  |> range(start: -%v)\n", fluxDuration(q.since()))
	fmt.Fprintf(&sb, "  |> filter(fn: (r) => r[\"_measurement\"] == %v)\n", fluxString(MeasurementTotals))
	fmt.Fprintf(&sb, "  |> filter(fn: (r) => r[\"_field\"] == %v or r[\"_field\"] == %v)\n", fluxString(FieldTotalCount), fluxString(FieldUniqueTypes))
	fmt.Fprintf(&sb, "  |> group(columns: [\"_field\"])\n")
	fmt.Fprintf(&sb, "  |> aggregateWindow(every: %v, fn: mean, createEmpty: false)\n", fluxDuration(q.window(DefaultCountWindow)))
	sb.WriteString("  |> yield(name: \"mean\")\n")
	return sb.String()
}

// We count only the confidence field, otherwise every field of a detection would be counted
func fluxDetectionSummary(bucket string, since time.Duration) string {
	sb := strings.Builder{}
	fmt.Fprintf(&sb, "from(bucket: %v)\n", fluxString(bucket))
	fmt.Fprintf(&sb, "  |> range(start: -%v)\n", fluxDuration(since))
	fmt.Fprintf(&sb, "  |> filter(fn: (r) => r[\"_measurement\"] == %v)\n", fluxString(MeasurementDetections))
	fmt.Fprintf(&sb, "  |> filter(fn: (r) => r[\"_field\"] == %v)\n", fluxString(FieldConfidence))
	fmt.Fprintf(&sb, "  |> group(columns: [\"%v\"])\n", TagAnimalType)
	sb.WriteString("  |> count()\n")
	sb.WriteString("  |> yield(name: \"count\")\n")
	return sb.String()
}

func fluxPerformance(bucket string, q SeriesQuery) string {
	sb := strings.Builder{}
	fmt.Fprintf(&sb, "from(bucket: %v)\n", fluxString(bucket))
	fmt.Fprintf(&sb, "  |> range(start: -%v)\n", fluxDuration(q.since()))
	fmt.Fprintf(&sb, "  |> filter(fn: (r) => r[\"_measurement\"] == %v)\n", fluxString(MeasurementPerformance))
	fmt.Fprintf(&sb, "  |> filter(fn: (r) => r[\"_field\"] == %v or r[\"_field\"] == %v)\n", fluxString(FieldFPS), fluxString(FieldProcessingTimeMS))
	fmt.Fprintf(&sb, "  |> group(columns: [\"_field\"])\n")
	fmt.Fprintf(&sb, "  |> aggregateWindow(every: %v, fn: mean, createEmpty: false)\n", fluxDuration(q.window(DefaultPerformanceWindow)))
	sb.WriteString("  |> yield(name: \"mean\")\n")
	return sb.String()
}
