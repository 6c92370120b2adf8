package evaluation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/cyclopcam/herdcount/pkg/storage"
)

// WriteReport saves the report as indented JSON
func WriteReport(s storage.Storage, name string, report *Report) error {
	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return storage.WriteFile(s, name, bytes.NewReader(b))
}

// ReadReport loads a report previously saved by WriteReport
func ReadReport(s storage.Storage, name string) (*Report, error) {
	b, err := storage.ReadFile(s, name)
	if err != nil {
		return nil, err
	}
	report := &Report{}
	if err := json.Unmarshal(b, report); err != nil {
		return nil, fmt.Errorf("Error parsing report %v: %w", name, err)
	}
	return report, nil
}

// FormatSummary writes a human readable summary of the report
func FormatSummary(w io.Writer, report *Report) {
	rule := strings.Repeat("=", 60)
	if len(report.Results) == 0 {
		fmt.Fprintf(w, "No results to display\n")
	} else {
		fmt.Fprintf(w, "%v\nRESULTS SUMMARY\n%v\n", rule, rule)
		for _, r := range report.Results {
			fmt.Fprintf(w, "\nVideo: %v\n", r.Video)
			fmt.Fprintf(w, "   MAE:      %.2f animals\n", r.MAE)
			fmt.Fprintf(w, "   MAPE:     %.2f%%\n", r.MAPE)
			fmt.Fprintf(w, "   Accuracy: %.2f%% (%v/%v exact)\n", r.Accuracy, r.CorrectCounts, r.TotalClasses)
			fmt.Fprintf(w, "\n   Details:\n")
			for _, class := range r.Classes() {
				pred := r.Predicted[class]
				gt := r.GroundTruth[class]
				diff := pred - gt
				status := "[OK]"
				if diff != 0 {
					status = "[MISS]"
				}
				fmt.Fprintf(w, "     %v %-10s: Predicted=%2d, Ground Truth=%2d, Diff=%+3d\n", status, class, pred, gt, diff)
			}
		}
	}
	for _, s := range report.Skipped {
		fmt.Fprintf(w, "\nSkipped: %v (%v)\n", s.Video, s.Reason)
	}
	if len(report.Results) != 0 {
		fmt.Fprintf(w, "\n%v\nOVERALL METRICS\n%v\n", rule, rule)
		fmt.Fprintf(w, "Average MAE:      %.2f animals\n", report.Overall.AvgMAE)
		fmt.Fprintf(w, "Average MAPE:     %.2f%%\n", report.Overall.AvgMAPE)
		fmt.Fprintf(w, "Average Accuracy: %.2f%%\n", report.Overall.AvgAccuracy)
		fmt.Fprintf(w, "%v\n", rule)
	}
}
