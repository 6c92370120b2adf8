package monitor

import (
	"fmt"
	"io"
	"strings"

	"github.com/cyclopcam/herdcount/pkg/counting"
	"github.com/cyclopcam/herdcount/server/config"
	"github.com/cyclopcam/herdcount/server/detector"
)

// FormatStats writes the session summary, one line per configured class
func FormatStats(w io.Writer, classes []config.AnimalClass, summary counting.Summary, frames int64) {
	rule := strings.Repeat("=", 50)
	thin := strings.Repeat("-", 50)
	fmt.Fprintf(w, "\nAnimal Count Summary:\n%v\n", rule)
	fmt.Fprintf(w, "Animal Types: %v\n%v\n", summary.ClassCount, thin)
	for _, c := range classes {
		fmt.Fprintf(w, "%v [COCO %v]: %v (Max: %v)\n", c.Name, c.COCOID, summary.Current[c.Name], summary.Maximum[c.Name])
	}
	fmt.Fprintf(w, "%v\n", thin)
	fmt.Fprintf(w, "Total Current: %v\n", summary.TotalCurrent)
	fmt.Fprintf(w, "Max Total Ever: %v\n", summary.TotalMax)
	fmt.Fprintf(w, "Frames Processed: %v\n", frames)
	fmt.Fprintf(w, "%v\n", rule)
}

// FormatDetections writes the detections of the current frame
func FormatDetections(w io.Writer, dets []detector.Detection) {
	if len(dets) == 0 {
		fmt.Fprintf(w, "No animals detected in current frame\n")
		return
	}
	thin := strings.Repeat("-", 60)
	fmt.Fprintf(w, "\nCurrent Frame Detections (%v animals):\n%v\n", len(dets), thin)
	for i, d := range dets {
		fmt.Fprintf(w, "%v. %v - Confidence: %.1f%% - COCO ID: %v\n", i+1, d.ClassName, d.Confidence*100, d.COCOID)
	}
	fmt.Fprintf(w, "%v\n", thin)
}
