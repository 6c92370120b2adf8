package monitor

import (
	"fmt"
	"strings"

	"github.com/cyclopcam/herdcount/pkg/counting"
	"github.com/cyclopcam/herdcount/server/config"
	"github.com/cyclopcam/herdcount/server/detector"
)

// Color is [B, G, R]
type Color [3]uint8

var (
	ColorWhite = Color{255, 255, 255}
	ColorGreen = Color{0, 255, 0}
	ColorGrey  = Color{200, 200, 200}
)

// BoxLabel is a detection box, and the text drawn around it
type BoxLabel struct {
	Detection detector.Detection
	Color     Color
	Label     string // eg "horse: 91.2%", drawn above the box
	IDLabel   string // eg "COCO ID: 17", drawn below the box
}

// StatLine is one line of the statistics panel
type StatLine struct {
	Text  string
	Color Color
}

// Overlay is everything that gets drawn on top of a frame
type Overlay struct {
	Boxes      []BoxLabel
	Title      string
	Subtitle   string
	Stats      []StatLine // One line per class
	Total      string
	FPS        string
	FrameLabel string
	Detections string
}

func classColor(c *config.AnimalClass) Color {
	if c == nil || len(c.Color) != 3 {
		return ColorWhite
	}
	return Color{uint8(c.Color[0]), uint8(c.Color[1]), uint8(c.Color[2])}
}

// BuildOverlay describes the annotations of one frame
func BuildOverlay(classes []config.AnimalClass, dets []detector.Detection, summary counting.Summary, fps float64, frame int64) *Overlay {
	byName := map[string]*config.AnimalClass{}
	names := []string{}
	for i := range classes {
		byName[classes[i].Name] = &classes[i]
		names = append(names, classes[i].Name)
	}

	o := &Overlay{
		Title:      "Animal Detection",
		Subtitle:   "Animals: " + strings.Join(names, ", "),
		FPS:        fmt.Sprintf("FPS: %.1f", fps),
		FrameLabel: fmt.Sprintf("Frame: %v", frame),
		Detections: fmt.Sprintf("Detections: %v", len(dets)),
	}
	for _, d := range dets {
		o.Boxes = append(o.Boxes, BoxLabel{
			Detection: d,
			Color:     classColor(byName[d.ClassName]),
			Label:     fmt.Sprintf("%v: %.1f%%", d.ClassName, d.Confidence*100),
			IDLabel:   fmt.Sprintf("COCO ID: %v", d.COCOID),
		})
	}
	for _, name := range names {
		o.Stats = append(o.Stats, StatLine{
			Text:  fmt.Sprintf("%v: %v (Max: %v)", name, summary.Current[name], summary.Maximum[name]),
			Color: classColor(byName[name]),
		})
	}
	o.Total = fmt.Sprintf("Total: %v (Max Total: %v)", summary.TotalCurrent, summary.TotalMax)
	return o
}
