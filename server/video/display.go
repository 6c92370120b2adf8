package video

import (
	"fmt"

	"github.com/cyclopcam/herdcount/server/monitor"
	"github.com/cyclopcam/logs"
	"gocv.io/x/gocv"
)

const WindowTitle = "Animal Counter"

// Display shows annotated frames in a window, and optionally writes them to a video file.
// Either output may be disabled.
type Display struct {
	log        logs.Log
	window     *gocv.Window
	outputPath string
	fps        float64
	writer     *gocv.VideoWriter
}

// Create a display. If preview is false, no window is opened.
// If outputPath is not empty, annotated frames are written there, at the given frame rate.
func NewDisplay(log logs.Log, preview bool, outputPath string, fps float64) *Display {
	d := &Display{
		log:        log,
		outputPath: outputPath,
		fps:        fps,
	}
	if d.fps <= 0 {
		d.fps = 20
	}
	if preview {
		d.window = gocv.NewWindow(WindowTitle)
	}
	return d
}

// Show draws the overlay, and returns the key that was pressed, if any
func (d *Display) Show(frame monitor.Frame, overlay *monitor.Overlay) (rune, error) {
	f, ok := frame.(*Frame)
	if !ok {
		return 0, fmt.Errorf("Unsupported frame type %T", frame)
	}
	img := f.BGR.Clone()
	defer img.Close()
	Draw(&img, overlay)

	if d.outputPath != "" {
		if d.writer == nil {
			// The writer can only be created once we know the frame size
			w, err := gocv.VideoWriterFile(d.outputPath, "mp4v", d.fps, img.Cols(), img.Rows(), true)
			if err != nil {
				path := d.outputPath
				d.outputPath = ""
				return 0, fmt.Errorf("Failed to create video writer %v: %w", path, err)
			}
			d.log.Infof("Writing annotated video to %v", d.outputPath)
			d.writer = w
		}
		if err := d.writer.Write(img); err != nil {
			return 0, err
		}
	}

	if d.window == nil {
		return 0, nil
	}
	d.window.IMShow(img)
	key := d.window.WaitKey(1)
	if key < 0 {
		return 0, nil
	}
	return rune(key & 0xff), nil
}

func (d *Display) Close() {
	if d.writer != nil {
		d.writer.Close()
		d.writer = nil
	}
	if d.window != nil {
		d.window.Close()
		d.window = nil
	}
}
