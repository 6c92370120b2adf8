// Package monitor runs a live counting session over a stream of frames.
// It has no dependency on a particular video or inference library. Those are plugged in via
// the FrameSource, Detector, and Display interfaces (see server/video and server/detector).
package monitor

import (
	"errors"
	"time"

	"github.com/cyclopcam/herdcount/pkg/counting"
	"github.com/cyclopcam/herdcount/pkg/nn"
	"github.com/cyclopcam/herdcount/server/detector"
)

// ErrSourceUnavailable is returned when a video file, camera, or URL cannot be opened
var ErrSourceUnavailable = errors.New("Video source unavailable")

// Frame is a single decoded video frame
type Frame interface {
	// Return the frame as a 24-bit RGB image
	Image() (nn.ImageCrop, error)
	Close()
}

// FrameSource produces frames. Next returns io.EOF at the end of the stream.
type FrameSource interface {
	Next() (Frame, error)
	Close()
}

// Detector finds the configured animals in an image
type Detector interface {
	Detect(img nn.ImageCrop, now time.Time) ([]detector.Detection, counting.Observation, error)
}

// Display shows (and optionally records) annotated frames.
// Show returns the key that was pressed, or 0 if no key was pressed.
type Display interface {
	Show(frame Frame, overlay *Overlay) (rune, error)
}

// Keys understood by the session
const (
	KeyQuit       = 'q'
	KeyStats      = 's'
	KeyDetections = 'i'
)
