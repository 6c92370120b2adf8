// Package video reads frames from cameras, files, and streams, and draws annotated frames,
// using OpenCV.
package video

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cyclopcam/herdcount/pkg/nn"
	"github.com/cyclopcam/herdcount/server/monitor"
	"gocv.io/x/gocv"
)

// Source is a monitor.FrameSource backed by gocv.VideoCapture
type Source struct {
	name    string
	capture *gocv.VideoCapture
}

// OpenSource opens a camera or a video.
// A source that is entirely digits is a camera index. Anything else is a file path or URL.
func OpenSource(source string) (*Source, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("%w: empty source", monitor.ErrSourceUnavailable)
	}
	var device any = source
	if idx, err := strconv.Atoi(source); err == nil && idx >= 0 {
		device = idx
	}
	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %v", monitor.ErrSourceUnavailable, source, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: %v", monitor.ErrSourceUnavailable, source)
	}
	return &Source{
		name:    source,
		capture: capture,
	}, nil
}

// OpenFrameSource is OpenSource, typed for callers that only need a monitor.FrameSource
func OpenFrameSource(source string) (monitor.FrameSource, error) {
	s, err := OpenSource(source)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Source) Name() string {
	return s.name
}

// Frame rate reported by the container or camera. Zero if unknown.
func (s *Source) FPS() float64 {
	return s.capture.Get(gocv.VideoCaptureFPS)
}

// Next returns io.EOF when the video ends, or the camera stops producing frames
func (s *Source) Next() (monitor.Frame, error) {
	mat := gocv.NewMat()
	if ok := s.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return nil, io.EOF
	}
	return &Frame{BGR: mat}, nil
}

func (s *Source) Close() {
	s.capture.Close()
}

var ErrNotBGR = errors.New("Frame is not 8-bit BGR")

// Frame is a decoded BGR frame
type Frame struct {
	BGR gocv.Mat
}

// Image converts the frame to RGB, which is what the detector expects
func (f *Frame) Image() (nn.ImageCrop, error) {
	if f.BGR.Type() != gocv.MatTypeCV8UC3 {
		return nn.ImageCrop{}, ErrNotBGR
	}
	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(f.BGR, &rgb, gocv.ColorBGRToRGB)
	return nn.WholeImage(3, rgb.ToBytes(), rgb.Cols(), rgb.Rows()), nil
}

func (f *Frame) Close() {
	f.BGR.Close()
}
