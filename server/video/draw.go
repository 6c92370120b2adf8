package video

import (
	"image"
	"image/color"

	"github.com/cyclopcam/herdcount/server/monitor"
	"gocv.io/x/gocv"
)

const (
	fontFace      = gocv.FontHersheySimplex
	boxThickness  = 2
	panelX        = 10
	panelY        = 10
	panelWidth    = 400
	panelLineStep = 30
)

func toRGBA(c monitor.Color) color.RGBA {
	// monitor.Color is BGR, and gocv swaps RGBA into a BGR scalar
	return color.RGBA{R: c[2], G: c[1], B: c[0], A: 0}
}

// Draw the overlay onto a BGR image
func Draw(img *gocv.Mat, o *monitor.Overlay) {
	if o == nil {
		return
	}
	for _, b := range o.Boxes {
		drawBox(img, b)
	}
	drawPanel(img, o)
	drawStatus(img, o)
}

func drawBox(img *gocv.Mat, b monitor.BoxLabel) {
	r := b.Detection.Box
	clr := toRGBA(b.Color)
	rect := image.Rect(int(r.X), int(r.Y), int(r.X2()), int(r.Y2()))
	gocv.Rectangle(img, rect, clr, boxThickness)

	// Label on a filled background above the box
	size := gocv.GetTextSize(b.Label, fontFace, 0.6, 2)
	gocv.Rectangle(img, image.Rect(rect.Min.X, rect.Min.Y-size.Y-10, rect.Min.X+size.X, rect.Min.Y), clr, -1)
	gocv.PutText(img, b.Label, image.Pt(rect.Min.X, rect.Min.Y-5), fontFace, 0.6, toRGBA(monitor.ColorWhite), 2)

	gocv.PutText(img, b.IDLabel, image.Pt(rect.Min.X, rect.Max.Y+20), fontFace, 0.4, clr, 1)
}

// Statistics panel in the top left, on a translucent black background
func drawPanel(img *gocv.Mat, o *monitor.Overlay) {
	height := 60 + len(o.Stats)*panelLineStep
	bg := img.Clone()
	defer bg.Close()
	gocv.Rectangle(&bg, image.Rect(panelX, panelY, panelWidth, height), color.RGBA{}, -1)
	gocv.AddWeighted(bg, 0.7, *img, 0.3, 0, img)

	white := toRGBA(monitor.ColorWhite)
	y := 35
	gocv.PutText(img, o.Title, image.Pt(20, y), fontFace, 0.7, white, 2)
	y += 20
	gocv.PutText(img, o.Subtitle, image.Pt(20, y), fontFace, 0.4, toRGBA(monitor.ColorGrey), 1)
	y += 25
	for _, line := range o.Stats {
		gocv.PutText(img, line.Text, image.Pt(20, y), fontFace, 0.6, toRGBA(line.Color), 2)
		y += 25
	}
	gocv.PutText(img, o.Total, image.Pt(20, y+5), fontFace, 0.7, white, 2)
}

// FPS and frame counters in the top right
func drawStatus(img *gocv.Mat, o *monitor.Overlay) {
	x := img.Cols() - 150
	green := toRGBA(monitor.ColorGreen)
	gocv.PutText(img, o.FPS, image.Pt(x, 30), fontFace, 0.6, green, 2)
	gocv.PutText(img, o.FrameLabel, image.Pt(x, 55), fontFace, 0.5, toRGBA(monitor.ColorWhite), 1)
	gocv.PutText(img, o.Detections, image.Pt(x, 80), fontFace, 0.5, toRGBA(monitor.ColorWhite), 1)
}
