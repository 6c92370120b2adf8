package nn

import (
	"errors"
	"fmt"

	"github.com/chewxy/math32"
)

var ErrInvalidTensor = errors.New("Invalid output tensor")

// DecodeYOLOv8 turns the raw output of a YOLOv8 detection head into objects.
//
// output has shape [4+nClasses, nAnchors] (the batch dimension of 1 is dropped). The first
// four rows are the box center X, center Y, width and height in model input pixels, and
// the remaining rows are the class probabilities. Unlike YOLOv5, there is no separate objectness score.
//
// xScale and yScale convert from model input pixels to image pixels. Boxes are clipped to
// [0,0,imgWidth,imgHeight] unless params.Unclipped is set. The result is not yet NMS filtered.
func DecodeYOLOv8(output []float32, nClasses int, params *DetectionParams, xScale, yScale float32, imgWidth, imgHeight int) ([]ObjectDetection, error) {
	nRows := 4 + nClasses
	if nClasses <= 0 || len(output)%nRows != 0 {
		return nil, fmt.Errorf("%w: %v elements is not a multiple of %v rows", ErrInvalidTensor, len(output), nRows)
	}
	nAnchors := len(output) / nRows
	threshold := params.Probability()
	objects := []ObjectDetection{}

	at := func(row, anchor int) float32 {
		return output[row*nAnchors+anchor]
	}

	for i := 0; i < nAnchors; i++ {
		bestClass := -1
		bestProb := float32(0)
		for c := 0; c < nClasses; c++ {
			p := at(4+c, i)
			if p > bestProb {
				bestProb = p
				bestClass = c
			}
		}
		if bestClass == -1 || bestProb < threshold {
			continue
		}
		cx := at(0, i)
		cy := at(1, i)
		w := at(2, i)
		h := at(3, i)
		box := MakeRect(
			roundToInt32((cx-w/2)*xScale),
			roundToInt32((cy-h/2)*yScale),
			roundToInt32((cx+w/2)*xScale),
			roundToInt32((cy+h/2)*yScale),
		)
		if !params.isUnclipped() {
			box = box.Clip(int32(imgWidth), int32(imgHeight))
		}
		if box.Width <= 0 || box.Height <= 0 {
			continue
		}
		objects = append(objects, ObjectDetection{
			Class:      bestClass,
			Confidence: bestProb,
			Box:        box,
		})
	}
	return objects, nil
}

func (p *DetectionParams) isUnclipped() bool {
	return p != nil && p.Unclipped
}

func roundToInt32(v float32) int32 {
	return int32(math32.Round(v))
}
