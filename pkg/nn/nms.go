package nn

import (
	"slices"

	flatbush "github.com/bmharper/flatbush-go"
)

// NonMaxSuppression removes boxes that overlap a more confident box of the same class
// by more than iouThreshold. The survivors are returned in order of decreasing confidence.
func NonMaxSuppression(input []ObjectDetection, iouThreshold float32) []ObjectDetection {
	if len(input) == 0 {
		return nil
	}

	sorted := slices.Clone(input)
	slices.SortStableFunc(sorted, func(a, b ObjectDetection) int {
		if a.Confidence > b.Confidence {
			return -1
		} else if a.Confidence < b.Confidence {
			return 1
		}
		return 0
	})

	// Create spatial index to avoid O(N^2) comparisons
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(sorted))
	for _, b := range sorted {
		fb.Add(b.Box.X, b.Box.Y, b.Box.X2(), b.Box.Y2())
	}
	fb.Finish()

	suppressed := make([]bool, len(sorted))
	keep := make([]ObjectDetection, 0, len(sorted))
	nearby := []int{}
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		a := &sorted[i]
		keep = append(keep, *a)
		nearby = fb.SearchFast(a.Box.X, a.Box.Y, a.Box.X2(), a.Box.Y2(), nearby)
		for _, j := range nearby {
			// Everything before i has already been decided
			if j <= i || suppressed[j] {
				continue
			}
			if sorted[j].Class != a.Class {
				continue
			}
			if a.Box.IOU(sorted[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return keep
}
