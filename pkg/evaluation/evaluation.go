// Package evaluation scores predicted per-class animal counts against ground truth.
//
// Ground truth defines the set of evaluated classes. Classes that were predicted but
// are absent from ground truth are ignored. Classes in ground truth that were never
// predicted count as a prediction of zero. Classes with a ground truth of zero are
// excluded from MAPE, so MAPE may average over fewer classes than MAE.
package evaluation

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// GroundTruth is the expected count of each class in one video
type GroundTruth map[string]int

var ErrInvalidGroundTruth = errors.New("Invalid ground truth")
var ErrInvalidPrediction = errors.New("Invalid prediction")

// Result is the evaluation of a single video.
// MAE, MAPE and Accuracy are rounded to 2 decimal places for reporting.
// The Raw values are unrounded, and are what we aggregate over, to avoid double rounding.
type Result struct {
	Video         string         `json:"video"`
	Predicted     map[string]int `json:"predicted"`
	GroundTruth   GroundTruth    `json:"ground_truth"`
	Errors        map[string]int `json:"errors"` // Absolute error per ground truth class
	MAE           float64        `json:"mae"`
	MAPE          float64        `json:"mape"`
	Accuracy      float64        `json:"accuracy"`
	CorrectCounts int            `json:"correct_counts"`
	TotalClasses  int            `json:"total_classes"`
	RawMAE        float64        `json:"raw_mae"`
	RawMAPE       float64        `json:"raw_mape"`
	RawAccuracy   float64        `json:"raw_accuracy"`
	Frames        int            `json:"frames,omitempty"` // Number of frames processed, if known
}

// Classes returns the evaluated classes, sorted
func (r *Result) Classes() []string {
	return slices.Sorted(maps.Keys(r.GroundTruth))
}

// ScoreVideo compares the predicted counts of a video against its ground truth.
func ScoreVideo(predicted map[string]int, groundTruth GroundTruth, videoID string) (*Result, error) {
	for class, count := range groundTruth {
		if count < 0 {
			return nil, fmt.Errorf("%w: '%v' has negative count %v in video %v", ErrInvalidGroundTruth, class, count, videoID)
		}
	}
	for class, count := range predicted {
		if count < 0 {
			return nil, fmt.Errorf("%w: '%v' has negative count %v in video %v", ErrInvalidPrediction, class, count, videoID)
		}
	}

	classes := slices.Sorted(maps.Keys(groundTruth))
	errs := make([]float64, 0, len(classes))
	percentageErrs := make([]float64, 0, len(classes))
	perClass := map[string]int{}
	correct := 0

	for _, class := range classes {
		pred := predicted[class]
		gt := groundTruth[class]
		e := pred - gt
		if e < 0 {
			e = -e
		}
		perClass[class] = e
		errs = append(errs, float64(e))
		if gt > 0 {
			percentageErrs = append(percentageErrs, float64(e)/float64(gt)*100)
		}
		if pred == gt {
			correct++
		}
	}

	r := &Result{
		Video:         videoID,
		Predicted:     maps.Clone(predicted),
		GroundTruth:   maps.Clone(groundTruth),
		Errors:        perClass,
		CorrectCounts: correct,
		TotalClasses:  len(classes),
		RawMAE:        mean(errs),
		RawMAPE:       mean(percentageErrs),
	}
	if r.Predicted == nil {
		r.Predicted = map[string]int{}
	}
	if len(classes) != 0 {
		r.RawAccuracy = float64(correct) / float64(len(classes)) * 100
	}
	r.MAE = Round2(r.RawMAE)
	r.MAPE = Round2(r.RawMAPE)
	r.Accuracy = Round2(r.RawAccuracy)
	return r, nil
}

// Returns zero for an empty set
func mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return stat.Mean(x, nil)
}

// Round to 2 decimal places
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
