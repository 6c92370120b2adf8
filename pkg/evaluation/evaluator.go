package evaluation

import (
	"time"
)

// OverallMetrics is the unweighted mean of the per-video metrics.
// A video with few ground truth classes counts as much as a video with many.
type OverallMetrics struct {
	Videos      int     `json:"videos"`
	AvgMAE      float64 `json:"avg_mae"`
	AvgMAPE     float64 `json:"avg_mape"`
	AvgAccuracy float64 `json:"avg_accuracy"`
}

// SkippedVideo is a video that produced no result, such as a file that could not be opened
type SkippedVideo struct {
	Video  string `json:"video"`
	Reason string `json:"reason"`
}

// Report is the persisted output of an evaluation run
type Report struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Results     []*Result      `json:"results"`
	Overall     OverallMetrics `json:"overall"`
	Skipped     []SkippedVideo `json:"skipped,omitempty"`
}

// Evaluator accumulates per-video results, so that they can be summarized at the end of a batch.
type Evaluator struct {
	results []*Result
	skipped []SkippedVideo
}

func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Add a completed video result
func (e *Evaluator) Add(r *Result) {
	e.results = append(e.results, r)
}

// Skip records a video that could not be evaluated. It does not count towards the overall averages.
func (e *Evaluator) Skip(video string, reason error) {
	e.skipped = append(e.skipped, SkippedVideo{Video: video, Reason: reason.Error()})
}

func (e *Evaluator) Results() []*Result {
	return e.results
}

func (e *Evaluator) Skipped() []SkippedVideo {
	return e.skipped
}

// Overall computes the average metrics across all videos added so far
func (e *Evaluator) Overall() OverallMetrics {
	return ScoreAll(e.results)
}

// Report builds a report of everything accumulated so far
func (e *Evaluator) Report() *Report {
	return &Report{
		GeneratedAt: time.Now().UTC(),
		Results:     e.results,
		Overall:     e.Overall(),
		Skipped:     e.skipped,
	}
}

// ScoreAll averages MAE, MAPE, and accuracy across videos.
// We average the raw values, and round only the final result.
func ScoreAll(results []*Result) OverallMetrics {
	if len(results) == 0 {
		return OverallMetrics{}
	}
	maes := make([]float64, len(results))
	mapes := make([]float64, len(results))
	accs := make([]float64, len(results))
	for i, r := range results {
		maes[i] = r.RawMAE
		mapes[i] = r.RawMAPE
		accs[i] = r.RawAccuracy
	}
	return OverallMetrics{
		Videos:      len(results),
		AvgMAE:      Round2(mean(maes)),
		AvgMAPE:     Round2(mean(mapes)),
		AvgAccuracy: Round2(mean(accs)),
	}
}
