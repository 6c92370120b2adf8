// Package counting reduces per-frame animal observations into running counts.
package counting

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ClassLabel is the name of an animal class, eg "horse"
type ClassLabel = string

// Observation is the number of animals of each class seen in a single frame.
type Observation map[ClassLabel]int

var ErrNegativeCount = errors.New("Negative count")
var ErrUnknownClass = errors.New("Class is not configured")

// ValidationError is returned when an observation violates the counting invariants.
// The aggregator state is untouched when Update returns a ValidationError.
type ValidationError struct {
	Label ClassLabel
	Count int
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Invalid observation for '%v' (count %v): %v", e.Label, e.Count, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Summary is a snapshot of an Aggregator
type Summary struct {
	Current      map[ClassLabel]int `json:"current"`      // Counts from the most recent frame
	Maximum      map[ClassLabel]int `json:"maximum"`      // Highest count of each class seen in any single frame
	TotalCurrent int                `json:"totalCurrent"` // Sum of Current
	TotalMax     int                `json:"totalMax"`     // Sum of Maximum
	ClassCount   int                `json:"classCount"`   // Number of classes known to the session
}

// Aggregator maintains current and running-maximum counts per class for one counting session.
// An Aggregator is owned by a single session, and is not safe for concurrent use.
type Aggregator struct {
	allowed map[ClassLabel]bool // If empty, then any label is accepted
	order   []ClassLabel        // Configured classes, in configuration order
	current Observation
	maximum Observation
	seen    map[ClassLabel]bool
	frames  int
}

// Create a new aggregator.
// allowed is the list of configured classes. If it is empty, then all labels are accepted.
func NewAggregator(allowed []ClassLabel) *Aggregator {
	a := &Aggregator{
		allowed: map[ClassLabel]bool{},
		order:   slices.Clone(allowed),
	}
	for _, label := range allowed {
		a.allowed[label] = true
	}
	a.Reset()
	return a
}

// Reset clears all counts. Call this at the start of a counting session.
func (a *Aggregator) Reset() {
	a.current = Observation{}
	a.maximum = Observation{}
	a.seen = map[ClassLabel]bool{}
	a.frames = 0
}

// Update replaces the current counts with obs, and raises the running maximum
// of every label in obs.
func (a *Aggregator) Update(obs Observation) error {
	if err := a.Validate(obs); err != nil {
		return err
	}
	a.current = maps.Clone(obs)
	if a.current == nil {
		a.current = Observation{}
	}
	for label, count := range obs {
		a.maximum[label] = max(a.maximum[label], count)
		a.seen[label] = true
	}
	a.frames++
	return nil
}

// Validate checks obs without changing any state
func (a *Aggregator) Validate(obs Observation) error {
	// Iterate in sorted order so that the reported error is deterministic
	for _, label := range slices.Sorted(maps.Keys(obs)) {
		count := obs[label]
		if count < 0 {
			return &ValidationError{Label: label, Count: count, Err: ErrNegativeCount}
		}
		if len(a.allowed) != 0 && !a.allowed[label] {
			return &ValidationError{Label: label, Count: count, Err: ErrUnknownClass}
		}
	}
	return nil
}

// Summary returns a copy of the current state. It does not mutate the aggregator.
func (a *Aggregator) Summary() Summary {
	s := Summary{
		Current: maps.Clone(a.current),
		Maximum: maps.Clone(a.maximum),
	}
	for _, c := range a.current {
		s.TotalCurrent += c
	}
	for _, c := range a.maximum {
		s.TotalMax += c
	}
	if len(a.allowed) != 0 {
		s.ClassCount = len(a.allowed)
	} else {
		s.ClassCount = len(a.seen)
	}
	return s
}

// Number of frames that have been successfully applied since the last Reset
func (a *Aggregator) Frames() int {
	return a.frames
}

// Classes returns the configured classes in configuration order.
// If no classes were configured, returns the labels seen so far, sorted.
func (a *Aggregator) Classes() []ClassLabel {
	if len(a.order) != 0 {
		return slices.Clone(a.order)
	}
	return slices.Sorted(maps.Keys(a.seen))
}

// ObservationFromLabels counts the number of occurrences of each label.
// This is how a list of detections in one frame becomes an Observation.
func ObservationFromLabels(labels []ClassLabel) Observation {
	obs := Observation{}
	for _, label := range labels {
		obs[label]++
	}
	return obs
}

// Total returns the sum of all counts in the observation
func (o Observation) Total() int {
	total := 0
	for _, c := range o {
		total += c
	}
	return total
}
