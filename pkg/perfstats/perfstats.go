// Package perfstats measures throughput of the frame loop.
package perfstats

import (
	"time"

	"github.com/bmharper/ringbuffer"
)

// Two scalars (N samples and X total amount), which can measure total and average values.
type Accumulator struct {
	Samples int64
	Total   float64
}

func (a *Accumulator) Reset() {
	a.Samples = 0
	a.Total = 0
}

func (a *Accumulator) AddSample(v float64) {
	a.Samples++
	a.Total += v
}

func (a *Accumulator) Average() float64 {
	if a.Samples == 0 {
		return 0
	}
	return a.Total / float64(a.Samples)
}

// Accumulate samples of how long something took
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
}

func (a *TimeAccumulator) Reset() {
	a.Samples = 0
	a.Total = 0
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

// RollingAverage is the mean of the most recent N samples
type RollingAverage struct {
	samples ringbuffer.RingP[float64]
}

func NewRollingAverage(size int) *RollingAverage {
	if size < 1 {
		size = 1
	}
	return &RollingAverage{
		samples: ringbuffer.NewRingP[float64](size),
	}
}

// Add a sample, evicting the oldest if the window is full
func (r *RollingAverage) AddSample(v float64) {
	r.samples.Add(v)
}

// Number of samples currently in the window
func (r *RollingAverage) Len() int {
	return r.samples.Len()
}

func (r *RollingAverage) Average() float64 {
	n := r.samples.Len()
	if n == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += r.samples.Peek(i)
	}
	return sum / float64(n)
}

// FPSCounter measures frames per second over a rolling window of frame intervals
type FPSCounter struct {
	window *RollingAverage
	last   time.Time
	frames int64
	start  time.Time
}

// DefaultFPSWindow is the number of frames over which FPS is averaged
const DefaultFPSWindow = 30

func NewFPSCounter(window int) *FPSCounter {
	return &FPSCounter{
		window: NewRollingAverage(window),
	}
}

// Tick records the completion of a frame at time 'now'
func (f *FPSCounter) Tick(now time.Time) {
	if f.frames == 0 {
		f.start = now
	} else {
		elapsed := now.Sub(f.last).Seconds()
		if elapsed > 0 {
			f.window.AddSample(1 / elapsed)
		}
	}
	f.last = now
	f.frames++
}

// FPS is the rolling average FPS
func (f *FPSCounter) FPS() float64 {
	return f.window.Average()
}

// Frames returns the number of ticks
func (f *FPSCounter) Frames() int64 {
	return f.frames
}

// OverallFPS is the average FPS since the first tick
func (f *FPSCounter) OverallFPS() float64 {
	if f.frames < 2 {
		return 0
	}
	elapsed := f.last.Sub(f.start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(f.frames-1) / elapsed
}
