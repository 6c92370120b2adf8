package perfstats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRollingAverage(t *testing.T) {
	r := NewRollingAverage(3)
	require.Equal(t, 0.0, r.Average())
	r.AddSample(3)
	require.Equal(t, 3.0, r.Average())
	r.AddSample(6)
	r.AddSample(9)
	require.Equal(t, 6.0, r.Average())
	// Oldest sample (3) falls out
	r.AddSample(12)
	require.Equal(t, 9.0, r.Average())
	require.Equal(t, 3, r.Len())
}

func TestFPSCounter(t *testing.T) {
	f := NewFPSCounter(DefaultFPSWindow)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 100; i++ {
		f.Tick(now)
		// 10 FPS for the first 50 frames, then 20 FPS
		if i < 50 {
			now = now.Add(100 * time.Millisecond)
		} else {
			now = now.Add(50 * time.Millisecond)
		}
	}
	require.EqualValues(t, 100, f.Frames())
	// The last 30 intervals were all at 20 FPS
	require.InDelta(t, 20.0, f.FPS(), 1e-6)
	// 99 intervals over 50*0.1 + 49*0.05 seconds
	require.InDelta(t, 99/(5.0+2.45), f.OverallFPS(), 1e-6)
}

func TestTimeAccumulator(t *testing.T) {
	a := TimeAccumulator{}
	require.Equal(t, time.Duration(0), a.Average())
	a.AddSample(time.Second)
	a.AddSample(3 * time.Second)
	require.Equal(t, 2*time.Second, a.Average())
}
