package bridge

import (
	"math"
	"sync"
	"time"
)

const (
	// rateWindow is the number of recent arrivals kept per session
	rateWindow = 64

	// A source is stable when FPS stddev < 15% of mean FPS and mean jitter
	// < 20% of the expected inter-frame interval.
	fpsStabilityThreshold    = 0.15
	jitterStabilityThreshold = 0.20
)

// RateStats describes the inbound frame rate over the recent window
type RateStats struct {
	Frames    int     `json:"frames"`
	FPSMean   float64 `json:"fps_mean"`
	FPSStdDev float64 `json:"fps_stddev"`
	FPSMin    float64 `json:"fps_min"`
	FPSMax    float64 `json:"fps_max"`

	// Jitter is the deviation from the expected interval, in seconds
	JitterMean float64 `json:"jitter_mean_s"`
	JitterMax  float64 `json:"jitter_max_s"`

	IsStable bool `json:"is_stable"`
}

// rateTracker is a fixed ring of arrival times
type rateTracker struct {
	mu    sync.Mutex
	times [rateWindow]time.Time
	next  int
	count int
}

func (r *rateTracker) observe(t time.Time) {
	r.mu.Lock()
	r.times[r.next] = t
	r.next = (r.next + 1) % rateWindow
	if r.count < rateWindow {
		r.count++
	}
	r.mu.Unlock()
}

// snapshot returns the recorded arrivals, oldest first
func (r *rateTracker) snapshot() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]time.Time, 0, r.count)
	start := (r.next - r.count + rateWindow) % rateWindow
	for i := 0; i < r.count; i++ {
		out = append(out, r.times[(start+i)%rateWindow])
	}
	return out
}

func (r *rateTracker) stats() RateStats {
	return CalculateRateStats(r.snapshot())
}

// CalculateRateStats derives frame-rate statistics from arrival times.
// Fewer than two arrivals yield zero rates and an unstable result.
func CalculateRateStats(arrivals []time.Time) RateStats {
	n := len(arrivals)
	stats := RateStats{Frames: n}
	if n < 2 {
		return stats
	}

	span := arrivals[n-1].Sub(arrivals[0]).Seconds()
	if span <= 0 {
		return stats
	}
	// n arrivals delimit n-1 intervals
	stats.FPSMean = float64(n-1) / span

	intervals := make([]float64, 0, n-1)
	instant := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		d := arrivals[i].Sub(arrivals[i-1]).Seconds()
		intervals = append(intervals, d)
		if d > 0 {
			instant = append(instant, 1.0/d)
		}
	}

	if len(instant) > 0 {
		stats.FPSMin, stats.FPSMax = instant[0], instant[0]
		var sumSquares float64
		for _, fps := range instant {
			stats.FPSMin = math.Min(stats.FPSMin, fps)
			stats.FPSMax = math.Max(stats.FPSMax, fps)
			diff := fps - stats.FPSMean
			sumSquares += diff * diff
		}
		stats.FPSStdDev = math.Sqrt(sumSquares / float64(len(instant)))
	}

	expected := 1.0 / stats.FPSMean
	var jitterSum float64
	for _, d := range intervals {
		j := math.Abs(d - expected)
		jitterSum += j
		stats.JitterMax = math.Max(stats.JitterMax, j)
	}
	stats.JitterMean = jitterSum / float64(len(intervals))

	stats.IsStable = stats.FPSStdDev < stats.FPSMean*fpsStabilityThreshold &&
		stats.JitterMean < expected*jitterStabilityThreshold
	return stats
}
