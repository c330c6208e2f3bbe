// Package unimodal locates the transition point in a single-peaked histogram.
// The bounding-box volume filter uses it to separate the population of
// normal-sized reflections from the long tail of overlarge outliers.
package unimodal

// MaximumDeviation returns the index of the histogram bin with the greatest
// perpendicular deviation from the chord drawn from the histogram peak to its
// last non-empty bin (triangle thresholding). For a unimodal distribution
// with a tail this is the corner where the peak falls away into the tail.
//
// The search only considers bins after the peak; a histogram whose peak is
// its final non-empty bin, or an empty histogram, yields index 0.
func MaximumDeviation(hist []float64) int {
	if len(hist) == 0 {
		return 0
	}

	peak := 0
	for i, v := range hist {
		if v > hist[peak] {
			peak = i
		}
	}
	tail := len(hist) - 1
	for tail > peak && hist[tail] == 0 {
		tail--
	}
	if tail <= peak {
		return 0
	}

	// Chord from (peak, hist[peak]) to (tail, hist[tail]); the deviation of
	// bin i is its perpendicular distance to that line. The normalization
	// constant is shared by every bin so it is dropped.
	dx := float64(tail - peak)
	dy := hist[tail] - hist[peak]
	best, bestDev := 0, 0.0
	for i := peak + 1; i <= tail; i++ {
		dev := dy*float64(i-peak) - dx*(hist[i]-hist[peak])
		if dev < 0 {
			dev = -dev
		}
		if dev > bestDev {
			bestDev = dev
			best = i
		}
	}
	return best
}
