package indicators

import "math"

// Mean returns the arithmetic mean, 0 for an empty slice
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the population standard deviation
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(values)))
}

// ZScoreLast scores the last value against the window values preceding it. A flat reference
// window yields 0. ok is false when fewer than window+1 values exist.
func ZScoreLast(values []float64, window int) (z float64, ok bool) {
	if window < 2 || len(values) < window+1 {
		return 0, false
	}
	ref := values[len(values)-window-1 : len(values)-1]
	sd := StdDev(ref)
	if sd == 0 {
		return 0, true
	}
	return (values[len(values)-1] - Mean(ref)) / sd, true
}

// Clip bounds v to [lo, hi]; NaN maps to lo
func Clip(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Scale maps v linearly from [floor, ceiling] onto [0, 1], clipped
func Scale(v, floor, ceiling float64) float64 {
	if ceiling <= floor {
		if v >= ceiling {
			return 1
		}
		return 0
	}
	return Clip((v-floor)/(ceiling-floor), 0, 1)
}

// PercentRank returns the fraction of history values strictly below v plus half the ties
func PercentRank(history []float64, v float64) float64 {
	if len(history) == 0 {
		return 0.5
	}
	below, equal := 0, 0
	for _, h := range history {
		switch {
		case h < v:
			below++
		case h == v:
			equal++
		}
	}
	return (float64(below) + 0.5*float64(equal)) / float64(len(history))
}
