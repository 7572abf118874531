// Package stats holds the numeric kernel of the analysis pipeline: summary
// statistics, update-rate estimation from inter-arrival times, Pearson
// correlation and time-grid alignment of sampled series. All functions are
// pure and never return values outside their documented ranges.
package stats

import (
	"math"
	"sort"
	"time"
)

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the population standard deviation of values, or 0 for
// fewer than two values.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)))
}

// MinMax returns the minimum and maximum of values. Both are 0 for an empty
// slice.
func MinMax(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// Median returns the median of values, or 0 for an empty slice. The input is
// not modified.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// UpdateRateHz estimates a point's update rate from sample timestamps as
// 1000 / median(inter-arrival ms), using at most maxSamples of the most
// recent timestamps. Returns 0 when fewer than two timestamps are available
// or the median interval is zero.
func UpdateRateHz(timestamps []time.Time, maxSamples int) float64 {
	if maxSamples > 0 && len(timestamps) > maxSamples {
		timestamps = timestamps[len(timestamps)-maxSamples:]
	}
	if len(timestamps) < 2 {
		return 0
	}
	sorted := make([]time.Time, len(timestamps))
	copy(sorted, timestamps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	intervals := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		ms := float64(sorted[i].Sub(sorted[i-1]).Milliseconds())
		if ms > 0 {
			intervals = append(intervals, ms)
		}
	}
	if len(intervals) == 0 {
		return 0
	}
	medianMs := Median(intervals)
	if medianMs <= 0 {
		return 0
	}
	return 1000 / medianMs
}

// Pearson returns the linear correlation coefficient of two equal-length
// series in [-1, 1]. Undefined correlation (short input, length mismatch or
// zero variance in either series) returns 0 rather than an error, so callers
// treat it as non-significant.
func Pearson(x, y []float64) float64 {
	n := len(x)
	if n < 2 || n != len(y) {
		return 0
	}
	meanX, meanY := Mean(x), Mean(y)
	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx := x[i] - meanX
		dy := y[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	r := cov / math.Sqrt(varX*varY)
	// Guard against floating-point drift past the bounds.
	if r > 1 {
		return 1
	}
	if r < -1 {
		return -1
	}
	return r
}

// AlignSeries resamples two timestamped series onto a shared grid of step
// intervals between start and end, averaging samples per bucket and carrying
// the last observation forward across empty buckets. Buckets before the first
// observation of either series are dropped, so the returned slices are equal
// length and cover only the jointly observed portion of the window.
func AlignSeries(aTimes []time.Time, aValues []float64, bTimes []time.Time, bValues []float64, start, end time.Time, step time.Duration) ([]float64, []float64) {
	if step <= 0 || !end.After(start) {
		return nil, nil
	}
	buckets := int(end.Sub(start)/step) + 1

	gridA := bucketize(aTimes, aValues, start, step, buckets)
	gridB := bucketize(bTimes, bValues, start, step, buckets)

	outA := make([]float64, 0, buckets)
	outB := make([]float64, 0, buckets)
	var lastA, lastB float64
	haveA, haveB := false, false
	for i := 0; i < buckets; i++ {
		if a, ok := gridA[i]; ok {
			lastA, haveA = a, true
		}
		if b, ok := gridB[i]; ok {
			lastB, haveB = b, true
		}
		if haveA && haveB {
			outA = append(outA, lastA)
			outB = append(outB, lastB)
		}
	}
	return outA, outB
}

// bucketize averages values into step-sized buckets indexed from start.
func bucketize(times []time.Time, values []float64, start time.Time, step time.Duration, buckets int) map[int]float64 {
	sums := make(map[int]float64)
	counts := make(map[int]int)
	for i, ts := range times {
		if i >= len(values) {
			break
		}
		idx := int(ts.Sub(start) / step)
		if idx < 0 || idx >= buckets {
			continue
		}
		sums[idx] += values[i]
		counts[idx]++
	}
	out := make(map[int]float64, len(sums))
	for idx, sum := range sums {
		out[idx] = sum / float64(counts[idx])
	}
	return out
}
