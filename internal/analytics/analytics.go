// Package analytics holds the numeric helpers behind chart rendering and the
// client visualizations: outlier removal and trend-line smoothing.
package analytics

import (
	"math"
	"sort"
)

// Point is one chart point. X is a position (trade index or timestamp),
// Y a price.
type Point struct {
	X int64
	Y int64
}

// RemoveOutliersIQR drops points outside [Q1-1.5·IQR, Q3+1.5·IQR], with Q1
// and Q3 taken positionally at ⌊n/4⌋ and ⌊3n/4⌋ of the sorted values (not
// interpolated). The input slice is not mutated; empty input comes back
// unchanged.
func RemoveOutliersIQR(points []Point) []Point {
	if len(points) == 0 {
		return points
	}
	values := make([]int64, len(points))
	for i, p := range points {
		values[i] = p.Y
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	q1 := float64(values[len(values)/4])
	q3 := float64(values[len(values)*3/4])
	iqr := q3 - q1
	lower := q1 - 1.5*iqr
	upper := q3 + 1.5*iqr

	kept := make([]Point, 0, len(points))
	for _, p := range points {
		y := float64(p.Y)
		if y >= lower && y <= upper {
			kept = append(kept, p)
		}
	}
	return kept
}

// RemoveOutliersStdDev keeps points within threshold standard deviations of
// the mean. A non-positive threshold falls back to 3. The input slice is not
// mutated; empty input comes back unchanged.
func RemoveOutliersStdDev(points []Point, threshold float64) []Point {
	if len(points) == 0 {
		return points
	}
	if threshold <= 0 {
		threshold = 3
	}

	var sum float64
	for _, p := range points {
		sum += float64(p.Y)
	}
	mean := sum / float64(len(points))

	var variance float64
	for _, p := range points {
		d := float64(p.Y) - mean
		variance += d * d
	}
	stdDev := math.Sqrt(variance / float64(len(points)))

	kept := make([]Point, 0, len(points))
	for _, p := range points {
		if math.Abs(float64(p.Y)-mean) <= threshold*stdDev {
			kept = append(kept, p)
		}
	}
	return kept
}

// MovingAverage computes a centered moving average: for each point at sorted
// index i, Y becomes the mean over the window [i-⌊w/2⌋, i+⌊w/2⌋] clipped to
// the array bounds, rounded to the nearest integer. X values are preserved.
// Fewer than two points yield no line.
func MovingAverage(points []Point, window int) []Point {
	if len(points) < 2 {
		return nil
	}
	if window < 1 {
		window = 1
	}

	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].X < sorted[j].X })

	half := window / 2
	smoothed := make([]Point, len(sorted))
	for i := range sorted {
		start := i - half
		if start < 0 {
			start = 0
		}
		end := i + half + 1
		if end > len(sorted) {
			end = len(sorted)
		}
		var sum float64
		for _, p := range sorted[start:end] {
			sum += float64(p.Y)
		}
		smoothed[i] = Point{
			X: sorted[i].X,
			Y: int64(math.Round(sum / float64(end-start))),
		}
	}
	return smoothed
}

// ThreeTickIndices picks evenly spread label positions for n points:
// first, middle, and last.
func ThreeTickIndices(n int) []int {
	switch {
	case n <= 0:
		return nil
	case n == 1:
		return []int{0}
	case n == 2:
		return []int{0, 1}
	default:
		return []int{0, n / 2, n - 1}
	}
}
