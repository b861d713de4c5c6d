package profile

import (
	"sort"
	"time"
)

// Interpolate resamples the piecewise-linear curve through points at n+1
// evenly spaced offsets between zero and the last offset. n < 1 returns a
// copy of points.
func Interpolate(points []Point, n int) []Point {
	if n < 1 || len(points) < 2 {
		return append([]Point(nil), points...)
	}

	last := points[len(points)-1].Offset
	out := make([]Point, n+1)
	for i := 0; i <= n; i++ {
		x := time.Duration(float64(last) * float64(i) / float64(n))
		if i == n {
			x = last
		}
		out[i] = Point{Offset: x, Value: valueAt(points, x)}
	}
	return out
}

// valueAt evaluates the curve at x. Outside the curve the nearest end value
// is returned; on a vertical jump the later value wins.
func valueAt(points []Point, x time.Duration) float64 {
	if x <= points[0].Offset {
		return points[0].Value
	}

	// j is the last point with Offset <= x.
	j := sort.Search(len(points), func(i int) bool { return points[i].Offset > x }) - 1
	if j >= len(points)-1 {
		return points[len(points)-1].Value
	}

	a, b := points[j], points[j+1]
	span := b.Offset - a.Offset
	if span <= 0 {
		return b.Value
	}
	frac := float64(x-a.Offset) / float64(span)
	return a.Value + (b.Value-a.Value)*frac
}
