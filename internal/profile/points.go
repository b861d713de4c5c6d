package profile

import "time"

// StepsFromPoints derives steps from a plotted curve by successive
// differences: step i spans points i and i+1 and targets the value of i+1.
func StepsFromPoints(points []Point) []Step {
	if len(points) < 2 {
		return nil
	}
	steps := make([]Step, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		steps = append(steps, Step{
			Duration: points[i].Offset - points[i-1].Offset,
			Target:   points[i].Value,
		})
	}
	return steps
}

// PointsFromSteps is the inverse of StepsFromPoints for a curve starting at
// offset zero with the value start.
func PointsFromSteps(steps []Step, start float64) []Point {
	points := make([]Point, 0, len(steps)+1)
	points = append(points, Point{Value: start})

	var at time.Duration
	for _, s := range steps {
		at += s.Duration
		points = append(points, Point{Offset: at, Value: s.Target})
	}
	return points
}

// HoldPoints renders steps as flat segments, two points per step, the way
// an absolute profile is previewed when each value is held for its step.
func HoldPoints(steps []Step) []Point {
	points := make([]Point, 0, 2*len(steps))

	var at time.Duration
	for _, s := range steps {
		points = append(points, Point{Offset: at, Value: s.Target})
		at += s.Duration
		points = append(points, Point{Offset: at, Value: s.Target})
	}
	return points
}

// SlopePoints integrates slope segments from start. Every value is clamped
// to b, and later segments continue from the clamped value.
func SlopePoints(segments []Segment, start float64, b Bounds) []Point {
	points := make([]Point, 0, len(segments)+1)

	y := b.Clamp(start)
	points = append(points, Point{Value: y})

	var at time.Duration
	for _, seg := range segments {
		at += seg.Duration
		y = b.Clamp(y + seg.Rate*float64(seg.Duration)/float64(Unit))
		points = append(points, Point{Offset: at, Value: y})
	}
	return points
}

// Shift delays every point by d.
func Shift(points []Point, d time.Duration) []Point {
	out := make([]Point, len(points))
	for i, p := range points {
		out[i] = Point{Offset: p.Offset + d, Value: p.Value}
	}
	return out
}
