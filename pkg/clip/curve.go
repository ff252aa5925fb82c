package clip

import "sort"

// Curve maps a time in seconds to a parameter value.
type Curve interface {
	Evaluate(t float64) float64
}

// Point is a (time, value) control point.
type Point struct {
	T float64
	V float64
}

// SegmentKind selects how a segment interpolates between its points.
type SegmentKind int

const (
	SegmentLinear SegmentKind = iota
	SegmentBezier
	SegmentStepped
	SegmentInverseStepped
)

// Segment spans from Points[0] to the last point. Linear, stepped and
// inverse stepped segments carry two points; bezier segments carry four
// (start, two control points, end).
type Segment struct {
	Kind   SegmentKind
	Points []Point
}

func (s Segment) start() Point { return s.Points[0] }
func (s Segment) end() Point   { return s.Points[len(s.Points)-1] }

func (s Segment) evaluate(t float64) float64 {
	p0, p1 := s.start(), s.end()
	switch s.Kind {
	case SegmentStepped:
		return p0.V
	case SegmentInverseStepped:
		return p1.V
	case SegmentBezier:
		if len(s.Points) == 4 {
			return bezier(s.Points, ratio(t, p0.T, p1.T))
		}
	}
	return lerp(p0.V, p1.V, ratio(t, p0.T, p1.T))
}

// bezier evaluates a cubic curve with de Casteljau on the time ratio.
func bezier(pts []Point, r float64) float64 {
	p01 := lerpPoint(pts[0], pts[1], r)
	p12 := lerpPoint(pts[1], pts[2], r)
	p23 := lerpPoint(pts[2], pts[3], r)
	p012 := lerpPoint(p01, p12, r)
	p123 := lerpPoint(p12, p23, r)
	return lerpPoint(p012, p123, r).V
}

// Segments is a piecewise curve; consecutive segments share endpoints.
type Segments []Segment

// Evaluate implements Curve. Times before the first point hold the first
// value and times past the last point hold the last value.
func (s Segments) Evaluate(t float64) float64 {
	if len(s) == 0 {
		return 0
	}
	if t <= s[0].start().T {
		return s[0].start().V
	}
	i := sort.Search(len(s), func(i int) bool {
		return s[i].end().T > t
	})
	if i >= len(s) {
		return s[len(s)-1].end().V
	}
	return s[i].evaluate(t)
}

// Frames is a curve sampled at a fixed frame rate, linearly interpolated
// between samples.
type Frames struct {
	FPS    float64
	Values []float64
}

// Evaluate implements Curve.
func (f Frames) Evaluate(t float64) float64 {
	n := len(f.Values)
	if n == 0 {
		return 0
	}
	if n == 1 || f.FPS <= 0 || t <= 0 {
		return f.Values[0]
	}
	pos := t * f.FPS
	idx := int(pos)
	if idx >= n-1 {
		return f.Values[n-1]
	}
	return lerp(f.Values[idx], f.Values[idx+1], pos-float64(idx))
}

// Duration is the time of the last sample.
func (f Frames) Duration() float64 {
	if f.FPS <= 0 || len(f.Values) == 0 {
		return 0
	}
	return float64(len(f.Values)) / f.FPS
}
