package clip

import "math"

// lerp performs linear interpolation between two values.
func lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}

func lerpPoint(a, b Point, t float64) Point {
	return Point{T: lerp(a.T, b.T, t), V: lerp(a.V, b.V, t)}
}

// ratio returns where t sits between from and to, clamped to [0, 1].
func ratio(t, from, to float64) float64 {
	if to <= from {
		return 1
	}
	return clamp((t-from)/(to-from), 0, 1)
}

// clamp restricts a value to a range.
func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Ease is the sine easing used for fades: 0 at x<=0, 1 at x>=1.
func Ease(x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}
	return 0.5 - 0.5*math.Cos(x*math.Pi)
}
