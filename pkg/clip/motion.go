// Package clip holds decoded motions and expressions and the players
// that blend them into a parameter buffer.
//
// Both Cubism runtimes decode into these types, so everything above the
// format decoders is runtime independent.
package clip

import (
	"math"

	"github.com/teslashibe/go-live2d/pkg/params"
)

// TrackKind identifies what a track drives.
type TrackKind int

const (
	// TrackParameter blends into a model parameter.
	TrackParameter TrackKind = iota
	// TrackPartOpacity overwrites a part's opacity.
	TrackPartOpacity
)

// Track drives one id with one curve.
type Track struct {
	ID    string
	Kind  TrackKind
	Curve Curve
}

// Motion is a timed animation clip. Times are in seconds.
type Motion struct {
	Name     string
	Duration float64
	Loop     bool
	FadeIn   float64
	FadeOut  float64
	Tracks   []Track
}

// Apply writes the motion at time t (seconds since start) with the given
// fade weight. Looping motions wrap t.
func (m *Motion) Apply(p *params.Parameters, t, weight float64) {
	if m.Loop && m.Duration > 0 {
		t = math.Mod(t, m.Duration)
	}
	for _, tr := range m.Tracks {
		v := tr.Curve.Evaluate(t)
		switch tr.Kind {
		case TrackPartOpacity:
			p.Set(tr.ID, v)
		default:
			p.Blend(tr.ID, v, weight)
		}
	}
}

// Finished reports whether a non-looping motion has run its course.
func (m *Motion) Finished(t float64) bool {
	return !m.Loop && t >= m.Duration
}
