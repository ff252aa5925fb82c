// Package cubism4 decodes Cubism 4 motion (.motion3.json) and expression
// (.exp3.json) files and loads them for the playback managers.
package cubism4

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/teslashibe/go-live2d/pkg/clip"
)

var (
	// ErrFormat is returned for files that do not decode.
	ErrFormat = errors.New("cubism4: bad format")
)

// DefaultFade is the fade time, in seconds, used when neither the file
// nor the definition sets one.
const DefaultFade = 1.0

// ParseMotion decodes a .motion3.json file.
func ParseMotion(data []byte, name string) (*clip.Motion, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: %s: invalid json", ErrFormat, name)
	}
	root := gjson.ParseBytes(data)
	meta := root.Get("Meta")

	m := &clip.Motion{
		Name:     name,
		Duration: meta.Get("Duration").Float(),
		Loop:     meta.Get("Loop").Bool(),
		FadeIn:   floatOr(meta.Get("FadeInTime"), DefaultFade),
		FadeOut:  floatOr(meta.Get("FadeOutTime"), DefaultFade),
	}

	for i, c := range root.Get("Curves").Array() {
		var kind clip.TrackKind
		switch c.Get("Target").String() {
		case "Parameter":
			kind = clip.TrackParameter
		case "PartOpacity":
			kind = clip.TrackPartOpacity
		default:
			// Model curves drive eye blink and lip sync weights.
			continue
		}

		segs, err := parseSegments(c.Get("Segments"))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: curve %d (%s): %v", ErrFormat, name, i, c.Get("Id").String(), err)
		}
		m.Tracks = append(m.Tracks, clip.Track{
			ID:    c.Get("Id").String(),
			Kind:  kind,
			Curve: segs,
		})
		if last := segs[len(segs)-1].Points; meta.Get("Duration").Float() <= 0 {
			m.Duration = max(m.Duration, last[len(last)-1].T)
		}
	}
	return m, nil
}

// parseSegments decodes the flat segment encoding: a start point, then
// for each segment its type followed by its points, the last of which
// starts the next segment.
func parseSegments(r gjson.Result) (clip.Segments, error) {
	arr := r.Array()
	f := make([]float64, len(arr))
	for i, v := range arr {
		f[i] = v.Float()
	}
	if len(f) < 2 {
		return nil, errors.New("no start point")
	}

	p := clip.Point{T: f[0], V: f[1]}
	var segs clip.Segments
	for i := 2; i < len(f); {
		kind := clip.SegmentKind(f[i])
		i++

		n := 1
		switch kind {
		case clip.SegmentLinear, clip.SegmentStepped, clip.SegmentInverseStepped:
		case clip.SegmentBezier:
			n = 3
		default:
			return nil, fmt.Errorf("unknown segment type %v", f[i-1])
		}
		if i+2*n > len(f) {
			return nil, errors.New("truncated segment")
		}

		pts := make([]clip.Point, 0, n+1)
		pts = append(pts, p)
		for k := 0; k < n; k++ {
			pts = append(pts, clip.Point{T: f[i], V: f[i+1]})
			i += 2
		}
		segs = append(segs, clip.Segment{Kind: kind, Points: pts})
		p = pts[len(pts)-1]
	}

	if len(segs) == 0 {
		segs = clip.Segments{{Kind: clip.SegmentLinear, Points: []clip.Point{p, p}}}
	}
	return segs, nil
}

func floatOr(r gjson.Result, def float64) float64 {
	if !r.Exists() || r.Float() < 0 {
		return def
	}
	return r.Float()
}
