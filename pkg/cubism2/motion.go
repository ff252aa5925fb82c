// Package cubism2 decodes Cubism 2 motion (.mtn) and expression
// (.exp.json) files and loads them for the playback managers.
package cubism2

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/teslashibe/go-live2d/pkg/clip"
)

// ErrFormat is returned for files that do not decode.
var ErrFormat = errors.New("cubism2: bad format")

const (
	// DefaultFPS is the frame rate of a .mtn without $fps.
	DefaultFPS = 30.0

	// DefaultFade is the fade time, in seconds, used when neither the
	// file nor the definition sets one.
	DefaultFade = 0.5

	visiblePrefix = "VISIBLE:"
)

// ParseMotion decodes a .mtn file: "$key=value" meta lines, then one
// "ID=v0,v1,..." line per parameter, sampled at $fps. "VISIBLE:ID" lines
// drive part opacity; other prefixed lines are ignored.
func ParseMotion(data []byte, name string) (*clip.Motion, error) {
	m := &clip.Motion{Name: name, FadeIn: DefaultFade, FadeOut: DefaultFade}
	fps := DefaultFPS

	type raw struct {
		id     string
		kind   clip.TrackKind
		values []float64
	}
	var tracks []raw

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || text[0] == '#' {
			continue
		}
		key, value, ok := strings.Cut(text, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)

		if strings.HasPrefix(key, "$") {
			v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if err != nil {
				// Per-parameter fades ("$fadein:ID") and unknown keys are skipped.
				continue
			}
			switch key {
			case "$fps":
				if v > 0 {
					fps = v
				}
			case "$fadein":
				m.FadeIn = v / 1000
			case "$fadeout":
				m.FadeOut = v / 1000
			}
			continue
		}

		kind := clip.TrackParameter
		if strings.HasPrefix(key, visiblePrefix) {
			kind = clip.TrackPartOpacity
			key = strings.TrimPrefix(key, visiblePrefix)
		} else if strings.Contains(key, ":") {
			continue
		}

		values, err := parseValues(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %v", ErrFormat, name, line, err)
		}
		tracks = append(tracks, raw{id: key, kind: kind, values: values})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFormat, name, err)
	}

	for _, t := range tracks {
		curve := clip.Frames{FPS: fps, Values: t.values}
		m.Tracks = append(m.Tracks, clip.Track{ID: t.id, Kind: t.kind, Curve: curve})
		m.Duration = max(m.Duration, curve.Duration())
	}
	return m, nil
}

func parseValues(s string) ([]float64, error) {
	fields := strings.Split(s, ",")
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, errors.New("no values")
	}
	return out, nil
}
