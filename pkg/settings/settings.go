// Package settings parses Live2D model settings files (model.json for
// Cubism 2, model3.json for Cubism 4) into the motion and expression
// definitions the playback managers work from.
package settings

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrInvalid is returned for data that is not valid JSON.
	ErrInvalid = errors.New("settings: invalid json")

	// ErrUnsupported is returned for JSON that is neither model.json nor model3.json.
	ErrUnsupported = errors.New("settings: unsupported model settings")
)

// Version is the Cubism runtime generation a settings file targets.
type Version int

const (
	Cubism2 Version = 2
	Cubism4 Version = 4
)

// String implements fmt.Stringer.
func (v Version) String() string {
	return fmt.Sprintf("cubism%d", int(v))
}

// Unset marks a fade time the settings file leaves to the motion file.
const Unset = -1.0

// Motion is one motion definition. Fade times are seconds or Unset.
type Motion struct {
	File    string  `json:"file"`
	Sound   string  `json:"sound,omitempty"`
	FadeIn  float64 `json:"fade_in"`
	FadeOut float64 `json:"fade_out"`
}

// Expression is one expression definition.
type Expression struct {
	Name string `json:"name"`
	File string `json:"file"`
}

// HitArea names a hit-testable drawable.
type HitArea struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Settings is a parsed settings file.
type Settings struct {
	Version  Version
	URL      string
	Name     string
	Moc      string
	Textures []string
	Physics  string
	Pose     string

	Motions     map[string][]Motion
	Expressions []Expression
	HitAreas    []HitArea

	LipSyncIDs  []string
	EyeBlinkIDs []string

	groups []string
}

// Parse decodes a settings file fetched from src. src is kept so relative
// file references can be resolved.
func Parse(data []byte, src string) (*Settings, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalid
	}
	root := gjson.ParseBytes(data)

	var s *Settings
	switch {
	case root.Get("FileReferences").Exists():
		s = parseCubism4(root)
	case root.Get("model").Exists():
		s = parseCubism2(root)
	default:
		return nil, ErrUnsupported
	}

	s.URL = src
	if s.Name == "" {
		s.Name = nameFromURL(src)
	}
	return s, nil
}

func parseCubism2(root gjson.Result) *Settings {
	s := &Settings{
		Version: Cubism2,
		Name:    root.Get("name").String(),
		Moc:     root.Get("model").String(),
		Physics: root.Get("physics").String(),
		Pose:    root.Get("pose").String(),
		Motions: make(map[string][]Motion),
	}
	for _, t := range root.Get("textures").Array() {
		s.Textures = append(s.Textures, t.String())
	}

	root.Get("motions").ForEach(func(group, defs gjson.Result) bool {
		name := group.String()
		s.groups = append(s.groups, name)
		list := []Motion{}
		for _, d := range defs.Array() {
			list = append(list, Motion{
				File:    d.Get("file").String(),
				Sound:   d.Get("sound").String(),
				FadeIn:  millis(d.Get("fade_in")),
				FadeOut: millis(d.Get("fade_out")),
			})
		}
		s.Motions[name] = list
		return true
	})

	for _, e := range root.Get("expressions").Array() {
		s.Expressions = append(s.Expressions, Expression{
			Name: e.Get("name").String(),
			File: e.Get("file").String(),
		})
	}
	for _, h := range root.Get("hit_areas").Array() {
		s.HitAreas = append(s.HitAreas, HitArea{Name: h.Get("name").String(), ID: h.Get("id").String()})
	}

	s.LipSyncIDs = []string{"PARAM_MOUTH_OPEN_Y"}
	s.EyeBlinkIDs = []string{"PARAM_EYE_L_OPEN", "PARAM_EYE_R_OPEN"}
	return s
}

func parseCubism4(root gjson.Result) *Settings {
	refs := root.Get("FileReferences")
	s := &Settings{
		Version: Cubism4,
		Moc:     refs.Get("Moc").String(),
		Physics: refs.Get("Physics").String(),
		Pose:    refs.Get("Pose").String(),
		Motions: make(map[string][]Motion),
	}
	for _, t := range refs.Get("Textures").Array() {
		s.Textures = append(s.Textures, t.String())
	}

	refs.Get("Motions").ForEach(func(group, defs gjson.Result) bool {
		name := group.String()
		s.groups = append(s.groups, name)
		list := []Motion{}
		for _, d := range defs.Array() {
			list = append(list, Motion{
				File:    d.Get("File").String(),
				Sound:   d.Get("Sound").String(),
				FadeIn:  seconds(d.Get("FadeInTime")),
				FadeOut: seconds(d.Get("FadeOutTime")),
			})
		}
		s.Motions[name] = list
		return true
	})

	for _, e := range refs.Get("Expressions").Array() {
		s.Expressions = append(s.Expressions, Expression{
			Name: e.Get("Name").String(),
			File: e.Get("File").String(),
		})
	}
	for _, h := range root.Get("HitAreas").Array() {
		s.HitAreas = append(s.HitAreas, HitArea{Name: h.Get("Name").String(), ID: h.Get("Id").String()})
	}

	for _, g := range root.Get("Groups").Array() {
		var ids []string
		for _, id := range g.Get("Ids").Array() {
			ids = append(ids, id.String())
		}
		switch g.Get("Name").String() {
		case "LipSync":
			s.LipSyncIDs = ids
		case "EyeBlink":
			s.EyeBlinkIDs = ids
		}
	}
	if len(s.LipSyncIDs) == 0 {
		s.LipSyncIDs = []string{"ParamMouthOpenY"}
	}
	return s
}

func millis(r gjson.Result) float64 {
	if !r.Exists() {
		return Unset
	}
	return r.Float() / 1000
}

func seconds(r gjson.Result) float64 {
	if !r.Exists() {
		return Unset
	}
	return r.Float()
}

// Groups returns the motion group names in file order.
func (s *Settings) Groups() []string {
	out := make([]string, len(s.groups))
	copy(out, s.groups)
	return out
}

// DefaultIdleGroup is the group the runtime auto-plays when nothing else is.
func (s *Settings) DefaultIdleGroup() string {
	if s.Version == Cubism4 {
		return "Idle"
	}
	return "idle"
}

// ExpressionIndex returns the index of the named expression or -1.
func (s *Settings) ExpressionIndex(name string) int {
	for i, e := range s.Expressions {
		if e.Name == name {
			return i
		}
	}
	return -1
}

// Resolve turns a file reference into an absolute URL or path relative to
// the settings file.
func (s *Settings) Resolve(file string) string {
	if file == "" {
		return ""
	}
	return ResolveURL(s.URL, file)
}

// ResolveURL resolves ref against base, which is either a URL or a
// filesystem path.
func ResolveURL(base, ref string) string {
	if isURL(ref) || filepath.IsAbs(ref) {
		return ref
	}
	if isURL(base) {
		b, err := url.Parse(base)
		if err != nil {
			return ref
		}
		r, err := url.Parse(ref)
		if err != nil {
			return ref
		}
		return b.ResolveReference(r).String()
	}
	return filepath.Join(filepath.Dir(base), filepath.FromSlash(ref))
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "file://")
}

func nameFromURL(u string) string {
	base := path.Base(filepath.ToSlash(u))
	if i := strings.IndexByte(base, '?'); i >= 0 {
		base = base[:i]
	}
	for _, suffix := range []string{".model3.json", ".model.json", ".json"} {
		if strings.HasSuffix(base, suffix) {
			return strings.TrimSuffix(base, suffix)
		}
	}
	return base
}
