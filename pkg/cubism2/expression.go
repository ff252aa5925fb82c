package cubism2

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/teslashibe/go-live2d/pkg/clip"
)

// ParseExpression decodes an .exp.json file. Fade times are in
// milliseconds. Each param's "calc" selects how "val" relates to "def":
// add (the default) stores val-def, mult stores val/def, set overwrites.
func ParseExpression(data []byte, name string) (*clip.Expression, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: %s: invalid json", ErrFormat, name)
	}
	root := gjson.ParseBytes(data)

	e := &clip.Expression{
		Name:    name,
		FadeIn:  millisOr(root.Get("fade_in"), DefaultFade),
		FadeOut: millisOr(root.Get("fade_out"), DefaultFade),
	}
	for _, p := range root.Get("params").Array() {
		id := p.Get("id").String()
		if id == "" {
			continue
		}
		val := p.Get("val").Float()
		def := p.Get("def").Float()

		ep := clip.ExpressionParam{ID: id}
		switch p.Get("calc").String() {
		case "mult":
			if def == 0 {
				def = 1
			}
			ep.Blend, ep.Value = clip.BlendMultiply, val/def
		case "set":
			ep.Blend, ep.Value = clip.BlendOverwrite, val
		default:
			ep.Blend, ep.Value = clip.BlendAdd, val-def
		}
		e.Params = append(e.Params, ep)
	}
	return e, nil
}

func millisOr(r gjson.Result, def float64) float64 {
	if !r.Exists() || r.Float() <= 0 {
		return def
	}
	return r.Float() / 1000
}
