package cubism4

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/teslashibe/go-live2d/pkg/clip"
)

// ParseExpression decodes an .exp3.json file.
func ParseExpression(data []byte, name string) (*clip.Expression, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: %s: invalid json", ErrFormat, name)
	}
	root := gjson.ParseBytes(data)

	e := &clip.Expression{
		Name:    name,
		FadeIn:  floatOr(root.Get("FadeInTime"), DefaultFade),
		FadeOut: floatOr(root.Get("FadeOutTime"), DefaultFade),
	}
	for _, p := range root.Get("Parameters").Array() {
		id := p.Get("Id").String()
		if id == "" {
			continue
		}
		var blend clip.Blend
		switch p.Get("Blend").String() {
		case "Multiply":
			blend = clip.BlendMultiply
		case "Overwrite":
			blend = clip.BlendOverwrite
		default:
			blend = clip.BlendAdd
		}
		e.Params = append(e.Params, clip.ExpressionParam{
			ID:    id,
			Value: p.Get("Value").Float(),
			Blend: blend,
		})
	}
	return e, nil
}
