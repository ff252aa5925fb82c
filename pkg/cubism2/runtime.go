package cubism2

import (
	"context"
	"fmt"
	"path"

	"github.com/teslashibe/go-live2d/pkg/clip"
	"github.com/teslashibe/go-live2d/pkg/fetch"
	"github.com/teslashibe/go-live2d/pkg/settings"
)

// MotionRuntime loads the motions a model.json defines.
type MotionRuntime struct {
	settings *settings.Settings
	fetcher  fetch.Fetcher
}

// NewMotionRuntime creates a motion loader for s.
func NewMotionRuntime(s *settings.Settings, f fetch.Fetcher) *MotionRuntime {
	return &MotionRuntime{settings: s, fetcher: f}
}

// LoadMotion fetches and decodes the motion at (group, index). Positive
// fade times on the definition win over the file's.
func (r *MotionRuntime) LoadMotion(ctx context.Context, group string, index int) (*clip.Motion, error) {
	defs := r.settings.Motions[group]
	if index < 0 || index >= len(defs) {
		return nil, fmt.Errorf("cubism2: no motion %s[%d]", group, index)
	}
	def := defs[index]

	data, err := r.fetcher.Fetch(ctx, r.settings.Resolve(def.File))
	if err != nil {
		return nil, err
	}
	m, err := ParseMotion(data, path.Base(def.File))
	if err != nil {
		return nil, err
	}
	if def.FadeIn > 0 {
		m.FadeIn = def.FadeIn
	}
	if def.FadeOut > 0 {
		m.FadeOut = def.FadeOut
	}
	return m, nil
}

// ExpressionRuntime loads the expressions a model.json defines.
type ExpressionRuntime struct {
	settings *settings.Settings
	fetcher  fetch.Fetcher
}

// NewExpressionRuntime creates an expression loader for s.
func NewExpressionRuntime(s *settings.Settings, f fetch.Fetcher) *ExpressionRuntime {
	return &ExpressionRuntime{settings: s, fetcher: f}
}

// LoadExpression fetches and decodes the expression at index.
func (r *ExpressionRuntime) LoadExpression(ctx context.Context, index int) (*clip.Expression, error) {
	if index < 0 || index >= len(r.settings.Expressions) {
		return nil, fmt.Errorf("cubism2: no expression %d", index)
	}
	def := r.settings.Expressions[index]

	data, err := r.fetcher.Fetch(ctx, r.settings.Resolve(def.File))
	if err != nil {
		return nil, err
	}
	name := def.Name
	if name == "" {
		name = path.Base(def.File)
	}
	return ParseExpression(data, name)
}
