package cubism4

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-live2d/pkg/clip"
	"github.com/teslashibe/go-live2d/pkg/fetch"
	"github.com/teslashibe/go-live2d/pkg/settings"
)

const motion3 = `{
	"Version": 3,
	"Meta": {"Duration": 2, "Fps": 30, "Loop": false, "FadeInTime": 0.3, "CurveCount": 4},
	"Curves": [
		{"Target": "Parameter", "Id": "ParamAngleX", "Segments": [0, 0, 0, 1, 10, 1, 1.25, 10, 1.75, 0, 2, 0]},
		{"Target": "Parameter", "Id": "ParamEyeLOpen", "Segments": [0, 1, 2, 1, 0, 3, 2, 1]},
		{"Target": "PartOpacity", "Id": "PartArmA", "Segments": [0, 1]},
		{"Target": "Model", "Id": "EyeBlink", "Segments": [0, 1, 0, 2, 1]}
	]
}`

const exp3 = `{
	"Type": "Live2D Expression",
	"FadeInTime": 0.25,
	"Parameters": [
		{"Id": "ParamEyeLOpen", "Value": 0.5, "Blend": "Multiply"},
		{"Id": "ParamMouthForm", "Value": -1},
		{"Id": "ParamCheek", "Value": 1, "Blend": "Overwrite"}
	]
}`

func TestParseMotion(t *testing.T) {
	m, err := ParseMotion([]byte(motion3), "tap.motion3.json")
	require.NoError(t, err)

	assert.Equal(t, 2.0, m.Duration)
	assert.Equal(t, 0.3, m.FadeIn)
	assert.Equal(t, DefaultFade, m.FadeOut)
	require.Len(t, m.Tracks, 3, "model curves are skipped")

	angle := m.Tracks[0]
	assert.Equal(t, clip.TrackParameter, angle.Kind)
	assert.InDelta(t, 5.0, angle.Curve.Evaluate(0.5), 1e-9, "linear")
	assert.InDelta(t, 10.0, angle.Curve.Evaluate(1.0), 1e-9)
	assert.InDelta(t, 5.0, angle.Curve.Evaluate(1.5), 1e-9, "bezier midpoint")
	assert.InDelta(t, 0.0, angle.Curve.Evaluate(3), 1e-9, "holds last value")

	eye := m.Tracks[1]
	assert.Equal(t, 1.0, eye.Curve.Evaluate(0.5), "stepped holds start")
	assert.Equal(t, 1.0, eye.Curve.Evaluate(1.5), "inverse stepped takes end")

	part := m.Tracks[2]
	assert.Equal(t, clip.TrackPartOpacity, part.Kind)
	assert.Equal(t, 1.0, part.Curve.Evaluate(1))
}

func TestParseMotionErrors(t *testing.T) {
	_, err := ParseMotion([]byte("{"), "x")
	assert.ErrorIs(t, err, ErrFormat)

	_, err = ParseMotion([]byte(`{"Curves":[{"Target":"Parameter","Id":"P","Segments":[0,0,1,1]}]}`), "x")
	assert.ErrorIs(t, err, ErrFormat, "truncated bezier")

	_, err = ParseMotion([]byte(`{"Curves":[{"Target":"Parameter","Id":"P","Segments":[0,0,7,1,1]}]}`), "x")
	assert.ErrorIs(t, err, ErrFormat, "unknown segment")
}

func TestParseMotionDurationFromCurves(t *testing.T) {
	m, err := ParseMotion([]byte(`{"Meta":{},"Curves":[{"Target":"Parameter","Id":"P","Segments":[0,0,0,3,1]}]}`), "x")
	require.NoError(t, err)
	assert.Equal(t, 3.0, m.Duration)
}

func TestParseExpression(t *testing.T) {
	e, err := ParseExpression([]byte(exp3), "F01")
	require.NoError(t, err)

	assert.Equal(t, 0.25, e.FadeIn)
	assert.Equal(t, DefaultFade, e.FadeOut)
	require.Len(t, e.Params, 3)
	assert.Equal(t, clip.BlendMultiply, e.Params[0].Blend)
	assert.Equal(t, clip.BlendAdd, e.Params[1].Blend)
	assert.Equal(t, clip.BlendOverwrite, e.Params[2].Blend)
}

func TestRuntimes(t *testing.T) {
	s, err := settings.Parse([]byte(`{
		"Version": 3,
		"FileReferences": {
			"Moc": "haru.moc3",
			"Expressions": [{"Name": "F01", "File": "exp/F01.exp3.json"}],
			"Motions": {
				"Idle": [{"File": "motions/idle.motion3.json", "FadeInTime": 0.5}],
				"Tap": [{"File": "motions/missing.motion3.json"}]
			}
		}
	}`), "https://cdn.example/haru/haru.model3.json")
	require.NoError(t, err)

	files := fetch.Map{
		"https://cdn.example/haru/motions/idle.motion3.json": []byte(motion3),
		"https://cdn.example/haru/exp/F01.exp3.json":         []byte(exp3),
	}
	ctx := context.Background()

	mr := NewMotionRuntime(s, files)
	m, err := mr.LoadMotion(ctx, "Idle", 0)
	require.NoError(t, err)
	assert.Equal(t, 0.5, m.FadeIn, "definition fade wins")
	assert.Equal(t, DefaultFade, m.FadeOut)
	assert.Equal(t, "idle.motion3.json", m.Name)

	_, err = mr.LoadMotion(ctx, "Tap", 0)
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = mr.LoadMotion(ctx, "Tap", 3)
	assert.Error(t, err)

	er := NewExpressionRuntime(s, files)
	e, err := er.LoadExpression(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "F01", e.Name)
	_, err = er.LoadExpression(ctx, 1)
	assert.Error(t, err)
}
