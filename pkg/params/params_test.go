package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParametersOps(t *testing.T) {
	p := New()
	p.Define("ParamAngleX", 0)
	p.Define("ParamEyeLOpen", 1)

	p.Set("ParamAngleX", 10)
	p.Add("ParamAngleX", 5)
	assert.Equal(t, 15.0, p.Get("ParamAngleX"))

	p.Multiply("ParamEyeLOpen", 0.5)
	assert.Equal(t, 0.5, p.Get("ParamEyeLOpen"))

	p.Blend("ParamAngleX", 25, 0.5)
	assert.Equal(t, 20.0, p.Get("ParamAngleX"))

	p.Reset()
	assert.Equal(t, 0.0, p.Get("ParamAngleX"))
	assert.Equal(t, 1.0, p.Get("ParamEyeLOpen"))
}

func TestParametersUnknownIDs(t *testing.T) {
	p := New()
	assert.Equal(t, 0.0, p.Get("missing"))

	p.Add("PARAM_MOUTH_OPEN_Y", 0.4)
	assert.InDelta(t, 0.4, p.Get("PARAM_MOUTH_OPEN_Y"), 1e-9)
	assert.Equal(t, []string{"PARAM_MOUTH_OPEN_Y"}, p.IDs())

	p.Reset()
	assert.Equal(t, 0.0, p.Get("PARAM_MOUTH_OPEN_Y"))
}

func TestSnapshotIsCopy(t *testing.T) {
	p := New()
	p.Define("a", 1)
	snap := p.Snapshot()
	snap["a"] = 99
	assert.Equal(t, 1.0, p.Get("a"))
	assert.Equal(t, 1, p.Len())
}
