package metadata

import (
	"testing"

	smath "github.com/spaghettifunk/sonar/engine/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceDescLayout(t *testing.T) {
	d := InstanceDesc{
		Transform:                           smath.NewMat4Translation(smath.NewVec3(1, 2, 3)).ToAffine3x4(),
		InstanceID:                          7,
		InstanceMask:                        0xFF,
		InstanceContributionToHitGroupIndex: 14,
		Flags:                               INSTANCE_FLAG_FORCE_OPAQUE,
		AccelerationStructure:               0x1000,
	}
	buf := make([]byte, InstanceDescSize)
	require.NoError(t, d.Encode(buf))

	// id in the low 24 bits, mask in the top byte
	assert.Equal(t, []byte{7, 0, 0, 0xFF}, buf[48:52])
	assert.Equal(t, []byte{14, 0, 0, 4}, buf[52:56])
	assert.Equal(t, []byte{0, 0x10, 0, 0, 0, 0, 0, 0}, buf[56:64])

	back, err := DecodeInstanceDesc(buf)
	require.NoError(t, err)
	assert.Equal(t, d, back)
}

func TestInstanceDescRejectsWideFields(t *testing.T) {
	d := InstanceDesc{InstanceID: 1 << 24}
	assert.Error(t, d.Encode(make([]byte, InstanceDescSize)))
	assert.Error(t, (&InstanceDesc{}).Encode(make([]byte, 10)))
}

func TestGetAligned(t *testing.T) {
	assert.Equal(t, uint64(256), GetAligned(1, 256))
	assert.Equal(t, uint64(256), GetAligned(256, 256))
	assert.Equal(t, uint32(64), GetAligned32(40, 32))
	assert.Equal(t, uint32(0), GetAligned32(0, 64))
}

func TestVertexData(t *testing.T) {
	v := NewVertexData([]smath.VertexPositionNormalUV{
		{PositionU: smath.NewVec4(1, 2, 3, 0)},
		{PositionU: smath.NewVec4(4, 5, 6, 1)},
	})
	require.NoError(t, v.Validate())
	assert.Equal(t, uint32(32), v.Stride)
	assert.Len(t, v.Bytes, 64)
	assert.Equal(t, smath.NewVec3(4, 5, 6), v.Position(1))

	v.Bytes = v.Bytes[:60]
	assert.Error(t, v.Validate())
}

func TestRayTracingConfig(t *testing.T) {
	c := DefaultRayTracingConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, uint32(1), c.RayTypeCount())

	c.SecondaryRays = SECONDARY_RAYS_SHADOW
	assert.Error(t, c.Validate())
	c.MaxRecursionDepth = 2
	require.NoError(t, c.Validate())
	assert.Equal(t, uint32(2), c.RayTypeCount())

	c.MaxRecursionDepth = 32
	assert.Error(t, c.Validate())

	d := DefaultRayTracingConfig()
	e := d
	e.SecondaryRays = SECONDARY_RAYS_REFLECTION
	assert.False(t, d.PipelineChanged(e))
	e.MaxPayloadSize = 32
	assert.True(t, d.PipelineChanged(e))
}

func TestNewResourceName(t *testing.T) {
	assert.Equal(t, "vertices", NewResourceName("buffer", "vertices"))
	a := NewResourceName("buffer", "")
	b := NewResourceName("buffer", "")
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "buffer-")
}
