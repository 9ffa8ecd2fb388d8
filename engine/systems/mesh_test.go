package systems

import (
	"testing"

	"github.com/spaghettifunk/sonar/engine/core"
	"github.com/spaghettifunk/sonar/engine/math"
	"github.com/spaghettifunk/sonar/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateGeometry(t *testing.T) {
	gs, err := NewGeometrySystem()
	require.NoError(t, err)

	for _, tc := range []struct {
		kind     GeometryKind
		vertices int
		indices  int
	}{
		{GeometryQuad, 4, 6},
		{GeometryCube, 24, 36},
		{GeometryTetrahedron, 4, 12},
	} {
		t.Run(string(tc.kind), func(t *testing.T) {
			cfg, err := gs.Generate(tc.kind, 2, 2, 2, string(tc.kind))
			require.NoError(t, err)
			assert.Equal(t, string(tc.kind), cfg.Name)
			assert.Len(t, cfg.Vertices, tc.vertices)
			assert.Len(t, cfg.Indices, tc.indices)
			for _, idx := range cfg.Indices {
				assert.Less(t, int(idx), tc.vertices)
			}
		})
	}
	assert.Equal(t, uint32(3), gs.Generated())

	_, err = gs.Generate("sphere", 1, 1, 1, "ball")
	assert.Error(t, err)
}

func TestQuadExtents(t *testing.T) {
	gs, err := NewGeometrySystem()
	require.NoError(t, err)
	cfg, err := gs.GenerateQuadConfig(4, 2, "")
	require.NoError(t, err)

	assert.Equal(t, DefaultGeometryName, cfg.Name)
	assert.Equal(t, math.NewVec3(-2, 0, -1), cfg.Extents.Min)
	assert.Equal(t, math.NewVec3(2, 0, 1), cfg.Extents.Max)
}

func newModelSystem(t *testing.T) *ModelSystem {
	t.Helper()
	b := newTestBackend(t)
	as, err := NewAccelerationStructureSystem(b)
	require.NoError(t, err)
	ms, err := NewModelSystem(&ModelSystemConfig{MaxModelCount: 2}, b, as)
	require.NoError(t, err)
	return ms
}

func triangleVertices() metadata.VertexData {
	return metadata.NewVertexData([]math.VertexPositionNormalUV{
		{PositionU: math.NewVec4(0, 0, 0, 0)},
		{PositionU: math.NewVec4(1, 0, 0, 0)},
		{PositionU: math.NewVec4(0, 1, 0, 0)},
	})
}

func TestLoadMesh(t *testing.T) {
	ms := newModelSystem(t)

	index, err := ms.LoadMesh("triangle", triangleVertices(), nil)
	require.NoError(t, err)
	assert.Equal(t, metadata.ModelIndex(0), index)

	model, err := ms.Model(index)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), model.VertexCount)
	assert.Nil(t, model.IndexBuffer)
	assert.False(t, model.AccelerationStructure.Built())
	assert.Equal(t, math.NewVec3(1, 1, 0), model.Extents.Max)

	found, ok := ms.Lookup("triangle")
	require.True(t, ok)
	assert.Equal(t, index, found)
	assert.Equal(t, uint32(1), ms.Count())
}

func TestLoadMeshRejectsInvalidInput(t *testing.T) {
	ms := newModelSystem(t)
	_, err := ms.LoadMesh("triangle", triangleVertices(), nil)
	require.NoError(t, err)

	_, err = ms.LoadMesh("triangle", triangleVertices(), nil)
	assert.ErrorIs(t, err, core.ErrInvalidModel, "duplicate name")

	_, err = ms.LoadMesh("bad-index", triangleVertices(), []uint32{0, 1, 3})
	assert.ErrorIs(t, err, core.ErrInvalidModel)

	_, err = ms.LoadMesh("partial", triangleVertices(), []uint32{0, 1})
	assert.ErrorIs(t, err, core.ErrInvalidModel)

	_, err = ms.LoadMesh("empty", metadata.VertexData{Stride: 32}, nil)
	assert.ErrorIs(t, err, core.ErrInvalidModel)

	_, err = ms.Model(7)
	assert.ErrorIs(t, err, core.ErrInvalidModel)
}

func TestModelLimit(t *testing.T) {
	ms := newModelSystem(t)
	_, err := ms.LoadMesh("a", triangleVertices(), nil)
	require.NoError(t, err)
	_, err = ms.LoadMesh("b", triangleVertices(), []uint32{0, 1, 2})
	require.NoError(t, err)

	_, err = ms.LoadMesh("c", triangleVertices(), nil)
	assert.ErrorIs(t, err, core.ErrInvalidModel)
}
