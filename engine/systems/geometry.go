package systems

import (
	"fmt"

	"github.com/spaghettifunk/sonar/engine/core"
	"github.com/spaghettifunk/sonar/engine/math"
	"github.com/spaghettifunk/sonar/engine/renderer/metadata"
)

type GeometryKind string

const (
	GeometryQuad        GeometryKind = "quad"
	GeometryCube        GeometryKind = "cube"
	GeometryTetrahedron GeometryKind = "tetrahedron"
)

const DefaultGeometryName = "default"

/** @brief Generates the predefined meshes used by scenes. */
type GeometrySystem struct {
	generated uint32
}

func NewGeometrySystem() (*GeometrySystem, error) {
	return &GeometrySystem{}, nil
}

func (gs *GeometrySystem) Shutdown() error {
	return nil
}

// Generated is the number of configs produced so far.
func (gs *GeometrySystem) Generated() uint32 {
	return gs.generated
}

/**
 * @brief Generates a config for the given kind. Width, height and depth are
 * interpreted per kind: a quad uses width and depth, a tetrahedron uses width
 * as a uniform scale.
 */
func (gs *GeometrySystem) Generate(kind GeometryKind, width, height, depth float32, name string) (*metadata.GeometryConfig, error) {
	switch kind {
	case GeometryQuad:
		return gs.GenerateQuadConfig(width, depth, name)
	case GeometryCube:
		return gs.GenerateCubeConfig(width, height, depth, name)
	case GeometryTetrahedron:
		return gs.GenerateTetrahedronConfig(width, name)
	default:
		err := fmt.Errorf("unknown geometry kind %q", kind)
		core.LogError(err.Error())
		return nil, err
	}
}

func nonZero(what string, v float32) float32 {
	if v == 0 {
		core.LogWarn("%s must be nonzero. Defaulting to one.", what)
		return 1.0
	}
	return v
}

func vertex(x, y, z, nx, ny, nz, u, v float32) math.VertexPositionNormalUV {
	return math.VertexPositionNormalUV{
		PositionU: math.NewVec4(x, y, z, u),
		NormalV:   math.NewVec4(nx, ny, nz, v),
	}
}

/**
 * @brief A flat quad in the y=0 plane facing up, centered on the origin.
 *
 * @param width Size along x.
 * @param depth Size along z.
 */
func (gs *GeometrySystem) GenerateQuadConfig(width, depth float32, name string) (*metadata.GeometryConfig, error) {
	width = nonZero("Width", width)
	depth = nonZero("Depth", depth)
	hw, hd := 0.5*width, 0.5*depth

	config := &metadata.GeometryConfig{
		Vertices: []math.VertexPositionNormalUV{
			vertex(hw, 0, hd, 0, 1, 0, 1, 1),
			vertex(-hw, 0, hd, 0, 1, 0, 0, 1),
			vertex(-hw, 0, -hd, 0, 1, 0, 0, 0),
			vertex(hw, 0, -hd, 0, 1, 0, 1, 0),
		},
		Indices: []uint32{
			0, 1, 2,
			2, 3, 0,
		},
	}
	return gs.finish(config, name), nil
}

func (gs *GeometrySystem) GenerateCubeConfig(width, height, depth float32, name string) (*metadata.GeometryConfig, error) {
	width = nonZero("Width", width)
	height = nonZero("Height", height)
	depth = nonZero("Depth", depth)
	x, y, z := 0.5*width, 0.5*height, 0.5*depth

	verts := []math.VertexPositionNormalUV{
		// Front face
		vertex(-x, -y, -z, 0, 0, -1, 0, 1),
		vertex(-x, y, -z, 0, 0, -1, 0, 0),
		vertex(x, y, -z, 0, 0, -1, 1, 0),
		vertex(x, -y, -z, 0, 0, -1, 1, 1),

		// Back face
		vertex(-x, -y, z, 0, 0, 1, 1, 1),
		vertex(x, -y, z, 0, 0, 1, 0, 1),
		vertex(x, y, z, 0, 0, 1, 0, 0),
		vertex(-x, y, z, 0, 0, 1, 1, 0),

		// Top face
		vertex(-x, y, -z, 0, 1, 0, 0, 1),
		vertex(-x, y, z, 0, 1, 0, 0, 0),
		vertex(x, y, z, 0, 1, 0, 1, 0),
		vertex(x, y, -z, 0, 1, 0, 1, 1),

		// Bottom face
		vertex(-x, -y, -z, 0, -1, 0, 1, 1),
		vertex(x, -y, -z, 0, -1, 0, 0, 1),
		vertex(x, -y, z, 0, -1, 0, 0, 0),
		vertex(-x, -y, z, 0, -1, 0, 1, 0),

		// Left face
		vertex(-x, -y, z, -1, 0, 0, 0, 1),
		vertex(-x, y, z, -1, 0, 0, 0, 0),
		vertex(-x, y, -z, -1, 0, 0, 1, 0),
		vertex(-x, -y, -z, -1, 0, 0, 1, 1),

		// Right face
		vertex(x, -y, -z, 1, 0, 0, 0, 1),
		vertex(x, y, -z, 1, 0, 0, 0, 0),
		vertex(x, y, z, 1, 0, 0, 1, 0),
		vertex(x, -y, z, 1, 0, 0, 1, 1),
	}

	indices := make([]uint32, 6*6)
	for i := 0; i < 6; i++ {
		v_offset := uint32(i * 4)
		i_offset := i * 6
		indices[i_offset+0] = v_offset + 0
		indices[i_offset+1] = v_offset + 1
		indices[i_offset+2] = v_offset + 2
		indices[i_offset+3] = v_offset + 2
		indices[i_offset+4] = v_offset + 3
		indices[i_offset+5] = v_offset + 0
	}

	return gs.finish(&metadata.GeometryConfig{Vertices: verts, Indices: indices}, name), nil
}

// GenerateTetrahedronConfig returns a regular tetrahedron inscribed in a
// sphere of radius size. Normals are per face.
func (gs *GeometrySystem) GenerateTetrahedronConfig(size float32, name string) (*metadata.GeometryConfig, error) {
	size = nonZero("Size", size)
	a := math.Sqrt(8.0/9.0) * size
	b := math.Sqrt(2.0/9.0) * size
	c := math.Sqrt(2.0/3.0) * size
	third := size / 3.0

	config := &metadata.GeometryConfig{
		Vertices: []math.VertexPositionNormalUV{
			vertex(a, 0, third, 0, 0, 1, 0, 0),
			vertex(-b, c, third, 0, 0, 1, 1, 0),
			vertex(-b, -c, third, 0, 0, 1, 0, 1),
			vertex(0, 0, size, 0, 0, 1, 1, 1),
		},
		Indices: []uint32{
			0, 1, 2,
			0, 3, 1,
			0, 2, 3,
			1, 3, 2,
		},
	}
	math.GeometryGenerateNormals(config.Vertices, config.Indices)
	return gs.finish(config, name), nil
}

func (gs *GeometrySystem) finish(config *metadata.GeometryConfig, name string) *metadata.GeometryConfig {
	if len(name) > 0 {
		config.Name = name
	} else {
		config.Name = DefaultGeometryName
	}
	config.Extents = math.GeometryExtents(config.Vertices)
	gs.generated++
	return config
}
