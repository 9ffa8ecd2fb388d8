package metadata

import (
	"encoding/binary"
	"fmt"
	"math"

	smath "github.com/spaghettifunk/sonar/engine/math"
)

// ModelIndex is a stable index into the model registry. Indices are never
// reused.
type ModelIndex uint32

/**
 * @brief Raw vertex bytes plus the layout needed to interpret them. The
 * position must be the first three floats of every vertex.
 */
type VertexData struct {
	Stride uint32
	Count  uint32
	Bytes  []byte
}

func NewVertexData(vertices []smath.VertexPositionNormalUV) VertexData {
	stride := smath.VertexPositionNormalUVSize
	out := make([]byte, int(stride)*len(vertices))
	for i, v := range vertices {
		o := i * int(stride)
		for j, f := range [8]float32{
			v.PositionU.X, v.PositionU.Y, v.PositionU.Z, v.PositionU.W,
			v.NormalV.X, v.NormalV.Y, v.NormalV.Z, v.NormalV.W,
		} {
			binary.LittleEndian.PutUint32(out[o+j*4:], math.Float32bits(f))
		}
	}
	return VertexData{
		Stride: stride,
		Count:  uint32(len(vertices)),
		Bytes:  out,
	}
}

// Position decodes the position of vertex i.
func (v VertexData) Position(i uint32) smath.Vec3 {
	o := int(i * v.Stride)
	return smath.Vec3{
		X: math.Float32frombits(binary.LittleEndian.Uint32(v.Bytes[o:])),
		Y: math.Float32frombits(binary.LittleEndian.Uint32(v.Bytes[o+4:])),
		Z: math.Float32frombits(binary.LittleEndian.Uint32(v.Bytes[o+8:])),
	}
}

func (v VertexData) Validate() error {
	if v.Count == 0 {
		return fmt.Errorf("vertex data is empty")
	}
	if v.Stride < 12 {
		return fmt.Errorf("vertex stride %d cannot hold a float3 position", v.Stride)
	}
	if uint64(len(v.Bytes)) != uint64(v.Stride)*uint64(v.Count) {
		return fmt.Errorf("vertex data has %d bytes, expected %d*%d", len(v.Bytes), v.Stride, v.Count)
	}
	return nil
}

func EncodeIndices(indices []uint32) []byte {
	out := make([]byte, 4*len(indices))
	for i, idx := range indices {
		binary.LittleEndian.PutUint32(out[i*4:], idx)
	}
	return out
}

/**
 * @brief A mesh registered with the model system. Geometry is immutable once
 * loaded and the bottom level structure is built at most once.
 */
type Model struct {
	Index        ModelIndex
	Name         string
	VertexBuffer *Buffer
	VertexCount  uint32
	VertexStride uint32
	/** @brief Nil for non-indexed meshes. */
	IndexBuffer *Buffer
	IndexCount  uint32
	Extents     smath.Extents3D

	AccelerationStructure AccelerationStructureBuffers
}

func (m *Model) Geometry() GeometryDesc {
	return GeometryDesc{
		VertexBuffer: m.VertexBuffer,
		VertexCount:  m.VertexCount,
		VertexStride: m.VertexStride,
		IndexBuffer:  m.IndexBuffer,
		IndexCount:   m.IndexCount,
		Flags:        GEOMETRY_FLAG_OPAQUE,
	}
}

/**
 * @brief CPU side geometry produced by a generator or a loader, ready to be
 * handed to the model system.
 */
type GeometryConfig struct {
	Name     string
	Vertices []smath.VertexPositionNormalUV
	Indices  []uint32
	Extents  smath.Extents3D
}

func (g *GeometryConfig) VertexData() VertexData {
	return NewVertexData(g.Vertices)
}
