package metadata

import (
	"encoding/binary"
	"fmt"
	"math"

	smath "github.com/spaghettifunk/sonar/engine/math"
)

type AccelerationStructureType uint32

const (
	ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL AccelerationStructureType = iota
	ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL
)

func (t AccelerationStructureType) String() string {
	if t == ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL {
		return "top-level"
	}
	return "bottom-level"
}

type BuildFlag uint32

const (
	BUILD_FLAG_NONE              BuildFlag = 0x0
	BUILD_FLAG_ALLOW_UPDATE      BuildFlag = 0x1
	BUILD_FLAG_PREFER_FAST_TRACE BuildFlag = 0x2
	BUILD_FLAG_PERFORM_UPDATE    BuildFlag = 0x4
)

type GeometryFlag uint32

const (
	GEOMETRY_FLAG_NONE   GeometryFlag = 0x0
	GEOMETRY_FLAG_OPAQUE GeometryFlag = 0x1
)

/**
 * @brief One triangle geometry of a bottom level acceleration structure. The
 * vertex position is the first three floats of each vertex.
 */
type GeometryDesc struct {
	VertexBuffer *Buffer
	VertexOffset uint64
	VertexCount  uint32
	VertexStride uint32
	/** @brief Optional. When nil the vertices are consumed as a triangle list. */
	IndexBuffer *Buffer
	IndexOffset uint64
	IndexCount  uint32
	Flags       GeometryFlag
}

func (g *GeometryDesc) TriangleCount() uint32 {
	if g.IndexBuffer != nil {
		return g.IndexCount / 3
	}
	return g.VertexCount / 3
}

type AccelerationStructureInputs struct {
	Type          AccelerationStructureType
	Flags         BuildFlag
	Geometries    []GeometryDesc
	InstanceCount uint32
	/** @brief Top level only: address of InstanceCount packed InstanceDesc records. */
	InstanceDescs GPUVirtualAddress
}

type PrebuildInfo struct {
	ResultDataMaxSizeInBytes uint64
	ScratchDataSizeInBytes   uint64
	UpdateScratchSizeInBytes uint64
}

type AccelerationStructureBuildDesc struct {
	Inputs AccelerationStructureInputs
	Dest   *Buffer
	/** @brief Previous result when Inputs.Flags has BUILD_FLAG_PERFORM_UPDATE. */
	Source  *Buffer
	Scratch *Buffer
}

/**
 * @brief The buffers backing one acceleration structure. InstanceDesc is only
 * used by top level structures.
 */
type AccelerationStructureBuffers struct {
	Scratch      *Buffer
	Result       *Buffer
	InstanceDesc *Buffer
}

// Built reports whether the buffers have been allocated by a build.
func (a *AccelerationStructureBuffers) Built() bool {
	return a.Scratch != nil && a.Result != nil
}

/** @brief Size in bytes of one packed InstanceDesc. */
const InstanceDescSize = 64

type InstanceFlag uint8

const (
	INSTANCE_FLAG_NONE                  InstanceFlag = 0x0
	INSTANCE_FLAG_TRIANGLE_CULL_DISABLE InstanceFlag = 0x1
	INSTANCE_FLAG_FORCE_OPAQUE          InstanceFlag = 0x4
)

/**
 * @brief One top level instance as the GPU reads it: a 3x4 affine transform,
 * a 24 bit instance id and 8 bit mask, a 24 bit hit group contribution and 8
 * bit flags, and the address of the bottom level structure.
 */
type InstanceDesc struct {
	Transform                           [12]float32
	InstanceID                          uint32
	InstanceMask                        uint8
	InstanceContributionToHitGroupIndex uint32
	Flags                               InstanceFlag
	AccelerationStructure               GPUVirtualAddress
}

// TopLevelInstance is the CPU side input of a top level build.
type TopLevelInstance struct {
	BottomLevel *Buffer
	Transform   smath.Mat4
}

func (d *InstanceDesc) Encode(dst []byte) error {
	if len(dst) < InstanceDescSize {
		return fmt.Errorf("instance desc needs %d bytes, got %d", InstanceDescSize, len(dst))
	}
	if d.InstanceID > 0xFFFFFF || d.InstanceContributionToHitGroupIndex > 0xFFFFFF {
		return fmt.Errorf("instance id %d or hit group contribution %d exceeds 24 bits",
			d.InstanceID, d.InstanceContributionToHitGroupIndex)
	}
	for i, f := range d.Transform {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(f))
	}
	binary.LittleEndian.PutUint32(dst[48:], d.InstanceID|uint32(d.InstanceMask)<<24)
	binary.LittleEndian.PutUint32(dst[52:], d.InstanceContributionToHitGroupIndex|uint32(d.Flags)<<24)
	binary.LittleEndian.PutUint64(dst[56:], uint64(d.AccelerationStructure))
	return nil
}

func DecodeInstanceDesc(src []byte) (InstanceDesc, error) {
	var d InstanceDesc
	if len(src) < InstanceDescSize {
		return d, fmt.Errorf("instance desc needs %d bytes, got %d", InstanceDescSize, len(src))
	}
	for i := range d.Transform {
		d.Transform[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
	idMask := binary.LittleEndian.Uint32(src[48:])
	d.InstanceID = idMask & 0xFFFFFF
	d.InstanceMask = uint8(idMask >> 24)
	hitFlags := binary.LittleEndian.Uint32(src[52:])
	d.InstanceContributionToHitGroupIndex = hitFlags & 0xFFFFFF
	d.Flags = InstanceFlag(hitFlags >> 24)
	d.AccelerationStructure = GPUVirtualAddress(binary.LittleEndian.Uint64(src[56:]))
	return d, nil
}
