package headless

import (
	"fmt"

	"github.com/spaghettifunk/sonar/engine/core"
	"github.com/spaghettifunk/sonar/engine/renderer/metadata"
)

// accelerationStructure is what a result buffer holds after a build.
type accelerationStructure struct {
	kind        metadata.AccelerationStructureType
	allowUpdate bool
	triangles   uint32
	instances   []metadata.InstanceDesc
	// Bumped on every build or update.
	version uint64
}

const (
	blasHeaderSize      = 256
	blasBytesPerTri     = 64
	blasScratchPerTri   = 32
	tlasHeaderSize      = 256
	tlasBytesPerInst    = 128
	tlasScratchPerInst  = 64
	accelerationAlign   = metadata.AccelerationStructureAlignment
	maxTopLevelInstance = 1 << 24
)

func (b *Backend) AccelerationStructurePrebuildInfo(inputs *metadata.AccelerationStructureInputs) (metadata.PrebuildInfo, error) {
	var info metadata.PrebuildInfo
	if inputs == nil {
		return info, fmt.Errorf("nil inputs: %w", core.ErrPrebuildInfo)
	}

	switch inputs.Type {
	case metadata.ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL:
		if len(inputs.Geometries) == 0 {
			err := fmt.Errorf("bottom level structure without geometry: %w", core.ErrPrebuildInfo)
			core.LogError(err.Error())
			return info, err
		}
		var tris uint64
		for i := range inputs.Geometries {
			g := &inputs.Geometries[i]
			if err := validateGeometry(g); err != nil {
				err = fmt.Errorf("geometry %d: %s: %w", i, err, core.ErrPrebuildInfo)
				core.LogError(err.Error())
				return info, err
			}
			tris += uint64(g.TriangleCount())
		}
		info.ResultDataMaxSizeInBytes = metadata.GetAligned(blasHeaderSize+blasBytesPerTri*tris, accelerationAlign)
		info.ScratchDataSizeInBytes = metadata.GetAligned(blasHeaderSize+blasScratchPerTri*tris, accelerationAlign)
	case metadata.ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL:
		if inputs.InstanceCount >= maxTopLevelInstance {
			err := fmt.Errorf("%d instances exceed the 24 bit instance range: %w", inputs.InstanceCount, core.ErrPrebuildInfo)
			core.LogError(err.Error())
			return info, err
		}
		n := uint64(inputs.InstanceCount)
		info.ResultDataMaxSizeInBytes = metadata.GetAligned(tlasHeaderSize+tlasBytesPerInst*n, accelerationAlign)
		info.ScratchDataSizeInBytes = metadata.GetAligned(tlasHeaderSize+tlasScratchPerInst*n, accelerationAlign)
	default:
		return info, fmt.Errorf("unknown acceleration structure type %d: %w", inputs.Type, core.ErrPrebuildInfo)
	}

	if inputs.Flags&metadata.BUILD_FLAG_ALLOW_UPDATE != 0 {
		info.UpdateScratchSizeInBytes = info.ScratchDataSizeInBytes
	}
	return info, nil
}

func validateGeometry(g *metadata.GeometryDesc) error {
	if g.VertexBuffer == nil || g.VertexCount == 0 {
		return fmt.Errorf("no vertices")
	}
	if g.VertexStride < 12 {
		return fmt.Errorf("vertex stride %d cannot hold a position", g.VertexStride)
	}
	if g.VertexOffset+uint64(g.VertexCount)*uint64(g.VertexStride) > g.VertexBuffer.Size {
		return fmt.Errorf("%d vertices of stride %d overrun buffer %q", g.VertexCount, g.VertexStride, g.VertexBuffer.Name)
	}
	if g.IndexBuffer != nil {
		if g.IndexCount == 0 || g.IndexCount%3 != 0 {
			return fmt.Errorf("index count %d is not a triangle list", g.IndexCount)
		}
		if g.IndexOffset+uint64(g.IndexCount)*4 > g.IndexBuffer.Size {
			return fmt.Errorf("%d indices overrun buffer %q", g.IndexCount, g.IndexBuffer.Name)
		}
	} else if g.VertexCount%3 != 0 {
		return fmt.Errorf("vertex count %d is not a triangle list", g.VertexCount)
	}
	return nil
}

// AccelerationStructureBuild validates the build against the prebuild sizes
// and records it. Top level instance records are read from the instance
// buffer when the command executes, not when it is recorded.
func (b *Backend) AccelerationStructureBuild(desc *metadata.AccelerationStructureBuildDesc) error {
	if desc == nil {
		return fmt.Errorf("nil build description")
	}
	info, err := b.AccelerationStructurePrebuildInfo(&desc.Inputs)
	if err != nil {
		return err
	}

	update := desc.Inputs.Flags&metadata.BUILD_FLAG_PERFORM_UPDATE != 0
	if err := checkBuildBuffer("destination", desc.Dest, info.ResultDataMaxSizeInBytes); err != nil {
		return err
	}
	scratchNeeded := info.ScratchDataSizeInBytes
	if update {
		scratchNeeded = info.UpdateScratchSizeInBytes
	}
	if err := checkBuildBuffer("scratch", desc.Scratch, scratchNeeded); err != nil {
		return err
	}

	if update {
		if desc.Inputs.Flags&metadata.BUILD_FLAG_ALLOW_UPDATE == 0 {
			return fmt.Errorf("update requested without the allow update flag")
		}
		if desc.Source == nil {
			return fmt.Errorf("update requested without a source structure")
		}
	}

	inputs := desc.Inputs
	inputs.Geometries = append([]metadata.GeometryDesc(nil), desc.Inputs.Geometries...)
	dest := desc.Dest
	source := desc.Source

	return b.record("build "+inputs.Type.String(), func() error {
		built := &accelerationStructure{
			kind:        inputs.Type,
			allowUpdate: inputs.Flags&metadata.BUILD_FLAG_ALLOW_UPDATE != 0,
		}

		if update {
			prev, ok := b.accel[source.Address]
			if !ok {
				return fmt.Errorf("update source %q was never built", source.Name)
			}
			if !prev.allowUpdate {
				return fmt.Errorf("update source %q was not built with allow update", source.Name)
			}
			if prev.kind != inputs.Type {
				return fmt.Errorf("update changes the structure type from %s to %s", prev.kind, inputs.Type)
			}
			if inputs.Type == metadata.ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL && uint32(len(prev.instances)) != inputs.InstanceCount {
				return fmt.Errorf("update changes the instance count from %d to %d", len(prev.instances), inputs.InstanceCount)
			}
			built.version = prev.version
		}

		switch inputs.Type {
		case metadata.ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL:
			for i := range inputs.Geometries {
				built.triangles += inputs.Geometries[i].TriangleCount()
			}
			if update {
				b.stats.BottomLevelUpdates++
			} else {
				b.stats.BottomLevelBuilds++
			}
		case metadata.ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL:
			instances, err := b.readInstanceDescs(inputs.InstanceDescs, inputs.InstanceCount)
			if err != nil {
				return err
			}
			built.instances = instances
			if update {
				b.stats.TopLevelUpdates++
			} else {
				b.stats.TopLevelBuilds++
			}
		}

		built.version++
		b.accel[dest.Address] = built
		return nil
	})
}

func checkBuildBuffer(role string, buf *metadata.Buffer, needed uint64) error {
	if buf == nil {
		return fmt.Errorf("missing %s buffer", role)
	}
	if buf.Size < needed {
		return fmt.Errorf("%s buffer %q holds %d bytes, %d needed", role, buf.Name, buf.Size, needed)
	}
	if buf.Flags&metadata.BUFFER_FLAG_ALLOW_UNORDERED_ACCESS == 0 {
		return fmt.Errorf("%s buffer %q does not allow unordered access", role, buf.Name)
	}
	if uint64(buf.Address)%accelerationAlign != 0 {
		return fmt.Errorf("%s buffer %q is not %d byte aligned", role, buf.Name, accelerationAlign)
	}
	return nil
}

func (b *Backend) readInstanceDescs(addr metadata.GPUVirtualAddress, count uint32) ([]metadata.InstanceDesc, error) {
	if count == 0 {
		return nil, nil
	}
	state, offset, ok := b.resolve(addr)
	if !ok {
		return nil, fmt.Errorf("instance descs at %#x are not backed by a buffer", uint64(addr))
	}
	end := offset + uint64(count)*metadata.InstanceDescSize
	if end > uint64(len(state.data)) {
		return nil, fmt.Errorf("%d instance descs overrun buffer %q", count, state.buffer.Name)
	}

	out := make([]metadata.InstanceDesc, count)
	for i := range out {
		start := offset + uint64(i)*metadata.InstanceDescSize
		desc, err := metadata.DecodeInstanceDesc(state.data[start:end])
		if err != nil {
			return nil, err
		}
		blas, ok := b.accel[desc.AccelerationStructure]
		if !ok || blas.kind != metadata.ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL {
			return nil, fmt.Errorf("instance %d references %#x which is not a bottom level structure", i, uint64(desc.AccelerationStructure))
		}
		out[i] = desc
	}
	return out, nil
}

// ResourceBarrierUAV orders work that touches buffer. Commands already run in
// recording order, so the barrier is only counted.
func (b *Backend) ResourceBarrierUAV(buffer *metadata.Buffer) error {
	if buffer == nil {
		return fmt.Errorf("UAV barrier on nil buffer")
	}
	return b.record("uav barrier", func() error {
		b.stats.Barriers++
		return nil
	})
}

// TopLevelInstances returns the instances stored in the top level structure
// built into buffer.
func (b *Backend) TopLevelInstances(buffer *metadata.Buffer) ([]metadata.InstanceDesc, bool) {
	as, ok := b.accel[buffer.Address]
	if !ok || as.kind != metadata.ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL {
		return nil, false
	}
	return as.instances, true
}
