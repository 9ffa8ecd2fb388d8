package systems

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spaghettifunk/sonar/engine/core"
	"github.com/spaghettifunk/sonar/engine/renderer"
	"github.com/spaghettifunk/sonar/engine/renderer/metadata"
)

/**
 * @brief Builds bottom level structures for models and keeps the single top
 * level structure of the scene, rebuilt or refitted every frame.
 */
type AccelerationStructureSystem struct {
	backend renderer.RendererBackend
	logger  *log.Logger

	rayTypeCount uint32
	// Ray type count the current top level contributions were computed with.
	builtRayTypeCount uint32

	topLevel  metadata.AccelerationStructureBuffers
	instances []metadata.InstanceDesc
	built     bool

	bottomLevelBuilds uint64
	topLevelBuilds    uint64
	topLevelRefits    uint64
}

func NewAccelerationStructureSystem(backend renderer.RendererBackend) (*AccelerationStructureSystem, error) {
	if backend == nil {
		err := fmt.Errorf("func NewAccelerationStructureSystem - backend is nil")
		core.LogError(err.Error())
		return nil, err
	}
	return &AccelerationStructureSystem{
		backend:      backend,
		logger:       core.LogWith("system", "acceleration"),
		rayTypeCount: 1,
	}, nil
}

func (as *AccelerationStructureSystem) Shutdown() error {
	as.destroyTopLevel()
	as.instances = nil
	as.built = false
	return nil
}

func (as *AccelerationStructureSystem) destroyTopLevel() {
	as.backend.BufferDestroy(as.topLevel.Scratch)
	as.backend.BufferDestroy(as.topLevel.Result)
	as.backend.BufferDestroy(as.topLevel.InstanceDesc)
	as.topLevel = metadata.AccelerationStructureBuffers{}
}

// SetRayTypeCount changes the number of hit group records per instance. The
// next top level build must be a full build.
func (as *AccelerationStructureSystem) SetRayTypeCount(n uint32) {
	if n == 0 {
		n = 1
	}
	as.rayTypeCount = n
}

func (as *AccelerationStructureSystem) RayTypeCount() uint32 {
	return as.rayTypeCount
}

// NeedsFullBuild reports whether a refit is impossible: nothing was built yet
// or the ray type count changed since the last full build.
func (as *AccelerationStructureSystem) NeedsFullBuild() bool {
	return !as.built || as.builtRayTypeCount != as.rayTypeCount
}

func (as *AccelerationStructureSystem) createBuffer(name string, size uint64, state metadata.ResourceState) (*metadata.Buffer, error) {
	buf, err := as.backend.BufferCreate(metadata.BufferDesc{
		Name:         name,
		Size:         size,
		Heap:         metadata.HEAP_TYPE_DEFAULT,
		Flags:        metadata.BUFFER_FLAG_ALLOW_UNORDERED_ACCESS,
		InitialState: state,
	})
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", core.ErrBufferAllocation, name, err)
		core.LogError(err.Error())
		return nil, err
	}
	return buf, nil
}

/**
 * @brief Records the build of a bottom level structure holding the given
 * geometries. Must be called while the command list is recording.
 *
 * @param geometries One entry per vertex buffer, with an optional index buffer.
 * @return The scratch and result buffers of the structure.
 */
func (as *AccelerationStructureSystem) BuildBottomLevel(name string, geometries []metadata.GeometryDesc) (*metadata.AccelerationStructureBuffers, error) {
	inputs := metadata.AccelerationStructureInputs{
		Type:       metadata.ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL,
		Flags:      metadata.BUILD_FLAG_PREFER_FAST_TRACE,
		Geometries: geometries,
	}
	info, err := as.backend.AccelerationStructurePrebuildInfo(&inputs)
	if err != nil {
		err = fmt.Errorf("%w: bottom level %q: %w", core.ErrPrebuildInfo, name, err)
		core.LogError(err.Error())
		return nil, err
	}

	scratch, err := as.createBuffer(name+"-blas-scratch", info.ScratchDataSizeInBytes, metadata.RESOURCE_STATE_UNORDERED_ACCESS)
	if err != nil {
		return nil, err
	}
	result, err := as.createBuffer(name+"-blas", info.ResultDataMaxSizeInBytes, metadata.RESOURCE_STATE_RAYTRACING_ACCELERATION_STRUCTURE)
	if err != nil {
		as.backend.BufferDestroy(scratch)
		return nil, err
	}

	if err := as.backend.AccelerationStructureBuild(&metadata.AccelerationStructureBuildDesc{
		Inputs:  inputs,
		Dest:    result,
		Scratch: scratch,
	}); err != nil {
		as.backend.BufferDestroy(scratch)
		as.backend.BufferDestroy(result)
		core.LogError(err.Error())
		return nil, err
	}
	// The top level build reads the result, so it must be complete first.
	if err := as.backend.ResourceBarrierUAV(result); err != nil {
		return nil, err
	}

	as.bottomLevelBuilds++
	as.logger.Debug("bottom level structure recorded", "name", name, "size", info.ResultDataMaxSizeInBytes)
	return &metadata.AccelerationStructureBuffers{Scratch: scratch, Result: result}, nil
}

/**
 * @brief Records a top level build from the ordered instance list.
 *
 * Instance i gets instance id i and the hit group contribution
 * i * RayTypeCount(). A full build allocates new buffers. A refit rewrites the
 * instance descriptors in place and updates the previous result.
 *
 * @param instances The instances in scene order.
 * @param updateOnly Refit instead of rebuilding.
 */
func (as *AccelerationStructureSystem) BuildTopLevel(instances []metadata.TopLevelInstance, updateOnly bool) error {
	count := uint32(len(instances))
	if updateOnly {
		if !as.built {
			err := fmt.Errorf("top level refit with %d instances: %w", count, core.ErrRefitBeforeBuild)
			core.LogError(err.Error())
			return err
		}
		if count != uint32(len(as.instances)) {
			err := fmt.Errorf("top level refit with %d instances, built with %d: %w",
				count, len(as.instances), core.ErrInstanceCountMismatch)
			core.LogError(err.Error())
			return err
		}
		if as.builtRayTypeCount != as.rayTypeCount {
			err := fmt.Errorf("top level refit after the ray type count changed from %d to %d: %w",
				as.builtRayTypeCount, as.rayTypeCount, core.ErrInstanceCountMismatch)
			core.LogError(err.Error())
			return err
		}
	}

	descs := make([]metadata.InstanceDesc, count)
	for i, inst := range instances {
		if inst.BottomLevel == nil {
			err := fmt.Errorf("instance %d has no bottom level structure: %w", i, core.ErrInvalidModel)
			core.LogError(err.Error())
			return err
		}
		descs[i] = metadata.InstanceDesc{
			Transform:                           inst.Transform.ToAffine3x4(),
			InstanceID:                          uint32(i),
			InstanceMask:                        0xFF,
			InstanceContributionToHitGroupIndex: uint32(i) * as.rayTypeCount,
			Flags:                               metadata.INSTANCE_FLAG_NONE,
			AccelerationStructure:               inst.BottomLevel.Address,
		}
	}

	flags := metadata.BUILD_FLAG_ALLOW_UPDATE | metadata.BUILD_FLAG_PREFER_FAST_TRACE
	if updateOnly {
		flags |= metadata.BUILD_FLAG_PERFORM_UPDATE
	}
	inputs := metadata.AccelerationStructureInputs{
		Type:          metadata.ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL,
		Flags:         flags,
		InstanceCount: count,
	}

	if !updateOnly {
		info, err := as.backend.AccelerationStructurePrebuildInfo(&inputs)
		if err != nil {
			err = fmt.Errorf("%w: top level: %w", core.ErrPrebuildInfo, err)
			core.LogError(err.Error())
			return err
		}
		as.destroyTopLevel()
		as.built = false

		scratch, err := as.createBuffer("tlas-scratch", max(info.ScratchDataSizeInBytes, info.UpdateScratchSizeInBytes), metadata.RESOURCE_STATE_UNORDERED_ACCESS)
		if err != nil {
			return err
		}
		result, err := as.createBuffer("tlas", info.ResultDataMaxSizeInBytes, metadata.RESOURCE_STATE_RAYTRACING_ACCELERATION_STRUCTURE)
		if err != nil {
			as.backend.BufferDestroy(scratch)
			return err
		}
		descSize := metadata.GetAligned(uint64(max(count, 1))*metadata.InstanceDescSize, metadata.AccelerationStructureAlignment)
		instanceDesc, err := as.backend.BufferCreate(metadata.BufferDesc{
			Name:         "tlas-instances",
			Size:         descSize,
			Heap:         metadata.HEAP_TYPE_UPLOAD,
			InitialState: metadata.RESOURCE_STATE_GENERIC_READ,
		})
		if err != nil {
			as.backend.BufferDestroy(scratch)
			as.backend.BufferDestroy(result)
			err = fmt.Errorf("%w: tlas-instances: %w", core.ErrBufferAllocation, err)
			core.LogError(err.Error())
			return err
		}
		as.topLevel = metadata.AccelerationStructureBuffers{
			Scratch:      scratch,
			Result:       result,
			InstanceDesc: instanceDesc,
		}
	}

	mapped, err := as.backend.BufferMap(as.topLevel.InstanceDesc)
	if err != nil {
		err = fmt.Errorf("%w: %w", core.ErrBufferMap, err)
		core.LogError(err.Error())
		return err
	}
	for i := range descs {
		if err := descs[i].Encode(mapped[i*metadata.InstanceDescSize:]); err != nil {
			as.backend.BufferUnmap(as.topLevel.InstanceDesc)
			core.LogError(err.Error())
			return err
		}
	}
	as.backend.BufferUnmap(as.topLevel.InstanceDesc)

	inputs.InstanceDescs = as.topLevel.InstanceDesc.Address
	build := &metadata.AccelerationStructureBuildDesc{
		Inputs:  inputs,
		Dest:    as.topLevel.Result,
		Scratch: as.topLevel.Scratch,
	}
	if updateOnly {
		build.Source = as.topLevel.Result
	}
	if err := as.backend.AccelerationStructureBuild(build); err != nil {
		core.LogError(err.Error())
		return err
	}
	// Dispatch must not start before the structure is complete.
	if err := as.backend.ResourceBarrierUAV(as.topLevel.Result); err != nil {
		return err
	}

	as.instances = descs
	if updateOnly {
		as.topLevelRefits++
	} else {
		as.built = true
		as.builtRayTypeCount = as.rayTypeCount
		as.topLevelBuilds++
		as.logger.Debug("top level structure rebuilt", "instances", count, "ray_types", as.rayTypeCount)
	}
	return nil
}

// TopLevel returns the buffers of the current top level structure.
func (as *AccelerationStructureSystem) TopLevel() metadata.AccelerationStructureBuffers {
	return as.topLevel
}

// Instances returns the instance descriptors written by the last build.
func (as *AccelerationStructureSystem) Instances() []metadata.InstanceDesc {
	out := make([]metadata.InstanceDesc, len(as.instances))
	copy(out, as.instances)
	return out
}

func (as *AccelerationStructureSystem) BottomLevelBuilds() uint64 {
	return as.bottomLevelBuilds
}

func (as *AccelerationStructureSystem) TopLevelBuilds() uint64 {
	return as.topLevelBuilds
}

func (as *AccelerationStructureSystem) TopLevelRefits() uint64 {
	return as.topLevelRefits
}
