package systems

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/charmbracelet/log"
	"github.com/chewxy/math32"
	"github.com/spaghettifunk/sonar/engine/core"
	"github.com/spaghettifunk/sonar/engine/math"
	"github.com/spaghettifunk/sonar/engine/renderer"
	"github.com/spaghettifunk/sonar/engine/renderer/metadata"
	"github.com/spaghettifunk/sonar/engine/scene"
)

// Descriptor heap layout. Textures follow from TextureHeapSlotBase.
const (
	HeapSlotOutput   uint32 = 0
	HeapSlotTopLevel uint32 = 1
	HeapSlotCamera   uint32 = 2
	HeapSlotSonar    uint32 = 3
)

const (
	/** @brief Bytes used by one instance's constants: four float4. */
	InstanceConstantsSize = 4 * 16
	/** @brief Distance between two instances' constants in the instance buffer. */
	InstanceConstantsStride = metadata.ConstantBufferAlignment
	/** @brief Source world, ray projection, their inverses and the receiver. */
	SonarConstantsSize = 4*64 + 2*16
	outputPixelSize    = 4
)

type RendererSystemConfig struct {
	ApplicationName string
	Width           uint32
	Height          uint32
	RayTracing      metadata.RayTracingConfig
}

/**
 * @brief Drives a frame: collects the scene once, keeps the acceleration
 * structures and the shader binding table in step with it, uploads the
 * constants and dispatches the rays.
 *
 * The instance order of the collected frame is the order of the top level
 * instances, of the instance constants and of the hit group records, so
 * instance i always reaches record i * RayTypeCount.
 */
type RendererSystem struct {
	backend   renderer.RendererBackend
	logger    *log.Logger
	models    *ModelSystem
	accel     *AccelerationStructureSystem
	pipelines *PipelineSystem
	textures  *TextureSystem
	cameras   *CameraSystem
	sbt       *ShaderBindingTableGenerator

	appName  string
	width    uint32
	height   uint32
	rtConfig metadata.RayTracingConfig

	scene *scene.Scene

	output         *metadata.Buffer
	sonarBuffer    *metadata.Buffer
	instanceBuffer *metadata.Buffer
	shaderTable    *metadata.Buffer
	heap           *metadata.DescriptorHeap

	// Bindings the current shader table was generated from.
	bindings        []scene.Binding
	sbtDirty        bool
	shaderTableSize uint32
	topLevelAddress metadata.GPUVirtualAddress

	frameNumber       uint64
	instanceCount     uint32
	shaderTableBuilds uint64
	initialized       bool
}

/**
 * @brief Creates the renderer and initializes the device. Meshes and textures
 * can be loaded once this returns, the scene is attached with Initialize.
 */
func NewRendererSystem(config RendererSystemConfig, backend renderer.RendererBackend, models *ModelSystem,
	accel *AccelerationStructureSystem, pipelines *PipelineSystem, textures *TextureSystem, cameras *CameraSystem) (*RendererSystem, error) {
	if backend == nil || models == nil || accel == nil || pipelines == nil || textures == nil || cameras == nil {
		err := fmt.Errorf("func NewRendererSystem - backend and every collaborating system are required")
		core.LogError(err.Error())
		return nil, err
	}
	if err := config.RayTracing.Validate(); err != nil {
		err = fmt.Errorf("%w: %w", core.ErrPipelineCreation, err)
		core.LogError(err.Error())
		return nil, err
	}
	if err := backend.Initialize(metadata.RendererBackendConfig{
		ApplicationName: config.ApplicationName,
		Width:           config.Width,
		Height:          config.Height,
	}); err != nil {
		core.LogError("renderer backend failed to initialize: %s", err)
		return nil, err
	}
	accel.SetRayTypeCount(config.RayTracing.RayTypeCount())
	return &RendererSystem{
		backend:   backend,
		logger:    core.LogWith("system", "renderer"),
		models:    models,
		accel:     accel,
		pipelines: pipelines,
		textures:  textures,
		cameras:   cameras,
		sbt:       NewShaderBindingTableGenerator(),
		appName:   config.ApplicationName,
		width:     config.Width,
		height:    config.Height,
		rtConfig:  config.RayTracing,
		sbtDirty:  true,
	}, nil
}

func (r *RendererSystem) createBuffer(name string, size uint64, heap metadata.HeapType) (*metadata.Buffer, error) {
	desc := metadata.BufferDesc{
		Name:         name,
		Size:         size,
		Heap:         heap,
		InitialState: metadata.RESOURCE_STATE_GENERIC_READ,
	}
	if heap == metadata.HEAP_TYPE_DEFAULT {
		desc.Flags = metadata.BUFFER_FLAG_ALLOW_UNORDERED_ACCESS
		desc.InitialState = metadata.RESOURCE_STATE_UNORDERED_ACCESS
	}
	buf, err := r.backend.BufferCreate(desc)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", core.ErrBufferAllocation, name, err)
		core.LogError(err.Error())
		return nil, err
	}
	return buf, nil
}

/**
 * @brief Creates every frame resource for the scene, builds the acceleration
 * structures and the shader binding table, and waits for the GPU. The scene
 * is frozen: objects can no longer be added.
 */
func (r *RendererSystem) Initialize(s *scene.Scene) error {
	if r.initialized {
		return fmt.Errorf("renderer already initialized")
	}
	if s == nil {
		err := fmt.Errorf("renderer needs a scene: %w", core.ErrNotInitialized)
		core.LogError(err.Error())
		return err
	}
	r.scene = s

	if _, err := r.pipelines.Build(r.rtConfig); err != nil {
		return err
	}

	var err error
	if r.output, err = r.createBuffer("sonar-output", uint64(r.width)*uint64(r.height)*outputPixelSize, metadata.HEAP_TYPE_DEFAULT); err != nil {
		return err
	}
	if r.sonarBuffer, err = r.createBuffer("sonar-constants",
		metadata.GetAligned(SonarConstantsSize, metadata.ConstantBufferAlignment), metadata.HEAP_TYPE_UPLOAD); err != nil {
		return err
	}
	if r.cameras.Buffer() == nil {
		if err := r.cameras.Initialize(); err != nil {
			return err
		}
	}

	frame := s.Collect()
	r.instanceCount = uint32(len(frame.Instances))
	if r.instanceBuffer, err = r.createBuffer("instance-constants",
		uint64(max(r.instanceCount, 1))*InstanceConstantsStride, metadata.HEAP_TYPE_UPLOAD); err != nil {
		return err
	}

	if r.heap, err = r.backend.DescriptorHeapCreate(TextureHeapSlotBase + r.textures.Count()); err != nil {
		core.LogError("descriptor heap: %s", err)
		return err
	}
	if err := r.writeDescriptors(); err != nil {
		return err
	}

	s.Freeze()
	if err := r.backend.CommandListReset(); err != nil {
		return err
	}
	if err := r.prepare(&frame); err != nil {
		r.abort()
		return err
	}
	if err := r.backend.CommandListClose(); err != nil {
		return err
	}
	if err := r.backend.ExecuteCommandList(); err != nil {
		return err
	}
	if err := r.backend.WaitForGPU(); err != nil {
		return err
	}
	s.Graph().ClearChanged()

	r.initialized = true
	r.logger.Info("renderer initialized", "instances", r.instanceCount, "models", r.models.Count(),
		"textures", r.textures.Count(), "ray_types", r.rtConfig.RayTypeCount())
	return nil
}

func (r *RendererSystem) writeDescriptors() error {
	for _, w := range []struct {
		slot uint32
		desc metadata.Descriptor
	}{
		{HeapSlotOutput, metadata.Descriptor{Kind: metadata.DESCRIPTOR_KIND_UAV, Buffer: r.output, Width: r.width, Height: r.height}},
		{HeapSlotCamera, metadata.Descriptor{Kind: metadata.DESCRIPTOR_KIND_CBV, Buffer: r.cameras.Buffer()}},
		{HeapSlotSonar, metadata.Descriptor{Kind: metadata.DESCRIPTOR_KIND_CBV, Buffer: r.sonarBuffer}},
	} {
		if err := r.backend.DescriptorWrite(r.heap, w.slot, w.desc); err != nil {
			err = fmt.Errorf("heap slot %d: %w", w.slot, err)
			core.LogError(err.Error())
			return err
		}
	}
	return r.textures.WriteDescriptors(r.heap)
}

// prepare records the acceleration structure work for the frame, uploads
// the constants and regenerates the shader table when needed. The command
// list must be recording.
func (r *RendererSystem) prepare(frame *scene.Frame) error {
	if uint32(len(frame.Instances)) != r.instanceCount {
		err := fmt.Errorf("frame holds %d instances, renderer was initialized with %d: %w",
			len(frame.Instances), r.instanceCount, core.ErrInstanceCountMismatch)
		core.LogError(err.Error())
		return err
	}

	tops := make([]metadata.TopLevelInstance, len(frame.Instances))
	for i, inst := range frame.Instances {
		if err := r.models.EnsureBottomLevelBuilt(inst.Model); err != nil {
			return err
		}
		model, err := r.models.Model(inst.Model)
		if err != nil {
			return err
		}
		tops[i] = metadata.TopLevelInstance{
			BottomLevel: model.AccelerationStructure.Result,
			Transform:   inst.World,
		}
	}

	if err := r.accel.BuildTopLevel(tops, !r.accel.NeedsFullBuild()); err != nil {
		return err
	}
	if address := r.accel.TopLevel().Result.AddressAt(0); address != r.topLevelAddress {
		if err := r.backend.DescriptorWrite(r.heap, HeapSlotTopLevel, metadata.Descriptor{
			Kind:    metadata.DESCRIPTOR_KIND_ACCELERATION_STRUCTURE,
			Buffer:  r.accel.TopLevel().Result,
			Address: address,
		}); err != nil {
			err = fmt.Errorf("top level view: %w", err)
			core.LogError(err.Error())
			return err
		}
		r.topLevelAddress = address
	}

	if err := r.uploadInstanceConstants(frame); err != nil {
		return err
	}
	if err := r.uploadSonarConstants(frame); err != nil {
		return err
	}

	bindings := make([]scene.Binding, len(frame.Instances))
	for i, inst := range frame.Instances {
		bindings[i] = inst.Binding()
	}
	if r.sbtDirty || !slices.Equal(bindings, r.bindings) {
		if err := r.buildShaderTable(frame, bindings); err != nil {
			return err
		}
	}

	if want := r.instanceCount * r.accel.RayTypeCount(); r.sbt.HitGroupCount() != want {
		err := fmt.Errorf("shader table holds %d hit group records, %d instances with %d ray types need %d: %w",
			r.sbt.HitGroupCount(), r.instanceCount, r.accel.RayTypeCount(), want, core.ErrInstanceCountMismatch)
		core.LogError(err.Error())
		return err
	}
	return nil
}

func putFloats(dst []byte, values ...float32) {
	for i, v := range values {
		binary.LittleEndian.PutUint32(dst[i*4:], math32.Float32bits(v))
	}
}

func (r *RendererSystem) mapBuffer(buf *metadata.Buffer) ([]byte, error) {
	mapped, err := r.backend.BufferMap(buf)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", core.ErrBufferMap, buf.Name, err)
		core.LogError(err.Error())
		return nil, err
	}
	return mapped, nil
}

// uploadInstanceConstants writes, for every instance: the albedo, then
// reflectivity, surface kind, texture heap slot and instance index, then the
// world position and the ray type count.
func (r *RendererSystem) uploadInstanceConstants(frame *scene.Frame) error {
	mapped, err := r.mapBuffer(r.instanceBuffer)
	if err != nil {
		return err
	}
	defer r.backend.BufferUnmap(r.instanceBuffer)
	for i, inst := range frame.Instances {
		tex, err := r.textures.Get(inst.Texture)
		if err != nil {
			return err
		}
		dst := mapped[uint64(i)*InstanceConstantsStride:]
		position := inst.World.Translation()
		putFloats(dst,
			inst.Albedo.X, inst.Albedo.Y, inst.Albedo.Z, inst.Albedo.W,
			inst.Reflectivity, float32(inst.Surface), float32(tex.HeapSlot), float32(i),
			position.X, position.Y, position.Z, 1,
			float32(r.accel.RayTypeCount()), 0, 0, 0,
		)
	}
	return nil
}

// uploadSonarConstants writes the first sound source's world matrix and ray
// projection with their inverses, followed by the first receiver's position
// and the source and receiver counts.
func (r *RendererSystem) uploadSonarConstants(frame *scene.Frame) error {
	mapped, err := r.mapBuffer(r.sonarBuffer)
	if err != nil {
		return err
	}
	defer r.backend.BufferUnmap(r.sonarBuffer)

	world, projection := math.NewMat4Identity(), math.NewMat4Identity()
	if len(frame.Sources) > 0 {
		world = frame.Sources[0].World
		projection = frame.Sources[0].RayProjection
	}
	for i, m := range [4]math.Mat4{world, projection, world.Inverse(), projection.Inverse()} {
		m.Encode(mapped[i*64:])
	}
	receiver := math.NewVec3Zero()
	if len(frame.Receivers) > 0 {
		receiver = frame.Receivers[0].World.Translation()
	}
	putFloats(mapped[4*64:],
		receiver.X, receiver.Y, receiver.Z, 1,
		float32(len(frame.Sources)), float32(len(frame.Receivers)), float32(r.frameNumber), 0,
	)
	return nil
}

func primaryHitGroup(surface scene.SurfaceKind, secondary metadata.SecondaryRays) string {
	if surface != scene.SurfaceBoundary {
		return HitGroup
	}
	if secondary == metadata.SECONDARY_RAYS_REFLECTION {
		return BoundaryReflectionHitGroup
	}
	return BoundaryHitGroup
}

/**
 * @brief Regenerates the shader binding table from the collected instances.
 *
 * The ray generation record points at the descriptor heap. Each instance gets
 * its primary hit group followed by the secondary ray hit group when one is
 * enabled.
 */
func (r *RendererSystem) buildShaderTable(frame *scene.Frame, bindings []scene.Binding) error {
	g := r.sbt
	g.Reset()
	g.AddRayGenerationProgram(ExportRayGen, []uint64{uint64(r.heap.GPUStart)})
	g.AddMissProgram(ExportMiss, nil)

	secondary := r.rtConfig.SecondaryRays
	var secondaryHitGroup string
	switch secondary {
	case metadata.SECONDARY_RAYS_SHADOW:
		g.AddMissProgram(ExportShadowMiss, nil)
		secondaryHitGroup = ShadowHitGroup
	case metadata.SECONDARY_RAYS_REFLECTION:
		g.AddMissProgram(ExportReflectionMiss, nil)
		secondaryHitGroup = ReflectionHitGroup
	}

	for i, inst := range frame.Instances {
		model, err := r.models.Model(inst.Model)
		if err != nil {
			return err
		}
		tex, err := r.textures.Get(inst.Texture)
		if err != nil {
			return err
		}
		g.AddHitGroup(primaryHitGroup(inst.Surface, secondary), []uint64{
			uint64(model.VertexBuffer.AddressAt(0)),
			uint64(model.IndexBuffer.AddressAt(0)),
			uint64(r.instanceBuffer.AddressAt(uint64(i) * InstanceConstantsStride)),
			uint64(r.heap.GPUHandle(tex.HeapSlot)),
		})
		if secondaryHitGroup != "" {
			g.AddHitGroup(secondaryHitGroup, nil)
		}
	}

	size := g.ComputeSBTSize()
	if r.shaderTable == nil || r.shaderTable.Size < uint64(size) {
		r.backend.BufferDestroy(r.shaderTable)
		var err error
		if r.shaderTable, err = r.createBuffer("shader-binding-table", uint64(size), metadata.HEAP_TYPE_UPLOAD); err != nil {
			r.shaderTable = nil
			return err
		}
	}
	mapped, err := r.mapBuffer(r.shaderTable)
	if err != nil {
		return err
	}
	err = g.Generate(mapped, r.pipelines.Pipeline())
	r.backend.BufferUnmap(r.shaderTable)
	if err != nil {
		return err
	}

	r.bindings = bindings
	r.sbtDirty = false
	r.shaderTableSize = size
	r.shaderTableBuilds++
	r.logger.Debug("shader binding table generated", "size", size, "hit_groups", g.HitGroupCount(), "misses", g.MissCount())
	return nil
}

func (r *RendererSystem) dispatchDesc() *metadata.DispatchRaysDesc {
	g := r.sbt
	start := r.shaderTable.Address
	missStart := start + metadata.GPUVirtualAddress(g.GetRayGenSectionSize())
	hitStart := missStart + metadata.GPUVirtualAddress(g.GetMissSectionSize())
	return &metadata.DispatchRaysDesc{
		RayGenerationShaderRecord: metadata.GPUAddressRange{
			StartAddress: start,
			SizeInBytes:  uint64(g.GetRayGenEntrySize()),
		},
		MissShaderTable: metadata.GPUAddressRangeAndStride{
			StartAddress:  missStart,
			SizeInBytes:   uint64(g.GetMissEntrySize()) * uint64(g.MissCount()),
			StrideInBytes: uint64(g.GetMissEntrySize()),
		},
		HitGroupTable: metadata.GPUAddressRangeAndStride{
			StartAddress:  hitStart,
			SizeInBytes:   uint64(g.GetHitGroupEntrySize()) * uint64(g.HitGroupCount()),
			StrideInBytes: uint64(g.GetHitGroupEntrySize()),
		},
		Width:        r.width,
		Height:       r.height,
		Depth:        1,
		RayTypeCount: r.accel.RayTypeCount(),
	}
}

// abort closes a command list left recording by a failed frame so the next
// frame can reset it.
func (r *RendererSystem) abort() {
	if err := r.backend.CommandListClose(); err != nil {
		r.logger.Debug("closing aborted command list", "err", err)
	}
}

/**
 * @brief Renders one frame.
 *
 * The scene is collected once. The same instance list refits the top level
 * structure and, when a binding changed, regenerates the shader table before
 * the rays are dispatched. Returns once the GPU has finished the frame.
 */
func (r *RendererSystem) Render(deltaTime float64) error {
	if !r.initialized {
		err := fmt.Errorf("render before initialize: %w", core.ErrNotInitialized)
		core.LogError(err.Error())
		return err
	}
	if err := r.cameras.Update(deltaTime); err != nil {
		return err
	}
	if err := r.backend.BeginFrame(deltaTime); err != nil {
		return err
	}
	if err := r.renderFrame(); err != nil {
		r.abort()
		return err
	}
	if err := r.backend.EndFrame(deltaTime); err != nil {
		return err
	}
	r.scene.Graph().ClearChanged()
	r.frameNumber++
	return nil
}

func (r *RendererSystem) renderFrame() error {
	if r.pipelines.NeedsRebuild(r.rtConfig) {
		if _, err := r.pipelines.Build(r.rtConfig); err != nil {
			return err
		}
		// Identifiers belong to the pipeline that produced them.
		r.sbtDirty = true
	}

	frame := r.scene.Collect()
	if err := r.prepare(&frame); err != nil {
		return err
	}

	if err := r.backend.PipelineBind(r.pipelines.Pipeline(), r.heap); err != nil {
		core.LogError("bind pipeline: %s", err)
		return err
	}
	if err := r.backend.DispatchRays(r.dispatchDesc()); err != nil {
		core.LogError("dispatch rays: %s", err)
		return err
	}
	return nil
}

/**
 * @brief Applies new ray tracing settings. Pipeline settings rebuild the
 * pipeline on the next frame. A different secondary ray mode regenerates the
 * shader table and forces a full top level build.
 */
func (r *RendererSystem) SetRayTracingConfig(config metadata.RayTracingConfig) error {
	if err := config.Validate(); err != nil {
		err = fmt.Errorf("%w: %w", core.ErrPipelineCreation, err)
		core.LogError(err.Error())
		return err
	}
	if config.SecondaryRays != r.rtConfig.SecondaryRays {
		r.accel.SetRayTypeCount(config.RayTypeCount())
		r.sbtDirty = true
	}
	r.logger.Info("ray tracing settings changed", "recursion", config.MaxRecursionDepth,
		"secondary_rays", config.SecondaryRays, "pipeline", r.rtConfig.PipelineChanged(config))
	r.rtConfig = config
	return nil
}

func (r *RendererSystem) RayTracingConfig() metadata.RayTracingConfig {
	return r.rtConfig
}

// Resized recreates the output buffer for the new size and updates the
// camera aspect ratio.
func (r *RendererSystem) Resized(width, height uint32) error {
	if width == 0 || height == 0 {
		return nil
	}
	if err := r.backend.Resized(width, height); err != nil {
		return err
	}
	r.width, r.height = width, height
	r.cameras.GetDefault().SetAspectRatio(float32(width) / float32(height))
	if !r.initialized {
		return nil
	}
	output, err := r.createBuffer("sonar-output", uint64(width)*uint64(height)*outputPixelSize, metadata.HEAP_TYPE_DEFAULT)
	if err != nil {
		return err
	}
	r.backend.BufferDestroy(r.output)
	r.output = output
	return r.backend.DescriptorWrite(r.heap, HeapSlotOutput, metadata.Descriptor{
		Kind: metadata.DESCRIPTOR_KIND_UAV, Buffer: r.output, Width: width, Height: height,
	})
}

// Output is the buffer the ray generation shader writes.
func (r *RendererSystem) Output() *metadata.Buffer {
	return r.output
}

func (r *RendererSystem) Heap() *metadata.DescriptorHeap {
	return r.heap
}

func (r *RendererSystem) InstanceBuffer() *metadata.Buffer {
	return r.instanceBuffer
}

func (r *RendererSystem) ShaderTable() *metadata.Buffer {
	return r.shaderTable
}

/**
 * @brief Read only counters for debug overlays.
 */
func (r *RendererSystem) Stats() metadata.RendererStats {
	return metadata.RendererStats{
		FrameNumber:         r.frameNumber,
		InstanceCount:       r.instanceCount,
		ModelCount:          r.models.Count(),
		RayTypeCount:        r.accel.RayTypeCount(),
		BottomLevelBuilds:   r.accel.BottomLevelBuilds(),
		TopLevelBuilds:      r.accel.TopLevelBuilds(),
		TopLevelRefits:      r.accel.TopLevelRefits(),
		ShaderTableBuilds:   r.shaderTableBuilds,
		PipelineBuilds:      r.pipelines.Builds(),
		ShaderTableSize:     r.shaderTableSize,
		HitGroupRecordCount: r.sbt.HitGroupCount(),
		SecondaryRays:       r.rtConfig.SecondaryRays,
	}
}

/**
 * @brief Waits for the GPU and releases the frame resources. The backend is
 * shut down last by the system manager.
 */
func (r *RendererSystem) Shutdown() error {
	if r.initialized {
		if err := r.backend.WaitForGPU(); err != nil {
			return err
		}
	}
	r.backend.BufferDestroy(r.shaderTable)
	r.backend.BufferDestroy(r.instanceBuffer)
	r.backend.BufferDestroy(r.sonarBuffer)
	r.backend.BufferDestroy(r.output)
	r.backend.DescriptorHeapDestroy(r.heap)
	r.shaderTable, r.instanceBuffer, r.sonarBuffer, r.output, r.heap = nil, nil, nil, nil, nil
	r.bindings = nil
	r.initialized = false
	return nil
}
