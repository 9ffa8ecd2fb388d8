package headless

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/spaghettifunk/sonar/engine/core"
	smath "github.com/spaghettifunk/sonar/engine/math"
	"github.com/spaghettifunk/sonar/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T, options ...Option) *Backend {
	t.Helper()
	b := New(append([]Option{WithFenceTimeout(time.Second)}, options...)...)
	require.NoError(t, b.Initialize(metadata.RendererBackendConfig{ApplicationName: "test", Width: 4, Height: 4}))
	return b
}

func upload(t *testing.T, b *Backend, name string, data []byte) *metadata.Buffer {
	t.Helper()
	buf, err := b.BufferCreate(metadata.BufferDesc{Name: name, Size: uint64(len(data)), Heap: metadata.HEAP_TYPE_UPLOAD})
	require.NoError(t, err)
	mapped, err := b.BufferMap(buf)
	require.NoError(t, err)
	copy(mapped, data)
	b.BufferUnmap(buf)
	return buf
}

func uav(t *testing.T, b *Backend, size uint64) *metadata.Buffer {
	t.Helper()
	buf, err := b.BufferCreate(metadata.BufferDesc{
		Size:         size,
		Heap:         metadata.HEAP_TYPE_DEFAULT,
		Flags:        metadata.BUFFER_FLAG_ALLOW_UNORDERED_ACCESS,
		InitialState: metadata.RESOURCE_STATE_RAYTRACING_ACCELERATION_STRUCTURE,
	})
	require.NoError(t, err)
	return buf
}

func triangle(t *testing.T, b *Backend, name string) *metadata.Buffer {
	vd := metadata.NewVertexData([]smath.VertexPositionNormalUV{
		{PositionU: smath.NewVec4(0, 0, 0, 0)},
		{PositionU: smath.NewVec4(1, 0, 0, 0)},
		{PositionU: smath.NewVec4(0, 1, 0, 0)},
	})
	return upload(t, b, name, vd.Bytes)
}

func buildBottomLevel(t *testing.T, b *Backend, vb *metadata.Buffer) *metadata.Buffer {
	t.Helper()
	inputs := metadata.AccelerationStructureInputs{
		Type: metadata.ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL,
		Geometries: []metadata.GeometryDesc{{
			VertexBuffer: vb,
			VertexCount:  3,
			VertexStride: smath.VertexPositionNormalUVSize,
			Flags:        metadata.GEOMETRY_FLAG_OPAQUE,
		}},
	}
	info, err := b.AccelerationStructurePrebuildInfo(&inputs)
	require.NoError(t, err)
	result := uav(t, b, info.ResultDataMaxSizeInBytes)
	scratch := uav(t, b, info.ScratchDataSizeInBytes)
	require.NoError(t, b.AccelerationStructureBuild(&metadata.AccelerationStructureBuildDesc{
		Inputs:  inputs,
		Dest:    result,
		Scratch: scratch,
	}))
	return result
}

type topLevel struct {
	result    *metadata.Buffer
	scratch   *metadata.Buffer
	instances *metadata.Buffer
	count     uint32
}

func writeInstances(t *testing.T, b *Backend, buf *metadata.Buffer, descs []metadata.InstanceDesc) {
	t.Helper()
	mapped, err := b.BufferMap(buf)
	require.NoError(t, err)
	for i := range descs {
		require.NoError(t, descs[i].Encode(mapped[i*metadata.InstanceDescSize:]))
	}
	b.BufferUnmap(buf)
}

func buildTopLevel(t *testing.T, b *Backend, descs []metadata.InstanceDesc, flags metadata.BuildFlag) *topLevel {
	t.Helper()
	instances := upload(t, b, "instances", make([]byte, metadata.InstanceDescSize*len(descs)))
	writeInstances(t, b, instances, descs)
	inputs := metadata.AccelerationStructureInputs{
		Type:          metadata.ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL,
		Flags:         flags,
		InstanceCount: uint32(len(descs)),
		InstanceDescs: instances.Address,
	}
	info, err := b.AccelerationStructurePrebuildInfo(&inputs)
	require.NoError(t, err)
	tl := &topLevel{
		result:    uav(t, b, info.ResultDataMaxSizeInBytes),
		scratch:   uav(t, b, info.ScratchDataSizeInBytes),
		instances: instances,
		count:     uint32(len(descs)),
	}
	require.NoError(t, b.AccelerationStructureBuild(&metadata.AccelerationStructureBuildDesc{
		Inputs:  inputs,
		Dest:    tl.result,
		Scratch: tl.scratch,
	}))
	return tl
}

func testPipelineDesc() *metadata.RayTracingPipelineDesc {
	return &metadata.RayTracingPipelineDesc{
		Name: "test",
		Libraries: []metadata.ShaderLibraryDesc{{
			Name:    "lib",
			Blob:    []byte{'D', 'X', 'B', 'C'},
			Exports: []string{"RayGen", "Miss", "ClosestHit"},
		}},
		HitGroups: []metadata.HitGroupDesc{{Name: "HitGroup", ClosestHit: "ClosestHit"}},
		RootSignatures: []metadata.RootSignatureDesc{
			{
				Name:         "raygen",
				Parameters:   []metadata.RootParameter{{Name: "heap", Type: metadata.ROOT_PARAMETER_TYPE_DESCRIPTOR_TABLE}},
				Associations: []string{"RayGen"},
			},
			{
				Name: "hit",
				Parameters: []metadata.RootParameter{
					{Name: "vertices", Type: metadata.ROOT_PARAMETER_TYPE_SRV},
					{Name: "indices", Type: metadata.ROOT_PARAMETER_TYPE_SRV},
				},
				Associations: []string{"HitGroup"},
			},
		},
		MaxPayloadSize:    16,
		MaxAttributeSize:  8,
		MaxRecursionDepth: 1,
	}
}

func TestBufferCreateAlignsAddresses(t *testing.T) {
	b := newBackend(t)

	first, err := b.BufferCreate(metadata.BufferDesc{Size: 10, Heap: metadata.HEAP_TYPE_UPLOAD})
	require.NoError(t, err)
	second, err := b.BufferCreate(metadata.BufferDesc{Size: 300, Heap: metadata.HEAP_TYPE_DEFAULT})
	require.NoError(t, err)

	assert.Zero(t, uint64(first.Address)%256)
	assert.Zero(t, uint64(second.Address)%256)
	assert.Equal(t, first.Address+256, second.Address)
	assert.NotEmpty(t, first.Name)

	_, err = b.BufferMap(second)
	assert.ErrorIs(t, err, core.ErrBufferMap)

	_, err = b.BufferCreate(metadata.BufferDesc{Size: 0})
	assert.ErrorIs(t, err, core.ErrBufferAllocation)

	b.BufferDestroy(first)
	assert.Equal(t, uint32(1), b.Stats().LiveBuffers)
	assert.Equal(t, uint64(300), b.Stats().AllocatedBytes)
}

func TestBufferCreateHonoursMemoryBudget(t *testing.T) {
	b := newBackend(t, WithMemoryBudget(1024))

	_, err := b.BufferCreate(metadata.BufferDesc{Size: 1000})
	require.NoError(t, err)
	_, err = b.BufferCreate(metadata.BufferDesc{Size: 100})
	assert.ErrorIs(t, err, core.ErrBufferAllocation)
}

func TestPrebuildInfoSizes(t *testing.T) {
	b := newBackend(t)
	vb := triangle(t, b, "tri")

	info, err := b.AccelerationStructurePrebuildInfo(&metadata.AccelerationStructureInputs{
		Type:  metadata.ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL,
		Flags: metadata.BUILD_FLAG_ALLOW_UPDATE,
		Geometries: []metadata.GeometryDesc{{
			VertexBuffer: vb,
			VertexCount:  3,
			VertexStride: smath.VertexPositionNormalUVSize,
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(512), info.ResultDataMaxSizeInBytes)
	assert.Equal(t, uint64(512), info.ScratchDataSizeInBytes)
	assert.Equal(t, info.ScratchDataSizeInBytes, info.UpdateScratchSizeInBytes)

	info, err = b.AccelerationStructurePrebuildInfo(&metadata.AccelerationStructureInputs{
		Type: metadata.ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(256), info.ResultDataMaxSizeInBytes)
	assert.Zero(t, info.UpdateScratchSizeInBytes)

	_, err = b.AccelerationStructurePrebuildInfo(&metadata.AccelerationStructureInputs{
		Type: metadata.ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL,
		Geometries: []metadata.GeometryDesc{{
			VertexBuffer: vb,
			VertexCount:  4,
			VertexStride: smath.VertexPositionNormalUVSize,
		}},
	})
	assert.ErrorIs(t, err, core.ErrPrebuildInfo)
}

func TestRecordingOutsideFrameFails(t *testing.T) {
	b := newBackend(t)
	vb := triangle(t, b, "tri")

	inputs := metadata.AccelerationStructureInputs{
		Type: metadata.ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL,
		Geometries: []metadata.GeometryDesc{{
			VertexBuffer: vb, VertexCount: 3, VertexStride: smath.VertexPositionNormalUVSize,
		}},
	}
	err := b.AccelerationStructureBuild(&metadata.AccelerationStructureBuildDesc{
		Inputs:  inputs,
		Dest:    uav(t, b, 512),
		Scratch: uav(t, b, 512),
	})
	assert.ErrorIs(t, err, core.ErrCommandList)
}

func TestBuildRejectsUndersizedBuffers(t *testing.T) {
	b := newBackend(t)
	vb := triangle(t, b, "tri")
	require.NoError(t, b.BeginFrame(0))

	inputs := metadata.AccelerationStructureInputs{
		Type: metadata.ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL,
		Geometries: []metadata.GeometryDesc{{
			VertexBuffer: vb, VertexCount: 3, VertexStride: smath.VertexPositionNormalUVSize,
		}},
	}
	assert.Error(t, b.AccelerationStructureBuild(&metadata.AccelerationStructureBuildDesc{
		Inputs: inputs, Dest: uav(t, b, 256), Scratch: uav(t, b, 512),
	}))

	noUAV, err := b.BufferCreate(metadata.BufferDesc{Size: 512})
	require.NoError(t, err)
	assert.Error(t, b.AccelerationStructureBuild(&metadata.AccelerationStructureBuildDesc{
		Inputs: inputs, Dest: noUAV, Scratch: uav(t, b, 512),
	}))
	require.NoError(t, b.EndFrame(0))
	assert.Zero(t, b.Stats().BottomLevelBuilds)
}

func TestTopLevelBuildAndUpdate(t *testing.T) {
	b := newBackend(t)
	require.NoError(t, b.BeginFrame(0))
	blas := buildBottomLevel(t, b, triangle(t, b, "tri"))
	require.NoError(t, b.ResourceBarrierUAV(blas))

	descs := []metadata.InstanceDesc{
		{Transform: smath.NewMat4Identity().ToAffine3x4(), InstanceID: 0, InstanceMask: 0xFF, AccelerationStructure: blas.Address},
		{Transform: smath.NewMat4Identity().ToAffine3x4(), InstanceID: 1, InstanceMask: 0xFF, AccelerationStructure: blas.Address},
	}
	tl := buildTopLevel(t, b, descs, metadata.BUILD_FLAG_ALLOW_UPDATE)
	require.NoError(t, b.EndFrame(0))

	got, ok := b.TopLevelInstances(tl.result)
	require.True(t, ok)
	assert.Equal(t, descs, got)
	assert.Equal(t, uint64(1), b.Stats().BottomLevelBuilds)
	assert.Equal(t, uint64(1), b.Stats().TopLevelBuilds)
	assert.Equal(t, uint64(1), b.Stats().Barriers)

	descs[1].Transform = smath.NewMat4Translation(smath.NewVec3(0, 2, 0)).ToAffine3x4()
	writeInstances(t, b, tl.instances, descs)

	require.NoError(t, b.BeginFrame(0))
	require.NoError(t, b.AccelerationStructureBuild(&metadata.AccelerationStructureBuildDesc{
		Inputs: metadata.AccelerationStructureInputs{
			Type:          metadata.ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL,
			Flags:         metadata.BUILD_FLAG_ALLOW_UPDATE | metadata.BUILD_FLAG_PERFORM_UPDATE,
			InstanceCount: tl.count,
			InstanceDescs: tl.instances.Address,
		},
		Dest:    tl.result,
		Source:  tl.result,
		Scratch: tl.scratch,
	}))
	require.NoError(t, b.EndFrame(0))

	got, _ = b.TopLevelInstances(tl.result)
	assert.Equal(t, float32(2), got[1].Transform[7])
	assert.Equal(t, uint64(1), b.Stats().TopLevelUpdates)
	assert.Equal(t, uint64(1), b.Stats().TopLevelBuilds)
}

func TestTopLevelUpdateRejectsCountChange(t *testing.T) {
	b := newBackend(t)
	require.NoError(t, b.BeginFrame(0))
	blas := buildBottomLevel(t, b, triangle(t, b, "tri"))
	descs := []metadata.InstanceDesc{
		{InstanceMask: 0xFF, AccelerationStructure: blas.Address},
		{InstanceID: 1, InstanceMask: 0xFF, AccelerationStructure: blas.Address},
	}
	tl := buildTopLevel(t, b, descs, metadata.BUILD_FLAG_ALLOW_UPDATE)
	require.NoError(t, b.EndFrame(0))

	require.NoError(t, b.BeginFrame(0))
	require.NoError(t, b.AccelerationStructureBuild(&metadata.AccelerationStructureBuildDesc{
		Inputs: metadata.AccelerationStructureInputs{
			Type:          metadata.ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL,
			Flags:         metadata.BUILD_FLAG_ALLOW_UPDATE | metadata.BUILD_FLAG_PERFORM_UPDATE,
			InstanceCount: 1,
			InstanceDescs: tl.instances.Address,
		},
		Dest:    tl.result,
		Source:  tl.result,
		Scratch: tl.scratch,
	}))
	assert.Error(t, b.EndFrame(0))
	assert.Zero(t, b.Stats().TopLevelUpdates)
}

func TestTopLevelRejectsUnknownBottomLevel(t *testing.T) {
	b := newBackend(t)
	require.NoError(t, b.BeginFrame(0))
	buildTopLevel(t, b, []metadata.InstanceDesc{{InstanceMask: 0xFF, AccelerationStructure: 0xDEAD00}}, metadata.BUILD_FLAG_NONE)
	assert.Error(t, b.EndFrame(0))
}

func TestPipelineCreateValidates(t *testing.T) {
	b := newBackend(t)

	p, err := b.PipelineCreate(testPipelineDesc())
	require.NoError(t, err)
	for _, name := range []string{"RayGen", "Miss", "ClosestHit", "HitGroup"} {
		id, err := p.ShaderIdentifier(name)
		require.NoError(t, err)
		assert.Len(t, id, int(metadata.ShaderIdentifierSize))
	}
	rg, _ := p.ShaderIdentifier("RayGen")
	hg, _ := p.ShaderIdentifier("HitGroup")
	assert.NotEqual(t, rg, hg)
	assert.Equal(t, uint32(2), p.RootParameterCount("HitGroup"))
	assert.Zero(t, p.RootParameterCount("Miss"))

	_, err = p.ShaderIdentifier("Nope")
	assert.ErrorIs(t, err, core.ErrUnknownShader)

	cases := map[string]func(d *metadata.RayTracingPipelineDesc){
		"zero recursion":     func(d *metadata.RayTracingPipelineDesc) { d.MaxRecursionDepth = 0 },
		"deep recursion":     func(d *metadata.RayTracingPipelineDesc) { d.MaxRecursionDepth = 32 },
		"no payload":         func(d *metadata.RayTracingPipelineDesc) { d.MaxPayloadSize = 0 },
		"unknown closesthit": func(d *metadata.RayTracingPipelineDesc) { d.HitGroups[0].ClosestHit = "Missing" },
		"empty blob":         func(d *metadata.RayTracingPipelineDesc) { d.Libraries[0].Blob = nil },
		"bad association":    func(d *metadata.RayTracingPipelineDesc) { d.RootSignatures[0].Associations = []string{"Ghost"} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			d := testPipelineDesc()
			mutate(d)
			_, err := b.PipelineCreate(d)
			assert.ErrorIs(t, err, core.ErrPipelineCreation)
		})
	}
}

type dispatchFixture struct {
	b        *Backend
	vbA, vbB *metadata.Buffer
	pipeline *metadata.RayTracingPipeline
	heap     *metadata.DescriptorHeap
	sbt      *metadata.Buffer
}

// newDispatchFixture builds two bottom level structures, a top level with one
// instance of each using the given contributions, and a table with two hit
// records pointing at the two vertex buffers.
func newDispatchFixture(t *testing.T, contributions [2]uint32) *dispatchFixture {
	b := newBackend(t)
	f := &dispatchFixture{b: b}
	f.vbA = triangle(t, b, "a")
	f.vbB = triangle(t, b, "b")

	var err error
	f.pipeline, err = b.PipelineCreate(testPipelineDesc())
	require.NoError(t, err)
	f.heap, err = b.DescriptorHeapCreate(4)
	require.NoError(t, err)

	f.sbt = upload(t, b, "sbt", make([]byte, 256))
	mapped, err := b.BufferMap(f.sbt)
	require.NoError(t, err)
	put := func(offset int, name string, params ...uint64) {
		id, err := f.pipeline.ShaderIdentifier(name)
		require.NoError(t, err)
		copy(mapped[offset:], id)
		for i, p := range params {
			binary.LittleEndian.PutUint64(mapped[offset+32+i*8:], p)
		}
	}
	put(0, "RayGen", uint64(f.heap.GPUStart))
	put(64, "Miss")
	put(128, "HitGroup", uint64(f.vbA.Address), 0)
	put(192, "HitGroup", uint64(f.vbB.Address), 0)
	b.BufferUnmap(f.sbt)

	require.NoError(t, b.BeginFrame(0))
	blasA := buildBottomLevel(t, b, f.vbA)
	blasB := buildBottomLevel(t, b, f.vbB)
	tl := buildTopLevel(t, b, []metadata.InstanceDesc{
		{InstanceID: 0, InstanceMask: 0xFF, InstanceContributionToHitGroupIndex: contributions[0], AccelerationStructure: blasA.Address},
		{InstanceID: 1, InstanceMask: 0xFF, InstanceContributionToHitGroupIndex: contributions[1], AccelerationStructure: blasB.Address},
	}, metadata.BUILD_FLAG_NONE)
	require.NoError(t, b.DescriptorWrite(f.heap, 1, metadata.Descriptor{
		Kind:    metadata.DESCRIPTOR_KIND_ACCELERATION_STRUCTURE,
		Address: tl.result.Address,
	}))
	require.NoError(t, b.PipelineBind(f.pipeline, f.heap))
	return f
}

func (f *dispatchFixture) dispatch(t *testing.T) error {
	require.NoError(t, f.b.DispatchRays(&metadata.DispatchRaysDesc{
		RayGenerationShaderRecord: metadata.GPUAddressRange{StartAddress: f.sbt.Address, SizeInBytes: 40},
		MissShaderTable:           metadata.GPUAddressRangeAndStride{StartAddress: f.sbt.AddressAt(64), SizeInBytes: 32, StrideInBytes: 32},
		HitGroupTable:             metadata.GPUAddressRangeAndStride{StartAddress: f.sbt.AddressAt(128), SizeInBytes: 128, StrideInBytes: 64},
		Width:                     4,
		Height:                    4,
		Depth:                     1,
		RayTypeCount:              1,
	}))
	return f.b.EndFrame(0)
}

func TestDispatchResolvesEachInstanceToItsRecord(t *testing.T) {
	f := newDispatchFixture(t, [2]uint32{0, 1})
	require.NoError(t, f.dispatch(t))

	report := f.b.LastDispatch()
	require.NotNil(t, report)
	assert.Equal(t, "RayGen", report.RayGen.Name)
	assert.Equal(t, []uint64{uint64(f.heap.GPUStart)}, report.RayGen.Params)
	require.Len(t, report.Misses, 1)
	assert.Equal(t, "Miss", report.Misses[0].Name)
	assert.Equal(t, uint32(2), report.HitRecords)

	require.Len(t, report.Instances, 2)
	assert.Equal(t, "HitGroup", report.Instances[0].Records[0].Name)
	assert.Equal(t, uint64(f.vbA.Address), report.Instances[0].Records[0].Params[0])
	assert.Equal(t, uint64(f.vbB.Address), report.Instances[1].Records[0].Params[0])
	assert.Equal(t, uint64(1), f.b.Stats().Dispatches)
	assert.Equal(t, uint64(1), f.b.FrameNumber())
}

func TestDispatchRejectsRecordOutsideTable(t *testing.T) {
	f := newDispatchFixture(t, [2]uint32{0, 2})
	err := f.dispatch(t)
	assert.ErrorIs(t, err, core.ErrDispatch)
	assert.Nil(t, f.b.LastDispatch())

	// The failed submission still signals, so the next frame can start.
	assert.NoError(t, f.b.BeginFrame(0))
}

func TestDescriptorWriteBounds(t *testing.T) {
	b := newBackend(t)
	heap, err := b.DescriptorHeapCreate(2)
	require.NoError(t, err)
	assert.Equal(t, heap.GPUStart+32, heap.GPUHandle(1))

	buf := upload(t, b, "cb", make([]byte, 256))
	require.NoError(t, b.DescriptorWrite(heap, 1, metadata.Descriptor{Kind: metadata.DESCRIPTOR_KIND_CBV, Buffer: buf}))
	assert.Error(t, b.DescriptorWrite(heap, 2, metadata.Descriptor{Kind: metadata.DESCRIPTOR_KIND_CBV, Buffer: buf}))
	assert.Error(t, b.DescriptorWrite(heap, 0, metadata.Descriptor{Kind: metadata.DESCRIPTOR_KIND_UAV}))

	d, ok := b.Descriptor(heap, 1)
	require.True(t, ok)
	assert.Equal(t, buf, d.Buffer)
}

func TestFenceWaitTimesOut(t *testing.T) {
	f := NewFence()
	f.Signal(2)
	assert.NoError(t, f.Wait(1, 10*time.Millisecond))
	assert.Error(t, f.Wait(3, 10*time.Millisecond))
	assert.Equal(t, uint64(2), f.CompletedValue())
}
