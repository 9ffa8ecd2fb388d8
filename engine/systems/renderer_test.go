package systems

import (
	"testing"

	"github.com/spaghettifunk/sonar/engine/core"
	"github.com/spaghettifunk/sonar/engine/math"
	"github.com/spaghettifunk/sonar/engine/renderer/metadata"
	"github.com/spaghettifunk/sonar/engine/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderBeforeInitialize(t *testing.T) {
	sm, _ := newTestManager(t, metadata.DefaultRayTracingConfig())
	err := sm.RendererSystem.Render(0.016)
	assert.ErrorIs(t, err, core.ErrNotInitialized)
}

func TestInitializeBuildsEachModelOnce(t *testing.T) {
	sm, b := newTestManager(t, metadata.DefaultRayTracingConfig())
	ts := buildTestScene(t, sm, 3)

	require.NoError(t, sm.RendererSystem.Initialize(ts.scene))

	stats := sm.RendererSystem.Stats()
	assert.Equal(t, uint32(4), stats.InstanceCount)
	assert.Equal(t, uint64(2), stats.BottomLevelBuilds)
	assert.Equal(t, uint64(1), stats.TopLevelBuilds)
	assert.Equal(t, uint64(1), stats.ShaderTableBuilds)
	assert.Equal(t, uint32(4), stats.HitGroupRecordCount)
	assert.Equal(t, uint64(2), b.Stats().BottomLevelBuilds)
	assert.Equal(t, uint64(1), b.Stats().TopLevelBuilds)

	assert.True(t, ts.scene.Frozen())
	_, err := ts.scene.AddSoundReceiver("late", ts.graph.Create(math.TransformCreate()))
	assert.ErrorIs(t, err, core.ErrSceneFrozen)

	for i, inst := range sm.AccelSystem.Instances() {
		assert.Equal(t, uint32(i), inst.InstanceID)
		assert.Equal(t, uint32(i), inst.InstanceContributionToHitGroupIndex)
	}
}

func TestRenderRefitsTopLevel(t *testing.T) {
	sm, b := newTestManager(t, metadata.DefaultRayTracingConfig())
	ts := buildTestScene(t, sm, 2)
	require.NoError(t, sm.RendererSystem.Initialize(ts.scene))

	for i := 0; i < 3; i++ {
		require.NoError(t, sm.RendererSystem.Render(0.016))
	}

	hs := b.Stats()
	assert.Equal(t, uint64(1), hs.TopLevelBuilds)
	assert.Equal(t, uint64(3), hs.TopLevelUpdates)
	assert.Equal(t, uint64(2), hs.BottomLevelBuilds)
	assert.Equal(t, uint64(3), hs.Dispatches)

	stats := sm.RendererSystem.Stats()
	assert.Equal(t, uint64(3), stats.FrameNumber)
	assert.Equal(t, uint64(3), stats.TopLevelRefits)
	assert.Equal(t, uint64(1), stats.ShaderTableBuilds)
	assert.Equal(t, uint64(1), stats.PipelineBuilds)
}

func TestDispatchResolvesEveryInstanceToItsModel(t *testing.T) {
	sm, b := newTestManager(t, metadata.DefaultRayTracingConfig())
	ts := buildTestScene(t, sm, 3)
	rs := sm.RendererSystem
	require.NoError(t, rs.Initialize(ts.scene))
	require.NoError(t, rs.Render(0.016))

	report := b.LastDispatch()
	require.NotNil(t, report)
	assert.Equal(t, uint32(8), report.Width)
	assert.Equal(t, uint32(1), report.RayTypeCount)
	require.Len(t, report.RayGen.Params, 1)
	assert.Equal(t, uint64(rs.Heap().GPUStart), report.RayGen.Params[0])
	require.Len(t, report.Misses, 1)
	assert.Equal(t, ExportMiss, report.Misses[0].Name)

	frame := ts.scene.Collect()
	require.Len(t, report.Instances, len(frame.Instances))
	for i, resolved := range report.Instances {
		inst := frame.Instances[i]
		model, err := sm.ModelSystem.Model(inst.Model)
		require.NoError(t, err)

		assert.Equal(t, uint32(i), resolved.InstanceID)
		assert.Equal(t, model.AccelerationStructure.Result.Address, resolved.BottomLevel)
		assert.Equal(t, inst.World.ToAffine3x4(), resolved.Transform)

		require.Len(t, resolved.Records, 1)
		rec := resolved.Records[0]
		assert.Equal(t, uint32(i), rec.Index)
		require.Len(t, rec.Params, HitRootParameterCount)
		assert.Equal(t, uint64(model.VertexBuffer.Address), rec.Params[0])
		assert.Equal(t, uint64(model.IndexBuffer.AddressAt(0)), rec.Params[1])
		assert.Equal(t, uint64(rs.InstanceBuffer().AddressAt(uint64(i)*InstanceConstantsStride)), rec.Params[2])
		assert.Equal(t, uint64(rs.Heap().GPUHandle(TextureHeapSlotBase)), rec.Params[3])
		if inst.Surface == scene.SurfaceBoundary {
			assert.Equal(t, BoundaryHitGroup, rec.Name)
		} else {
			assert.Equal(t, HitGroup, rec.Name)
		}
	}
}

func TestMovingOneInstanceOnlyChangesItsTransform(t *testing.T) {
	sm, b := newTestManager(t, metadata.DefaultRayTracingConfig())
	ts := buildTestScene(t, sm, 3)
	rs := sm.RendererSystem
	require.NoError(t, rs.Initialize(ts.scene))
	require.NoError(t, rs.Render(0.016))

	before := sm.AccelSystem.Instances()
	table, err := b.ReadBuffer(rs.ShaderTable())
	require.NoError(t, err)

	// Instance 2 is the second pyramid.
	ts.graph.Translate(ts.pyramid[1], math.NewVec3(0, 1, 0))
	require.NoError(t, rs.Render(0.016))

	after := sm.AccelSystem.Instances()
	require.Len(t, after, len(before))
	for i := range after {
		if i == 2 {
			assert.NotEqual(t, before[i].Transform, after[i].Transform)
		} else {
			assert.Equal(t, before[i].Transform, after[i].Transform)
		}
		assert.Equal(t, before[i].AccelerationStructure, after[i].AccelerationStructure)
		assert.Equal(t, before[i].InstanceContributionToHitGroupIndex, after[i].InstanceContributionToHitGroupIndex)
	}

	tableAfter, err := b.ReadBuffer(rs.ShaderTable())
	require.NoError(t, err)
	assert.Equal(t, table, tableAfter)
	assert.Equal(t, uint64(1), rs.Stats().ShaderTableBuilds)
	assert.Equal(t, uint64(1), b.Stats().TopLevelBuilds)
}

func TestMovingParentMovesChildren(t *testing.T) {
	sm, _ := newTestManager(t, metadata.DefaultRayTracingConfig())
	ts := buildTestScene(t, sm, 2)
	require.NoError(t, sm.RendererSystem.Initialize(ts.scene))

	ts.graph.Translate(ts.ground, math.NewVec3(0, 0, 5))
	require.NoError(t, sm.RendererSystem.Render(0.016))

	for _, inst := range sm.AccelSystem.Instances() {
		// Row three of the affine transform carries z.
		assert.InDelta(t, 5, inst.Transform[11], 1e-5)
	}
}

func TestTextureChangeRegeneratesShaderTable(t *testing.T) {
	sm, b := newTestManager(t, metadata.DefaultRayTracingConfig())
	ts := buildTestScene(t, sm, 1)
	stone, err := sm.TextureSystem.Create("stone", 4, 4, math.NewVec4(0.5, 0.5, 0.5, 1))
	require.NoError(t, err)
	rs := sm.RendererSystem
	require.NoError(t, rs.Initialize(ts.scene))
	require.NoError(t, rs.Render(0.016))

	obj, ok := ts.scene.Find("pyramid-a")
	require.True(t, ok)
	reflector, ok := obj.(*scene.Reflector)
	require.True(t, ok)
	reflector.Texture = stone
	require.NoError(t, rs.Render(0.016))

	assert.Equal(t, uint64(2), rs.Stats().ShaderTableBuilds)
	tex, err := sm.TextureSystem.Get(stone)
	require.NoError(t, err)
	rec := b.LastDispatch().Instances[1].Records[0]
	assert.Equal(t, uint64(rs.Heap().GPUHandle(tex.HeapSlot)), rec.Params[3])
}

func TestShadowRaysAddOneRecordPerInstance(t *testing.T) {
	sm, b := newTestManager(t, metadata.DefaultRayTracingConfig())
	ts := buildTestScene(t, sm, 2)
	rs := sm.RendererSystem
	require.NoError(t, rs.Initialize(ts.scene))
	require.NoError(t, rs.Render(0.016))

	cfg := metadata.DefaultRayTracingConfig()
	cfg.MaxRecursionDepth = 2
	cfg.SecondaryRays = metadata.SECONDARY_RAYS_SHADOW
	require.NoError(t, rs.SetRayTracingConfig(cfg))
	require.NoError(t, rs.Render(0.016))

	stats := rs.Stats()
	assert.Equal(t, uint32(2), stats.RayTypeCount)
	assert.Equal(t, uint32(6), stats.HitGroupRecordCount)
	assert.Equal(t, uint64(2), stats.TopLevelBuilds)
	assert.Equal(t, uint64(2), stats.PipelineBuilds)

	report := b.LastDispatch()
	require.NotNil(t, report)
	assert.Equal(t, uint32(2), report.RayTypeCount)
	require.Len(t, report.Misses, 2)
	assert.Equal(t, ExportShadowMiss, report.Misses[1].Name)
	for i, resolved := range report.Instances {
		require.Len(t, resolved.Records, 2)
		assert.Equal(t, uint32(2*i), resolved.Records[0].Index)
		assert.Equal(t, ShadowHitGroup, resolved.Records[1].Name)
		assert.Empty(t, resolved.Records[1].Params)
	}
}

func TestReflectionRaysUseReflectionBoundaryGroup(t *testing.T) {
	cfg := metadata.DefaultRayTracingConfig()
	cfg.MaxRecursionDepth = 3
	cfg.SecondaryRays = metadata.SECONDARY_RAYS_REFLECTION
	sm, b := newTestManager(t, cfg)
	ts := buildTestScene(t, sm, 1)
	rs := sm.RendererSystem
	require.NoError(t, rs.Initialize(ts.scene))
	require.NoError(t, rs.Render(0.016))

	report := b.LastDispatch()
	require.Len(t, report.Instances, 2)
	assert.Equal(t, BoundaryReflectionHitGroup, report.Instances[0].Records[0].Name)
	assert.Equal(t, ReflectionHitGroup, report.Instances[0].Records[1].Name)
	assert.Equal(t, HitGroup, report.Instances[1].Records[0].Name)
	assert.Equal(t, ExportReflectionMiss, report.Misses[1].Name)
}

func TestSetRayTracingConfigRejectsShallowSecondaryRays(t *testing.T) {
	sm, _ := newTestManager(t, metadata.DefaultRayTracingConfig())
	cfg := metadata.DefaultRayTracingConfig()
	cfg.SecondaryRays = metadata.SECONDARY_RAYS_SHADOW

	err := sm.RendererSystem.SetRayTracingConfig(cfg)
	assert.ErrorIs(t, err, core.ErrPipelineCreation)
	assert.Equal(t, metadata.SECONDARY_RAYS_NONE, sm.RendererSystem.RayTracingConfig().SecondaryRays)
}

func TestShaderReloadRebuildsPipeline(t *testing.T) {
	sm, _ := newTestManager(t, metadata.DefaultRayTracingConfig())
	ts := buildTestScene(t, sm, 1)
	rs := sm.RendererSystem
	require.NoError(t, rs.Initialize(ts.scene))
	require.NoError(t, rs.Render(0.016))

	require.NoError(t, sm.ShaderSystem.Register("Miss", []byte("recompiled"), []string{ExportMiss}))
	require.NoError(t, rs.Render(0.016))

	stats := rs.Stats()
	assert.Equal(t, uint64(2), stats.PipelineBuilds)
	assert.Equal(t, uint64(2), stats.ShaderTableBuilds)
	assert.Equal(t, uint64(1), stats.TopLevelBuilds)
}

func TestResizeRecreatesOutput(t *testing.T) {
	sm, b := newTestManager(t, metadata.DefaultRayTracingConfig())
	ts := buildTestScene(t, sm, 1)
	rs := sm.RendererSystem
	require.NoError(t, rs.Initialize(ts.scene))

	require.NoError(t, rs.Resized(16, 4))
	assert.Equal(t, uint64(16*4*4), rs.Output().Size)
	d, ok := b.Descriptor(rs.Heap(), HeapSlotOutput)
	require.True(t, ok)
	assert.Equal(t, rs.Output(), d.Buffer)
	assert.InDelta(t, 4.0, sm.CameraSystem.GetDefault().AspectRatio, 1e-6)

	require.NoError(t, rs.Render(0.016))
	assert.Equal(t, uint32(16), b.LastDispatch().Width)
}
