package systems

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/spaghettifunk/sonar/engine/core"
	"github.com/spaghettifunk/sonar/engine/renderer/metadata"
	"github.com/spaghettifunk/sonar/engine/resources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNoSuchShader = errors.New("no such shader")

type memoryShaderSource struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	loads    int
	unloaded int
}

func newMemoryShaderSource() *memoryShaderSource {
	src := &memoryShaderSource{blobs: make(map[string][]byte)}
	for _, lib := range StandardShaderLibraries() {
		src.blobs[lib.Name] = []byte("dxil:" + lib.Name)
	}
	return src
}

func (m *memoryShaderSource) exports(name string) []string {
	for _, lib := range StandardShaderLibraries() {
		if lib.Name == name {
			return lib.Exports
		}
	}
	return nil
}

func (m *memoryShaderSource) LoadAsset(name string, resourceType resources.ResourceType, params interface{}) (*resources.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	blob, ok := m.blobs[name]
	if !ok || resourceType != resources.ResourceTypeShader {
		return nil, fmt.Errorf("%s: %w", name, errNoSuchShader)
	}
	m.loads++
	return &resources.Resource{
		Name: name,
		Type: resourceType,
		Data: &resources.ShaderResourceData{
			Config: resources.ShaderConfig{Name: name, Exports: m.exports(name)},
			Blob:   blob,
		},
	}, nil
}

func (m *memoryShaderSource) UnloadAsset(resource *resources.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unloaded++
	return nil
}

func TestShaderRegisterAndAcquire(t *testing.T) {
	ss, err := NewShaderSystem(&ShaderSystemConfig{MaxShaderCount: 1}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, ss.Register("Miss", []byte{1, 2}, []string{ExportMiss}))
	gen := ss.Generation()
	lib, err := ss.Acquire("Miss")
	require.NoError(t, err)
	assert.Equal(t, []string{ExportMiss}, lib.Exports)

	// Replacing keeps the count and bumps the generation.
	require.NoError(t, ss.Register("Miss", []byte{3}, []string{ExportMiss}))
	assert.Greater(t, ss.Generation(), gen)
	assert.Error(t, ss.Register("RayGen", []byte{1}, []string{ExportRayGen}))
	assert.Error(t, ss.Register("Empty", nil, []string{ExportRayGen}))

	_, err = ss.Acquire("Hit")
	assert.ErrorIs(t, err, core.ErrUnknownShader)
	assert.ErrorIs(t, ss.Load("Hit"), core.ErrNotInitialized)
}

func TestShaderLoadInParallel(t *testing.T) {
	js, err := NewJobSystem(3, 4)
	require.NoError(t, err)
	defer js.Shutdown()
	src := newMemoryShaderSource()
	ss, err := NewShaderSystem(&ShaderSystemConfig{MaxShaderCount: 8}, src, js)
	require.NoError(t, err)

	var names []string
	for _, lib := range StandardShaderLibraries() {
		names = append(names, lib.Name)
	}
	require.NoError(t, ss.Load(names...))
	for _, name := range names {
		assert.True(t, ss.Has(name), name)
	}
	assert.Equal(t, len(names), src.loads)
	assert.Equal(t, len(names), src.unloaded)

	err = ss.Load("Missing")
	assert.ErrorIs(t, err, errNoSuchShader)
}

func TestShaderReload(t *testing.T) {
	src := newMemoryShaderSource()
	ss, err := NewShaderSystem(&ShaderSystemConfig{MaxShaderCount: 8}, src, nil)
	require.NoError(t, err)
	require.NoError(t, ss.Load("Hit"))

	src.blobs["Hit"] = []byte("dxil:Hit:v2")
	gen := ss.Generation()
	require.NoError(t, ss.Reload("Hit"))
	assert.Greater(t, ss.Generation(), gen)
	lib, err := ss.Acquire("Hit")
	require.NoError(t, err)
	assert.Equal(t, []byte("dxil:Hit:v2"), lib.Blob)

	// Unknown libraries are not pulled in by a reload.
	require.NoError(t, ss.Reload("Miss"))
	assert.False(t, ss.Has("Miss"))
}

func TestPipelineBuild(t *testing.T) {
	b := newTestBackend(t)
	ss, err := NewShaderSystem(&ShaderSystemConfig{MaxShaderCount: 8}, newMemoryShaderSource(), nil)
	require.NoError(t, err)
	ps, err := NewPipelineSystem(b, ss)
	require.NoError(t, err)

	cfg := metadata.DefaultRayTracingConfig()
	_, err = ps.Build(cfg)
	assert.ErrorIs(t, err, core.ErrPipelineCreation, "libraries not loaded")
	assert.True(t, ps.NeedsRebuild(cfg))

	var names []string
	for _, lib := range StandardShaderLibraries() {
		names = append(names, lib.Name)
	}
	require.NoError(t, ss.Load(names...))
	p, err := ps.Build(cfg)
	require.NoError(t, err)
	assert.False(t, ps.NeedsRebuild(cfg))

	for _, name := range []string{ExportRayGen, ExportMiss, ExportShadowMiss, ExportReflectionMiss,
		HitGroup, BoundaryHitGroup, BoundaryReflectionHitGroup, ShadowHitGroup, ReflectionHitGroup} {
		id, err := p.ShaderIdentifier(name)
		require.NoError(t, err, name)
		assert.Len(t, id, int(metadata.ShaderIdentifierSize))
	}
	assert.Equal(t, uint32(1), p.RootParameterCount(ExportRayGen))
	assert.Equal(t, uint32(HitRootParameterCount), p.RootParameterCount(HitGroup))
	assert.Equal(t, uint32(HitRootParameterCount), p.RootParameterCount(BoundaryReflectionHitGroup))
	assert.Zero(t, p.RootParameterCount(ShadowHitGroup))
	assert.Zero(t, p.RootParameterCount(ExportMiss))

	shadow := cfg
	shadow.SecondaryRays = metadata.SECONDARY_RAYS_SHADOW
	shadow.MaxRecursionDepth = 2
	assert.True(t, ps.NeedsRebuild(shadow))
	only := cfg
	only.SecondaryRays = metadata.SECONDARY_RAYS_SHADOW
	assert.False(t, ps.NeedsRebuild(only), "secondary ray mode alone keeps the pipeline")

	_, err = ps.Build(shadow)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), ps.Builds())
	assert.Equal(t, uint64(2), b.Stats().PipelinesCreated)
}
