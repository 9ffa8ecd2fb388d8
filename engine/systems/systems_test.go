package systems

import (
	"testing"
	"time"

	"github.com/spaghettifunk/sonar/engine/math"
	"github.com/spaghettifunk/sonar/engine/renderer/headless"
	"github.com/spaghettifunk/sonar/engine/renderer/metadata"
	"github.com/spaghettifunk/sonar/engine/scene"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) *headless.Backend {
	t.Helper()
	b := headless.New(headless.WithFenceTimeout(time.Second))
	require.NoError(t, b.Initialize(metadata.RendererBackendConfig{ApplicationName: "test", Width: 8, Height: 8}))
	return b
}

func newTestManager(t *testing.T, rt metadata.RayTracingConfig) (*SystemManager, *headless.Backend) {
	t.Helper()
	b := headless.New(headless.WithFenceTimeout(time.Second))
	sm, err := NewSystemManager(SystemManagerConfig{
		ApplicationName: "test",
		Width:           8,
		Height:          8,
		RayTracing:      rt,
		MaxModelCount:   16,
		MaxTextureCount: 8,
		MaxShaderCount:  8,
		MaxCameraCount:  4,
		JobWorkers:      2,
		JobQueueSize:    8,
	}, b, nil)
	require.NoError(t, err)
	require.NoError(t, sm.LoadShaders(true))
	t.Cleanup(func() {
		_ = sm.Shutdown()
	})
	return sm, b
}

type testScene struct {
	scene   *scene.Scene
	graph   *scene.Graph
	ground  scene.Handle
	pyramid []scene.Handle
	quad    metadata.ModelIndex
	tetra   metadata.ModelIndex
}

// buildTestScene places an indexed ground quad followed by n tetrahedra that
// share one mesh, a sound source and a receiver.
func buildTestScene(t *testing.T, sm *SystemManager, n int) *testScene {
	t.Helper()
	quadCfg, err := sm.GeometrySystem.GenerateQuadConfig(10, 10, "ground")
	require.NoError(t, err)
	quad, err := sm.ModelSystem.LoadGeometry(quadCfg)
	require.NoError(t, err)
	tetraCfg, err := sm.GeometrySystem.GenerateTetrahedronConfig(0.5, "tetrahedron")
	require.NoError(t, err)
	tetra, err := sm.ModelSystem.LoadGeometry(tetraCfg)
	require.NoError(t, err)

	g := scene.NewGraph(scene.GraphConfig{InitialCapacity: 8, DebugChecks: true})
	s := scene.NewScene(g)
	ts := &testScene{scene: s, graph: g, quad: quad, tetra: tetra}

	ts.ground = g.Create(math.TransformFromPosition(math.NewVec3(0, -1, 0)))
	_, err = s.AddReflector(scene.ReflectorConfig{
		Name:      "ground",
		Transform: ts.ground,
		Surface:   scene.SurfaceBoundary,
		Model:     quad,
		Albedo:    math.NewVec4One(),
	})
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		h := g.Create(math.TransformFromPosition(math.NewVec3(float32(i)*1.75, 0, 0)))
		g.SetParent(h, ts.ground, scene.InvalidHandle)
		_, err = s.AddReflector(scene.ReflectorConfig{
			Name:         "pyramid-" + string(rune('a'+i)),
			Transform:    h,
			Surface:      scene.SurfaceSolid,
			Model:        tetra,
			Albedo:       math.NewVec4(1, 0.5, 0.25, 1),
			Reflectivity: 0.5,
		})
		require.NoError(t, err)
		ts.pyramid = append(ts.pyramid, h)
	}

	source := g.Create(math.TransformFromPosition(math.NewVec3(0, 2, 0)))
	_, err = s.AddSoundSource("ping", source, math.NewMat4Perspective(math.DegToRad(60), 1, 0.01, 1000))
	require.NoError(t, err)
	receiver := g.Create(math.TransformFromPosition(math.NewVec3(3, 2, 0)))
	_, err = s.AddSoundReceiver("ear", receiver)
	require.NoError(t, err)
	return ts
}
