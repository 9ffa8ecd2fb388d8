package testbed

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/spaghettifunk/sonar/engine"
	"github.com/spaghettifunk/sonar/engine/core"
	"github.com/spaghettifunk/sonar/engine/math"
	"github.com/spaghettifunk/sonar/engine/scene"
)

const (
	ringSize   = 6
	ringRadius = 3.0
	// Radians per second.
	ringSpeed = 0.5
	bobHeight = 0.25
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	graph   *scene.Graph
	ring    scene.Handle
	pyramid []scene.Handle
	elapsed float64

	width  uint32
	height uint32
}

func NewTestGame(config *engine.ApplicationConfig) (*TestGame, error) {
	if config == nil {
		return nil, fmt.Errorf("testbed needs an application config")
	}
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: config,
			State:             &gameState{},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg, nil
}

/**
 * @brief Builds the sonar demo scene unless one was loaded from the config:
 * a sand floor and a wall bounding the room, a ring of tetrahedra turning
 * around the sound source and a receiver off to the side.
 */
func (g *TestGame) Initialize() error {
	core.LogDebug("TestGame Initialize fn....")

	if g.SystemManager == nil {
		return fmt.Errorf("the engine is not yet initialized with all the system managers ")
	}
	if g.Scene != nil {
		core.LogInfo("using the scene from the config, animation disabled")
		return nil
	}
	state := g.State.(*gameState)
	sm := g.SystemManager

	floorCfg, err := sm.GeometrySystem.GenerateQuadConfig(20, 20, "floor")
	if err != nil {
		return err
	}
	floor, err := sm.ModelSystem.LoadGeometry(floorCfg)
	if err != nil {
		return err
	}
	wallCfg, err := sm.GeometrySystem.GenerateCubeConfig(12, 4, 0.5, "wall")
	if err != nil {
		return err
	}
	wall, err := sm.ModelSystem.LoadGeometry(wallCfg)
	if err != nil {
		return err
	}
	tetraCfg, err := sm.GeometrySystem.GenerateTetrahedronConfig(0.75, "tetrahedron")
	if err != nil {
		return err
	}
	tetra, err := sm.ModelSystem.LoadGeometry(tetraCfg)
	if err != nil {
		return err
	}
	sand, err := sm.TextureSystem.Create("sand", 4, 4, math.NewVec4(0.76, 0.7, 0.5, 1))
	if err != nil {
		return err
	}

	graph := scene.NewGraph(scene.GraphConfig{
		InitialCapacity: ringSize + 8,
		DebugChecks:     g.ApplicationConfig.Scene.DebugChecks,
	})
	s := scene.NewScene(graph)

	floorNode := graph.Create(math.TransformFromPosition(math.NewVec3(0, -1, 0)))
	if _, err := s.AddReflector(scene.ReflectorConfig{
		Name:         "floor",
		Transform:    floorNode,
		Surface:      scene.SurfaceBoundary,
		Model:        floor,
		Texture:      sand,
		Albedo:       math.NewVec4One(),
		Reflectivity: 0.2,
	}); err != nil {
		return err
	}
	wallNode := graph.Create(math.TransformFromPosition(math.NewVec3(0, 1, -6)))
	if _, err := s.AddReflector(scene.ReflectorConfig{
		Name:         "wall",
		Transform:    wallNode,
		Surface:      scene.SurfaceBoundary,
		Model:        wall,
		Albedo:       math.NewVec4(0.6, 0.6, 0.65, 1),
		Reflectivity: 0.8,
	}); err != nil {
		return err
	}

	// The pivot has no object of its own; turning it turns the whole ring.
	state.ring = graph.Create(math.TransformCreate())
	for i := 0; i < ringSize; i++ {
		angle := 2 * math32.Pi * float32(i) / ringSize
		h := graph.Create(math.TransformFromPositionRotation(
			math.NewVec3(ringRadius*math32.Cos(angle), 0, ringRadius*math32.Sin(angle)),
			math.NewQuatFromAxisAngle(math.NewVec3Up(), angle),
		))
		graph.SetParent(h, state.ring, scene.InvalidHandle)
		if _, err := s.AddReflector(scene.ReflectorConfig{
			Name:         fmt.Sprintf("pyramid-%d", i),
			Transform:    h,
			Surface:      scene.SurfaceSolid,
			Model:        tetra,
			Albedo:       math.NewVec4(float32(i+1)/ringSize, 0.4, 1-float32(i)/ringSize, 1),
			Reflectivity: 0.5,
		}); err != nil {
			return err
		}
		state.pyramid = append(state.pyramid, h)
	}

	source := graph.Create(math.TransformFromPosition(math.NewVec3(0, 1.5, 0)))
	projection := math.NewMat4Perspective(math.DegToRad(90), 1, 0.01, 100)
	if _, err := s.AddSoundSource("ping", source, projection); err != nil {
		return err
	}
	receiver := graph.Create(math.TransformFromPosition(math.NewVec3(5, 0.5, 2)))
	if _, err := s.AddSoundReceiver("ear", receiver); err != nil {
		return err
	}

	sm.CameraSystem.GetDefault().LookAt(math.NewVec3(0, 4, 10), math.NewVec3Zero())

	state.graph = graph
	g.Scene = s
	core.LogInfo("testbed scene ready with %d objects", len(s.Objects()))
	return nil
}

/**
 * @brief Turns the ring and bobs every other tetrahedron when animation is
 * enabled in the ray tracing settings.
 */
func (g *TestGame) Update(deltaTime float64) error {
	state := g.State.(*gameState)
	if state.graph == nil || !g.SystemManager.RendererSystem.RayTracingConfig().Animate {
		return nil
	}
	state.elapsed += deltaTime

	state.graph.Rotate(state.ring, math.NewQuatFromAxisAngle(math.NewVec3Up(), float32(ringSpeed*deltaTime)))
	for i := 0; i < len(state.pyramid); i += 2 {
		phase := float32(state.elapsed) + float32(i)
		position := state.graph.Transform(state.pyramid[i]).Position
		position.Y = bobHeight * math32.Sin(phase)
		state.graph.SetPosition(state.pyramid[i], position)
	}
	return nil
}

func (g *TestGame) Render(deltaTime float64) error {
	state := g.State.(*gameState)
	if state.graph == nil {
		return nil
	}
	stats := g.SystemManager.RendererSystem.Stats()
	if stats.FrameNumber > 0 && stats.FrameNumber%600 == 0 {
		core.LogDebug("frame %d: %d instances, %d refits, %d shader table builds",
			stats.FrameNumber, stats.InstanceCount, stats.TopLevelRefits, stats.ShaderTableBuilds)
	}
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	state := g.State.(*gameState)
	state.width = width
	state.height = height
	return nil
}

func (g *TestGame) Shutdown() error {
	core.LogInfo("shutting down testbed")
	return nil
}
