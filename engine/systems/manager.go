package systems

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/sonar/engine/core"
	"github.com/spaghettifunk/sonar/engine/renderer"
	"github.com/spaghettifunk/sonar/engine/renderer/metadata"
)

type SystemManagerConfig struct {
	ApplicationName string
	Width           uint32
	Height          uint32
	RayTracing      metadata.RayTracingConfig

	MaxModelCount   uint32
	MaxTextureCount uint32
	MaxShaderCount  uint16
	MaxCameraCount  uint16
	JobWorkers      int
	JobQueueSize    int
}

type SystemManager struct {
	backend renderer.RendererBackend

	JobSystem      *JobSystem
	ShaderSystem   *ShaderSystem
	GeometrySystem *GeometrySystem
	AccelSystem    *AccelerationStructureSystem
	ModelSystem    *ModelSystem
	TextureSystem  *TextureSystem
	CameraSystem   *CameraSystem
	PipelineSystem *PipelineSystem
	SceneSystem    *SceneSystem
	RendererSystem *RendererSystem
}

/**
 * @brief Creates every system on top of the given backend. The backend is
 * initialized by the renderer system.
 *
 * @param source Loads shader libraries, usually the asset manager. May be nil
 * when every library is registered directly.
 */
func NewSystemManager(config SystemManagerConfig, backend renderer.RendererBackend, source ShaderSource) (*SystemManager, error) {
	js, err := NewJobSystem(max(config.JobWorkers, 1), config.JobQueueSize)
	if err != nil {
		return nil, err
	}
	ss, err := NewShaderSystem(&ShaderSystemConfig{
		MaxShaderCount: config.MaxShaderCount,
	}, source, js)
	if err != nil {
		return nil, err
	}
	gs, err := NewGeometrySystem()
	if err != nil {
		return nil, err
	}
	as, err := NewAccelerationStructureSystem(backend)
	if err != nil {
		return nil, err
	}
	ms, err := NewModelSystem(&ModelSystemConfig{
		MaxModelCount: config.MaxModelCount,
	}, backend, as)
	if err != nil {
		return nil, err
	}
	cs, err := NewCameraSystem(&CameraSystemConfig{
		MaxCameraCount: config.MaxCameraCount,
	}, backend)
	if err != nil {
		return nil, err
	}
	ps, err := NewPipelineSystem(backend, ss)
	if err != nil {
		return nil, err
	}
	ts, err := NewTextureSystem(&TextureSystemConfig{
		MaxTextureCount: config.MaxTextureCount,
	}, backend)
	if err != nil {
		return nil, err
	}
	rs, err := NewRendererSystem(RendererSystemConfig{
		ApplicationName: config.ApplicationName,
		Width:           config.Width,
		Height:          config.Height,
		RayTracing:      config.RayTracing,
	}, backend, ms, as, ps, ts, cs)
	if err != nil {
		return nil, err
	}
	if err := cs.Initialize(); err != nil {
		return nil, err
	}
	cs.GetDefault().SetAspectRatio(float32(config.Width) / float32(max(config.Height, 1)))
	scs, err := NewSceneSystem(gs, ms, ts)
	if err != nil {
		return nil, err
	}
	return &SystemManager{
		backend:        backend,
		JobSystem:      js,
		ShaderSystem:   ss,
		GeometrySystem: gs,
		AccelSystem:    as,
		ModelSystem:    ms,
		TextureSystem:  ts,
		CameraSystem:   cs,
		PipelineSystem: ps,
		SceneSystem:    scs,
		RendererSystem: rs,
	}, nil
}

/**
 * @brief Loads the libraries of the sonar pipeline from the shader source.
 *
 * @param placeholders Register a placeholder blob for every library that
 * could not be loaded. Only devices that never execute shader code accept
 * them.
 */
func (sm *SystemManager) LoadShaders(placeholders bool) error {
	libraries := StandardShaderLibraries()
	names := make([]string, len(libraries))
	for i, lib := range libraries {
		names[i] = lib.Name
	}
	loadErr := errors.New("no shader source")
	if sm.ShaderSystem.source != nil {
		loadErr = sm.ShaderSystem.Load(names...)
	}
	if loadErr == nil {
		return nil
	}
	if !placeholders {
		return loadErr
	}
	for _, lib := range libraries {
		if sm.ShaderSystem.Has(lib.Name) {
			continue
		}
		core.LogWarn("shader library '%s' not loaded, using a placeholder", lib.Name)
		if err := sm.ShaderSystem.Register(lib.Name, []byte(fmt.Sprintf("placeholder:%s", lib.Name)), lib.Exports); err != nil {
			return err
		}
	}
	return nil
}

func (sm *SystemManager) Shutdown() error {
	if err := sm.RendererSystem.Shutdown(); err != nil {
		return err
	}
	if err := sm.SceneSystem.Shutdown(); err != nil {
		return err
	}
	if err := sm.PipelineSystem.Shutdown(); err != nil {
		return err
	}
	if err := sm.CameraSystem.Shutdown(); err != nil {
		return err
	}
	if err := sm.TextureSystem.Shutdown(); err != nil {
		return err
	}
	if err := sm.ModelSystem.Shutdown(); err != nil {
		return err
	}
	if err := sm.AccelSystem.Shutdown(); err != nil {
		return err
	}
	if err := sm.GeometrySystem.Shutdown(); err != nil {
		return err
	}
	if err := sm.ShaderSystem.Shutdown(); err != nil {
		return err
	}
	if err := sm.JobSystem.Shutdown(); err != nil {
		return err
	}
	return sm.backend.Shutdown()
}
