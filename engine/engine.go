package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spaghettifunk/sonar/engine/assets"
	"github.com/spaghettifunk/sonar/engine/core"
	"github.com/spaghettifunk/sonar/engine/renderer"
	"github.com/spaghettifunk/sonar/engine/renderer/headless"
	"github.com/spaghettifunk/sonar/engine/resources"
	"github.com/spaghettifunk/sonar/engine/scene"
	"github.com/spaghettifunk/sonar/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

func (s Stage) String() string {
	switch s {
	case EngineStageUninitialized:
		return "uninitialized"
	case EngineStageBooting:
		return "booting"
	case EngineStageBootComplete:
		return "boot complete"
	case EngineStageInitializing:
		return "initializing"
	case EngineStageInitialized:
		return "initialized"
	case EngineStageRunning:
		return "running"
	case EngineStageShuttingDown:
		return "shutting down"
	default:
		return fmt.Sprintf("stage(%d)", uint8(s))
	}
}

// Frames between two metrics log lines.
const statsInterval = 300

type Engine struct {
	currentStage  Stage
	gameInstance  *Game
	config        *ApplicationConfig
	isRunning     bool
	isSuspended   bool
	bus           *core.EventBus
	input         *core.Input
	assetManager  *assets.AssetManager
	systemManager *systems.SystemManager
	width         uint32
	height        uint32
	clock         *core.Clock
	lastTime      float64
	metrics       *core.FrameMetrics
	frames        uint64
	logger        *log.Logger
}

/**
 * @brief Boots the engine for the game: event bus, input, asset manager,
 * renderer backend and every system. Nothing touches the scene until
 * Initialize.
 */
func New(g *Game) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil {
		return nil, errors.New("engine needs a game with an application config")
	}
	cfg := g.ApplicationConfig
	if err := cfg.Validate(); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	e := &Engine{
		currentStage: EngineStageBooting,
		gameInstance: g,
		config:       cfg,
		clock:        core.NewClock(),
		metrics:      core.NewFrameMetrics(),
		width:        cfg.Application.Width,
		height:       cfg.Application.Height,
		logger:       core.LogWith("system", "engine"),
	}
	if cfg.Application.LogLevel != "" {
		if err := core.SetLogLevel(cfg.Application.LogLevel); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}

	e.bus = core.NewEventBus()
	e.input = core.NewInput(e.bus)

	am, err := assets.NewAssetManager(e.bus)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	e.assetManager = am

	backend, err := renderer.NewBackend(renderer.RendererType(cfg.Application.Backend),
		headless.WithFenceTimeout(cfg.FenceTimeout()))
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	sm, err := systems.NewSystemManager(systems.SystemManagerConfig{
		ApplicationName: cfg.Application.Name,
		Width:           cfg.Application.Width,
		Height:          cfg.Application.Height,
		RayTracing:      cfg.RayTracing,
		MaxModelCount:   cfg.Limits.MaxModelCount,
		MaxTextureCount: cfg.Limits.MaxTextureCount,
		MaxShaderCount:  cfg.Limits.MaxShaderCount,
		MaxCameraCount:  cfg.Limits.MaxCameraCount,
		JobWorkers:      cfg.Limits.JobWorkers,
		JobQueueSize:    cfg.Limits.JobQueueSize,
	}, backend, am)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	e.systemManager = sm
	g.SystemManager = sm
	e.currentStage = EngineStageBootComplete
	return e, nil
}

/**
 * @brief Loads assets, lets the game build its scene and uploads everything
 * the first frame needs.
 */
func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageBootComplete {
		return fmt.Errorf("engine cannot initialize in stage %s", e.currentStage)
	}
	e.currentStage = EngineStageInitializing

	e.bus.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.bus.Register(core.EVENT_CODE_KEY_PRESSED, e, e.onKey)
	e.bus.Register(core.EVENT_CODE_RESIZED, e, e.onResized)
	e.bus.Register(core.EVENT_CODE_ASSET_CHANGED, e, e.onAssetChanged)

	if err := e.assetManager.Initialize(e.config.Application.AssetsDir); err != nil {
		return err
	}
	if path := e.config.Path(); path != "" {
		if err := e.assetManager.Watch(path, resources.ResourceTypeConfig); err != nil {
			core.LogWarn("cannot watch config %s: %s", path, err)
		}
	}

	if err := e.systemManager.LoadShaders(e.config.Shaders.Placeholders); err != nil {
		return err
	}
	e.systemManager.CameraSystem.RegisterEvents(e.bus)

	if e.config.Scene.File != "" {
		s, err := e.loadScene(e.config.Scene.File)
		if err != nil {
			return err
		}
		e.gameInstance.Scene = s
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(); err != nil {
			return err
		}
	}
	if e.gameInstance.Scene == nil {
		return errors.New("no scene: set scene.file in the config or build one in the game")
	}

	if err := e.systemManager.RendererSystem.Initialize(e.gameInstance.Scene); err != nil {
		return err
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) loadScene(file string) (*scene.Scene, error) {
	res, err := e.assetManager.LoadFile(filepath.Join(e.config.Application.AssetsDir, file), resources.ResourceTypeScene, nil)
	if err != nil {
		return nil, err
	}
	defer e.assetManager.UnloadAsset(res)
	desc, ok := res.Data.(*resources.SceneDescription)
	if !ok {
		return nil, fmt.Errorf("scene %s: resource holds %T", file, res.Data)
	}
	return e.systemManager.SceneSystem.Build(desc, scene.GraphConfig{
		InitialCapacity: uint32(e.config.Scene.InitialCapacity),
		DebugChecks:     e.config.Scene.DebugChecks,
	})
}

/**
 * @brief Runs the frame loop until the context is cancelled, the application
 * quits, the frame limit is reached or a frame fails.
 */
func (e *Engine) Run(ctx context.Context) error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("engine cannot run in stage %s", e.currentStage)
	}
	e.currentStage = EngineStageRunning
	e.isRunning = true

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	var targetFrameSeconds float64
	if fps := e.config.Application.TargetFPS; fps > 0 {
		targetFrameSeconds = 1.0 / float64(fps)
	}

	for e.isRunning {
		if ctx.Err() != nil {
			break
		}
		if limit := e.config.Application.MaxFrames; limit > 0 && e.frames >= limit {
			break
		}
		if e.isSuspended {
			// Events still arrive while minimized.
			e.assetManager.Update()
			if !sleepContext(ctx, 100*time.Millisecond) {
				break
			}
			continue
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime
		frameStart := time.Now()

		if err := e.Step(delta); err != nil {
			core.LogError("frame %d failed, shutting down: %s", e.frames, err)
			e.isRunning = false
			return err
		}

		frameElapsed := time.Since(frameStart).Seconds()
		e.metrics.Update(frameElapsed)
		if e.frames%statsInterval == 0 {
			stats := e.systemManager.RendererSystem.Stats()
			e.logger.Info("frame", "number", stats.FrameNumber, "fps", e.metrics.FPS(),
				"ms", e.metrics.FrameTime(), "instances", stats.InstanceCount,
				"refits", stats.TopLevelRefits, "sbt_builds", stats.ShaderTableBuilds)
		}

		if remaining := targetFrameSeconds - frameElapsed; remaining > 0 {
			if !sleepContext(ctx, time.Duration(remaining*float64(time.Second))) {
				break
			}
		}
		e.lastTime = currentTime
	}
	e.clock.Stop()
	return nil
}

/**
 * @brief Runs one frame: asset notifications, game update, game render hook
 * and the renderer frame.
 */
func (e *Engine) Step(deltaTime float64) error {
	e.assetManager.Update()

	if e.gameInstance.FnUpdate != nil {
		if err := e.gameInstance.FnUpdate(deltaTime); err != nil {
			return fmt.Errorf("game update: %w", err)
		}
	}
	if e.gameInstance.FnRender != nil {
		if err := e.gameInstance.FnRender(deltaTime); err != nil {
			return fmt.Errorf("game render: %w", err)
		}
	}
	if err := e.systemManager.RendererSystem.Render(deltaTime); err != nil {
		return err
	}

	// NOTE: Input update/state copying should always be handled
	// after any input should be recorded; I.E. before this line.
	e.input.Update(deltaTime)
	e.frames++
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown
	e.isRunning = false
	var errs []error
	if e.gameInstance.FnShutdown != nil {
		errs = append(errs, e.gameInstance.FnShutdown())
	}
	errs = append(errs, e.assetManager.Shutdown())
	errs = append(errs, e.systemManager.Shutdown())
	errs = append(errs, e.bus.Shutdown())
	return errors.Join(errs...)
}

// Input is where a platform layer reports keys and mouse state.
func (e *Engine) Input() *core.Input {
	return e.input
}

func (e *Engine) EventBus() *core.EventBus {
	return e.bus
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

func (e *Engine) Metrics() *core.FrameMetrics {
	return e.metrics
}

func (e *Engine) Frames() uint64 {
	return e.frames
}

// GetFramebufferSize returns the width and height (in this order)
// of the output.
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

// Resize reports a new output size, like a window system would.
func (e *Engine) Resize(width, height uint32) {
	e.bus.Fire(core.EventContext{
		Type: core.EVENT_CODE_RESIZED,
		Data: &core.ResizeEvent{Width: width, Height: height},
	})
}

func (e *Engine) onEvent(context core.EventContext) bool {
	switch context.Type {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning = false
		return true
	}
	return false
}

func (e *Engine) onKey(context core.EventContext) bool {
	ke, ok := context.Data.(*core.KeyEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return false
	}
	if ke.KeyCode == core.KEY_ESCAPE {
		// NOTE: Technically firing an event to itself, but there may be other listeners.
		e.bus.Fire(core.EventContext{Type: core.EVENT_CODE_APPLICATION_QUIT})
		// Block anything else from processing this.
		return true
	}
	return false
}

func (e *Engine) onResized(context core.EventContext) bool {
	se, ok := context.Data.(*core.ResizeEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return false
	}
	width, height := se.Width, se.Height
	if width == e.width && height == e.height {
		return false
	}
	e.width, e.height = width, height
	core.LogDebug("Output resize: %d, %d", width, height)

	// Handle minimization
	if width == 0 || height == 0 {
		core.LogInfo("Output minimized, suspending application.")
		e.isSuspended = true
		return false
	}
	if e.isSuspended {
		core.LogInfo("Output restored, resuming application.")
		e.isSuspended = false
	}
	if err := e.systemManager.RendererSystem.Resized(width, height); err != nil {
		core.LogError(err.Error())
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(width, height); err != nil {
			core.LogError(err.Error())
		}
	}
	// The camera system listens for the new aspect ratio.
	return false
}

func (e *Engine) onAssetChanged(context core.EventContext) bool {
	ae, ok := context.Data.(*core.AssetEvent)
	if !ok {
		return false
	}
	switch {
	case e.config.Path() != "" && filepath.Clean(ae.Path) == filepath.Clean(e.config.Path()):
		if err := e.reloadConfig(); err != nil {
			core.LogWarn("config reload skipped: %s", err)
		}
	case filepath.Ext(ae.Path) == ".shadercfg" || filepath.Ext(ae.Path) == ".dxil":
		if err := e.systemManager.ShaderSystem.Reload(ae.Name); err != nil {
			core.LogWarn("shader library '%s' reload failed: %s", ae.Name, err)
		} else {
			e.logger.Info("shader library reloaded", "name", ae.Name)
		}
	case e.config.Scene.File != "" && filepath.Base(ae.Path) == filepath.Base(e.config.Scene.File):
		core.LogWarn("scene %s changed on disk, restart to apply it", ae.Path)
	}
	return false
}

// reloadConfig applies the [raytracing] section of the config file. Other
// sections need a restart.
func (e *Engine) reloadConfig() error {
	cfg, err := LoadApplicationConfig(e.config.Path())
	if err != nil {
		return err
	}
	rs := e.systemManager.RendererSystem
	if cfg.RayTracing == rs.RayTracingConfig() {
		return nil
	}
	if err := rs.SetRayTracingConfig(cfg.RayTracing); err != nil {
		return err
	}
	e.config.RayTracing = cfg.RayTracing
	e.bus.Fire(core.EventContext{Type: core.EVENT_CODE_RAYTRACING_CONFIG_CHANGED})
	return nil
}
