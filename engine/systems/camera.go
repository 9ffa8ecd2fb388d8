package systems

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spaghettifunk/sonar/engine/core"
	"github.com/spaghettifunk/sonar/engine/renderer"
	"github.com/spaghettifunk/sonar/engine/renderer/components"
	"github.com/spaghettifunk/sonar/engine/renderer/metadata"
)

/** @brief The camera system configuration. */
type CameraSystemConfig struct {
	/**
	 * @brief NOTE: The maximum number of cameras that can be managed by
	 * the system.
	 */
	MaxCameraCount uint16
}

/**
 * @brief Owns the cameras, the controller of the default camera and the
 * camera constant buffer the ray generation shader reads.
 */
type CameraSystem struct {
	config  *CameraSystemConfig
	backend renderer.RendererBackend
	logger  *log.Logger

	lookup map[string]*components.CameraLookup
	nextID uint16
	// A default, non-registered camera that always exists as a fallback.
	defaultCamera *components.Camera
	controller    *components.CameraController

	bus      *core.EventBus
	buffer   *metadata.Buffer
	uploaded bool
}

func NewCameraSystem(config *CameraSystemConfig, backend renderer.RendererBackend) (*CameraSystem, error) {
	if config.MaxCameraCount == 0 {
		err := fmt.Errorf("func NewCameraSystem - config.MaxCameraCount must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	cam := components.NewCamera()
	return &CameraSystem{
		config:        config,
		backend:       backend,
		logger:        core.LogWith("system", "camera"),
		lookup:        make(map[string]*components.CameraLookup, config.MaxCameraCount),
		defaultCamera: cam,
		controller:    components.NewCameraController(cam),
	}, nil
}

// Initialize creates the camera constant buffer.
func (cs *CameraSystem) Initialize() error {
	buf, err := cs.backend.BufferCreate(metadata.BufferDesc{
		Name:         "camera-constants",
		Size:         metadata.GetAligned(components.CameraConstantBufferSize, metadata.ConstantBufferAlignment),
		Heap:         metadata.HEAP_TYPE_UPLOAD,
		InitialState: metadata.RESOURCE_STATE_GENERIC_READ,
	})
	if err != nil {
		err = fmt.Errorf("%w: camera constants: %w", core.ErrBufferAllocation, err)
		core.LogError(err.Error())
		return err
	}
	cs.buffer = buf
	cs.uploaded = false
	return cs.upload()
}

/**
 * @brief Shuts down the camera system.
 */
func (cs *CameraSystem) Shutdown() error {
	if cs.bus != nil {
		for _, code := range cameraEventCodes {
			cs.bus.Unregister(code, cs)
		}
		cs.bus = nil
	}
	cs.backend.BufferDestroy(cs.buffer)
	cs.buffer = nil
	return nil
}

/**
 * @brief Acquires a camera by name. If one is not found, a new one is created
 * and returned. Internal reference counter is incremented.
 */
func (cs *CameraSystem) Acquire(name string) (*components.Camera, error) {
	if name == components.DEFAULT_CAMERA_NAME {
		return cs.defaultCamera, nil
	}
	ref, ok := cs.lookup[name]
	if !ok {
		if len(cs.lookup) >= int(cs.config.MaxCameraCount) {
			err := fmt.Errorf("func CameraSystemAcquire failed to acquire new slot. Adjust camera system config to allow more")
			core.LogError(err.Error())
			return nil, err
		}
		core.LogDebug("Creating new camera named '%s'...", name)
		ref = &components.CameraLookup{
			ID:     cs.nextID,
			Camera: components.NewCamera(),
		}
		cs.nextID++
		cs.lookup[name] = ref
	}
	ref.ReferenceCount++
	return ref.Camera, nil
}

/**
 * @brief Releases a camera with the given name. Internal reference counter
 * is decremented. If this reaches 0, the camera is dropped.
 */
func (cs *CameraSystem) Release(name string) {
	if name == components.DEFAULT_CAMERA_NAME {
		core.LogDebug("Cannot release default camera. Nothing was done.")
		return
	}
	ref, ok := cs.lookup[name]
	if !ok {
		core.LogWarn("CameraSystemRelease failed lookup. Nothing was done.")
		return
	}
	ref.ReferenceCount--
	if ref.ReferenceCount < 1 {
		delete(cs.lookup, name)
	}
}

/**
 * @brief Gets a pointer to the default camera.
 */
func (cs *CameraSystem) GetDefault() *components.Camera {
	return cs.defaultCamera
}

func (cs *CameraSystem) Controller() *components.CameraController {
	return cs.controller
}

func (cs *CameraSystem) Buffer() *metadata.Buffer {
	return cs.buffer
}

var cameraEventCodes = []core.EventCode{
	core.EVENT_CODE_KEY_PRESSED,
	core.EVENT_CODE_KEY_RELEASED,
	core.EVENT_CODE_MOUSE_MOVED,
	core.EVENT_CODE_BUTTON_PRESSED,
	core.EVENT_CODE_BUTTON_RELEASED,
	core.EVENT_CODE_MOUSE_WHEEL,
	core.EVENT_CODE_RESIZED,
}

// RegisterEvents makes the default camera controller follow the input
// events fired on the bus.
func (cs *CameraSystem) RegisterEvents(bus *core.EventBus) {
	cs.bus = bus
	dragging := false
	for _, code := range cameraEventCodes {
		bus.Register(code, cs, func(ctx core.EventContext) bool {
			switch ctx.Type {
			case core.EVENT_CODE_KEY_PRESSED:
				if e, ok := ctx.Data.(*core.KeyEvent); ok {
					cs.controller.KeyPressed(e.KeyCode)
				}
			case core.EVENT_CODE_KEY_RELEASED:
				if e, ok := ctx.Data.(*core.KeyEvent); ok {
					cs.controller.KeyReleased(e.KeyCode)
				}
			case core.EVENT_CODE_BUTTON_PRESSED, core.EVENT_CODE_BUTTON_RELEASED:
				if e, ok := ctx.Data.(*core.MouseEvent); ok && e.Button == core.BUTTON_LEFT {
					dragging = ctx.Type == core.EVENT_CODE_BUTTON_PRESSED
				}
			case core.EVENT_CODE_MOUSE_MOVED:
				if e, ok := ctx.Data.(*core.MouseEvent); ok {
					cs.controller.MouseMoved(e.PosX, e.PosY, dragging)
				}
			case core.EVENT_CODE_MOUSE_WHEEL:
				if e, ok := ctx.Data.(*core.MouseEvent); ok {
					cs.controller.MouseWheel(e.Scroll)
				}
			case core.EVENT_CODE_RESIZED:
				if e, ok := ctx.Data.(*core.ResizeEvent); ok && e.Height > 0 {
					cs.defaultCamera.SetAspectRatio(float32(e.Width) / float32(e.Height))
				}
			}
			// Other listeners may want input too.
			return false
		})
	}
}

/**
 * @brief Moves the default camera for the elapsed time and uploads its
 * matrices when they changed. Should happen once an update cycle.
 */
func (cs *CameraSystem) Update(deltaTime float64) error {
	if cs.controller.Update(deltaTime) || !cs.uploaded {
		return cs.upload()
	}
	return nil
}

func (cs *CameraSystem) upload() error {
	if cs.buffer == nil {
		return fmt.Errorf("camera constants not created: %w", core.ErrNotInitialized)
	}
	mapped, err := cs.backend.BufferMap(cs.buffer)
	if err != nil {
		err = fmt.Errorf("%w: camera constants: %w", core.ErrBufferMap, err)
		core.LogError(err.Error())
		return err
	}
	cs.defaultCamera.ConstantBuffer(mapped)
	cs.backend.BufferUnmap(cs.buffer)
	cs.uploaded = true
	return nil
}
