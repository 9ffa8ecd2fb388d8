package engine

import (
	"github.com/spaghettifunk/sonar/engine/scene"
	"github.com/spaghettifunk/sonar/engine/systems"
)

/**
 * @brief The hooks a game plugs into the engine. SystemManager is set by the
 * engine before FnInitialize runs. Scene holds the scene loaded from the
 * config, if any; FnInitialize may replace it and must leave one behind.
 */
type Game struct {
	ApplicationConfig *ApplicationConfig
	SystemManager     *systems.SystemManager
	Scene             *scene.Scene
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	FnRender          Render
	FnOnResize        OnResize
	FnShutdown        Shutdown
}

type Initialize func() error
type Update func(deltaTime float64) error
type Render func(deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
