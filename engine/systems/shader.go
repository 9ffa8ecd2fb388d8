package systems

import (
	"fmt"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/spaghettifunk/sonar/engine/core"
	"github.com/spaghettifunk/sonar/engine/renderer/metadata"
	"github.com/spaghettifunk/sonar/engine/resources"
)

// ShaderSource loads shader library resources by logical name. The asset
// manager is the usual implementation.
type ShaderSource interface {
	LoadAsset(name string, resourceType resources.ResourceType, params interface{}) (*resources.Resource, error)
	UnloadAsset(resource *resources.Resource) error
}

/** @brief Configuration for the shader system. */
type ShaderSystemConfig struct {
	/** @brief The maximum number of shader libraries held in the system. */
	MaxShaderCount uint16
}

/**
 * @brief Holds compiled shader libraries by logical name. Libraries are
 * registered directly or loaded through a ShaderSource, several at once on
 * the job system.
 */
type ShaderSystem struct {
	config *ShaderSystemConfig
	source ShaderSource
	jobs   *JobSystem
	logger *log.Logger

	mu        sync.RWMutex
	libraries map[string]*metadata.ShaderLibraryDesc
	// Bumped whenever a library is added or replaced.
	generation uint64
}

func NewShaderSystem(config *ShaderSystemConfig, source ShaderSource, jobs *JobSystem) (*ShaderSystem, error) {
	if config.MaxShaderCount == 0 {
		err := fmt.Errorf("NewShaderSystem - config.MaxShaderCount must be greater than 0")
		core.LogError(err.Error())
		return nil, err
	}
	return &ShaderSystem{
		config:    config,
		source:    source,
		jobs:      jobs,
		logger:    core.LogWith("system", "shader"),
		libraries: make(map[string]*metadata.ShaderLibraryDesc),
	}, nil
}

/**
 * @brief Shuts down the shader system.
 */
func (ss *ShaderSystem) Shutdown() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.libraries = make(map[string]*metadata.ShaderLibraryDesc)
	return nil
}

/**
 * @brief Registers a compiled library, replacing any library of the same name.
 *
 * @param name The logical name pipelines refer to.
 * @param blob The DXIL library bytecode.
 * @param exports The entry points the library exports.
 */
func (ss *ShaderSystem) Register(name string, blob []byte, exports []string) error {
	if name == "" {
		err := fmt.Errorf("shader library needs a name")
		core.LogError(err.Error())
		return err
	}
	if len(blob) == 0 || len(exports) == 0 {
		err := fmt.Errorf("shader library %q needs bytecode and at least one export", name)
		core.LogError(err.Error())
		return err
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()
	if _, exists := ss.libraries[name]; !exists && len(ss.libraries) >= int(ss.config.MaxShaderCount) {
		err := fmt.Errorf("unable to register shader library %q, %d already held. Adjust configuration to allow more", name, len(ss.libraries))
		core.LogError(err.Error())
		return err
	}
	ss.libraries[name] = &metadata.ShaderLibraryDesc{
		Name:    name,
		Blob:    slices.Clone(blob),
		Exports: slices.Clone(exports),
	}
	ss.generation++
	ss.logger.Debug("shader library registered", "name", name, "exports", exports, "bytes", len(blob))
	return nil
}

/**
 * @brief Loads the named libraries from the shader source, in parallel.
 *
 * @return The joined errors of the libraries that failed to load.
 */
func (ss *ShaderSystem) Load(names ...string) error {
	if ss.source == nil {
		err := fmt.Errorf("shader system has no source to load %v from: %w", names, core.ErrNotInitialized)
		core.LogError(err.Error())
		return err
	}
	fns := make([]func() error, len(names))
	for i, name := range names {
		name := name
		fns[i] = func() error {
			return ss.loadOne(name)
		}
	}
	if ss.jobs == nil {
		for _, fn := range fns {
			if err := fn(); err != nil {
				return err
			}
		}
		return nil
	}
	return ss.jobs.RunAll("shader-load", fns)
}

func (ss *ShaderSystem) loadOne(name string) error {
	res, err := ss.source.LoadAsset(name, resources.ResourceTypeShader, nil)
	if err != nil {
		return fmt.Errorf("shader library %q: %w", name, err)
	}
	defer ss.source.UnloadAsset(res)

	data, ok := res.Data.(*resources.ShaderResourceData)
	if !ok {
		return fmt.Errorf("shader library %q: resource holds %T", name, res.Data)
	}
	return ss.Register(name, data.Blob, data.Config.Exports)
}

// Reload reloads a library previously loaded from the source.
func (ss *ShaderSystem) Reload(name string) error {
	ss.mu.RLock()
	_, known := ss.libraries[name]
	ss.mu.RUnlock()
	if !known {
		return nil
	}
	return ss.loadOne(name)
}

/**
 * @brief Gets a library by name.
 *
 * @return The library or an error wrapping core.ErrUnknownShader.
 */
func (ss *ShaderSystem) Acquire(name string) (*metadata.ShaderLibraryDesc, error) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	lib, ok := ss.libraries[name]
	if !ok {
		err := fmt.Errorf("shader library %q: %w", name, core.ErrUnknownShader)
		core.LogError(err.Error())
		return nil, err
	}
	out := *lib
	return &out, nil
}

func (ss *ShaderSystem) Has(name string) bool {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	_, ok := ss.libraries[name]
	return ok
}

// Generation changes every time a library is registered or replaced.
func (ss *ShaderSystem) Generation() uint64 {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.generation
}
