package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/sonar/engine/assets/loaders"
	"github.com/spaghettifunk/sonar/engine/containers"
	"github.com/spaghettifunk/sonar/engine/core"
	"github.com/spaghettifunk/sonar/engine/resources"
)

const defaultEventQueueSize = 256

type AssetInfo struct {
	Path       string
	Type       resources.ResourceType
	LastLoaded time.Time
}

/**
 * @brief Indexes the asset directory, loads assets through the loader of
 * their type and watches for changes. Change notifications are queued by the
 * watcher goroutine and delivered on the event bus by Update.
 */
type AssetManager struct {
	root    string
	assets  map[string]AssetInfo
	loaders map[resources.ResourceType]Loader
	// Explicit types for watched files outside the usual extensions.
	overrides map[string]resources.ResourceType

	mutex sync.RWMutex

	bus      *core.EventBus
	changes  *containers.RingQueue[string]
	done     chan struct{}
	stopped  sync.WaitGroup
	fsnotify *fsnotify.Watcher
	started  bool
	isClosed bool
}

func NewAssetManager(bus *core.EventBus) (*AssetManager, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	am := &AssetManager{
		assets:    make(map[string]AssetInfo),
		loaders:   make(map[resources.ResourceType]Loader),
		overrides: make(map[string]resources.ResourceType),
		bus:       bus,
		changes:   containers.NewRingQueue[string](defaultEventQueueSize),
		fsnotify:  fsWatch,
		done:      make(chan struct{}),
	}

	// Register loaders
	am.registerLoader(resources.ResourceTypeShader, &loaders.ShaderLoader{})
	am.registerLoader(resources.ResourceTypeScene, &loaders.SceneLoader{})
	am.registerLoader(resources.ResourceTypeBinary, &loaders.BinaryLoader{})
	return am, nil
}

func (am *AssetManager) Initialize(assetsDir string) error {
	am.root = filepath.Clean(assetsDir)

	if am.isClosed {
		return errors.New("asset watcher already closed")
	}
	if !am.started {
		am.started = true
		am.stopped.Add(1)
		go am.start()
	}

	if _, err := os.Stat(am.root); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			core.LogWarn("asset directory %s does not exist, nothing to watch", am.root)
			return nil
		}
		return err
	}
	return am.addRecursive(am.root)
}

func (am *AssetManager) Shutdown() error {
	if am.isClosed {
		return nil
	}
	am.isClosed = true
	if !am.started {
		// The watcher goroutine closes it otherwise.
		return am.fsnotify.Close()
	}
	close(am.done)
	am.stopped.Wait()
	return nil
}

// Watch starts watching a single file outside the asset directory, such as
// the application config, and indexes it with the given type.
func (am *AssetManager) Watch(path string, resourceType resources.ResourceType) error {
	if am.isClosed {
		return errors.New("asset watcher already closed")
	}
	path = filepath.Clean(path)
	am.mutex.Lock()
	am.overrides[path] = resourceType
	am.mutex.Unlock()
	am.handleFileEvent(path)
	// Editors replace files on save, so the directory is watched.
	return am.fsnotify.Add(filepath.Dir(path))
}

// AddRecursive starts watching the named directory and all sub-directories.
func (am *AssetManager) addRecursive(name string) error {
	if am.isClosed {
		return errors.New("asset watcher already closed")
	}
	return am.watchRecursive(name, false)
}

// Register loaders for each asset type
func (am *AssetManager) registerLoader(assetType resources.ResourceType, loader Loader) {
	am.loaders[assetType] = loader
}

func subdirectory(resourceType resources.ResourceType) (string, string, error) {
	switch resourceType {
	case resources.ResourceTypeShader:
		return "shaders", ".shadercfg", nil
	case resources.ResourceTypeScene:
		return "scenes", ".toml", nil
	default:
		return "", "", fmt.Errorf("no asset directory for resource type %s", resourceType)
	}
}

// LoadAsset loads an indexed asset by logical name, e.g. the shader library
// "RayGen" from <root>/shaders/RayGen.shadercfg.
func (am *AssetManager) LoadAsset(name string, resourceType resources.ResourceType, params interface{}) (*resources.Resource, error) {
	dir, ext, err := subdirectory(resourceType)
	if err != nil {
		return nil, err
	}
	return am.LoadFile(filepath.Join(am.root, dir, name+ext), resourceType, params)
}

// LoadFile loads the asset at path, which must be indexed.
func (am *AssetManager) LoadFile(path string, resourceType resources.ResourceType, params interface{}) (*resources.Resource, error) {
	path = filepath.Clean(path)

	am.mutex.Lock()
	asset, exists := am.assets[path]
	if exists {
		// Update the loaded time
		asset.LastLoaded = time.Now()
		am.assets[path] = asset
	}
	am.mutex.Unlock()
	if !exists {
		return nil, fmt.Errorf("asset not found: %s", path)
	}
	if asset.Type != resourceType {
		return nil, fmt.Errorf("asset %s is a %s resource, not %s", path, asset.Type, resourceType)
	}

	loader, loaderExists := am.loaders[asset.Type]
	if !loaderExists {
		return nil, fmt.Errorf("no loader registered for asset type: %s", asset.Type)
	}
	res, err := loader.Load(path, params)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return res, nil
}

func (am *AssetManager) UnloadAsset(asset *resources.Resource) error {
	loader, ok := am.loaders[asset.Type]
	if !ok {
		return nil
	}
	return loader.Unload(asset)
}

// Assets lists the indexed assets of the given type.
func (am *AssetManager) Assets(resourceType resources.ResourceType) []AssetInfo {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	var out []AssetInfo
	for _, a := range am.assets {
		if a.Type == resourceType {
			out = append(out, a)
		}
	}
	return out
}

/**
 * @brief Delivers the queued change notifications as
 * EVENT_CODE_ASSET_CHANGED events. Should happen once an update cycle.
 *
 * @return The changed paths, oldest first.
 */
func (am *AssetManager) Update() []string {
	changed := am.changes.Drain()
	for _, path := range changed {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if am.bus != nil {
			am.bus.Fire(core.EventContext{
				Type: core.EVENT_CODE_ASSET_CHANGED,
				Data: &core.AssetEvent{Path: path, Name: name},
			})
		}
	}
	return changed
}

func (am *AssetManager) start() {
	defer am.stopped.Done()
	for {
		select {

		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			s, err := os.Stat(e.Name)
			if err == nil && s != nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					if err := am.watchRecursive(e.Name, false); err != nil {
						core.LogWarn("cannot watch %s: %s", e.Name, err)
					}
				}
				continue
			}
			// Handle create or modify events
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				if am.handleFileEvent(e.Name) {
					am.notify(e.Name)
				}
			}
			if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				am.removeAsset(e.Name)
			}

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError(err.Error())

		case <-am.done:
			am.fsnotify.Close()
			return
		}
	}
}

func (am *AssetManager) notify(path string) {
	path = filepath.Clean(path)
	if err := am.changes.Enqueue(path); err != nil {
		// Keep the most recent change.
		_, _ = am.changes.Dequeue()
		_ = am.changes.Enqueue(path)
		core.LogWarn("asset change queue full, dropped the oldest notification")
	}
}

// watchRecursive adds all directories under the given one to the watch list
// and indexes the files found.
func (am *AssetManager) watchRecursive(path string, unWatch bool) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if unWatch {
				return am.fsnotify.Remove(walkPath)
			}
			return am.fsnotify.Add(walkPath)
		}
		am.handleFileEvent(walkPath)
		return nil
	})
}

// Handle the creation or modification of a file. Reports whether the file is
// a known asset.
func (am *AssetManager) handleFileEvent(path string) bool {
	path = filepath.Clean(path)
	am.mutex.Lock()
	defer am.mutex.Unlock()

	assetType, ok := am.overrides[path]
	if !ok {
		assetType = determineAssetType(path)
	}
	if assetType == resources.ResourceTypeNone {
		return false
	}
	am.assets[path] = AssetInfo{
		Path:       path,
		Type:       assetType,
		LastLoaded: time.Now(),
	}
	return true
}

// Remove the asset from the index if it was deleted
func (am *AssetManager) removeAsset(path string) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	delete(am.assets, filepath.Clean(path))
}

func determineAssetType(path string) resources.ResourceType {
	switch filepath.Ext(path) {
	case ".shadercfg":
		return resources.ResourceTypeShader
	case ".toml":
		return resources.ResourceTypeScene
	case ".dxil", ".cso", ".bin":
		return resources.ResourceTypeBinary
	default:
		return resources.ResourceTypeNone
	}
}
