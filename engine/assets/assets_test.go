package assets

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spaghettifunk/sonar/engine/core"
	"github.com/spaghettifunk/sonar/engine/resources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string, data string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func newAssetDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "shaders", "RayGen.shadercfg"), "name = \"RayGen\"\nfile = \"RayGen.dxil\"\nexports = [\"RayGen\"]\n")
	writeFile(t, filepath.Join(dir, "shaders", "RayGen.dxil"), "dxil")
	writeFile(t, filepath.Join(dir, "scenes", "hall.toml"), "[[mesh]]\nname = \"m\"\nkind = \"cube\"\n")
	writeFile(t, filepath.Join(dir, "README"), "ignored")
	return dir
}

func newManager(t *testing.T, bus *core.EventBus, dir string) *AssetManager {
	t.Helper()
	am, err := NewAssetManager(bus)
	require.NoError(t, err)
	require.NoError(t, am.Initialize(dir))
	t.Cleanup(func() {
		_ = am.Shutdown()
	})
	return am
}

func TestAssetManagerLoads(t *testing.T) {
	am := newManager(t, nil, newAssetDir(t))

	assert.Len(t, am.Assets(resources.ResourceTypeShader), 1)
	assert.Len(t, am.Assets(resources.ResourceTypeScene), 1)
	assert.Len(t, am.Assets(resources.ResourceTypeBinary), 1)

	res, err := am.LoadAsset("RayGen", resources.ResourceTypeShader, nil)
	require.NoError(t, err)
	data, ok := res.Data.(*resources.ShaderResourceData)
	require.True(t, ok)
	assert.Equal(t, []byte("dxil"), data.Blob)
	require.NoError(t, am.UnloadAsset(res))

	res, err = am.LoadAsset("hall", resources.ResourceTypeScene, nil)
	require.NoError(t, err)
	assert.Equal(t, "hall", res.Name)

	_, err = am.LoadAsset("RayGen", resources.ResourceTypeScene, nil)
	assert.Error(t, err)
	_, err = am.LoadAsset("RayGen", resources.ResourceTypeBinary, nil)
	assert.Error(t, err)
}

func TestAssetManagerMissingDirectory(t *testing.T) {
	am := newManager(t, nil, filepath.Join(t.TempDir(), "nope"))
	assert.Empty(t, am.Assets(resources.ResourceTypeShader))
	assert.Empty(t, am.Update())
}

func TestAssetManagerNotifiesChanges(t *testing.T) {
	dir := newAssetDir(t)
	bus := core.NewEventBus()
	am := newManager(t, bus, dir)

	var mu sync.Mutex
	var names []string
	bus.Register(core.EVENT_CODE_ASSET_CHANGED, t, func(ctx core.EventContext) bool {
		if e, ok := ctx.Data.(*core.AssetEvent); ok {
			mu.Lock()
			names = append(names, e.Name)
			mu.Unlock()
		}
		return false
	})

	writeFile(t, filepath.Join(dir, "shaders", "RayGen.dxil"), "dxil v2")
	assert.Eventually(t, func() bool {
		am.Update()
		mu.Lock()
		defer mu.Unlock()
		for _, n := range names {
			if n == "RayGen" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestAssetManagerWatchesSingleFile(t *testing.T) {
	am := newManager(t, nil, newAssetDir(t))
	cfgDir := t.TempDir()
	cfg := filepath.Join(cfgDir, "sonar.toml")
	writeFile(t, cfg, "[application]\n")
	require.NoError(t, am.Watch(cfg, resources.ResourceTypeConfig))

	assert.Len(t, am.Assets(resources.ResourceTypeConfig), 1)

	writeFile(t, cfg, "[application]\nname = \"x\"\n")
	assert.Eventually(t, func() bool {
		for _, p := range am.Update() {
			if p == cfg {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, am.Shutdown())
	assert.Error(t, am.Watch(cfg, resources.ResourceTypeConfig))
}

func TestAssetManagerShutdownWithoutInitialize(t *testing.T) {
	am, err := NewAssetManager(nil)
	require.NoError(t, err)

	require.NoError(t, am.Shutdown())
	assert.NoError(t, am.Shutdown())
	assert.Error(t, am.Initialize(t.TempDir()))
	// A closed fsnotify watcher refuses new paths.
	assert.Error(t, am.fsnotify.Add(t.TempDir()))
}
