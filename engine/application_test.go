package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/sonar/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseApplicationConfigKeepsDefaults(t *testing.T) {
	cfg, err := ParseApplicationConfig([]byte(`
[application]
name = "Chamber"
max_frames = 10

[raytracing]
max_recursion_depth = 2
secondary_rays = "reflection"

[limits]
max_models = 4
`))
	require.NoError(t, err)
	def := DefaultApplicationConfig()

	assert.Equal(t, "Chamber", cfg.Application.Name)
	assert.Equal(t, uint64(10), cfg.Application.MaxFrames)
	assert.Equal(t, def.Application.Width, cfg.Application.Width)
	assert.Equal(t, uint32(2), cfg.RayTracing.MaxRecursionDepth)
	assert.Equal(t, metadata.SECONDARY_RAYS_REFLECTION, cfg.RayTracing.SecondaryRays)
	assert.Equal(t, def.RayTracing.MaxPayloadSize, cfg.RayTracing.MaxPayloadSize)
	assert.Equal(t, uint32(4), cfg.Limits.MaxModelCount)
	assert.Equal(t, def.Limits.MaxTextureCount, cfg.Limits.MaxTextureCount)
	assert.Equal(t, 5*time.Second, cfg.FenceTimeout())
	assert.Empty(t, cfg.Path())
}

func TestParseApplicationConfigRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown section":   "[window]\nwidth = 1\n",
		"unknown key":       "[application]\nfullscreen = true\n",
		"zero width":        "[application]\nwidth = 0\n",
		"secondary depth":   "[raytracing]\nsecondary_rays = \"shadow\"\n",
		"bad secondary":     "[raytracing]\nmax_recursion_depth = 2\nsecondary_rays = \"refraction\"\n",
		"deep recursion":    "[raytracing]\nmax_recursion_depth = 32\n",
		"no workers":        "[limits]\njob_workers = 0\n",
		"overflowing limit": "[limits]\nmax_shaders = 70000\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseApplicationConfig([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadApplicationConfig(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, DefaultConfigFile)
	cfg, err := LoadApplicationConfig(missing)
	require.NoError(t, err)
	assert.Equal(t, DefaultApplicationConfig().Application, cfg.Application)
	assert.Equal(t, missing, cfg.Path())

	require.NoError(t, os.WriteFile(missing, []byte("[scene]\nfile = \"scenes/hall.toml\"\n"), 0o644))
	cfg, err = LoadApplicationConfig(missing)
	require.NoError(t, err)
	assert.Equal(t, "scenes/hall.toml", cfg.Scene.File)

	require.NoError(t, os.WriteFile(missing, []byte("[scene\n"), 0o644))
	_, err = LoadApplicationConfig(missing)
	assert.Error(t, err)
}
