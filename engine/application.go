package engine

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/sonar/engine/renderer/metadata"
)

const DefaultConfigFile = "sonar.toml"

type ApplicationSection struct {
	// The application name used in logs and resource names.
	Name   string `toml:"name"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
	// One of debug, info, warn, error.
	LogLevel string `toml:"log_level"`
	// The renderer backend, only "headless" is built in.
	Backend string `toml:"backend"`
	// Directory holding shaders/ and scenes/.
	AssetsDir string `toml:"assets_dir"`
	// Zero means no frame cap.
	TargetFPS uint32 `toml:"target_fps"`
	// Stop after this many frames, zero runs until asked to quit.
	MaxFrames      uint64 `toml:"max_frames"`
	FenceTimeoutMS uint32 `toml:"fence_timeout_ms"`
}

type SceneSection struct {
	// Scene description loaded before the game initializes, relative to the
	// assets directory. Empty lets the game build its own scene.
	File            string `toml:"file"`
	InitialCapacity int    `toml:"initial_capacity"`
	DebugChecks     bool   `toml:"debug_checks"`
}

type ShadersSection struct {
	// Register placeholder libraries when the compiled ones are missing.
	Placeholders bool `toml:"placeholders"`
}

type LimitsSection struct {
	MaxModelCount   uint32 `toml:"max_models"`
	MaxTextureCount uint32 `toml:"max_textures"`
	MaxShaderCount  uint16 `toml:"max_shaders"`
	MaxCameraCount  uint16 `toml:"max_cameras"`
	JobWorkers      int    `toml:"job_workers"`
	JobQueueSize    int    `toml:"job_queue_size"`
}

type ApplicationConfig struct {
	Application ApplicationSection        `toml:"application"`
	RayTracing  metadata.RayTracingConfig `toml:"raytracing"`
	Scene       SceneSection              `toml:"scene"`
	Shaders     ShadersSection            `toml:"shaders"`
	Limits      LimitsSection             `toml:"limits"`

	// The file the config was read from, empty for defaults.
	path string
}

func DefaultApplicationConfig() *ApplicationConfig {
	return &ApplicationConfig{
		Application: ApplicationSection{
			Name:           "Sonar",
			Width:          1280,
			Height:         720,
			LogLevel:       "info",
			Backend:        "headless",
			AssetsDir:      "assets",
			TargetFPS:      60,
			FenceTimeoutMS: 5000,
		},
		RayTracing: metadata.DefaultRayTracingConfig(),
		Scene: SceneSection{
			InitialCapacity: 64,
		},
		Shaders: ShadersSection{
			Placeholders: true,
		},
		Limits: LimitsSection{
			MaxModelCount:   64,
			MaxTextureCount: 32,
			MaxShaderCount:  16,
			MaxCameraCount:  8,
			JobWorkers:      4,
			JobQueueSize:    32,
		},
	}
}

/**
 * @brief Decodes a config document on top of the defaults. Unknown keys are
 * rejected.
 */
func ParseApplicationConfig(data []byte) (*ApplicationConfig, error) {
	cfg := DefaultApplicationConfig()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("unknown config keys:\n%s", strict.String())
		}
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

/**
 * @brief Reads the config at path. A missing file yields the defaults.
 */
func LoadApplicationConfig(path string) (*ApplicationConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := DefaultApplicationConfig()
		cfg.path = path
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	cfg, err := ParseApplicationConfig(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.path = path
	return cfg, nil
}

func (c *ApplicationConfig) FenceTimeout() time.Duration {
	return time.Duration(c.Application.FenceTimeoutMS) * time.Millisecond
}

// Path is the file the config was loaded from.
func (c *ApplicationConfig) Path() string {
	return c.path
}

func (c *ApplicationConfig) Validate() error {
	if c.Application.Width == 0 || c.Application.Height == 0 {
		return fmt.Errorf("application width and height must be positive")
	}
	if c.Application.FenceTimeoutMS == 0 {
		return fmt.Errorf("application fence_timeout_ms must be positive")
	}
	if err := c.RayTracing.Validate(); err != nil {
		return fmt.Errorf("raytracing: %w", err)
	}
	if c.Limits.MaxModelCount == 0 || c.Limits.MaxTextureCount == 0 ||
		c.Limits.MaxShaderCount == 0 || c.Limits.MaxCameraCount == 0 {
		return fmt.Errorf("limits must be positive")
	}
	if c.Limits.JobWorkers <= 0 || c.Limits.JobQueueSize < 0 {
		return fmt.Errorf("limits job_workers must be positive and job_queue_size not negative")
	}
	return nil
}
