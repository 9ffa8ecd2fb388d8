package loaders

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/sonar/engine/resources"
)

// ShaderLoader reads a .shadercfg file and the compiled library it points at.
type ShaderLoader struct {
	binary BinaryLoader
}

func (sl *ShaderLoader) Load(path string, params interface{}) (*resources.Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg resources.ShaderConfig
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("shader config %s: %w", path, err)
	}
	if cfg.Name == "" || cfg.File == "" {
		return nil, fmt.Errorf("shader config %s needs both name and file", path)
	}
	if len(cfg.Exports) == 0 {
		return nil, fmt.Errorf("shader config %s declares no exports", path)
	}

	blobPath := cfg.File
	if !filepath.IsAbs(blobPath) {
		blobPath = filepath.Join(filepath.Dir(path), blobPath)
	}
	blob, err := sl.binary.Load(blobPath, map[string]string{"name": cfg.Name})
	if err != nil {
		return nil, fmt.Errorf("shader library %q: %w", cfg.Name, err)
	}

	return &resources.Resource{
		Name:     cfg.Name,
		FullPath: path,
		Type:     resources.ResourceTypeShader,
		DataSize: blob.DataSize,
		Data: &resources.ShaderResourceData{
			Config: cfg,
			Blob:   blob.Data.([]byte),
		},
	}, nil
}

func (sl *ShaderLoader) Unload(res *resources.Resource) error {
	res.Data = nil
	return nil
}
