package loaders

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/sonar/engine/resources"
)

// SceneLoader decodes a scene description. Unknown keys are rejected.
type SceneLoader struct{}

func (sl *SceneLoader) Load(path string, params interface{}) (*resources.Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	desc, err := ParseSceneDescription(data)
	if err != nil {
		return nil, fmt.Errorf("scene %s: %w", path, err)
	}
	if desc.Name == "" {
		desc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &resources.Resource{
		Name:     desc.Name,
		FullPath: path,
		Type:     resources.ResourceTypeScene,
		DataSize: uint64(len(data)),
		Data:     desc,
	}, nil
}

func (sl *SceneLoader) Unload(res *resources.Resource) error {
	res.Data = nil
	return nil
}

// ParseSceneDescription decodes and checks a scene description: names must be
// unique and every mesh, texture and parent must be declared before use.
func ParseSceneDescription(data []byte) (*resources.SceneDescription, error) {
	var desc resources.SceneDescription
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&desc); err != nil {
		return nil, err
	}

	meshes := make(map[string]bool, len(desc.Meshes))
	for _, m := range desc.Meshes {
		if m.Name == "" {
			return nil, fmt.Errorf("mesh without a name")
		}
		if meshes[m.Name] {
			return nil, fmt.Errorf("mesh %q declared twice", m.Name)
		}
		meshes[m.Name] = true
	}
	textures := make(map[string]bool, len(desc.Textures))
	for _, t := range desc.Textures {
		if t.Name == "" {
			return nil, fmt.Errorf("texture without a name")
		}
		if textures[t.Name] {
			return nil, fmt.Errorf("texture %q declared twice", t.Name)
		}
		textures[t.Name] = true
	}

	objects := make(map[string]bool, len(desc.Objects))
	for _, o := range desc.Objects {
		if o.Name == "" {
			return nil, fmt.Errorf("object without a name")
		}
		if objects[o.Name] {
			return nil, fmt.Errorf("object %q declared twice", o.Name)
		}
		if o.Parent != "" && !objects[o.Parent] {
			return nil, fmt.Errorf("object %q has parent %q which is not declared before it", o.Name, o.Parent)
		}
		switch o.Kind {
		case "reflector":
			if !meshes[o.Mesh] {
				return nil, fmt.Errorf("reflector %q uses unknown mesh %q", o.Name, o.Mesh)
			}
			if o.Texture != "" && !textures[o.Texture] {
				return nil, fmt.Errorf("reflector %q uses unknown texture %q", o.Name, o.Texture)
			}
		case "source", "receiver":
		default:
			return nil, fmt.Errorf("object %q has unknown kind %q", o.Name, o.Kind)
		}
		objects[o.Name] = true
	}
	return &desc, nil
}
