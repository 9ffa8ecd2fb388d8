package systems

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spaghettifunk/sonar/engine/core"
	"github.com/spaghettifunk/sonar/engine/math"
	"github.com/spaghettifunk/sonar/engine/renderer/metadata"
	"github.com/spaghettifunk/sonar/engine/resources"
	"github.com/spaghettifunk/sonar/engine/scene"
)

const (
	defaultSourceFOV float32 = 60
	sourceNearClip   float32 = 0.01
	sourceFarClip    float32 = 1000
)

/**
 * @brief Turns a scene description into a Scene: meshes are generated and
 * loaded into the model system, textures are created and objects are placed
 * in a new transform graph in declaration order.
 */
type SceneSystem struct {
	geometry *GeometrySystem
	models   *ModelSystem
	textures *TextureSystem
	logger   *log.Logger
}

func NewSceneSystem(geometry *GeometrySystem, models *ModelSystem, textures *TextureSystem) (*SceneSystem, error) {
	if geometry == nil || models == nil || textures == nil {
		err := fmt.Errorf("func NewSceneSystem - geometry, model and texture systems are required")
		core.LogError(err.Error())
		return nil, err
	}
	return &SceneSystem{
		geometry: geometry,
		models:   models,
		textures: textures,
		logger:   core.LogWith("system", "scene"),
	}, nil
}

func (ss *SceneSystem) Shutdown() error {
	return nil
}

func parseSurface(s string) (scene.SurfaceKind, error) {
	switch s {
	case "", "solid":
		return scene.SurfaceSolid, nil
	case "boundary":
		return scene.SurfaceBoundary, nil
	default:
		return 0, fmt.Errorf("unknown surface %q", s)
	}
}

func vec3(v [3]float32) math.Vec3 {
	return math.NewVec3(v[0], v[1], v[2])
}

/**
 * @brief Builds a scene from the description.
 *
 * @param desc A description checked by the scene loader.
 * @param config The transform graph configuration.
 */
func (ss *SceneSystem) Build(desc *resources.SceneDescription, config scene.GraphConfig) (*scene.Scene, error) {
	meshes := make(map[string]metadata.ModelIndex, len(desc.Meshes))
	for _, m := range desc.Meshes {
		index, ok := ss.models.Lookup(m.Name)
		if !ok {
			geometry, err := ss.geometry.Generate(GeometryKind(m.Kind), m.Width, m.Height, m.Depth, m.Name)
			if err != nil {
				return nil, fmt.Errorf("scene %q mesh %q: %w", desc.Name, m.Name, err)
			}
			if index, err = ss.models.LoadGeometry(geometry); err != nil {
				return nil, err
			}
		}
		meshes[m.Name] = index
	}

	textures := make(map[string]metadata.TextureHandle, len(desc.Textures))
	for _, t := range desc.Textures {
		handle, ok := ss.textures.Lookup(t.Name)
		if !ok {
			var err error
			c := t.Color
			handle, err = ss.textures.Create(t.Name, max(t.Width, 1), max(t.Height, 1), math.NewVec4(c[0], c[1], c[2], c[3]))
			if err != nil {
				return nil, err
			}
		}
		textures[t.Name] = handle
	}

	graph := scene.NewGraph(config)
	s := scene.NewScene(graph)
	handles := make(map[string]scene.Handle, len(desc.Objects))
	for _, o := range desc.Objects {
		scale := math.NewVec3One()
		if o.Scale != nil {
			scale = vec3(*o.Scale)
		}
		h := graph.Create(math.TransformFromPositionRotationScale(
			vec3(o.Position),
			math.NewQuatFromEulerDegrees(o.Rotation[0], o.Rotation[1], o.Rotation[2]),
			scale,
		))
		if o.Parent != "" {
			parent, ok := handles[o.Parent]
			if !ok {
				return nil, fmt.Errorf("scene %q object %q: parent %q not declared before it", desc.Name, o.Name, o.Parent)
			}
			graph.SetParent(h, parent, scene.InvalidHandle)
		}
		handles[o.Name] = h

		var err error
		switch o.Kind {
		case "reflector":
			err = ss.addReflector(s, o, h, meshes, textures)
		case "source":
			fov := o.FOV
			if fov == 0 {
				fov = defaultSourceFOV
			}
			projection := math.NewMat4Perspective(math.DegToRad(fov), 1, sourceNearClip, sourceFarClip)
			_, err = s.AddSoundSource(o.Name, h, projection)
		case "receiver":
			_, err = s.AddSoundReceiver(o.Name, h)
		default:
			err = fmt.Errorf("object %q has unknown kind %q", o.Name, o.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("scene %q: %w", desc.Name, err)
		}
	}
	ss.logger.Info("scene built", "name", desc.Name, "meshes", len(meshes), "objects", len(desc.Objects))
	return s, nil
}

func (ss *SceneSystem) addReflector(s *scene.Scene, o resources.ObjectDescription, h scene.Handle,
	meshes map[string]metadata.ModelIndex, textures map[string]metadata.TextureHandle) error {
	surface, err := parseSurface(o.Surface)
	if err != nil {
		return fmt.Errorf("reflector %q: %w", o.Name, err)
	}
	model, ok := meshes[o.Mesh]
	if !ok {
		return fmt.Errorf("reflector %q uses unknown mesh %q: %w", o.Name, o.Mesh, core.ErrInvalidModel)
	}
	texture := metadata.DefaultTextureHandle
	if o.Texture != "" {
		if texture, ok = textures[o.Texture]; !ok {
			return fmt.Errorf("reflector %q uses unknown texture %q: %w", o.Name, o.Texture, core.ErrInvalidTexture)
		}
	}
	albedo := math.NewVec4(o.Albedo[0], o.Albedo[1], o.Albedo[2], o.Albedo[3])
	if o.Albedo == [4]float32{} {
		albedo = math.NewVec4One()
	}
	_, err = s.AddReflector(scene.ReflectorConfig{
		Name:         o.Name,
		Transform:    h,
		Surface:      surface,
		Model:        model,
		Texture:      texture,
		Albedo:       albedo,
		Reflectivity: o.Reflectivity,
	})
	return err
}
