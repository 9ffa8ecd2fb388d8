package systems

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spaghettifunk/sonar/engine/core"
	"github.com/spaghettifunk/sonar/engine/math"
	"github.com/spaghettifunk/sonar/engine/renderer"
	"github.com/spaghettifunk/sonar/engine/renderer/metadata"
)

/** @brief The model system configuration. */
type ModelSystemConfig struct {
	/** @brief The maximum number of meshes that can be loaded. */
	MaxModelCount uint32
}

/**
 * @brief Owns the geometry buffers of every loaded mesh and its bottom level
 * acceleration structure. Models are appended and never removed, so a
 * ModelIndex stays valid for the lifetime of the system.
 */
type ModelSystem struct {
	config  *ModelSystemConfig
	backend renderer.RendererBackend
	accel   *AccelerationStructureSystem
	logger  *log.Logger

	models []*metadata.Model
	lookup map[string]metadata.ModelIndex
}

func NewModelSystem(config *ModelSystemConfig, backend renderer.RendererBackend, accel *AccelerationStructureSystem) (*ModelSystem, error) {
	if config.MaxModelCount == 0 {
		err := fmt.Errorf("func NewModelSystem - config.MaxModelCount must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	return &ModelSystem{
		config:  config,
		backend: backend,
		accel:   accel,
		logger:  core.LogWith("system", "model"),
		models:  make([]*metadata.Model, 0, config.MaxModelCount),
		lookup:  make(map[string]metadata.ModelIndex, config.MaxModelCount),
	}, nil
}

func (ms *ModelSystem) Shutdown() error {
	for _, m := range ms.models {
		ms.backend.BufferDestroy(m.AccelerationStructure.Scratch)
		ms.backend.BufferDestroy(m.AccelerationStructure.Result)
		ms.backend.BufferDestroy(m.VertexBuffer)
		ms.backend.BufferDestroy(m.IndexBuffer)
	}
	ms.models = ms.models[:0]
	ms.lookup = make(map[string]metadata.ModelIndex)
	return nil
}

func (ms *ModelSystem) upload(name string, data []byte) (*metadata.Buffer, error) {
	buf, err := ms.backend.BufferCreate(metadata.BufferDesc{
		Name:         name,
		Size:         uint64(len(data)),
		Heap:         metadata.HEAP_TYPE_UPLOAD,
		InitialState: metadata.RESOURCE_STATE_GENERIC_READ,
	})
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", core.ErrBufferAllocation, name, err)
		core.LogError(err.Error())
		return nil, err
	}
	mapped, err := ms.backend.BufferMap(buf)
	if err != nil {
		ms.backend.BufferDestroy(buf)
		core.LogError(err.Error())
		return nil, err
	}
	copy(mapped, data)
	ms.backend.BufferUnmap(buf)
	return buf, nil
}

/**
 * @brief Uploads a mesh into new buffers and registers it.
 *
 * @param name Unique name of the mesh.
 * @param vertices The vertex bytes; the position is the first float3 of each vertex.
 * @param indices Optional triangle list indices. When empty the vertices are a triangle list.
 * @return The stable index of the new model.
 */
func (ms *ModelSystem) LoadMesh(name string, vertices metadata.VertexData, indices []uint32) (metadata.ModelIndex, error) {
	if _, exists := ms.lookup[name]; exists {
		err := fmt.Errorf("mesh %q already loaded: %w", name, core.ErrInvalidModel)
		core.LogError(err.Error())
		return 0, err
	}
	if uint32(len(ms.models)) >= ms.config.MaxModelCount {
		err := fmt.Errorf("unable to load mesh %q, %d models already loaded. Adjust configuration to allow more: %w",
			name, len(ms.models), core.ErrInvalidModel)
		core.LogError(err.Error())
		return 0, err
	}
	if err := vertices.Validate(); err != nil {
		err = fmt.Errorf("mesh %q: %s: %w", name, err, core.ErrInvalidModel)
		core.LogError(err.Error())
		return 0, err
	}
	if len(indices) > 0 {
		if len(indices)%3 != 0 {
			err := fmt.Errorf("mesh %q has %d indices, not a triangle list: %w", name, len(indices), core.ErrInvalidModel)
			core.LogError(err.Error())
			return 0, err
		}
		for i, idx := range indices {
			if idx >= vertices.Count {
				err := fmt.Errorf("mesh %q index %d references vertex %d of %d: %w", name, i, idx, vertices.Count, core.ErrInvalidModel)
				core.LogError(err.Error())
				return 0, err
			}
		}
	} else if vertices.Count%3 != 0 {
		err := fmt.Errorf("mesh %q has %d vertices and no indices: %w", name, vertices.Count, core.ErrInvalidModel)
		core.LogError(err.Error())
		return 0, err
	}

	vb, err := ms.upload(name+"-vertices", vertices.Bytes)
	if err != nil {
		return 0, err
	}
	var ib *metadata.Buffer
	if len(indices) > 0 {
		ib, err = ms.upload(name+"-indices", metadata.EncodeIndices(indices))
		if err != nil {
			ms.backend.BufferDestroy(vb)
			return 0, err
		}
	}

	index := metadata.ModelIndex(len(ms.models))
	ms.models = append(ms.models, &metadata.Model{
		Index:        index,
		Name:         name,
		VertexBuffer: vb,
		VertexCount:  vertices.Count,
		VertexStride: vertices.Stride,
		IndexBuffer:  ib,
		IndexCount:   uint32(len(indices)),
		Extents:      extentsOf(vertices),
	})
	ms.lookup[name] = index
	ms.logger.Debug("mesh loaded", "name", name, "index", index, "vertices", vertices.Count, "indices", len(indices))
	return index, nil
}

// LoadGeometry loads a generated or parsed geometry config.
func (ms *ModelSystem) LoadGeometry(config *metadata.GeometryConfig) (metadata.ModelIndex, error) {
	return ms.LoadMesh(config.Name, config.VertexData(), config.Indices)
}

func extentsOf(v metadata.VertexData) math.Extents3D {
	first := v.Position(0)
	ext := math.Extents3D{Min: first, Max: first}
	for i := uint32(1); i < v.Count; i++ {
		p := v.Position(i)
		ext.Min = math.Vec3{X: min(ext.Min.X, p.X), Y: min(ext.Min.Y, p.Y), Z: min(ext.Min.Z, p.Z)}
		ext.Max = math.Vec3{X: max(ext.Max.X, p.X), Y: max(ext.Max.Y, p.Y), Z: max(ext.Max.Z, p.Z)}
	}
	return ext
}

func (ms *ModelSystem) Model(index metadata.ModelIndex) (*metadata.Model, error) {
	if int(index) >= len(ms.models) {
		err := fmt.Errorf("model index %d out of range (%d loaded): %w", index, len(ms.models), core.ErrInvalidModel)
		core.LogError(err.Error())
		return nil, err
	}
	return ms.models[index], nil
}

func (ms *ModelSystem) Lookup(name string) (metadata.ModelIndex, bool) {
	index, ok := ms.lookup[name]
	return index, ok
}

func (ms *ModelSystem) Count() uint32 {
	return uint32(len(ms.models))
}

/**
 * @brief Builds the bottom level structure of the model the first time it is
 * called. Later calls do nothing. Must be called while the command list is
 * recording.
 */
func (ms *ModelSystem) EnsureBottomLevelBuilt(index metadata.ModelIndex) error {
	model, err := ms.Model(index)
	if err != nil {
		return err
	}
	if model.AccelerationStructure.Built() {
		return nil
	}
	buffers, err := ms.accel.BuildBottomLevel(model.Name, []metadata.GeometryDesc{model.Geometry()})
	if err != nil {
		return err
	}
	model.AccelerationStructure = *buffers
	return nil
}
