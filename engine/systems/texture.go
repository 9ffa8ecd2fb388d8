package systems

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spaghettifunk/sonar/engine/core"
	"github.com/spaghettifunk/sonar/engine/math"
	"github.com/spaghettifunk/sonar/engine/renderer"
	"github.com/spaghettifunk/sonar/engine/renderer/metadata"
)

/** @brief The name of the default texture. */
const DefaultTextureName = "default"

/** @brief First descriptor heap slot holding a texture view. */
const TextureHeapSlotBase uint32 = 4

type TextureSystemConfig struct {
	/** @brief The maximum number of textures that can be loaded at once. */
	MaxTextureCount uint32
}

/**
 * @brief Registry of procedural RGBA8 textures. Texture i is viewed from
 * descriptor heap slot TextureHeapSlotBase + i. Handle 0 is the default
 * texture, which always exists.
 */
type TextureSystem struct {
	config  *TextureSystemConfig
	backend renderer.RendererBackend
	logger  *log.Logger

	textures []*metadata.Texture
	lookup   map[string]metadata.TextureHandle
}

func NewTextureSystem(config *TextureSystemConfig, backend renderer.RendererBackend) (*TextureSystem, error) {
	if config.MaxTextureCount == 0 {
		err := fmt.Errorf("func NewTextureSystem - config.MaxTextureCount must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	ts := &TextureSystem{
		config:   config,
		backend:  backend,
		logger:   core.LogWith("system", "texture"),
		textures: make([]*metadata.Texture, 0, config.MaxTextureCount),
		lookup:   make(map[string]metadata.TextureHandle),
	}

	// Create default textures for use in the system.
	if _, err := ts.Create(DefaultTextureName, 2, 2, math.NewVec4One()); err != nil {
		return nil, err
	}
	return ts, nil
}

func (ts *TextureSystem) Shutdown() error {
	for _, t := range ts.textures {
		ts.backend.BufferDestroy(t.Buffer)
	}
	ts.textures = ts.textures[:0]
	ts.lookup = make(map[string]metadata.TextureHandle)
	return nil
}

func pixel(c float32) byte {
	return byte(math.Clamp(c, 0, 1)*255 + 0.5)
}

/**
 * @brief Creates a texture filled with a single colour.
 *
 * @param name Unique name of the texture.
 * @param colour RGBA in [0, 1].
 * @return The handle of the new texture.
 */
func (ts *TextureSystem) Create(name string, width, height uint32, colour math.Vec4) (metadata.TextureHandle, error) {
	if _, exists := ts.lookup[name]; exists {
		err := fmt.Errorf("texture %q already exists: %w", name, core.ErrInvalidTexture)
		core.LogError(err.Error())
		return 0, err
	}
	if uint32(len(ts.textures)) >= ts.config.MaxTextureCount {
		err := fmt.Errorf("unable to create texture %q, %d already exist. Adjust configuration to allow more: %w",
			name, len(ts.textures), core.ErrInvalidTexture)
		core.LogError(err.Error())
		return 0, err
	}
	if width == 0 || height == 0 {
		err := fmt.Errorf("texture %q has size %dx%d: %w", name, width, height, core.ErrInvalidTexture)
		core.LogError(err.Error())
		return 0, err
	}

	buf, err := ts.backend.BufferCreate(metadata.BufferDesc{
		Name:         name + "-texture",
		Size:         uint64(width) * uint64(height) * 4,
		Heap:         metadata.HEAP_TYPE_UPLOAD,
		InitialState: metadata.RESOURCE_STATE_GENERIC_READ,
	})
	if err != nil {
		err = fmt.Errorf("%w: texture %q: %w", core.ErrBufferAllocation, name, err)
		core.LogError(err.Error())
		return 0, err
	}
	pixels, err := ts.backend.BufferMap(buf)
	if err != nil {
		ts.backend.BufferDestroy(buf)
		core.LogError(err.Error())
		return 0, err
	}
	rgba := [4]byte{pixel(colour.X), pixel(colour.Y), pixel(colour.Z), pixel(colour.W)}
	for i := 0; i+4 <= len(pixels); i += 4 {
		copy(pixels[i:], rgba[:])
	}
	ts.backend.BufferUnmap(buf)

	handle := metadata.TextureHandle(len(ts.textures))
	ts.textures = append(ts.textures, &metadata.Texture{
		Handle:   handle,
		Name:     name,
		Width:    width,
		Height:   height,
		HeapSlot: TextureHeapSlotBase + uint32(handle),
		Buffer:   buf,
	})
	ts.lookup[name] = handle
	ts.logger.Debug("texture created", "name", name, "handle", handle, "width", width, "height", height)
	return handle, nil
}

func (ts *TextureSystem) Lookup(name string) (metadata.TextureHandle, bool) {
	h, ok := ts.lookup[name]
	return h, ok
}

func (ts *TextureSystem) Get(handle metadata.TextureHandle) (*metadata.Texture, error) {
	if int(handle) >= len(ts.textures) {
		err := fmt.Errorf("texture handle %d out of range (%d textures): %w", handle, len(ts.textures), core.ErrInvalidTexture)
		core.LogError(err.Error())
		return nil, err
	}
	return ts.textures[handle], nil
}

func (ts *TextureSystem) GetDefaultTexture() *metadata.Texture {
	return ts.textures[metadata.DefaultTextureHandle]
}

func (ts *TextureSystem) Count() uint32 {
	return uint32(len(ts.textures))
}

// WriteDescriptors writes the view of every texture into its heap slot.
func (ts *TextureSystem) WriteDescriptors(heap *metadata.DescriptorHeap) error {
	for _, t := range ts.textures {
		if err := ts.backend.DescriptorWrite(heap, t.HeapSlot, metadata.Descriptor{
			Kind:   metadata.DESCRIPTOR_KIND_TEXTURE,
			Buffer: t.Buffer,
			Width:  t.Width,
			Height: t.Height,
		}); err != nil {
			err = fmt.Errorf("texture %q view: %w", t.Name, err)
			core.LogError(err.Error())
			return err
		}
	}
	return nil
}
