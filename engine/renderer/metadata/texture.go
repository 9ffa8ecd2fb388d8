package metadata

// TextureHandle identifies a registered texture. The zero handle selects the
// default texture.
type TextureHandle uint32

const DefaultTextureHandle TextureHandle = 0

type Texture struct {
	Handle TextureHandle
	Name   string
	Width  uint32
	Height uint32
	/** @brief Descriptor heap slot of the texture's shader resource view. */
	HeapSlot uint32
	Buffer   *Buffer
}
