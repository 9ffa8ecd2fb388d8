package metadata

type DescriptorKind uint32

const (
	DESCRIPTOR_KIND_EMPTY DescriptorKind = iota
	DESCRIPTOR_KIND_UAV
	DESCRIPTOR_KIND_SRV
	DESCRIPTOR_KIND_CBV
	DESCRIPTOR_KIND_ACCELERATION_STRUCTURE
	DESCRIPTOR_KIND_TEXTURE
)

type Descriptor struct {
	Kind   DescriptorKind
	Buffer *Buffer
	/** @brief Used by acceleration structure views. */
	Address GPUVirtualAddress
	/** @brief Width and height for texture views. */
	Width  uint32
	Height uint32
}

/**
 * @brief A shader visible descriptor heap. Slot i lives at
 * GPUStart + i*Increment.
 */
type DescriptorHeap struct {
	ID           uint32
	Count        uint32
	Increment    uint32
	GPUStart     GPUVirtualAddress
	InternalData interface{}
}

func (h *DescriptorHeap) GPUHandle(slot uint32) GPUVirtualAddress {
	return h.GPUStart + GPUVirtualAddress(slot*h.Increment)
}
