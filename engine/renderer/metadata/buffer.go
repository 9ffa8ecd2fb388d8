package metadata

// GPUVirtualAddress is the address of a byte inside a GPU resource.
type GPUVirtualAddress uint64

type HeapType uint32

const (
	/** @brief GPU local memory, not CPU visible. */
	HEAP_TYPE_DEFAULT HeapType = iota
	/** @brief CPU writeable, GPU readable memory. */
	HEAP_TYPE_UPLOAD
)

func (h HeapType) String() string {
	switch h {
	case HEAP_TYPE_DEFAULT:
		return "default"
	case HEAP_TYPE_UPLOAD:
		return "upload"
	default:
		return "unknown"
	}
}

type ResourceState uint32

const (
	RESOURCE_STATE_COMMON ResourceState = iota
	RESOURCE_STATE_GENERIC_READ
	RESOURCE_STATE_UNORDERED_ACCESS
	RESOURCE_STATE_RAYTRACING_ACCELERATION_STRUCTURE
)

type BufferFlag uint32

const (
	BUFFER_FLAG_NONE                   BufferFlag = 0x0
	BUFFER_FLAG_ALLOW_UNORDERED_ACCESS BufferFlag = 0x1
)

type BufferDesc struct {
	/** @brief Debug name. A unique name is generated when empty. */
	Name         string
	Size         uint64
	Heap         HeapType
	Flags        BufferFlag
	InitialState ResourceState
}

/**
 * @brief A linear GPU allocation. InternalData is owned by the backend that
 * created the buffer.
 */
type Buffer struct {
	ID           uint32
	Name         string
	Size         uint64
	Heap         HeapType
	Flags        BufferFlag
	State        ResourceState
	Address      GPUVirtualAddress
	InternalData interface{}
}

// AddressAt returns the address of the given byte offset, or 0 for a nil buffer.
func (b *Buffer) AddressAt(offset uint64) GPUVirtualAddress {
	if b == nil {
		return 0
	}
	return b.Address + GPUVirtualAddress(offset)
}
