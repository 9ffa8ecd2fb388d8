package metadata

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	/** @brief Size of an opaque shader identifier inside a shader record. */
	ShaderIdentifierSize uint32 = 32
	/** @brief Required alignment of every shader record. */
	ShaderRecordAlignment uint32 = 32
	/** @brief Required alignment of the start of each shader table section. */
	ShaderTableAlignment uint32 = 64
	/** @brief Alignment of acceleration structure buffers and of the SBT buffer. */
	AccelerationStructureAlignment uint64 = 256
	/** @brief Constant buffers are bound on 256 byte boundaries. */
	ConstantBufferAlignment uint64 = 256
	/** @brief Size of one root parameter inside a shader record. */
	RootParameterSize uint32 = 8
)

type MemoryRange struct {
	Offset uint64
	Size   uint64
}

func GetAlignedRange(offset, size, granularity uint64) *MemoryRange {
	return &MemoryRange{
		Offset: GetAligned(offset, granularity),
		Size:   GetAligned(size, granularity),
	}
}

// GetAligned rounds operand up to the next multiple of granularity, which must
// be a power of two.
func GetAligned(operand, granularity uint64) uint64 {
	return (operand + (granularity - 1)) &^ (granularity - 1)
}

func GetAligned32(operand, granularity uint32) uint32 {
	return (operand + (granularity - 1)) &^ (granularity - 1)
}

// NewResourceName returns name, or a unique debug name built from prefix when
// name is empty.
func NewResourceName(prefix, name string) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}
