package headless

import (
	"fmt"

	"github.com/spaghettifunk/sonar/engine/renderer/metadata"
)

type heapState struct {
	heap        *metadata.DescriptorHeap
	descriptors []metadata.Descriptor
}

func (b *Backend) DescriptorHeapCreate(count uint32) (*metadata.DescriptorHeap, error) {
	if count == 0 {
		return nil, fmt.Errorf("descriptor heap needs at least one slot")
	}
	var heap *metadata.DescriptorHeap
	err := b.locks.SafeCall(DescriptorManagement, func() error {
		b.nextHeapID++
		heap = &metadata.DescriptorHeap{
			ID:        b.nextHeapID,
			Count:     count,
			Increment: descriptorIncrement,
			GPUStart:  metadata.GPUVirtualAddress(b.nextHeapAddress),
		}
		state := &heapState{
			heap:        heap,
			descriptors: make([]metadata.Descriptor, count),
		}
		heap.InternalData = state
		b.heaps[heap.ID] = state
		b.nextHeapAddress += metadata.GetAligned(uint64(count*descriptorIncrement), 0x1_0000)
		return nil
	})
	return heap, err
}

func (b *Backend) DescriptorHeapDestroy(heap *metadata.DescriptorHeap) {
	if heap == nil {
		return
	}
	_ = b.locks.SafeCall(DescriptorManagement, func() error {
		delete(b.heaps, heap.ID)
		if b.boundHeap != nil && b.boundHeap.heap == heap {
			b.boundHeap = nil
		}
		heap.InternalData = nil
		return nil
	})
}

func (b *Backend) DescriptorWrite(heap *metadata.DescriptorHeap, slot uint32, descriptor metadata.Descriptor) error {
	return b.locks.SafeCall(DescriptorManagement, func() error {
		state, ok := b.heaps[heap.ID]
		if !ok || state.heap != heap {
			return fmt.Errorf("descriptor heap %d is not alive on this device", heap.ID)
		}
		if slot >= heap.Count {
			return fmt.Errorf("descriptor slot %d out of range (heap holds %d)", slot, heap.Count)
		}
		switch descriptor.Kind {
		case metadata.DESCRIPTOR_KIND_ACCELERATION_STRUCTURE:
			if descriptor.Address == 0 {
				return fmt.Errorf("acceleration structure view in slot %d has no address", slot)
			}
		case metadata.DESCRIPTOR_KIND_EMPTY:
		default:
			if descriptor.Buffer == nil {
				return fmt.Errorf("descriptor in slot %d has no buffer", slot)
			}
		}
		state.descriptors[slot] = descriptor
		return nil
	})
}

// Descriptor returns what is written in the given heap slot.
func (b *Backend) Descriptor(heap *metadata.DescriptorHeap, slot uint32) (metadata.Descriptor, bool) {
	state, ok := b.heaps[heap.ID]
	if !ok || slot >= heap.Count {
		return metadata.Descriptor{}, false
	}
	return state.descriptors[slot], true
}
