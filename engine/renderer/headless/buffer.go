package headless

import (
	"fmt"

	"github.com/spaghettifunk/sonar/engine/core"
	"github.com/spaghettifunk/sonar/engine/renderer/metadata"
)

type bufferState struct {
	buffer *metadata.Buffer
	data   []byte
	mapped bool
}

func (b *Backend) BufferCreate(desc metadata.BufferDesc) (*metadata.Buffer, error) {
	var out *metadata.Buffer
	err := b.locks.SafeCall(BufferManagement, func() error {
		if desc.Size == 0 {
			err := fmt.Errorf("buffer %q has zero size: %w", desc.Name, core.ErrBufferAllocation)
			core.LogError(err.Error())
			return err
		}
		if b.memoryBudget > 0 && b.stats.AllocatedBytes+desc.Size > b.memoryBudget {
			err := fmt.Errorf("buffer %q of %d bytes exceeds the memory budget (%d of %d in use): %w",
				desc.Name, desc.Size, b.stats.AllocatedBytes, b.memoryBudget, core.ErrBufferAllocation)
			core.LogError(err.Error())
			return err
		}

		state := &bufferState{data: make([]byte, desc.Size)}
		id := b.ids.Acquire(state)
		buf := &metadata.Buffer{
			ID:           id,
			Name:         metadata.NewResourceName("buffer", desc.Name),
			Size:         desc.Size,
			Heap:         desc.Heap,
			Flags:        desc.Flags,
			State:        desc.InitialState,
			Address:      metadata.GPUVirtualAddress(b.nextAddress),
			InternalData: state,
		}
		state.buffer = buf
		b.buffers[id] = state
		b.nextAddress += metadata.GetAligned(desc.Size, metadata.AccelerationStructureAlignment)
		b.stats.BufferAllocations++
		b.stats.AllocatedBytes += desc.Size
		out = buf
		return nil
	})
	if err != nil {
		return nil, err
	}
	b.logger.Debug("buffer created", "name", out.Name, "size", out.Size, "heap", out.Heap, "address", fmt.Sprintf("%#x", uint64(out.Address)))
	return out, nil
}

func (b *Backend) BufferDestroy(buffer *metadata.Buffer) {
	if buffer == nil {
		return
	}
	_ = b.locks.SafeCall(BufferManagement, func() error {
		state, ok := b.buffers[buffer.ID]
		if !ok || state.buffer != buffer {
			b.logger.Warn("destroying unknown buffer", "name", buffer.Name)
			return nil
		}
		delete(b.buffers, buffer.ID)
		delete(b.accel, buffer.Address)
		if err := b.ids.Release(buffer.ID); err != nil {
			b.logger.Warn(err.Error())
		}
		b.stats.AllocatedBytes -= buffer.Size
		buffer.InternalData = nil
		return nil
	})
}

func (b *Backend) BufferMap(buffer *metadata.Buffer) ([]byte, error) {
	state, err := b.lookup(buffer)
	if err != nil {
		return nil, err
	}
	if buffer.Heap != metadata.HEAP_TYPE_UPLOAD {
		err := fmt.Errorf("buffer %q lives in the %s heap: %w", buffer.Name, buffer.Heap, core.ErrBufferMap)
		core.LogError(err.Error())
		return nil, err
	}
	state.mapped = true
	return state.data, nil
}

func (b *Backend) BufferUnmap(buffer *metadata.Buffer) {
	if state, err := b.lookup(buffer); err == nil {
		state.mapped = false
	}
}

// ReadBuffer returns a copy of the buffer contents regardless of heap.
func (b *Backend) ReadBuffer(buffer *metadata.Buffer) ([]byte, error) {
	state, err := b.lookup(buffer)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(state.data))
	copy(out, state.data)
	return out, nil
}

func (b *Backend) lookup(buffer *metadata.Buffer) (*bufferState, error) {
	if buffer == nil {
		return nil, fmt.Errorf("nil buffer")
	}
	state, ok := buffer.InternalData.(*bufferState)
	if !ok || b.buffers[buffer.ID] != state {
		return nil, fmt.Errorf("buffer %q is not alive on this device", buffer.Name)
	}
	return state, nil
}

// resolve finds the live buffer containing addr and the offset inside it.
func (b *Backend) resolve(addr metadata.GPUVirtualAddress) (*bufferState, uint64, bool) {
	for _, state := range b.buffers {
		start := state.buffer.Address
		if addr >= start && uint64(addr-start) < state.buffer.Size {
			return state, uint64(addr - start), true
		}
	}
	return nil, 0, false
}
