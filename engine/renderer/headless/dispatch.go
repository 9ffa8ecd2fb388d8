package headless

import (
	"encoding/binary"
	"fmt"

	"github.com/spaghettifunk/sonar/engine/core"
	"github.com/spaghettifunk/sonar/engine/renderer/metadata"
)

// ResolvedRecord is one shader record a dispatch would fetch.
type ResolvedRecord struct {
	Index    uint32
	Name     string
	Params   []uint64
	RayType  uint32
	Instance uint32
}

// ResolvedInstance is a top level instance and the hit group records its
// rays resolve to, one per ray type.
type ResolvedInstance struct {
	InstanceID  uint32
	BottomLevel metadata.GPUVirtualAddress
	Transform   [12]float32
	Records     []ResolvedRecord
}

/**
 * @brief The outcome of a DispatchRays: every shader record the rays can
 * reach, resolved through the bound pipeline's identifiers.
 */
type DispatchReport struct {
	Width        uint32
	Height       uint32
	RayTypeCount uint32
	RayGen       ResolvedRecord
	Misses       []ResolvedRecord
	HitRecords   uint32
	Instances    []ResolvedInstance
}

func (b *Backend) DispatchRays(desc *metadata.DispatchRaysDesc) error {
	if desc == nil {
		return fmt.Errorf("nil dispatch description: %w", core.ErrDispatch)
	}
	if desc.Width == 0 || desc.Height == 0 || desc.Depth == 0 {
		return fmt.Errorf("dispatch of %dx%dx%d rays: %w", desc.Width, desc.Height, desc.Depth, core.ErrDispatch)
	}
	if desc.RayTypeCount == 0 {
		return fmt.Errorf("dispatch with zero ray types: %w", core.ErrDispatch)
	}
	d := *desc
	return b.record("dispatch rays", func() error {
		report, err := b.resolveDispatch(&d)
		if err != nil {
			err = fmt.Errorf("%s: %w", err, core.ErrDispatch)
			core.LogError(err.Error())
			return err
		}
		b.lastDispatch = report
		b.stats.Dispatches++
		return nil
	})
}

func (b *Backend) resolveDispatch(desc *metadata.DispatchRaysDesc) (*DispatchReport, error) {
	pipeline, heap := b.boundPipeline, b.boundHeap
	if pipeline == nil || heap == nil {
		return nil, fmt.Errorf("no pipeline bound")
	}

	tableAlign := metadata.GPUVirtualAddress(metadata.ShaderTableAlignment)
	for _, start := range []metadata.GPUVirtualAddress{
		desc.RayGenerationShaderRecord.StartAddress,
		desc.MissShaderTable.StartAddress,
		desc.HitGroupTable.StartAddress,
	} {
		if start%tableAlign != 0 {
			return nil, fmt.Errorf("shader table start %#x is not %d byte aligned", uint64(start), tableAlign)
		}
	}
	for _, stride := range []uint64{desc.MissShaderTable.StrideInBytes, desc.HitGroupTable.StrideInBytes} {
		if stride == 0 || stride%uint64(metadata.ShaderRecordAlignment) != 0 {
			return nil, fmt.Errorf("record stride %d is not a multiple of %d", stride, metadata.ShaderRecordAlignment)
		}
	}

	report := &DispatchReport{
		Width:        desc.Width,
		Height:       desc.Height,
		RayTypeCount: desc.RayTypeCount,
	}

	rg, err := b.readRecord(pipeline, desc.RayGenerationShaderRecord.StartAddress, desc.RayGenerationShaderRecord.SizeInBytes)
	if err != nil {
		return nil, fmt.Errorf("ray generation record: %s", err)
	}
	if pipeline.hitGroups[rg.Name] {
		return nil, fmt.Errorf("ray generation record holds hit group %q", rg.Name)
	}
	if len(rg.Params) > 0 && metadata.GPUVirtualAddress(rg.Params[0]) != heap.heap.GPUStart {
		return nil, fmt.Errorf("ray generation heap pointer %#x does not match the bound heap %#x",
			rg.Params[0], uint64(heap.heap.GPUStart))
	}
	report.RayGen = rg

	missCount := uint32(desc.MissShaderTable.SizeInBytes / desc.MissShaderTable.StrideInBytes)
	if missCount == 0 {
		return nil, fmt.Errorf("empty miss table")
	}
	for i := uint32(0); i < missCount; i++ {
		addr := desc.MissShaderTable.StartAddress + metadata.GPUVirtualAddress(uint64(i)*desc.MissShaderTable.StrideInBytes)
		rec, err := b.readRecord(pipeline, addr, desc.MissShaderTable.StrideInBytes)
		if err != nil {
			return nil, fmt.Errorf("miss record %d: %s", i, err)
		}
		if pipeline.hitGroups[rec.Name] {
			return nil, fmt.Errorf("miss record %d holds hit group %q", i, rec.Name)
		}
		rec.Index = i
		report.Misses = append(report.Misses, rec)
	}

	tlas, err := b.boundTopLevel(heap)
	if err != nil {
		return nil, err
	}

	hitCount := uint32(desc.HitGroupTable.SizeInBytes / desc.HitGroupTable.StrideInBytes)
	report.HitRecords = hitCount
	for i, inst := range tlas.instances {
		resolved := ResolvedInstance{
			InstanceID:  inst.InstanceID,
			BottomLevel: inst.AccelerationStructure,
			Transform:   inst.Transform,
		}
		for r := uint32(0); r < desc.RayTypeCount; r++ {
			index := inst.InstanceContributionToHitGroupIndex + r
			if index >= hitCount {
				return nil, fmt.Errorf("instance %d ray type %d reaches hit record %d but the table holds %d",
					i, r, index, hitCount)
			}
			addr := desc.HitGroupTable.StartAddress + metadata.GPUVirtualAddress(uint64(index)*desc.HitGroupTable.StrideInBytes)
			rec, err := b.readRecord(pipeline, addr, desc.HitGroupTable.StrideInBytes)
			if err != nil {
				return nil, fmt.Errorf("hit record %d: %s", index, err)
			}
			if !pipeline.hitGroups[rec.Name] {
				return nil, fmt.Errorf("hit record %d holds %q which is not a hit group", index, rec.Name)
			}
			rec.Index = index
			rec.RayType = r
			rec.Instance = uint32(i)
			resolved.Records = append(resolved.Records, rec)
		}
		report.Instances = append(report.Instances, resolved)
	}
	return report, nil
}

// boundTopLevel finds the top level structure viewed by the bound heap.
func (b *Backend) boundTopLevel(heap *heapState) (*accelerationStructure, error) {
	for slot, d := range heap.descriptors {
		if d.Kind != metadata.DESCRIPTOR_KIND_ACCELERATION_STRUCTURE {
			continue
		}
		as, ok := b.accel[d.Address]
		if !ok {
			return nil, fmt.Errorf("heap slot %d views %#x which holds no built structure", slot, uint64(d.Address))
		}
		if as.kind != metadata.ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL {
			return nil, fmt.Errorf("heap slot %d views a %s structure", slot, as.kind)
		}
		return as, nil
	}
	return nil, fmt.Errorf("bound heap has no acceleration structure view")
}

// readRecord decodes the identifier and root parameters of the record at
// addr. size bounds how many bytes the record may use.
func (b *Backend) readRecord(pipeline *pipelineState, addr metadata.GPUVirtualAddress, size uint64) (ResolvedRecord, error) {
	var rec ResolvedRecord
	idSize := uint64(metadata.ShaderIdentifierSize)
	if size < idSize {
		return rec, fmt.Errorf("record of %d bytes cannot hold an identifier", size)
	}
	state, offset, ok := b.resolve(addr)
	if !ok {
		return rec, fmt.Errorf("address %#x is not backed by a buffer", uint64(addr))
	}
	if offset+idSize > uint64(len(state.data)) {
		return rec, fmt.Errorf("record at %#x overruns buffer %q", uint64(addr), state.buffer.Name)
	}
	id := state.data[offset : offset+idSize]
	name, ok := pipeline.names[string(id)]
	if !ok {
		return rec, fmt.Errorf("identifier at %#x is not part of pipeline %q", uint64(addr), pipeline.pipeline.Name)
	}
	rec.Name = name

	count := uint64(pipeline.pipeline.RootParameterCount(name))
	need := idSize + count*uint64(metadata.RootParameterSize)
	if need > size || offset+need > uint64(len(state.data)) {
		return rec, fmt.Errorf("%q needs %d bytes of record, %d available", name, need, size)
	}
	for p := uint64(0); p < count; p++ {
		at := offset + idSize + p*uint64(metadata.RootParameterSize)
		rec.Params = append(rec.Params, binary.LittleEndian.Uint64(state.data[at:]))
	}
	return rec, nil
}
