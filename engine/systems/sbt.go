package systems

import (
	"encoding/binary"
	"fmt"

	"github.com/spaghettifunk/sonar/engine/core"
	"github.com/spaghettifunk/sonar/engine/renderer/metadata"
)

// PipelineProperties resolves export and hit group names to the opaque
// identifiers written at the start of every shader record.
type PipelineProperties interface {
	ShaderIdentifier(name string) ([]byte, error)
}

type sbtEntry struct {
	name   string
	params []uint64
}

/**
 * @brief Lays out a shader binding table: one ray generation record, then
 * the miss records, then the hit group records, each section with a fixed
 * stride so records can be indexed.
 *
 * A record is the shader identifier followed by the 8 byte root parameters
 * in root signature order.
 */
type ShaderBindingTableGenerator struct {
	rayGen    []sbtEntry
	miss      []sbtEntry
	hitGroups []sbtEntry

	rayGenEntrySize   uint32
	missEntrySize     uint32
	hitGroupEntrySize uint32
	// sized is cleared by every added record and set by ComputeSBTSize.
	sized bool
}

func NewShaderBindingTableGenerator() *ShaderBindingTableGenerator {
	return &ShaderBindingTableGenerator{}
}

func (g *ShaderBindingTableGenerator) Reset() {
	g.rayGen = g.rayGen[:0]
	g.miss = g.miss[:0]
	g.hitGroups = g.hitGroups[:0]
	g.rayGenEntrySize = 0
	g.missEntrySize = 0
	g.hitGroupEntrySize = 0
	g.sized = false
}

func (g *ShaderBindingTableGenerator) AddRayGenerationProgram(name string, params []uint64) {
	g.rayGen = append(g.rayGen, sbtEntry{name: name, params: params})
	g.sized = false
}

func (g *ShaderBindingTableGenerator) AddMissProgram(name string, params []uint64) {
	g.miss = append(g.miss, sbtEntry{name: name, params: params})
	g.sized = false
}

// AddHitGroup appends a hit group record. Records are consumed in order, so
// the caller adds them in instance order, ray types innermost.
func (g *ShaderBindingTableGenerator) AddHitGroup(name string, params []uint64) {
	g.hitGroups = append(g.hitGroups, sbtEntry{name: name, params: params})
	g.sized = false
}

func entrySize(entries []sbtEntry) uint32 {
	var maxParams uint32
	for _, e := range entries {
		maxParams = max(maxParams, uint32(len(e.params)))
	}
	size := metadata.ShaderIdentifierSize + metadata.RootParameterSize*maxParams
	return metadata.GetAligned32(size, metadata.ShaderRecordAlignment)
}

func sectionSize(entry uint32, count int) uint32 {
	return metadata.GetAligned32(entry*uint32(count), metadata.ShaderTableAlignment)
}

// ComputeSBTSize computes the entry sizes of every section and returns the
// number of bytes the table needs.
func (g *ShaderBindingTableGenerator) ComputeSBTSize() uint32 {
	g.rayGenEntrySize = entrySize(g.rayGen)
	g.missEntrySize = entrySize(g.miss)
	g.hitGroupEntrySize = entrySize(g.hitGroups)
	g.sized = true

	total := g.GetRayGenSectionSize() + g.GetMissSectionSize() + g.GetHitGroupSectionSize()
	return uint32(metadata.GetAligned(uint64(total), metadata.AccelerationStructureAlignment))
}

func (g *ShaderBindingTableGenerator) GetRayGenEntrySize() uint32 {
	return g.rayGenEntrySize
}

func (g *ShaderBindingTableGenerator) GetRayGenSectionSize() uint32 {
	return sectionSize(g.rayGenEntrySize, len(g.rayGen))
}

func (g *ShaderBindingTableGenerator) GetMissEntrySize() uint32 {
	return g.missEntrySize
}

func (g *ShaderBindingTableGenerator) GetMissSectionSize() uint32 {
	return sectionSize(g.missEntrySize, len(g.miss))
}

func (g *ShaderBindingTableGenerator) GetHitGroupEntrySize() uint32 {
	return g.hitGroupEntrySize
}

func (g *ShaderBindingTableGenerator) GetHitGroupSectionSize() uint32 {
	return sectionSize(g.hitGroupEntrySize, len(g.hitGroups))
}

func (g *ShaderBindingTableGenerator) MissCount() uint32 {
	return uint32(len(g.miss))
}

func (g *ShaderBindingTableGenerator) HitGroupCount() uint32 {
	return uint32(len(g.hitGroups))
}

// HitGroupNames lists the hit group of every record in table order.
func (g *ShaderBindingTableGenerator) HitGroupNames() []string {
	out := make([]string, len(g.hitGroups))
	for i, e := range g.hitGroups {
		out[i] = e.name
	}
	return out
}

/**
 * @brief Writes the table into dest. ComputeSBTSize must have been called
 * after the last record was added.
 *
 * @param dest The mapped table storage, at least ComputeSBTSize() bytes.
 * @param props Resolves record names to shader identifiers.
 */
func (g *ShaderBindingTableGenerator) Generate(dest []byte, props PipelineProperties) error {
	if len(g.rayGen) != 1 {
		err := fmt.Errorf("shader table needs exactly one ray generation record, got %d: %w", len(g.rayGen), core.ErrInvalidShaderTable)
		core.LogError(err.Error())
		return err
	}
	if !g.sized {
		err := fmt.Errorf("shader table records changed since its size was computed: %w", core.ErrInvalidShaderTable)
		core.LogError(err.Error())
		return err
	}
	total := g.GetRayGenSectionSize() + g.GetMissSectionSize() + g.GetHitGroupSectionSize()
	if uint32(len(dest)) < total {
		err := fmt.Errorf("shader table storage holds %d bytes, %d needed: %w", len(dest), total, core.ErrInvalidShaderTable)
		core.LogError(err.Error())
		return err
	}

	offset := uint32(0)
	for _, section := range []struct {
		entries []sbtEntry
		stride  uint32
	}{
		{g.rayGen, g.rayGenEntrySize},
		{g.miss, g.missEntrySize},
		{g.hitGroups, g.hitGroupEntrySize},
	} {
		if err := copyShaderData(dest[offset:], section.entries, section.stride, props); err != nil {
			return err
		}
		offset += sectionSize(section.stride, len(section.entries))
	}
	return nil
}

func copyShaderData(dest []byte, entries []sbtEntry, stride uint32, props PipelineProperties) error {
	for i, e := range entries {
		id, err := props.ShaderIdentifier(e.name)
		if err != nil {
			err = fmt.Errorf("shader record %d %q: %w", i, e.name, err)
			core.LogError(err.Error())
			return err
		}
		if uint32(len(id)) != metadata.ShaderIdentifierSize {
			err := fmt.Errorf("identifier of %q is %d bytes: %w", e.name, len(id), core.ErrInvalidShaderTable)
			core.LogError(err.Error())
			return err
		}
		record := dest[uint32(i)*stride : uint32(i+1)*stride]
		copy(record, id)
		for p, value := range e.params {
			binary.LittleEndian.PutUint64(record[metadata.ShaderIdentifierSize+uint32(p)*metadata.RootParameterSize:], value)
		}
		// Clear parameter slots this record does not use.
		for b := metadata.ShaderIdentifierSize + uint32(len(e.params))*metadata.RootParameterSize; b < stride; b++ {
			record[b] = 0
		}
	}
	return nil
}
