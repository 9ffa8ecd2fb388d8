package metadata

import (
	"fmt"

	"github.com/spaghettifunk/sonar/engine/core"
)

/** @brief A compiled shader library and the symbols it exports. */
type ShaderLibraryDesc struct {
	Name    string
	Blob    []byte
	Exports []string
}

/**
 * @brief A hit group binds the shaders run when a ray hits a geometry. Only
 * triangle geometry is used, so there is no intersection shader.
 */
type HitGroupDesc struct {
	Name       string
	ClosestHit string
	AnyHit     string
}

type RootParameterType uint32

const (
	ROOT_PARAMETER_TYPE_DESCRIPTOR_TABLE RootParameterType = iota
	ROOT_PARAMETER_TYPE_SRV
	ROOT_PARAMETER_TYPE_UAV
	ROOT_PARAMETER_TYPE_CBV
)

/** @brief One root parameter. Each one occupies 8 bytes of a shader record. */
type RootParameter struct {
	Name string
	Type RootParameterType
}

/**
 * @brief A local root signature and the exports or hit groups it is
 * associated with.
 */
type RootSignatureDesc struct {
	Name         string
	Parameters   []RootParameter
	Associations []string
}

type RayTracingPipelineDesc struct {
	Name              string
	Libraries         []ShaderLibraryDesc
	HitGroups         []HitGroupDesc
	RootSignatures    []RootSignatureDesc
	MaxPayloadSize    uint32
	MaxAttributeSize  uint32
	MaxRecursionDepth uint32
}

/**
 * @brief A created pipeline. Identifiers and root parameter counts are keyed
 * by export or hit group name.
 */
type RayTracingPipeline struct {
	ID           uint32
	Name         string
	Desc         RayTracingPipelineDesc
	Identifiers  map[string][]byte
	ParamCounts  map[string]uint32
	InternalData interface{}
}

// ShaderIdentifier resolves the identifier of a ray generation, miss or hit
// group export.
func (p *RayTracingPipeline) ShaderIdentifier(name string) ([]byte, error) {
	id, ok := p.Identifiers[name]
	if !ok {
		return nil, fmt.Errorf("%q in pipeline %q: %w", name, p.Name, core.ErrUnknownShader)
	}
	return id, nil
}

// RootParameterCount is the number of 8 byte parameters a record for name
// must carry.
func (p *RayTracingPipeline) RootParameterCount(name string) uint32 {
	return p.ParamCounts[name]
}
