package systems

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spaghettifunk/sonar/engine/core"
	"github.com/spaghettifunk/sonar/engine/renderer"
	"github.com/spaghettifunk/sonar/engine/renderer/metadata"
)

// Shader exports.
const (
	ExportRayGen                       = "RayGen"
	ExportMiss                         = "Miss"
	ExportClosestHit                   = "ClosestHit"
	ExportBoundaryClosestHit           = "BoundaryClosestHit"
	ExportBoundaryReflectionClosestHit = "BoundaryReflectionClosestHit"
	ExportShadowClosestHit             = "ShadowClosestHit"
	ExportShadowMiss                   = "ShadowMiss"
	ExportReflectionClosestHit         = "ReflectionClosestHit"
	ExportReflectionMiss               = "ReflectionMiss"
)

// Hit groups.
const (
	HitGroup                   = "HitGroup"
	BoundaryHitGroup           = "BoundaryHitGroup"
	BoundaryReflectionHitGroup = "BoundaryReflectionHitGroup"
	ShadowHitGroup             = "ShadowHitGroup"
	ReflectionHitGroup         = "ReflectionHitGroup"
)

// Number of root parameters of the primary hit groups: vertex buffer, index
// buffer, per instance constants and the texture table.
const HitRootParameterCount = 4

// ShaderLibrary names a library the pipeline is built from and the exports
// it must provide.
type ShaderLibrary struct {
	Name    string
	Exports []string
}

// StandardShaderLibraries lists the libraries of the sonar pipeline.
func StandardShaderLibraries() []ShaderLibrary {
	return []ShaderLibrary{
		{Name: "RayGen", Exports: []string{ExportRayGen}},
		{Name: "Miss", Exports: []string{ExportMiss}},
		{Name: "Hit", Exports: []string{ExportClosestHit, ExportBoundaryClosestHit, ExportBoundaryReflectionClosestHit}},
		{Name: "ShadowRay", Exports: []string{ExportShadowClosestHit, ExportShadowMiss}},
		{Name: "ReflectionRay", Exports: []string{ExportReflectionClosestHit, ExportReflectionMiss}},
	}
}

/**
 * @brief Builds the ray tracing pipeline from the shader system's libraries.
 * Every hit group is always part of the pipeline, the secondary ray mode only
 * changes which ones the shader binding table references.
 */
type PipelineSystem struct {
	backend renderer.RendererBackend
	shaders *ShaderSystem
	logger  *log.Logger

	pipeline *metadata.RayTracingPipeline
	config   metadata.RayTracingConfig
	// Shader generation the pipeline was built from.
	shaderGeneration uint64
	builds           uint64
}

func NewPipelineSystem(backend renderer.RendererBackend, shaders *ShaderSystem) (*PipelineSystem, error) {
	if backend == nil || shaders == nil {
		err := fmt.Errorf("func NewPipelineSystem - backend and shader system are required")
		core.LogError(err.Error())
		return nil, err
	}
	return &PipelineSystem{
		backend: backend,
		shaders: shaders,
		logger:  core.LogWith("system", "pipeline"),
	}, nil
}

func (ps *PipelineSystem) Shutdown() error {
	ps.backend.PipelineDestroy(ps.pipeline)
	ps.pipeline = nil
	return nil
}

func (ps *PipelineSystem) describe(config metadata.RayTracingConfig) (*metadata.RayTracingPipelineDesc, error) {
	desc := &metadata.RayTracingPipelineDesc{
		Name:              "sonar",
		MaxPayloadSize:    config.MaxPayloadSize,
		MaxAttributeSize:  config.MaxAttributeSize,
		MaxRecursionDepth: config.MaxRecursionDepth,
	}

	for _, want := range StandardShaderLibraries() {
		lib, err := ps.shaders.Acquire(want.Name)
		if err != nil {
			return nil, err
		}
		for _, export := range want.Exports {
			found := false
			for _, e := range lib.Exports {
				if e == export {
					found = true
					break
				}
			}
			if !found {
				return nil, fmt.Errorf("library %q does not export %q: %w", want.Name, export, core.ErrUnknownShader)
			}
		}
		desc.Libraries = append(desc.Libraries, *lib)
	}

	desc.HitGroups = []metadata.HitGroupDesc{
		{Name: HitGroup, ClosestHit: ExportClosestHit},
		{Name: BoundaryHitGroup, ClosestHit: ExportBoundaryClosestHit},
		{Name: BoundaryReflectionHitGroup, ClosestHit: ExportBoundaryReflectionClosestHit},
		{Name: ShadowHitGroup, ClosestHit: ExportShadowClosestHit},
		{Name: ReflectionHitGroup, ClosestHit: ExportReflectionClosestHit},
	}

	desc.RootSignatures = []metadata.RootSignatureDesc{
		{
			Name: "RayGenSignature",
			// Output, top level structure, camera and sonar constants.
			Parameters:   []metadata.RootParameter{{Name: "heap", Type: metadata.ROOT_PARAMETER_TYPE_DESCRIPTOR_TABLE}},
			Associations: []string{ExportRayGen},
		},
		{
			Name: "HitSignature",
			Parameters: []metadata.RootParameter{
				{Name: "vertices", Type: metadata.ROOT_PARAMETER_TYPE_SRV},
				{Name: "indices", Type: metadata.ROOT_PARAMETER_TYPE_SRV},
				{Name: "instance", Type: metadata.ROOT_PARAMETER_TYPE_CBV},
				{Name: "textures", Type: metadata.ROOT_PARAMETER_TYPE_DESCRIPTOR_TABLE},
			},
			Associations: []string{HitGroup, BoundaryHitGroup, BoundaryReflectionHitGroup},
		},
		{
			Name:         "EmptySignature",
			Associations: []string{ExportMiss, ExportShadowMiss, ExportReflectionMiss, ShadowHitGroup, ReflectionHitGroup},
		},
	}
	return desc, nil
}

/**
 * @brief Creates the pipeline for the given settings and destroys the
 * previous one.
 */
func (ps *PipelineSystem) Build(config metadata.RayTracingConfig) (*metadata.RayTracingPipeline, error) {
	if err := config.Validate(); err != nil {
		err = fmt.Errorf("%w: %w", core.ErrPipelineCreation, err)
		core.LogError(err.Error())
		return nil, err
	}
	generation := ps.shaders.Generation()
	desc, err := ps.describe(config)
	if err != nil {
		err = fmt.Errorf("%w: %w", core.ErrPipelineCreation, err)
		core.LogError(err.Error())
		return nil, err
	}
	pipeline, err := ps.backend.PipelineCreate(desc)
	if err != nil {
		return nil, err
	}

	ps.backend.PipelineDestroy(ps.pipeline)
	ps.pipeline = pipeline
	ps.config = config
	ps.shaderGeneration = generation
	ps.builds++
	ps.logger.Info("ray tracing pipeline built", "recursion", config.MaxRecursionDepth,
		"payload", config.MaxPayloadSize, "attributes", config.MaxAttributeSize)
	return pipeline, nil
}

// NeedsRebuild reports whether the pipeline is missing, was built with other
// pipeline settings, or a shader library changed since.
func (ps *PipelineSystem) NeedsRebuild(config metadata.RayTracingConfig) bool {
	return ps.pipeline == nil ||
		ps.config.PipelineChanged(config) ||
		ps.shaderGeneration != ps.shaders.Generation()
}

func (ps *PipelineSystem) Pipeline() *metadata.RayTracingPipeline {
	return ps.pipeline
}

func (ps *PipelineSystem) Builds() uint64 {
	return ps.builds
}
