package headless

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spaghettifunk/sonar/engine/core"
	"github.com/spaghettifunk/sonar/engine/renderer/metadata"
)

type pipelineState struct {
	pipeline *metadata.RayTracingPipeline
	// Export or hit group name keyed by its identifier bytes.
	names     map[string]string
	hitGroups map[string]bool
	exports   map[string]bool
}

const maxAttributeSize = 32

func (b *Backend) PipelineCreate(desc *metadata.RayTracingPipelineDesc) (*metadata.RayTracingPipeline, error) {
	if desc == nil {
		return nil, fmt.Errorf("nil pipeline description: %w", core.ErrPipelineCreation)
	}
	state, err := validatePipeline(desc)
	if err != nil {
		err = fmt.Errorf("pipeline %q: %s: %w", desc.Name, err, core.ErrPipelineCreation)
		core.LogError(err.Error())
		return nil, err
	}

	err = b.locks.SafeCall(PipelineManagement, func() error {
		b.nextPipelineID++
		namespace := uuid.New()
		p := &metadata.RayTracingPipeline{
			ID:           b.nextPipelineID,
			Name:         metadata.NewResourceName("pipeline", desc.Name),
			Desc:         *desc,
			Identifiers:  make(map[string][]byte),
			ParamCounts:  make(map[string]uint32),
			InternalData: state,
		}
		identify := func(name string) {
			id := make([]byte, 0, metadata.ShaderIdentifierSize)
			id = append(id, namespace[:]...)
			sub := uuid.NewSHA1(namespace, []byte(name))
			id = append(id, sub[:]...)
			p.Identifiers[name] = id
			state.names[string(id)] = name
		}
		for name := range state.exports {
			identify(name)
		}
		for name := range state.hitGroups {
			identify(name)
		}
		for _, rs := range desc.RootSignatures {
			for _, assoc := range rs.Associations {
				p.ParamCounts[assoc] = uint32(len(rs.Parameters))
			}
		}
		state.pipeline = p
		b.pipelines[p.ID] = state
		b.stats.PipelinesCreated++
		return nil
	})
	if err != nil {
		return nil, err
	}
	b.logger.Debug("pipeline created", "name", state.pipeline.Name,
		"exports", len(state.exports), "hit_groups", len(state.hitGroups),
		"recursion", desc.MaxRecursionDepth)
	return state.pipeline, nil
}

func validatePipeline(desc *metadata.RayTracingPipelineDesc) (*pipelineState, error) {
	if desc.MaxRecursionDepth == 0 || desc.MaxRecursionDepth > metadata.MaxTraceRecursionDepth {
		return nil, fmt.Errorf("recursion depth %d outside [1, %d]", desc.MaxRecursionDepth, metadata.MaxTraceRecursionDepth)
	}
	if desc.MaxPayloadSize == 0 {
		return nil, fmt.Errorf("payload size must be positive")
	}
	if desc.MaxAttributeSize == 0 || desc.MaxAttributeSize > maxAttributeSize {
		return nil, fmt.Errorf("attribute size %d outside [1, %d]", desc.MaxAttributeSize, maxAttributeSize)
	}
	if len(desc.Libraries) == 0 {
		return nil, fmt.Errorf("no shader libraries")
	}

	state := &pipelineState{
		names:     make(map[string]string),
		hitGroups: make(map[string]bool),
		exports:   make(map[string]bool),
	}
	for _, lib := range desc.Libraries {
		if len(lib.Blob) == 0 {
			return nil, fmt.Errorf("library %q has no bytecode", lib.Name)
		}
		if len(lib.Exports) == 0 {
			return nil, fmt.Errorf("library %q exports nothing", lib.Name)
		}
		for _, e := range lib.Exports {
			if state.exports[e] {
				return nil, fmt.Errorf("export %q declared twice", e)
			}
			state.exports[e] = true
		}
	}
	for _, hg := range desc.HitGroups {
		if hg.Name == "" {
			return nil, fmt.Errorf("unnamed hit group")
		}
		if state.exports[hg.Name] || state.hitGroups[hg.Name] {
			return nil, fmt.Errorf("hit group name %q collides with another symbol", hg.Name)
		}
		if !state.exports[hg.ClosestHit] {
			return nil, fmt.Errorf("hit group %q uses unknown closest hit %q", hg.Name, hg.ClosestHit)
		}
		if hg.AnyHit != "" && !state.exports[hg.AnyHit] {
			return nil, fmt.Errorf("hit group %q uses unknown any hit %q", hg.Name, hg.AnyHit)
		}
		state.hitGroups[hg.Name] = true
	}

	associated := make(map[string]string)
	for _, rs := range desc.RootSignatures {
		for _, assoc := range rs.Associations {
			if !state.exports[assoc] && !state.hitGroups[assoc] {
				return nil, fmt.Errorf("root signature %q is associated with unknown symbol %q", rs.Name, assoc)
			}
			if prev, ok := associated[assoc]; ok {
				return nil, fmt.Errorf("symbol %q is associated with both %q and %q", assoc, prev, rs.Name)
			}
			associated[assoc] = rs.Name
		}
	}
	return state, nil
}

func (b *Backend) PipelineDestroy(pipeline *metadata.RayTracingPipeline) {
	if pipeline == nil {
		return
	}
	_ = b.locks.SafeCall(PipelineManagement, func() error {
		state, ok := b.pipelines[pipeline.ID]
		if !ok {
			return nil
		}
		delete(b.pipelines, pipeline.ID)
		if b.boundPipeline == state {
			b.boundPipeline = nil
		}
		pipeline.InternalData = nil
		return nil
	})
}

// PipelineBind sets the pipeline and descriptor heap used by the following
// DispatchRays calls.
func (b *Backend) PipelineBind(pipeline *metadata.RayTracingPipeline, heap *metadata.DescriptorHeap) error {
	if pipeline == nil || heap == nil {
		return fmt.Errorf("bind needs both a pipeline and a descriptor heap")
	}
	p, ok := b.pipelines[pipeline.ID]
	if !ok || p.pipeline != pipeline {
		return fmt.Errorf("pipeline %q is not alive on this device", pipeline.Name)
	}
	h, ok := b.heaps[heap.ID]
	if !ok || h.heap != heap {
		return fmt.Errorf("descriptor heap %d is not alive on this device", heap.ID)
	}
	return b.record("bind pipeline", func() error {
		b.boundPipeline = p
		b.boundHeap = h
		return nil
	})
}
