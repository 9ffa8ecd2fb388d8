package renderer

import "github.com/spaghettifunk/sonar/engine/renderer/metadata"

// RendererBackend is the device and command list collaborator. Commands are
// recorded between CommandListReset and CommandListClose and run on
// ExecuteCommandList; WaitForGPU blocks until they have completed.
type RendererBackend interface {
	Initialize(config metadata.RendererBackendConfig) error
	Shutdown() error
	Resized(width, height uint32) error
	BeginFrame(deltaTime float64) error
	EndFrame(deltaTime float64) error

	BufferCreate(desc metadata.BufferDesc) (*metadata.Buffer, error)
	BufferDestroy(buffer *metadata.Buffer)
	// BufferMap returns the CPU view of an upload heap buffer.
	BufferMap(buffer *metadata.Buffer) ([]byte, error)
	BufferUnmap(buffer *metadata.Buffer)

	DescriptorHeapCreate(count uint32) (*metadata.DescriptorHeap, error)
	DescriptorHeapDestroy(heap *metadata.DescriptorHeap)
	DescriptorWrite(heap *metadata.DescriptorHeap, slot uint32, descriptor metadata.Descriptor) error

	AccelerationStructurePrebuildInfo(inputs *metadata.AccelerationStructureInputs) (metadata.PrebuildInfo, error)
	AccelerationStructureBuild(desc *metadata.AccelerationStructureBuildDesc) error
	ResourceBarrierUAV(buffer *metadata.Buffer) error

	PipelineCreate(desc *metadata.RayTracingPipelineDesc) (*metadata.RayTracingPipeline, error)
	PipelineDestroy(pipeline *metadata.RayTracingPipeline)
	PipelineBind(pipeline *metadata.RayTracingPipeline, heap *metadata.DescriptorHeap) error
	DispatchRays(desc *metadata.DispatchRaysDesc) error

	CommandListReset() error
	CommandListClose() error
	ExecuteCommandList() error
	WaitForGPU() error
}
