package metadata

type RendererBackendConfig struct {
	/** @brief The name of the application */
	ApplicationName string
	Width           uint32
	Height          uint32
}

/**
 * @brief Read only counters exposed to debug overlays.
 */
type RendererStats struct {
	FrameNumber         uint64
	InstanceCount       uint32
	ModelCount          uint32
	RayTypeCount        uint32
	BottomLevelBuilds   uint64
	TopLevelBuilds      uint64
	TopLevelRefits      uint64
	ShaderTableBuilds   uint64
	PipelineBuilds      uint64
	ShaderTableSize     uint32
	HitGroupRecordCount uint32
	SecondaryRays       SecondaryRays
}
