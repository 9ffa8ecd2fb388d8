package metadata

type GPUAddressRange struct {
	StartAddress GPUVirtualAddress
	SizeInBytes  uint64
}

type GPUAddressRangeAndStride struct {
	StartAddress  GPUVirtualAddress
	SizeInBytes   uint64
	StrideInBytes uint64
}

type DispatchRaysDesc struct {
	RayGenerationShaderRecord GPUAddressRange
	MissShaderTable           GPUAddressRangeAndStride
	HitGroupTable             GPUAddressRangeAndStride
	Width                     uint32
	Height                    uint32
	Depth                     uint32
	/**
	 * @brief Multiplier and offset base the shaders pass to TraceRay. The
	 * record of ray type r for instance i lives at contribution(i) + r.
	 */
	RayTypeCount uint32
}
