package metadata

import "fmt"

/** @brief Which secondary ray type, if any, the closest hit shaders trace. */
type SecondaryRays string

const (
	SECONDARY_RAYS_NONE       SecondaryRays = "none"
	SECONDARY_RAYS_SHADOW     SecondaryRays = "shadow"
	SECONDARY_RAYS_REFLECTION SecondaryRays = "reflection"
)

/** @brief D3D12 caps the trace recursion depth at 31. */
const MaxTraceRecursionDepth uint32 = 31

type RayTracingConfig struct {
	MaxRecursionDepth uint32        `toml:"max_recursion_depth"`
	MaxPayloadSize    uint32        `toml:"max_payload_size"`
	MaxAttributeSize  uint32        `toml:"max_attribute_size"`
	SecondaryRays     SecondaryRays `toml:"secondary_rays"`
	Animate           bool          `toml:"animate"`
}

// DefaultRayTracingConfig traces primary rays only with a payload of four
// floats and barycentric attributes.
func DefaultRayTracingConfig() RayTracingConfig {
	return RayTracingConfig{
		MaxRecursionDepth: 1,
		MaxPayloadSize:    4 * 4,
		MaxAttributeSize:  2 * 4,
		SecondaryRays:     SECONDARY_RAYS_NONE,
		Animate:           true,
	}
}

func (c RayTracingConfig) Validate() error {
	if c.MaxRecursionDepth == 0 || c.MaxRecursionDepth > MaxTraceRecursionDepth {
		return fmt.Errorf("max_recursion_depth must be in [1, %d], got %d", MaxTraceRecursionDepth, c.MaxRecursionDepth)
	}
	if c.MaxPayloadSize == 0 {
		return fmt.Errorf("max_payload_size must be positive")
	}
	if c.MaxAttributeSize == 0 {
		return fmt.Errorf("max_attribute_size must be positive")
	}
	switch c.SecondaryRays {
	case SECONDARY_RAYS_NONE, SECONDARY_RAYS_SHADOW, SECONDARY_RAYS_REFLECTION:
	default:
		return fmt.Errorf("unknown secondary_rays %q", c.SecondaryRays)
	}
	if c.SecondaryRays != SECONDARY_RAYS_NONE && c.MaxRecursionDepth < 2 {
		return fmt.Errorf("secondary_rays %q needs max_recursion_depth >= 2", c.SecondaryRays)
	}
	return nil
}

// RayTypeCount is the number of hit group records every instance owns: the
// primary ray plus the secondary ray type when one is enabled.
func (c RayTracingConfig) RayTypeCount() uint32 {
	if c.SecondaryRays == SECONDARY_RAYS_NONE || c.SecondaryRays == "" {
		return 1
	}
	return 2
}

// PipelineChanged reports whether moving from c to other requires creating
// a new pipeline state object.
func (c RayTracingConfig) PipelineChanged(other RayTracingConfig) bool {
	return c.MaxRecursionDepth != other.MaxRecursionDepth ||
		c.MaxPayloadSize != other.MaxPayloadSize ||
		c.MaxAttributeSize != other.MaxAttributeSize
}
