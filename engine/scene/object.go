package scene

import (
	"github.com/spaghettifunk/sonar/engine/math"
	"github.com/spaghettifunk/sonar/engine/renderer/metadata"
)

// SurfaceKind selects the hit group a reflector is shaded with.
type SurfaceKind uint32

const (
	// SurfaceSolid is a closed mesh hit from any side.
	SurfaceSolid SurfaceKind = iota
	// SurfaceBoundary is an open surface such as the sea floor or a wall.
	SurfaceBoundary
)

func (s SurfaceKind) String() string {
	switch s {
	case SurfaceSolid:
		return "solid"
	case SurfaceBoundary:
		return "boundary"
	default:
		return "unknown"
	}
}

// Object is one of *Reflector, *SoundSource or *SoundReceiver.
type Object interface {
	Name() string
	Transform() Handle
	sealed()
}

type object struct {
	name      string
	transform Handle
}

func (o *object) Name() string      { return o.name }
func (o *object) Transform() Handle { return o.transform }
func (o *object) sealed()           {}

// Reflector is geometry that sound bounces off. It becomes one TLAS instance.
type Reflector struct {
	object
	Surface      SurfaceKind
	Model        metadata.ModelIndex
	Texture      metadata.TextureHandle
	Albedo       math.Vec4
	Reflectivity float32
}

// SoundSource emits rays through its projection frustum.
type SoundSource struct {
	object
	RayProjection math.Mat4
}

type SoundReceiver struct {
	object
}
