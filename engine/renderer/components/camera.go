package components

import (
	"github.com/chewxy/math32"
	"github.com/spaghettifunk/sonar/engine/math"
)

/** @brief The name of the default camera. */
const DEFAULT_CAMERA_NAME string = "default"

/** @brief Size of the camera constant buffer: view, projection and their inverses. */
const CameraConstantBufferSize = 4 * 64

const (
	minOrbitPolar   float32 = 0.01
	minDistance     float32 = 0.1
	defaultFOV      float32 = 75
	defaultNearClip float32 = 0.1
	defaultFarClip  float32 = 10000
)

/**
 * @brief An orbiting look-at camera. The look direction is given by two
 * angles, U around the up axis and V from it; At sits Distance away from Eye
 * along that direction.
 */
type Camera struct {
	Eye      math.Vec3
	At       math.Vec3
	Up       math.Vec3
	Forward  math.Vec3
	Right    math.Vec3
	WorldUp  math.Vec3
	U        float32
	V        float32
	Distance float32

	/** @brief Vertical field of view in degrees. */
	FOV         float32
	AspectRatio float32
	NearClip    float32
	FarClip     float32

	isViewDirty       bool
	isProjectionDirty bool

	view              math.Mat4
	projection        math.Mat4
	viewInverse       math.Mat4
	projectionInverse math.Mat4
}

type CameraLookup struct {
	ID             uint16
	ReferenceCount uint16
	Camera         *Camera
}

func NewCamera() *Camera {
	camera := &Camera{}
	camera.Reset()
	return camera
}

func (c *Camera) Reset() {
	c.Eye = math.NewVec3(1.5, 1.5, 1.5)
	c.WorldUp = math.NewVec3Up()
	c.U = math32.Pi
	c.V = math32.Pi / 2
	c.Distance = 0.5
	c.FOV = defaultFOV
	c.AspectRatio = 1
	c.NearClip = defaultNearClip
	c.FarClip = defaultFarClip
	c.view = math.NewMat4Identity()
	c.projection = math.NewMat4Identity()
	c.viewInverse = math.NewMat4Identity()
	c.projectionInverse = math.NewMat4Identity()
	c.updateParameters()
}

func (c *Camera) updateParameters() {
	sinV := math.Sin(c.V)
	c.Forward = math.NewVec3(math.Cos(c.U)*sinV, math.Cos(c.V), math.Sin(c.U)*sinV).Normalized()
	c.At = c.Eye.Add(c.Forward.MulScalar(c.Distance))
	c.Right = c.Forward.Cross(c.WorldUp).Normalized()
	c.Up = c.Right.Cross(c.Forward).Normalized()
	c.isViewDirty = true
	c.isProjectionDirty = true
}

// LookAt places the camera at eye looking at target.
func (c *Camera) LookAt(eye, target math.Vec3) {
	dir := target.Sub(eye)
	length := dir.Length()
	if length == 0 {
		return
	}
	dir = dir.MulScalar(1 / length)
	c.Eye = eye
	c.Distance = max(length, minDistance)
	c.V = math.Clamp(math32.Acos(dir.Y), minOrbitPolar, math32.Pi-minOrbitPolar)
	c.U = math32.Atan2(dir.Z, dir.X)
	c.updateParameters()
}

func (c *Camera) SetAspectRatio(aspect float32) {
	if aspect <= 0 {
		return
	}
	c.AspectRatio = aspect
	c.isProjectionDirty = true
}

func (c *Camera) SetFOV(degrees float32) {
	c.FOV = math.Clamp(degrees, 1, 179)
	c.isProjectionDirty = true
}

// Move translates eye and target by the given amounts along the camera axes.
func (c *Camera) Move(forward, sideways, upwards float32) {
	delta := c.Forward.MulScalar(forward).
		Add(c.Right.MulScalar(sideways)).
		Add(c.Up.MulScalar(upwards))
	c.Eye = c.Eye.Add(delta)
	c.At = c.At.Add(delta)
	c.isViewDirty = true
}

// Orbit turns the look direction. The polar angle stays clear of the poles.
func (c *Camera) Orbit(du, dv float32) {
	c.U += du
	c.V = math.Clamp(c.V+dv, minOrbitPolar, math32.Pi-minOrbitPolar)
	c.updateParameters()
}

// Zoom changes the eye to target distance. Changes that would bring it
// below the minimum are ignored.
func (c *Camera) Zoom(delta float32) {
	if c.Distance+delta < minDistance {
		return
	}
	c.Distance += delta
	c.updateParameters()
}

func (c *Camera) Dirty() bool {
	return c.isViewDirty || c.isProjectionDirty
}

func (c *Camera) update() {
	if c.isViewDirty {
		c.view = math.NewMat4LookAt(c.Eye, c.At, c.Up)
		c.viewInverse = c.view.Inverse()
		c.isViewDirty = false
	}
	if c.isProjectionDirty {
		c.projection = math.NewMat4Perspective(math.DegToRad(c.FOV), c.AspectRatio, c.NearClip, c.FarClip)
		c.projectionInverse = c.projection.Inverse()
		c.isProjectionDirty = false
	}
}

func (c *Camera) View() math.Mat4 {
	c.update()
	return c.view
}

func (c *Camera) Projection() math.Mat4 {
	c.update()
	return c.projection
}

/**
 * @brief Writes view, projection, inverse view and inverse projection, 64
 * bytes each, into dst.
 */
func (c *Camera) ConstantBuffer(dst []byte) {
	c.update()
	for i, m := range [4]math.Mat4{c.view, c.projection, c.viewInverse, c.projectionInverse} {
		m.Encode(dst[i*64:])
	}
}
