package components

import "github.com/spaghettifunk/sonar/engine/core"

const (
	moveSpeed      float32 = 0.2
	turnSpeed      float32 = 2.5
	moveMultiplier float32 = 5.5
	// Pixels of drag per radian of orbit.
	pointerScale float32 = 6000
	// One wheel notch.
	wheelDelta float32 = 120
)

/**
 * @brief Drives a camera from keyboard and mouse input. W/S move forward,
 * A/D sideways, Q/E vertically, I/K pitch and J/L yaw while held. Dragging
 * with the left button orbits and the wheel changes the look distance.
 */
type CameraController struct {
	camera *Camera

	forwardSpeed  float32
	sidewaysSpeed float32
	upwardsSpeed  float32
	pitchSpeed    float32
	yawSpeed      float32

	prevX, prevY int32
	hasPrev      bool
}

func NewCameraController(camera *Camera) *CameraController {
	return &CameraController{camera: camera}
}

func (cc *CameraController) Camera() *Camera {
	return cc.camera
}

func (cc *CameraController) KeyPressed(key core.KeyCode) {
	switch key {
	case core.KEY_W:
		cc.forwardSpeed = moveSpeed
	case core.KEY_S:
		cc.forwardSpeed = -moveSpeed
	case core.KEY_A:
		cc.sidewaysSpeed = -moveSpeed
	case core.KEY_D:
		cc.sidewaysSpeed = moveSpeed
	case core.KEY_Q:
		cc.upwardsSpeed = -moveSpeed
	case core.KEY_E:
		cc.upwardsSpeed = moveSpeed
	case core.KEY_I:
		cc.pitchSpeed = turnSpeed
	case core.KEY_K:
		cc.pitchSpeed = -turnSpeed
	case core.KEY_J:
		cc.yawSpeed = -turnSpeed
	case core.KEY_L:
		cc.yawSpeed = turnSpeed
	}
}

func (cc *CameraController) KeyReleased(key core.KeyCode) {
	switch key {
	case core.KEY_W, core.KEY_S:
		cc.forwardSpeed = 0
	case core.KEY_A, core.KEY_D:
		cc.sidewaysSpeed = 0
	case core.KEY_Q, core.KEY_E:
		cc.upwardsSpeed = 0
	case core.KEY_I, core.KEY_K:
		cc.pitchSpeed = 0
	case core.KEY_J, core.KEY_L:
		cc.yawSpeed = 0
	}
}

// MouseMoved orbits the camera while dragging. The first position seen only
// seeds the pointer state.
func (cc *CameraController) MouseMoved(x, y int32, dragging bool) {
	if !cc.hasPrev {
		cc.prevX, cc.prevY = x, y
		cc.hasPrev = true
		return
	}
	if dragging {
		du := float32(x-cc.prevX) / pointerScale
		dv := float32(y-cc.prevY) / pointerScale
		cc.camera.Orbit(du, dv)
	}
	cc.prevX, cc.prevY = x, y
}

func (cc *CameraController) MouseWheel(delta int32) {
	cc.camera.Zoom(float32(delta) / wheelDelta)
}

/**
 * @brief Applies the held keys for the elapsed time.
 *
 * @return True when the camera matrices changed and must be uploaded.
 */
func (cc *CameraController) Update(elapsed float64) bool {
	dt := float32(elapsed)
	if cc.forwardSpeed != 0 || cc.sidewaysSpeed != 0 || cc.upwardsSpeed != 0 {
		scale := dt * moveMultiplier
		cc.camera.Move(cc.forwardSpeed*scale, cc.sidewaysSpeed*scale, cc.upwardsSpeed*scale)
	}
	if cc.pitchSpeed != 0 || cc.yawSpeed != 0 {
		cc.camera.Orbit(cc.yawSpeed*dt, -cc.pitchSpeed*dt)
	}
	return cc.camera.Dirty()
}
