package systems

import (
	"testing"

	"github.com/spaghettifunk/sonar/engine/core"
	"github.com/spaghettifunk/sonar/engine/renderer/components"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCameraSystemUploadsOnInitialize(t *testing.T) {
	b := newTestBackend(t)
	cs, err := NewCameraSystem(&CameraSystemConfig{MaxCameraCount: 1}, b)
	require.NoError(t, err)
	assert.ErrorIs(t, cs.Update(0), core.ErrNotInitialized)

	require.NoError(t, cs.Initialize())
	require.NotNil(t, cs.Buffer())
	data, err := b.ReadBuffer(cs.Buffer())
	require.NoError(t, err)

	want := make([]byte, components.CameraConstantBufferSize)
	cs.GetDefault().ConstantBuffer(want)
	assert.Equal(t, want, data[:components.CameraConstantBufferSize])

	require.NoError(t, cs.Shutdown())
	assert.Nil(t, cs.Buffer())
}

func TestCameraSystemFollowsInput(t *testing.T) {
	b := newTestBackend(t)
	cs, err := NewCameraSystem(&CameraSystemConfig{MaxCameraCount: 1}, b)
	require.NoError(t, err)
	require.NoError(t, cs.Initialize())

	bus := core.NewEventBus()
	in := core.NewInput(bus)
	cs.RegisterEvents(bus)

	in.ProcessKey(core.KEY_W, true)
	require.NoError(t, cs.Update(1))
	cam := cs.GetDefault()
	assert.InDelta(t, 0.4, cam.Eye.X, 1e-4)

	data, err := b.ReadBuffer(cs.Buffer())
	require.NoError(t, err)
	want := make([]byte, components.CameraConstantBufferSize)
	cam.ConstantBuffer(want)
	assert.Equal(t, want, data[:components.CameraConstantBufferSize])

	in.ProcessKey(core.KEY_W, false)
	require.NoError(t, cs.Update(1))
	assert.InDelta(t, 0.4, cam.Eye.X, 1e-4)

	u := cam.U
	in.ProcessMouseMove(100, 0)
	in.ProcessButton(core.BUTTON_LEFT, true)
	in.ProcessMouseMove(700, 0)
	assert.InDelta(t, u+0.1, cam.U, 1e-4)

	in.ProcessButton(core.BUTTON_LEFT, false)
	in.ProcessMouseMove(1300, 0)
	assert.InDelta(t, u+0.1, cam.U, 1e-4, "released button stops the orbit")

	bus.Fire(core.EventContext{Type: core.EVENT_CODE_RESIZED, Data: &core.ResizeEvent{Width: 16, Height: 8}})
	assert.Equal(t, float32(2), cam.AspectRatio)

	require.NoError(t, cs.Shutdown())
	in.ProcessKey(core.KEY_S, true)
	cs.Controller().Update(1)
	require.NoError(t, bus.Shutdown())
	assert.InDelta(t, 0.4, cam.Eye.X, 1e-4)
}

func TestCameraAcquireRelease(t *testing.T) {
	cs, err := NewCameraSystem(&CameraSystemConfig{MaxCameraCount: 1}, newTestBackend(t))
	require.NoError(t, err)

	def, err := cs.Acquire(components.DEFAULT_CAMERA_NAME)
	require.NoError(t, err)
	assert.Same(t, cs.GetDefault(), def)

	side, err := cs.Acquire("side")
	require.NoError(t, err)
	again, err := cs.Acquire("side")
	require.NoError(t, err)
	assert.Same(t, side, again)

	_, err = cs.Acquire("top")
	assert.Error(t, err)

	cs.Release("side")
	cs.Release("side")
	_, err = cs.Acquire("top")
	assert.NoError(t, err)
}
