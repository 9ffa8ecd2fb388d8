package renderer

import (
	"fmt"

	"github.com/spaghettifunk/sonar/engine/renderer/headless"
)

type RendererType string

const (
	Headless RendererType = "headless"
	DirectX  RendererType = "directx"
	Vulkan   RendererType = "vulkan"
)

var _ RendererBackend = (*headless.Backend)(nil)

// NewBackend creates the device backend for the given type.
func NewBackend(t RendererType, options ...headless.Option) (RendererBackend, error) {
	switch t {
	case Headless, "":
		return headless.New(options...), nil
	default:
		return nil, fmt.Errorf("renderer backend %q is not available in this build", t)
	}
}
