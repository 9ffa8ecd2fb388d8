package core

import (
	"errors"
)

var (
	ErrBufferAllocation      = errors.New("gpu buffer allocation failed")
	ErrBufferMap             = errors.New("gpu buffer cannot be mapped")
	ErrPrebuildInfo          = errors.New("acceleration structure prebuild info unavailable")
	ErrUnknownShader         = errors.New("unknown shader export")
	ErrInvalidShaderTable    = errors.New("invalid shader binding table")
	ErrInstanceCountMismatch = errors.New("instance and hit group record counts disagree")
	ErrRefitBeforeBuild      = errors.New("top level refit requested before a full build")
	ErrInvalidModel          = errors.New("invalid model index")
	ErrInvalidTexture        = errors.New("invalid texture handle")
	ErrSceneFrozen           = errors.New("scene is frozen after the first acceleration structure build")
	ErrDuplicateObject       = errors.New("scene object name already in use")
	ErrPipelineCreation      = errors.New("ray tracing pipeline creation failed")
	ErrCommandList           = errors.New("command list in invalid state")
	ErrDispatch              = errors.New("dispatch rays failed")
	ErrNotInitialized        = errors.New("system not initialized")
	ErrUnknown               = errors.New("unknown")
)
