package headless

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spaghettifunk/sonar/engine/core"
	"github.com/spaghettifunk/sonar/engine/renderer/metadata"
)

const (
	bufferAddressBase     uint64 = 0x0001_0000
	descriptorAddressBase uint64 = 0x7F00_0000_0000
	descriptorIncrement   uint32 = 32
	defaultFenceTimeout          = 5 * time.Second
)

// Stats counts the work the device has executed. Tests use it to observe
// how often structures were built.
type Stats struct {
	BufferAllocations  uint64
	LiveBuffers        uint32
	AllocatedBytes     uint64
	BottomLevelBuilds  uint64
	TopLevelBuilds     uint64
	TopLevelUpdates    uint64
	BottomLevelUpdates uint64
	Barriers           uint64
	Dispatches         uint64
	Submissions        uint64
	Presents           uint64
	PipelinesCreated   uint64
}

type Option func(*Backend)

// WithMemoryBudget makes buffer creation fail once the given number of bytes
// is allocated.
func WithMemoryBudget(bytes uint64) Option {
	return func(b *Backend) {
		b.memoryBudget = bytes
	}
}

func WithFenceTimeout(timeout time.Duration) Option {
	return func(b *Backend) {
		b.fenceTimeout = timeout
	}
}

// Backend is an in-memory ray tracing device. Buffers are byte slices with
// virtual addresses, acceleration structure builds validate their inputs and
// record the instances they contain, and DispatchRays resolves every
// instance through the bound shader binding table.
type Backend struct {
	logger *log.Logger
	locks  *LockPool
	ids    *core.IdentifierPool

	memoryBudget uint64
	fenceTimeout time.Duration

	buffers     map[uint32]*bufferState
	nextAddress uint64

	accel map[metadata.GPUVirtualAddress]*accelerationStructure

	heaps           map[uint32]*heapState
	nextHeapID      uint32
	nextHeapAddress uint64

	pipelines      map[uint32]*pipelineState
	nextPipelineID uint32
	boundPipeline  *pipelineState
	boundHeap      *heapState

	commandList *CommandList
	fence       *Fence
	fenceValue  uint64

	width       uint32
	height      uint32
	frameNumber uint64
	initialized bool

	stats        Stats
	lastDispatch *DispatchReport
}

func New(options ...Option) *Backend {
	b := &Backend{
		logger:          core.LogWith("backend", "headless"),
		locks:           NewLockPool(),
		ids:             core.NewIdentifierPool(256),
		fenceTimeout:    defaultFenceTimeout,
		buffers:         make(map[uint32]*bufferState),
		nextAddress:     bufferAddressBase,
		accel:           make(map[metadata.GPUVirtualAddress]*accelerationStructure),
		heaps:           make(map[uint32]*heapState),
		nextHeapAddress: descriptorAddressBase,
		pipelines:       make(map[uint32]*pipelineState),
		commandList:     NewCommandList(),
		fence:           NewFence(),
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

func (b *Backend) Initialize(config metadata.RendererBackendConfig) error {
	if config.Width == 0 || config.Height == 0 {
		err := fmt.Errorf("headless backend needs a non-zero output size, got %dx%d", config.Width, config.Height)
		core.LogError(err.Error())
		return err
	}
	b.width = config.Width
	b.height = config.Height
	b.initialized = true
	b.logger.Info("device created", "application", config.ApplicationName, "width", b.width, "height", b.height)
	return nil
}

func (b *Backend) Shutdown() error {
	if !b.initialized {
		return nil
	}
	if b.commandList.State == COMMAND_LIST_STATE_SUBMITTED {
		if err := b.WaitForGPU(); err != nil {
			return err
		}
	}
	if len(b.buffers) > 0 {
		b.logger.Warn("buffers still alive at shutdown", "count", len(b.buffers))
	}
	b.buffers = make(map[uint32]*bufferState)
	b.accel = make(map[metadata.GPUVirtualAddress]*accelerationStructure)
	b.heaps = make(map[uint32]*heapState)
	b.pipelines = make(map[uint32]*pipelineState)
	b.boundPipeline = nil
	b.boundHeap = nil
	b.initialized = false
	b.logger.Info("device destroyed")
	return nil
}

func (b *Backend) Resized(width, height uint32) error {
	if width == 0 || height == 0 {
		b.logger.Debug("ignoring zero sized resize", "width", width, "height", height)
		return nil
	}
	b.width = width
	b.height = height
	return nil
}

func (b *Backend) BeginFrame(deltaTime float64) error {
	return b.CommandListReset()
}

// EndFrame closes and executes the frame's commands, presents, and waits
// for the GPU so the next frame can safely rewrite upload buffers.
func (b *Backend) EndFrame(deltaTime float64) error {
	if err := b.CommandListClose(); err != nil {
		return err
	}
	if err := b.ExecuteCommandList(); err != nil {
		return err
	}
	b.frameNumber++
	b.stats.Presents++
	return b.WaitForGPU()
}

func (b *Backend) CommandListReset() error {
	return b.locks.SafeCall(CommandListManagement, func() error {
		if b.commandList.State == COMMAND_LIST_STATE_SUBMITTED && !b.fence.IsSignaled(b.commandList.submittedValue) {
			err := fmt.Errorf("command list reset while the GPU is still executing it: %w", core.ErrCommandList)
			core.LogError(err.Error())
			return err
		}
		return b.commandList.Begin()
	})
}

func (b *Backend) CommandListClose() error {
	return b.locks.SafeCall(CommandListManagement, func() error {
		return b.commandList.End()
	})
}

func (b *Backend) ExecuteCommandList() error {
	return b.locks.SafeCall(CommandListManagement, func() error {
		b.fenceValue++
		value := b.fenceValue
		err := b.commandList.Submit(value)
		b.stats.Submissions++
		// Signal even on failure so waiters are released.
		b.fence.Signal(value)
		if err != nil {
			core.LogError("command list execution failed: %s", err)
			return err
		}
		return nil
	})
}

func (b *Backend) WaitForGPU() error {
	return b.fence.Wait(b.fenceValue, b.fenceTimeout)
}

func (b *Backend) record(name string, run func() error) error {
	return b.locks.SafeCall(CommandListManagement, func() error {
		return b.commandList.Record(name, run)
	})
}

func (b *Backend) Stats() Stats {
	s := b.stats
	s.LiveBuffers = uint32(len(b.buffers))
	return s
}

func (b *Backend) FrameNumber() uint64 {
	return b.frameNumber
}

func (b *Backend) OutputSize() (uint32, uint32) {
	return b.width, b.height
}

// LastDispatch is the resolution of the most recently executed DispatchRays.
func (b *Backend) LastDispatch() *DispatchReport {
	return b.lastDispatch
}
