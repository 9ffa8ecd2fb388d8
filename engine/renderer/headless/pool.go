package headless

import "sync"

type LockGroup string

const (
	BufferManagement       LockGroup = "buffer_management"
	DescriptorManagement   LockGroup = "descriptor_management"
	PipelineManagement     LockGroup = "pipeline_management"
	CommandListManagement  LockGroup = "command_list_management"
	AccelerationManagement LockGroup = "acceleration_management"
)

// LockPool hands out one mutex per resource group.
type LockPool struct {
	locks map[LockGroup]*sync.Mutex
	mu    sync.Mutex // Protects access to the locks map
}

func NewLockPool() *LockPool {
	return &LockPool{
		locks: make(map[LockGroup]*sync.Mutex),
	}
}

func (lp *LockPool) lock(group LockGroup) *sync.Mutex {
	lp.mu.Lock()
	if _, exists := lp.locks[group]; !exists {
		lp.locks[group] = &sync.Mutex{}
	}
	l := lp.locks[group]
	lp.mu.Unlock()

	l.Lock()
	return l
}

func (lp *LockPool) SafeCall(group LockGroup, fn func() error) error {
	l := lp.lock(group)
	defer l.Unlock()

	return fn()
}
