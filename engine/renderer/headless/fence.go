package headless

import (
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/sonar/engine/core"
)

// Fence is a monotonically increasing completion counter.
type Fence struct {
	mu        sync.Mutex
	cond      *sync.Cond
	completed uint64
}

func NewFence() *Fence {
	f := &Fence{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *Fence) Signal(value uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if value > f.completed {
		f.completed = value
	}
	f.cond.Broadcast()
}

func (f *Fence) CompletedValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

func (f *Fence) IsSignaled(value uint64) bool {
	return f.CompletedValue() >= value
}

// Wait blocks until value has been reached or the timeout expires.
func (f *Fence) Wait(value uint64, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		f.mu.Lock()
		f.cond.Broadcast()
		f.mu.Unlock()
	})
	defer timer.Stop()

	f.mu.Lock()
	defer f.mu.Unlock()
	for f.completed < value {
		if !time.Now().Before(deadline) {
			err := fmt.Errorf("fence wait for value %d timed out at %d", value, f.completed)
			core.LogWarn(err.Error())
			return err
		}
		f.cond.Wait()
	}
	return nil
}
