package core

import (
	"fmt"
	"sync"
)

// IdentifierPool hands out small integer ids and reuses released slots.
type IdentifierPool struct {
	mu     sync.Mutex
	owners []interface{}
}

func NewIdentifierPool(capacity uint32) *IdentifierPool {
	return &IdentifierPool{
		owners: make([]interface{}, 0, capacity),
	}
}

func (p *IdentifierPool) Acquire(owner interface{}) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.owners {
		// Existing free spot. Take it.
		if p.owners[i] == nil {
			p.owners[i] = owner
			return uint32(i)
		}
	}

	// No free slot, grow by one.
	p.owners = append(p.owners, owner)
	return uint32(len(p.owners) - 1)
}

func (p *IdentifierPool) Release(id uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id >= uint32(len(p.owners)) {
		return fmt.Errorf("identifier release: id '%d' out of range (max=%d). Nothing was done", id, len(p.owners))
	}
	if p.owners[id] == nil {
		return fmt.Errorf("identifier release: id '%d' is not in use", id)
	}
	p.owners[id] = nil
	return nil
}

func (p *IdentifierPool) Owner(id uint32) (interface{}, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id >= uint32(len(p.owners)) || p.owners[id] == nil {
		return nil, false
	}
	return p.owners[id], true
}

// InUse counts the slots currently held.
func (p *IdentifierPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, o := range p.owners {
		if o != nil {
			n++
		}
	}
	return n
}
