package scene

import (
	"fmt"

	"github.com/spaghettifunk/sonar/engine/math"
)

// Handle addresses a transform node inside a Graph.
type Handle int32

const InvalidHandle Handle = -1

type GraphConfig struct {
	// InitialCapacity preallocates the node arena.
	InitialCapacity uint32
	// DebugChecks validates the whole graph after every structural mutation.
	DebugChecks bool
}

type node struct {
	alive     bool
	transform math.Transform
	changed   bool

	parent    Handle
	lastChild Handle
	prev      Handle
	next      Handle
}

// Graph is an arena of transform nodes linked into a hierarchy. Siblings
// form an intrusive doubly linked list and each parent tracks only its most
// recently added child, so reparenting is O(1).
//
// Handles are only valid for the Graph that created them. Passing a destroyed
// or foreign handle is a programming error and panics.
type Graph struct {
	config GraphConfig
	nodes  []node
	free   []Handle
}

func NewGraph(config GraphConfig) *Graph {
	return &Graph{
		config: config,
		nodes:  make([]node, 0, config.InitialCapacity),
	}
}

// Create adds a standalone root node.
func (g *Graph) Create(t math.Transform) Handle {
	n := node{
		alive:     true,
		transform: t,
		changed:   true,
		parent:    InvalidHandle,
		lastChild: InvalidHandle,
		prev:      InvalidHandle,
		next:      InvalidHandle,
	}
	if len(g.free) > 0 {
		h := g.free[len(g.free)-1]
		g.free = g.free[:len(g.free)-1]
		g.nodes[h] = n
		return h
	}
	g.nodes = append(g.nodes, n)
	return Handle(len(g.nodes) - 1)
}

// Destroy detaches every child of h (they become roots) and then unlinks h.
func (g *Graph) Destroy(h Handle) {
	n := g.get(h)
	for n.lastChild != InvalidHandle {
		g.unlink(n.lastChild)
	}
	g.unlink(h)
	g.nodes[h] = node{}
	g.free = append(g.free, h)
	g.debugValidate()
}

// SetParent moves h under parent. When before is valid, h is inserted just
// before that sibling, otherwise it is appended as the last child. Passing
// InvalidHandle as parent makes h a root.
func (g *Graph) SetParent(h, parent, before Handle) {
	g.get(h)
	if parent != InvalidHandle {
		g.get(parent)
		for a := parent; a != InvalidHandle; a = g.nodes[a].parent {
			if a == h {
				panic(fmt.Sprintf("scene: parenting node %d under %d would create a cycle", h, parent))
			}
		}
	}
	if before != InvalidHandle {
		if before == h {
			panic(fmt.Sprintf("scene: node %d cannot be inserted before itself", h))
		}
		if g.get(before).parent != parent {
			panic(fmt.Sprintf("scene: sibling %d is not a child of %d", before, parent))
		}
	}

	g.unlink(h)
	if parent != InvalidHandle {
		g.link(h, parent, before)
	}
	g.nodes[h].changed = true
	g.debugValidate()
}

func (g *Graph) unlink(h Handle) {
	n := &g.nodes[h]
	if n.parent == InvalidHandle {
		return
	}
	p := &g.nodes[n.parent]
	if n.prev != InvalidHandle {
		g.nodes[n.prev].next = n.next
	}
	if n.next != InvalidHandle {
		g.nodes[n.next].prev = n.prev
	} else {
		p.lastChild = n.prev
	}
	n.parent = InvalidHandle
	n.prev = InvalidHandle
	n.next = InvalidHandle
	n.changed = true
}

func (g *Graph) link(h, parent, before Handle) {
	n := &g.nodes[h]
	p := &g.nodes[parent]
	n.parent = parent
	if before == InvalidHandle {
		n.prev = p.lastChild
		n.next = InvalidHandle
		if p.lastChild != InvalidHandle {
			g.nodes[p.lastChild].next = h
		}
		p.lastChild = h
		return
	}
	b := &g.nodes[before]
	n.prev = b.prev
	n.next = before
	if b.prev != InvalidHandle {
		g.nodes[b.prev].next = h
	}
	b.prev = h
}

func (g *Graph) get(h Handle) *node {
	if h < 0 || int(h) >= len(g.nodes) || !g.nodes[h].alive {
		panic(fmt.Sprintf("scene: invalid transform handle %d", h))
	}
	return &g.nodes[h]
}

func (g *Graph) Transform(h Handle) math.Transform {
	return g.get(h).transform
}

func (g *Graph) SetTransform(h Handle, t math.Transform) {
	n := g.get(h)
	n.transform = t
	n.changed = true
}

func (g *Graph) SetPosition(h Handle, position math.Vec3) {
	n := g.get(h)
	n.transform.Position = position
	n.changed = true
}

func (g *Graph) Translate(h Handle, translation math.Vec3) {
	n := g.get(h)
	n.transform.Position = n.transform.Position.Add(translation)
	n.changed = true
}

func (g *Graph) SetRotation(h Handle, rotation math.Quaternion) {
	n := g.get(h)
	n.transform.Rotation = rotation
	n.changed = true
}

func (g *Graph) Rotate(h Handle, rotation math.Quaternion) {
	n := g.get(h)
	n.transform.Rotation = n.transform.Rotation.Mul(rotation)
	n.changed = true
}

func (g *Graph) SetScale(h Handle, scale math.Vec3) {
	n := g.get(h)
	n.transform.Scale = scale
	n.changed = true
}

func (g *Graph) Parent(h Handle) Handle {
	return g.get(h).parent
}

func (g *Graph) LastChild(h Handle) Handle {
	return g.get(h).lastChild
}

func (g *Graph) PrevSibling(h Handle) Handle {
	return g.get(h).prev
}

func (g *Graph) NextSibling(h Handle) Handle {
	return g.get(h).next
}

// Children returns the children of h in sibling order.
func (g *Graph) Children(h Handle) []Handle {
	c := g.get(h).lastChild
	if c == InvalidHandle {
		return nil
	}
	for g.nodes[c].prev != InvalidHandle {
		c = g.nodes[c].prev
	}
	var out []Handle
	for ; c != InvalidHandle; c = g.nodes[c].next {
		out = append(out, c)
	}
	return out
}

func (g *Graph) LocalToParent(h Handle) math.Mat4 {
	return g.get(h).transform.LocalToParent()
}

func (g *Graph) ParentToLocal(h Handle) math.Mat4 {
	return g.get(h).transform.ParentToLocal()
}

// LocalToWorld composes the local matrices up to the root. It is recomputed
// on every call.
func (g *Graph) LocalToWorld(h Handle) math.Mat4 {
	n := g.get(h)
	local := n.transform.LocalToParent()
	if n.parent == InvalidHandle {
		return local
	}
	return local.Mul(g.LocalToWorld(n.parent))
}

func (g *Graph) WorldToLocal(h Handle) math.Mat4 {
	n := g.get(h)
	inv := n.transform.ParentToLocal()
	if n.parent == InvalidHandle {
		return inv
	}
	return g.WorldToLocal(n.parent).Mul(inv)
}

// Changed reports whether h or any of its ancestors was mutated since the
// last ClearChanged.
func (g *Graph) Changed(h Handle) bool {
	for a := h; a != InvalidHandle; a = g.get(a).parent {
		if g.nodes[a].changed {
			return true
		}
	}
	return false
}

func (g *Graph) ClearChanged() {
	for i := range g.nodes {
		g.nodes[i].changed = false
	}
}

// Len is the number of live nodes.
func (g *Graph) Len() int {
	return len(g.nodes) - len(g.free)
}

// Validate checks the sibling list and parent pointers of every live node.
func (g *Graph) Validate() error {
	for i := range g.nodes {
		n := &g.nodes[i]
		if !n.alive {
			continue
		}
		h := Handle(i)
		if n.parent == InvalidHandle {
			if n.prev != InvalidHandle || n.next != InvalidHandle {
				return fmt.Errorf("node %d: root has siblings (prev=%d next=%d)", h, n.prev, n.next)
			}
		} else {
			p := &g.nodes[n.parent]
			if !p.alive {
				return fmt.Errorf("node %d: parent %d is not alive", h, n.parent)
			}
			if (n.next == InvalidHandle) != (p.lastChild == h) {
				return fmt.Errorf("node %d: next=%d but parent %d lastChild=%d", h, n.next, n.parent, p.lastChild)
			}
		}
		if n.prev != InvalidHandle && g.nodes[n.prev].next != h {
			return fmt.Errorf("node %d: prev %d does not point back", h, n.prev)
		}
		if n.next != InvalidHandle && g.nodes[n.next].prev != h {
			return fmt.Errorf("node %d: next %d does not point back", h, n.next)
		}
		if n.lastChild != InvalidHandle && g.nodes[n.lastChild].parent != h {
			return fmt.Errorf("node %d: lastChild %d has parent %d", h, n.lastChild, g.nodes[n.lastChild].parent)
		}
	}
	return nil
}

func (g *Graph) debugValidate() {
	if !g.config.DebugChecks {
		return
	}
	if err := g.Validate(); err != nil {
		panic(fmt.Sprintf("scene: graph invariant violated: %v", err))
	}
}
