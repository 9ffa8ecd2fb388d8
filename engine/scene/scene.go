package scene

import (
	"fmt"

	"github.com/spaghettifunk/sonar/engine/core"
	"github.com/spaghettifunk/sonar/engine/math"
	"github.com/spaghettifunk/sonar/engine/renderer/metadata"
)

type ReflectorConfig struct {
	Name         string
	Transform    Handle
	Surface      SurfaceKind
	Model        metadata.ModelIndex
	Texture      metadata.TextureHandle
	Albedo       math.Vec4
	Reflectivity float32
}

// Binding is everything about an instance that ends up in its hit group
// records. Transforms are deliberately not part of it.
type Binding struct {
	Model   metadata.ModelIndex
	Surface SurfaceKind
	Texture metadata.TextureHandle
}

// Instance is a reflector as seen by one frame. Its position in
// Frame.Instances is its TLAS instance index and its hit group slot.
type Instance struct {
	Name         string
	Model        metadata.ModelIndex
	Surface      SurfaceKind
	Texture      metadata.TextureHandle
	Albedo       math.Vec4
	Reflectivity float32
	World        math.Mat4
	Changed      bool
}

func (i Instance) Binding() Binding {
	return Binding{Model: i.Model, Surface: i.Surface, Texture: i.Texture}
}

type Emitter struct {
	Name          string
	World         math.Mat4
	RayProjection math.Mat4
	Changed       bool
}

type Listener struct {
	Name    string
	World   math.Mat4
	Changed bool
}

// Frame is the result of a single pass over the scene objects.
type Frame struct {
	Instances []Instance
	Sources   []Emitter
	Receivers []Listener
}

// AnyChanged reports whether any collected transform changed.
func (f *Frame) AnyChanged() bool {
	for _, i := range f.Instances {
		if i.Changed {
			return true
		}
	}
	for _, e := range f.Sources {
		if e.Changed {
			return true
		}
	}
	for _, l := range f.Receivers {
		if l.Changed {
			return true
		}
	}
	return false
}

// Scene is the ordered list of objects placed in a transform graph. The
// order objects are added in is the order of TLAS instances and SBT records.
type Scene struct {
	graph   *Graph
	objects []Object
	byName  map[string]Object
	frozen  bool
}

func NewScene(graph *Graph) *Scene {
	return &Scene{
		graph:  graph,
		byName: make(map[string]Object),
	}
}

func (s *Scene) Graph() *Graph {
	return s.graph
}

func (s *Scene) add(o Object) error {
	if s.frozen {
		err := fmt.Errorf("cannot add %q: %w", o.Name(), core.ErrSceneFrozen)
		core.LogError(err.Error())
		return err
	}
	if _, ok := s.byName[o.Name()]; ok && o.Name() != "" {
		err := fmt.Errorf("cannot add %q: %w", o.Name(), core.ErrDuplicateObject)
		core.LogError(err.Error())
		return err
	}
	s.graph.get(o.Transform())
	s.objects = append(s.objects, o)
	if o.Name() != "" {
		s.byName[o.Name()] = o
	}
	return nil
}

func (s *Scene) AddReflector(config ReflectorConfig) (*Reflector, error) {
	r := &Reflector{
		object:       object{name: config.Name, transform: config.Transform},
		Surface:      config.Surface,
		Model:        config.Model,
		Texture:      config.Texture,
		Albedo:       config.Albedo,
		Reflectivity: config.Reflectivity,
	}
	if err := s.add(r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Scene) AddSoundSource(name string, transform Handle, rayProjection math.Mat4) (*SoundSource, error) {
	src := &SoundSource{
		object:        object{name: name, transform: transform},
		RayProjection: rayProjection,
	}
	if err := s.add(src); err != nil {
		return nil, err
	}
	return src, nil
}

func (s *Scene) AddSoundReceiver(name string, transform Handle) (*SoundReceiver, error) {
	rcv := &SoundReceiver{
		object: object{name: name, transform: transform},
	}
	if err := s.add(rcv); err != nil {
		return nil, err
	}
	return rcv, nil
}

// Freeze rejects further additions. Transforms and reflector bindings stay
// mutable.
func (s *Scene) Freeze() {
	s.frozen = true
}

func (s *Scene) Frozen() bool {
	return s.frozen
}

func (s *Scene) Objects() []Object {
	out := make([]Object, len(s.objects))
	copy(out, s.objects)
	return out
}

func (s *Scene) Find(name string) (Object, bool) {
	o, ok := s.byName[name]
	return o, ok
}

// Collect walks the objects once and produces everything the frame needs:
// the ordered instance list shared by the TLAS and the SBT, plus the sound
// sources and receivers.
func (s *Scene) Collect() Frame {
	var f Frame
	for _, o := range s.objects {
		h := o.Transform()
		switch obj := o.(type) {
		case *Reflector:
			f.Instances = append(f.Instances, Instance{
				Name:         obj.name,
				Model:        obj.Model,
				Surface:      obj.Surface,
				Texture:      obj.Texture,
				Albedo:       obj.Albedo,
				Reflectivity: obj.Reflectivity,
				World:        s.graph.LocalToWorld(h),
				Changed:      s.graph.Changed(h),
			})
		case *SoundSource:
			f.Sources = append(f.Sources, Emitter{
				Name:          obj.name,
				World:         s.graph.LocalToWorld(h),
				RayProjection: obj.RayProjection,
				Changed:       s.graph.Changed(h),
			})
		case *SoundReceiver:
			f.Receivers = append(f.Receivers, Listener{
				Name:    obj.name,
				World:   s.graph.LocalToWorld(h),
				Changed: s.graph.Changed(h),
			})
		}
	}
	return f
}
