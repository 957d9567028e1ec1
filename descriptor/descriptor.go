// Package descriptor turns a list of binding declarations into a descriptor
// set layout, a pool and one descriptor set per frame in flight.
package descriptor

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/renderer/driver"
	"github.com/vkngwrapper/renderer/internal/logger"
	"github.com/vkngwrapper/renderer/layout"
	"github.com/vkngwrapper/renderer/resource"
)

// Payload is the resource a binding refers to: Buffers, Images, Accels or
// Uniform.
//
// A payload with as many values as the binding has array elements is shared
// by every frame. A payload with that many values per frame gives each frame
// its own resources, frame i using the i-th group.
type Payload interface {
	len() int
}

type Buffers []driver.DescBufferInfo

type Images []driver.DescImageInfo

type Accels []driver.Accel

// Uniform asks the set to allocate its own uniform buffers, one per array
// element and frame. Size may be left zero when Layout is given.
type Uniform struct {
	Size    int64
	Layout  *layout.Struct
	Visible bool
}

func (p Buffers) len() int { return len(p) }
func (p Images) len() int  { return len(p) }
func (p Accels) len() int  { return len(p) }
func (p Uniform) len() int { return 0 }

// Binding declares one binding of the set. Its binding number is its index
// in the declaration list. Payload may be nil when the resources are only
// known later, see Set.Update.
type Binding struct {
	Type    driver.DescType
	Count   int
	Stages  driver.ShaderStage
	Payload Payload
}

type Set struct {
	gpu      driver.GPU
	frames   int
	bindings []Binding
	layout   driver.DescLayout
	pool     driver.DescPool
	sets     []driver.DescSet
	// uniforms is indexed by frame, then binding, then array element.
	uniforms []map[int][]*resource.UniformBuffer
}

// PoolSizes sums the descriptors of every binding across all frames.
func PoolSizes(frames int, bindings []Binding) []driver.DescPoolSize {
	var sizes []driver.DescPoolSize
	index := make(map[driver.DescType]int)
	for _, b := range bindings {
		i, ok := index[b.Type]
		if !ok {
			i = len(sizes)
			index[b.Type] = i
			sizes = append(sizes, driver.DescPoolSize{Type: b.Type})
		}
		sizes[i].Count += max(b.Count, 1) * frames
	}
	return sizes
}

func New(alloc *resource.Allocator, frames int, bindings ...Binding) (*Set, error) {
	if frames <= 0 {
		return nil, errors.Newf("descriptor: %d frames", frames)
	}
	gpu := alloc.GPU()
	s := &Set{gpu: gpu, frames: frames, bindings: make([]Binding, len(bindings))}

	decls := make([]driver.DescBinding, len(bindings))
	for i, b := range bindings {
		b.Count = max(b.Count, 1)
		if err := checkPayload(b.Type, b.Payload); err != nil {
			return nil, errors.Wrapf(err, "binding %d", i)
		}
		s.bindings[i] = b
		decls[i] = driver.DescBinding{Binding: i, Type: b.Type, Count: b.Count, Stages: b.Stages}
	}

	var err error
	if s.layout, err = gpu.NewDescLayout(decls); err != nil {
		return nil, errors.Wrap(err, "create descriptor set layout")
	}
	if s.pool, err = gpu.NewDescPool(frames, PoolSizes(frames, s.bindings)); err != nil {
		s.Destroy()
		return nil, errors.Wrap(err, "create descriptor pool")
	}
	layouts := make([]driver.DescLayout, frames)
	for i := range layouts {
		layouts[i] = s.layout
	}
	if s.sets, err = s.pool.Allocate(layouts...); err != nil {
		s.Destroy()
		return nil, errors.Wrap(err, "allocate descriptor sets")
	}

	s.uniforms = make([]map[int][]*resource.UniformBuffer, frames)
	for i := range s.uniforms {
		s.uniforms[i] = make(map[int][]*resource.UniformBuffer)
	}
	for i, b := range s.bindings {
		switch p := b.Payload.(type) {
		case nil:
		case Uniform:
			err = s.allocateUniforms(alloc, i, p)
		default:
			err = s.write(i, p)
		}
		if err != nil {
			s.Destroy()
			return nil, errors.Wrapf(err, "binding %d", i)
		}
	}
	logger.Logger().Debug("descriptor sets allocated", "bindings", len(bindings), "frames", frames)
	return s, nil
}

func checkPayload(t driver.DescType, p Payload) error {
	ok := true
	switch p := p.(type) {
	case nil:
	case Buffers:
		ok = t == driver.DescUniformBuffer || t == driver.DescStorageBuffer
	case Images:
		ok = t == driver.DescSampler || t == driver.DescCombinedImageSampler ||
			t == driver.DescSampledImage || t == driver.DescStorageImage
	case Accels:
		ok = t == driver.DescAccel
	case Uniform:
		ok = t == driver.DescUniformBuffer
		if ok && p.Size <= 0 && p.Layout == nil {
			return errors.New("descriptor: uniform payload without size")
		}
	default:
		return errors.AssertionFailedf("descriptor: unknown payload %T", p)
	}
	if !ok {
		return errors.Newf("descriptor: %T payload for descriptor type %d", p, t)
	}
	return nil
}

func (s *Set) allocateUniforms(alloc *resource.Allocator, binding int, p Uniform) error {
	size := p.Size
	if p.Layout != nil {
		size = int64(p.Layout.Size)
	}
	count := s.bindings[binding].Count
	infos := make(Buffers, 0, count*s.frames)
	for frame := 0; frame < s.frames; frame++ {
		for e := 0; e < count; e++ {
			u, err := alloc.CreateUniformBuffer(size, p.Visible)
			if err != nil {
				return err
			}
			s.uniforms[frame][binding] = append(s.uniforms[frame][binding], u)
			infos = append(infos, driver.DescBufferInfo{Buffer: u.Buffer(), Range: size})
		}
	}
	return s.write(binding, infos)
}

func (s *Set) write(binding int, p Payload) error {
	b := s.bindings[binding]
	perFrame := false
	switch p.len() {
	case b.Count:
	case b.Count * s.frames:
		perFrame = true
	default:
		return errors.Newf("descriptor: %d values for binding %d of %d elements and %d frames",
			p.len(), binding, b.Count, s.frames)
	}
	for frame, set := range s.sets {
		lo := 0
		if perFrame {
			lo = frame * b.Count
		}
		hi := lo + b.Count
		w := driver.DescWrite{Binding: binding, Type: b.Type}
		switch p := p.(type) {
		case Buffers:
			w.Buffers = p[lo:hi]
		case Images:
			w.Images = p[lo:hi]
		case Accels:
			w.Accels = p[lo:hi]
		}
		if err := set.Update(w); err != nil {
			return errors.Wrapf(err, "update binding %d of frame %d", binding, frame)
		}
	}
	return nil
}

// Update points a binding at new resources, for example views recreated
// with the swapchain. It must not be called while a frame using the sets may
// still execute.
func (s *Set) Update(binding int, p Payload) error {
	if binding < 0 || binding >= len(s.bindings) {
		return errors.Newf("descriptor: no binding %d", binding)
	}
	if _, ok := p.(Uniform); ok {
		return errors.Newf("descriptor: binding %d cannot switch to internal uniform buffers", binding)
	}
	if p == nil {
		return errors.Newf("descriptor: nil payload for binding %d", binding)
	}
	if err := checkPayload(s.bindings[binding].Type, p); err != nil {
		return err
	}
	if len(s.uniforms) > 0 && len(s.uniforms[0][binding]) > 0 {
		return errors.Newf("descriptor: binding %d owns its uniform buffers", binding)
	}
	s.bindings[binding].Payload = p
	return s.write(binding, p)
}

func (s *Set) Layout() driver.DescLayout { return s.layout }

func (s *Set) Frames() int { return s.frames }

// Frame returns the descriptor set of frame i.
func (s *Set) Frame(i int) driver.DescSet { return s.sets[i] }

// Uniform returns the internal uniform buffer of an array element of a
// binding for frame i, nil if the binding has none.
func (s *Set) Uniform(frame, binding, element int) *resource.UniformBuffer {
	bufs := s.uniforms[frame][binding]
	if element >= len(bufs) {
		return nil
	}
	return bufs[element]
}

// Uniforms returns every internal uniform buffer of frame i.
func (s *Set) Uniforms(frame int) []*resource.UniformBuffer {
	var out []*resource.UniformBuffer
	for binding := range s.bindings {
		out = append(out, s.uniforms[frame][binding]...)
	}
	return out
}

// Destroy frees the sets, their pool, the layout and internal uniform
// buffers.
func (s *Set) Destroy() {
	for _, frame := range s.uniforms {
		for _, bufs := range frame {
			for _, u := range bufs {
				u.Destroy()
			}
		}
	}
	s.uniforms = nil
	if s.pool != nil {
		s.pool.Destroy()
		s.pool = nil
	}
	if s.layout != nil {
		s.layout.Destroy()
		s.layout = nil
	}
	s.sets = nil
}
