package fake

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/renderer/driver"
)

type DescLayout struct {
	g        *GPU
	bindings map[int]driver.DescBinding
}

func (g *GPU) NewDescLayout(bindings []driver.DescBinding) (driver.DescLayout, error) {
	l := &DescLayout{g: g, bindings: make(map[int]driver.DescBinding, len(bindings))}
	for _, b := range bindings {
		if _, dup := l.bindings[b.Binding]; dup {
			return nil, errors.Newf("fake: binding %d declared twice", b.Binding)
		}
		if b.Count <= 0 {
			return nil, errors.Newf("fake: binding %d has count %d", b.Binding, b.Count)
		}
		l.bindings[b.Binding] = b
	}
	g.track(l, "descriptor set layout")
	return l, nil
}

func (l *DescLayout) Destroy() {
	l.g.untrack(l, "descriptor set layout")
}

type DescPool struct {
	g         *GPU
	maxSets   int
	remaining map[driver.DescType]int
	allocated int
}

func (g *GPU) NewDescPool(maxSets int, sizes []driver.DescPoolSize) (driver.DescPool, error) {
	p := &DescPool{g: g, maxSets: maxSets, remaining: make(map[driver.DescType]int)}
	for _, s := range sizes {
		p.remaining[s.Type] += s.Count
	}
	g.track(p, "descriptor pool")
	return p, nil
}

func (p *DescPool) Allocate(layouts ...driver.DescLayout) ([]driver.DescSet, error) {
	if p.allocated+len(layouts) > p.maxSets {
		return nil, errors.Newf("fake: descriptor pool exhausted, %d of %d sets allocated", p.allocated, p.maxSets)
	}
	sets := make([]driver.DescSet, 0, len(layouts))
	for _, dl := range layouts {
		l := dl.(*DescLayout)
		for _, b := range l.bindings {
			if p.remaining[b.Type] < b.Count {
				return nil, errors.Newf("fake: descriptor pool out of type %d descriptors", b.Type)
			}
			p.remaining[b.Type] -= b.Count
		}
		sets = append(sets, &DescSet{layout: l, values: make(map[int][]any)})
	}
	p.allocated += len(layouts)
	return sets, nil
}

func (p *DescPool) Destroy() {
	p.g.untrack(p, "descriptor pool")
}

// DescSet remembers the resource written to every array element.
type DescSet struct {
	layout *DescLayout
	values map[int][]any
}

func (s *DescSet) Update(writes ...driver.DescWrite) error {
	for _, w := range writes {
		b, ok := s.layout.bindings[w.Binding]
		if !ok {
			return errors.Newf("fake: binding %d is not in the layout", w.Binding)
		}
		if b.Type != w.Type {
			return errors.Newf("fake: binding %d has type %d, write has type %d", w.Binding, b.Type, w.Type)
		}
		var vals []any
		switch w.Type {
		case driver.DescUniformBuffer, driver.DescStorageBuffer:
			for _, info := range w.Buffers {
				info.Buffer.(*Buffer).check("descriptor write")
				vals = append(vals, info.Buffer)
			}
		case driver.DescAccel:
			for _, a := range w.Accels {
				vals = append(vals, a)
			}
		default:
			for _, info := range w.Images {
				vals = append(vals, info.View)
			}
		}
		if w.ArrayElement+len(vals) > b.Count {
			return errors.Newf("fake: write of %d elements at %d overflows binding %d of count %d",
				len(vals), w.ArrayElement, w.Binding, b.Count)
		}
		cur := s.values[w.Binding]
		if cur == nil {
			cur = make([]any, b.Count)
			s.values[w.Binding] = cur
		}
		copy(cur[w.ArrayElement:], vals)
	}
	return nil
}

// Value returns the resource written to an array element of a binding, nil
// if nothing was written.
func (s *DescSet) Value(binding, element int) any {
	vals := s.values[binding]
	if element >= len(vals) {
		return nil
	}
	return vals[element]
}
