package vk

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/renderer/driver"
)

type DescLayout struct {
	g      *GPU
	layout core1_0.DescriptorSetLayout
}

func (g *GPU) NewDescLayout(bindings []driver.DescBinding) (driver.DescLayout, error) {
	info := core1_0.DescriptorSetLayoutCreateInfo{}
	for _, b := range bindings {
		if b.Type == driver.DescAccel {
			return nil, errors.Wrap(driver.ErrUnsupported, "acceleration structure binding")
		}
		info.Bindings = append(info.Bindings, core1_0.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  core1_0.DescriptorType(b.Type),
			DescriptorCount: b.Count,
			StageFlags:      core1_0.ShaderStageFlags(b.Stages),
		})
	}
	layout, _, err := g.driver.CreateDescriptorSetLayout(nil, info)
	if err != nil {
		return nil, errors.Wrap(err, "create descriptor set layout")
	}
	return &DescLayout{g: g, layout: layout}, nil
}

// Handle returns the layout for pipeline layouts created outside of this
// package.
func (l *DescLayout) Handle() core1_0.DescriptorSetLayout { return l.layout }

func (l *DescLayout) Destroy() {
	l.g.driver.DestroyDescriptorSetLayout(l.layout, nil)
}

type DescPool struct {
	g    *GPU
	pool core1_0.DescriptorPool
}

func (g *GPU) NewDescPool(maxSets int, sizes []driver.DescPoolSize) (driver.DescPool, error) {
	info := core1_0.DescriptorPoolCreateInfo{MaxSets: maxSets}
	for _, s := range sizes {
		info.PoolSizes = append(info.PoolSizes, core1_0.DescriptorPoolSize{
			Type:            core1_0.DescriptorType(s.Type),
			DescriptorCount: s.Count,
		})
	}
	pool, _, err := g.driver.CreateDescriptorPool(nil, info)
	if err != nil {
		return nil, errors.Wrap(err, "create descriptor pool")
	}
	return &DescPool{g: g, pool: pool}, nil
}

func (p *DescPool) Allocate(layouts ...driver.DescLayout) ([]driver.DescSet, error) {
	handles := make([]core1_0.DescriptorSetLayout, len(layouts))
	for i, l := range layouts {
		handles[i] = l.(*DescLayout).layout
	}
	sets, _, err := p.g.driver.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: p.pool,
		SetLayouts:     handles,
	})
	if err != nil {
		return nil, errors.Wrap(err, "allocate descriptor sets")
	}
	out := make([]driver.DescSet, len(sets))
	for i, s := range sets {
		out[i] = &DescSet{g: p.g, set: s}
	}
	return out, nil
}

// Destroy frees the pool and every set allocated from it.
func (p *DescPool) Destroy() {
	p.g.driver.DestroyDescriptorPool(p.pool, nil)
}

type DescSet struct {
	g   *GPU
	set core1_0.DescriptorSet
}

// Handle returns the set for binding in command buffers.
func (s *DescSet) Handle() core1_0.DescriptorSet { return s.set }

func (s *DescSet) Update(writes ...driver.DescWrite) error {
	out := make([]core1_0.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		write := core1_0.WriteDescriptorSet{
			DstSet:          s.set,
			DstBinding:      w.Binding,
			DstArrayElement: w.ArrayElement,
			DescriptorType:  core1_0.DescriptorType(w.Type),
		}
		switch {
		case len(w.Accels) > 0:
			return errors.Wrap(driver.ErrUnsupported, "acceleration structure write")
		case len(w.Buffers) > 0:
			for _, b := range w.Buffers {
				rng := b.Range
				if rng == 0 {
					rng = b.Buffer.Size() - b.Offset
				}
				write.BufferInfo = append(write.BufferInfo, core1_0.DescriptorBufferInfo{
					Buffer: b.Buffer.(*Buffer).buffer,
					Offset: int(b.Offset),
					Range:  int(rng),
				})
			}
		case len(w.Images) > 0:
			for _, img := range w.Images {
				info := core1_0.DescriptorImageInfo{ImageLayout: core1_0.ImageLayout(img.Layout)}
				if img.View != nil {
					info.ImageView = img.View.(*ImageView).view
				}
				if img.Sampler != nil {
					info.Sampler = img.Sampler.(*Sampler).sampler
				}
				write.ImageInfo = append(write.ImageInfo, info)
			}
		default:
			return errors.Newf("vk: empty write to binding %d", w.Binding)
		}
		out = append(out, write)
	}
	return errors.Wrap(s.g.driver.UpdateDescriptorSets(out, nil), "update descriptor set")
}
