package descriptor

import (
	"testing"

	"github.com/vkngwrapper/renderer/driver"
	"github.com/vkngwrapper/renderer/driver/fake"
	"github.com/vkngwrapper/renderer/layout"
	"github.com/vkngwrapper/renderer/resource"
)

const frames = 3

func setup(t *testing.T) (*fake.GPU, *resource.Allocator) {
	t.Helper()
	g := fake.New()
	alloc, err := resource.NewAllocator(g, resource.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if v := g.Violations(); len(v) != 0 {
			t.Errorf("device violations: %v", v)
		}
	})
	return g, alloc
}

func storage(t *testing.T, alloc *resource.Allocator) driver.Buffer {
	t.Helper()
	buf, err := alloc.CreateBuffer(driver.BufferInfo{Size: 256, Usage: driver.BufferStorage})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(buf.Destroy)
	return buf
}

func TestBroadcastRule(t *testing.T) {
	_, alloc := setup(t)
	shared := storage(t, alloc)
	var distinct Buffers
	for i := 0; i < frames; i++ {
		distinct = append(distinct, driver.DescBufferInfo{Buffer: storage(t, alloc)})
	}

	set, err := New(alloc, frames,
		Binding{Type: driver.DescStorageBuffer, Stages: driver.ShaderCompute, Payload: Buffers{{Buffer: shared}}},
		Binding{Type: driver.DescStorageBuffer, Stages: driver.ShaderCompute, Payload: distinct},
	)
	if err != nil {
		t.Fatalf("New: %+v", err)
	}
	defer set.Destroy()

	for i := 0; i < frames; i++ {
		ds := set.Frame(i).(*fake.DescSet)
		if got := ds.Value(0, 0); got != shared {
			t.Errorf("frame %d binding 0 = %v, want the shared buffer", i, got)
		}
		if got := ds.Value(1, 0); got != distinct[i].Buffer {
			t.Errorf("frame %d binding 1 = %v, want buffer %d", i, got, i)
		}
	}
}

func TestArrayBindingPerFrame(t *testing.T) {
	_, alloc := setup(t)
	var bufs Buffers
	for i := 0; i < 2*frames; i++ {
		bufs = append(bufs, driver.DescBufferInfo{Buffer: storage(t, alloc)})
	}
	set, err := New(alloc, frames, Binding{Type: driver.DescStorageBuffer, Count: 2, Payload: bufs})
	if err != nil {
		t.Fatalf("New: %+v", err)
	}
	defer set.Destroy()
	for i := 0; i < frames; i++ {
		ds := set.Frame(i).(*fake.DescSet)
		for e := 0; e < 2; e++ {
			if got := ds.Value(0, e); got != bufs[i*2+e].Buffer {
				t.Errorf("frame %d element %d bound to the wrong buffer", i, e)
			}
		}
	}

	if _, err := New(alloc, frames, Binding{Type: driver.DescStorageBuffer, Count: 2, Payload: bufs[:3]}); err == nil {
		t.Error("3 values for 2 elements and 3 frames accepted")
	}
}

func TestInternalUniforms(t *testing.T) {
	g, alloc := setup(t)
	camera := layout.New(layout.Std140,
		layout.Field{Name: "view", Type: layout.Mat4},
		layout.Field{Name: "time", Type: layout.Float},
	)
	set, err := New(alloc, frames,
		Binding{Type: driver.DescUniformBuffer, Stages: driver.ShaderAllGraphics, Payload: Uniform{Layout: camera, Visible: true}},
	)
	if err != nil {
		t.Fatalf("New: %+v", err)
	}

	seen := make(map[driver.Buffer]bool)
	for i := 0; i < frames; i++ {
		u := set.Uniform(i, 0, 0)
		if u == nil {
			t.Fatalf("frame %d has no uniform buffer", i)
		}
		if u.Size() != int64(camera.Size) {
			t.Errorf("uniform size = %d, want %d", u.Size(), camera.Size)
		}
		if got := set.Frame(i).(*fake.DescSet).Value(0, 0); got != u.Buffer() {
			t.Errorf("frame %d bound to %v, want its own uniform buffer", i, got)
		}
		if len(set.Uniforms(i)) != 1 {
			t.Errorf("frame %d has %d uniforms", i, len(set.Uniforms(i)))
		}
		seen[u.Buffer()] = true
	}
	if len(seen) != frames {
		t.Errorf("%d distinct uniform buffers for %d frames", len(seen), frames)
	}
	if err := set.Update(0, Buffers{{Buffer: set.Uniform(0, 0, 0).Buffer()}}); err == nil {
		t.Error("rebinding an internal uniform binding accepted")
	}

	set.Destroy()
	if g.Live() != 0 {
		t.Errorf("live objects after Destroy: %v", g.LiveKinds())
	}
}

func TestUpdateRebindsImages(t *testing.T) {
	_, alloc := setup(t)
	newImage := func() *resource.Image {
		img, err := alloc.CreateImage(driver.ImageInfo{
			Format: driver.FormatR8G8B8A8Unorm,
			Extent: driver.Extent3D{Width: 8, Height: 8, Depth: 1},
			Usage:  driver.ImageSampled,
		})
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(img.Destroy)
		return img
	}
	sampler, _ := alloc.GPU().NewSampler(driver.SamplerInfo{Linear: true})
	defer sampler.Destroy()

	first := newImage()
	set, err := New(alloc, frames,
		Binding{Type: driver.DescCombinedImageSampler, Stages: driver.ShaderFragment,
			Payload: Images{{View: first.View, Sampler: sampler, Layout: driver.LayoutShaderReadOnly}}},
	)
	if err != nil {
		t.Fatalf("New: %+v", err)
	}
	defer set.Destroy()

	second := newImage()
	if err := set.Update(0, Images{{View: second.View, Sampler: sampler, Layout: driver.LayoutShaderReadOnly}}); err != nil {
		t.Fatalf("Update: %+v", err)
	}
	for i := 0; i < frames; i++ {
		if got := set.Frame(i).(*fake.DescSet).Value(0, 0); got != second.View {
			t.Errorf("frame %d still bound to the old view", i)
		}
	}
	if err := set.Update(0, Buffers{{}}); err == nil {
		t.Error("buffer payload accepted for an image binding")
	}
	if err := set.Update(4, Images{}); err == nil {
		t.Error("update of a missing binding accepted")
	}
}

func TestPoolSizes(t *testing.T) {
	sizes := PoolSizes(2, []Binding{
		{Type: driver.DescUniformBuffer},
		{Type: driver.DescCombinedImageSampler, Count: 4},
		{Type: driver.DescUniformBuffer, Count: 2},
		{Type: driver.DescAccel},
	})
	want := map[driver.DescType]int{
		driver.DescUniformBuffer:        6,
		driver.DescCombinedImageSampler: 8,
		driver.DescAccel:                2,
	}
	if len(sizes) != len(want) {
		t.Fatalf("sizes = %+v", sizes)
	}
	for _, s := range sizes {
		if want[s.Type] != s.Count {
			t.Errorf("type %d: %d descriptors, want %d", s.Type, s.Count, want[s.Type])
		}
	}
}
