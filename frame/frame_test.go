package frame

import (
	"testing"

	"github.com/vkngwrapper/renderer/driver"
	"github.com/vkngwrapper/renderer/driver/fake"
	"github.com/vkngwrapper/renderer/resource"
)

func checkViolations(t *testing.T, g *fake.GPU) {
	t.Cleanup(func() {
		if v := g.Violations(); len(v) != 0 {
			t.Errorf("device violations: %v", v)
		}
	})
}

// runFrames drives the ring like a renderer that never waits on its own.
func runFrames[T any](t *testing.T, g *fake.GPU, r *Ring[T], frames int, record func(s *Slot[T])) {
	t.Helper()
	for f := 0; f < frames; f++ {
		s, err := r.AcquireNextFrame()
		if err != nil {
			t.Fatalf("frame %d: AcquireNextFrame: %+v", f, err)
		}
		if s.Index != f%r.Len() {
			t.Fatalf("frame %d got slot %d", f, s.Index)
		}
		if ok, _ := s.Fence.Status(); !ok {
			t.Fatalf("frame %d: slot %d fence unsignaled after acquire", f, s.Index)
		}
		if err := r.BeginFrame(); err != nil {
			t.Fatal(err)
		}
		record(s)
		if err := r.EndFrame(); err != nil {
			t.Fatal(err)
		}
		if err := r.Submit(nil); err != nil {
			t.Fatal(err)
		}
		if ok, _ := s.Fence.Status(); ok {
			t.Fatalf("frame %d: fence signaled before the submission executed", f)
		}
	}
}

func TestRingWithFramebuffers(t *testing.T) {
	g := fake.New()
	checkViolations(t, g)
	r, err := NewRing(g, 2, func(slot int) (*fake.Framebuffer, error) {
		return g.NewFramebuffer(nil), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.Current() != nil {
		t.Error("Current before the first acquisition")
	}
	target, _ := g.NewImage(driver.ImageInfo{
		Format: driver.FormatB8G8R8A8SRGB,
		Extent: driver.Extent3D{Width: 4, Height: 4, Depth: 1},
	})
	defer target.Destroy()

	runFrames(t, g, r, 5, func(s *Slot[*fake.Framebuffer]) {
		s.Cmd.ClearColorImage(target, driver.LayoutGeneral, [4]float32{float32(s.Index), 0, 0, 1})
	})
	// Slots were reused three times with at most one frame queued ahead.
	if g.Pending() > r.Len() {
		t.Errorf("%d submissions queued for %d slots", g.Pending(), r.Len())
	}

	r.Destroy(func(fb *fake.Framebuffer) { fb.Destroy() })
	if g.Stats().Clears != 5 {
		t.Errorf("clears = %d, want 5", g.Stats().Clears)
	}
	if g.Live() != 1 {
		t.Errorf("live objects: %v, want only the target image", g.LiveKinds())
	}
}

type uniforms []*resource.UniformBuffer

func (u uniforms) Uniforms(slot int) []*resource.UniformBuffer { return u[slot : slot+1] }

func TestRingUploadsUniformsBeforeRecording(t *testing.T) {
	g := fake.New()
	checkViolations(t, g)
	alloc, _ := resource.NewAllocator(g, resource.Options{})

	var perSlot uniforms
	r, err := NewRing(g, 2, func(slot int) (*resource.UniformBuffer, error) {
		u, err := alloc.CreateUniformBuffer(16, false)
		perSlot = append(perSlot, u)
		return u, err
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, u := range perSlot {
		u.MarkDirty()
	}
	r.Track(perSlot)

	runFrames(t, g, r, 4, func(s *Slot[*resource.UniformBuffer]) {
		if alloc.Pending() == 0 {
			t.Errorf("slot %d recorded before its uniform upload was submitted", s.Index)
		}
		if s.Extra != perSlot[s.Index] {
			t.Errorf("slot %d carries the wrong payload", s.Index)
		}
		s.Extra.Write(0, []byte{byte(s.Index + 1)})
	})

	r.Destroy(func(u *resource.UniformBuffer) { u.Destroy() })
	if err := alloc.Destroy(); err != nil {
		t.Fatal(err)
	}
	if g.Live() != 0 {
		t.Errorf("live objects: %v", g.LiveKinds())
	}
}

func TestBeginFrameBeforeAcquire(t *testing.T) {
	g := fake.New()
	r, err := NewRing[struct{}](g, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Destroy(nil)
	if err := r.BeginFrame(); err == nil {
		t.Error("BeginFrame before AcquireNextFrame succeeded")
	}
}
