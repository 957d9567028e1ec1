package swapchain

import (
	"testing"

	"github.com/vkngwrapper/renderer/driver"
	"github.com/vkngwrapper/renderer/driver/fake"
)

func newSwapchain(t *testing.T) (*fake.GPU, *Swapchain) {
	t.Helper()
	g := fake.New()
	sc, err := New(g, g, driver.Extent2D{Width: 800, Height: 600}, func(view driver.ImageView, extent driver.Extent2D) (driver.Framebuffer, error) {
		return g.NewFramebuffer(view), nil
	})
	if err != nil {
		t.Fatalf("New: %+v", err)
	}
	t.Cleanup(func() {
		if v := g.Violations(); len(v) != 0 {
			t.Errorf("device violations: %v", v)
		}
	})
	return g, sc
}

func TestAcquirePresent(t *testing.T) {
	g, sc := newSwapchain(t)
	defer sc.Destroy()
	sem, _ := g.NewSemaphore()
	defer sem.Destroy()

	for i := 0; i < 2*fake.SwapchainImages; i++ {
		img, ok, err := sc.AcquireImage(sem)
		if err != nil || !ok {
			t.Fatalf("AcquireImage: %v %v", ok, err)
		}
		if img.Framebuffer == nil || img.View == nil {
			t.Fatalf("image %d has no framebuffer", img.Index)
		}
		// Present waits on the acquisition semaphore directly.
		if ok, err := sc.Present(sem); err != nil || !ok {
			t.Fatalf("Present: %v %v", ok, err)
		}
	}
	g.Flush()
	if g.Stats().Presents != 2*fake.SwapchainImages {
		t.Errorf("presents = %d", g.Stats().Presents)
	}
}

func TestOutOfDateSkipsFrame(t *testing.T) {
	g, sc := newSwapchain(t)
	defer sc.Destroy()
	sem, _ := g.NewSemaphore()
	defer sem.Destroy()

	g.SetOutOfDate(true)
	img, ok, err := sc.AcquireImage(sem)
	if err != nil {
		t.Fatalf("out of date acquire is not recoverable: %+v", err)
	}
	if ok || img != nil {
		t.Fatal("out of date acquire returned an image")
	}

	g.SetOutOfDate(false)
	if _, ok, err := sc.AcquireImage(sem); !ok || err != nil {
		t.Fatalf("AcquireImage: %v %v", ok, err)
	}
	g.SetSuboptimal(true)
	ok, err = sc.Present(sem)
	if err != nil {
		t.Fatalf("suboptimal present is not recoverable: %+v", err)
	}
	if ok {
		t.Error("suboptimal present did not ask for recreation")
	}
}

func TestRecreate(t *testing.T) {
	g, sc := newSwapchain(t)
	before := g.LiveKinds()
	old := sc.Image(0).View

	if err := sc.Recreate(driver.Extent2D{Width: 1024, Height: 768}); err != nil {
		t.Fatalf("Recreate: %+v", err)
	}
	if sc.Extent() != (driver.Extent2D{Width: 1024, Height: 768}) {
		t.Errorf("extent = %+v", sc.Extent())
	}
	if sc.Image(0).View == old {
		t.Error("views were not recreated")
	}
	after := g.LiveKinds()
	for kind, n := range before {
		if after[kind] != n {
			t.Errorf("%s: %d live before recreation, %d after", kind, n, after[kind])
		}
	}

	sc.Destroy()
	if g.Live() != 0 {
		t.Errorf("live objects after Destroy: %v", g.LiveKinds())
	}
}
