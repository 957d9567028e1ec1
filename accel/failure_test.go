package accel

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/renderer/driver"
	"github.com/vkngwrapper/renderer/driver/fake"
	"github.com/vkngwrapper/renderer/resource"
)

func newFaultyBuilder(t *testing.T) (*fake.Faults, *resource.Allocator, *Builder) {
	t.Helper()
	f := fake.NewFaults(fake.New())
	alloc, err := resource.NewAllocator(f, resource.Options{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewBuilder(alloc)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if v := f.Violations(); len(v) != 0 {
			t.Errorf("device violations: %v", v)
		}
	})
	return f, alloc, b
}

func sameKinds(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, n := range a {
		if b[k] != n {
			return false
		}
	}
	return true
}

func TestCompactionRetryAfterAllocationError(t *testing.T) {
	f, alloc, b := newFaultyBuilder(t)
	blas, err := b.BuildBottom([]Triangles{unitQuad(t, alloc)}, true)
	if err != nil {
		t.Fatalf("BuildBottom: %+v", err)
	}
	if blas.State() != Compactable {
		t.Fatalf("state = %s, want compactable", blas.State())
	}
	before := f.LiveKinds()

	f.Buffers = 0
	if err := blas.Compact(false); !errors.Is(err, driver.ErrDeviceLost) {
		t.Fatalf("Compact = %v, want device lost", err)
	}
	if blas.State() != Compactable {
		t.Errorf("state after failed Compact = %s, want compactable", blas.State())
	}
	if after := f.LiveKinds(); !sameKinds(before, after) {
		t.Errorf("failed Compact changed live objects from %v to %v", before, after)
	}

	f.Buffers = -1
	if err := blas.Compact(false); err != nil {
		t.Fatalf("Compact retry: %+v", err)
	}
	if err := blas.Cleanup(true); err != nil {
		t.Fatalf("Cleanup: %+v", err)
	}
	if _, err := blas.Address(); err != nil {
		t.Errorf("Address: %+v", err)
	}
	if got := f.Stats().CompactCopies; got != 1 {
		t.Errorf("compaction copies = %d, want 1", got)
	}
	blas.Destroy()
	if kinds := f.LiveKinds(); kinds["acceleration structure"] != 0 || kinds["query pool"] != 0 || kinds["fence"] != 0 {
		t.Errorf("live objects after Destroy: %v", kinds)
	}
}

func TestBlockingBuildWaitError(t *testing.T) {
	f, alloc, b := newFaultyBuilder(t)
	quad := unitQuad(t, alloc)

	f.FailWaits = true
	blas, err := b.BuildBottom([]Triangles{quad}, true)
	if !errors.Is(err, driver.ErrDeviceLost) {
		t.Fatalf("BuildBottom = %v, want device lost", err)
	}
	if blas != nil {
		t.Error("structure returned with error")
	}
	kinds := f.LiveKinds()
	if kinds["acceleration structure"] != 0 || kinds["query pool"] != 0 || kinds["fence"] != 0 || kinds["command buffer"] != 0 {
		t.Errorf("structure leaked: live %v", kinds)
	}
	if kinds["buffer"] != 2 {
		t.Errorf("live buffers = %d, want only the quad's vertices and indices", kinds["buffer"])
	}
}
