package accel

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/renderer/driver"
	"github.com/vkngwrapper/renderer/driver/fake"
	"github.com/vkngwrapper/renderer/layout"
	"github.com/vkngwrapper/renderer/resource"
)

func newBuilder(t *testing.T) (*fake.GPU, *resource.Allocator, *Builder) {
	t.Helper()
	g := fake.New()
	alloc, err := resource.NewAllocator(g, resource.Options{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewBuilder(alloc)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if v := g.Violations(); len(v) != 0 {
			t.Errorf("device violations: %v", v)
		}
	})
	return g, alloc, b
}

func floats(vals ...float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func uints(vals ...uint32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[4*i:], v)
	}
	return out
}

// unitQuad uploads a quad made of two triangles.
func unitQuad(t *testing.T, alloc *resource.Allocator) Triangles {
	t.Helper()
	usage := driver.BufferAccelBuildInput | driver.BufferDeviceAddress
	target := resource.Target{Stage: driver.StageAccelBuild, Access: driver.AccessShaderRead}
	vertices, err := alloc.UploadBytes(driver.BufferInfo{Usage: usage | driver.BufferVertex}, floats(
		0, 0, 0,
		1, 0, 0,
		1, 1, 0,
		0, 1, 0,
	), target)
	if err != nil {
		t.Fatal(err)
	}
	indices, err := alloc.UploadBytes(driver.BufferInfo{Usage: usage | driver.BufferIndex}, uints(0, 1, 2, 0, 2, 3), target)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		vertices.Destroy()
		indices.Destroy()
	})
	return Triangles{
		Vertices:    vertices,
		Layout:      layout.Packed(driver.FormatR32G32B32Sfloat),
		VertexCount: 4,
		Indices:     indices,
		IndexType:   driver.IndexUint32,
		IndexCount:  6,
		Opaque:      true,
	}
}

func TestCompactBeforeBuildCompletes(t *testing.T) {
	g, alloc, b := newBuilder(t)
	blas, err := b.BuildBottom([]Triangles{unitQuad(t, alloc)}, false)
	if err != nil {
		t.Fatalf("BuildBottom: %+v", err)
	}
	defer blas.Destroy()

	if err := blas.Compact(false); err != nil {
		t.Fatal(err)
	}
	if blas.State() != Building {
		t.Fatalf("state after early Compact = %s, want building", blas.State())
	}
	if err := blas.Cleanup(false); err != nil || blas.State() != Building {
		t.Fatalf("early Cleanup: state %s, err %v", blas.State(), err)
	}
	if _, err := blas.Accel(); !errors.IsAssertionFailure(err) {
		t.Errorf("Accel while building = %v, want assertion failure", err)
	}

	g.Flush()
	for i := 0; i < 2; i++ {
		if err := blas.Compact(false); err != nil {
			t.Fatal(err)
		}
	}
	if err := blas.Compact(true); err != nil {
		t.Fatal(err)
	}
	if blas.State() != Compacting {
		t.Fatalf("state = %s, want compacting", blas.State())
	}
	g.Flush()
	if got := g.Stats().CompactCopies; got != 1 {
		t.Errorf("compaction copies = %d, want 1", got)
	}

	if err := blas.Cleanup(false); err != nil {
		t.Fatal(err)
	}
	if blas.State() != Compacted {
		t.Fatalf("state = %s, want compacted", blas.State())
	}
	if _, err := blas.Accel(); err != nil {
		t.Errorf("Accel: %+v", err)
	}
}

func TestUnitQuadIntoTopLevel(t *testing.T) {
	g, alloc, b := newBuilder(t)
	blas, err := b.BuildBottom([]Triangles{unitQuad(t, alloc)}, false)
	if err != nil {
		t.Fatalf("BuildBottom: %+v", err)
	}
	if err := blas.Compact(true); err != nil {
		t.Fatal(err)
	}
	if err := blas.Cleanup(true); err != nil {
		t.Fatal(err)
	}
	addr, err := blas.Address()
	if err != nil {
		t.Fatal(err)
	}
	if addr == 0 {
		t.Fatal("compacted BLAS has a zero device address")
	}

	tlas, err := b.BuildTop([]Instance{{BLAS: blas, Transform: mgl32.Ident4()}}, false)
	if err != nil {
		t.Fatalf("BuildTop: %+v", err)
	}
	if err := Finalize(tlas); err != nil {
		t.Fatalf("Finalize: %+v", err)
	}
	a, err := tlas.Accel()
	if err != nil {
		t.Fatal(err)
	}
	if refs := a.(*fake.Accel).Instances; len(refs) != 1 || refs[0] != addr {
		t.Errorf("TLAS instances = %#x, want [%#x]", refs, addr)
	}

	tlas.Destroy()
	blas.Destroy()
	if kinds := g.LiveKinds(); kinds["acceleration structure"] != 0 || kinds["fence"] != 0 || kinds["query pool"] != 0 {
		t.Errorf("live objects after Destroy: %v", kinds)
	}
}

func TestFinalizeBatch(t *testing.T) {
	g, alloc, b := newBuilder(t)
	quad := unitQuad(t, alloc)
	var all []*Structure
	for i := 0; i < 4; i++ {
		s, err := b.BuildBottom([]Triangles{quad}, false)
		if err != nil {
			t.Fatal(err)
		}
		all = append(all, s)
	}
	if err := Finalize(all...); err != nil {
		t.Fatalf("Finalize: %+v", err)
	}
	for i, s := range all {
		if s.State() != Compacted {
			t.Errorf("structure %d is %s", i, s.State())
		}
		s.Destroy()
	}
	if got := g.Stats().CompactCopies; got != 4 {
		t.Errorf("compaction copies = %d, want 4", got)
	}
}

func TestDestroyWhileBuilding(t *testing.T) {
	g, alloc, b := newBuilder(t)
	blas, err := b.BuildBottom([]Triangles{unitQuad(t, alloc)}, false)
	if err != nil {
		t.Fatal(err)
	}
	blas.Destroy()
	if g.Pending() != 0 {
		t.Error("Destroy returned before the build completed")
	}
}

func TestInstancePacking(t *testing.T) {
	inst := Instance{
		Transform:   mgl32.Translate3D(1, 2, 3),
		CustomIndex: 0x1234567,
		SBTOffset:   2,
		Flags:       0x4,
	}
	rec := make([]byte, InstanceSize)
	inst.pack(rec, 0xdeadbeef00)

	at := func(off int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(rec[off:])) }
	if at(0) != 1 || at(20) != 1 || at(40) != 1 {
		t.Errorf("diagonal = %v %v %v", at(0), at(20), at(40))
	}
	if at(12) != 1 || at(28) != 2 || at(44) != 3 {
		t.Errorf("translation = %v %v %v", at(12), at(28), at(44))
	}
	if got := binary.LittleEndian.Uint32(rec[48:]); got != 0xff234567 {
		t.Errorf("index and mask = %#x", got)
	}
	if got := binary.LittleEndian.Uint32(rec[52:]); got != 0x04000002 {
		t.Errorf("offset and flags = %#x", got)
	}
	if got := binary.LittleEndian.Uint64(rec[56:]); got != 0xdeadbeef00 {
		t.Errorf("address = %#x", got)
	}
}

type rasterOnly struct {
	driver.GPU
}

func TestBuilderRequiresRayTracing(t *testing.T) {
	alloc, err := resource.NewAllocator(rasterOnly{fake.New()}, resource.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewBuilder(alloc); !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("NewBuilder = %v, want ErrUnsupported", err)
	}
}
