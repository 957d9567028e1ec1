package renderer

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/renderer/accel"
	"github.com/vkngwrapper/renderer/driver"
	"github.com/vkngwrapper/renderer/driver/fake"
	"github.com/vkngwrapper/renderer/layout"
	"github.com/vkngwrapper/renderer/resource"
)

func positions(vals ...float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func testMeshes() []Mesh {
	return []Mesh{
		{
			Name:      "quad",
			Vertices:  positions(0, 0, 0, 1, 0, 0, 1, 1, 0, 0, 1, 0),
			Layout:    layout.Packed(driver.FormatR32G32B32Sfloat),
			Indices:   []uint32{0, 1, 2, 0, 2, 3},
			Transform: mgl32.Translate3D(0, 0, -2),
		},
		{
			Name:     "triangle",
			// Position and texture coordinate.
			Vertices: positions(
				0, 0, 0, 0, 0,
				1, 0, 0, 1, 0,
				0, 1, 0, 0, 1,
			),
			Layout: layout.Packed(driver.FormatR32G32B32Sfloat, driver.FormatR32G32Sfloat),
		},
	}
}

func TestLoadScene(t *testing.T) {
	g := fake.New()
	alloc, err := resource.NewAllocator(g, resource.Options{})
	if err != nil {
		t.Fatal(err)
	}
	scene, err := LoadScene(alloc, testMeshes())
	if err != nil {
		t.Fatalf("LoadScene: %+v", err)
	}

	if len(scene.Meshes) != 2 {
		t.Fatalf("%d meshes", len(scene.Meshes))
	}
	if scene.Meshes[0].Count != 6 || scene.Meshes[1].Count != 3 {
		t.Errorf("counts %d and %d, want 6 and 3", scene.Meshes[0].Count, scene.Meshes[1].Count)
	}
	if scene.Meshes[1].Indices != nil {
		t.Error("mesh without indices got an index buffer")
	}
	for _, m := range scene.Meshes {
		if m.BLAS.State() != accel.Compacted {
			t.Errorf("BLAS of %s in state %v", m.Name, m.BLAS.State())
		}
		if m.Vertices.Usage()&driver.BufferAccelBuildInput == 0 {
			t.Errorf("vertices of %s are not an acceleration structure build input", m.Name)
		}
	}
	if scene.TLAS().State() != accel.Compacted {
		t.Errorf("TLAS in state %v", scene.TLAS().State())
	}
	payload, err := scene.AccelPayload()
	if err != nil || len(payload) != 1 {
		t.Fatalf("AccelPayload = %v, %v", payload, err)
	}
	if payload[0].Kind() != driver.AccelTopLevel {
		t.Errorf("payload binds a %v", payload[0].Kind())
	}
	// Two BLAS compactions in one batch and the TLAS.
	if c := g.Stats().CompactCopies; c != 3 {
		t.Errorf("%d compaction copies, want 3", c)
	}

	scene.Destroy()
	if err := alloc.Destroy(); err != nil {
		t.Fatal(err)
	}
	if live := g.LiveKinds(); len(live) != 0 {
		t.Errorf("objects left: %v", live)
	}
	if v := g.Violations(); len(v) != 0 {
		t.Errorf("device violations: %v", v)
	}
}

type noRayTracing struct {
	driver.GPU
}

func TestLoadSceneWithoutRayTracing(t *testing.T) {
	g := fake.New()
	alloc, err := resource.NewAllocator(noRayTracing{g}, resource.Options{})
	if err != nil {
		t.Fatal(err)
	}
	scene, err := LoadScene(alloc, testMeshes()[:1])
	if err != nil {
		t.Fatal(err)
	}
	if scene.TLAS() != nil {
		t.Error("TLAS built without ray tracing")
	}
	rtOnly := driver.BufferAccelBuildInput | driver.BufferDeviceAddress
	for _, buf := range []driver.Buffer{scene.Meshes[0].Vertices, scene.Meshes[0].Indices} {
		if buf.Usage()&rtOnly != 0 {
			t.Errorf("mesh buffer usage %#x requests ray tracing features", uint32(buf.Usage()))
		}
	}
	for _, b := range g.Stats().Barriers {
		if b.Dst&driver.StageAccelBuild != 0 {
			t.Errorf("upload barrier waits on acceleration structure builds: %+v", b)
		}
	}
	if _, err := scene.AccelPayload(); !errors.Is(err, driver.ErrUnsupported) {
		t.Errorf("AccelPayload = %v, want ErrUnsupported", err)
	}
	scene.Destroy()
	if live := g.Live(); live != 0 {
		t.Errorf("%d objects left", live)
	}
}

func TestLoadSceneRejectsBadMesh(t *testing.T) {
	g := fake.New()
	alloc, err := resource.NewAllocator(g, resource.Options{})
	if err != nil {
		t.Fatal(err)
	}
	meshes := testMeshes()
	meshes[1].Vertices = meshes[1].Vertices[:10]
	if _, err := LoadScene(alloc, meshes); err == nil {
		t.Fatal("mesh with a partial vertex loaded")
	}
	if live := g.LiveKinds()["buffer"]; live != 0 {
		t.Errorf("%d buffers left after a failed load", live)
	}
}
