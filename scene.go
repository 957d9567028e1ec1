package renderer

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/renderer/accel"
	"github.com/vkngwrapper/renderer/descriptor"
	"github.com/vkngwrapper/renderer/driver"
	"github.com/vkngwrapper/renderer/internal/logger"
	"github.com/vkngwrapper/renderer/layout"
	"github.com/vkngwrapper/renderer/resource"
)

// Mesh is a triangle list in host memory.
type Mesh struct {
	Name     string
	Vertices []byte
	Layout   layout.Vertex
	// Indices may be empty, the vertices then form the triangles directly.
	Indices   []uint32
	Transform mgl32.Mat4
}

// VertexCount returns the number of vertices described by the layout stride.
func (m *Mesh) VertexCount() int {
	if m.Layout.Stride == 0 {
		return 0
	}
	return len(m.Vertices) / m.Layout.Stride
}

// SceneMesh is a mesh resident on the device.
type SceneMesh struct {
	Name     string
	Vertices driver.Buffer
	Indices  driver.Buffer
	// Count is the number of indices, or of vertices for a mesh without
	// indices.
	Count int
	BLAS  *accel.Structure
}

// Scene holds uploaded meshes and, on devices that trace rays, their
// acceleration structures.
type Scene struct {
	Meshes []*SceneMesh
	tlas   *accel.Structure
}

// LoadScene uploads every mesh. If the device traces rays, it builds one
// bottom level structure per mesh, compacts them as a batch and builds the top
// level structure over the mesh transforms.
func LoadScene(alloc *resource.Allocator, meshes []Mesh) (*Scene, error) {
	usage := driver.BufferStorage
	builder, err := accel.NewBuilder(alloc)
	switch {
	case errors.Is(err, driver.ErrUnsupported):
		logger.Logger().Warn("device does not trace rays, scene has no acceleration structures")
	case err != nil:
		return nil, err
	default:
		usage |= driver.BufferDeviceAddress | driver.BufferAccelBuildInput
	}

	s := &Scene{}
	for i := range meshes {
		m, err := uploadMesh(alloc, &meshes[i], usage)
		if err != nil {
			s.Destroy()
			return nil, errors.Wrapf(err, "upload mesh %q", meshes[i].Name)
		}
		s.Meshes = append(s.Meshes, m)
	}
	if builder == nil {
		return s, nil
	}
	if err := s.buildAccels(builder, meshes); err != nil {
		s.Destroy()
		return nil, err
	}
	return s, nil
}

func uploadMesh(alloc *resource.Allocator, mesh *Mesh, usage driver.BufferUsage) (*SceneMesh, error) {
	if err := mesh.Layout.Validate(); err != nil {
		return nil, err
	}
	if len(mesh.Vertices) == 0 || len(mesh.Vertices)%mesh.Layout.Stride != 0 {
		return nil, errors.Newf("renderer: %d vertex bytes with stride %d", len(mesh.Vertices), mesh.Layout.Stride)
	}
	target := resource.Target{
		Stage:  driver.StageVertexInput,
		Access: driver.AccessShaderRead | driver.AccessVertexAttributeRead,
	}
	if usage&driver.BufferAccelBuildInput != 0 {
		target.Stage |= driver.StageAccelBuild
	}
	m := &SceneMesh{Name: mesh.Name, Count: mesh.VertexCount()}
	var err error
	m.Vertices, err = alloc.UploadBytes(driver.BufferInfo{Usage: usage | driver.BufferVertex}, mesh.Vertices, target)
	if err != nil {
		return nil, errors.Wrap(err, "vertices")
	}
	if len(mesh.Indices) == 0 {
		return m, nil
	}
	data := make([]byte, 4*len(mesh.Indices))
	for i, idx := range mesh.Indices {
		binary.LittleEndian.PutUint32(data[4*i:], idx)
	}
	target.Access = driver.AccessShaderRead | driver.AccessIndexRead
	m.Indices, err = alloc.UploadBytes(driver.BufferInfo{Usage: usage | driver.BufferIndex}, data, target)
	if err != nil {
		m.Vertices.Destroy()
		return nil, errors.Wrap(err, "indices")
	}
	m.Count = len(mesh.Indices)
	return m, nil
}

func (s *Scene) buildAccels(builder *accel.Builder, meshes []Mesh) error {
	blases := make([]*accel.Structure, 0, len(s.Meshes))
	for i, m := range s.Meshes {
		tri := accel.Triangles{
			Vertices:    m.Vertices,
			Layout:      meshes[i].Layout,
			VertexCount: meshes[i].VertexCount(),
			Opaque:      true,
		}
		if m.Indices != nil {
			tri.Indices = m.Indices
			tri.IndexType = driver.IndexUint32
			tri.IndexCount = m.Count
		}
		blas, err := builder.BuildBottom([]accel.Triangles{tri}, false)
		if err != nil {
			return errors.Wrapf(err, "build BLAS of mesh %q", m.Name)
		}
		m.BLAS = blas
		blases = append(blases, blas)
	}
	if len(blases) == 0 {
		return nil
	}
	if err := accel.Finalize(blases...); err != nil {
		return err
	}

	instances := make([]accel.Instance, len(s.Meshes))
	for i, m := range s.Meshes {
		instances[i] = accel.Instance{BLAS: m.BLAS, Transform: meshes[i].Transform, CustomIndex: uint32(i)}
		if instances[i].Transform == (mgl32.Mat4{}) {
			instances[i].Transform = mgl32.Ident4()
		}
	}
	tlas, err := builder.BuildTop(instances, false)
	if err != nil {
		return errors.Wrap(err, "build TLAS")
	}
	s.tlas = tlas
	if err := accel.Finalize(tlas); err != nil {
		return err
	}
	logger.Logger().Debug("scene acceleration structures ready", "meshes", len(s.Meshes))
	return nil
}

// TLAS returns the top level structure, nil on devices that do not trace
// rays.
func (s *Scene) TLAS() *accel.Structure { return s.tlas }

// AccelPayload returns the descriptor payload binding the top level
// structure.
func (s *Scene) AccelPayload() (descriptor.Accels, error) {
	if s.tlas == nil {
		return nil, errors.Wrap(driver.ErrUnsupported, "scene has no acceleration structure")
	}
	a, err := s.tlas.Accel()
	if err != nil {
		return nil, err
	}
	return descriptor.Accels{a}, nil
}

// Destroy frees the acceleration structures and mesh buffers. No frame may
// still read them.
func (s *Scene) Destroy() {
	if s.tlas != nil {
		s.tlas.Destroy()
		s.tlas = nil
	}
	for _, m := range s.Meshes {
		if m.BLAS != nil {
			m.BLAS.Destroy()
		}
		if m.Indices != nil {
			m.Indices.Destroy()
		}
		m.Vertices.Destroy()
	}
	s.Meshes = nil
}
