package accel

import (
	"encoding/binary"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/renderer/driver"
	"github.com/vkngwrapper/renderer/layout"
	"github.com/vkngwrapper/renderer/resource"
)

// InstanceSize is the size of one packed instance record.
const InstanceSize = 64

// Triangles is an indexed or non indexed triangle list already resident on
// the device. Both buffers need the device address and build input usages.
type Triangles struct {
	Vertices    driver.Buffer
	Layout      layout.Vertex
	VertexCount int

	// Indices may be nil, the vertices then form the triangle list directly.
	Indices    driver.Buffer
	IndexType  driver.IndexType
	IndexCount int

	Opaque bool
}

func (b *Builder) geometry(t Triangles) (driver.AccelGeometry, error) {
	pos, err := t.Layout.Position()
	if err != nil {
		return driver.AccelGeometry{}, err
	}
	if t.VertexCount <= 0 {
		return driver.AccelGeometry{}, errors.Newf("accel: geometry with %d vertices", t.VertexCount)
	}
	geo := driver.AccelGeometry{
		VertexAddress: b.rt.BufferAddress(t.Vertices) + uint64(pos.Offset),
		VertexFormat:  pos.Format,
		VertexStride:  t.Layout.Stride,
		MaxVertex:     t.VertexCount - 1,
		IndexType:     driver.IndexNone,
		Opaque:        t.Opaque,
	}
	count := t.VertexCount
	if t.Indices != nil {
		geo.IndexAddress = b.rt.BufferAddress(t.Indices)
		geo.IndexType = t.IndexType
		count = t.IndexCount
	}
	if count == 0 || count%3 != 0 {
		return driver.AccelGeometry{}, errors.Newf("accel: %d indices do not form triangles", count)
	}
	geo.PrimitiveCount = count / 3
	return geo, nil
}

// BuildBottom submits the build of a bottom level structure over one or
// more triangle geometries. It only blocks on the build if wait is set.
func (b *Builder) BuildBottom(geometries []Triangles, wait bool) (*Structure, error) {
	if len(geometries) == 0 {
		return nil, errors.New("accel: bottom level structure without geometry")
	}
	geos := make([]driver.AccelGeometry, len(geometries))
	for i, t := range geometries {
		var err error
		if geos[i], err = b.geometry(t); err != nil {
			return nil, errors.Wrapf(err, "geometry %d", i)
		}
	}
	return b.build(driver.AccelBottomLevel, geos, nil, wait)
}

// Instance places a bottom level structure in a top level one.
type Instance struct {
	BLAS      *Structure
	Transform mgl32.Mat4
	// CustomIndex is visible to shaders, only its low 24 bits are kept.
	CustomIndex uint32
	// Mask defaults to 0xff when zero.
	Mask      uint8
	SBTOffset uint32
	Flags     uint8
}

// pack writes the instance record the device reads: a row major 3x4
// transform, index and mask, hit group offset and flags, and the address of
// the bottom level structure.
func (inst Instance) pack(dst []byte, address uint64) {
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			binary.LittleEndian.PutUint32(dst[(row*4+col)*4:], math.Float32bits(inst.Transform.At(row, col)))
		}
	}
	mask := inst.Mask
	if mask == 0 {
		mask = 0xff
	}
	binary.LittleEndian.PutUint32(dst[48:], inst.CustomIndex&0xffffff|uint32(mask)<<24)
	binary.LittleEndian.PutUint32(dst[52:], inst.SBTOffset&0xffffff|uint32(inst.Flags)<<24)
	binary.LittleEndian.PutUint64(dst[56:], address)
}

// BuildTop submits the build of a top level structure. Every referenced
// bottom level structure is compacted and cleaned up first, blocking if
// needed, because the instances carry their final device addresses. The
// instance buffer is uploaded before the build is recorded.
func (b *Builder) BuildTop(instances []Instance, wait bool) (*Structure, error) {
	if len(instances) == 0 {
		return nil, errors.New("accel: top level structure without instances")
	}
	data := make([]byte, len(instances)*InstanceSize)
	for i, inst := range instances {
		if inst.BLAS == nil || inst.BLAS.kind != driver.AccelBottomLevel {
			return nil, errors.Newf("accel: instance %d does not reference a bottom level structure", i)
		}
		if err := inst.BLAS.Compact(true); err != nil {
			return nil, err
		}
		if err := inst.BLAS.Cleanup(true); err != nil {
			return nil, err
		}
		addr, err := inst.BLAS.Address()
		if err != nil {
			return nil, err
		}
		inst.pack(data[i*InstanceSize:], addr)
	}

	buf, err := b.alloc.UploadBytes(driver.BufferInfo{
		Usage: driver.BufferAccelBuildInput | driver.BufferDeviceAddress,
	}, data, resource.Target{Stage: driver.StageAccelBuild, Access: driver.AccessAccelRead})
	if err != nil {
		return nil, errors.Wrap(err, "upload instances")
	}
	geo := driver.AccelGeometry{
		InstanceAddress: b.rt.BufferAddress(buf),
		PrimitiveCount:  len(instances),
	}
	return b.build(driver.AccelTopLevel, []driver.AccelGeometry{geo}, buf, wait)
}
