package fake

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/renderer/driver"
)

// InstanceSize is the size of one packed top level instance record. The
// referenced bottom level address sits in its last 8 bytes.
const InstanceSize = 64

type Accel struct {
	g    *GPU
	kind driver.AccelKind
	buf  *Buffer
	addr uint64

	built       bool
	compactable bool
	contentSize int64
	// Instances holds the bottom level addresses of the last top level build.
	Instances []uint64
	destroyed bool
}

func (g *GPU) BufferAddress(buffer driver.Buffer) uint64 {
	b := buffer.(*Buffer)
	b.check("device address query")
	if b.info.Usage&driver.BufferDeviceAddress == 0 {
		g.violate("device address of buffer without device address usage")
	}
	return b.addr
}

func (g *GPU) AccelBuildSizes(kind driver.AccelKind, geometries []driver.AccelGeometry) (driver.AccelSizes, error) {
	if len(geometries) == 0 {
		return driver.AccelSizes{}, errors.Newf("fake: %s build without geometry", kind)
	}
	prims := 0
	for _, geo := range geometries {
		if kind == driver.AccelTopLevel && geo.InstanceAddress == 0 {
			return driver.AccelSizes{}, errors.New("fake: top level geometry without instance data")
		}
		prims += geo.PrimitiveCount
	}
	return driver.AccelSizes{
		AccelSize:   256 + 128*int64(prims),
		ScratchSize: 64 + 32*int64(prims),
	}, nil
}

func (g *GPU) NewAccel(kind driver.AccelKind, buffer driver.Buffer) (driver.Accel, error) {
	b := buffer.(*Buffer)
	b.check("acceleration structure creation")
	if b.info.Usage&driver.BufferAccelStorage == 0 {
		return nil, errors.New("fake: acceleration structure buffer without storage usage")
	}
	a := &Accel{g: g, kind: kind, buf: b, addr: b.addr}
	g.accels[a.addr] = a
	g.track(a, "acceleration structure")
	return a, nil
}

func (a *Accel) Kind() driver.AccelKind { return a.kind }

func (a *Accel) Address() uint64 {
	if a.destroyed {
		a.g.violate("address of destroyed acceleration structure")
	}
	return a.addr
}

// Built reports whether a build or copy into the structure executed.
func (a *Accel) Built() bool { return a.built }

func (a *Accel) Destroy() {
	a.destroyed = true
	delete(a.g.accels, a.addr)
	a.g.untrack(a, "acceleration structure")
}

func (a *Accel) check(op string) {
	if a.destroyed {
		a.g.violate("%s uses a destroyed acceleration structure", op)
	}
	if a.buf.destroyed {
		a.g.violate("%s uses an acceleration structure whose buffer was destroyed", op)
	}
}

type QueryPool struct {
	g       *GPU
	results []uint64
	written []bool
}

func (g *GPU) NewQueryPool(count int) (driver.QueryPool, error) {
	p := &QueryPool{g: g, results: make([]uint64, count), written: make([]bool, count)}
	g.track(p, "query pool")
	return p, nil
}

func (p *QueryPool) Result(query int) (uint64, error) {
	if query < 0 || query >= len(p.results) {
		return 0, errors.Newf("fake: query %d out of range", query)
	}
	if !p.written[query] {
		return 0, errors.Newf("fake: query %d has no result available", query)
	}
	return p.results[query], nil
}

func (p *QueryPool) Destroy() {
	p.g.untrack(p, "query pool")
}

func (g *GPU) CmdResetQueries(cmd driver.CmdBuffer, pool driver.QueryPool, first, count int) {
	p := pool.(*QueryPool)
	cmd.(*CmdBuffer).record(func() {
		for i := first; i < first+count && i < len(p.written); i++ {
			p.written[i] = false
		}
	})
}

func (g *GPU) findBuffer(addr uint64) *Buffer {
	for start, b := range g.buffers {
		if addr >= start && addr < start+uint64(b.info.Size) {
			return b
		}
	}
	return nil
}

func (g *GPU) CmdBuildAccel(cmd driver.CmdBuffer, build driver.AccelBuild) {
	dst := build.Dst.(*Accel)
	dst.check("build destination")
	sizes, err := g.AccelBuildSizes(build.Kind, build.Geometries)
	if err != nil {
		g.violate("%v", err)
		return
	}
	if dst.buf.info.Size < sizes.AccelSize {
		g.violate("%s buffer of %d bytes is smaller than the required %d", build.Kind, dst.buf.info.Size, sizes.AccelSize)
	}
	if scratch := g.findBuffer(build.ScratchAddress); scratch == nil {
		g.violate("%s build without live scratch memory", build.Kind)
	} else if int64(build.ScratchAddress-scratch.addr)+sizes.ScratchSize > scratch.info.Size {
		g.violate("%s scratch memory smaller than the required %d bytes", build.Kind, sizes.ScratchSize)
	}
	cmd.(*CmdBuffer).record(func() {
		dst.check("executed build destination")
		if build.Kind == driver.AccelTopLevel {
			dst.Instances = g.readInstances(build.Geometries[0])
		}
		dst.built = true
		dst.compactable = build.AllowCompaction
		dst.contentSize = sizes.AccelSize
		g.stats.Builds++
	})
}

func (g *GPU) readInstances(geo driver.AccelGeometry) []uint64 {
	buf := g.findBuffer(geo.InstanceAddress)
	if buf == nil {
		g.violate("top level build reads instances from unknown address %#x", geo.InstanceAddress)
		return nil
	}
	off := int64(geo.InstanceAddress - buf.addr)
	if off+int64(geo.PrimitiveCount)*InstanceSize > buf.info.Size {
		g.violate("top level build reads %d instances past the end of the instance buffer", geo.PrimitiveCount)
		return nil
	}
	refs := make([]uint64, geo.PrimitiveCount)
	for i := range refs {
		rec := buf.data[off+int64(i)*InstanceSize : off+int64(i+1)*InstanceSize]
		refs[i] = binary.LittleEndian.Uint64(rec[56:])
		blas, ok := g.accels[refs[i]]
		switch {
		case !ok:
			g.violate("instance %d references unknown acceleration structure %#x", i, refs[i])
		case blas.kind != driver.AccelBottomLevel:
			g.violate("instance %d references a top level structure", i)
		case !blas.built:
			g.violate("instance %d references a bottom level structure that was never built", i)
		}
	}
	return refs
}

func (g *GPU) CmdWriteCompactedSize(cmd driver.CmdBuffer, accel driver.Accel, pool driver.QueryPool, query int) {
	a, p := accel.(*Accel), pool.(*QueryPool)
	cmd.(*CmdBuffer).record(func() {
		a.check("executed compacted size query")
		if !a.built || !a.compactable {
			g.violate("compacted size of %s that was not built for compaction", a.kind)
			return
		}
		p.results[query] = uint64(((a.contentSize/2)+0xff)&^0xff)
		p.written[query] = true
	})
}

func (g *GPU) CmdCopyAccel(cmd driver.CmdBuffer, src, dst driver.Accel, compact bool) {
	s, d := src.(*Accel), dst.(*Accel)
	s.check("copy source")
	d.check("copy destination")
	cmd.(*CmdBuffer).record(func() {
		s.check("executed copy source")
		d.check("executed copy destination")
		if !s.built {
			g.violate("copy from %s that was never built", s.kind)
			return
		}
		size := s.contentSize
		if compact {
			size = ((s.contentSize / 2) + 0xff) &^ 0xff
			g.stats.CompactCopies++
		}
		if d.buf.info.Size < size {
			g.violate("copy of %d bytes into %s buffer of %d bytes", size, d.kind, d.buf.info.Size)
		}
		d.built = true
		d.contentSize = size
		d.Instances = s.Instances
	})
}
