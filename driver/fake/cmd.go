package fake

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/renderer/driver"
)

type cmdState int

const (
	cmdInitial cmdState = iota
	cmdRecording
	cmdExecutable
	cmdPending
)

func (s cmdState) String() string {
	switch s {
	case cmdInitial:
		return "initial"
	case cmdRecording:
		return "recording"
	case cmdExecutable:
		return "executable"
	case cmdPending:
		return "pending"
	}
	return "unknown"
}

// CmdBuffer records commands as closures executed when its submission
// completes.
type CmdBuffer struct {
	g         *GPU
	state     cmdState
	ops       []func()
	destroyed bool
}

func (g *GPU) NewCmdBuffer() (driver.CmdBuffer, error) {
	c := &CmdBuffer{g: g}
	g.track(c, "command buffer")
	return c, nil
}

// Recorded returns the number of commands recorded since the last reset.
func (c *CmdBuffer) Recorded() int { return len(c.ops) }

func (c *CmdBuffer) Begin() error {
	switch c.state {
	case cmdPending:
		c.g.violate("command buffer re-recorded while its submission is pending")
	case cmdRecording:
		return errors.New("fake: command buffer already recording")
	}
	c.ops = c.ops[:0]
	c.state = cmdRecording
	return nil
}

func (c *CmdBuffer) End() error {
	if c.state != cmdRecording {
		return errors.Newf("fake: end of command buffer in state %s", c.state)
	}
	c.state = cmdExecutable
	return nil
}

func (c *CmdBuffer) Reset() error {
	if c.state == cmdPending {
		c.g.violate("command buffer reset while its submission is pending")
	}
	c.ops = c.ops[:0]
	c.state = cmdInitial
	return nil
}

func (c *CmdBuffer) record(op func()) {
	if c.state != cmdRecording {
		c.g.violate("command recorded outside of Begin/End")
	}
	c.ops = append(c.ops, op)
}

func (c *CmdBuffer) CopyBuffer(src, dst driver.Buffer, regions ...driver.BufferCopy) {
	s, d := src.(*Buffer), dst.(*Buffer)
	s.check("copy source")
	d.check("copy destination")
	c.record(func() {
		s.check("executed copy source")
		d.check("executed copy destination")
		for _, r := range regions {
			if r.SrcOffset+r.Size > s.info.Size || r.DstOffset+r.Size > d.info.Size {
				c.g.violate("copy of %d bytes out of bounds", r.Size)
				continue
			}
			copy(d.data[r.DstOffset:r.DstOffset+r.Size], s.data[r.SrcOffset:r.SrcOffset+r.Size])
			c.g.stats.Copies = append(c.g.stats.Copies, r.Size)
		}
	})
}

func (c *CmdBuffer) CopyBufferToImage(src driver.Buffer, dst driver.Image, layout driver.Layout, regions ...driver.BufferImageCopy) {
	s, d := src.(*Buffer), dst.(*Image)
	s.check("image copy source")
	d.check("image copy destination")
	if layout != driver.LayoutTransferDst && layout != driver.LayoutGeneral {
		c.g.violate("image copy destination in layout %d", layout)
	}
	c.record(func() {
		for _, r := range regions {
			if r.MipLevel != 0 || d.data == nil {
				continue
			}
			n := int64(len(d.data))
			if r.BufferOffset+n > s.info.Size {
				n = s.info.Size - r.BufferOffset
			}
			copy(d.data, s.data[r.BufferOffset:r.BufferOffset+n])
		}
	})
}

func (c *CmdBuffer) FillBuffer(dst driver.Buffer, offset, size int64, value uint32) {
	d := dst.(*Buffer)
	d.check("fill destination")
	c.record(func() {
		d.check("executed fill destination")
		if size == 0 {
			size = d.info.Size - offset
		}
		pattern := [4]byte{byte(value), byte(value >> 8), byte(value >> 16), byte(value >> 24)}
		for i := offset; i < offset+size && i < d.info.Size; i++ {
			d.data[i] = pattern[(i-offset)%4]
		}
		c.g.stats.Fills++
	})
}

func (c *CmdBuffer) ClearColorImage(dst driver.Image, layout driver.Layout, color [4]float32) {
	d := dst.(*Image)
	d.check("clear destination")
	c.record(func() {
		d.clear = color
		c.g.stats.Clears++
	})
}

func (c *CmdBuffer) Barrier(src, dst driver.Stage, buffers []driver.BufferBarrier, images []driver.ImageBarrier) {
	for _, b := range buffers {
		b.Buffer.(*Buffer).check("barrier")
	}
	for _, i := range images {
		i.Image.(*Image).check("barrier")
	}
	c.record(func() {
		c.g.stats.Barriers = append(c.g.stats.Barriers, Barrier{Src: src, Dst: dst, Buffers: buffers, Images: images})
	})
}

func (c *CmdBuffer) Destroy() {
	if c.state == cmdPending {
		c.g.violate("command buffer destroyed while its submission is pending")
	}
	c.destroyed = true
	c.g.untrack(c, "command buffer")
}
