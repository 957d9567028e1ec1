package fake

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/renderer/driver"
)

// Buffer keeps its contents in host memory whether or not it is visible.
type Buffer struct {
	g         *GPU
	info      driver.BufferInfo
	data      []byte
	addr      uint64
	destroyed bool
}

func (g *GPU) NewBuffer(info driver.BufferInfo) (driver.Buffer, error) {
	if info.Size <= 0 {
		return nil, errors.Newf("fake: buffer size %d", info.Size)
	}
	b := &Buffer{
		g:    g,
		info: info,
		data: make([]byte, info.Size),
		addr: g.allocAddress(info.Size),
	}
	g.buffers[b.addr] = b
	g.track(b, "buffer")
	return b, nil
}

func (b *Buffer) Size() int64               { return b.info.Size }
func (b *Buffer) Usage() driver.BufferUsage { return b.info.Usage }
func (b *Buffer) Visible() bool             { return b.info.Visible }

func (b *Buffer) Bytes() []byte {
	if !b.info.Visible || b.destroyed {
		return nil
	}
	return b.data
}

// Contents returns the buffer memory regardless of visibility.
func (b *Buffer) Contents() []byte { return b.data }

// Destroyed reports whether Destroy was called.
func (b *Buffer) Destroyed() bool { return b.destroyed }

func (b *Buffer) Flush(offset, size int64) error {
	if !b.info.Visible {
		return errors.Newf("fake: flush of buffer that is not host visible")
	}
	if offset < 0 || size < 0 || offset+size > b.info.Size {
		return errors.Newf("fake: flush range [%d, %d) outside of buffer of size %d", offset, offset+size, b.info.Size)
	}
	b.g.stats.Flushes++
	return nil
}

func (b *Buffer) Destroy() {
	b.destroyed = true
	delete(b.g.buffers, b.addr)
	b.g.untrack(b, "buffer")
}

func (b *Buffer) check(op string) {
	if b.destroyed {
		b.g.violate("%s uses a destroyed buffer", op)
	}
}

type Image struct {
	g         *GPU
	info      driver.ImageInfo
	data      []byte
	clear     [4]float32
	destroyed bool
	swapchain bool
}

func (g *GPU) NewImage(info driver.ImageInfo) (driver.Image, error) {
	if info.Extent.Width <= 0 || info.Extent.Height <= 0 {
		return nil, errors.Newf("fake: image extent %dx%d", info.Extent.Width, info.Extent.Height)
	}
	if info.MipLevels == 0 {
		info.MipLevels = 1
	}
	img := &Image{g: g, info: info}
	if size := info.Format.Size(); size > 0 {
		depth := info.Extent.Depth
		if depth == 0 {
			depth = 1
		}
		img.data = make([]byte, size*info.Extent.Width*info.Extent.Height*depth)
	}
	g.track(img, "image")
	return img, nil
}

func (i *Image) Format() driver.Format   { return i.info.Format }
func (i *Image) Extent() driver.Extent3D { return i.info.Extent }
func (i *Image) MipLevels() int          { return i.info.MipLevels }

// Contents returns the texels of mip level 0.
func (i *Image) Contents() []byte { return i.data }

// ClearColor returns the color of the last executed clear.
func (i *Image) ClearColor() [4]float32 { return i.clear }

func (i *Image) Destroy() {
	if i.swapchain {
		i.g.violate("swapchain image destroyed directly")
		return
	}
	i.destroyed = true
	i.g.untrack(i, "image")
}

func (i *Image) check(op string) {
	if i.destroyed {
		i.g.violate("%s uses a destroyed image", op)
	}
}

type ImageView struct {
	g         *GPU
	image     *Image
	aspect    driver.Aspect
	destroyed bool
}

func (g *GPU) NewImageView(image driver.Image, aspect driver.Aspect) (driver.ImageView, error) {
	img, ok := image.(*Image)
	if !ok {
		return nil, errors.AssertionFailedf("fake: foreign image %T", image)
	}
	img.check("image view creation")
	v := &ImageView{g: g, image: img, aspect: aspect}
	g.track(v, "image view")
	return v, nil
}

func (v *ImageView) Image() driver.Image { return v.image }

func (v *ImageView) Destroy() {
	v.destroyed = true
	v.g.untrack(v, "image view")
}

type Sampler struct {
	g    *GPU
	info driver.SamplerInfo
}

func (g *GPU) NewSampler(info driver.SamplerInfo) (driver.Sampler, error) {
	s := &Sampler{g: g, info: info}
	g.track(s, "sampler")
	return s, nil
}

func (s *Sampler) Destroy() {
	s.g.untrack(s, "sampler")
}

// Framebuffer is a stand-in for framebuffers created by render passes.
type Framebuffer struct {
	g    *GPU
	View driver.ImageView
}

func (g *GPU) NewFramebuffer(view driver.ImageView) *Framebuffer {
	fb := &Framebuffer{g: g, View: view}
	g.track(fb, "framebuffer")
	return fb
}

func (f *Framebuffer) Destroy() {
	f.g.untrack(f, "framebuffer")
}
