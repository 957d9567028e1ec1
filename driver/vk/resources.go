package vk

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/renderer/driver"
)

func (g *GPU) findMemoryType(typeFilter uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	for i, memoryType := range g.memory.MemoryTypes {
		if typeFilter&(1<<i) != 0 && memoryType.PropertyFlags&properties == properties {
			return i, nil
		}
	}
	return 0, errors.Newf("vk: no memory type with properties %s", properties)
}

func (g *GPU) allocate(reqs *core1_0.MemoryRequirements, visible bool) (core1_0.DeviceMemory, error) {
	properties := core1_0.MemoryPropertyDeviceLocal
	if visible {
		properties = core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent
	}
	index, err := g.findMemoryType(reqs.MemoryTypeBits, properties)
	if err != nil {
		return core1_0.DeviceMemory{}, err
	}
	memory, _, err := g.driver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: index,
	})
	if err != nil {
		return core1_0.DeviceMemory{}, errors.Wrapf(err, "allocate %d bytes", reqs.Size)
	}
	return memory, nil
}

type Buffer struct {
	g      *GPU
	info   driver.BufferInfo
	buffer core1_0.Buffer
	memory core1_0.DeviceMemory
	mapped []byte
}

func (g *GPU) NewBuffer(info driver.BufferInfo) (driver.Buffer, error) {
	if info.Size <= 0 {
		return nil, errors.Newf("vk: buffer size %d", info.Size)
	}
	b := &Buffer{g: g, info: info}
	var err error
	b.buffer, _, err = g.driver.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        int(info.Size),
		Usage:       core1_0.BufferUsageFlags(info.Usage),
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create buffer")
	}
	b.memory, err = g.allocate(g.driver.GetBufferMemoryRequirements(b.buffer), info.Visible)
	if err != nil {
		b.Destroy()
		return nil, err
	}
	if _, err = g.driver.BindBufferMemory(b.buffer, b.memory, 0); err != nil {
		b.Destroy()
		return nil, errors.Wrap(err, "bind buffer memory")
	}
	if info.Visible {
		ptr, _, err := g.driver.MapMemory(b.memory, 0, int(info.Size), 0)
		if err != nil {
			b.Destroy()
			return nil, errors.Wrap(err, "map buffer memory")
		}
		b.mapped = unsafe.Slice((*byte)(ptr), info.Size)
	}
	return b, nil
}

func (b *Buffer) Size() int64               { return b.info.Size }
func (b *Buffer) Usage() driver.BufferUsage { return b.info.Usage }
func (b *Buffer) Visible() bool             { return b.info.Visible }
func (b *Buffer) Bytes() []byte             { return b.mapped }

// Flush only validates the range: mapped memory is host coherent.
func (b *Buffer) Flush(offset, size int64) error {
	if b.mapped == nil {
		return errors.New("vk: flush of buffer that is not host visible")
	}
	if offset < 0 || size < 0 || offset+size > b.info.Size {
		return errors.Newf("vk: flush range [%d, %d) outside of buffer of size %d", offset, offset+size, b.info.Size)
	}
	return nil
}

func (b *Buffer) Destroy() {
	if b.mapped != nil {
		b.g.driver.UnmapMemory(b.memory)
		b.mapped = nil
	}
	if b.buffer.Initialized() {
		b.g.driver.DestroyBuffer(b.buffer, nil)
	}
	if b.memory.Initialized() {
		b.g.driver.FreeMemory(b.memory, nil)
	}
}

type Image struct {
	g      *GPU
	info   driver.ImageInfo
	image  core1_0.Image
	memory core1_0.DeviceMemory
	// owned is false for swapchain images.
	owned bool
}

func (g *GPU) NewImage(info driver.ImageInfo) (driver.Image, error) {
	if info.MipLevels == 0 {
		info.MipLevels = 1
	}
	if info.Extent.Depth == 0 {
		info.Extent.Depth = 1
	}
	imageType := core1_0.ImageType2D
	if info.Extent.Depth > 1 {
		imageType = core1_0.ImageType3D
	}
	img := &Image{g: g, info: info, owned: true}
	var err error
	img.image, _, err = g.driver.CreateImage(nil, core1_0.ImageCreateInfo{
		ImageType:     imageType,
		Extent:        core1_0.Extent3D{Width: info.Extent.Width, Height: info.Extent.Height, Depth: info.Extent.Depth},
		MipLevels:     info.MipLevels,
		ArrayLayers:   1,
		Format:        core1_0.Format(info.Format),
		Tiling:        core1_0.ImageTilingOptimal,
		InitialLayout: core1_0.ImageLayoutUndefined,
		Usage:         core1_0.ImageUsageFlags(info.Usage),
		SharingMode:   core1_0.SharingModeExclusive,
		Samples:       core1_0.Samples1,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create image")
	}
	img.memory, err = g.allocate(g.driver.GetImageMemoryRequirements(img.image), false)
	if err != nil {
		img.Destroy()
		return nil, err
	}
	if _, err := g.driver.BindImageMemory(img.image, img.memory, 0); err != nil {
		img.Destroy()
		return nil, errors.Wrap(err, "bind image memory")
	}
	return img, nil
}

func (i *Image) Format() driver.Format   { return i.info.Format }
func (i *Image) Extent() driver.Extent3D { return i.info.Extent }
func (i *Image) MipLevels() int          { return i.info.MipLevels }

func (i *Image) Destroy() {
	if !i.owned {
		return
	}
	if i.image.Initialized() {
		i.g.driver.DestroyImage(i.image, nil)
	}
	if i.memory.Initialized() {
		i.g.driver.FreeMemory(i.memory, nil)
	}
}

type ImageView struct {
	g     *GPU
	image *Image
	view  core1_0.ImageView
}

func (g *GPU) NewImageView(image driver.Image, aspect driver.Aspect) (driver.ImageView, error) {
	img := image.(*Image)
	viewType := core1_0.ImageViewType2D
	if img.info.Extent.Depth > 1 {
		viewType = core1_0.ImageViewType3D
	}
	view, _, err := g.driver.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    img.image,
		ViewType: viewType,
		Format:   core1_0.Format(img.info.Format),
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     core1_0.ImageAspectFlags(aspect),
			BaseMipLevel:   0,
			LevelCount:     img.info.MipLevels,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create image view")
	}
	return &ImageView{g: g, image: img, view: view}, nil
}

func (v *ImageView) Image() driver.Image { return v.image }

// Handle returns the view for framebuffers created outside of this package.
func (v *ImageView) Handle() core1_0.ImageView { return v.view }

func (v *ImageView) Destroy() {
	v.g.driver.DestroyImageView(v.view, nil)
}

type Sampler struct {
	g       *GPU
	sampler core1_0.Sampler
}

func (g *GPU) NewSampler(info driver.SamplerInfo) (driver.Sampler, error) {
	filter, mipmap := core1_0.FilterNearest, core1_0.SamplerMipmapModeNearest
	if info.Linear {
		filter, mipmap = core1_0.FilterLinear, core1_0.SamplerMipmapModeLinear
	}
	address := core1_0.SamplerAddressModeClampToEdge
	if info.Repeat {
		address = core1_0.SamplerAddressModeRepeat
	}
	sampler, _, err := g.driver.CreateSampler(nil, core1_0.SamplerCreateInfo{
		MagFilter:    filter,
		MinFilter:    filter,
		AddressModeU: address,
		AddressModeV: address,
		AddressModeW: address,
		BorderColor:  core1_0.BorderColorIntOpaqueBlack,
		MipmapMode:   mipmap,
		MinLod:       0,
		MaxLod:       info.MaxLod,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create sampler")
	}
	return &Sampler{g: g, sampler: sampler}, nil
}

func (s *Sampler) Destroy() {
	s.g.driver.DestroySampler(s.sampler, nil)
}

// Framebuffer wraps a framebuffer created for a render pass.
type Framebuffer struct {
	g           *GPU
	framebuffer core1_0.Framebuffer
}

// NewFramebuffer creates a framebuffer of the render pass over the views.
func (g *GPU) NewFramebuffer(renderPass core1_0.RenderPass, extent driver.Extent2D, views ...driver.ImageView) (*Framebuffer, error) {
	attachments := make([]core1_0.ImageView, len(views))
	for i, v := range views {
		attachments[i] = v.(*ImageView).view
	}
	fb, _, err := g.driver.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
		RenderPass:  renderPass,
		Attachments: attachments,
		Width:       extent.Width,
		Height:      extent.Height,
		Layers:      1,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create framebuffer")
	}
	return &Framebuffer{g: g, framebuffer: fb}, nil
}

func (f *Framebuffer) Handle() core1_0.Framebuffer { return f.framebuffer }

func (f *Framebuffer) Destroy() {
	f.g.driver.DestroyFramebuffer(f.framebuffer, nil)
}
