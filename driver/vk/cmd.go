package vk

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/renderer/driver"
	"github.com/vkngwrapper/renderer/internal/logger"
)

// CmdBuffer is a primary command buffer of the device's resettable pool.
type CmdBuffer struct {
	g      *GPU
	buffer core1_0.CommandBuffer
}

func (g *GPU) NewCmdBuffer() (driver.CmdBuffer, error) {
	buffers, _, err := g.driver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        g.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return nil, errors.Wrap(err, "allocate command buffer")
	}
	return &CmdBuffer{g: g, buffer: buffers[0]}, nil
}

// Handle returns the command buffer for commands this package does not
// wrap, such as render passes and draws.
func (c *CmdBuffer) Handle() core1_0.CommandBuffer { return c.buffer }

func (c *CmdBuffer) Begin() error {
	_, err := c.g.driver.BeginCommandBuffer(c.buffer, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	return errors.Wrap(err, "begin command buffer")
}

func (c *CmdBuffer) End() error {
	_, err := c.g.driver.EndCommandBuffer(c.buffer)
	return errors.Wrap(err, "end command buffer")
}

func (c *CmdBuffer) Reset() error {
	_, err := c.g.driver.ResetCommandBuffer(c.buffer, 0)
	return errors.Wrap(err, "reset command buffer")
}

// logCmdError reports a recording failure. Recording calls only fail on
// invalid arguments, which validation reports in more detail.
func logCmdError(cmd string, err error) {
	if err != nil {
		logger.Logger().Error("command recording failed", "cmd", cmd, "err", err)
	}
}

func (c *CmdBuffer) CopyBuffer(src, dst driver.Buffer, regions ...driver.BufferCopy) {
	copies := make([]core1_0.BufferCopy, len(regions))
	for i, r := range regions {
		copies[i] = core1_0.BufferCopy{SrcOffset: int(r.SrcOffset), DstOffset: int(r.DstOffset), Size: int(r.Size)}
	}
	logCmdError("copy buffer", c.g.driver.CmdCopyBuffer(c.buffer, src.(*Buffer).buffer, dst.(*Buffer).buffer, copies...))
}

func (c *CmdBuffer) CopyBufferToImage(src driver.Buffer, dst driver.Image, layout driver.Layout, regions ...driver.BufferImageCopy) {
	img := dst.(*Image)
	copies := make([]core1_0.BufferImageCopy, len(regions))
	for i, r := range regions {
		extent := r.Extent
		if extent == (driver.Extent3D{}) {
			extent = img.info.Extent
		}
		if extent.Depth == 0 {
			extent.Depth = 1
		}
		copies[i] = core1_0.BufferImageCopy{
			BufferOffset: int(r.BufferOffset),
			ImageSubresource: core1_0.ImageSubresourceLayers{
				AspectMask:     core1_0.ImageAspectColor,
				MipLevel:       r.MipLevel,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
			ImageExtent: core1_0.Extent3D{Width: extent.Width, Height: extent.Height, Depth: extent.Depth},
		}
	}
	logCmdError("copy buffer to image", c.g.driver.CmdCopyBufferToImage(c.buffer, src.(*Buffer).buffer, img.image,
		core1_0.ImageLayout(layout), copies...))
}

func (c *CmdBuffer) FillBuffer(dst driver.Buffer, offset, size int64, value uint32) {
	b := dst.(*Buffer)
	if size == 0 {
		size = b.info.Size - offset
	}
	c.g.driver.CmdFillBuffer(c.buffer, b.buffer, int(offset), int(size), value)
}

func (c *CmdBuffer) ClearColorImage(dst driver.Image, layout driver.Layout, color [4]float32) {
	img := dst.(*Image)
	c.g.driver.CmdClearColorImage(c.buffer, img.image, core1_0.ImageLayout(layout), core1_0.ClearValueFloat(color),
		core1_0.ImageSubresourceRange{
			AspectMask:     core1_0.ImageAspectColor,
			BaseMipLevel:   0,
			LevelCount:     img.info.MipLevels,
			BaseArrayLayer: 0,
			LayerCount:     1,
		})
}

func (c *CmdBuffer) Barrier(src, dst driver.Stage, buffers []driver.BufferBarrier, images []driver.ImageBarrier) {
	var bufferBarriers []core1_0.BufferMemoryBarrier
	for _, b := range buffers {
		size := b.Size
		if size == 0 {
			size = b.Buffer.Size() - b.Offset
		}
		bufferBarriers = append(bufferBarriers, core1_0.BufferMemoryBarrier{
			SrcAccessMask:       core1_0.AccessFlags(b.SrcAccess),
			DstAccessMask:       core1_0.AccessFlags(b.DstAccess),
			SrcQueueFamilyIndex: -1,
			DstQueueFamilyIndex: -1,
			Buffer:              b.Buffer.(*Buffer).buffer,
			Offset:              int(b.Offset),
			Size:                int(size),
		})
	}
	var imageBarriers []core1_0.ImageMemoryBarrier
	for _, b := range images {
		img := b.Image.(*Image)
		imageBarriers = append(imageBarriers, core1_0.ImageMemoryBarrier{
			SrcAccessMask:       core1_0.AccessFlags(b.SrcAccess),
			DstAccessMask:       core1_0.AccessFlags(b.DstAccess),
			OldLayout:           core1_0.ImageLayout(b.OldLayout),
			NewLayout:           core1_0.ImageLayout(b.NewLayout),
			SrcQueueFamilyIndex: -1,
			DstQueueFamilyIndex: -1,
			Image:               img.image,
			SubresourceRange: core1_0.ImageSubresourceRange{
				AspectMask:     core1_0.ImageAspectFlags(b.Aspect),
				BaseMipLevel:   0,
				LevelCount:     img.info.MipLevels,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		})
	}
	logCmdError("pipeline barrier", c.g.driver.CmdPipelineBarrier(c.buffer,
		core1_0.PipelineStageFlags(src), core1_0.PipelineStageFlags(dst), 0, nil, bufferBarriers, imageBarriers))
}

func (c *CmdBuffer) Destroy() {
	c.g.driver.FreeCommandBuffers(c.buffer)
}
