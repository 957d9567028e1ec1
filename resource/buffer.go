package resource

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/renderer/driver"
	"github.com/vkngwrapper/renderer/internal/logger"
)

// Image owns one image, its memory and a view over all mip levels.
type Image struct {
	Image driver.Image
	View  driver.ImageView
}

func (i *Image) Destroy() {
	i.View.Destroy()
	i.Image.Destroy()
}

// Target is the pipeline stage and access mask that consumes an uploaded
// resource. The upload ends with a barrier from the transfer write to it.
type Target struct {
	Stage  driver.Stage
	Access driver.Access
}

// ReadFunc fills dst with the payload bytes starting at offset.
type ReadFunc func(offset int64, dst []byte) error

// BytesReader returns a ReadFunc over data.
func BytesReader(data []byte) ReadFunc {
	return func(offset int64, dst []byte) error {
		if offset+int64(len(dst)) > int64(len(data)) {
			return errors.Newf("resource: read of %d bytes at %d past payload of %d bytes", len(dst), offset, len(data))
		}
		copy(dst, data[offset:])
		return nil
	}
}

// UploadBuffer creates a device buffer of info.Size bytes filled by read and
// blocks until the contents are visible to target. Payloads up to the
// immediate upload limit go through one staging buffer, larger ones through
// a chunked Uploader.
func (a *Allocator) UploadBuffer(info driver.BufferInfo, read ReadFunc, target Target) (driver.Buffer, error) {
	if info.Size <= 0 {
		return nil, errors.Newf("resource: upload of %d bytes", info.Size)
	}
	info.Usage |= driver.BufferTransferDst
	buf, err := a.CreateBuffer(info)
	if err != nil {
		return nil, err
	}
	if info.Size <= a.opts.ImmediateUploadLimit {
		err = a.uploadImmediate(buf, info.Size, read, target)
	} else {
		err = a.uploadChunked(buf, info.Size, read, target)
	}
	if err != nil {
		buf.Destroy()
		return nil, err
	}
	return buf, nil
}

// UploadBytes is UploadBuffer over a byte slice. A zero info.Size selects
// the length of data, which must not be empty.
func (a *Allocator) UploadBytes(info driver.BufferInfo, data []byte, target Target) (driver.Buffer, error) {
	if info.Size == 0 {
		info.Size = int64(len(data))
	}
	return a.UploadBuffer(info, BytesReader(data), target)
}

func (a *Allocator) uploadImmediate(dst driver.Buffer, size int64, read ReadFunc, target Target) error {
	staging, err := a.CreateStagingBuffer(size)
	if err != nil {
		return err
	}
	if err := read(0, staging.Bytes()[:size]); err != nil {
		staging.Close()
		return errors.Wrap(err, "read upload payload")
	}
	cmd := staging.Cmd()
	cmd.CopyBuffer(staging.Buffer(), dst, driver.BufferCopy{Size: size})
	cmd.Barrier(driver.StageTransfer, target.Stage, []driver.BufferBarrier{{
		Buffer:    dst,
		SrcAccess: driver.AccessTransferWrite,
		DstAccess: target.Access,
	}}, nil)
	if err := staging.Submit(); err != nil {
		return err
	}
	if err := staging.Wait(); err != nil {
		return err
	}
	return a.CleanupStagingBuffers()
}

func (a *Allocator) uploadChunked(dst driver.Buffer, size int64, read ReadFunc, target Target) error {
	up, err := NewUploader(a, a.opts.StagingWindow)
	if err != nil {
		return err
	}
	defer up.Destroy()
	return up.Upload(dst, size, read, target)
}

// CreateZeroedBuffer creates a device buffer cleared to zero and blocks until
// the clear is visible to target.
func (a *Allocator) CreateZeroedBuffer(info driver.BufferInfo, target Target) (driver.Buffer, error) {
	info.Usage |= driver.BufferTransferDst
	buf, err := a.CreateBuffer(info)
	if err != nil {
		return nil, err
	}
	err = a.Immediate(func(cmd driver.CmdBuffer) error {
		cmd.FillBuffer(buf, 0, 0, 0)
		cmd.Barrier(driver.StageTransfer, target.Stage, []driver.BufferBarrier{{
			Buffer:    buf,
			SrcAccess: driver.AccessTransferWrite,
			DstAccess: target.Access,
		}}, nil)
		return nil
	})
	if err != nil {
		buf.Destroy()
		return nil, err
	}
	return buf, nil
}

// UploadImage creates a sampled image from tightly packed mip 0 texels and
// leaves it in the shader read only layout.
func (a *Allocator) UploadImage(info driver.ImageInfo, texels []byte, stage driver.Stage) (*Image, error) {
	want := int64(info.Format.Size()) * int64(info.Extent.Width) * int64(info.Extent.Height) * int64(max(info.Extent.Depth, 1))
	if want == 0 || int64(len(texels)) != want {
		return nil, errors.Newf("resource: %d bytes of texels for a %dx%d image of format %d",
			len(texels), info.Extent.Width, info.Extent.Height, info.Format)
	}
	info.Usage |= driver.ImageTransferDst | driver.ImageSampled
	img, err := a.CreateImage(info)
	if err != nil {
		return nil, err
	}
	staging, err := a.CreateStagingBuffer(want)
	if err != nil {
		img.Destroy()
		return nil, err
	}
	copy(staging.Bytes(), texels)

	aspect := aspectOf(info.Format)
	cmd := staging.Cmd()
	cmd.Barrier(driver.StageTopOfPipe, driver.StageTransfer, nil, []driver.ImageBarrier{{
		Image:     img.Image,
		DstAccess: driver.AccessTransferWrite,
		OldLayout: driver.LayoutUndefined,
		NewLayout: driver.LayoutTransferDst,
		Aspect:    aspect,
	}})
	cmd.CopyBufferToImage(staging.Buffer(), img.Image, driver.LayoutTransferDst, driver.BufferImageCopy{
		Extent: info.Extent,
	})
	cmd.Barrier(driver.StageTransfer, stage, nil, []driver.ImageBarrier{{
		Image:     img.Image,
		SrcAccess: driver.AccessTransferWrite,
		DstAccess: driver.AccessShaderRead,
		OldLayout: driver.LayoutTransferDst,
		NewLayout: driver.LayoutShaderReadOnly,
		Aspect:    aspect,
	}})
	if err := staging.Submit(); err != nil {
		img.Destroy()
		return nil, err
	}
	if err := staging.Wait(); err != nil {
		img.Destroy()
		return nil, err
	}
	return img, a.CleanupStagingBuffers()
}

// Immediate records commands into a one time command buffer, submits it and
// blocks until it completed.
func (a *Allocator) Immediate(record func(cmd driver.CmdBuffer) error) error {
	cmd, err := a.gpu.NewCmdBuffer()
	if err != nil {
		return errors.Wrap(err, "allocate command buffer")
	}
	defer cmd.Destroy()
	fence, err := a.gpu.NewFence(false)
	if err != nil {
		return errors.Wrap(err, "create fence")
	}
	defer fence.Destroy()

	if err := cmd.Begin(); err != nil {
		return errors.Wrap(err, "begin command buffer")
	}
	if err := record(cmd); err != nil {
		cmd.End()
		return err
	}
	if err := cmd.End(); err != nil {
		return errors.Wrap(err, "end command buffer")
	}
	if err := a.gpu.Submit(driver.SubmitInfo{CmdBuffers: []driver.CmdBuffer{cmd}, Fence: fence}); err != nil {
		return errors.Wrap(err, "submit command buffer")
	}
	if err := a.gpu.WaitFences(driver.NoTimeout, fence); err != nil {
		return errors.Wrap(err, "wait for command buffer")
	}
	logger.Logger().Debug("immediate commands completed")
	return nil
}
