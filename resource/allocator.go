// Package resource owns device memory: buffers, images, staging buffers and
// the uploads that move host data into device local memory.
//
// Every resource returned here belongs to the caller, who must not destroy it
// while a submission referencing it may still execute. Staging buffers are the
// exception: once submitted they belong to the Allocator, which reclaims them
// after their fence signals.
package resource

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/renderer/driver"
	"github.com/vkngwrapper/renderer/internal/logger"
)

const (
	// DefaultStagingWindow is the largest chunk a single staging buffer
	// carries during a chunked upload.
	DefaultStagingWindow = 8 << 20

	drainTimeout = 100 * time.Millisecond
)

type Options struct {
	// StagingWindow is the chunk size of uploads that do not fit in one
	// staging buffer. Zero selects DefaultStagingWindow.
	StagingWindow int64
	// ImmediateUploadLimit is the largest payload uploaded through a single
	// staging buffer. Larger payloads are chunked. Zero selects StagingWindow.
	ImmediateUploadLimit int64
}

type Allocator struct {
	gpu     driver.GPU
	opts    Options
	pending []*StagingBuffer
}

func NewAllocator(gpu driver.GPU, opts Options) (*Allocator, error) {
	if opts.StagingWindow == 0 {
		opts.StagingWindow = DefaultStagingWindow
	}
	if opts.ImmediateUploadLimit == 0 {
		opts.ImmediateUploadLimit = opts.StagingWindow
	}
	if opts.StagingWindow < 0 || opts.ImmediateUploadLimit < 0 {
		return nil, errors.Newf("resource: invalid staging window %d or immediate upload limit %d",
			opts.StagingWindow, opts.ImmediateUploadLimit)
	}
	return &Allocator{gpu: gpu, opts: opts}, nil
}

func (a *Allocator) GPU() driver.GPU { return a.gpu }

func (a *Allocator) StagingWindow() int64 { return a.opts.StagingWindow }

// CreateBuffer allocates a buffer with its own memory. Allocation failures
// are not recoverable for the caller.
func (a *Allocator) CreateBuffer(info driver.BufferInfo) (driver.Buffer, error) {
	buf, err := a.gpu.NewBuffer(info)
	if err != nil {
		return nil, errors.Wrapf(err, "allocate buffer of %d bytes", info.Size)
	}
	logger.Logger().Debug("buffer allocated", "size", info.Size, "usage", uint32(info.Usage), "visible", info.Visible)
	return buf, nil
}

// CreateImage allocates an image and a view over all of its mip levels.
func (a *Allocator) CreateImage(info driver.ImageInfo) (*Image, error) {
	if info.MipLevels == 0 {
		info.MipLevels = 1
	}
	img, err := a.gpu.NewImage(info)
	if err != nil {
		return nil, errors.Wrapf(err, "allocate %dx%d image", info.Extent.Width, info.Extent.Height)
	}
	view, err := a.gpu.NewImageView(img, aspectOf(info.Format))
	if err != nil {
		img.Destroy()
		return nil, errors.Wrap(err, "create image view")
	}
	logger.Logger().Debug("image allocated", "width", info.Extent.Width, "height", info.Extent.Height,
		"format", int32(info.Format), "mips", info.MipLevels)
	return &Image{Image: img, View: view}, nil
}

func aspectOf(format driver.Format) driver.Aspect {
	switch format {
	case driver.FormatD32Sfloat:
		return driver.AspectDepth
	case driver.FormatD24UnormS8Uint, driver.FormatD32SfloatS8Uint:
		return driver.AspectDepth | driver.AspectStencil
	}
	return driver.AspectColor
}

// CreateStagingBuffer returns a host visible buffer of the given size with a
// command buffer in the recording state. Staging buffers retired since the
// last call are reclaimed first.
func (a *Allocator) CreateStagingBuffer(size int64) (*StagingBuffer, error) {
	if err := a.CleanupStagingBuffers(); err != nil {
		return nil, err
	}

	buf, err := a.gpu.NewBuffer(driver.BufferInfo{
		Size:    size,
		Usage:   driver.BufferTransferSrc,
		Visible: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "allocate staging buffer of %d bytes", size)
	}
	cmd, err := a.gpu.NewCmdBuffer()
	if err != nil {
		buf.Destroy()
		return nil, errors.Wrap(err, "allocate staging command buffer")
	}
	if err := cmd.Begin(); err != nil {
		cmd.Destroy()
		buf.Destroy()
		return nil, errors.Wrap(err, "begin staging command buffer")
	}
	return &StagingBuffer{alloc: a, buf: buf, cmd: cmd}, nil
}

// CleanupStagingBuffers destroys every submitted staging buffer whose fence
// has signaled. It never blocks.
func (a *Allocator) CleanupStagingBuffers() error {
	kept := a.pending[:0]
	var firstErr error
	for _, s := range a.pending {
		signaled, err := s.fence.Status()
		if err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "query staging fence")
		}
		if err != nil || !signaled {
			kept = append(kept, s)
			continue
		}
		s.retire()
	}
	for i := len(kept); i < len(a.pending); i++ {
		a.pending[i] = nil
	}
	a.pending = kept
	return firstErr
}

// Pending returns the number of submitted staging buffers not yet reclaimed.
func (a *Allocator) Pending() int { return len(a.pending) }

// Destroy blocks until every submitted staging buffer retired and reclaims
// them. Buffers and images created by the allocator are not affected.
func (a *Allocator) Destroy() error {
	for _, s := range a.pending {
		for {
			err := a.gpu.WaitFences(drainTimeout, s.fence)
			if errors.Is(err, driver.ErrTimeout) {
				logger.Logger().Debug("still waiting for staging buffer", "size", s.buf.Size())
				continue
			}
			if err != nil {
				return errors.Wrap(err, "drain staging buffers")
			}
			break
		}
		s.retire()
	}
	a.pending = nil
	return nil
}
