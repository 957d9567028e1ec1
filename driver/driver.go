// Package driver defines the device interface the renderer core records and
// submits work against.
//
// Resources are interfaces owned by whoever created them. A resource must not
// be destroyed while a submission that references it may still be executing;
// every higher level package in this module exists to honor that rule.
package driver

import (
	"time"
)

// NoTimeout makes a fence wait block until the fence signals.
const NoTimeout = time.Duration(-1)

// GPU is a logical device with a single graphics queue.
type GPU interface {
	// NewBuffer creates a buffer with memory bound to it. Host visible
	// buffers stay mapped for their whole lifetime.
	NewBuffer(info BufferInfo) (Buffer, error)
	NewImage(info ImageInfo) (Image, error)
	NewImageView(image Image, aspect Aspect) (ImageView, error)
	NewSampler(info SamplerInfo) (Sampler, error)
	NewFence(signaled bool) (Fence, error)
	NewSemaphore() (Semaphore, error)
	NewCmdBuffer() (CmdBuffer, error)
	NewDescLayout(bindings []DescBinding) (DescLayout, error)
	NewDescPool(maxSets int, sizes []DescPoolSize) (DescPool, error)

	// Submit queues command buffers on the graphics queue.
	Submit(info SubmitInfo) error
	// WaitFences blocks until every fence is signaled. It returns
	// ErrTimeout if the timeout elapses first.
	WaitFences(timeout time.Duration, fences ...Fence) error
	ResetFences(fences ...Fence) error
	WaitIdle() error

	Limits() Limits
	Destroy()
}

// Buffer is a device buffer bound to its own memory allocation.
type Buffer interface {
	Size() int64
	Usage() BufferUsage
	Visible() bool
	// Bytes returns the mapped memory of a host visible buffer, nil otherwise.
	Bytes() []byte
	// Flush makes host writes in the given range visible to the device.
	Flush(offset, size int64) error
	Destroy()
}

type Image interface {
	Format() Format
	Extent() Extent3D
	MipLevels() int
	Destroy()
}

type ImageView interface {
	Image() Image
	Destroy()
}

type Sampler interface {
	Destroy()
}

// Fence is signaled by the device when a submission completes.
type Fence interface {
	Status() (signaled bool, err error)
	Destroy()
}

// Semaphore orders one submission after another on the device.
type Semaphore interface {
	Destroy()
}

// CmdBuffer records commands for later submission. Recording methods do not
// report errors; problems surface from End or Submit.
type CmdBuffer interface {
	Begin() error
	End() error
	Reset() error

	CopyBuffer(src, dst Buffer, regions ...BufferCopy)
	CopyBufferToImage(src Buffer, dst Image, layout Layout, regions ...BufferImageCopy)
	// FillBuffer repeats value over the range. A size of 0 fills to the end
	// of the buffer.
	FillBuffer(dst Buffer, offset, size int64, value uint32)
	ClearColorImage(dst Image, layout Layout, color [4]float32)
	Barrier(src, dst Stage, buffers []BufferBarrier, images []ImageBarrier)

	Destroy()
}

type DescLayout interface {
	Destroy()
}

type DescPool interface {
	Allocate(layouts ...DescLayout) ([]DescSet, error)
	Destroy()
}

type DescSet interface {
	Update(writes ...DescWrite) error
}

// Framebuffer is created by render passes outside of this package. The
// swapchain only tracks its lifetime.
type Framebuffer interface {
	Destroy()
}

// Accel is an acceleration structure living inside a buffer.
type Accel interface {
	Kind() AccelKind
	Address() uint64
	Destroy()
}

type QueryPool interface {
	// Result returns the 64 bit value written to the given query. It must
	// only be called after the writing submission's fence has signaled.
	Result(query int) (uint64, error)
	Destroy()
}

// RayTracer is implemented by a GPU that supports acceleration structures.
type RayTracer interface {
	BufferAddress(buffer Buffer) uint64
	AccelBuildSizes(kind AccelKind, geometries []AccelGeometry) (AccelSizes, error)
	NewAccel(kind AccelKind, buffer Buffer) (Accel, error)
	NewQueryPool(count int) (QueryPool, error)

	CmdResetQueries(cmd CmdBuffer, pool QueryPool, first, count int)
	CmdBuildAccel(cmd CmdBuffer, build AccelBuild)
	CmdWriteCompactedSize(cmd CmdBuffer, accel Accel, pool QueryPool, query int)
	CmdCopyAccel(cmd CmdBuffer, src, dst Accel, compact bool)
}

// Presenter creates swapchains for the surface it was opened with.
type Presenter interface {
	NewSwapchain(extent Extent2D, old Swapchain) (Swapchain, error)
}

type Swapchain interface {
	Format() Format
	Extent() Extent2D
	Images() []Image
	// Acquire returns the index of the next image. The semaphore is signaled
	// once the image is ready. ErrOutOfDate means the swapchain must be
	// recreated before anything is presented.
	Acquire(signal Semaphore) (int, error)
	// Present queues the image once wait is signaled. ErrOutOfDate and
	// ErrSuboptimal are reported after the present was queued.
	Present(wait Semaphore, index int) error
	Destroy()
}

// PipelineCacher is implemented by a GPU that keeps a pipeline cache.
type PipelineCacher interface {
	CacheIdentity() CacheIdentity
	PipelineCache() ([]byte, error)
}
