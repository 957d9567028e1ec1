// Package renderer drives frames through a device: it owns the allocator,
// the ring of frames in flight and the swapchain, and hands each frame to a
// Pass that records the actual work.
//
// A frontend only needs Init, DrawFrame and OnResized, plus Close at exit.
package renderer

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/renderer/driver"
	"github.com/vkngwrapper/renderer/frame"
	"github.com/vkngwrapper/renderer/internal/logger"
	"github.com/vkngwrapper/renderer/pipecache"
	"github.com/vkngwrapper/renderer/resource"
	"github.com/vkngwrapper/renderer/swapchain"
)

// Frame is what a Pass records into.
type Frame[T any] struct {
	Slot  *frame.Slot[T]
	Image *swapchain.Image
	// Time is the time since Init, Delta the time since the previous frame.
	Time  time.Duration
	Delta time.Duration
	// Number counts the frames drawn so far.
	Number uint64
}

// Cmd returns the command buffer of the frame.
func (f *Frame[T]) Cmd() driver.CmdBuffer { return f.Slot.Cmd }

// Pass records the work of a frame. T is the payload every frame in flight
// carries, such as a framebuffer or a uniform buffer.
type Pass[T any] interface {
	NewFrame(alloc *resource.Allocator, slot int) (T, error)
	DestroyFrame(payload T)
	// Resize is called once the swapchain was created or recreated, with no
	// frame in flight.
	Resize(sc *swapchain.Swapchain) error
	Record(f *Frame[T]) error
}

// PostPass is implemented by a Pass that renders offscreen and composes the
// result into the swapchain image in a second submission. The second
// submission waits for the first one and for the swapchain image.
type PostPass[T any] interface {
	RecordPost(f *Frame[T], cmd driver.CmdBuffer) error
}

// FramebufferPass is implemented by a Pass that renders directly into the
// swapchain images through framebuffers.
type FramebufferPass interface {
	NewFramebuffer(view driver.ImageView, extent driver.Extent2D) (driver.Framebuffer, error)
}

type slot[T any] struct {
	payload    T
	postCmd    driver.CmdBuffer
	renderDone driver.Semaphore
}

type Renderer[T any] struct {
	gpu   driver.GPU
	cfg   Config
	pass  Pass[T]
	post  PostPass[T]
	alloc *resource.Allocator

	presenter driver.Presenter
	sc        *swapchain.Swapchain
	ring      *frame.Ring[*slot[T]]
	sources   []frame.UniformSource
	extent    driver.Extent2D
	stale     bool

	start  time.Duration
	last   time.Duration
	frames uint64
}

func New[T any](gpu driver.GPU, cfg Config, pass Pass[T]) (*Renderer[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	alloc, err := resource.NewAllocator(gpu, resource.Options{
		StagingWindow:        cfg.StagingWindow,
		ImmediateUploadLimit: cfg.ImmediateUploadLimit,
	})
	if err != nil {
		return nil, err
	}
	r := &Renderer[T]{gpu: gpu, cfg: cfg, pass: pass, alloc: alloc}
	r.post, _ = pass.(PostPass[T])
	return r, nil
}

func (r *Renderer[T]) Allocator() *resource.Allocator { return r.alloc }

func (r *Renderer[T]) Config() Config { return r.cfg }

// Swapchain returns the current swapchain, nil before Init.
func (r *Renderer[T]) Swapchain() *swapchain.Swapchain { return r.sc }

// Track registers uniform buffers uploaded at the start of every frame.
func (r *Renderer[T]) Track(src frame.UniformSource) {
	r.sources = append(r.sources, src)
	if r.ring != nil {
		r.ring.Track(src)
	}
}

// Init creates the swapchain for the presenter's surface and the frames in
// flight.
func (r *Renderer[T]) Init(presenter driver.Presenter, extent driver.Extent2D) error {
	if r.sc != nil {
		return errors.AssertionFailedf("renderer: Init called twice")
	}
	var newFramebuffer swapchain.FramebufferFunc
	if fp, ok := r.pass.(FramebufferPass); ok {
		newFramebuffer = fp.NewFramebuffer
	}
	sc, err := swapchain.New(r.gpu, presenter, extent, newFramebuffer)
	if err != nil {
		return err
	}
	r.presenter, r.sc, r.extent = presenter, sc, extent

	r.ring, err = frame.NewRing(r.gpu, r.cfg.FramesInFlight, r.newSlot)
	if err != nil {
		return err
	}
	for _, src := range r.sources {
		r.ring.Track(src)
	}
	if err := r.pass.Resize(sc); err != nil {
		return errors.Wrap(err, "resize pass")
	}
	r.start = hrtime.Now()
	r.last = r.start
	logger.Logger().Info("renderer initialized", "width", extent.Width, "height", extent.Height,
		"frames", r.cfg.FramesInFlight)
	return nil
}

func (r *Renderer[T]) newSlot(i int) (*slot[T], error) {
	s := &slot[T]{}
	var err error
	if s.payload, err = r.pass.NewFrame(r.alloc, i); err != nil {
		return nil, err
	}
	if r.post != nil {
		if s.postCmd, err = r.gpu.NewCmdBuffer(); err != nil {
			return nil, errors.Wrap(err, "allocate post command buffer")
		}
		if s.renderDone, err = r.gpu.NewSemaphore(); err != nil {
			return nil, errors.Wrap(err, "create render semaphore")
		}
	}
	return s, nil
}

func (r *Renderer[T]) destroySlot(s *slot[T]) {
	if s == nil {
		return
	}
	r.pass.DestroyFrame(s.payload)
	if s.postCmd != nil {
		s.postCmd.Destroy()
	}
	if s.renderDone != nil {
		s.renderDone.Destroy()
	}
}

// OnResized records the new surface extent. The swapchain is recreated before
// the next frame.
func (r *Renderer[T]) OnResized(extent driver.Extent2D) {
	r.extent = extent
	r.stale = true
}

func (r *Renderer[T]) recreate() error {
	if r.extent.Width == 0 || r.extent.Height == 0 {
		return nil
	}
	if err := r.sc.Recreate(r.extent); err != nil {
		return err
	}
	r.stale = false
	logger.Logger().Debug("swapchain recreated", "width", r.extent.Width, "height", r.extent.Height)
	return errors.Wrap(r.pass.Resize(r.sc), "resize pass")
}

// DrawFrame records, submits and presents one frame. Frames are skipped while
// the surface is out of date or has no area. Any returned error is fatal.
func (r *Renderer[T]) DrawFrame() error {
	if r.sc == nil {
		return errors.AssertionFailedf("renderer: DrawFrame before Init")
	}
	if r.stale {
		if err := r.recreate(); err != nil {
			return err
		}
		if r.stale {
			return nil
		}
	}

	fs, err := r.ring.AcquireNextFrame()
	if err != nil {
		return err
	}
	if err := r.alloc.CleanupStagingBuffers(); err != nil {
		return err
	}
	img, ok, err := r.sc.AcquireImage(fs.ImageAvailable)
	if err != nil {
		return err
	}
	if !ok {
		r.stale = true
		return nil
	}

	now := hrtime.Now()
	f := &Frame[T]{
		Slot: &frame.Slot[T]{
			Index:          fs.Index,
			Cmd:            fs.Cmd,
			Fence:          fs.Fence,
			ImageAvailable: fs.ImageAvailable,
			Finished:       fs.Finished,
			Extra:          fs.Extra.payload,
		},
		Image:  img,
		Time:   now - r.start,
		Delta:  now - r.last,
		Number: r.frames,
	}
	r.last = now

	if err := r.ring.BeginFrame(); err != nil {
		return err
	}
	if err := r.pass.Record(f); err != nil {
		return errors.Wrapf(err, "record frame %d", f.Number)
	}
	if err := r.ring.EndFrame(); err != nil {
		return err
	}

	imageWait := driver.SemaphoreWait{Semaphore: fs.ImageAvailable, Stage: driver.StageColorAttachmentOutput}
	if r.post == nil {
		if err := r.ring.Submit([]driver.SemaphoreWait{imageWait}, fs.Finished); err != nil {
			return err
		}
	} else if err := r.submitWithPost(f, fs, imageWait); err != nil {
		return err
	}

	ok, err = r.sc.Present(fs.Finished)
	if err != nil {
		return err
	}
	if !ok {
		r.stale = true
	}
	r.frames++
	return nil
}

// submitWithPost submits the offscreen work, then the post pass that waits
// for it and for the swapchain image. Only the post submission carries the
// slot's fence: it cannot complete before the offscreen work did.
func (r *Renderer[T]) submitWithPost(f *Frame[T], fs *frame.Slot[*slot[T]], imageWait driver.SemaphoreWait) error {
	s := fs.Extra
	err := r.gpu.Submit(driver.SubmitInfo{
		CmdBuffers: []driver.CmdBuffer{fs.Cmd},
		Signal:     []driver.Semaphore{s.renderDone},
	})
	if err != nil {
		return errors.Wrapf(err, "submit frame %d", f.Number)
	}

	cmd := s.postCmd
	if err := cmd.Reset(); err != nil {
		return errors.Wrap(err, "reset post command buffer")
	}
	if err := cmd.Begin(); err != nil {
		return errors.Wrap(err, "begin post command buffer")
	}
	if err := r.post.RecordPost(f, cmd); err != nil {
		return errors.Wrapf(err, "record post pass of frame %d", f.Number)
	}
	if err := cmd.End(); err != nil {
		return errors.Wrap(err, "end post command buffer")
	}
	err = r.gpu.Submit(driver.SubmitInfo{
		CmdBuffers: []driver.CmdBuffer{cmd},
		Wait: []driver.SemaphoreWait{
			{Semaphore: s.renderDone, Stage: driver.StageFragmentShader},
			imageWait,
		},
		Signal: []driver.Semaphore{fs.Finished},
		Fence:  fs.Fence,
	})
	return errors.Wrapf(err, "submit post pass of frame %d", f.Number)
}

// Close waits for the device, destroys the frames and the swapchain, drains
// the allocator and saves the pipeline cache. The device itself stays open.
func (r *Renderer[T]) Close() error {
	if err := r.gpu.WaitIdle(); err != nil {
		return errors.Wrap(err, "wait for device")
	}
	if r.ring != nil {
		r.ring.Destroy(r.destroySlot)
		r.ring = nil
	}
	if r.sc != nil {
		r.sc.Destroy()
		r.sc = nil
	}
	if err := r.alloc.Destroy(); err != nil {
		return err
	}
	if cacher, ok := r.gpu.(driver.PipelineCacher); ok && r.cfg.PipelineCachePath != "" {
		blob, err := cacher.PipelineCache()
		if err != nil {
			return errors.Wrap(err, "read pipeline cache")
		}
		if err := pipecache.Save(r.cfg.PipelineCachePath, blob); err != nil {
			return err
		}
	}
	return nil
}
