// Package frame implements the ring of frames in flight.
//
// Each slot owns a command buffer, the fence its submission signals and the
// semaphores that chain its submissions, plus a payload chosen by the user of
// the ring. A slot is handed out again only after the device finished its
// previous submission.
package frame

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/renderer/driver"
	"github.com/vkngwrapper/renderer/internal/logger"
	"github.com/vkngwrapper/renderer/resource"
)

// UniformSource provides uniform buffers read by the frame with the given
// slot index. They are uploaded when the frame begins.
type UniformSource interface {
	Uniforms(slot int) []*resource.UniformBuffer
}

type Slot[T any] struct {
	Index int
	Cmd   driver.CmdBuffer
	Fence driver.Fence
	// ImageAvailable is signaled by swapchain acquisition.
	ImageAvailable driver.Semaphore
	// Finished is signaled by the slot's last submission.
	Finished driver.Semaphore
	Extra    T
}

type Ring[T any] struct {
	gpu     driver.GPU
	slots   []*Slot[T]
	current int
	sources []UniformSource
}

// NewRing creates n slots. extra is called once per slot to create its
// payload.
func NewRing[T any](gpu driver.GPU, n int, extra func(slot int) (T, error)) (*Ring[T], error) {
	if n <= 0 {
		return nil, errors.Newf("frame: ring of %d slots", n)
	}
	r := &Ring[T]{gpu: gpu, current: -1}
	for i := 0; i < n; i++ {
		s, err := newSlot[T](gpu, i)
		if err != nil {
			r.Destroy(nil)
			return nil, err
		}
		r.slots = append(r.slots, s)
		if extra != nil {
			if s.Extra, err = extra(i); err != nil {
				r.Destroy(nil)
				return nil, errors.Wrapf(err, "create payload of frame %d", i)
			}
		}
	}
	return r, nil
}

func newSlot[T any](gpu driver.GPU, i int) (*Slot[T], error) {
	s := &Slot[T]{Index: i}
	var err error
	if s.Cmd, err = gpu.NewCmdBuffer(); err != nil {
		return nil, errors.Wrapf(err, "allocate command buffer of frame %d", i)
	}
	// Signaled so the first acquisition of the slot does not block.
	if s.Fence, err = gpu.NewFence(true); err != nil {
		s.destroy()
		return nil, errors.Wrapf(err, "create fence of frame %d", i)
	}
	if s.ImageAvailable, err = gpu.NewSemaphore(); err != nil {
		s.destroy()
		return nil, errors.Wrapf(err, "create semaphore of frame %d", i)
	}
	if s.Finished, err = gpu.NewSemaphore(); err != nil {
		s.destroy()
		return nil, errors.Wrapf(err, "create semaphore of frame %d", i)
	}
	return s, nil
}

func (s *Slot[T]) destroy() {
	if s.Finished != nil {
		s.Finished.Destroy()
	}
	if s.ImageAvailable != nil {
		s.ImageAvailable.Destroy()
	}
	if s.Fence != nil {
		s.Fence.Destroy()
	}
	if s.Cmd != nil {
		s.Cmd.Destroy()
	}
}

func (r *Ring[T]) Len() int { return len(r.slots) }

func (r *Ring[T]) Slot(i int) *Slot[T] { return r.slots[i] }

// Current returns the slot returned by the last AcquireNextFrame, nil before
// the first one.
func (r *Ring[T]) Current() *Slot[T] {
	if r.current < 0 {
		return nil
	}
	return r.slots[r.current]
}

// Track registers uniform buffers to upload at the start of every frame.
func (r *Ring[T]) Track(src UniformSource) {
	r.sources = append(r.sources, src)
}

// AcquireNextFrame moves to the next slot, blocks until the device finished
// the slot's previous submission and resets its command buffer. A failed
// wait means the device is lost.
func (r *Ring[T]) AcquireNextFrame() (*Slot[T], error) {
	r.current = (r.current + 1) % len(r.slots)
	s := r.slots[r.current]
	if err := r.gpu.WaitFences(driver.NoTimeout, s.Fence); err != nil {
		return nil, errors.Wrapf(err, "wait for frame %d", s.Index)
	}
	if err := s.Cmd.Reset(); err != nil {
		return nil, errors.Wrapf(err, "reset command buffer of frame %d", s.Index)
	}
	return s, nil
}

// BeginFrame uploads the tracked uniform buffers of the current slot and
// begins recording its command buffer.
func (r *Ring[T]) BeginFrame() error {
	s := r.Current()
	if s == nil {
		return errors.AssertionFailedf("frame: BeginFrame before AcquireNextFrame")
	}
	for _, src := range r.sources {
		for _, u := range src.Uniforms(s.Index) {
			if err := u.Upload(); err != nil {
				return errors.Wrapf(err, "upload uniforms of frame %d", s.Index)
			}
		}
	}
	if err := s.Cmd.Begin(); err != nil {
		return errors.Wrapf(err, "begin frame %d", s.Index)
	}
	return nil
}

// EndFrame ends recording and resets the slot's fence so the frame's
// submission can signal it.
func (r *Ring[T]) EndFrame() error {
	s := r.Current()
	if s == nil {
		return errors.AssertionFailedf("frame: EndFrame before AcquireNextFrame")
	}
	if err := s.Cmd.End(); err != nil {
		return errors.Wrapf(err, "end frame %d", s.Index)
	}
	if err := r.gpu.ResetFences(s.Fence); err != nil {
		return errors.Wrapf(err, "reset fence of frame %d", s.Index)
	}
	return nil
}

// Submit submits the current slot's command buffer with its fence. The
// fence must have been reset by EndFrame.
func (r *Ring[T]) Submit(wait []driver.SemaphoreWait, signal ...driver.Semaphore) error {
	s := r.Current()
	if s == nil {
		return errors.AssertionFailedf("frame: Submit before AcquireNextFrame")
	}
	err := r.gpu.Submit(driver.SubmitInfo{
		CmdBuffers: []driver.CmdBuffer{s.Cmd},
		Wait:       wait,
		Signal:     signal,
		Fence:      s.Fence,
	})
	if err != nil {
		return errors.Wrapf(err, "submit frame %d", s.Index)
	}
	return nil
}

// Destroy waits for the device to go idle and frees every slot. destroy, if
// not nil, is called with each slot's payload.
func (r *Ring[T]) Destroy(destroy func(T)) {
	if err := r.gpu.WaitIdle(); err != nil {
		logger.Logger().Error("device did not go idle before destroying frames", "err", err)
	}
	for _, s := range r.slots {
		if destroy != nil {
			destroy(s.Extra)
		}
		s.destroy()
	}
	r.slots = nil
	r.current = -1
}
