package resource

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/renderer/driver"
	"github.com/vkngwrapper/renderer/internal/logger"
)

type uploadSlot struct {
	buf   driver.Buffer
	cmd   driver.CmdBuffer
	fence driver.Fence
	// submitted is set while fence belongs to a submission that has not been
	// waited for.
	submitted bool
}

// Uploader moves payloads larger than its window into device buffers through
// two staging buffers that are reused alternately, so the host fills one
// while the device copies out of the other.
type Uploader struct {
	alloc  *Allocator
	window int64
	slots  [2]uploadSlot
}

func NewUploader(alloc *Allocator, window int64) (*Uploader, error) {
	if window <= 0 {
		return nil, errors.Newf("resource: staging window of %d bytes", window)
	}
	u := &Uploader{alloc: alloc, window: window}
	gpu := alloc.gpu
	for i := range u.slots {
		s := &u.slots[i]
		var err error
		s.buf, err = gpu.NewBuffer(driver.BufferInfo{
			Size:    window,
			Usage:   driver.BufferTransferSrc,
			Visible: true,
		})
		if err == nil {
			s.cmd, err = gpu.NewCmdBuffer()
		}
		if err == nil {
			s.fence, err = gpu.NewFence(true)
		}
		if err != nil {
			u.Destroy()
			return nil, errors.Wrap(err, "create upload staging slot")
		}
	}
	return u, nil
}

func (u *Uploader) Window() int64 { return u.window }

// wait blocks until the last submission of s completed. A slot whose
// submission never happened is not waited for.
func (u *Uploader) wait(s *uploadSlot) error {
	if !s.submitted {
		return nil
	}
	if err := u.alloc.gpu.WaitFences(driver.NoTimeout, s.fence); err != nil {
		return err
	}
	s.submitted = false
	return nil
}

// Upload copies size bytes produced by read into dst and blocks until the
// copies completed. The last chunk carries a barrier from the transfer write
// to target.
func (u *Uploader) Upload(dst driver.Buffer, size int64, read ReadFunc, target Target) error {
	if size == 0 {
		return nil
	}
	if size > dst.Size() {
		return errors.Newf("resource: upload of %d bytes into buffer of %d bytes", size, dst.Size())
	}
	gpu := u.alloc.gpu
	chunks := 0
	slot := 0
	for offset := int64(0); offset < size; offset += u.window {
		n := min(u.window, size-offset)
		s := &u.slots[slot]

		if err := u.wait(s); err != nil {
			return errors.Wrap(err, "wait for staging slot")
		}

		if err := read(offset, s.buf.Bytes()[:n]); err != nil {
			return errors.Wrapf(err, "read upload chunk at %d", offset)
		}
		if err := s.buf.Flush(0, s.buf.Size()); err != nil {
			return errors.Wrap(err, "flush staging slot")
		}

		if err := s.cmd.Reset(); err != nil {
			return errors.Wrap(err, "reset staging command buffer")
		}
		if err := s.cmd.Begin(); err != nil {
			return errors.Wrap(err, "begin staging command buffer")
		}
		s.cmd.CopyBuffer(s.buf, dst, driver.BufferCopy{DstOffset: offset, Size: n})
		if offset+n == size {
			s.cmd.Barrier(driver.StageTransfer, target.Stage, []driver.BufferBarrier{{
				Buffer:    dst,
				SrcAccess: driver.AccessTransferWrite,
				DstAccess: target.Access,
			}}, nil)
		}
		if err := s.cmd.End(); err != nil {
			return errors.Wrap(err, "end staging command buffer")
		}
		if err := gpu.ResetFences(s.fence); err != nil {
			return errors.Wrap(err, "reset staging fence")
		}
		if err := gpu.Submit(driver.SubmitInfo{CmdBuffers: []driver.CmdBuffer{s.cmd}, Fence: s.fence}); err != nil {
			return errors.Wrap(err, "submit upload chunk")
		}
		s.submitted = true

		chunks++
		slot ^= 1
	}

	for i := range u.slots {
		if err := u.wait(&u.slots[i]); err != nil {
			return errors.Wrap(err, "wait for upload")
		}
	}
	logger.Logger().Debug("chunked upload completed", "size", size, "chunks", chunks, "window", u.window)
	return nil
}

// Destroy waits for outstanding chunks and frees the staging slots.
func (u *Uploader) Destroy() {
	for i := range u.slots {
		s := &u.slots[i]
		if s.fence != nil {
			if err := u.wait(s); err != nil {
				logger.Logger().Error("staging slot never completed", "err", err)
			}
			s.fence.Destroy()
		}
		if s.cmd != nil {
			s.cmd.Destroy()
		}
		if s.buf != nil {
			s.buf.Destroy()
		}
		*s = uploadSlot{}
	}
}
