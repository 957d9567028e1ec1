package resource

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/renderer/driver"
	"github.com/vkngwrapper/renderer/internal/logger"
)

type stagingState int

const (
	stagingRecording stagingState = iota
	stagingSubmitted
	stagingRetired
)

// StagingBuffer is a host visible buffer paired with the command buffer that
// copies out of it. It moves from recording to submitted to retired; once
// submitted the Allocator owns it.
type StagingBuffer struct {
	alloc *Allocator
	buf   driver.Buffer
	cmd   driver.CmdBuffer
	fence driver.Fence
	state stagingState
}

func (s *StagingBuffer) Buffer() driver.Buffer { return s.buf }

// Bytes returns the mapped memory of the staging buffer.
func (s *StagingBuffer) Bytes() []byte { return s.buf.Bytes() }

// Cmd returns the command buffer to record the copies in. It is only valid
// before Submit.
func (s *StagingBuffer) Cmd() driver.CmdBuffer { return s.cmd }

func (s *StagingBuffer) Size() int64 { return s.buf.Size() }

// Submit ends recording, submits the command buffer with a fresh fence and
// hands the staging buffer to the allocator's pending list.
func (s *StagingBuffer) Submit() error {
	if s.state != stagingRecording {
		return errors.AssertionFailedf("resource: staging buffer submitted twice")
	}
	if err := s.buf.Flush(0, s.buf.Size()); err != nil {
		return errors.Wrap(err, "flush staging buffer")
	}
	if err := s.cmd.End(); err != nil {
		return errors.Wrap(err, "end staging command buffer")
	}
	fence, err := s.alloc.gpu.NewFence(false)
	if err != nil {
		return errors.Wrap(err, "create staging fence")
	}
	err = s.alloc.gpu.Submit(driver.SubmitInfo{
		CmdBuffers: []driver.CmdBuffer{s.cmd},
		Fence:      fence,
	})
	if err != nil {
		fence.Destroy()
		return errors.Wrap(err, "submit staging command buffer")
	}
	s.fence = fence
	s.state = stagingSubmitted
	s.alloc.pending = append(s.alloc.pending, s)
	return nil
}

// Wait blocks until the submitted copies completed.
func (s *StagingBuffer) Wait() error {
	switch s.state {
	case stagingRecording:
		return errors.AssertionFailedf("resource: wait on staging buffer that was not submitted")
	case stagingRetired:
		return nil
	}
	if err := s.alloc.gpu.WaitFences(driver.NoTimeout, s.fence); err != nil {
		return errors.Wrap(err, "wait for staging buffer")
	}
	return nil
}

// Close submits the staging buffer if that was not done yet. Closing an
// unsubmitted staging buffer is a programming error that is logged.
func (s *StagingBuffer) Close() error {
	if s.state != stagingRecording {
		return nil
	}
	logger.Logger().Warn("staging buffer closed without being submitted", "size", s.buf.Size())
	return s.Submit()
}

func (s *StagingBuffer) retire() {
	s.fence.Destroy()
	s.cmd.Destroy()
	s.buf.Destroy()
	s.state = stagingRetired
}
