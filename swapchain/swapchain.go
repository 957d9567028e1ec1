// Package swapchain drives image acquisition and presentation and rebuilds
// the swapchain when the surface changes.
package swapchain

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/renderer/driver"
	"github.com/vkngwrapper/renderer/internal/logger"
)

// FramebufferFunc creates the framebuffer rendering into one swapchain image.
type FramebufferFunc func(view driver.ImageView, extent driver.Extent2D) (driver.Framebuffer, error)

// Image is an acquired swapchain image.
type Image struct {
	Index       int
	Image       driver.Image
	View        driver.ImageView
	Framebuffer driver.Framebuffer
}

type Swapchain struct {
	gpu            driver.GPU
	presenter      driver.Presenter
	newFramebuffer FramebufferFunc

	sc      driver.Swapchain
	images  []*Image
	current int
}

// New creates a swapchain of the given extent. newFramebuffer may be nil when
// the images are only written by transfers.
func New(gpu driver.GPU, presenter driver.Presenter, extent driver.Extent2D, newFramebuffer FramebufferFunc) (*Swapchain, error) {
	s := &Swapchain{gpu: gpu, presenter: presenter, newFramebuffer: newFramebuffer, current: -1}
	if err := s.create(extent, nil); err != nil {
		s.Destroy()
		return nil, err
	}
	return s, nil
}

func (s *Swapchain) create(extent driver.Extent2D, old driver.Swapchain) error {
	sc, err := s.presenter.NewSwapchain(extent, old)
	if err != nil {
		return errors.Wrapf(err, "create %dx%d swapchain", extent.Width, extent.Height)
	}
	s.sc = sc
	for i, img := range sc.Images() {
		view, err := s.gpu.NewImageView(img, driver.AspectColor)
		if err != nil {
			return errors.Wrapf(err, "create view of swapchain image %d", i)
		}
		entry := &Image{Index: i, Image: img, View: view}
		s.images = append(s.images, entry)
		if s.newFramebuffer != nil {
			if entry.Framebuffer, err = s.newFramebuffer(view, sc.Extent()); err != nil {
				return errors.Wrapf(err, "create framebuffer of swapchain image %d", i)
			}
		}
	}
	logger.Logger().Debug("swapchain created", "width", sc.Extent().Width, "height", sc.Extent().Height,
		"images", len(s.images), "format", int32(sc.Format()))
	return nil
}

func (s *Swapchain) destroyImages() {
	for _, img := range s.images {
		if img.Framebuffer != nil {
			img.Framebuffer.Destroy()
		}
		img.View.Destroy()
	}
	s.images = nil
}

func (s *Swapchain) Format() driver.Format   { return s.sc.Format() }
func (s *Swapchain) Extent() driver.Extent2D { return s.sc.Extent() }
func (s *Swapchain) Len() int                { return len(s.images) }
func (s *Swapchain) Image(i int) *Image      { return s.images[i] }

// AcquireImage asks for the next image; signal is signaled once it can be
// rendered to. ok is false when the surface went out of date, the caller then
// skips the frame and recreates the swapchain.
func (s *Swapchain) AcquireImage(signal driver.Semaphore) (img *Image, ok bool, err error) {
	if s.current >= 0 {
		return nil, false, errors.AssertionFailedf("swapchain: image %d acquired and not presented", s.current)
	}
	idx, err := s.sc.Acquire(signal)
	if errors.Is(err, driver.ErrOutOfDate) {
		logger.Logger().Debug("swapchain out of date on acquire")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "acquire swapchain image")
	}
	s.current = idx
	return s.images[idx], true, nil
}

// Present queues the acquired image once wait is signaled. ok is false when
// the swapchain should be recreated; the image was still handed to the
// presentation engine.
func (s *Swapchain) Present(wait driver.Semaphore) (ok bool, err error) {
	if s.current < 0 {
		return false, errors.AssertionFailedf("swapchain: present without an acquired image")
	}
	idx := s.current
	s.current = -1
	err = s.sc.Present(wait, idx)
	if driver.IsStale(err) {
		logger.Logger().Debug("swapchain stale on present", "err", err)
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "present swapchain image")
	}
	return true, nil
}

// Recreate waits for the device to go idle and replaces the swapchain, its
// views and framebuffers.
func (s *Swapchain) Recreate(extent driver.Extent2D) error {
	if err := s.gpu.WaitIdle(); err != nil {
		return errors.Wrap(err, "wait for device before swapchain recreation")
	}
	s.destroyImages()
	old := s.sc
	s.sc = nil
	s.current = -1
	err := s.create(extent, old)
	if old != nil {
		old.Destroy()
	}
	return err
}

func (s *Swapchain) Destroy() {
	s.destroyImages()
	if s.sc != nil {
		s.sc.Destroy()
		s.sc = nil
	}
}
