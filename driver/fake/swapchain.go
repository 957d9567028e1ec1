package fake

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/renderer/driver"
)

// SwapchainImages is the number of images of every fake swapchain.
const SwapchainImages = 3

type Swapchain struct {
	g        *GPU
	extent   driver.Extent2D
	images   []*Image
	next     int
	acquired map[int]bool
	retired  bool
	// Presented lists the image indices in the order their present executed.
	Presented []int
}

func (g *GPU) NewSwapchain(extent driver.Extent2D, old driver.Swapchain) (driver.Swapchain, error) {
	if extent.Width <= 0 || extent.Height <= 0 {
		return nil, errors.Newf("fake: swapchain extent %dx%d", extent.Width, extent.Height)
	}
	if old != nil {
		o := old.(*Swapchain)
		if o.retired {
			g.violate("swapchain recreated from a destroyed swapchain")
		}
	}
	sc := &Swapchain{g: g, extent: extent, acquired: make(map[int]bool)}
	for i := 0; i < SwapchainImages; i++ {
		sc.images = append(sc.images, &Image{
			g: g,
			info: driver.ImageInfo{
				Format:    driver.FormatB8G8R8A8SRGB,
				Extent:    driver.Extent3D{Width: extent.Width, Height: extent.Height, Depth: 1},
				MipLevels: 1,
				Usage:     driver.ImageColorAttachment | driver.ImageTransferDst,
			},
			swapchain: true,
		})
	}
	g.track(sc, "swapchain")
	return sc, nil
}

func (s *Swapchain) Format() driver.Format   { return driver.FormatB8G8R8A8SRGB }
func (s *Swapchain) Extent() driver.Extent2D { return s.extent }

func (s *Swapchain) Images() []driver.Image {
	images := make([]driver.Image, len(s.images))
	for i, img := range s.images {
		images[i] = img
	}
	return images
}

func (s *Swapchain) Acquire(signal driver.Semaphore) (int, error) {
	if s.retired {
		return 0, errors.AssertionFailedf("fake: acquire from destroyed swapchain")
	}
	if s.g.stale {
		return 0, driver.ErrOutOfDate
	}
	idx := s.next
	if s.acquired[idx] {
		return 0, errors.Newf("fake: every swapchain image is acquired")
	}
	s.next = (s.next + 1) % len(s.images)
	s.acquired[idx] = true
	signal.(*Semaphore).signals++
	return idx, nil
}

func (s *Swapchain) Present(wait driver.Semaphore, index int) error {
	if !s.acquired[index] {
		s.g.violate("present of image %d that was not acquired", index)
	}
	delete(s.acquired, index)
	sub := &submission{
		waits: []driver.SemaphoreWait{{Semaphore: wait, Stage: driver.StageBottomOfPipe}},
		present: func() {
			s.g.stats.Presents++
			s.Presented = append(s.Presented, index)
		},
	}
	s.g.queue = append(s.g.queue, sub)
	if s.g.AutoComplete {
		s.g.Flush()
	}
	switch {
	case s.g.stale:
		return driver.ErrOutOfDate
	case s.g.suboptimal:
		return driver.ErrSuboptimal
	}
	return nil
}

func (s *Swapchain) Destroy() {
	s.retired = true
	s.g.untrack(s, "swapchain")
}
