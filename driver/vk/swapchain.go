package vk

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"github.com/vkngwrapper/renderer/driver"
)

type Swapchain struct {
	g         *GPU
	swapchain khr_swapchain.Swapchain
	format    core1_0.Format
	extent    core1_0.Extent2D
	images    []driver.Image
}

func chooseSurfaceFormat(formats []khr_surface.SurfaceFormat) khr_surface.SurfaceFormat {
	for _, format := range formats {
		if format.Format == core1_0.FormatB8G8R8A8SRGB && format.ColorSpace == khr_surface.ColorSpaceSRGBNonlinear {
			return format
		}
	}
	return formats[0]
}

func choosePresentMode(modes []khr_surface.PresentMode) khr_surface.PresentMode {
	for _, mode := range modes {
		if mode == khr_surface.PresentModeMailbox {
			return mode
		}
	}
	return khr_surface.PresentModeFIFO
}

func chooseExtent(capabilities *khr_surface.SurfaceCapabilities, want driver.Extent2D) core1_0.Extent2D {
	if capabilities.CurrentExtent.Width != -1 {
		return capabilities.CurrentExtent
	}
	return core1_0.Extent2D{
		Width:  min(max(want.Width, capabilities.MinImageExtent.Width), capabilities.MaxImageExtent.Width),
		Height: min(max(want.Height, capabilities.MinImageExtent.Height), capabilities.MaxImageExtent.Height),
	}
}

// NewSwapchain creates a swapchain for the instance's surface. old, if not
// nil, is retired by the new swapchain and must still be destroyed by the
// caller.
func (g *GPU) NewSwapchain(extent driver.Extent2D, old driver.Swapchain) (driver.Swapchain, error) {
	if g.swapchainDriver == nil {
		return nil, errors.Wrap(driver.ErrUnsupported, "device opened without a surface")
	}
	support, err := g.querySwapchainSupport(g.physicalDevice)
	if err != nil {
		return nil, err
	}
	format := chooseSurfaceFormat(support.formats)
	imageCount := support.capabilities.MinImageCount + 1
	if support.capabilities.MaxImageCount > 0 && support.capabilities.MaxImageCount < imageCount {
		imageCount = support.capabilities.MaxImageCount
	}

	sharingMode := core1_0.SharingModeExclusive
	var queueFamilies []int
	if g.queueFamily != g.presentFamily {
		sharingMode = core1_0.SharingModeConcurrent
		queueFamilies = []int{g.queueFamily, g.presentFamily}
	}

	info := khr_swapchain.SwapchainCreateInfo{
		Surface:            g.instance.surface,
		MinImageCount:      imageCount,
		ImageFormat:        format.Format,
		ImageColorSpace:    format.ColorSpace,
		ImageExtent:        chooseExtent(support.capabilities, extent),
		ImageArrayLayers:   1,
		ImageUsage:         core1_0.ImageUsageColorAttachment | core1_0.ImageUsageTransferDst,
		ImageSharingMode:   sharingMode,
		QueueFamilyIndices: queueFamilies,
		PreTransform:       support.capabilities.CurrentTransform,
		CompositeAlpha:     khr_surface.CompositeAlphaOpaque,
		PresentMode:        choosePresentMode(support.presentModes),
		Clipped:            true,
	}
	if old != nil {
		info.OldSwapchain = old.(*Swapchain).swapchain
	}
	handle, _, err := g.swapchainDriver.CreateSwapchain(nil, info)
	if err != nil {
		return nil, errors.Wrap(err, "create swapchain")
	}
	sc := &Swapchain{g: g, swapchain: handle, format: format.Format, extent: info.ImageExtent}

	images, _, err := g.swapchainDriver.GetSwapchainImages(handle)
	if err != nil {
		sc.Destroy()
		return nil, errors.Wrap(err, "get swapchain images")
	}
	for _, img := range images {
		sc.images = append(sc.images, &Image{
			g:     g,
			image: img,
			info: driver.ImageInfo{
				Format:    driver.Format(format.Format),
				Extent:    driver.Extent3D{Width: info.ImageExtent.Width, Height: info.ImageExtent.Height, Depth: 1},
				MipLevels: 1,
				Usage:     driver.ImageColorAttachment | driver.ImageTransferDst,
			},
		})
	}
	return sc, nil
}

func (s *Swapchain) Format() driver.Format { return driver.Format(s.format) }

func (s *Swapchain) Extent() driver.Extent2D {
	return driver.Extent2D{Width: s.extent.Width, Height: s.extent.Height}
}

func (s *Swapchain) Images() []driver.Image { return s.images }

func (s *Swapchain) Acquire(signal driver.Semaphore) (int, error) {
	sem := signal.(*Semaphore).semaphore
	index, res, err := s.g.swapchainDriver.AcquireNextImage(s.swapchain, common.NoTimeout, &sem, nil)
	switch res {
	case khr_swapchain.VKErrorOutOfDate:
		return 0, driver.ErrOutOfDate
	case core1_0.VKErrorDeviceLost:
		return 0, errors.Mark(errors.Wrap(err, "acquire swapchain image"), driver.ErrDeviceLost)
	}
	if err != nil {
		return 0, errors.Wrap(err, "acquire swapchain image")
	}
	return index, nil
}

func (s *Swapchain) Present(wait driver.Semaphore, index int) error {
	res, err := s.g.swapchainDriver.QueuePresent(s.g.presentQueue, khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{wait.(*Semaphore).semaphore},
		Swapchains:     []khr_swapchain.Swapchain{s.swapchain},
		ImageIndices:   []int{index},
	})
	switch res {
	case khr_swapchain.VKErrorOutOfDate:
		return driver.ErrOutOfDate
	case khr_swapchain.VKSuboptimal:
		return driver.ErrSuboptimal
	case core1_0.VKErrorDeviceLost:
		return errors.Mark(errors.Wrap(err, "present"), driver.ErrDeviceLost)
	}
	return errors.Wrap(err, "present")
}

func (s *Swapchain) Destroy() {
	s.g.swapchainDriver.DestroySwapchain(s.swapchain, nil)
}
