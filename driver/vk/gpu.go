// Package vk implements the device interface on Vulkan through vkngwrapper.
//
// Every buffer and image gets its own memory allocation. Host visible memory
// is always requested host coherent and stays mapped, so Flush only checks
// its range. Acceleration structures are not available: the GPU does not
// implement driver.RayTracer.
package vk

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_portability_subset"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"github.com/vkngwrapper/renderer/driver"
	"github.com/vkngwrapper/renderer/internal/logger"
	"github.com/vkngwrapper/renderer/pipecache"
)

var (
	_ driver.GPU            = (*GPU)(nil)
	_ driver.Presenter      = (*GPU)(nil)
	_ driver.PipelineCacher = (*GPU)(nil)
)

type Options struct {
	// PipelineCachePath, if set, seeds the pipeline cache with the blob saved
	// there by a previous run on the same device.
	PipelineCachePath string
}

type GPU struct {
	instance *Instance

	physicalDevice core1_0.PhysicalDevice
	properties     *core1_0.PhysicalDeviceProperties
	memory         *core1_0.PhysicalDeviceMemoryProperties

	driver        core1_0.CoreDeviceDriver
	graphicsQueue core1_0.Queue
	presentQueue  core1_0.Queue
	queueFamily   int
	presentFamily int
	commandPool   core1_0.CommandPool
	pipelineCache core1_0.PipelineCache

	swapchainDriver khr_swapchain.ExtensionDriver
}

type queueFamilies struct {
	graphics *int
	present  *int
}

func (q queueFamilies) complete(needPresent bool) bool {
	return q.graphics != nil && (!needPresent || q.present != nil)
}

// Open picks the first physical device that can render and, when the instance
// has a surface, present to it, and creates a logical device on it.
func Open(instance *Instance, opts Options) (*GPU, error) {
	devices, _, err := instance.driver.EnumeratePhysicalDevices()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate physical devices")
	}

	g := &GPU{instance: instance}
	var families queueFamilies
	for _, device := range devices {
		families, err = g.findQueueFamilies(device)
		if err != nil {
			return nil, err
		}
		if g.isDeviceSuitable(device, families) {
			g.physicalDevice = device
			break
		}
	}
	if !g.physicalDevice.Initialized() {
		return nil, errors.Newf("vk: none of %d physical devices is suitable", len(devices))
	}

	g.properties, err = instance.driver.GetPhysicalDeviceProperties(g.physicalDevice)
	if err != nil {
		return nil, errors.Wrap(err, "read device properties")
	}
	g.memory = instance.driver.GetPhysicalDeviceMemoryProperties(g.physicalDevice)
	logger.Logger().Info("physical device selected", "name", g.properties.DriverName,
		"vendor", g.properties.VendorID, "device", g.properties.DeviceID)

	if err := g.createLogicalDevice(families); err != nil {
		return nil, err
	}

	g.commandPool, _, err = g.driver.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateResetBuffer,
		QueueFamilyIndex: g.queueFamily,
	})
	if err != nil {
		g.Destroy()
		return nil, errors.Wrap(err, "create command pool")
	}

	var initial []byte
	if opts.PipelineCachePath != "" {
		initial = pipecache.Load(opts.PipelineCachePath, g.CacheIdentity())
	}
	g.pipelineCache, _, err = g.driver.CreatePipelineCache(nil, core1_0.PipelineCacheCreateInfo{
		InitialData: initial,
	})
	if err != nil {
		g.Destroy()
		return nil, errors.Wrap(err, "create pipeline cache")
	}
	return g, nil
}

func (g *GPU) findQueueFamilies(device core1_0.PhysicalDevice) (queueFamilies, error) {
	var families queueFamilies
	surface := g.instance.surface
	for idx, family := range g.instance.driver.GetPhysicalDeviceQueueFamilyProperties(device) {
		if family.QueueFlags&core1_0.QueueGraphics != 0 && families.graphics == nil {
			families.graphics = new(int)
			*families.graphics = idx
		}
		if surface.Initialized() {
			supported, _, err := g.instance.surfaceDriver.GetPhysicalDeviceSurfaceSupport(surface, device, idx)
			if err != nil {
				return families, errors.Wrap(err, "query surface support")
			}
			if supported && families.present == nil {
				families.present = new(int)
				*families.present = idx
			}
		}
		if families.complete(true) {
			break
		}
	}
	return families, nil
}

func (g *GPU) isDeviceSuitable(device core1_0.PhysicalDevice, families queueFamilies) bool {
	presenting := g.instance.surface.Initialized()
	if !families.complete(presenting) {
		return false
	}
	if !presenting {
		return true
	}
	extensions, _, err := g.instance.driver.EnumerateDeviceExtensionProperties(device)
	if err != nil {
		return false
	}
	if _, ok := extensions[khr_swapchain.ExtensionName]; !ok {
		return false
	}
	support, err := g.querySwapchainSupport(device)
	if err != nil {
		return false
	}
	return len(support.formats) > 0 && len(support.presentModes) > 0
}

func (g *GPU) createLogicalDevice(families queueFamilies) error {
	g.queueFamily = *families.graphics
	g.presentFamily = g.queueFamily
	if families.present != nil {
		g.presentFamily = *families.present
	}

	unique := []int{g.queueFamily}
	if g.presentFamily != g.queueFamily {
		unique = append(unique, g.presentFamily)
	}
	var queues []core1_0.DeviceQueueCreateInfo
	for _, family := range unique {
		queues = append(queues, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: family,
			QueuePriorities:  []float32{1},
		})
	}

	var extensionNames []string
	if g.instance.surface.Initialized() {
		extensionNames = append(extensionNames, khr_swapchain.ExtensionName)
	}
	extensions, _, err := g.instance.driver.EnumerateDeviceExtensionProperties(g.physicalDevice)
	if err != nil {
		return errors.Wrap(err, "enumerate device extensions")
	}
	if _, ok := extensions[khr_portability_subset.ExtensionName]; ok {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	device, _, err := g.instance.driver.CreateDevice(g.physicalDevice, nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos:      queues,
		EnabledFeatures:       &core1_0.PhysicalDeviceFeatures{},
		EnabledExtensionNames: extensionNames,
	})
	if err != nil {
		return errors.Wrap(err, "create logical device")
	}
	g.driver, err = g.instance.driver.BuildDeviceDriver(device)
	if err != nil {
		return errors.Wrap(err, "load device functions")
	}
	g.graphicsQueue = g.driver.GetQueue(g.queueFamily, 0)
	g.presentQueue = g.driver.GetQueue(g.presentFamily, 0)
	if g.instance.surface.Initialized() {
		g.swapchainDriver = khr_swapchain.CreateExtensionDriverFromCoreDriver(g.driver)
	}
	return nil
}

type swapchainSupport struct {
	capabilities *khr_surface.SurfaceCapabilities
	formats      []khr_surface.SurfaceFormat
	presentModes []khr_surface.PresentMode
}

func (g *GPU) querySwapchainSupport(device core1_0.PhysicalDevice) (swapchainSupport, error) {
	var s swapchainSupport
	var err error
	surfaces, surface := g.instance.surfaceDriver, g.instance.surface

	s.capabilities, _, err = surfaces.GetPhysicalDeviceSurfaceCapabilities(surface, device)
	if err != nil {
		return s, errors.Wrap(err, "query surface capabilities")
	}
	s.formats, _, err = surfaces.GetPhysicalDeviceSurfaceFormats(surface, device)
	if err != nil {
		return s, errors.Wrap(err, "query surface formats")
	}
	s.presentModes, _, err = surfaces.GetPhysicalDeviceSurfacePresentModes(surface, device)
	if err != nil {
		return s, errors.Wrap(err, "query present modes")
	}
	return s, nil
}

func (g *GPU) Limits() driver.Limits {
	l := g.properties.Limits
	return driver.Limits{
		MinUniformBufferOffsetAlignment: int64(l.MinUniformBufferOffsetAlignment),
		MinStorageBufferOffsetAlignment: int64(l.MinStorageBufferOffsetAlignment),
		NonCoherentAtomSize:             int64(l.NonCoherentAtomSize),
		MaxBoundDescriptorSets:          l.MaxBoundDescriptorSets,
	}
}

func (g *GPU) CacheIdentity() driver.CacheIdentity {
	return driver.CacheIdentity{
		VendorID: g.properties.VendorID,
		DeviceID: g.properties.DeviceID,
		UUID:     g.properties.PipelineCacheUUID,
	}
}

func (g *GPU) PipelineCache() ([]byte, error) {
	data, _, err := g.driver.GetPipelineCacheData(g.pipelineCache)
	if err != nil {
		return nil, errors.Wrap(err, "read pipeline cache")
	}
	return data, nil
}

// Driver returns the device driver, for pipelines and render passes recorded
// outside of this package.
func (g *GPU) Driver() core1_0.CoreDeviceDriver { return g.driver }

// PipelineCacheHandle returns the cache pipelines should be created with.
func (g *GPU) PipelineCacheHandle() core1_0.PipelineCache { return g.pipelineCache }

func (g *GPU) Submit(info driver.SubmitInfo) error {
	submit := core1_0.SubmitInfo{}
	for _, c := range info.CmdBuffers {
		submit.CommandBuffers = append(submit.CommandBuffers, c.(*CmdBuffer).buffer)
	}
	for _, w := range info.Wait {
		submit.WaitSemaphores = append(submit.WaitSemaphores, w.Semaphore.(*Semaphore).semaphore)
		submit.WaitDstStageMask = append(submit.WaitDstStageMask, core1_0.PipelineStageFlags(w.Stage))
	}
	for _, s := range info.Signal {
		submit.SignalSemaphores = append(submit.SignalSemaphores, s.(*Semaphore).semaphore)
	}
	var fence *core1_0.Fence
	if info.Fence != nil {
		fence = &info.Fence.(*Fence).fence
	}
	res, err := g.driver.QueueSubmit(g.graphicsQueue, fence, submit)
	if res == core1_0.VKErrorDeviceLost {
		return errors.Mark(errors.Wrap(err, "submit"), driver.ErrDeviceLost)
	}
	return errors.Wrap(err, "submit")
}

func (g *GPU) WaitFences(timeout time.Duration, fences ...driver.Fence) error {
	if len(fences) == 0 {
		return nil
	}
	handles := make([]core1_0.Fence, len(fences))
	for i, f := range fences {
		handles[i] = f.(*Fence).fence
	}
	if timeout == driver.NoTimeout {
		timeout = common.NoTimeout
	}
	res, err := g.driver.WaitForFences(true, timeout, handles...)
	switch {
	case res == core1_0.VKTimeout:
		return driver.ErrTimeout
	case res == core1_0.VKErrorDeviceLost:
		return errors.Mark(errors.Wrap(err, "wait for fences"), driver.ErrDeviceLost)
	}
	return errors.Wrap(err, "wait for fences")
}

func (g *GPU) ResetFences(fences ...driver.Fence) error {
	handles := make([]core1_0.Fence, len(fences))
	for i, f := range fences {
		handles[i] = f.(*Fence).fence
	}
	_, err := g.driver.ResetFences(handles...)
	return errors.Wrap(err, "reset fences")
}

func (g *GPU) WaitIdle() error {
	res, err := g.driver.DeviceWaitIdle()
	if res == core1_0.VKErrorDeviceLost {
		return errors.Mark(errors.Wrap(err, "wait for device"), driver.ErrDeviceLost)
	}
	return errors.Wrap(err, "wait for device")
}

// Destroy waits for the device and destroys it. The instance stays alive.
func (g *GPU) Destroy() {
	if g.driver == nil {
		return
	}
	if _, err := g.driver.DeviceWaitIdle(); err != nil {
		logger.Logger().Error("device did not go idle before destruction", "err", err)
	}
	if g.pipelineCache.Initialized() {
		g.driver.DestroyPipelineCache(g.pipelineCache, nil)
	}
	if g.commandPool.Initialized() {
		g.driver.DestroyCommandPool(g.commandPool, nil)
	}
	g.driver.DestroyDevice(nil)
	g.driver = nil
}

type Fence struct {
	g     *GPU
	fence core1_0.Fence
}

func (g *GPU) NewFence(signaled bool) (driver.Fence, error) {
	var info core1_0.FenceCreateInfo
	if signaled {
		info.Flags = core1_0.FenceCreateSignaled
	}
	fence, _, err := g.driver.CreateFence(nil, info)
	if err != nil {
		return nil, errors.Wrap(err, "create fence")
	}
	return &Fence{g: g, fence: fence}, nil
}

func (f *Fence) Status() (bool, error) {
	res, err := f.g.driver.GetFenceStatus(f.fence)
	if err != nil {
		return false, errors.Wrap(err, "fence status")
	}
	return res == core1_0.VKSuccess, nil
}

func (f *Fence) Destroy() {
	f.g.driver.DestroyFence(f.fence, nil)
}

type Semaphore struct {
	g         *GPU
	semaphore core1_0.Semaphore
}

func (g *GPU) NewSemaphore() (driver.Semaphore, error) {
	sem, _, err := g.driver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		return nil, errors.Wrap(err, "create semaphore")
	}
	return &Semaphore{g: g, semaphore: sem}, nil
}

func (s *Semaphore) Destroy() {
	s.g.driver.DestroySemaphore(s.semaphore, nil)
}
