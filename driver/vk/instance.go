package vk

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/renderer/internal/logger"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

type InstanceOptions struct {
	ApplicationName string
	// Extensions are required instance extensions, such as the ones the
	// window system needs for its surface.
	Extensions []string
	// Validation enables the Khronos validation layer and forwards its
	// messages to the logger.
	Validation bool
}

// Instance is a Vulkan instance with an optional presentation surface.
type Instance struct {
	driver core1_0.CoreInstanceDriver

	debugDriver    ext_debug_utils.ExtensionDriver
	debugMessenger ext_debug_utils.DebugUtilsMessenger

	surfaceDriver khr_surface.ExtensionDriver
	surface       khr_surface.Surface
}

func CreateInstance(global core1_0.GlobalDriver, opts InstanceOptions) (*Instance, error) {
	info := core1_0.InstanceCreateInfo{
		ApplicationName:    opts.ApplicationName,
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "vkngwrapper renderer",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	available, _, err := global.AvailableExtensions()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate instance extensions")
	}
	for _, ext := range opts.Extensions {
		if _, ok := available[ext]; !ok {
			return nil, errors.Newf("vk: missing instance extension %s", ext)
		}
		info.EnabledExtensionNames = append(info.EnabledExtensionNames, ext)
	}
	if _, ok := available[khr_portability_enumeration.ExtensionName]; ok {
		info.EnabledExtensionNames = append(info.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		info.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	inst := &Instance{}
	if opts.Validation {
		layers, _, err := global.AvailableLayers()
		if err != nil {
			return nil, errors.Wrap(err, "enumerate instance layers")
		}
		if _, ok := layers[validationLayer]; !ok {
			return nil, errors.Newf("vk: validation layer %s not available, install the Vulkan SDK", validationLayer)
		}
		info.EnabledLayerNames = append(info.EnabledLayerNames, validationLayer)
		info.EnabledExtensionNames = append(info.EnabledExtensionNames, ext_debug_utils.ExtensionName)
		info.Next = debugMessengerInfo()
	}

	handle, _, err := global.CreateInstance(nil, info)
	if err != nil {
		return nil, errors.Wrap(err, "create instance")
	}
	inst.driver, err = global.BuildInstanceDriver(handle)
	if err != nil {
		return nil, errors.Wrap(err, "load instance functions")
	}

	if opts.Validation {
		inst.debugDriver = ext_debug_utils.CreateExtensionDriverFromCoreDriver(inst.driver)
		inst.debugMessenger, _, err = inst.debugDriver.CreateDebugUtilsMessenger(nil, debugMessengerInfo())
		if err != nil {
			inst.Destroy()
			return nil, errors.Wrap(err, "create debug messenger")
		}
	}
	inst.surfaceDriver = khr_surface.CreateExtensionDriverFromCoreDriver(inst.driver)
	return inst, nil
}

func debugMessengerInfo() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning | ext_debug_utils.SeverityInfo,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    logDebug,
	}
}

func logDebug(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	log := logger.Logger()
	switch {
	case severity&ext_debug_utils.SeverityError != 0:
		log.Error(data.Message, "type", msgType.String())
	case severity&ext_debug_utils.SeverityWarning != 0:
		log.Warn(data.Message, "type", msgType.String())
	default:
		log.Debug(data.Message, "type", msgType.String())
	}
	return false
}

// Driver returns the instance driver.
func (i *Instance) Driver() core1_0.CoreInstanceDriver { return i.driver }

// SurfaceFunc creates a presentation surface, typically through a window
// system integration.
type SurfaceFunc func(instance core1_0.Instance, surfaceDriver khr_surface.ExtensionDriver) (khr_surface.Surface, error)

// AttachSurface creates the surface devices opened afterwards present to.
func (i *Instance) AttachSurface(create SurfaceFunc) error {
	if i.surface.Initialized() {
		return errors.AssertionFailedf("vk: instance already has a surface")
	}
	if i.surfaceDriver == nil {
		return errors.Newf("vk: instance created without %s", khr_surface.ExtensionName)
	}
	surface, err := create(i.driver.Instance(), i.surfaceDriver)
	if err != nil {
		return errors.Wrap(err, "create surface")
	}
	i.surface = surface
	return nil
}

// Destroy destroys the surface and the instance. Every device opened on the
// instance must be destroyed first.
func (i *Instance) Destroy() {
	if i.surface.Initialized() {
		i.surfaceDriver.DestroySurface(i.surface, nil)
		i.surface = khr_surface.Surface{}
	}
	if i.debugMessenger.Initialized() {
		i.debugDriver.DestroyDebugUtilsMessenger(i.debugMessenger, nil)
		i.debugMessenger = ext_debug_utils.DebugUtilsMessenger{}
	}
	if i.driver != nil {
		i.driver.DestroyInstance(nil)
		i.driver = nil
	}
}
