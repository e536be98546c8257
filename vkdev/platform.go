// Package vkdev implements the device, queue and presentation interfaces of
// vkpace on top of Vulkan.
//
// The Vulkan loader must be initialized (vk.SetGetInstanceProcAddr and
// vk.Init) before NewPlatform is called.
package vkdev

import (
	"log/slog"
	"unsafe"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Config selects what NewPlatform enables.
type Config struct {
	AppName            string
	APIVersion         vk.Version
	InstanceExtensions []string
	DeviceExtensions   []string
	ValidationLayers   []string
	// Debug registers a debug report callback that forwards to Logger.
	Debug bool
	// Surface creates the presentation surface once the instance exists.
	// Nil means headless: no present queue is looked for.
	Surface func(instance vk.Instance) (vk.Surface, error)
	Logger  *slog.Logger
}

// Platform owns the instance, the physical and logical device, the
// graphics and present queues and the surface. It implements vkpace.Device.
type Platform struct {
	log *slog.Logger

	instance      vk.Instance
	gpu           vk.PhysicalDevice
	device        vk.Device
	surface       vk.Surface
	debugCallback vk.DebugReportCallback

	graphicsQueueIndex uint32
	presentQueueIndex  uint32
	graphicsQueue      *Queue
	presentQueue       *Queue

	gpuProperties    vk.PhysicalDeviceProperties
	memoryProperties vk.PhysicalDeviceMemoryProperties
}

// debugLog receives validation messages from dbgCallbackFunc.
var debugLog = slog.Default()

// NewPlatform brings up a device according to cfg.
func NewPlatform(cfg Config) (pl *Platform, err error) {
	p := &Platform{log: cfg.Logger}
	if p.log == nil {
		p.log = slog.Default().With("component", "vkdev")
	}
	defer func() {
		if err != nil {
			p.Destroy()
		}
	}()
	defer checkErr(&err)

	// Select instance extensions
	required := safeStrings(cfg.InstanceExtensions)
	if cfg.Debug {
		required = append(required, safeString(vk.ExtDebugReportExtensionName))
	}
	actual, err := InstanceExtensions()
	orPanic(err)
	instanceExtensions, missing := checkExisting(actual, dedupe(required))
	if missing > 0 {
		p.log.Warn("vulkan warning: missing required instance extensions during init", "missing", missing)
	}
	p.log.Debug("vulkan: enabling instance extensions", "count", len(instanceExtensions))

	// Select instance layers
	var validationLayers []string
	if len(cfg.ValidationLayers) > 0 {
		actual, err := ValidationLayers()
		orPanic(err)
		validationLayers, missing = checkExisting(actual, cfg.ValidationLayers)
		if missing > 0 {
			p.log.Warn("vulkan warning: missing required validation layers during init", "missing", missing)
		}
	}

	apiVersion := cfg.APIVersion
	if apiVersion == 0 {
		apiVersion = vk.Version(vk.MakeVersion(1, 0, 0))
	}
	var instance vk.Instance
	ret := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:              vk.StructureTypeApplicationInfo,
			ApiVersion:         uint32(apiVersion),
			ApplicationVersion: vk.MakeVersion(1, 0, 0),
			PApplicationName:   safeString(cfg.AppName),
			PEngineName:        "vkpace\x00",
		},
		EnabledExtensionCount:   uint32(len(instanceExtensions)),
		PpEnabledExtensionNames: instanceExtensions,
		EnabledLayerCount:       uint32(len(validationLayers)),
		PpEnabledLayerNames:     validationLayers,
	}, nil, &instance)
	orPanic(newError("vkCreateInstance", ret))
	p.instance = instance
	orPanic(vk.InitInstance(instance))

	if cfg.Debug {
		debugLog = p.log
		ret := vk.CreateDebugReportCallback(instance, &vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit),
			PfnCallback: dbgCallbackFunc,
		}, nil, &p.debugCallback)
		orPanic(newError("vkCreateDebugReportCallbackEXT", ret))
		p.log.Info("vulkan: debug report callback enabled")
	}

	// Find a suitable GPU
	var gpuCount uint32
	ret = vk.EnumeratePhysicalDevices(p.instance, &gpuCount, nil)
	orPanic(newError("vkEnumeratePhysicalDevices", ret))
	if gpuCount == 0 {
		return nil, errors.New("vulkan error: no GPU devices found")
	}
	gpus := make([]vk.PhysicalDevice, gpuCount)
	ret = vk.EnumeratePhysicalDevices(p.instance, &gpuCount, gpus)
	orPanic(newError("vkEnumeratePhysicalDevices", ret))
	// multiple GPUs are not supported, take the first one
	p.gpu = gpus[0]
	vk.GetPhysicalDeviceProperties(p.gpu, &p.gpuProperties)
	p.gpuProperties.Deref()
	vk.GetPhysicalDeviceMemoryProperties(p.gpu, &p.memoryProperties)
	p.memoryProperties.Deref()
	p.log.Info("vulkan: using GPU", "name", vk.ToString(p.gpuProperties.DeviceName[:]))

	// Select device extensions
	requiredDevice := safeStrings(cfg.DeviceExtensions)
	if cfg.Surface != nil {
		requiredDevice = append(requiredDevice, safeString(vk.KhrSwapchainExtensionName))
	}
	actualDevice, err := DeviceExtensions(p.gpu)
	orPanic(err)
	deviceExtensions, missing := checkExisting(actualDevice, dedupe(requiredDevice))
	if missing > 0 {
		p.log.Warn("vulkan warning: missing required device extensions during init", "missing", missing)
	}

	if cfg.Surface != nil {
		surface, err := cfg.Surface(p.instance)
		if err != nil {
			return nil, errors.Wrap(err, "create surface")
		}
		if surface == vk.NullSurface {
			return nil, errors.New("vulkan error: surface required but not provided")
		}
		p.surface = surface
	}

	families, err := findQueueFamilies(p.gpu, p.surface)
	if err != nil {
		return nil, err
	}
	p.graphicsQueueIndex = families.graphics
	p.presentQueueIndex = families.present

	queueInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: p.graphicsQueueIndex,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}
	if p.HasSeparatePresentQueue() {
		queueInfos = append(queueInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: p.presentQueueIndex,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		})
	}

	var device vk.Device
	ret = vk.CreateDevice(p.gpu, &vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(deviceExtensions)),
		PpEnabledExtensionNames: deviceExtensions,
		EnabledLayerCount:       uint32(len(validationLayers)),
		PpEnabledLayerNames:     validationLayers,
	}, nil, &device)
	orPanic(newError("vkCreateDevice", ret))
	p.device = device

	p.graphicsQueue = newQueue(p.device, p.graphicsQueueIndex)
	p.presentQueue = p.graphicsQueue
	if p.HasSeparatePresentQueue() {
		p.presentQueue = newQueue(p.device, p.presentQueueIndex)
	}
	return p, nil
}

func (p *Platform) Instance() vk.Instance { return p.instance }

func (p *Platform) PhysicalDevice() vk.PhysicalDevice { return p.gpu }

// Handle returns the logical device.
func (p *Platform) Handle() vk.Device { return p.device }

func (p *Platform) Surface() vk.Surface { return p.surface }

func (p *Platform) MemoryProperties() vk.PhysicalDeviceMemoryProperties {
	return p.memoryProperties
}

func (p *Platform) PhysicalDeviceProperties() vk.PhysicalDeviceProperties {
	return p.gpuProperties
}

func (p *Platform) GraphicsQueueFamilyIndex() uint32 { return p.graphicsQueueIndex }

func (p *Platform) PresentQueueFamilyIndex() uint32 { return p.presentQueueIndex }

// HasSeparatePresentQueue is true when presentation uses a different queue
// family than graphics.
func (p *Platform) HasSeparatePresentQueue() bool {
	return p.presentQueueIndex != p.graphicsQueueIndex
}

// GraphicsQueue returns the queue frames are submitted to.
func (p *Platform) GraphicsQueue() *Queue { return p.graphicsQueue }

// PresentQueue returns the queue swapchain images are presented on.
func (p *Platform) PresentQueue() *Queue { return p.presentQueue }

// WaitIdle blocks until the device has finished all submitted work.
func (p *Platform) WaitIdle() error {
	if p.device == nil {
		return nil
	}
	return newError("vkDeviceWaitIdle", vk.DeviceWaitIdle(p.device))
}

// Destroy tears the platform down. Every object created from it must have
// been destroyed already; vkpace.Context guarantees that.
func (p *Platform) Destroy() {
	if p.device != nil {
		vk.DeviceWaitIdle(p.device)
		vk.DestroyDevice(p.device, nil)
		p.device = nil
	}
	if p.surface != vk.NullSurface {
		vk.DestroySurface(p.instance, p.surface, nil)
		p.surface = vk.NullSurface
	}
	if p.debugCallback != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(p.instance, p.debugCallback, nil)
		p.debugCallback = vk.NullDebugReportCallback
	}
	if p.instance != nil {
		vk.DestroyInstance(p.instance, nil)
		p.instance = nil
	}
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType,
	object uint64, location uint, messageCode int32, pLayerPrefix string,
	pMessage string, pUserData unsafe.Pointer) vk.Bool32 {

	attrs := []any{"layer", pLayerPrefix, "code", messageCode}
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		debugLog.Error(pMessage, attrs...)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0,
		flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		debugLog.Warn(pMessage, attrs...)
	case flags&vk.DebugReportFlags(vk.DebugReportDebugBit) != 0:
		debugLog.Debug(pMessage, attrs...)
	default:
		debugLog.Info(pMessage, attrs...)
	}
	return vk.Bool32(vk.False)
}
