package vkdev

import (
	"time"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkpace"
)

// Swapchain presents to the platform surface. It implements
// vkpace.SwapTarget.
type Swapchain struct {
	platform *Platform
	desired  uint32

	handle vk.Swapchain
	format vk.SurfaceFormat
	extent vk.Extent2D
	images []vk.Image
}

// NewSwapchain creates a FIFO swapchain with about desired images. size is
// used only when the surface leaves the extent up to the swapchain.
func (p *Platform) NewSwapchain(desired int, size vkpace.Extent2D) (*Swapchain, error) {
	if p.surface == vk.NullSurface {
		return nil, errors.New("vkdev: swapchain on a headless platform")
	}
	s := &Swapchain{platform: p, desired: uint32(desired)}
	if err := s.Recreate(size); err != nil {
		return nil, err
	}
	return s, nil
}

// Recreate builds a new swapchain from the current surface state, retiring
// the previous one. The caller must ensure none of the old images are in
// use, typically with Platform.WaitIdle.
func (s *Swapchain) Recreate(size vkpace.Extent2D) (err error) {
	defer checkErr(&err)
	p := s.platform

	var caps vk.SurfaceCapabilities
	ret := vk.GetPhysicalDeviceSurfaceCapabilities(p.gpu, p.surface, &caps)
	orPanic(newError("vkGetPhysicalDeviceSurfaceCapabilities", ret))
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()

	// Get available surface pixel formats
	var formatCount uint32
	ret = vk.GetPhysicalDeviceSurfaceFormats(p.gpu, p.surface, &formatCount, nil)
	orPanic(newError("vkGetPhysicalDeviceSurfaceFormats", ret))
	if formatCount == 0 {
		return errors.New("vulkan error: no suitable surface color format found")
	}
	formats := make([]vk.SurfaceFormat, formatCount)
	ret = vk.GetPhysicalDeviceSurfaceFormats(p.gpu, p.surface, &formatCount, formats)
	orPanic(newError("vkGetPhysicalDeviceSurfaceFormats", ret))
	s.format = chooseSurfaceFormat(formats)

	extent := caps.CurrentExtent
	if extent.Width == vk.MaxUint32 {
		extent = vk.Extent2D{
			Width:  clamp(size.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
			Height: clamp(size.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
		}
	}
	if extent.Width == 0 || extent.Height == 0 {
		// minimized
		return errors.Wrap(vkpace.ErrOutOfDate, "vkdev: surface has zero extent")
	}

	count := s.desired
	if count < caps.MinImageCount {
		count = caps.MinImageCount
	}
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}

	preTransform := vk.SurfaceTransformIdentityBit
	if vk.SurfaceTransformFlagBits(caps.SupportedTransforms)&preTransform == 0 {
		preTransform = caps.CurrentTransform
	}

	// Find a supported composite alpha mode - one of these is guaranteed to be set
	compositeAlpha := vk.CompositeAlphaOpaqueBit
	for _, flag := range []vk.CompositeAlphaFlagBits{
		vk.CompositeAlphaOpaqueBit,
		vk.CompositeAlphaPreMultipliedBit,
		vk.CompositeAlphaPostMultipliedBit,
		vk.CompositeAlphaInheritBit,
	} {
		if caps.SupportedCompositeAlpha&vk.CompositeAlphaFlags(flag) != 0 {
			compositeAlpha = flag
			break
		}
	}

	sharing := vk.SharingModeExclusive
	var families []uint32
	if p.HasSeparatePresentQueue() {
		sharing = vk.SharingModeConcurrent
		families = []uint32{p.graphicsQueueIndex, p.presentQueueIndex}
	}

	old := s.handle
	var swapchain vk.Swapchain
	ret = vk.CreateSwapchain(p.device, &vk.SwapchainCreateInfo{
		SType:                 vk.StructureTypeSwapchainCreateInfo,
		Surface:               p.surface,
		MinImageCount:         count,
		ImageFormat:           s.format.Format,
		ImageColorSpace:       s.format.ColorSpace,
		ImageExtent:           extent,
		ImageUsage:            vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		PreTransform:          preTransform,
		CompositeAlpha:        compositeAlpha,
		ImageArrayLayers:      1,
		ImageSharingMode:      sharing,
		QueueFamilyIndexCount: uint32(len(families)),
		PQueueFamilyIndices:   families,
		// FIFO is always supported
		PresentMode:  vk.PresentModeFifo,
		OldSwapchain: old,
		Clipped:      vk.True,
	}, nil, &swapchain)
	orPanic(newError("vkCreateSwapchainKHR", ret))
	if old != vk.NullSwapchain {
		vk.DestroySwapchain(p.device, old, nil)
	}
	s.handle = swapchain
	s.extent = extent

	var imageCount uint32
	ret = vk.GetSwapchainImages(p.device, s.handle, &imageCount, nil)
	orPanic(newError("vkGetSwapchainImagesKHR", ret))
	s.images = make([]vk.Image, imageCount)
	ret = vk.GetSwapchainImages(p.device, s.handle, &imageCount, s.images)
	orPanic(newError("vkGetSwapchainImagesKHR", ret))

	p.log.Info("vulkan: swapchain ready",
		"images", imageCount, "width", extent.Width, "height", extent.Height)
	return nil
}

func chooseSurfaceFormat(formats []vk.SurfaceFormat) vk.SurfaceFormat {
	for i := range formats {
		formats[i].Deref()
	}
	if len(formats) == 1 && formats[0].Format == vk.FormatUndefined {
		return vk.SurfaceFormat{
			Format:     vk.FormatB8g8r8a8Unorm,
			ColorSpace: formats[0].ColorSpace,
		}
	}
	for _, f := range formats {
		if f.Format == vk.FormatB8g8r8a8Srgb || f.Format == vk.FormatR8g8b8a8Srgb {
			return f
		}
	}
	return formats[0]
}

func clamp(v, lo, hi uint32) uint32 {
	return max(lo, min(v, hi))
}

func (s *Swapchain) Handle() vk.Swapchain { return s.handle }

// AcquireNext implements vkpace.SwapTarget.
func (s *Swapchain) AcquireNext(signal *vkpace.Semaphore, timeout time.Duration) (uint32, bool, error) {
	ns := uint64(vk.MaxUint64)
	if timeout >= 0 {
		ns = uint64(timeout.Nanoseconds())
	}
	var idx uint32
	ret := vk.AcquireNextImage(s.platform.device, s.handle, ns,
		semaphoreHandle(signal), vk.NullFence, &idx)
	return idx, ret == vk.Suboptimal, newError("vkAcquireNextImageKHR", ret)
}

// Present implements vkpace.SwapTarget. It uses the platform's present
// queue.
func (s *Swapchain) Present(wait *vkpace.Semaphore, image uint32) (bool, error) {
	ret := vk.QueuePresent(s.platform.presentQueue.handle, &vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{semaphoreHandle(wait)},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{s.handle},
		PImageIndices:      []uint32{image},
	})
	return ret == vk.Suboptimal, newError("vkQueuePresentKHR", ret)
}

func (s *Swapchain) Extent() vkpace.Extent2D {
	return vkpace.Extent2D{Width: s.extent.Width, Height: s.extent.Height}
}

func (s *Swapchain) Format() vkpace.Format { return vkpace.Format(s.format.Format) }

// Images returns the swapchain images as vk.Image values.
func (s *Swapchain) Images() []vkpace.Image {
	out := make([]vkpace.Image, len(s.images))
	for i, img := range s.images {
		out[i] = img
	}
	return out
}

// Destroy releases the swapchain. Its images go with it.
func (s *Swapchain) Destroy() {
	if s.handle != vk.NullSwapchain {
		vk.DestroySwapchain(s.platform.device, s.handle, nil)
		s.handle = vk.NullSwapchain
		s.images = nil
	}
}
