package vkdev

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkpace"
)

// ImageView wraps a 2D VkImageView.
type ImageView struct {
	device vk.Device
	handle vk.ImageView
}

// NewImageView implements vkpace.Device. img must be a vk.Image or a
// *DepthImage.
func (p *Platform) NewImageView(img vkpace.Image, format vkpace.Format,
	aspect vkpace.AspectFlags, usage vkpace.ImageUsageFlags) (vkpace.DeviceImageView, error) {

	var image vk.Image
	switch v := img.(type) {
	case vk.Image:
		image = v
	case *DepthImage:
		image = v.handle
	default:
		return nil, errors.Errorf("vkdev: image view: unexpected image %T", img)
	}

	var view vk.ImageView
	ret := vk.CreateImageView(p.device, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   vk.Format(format),
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleR,
			G: vk.ComponentSwizzleG,
			B: vk.ComponentSwizzleB,
			A: vk.ComponentSwizzleA,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(aspect),
			LevelCount: 1,
			LayerCount: 1,
		},
	}, nil, &view)
	if isError(ret) {
		return nil, newError("vkCreateImageView", ret)
	}
	return &ImageView{device: p.device, handle: view}, nil
}

func (v *ImageView) Handle() vk.ImageView { return v.handle }

func (v *ImageView) Destroy() {
	vk.DestroyImageView(v.device, v.handle, nil)
	v.handle = vk.NullImageView
}

// DepthImage is a device-local depth attachment image with its memory.
type DepthImage struct {
	device vk.Device
	handle vk.Image
	memory vk.DeviceMemory
	format vkpace.Format
	extent vkpace.Extent2D
}

// DepthFormats lists depth formats from highest precision down.
var DepthFormats = []vkpace.Format{
	vkpace.FormatD32SfloatS8,
	vkpace.FormatD32Sfloat,
	vkpace.FormatD24UnormS8,
	vkpace.FormatD16Unorm,
}

// DepthFormat returns the first entry of DepthFormats usable as an
// optimally tiled depth attachment.
func (p *Platform) DepthFormat() (vkpace.Format, error) {
	for _, f := range DepthFormats {
		var props vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(p.gpu, vk.Format(f), &props)
		props.Deref()
		if props.OptimalTilingFeatures&vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit) != 0 {
			return f, nil
		}
	}
	return vkpace.FormatUndefined, errors.New("vulkan error: no supported depth format")
}

// NewDepthImage creates a depth image of the given format and extent.
func (p *Platform) NewDepthImage(format vkpace.Format, extent vkpace.Extent2D) (*DepthImage, error) {
	d := &DepthImage{device: p.device, format: format, extent: extent}
	ret := vk.CreateImage(p.device, &vk.ImageCreateInfo{
		SType:                 vk.StructureTypeImageCreateInfo,
		ImageType:             vk.ImageType2d,
		Format:                vk.Format(format),
		Extent:                vk.Extent3D{Width: extent.Width, Height: extent.Height, Depth: 1},
		MipLevels:             1,
		ArrayLayers:           1,
		Samples:               vk.SampleCount1Bit,
		Tiling:                vk.ImageTilingOptimal,
		Usage:                 vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
		SharingMode:           vk.SharingModeExclusive,
		QueueFamilyIndexCount: 1,
		PQueueFamilyIndices:   []uint32{p.graphicsQueueIndex},
		InitialLayout:         vk.ImageLayoutUndefined,
	}, nil, &d.handle)
	if isError(ret) {
		return nil, newError("vkCreateImage", ret)
	}

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(p.device, d.handle, &req)
	req.Deref()
	index, ok := FindRequiredMemoryType(p.memoryProperties, req.MemoryTypeBits,
		vk.MemoryPropertyDeviceLocalBit)
	if !ok {
		vk.DestroyImage(p.device, d.handle, nil)
		return nil, errors.Wrap(vkpace.ErrOutOfDeviceMemory, "vkdev: no device-local memory for depth image")
	}
	ret = vk.AllocateMemory(p.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: index,
	}, nil, &d.memory)
	if isError(ret) {
		vk.DestroyImage(p.device, d.handle, nil)
		return nil, newError("vkAllocateMemory", ret)
	}
	ret = vk.BindImageMemory(p.device, d.handle, d.memory, 0)
	if isError(ret) {
		d.Destroy()
		return nil, newError("vkBindImageMemory", ret)
	}
	return d, nil
}

func (d *DepthImage) Handle() vk.Image { return d.handle }

func (d *DepthImage) Format() vkpace.Format { return d.format }

func (d *DepthImage) Extent() vkpace.Extent2D { return d.extent }

// Destroy frees the image. Views over it must be destroyed first.
func (d *DepthImage) Destroy() {
	vk.DestroyImage(d.device, d.handle, nil)
	vk.FreeMemory(d.device, d.memory, nil)
	d.handle = vk.NullImage
	d.memory = vk.NullDeviceMemory
}

// Framebuffer wraps a VkFramebuffer.
type Framebuffer struct {
	device vk.Device
	handle vk.Framebuffer
}

// NewFramebuffer implements vkpace.Device. pass must be a *RenderPass.
func (p *Platform) NewFramebuffer(pass vkpace.RenderPass, extent vkpace.Extent2D,
	views []vkpace.DeviceImageView) (vkpace.DeviceFramebuffer, error) {

	rp, ok := pass.(*RenderPass)
	if !ok {
		return nil, errors.Errorf("vkdev: framebuffer: unexpected render pass %T", pass)
	}
	handles := make([]vk.ImageView, len(views))
	for i, v := range views {
		iv, ok := v.(*ImageView)
		if !ok {
			return nil, errors.Errorf("vkdev: framebuffer: unexpected image view %T", v)
		}
		handles[i] = iv.handle
	}
	var fb vk.Framebuffer
	ret := vk.CreateFramebuffer(p.device, &vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      rp.handle,
		AttachmentCount: uint32(len(handles)),
		PAttachments:    handles,
		Width:           extent.Width,
		Height:          extent.Height,
		Layers:          1,
	}, nil, &fb)
	if isError(ret) {
		return nil, newError("vkCreateFramebuffer", ret)
	}
	return &Framebuffer{device: p.device, handle: fb}, nil
}

func (f *Framebuffer) Handle() vk.Framebuffer { return f.handle }

func (f *Framebuffer) Destroy() {
	vk.DestroyFramebuffer(f.device, f.handle, nil)
	f.handle = vk.NullFramebuffer
}
