package vkdev

import (
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkpace"
)

// RenderPass is a single-subpass pass with one colour attachment that ends
// in present layout and an optional depth attachment. It implements
// vkpace.RenderPass.
type RenderPass struct {
	device      vk.Device
	handle      vk.RenderPass
	attachments []vkpace.AspectFlags
}

// NewRenderPass creates a pass that clears colour to be presented. When
// depthFormat is FormatUndefined the pass has no depth attachment.
func (p *Platform) NewRenderPass(colorFormat, depthFormat vkpace.Format) (*RenderPass, error) {
	rp := &RenderPass{device: p.device}

	attachmentDescriptions := []vk.AttachmentDescription{{
		Format:         vk.Format(colorFormat),
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutPresentSrc,
	}}
	rp.attachments = []vkpace.AspectFlags{vkpace.AspectColor}

	colorReferences := []vk.AttachmentReference{{
		Attachment: 0,
		Layout:     vk.ImageLayoutColorAttachmentOptimal,
	}}
	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments:    colorReferences,
	}

	dstStage := vk.PipelineStageFlagBits(vk.PipelineStageColorAttachmentOutputBit)
	dstAccess := vk.AccessFlagBits(vk.AccessColorAttachmentWriteBit)
	if depthFormat != vkpace.FormatUndefined {
		attachmentDescriptions = append(attachmentDescriptions, vk.AttachmentDescription{
			Format:         vk.Format(depthFormat),
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		rp.attachments = append(rp.attachments, vkpace.AspectDepth)
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: 1,
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
		dstStage |= vk.PipelineStageEarlyFragmentTestsBit
		dstAccess |= vk.AccessDepthStencilAttachmentWriteBit
	}

	// The external dependency orders the layout transition after the
	// image-acquired wait at colour attachment output.
	dependencies := []vk.SubpassDependency{{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(dstStage),
		DstStageMask:  vk.PipelineStageFlags(dstStage),
		DstAccessMask: vk.AccessFlags(dstAccess),
	}}

	ret := vk.CreateRenderPass(p.device, &vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachmentDescriptions)),
		PAttachments:    attachmentDescriptions,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}, nil, &rp.handle)
	if isError(ret) {
		return nil, newError("vkCreateRenderPass", ret)
	}
	return rp, nil
}

// Attachments implements vkpace.RenderPass.
func (rp *RenderPass) Attachments() []vkpace.AspectFlags { return rp.attachments }

func (rp *RenderPass) Handle() vk.RenderPass { return rp.handle }

func (rp *RenderPass) Destroy() {
	vk.DestroyRenderPass(rp.device, rp.handle, nil)
	rp.handle = vk.NullRenderPass
}
