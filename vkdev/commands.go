package vkdev

import (
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkpace"
)

// CommandPool owns one primary command buffer per frame slot. A slot's
// buffer is reset when it is begun again, so it must only be reused once
// the slot's fence has been waited on; FramesInFlight.Cycle does that.
type CommandPool struct {
	device  vk.Device
	pool    vk.CommandPool
	buffers []vk.CommandBuffer
}

// NewCommandPool creates a pool on the graphics family with slots buffers.
func (p *Platform) NewCommandPool(slots int) (*CommandPool, error) {
	c := &CommandPool{device: p.device}
	ret := vk.CreateCommandPool(p.device, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: p.graphicsQueueIndex,
		// ResetCommandBufferBit allows command buffers to be reset individually.
		Flags: vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}, nil, &c.pool)
	if isError(ret) {
		return nil, newError("vkCreateCommandPool", ret)
	}
	c.buffers = make([]vk.CommandBuffer, slots)
	ret = vk.AllocateCommandBuffers(p.device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        c.pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(slots),
	}, c.buffers)
	if isError(ret) {
		vk.DestroyCommandPool(p.device, c.pool, nil)
		return nil, newError("vkAllocateCommandBuffers", ret)
	}
	return c, nil
}

func (c *CommandPool) Len() int { return len(c.buffers) }

// Begin resets the buffer of slot and starts recording a one-time submit.
func (c *CommandPool) Begin(slot int) (vk.CommandBuffer, error) {
	cb := c.buffers[slot]
	ret := vk.ResetCommandBuffer(cb, vk.CommandBufferResetFlags(vk.CommandBufferResetReleaseResourcesBit))
	if isError(ret) {
		return nil, newError("vkResetCommandBuffer", ret)
	}
	ret = vk.BeginCommandBuffer(cb, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	})
	if isError(ret) {
		return nil, newError("vkBeginCommandBuffer", ret)
	}
	return cb, nil
}

// End finishes recording.
func (c *CommandPool) End(cb vk.CommandBuffer) error {
	return newError("vkEndCommandBuffer", vk.EndCommandBuffer(cb))
}

func (c *CommandPool) Destroy() {
	if len(c.buffers) > 0 {
		vk.FreeCommandBuffers(c.device, c.pool, uint32(len(c.buffers)), c.buffers)
		c.buffers = nil
	}
	vk.DestroyCommandPool(c.device, c.pool, nil)
	c.pool = vk.NullCommandPool
}

// CopyBuffer records a whole-range copy from src to dst. Both buffers must
// be at least size bytes.
func CopyBuffer(cb vk.CommandBuffer, src, dst vk.Buffer, size int64) {
	vk.CmdCopyBuffer(cb, src, dst, 1, []vk.BufferCopy{{
		Size: vk.DeviceSize(size),
	}})
}

// MappedBuffer returns the Vulkan buffer behind a mapped resource created
// on a Platform.
func MappedBuffer(b vkpace.DeviceBuffer) vk.Buffer {
	return b.(*Buffer).handle
}

// TransferBarrier makes a transfer write to buf visible to vertex input
// and uniform reads.
func TransferBarrier(cb vk.CommandBuffer, buf vk.Buffer) {
	vk.CmdPipelineBarrier(cb,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(vk.PipelineStageVertexInputBit|vk.PipelineStageVertexShaderBit),
		0, 0, nil,
		1, []vk.BufferMemoryBarrier{{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(vk.AccessTransferWriteBit),
			DstAccessMask:       vk.AccessFlags(vk.AccessVertexAttributeReadBit | vk.AccessUniformReadBit),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Buffer:              buf,
			Size:                vk.DeviceSize(vk.WholeSize),
		}},
		0, nil)
}

// ClearPass records a render pass instance on fb that only clears its
// attachments.
func ClearPass(cb vk.CommandBuffer, pass *RenderPass, fb *vkpace.Framebuffer,
	color [4]float32, depth float32) {

	extent := fb.Extent()
	clears := []vk.ClearValue{vk.NewClearValue(color[:])}
	if len(pass.attachments) > 1 {
		clears = append(clears, vk.NewClearDepthStencil(depth, 0))
	}
	vk.CmdBeginRenderPass(cb, &vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  pass.handle,
		Framebuffer: fb.Handle().(*Framebuffer).handle,
		RenderArea: vk.Rect2D{
			Extent: vk.Extent2D{Width: extent.Width, Height: extent.Height},
		},
		ClearValueCount: uint32(len(clears)),
		PClearValues:    clears,
	}, vk.SubpassContentsInline)
	vk.CmdEndRenderPass(cb)
}
