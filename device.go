package vkpace

import (
	"strconv"
	"time"
)

// Device is the device context consumed by this package. It is assumed to
// be initialized already (instance, physical and logical device, queues);
// vkpace only creates and destroys primitives through it.
//
// Implementations live in vkdev (Vulkan) and simdev (simulation).
type Device interface {
	// NewFence creates a CPU-observable signal, optionally signaled.
	NewFence(signaled bool) (DeviceFence, error)
	// NewSemaphore creates a binary signal.
	NewSemaphore() (DeviceSemaphore, error)
	// NewBuffer creates a host-visible, host-coherent buffer of size bytes
	// with its backing memory bound.
	NewBuffer(size int64, usage BufferUsage) (DeviceBuffer, error)
	// NewImageView creates a 2D view over img restricted to aspect.
	NewImageView(img Image, format Format, aspect AspectFlags, usage ImageUsageFlags) (DeviceImageView, error)
	// NewFramebuffer binds views to pass with the given extent.
	NewFramebuffer(pass RenderPass, extent Extent2D, views []DeviceImageView) (DeviceFramebuffer, error)
	// WaitIdle blocks until the device has retired all submitted work.
	WaitIdle() error
	// Destroy releases the device. Called once, after every object created
	// from it has been destroyed.
	Destroy()
}

// TransferDevice is a Device that can hold memory only the device reaches
// and record copies into it. Staged needs one.
type TransferDevice interface {
	Device
	// NewDeviceLocalBuffer creates a buffer in device-local memory. It is
	// never mapped.
	NewDeviceLocalBuffer(size int64, usage BufferUsage) (DeviceBuffer, error)
	// RecordCopy records a copy of size bytes from src to dst into cb,
	// followed by a barrier that makes it visible to shader and vertex
	// reads later in the same submission.
	RecordCopy(cb CommandBuffer, src, dst DeviceBuffer, size int64)
}

// DeviceFence is a backend fence.
type DeviceFence interface {
	// Wait blocks until the fence is signaled. A negative timeout waits
	// forever.
	Wait(timeout time.Duration) error
	Status() (bool, error)
	Reset() error
	Destroy()
}

// DeviceSemaphore is a backend binary semaphore.
type DeviceSemaphore interface {
	Destroy()
}

// DeviceBuffer is a backend buffer with bound memory.
type DeviceBuffer interface {
	// Map maps the whole allocation. The returned slice has length Size and
	// stays valid until Unmap.
	Map() ([]byte, error)
	Unmap()
	Size() int64
	Destroy()
}

// DeviceImageView is a backend image view.
type DeviceImageView interface {
	Destroy()
}

// DeviceFramebuffer is a backend framebuffer.
type DeviceFramebuffer interface {
	Destroy()
}

// Image is an opaque backend image handle. Views borrow it; vkpace never
// destroys images.
type Image any

// CommandBuffer is an opaque, already recorded backend command buffer.
type CommandBuffer any

// RenderPass is the render pass layout an attachment set is built for.
type RenderPass interface {
	// Attachments lists the aspect of every attachment, in binding order.
	Attachments() []AspectFlags
}

// Queue accepts command submissions.
type Queue interface {
	Submit(s Submission) error
	WaitIdle() error
}

// SwapTarget is the presentation target (a swapchain).
type SwapTarget interface {
	// AcquireNext returns the index of the next presentable image. signal is
	// set by the device once the image is really available. A negative
	// timeout waits forever. ErrOutOfDate means the target must be recreated.
	AcquireNext(signal *Semaphore, timeout time.Duration) (image uint32, suboptimal bool, err error)
	// Present queues image for presentation once wait is signaled.
	Present(wait *Semaphore, image uint32) (suboptimal bool, err error)
	Extent() Extent2D
	Format() Format
	Images() []Image
}

// PipelineStage is a pipeline stage mask (VkPipelineStageFlags).
type PipelineStage uint32

// Pipeline stages used for semaphore waits.
const (
	StageTopOfPipe             PipelineStage = 0x00000001
	StageComputeShader         PipelineStage = 0x00000800
	StageTransfer              PipelineStage = 0x00001000
	StageColorAttachmentOutput PipelineStage = 0x00000400
	StageAllCommands           PipelineStage = 0x00010000
)

// SemaphoreWait is one entry of a submission's wait list.
type SemaphoreWait struct {
	Semaphore *Semaphore
	Stage     PipelineStage
}

// Submission describes one queue submission: what to run, what to wait
// for, what to signal and which fence completes when it retires.
type Submission struct {
	Commands []CommandBuffer
	Waits    []SemaphoreWait
	Signals  []*Semaphore
	Fence    *Fence
}

// Format is a texel format (VkFormat).
type Format uint32

// Formats commonly used for swap targets and depth buffers.
const (
	FormatUndefined     Format = 0
	FormatR8g8b8a8Unorm Format = 37
	FormatR8g8b8a8Srgb  Format = 43
	FormatB8g8r8a8Unorm Format = 44
	FormatB8g8r8a8Srgb  Format = 50
	FormatD16Unorm      Format = 124
	FormatD32Sfloat     Format = 126
	FormatD24UnormS8    Format = 129
	FormatD32SfloatS8   Format = 130
)

// HasDepth reports whether f is one of the depth formats above.
func (f Format) HasDepth() bool {
	switch f {
	case FormatD16Unorm, FormatD32Sfloat, FormatD24UnormS8, FormatD32SfloatS8:
		return true
	}
	return false
}

// AspectFlags selects image sub-resource aspects (VkImageAspectFlags).
type AspectFlags uint32

const (
	AspectColor   AspectFlags = 0x1
	AspectDepth   AspectFlags = 0x2
	AspectStencil AspectFlags = 0x4
)

func (a AspectFlags) String() string {
	switch a {
	case AspectColor:
		return "color"
	case AspectDepth:
		return "depth"
	case AspectStencil:
		return "stencil"
	case AspectDepth | AspectStencil:
		return "depth|stencil"
	}
	return "aspect(" + strconv.Itoa(int(a)) + ")"
}

// ImageUsageFlags is VkImageUsageFlags.
type ImageUsageFlags uint32

const (
	ImageUsageTransferSrc            ImageUsageFlags = 0x01
	ImageUsageTransferDst            ImageUsageFlags = 0x02
	ImageUsageSampled                ImageUsageFlags = 0x04
	ImageUsageStorage                ImageUsageFlags = 0x08
	ImageUsageColorAttachment        ImageUsageFlags = 0x10
	ImageUsageDepthStencilAttachment ImageUsageFlags = 0x20
)

// BufferUsage says what a mapped buffer is bound as.
type BufferUsage uint32

const (
	// UsageStaging is a transfer source for uploads to device-local memory.
	UsageStaging BufferUsage = 1 << iota
	UsageUniform
	UsageStorage
	UsageVertex
	UsageIndirect
	UsageTransferDst
)

// Extent2D is a width and height in pixels.
type Extent2D struct {
	Width  uint32
	Height uint32
}

// IsZero reports whether either dimension is zero.
func (e Extent2D) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}
