package vkdev

import (
	"time"

	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkpace"
)

// Fence wraps a VkFence.
type Fence struct {
	device vk.Device
	handle vk.Fence
}

// NewFence implements vkpace.Device.
func (p *Platform) NewFence(signaled bool) (vkpace.DeviceFence, error) {
	var flags vk.FenceCreateFlags
	if signaled {
		flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	ret := vk.CreateFence(p.device, &vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
		Flags: flags,
	}, nil, &fence)
	if isError(ret) {
		return nil, newError("vkCreateFence", ret)
	}
	return &Fence{device: p.device, handle: fence}, nil
}

func (f *Fence) Handle() vk.Fence { return f.handle }

// Wait blocks for at most timeout; a negative timeout waits forever.
func (f *Fence) Wait(timeout time.Duration) error {
	ns := uint64(vk.MaxUint64)
	if timeout >= 0 {
		ns = uint64(timeout.Nanoseconds())
	}
	ret := vk.WaitForFences(f.device, 1, []vk.Fence{f.handle}, vk.True, ns)
	return newError("vkWaitForFences", ret)
}

func (f *Fence) Status() (bool, error) {
	ret := vk.GetFenceStatus(f.device, f.handle)
	switch ret {
	case vk.Success:
		return true, nil
	case vk.NotReady:
		return false, nil
	}
	return false, newError("vkGetFenceStatus", ret)
}

func (f *Fence) Reset() error {
	return newError("vkResetFences", vk.ResetFences(f.device, 1, []vk.Fence{f.handle}))
}

func (f *Fence) Destroy() {
	vk.DestroyFence(f.device, f.handle, nil)
	f.handle = vk.NullFence
}

// Semaphore wraps a binary VkSemaphore.
type Semaphore struct {
	device vk.Device
	handle vk.Semaphore
}

// NewSemaphore implements vkpace.Device.
func (p *Platform) NewSemaphore() (vkpace.DeviceSemaphore, error) {
	var sem vk.Semaphore
	ret := vk.CreateSemaphore(p.device, &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}, nil, &sem)
	if isError(ret) {
		return nil, newError("vkCreateSemaphore", ret)
	}
	return &Semaphore{device: p.device, handle: sem}, nil
}

func (s *Semaphore) Handle() vk.Semaphore { return s.handle }

func (s *Semaphore) Destroy() {
	vk.DestroySemaphore(s.device, s.handle, nil)
	s.handle = vk.NullSemaphore
}

func semaphoreHandle(s *vkpace.Semaphore) vk.Semaphore {
	return s.Handle().(*Semaphore).handle
}

func fenceHandle(f *vkpace.Fence) vk.Fence {
	return f.Handle().(*Fence).handle
}

var (
	_ vkpace.TransferDevice = (*Platform)(nil)
	_ vkpace.Queue          = (*Queue)(nil)
	_ vkpace.SwapTarget     = (*Swapchain)(nil)
	_ vkpace.RenderPass     = (*RenderPass)(nil)
)
