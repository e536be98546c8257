package vkdev

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkpace"
)

type queueFamilies struct {
	graphics uint32
	present  uint32
}

// findQueueFamilies picks a graphics family and, when surface is set, a
// family that can present to it. A family doing both is preferred.
func findQueueFamilies(gpu vk.PhysicalDevice, surface vk.Surface) (queueFamilies, error) {
	var fam queueFamilies

	var queueCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &queueCount, nil)
	queueProperties := make([]vk.QueueFamilyProperties, queueCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &queueCount, queueProperties)
	if queueCount == 0 {
		return fam, errors.New("vulkan error: no queue families found on GPU 0")
	}

	needsPresent := surface != vk.NullSurface
	supportsPresent := func(i uint32) bool {
		if !needsPresent {
			return false
		}
		var supported vk.Bool32
		vk.GetPhysicalDeviceSurfaceSupport(gpu, i, surface, &supported)
		return supported.B()
	}

	graphicsFound, presentFound := false, false
	for i := uint32(0); i < queueCount; i++ {
		queueProperties[i].Deref()
		if queueProperties[i].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) == 0 {
			continue
		}
		if !graphicsFound {
			fam.graphics = i
			graphicsFound = true
		}
		if !needsPresent || supportsPresent(i) {
			fam.graphics, fam.present = i, i
			presentFound = true
			break
		}
	}
	if !graphicsFound {
		return fam, errors.New("vulkan error: could not find a suitable queue family for graphics")
	}
	if !needsPresent {
		fam.present = fam.graphics
		return fam, nil
	}
	if !presentFound {
		// looking for separate present queue
		for i := uint32(0); i < queueCount; i++ {
			if supportsPresent(i) {
				fam.present = i
				presentFound = true
				break
			}
		}
	}
	if !presentFound {
		return fam, errors.New("vulkan error: could not found separate queue with present capabilities")
	}
	return fam, nil
}

// Queue is a device queue. It implements vkpace.Queue.
type Queue struct {
	handle vk.Queue
	family uint32
}

func newQueue(device vk.Device, family uint32) *Queue {
	var q vk.Queue
	vk.GetDeviceQueue(device, family, 0, &q)
	return &Queue{handle: q, family: family}
}

func (q *Queue) Handle() vk.Queue { return q.handle }

func (q *Queue) Family() uint32 { return q.family }

// Submit queues s. Commands must be vk.CommandBuffer values recorded for
// this queue's family.
func (q *Queue) Submit(s vkpace.Submission) error {
	cmds := make([]vk.CommandBuffer, 0, len(s.Commands))
	for _, c := range s.Commands {
		cb, ok := c.(vk.CommandBuffer)
		if !ok {
			return errors.Errorf("vkdev: submit: unexpected command buffer %T", c)
		}
		cmds = append(cmds, cb)
	}
	waits := make([]vk.Semaphore, len(s.Waits))
	stages := make([]vk.PipelineStageFlags, len(s.Waits))
	for i, w := range s.Waits {
		waits[i] = semaphoreHandle(w.Semaphore)
		stages[i] = vk.PipelineStageFlags(w.Stage)
	}
	signals := make([]vk.Semaphore, len(s.Signals))
	for i, sem := range s.Signals {
		signals[i] = semaphoreHandle(sem)
	}
	fence := vk.NullFence
	if s.Fence != nil {
		fence = fenceHandle(s.Fence)
	}

	ret := vk.QueueSubmit(q.handle, 1, []vk.SubmitInfo{{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(waits)),
		PWaitSemaphores:      waits,
		PWaitDstStageMask:    stages,
		CommandBufferCount:   uint32(len(cmds)),
		PCommandBuffers:      cmds,
		SignalSemaphoreCount: uint32(len(signals)),
		PSignalSemaphores:    signals,
	}}, fence)
	return newError("vkQueueSubmit", ret)
}

// WaitIdle blocks until every submission on the queue has retired.
func (q *Queue) WaitIdle() error {
	return newError("vkQueueWaitIdle", vk.QueueWaitIdle(q.handle))
}
