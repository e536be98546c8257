package vkdev

import (
	"unsafe"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkpace"
)

// bufferUsageFlags translates vkpace usage bits into Vulkan buffer usage.
func bufferUsageFlags(usage vkpace.BufferUsage) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlagBits
	if usage&vkpace.UsageStaging != 0 {
		flags |= vk.BufferUsageTransferSrcBit
	}
	if usage&vkpace.UsageUniform != 0 {
		flags |= vk.BufferUsageUniformBufferBit
	}
	if usage&vkpace.UsageStorage != 0 {
		flags |= vk.BufferUsageStorageBufferBit
	}
	if usage&vkpace.UsageVertex != 0 {
		flags |= vk.BufferUsageVertexBufferBit
	}
	if usage&vkpace.UsageIndirect != 0 {
		flags |= vk.BufferUsageIndirectBufferBit
	}
	if usage&vkpace.UsageTransferDst != 0 {
		flags |= vk.BufferUsageTransferDstBit
	}
	return vk.BufferUsageFlags(flags)
}

// FindRequiredMemoryType returns the first memory type allowed by typeBits
// that has every bit of required.
func FindRequiredMemoryType(props vk.PhysicalDeviceMemoryProperties,
	typeBits uint32, required vk.MemoryPropertyFlagBits) (uint32, bool) {

	for i := uint32(0); i < props.MemoryTypeCount; i++ {
		if typeBits&(1<<i) == 0 {
			continue
		}
		props.MemoryTypes[i].Deref()
		flags := props.MemoryTypes[i].PropertyFlags
		if flags&vk.MemoryPropertyFlags(required) == vk.MemoryPropertyFlags(required) {
			return i, true
		}
	}
	return 0, false
}

// Buffer is a VkBuffer with its own dedicated allocation.
type Buffer struct {
	device vk.Device
	handle vk.Buffer
	memory vk.DeviceMemory
	size   int64
	mapped bool
}

// NewBuffer implements vkpace.Device. The memory is host visible and
// coherent, so writes through the mapping need no flush.
func (p *Platform) NewBuffer(size int64, usage vkpace.BufferUsage) (vkpace.DeviceBuffer, error) {
	b, err := p.newBuffer(size, bufferUsageFlags(usage),
		vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// NewDeviceLocalBuffer implements vkpace.TransferDevice. The buffer lives
// in device-local memory and is filled by transfers from staging buffers.
func (p *Platform) NewDeviceLocalBuffer(size int64, usage vkpace.BufferUsage) (vkpace.DeviceBuffer, error) {
	b, err := p.newBuffer(size, bufferUsageFlags(usage|vkpace.UsageTransferDst),
		vk.MemoryPropertyDeviceLocalBit)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// RecordCopy implements vkpace.TransferDevice. cb must be a vk.CommandBuffer
// in the recording state.
func (p *Platform) RecordCopy(cb vkpace.CommandBuffer, src, dst vkpace.DeviceBuffer, size int64) {
	cmd := cb.(vk.CommandBuffer)
	CopyBuffer(cmd, MappedBuffer(src), MappedBuffer(dst), size)
	TransferBarrier(cmd, MappedBuffer(dst))
}

// memoryTypeError reports a buffer whose requirements no memory type of the
// device meets.
func memoryTypeError(required vk.MemoryPropertyFlagBits) error {
	return errors.Wrapf(newError("vkAllocateMemory", vk.ErrorInitializationFailed),
		"vkdev: no memory type with properties %#x", uint32(required))
}

func (p *Platform) newBuffer(size int64, usage vk.BufferUsageFlags,
	required vk.MemoryPropertyFlagBits) (*Buffer, error) {

	b := &Buffer{device: p.device, size: size}
	ret := vk.CreateBuffer(p.device, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}, nil, &b.handle)
	if isError(ret) {
		return nil, newError("vkCreateBuffer", ret)
	}

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(p.device, b.handle, &req)
	req.Deref()
	index, ok := FindRequiredMemoryType(p.memoryProperties, req.MemoryTypeBits, required)
	if !ok {
		vk.DestroyBuffer(p.device, b.handle, nil)
		return nil, memoryTypeError(required)
	}
	ret = vk.AllocateMemory(p.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: index,
	}, nil, &b.memory)
	if isError(ret) {
		vk.DestroyBuffer(p.device, b.handle, nil)
		return nil, newError("vkAllocateMemory", ret)
	}
	ret = vk.BindBufferMemory(p.device, b.handle, b.memory, 0)
	if isError(ret) {
		b.Destroy()
		return nil, newError("vkBindBufferMemory", ret)
	}
	return b, nil
}

func (b *Buffer) Handle() vk.Buffer { return b.handle }

func (b *Buffer) Size() int64 { return b.size }

// Map maps the whole buffer. The slice aliases device memory.
func (b *Buffer) Map() ([]byte, error) {
	var ptr unsafe.Pointer
	ret := vk.MapMemory(b.device, b.memory, 0, vk.DeviceSize(b.size), 0, &ptr)
	if isError(ret) {
		return nil, newError("vkMapMemory", ret)
	}
	b.mapped = true
	return unsafe.Slice((*byte)(ptr), b.size), nil
}

func (b *Buffer) Unmap() {
	if b.mapped {
		vk.UnmapMemory(b.device, b.memory)
		b.mapped = false
	}
}

func (b *Buffer) Destroy() {
	b.Unmap()
	vk.DestroyBuffer(b.device, b.handle, nil)
	vk.FreeMemory(b.device, b.memory, nil)
	b.handle = vk.NullBuffer
	b.memory = vk.NullDeviceMemory
}
