package vkdev

import (
	"unsafe"

	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkpace"
)

// SpecializationInfo converts a frozen constant table for use in a
// vk.PipelineShaderStageCreateInfo. An empty table yields nil. The result
// points into info.Data, which must stay alive until the pipeline is
// created.
func SpecializationInfo(info vkpace.SpecializationInfo) *vk.SpecializationInfo {
	if info.Len() == 0 {
		return nil
	}
	entries := make([]vk.SpecializationMapEntry, len(info.Entries))
	for i, e := range info.Entries {
		entries[i] = vk.SpecializationMapEntry{
			ConstantID: e.ID,
			Offset:     e.Offset,
			Size:       uint(e.Size),
		}
	}
	return &vk.SpecializationInfo{
		MapEntryCount: uint32(len(entries)),
		PMapEntries:   entries,
		DataSize:      uint(len(info.Data)),
		PData:         unsafe.Pointer(unsafe.SliceData(info.Data)),
	}
}
