package vkdev

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkpace"
)

func TestCheckExisting(t *testing.T) {
	actual := []string{"VK_KHR_surface", "VK_KHR_xcb_surface", "VK_EXT_debug_report"}
	existing, missing := checkExisting(actual, []string{
		"VK_KHR_surface\x00", "VK_KHR_wayland_surface", "VK_EXT_debug_report",
	})
	assert.Equal(t, []string{"VK_KHR_surface\x00", "VK_EXT_debug_report\x00"}, existing)
	assert.Equal(t, 1, missing)
}

func TestSafeStrings(t *testing.T) {
	assert.Equal(t, "a\x00", safeString("a"))
	assert.Equal(t, "a\x00", safeString("a\x00"))
	assert.Equal(t, []string{"a\x00", "b\x00"}, safeStrings([]string{"a", "b\x00"}))
	assert.Equal(t, []string{"a\x00", "b"}, dedupe([]string{"a\x00", "b", "a", "b\x00"}))
}

func TestBufferUsageFlags(t *testing.T) {
	tests := []struct {
		usage vkpace.BufferUsage
		want  vk.BufferUsageFlagBits
	}{
		{vkpace.UsageStaging, vk.BufferUsageTransferSrcBit},
		{vkpace.UsageUniform, vk.BufferUsageUniformBufferBit},
		{vkpace.UsageVertex | vkpace.UsageTransferDst, vk.BufferUsageVertexBufferBit | vk.BufferUsageTransferDstBit},
		{vkpace.UsageStorage | vkpace.UsageIndirect, vk.BufferUsageStorageBufferBit | vk.BufferUsageIndirectBufferBit},
	}
	for _, tt := range tests {
		assert.Equal(t, vk.BufferUsageFlags(tt.want), bufferUsageFlags(tt.usage))
	}
}

func TestClamp(t *testing.T) {
	assert.EqualValues(t, 10, clamp(5, 10, 20))
	assert.EqualValues(t, 20, clamp(50, 10, 20))
	assert.EqualValues(t, 15, clamp(15, 10, 20))
}

func TestChooseSurfaceFormat(t *testing.T) {
	got := chooseSurfaceFormat([]vk.SurfaceFormat{{Format: vk.FormatUndefined}})
	assert.Equal(t, vk.FormatB8g8r8a8Unorm, got.Format)

	got = chooseSurfaceFormat([]vk.SurfaceFormat{
		{Format: vk.FormatR8g8b8a8Unorm},
		{Format: vk.FormatB8g8r8a8Srgb},
	})
	assert.Equal(t, vk.FormatB8g8r8a8Srgb, got.Format)

	got = chooseSurfaceFormat([]vk.SurfaceFormat{{Format: vk.FormatR8g8b8a8Unorm}})
	assert.Equal(t, vk.FormatR8g8b8a8Unorm, got.Format)
}

func TestSpecializationInfo(t *testing.T) {
	assert.Nil(t, SpecializationInfo(vkpace.SpecializationInfo{}))

	var sc vkpace.SpecializationConstants
	sc.AddUint32(3, 64).AddFloat32(1, 0.5).AddBool(7, true)
	info := SpecializationInfo(sc.Freeze())
	require.NotNil(t, info)
	assert.EqualValues(t, 3, info.MapEntryCount)
	assert.EqualValues(t, 12, info.DataSize)
	assert.Equal(t, vk.SpecializationMapEntry{ConstantID: 1, Offset: 4, Size: 4}, info.PMapEntries[1])
	assert.NotNil(t, info.PData)
}

func TestMemoryTypeError(t *testing.T) {
	err := memoryTypeError(vk.MemoryPropertyDeviceLocalBit)
	require.Error(t, err)
	assert.NotErrorIs(t, err, vkpace.ErrOutOfDeviceMemory)
	var re *vkpace.ResultError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, vkpace.InitializationFailed, re.Code)
	assert.Contains(t, err.Error(), "no memory type")
}

func TestFindRequiredMemoryType(t *testing.T) {
	var props vk.PhysicalDeviceMemoryProperties
	props.MemoryTypeCount = 3
	props.MemoryTypes[0].PropertyFlags = vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	props.MemoryTypes[1].PropertyFlags = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)
	props.MemoryTypes[2].PropertyFlags = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)

	i, ok := FindRequiredMemoryType(props, 0b111, vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit)
	assert.True(t, ok)
	assert.EqualValues(t, 2, i)
	_, ok = FindRequiredMemoryType(props, 0b011, vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit)
	assert.False(t, ok)
}

func TestNewBufferErrorIsNilInterface(t *testing.T) {
	p := newHeadless(t)
	defer p.Destroy()
	// a terabyte does not fit in any heap
	b, err := p.NewDeviceLocalBuffer(1<<40, vkpace.UsageStorage)
	if err == nil {
		b.Destroy()
		t.Skip("device allocated a terabyte")
	}
	assert.True(t, b == nil, "failed allocation returned a non-nil %T", b)
	b, err = p.NewBuffer(1<<40, vkpace.UsageStaging)
	if err == nil {
		b.Destroy()
		t.Skip("device allocated a terabyte")
	}
	assert.True(t, b == nil, "failed allocation returned a non-nil %T", b)
}

// newHeadless brings up a device without a surface or skips the test.
func newHeadless(t *testing.T) *Platform {
	t.Helper()
	if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		t.Skipf("vulkan loader unavailable: %v", err)
	}
	if err := vk.Init(); err != nil {
		t.Skipf("vulkan init failed: %v", err)
	}
	p, err := NewPlatform(Config{
		AppName: "vkdev-test",
		Logger:  vkpace.NewLogger("debug", io.Discard),
	})
	if err != nil {
		t.Skipf("no usable vulkan device: %v", err)
	}
	return p
}

func TestPlatformSubmission(t *testing.T) {
	p := newHeadless(t)
	ctx := vkpace.NewContext(p, vkpace.WithLogger(vkpace.NewLogger("debug", io.Discard)))
	defer func() { require.NoError(t, ctx.Close()) }()

	fence, err := vkpace.NewFence(ctx, false)
	require.NoError(t, err)
	defer fence.Destroy()

	signaled, err := fence.IsSignaled()
	require.NoError(t, err)
	assert.False(t, signaled)
	assert.ErrorIs(t, fence.WaitTimeout(time.Millisecond), vkpace.ErrTimeout)

	require.NoError(t, p.GraphicsQueue().Submit(vkpace.Submission{Fence: fence}))
	require.NoError(t, fence.Wait())
	require.NoError(t, fence.Reset())
	signaled, err = fence.IsSignaled()
	require.NoError(t, err)
	assert.False(t, signaled)
}

func TestPlatformMappedUpload(t *testing.T) {
	p := newHeadless(t)
	ctx := vkpace.NewContext(p, vkpace.WithLogger(vkpace.NewLogger("debug", io.Discard)))
	defer func() { require.NoError(t, ctx.Close()) }()

	staging, err := vkpace.NewMappedFrom(ctx, []float32{1, 2, 3, 4}, vkpace.UsageStaging)
	require.NoError(t, err)
	defer staging.Destroy()
	readback, err := vkpace.NewMapped[float32](ctx, 4, vkpace.UsageTransferDst)
	require.NoError(t, err)
	defer readback.Destroy()

	pool, err := p.NewCommandPool(1)
	require.NoError(t, err)
	defer pool.Destroy()
	cb, err := pool.Begin(0)
	require.NoError(t, err)
	CopyBuffer(cb, MappedBuffer(staging.Buffer()), MappedBuffer(readback.Buffer()), int64(staging.ByteLen()))
	require.NoError(t, pool.End(cb))

	sub, err := vkpace.NewSubmitter(ctx)
	require.NoError(t, err)
	defer func() { require.NoError(t, sub.Destroy()) }()
	require.NoError(t, sub.Submit(p.GraphicsQueue(), []vkpace.CommandBuffer{cb}, nil, nil))
	require.NoError(t, sub.Wait(-1))

	assert.Equal(t, []float32{1, 2, 3, 4}, readback.View())
}

func TestPlatformStagedUpload(t *testing.T) {
	p := newHeadless(t)
	ctx := vkpace.NewContext(p, vkpace.WithLogger(vkpace.NewLogger("debug", io.Discard)))
	defer func() { require.NoError(t, ctx.Close()) }()

	staged, err := vkpace.NewStagedFrom(ctx, []uint32{5, 6, 7, 8}, vkpace.UsageStorage|vkpace.UsageStaging)
	require.NoError(t, err)
	defer staged.Destroy()
	readback, err := vkpace.NewMapped[uint32](ctx, 4, vkpace.UsageTransferDst)
	require.NoError(t, err)
	defer readback.Destroy()

	pool, err := p.NewCommandPool(1)
	require.NoError(t, err)
	defer pool.Destroy()
	cb, err := pool.Begin(0)
	require.NoError(t, err)
	require.True(t, staged.Flush(cb))
	CopyBuffer(cb, MappedBuffer(staged.Buffer()), MappedBuffer(readback.Buffer()), int64(staged.ByteLen()))
	require.NoError(t, pool.End(cb))

	sub, err := vkpace.NewSubmitter(ctx)
	require.NoError(t, err)
	defer func() { require.NoError(t, sub.Destroy()) }()
	require.NoError(t, sub.Submit(p.GraphicsQueue(), []vkpace.CommandBuffer{cb}, nil, nil))
	require.NoError(t, sub.Wait(-1))
	assert.Equal(t, []uint32{5, 6, 7, 8}, readback.View())
}

func TestPlatformHeadlessSwapchain(t *testing.T) {
	p := newHeadless(t)
	defer p.Destroy()
	_, err := p.NewSwapchain(2, vkpace.Extent2D{Width: 64, Height: 64})
	assert.Error(t, err)
}
