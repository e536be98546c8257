package vkpace_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andewx/vkpace"
	"github.com/andewx/vkpace/simdev"
)

type vertex struct {
	Pos   [3]float32
	Color [4]uint8
}

type face struct {
	Block  uint32
	Normal uint8
	_      [3]uint8
}

func TestMappedSizes(t *testing.T) {
	ctx, dev := newContext(t)
	defer ctx.Close()

	for _, c := range []int{1, 16, 4096} {
		m, err := vkpace.NewMapped[vertex](ctx, c, vkpace.UsageVertex)
		require.NoError(t, err)
		assert.Equal(t, c, m.Len())
		assert.Equal(t, c*int(unsafe.Sizeof(vertex{})), m.ByteLen())
		assert.Len(t, m.View(), c)
		assert.Len(t, m.Bytes(), m.ByteLen())
		assert.Equal(t, vkpace.UsageVertex, m.Usage())
		assert.EqualValues(t, m.ByteLen(), m.Buffer().Size())
		m.Destroy()
	}

	m, err := vkpace.NewMapped[float32](ctx, 16, vkpace.UsageUniform)
	require.NoError(t, err)
	assert.Equal(t, 64, m.ByteLen())
	m.Destroy()
	assert.Empty(t, dev.Violations())
}

func TestMappedRoundTrip(t *testing.T) {
	ctx, dev := newContext(t)
	defer ctx.Close()

	data := []face{{Block: 1, Normal: 2}, {Block: 0xdeadbeef, Normal: 5}, {Block: 7}}
	m, err := vkpace.NewMappedFrom(ctx, data, vkpace.UsageStorage)
	require.NoError(t, err)
	defer m.Destroy()

	assert.Equal(t, data, m.View())

	// Writes through the view land in device memory.
	m.View()[1].Normal = 9
	buf := m.Buffer().(*simdev.Buffer)
	assert.Equal(t, byte(9), buf.Contents()[int(unsafe.Sizeof(face{}))+int(unsafe.Offsetof(face{}.Normal))])
	assert.Equal(t, uint8(9), m.View()[1].Normal)

	view := m.View()
	assert.Same(t, &view[0], &m.View()[0], "view moved")
	assert.Empty(t, dev.Violations())
}

func TestMappedByteRoundTrip(t *testing.T) {
	ctx, _ := newContext(t)
	defer ctx.Close()

	m, err := vkpace.NewMapped[uint32](ctx, 4, vkpace.UsageStaging)
	require.NoError(t, err)
	defer m.Destroy()

	want := []uint32{1, 2, 3, 0xffffffff}
	copy(m.View(), want)
	raw := append([]byte(nil), m.Bytes()...)
	copy(m.View(), []uint32{0, 0, 0, 0})
	copy(m.Bytes(), raw)
	assert.Equal(t, want, m.View())
}

func TestMappedContractViolations(t *testing.T) {
	ctx, _ := newContext(t)
	defer ctx.Close()

	assert.Panics(t, func() { vkpace.NewMapped[vertex](ctx, 0, vkpace.UsageVertex) })
	assert.Panics(t, func() { vkpace.NewMapped[vertex](ctx, -3, vkpace.UsageVertex) })
	assert.Panics(t, func() { vkpace.NewMapped[string](ctx, 4, vkpace.UsageStorage) })
	assert.Panics(t, func() { vkpace.NewMapped[[]byte](ctx, 4, vkpace.UsageStorage) })
	assert.Panics(t, func() { vkpace.NewMapped[struct{ P *int }](ctx, 4, vkpace.UsageStorage) })
	assert.Panics(t, func() { vkpace.NewMapped[struct{}](ctx, 4, vkpace.UsageStorage) })

	m, err := vkpace.NewMapped[uint16](ctx, 2, vkpace.UsageStorage)
	require.NoError(t, err)
	m.Destroy()
	assert.Panics(t, func() { m.View() })
	assert.EqualValues(t, 1, ctx.Refs())
}

func TestMappedAllocationFailure(t *testing.T) {
	ctx, dev := newContext(t, simdev.MemoryLimit(1024))
	defer ctx.Close()

	m, err := vkpace.NewMapped[uint64](ctx, 1024, vkpace.UsageStorage)
	assert.Nil(t, m)
	assert.ErrorIs(t, err, vkpace.ErrOutOfDeviceMemory)
	assert.EqualValues(t, 1, ctx.Refs())
	assert.Equal(t, 0, dev.Live())
}

func TestMappedMapFailureFreesBuffer(t *testing.T) {
	ctx, dev := newContext(t, simdev.FailMap())
	defer ctx.Close()

	m, err := vkpace.NewMapped[uint32](ctx, 8, vkpace.UsageUniform)
	assert.Nil(t, m)
	var re *vkpace.ResultError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, vkpace.MemoryMapFailed, re.Code)
	assert.Equal(t, 0, dev.Live())
	assert.EqualValues(t, 1, ctx.Refs())
}
