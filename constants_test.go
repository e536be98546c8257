package vkpace_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andewx/vkpace"
)

func TestSpecializationLayout(t *testing.T) {
	var sc vkpace.SpecializationConstants
	sc.AddEntry(3, uint32(7)).
		AddEntry(1, float64(0.5)).
		AddEntry(2, uint16(9))

	info := sc.Freeze()
	assert.Equal(t, []vkpace.SpecializationEntry{
		{ID: 3, Offset: 0, Size: 4},
		{ID: 1, Offset: 4, Size: 8},
		{ID: 2, Offset: 12, Size: 2},
	}, info.Entries)
	require.Len(t, info.Data, 14)
	assert.Equal(t, uint32(7), binary.NativeEndian.Uint32(info.Data[0:]))
	assert.Equal(t, 0.5, math.Float64frombits(binary.NativeEndian.Uint64(info.Data[4:])))
	assert.Equal(t, uint16(9), binary.NativeEndian.Uint16(info.Data[12:]))
}

func TestSpecializationHelpers(t *testing.T) {
	var sc vkpace.SpecializationConstants
	sc.AddUint32(0, 64).AddInt32(1, -1).AddFloat32(2, 1.5).AddBool(3, true).AddBool(4, false)
	assert.Equal(t, 5, sc.Len())
	assert.Equal(t, 20, sc.Size())

	info := sc.Freeze()
	total := uint32(0)
	for i, e := range info.Entries {
		assert.Equal(t, total, e.Offset, "entry %d", i)
		assert.EqualValues(t, 4, e.Size)
		total += e.Size
	}
	assert.EqualValues(t, len(info.Data), total)
	assert.Equal(t, int32(-1), int32(binary.NativeEndian.Uint32(info.Data[4:])))
	assert.Equal(t, uint32(1), binary.NativeEndian.Uint32(info.Data[12:]))
	assert.Equal(t, uint32(0), binary.NativeEndian.Uint32(info.Data[16:]))
}

func TestSpecializationStructValue(t *testing.T) {
	type workgroup struct{ X, Y, Z uint32 }
	var sc vkpace.SpecializationConstants
	sc.AddEntry(10, workgroup{8, 8, 1})
	info := sc.Freeze()
	require.Len(t, info.Entries, 1)
	assert.EqualValues(t, 12, info.Entries[0].Size)
	assert.Equal(t, uint32(8), binary.NativeEndian.Uint32(info.Data[4:]))
}

func TestSpecializationDuplicatePanics(t *testing.T) {
	var sc vkpace.SpecializationConstants
	sc.AddUint32(1, 1)
	assert.Panics(t, func() { sc.AddFloat32(1, 2) })
	assert.Equal(t, 1, sc.Len())
	assert.Equal(t, 4, sc.Size())
}

func TestSpecializationRejectsVariableLayout(t *testing.T) {
	var sc vkpace.SpecializationConstants
	assert.Panics(t, func() { sc.AddEntry(1, "text") })
	assert.Panics(t, func() { sc.AddEntry(2, 5) })
	assert.Equal(t, 0, sc.Len())
}

func TestSpecializationFreezeIsImmutable(t *testing.T) {
	var sc vkpace.SpecializationConstants
	sc.AddUint32(1, 1)
	info := sc.Freeze()
	sc.AddUint32(2, 2)
	info.Data[0] = 0xff

	assert.Len(t, info.Entries, 1)
	assert.Len(t, info.Data, 4)
	again := sc.Freeze()
	assert.Len(t, again.Entries, 2)
	assert.Equal(t, uint32(1), binary.NativeEndian.Uint32(again.Data))
}

func TestSpecializationEmpty(t *testing.T) {
	var sc vkpace.SpecializationConstants
	info := sc.Freeze()
	assert.Equal(t, 0, info.Len())
	assert.Empty(t, info.Data)
}
