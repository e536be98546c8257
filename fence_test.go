package vkpace_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andewx/vkpace"
	"github.com/andewx/vkpace/simdev"
)

func TestFenceCreatedSignaled(t *testing.T) {
	ctx, _ := newContext(t)
	defer ctx.Close()

	f, err := vkpace.NewFence(ctx, true)
	require.NoError(t, err)
	defer f.Destroy()

	ok, err := f.IsSignaled()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, f.Wait())
	assert.NoError(t, f.WaitTimeout(0))
}

func TestFenceCreatedUnsignaled(t *testing.T) {
	ctx, _ := newContext(t)
	defer ctx.Close()

	f, err := vkpace.NewFence(ctx, false)
	require.NoError(t, err)
	defer f.Destroy()

	ok, err := f.IsSignaled()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, f.WaitTimeout(time.Millisecond), vkpace.ErrTimeout)
}

func TestFenceResetThenWaitTimesOut(t *testing.T) {
	ctx, _ := newContext(t)
	defer ctx.Close()

	f, err := vkpace.NewFence(ctx, true)
	require.NoError(t, err)
	defer f.Destroy()

	require.NoError(t, f.Reset())
	for i := 0; i < 3; i++ {
		err := f.WaitTimeout(5 * time.Millisecond)
		require.Error(t, err)
		assert.ErrorIs(t, err, vkpace.ErrTimeout)
	}
	ok, err := f.IsSignaled()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFenceSignaledBySubmission(t *testing.T) {
	ctx, dev := newContext(t, simdev.Manual())
	defer ctx.Close()

	f, err := vkpace.NewFence(ctx, false)
	require.NoError(t, err)
	defer f.Destroy()

	require.NoError(t, dev.Queue().Submit(vkpace.Submission{Fence: f}))
	assert.ErrorIs(t, f.WaitTimeout(time.Millisecond), vkpace.ErrTimeout)

	done := make(chan error, 1)
	go func() { done <- f.Wait() }()
	dev.Flush()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("fence wait did not return after the submission completed")
	}
	assert.Empty(t, dev.Violations())
}

func TestFenceResetUnsignaledPanics(t *testing.T) {
	ctx, _ := newContext(t)
	defer ctx.Close()

	f, err := vkpace.NewFence(ctx, false)
	require.NoError(t, err)
	defer f.Destroy()
	assert.Panics(t, func() { f.Reset() })
}

func TestFenceDeviceLost(t *testing.T) {
	ctx, dev := newContext(t, simdev.Manual())

	f, err := vkpace.NewFence(ctx, false)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- f.Wait() }()
	dev.Lose()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, vkpace.ErrDeviceLost)
		var re *vkpace.ResultError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, vkpace.DeviceLost, re.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("fence wait did not observe device loss")
	}
	assert.ErrorIs(t, f.WaitTimeout(time.Second), vkpace.ErrDeviceLost)

	f.Destroy()
	assert.ErrorIs(t, ctx.Close(), vkpace.ErrDeviceLost)
	assert.True(t, dev.Destroyed())
}

func TestNewErrorSuccess(t *testing.T) {
	assert.NoError(t, vkpace.NewError("op", vkpace.Success))
	assert.NoError(t, vkpace.NewError("op", vkpace.Suboptimal))

	err := vkpace.NewError("vkAllocateMemory", vkpace.OutOfDeviceMemory)
	assert.ErrorIs(t, err, vkpace.ErrOutOfDeviceMemory)
	assert.Contains(t, err.Error(), "vkAllocateMemory")
	assert.Contains(t, err.Error(), "fence_test.go")
}
