package vkpace_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andewx/vkpace"
	"github.com/andewx/vkpace/simdev"
)

type frameRig struct {
	ctx    *vkpace.Context
	dev    *simdev.Device
	swap   *simdev.Swapchain
	frames *vkpace.FramesInFlight
}

func newFrameRig(t *testing.T, n int, opts ...simdev.Option) *frameRig {
	t.Helper()
	ctx, dev := newContext(t, opts...)
	frames, err := vkpace.NewFramesInFlight(ctx, n)
	require.NoError(t, err)
	swap := dev.NewSwapchain(3, vkpace.FormatB8g8r8a8Srgb, vkpace.Extent2D{Width: 320, Height: 240})
	return &frameRig{ctx: ctx, dev: dev, swap: swap, frames: frames}
}

func (r *frameRig) close(t *testing.T) {
	t.Helper()
	require.NoError(t, r.frames.Destroy())
	r.swap.Destroy()
	require.NoError(t, r.ctx.Close())
	assert.True(t, r.dev.Destroyed())
}

func noCommands(vkpace.Frame) ([]vkpace.CommandBuffer, error) {
	return []vkpace.CommandBuffer{"cmd"}, nil
}

func TestFramesInFlightRotation(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5} {
		r := newFrameRig(t, n)
		assert.Equal(t, n, r.frames.Len())
		for k := 1; k <= 12; k++ {
			resized, err := r.frames.Cycle(r.swap, r.dev.Queue(), noCommands)
			require.NoError(t, err)
			require.False(t, resized)
			assert.Equal(t, k%n, r.frames.Current(), "N=%d after %d cycles", n, k)
		}
		assert.EqualValues(t, 12, r.frames.Frames())
		r.close(t)
		assert.Empty(t, r.dev.Violations())
	}
}

func TestFramesInFlightRotateManual(t *testing.T) {
	r := newFrameRig(t, 3)
	defer r.close(t)
	got := []int{}
	for i := 0; i < 7; i++ {
		got = append(got, r.frames.Current())
		r.frames.Rotate()
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0}, got)
}

func TestFramesInFlightSlotsShareIndex(t *testing.T) {
	r := newFrameRig(t, 2)
	defer r.close(t)

	var seen []vkpace.Frame
	record := func(f vkpace.Frame) ([]vkpace.CommandBuffer, error) {
		seen = append(seen, f)
		return nil, nil
	}
	for i := 0; i < 4; i++ {
		cur := r.frames.Current()
		fence := r.frames.CurrentFence()
		acq := r.frames.CurrentImageAcquired()
		fin := r.frames.CurrentRenderFinished()
		_, err := r.frames.Cycle(r.swap, r.dev.Queue(), record)
		require.NoError(t, err)
		f := seen[i]
		assert.Equal(t, cur, f.Slot)
		assert.Same(t, fence, f.Fence)
		assert.Same(t, acq, f.ImageAcquired)
		assert.Same(t, fin, f.RenderFinished)
	}
	assert.NotSame(t, seen[0].Fence, seen[1].Fence)
	assert.Same(t, seen[0].Fence, seen[2].Fence)
	assert.Equal(t, []uint32{0, 1, 2, 0}, r.swap.Presented())
}

// Two frames in flight, five cycles: the slots alternate, every fence wait
// on a slot is separated from the previous one by a reset, and every
// semaphore wait consumes exactly one signal.
func TestFramesInFlightProtocol(t *testing.T) {
	r := newFrameRig(t, 2)

	var slots []int
	for i := 0; i < 5; i++ {
		slots = append(slots, r.frames.Current())
		_, err := r.frames.Cycle(r.swap, r.dev.Queue(), noCommands)
		require.NoError(t, err)
	}
	assert.Equal(t, []int{0, 1, 0, 1, 0}, slots)

	waited := map[int]bool{}
	for _, ev := range r.dev.Trace() {
		switch ev.Kind {
		case simdev.FenceWait:
			assert.False(t, waited[ev.ID], "fence %d waited twice without a reset", ev.ID)
			waited[ev.ID] = true
		case simdev.FenceReset:
			require.True(t, waited[ev.ID], "fence %d reset before it was waited on", ev.ID)
			waited[ev.ID] = false
		}
	}
	assert.Empty(t, r.dev.Violations())
	r.close(t)
	assert.Empty(t, r.dev.Violations())
}

func TestFramesInFlightThrottleTimeout(t *testing.T) {
	r := newFrameRig(t, 2, simdev.Manual())
	r.frames.SetThrottleTimeout(5 * time.Millisecond)

	for i := 0; i < 2; i++ {
		_, err := r.frames.Cycle(r.swap, r.dev.Queue(), noCommands)
		require.NoError(t, err)
	}
	// Slot 0 is still pending on the device.
	_, err := r.frames.Cycle(r.swap, r.dev.Queue(), noCommands)
	assert.ErrorIs(t, err, vkpace.ErrTimeout)
	assert.Equal(t, 0, r.frames.Current(), "rotated past a failed throttle")
	assert.Equal(t, 2, r.dev.Pending())

	r.dev.Flush()
	_, err = r.frames.Cycle(r.swap, r.dev.Queue(), noCommands)
	require.NoError(t, err)
	assert.Equal(t, 1, r.frames.Current())

	r.close(t)
	assert.Empty(t, r.dev.Violations())
}

func TestFramesInFlightThrottleBlocksUntilRetired(t *testing.T) {
	r := newFrameRig(t, 1, simdev.Manual())
	defer r.close(t)

	_, err := r.frames.Cycle(r.swap, r.dev.Queue(), noCommands)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- r.frames.Throttle(-1) }()
	select {
	case <-done:
		t.Fatal("throttle returned while the frame was pending")
	case <-time.After(20 * time.Millisecond):
	}
	r.dev.Flush()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("throttle did not return after the frame retired")
	}
}

func TestFramesInFlightDeviceLost(t *testing.T) {
	r := newFrameRig(t, 2, simdev.Manual())
	for i := 0; i < 2; i++ {
		_, err := r.frames.Cycle(r.swap, r.dev.Queue(), noCommands)
		require.NoError(t, err)
	}
	r.dev.Lose()
	_, err := r.frames.Cycle(r.swap, r.dev.Queue(), noCommands)
	assert.ErrorIs(t, err, vkpace.ErrDeviceLost)

	assert.ErrorIs(t, r.frames.Destroy(), vkpace.ErrDeviceLost)
	r.swap.Destroy()
	assert.ErrorIs(t, r.ctx.Close(), vkpace.ErrDeviceLost)
	assert.True(t, r.dev.Destroyed())
}

func TestFramesInFlightOutOfDateOnAcquire(t *testing.T) {
	r := newFrameRig(t, 2)
	defer r.close(t)

	_, err := r.frames.Cycle(r.swap, r.dev.Queue(), noCommands)
	require.NoError(t, err)
	r.swap.Resize()

	called := false
	resized, err := r.frames.Cycle(r.swap, r.dev.Queue(), func(vkpace.Frame) ([]vkpace.CommandBuffer, error) {
		called = true
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, resized)
	assert.False(t, called)
	assert.Equal(t, 1, r.frames.Current())
	ok, err := r.frames.CurrentFence().IsSignaled()
	require.NoError(t, err)
	assert.True(t, ok, "fence reset without a submission")

	require.NoError(t, r.ctx.WaitIdle())
	r.swap.Recreate(vkpace.Extent2D{Width: 640, Height: 480})
	resized, err = r.frames.Cycle(r.swap, r.dev.Queue(), noCommands)
	require.NoError(t, err)
	assert.False(t, resized)
	assert.Equal(t, 0, r.frames.Current())
	assert.Empty(t, r.dev.Violations())
}

func TestFramesInFlightSuboptimal(t *testing.T) {
	r := newFrameRig(t, 2)
	defer r.close(t)

	r.swap.SetSuboptimal(true)
	resized, err := r.frames.Cycle(r.swap, r.dev.Queue(), noCommands)
	require.NoError(t, err)
	assert.True(t, resized)
	assert.Equal(t, 1, r.frames.Current())
	assert.Empty(t, r.dev.Violations())
}

func TestFramesInFlightRecordError(t *testing.T) {
	r := newFrameRig(t, 2)
	defer r.close(t)

	boom := errors.New("record failed")
	_, err := r.frames.Cycle(r.swap, r.dev.Queue(), func(vkpace.Frame) ([]vkpace.CommandBuffer, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, r.frames.Current())

	for i := 0; i < 4; i++ {
		_, err := r.frames.Cycle(r.swap, r.dev.Queue(), noCommands)
		require.NoError(t, err)
	}
	assert.Empty(t, r.dev.Violations())
}

func TestFramesInFlightInvalidCount(t *testing.T) {
	ctx, _ := newContext(t)
	defer ctx.Close()
	assert.Panics(t, func() { vkpace.NewFramesInFlight(ctx, 0) })
	assert.Panics(t, func() { vkpace.NewFramesInFlight(ctx, -1) })
}

func TestFramesInFlightDestroyWaitsIdle(t *testing.T) {
	r := newFrameRig(t, 3, simdev.Manual())
	for i := 0; i < 3; i++ {
		_, err := r.frames.Cycle(r.swap, r.dev.Queue(), noCommands)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, r.dev.Pending())
	live := r.dev.Live()
	require.NoError(t, r.frames.Destroy())
	assert.Equal(t, 0, r.dev.Pending())
	assert.Equal(t, live-9, r.dev.Live())
	assert.EqualValues(t, 1, r.ctx.Refs())
	r.swap.Destroy()
	require.NoError(t, r.ctx.Close())
	assert.Empty(t, r.dev.Violations())
}

// failingQueue fails the next fails submissions with err, optionally losing
// the device as it does so.
type failingQueue struct {
	*simdev.Queue
	dev   *simdev.Device
	fails int
	lose  bool
	err   error
}

func (q *failingQueue) Submit(sub vkpace.Submission) error {
	if q.fails > 0 {
		q.fails--
		if q.lose {
			q.dev.Lose()
		}
		return q.err
	}
	return q.Queue.Submit(sub)
}

func TestFramesInFlightSubmitFailureRecovers(t *testing.T) {
	r := newFrameRig(t, 2)
	defer r.close(t)
	r.frames.SetThrottleTimeout(50 * time.Millisecond)

	transient := errors.New("transient submit failure")
	q := &failingQueue{Queue: r.dev.Queue(), dev: r.dev, fails: 1, err: transient}
	_, err := r.frames.Cycle(r.swap, q, noCommands)
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 1, r.frames.Current())
	assert.NoError(t, r.frames.Err())

	for i := 0; i < 4; i++ {
		_, err := r.frames.Cycle(r.swap, q, noCommands)
		require.NoError(t, err, "cycle %d", i)
	}
	assert.Empty(t, r.dev.Violations())
}

func TestFramesInFlightSubmitAndDrainFailureRenewsSlot(t *testing.T) {
	r := newFrameRig(t, 2)
	defer r.close(t)
	r.frames.SetThrottleTimeout(50 * time.Millisecond)

	oldFence := r.frames.CurrentFence()
	oldAcquired := r.frames.CurrentImageAcquired()
	live := r.dev.Live()

	transient := errors.New("transient submit failure")
	q := &failingQueue{Queue: r.dev.Queue(), dev: r.dev, fails: 2, err: transient}
	_, err := r.frames.Cycle(r.swap, q, noCommands)
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 1, r.frames.Current())
	assert.Equal(t, live, r.dev.Live())

	r.frames.Rotate()
	assert.NotSame(t, oldFence, r.frames.CurrentFence())
	assert.NotSame(t, oldAcquired, r.frames.CurrentImageAcquired())
	ok, err := r.frames.CurrentFence().IsSignaled()
	require.NoError(t, err)
	assert.True(t, ok)

	for i := 0; i < 4; i++ {
		_, err := r.frames.Cycle(r.swap, q, noCommands)
		require.NoError(t, err, "cycle %d", i)
	}
	assert.Empty(t, r.dev.Violations())
}

func TestFramesInFlightRecordAndDrainFailureRenewsSlot(t *testing.T) {
	r := newFrameRig(t, 2)
	defer r.close(t)
	r.frames.SetThrottleTimeout(50 * time.Millisecond)

	boom := errors.New("record failed")
	q := &failingQueue{Queue: r.dev.Queue(), dev: r.dev, fails: 1, err: errors.New("queue busy")}
	_, err := r.frames.Cycle(r.swap, q, func(vkpace.Frame) ([]vkpace.CommandBuffer, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, r.frames.Current())

	for i := 0; i < 4; i++ {
		_, err := r.frames.Cycle(r.swap, q, noCommands)
		require.NoError(t, err, "cycle %d", i)
	}
	assert.Empty(t, r.dev.Violations())
}

func TestFramesInFlightUnrecoverableSubmitFailure(t *testing.T) {
	r := newFrameRig(t, 2)
	r.frames.SetThrottleTimeout(50 * time.Millisecond)

	fatal := errors.New("submit failed")
	q := &failingQueue{Queue: r.dev.Queue(), dev: r.dev, fails: 2, lose: true, err: fatal}
	_, err := r.frames.Cycle(r.swap, q, noCommands)
	assert.ErrorIs(t, err, fatal)
	require.Error(t, r.frames.Err())

	for i := 0; i < 3; i++ {
		_, err := r.frames.Cycle(r.swap, q, noCommands)
		assert.ErrorIs(t, err, fatal)
		assert.Equal(t, 0, r.frames.Current())
	}

	assert.ErrorIs(t, r.frames.Destroy(), vkpace.ErrDeviceLost)
	r.swap.Destroy()
	assert.ErrorIs(t, r.ctx.Close(), vkpace.ErrDeviceLost)
}
