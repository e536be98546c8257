package vkpace

import (
	"time"

	"github.com/pkg/errors"
)

// frameSlot holds the signals of one in-flight frame.
type frameSlot struct {
	fence    *Fence
	acquired *Semaphore
	finished *Semaphore
}

// Frame is what the record callback of Cycle gets to see.
type Frame struct {
	// Slot is the frame slot index, in [0, N).
	Slot int
	// Image is the swap image index being rendered to.
	Image uint32
	// Fence completes when this frame's submission retires. Per-frame
	// resources indexed by Slot are safe to overwrite at this point.
	Fence          *Fence
	ImageAcquired  *Semaphore
	RenderFinished *Semaphore
}

// RecordFunc records the commands of one frame.
type RecordFunc func(f Frame) ([]CommandBuffer, error)

// FramesInFlight paces a single submitting goroutine against the device so
// that at most N frames are pending at once. Slot i owns a fence that the
// submission of frame i signals, a semaphore the presentation engine signals
// once the swap image is available, and a semaphore the submission signals
// for presentation. All three share the current index, which advances by one
// modulo N per frame.
//
// A FramesInFlight is not safe for concurrent use.
type FramesInFlight struct {
	ctx     *Context
	slots   []frameSlot
	current int
	timeout time.Duration
	frames  uint64
	// broken is set once a slot could not be restored after a failed
	// submission. Every later Cycle returns it.
	broken error
}

// NewFramesInFlight creates n frame slots. The fences are created signaled
// so the first wait on each slot returns at once.
func NewFramesInFlight(ctx *Context, n int) (_ *FramesInFlight, err error) {
	if n < 1 {
		violation("frames in flight must be at least 1, got %d", n)
	}
	f := &FramesInFlight{ctx: ctx, timeout: -1}
	defer func() {
		if err != nil {
			f.destroySlots()
		}
	}()
	for i := 0; i < n; i++ {
		var s frameSlot
		if s.fence, err = NewFence(ctx, true); err != nil {
			return nil, errors.Wrapf(err, "frame slot %d", i)
		}
		if s.acquired, err = NewSemaphore(ctx); err != nil {
			s.fence.Destroy()
			return nil, errors.Wrapf(err, "frame slot %d", i)
		}
		if s.finished, err = NewSemaphore(ctx); err != nil {
			s.acquired.Destroy()
			s.fence.Destroy()
			return nil, errors.Wrapf(err, "frame slot %d", i)
		}
		f.slots = append(f.slots, s)
	}
	ctx.log.Debug("frames in flight created", "frames", n)
	return f, nil
}

// Len returns N.
func (f *FramesInFlight) Len() int { return len(f.slots) }

// Current returns the current slot index.
func (f *FramesInFlight) Current() int { return f.current }

// Frames returns the number of completed rotations.
func (f *FramesInFlight) Frames() uint64 { return f.frames }

func (f *FramesInFlight) CurrentFence() *Fence { return f.slots[f.current].fence }

func (f *FramesInFlight) CurrentImageAcquired() *Semaphore { return f.slots[f.current].acquired }

func (f *FramesInFlight) CurrentRenderFinished() *Semaphore { return f.slots[f.current].finished }

// SetThrottleTimeout bounds the throttle wait in Cycle. A negative duration
// waits forever, which is the default.
func (f *FramesInFlight) SetThrottleTimeout(d time.Duration) {
	f.timeout = d
}

// Rotate advances to the next slot.
func (f *FramesInFlight) Rotate() {
	f.current = (f.current + 1) % len(f.slots)
	f.frames++
}

// Throttle waits on the current slot's fence. A negative timeout waits
// forever. Once it returns nil, nothing submitted N frames ago is still
// running and the slot's per-frame resources may be reused.
func (f *FramesInFlight) Throttle(timeout time.Duration) error {
	fence := f.CurrentFence()
	var err error
	if timeout < 0 {
		err = fence.Wait()
	} else {
		err = fence.WaitTimeout(timeout)
	}
	if err != nil {
		f.ctx.log.Warn("frame throttle failed", "slot", f.current, "timeout", timeout, ErrAttr(err))
		return errors.Wrapf(err, "throttle frame slot %d", f.current)
	}
	return nil
}

// Cycle runs one frame: it waits for the current slot to be free, acquires
// the next swap image, resets the slot fence, records, submits and presents,
// and finally rotates to the next slot.
//
// resized reports that target is out of date or suboptimal and should be
// recreated (after a device idle barrier). When acquisition itself reports
// out of date, nothing is submitted and the controller does not rotate.
// Throttle timeouts and device loss are returned as errors; the frame is
// abandoned.
//
// When recording or submission fails after the slot fence was reset, the
// slot is restored before the error is returned: a submission without
// commands consumes the acquire signal and completes the fence, or, if the
// queue refuses that too, the slot's fence and acquire semaphore are
// recreated. If neither works the controller is unusable and every later
// Cycle fails with an error wrapping the original cause.
func (f *FramesInFlight) Cycle(target SwapTarget, queue Queue, record RecordFunc) (resized bool, err error) {
	if f.broken != nil {
		return false, f.broken
	}
	if err := f.Throttle(f.timeout); err != nil {
		return false, err
	}
	s := f.slots[f.current]

	image, suboptimal, err := target.AcquireNext(s.acquired, -1)
	if errors.Is(err, ErrOutOfDate) {
		f.ctx.log.Info("swap target out of date on acquire", "slot", f.current)
		return true, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "acquire swap image")
	}

	if err := s.fence.Reset(); err != nil {
		// The acquire signal is pending with nothing left to consume it.
		f.broken = errors.Wrapf(err, "reset fence of frame slot %d", f.current)
		return false, f.broken
	}

	frame := Frame{
		Slot:           f.current,
		Image:          image,
		Fence:          s.fence,
		ImageAcquired:  s.acquired,
		RenderFinished: s.finished,
	}
	cmds, err := record(frame)
	if err != nil {
		return false, f.abandon(queue, errors.Wrap(err, "record frame"))
	}

	err = queue.Submit(Submission{
		Commands: cmds,
		Waits:    []SemaphoreWait{{Semaphore: s.acquired, Stage: StageColorAttachmentOutput}},
		Signals:  []*Semaphore{s.finished},
		Fence:    s.fence,
	})
	if err != nil {
		return false, f.abandon(queue, errors.Wrap(err, "submit frame"))
	}

	presentSuboptimal, err := target.Present(s.finished, image)
	f.Rotate()
	if errors.Is(err, ErrOutOfDate) {
		f.ctx.log.Info("swap target out of date on present")
		return true, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "present")
	}
	return suboptimal || presentSuboptimal, nil
}

// Err returns the error that made the controller unusable, if any.
func (f *FramesInFlight) Err() error { return f.broken }

// abandon drops the current frame after its fence was reset and restores
// the slot, then rotates. It returns cause, or the terminal error when the
// slot could not be restored.
func (f *FramesInFlight) abandon(queue Queue, cause error) error {
	s := &f.slots[f.current]
	drain := Submission{
		Waits: []SemaphoreWait{{Semaphore: s.acquired, Stage: StageColorAttachmentOutput}},
		Fence: s.fence,
	}
	serr := queue.Submit(drain)
	if serr == nil {
		f.ctx.log.Warn("frame abandoned", "slot", f.current, ErrAttr(cause))
		f.Rotate()
		return cause
	}
	f.ctx.log.Warn("drain submission failed, recreating slot signals", "slot", f.current, ErrAttr(serr))
	if rerr := f.renewSlot(s); rerr != nil {
		f.broken = errors.Wrapf(cause, "frame slot %d unrecoverable (drain: %v, recreate: %v)", f.current, serr, rerr)
		f.ctx.log.Error("frames in flight unusable", "slot", f.current, ErrAttr(f.broken))
		return f.broken
	}
	f.Rotate()
	return cause
}

// renewSlot replaces the fence and acquire semaphore of s with fresh ones,
// the fence signaled. The old objects are only destroyed once both
// replacements exist.
func (f *FramesInFlight) renewSlot(s *frameSlot) error {
	fence, err := NewFence(f.ctx, true)
	if err != nil {
		return err
	}
	acquired, err := NewSemaphore(f.ctx)
	if err != nil {
		fence.Destroy()
		return err
	}
	s.acquired.Destroy()
	s.fence.Destroy()
	s.fence, s.acquired = fence, acquired
	return nil
}

// Destroy waits for the device to go idle and destroys every slot in the
// reverse order of creation.
func (f *FramesInFlight) Destroy() error {
	err := f.ctx.WaitIdle()
	if err != nil {
		f.ctx.log.Warn("frames in flight: wait idle failed", ErrAttr(err))
	}
	f.destroySlots()
	f.ctx.log.Debug("frames in flight destroyed", "frames", f.frames)
	return errors.Wrap(err, "destroy frames in flight")
}

func (f *FramesInFlight) destroySlots() {
	for i := len(f.slots) - 1; i >= 0; i-- {
		s := f.slots[i]
		s.finished.Destroy()
		s.acquired.Destroy()
		s.fence.Destroy()
	}
	f.slots = nil
}
