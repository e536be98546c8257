package simdev

import (
	"github.com/andewx/vkpace"
)

// Queue is the device's simulated queue.
type Queue struct {
	dev *Device
}

type submission struct {
	copies []bufferCopy
	fence  *Fence
}

func (s *submission) complete() {
	for _, c := range s.copies {
		copy(c.dst.mem[:c.size], c.src.mem[:c.size])
	}
	if s.fence != nil {
		s.fence.signal()
	}
}

// Submit consumes the wait semaphores and signals the signal semaphores in
// submission order. Recorded copies run and the fence is signaled when the
// submission completes: at once, or on Flush for a Manual device.
func (q *Queue) Submit(sub vkpace.Submission) error {
	d := q.dev
	if d.isLost() {
		return vkpace.NewError("vkQueueSubmit", vkpace.DeviceLost)
	}
	d.record(Submit, len(sub.Commands))
	for _, w := range sub.Waits {
		s := semaphoreOf(w.Semaphore)
		if w.Stage == 0 {
			d.violate("semaphore %d waited at an empty stage mask", s.id)
		}
		s.wait()
	}
	for _, sig := range sub.Signals {
		semaphoreOf(sig).signal()
	}
	s := &submission{}
	for _, cmd := range sub.Commands {
		if cb, ok := cmd.(*CommandBuffer); ok {
			s.copies = append(s.copies, cb.copies...)
		}
	}
	if sub.Fence != nil {
		s.fence = fenceOf(sub.Fence)
		s.fence.arm()
	}
	if d.manual {
		d.mu.Lock()
		d.pending = append(d.pending, s)
		d.mu.Unlock()
		return nil
	}
	s.complete()
	return nil
}

// WaitIdle completes all pending work.
func (q *Queue) WaitIdle() error {
	return q.dev.WaitIdle()
}

func semaphoreOf(s *vkpace.Semaphore) *Semaphore {
	return s.Handle().(*Semaphore)
}

func fenceOf(f *vkpace.Fence) *Fence {
	return f.Handle().(*Fence)
}
