package vkpace

import (
	"time"

	"github.com/pkg/errors"
)

// Submitter tracks one outstanding submission at a time through a private
// fence. It suits transfers and compute dispatches outside of the frame
// loop: submit, do other work, then poll Busy or Wait, and Reset before the
// next submission.
//
// A Submitter is not safe for concurrent use.
type Submitter struct {
	fence   *Fence
	pending bool
}

// NewSubmitter creates a submitter with an unsignaled fence.
func NewSubmitter(ctx *Context) (*Submitter, error) {
	f, err := NewFence(ctx, false)
	if err != nil {
		return nil, errors.Wrap(err, "create submitter")
	}
	return &Submitter{fence: f}, nil
}

// Submit submits cmds to queue. The previous submission must have been
// reset first.
func (s *Submitter) Submit(queue Queue, cmds []CommandBuffer, waits []SemaphoreWait, signals []*Semaphore) error {
	if s.pending {
		violation("submit while a previous submission has not been reset")
	}
	err := queue.Submit(Submission{
		Commands: cmds,
		Waits:    waits,
		Signals:  signals,
		Fence:    s.fence,
	})
	if err != nil {
		return errors.Wrap(err, "submit")
	}
	s.pending = true
	return nil
}

// Pending reports whether a submission has been made and not reset.
func (s *Submitter) Pending() bool { return s.pending }

// Busy polls the fence without blocking. It is false when nothing was
// submitted.
func (s *Submitter) Busy() (bool, error) {
	if !s.pending {
		return false, nil
	}
	done, err := s.fence.IsSignaled()
	return !done, err
}

// Wait blocks until the submission retires. A negative timeout waits
// forever.
func (s *Submitter) Wait(timeout time.Duration) error {
	if !s.pending {
		return nil
	}
	if timeout < 0 {
		return s.fence.Wait()
	}
	return s.fence.WaitTimeout(timeout)
}

// Reset waits for the outstanding submission and makes the submitter ready
// for the next one.
func (s *Submitter) Reset() error {
	if !s.pending {
		return nil
	}
	if err := s.fence.Wait(); err != nil {
		return err
	}
	if err := s.fence.Reset(); err != nil {
		return err
	}
	s.pending = false
	return nil
}

// Destroy waits for the outstanding submission, if any, then releases the
// fence.
func (s *Submitter) Destroy() error {
	var err error
	if s.pending {
		err = s.fence.Wait()
	}
	s.fence.Destroy()
	return err
}
