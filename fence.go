package vkpace

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Fence is a CPU-observable signal. The device sets it when a submission
// retires; the host can poll it, block on it and reset it.
type Fence struct {
	ctx *Context
	dev DeviceFence

	mu        sync.Mutex
	destroyed bool
}

// NewFence creates a fence, optionally already signaled. A fence that is
// waited on before its first submission must be created signaled.
func NewFence(ctx *Context, signaled bool) (*Fence, error) {
	ctx.acquire()
	f, err := ctx.dev.NewFence(signaled)
	if err != nil {
		ctx.release()
		return nil, errors.Wrap(err, "create fence")
	}
	return &Fence{ctx: ctx, dev: f}, nil
}

// Wait blocks until the fence is signaled, with no timeout.
func (f *Fence) Wait() error {
	return f.wait(-1)
}

// WaitTimeout blocks until the fence is signaled or d elapses. It returns
// an error matching ErrTimeout on expiry and ErrDeviceLost when the device
// is lost.
func (f *Fence) WaitTimeout(d time.Duration) error {
	if d < 0 {
		d = 0
	}
	return f.wait(d)
}

func (f *Fence) wait(d time.Duration) error {
	h := f.handle()
	if err := h.Wait(d); err != nil {
		return errors.Wrap(err, "wait fence")
	}
	return nil
}

// IsSignaled polls the fence without blocking.
func (f *Fence) IsSignaled() (bool, error) {
	ok, err := f.handle().Status()
	if err != nil {
		return false, errors.Wrap(err, "fence status")
	}
	return ok, nil
}

// Reset puts a signaled fence back into the unsignaled state. Resetting a
// fence that is not signaled means it may still be pending in a submission,
// which is a contract violation.
func (f *Fence) Reset() error {
	h := f.handle()
	ok, err := h.Status()
	if err != nil {
		return errors.Wrap(err, "fence status")
	}
	if !ok {
		violation("reset of an unsignaled fence")
	}
	return errors.Wrap(h.Reset(), "reset fence")
}

// Handle returns the backend fence.
func (f *Fence) Handle() DeviceFence {
	return f.handle()
}

// Destroy releases the fence. The fence must not be pending. Destroying
// twice is a no-op.
func (f *Fence) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed {
		return
	}
	f.destroyed = true
	f.dev.Destroy()
	f.ctx.release()
}

func (f *Fence) handle() DeviceFence {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed {
		violation("use of a destroyed fence")
	}
	return f.dev
}
