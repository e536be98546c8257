package vkpace

import (
	"sync"

	"github.com/pkg/errors"
)

// Semaphore is a binary signal ordering device work against device work.
// It has no host-observable state. A wait consumes the signal, so every
// wait must be preceded by exactly one signal.
type Semaphore struct {
	ctx *Context
	dev DeviceSemaphore

	mu        sync.Mutex
	destroyed bool
}

// NewSemaphore creates an unsignaled semaphore.
func NewSemaphore(ctx *Context) (*Semaphore, error) {
	ctx.acquire()
	s, err := ctx.dev.NewSemaphore()
	if err != nil {
		ctx.release()
		return nil, errors.Wrap(err, "create semaphore")
	}
	return &Semaphore{ctx: ctx, dev: s}, nil
}

// Handle returns the backend semaphore.
func (s *Semaphore) Handle() DeviceSemaphore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		violation("use of a destroyed semaphore")
	}
	return s.dev
}

// Destroy releases the semaphore. It must not be referenced by pending work.
func (s *Semaphore) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.dev.Destroy()
	s.ctx.release()
}
