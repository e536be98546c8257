package vkpace

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Context owns a Device and keeps it alive for as long as anything created
// from it is alive. Every resource takes a reference on creation and
// releases it on Destroy; the owner's reference is released by Close. The
// device is destroyed when the count drops to zero, so it always outlives
// the resources derived from it.
type Context struct {
	dev    Device
	log    *slog.Logger
	refs   atomic.Int64
	closed atomic.Bool
	once   sync.Once
}

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l *slog.Logger) ContextOption {
	return func(c *Context) {
		if l != nil {
			c.log = l
		}
	}
}

// NewContext wraps dev. The caller gives up ownership of dev: it is
// destroyed by the Context.
func NewContext(dev Device, opts ...ContextOption) *Context {
	if dev == nil {
		violation("NewContext: nil device")
	}
	c := &Context{
		dev: dev,
		log: slog.Default().With("component", "vkpace"),
	}
	for _, o := range opts {
		o(c)
	}
	c.refs.Store(1)
	return c
}

// Device returns the wrapped device.
func (c *Context) Device() Device {
	return c.dev
}

// Logger returns the context's logger.
func (c *Context) Logger() *slog.Logger {
	return c.log
}

// Refs returns the number of live references, the owner's included.
func (c *Context) Refs() int64 {
	return c.refs.Load()
}

// Closed reports whether Close has been called.
func (c *Context) Closed() bool {
	return c.closed.Load()
}

// WaitIdle blocks until the device has retired all submitted work.
func (c *Context) WaitIdle() error {
	if c.refs.Load() == 0 {
		return ErrClosed
	}
	return c.dev.WaitIdle()
}

// Close is the shutdown barrier. It waits for the device to go idle and
// releases the owner's reference. Resources still alive keep the device
// until they are destroyed. Calling Close more than once has no effect.
func (c *Context) Close() error {
	var err error
	c.once.Do(func() {
		c.closed.Store(true)
		err = c.dev.WaitIdle()
		if err != nil {
			c.log.Warn("context close: wait idle failed", ErrAttr(err))
		}
		if n := c.refs.Load() - 1; n > 0 {
			c.log.Info("context closed with live resources", "resources", n)
		}
		c.release()
	})
	return err
}

// acquire takes a reference for a new resource.
func (c *Context) acquire() {
	if c.closed.Load() {
		violation("creating a resource on a closed context")
	}
	c.refs.Add(1)
}

// release drops a reference and destroys the device on the last one.
func (c *Context) release() {
	n := c.refs.Add(-1)
	switch {
	case n == 0:
		c.log.Debug("destroying device")
		c.dev.Destroy()
	case n < 0:
		violation("context reference count underflow")
	}
}
