package vkpace

import (
	"sync"

	"github.com/pkg/errors"
)

// Staged pairs a host-writable staging buffer with a device-local copy of
// the same size. The host writes through View or Set, and Flush records the
// upload of the staging contents into a command buffer once per change.
//
// The staging memory is read by the device when the recorded copy executes,
// so it follows the same reuse rule as Mapped: keep one Staged per frame
// slot, or wait for the submission before writing again.
type Staged[V any] struct {
	ctx   *Context
	dev   TransferDevice
	host  *Mapped[V]
	local DeviceBuffer

	mu        sync.Mutex
	dirty     bool
	destroyed bool
}

// NewStaged allocates capacity elements on both sides. The device-local
// buffer gets usage plus transfer destination; the staging buffer is a
// transfer source only. A new Staged starts out dirty so the first Flush
// uploads.
func NewStaged[V any](ctx *Context, capacity int, usage BufferUsage) (*Staged[V], error) {
	dev, ok := ctx.dev.(TransferDevice)
	if !ok {
		return nil, errors.Errorf("vkpace: %T cannot allocate device-local buffers", ctx.dev)
	}
	host, err := NewMapped[V](ctx, capacity, UsageStaging)
	if err != nil {
		return nil, errors.Wrap(err, "staging buffer")
	}
	ctx.acquire()
	local, err := dev.NewDeviceLocalBuffer(int64(host.ByteLen()), usage|UsageTransferDst)
	if err != nil {
		ctx.release()
		host.Destroy()
		return nil, errors.Wrapf(err, "device-local buffer of %d bytes", host.ByteLen())
	}
	return &Staged[V]{ctx: ctx, dev: dev, host: host, local: local, dirty: true}, nil
}

// NewStagedFrom is NewStaged sized to data, with data copied in.
func NewStagedFrom[V any](ctx *Context, data []V, usage BufferUsage) (*Staged[V], error) {
	s, err := NewStaged[V](ctx, len(data), usage)
	if err != nil {
		return nil, err
	}
	copy(s.host.View(), data)
	return s, nil
}

// View returns the staging elements. Writes through it are uploaded only
// after MarkDirty.
func (s *Staged[V]) View() []V {
	s.check()
	return s.host.View()
}

// Set writes element i and marks the buffer dirty.
func (s *Staged[V]) Set(i int, v V) {
	s.View()[i] = v
	s.MarkDirty()
}

// MarkDirty schedules an upload on the next Flush.
func (s *Staged[V]) MarkDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
}

// Dirty reports whether the staging contents differ from the last upload.
func (s *Staged[V]) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Flush records the upload into cb when there are unflushed changes and
// clears the dirty flag. It reports whether anything was recorded.
func (s *Staged[V]) Flush(cb CommandBuffer) bool {
	s.check()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return false
	}
	s.dev.RecordCopy(cb, s.host.Buffer(), s.local, int64(s.host.ByteLen()))
	s.dirty = false
	return true
}

// Len returns the number of elements.
func (s *Staged[V]) Len() int { return s.host.Len() }

// ByteLen returns the size of each side in bytes.
func (s *Staged[V]) ByteLen() int { return s.host.ByteLen() }

// Buffer returns the device-local buffer, the one to bind for reads.
func (s *Staged[V]) Buffer() DeviceBuffer {
	s.check()
	return s.local
}

// Staging returns the host side.
func (s *Staged[V]) Staging() *Mapped[V] {
	s.check()
	return s.host
}

// Destroy frees both buffers. The device must no longer use them.
func (s *Staged[V]) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.local.Destroy()
	s.ctx.release()
	s.host.Destroy()
}

func (s *Staged[V]) check() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		violation("use of a destroyed staged buffer")
	}
}
