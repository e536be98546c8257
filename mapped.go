package vkpace

import (
	"encoding/binary"
	"reflect"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
)

// Mapped is a host-visible, host-coherent device buffer holding Len
// elements of V, persistently mapped for its whole lifetime. The host
// writes through View and the device sees the writes without explicit
// flushes. The host must not overwrite elements the device may still be
// reading; see FramesInFlight.
//
// V must have a fixed memory layout: booleans, sized numbers and arrays or
// structs of those. Pointers, slices, maps, strings, interfaces and the
// platform-sized int and uint are rejected.
type Mapped[V any] struct {
	ctx   *Context
	buf   DeviceBuffer
	usage BufferUsage
	n     int
	raw   []byte
	view  []V

	mu        sync.Mutex
	destroyed bool
}

// NewMapped allocates room for capacity elements of V and maps it. The
// initial contents are unspecified.
func NewMapped[V any](ctx *Context, capacity int, usage BufferUsage) (*Mapped[V], error) {
	if capacity <= 0 {
		violation("mapped resource capacity must be positive, got %d", capacity)
	}
	stride := elemSize[V]()
	size := int64(capacity) * int64(stride)

	ctx.acquire()
	buf, err := ctx.dev.NewBuffer(size, usage)
	if err != nil {
		ctx.release()
		return nil, errors.Wrapf(err, "create buffer of %d bytes", size)
	}
	raw, err := buf.Map()
	if err != nil {
		buf.Destroy()
		ctx.release()
		return nil, errors.Wrap(err, "map buffer")
	}
	if int64(len(raw)) < size {
		buf.Unmap()
		buf.Destroy()
		ctx.release()
		violation("backend mapped %d bytes, want %d", len(raw), size)
	}
	raw = raw[:size:size]
	m := &Mapped[V]{
		ctx:   ctx,
		buf:   buf,
		usage: usage,
		n:     capacity,
		raw:   raw,
		view:  unsafe.Slice((*V)(unsafe.Pointer(unsafe.SliceData(raw))), capacity),
	}
	return m, nil
}

// NewMappedFrom allocates a mapped resource sized to data and copies data
// into it.
func NewMappedFrom[V any](ctx *Context, data []V, usage BufferUsage) (*Mapped[V], error) {
	m, err := NewMapped[V](ctx, len(data), usage)
	if err != nil {
		return nil, err
	}
	copy(m.view, data)
	return m, nil
}

// View returns the mapped elements. Writes are visible to the device.
func (m *Mapped[V]) View() []V {
	m.check()
	return m.view
}

// Bytes returns the mapped memory as raw bytes.
func (m *Mapped[V]) Bytes() []byte {
	m.check()
	return m.raw
}

// Len returns the number of elements.
func (m *Mapped[V]) Len() int {
	return m.n
}

// ByteLen returns the size of the mapped region in bytes.
func (m *Mapped[V]) ByteLen() int {
	return len(m.raw)
}

func (m *Mapped[V]) Usage() BufferUsage {
	return m.usage
}

// Buffer returns the backend buffer for command recording.
func (m *Mapped[V]) Buffer() DeviceBuffer {
	m.check()
	return m.buf
}

// Destroy unmaps and frees the buffer. The device must no longer use it.
func (m *Mapped[V]) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}
	m.destroyed = true
	m.view = nil
	m.raw = nil
	m.buf.Unmap()
	m.buf.Destroy()
	m.ctx.release()
}

func (m *Mapped[V]) check() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		violation("use of a destroyed mapped resource")
	}
}

// elemSize returns the stride of V, panicking when V has no fixed layout.
func elemSize[V any]() uintptr {
	var zero V
	t := reflect.TypeOf((*V)(nil)).Elem()
	switch t.Kind() {
	case reflect.Pointer, reflect.UnsafePointer, reflect.Slice:
		violation("%s has no fixed memory layout", t)
	}
	if binary.Size(zero) < 0 {
		violation("%s has no fixed memory layout", t)
	}
	s := unsafe.Sizeof(zero)
	if s == 0 {
		violation("%s is zero-sized", t)
	}
	return s
}
