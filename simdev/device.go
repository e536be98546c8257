// Package simdev is an in-process device that implements the interfaces
// vkpace consumes. Work completes either at submission or when Flush is
// called, and every signal, wait and reset is traced so tests can check the
// synchronization protocol of a frame loop without a GPU.
package simdev

import (
	"fmt"
	"sync"
	"time"

	"github.com/andewx/vkpace"
)

// EventKind names a traced device operation.
type EventKind int

const (
	FenceWait EventKind = iota
	FenceReset
	FenceSignal
	SemaphoreSignal
	SemaphoreWait
	Submit
	Acquire
	Present
)

var eventNames = [...]string{
	FenceWait:       "fence-wait",
	FenceReset:      "fence-reset",
	FenceSignal:     "fence-signal",
	SemaphoreSignal: "semaphore-signal",
	SemaphoreWait:   "semaphore-wait",
	Submit:          "submit",
	Acquire:         "acquire",
	Present:         "present",
}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is one traced operation on the object with the given ID.
type Event struct {
	Kind EventKind
	ID   int
}

// Device is a simulated device with a single queue.
type Device struct {
	mu         sync.Mutex
	nextID     int
	live       map[int]string
	trace      []Event
	violations []string
	pending    []*submission
	manual     bool
	memLimit   int64
	memUsed    int64
	failMap    bool
	destroyed  bool
	lost       chan struct{}
	lostOnce   sync.Once

	queue *Queue
}

// Option configures a Device.
type Option func(*Device)

// Manual makes submissions stay pending until Flush or WaitIdle.
func Manual() Option {
	return func(d *Device) { d.manual = true }
}

// MemoryLimit makes buffer allocations beyond limit bytes in total fail
// with out of device memory.
func MemoryLimit(limit int64) Option {
	return func(d *Device) { d.memLimit = limit }
}

// FailMap makes every buffer map fail.
func FailMap() Option {
	return func(d *Device) { d.failMap = true }
}

// New returns a device.
func New(opts ...Option) *Device {
	d := &Device{
		live: make(map[int]string),
		lost: make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	d.queue = &Queue{dev: d}
	return d
}

// Queue returns the device's only queue.
func (d *Device) Queue() *Queue { return d.queue }

// Lose simulates device loss. Pending and future waits fail with
// vkpace.ErrDeviceLost.
func (d *Device) Lose() {
	d.lostOnce.Do(func() { close(d.lost) })
}

func (d *Device) isLost() bool {
	select {
	case <-d.lost:
		return true
	default:
		return false
	}
}

// Flush completes every pending submission.
func (d *Device) Flush() {
	d.mu.Lock()
	p := d.pending
	d.pending = nil
	d.mu.Unlock()
	for _, s := range p {
		s.complete()
	}
}

// Pending returns the number of submissions that have not completed.
func (d *Device) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Trace returns a copy of the recorded events.
func (d *Device) Trace() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Event(nil), d.trace...)
}

// Violations returns every protocol violation observed so far.
func (d *Device) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.violations...)
}

// Live returns the number of objects created and not yet destroyed.
func (d *Device) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

// Destroyed reports whether Destroy has been called.
func (d *Device) Destroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

func (d *Device) record(kind EventKind, id int) {
	d.mu.Lock()
	d.trace = append(d.trace, Event{Kind: kind, ID: id})
	d.mu.Unlock()
}

func (d *Device) violate(format string, args ...any) {
	d.mu.Lock()
	d.violations = append(d.violations, fmt.Sprintf(format, args...))
	d.mu.Unlock()
}

func (d *Device) create(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		d.violations = append(d.violations, "create "+kind+" on a destroyed device")
	}
	d.nextID++
	d.live[d.nextID] = kind
	return d.nextID
}

func (d *Device) free(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	kind, ok := d.live[id]
	if !ok {
		d.violations = append(d.violations, fmt.Sprintf("object %d destroyed twice", id))
		return
	}
	if d.destroyed {
		d.violations = append(d.violations, fmt.Sprintf("%s %d destroyed after its device", kind, id))
	}
	delete(d.live, id)
}

func (d *Device) NewFence(signaled bool) (vkpace.DeviceFence, error) {
	if d.isLost() {
		return nil, vkpace.NewError("vkCreateFence", vkpace.DeviceLost)
	}
	f := &Fence{dev: d, id: d.create("fence"), done: make(chan struct{})}
	if signaled {
		f.signaled = true
		close(f.done)
	}
	return f, nil
}

func (d *Device) NewSemaphore() (vkpace.DeviceSemaphore, error) {
	if d.isLost() {
		return nil, vkpace.NewError("vkCreateSemaphore", vkpace.DeviceLost)
	}
	return &Semaphore{dev: d, id: d.create("semaphore")}, nil
}

func (d *Device) NewBuffer(size int64, usage vkpace.BufferUsage) (vkpace.DeviceBuffer, error) {
	if size <= 0 {
		d.violate("buffer of %d bytes", size)
		return nil, vkpace.NewError("vkCreateBuffer", vkpace.InitializationFailed)
	}
	d.mu.Lock()
	if d.memLimit > 0 && d.memUsed+size > d.memLimit {
		d.mu.Unlock()
		return nil, vkpace.NewError("vkAllocateMemory", vkpace.OutOfDeviceMemory)
	}
	d.memUsed += size
	d.mu.Unlock()
	return &Buffer{
		dev:   d,
		id:    d.create("buffer"),
		usage: usage,
		mem:   make([]byte, size),
	}, nil
}

// NewDeviceLocalBuffer creates a buffer the host cannot map. Its contents
// change only through recorded copies.
func (d *Device) NewDeviceLocalBuffer(size int64, usage vkpace.BufferUsage) (vkpace.DeviceBuffer, error) {
	b, err := d.NewBuffer(size, usage)
	if err != nil {
		return nil, err
	}
	b.(*Buffer).local = true
	return b, nil
}

// RecordCopy appends a buffer copy to cb, which must be a *CommandBuffer.
// The copy runs when the submission carrying cb completes.
func (d *Device) RecordCopy(cb vkpace.CommandBuffer, src, dst vkpace.DeviceBuffer, size int64) {
	c, ok := cb.(*CommandBuffer)
	if !ok {
		d.violate("copy recorded into a foreign command buffer %T", cb)
		return
	}
	sb, sok := src.(*Buffer)
	db, dok := dst.(*Buffer)
	if !sok || !dok {
		d.violate("copy between foreign buffers %T and %T", src, dst)
		return
	}
	if size > sb.Size() || size > db.Size() {
		d.violate("copy of %d bytes from buffer %d (%d) to buffer %d (%d)", size, sb.id, sb.Size(), db.id, db.Size())
		return
	}
	if sb.usage&vkpace.UsageStaging == 0 {
		d.violate("copy from buffer %d without transfer source usage", sb.id)
	}
	if db.usage&vkpace.UsageTransferDst == 0 {
		d.violate("copy to buffer %d without transfer destination usage", db.id)
	}
	c.copies = append(c.copies, bufferCopy{src: sb, dst: db, size: size})
}

func (d *Device) NewImageView(img vkpace.Image, format vkpace.Format, aspect vkpace.AspectFlags, usage vkpace.ImageUsageFlags) (vkpace.DeviceImageView, error) {
	im, ok := img.(*Image)
	if !ok {
		d.violate("image view over a foreign image %T", img)
		return nil, vkpace.NewError("vkCreateImageView", vkpace.InitializationFailed)
	}
	if format == vkpace.FormatUndefined {
		return nil, vkpace.NewError("vkCreateImageView", vkpace.FormatNotSupported)
	}
	// depth formats only take depth and stencil aspects, colour formats
	// only the colour aspect
	depthAspect := aspect&(vkpace.AspectDepth|vkpace.AspectStencil) != 0
	if depthAspect != format.HasDepth() || (aspect&vkpace.AspectColor != 0 && format.HasDepth()) {
		return nil, vkpace.NewError("vkCreateImageView", vkpace.FormatNotSupported)
	}
	return &ImageView{
		dev:    d,
		id:     d.create("image view"),
		Image:  im,
		Format: format,
		Aspect: aspect,
		Usage:  usage,
	}, nil
}

func (d *Device) NewFramebuffer(pass vkpace.RenderPass, extent vkpace.Extent2D, views []vkpace.DeviceImageView) (vkpace.DeviceFramebuffer, error) {
	fb := &Framebuffer{dev: d, id: d.create("framebuffer"), Extent: extent}
	for i, v := range views {
		iv, ok := v.(*ImageView)
		if !ok {
			d.violate("framebuffer attachment %d is a foreign view %T", i, v)
			continue
		}
		if iv.destroyed {
			d.violate("framebuffer attachment %d is destroyed", i)
		}
		fb.Views = append(fb.Views, iv)
	}
	return fb, nil
}

// WaitIdle completes all pending work.
func (d *Device) WaitIdle() error {
	if d.isLost() {
		return vkpace.NewError("vkDeviceWaitIdle", vkpace.DeviceLost)
	}
	d.Flush()
	return nil
}

// Destroy marks the device destroyed. Objects still alive are reported as
// violations.
func (d *Device) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		d.violations = append(d.violations, "device destroyed twice")
		return
	}
	d.destroyed = true
	if n := len(d.live); n > 0 {
		d.violations = append(d.violations, fmt.Sprintf("device destroyed with %d live objects", n))
	}
	if len(d.pending) > 0 {
		d.violations = append(d.violations, fmt.Sprintf("device destroyed with %d pending submissions", len(d.pending)))
	}
}

// Fence is a simulated fence.
type Fence struct {
	dev *Device
	id  int

	mu       sync.Mutex
	signaled bool
	pending  bool
	done     chan struct{}
}

// ID returns the fence's trace id.
func (f *Fence) ID() int { return f.id }

func (f *Fence) Wait(timeout time.Duration) error {
	f.dev.record(FenceWait, f.id)
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()

	if timeout < 0 {
		select {
		case <-done:
			return nil
		case <-f.dev.lost:
			return vkpace.NewError("vkWaitForFences", vkpace.DeviceLost)
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-f.dev.lost:
		return vkpace.NewError("vkWaitForFences", vkpace.DeviceLost)
	case <-t.C:
		// A fence that completed at the deadline still counts.
		select {
		case <-done:
			return nil
		default:
		}
		return vkpace.NewError("vkWaitForFences", vkpace.Timeout)
	}
}

func (f *Fence) Status() (bool, error) {
	if f.dev.isLost() {
		return false, vkpace.NewError("vkGetFenceStatus", vkpace.DeviceLost)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signaled, nil
}

func (f *Fence) Reset() error {
	f.dev.record(FenceReset, f.id)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending {
		f.dev.violate("fence %d reset while pending", f.id)
	}
	if f.signaled {
		f.signaled = false
		f.done = make(chan struct{})
	}
	return nil
}

func (f *Fence) Destroy() {
	f.mu.Lock()
	if f.pending {
		f.dev.violate("fence %d destroyed while pending", f.id)
	}
	f.mu.Unlock()
	f.dev.free(f.id)
}

// arm marks the fence as owned by a submission.
func (f *Fence) arm() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaled {
		f.dev.violate("fence %d submitted while signaled", f.id)
	}
	if f.pending {
		f.dev.violate("fence %d submitted twice", f.id)
	}
	f.pending = true
}

func (f *Fence) signal() {
	f.dev.record(FenceSignal, f.id)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = false
	if !f.signaled {
		f.signaled = true
		close(f.done)
	}
}

// Semaphore is a simulated binary semaphore.
type Semaphore struct {
	dev *Device
	id  int

	mu       sync.Mutex
	signaled bool
}

// ID returns the semaphore's trace id.
func (s *Semaphore) ID() int { return s.id }

// Signaled reports whether a signal is waiting to be consumed.
func (s *Semaphore) Signaled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signaled
}

func (s *Semaphore) Destroy() {
	s.dev.free(s.id)
}

func (s *Semaphore) signal() {
	s.dev.record(SemaphoreSignal, s.id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signaled {
		s.dev.violate("semaphore %d signaled twice without a wait", s.id)
	}
	s.signaled = true
}

func (s *Semaphore) wait() {
	s.dev.record(SemaphoreWait, s.id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.signaled {
		s.dev.violate("semaphore %d waited without a signal", s.id)
	}
	s.signaled = false
}

// Buffer is simulated host-coherent memory, or device-local memory when
// created by NewDeviceLocalBuffer.
type Buffer struct {
	dev    *Device
	id     int
	usage  vkpace.BufferUsage
	mem    []byte
	mapped bool
	local  bool
}

func (b *Buffer) Map() ([]byte, error) {
	if b.local {
		b.dev.violate("map of device-local buffer %d", b.id)
		return nil, vkpace.NewError("vkMapMemory", vkpace.MemoryMapFailed)
	}
	if b.dev.failMap {
		return nil, vkpace.NewError("vkMapMemory", vkpace.MemoryMapFailed)
	}
	if b.mapped {
		b.dev.violate("buffer %d mapped twice", b.id)
	}
	b.mapped = true
	return b.mem, nil
}

func (b *Buffer) Unmap() {
	if !b.mapped {
		b.dev.violate("buffer %d unmapped while not mapped", b.id)
	}
	b.mapped = false
}

func (b *Buffer) Size() int64 { return int64(len(b.mem)) }

// Local reports whether the buffer is device-local.
func (b *Buffer) Local() bool { return b.local }

// Usage returns the usage the buffer was created with.
func (b *Buffer) Usage() vkpace.BufferUsage { return b.usage }

// Contents returns the backing memory, as the device would read it.
func (b *Buffer) Contents() []byte { return b.mem }

func (b *Buffer) Destroy() {
	if b.mapped {
		b.dev.violate("buffer %d destroyed while mapped", b.id)
	}
	b.dev.mu.Lock()
	b.dev.memUsed -= int64(len(b.mem))
	b.dev.mu.Unlock()
	b.dev.free(b.id)
}

// CommandBuffer holds the commands simdev executes. Any other value
// submitted as a command is opaque and does nothing.
type CommandBuffer struct {
	copies []bufferCopy
}

type bufferCopy struct {
	src, dst *Buffer
	size     int64
}

// NewCommandBuffer returns an empty command buffer.
func NewCommandBuffer() *CommandBuffer { return &CommandBuffer{} }

// Copies returns the number of recorded copies.
func (c *CommandBuffer) Copies() int { return len(c.copies) }

// Reset drops the recorded commands.
func (c *CommandBuffer) Reset() { c.copies = c.copies[:0] }

// Image is a simulated image. It is never owned by vkpace.
type Image struct {
	ID     int
	Format vkpace.Format
	Extent vkpace.Extent2D
}

// ImageView is a simulated image view.
type ImageView struct {
	dev       *Device
	id        int
	destroyed bool

	Image  *Image
	Format vkpace.Format
	Aspect vkpace.AspectFlags
	Usage  vkpace.ImageUsageFlags
}

func (v *ImageView) Destroy() {
	v.destroyed = true
	v.dev.free(v.id)
}

// Framebuffer is a simulated framebuffer.
type Framebuffer struct {
	dev *Device
	id  int

	Extent vkpace.Extent2D
	Views  []*ImageView
}

func (f *Framebuffer) Destroy() {
	f.dev.free(f.id)
}

// RenderPass is a render pass layout given by its attachment aspects.
type RenderPass []vkpace.AspectFlags

func (p RenderPass) Attachments() []vkpace.AspectFlags { return p }

var (
	_ vkpace.TransferDevice = (*Device)(nil)
	_ vkpace.Queue          = (*Queue)(nil)
	_ vkpace.SwapTarget     = (*Swapchain)(nil)
)
