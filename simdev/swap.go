package simdev

import (
	"sync"
	"time"

	"github.com/andewx/vkpace"
)

// Swapchain is a simulated presentation target with a fixed number of
// images handed out round robin.
type Swapchain struct {
	dev *Device

	mu         sync.Mutex
	format     vkpace.Format
	extent     vkpace.Extent2D
	images     []vkpace.Image
	next       uint32
	acquired   map[uint32]bool
	outOfDate  bool
	suboptimal bool
	presented  []uint32
}

// NewSwapchain creates a target with count images.
func (d *Device) NewSwapchain(count int, format vkpace.Format, extent vkpace.Extent2D) *Swapchain {
	s := &Swapchain{dev: d, format: format}
	s.reset(count, extent)
	return s
}

func (s *Swapchain) reset(count int, extent vkpace.Extent2D) {
	s.extent = extent
	s.images = make([]vkpace.Image, count)
	for i := range s.images {
		s.images[i] = &Image{ID: s.dev.create("swap image"), Format: s.format, Extent: extent}
	}
	s.next = 0
	s.acquired = make(map[uint32]bool)
	s.outOfDate = false
	s.suboptimal = false
}

// Resize makes the next acquire report out of date, as a window resize
// would.
func (s *Swapchain) Resize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outOfDate = true
}

// SetSuboptimal makes acquires and presents report suboptimal.
func (s *Swapchain) SetSuboptimal(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suboptimal = v
}

// Recreate replaces the images with new ones of the given extent. The
// caller must have waited for the device to go idle.
func (s *Swapchain) Recreate(extent vkpace.Extent2D) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseImages()
	s.reset(len(s.images), extent)
}

// Destroy releases the images.
func (s *Swapchain) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseImages()
	s.images = nil
}

func (s *Swapchain) releaseImages() {
	for _, img := range s.images {
		s.dev.free(img.(*Image).ID)
	}
}

// Presented returns the image indices presented so far, in order.
func (s *Swapchain) Presented() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint32(nil), s.presented...)
}

func (s *Swapchain) AcquireNext(signal *vkpace.Semaphore, timeout time.Duration) (uint32, bool, error) {
	if s.dev.isLost() {
		return 0, false, vkpace.NewError("vkAcquireNextImageKHR", vkpace.DeviceLost)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outOfDate {
		return 0, false, vkpace.NewError("vkAcquireNextImageKHR", vkpace.OutOfDate)
	}
	if len(s.acquired) == len(s.images) {
		if timeout >= 0 {
			return 0, false, vkpace.NewError("vkAcquireNextImageKHR", vkpace.Timeout)
		}
		s.dev.violate("acquire with every swap image held would block forever")
		return 0, false, vkpace.NewError("vkAcquireNextImageKHR", vkpace.DeviceLost)
	}
	for s.acquired[s.next] {
		s.next = (s.next + 1) % uint32(len(s.images))
	}
	image := s.next
	s.next = (s.next + 1) % uint32(len(s.images))
	s.acquired[image] = true

	sem := semaphoreOf(signal)
	s.dev.record(Acquire, sem.id)
	sem.signal()
	return image, s.suboptimal, nil
}

func (s *Swapchain) Present(wait *vkpace.Semaphore, image uint32) (bool, error) {
	if s.dev.isLost() {
		return false, vkpace.NewError("vkQueuePresentKHR", vkpace.DeviceLost)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.acquired[image] {
		s.dev.violate("present of image %d that was not acquired", image)
	}
	delete(s.acquired, image)

	sem := semaphoreOf(wait)
	s.dev.record(Present, sem.id)
	sem.wait()
	s.presented = append(s.presented, image)
	if s.outOfDate {
		return false, vkpace.NewError("vkQueuePresentKHR", vkpace.OutOfDate)
	}
	return s.suboptimal, nil
}

func (s *Swapchain) Extent() vkpace.Extent2D {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extent
}

func (s *Swapchain) Format() vkpace.Format { return s.format }

func (s *Swapchain) Images() []vkpace.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]vkpace.Image(nil), s.images...)
}
