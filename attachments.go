package vkpace

import (
	"github.com/pkg/errors"
)

// SwapFramebuffers keeps one colour view and one framebuffer per image of a
// swap target. Every framebuffer binds its colour view followed by the
// shared depth view, if the render pass has one. The depth view is
// borrowed.
type SwapFramebuffers struct {
	ctx    *Context
	pass   RenderPass
	depth  Attachment
	extent Extent2D
	views  []*ImageView[Color]
	fbs    []*Framebuffer
}

// NewSwapFramebuffers builds the per-image attachment sets for target.
// depth may be nil when pass only has a colour attachment.
func NewSwapFramebuffers(ctx *Context, target SwapTarget, pass RenderPass, depth Attachment) (*SwapFramebuffers, error) {
	s := &SwapFramebuffers{ctx: ctx, pass: pass}
	if err := s.build(target, depth); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SwapFramebuffers) build(target SwapTarget, depth Attachment) (err error) {
	extent := target.Extent()
	images := target.Images()
	s.depth = depth
	s.extent = extent
	s.views = make([]*ImageView[Color], 0, len(images))
	s.fbs = make([]*Framebuffer, 0, len(images))
	defer func() {
		if err != nil {
			s.teardown()
		}
	}()

	for i, img := range images {
		view, err := NewImageView[Color](s.ctx, img, target.Format())
		if err != nil {
			return errors.Wrapf(err, "swap image %d", i)
		}
		s.views = append(s.views, view)

		atts := []Attachment{view}
		if depth != nil {
			atts = append(atts, depth)
		}
		fb, err := NewFramebuffer(s.ctx, s.pass, extent, atts...)
		if err != nil {
			return errors.Wrapf(err, "swap image %d", i)
		}
		s.fbs = append(s.fbs, fb)
	}
	s.ctx.log.Debug("swap framebuffers created", "images", len(images), "width", extent.Width, "height", extent.Height)
	return nil
}

// Recreate rebuilds every view and framebuffer after target has been
// recreated. It waits for the device to go idle before destroying the old
// set.
func (s *SwapFramebuffers) Recreate(target SwapTarget, depth Attachment) error {
	if err := s.ctx.WaitIdle(); err != nil {
		return errors.Wrap(err, "recreate swap framebuffers")
	}
	s.teardown()
	return s.build(target, depth)
}

// Len returns the number of swap images covered.
func (s *SwapFramebuffers) Len() int { return len(s.fbs) }

func (s *SwapFramebuffers) Extent() Extent2D { return s.extent }

// Framebuffer returns the framebuffer for swap image i.
func (s *SwapFramebuffers) Framebuffer(i uint32) *Framebuffer {
	return s.fbs[i]
}

// View returns the colour view of swap image i.
func (s *SwapFramebuffers) View(i uint32) *ImageView[Color] {
	return s.views[i]
}

// Destroy releases the framebuffers and colour views. The depth view is
// left to its owner. The device must be idle.
func (s *SwapFramebuffers) Destroy() {
	s.teardown()
}

func (s *SwapFramebuffers) teardown() {
	for i := len(s.fbs) - 1; i >= 0; i-- {
		s.fbs[i].Destroy()
	}
	for i := len(s.views) - 1; i >= 0; i-- {
		s.views[i].Destroy()
	}
	s.fbs = nil
	s.views = nil
}
