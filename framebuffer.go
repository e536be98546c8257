package vkpace

import (
	"sync"

	"github.com/pkg/errors"
)

// Framebuffer binds an ordered set of image views to a render pass at a
// fixed extent. The views are borrowed and must outlive it. A framebuffer
// is never mutated: on resize a new one is created.
type Framebuffer struct {
	ctx    *Context
	dev    DeviceFramebuffer
	extent Extent2D
	views  []Attachment

	mu        sync.Mutex
	destroyed bool
}

// NewFramebuffer creates a framebuffer for pass. The number of views and
// their aspects must match pass.Attachments() in order.
func NewFramebuffer(ctx *Context, pass RenderPass, extent Extent2D, views ...Attachment) (*Framebuffer, error) {
	if extent.IsZero() {
		violation("framebuffer extent %dx%d has a zero dimension", extent.Width, extent.Height)
	}
	want := pass.Attachments()
	if len(views) != len(want) {
		violation("render pass expects %d attachments, got %d", len(want), len(views))
	}
	handles := make([]DeviceImageView, len(views))
	for i, v := range views {
		if got := v.AspectMask(); got != want[i] {
			violation("attachment %d is a %s view, render pass expects %s", i, got, want[i])
		}
		handles[i] = v.Handle()
	}

	ctx.acquire()
	fb, err := ctx.dev.NewFramebuffer(pass, extent, handles)
	if err != nil {
		ctx.release()
		return nil, errors.Wrap(err, "create framebuffer")
	}
	return &Framebuffer{
		ctx:    ctx,
		dev:    fb,
		extent: extent,
		views:  append([]Attachment(nil), views...),
	}, nil
}

func (f *Framebuffer) Extent() Extent2D { return f.extent }

// Attachments returns the bound views in binding order.
func (f *Framebuffer) Attachments() []Attachment {
	return append([]Attachment(nil), f.views...)
}

func (f *Framebuffer) Handle() DeviceFramebuffer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed {
		violation("use of a destroyed framebuffer")
	}
	return f.dev
}

// Destroy releases the framebuffer but not its views.
func (f *Framebuffer) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed {
		return
	}
	f.destroyed = true
	f.dev.Destroy()
	f.ctx.release()
}
