package vkpace

import (
	"sync"

	"github.com/pkg/errors"
)

// Aspect selects which sub-resource aspect an ImageView covers and the
// usage it is created with. Only Color and Depth implement it.
type Aspect interface {
	aspectMask() AspectFlags
	imageUsage() ImageUsageFlags
}

// Color is the colour aspect. Colour views are usable as transfer
// destination, sampled image and colour attachment.
type Color struct{}

func (Color) aspectMask() AspectFlags { return AspectColor }

func (Color) imageUsage() ImageUsageFlags {
	return ImageUsageTransferDst | ImageUsageSampled | ImageUsageColorAttachment
}

// Depth is the depth aspect, usable as depth-stencil attachment.
type Depth struct{}

func (Depth) aspectMask() AspectFlags { return AspectDepth }

func (Depth) imageUsage() ImageUsageFlags { return ImageUsageDepthStencilAttachment }

// Attachment is anything that can be bound into a Framebuffer.
type Attachment interface {
	// AspectMask is the aspect the view was created for.
	AspectMask() AspectFlags
	// Handle returns the backend view.
	Handle() DeviceImageView
}

// ImageView is a 2D view over an image restricted to aspect A. The image
// is borrowed and must outlive the view.
type ImageView[A Aspect] struct {
	ctx    *Context
	dev    DeviceImageView
	image  Image
	format Format

	mu        sync.Mutex
	destroyed bool
}

// NewImageView creates a view of img with the aspect mask and usage of A.
func NewImageView[A Aspect](ctx *Context, img Image, format Format) (*ImageView[A], error) {
	var a A
	ctx.acquire()
	v, err := ctx.dev.NewImageView(img, format, a.aspectMask(), a.imageUsage())
	if err != nil {
		ctx.release()
		return nil, errors.Wrapf(err, "create %s image view", a.aspectMask())
	}
	return &ImageView[A]{ctx: ctx, dev: v, image: img, format: format}, nil
}

func (v *ImageView[A]) AspectMask() AspectFlags {
	var a A
	return a.aspectMask()
}

// Usage returns the usage flags implied by A.
func (v *ImageView[A]) Usage() ImageUsageFlags {
	var a A
	return a.imageUsage()
}

func (v *ImageView[A]) Format() Format { return v.format }

// Image returns the borrowed image.
func (v *ImageView[A]) Image() Image { return v.image }

func (v *ImageView[A]) Handle() DeviceImageView {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.destroyed {
		violation("use of a destroyed %s image view", v.AspectMask())
	}
	return v.dev
}

// Destroy releases the view. The image is left untouched.
func (v *ImageView[A]) Destroy() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.destroyed {
		return
	}
	v.destroyed = true
	v.dev.Destroy()
	v.ctx.release()
}
