// Command vkpace-demo opens a window and runs a paced clear-and-present loop
// with a configurable number of frames in flight.
package main

import (
	"flag"
	"log/slog"
	"math"
	"os"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/pkg/errors"

	"github.com/andewx/vkpace"
	"github.com/andewx/vkpace/vkdev"
)

func init() {
	// glfw and the presentation engine must stay on the main thread
	runtime.LockOSThread()
}

// frameParams is the per-frame data uploaded through a staging buffer.
type frameParams struct {
	Time  float32
	Frame uint32
	Color [4]float32
}

type renderer struct {
	log *slog.Logger
	cfg vkpace.Config

	window    *glfw.Window
	platform  *vkdev.Platform
	ctx       *vkpace.Context
	swapchain *vkdev.Swapchain
	pass      *vkdev.RenderPass
	depth     *vkdev.DepthImage
	depthView *vkpace.ImageView[vkpace.Depth]
	fbs       *vkpace.SwapFramebuffers
	frames    *vkpace.FramesInFlight
	commands  *vkdev.CommandPool

	// per frame slot, uploaded on the slot's own submission
	params []*vkpace.Staged[frameParams]
}

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	cfg := vkpace.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = vkpace.LoadConfig(*configPath); err != nil {
			slog.Error("load config", vkpace.ErrAttr(err))
			os.Exit(1)
		}
	}
	log := vkpace.NewLogger(cfg.LogLevel, os.Stderr)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("demo failed", vkpace.ErrAttr(err))
		os.Exit(1)
	}
}

func run(cfg vkpace.Config, log *slog.Logger) error {
	if err := vkdev.Init(); err != nil {
		return err
	}
	defer vkdev.Terminate()

	r := &renderer{log: log, cfg: cfg}
	defer r.destroy()
	if err := r.setup(); err != nil {
		return err
	}
	return r.loop()
}

func (r *renderer) setup() error {
	window, err := vkdev.NewWindow(r.cfg.Width, r.cfg.Height, r.cfg.AppName)
	if err != nil {
		return err
	}
	r.window = window

	pcfg := vkdev.Config{
		AppName: r.cfg.AppName,
		Debug:   r.cfg.Validation,
		Logger:  r.log.With("component", "vkdev"),
	}
	if r.cfg.Validation {
		pcfg.ValidationLayers = r.cfg.ValidationLayers
	}
	r.platform, err = vkdev.NewPlatform(vkdev.WindowConfig(pcfg, window))
	if err != nil {
		return errors.Wrap(err, "platform")
	}
	r.ctx = vkpace.NewContext(r.platform, vkpace.WithLogger(r.log))

	w, h := vkdev.FramebufferSize(window)
	r.swapchain, err = r.platform.NewSwapchain(r.cfg.FramesInFlight+1, vkpace.Extent2D{Width: w, Height: h})
	if err != nil {
		return errors.Wrap(err, "swapchain")
	}
	depthFormat, err := r.platform.DepthFormat()
	if err != nil {
		return err
	}
	r.pass, err = r.platform.NewRenderPass(r.swapchain.Format(), depthFormat)
	if err != nil {
		return errors.Wrap(err, "render pass")
	}
	if err := r.createDepth(depthFormat); err != nil {
		return err
	}
	r.fbs, err = vkpace.NewSwapFramebuffers(r.ctx, r.swapchain, r.pass, r.depthView)
	if err != nil {
		return errors.Wrap(err, "framebuffers")
	}

	r.frames, err = vkpace.NewFramesInFlight(r.ctx, r.cfg.FramesInFlight)
	if err != nil {
		return err
	}
	r.frames.SetThrottleTimeout(r.cfg.ThrottleTimeout())
	r.commands, err = r.platform.NewCommandPool(r.frames.Len())
	if err != nil {
		return errors.Wrap(err, "command pool")
	}
	for i := 0; i < r.frames.Len(); i++ {
		b, err := vkpace.NewStaged[frameParams](r.ctx, 1, vkpace.UsageUniform)
		if err != nil {
			return errors.Wrapf(err, "params buffer %d", i)
		}
		r.params = append(r.params, b)
	}
	return nil
}

func (r *renderer) createDepth(format vkpace.Format) (err error) {
	r.depth, err = r.platform.NewDepthImage(format, r.swapchain.Extent())
	if err != nil {
		return errors.Wrap(err, "depth image")
	}
	r.depthView, err = vkpace.NewImageView[vkpace.Depth](r.ctx, r.depth, format)
	return errors.Wrap(err, "depth view")
}

func (r *renderer) destroyDepth() {
	if r.depthView != nil {
		r.depthView.Destroy()
		r.depthView = nil
	}
	if r.depth != nil {
		r.depth.Destroy()
		r.depth = nil
	}
}

func (r *renderer) loop() error {
	limiter := vkpace.NewFrameLimiter(r.cfg.TargetFPS)
	queue := r.platform.GraphicsQueue()
	for !r.window.ShouldClose() {
		glfw.PollEvents()
		resized, err := r.frames.Cycle(r.swapchain, queue, r.record)
		if err != nil {
			return err
		}
		if resized {
			if err := r.recreate(); err != nil {
				return err
			}
		}
		limiter.Tick()
		if r.frames.Frames()%600 == 0 {
			r.log.Debug("frame pacing", "frames", r.frames.Frames(), "fps", limiter.FPS())
		}
	}
	return nil
}

// record writes the slot's parameters, uploads them and clears the swap
// image to a colour that cycles over time.
func (r *renderer) record(f vkpace.Frame) ([]vkpace.CommandBuffer, error) {
	t := float32(glfw.GetTime())
	params := r.params[f.Slot]
	p := &params.View()[0]
	p.Time = t
	p.Frame = uint32(r.frames.Frames())
	p.Color = [4]float32{
		0.5 + 0.5*float32(math.Sin(float64(t))),
		0.5 + 0.5*float32(math.Sin(float64(t)+2.1)),
		0.5 + 0.5*float32(math.Sin(float64(t)+4.2)),
		1,
	}
	params.MarkDirty()

	cb, err := r.commands.Begin(f.Slot)
	if err != nil {
		return nil, err
	}
	params.Flush(cb)
	vkdev.ClearPass(cb, r.pass, r.fbs.Framebuffer(f.Image), p.Color, 1)
	if err := r.commands.End(cb); err != nil {
		return nil, err
	}
	return []vkpace.CommandBuffer{cb}, nil
}

// recreate rebuilds everything sized by the swapchain. It blocks while the
// window is minimized.
func (r *renderer) recreate() error {
	w, h := vkdev.FramebufferSize(r.window)
	for (w == 0 || h == 0) && !r.window.ShouldClose() {
		glfw.WaitEvents()
		w, h = vkdev.FramebufferSize(r.window)
	}
	if err := r.ctx.WaitIdle(); err != nil {
		return err
	}
	if err := r.swapchain.Recreate(vkpace.Extent2D{Width: w, Height: h}); err != nil {
		if errors.Is(err, vkpace.ErrOutOfDate) {
			return nil
		}
		return errors.Wrap(err, "recreate swapchain")
	}
	// The framebuffers borrow the depth view, so the old one goes only
	// after they have been rebuilt.
	oldDepth, oldView := r.depth, r.depthView
	if err := r.createDepth(oldDepth.Format()); err != nil {
		oldView.Destroy()
		oldDepth.Destroy()
		return err
	}
	err := r.fbs.Recreate(r.swapchain, r.depthView)
	oldView.Destroy()
	oldDepth.Destroy()
	if err != nil {
		return err
	}
	r.log.Info("swapchain recreated", "width", r.swapchain.Extent().Width, "height", r.swapchain.Extent().Height)
	return nil
}

func (r *renderer) destroy() {
	if r.ctx != nil && !r.ctx.Closed() {
		if err := r.ctx.WaitIdle(); err != nil {
			r.log.Warn("shutdown", vkpace.ErrAttr(err))
		}
	}
	if r.frames != nil {
		if err := r.frames.Destroy(); err != nil {
			r.log.Warn("shutdown", vkpace.ErrAttr(err))
		}
	}
	if r.fbs != nil {
		r.fbs.Destroy()
	}
	r.destroyDepth()
	for _, b := range r.params {
		b.Destroy()
	}
	if r.commands != nil {
		r.commands.Destroy()
	}
	if r.pass != nil {
		r.pass.Destroy()
	}
	if r.swapchain != nil {
		r.swapchain.Destroy()
	}
	if r.ctx != nil {
		if err := r.ctx.Close(); err != nil {
			r.log.Warn("close context", vkpace.ErrAttr(err))
		}
	} else if r.platform != nil {
		r.platform.Destroy()
	}
	if r.window != nil {
		r.window.Destroy()
	}
}
