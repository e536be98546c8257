package vkdev

import (
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Init initializes glfw and the Vulkan loader through it. It must be called
// on the main thread before anything else in this package.
func Init() error {
	if err := glfw.Init(); err != nil {
		return errors.Wrap(err, "glfw init")
	}
	vk.SetGetInstanceProcAddr(glfw.GetVulkanGetInstanceProcAddress())
	if err := vk.Init(); err != nil {
		glfw.Terminate()
		return errors.Wrap(err, "vulkan init")
	}
	return nil
}

// Terminate shuts glfw down. Call it last, on the main thread.
func Terminate() {
	glfw.Terminate()
}

// NewWindow opens a window without a client API, ready for a Vulkan
// surface.
func NewWindow(width, height int, title string) (*glfw.Window, error) {
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(width, height, title, nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create window")
	}
	return window, nil
}

// WindowConfig fills the instance extensions and surface constructor of cfg
// for presenting to window.
func WindowConfig(cfg Config, window *glfw.Window) Config {
	cfg.InstanceExtensions = append(cfg.InstanceExtensions, window.GetRequiredInstanceExtensions()...)
	cfg.Surface = WindowSurface(window)
	return cfg
}

// WindowSurface returns a surface constructor for window.
func WindowSurface(window *glfw.Window) func(vk.Instance) (vk.Surface, error) {
	return func(instance vk.Instance) (vk.Surface, error) {
		ptr, err := window.CreateWindowSurface(instance, nil)
		if err != nil {
			return vk.NullSurface, errors.Wrap(err, "create window surface")
		}
		return vk.SurfaceFromPointer(ptr), nil
	}
}

// FramebufferSize returns the drawable size of window in pixels.
func FramebufferSize(window *glfw.Window) (width, height uint32) {
	w, h := window.GetFramebufferSize()
	return uint32(max(w, 0)), uint32(max(h, 0))
}
