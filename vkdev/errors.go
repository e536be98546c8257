package vkdev

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkpace"
)

func isError(ret vk.Result) bool {
	return ret != vk.Success
}

// newError converts a Vulkan result into a vkpace error carrying the
// calling frame. Success and Suboptimal map to nil.
func newError(op string, ret vk.Result) error {
	return vkpace.NewErrorAt(1, op, vkpace.Result(ret))
}

func orPanic(err error, finalizers ...func()) {
	if err != nil {
		for _, fn := range finalizers {
			fn()
		}
		panic(err)
	}
}

// checkErr recovers an orPanic panic into *err.
func checkErr(err *error) {
	v := recover()
	if v == nil {
		return
	}
	if e, ok := v.(error); ok {
		*err = errors.WithStack(e)
		return
	}
	panic(v)
}
