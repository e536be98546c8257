package vkpace

import (
	"fmt"
	"runtime"

	"github.com/pkg/errors"
)

// ErrTimeout means that a wait with a finite timeout expired before the
// device signaled. The state of the awaited work is unknown.
var ErrTimeout = errors.New("vkpace: wait timed out")

// ErrDeviceLost means that the device stopped executing work. Every
// in-flight assumption is invalid and the frame must be abandoned.
var ErrDeviceLost = errors.New("vkpace: device lost")

// ErrOutOfDate means that the presentation target no longer matches the
// surface and must be recreated.
var ErrOutOfDate = errors.New("vkpace: presentation target out of date")

// ErrOutOfDeviceMemory means that device memory could not be allocated.
var ErrOutOfDeviceMemory = errors.New("vkpace: out of device memory")

// ErrOutOfHostMemory means that host memory could not be allocated.
var ErrOutOfHostMemory = errors.New("vkpace: out of host memory")

// ErrClosed is returned by operations on a context that has been closed.
var ErrClosed = errors.New("vkpace: context closed")

// Result is a backend status code. Zero is success; negative values are
// errors, following Vulkan's VkResult convention.
type Result int32

// Result codes the core understands. Backends map their own codes onto these.
const (
	Success              Result = 0
	Timeout              Result = 2
	Suboptimal           Result = 1000001003
	OutOfHostMemory      Result = -1
	OutOfDeviceMemory    Result = -2
	InitializationFailed Result = -3
	DeviceLost           Result = -4
	MemoryMapFailed      Result = -5
	FormatNotSupported   Result = -11
	OutOfDate            Result = -1000001004
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Timeout:
		return "timeout"
	case Suboptimal:
		return "suboptimal"
	case OutOfHostMemory:
		return "out of host memory"
	case OutOfDeviceMemory:
		return "out of device memory"
	case InitializationFailed:
		return "initialization failed"
	case DeviceLost:
		return "device lost"
	case MemoryMapFailed:
		return "memory map failed"
	case FormatNotSupported:
		return "format not supported"
	case OutOfDate:
		return "out of date"
	}
	return fmt.Sprintf("result %d", int32(r))
}

// ResultError is a failed backend call. It records the operation, the code
// and the caller that observed it.
type ResultError struct {
	Op     string
	Code   Result
	Caller string
}

func (e *ResultError) Error() string {
	if e.Caller == "" {
		return fmt.Sprintf("vkpace: %s: %s (%d)", e.Op, e.Code, int32(e.Code))
	}
	return fmt.Sprintf("vkpace: %s: %s (%d) on %s", e.Op, e.Code, int32(e.Code), e.Caller)
}

// Unwrap maps the code onto the matching sentinel so callers can use
// errors.Is(err, ErrDeviceLost) and friends.
func (e *ResultError) Unwrap() error {
	switch e.Code {
	case Timeout:
		return ErrTimeout
	case DeviceLost:
		return ErrDeviceLost
	case OutOfDate:
		return ErrOutOfDate
	case OutOfDeviceMemory:
		return ErrOutOfDeviceMemory
	case OutOfHostMemory:
		return ErrOutOfHostMemory
	}
	return nil
}

// NewError returns nil for Success and a *ResultError otherwise.
// Non-error statuses (Suboptimal) are reported as nil as well.
func NewError(op string, ret Result) error {
	return newError(2, op, ret)
}

// NewErrorAt is NewError for helpers: the recorded caller is skip frames
// above the caller of NewErrorAt.
func NewErrorAt(skip int, op string, ret Result) error {
	return newError(skip+2, op, ret)
}

func newError(depth int, op string, ret Result) error {
	if ret == Success || ret == Suboptimal {
		return nil
	}
	e := &ResultError{Op: op, Code: ret}
	if _, file, line, ok := runtime.Caller(depth); ok {
		e.Caller = fmt.Sprintf("%s:%d", file, line)
	}
	return e
}

// violation reports a broken caller contract. Such states cannot be
// continued past, so they panic instead of returning an error.
func violation(format string, args ...any) {
	panic(fmt.Sprintf("vkpace: "+format, args...))
}
