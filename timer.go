package vkpace

import (
	"time"

	"github.com/loov/hrtime"
)

// FrameLimiter caps the frame rate of a loop and measures frame times. Tick
// is called once per frame; it sleeps away whatever is left of the frame
// budget and records the time since the previous tick.
type FrameLimiter struct {
	target   int
	previous time.Duration
	delta    time.Duration

	now   func() time.Duration
	sleep func(time.Duration)
}

// NewFrameLimiter returns a limiter for fps frames per second. Zero or a
// negative value disables limiting; Tick then only measures.
func NewFrameLimiter(fps int) *FrameLimiter {
	l := &FrameLimiter{
		target: fps,
		now:    hrtime.Now,
		sleep:  time.Sleep,
	}
	l.previous = l.now()
	return l
}

// Budget returns the duration of one frame at the target rate, or zero when
// unlimited.
func (l *FrameLimiter) Budget() time.Duration {
	if l.target <= 0 {
		return 0
	}
	return time.Second / time.Duration(l.target)
}

// Tick ends the current frame.
func (l *FrameLimiter) Tick() {
	elapsed := l.now() - l.previous
	if budget := l.Budget(); elapsed < budget {
		l.sleep(budget - elapsed)
	}
	t := l.now()
	l.delta = t - l.previous
	l.previous = t
}

// Delta returns the duration of the last frame, sleep included.
func (l *FrameLimiter) Delta() time.Duration { return l.delta }

// FPS returns the instantaneous frame rate derived from Delta.
func (l *FrameLimiter) FPS() float64 {
	if l.delta <= 0 {
		return 0
	}
	return float64(time.Second) / float64(l.delta)
}
