// Package degrade decides when face tracking is abandoned in favour of the
// fixed-region overlay, and how many frames the render loop may skip.
package degrade

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/andresmejia3/tryon/internal/types"
)

type Mode int

const (
	Initializing Mode = iota
	Ready
	FallbackEngaged
)

func (m Mode) String() string {
	switch m {
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case FallbackEngaged:
		return "fallback"
	}
	return "unknown"
}

// Reason records why fallback was engaged.
type Reason string

const (
	ReasonInitTimeout   Reason = "init-timeout"
	ReasonInitExhausted Reason = "init-attempts-exhausted"
	ReasonFatalFrames   Reason = "fatal-frame-errors"
)

// Controller tracks detector health. FallbackEngaged is terminal.
type Controller struct {
	threshold int
	log       zerolog.Logger

	mu          sync.Mutex
	mode        Mode
	reason      Reason
	consecutive int
	listeners   []func(Reason)
}

// NewController creates a controller that engages fallback after threshold
// consecutive fatal frame errors. Thresholds below 1 are treated as 1.
func NewController(threshold int, log zerolog.Logger) *Controller {
	if threshold < 1 {
		threshold = 1
	}
	return &Controller{threshold: threshold, log: log}
}

func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Controller) Engaged() bool {
	return c.Mode() == FallbackEngaged
}

// Reason returns the engage reason, empty while not engaged.
func (c *Controller) Reason() Reason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// MarkReady moves Initializing to Ready. It has no effect in other modes.
func (c *Controller) MarkReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == Initializing {
		c.mode = Ready
		c.log.Info().Msg("Detector ready")
	}
}

// OnFallback registers fn to run once fallback engages. If it already has,
// fn runs immediately.
func (c *Controller) OnFallback(fn func(Reason)) {
	c.mu.Lock()
	if c.mode == FallbackEngaged {
		r := c.reason
		c.mu.Unlock()
		fn(r)
		return
	}
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Engage switches to fallback. It reports false if fallback was already
// engaged.
func (c *Controller) Engage(reason Reason) bool {
	c.mu.Lock()
	if c.mode == FallbackEngaged {
		c.mu.Unlock()
		return false
	}
	c.mode = FallbackEngaged
	c.reason = reason
	listeners := c.listeners
	c.listeners = nil
	c.mu.Unlock()

	c.log.Warn().Str("reason", string(reason)).Msg("Face tracking unavailable, using simplified overlay")
	for _, fn := range listeners {
		fn(reason)
	}
	return true
}

// RecordFrameError counts a per-frame detector error. Transient errors are
// only logged; fatal ones engage fallback once the threshold is reached.
// It reports whether this call engaged fallback.
func (c *Controller) RecordFrameError(fatal bool) bool {
	if !fatal {
		return false
	}
	c.mu.Lock()
	if c.mode != Ready {
		c.mu.Unlock()
		return false
	}
	c.consecutive++
	n := c.consecutive
	c.mu.Unlock()

	if n >= c.threshold {
		return c.Engage(ReasonFatalFrames)
	}
	return false
}

// RecordFrameSuccess resets the fatal error streak.
func (c *Controller) RecordFrameSuccess() {
	c.mu.Lock()
	c.consecutive = 0
	c.mu.Unlock()
}

// IntervalFor returns how many ticks make up one processed frame.
func IntervalFor(d types.DeviceClass) int {
	switch d {
	case types.DeviceLowEnd:
		return 3
	case types.DeviceMobile, types.DeviceIOS:
		return 2
	}
	return 1
}

// FrameSkipper drops ticks to keep constrained devices responsive. It is
// owned by a single goroutine.
type FrameSkipper struct {
	interval int
	n        int
}

func NewFrameSkipper(interval int) *FrameSkipper {
	if interval < 1 {
		interval = 1
	}
	return &FrameSkipper{interval: interval}
}

// Skip reports whether the current tick should be skipped. The first tick
// of every interval is processed.
func (s *FrameSkipper) Skip() bool {
	skip := s.n%s.interval != 0
	s.n++
	if s.n == s.interval {
		s.n = 0
	}
	return skip
}

func (s *FrameSkipper) Interval() int { return s.interval }
