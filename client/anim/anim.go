// Package anim sequences the visual states of one canvas element: a
// loading pulse while content is fetched, a fade-in when it arrives, and a
// pixelation reveal when a placeholder is swapped for full resolution. It
// computes values only; rendering is the caller's problem.
package anim

import (
	"context"
	"math"
	"sync"
	"time"
)

type State int

const (
	StateLoadingPulse State = iota
	StateFadingIn
	StateSteady
	StatePixelating
)

func (s State) String() string {
	switch s {
	case StateLoadingPulse:
		return "loading-pulse"
	case StateFadingIn:
		return "fading-in"
	case StateSteady:
		return "steady"
	case StatePixelating:
		return "pixelating"
	}
	return "unknown"
}

const (
	// Pulse opacity oscillates between these bounds while loading.
	pulseMin    = 0.35
	pulseMax    = 0.75
	pulsePeriod = 1200 * time.Millisecond

	fadeDuration = 400 * time.Millisecond

	// Pixelation holds full blocks for a beat before shrinking them, so
	// the swap does not read as a flicker.
	pixelDelay    = 150 * time.Millisecond
	pixelDuration = 900 * time.Millisecond

	// minFrameGap caps effective work at ~60Hz; closer calls replay the
	// previous frame.
	minFrameGap = 16 * time.Millisecond
)

// Frame is one computed animation frame. PixelProgress runs 1 (coarse
// placeholder blocks) down to 0 (native resolution).
type Frame struct {
	State         State
	Opacity       float64
	PulsePhase    float64
	PixelProgress float64
}

// Coordinator drives one element's animation. All methods take the clock
// as an argument so tests advance time synthetically.
type Coordinator struct {
	mu        sync.Mutex
	state     State
	enteredAt time.Time
	lastStep  time.Time
	frame     Frame
	stepped   bool
}

// NewCoordinator starts in the loading pulse at the given time.
func NewCoordinator(start time.Time) *Coordinator {
	return &Coordinator{
		state:     StateLoadingPulse,
		enteredAt: start,
		frame:     Frame{State: StateLoadingPulse, Opacity: pulseMin},
	}
}

// ContentReady moves loading into the fade-in. Calls in any later state
// are no-ops; content arriving twice changes nothing.
func (c *Coordinator) ContentReady(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateLoadingPulse {
		return
	}
	c.state = StateFadingIn
	c.enteredAt = now
}

// StartPixelation begins the reveal transition. Only a steady element can
// start one; mid-fade or mid-reveal calls are ignored.
func (c *Coordinator) StartPixelation(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateSteady {
		return
	}
	c.state = StatePixelating
	c.enteredAt = now
}

// Step advances the machine to now and returns the frame to render. Calls
// closer together than ~16ms return the previous frame unchanged.
func (c *Coordinator) Step(now time.Time) Frame {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stepped && now.Sub(c.lastStep) < minFrameGap {
		return c.frame
	}
	c.lastStep = now
	c.stepped = true

	elapsed := now.Sub(c.enteredAt)
	switch c.state {
	case StateLoadingPulse:
		phase := math.Mod(float64(elapsed), float64(pulsePeriod)) / float64(pulsePeriod)
		if phase < 0 {
			phase += 1
		}
		mid := (pulseMin + pulseMax) / 2
		amp := (pulseMax - pulseMin) / 2
		c.frame = Frame{
			State:      StateLoadingPulse,
			Opacity:    mid + amp*math.Sin(2*math.Pi*phase),
			PulsePhase: phase,
		}

	case StateFadingIn:
		t := float64(elapsed) / float64(fadeDuration)
		if t >= 1 {
			c.state = StateSteady
			c.enteredAt = now
			c.frame = Frame{State: StateSteady, Opacity: 1}
			break
		}
		c.frame = Frame{State: StateFadingIn, Opacity: easeOutCubic(t)}

	case StatePixelating:
		if elapsed < pixelDelay {
			c.frame = Frame{State: StatePixelating, Opacity: 1, PixelProgress: 1}
			break
		}
		t := float64(elapsed-pixelDelay) / float64(pixelDuration)
		if t >= 1 {
			c.state = StateSteady
			c.enteredAt = now
			c.frame = Frame{State: StateSteady, Opacity: 1}
			break
		}
		c.frame = Frame{State: StatePixelating, Opacity: 1, PixelProgress: 1 - easeInOutCubic(t)}

	default:
		c.frame = Frame{State: StateSteady, Opacity: 1}
	}
	return c.frame
}

// State returns the current machine state without advancing it.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done reports whether the element is steady with no transition running.
// A done coordinator can be dropped until something starts a new reveal.
func (c *Coordinator) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateSteady
}

// Run drives Step on a ticker until the context ends, handing each frame
// to fn. Live rendering uses this; tests call Step directly.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration, fn func(Frame)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			fn(c.Step(now))
		}
	}
}

func easeOutCubic(t float64) float64 {
	u := 1 - t
	return 1 - u*u*u
}

func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	u := -2*t + 2
	return 1 - u*u*u/2
}
