package anim

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"
)

var base = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCoordinator_StartsInLoadingPulse(t *testing.T) {
	c := NewCoordinator(base)

	if got := c.State(); got != StateLoadingPulse {
		t.Fatalf("state mismatch: got %v, want %v", got, StateLoadingPulse)
	}
	if c.Done() {
		t.Error("loading coordinator must not report done")
	}

	frame := c.Step(base)
	if frame.State != StateLoadingPulse {
		t.Errorf("frame state mismatch: got %v", frame.State)
	}
	if !almostEqual(frame.Opacity, (pulseMin+pulseMax)/2) {
		t.Errorf("opacity at phase zero: got %v, want %v", frame.Opacity, (pulseMin+pulseMax)/2)
	}
	if frame.PulsePhase != 0 {
		t.Errorf("phase mismatch: got %v, want 0", frame.PulsePhase)
	}
}

func TestPulse_OscillatesWithinBounds(t *testing.T) {
	c := NewCoordinator(base)

	for i := 0; i < 48; i++ {
		now := base.Add(time.Duration(i) * 50 * time.Millisecond)
		frame := c.Step(now)
		if frame.Opacity < pulseMin-1e-9 || frame.Opacity > pulseMax+1e-9 {
			t.Fatalf("opacity out of bounds at step %d: %v", i, frame.Opacity)
		}
		if frame.PulsePhase < 0 || frame.PulsePhase >= 1 {
			t.Fatalf("phase out of range at step %d: %v", i, frame.PulsePhase)
		}
	}

	quarter := c.Step(base.Add(2*pulsePeriod + pulsePeriod/4))
	if !almostEqual(quarter.Opacity, pulseMax) {
		t.Errorf("opacity at quarter period: got %v, want %v", quarter.Opacity, pulseMax)
	}
	trough := c.Step(base.Add(3*pulsePeriod + 3*pulsePeriod/4))
	if !almostEqual(trough.Opacity, pulseMin) {
		t.Errorf("opacity at three-quarter period: got %v, want %v", trough.Opacity, pulseMin)
	}
}

func TestContentReady_FadesInThenSteady(t *testing.T) {
	c := NewCoordinator(base)
	c.ContentReady(base)

	frame := c.Step(base)
	if frame.State != StateFadingIn {
		t.Fatalf("state mismatch: got %v, want %v", frame.State, StateFadingIn)
	}
	if !almostEqual(frame.Opacity, 0) {
		t.Errorf("opacity at fade start: got %v, want 0", frame.Opacity)
	}

	mid := c.Step(base.Add(fadeDuration / 2))
	if mid.State != StateFadingIn {
		t.Fatalf("state mismatch mid-fade: got %v", mid.State)
	}
	if !almostEqual(mid.Opacity, 0.875) {
		t.Errorf("opacity mid-fade: got %v, want 0.875", mid.Opacity)
	}

	end := c.Step(base.Add(fadeDuration))
	if end.State != StateSteady {
		t.Fatalf("state mismatch at fade end: got %v", end.State)
	}
	if end.Opacity != 1 {
		t.Errorf("opacity at fade end: got %v, want 1", end.Opacity)
	}
	if !c.Done() {
		t.Error("expected done after fade completes")
	}
}

func TestContentReady_SecondCallIgnored(t *testing.T) {
	c := NewCoordinator(base)
	c.ContentReady(base)
	c.ContentReady(base.Add(200 * time.Millisecond))

	// Had the second call restarted the fade, this step would still be mid-fade.
	frame := c.Step(base.Add(fadeDuration))
	if frame.State != StateSteady {
		t.Errorf("state mismatch: got %v, want %v", frame.State, StateSteady)
	}
}

func TestStartPixelation_FullCycle(t *testing.T) {
	c := NewCoordinator(base)
	c.ContentReady(base)
	c.Step(base.Add(fadeDuration))
	if got := c.State(); got != StateSteady {
		t.Fatalf("setup failed, state %v", got)
	}

	start := base.Add(time.Second)
	c.StartPixelation(start)

	held := c.Step(start.Add(pixelDelay / 2))
	if held.State != StatePixelating {
		t.Fatalf("state mismatch: got %v, want %v", held.State, StatePixelating)
	}
	if held.PixelProgress != 1 {
		t.Errorf("progress during hold: got %v, want 1", held.PixelProgress)
	}
	if held.Opacity != 1 {
		t.Errorf("opacity during reveal: got %v, want 1", held.Opacity)
	}

	mid := c.Step(start.Add(pixelDelay + pixelDuration/2))
	if !almostEqual(mid.PixelProgress, 0.5) {
		t.Errorf("progress mid-reveal: got %v, want 0.5", mid.PixelProgress)
	}
	if c.Done() {
		t.Error("mid-reveal coordinator must not report done")
	}

	end := c.Step(start.Add(pixelDelay + pixelDuration))
	if end.State != StateSteady {
		t.Fatalf("state mismatch at reveal end: got %v", end.State)
	}
	if end.PixelProgress != 0 {
		t.Errorf("progress at reveal end: got %v, want 0", end.PixelProgress)
	}
	if !c.Done() {
		t.Error("expected done after reveal completes")
	}
}

func TestPixelation_ProgressIsMonotonic(t *testing.T) {
	c := NewCoordinator(base)
	c.ContentReady(base)
	c.Step(base.Add(fadeDuration))

	start := base.Add(time.Second)
	c.StartPixelation(start)

	prev := math.Inf(1)
	for now := start; now.Before(start.Add(pixelDelay + pixelDuration + 100*time.Millisecond)); now = now.Add(60 * time.Millisecond) {
		frame := c.Step(now)
		if frame.PixelProgress > prev+1e-9 {
			t.Fatalf("progress increased: %v then %v", prev, frame.PixelProgress)
		}
		prev = frame.PixelProgress
	}
	if prev != 0 {
		t.Errorf("final progress: got %v, want 0", prev)
	}
}

func TestStartPixelation_OnlyFromSteady(t *testing.T) {
	c := NewCoordinator(base)

	c.StartPixelation(base.Add(time.Second))
	if got := c.State(); got != StateLoadingPulse {
		t.Errorf("loading element started a reveal: state %v", got)
	}

	c.ContentReady(base.Add(2 * time.Second))
	c.StartPixelation(base.Add(2*time.Second + 100*time.Millisecond))
	if got := c.State(); got != StateFadingIn {
		t.Errorf("fading element started a reveal: state %v", got)
	}
}

func TestStep_ThrottlesCloseCalls(t *testing.T) {
	c := NewCoordinator(base)

	first := c.Step(base)
	replay := c.Step(base.Add(5 * time.Millisecond))
	if replay != first {
		t.Errorf("close call should replay the frame: got %+v, want %+v", replay, first)
	}

	next := c.Step(base.Add(20 * time.Millisecond))
	if next.PulsePhase == first.PulsePhase {
		t.Error("spaced call should advance the frame")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	c := NewCoordinator(time.Now())
	ctx, cancel := context.WithCancel(context.Background())

	var (
		mu    sync.Mutex
		calls int
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx, 5*time.Millisecond, func(Frame) {
			mu.Lock()
			calls++
			mu.Unlock()
		})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := calls
		mu.Unlock()
		if n >= 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	if calls < 3 {
		t.Errorf("frame callback count: got %d, want at least 3", calls)
	}
}
