// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package postfx

import (
	"testing"
	"time"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// TestFadeTimerRamp verifies the alpha ramp over wall-clock time.
func TestFadeTimerRamp(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	f := newFadeTimer(clock.now, time.Second)

	if got := f.Alpha(); got != 0 {
		t.Errorf("Alpha() before Begin = %v, want 0", got)
	}

	f.Begin()
	if got := f.Alpha(); got != 0 {
		t.Errorf("Alpha() at start = %v, want 0", got)
	}

	clock.advance(500 * time.Millisecond)
	if got := f.Alpha(); got != 0.5 {
		t.Errorf("Alpha() at half ramp = %v, want 0.5", got)
	}

	clock.advance(time.Second)
	if got := f.Alpha(); got != 1 {
		t.Errorf("Alpha() after ramp = %v, want 1", got)
	}
}

// TestFadeTimerReset verifies Reset restarts the ramp from zero.
func TestFadeTimerReset(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	f := newFadeTimer(clock.now, time.Second)

	f.Begin()
	clock.advance(2 * time.Second)
	if got := f.Alpha(); got != 1 {
		t.Fatalf("Alpha() = %v, want 1", got)
	}

	f.Reset()
	if got := f.Alpha(); got != 0 {
		t.Errorf("Alpha() after Reset = %v, want 0", got)
	}

	f.Begin()
	clock.advance(250 * time.Millisecond)
	if got := f.Alpha(); got != 0.25 {
		t.Errorf("Alpha() after restart = %v, want 0.25", got)
	}
}

// TestFadeTimerBeginIdempotent verifies Begin does not restart a running ramp.
func TestFadeTimerBeginIdempotent(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	f := newFadeTimer(clock.now, time.Second)

	f.Begin()
	clock.advance(600 * time.Millisecond)
	f.Begin()
	if got := f.Alpha(); got != 0.6 {
		t.Errorf("Alpha() = %v, want 0.6", got)
	}
}

// TestFadeTimerZeroDuration verifies fading can be disabled.
func TestFadeTimerZeroDuration(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	f := newFadeTimer(clock.now, 0)

	if got := f.Alpha(); got != 1 {
		t.Errorf("Alpha() = %v, want 1 with zero duration", got)
	}
}
