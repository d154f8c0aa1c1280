// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package postfx

import "time"

// fadeTimer ramps an effect's contribution from zero to full strength over
// wall-clock time. The ramp starts when the effect first produces real
// output and restarts whenever Reset is called, so re-enabled effects ease
// in instead of popping.
type fadeTimer struct {
	now      func() time.Time
	duration time.Duration
	start    time.Time
	running  bool
}

// newFadeTimer creates a timer using the given clock and ramp duration.
// A zero duration disables fading: Alpha is always 1.
func newFadeTimer(now func() time.Time, duration time.Duration) fadeTimer {
	return fadeTimer{now: now, duration: duration}
}

// Begin starts the ramp if it is not already running.
func (f *fadeTimer) Begin() {
	if f.running {
		return
	}
	f.start = f.now()
	f.running = true
}

// Reset stops the ramp; the next Begin restarts it from zero.
func (f *fadeTimer) Reset() {
	f.running = false
}

// Alpha returns the current fade factor in [0, 1].
func (f *fadeTimer) Alpha() float32 {
	if f.duration <= 0 {
		return 1
	}
	if !f.running {
		return 0
	}
	elapsed := f.now().Sub(f.start)
	if elapsed <= 0 {
		return 0
	}
	if elapsed >= f.duration {
		return 1
	}
	return float32(elapsed.Seconds() / f.duration.Seconds())
}
