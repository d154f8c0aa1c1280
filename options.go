// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package postfx

import (
	"time"

	"github.com/gogpu/postfx/technique"
)

// Option configures an effect or frame context during creation.
// Use functional options to customize behavior.
//
// Example:
//
//	// Default configuration
//	bloom, err := postfx.NewBloom(device, queue)
//
//	// Asynchronous pipeline builds with a shared technique cache
//	cache := technique.NewCache()
//	bloom, err := postfx.NewBloom(device, queue,
//	    postfx.WithAsyncPipelines(true),
//	    postfx.WithTechniqueCache(cache))
type Option func(*options)

// options holds optional configuration shared by all effects.
type options struct {
	async        bool
	capabilities Capabilities
	cache        *technique.Cache
	fadeDuration time.Duration
	reverseDepth bool
	now          func() time.Time
}

// defaultEffectOptions returns the default configuration.
func defaultEffectOptions() options {
	return options{
		async:        true,
		capabilities: DefaultCapabilities(),
		fadeDuration: 500 * time.Millisecond,
		now:          time.Now,
	}
}

// applyOptions builds an options value from defaults plus overrides.
func applyOptions(opts []Option) options {
	o := defaultEffectOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.cache == nil {
		o.cache = technique.NewCache()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// WithAsyncPipelines controls whether pipeline programs build on background
// goroutines. Asynchronous builds (the default) keep the frame loop
// responsive; effects render a placeholder until their programs finish.
// Synchronous builds block construction and the first resize but guarantee
// the first Execute produces real output.
func WithAsyncPipelines(async bool) Option {
	return func(o *options) {
		o.async = async
	}
}

// WithCapabilities overrides the device capability set. Used to run the
// per-level fallback paths on hardware that lacks single-mip subresource
// views or explicit texture barriers.
func WithCapabilities(caps Capabilities) Option {
	return func(o *options) {
		o.capabilities = caps
	}
}

// WithTechniqueCache shares one technique cache across several effects so
// identical pass variants compile once per device instead of once per
// effect instance.
func WithTechniqueCache(cache *technique.Cache) Option {
	return func(o *options) {
		o.cache = cache
	}
}

// WithFadeDuration sets the wall-clock fade-in applied when an effect
// first activates or is re-enabled. Zero disables fading.
func WithFadeDuration(d time.Duration) Option {
	return func(o *options) {
		o.fadeDuration = d
	}
}

// WithReverseDepth declares that the depth buffer uses the reversed
// convention (1.0 at the near plane). Pass programs are specialized per
// convention and cached separately.
func WithReverseDepth(reverse bool) Option {
	return func(o *options) {
		o.reverseDepth = reverse
	}
}

// withClock overrides the wall-clock source for fade timing in tests.
func withClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}
