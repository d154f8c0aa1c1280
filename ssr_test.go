// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package postfx

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// newTestSSR creates a reflection effect plus a context on one device.
func newTestSSR(t *testing.T, opts ...Option) (*SSR, *Context) {
	t.Helper()
	device, queue := newTestDevice(t)
	all := append([]Option{WithAsyncPipelines(false)}, opts...)

	ctx, err := NewContext(device, queue, all...)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	t.Cleanup(ctx.Destroy)

	ssr, err := NewSSR(device, queue, all...)
	if err != nil {
		t.Fatalf("NewSSR: %v", err)
	}
	t.Cleanup(ssr.Destroy)
	return ssr, ctx
}

// gbufferViews creates the borrowed color, depth, normal, and material
// views one reflection frame needs.
func gbufferViews(t *testing.T, device hal.Device, w, h uint32) (color, depth, normal, material hal.TextureView) {
	t.Helper()
	depth, _ = borrowedViews(t, device, w, h)
	for _, target := range []struct {
		out    *hal.TextureView
		label  string
		format gputypes.TextureFormat
	}{
		{&color, "test_color", gputypes.TextureFormatRGBA16Float},
		{&normal, "test_normal", gputypes.TextureFormatRGBA8Unorm},
		{&material, "test_material", gputypes.TextureFormatRGBA8Unorm},
	} {
		rt, err := newRenderTarget(device, target.label, w, h, target.format)
		if err != nil {
			t.Fatalf("create %s: %v", target.label, err)
		}
		*target.out = rt.view
	}
	return color, depth, normal, material
}

// executeSSRFrame records one full reflection frame.
func executeSSRFrame(t *testing.T, ssr *SSR, ctx *Context, settings *SSRSettings) {
	t.Helper()
	encoder := newTestEncoder(t, ssr.device)
	color, depth, normal, material := gbufferViews(t, ssr.device, ssr.frame.Width, ssr.frame.Height)
	err := ssr.Execute(&SSRExecuteAttribs{
		Encoder:  encoder,
		Context:  ctx,
		Color:    color,
		Depth:    depth,
		Normal:   normal,
		Material: material,
		Settings: settings,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

// TestSSRFlagsPartitionAllocation verifies flag changes reallocate and
// repeat calls do not, and that the previous-frame variant retains a
// color copy the plain variant does not.
func TestSSRFlagsPartitionAllocation(t *testing.T) {
	base, queue := newTestDevice(t)
	device := &countingDevice{Device: base}
	ssr, err := NewSSR(device, queue, WithAsyncPipelines(false))
	if err != nil {
		t.Fatalf("NewSSR: %v", err)
	}
	defer ssr.Destroy()

	desc := FrameDesc{Width: 1280, Height: 720}
	if err := ssr.PrepareResources(desc, 0); err != nil {
		t.Fatalf("PrepareResources: %v", err)
	}
	if ssr.colorHistory != nil {
		t.Error("plain variant retained a color history")
	}
	first := device.allocations()

	if err := ssr.PrepareResources(desc, 0); err != nil {
		t.Fatalf("repeat PrepareResources: %v", err)
	}
	if got := device.allocations(); got != first {
		t.Errorf("repeat prepare allocated %d resources", got-first)
	}

	if err := ssr.PrepareResources(desc, SSRPreviousFrameColor); err != nil {
		t.Fatalf("PrepareResources(prev frame): %v", err)
	}
	if device.allocations() == first {
		t.Error("flag change did not reallocate")
	}
	if ssr.colorHistory == nil {
		t.Fatal("previous-frame variant missing the color history")
	}
	if ssr.colorHistory.width != 1280 || ssr.colorHistory.height != 720 {
		t.Errorf("color history = %dx%d", ssr.colorHistory.width, ssr.colorHistory.height)
	}
}

// TestSSRHalfResolutionTargets verifies the trace targets follow the flag
// while the declared output stays full size.
func TestSSRHalfResolutionTargets(t *testing.T) {
	ssr, ctx := newTestSSR(t)
	desc := FrameDesc{Width: 1280, Height: 720}

	if err := ctx.PrepareResources(desc); err != nil {
		t.Fatalf("context PrepareResources: %v", err)
	}
	if err := ssr.PrepareResources(desc, SSRHalfResolution); err != nil {
		t.Fatalf("PrepareResources: %v", err)
	}
	if ssr.intersected.width != 640 || ssr.intersected.height != 360 {
		t.Errorf("intersect target = %dx%d", ssr.intersected.width, ssr.intersected.height)
	}
	if got := ssr.hizChain.width; got != 640 {
		t.Errorf("hi-z chain width = %d, want 640", got)
	}
	if ssr.output.width != 1280 || ssr.output.height != 720 {
		t.Errorf("output = %dx%d, want full resolution", ssr.output.width, ssr.output.height)
	}
	if ssr.resolved == nil {
		t.Fatal("half-res path missing the resolve target")
	}
	if ssr.resolved.width != 640 || ssr.resolved.height != 360 {
		t.Errorf("resolve target = %dx%d", ssr.resolved.width, ssr.resolved.height)
	}
	if ssr.techUpsample == nil {
		t.Error("half-res path missing the upsample program")
	}
	// A full half-res frame records, including the upsample back into the
	// full-size output.
	executeSSRFrame(t, ssr, ctx, nil)
	if ssr.Output() != ssr.output.view {
		t.Error("Output() is not the full-resolution target")
	}

	if err := ssr.PrepareResources(desc, 0); err != nil {
		t.Fatalf("PrepareResources(full res): %v", err)
	}
	if ssr.resolved != nil {
		t.Error("full-res path allocated a resolve target")
	}
	if ssr.techUpsample != nil {
		t.Error("full-res path kept the upsample program")
	}
	if ssr.output.width != 1280 || ssr.output.height != 720 {
		t.Errorf("output = %dx%d, want full resolution", ssr.output.width, ssr.output.height)
	}
}

// TestSSRHistoryParity verifies the accumulation targets alternate with
// the frame index.
func TestSSRHistoryParity(t *testing.T) {
	ssr, ctx := newTestSSR(t)
	desc := FrameDesc{Width: 640, Height: 360}
	if err := ctx.PrepareResources(desc); err != nil {
		t.Fatalf("context PrepareResources: %v", err)
	}
	if err := ssr.PrepareResources(desc, 0); err != nil {
		t.Fatalf("PrepareResources: %v", err)
	}
	if !ssr.PipelinesReady() {
		t.Fatal("pipelines not ready after synchronous prepare")
	}

	for frame := uint64(0); frame < 4; frame++ {
		desc.Index = frame
		if err := ssr.PrepareResources(desc, 0); err != nil {
			t.Fatalf("frame %d PrepareResources: %v", frame, err)
		}
		executeSSRFrame(t, ssr, ctx, nil)
		if !ssr.historyValid {
			t.Fatalf("frame %d left the history invalid", frame)
		}
	}
	if ssr.Output() != ssr.output.view {
		t.Error("Output() is not the cleanup target")
	}
}

// ssrBlend reads the accumulation weight out of the packed constants.
func ssrBlend(ssr *SSR) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(ssr.params.data[24:28]))
}

// TestSSRSkippedFrameRestartsBlend verifies a gap or repeat in the frame
// index zeroes the blend weight even when the size is unchanged.
func TestSSRSkippedFrameRestartsBlend(t *testing.T) {
	ssr, ctx := newTestSSR(t, WithFadeDuration(0))
	desc := FrameDesc{Width: 640, Height: 360}
	prep := func(index uint64) {
		t.Helper()
		desc.Index = index
		if err := ctx.PrepareResources(desc); err != nil {
			t.Fatalf("context PrepareResources: %v", err)
		}
		if err := ssr.PrepareResources(desc, 0); err != nil {
			t.Fatalf("PrepareResources: %v", err)
		}
	}

	prep(0)
	executeSSRFrame(t, ssr, ctx, nil)
	if got := ssrBlend(ssr); got != 0 {
		t.Errorf("first frame blend = %v, want 0", got)
	}

	prep(1)
	executeSSRFrame(t, ssr, ctx, nil)
	if got := ssrBlend(ssr); got != 1 {
		t.Errorf("steady frame blend = %v, want 1", got)
	}

	// The size matches, so the prepares take the cheap path; the index
	// jumps from 1 to 3 and the previous-parity history is stale.
	prep(3)
	executeSSRFrame(t, ssr, ctx, nil)
	if got := ssrBlend(ssr); got != 0 {
		t.Errorf("skipped frame blend = %v, want 0", got)
	}

	executeSSRFrame(t, ssr, ctx, nil)
	if got := ssrBlend(ssr); got != 0 {
		t.Errorf("repeated frame blend = %v, want 0", got)
	}

	prep(4)
	executeSSRFrame(t, ssr, ctx, nil)
	if got := ssrBlend(ssr); got != 1 {
		t.Errorf("recovered frame blend = %v, want 1", got)
	}
}

// TestSSRExecuteValidation checks the error paths.
func TestSSRExecuteValidation(t *testing.T) {
	ssr, ctx := newTestSSR(t)
	encoder := newTestEncoder(t, ssr.device)
	color, depth, normal, material := gbufferViews(t, ssr.device, 64, 64)

	attrs := &SSRExecuteAttribs{
		Encoder: encoder, Context: ctx,
		Color: color, Depth: depth, Normal: normal, Material: material,
	}
	if err := ssr.Execute(attrs); !errors.Is(err, ErrNotPrepared) {
		t.Errorf("Execute before prepare = %v, want %v", err, ErrNotPrepared)
	}

	if err := ssr.PrepareResources(FrameDesc{Width: 64, Height: 64}, 0); err != nil {
		t.Fatalf("PrepareResources: %v", err)
	}
	if err := ssr.Execute(nil); !errors.Is(err, ErrNilEncoder) {
		t.Errorf("Execute(nil) = %v, want %v", err, ErrNilEncoder)
	}
	missing := *attrs
	missing.Normal = nil
	if err := ssr.Execute(&missing); !errors.Is(err, ErrMissingInput) {
		t.Errorf("Execute without normals = %v, want %v", err, ErrMissingInput)
	}
}

// TestSSRPlaceholder verifies a frame with unbuildable pipelines clears
// the output instead of tracing.
func TestSSRPlaceholder(t *testing.T) {
	base, queue := newTestDevice(t)
	device := &failPipelineDevice{Device: base}

	ctx, err := NewContext(device, queue, WithAsyncPipelines(false))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer ctx.Destroy()
	ssr, err := NewSSR(device, queue, WithAsyncPipelines(false))
	if err != nil {
		t.Fatalf("NewSSR: %v", err)
	}
	defer ssr.Destroy()

	desc := FrameDesc{Width: 320, Height: 180}
	if err := ctx.PrepareResources(desc); err != nil {
		t.Fatalf("context PrepareResources: %v", err)
	}
	if err := ssr.PrepareResources(desc, 0); err != nil {
		t.Fatalf("PrepareResources: %v", err)
	}

	executeSSRFrame(t, ssr, ctx, nil)
	if ssr.Output() == nil {
		t.Error("placeholder frame produced a nil output")
	}
	if ssr.historyValid {
		t.Error("placeholder frame marked the history valid")
	}
}

// TestSSRSettingsClamp verifies out-of-range values are normalized.
func TestSSRSettingsClamp(t *testing.T) {
	s := SSRSettings{MaxDistance: -1, Thickness: 0, RoughnessCutoff: 2, Intensity: -1, StepCount: 500}
	s.clamp()
	if s.MaxDistance != 1 {
		t.Errorf("MaxDistance = %v, want 1", s.MaxDistance)
	}
	if s.Thickness != 0.0001 {
		t.Errorf("Thickness = %v, want 0.0001", s.Thickness)
	}
	if s.RoughnessCutoff != 1 {
		t.Errorf("RoughnessCutoff = %v, want 1", s.RoughnessCutoff)
	}
	if s.Intensity != 0 {
		t.Errorf("Intensity = %v, want 0", s.Intensity)
	}
	if s.StepCount != 64 {
		t.Errorf("StepCount = %d, want 64", s.StepCount)
	}

	var zero SSRSettings
	zero.clamp()
	if zero.StepCount != 32 {
		t.Errorf("zero StepCount = %d, want 32", zero.StepCount)
	}
}
