// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package postfx

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// newTestBloom creates a bloom effect plus a context on one device.
func newTestBloom(t *testing.T, opts ...Option) (*Bloom, *Context) {
	t.Helper()
	device, queue := newTestDevice(t)
	all := append([]Option{WithAsyncPipelines(false)}, opts...)

	ctx, err := NewContext(device, queue, all...)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	t.Cleanup(ctx.Destroy)

	bloom, err := NewBloom(device, queue, all...)
	if err != nil {
		t.Fatalf("NewBloom: %v", err)
	}
	t.Cleanup(bloom.Destroy)
	return bloom, ctx
}

// sceneColor creates a borrowed full-resolution color view.
func sceneColor(t *testing.T, device hal.Device, w, h uint32) hal.TextureView {
	t.Helper()
	rt, err := newRenderTarget(device, "test_scene", w, h, gputypes.TextureFormatRGBA16Float)
	if err != nil {
		t.Fatalf("create scene color: %v", err)
	}
	return rt.view
}

// TestBloomActiveMipCount verifies the chain depth arithmetic: at 256x256
// the chain top is 128x128 with a full depth of 8 levels, so the default
// half-radius uses 4.
func TestBloomActiveMipCount(t *testing.T) {
	bloom, ctx := newTestBloom(t)
	if err := bloom.PrepareResources(FrameDesc{Width: 256, Height: 256}); err != nil {
		t.Fatalf("PrepareResources: %v", err)
	}

	if got := bloom.downChain.levelCount(); got != 8 {
		t.Fatalf("chain depth = %d, want 8", got)
	}

	encoder := newTestEncoder(t, bloom.device)
	color := sceneColor(t, bloom.device, 256, 256)
	err := bloom.Execute(&BloomExecuteAttribs{
		Encoder: encoder,
		Context: ctx,
		Color:   color,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := bloom.ActiveMipCount(); got != 4 {
		t.Errorf("ActiveMipCount() = %d, want 4", got)
	}
}

// TestBloomRadiusClamped verifies the active count never exceeds the
// allocated chain and never drops to zero.
func TestBloomRadiusClamped(t *testing.T) {
	bloom, ctx := newTestBloom(t)
	if err := bloom.PrepareResources(FrameDesc{Width: 256, Height: 256}); err != nil {
		t.Fatalf("PrepareResources: %v", err)
	}
	encoder := newTestEncoder(t, bloom.device)
	color := sceneColor(t, bloom.device, 256, 256)

	settings := BloomSettings{Intensity: 1, Threshold: 1, SoftKnee: 0.5, Radius: 1}
	if err := bloom.Execute(&BloomExecuteAttribs{Encoder: encoder, Context: ctx, Color: color, Settings: &settings}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := bloom.ActiveMipCount(); got != 8 {
		t.Errorf("ActiveMipCount() at radius 1 = %d, want 8", got)
	}

	settings.Radius = 0.01
	if err := bloom.Execute(&BloomExecuteAttribs{Encoder: encoder, Context: ctx, Color: color, Settings: &settings}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := bloom.ActiveMipCount(); got != 1 {
		t.Errorf("ActiveMipCount() at tiny radius = %d, want 1", got)
	}
}

// TestBloomPrepareIdempotent verifies repeat prepares with an unchanged
// size allocate nothing.
func TestBloomPrepareIdempotent(t *testing.T) {
	base, queue := newTestDevice(t)
	device := &countingDevice{Device: base}
	bloom, err := NewBloom(device, queue, WithAsyncPipelines(false))
	if err != nil {
		t.Fatalf("NewBloom: %v", err)
	}
	defer bloom.Destroy()

	if err := bloom.PrepareResources(FrameDesc{Width: 512, Height: 512}); err != nil {
		t.Fatalf("PrepareResources: %v", err)
	}
	allocated := device.allocations()

	for i := uint64(1); i < 4; i++ {
		if err := bloom.PrepareResources(FrameDesc{Index: i, Width: 512, Height: 512}); err != nil {
			t.Fatalf("PrepareResources: %v", err)
		}
	}
	if device.allocations() != allocated {
		t.Errorf("repeat PrepareResources allocated %d new resources",
			device.allocations()-allocated)
	}
}

// TestBloomPlaceholderPassthrough verifies a never-ready device still
// yields a full-resolution output.
func TestBloomPlaceholderPassthrough(t *testing.T) {
	base, queue := newTestDevice(t)
	device := &failPipelineDevice{Device: base}

	ctx, err := NewContext(device, queue, WithAsyncPipelines(false))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer ctx.Destroy()

	bloom, err := NewBloom(device, queue, WithAsyncPipelines(false))
	if err != nil {
		t.Fatalf("NewBloom: %v", err)
	}
	defer bloom.Destroy()

	if err := bloom.PrepareResources(FrameDesc{Width: 256, Height: 256}); err != nil {
		t.Fatalf("PrepareResources: %v", err)
	}
	if bloom.PipelinesReady() {
		t.Fatal("pipelines report ready on a refusing device")
	}

	encoder := newTestEncoder(t, base)
	color := sceneColor(t, base, 256, 256)
	err = bloom.Execute(&BloomExecuteAttribs{Encoder: encoder, Context: ctx, Color: color})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if bloom.Output() == nil {
		t.Error("placeholder frame left Output nil")
	}
}

// TestBloomExecuteValidation verifies argument checks.
func TestBloomExecuteValidation(t *testing.T) {
	bloom, ctx := newTestBloom(t)
	encoder := newTestEncoder(t, bloom.device)
	color := sceneColor(t, bloom.device, 64, 64)

	err := bloom.Execute(&BloomExecuteAttribs{Encoder: encoder, Context: ctx, Color: color})
	if !errors.Is(err, ErrNotPrepared) {
		t.Errorf("Execute before prepare = %v, want %v", err, ErrNotPrepared)
	}

	if err := bloom.PrepareResources(FrameDesc{Width: 64, Height: 64}); err != nil {
		t.Fatalf("PrepareResources: %v", err)
	}
	err = bloom.Execute(&BloomExecuteAttribs{Encoder: encoder, Context: ctx})
	if !errors.Is(err, ErrMissingInput) {
		t.Errorf("Execute without color = %v, want %v", err, ErrMissingInput)
	}
	err = bloom.Execute(&BloomExecuteAttribs{Encoder: encoder, Color: color})
	if !errors.Is(err, ErrNilContext) {
		t.Errorf("Execute without context = %v, want %v", err, ErrNilContext)
	}
}

// TestBloomSettingsClamp verifies normalization of out-of-range settings.
func TestBloomSettingsClamp(t *testing.T) {
	s := BloomSettings{Intensity: -1, Threshold: -2, SoftKnee: 7, Radius: 3}
	s.clamp()
	if s.Intensity != 0 {
		t.Errorf("Intensity = %v, want 0", s.Intensity)
	}
	if s.Threshold != 0 {
		t.Errorf("Threshold = %v, want 0", s.Threshold)
	}
	if s.SoftKnee != 1 {
		t.Errorf("SoftKnee = %v, want 1", s.SoftKnee)
	}
	if s.Radius != 0.5 {
		t.Errorf("Radius = %v, want default 0.5", s.Radius)
	}
}
