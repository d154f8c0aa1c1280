// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package chain

import (
	"errors"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/postfx"
)

// newTestDevice creates a noop HAL device and queue for tests.
func newTestDevice(t *testing.T) (hal.Device, hal.Queue) {
	t.Helper()

	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		t.Fatal("no adapters")
	}
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		t.Fatalf("open device: %v", err)
	}
	return openDev.Device, openDev.Queue
}

// newTestChain creates a chain with synchronous pipeline builds.
func newTestChain(t *testing.T) *Chain {
	t.Helper()
	device, queue := newTestDevice(t)
	c, err := New(device, queue, postfx.WithAsyncPipelines(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Destroy)
	return c
}

// testView allocates a sampled render target and returns its view.
func testView(t *testing.T, device hal.Device, label string, w, h uint32, format gputypes.TextureFormat) hal.TextureView {
	t.Helper()
	tex, err := device.CreateTexture(&hal.TextureDescriptor{
		Label: label,
		Size: hal.Extent3D{
			Width:              w,
			Height:             h,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding,
	})
	if err != nil {
		t.Fatalf("create %s: %v", label, err)
	}
	view, err := device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:           label,
		Format:          format,
		Dimension:       gputypes.TextureViewDimension2D,
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   1,
		ArrayLayerCount: 1,
	})
	if err != nil {
		t.Fatalf("create %s view: %v", label, err)
	}
	return view
}

// frameAttribs builds a full set of borrowed inputs for one frame.
func frameAttribs(t *testing.T, c *Chain, w, h uint32) *FrameAttribs {
	t.Helper()
	encoder, err := c.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "test"})
	if err != nil {
		t.Fatalf("create encoder: %v", err)
	}
	if err := encoder.BeginEncoding("test"); err != nil {
		t.Fatalf("begin encoding: %v", err)
	}
	return &FrameAttribs{
		Encoder:  encoder,
		Camera:   postfx.CameraAttribs{Near: 0.1, Far: 1000},
		Color:    testView(t, c.device, "test_color", w, h, gputypes.TextureFormatRGBA16Float),
		Depth:    testView(t, c.device, "test_depth", w, h, gputypes.TextureFormatR32Float),
		Motion:   testView(t, c.device, "test_motion", w, h, gputypes.TextureFormatRG16Float),
		Normal:   testView(t, c.device, "test_normal", w, h, gputypes.TextureFormatRGBA8Unorm),
		Material: testView(t, c.device, "test_material", w, h, gputypes.TextureFormatRGBA8Unorm),
	}
}

// TestChainFullFrame runs every stage and verifies the final output comes
// from the upscaler.
func TestChainFullFrame(t *testing.T) {
	c := newTestChain(t)
	desc := postfx.FrameDesc{Width: 320, Height: 180, OutputWidth: 640, OutputHeight: 360}
	all := Effects{SSR: true, SSAO: true, DoF: true, Bloom: true, TAA: true, Upscale: true}

	if err := c.PrepareResources(desc, all, Flags{}); err != nil {
		t.Fatalf("PrepareResources: %v", err)
	}
	if !c.PipelinesReady() {
		t.Fatal("pipelines not ready after synchronous prepare")
	}

	attrs := frameAttribs(t, c, 320, 180)
	if err := c.Execute(attrs); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if c.Output() == nil {
		t.Fatal("final output is nil")
	}
	if c.Output() != c.upscale.Output() {
		t.Error("final output is not the upscaler output")
	}
	if c.ReflectionLayer() == nil {
		t.Error("reflection layer is nil with reflections enabled")
	}
	if c.OcclusionLayer() == nil {
		t.Error("occlusion layer is nil with occlusion enabled")
	}
}

// TestChainDisabledStagesPassThrough verifies the color stream skips
// disabled stages.
func TestChainDisabledStagesPassThrough(t *testing.T) {
	c := newTestChain(t)
	desc := postfx.FrameDesc{Width: 320, Height: 180}

	if err := c.PrepareResources(desc, Effects{}, Flags{}); err != nil {
		t.Fatalf("PrepareResources: %v", err)
	}

	attrs := frameAttribs(t, c, 320, 180)
	if err := c.Execute(attrs); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if c.Output() != attrs.Color {
		t.Error("output with all stages disabled is not the input color")
	}
	if c.ReflectionLayer() != nil {
		t.Error("reflection layer present while disabled")
	}
}

// TestChainBloomOnly verifies a single enabled stage owns the output.
func TestChainBloomOnly(t *testing.T) {
	c := newTestChain(t)
	desc := postfx.FrameDesc{Width: 256, Height: 256}

	if err := c.PrepareResources(desc, Effects{Bloom: true}, Flags{}); err != nil {
		t.Fatalf("PrepareResources: %v", err)
	}
	attrs := frameAttribs(t, c, 256, 256)
	if err := c.Execute(attrs); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if c.Output() != c.bloom.Output() {
		t.Error("output is not the bloom composite")
	}
}

// TestChainExecuteValidation checks the error paths.
func TestChainExecuteValidation(t *testing.T) {
	c := newTestChain(t)
	attrs := frameAttribs(t, c, 64, 64)

	if err := c.Execute(attrs); !errors.Is(err, postfx.ErrNotPrepared) {
		t.Errorf("Execute before prepare = %v, want %v", err, postfx.ErrNotPrepared)
	}

	if err := c.PrepareResources(postfx.FrameDesc{Width: 64, Height: 64}, Effects{SSR: true}, Flags{}); err != nil {
		t.Fatalf("PrepareResources: %v", err)
	}
	if err := c.Execute(nil); !errors.Is(err, postfx.ErrNilEncoder) {
		t.Errorf("Execute(nil) = %v, want %v", err, postfx.ErrNilEncoder)
	}

	missing := *attrs
	missing.Normal = nil
	if err := c.Execute(&missing); !errors.Is(err, postfx.ErrMissingInput) {
		t.Errorf("Execute without normals = %v, want %v", err, postfx.ErrMissingInput)
	}
}

// chainHalDevice satisfies gpucontext.Device over a HAL device.
type chainHalDevice struct{ device hal.Device }

func (d *chainHalDevice) Poll(wait bool) {}
func (d *chainHalDevice) Destroy()       {}

// chainProvider implements gpucontext.DeviceProvider plus the HAL
// accessors the chain needs.
type chainProvider struct {
	device hal.Device
	queue  hal.Queue
}

func (p *chainProvider) Device() gpucontext.Device             { return &chainHalDevice{device: p.device} }
func (p *chainProvider) Queue() gpucontext.Queue               { return struct{}{} }
func (p *chainProvider) Adapter() gpucontext.Adapter           { return struct{}{} }
func (p *chainProvider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatBGRA8Unorm }
func (p *chainProvider) AdapterInfo() gpucontext.AdapterInfo   { return gpucontext.AdapterInfo{} }
func (p *chainProvider) HalDevice() any                        { return p.device }
func (p *chainProvider) HalQueue() any                         { return p.queue }

// bareProvider implements only gpucontext.DeviceProvider, without HAL
// access.
type bareProvider struct{ chainProvider }

func (p *bareProvider) HalDevice() {}
func (p *bareProvider) HalQueue()  {}

// TestChainNewFromProvider verifies construction through a shared device
// provider.
func TestChainNewFromProvider(t *testing.T) {
	device, queue := newTestDevice(t)
	c, err := NewFromProvider(&chainProvider{device: device, queue: queue}, postfx.WithAsyncPipelines(false))
	if err != nil {
		t.Fatalf("NewFromProvider: %v", err)
	}
	defer c.Destroy()

	if err := c.PrepareResources(postfx.FrameDesc{Width: 64, Height: 64}, Effects{}, Flags{}); err != nil {
		t.Fatalf("PrepareResources: %v", err)
	}
}

// TestChainNewFromProviderRejectsBare verifies providers without HAL
// accessors are rejected.
func TestChainNewFromProviderRejectsBare(t *testing.T) {
	device, queue := newTestDevice(t)
	if _, err := NewFromProvider(&bareProvider{chainProvider{device: device, queue: queue}}); err == nil {
		t.Fatal("NewFromProvider accepted a provider without HAL access")
	}
	if _, err := NewFromProvider(nil); !errors.Is(err, postfx.ErrNilDevice) {
		t.Errorf("NewFromProvider(nil) = %v, want %v", err, postfx.ErrNilDevice)
	}
}
