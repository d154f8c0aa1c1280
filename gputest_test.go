// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package postfx

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
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

// newTestEncoder creates an open command encoder.
func newTestEncoder(t *testing.T, device hal.Device) hal.CommandEncoder {
	t.Helper()
	encoder, err := device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "test"})
	if err != nil {
		t.Fatalf("create encoder: %v", err)
	}
	if err := encoder.BeginEncoding("test"); err != nil {
		t.Fatalf("begin encoding: %v", err)
	}
	return encoder
}

// countingDevice wraps a device and counts texture and buffer allocations.
type countingDevice struct {
	hal.Device
	textures int
	buffers  int
}

func (d *countingDevice) CreateTexture(desc *hal.TextureDescriptor) (hal.Texture, error) {
	d.textures++
	return d.Device.CreateTexture(desc)
}

func (d *countingDevice) CreateBuffer(desc *hal.BufferDescriptor) (hal.Buffer, error) {
	d.buffers++
	return d.Device.CreateBuffer(desc)
}

// allocations returns the combined allocation count.
func (d *countingDevice) allocations() int {
	return d.textures + d.buffers
}

// errPipelineRefused marks pipelines that are never allowed to build.
var errPipelineRefused = errors.New("pipeline creation refused")

// failPipelineDevice refuses every render pipeline, pinning all
// techniques in the failed state so placeholder paths stay active.
type failPipelineDevice struct {
	hal.Device
}

func (d *failPipelineDevice) CreateRenderPipeline(*hal.RenderPipelineDescriptor) (hal.RenderPipeline, error) {
	return nil, errPipelineRefused
}

// borrowedViews creates a depth-like and motion-like render target pair
// standing in for the caller's G-buffer views.
func borrowedViews(t *testing.T, device hal.Device, width, height uint32) (depth, motion hal.TextureView) {
	t.Helper()
	d, err := newRenderTarget(device, "test_depth", width, height, gputypes.TextureFormatR32Float)
	if err != nil {
		t.Fatalf("create depth: %v", err)
	}
	m, err := newRenderTarget(device, "test_motion", width, height, gputypes.TextureFormatRG16Float)
	if err != nil {
		t.Fatalf("create motion: %v", err)
	}
	return d.view, m.view
}
