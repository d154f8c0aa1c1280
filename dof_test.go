// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package postfx

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

// newTestDoF creates a depth-of-field effect plus a context on one device.
func newTestDoF(t *testing.T, opts ...Option) (*DoF, *Context) {
	t.Helper()
	device, queue := newTestDevice(t)
	all := append([]Option{WithAsyncPipelines(false)}, opts...)

	ctx, err := NewContext(device, queue, all...)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	t.Cleanup(ctx.Destroy)

	dof, err := NewDoF(device, queue, all...)
	if err != nil {
		t.Fatalf("NewDoF: %v", err)
	}
	t.Cleanup(dof.Destroy)
	return dof, ctx
}

// executeDoFFrame records one full depth-of-field frame.
func executeDoFFrame(t *testing.T, dof *DoF, ctx *Context, settings *DoFSettings) {
	t.Helper()
	encoder := newTestEncoder(t, dof.device)
	depth, _ := borrowedViews(t, dof.device, dof.frame.Width, dof.frame.Height)
	color := sceneColor(t, dof.device, dof.frame.Width, dof.frame.Height)
	err := dof.Execute(&DoFExecuteAttribs{
		Encoder:  encoder,
		Context:  ctx,
		Color:    color,
		Depth:    depth,
		Settings: settings,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

// TestDoFLayerResolution verifies the near/far layers run at half
// resolution while CoC and output stay full size.
func TestDoFLayerResolution(t *testing.T) {
	dof, _ := newTestDoF(t)
	if err := dof.PrepareResources(FrameDesc{Width: 1280, Height: 720}, 0); err != nil {
		t.Fatalf("PrepareResources: %v", err)
	}

	if dof.coc.width != 1280 || dof.coc.height != 720 {
		t.Errorf("CoC target = %dx%d", dof.coc.width, dof.coc.height)
	}
	if dof.layerA.near.width != 640 || dof.layerA.near.height != 360 {
		t.Errorf("near layer = %dx%d", dof.layerA.near.width, dof.layerA.near.height)
	}
	if dof.output.width != 1280 || dof.output.height != 720 {
		t.Errorf("output = %dx%d", dof.output.width, dof.output.height)
	}
}

// TestDoFTemporalCoCFlag verifies the stabilization flag allocates the
// history pair and that toggling it reallocates.
func TestDoFTemporalCoCFlag(t *testing.T) {
	base, queue := newTestDevice(t)
	device := &countingDevice{Device: base}
	dof, err := NewDoF(device, queue, WithAsyncPipelines(false))
	if err != nil {
		t.Fatalf("NewDoF: %v", err)
	}
	defer dof.Destroy()

	desc := FrameDesc{Width: 640, Height: 360}
	if err := dof.PrepareResources(desc, 0); err != nil {
		t.Fatalf("PrepareResources: %v", err)
	}
	if dof.cocHistory[0] != nil {
		t.Error("plain variant allocated a CoC history")
	}
	first := device.allocations()

	if err := dof.PrepareResources(desc, 0); err != nil {
		t.Fatalf("repeat PrepareResources: %v", err)
	}
	if got := device.allocations(); got != first {
		t.Errorf("repeat prepare allocated %d resources", got-first)
	}

	if err := dof.PrepareResources(desc, DoFTemporalCoC); err != nil {
		t.Fatalf("PrepareResources(temporal): %v", err)
	}
	if device.allocations() == first {
		t.Error("flag change did not reallocate")
	}
	if dof.cocHistory[0] == nil || dof.cocHistory[1] == nil {
		t.Fatal("temporal variant missing the CoC history pair")
	}
}

// TestDoFCoCHistoryParity verifies the stabilized CoC alternates targets
// with the frame index.
func TestDoFCoCHistoryParity(t *testing.T) {
	dof, ctx := newTestDoF(t)
	desc := FrameDesc{Width: 640, Height: 360}
	if err := ctx.PrepareResources(desc); err != nil {
		t.Fatalf("context PrepareResources: %v", err)
	}
	if err := dof.PrepareResources(desc, DoFTemporalCoC); err != nil {
		t.Fatalf("PrepareResources: %v", err)
	}
	if !dof.PipelinesReady() {
		t.Fatal("pipelines not ready after synchronous prepare")
	}

	for frame := uint64(0); frame < 4; frame++ {
		desc.Index = frame
		if err := dof.PrepareResources(desc, DoFTemporalCoC); err != nil {
			t.Fatalf("frame %d PrepareResources: %v", frame, err)
		}
		executeDoFFrame(t, dof, ctx, nil)
	}
	if !dof.historyValid {
		t.Error("history still invalid after four frames")
	}
}

// dofHistoryBlend reads the stabilization weight out of the CoC temporal
// constant block, the second packed per frame.
func dofHistoryBlend(dof *DoF) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(dof.blocks[1].data[20:24]))
}

// TestDoFSkippedFrameDropsCoCHistory verifies a gap or repeat in the
// frame index zeroes the CoC stabilization weight even when the size is
// unchanged.
func TestDoFSkippedFrameDropsCoCHistory(t *testing.T) {
	dof, ctx := newTestDoF(t, WithFadeDuration(0))
	desc := FrameDesc{Width: 640, Height: 360}
	prep := func(index uint64) {
		t.Helper()
		desc.Index = index
		if err := ctx.PrepareResources(desc); err != nil {
			t.Fatalf("context PrepareResources: %v", err)
		}
		if err := dof.PrepareResources(desc, DoFTemporalCoC); err != nil {
			t.Fatalf("PrepareResources: %v", err)
		}
	}

	prep(0)
	executeDoFFrame(t, dof, ctx, nil)
	if got := dofHistoryBlend(dof); got != 0 {
		t.Errorf("first frame blend = %v, want 0", got)
	}

	prep(1)
	executeDoFFrame(t, dof, ctx, nil)
	if got := dofHistoryBlend(dof); got != 1 {
		t.Errorf("steady frame blend = %v, want 1", got)
	}

	// The size matches, so the prepares take the cheap path; the index
	// jumps from 1 to 3 and the previous-parity CoC history is stale.
	prep(3)
	executeDoFFrame(t, dof, ctx, nil)
	if got := dofHistoryBlend(dof); got != 0 {
		t.Errorf("skipped frame blend = %v, want 0", got)
	}

	executeDoFFrame(t, dof, ctx, nil)
	if got := dofHistoryBlend(dof); got != 0 {
		t.Errorf("repeated frame blend = %v, want 0", got)
	}

	prep(4)
	executeDoFFrame(t, dof, ctx, nil)
	if got := dofHistoryBlend(dof); got != 1 {
		t.Errorf("recovered frame blend = %v, want 1", got)
	}
}

// TestDoFExecuteValidation checks the error paths.
func TestDoFExecuteValidation(t *testing.T) {
	dof, ctx := newTestDoF(t)
	encoder := newTestEncoder(t, dof.device)
	depth, _ := borrowedViews(t, dof.device, 64, 64)
	color := sceneColor(t, dof.device, 64, 64)

	err := dof.Execute(&DoFExecuteAttribs{Encoder: encoder, Context: ctx, Color: color, Depth: depth})
	if !errors.Is(err, ErrNotPrepared) {
		t.Errorf("Execute before prepare = %v, want %v", err, ErrNotPrepared)
	}

	if err := dof.PrepareResources(FrameDesc{Width: 64, Height: 64}, 0); err != nil {
		t.Fatalf("PrepareResources: %v", err)
	}
	if err := dof.Execute(nil); !errors.Is(err, ErrNilEncoder) {
		t.Errorf("Execute(nil) = %v, want %v", err, ErrNilEncoder)
	}
	err = dof.Execute(&DoFExecuteAttribs{Encoder: encoder, Context: ctx, Color: color})
	if !errors.Is(err, ErrMissingInput) {
		t.Errorf("Execute without depth = %v, want %v", err, ErrMissingInput)
	}
}

// TestDoFPlaceholderPassthrough verifies a frame with unbuildable
// pipelines forwards the scene untouched.
func TestDoFPlaceholderPassthrough(t *testing.T) {
	base, queue := newTestDevice(t)
	device := &failPipelineDevice{Device: base}

	ctx, err := NewContext(device, queue, WithAsyncPipelines(false))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer ctx.Destroy()
	dof, err := NewDoF(device, queue, WithAsyncPipelines(false))
	if err != nil {
		t.Fatalf("NewDoF: %v", err)
	}
	defer dof.Destroy()

	desc := FrameDesc{Width: 320, Height: 180}
	if err := ctx.PrepareResources(desc); err != nil {
		t.Fatalf("context PrepareResources: %v", err)
	}
	if err := dof.PrepareResources(desc, 0); err != nil {
		t.Fatalf("PrepareResources: %v", err)
	}
	if dof.PipelinesReady() {
		t.Fatal("pipelines reported ready on a failing device")
	}

	executeDoFFrame(t, dof, ctx, nil)
	if dof.Output() == nil {
		t.Error("placeholder frame produced a nil output")
	}
}

// TestDoFSettingsClamp verifies out-of-range values are normalized.
func TestDoFSettingsClamp(t *testing.T) {
	s := DoFSettings{FocusDistance: -5, FocusRange: 0, BokehRadius: 100}
	s.clamp()
	if s.FocusDistance != 0.01 {
		t.Errorf("FocusDistance = %v, want 0.01", s.FocusDistance)
	}
	if s.FocusRange != 0.01 {
		t.Errorf("FocusRange = %v, want 0.01", s.FocusRange)
	}
	if s.BokehRadius != 32 {
		t.Errorf("BokehRadius = %v, want 32", s.BokehRadius)
	}
}
