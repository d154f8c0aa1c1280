// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package postfx

import (
	"encoding/binary"
	"errors"
	"testing"
)

// newTestTAA creates the anti-aliasing effect plus a context on one device.
func newTestTAA(t *testing.T, opts ...Option) (*TAA, *Context) {
	t.Helper()
	device, queue := newTestDevice(t)
	all := append([]Option{WithAsyncPipelines(false)}, opts...)

	ctx, err := NewContext(device, queue, all...)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	t.Cleanup(ctx.Destroy)

	taa, err := NewTAA(device, queue, all...)
	if err != nil {
		t.Fatalf("NewTAA: %v", err)
	}
	t.Cleanup(taa.Destroy)
	return taa, ctx
}

// executeTAAFrame records one accumulation frame at the prepared size.
func executeTAAFrame(t *testing.T, taa *TAA, ctx *Context, settings *TAASettings) {
	t.Helper()
	encoder := newTestEncoder(t, taa.device)
	color := sceneColor(t, taa.device, taa.frame.Width, taa.frame.Height)
	err := taa.Execute(&TAAExecuteAttribs{
		Encoder:  encoder,
		Context:  ctx,
		Color:    color,
		Settings: settings,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

// resetWord reads the reset flag out of the packed accumulation constants.
func resetWord(taa *TAA) uint32 {
	return binary.LittleEndian.Uint32(taa.params.data[28:32])
}

// prepareTAAFrame readies both the context and the effect for one frame.
func prepareTAAFrame(t *testing.T, taa *TAA, ctx *Context, desc FrameDesc) {
	t.Helper()
	if err := ctx.PrepareResources(desc); err != nil {
		t.Fatalf("context PrepareResources: %v", err)
	}
	if err := taa.PrepareResources(desc); err != nil {
		t.Fatalf("PrepareResources: %v", err)
	}
}

// TestTAAHistoryParity verifies the accumulation targets alternate with
// the frame index and Output tracks the current one.
func TestTAAHistoryParity(t *testing.T) {
	taa, ctx := newTestTAA(t)
	desc := FrameDesc{Width: 640, Height: 360}
	prepareTAAFrame(t, taa, ctx, desc)
	if !taa.PipelinesReady() {
		t.Fatal("pipeline not ready after synchronous prepare")
	}

	seen := map[int]bool{}
	for frame := uint64(0); frame < 4; frame++ {
		desc.Index = frame
		if err := taa.PrepareResources(desc); err != nil {
			t.Fatalf("frame %d PrepareResources: %v", frame, err)
		}
		executeTAAFrame(t, taa, ctx, nil)

		cur, prev := HistoryIndex(frame)
		if cur == prev {
			t.Fatalf("frame %d: parity indices collide", frame)
		}
		if got := taa.Output(); got != taa.accumulation[cur].view {
			t.Errorf("frame %d: Output() is not the current accumulation target", frame)
		}
		seen[cur] = true
	}
	if !seen[0] || !seen[1] {
		t.Error("four frames did not touch both accumulation targets")
	}
}

// TestTAAResetOnDiscontinuity verifies the accumulation restarts on the
// first frame, after an explicit reset, after a camera cut, after a
// resize, and after a skipped or repeated frame index, and accumulates
// otherwise.
func TestTAAResetOnDiscontinuity(t *testing.T) {
	taa, ctx := newTestTAA(t)
	desc := FrameDesc{Width: 640, Height: 360}
	prepareTAAFrame(t, taa, ctx, desc)

	// First frame has no history.
	executeTAAFrame(t, taa, ctx, nil)
	if resetWord(taa) != 1 {
		t.Error("first frame did not reset")
	}

	// Steady state accumulates.
	desc.Index = 1
	if err := taa.PrepareResources(desc); err != nil {
		t.Fatalf("PrepareResources: %v", err)
	}
	executeTAAFrame(t, taa, ctx, nil)
	if resetWord(taa) != 0 {
		t.Error("steady frame reset the history")
	}

	// Explicit reset request.
	desc.Index = 2
	if err := taa.PrepareResources(desc); err != nil {
		t.Fatalf("PrepareResources: %v", err)
	}
	executeTAAFrame(t, taa, ctx, &TAASettings{BlendFactor: 0.1, ResetAccumulation: true})
	if resetWord(taa) != 1 {
		t.Error("explicit reset request was ignored")
	}

	// Camera cut detected through the context.
	desc.Index = 3
	if err := taa.PrepareResources(desc); err != nil {
		t.Fatalf("PrepareResources: %v", err)
	}
	cut := testCamera()
	cut.PrevViewProj[12] = 5
	encoder := newTestEncoder(t, ctx.device)
	depth, motion := borrowedViews(t, ctx.device, desc.Width, desc.Height)
	if err := ctx.Execute(&ContextExecuteAttribs{Encoder: encoder, Camera: cut, Depth: depth, Motion: motion}); err != nil {
		t.Fatalf("context Execute: %v", err)
	}
	executeTAAFrame(t, taa, ctx, nil)
	if resetWord(taa) != 1 {
		t.Error("camera cut did not reset")
	}

	// Resize drops the history.
	desc = FrameDesc{Index: 4, Width: 320, Height: 180}
	prepareTAAFrame(t, taa, ctx, desc)
	executeTAAFrame(t, taa, ctx, nil)
	if resetWord(taa) != 1 {
		t.Error("resize did not reset")
	}

	// Settle the camera; the next consecutive frame accumulates again.
	desc.Index = 5
	prepareTAAFrame(t, taa, ctx, desc)
	encoder = newTestEncoder(t, ctx.device)
	depth, motion = borrowedViews(t, ctx.device, desc.Width, desc.Height)
	if err := ctx.Execute(&ContextExecuteAttribs{Encoder: encoder, Camera: testCamera(), Depth: depth, Motion: motion}); err != nil {
		t.Fatalf("context Execute: %v", err)
	}
	executeTAAFrame(t, taa, ctx, nil)
	if resetWord(taa) != 0 {
		t.Error("steady frame after the cut reset the history")
	}

	// A skipped frame index leaves the previous-parity accumulation two
	// frames stale, so the blend restarts even though the size matched
	// and no explicit reset was requested.
	desc.Index = 7
	prepareTAAFrame(t, taa, ctx, desc)
	executeTAAFrame(t, taa, ctx, nil)
	if resetWord(taa) != 1 {
		t.Error("skipped frame index did not reset")
	}

	// A repeated frame index likewise restarts.
	executeTAAFrame(t, taa, ctx, nil)
	if resetWord(taa) != 1 {
		t.Error("repeated frame index did not reset")
	}
}

// TestTAAExecuteValidation checks the error paths.
func TestTAAExecuteValidation(t *testing.T) {
	taa, ctx := newTestTAA(t)
	encoder := newTestEncoder(t, taa.device)
	color := sceneColor(t, taa.device, 64, 64)

	err := taa.Execute(&TAAExecuteAttribs{Encoder: encoder, Context: ctx, Color: color})
	if !errors.Is(err, ErrNotPrepared) {
		t.Errorf("Execute before prepare = %v, want %v", err, ErrNotPrepared)
	}

	if err := taa.PrepareResources(FrameDesc{Width: 64, Height: 64}); err != nil {
		t.Fatalf("PrepareResources: %v", err)
	}
	if err := taa.Execute(nil); !errors.Is(err, ErrNilEncoder) {
		t.Errorf("Execute(nil) = %v, want %v", err, ErrNilEncoder)
	}
	err = taa.Execute(&TAAExecuteAttribs{Encoder: encoder, Context: ctx})
	if !errors.Is(err, ErrMissingInput) {
		t.Errorf("Execute without color = %v, want %v", err, ErrMissingInput)
	}
}

// TestTAAPlaceholderPassthrough verifies a frame with an unbuildable
// pipeline forwards the scene untouched.
func TestTAAPlaceholderPassthrough(t *testing.T) {
	base, queue := newTestDevice(t)
	device := &failPipelineDevice{Device: base}

	ctx, err := NewContext(device, queue, WithAsyncPipelines(false))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	defer ctx.Destroy()
	taa, err := NewTAA(device, queue, WithAsyncPipelines(false))
	if err != nil {
		t.Fatalf("NewTAA: %v", err)
	}
	defer taa.Destroy()

	desc := FrameDesc{Width: 320, Height: 180}
	if err := ctx.PrepareResources(desc); err != nil {
		t.Fatalf("context PrepareResources: %v", err)
	}
	if err := taa.PrepareResources(desc); err != nil {
		t.Fatalf("PrepareResources: %v", err)
	}

	executeTAAFrame(t, taa, ctx, nil)
	if taa.Output() == nil {
		t.Error("placeholder frame produced a nil output")
	}
	if taa.historyValid {
		t.Error("placeholder frame marked the history valid")
	}
}

// TestTAASettingsClamp verifies out-of-range values are normalized.
func TestTAASettingsClamp(t *testing.T) {
	s := TAASettings{BlendFactor: 0}
	s.clamp()
	if s.BlendFactor != 0.01 {
		t.Errorf("BlendFactor = %v, want 0.01", s.BlendFactor)
	}
	s.BlendFactor = 3
	s.clamp()
	if s.BlendFactor != 0.5 {
		t.Errorf("BlendFactor = %v, want 0.5", s.BlendFactor)
	}
}
