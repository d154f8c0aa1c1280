// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package postfx

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"golang.org/x/image/math/f32"

	"github.com/gogpu/postfx/resset"
	"github.com/gogpu/postfx/technique"
)

// TAASettings tunes temporal anti-aliasing.
type TAASettings struct {
	// BlendFactor is the minimum per-frame contribution of the current
	// frame. Default 0.1.
	BlendFactor float32

	// ResetAccumulation drops the history this frame.
	ResetAccumulation bool
}

// DefaultTAASettings returns the default configuration.
func DefaultTAASettings() TAASettings {
	return TAASettings{BlendFactor: 0.1}
}

// clamp normalizes the settings in place.
func (s *TAASettings) clamp() {
	s.BlendFactor = math32.Min(math32.Max(s.BlendFactor, 0.01), 0.5)
}

// TAAExecuteAttribs are the per-frame inputs to TAA.Execute.
type TAAExecuteAttribs struct {
	// Encoder receives the accumulation pass.
	Encoder hal.CommandEncoder

	// Context supplies dilated motion, the camera, and shared samplers.
	Context *Context

	// Color is the jittered scene radiance view, borrowed for this frame.
	Color hal.TextureView

	// Settings tunes the blend. Nil selects defaults.
	Settings *TAASettings
}

// Borrowed input slot, released at the end of every Execute.
const taaSlotColor resset.Slot = 0

// TAA accumulates jittered frames into an anti-aliased image. The history
// resets on explicit request, on camera cuts, on a skipped or repeated
// frame index, and after reallocation.
type TAA struct {
	device hal.Device
	queue  hal.Queue
	opts   options

	frame     FrameDesc
	prepared  bool
	destroyed bool

	accumulation [2]*renderTarget

	techAccumulate *technique.Technique
	params         *uniformBlock

	set resset.Set

	fade         fadeTimer
	historyValid bool
	lastReset    bool
	lastIndex    uint64
}

// NewTAA creates the temporal anti-aliasing effect.
func NewTAA(device hal.Device, queue hal.Queue, opts ...Option) (*TAA, error) {
	if device == nil {
		return nil, ErrNilDevice
	}
	if queue == nil {
		return nil, ErrNilQueue
	}
	t := &TAA{
		device: device,
		queue:  queue,
		opts:   applyOptions(opts),
	}
	t.fade = newFadeTimer(t.opts.now, t.opts.fadeDuration)
	return t, nil
}

// taaBindLayout is group(0) of the accumulation pass.
func taaBindLayout() []gputypes.BindGroupLayoutEntry {
	entries := []gputypes.BindGroupLayoutEntry{
		{
			Binding:    0,
			Visibility: gputypes.ShaderStageFragment,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
		},
	}
	for binding := uint32(1); binding <= 4; binding++ {
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageFragment,
			Texture: &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: gputypes.TextureViewDimension2D,
			},
		})
	}
	entries = append(entries,
		gputypes.BindGroupLayoutEntry{
			Binding:    5,
			Visibility: gputypes.ShaderStageFragment,
			Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
		},
		gputypes.BindGroupLayoutEntry{
			Binding:    6,
			Visibility: gputypes.ShaderStageFragment,
			Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
		},
	)
	return entries
}

// PrepareResources sizes the effect to the frame.
func (t *TAA) PrepareResources(desc FrameDesc) error {
	if t.destroyed {
		return ErrDestroyed
	}
	d := desc.resolve()
	if d.Width == 0 || d.Height == 0 {
		return ErrInvalidSize
	}
	if t.prepared && t.frame.sameSize(d) {
		t.frame = d
		return nil
	}

	t.releaseTargets()
	t.historyValid = false

	var err error
	for i := range t.accumulation {
		if t.accumulation[i], err = newRenderTarget(t.device, fmt.Sprintf("taa_accumulation%d", i), d.Width, d.Height, gputypes.TextureFormatRGBA16Float); err != nil {
			return err
		}
	}
	if t.params, err = newUniformBlock(t.device, "taa_params", 32); err != nil {
		return err
	}

	tech := t.opts.cache.Get(technique.Key{
		Pass:   "taa_accumulate",
		Format: gputypes.TextureFormatRGBA16Float,
	})
	tech.EnsureProgram(t.device, &technique.ProgramDesc{
		Label:         "taa_accumulate",
		Source:        shaderSource(taaShaderSource),
		FragmentEntry: "fs_accumulate",
		Layout:        taaBindLayout(),
		ColorTargets: []gputypes.ColorTargetState{
			{Format: gputypes.TextureFormatRGBA16Float, WriteMask: gputypes.ColorWriteMaskAll},
		},
		Async: t.opts.async,
	})
	tech.InvalidateBindings(t.device)
	t.techAccumulate = tech

	t.frame = d
	t.prepared = true
	return nil
}

// releaseTargets frees the frame-sized resources.
func (t *TAA) releaseTargets() {
	for i := range t.accumulation {
		t.accumulation[i].destroy(t.device)
		t.accumulation[i] = nil
	}
	t.params.destroy(t.device)
	t.params = nil
}

// PipelinesReady reports whether the accumulation program is built.
func (t *TAA) PipelinesReady() bool {
	if !t.prepared {
		return false
	}
	return technique.AllReady(t.techAccumulate)
}

// Output returns this frame's accumulated view.
func (t *TAA) Output() hal.TextureView {
	cur, _ := HistoryIndex(t.frame.Index)
	if t.accumulation[cur] == nil {
		return nil
	}
	return t.accumulation[cur].view
}

// Execute records the accumulation pass for one frame.
func (t *TAA) Execute(attrs *TAAExecuteAttribs) error {
	if t.destroyed {
		return ErrDestroyed
	}
	if attrs == nil || attrs.Encoder == nil {
		return ErrNilEncoder
	}
	if attrs.Context == nil {
		return ErrNilContext
	}
	if !t.prepared {
		return ErrNotPrepared
	}
	if attrs.Color == nil {
		return ErrMissingInput
	}

	settings := DefaultTAASettings()
	if attrs.Settings != nil {
		settings = *attrs.Settings
	}
	settings.clamp()

	ctx := attrs.Context
	caps := t.opts.capabilities
	cur, prev := HistoryIndex(t.frame.Index)

	t.set.Insert(taaSlotColor, resset.Resource{View: attrs.Color})
	defer t.set.ReleaseRange(taaSlotColor, taaSlotColor)

	if !t.PipelinesReady() {
		t.fade.Reset()
		t.historyValid = false
		t.lastIndex = t.frame.Index
		t.recordPassthrough(attrs.Encoder, ctx, attrs.Color, cur)
		return nil
	}

	t.fade.Begin()
	alpha := t.fade.Alpha()

	// A skipped or repeated frame index means the previous-parity buffer
	// does not hold last frame's image.
	reset := settings.ResetAccumulation || !t.historyValid ||
		t.frame.Index != t.lastIndex+1 || ctx.Camera().IsCut()
	t.lastReset = reset

	jitter := JitterOffset(t.frame.Index)
	t.packParams(settings, jitter, alpha, reset)

	motion := ctx.ClosestMotion()
	depth := ctx.ReprojectedDepth()
	entries := []gputypes.BindGroupEntry{
		{Binding: 0, Resource: gputypes.BufferBinding{Buffer: t.params.buffer.NativeHandle(), Offset: 0, Size: t.params.size}},
		{Binding: 1, Resource: gputypes.TextureViewBinding{TextureView: t.set.Get(taaSlotColor).View.NativeHandle()}},
		{Binding: 2, Resource: gputypes.TextureViewBinding{TextureView: t.accumulation[prev].view.NativeHandle()}},
		{Binding: 3, Resource: gputypes.TextureViewBinding{TextureView: motion.NativeHandle()}},
		{Binding: 4, Resource: gputypes.TextureViewBinding{TextureView: depth.NativeHandle()}},
		{Binding: 5, Resource: gputypes.SamplerBinding{Sampler: ctx.PointSampler().NativeHandle()}},
		{Binding: 6, Resource: gputypes.SamplerBinding{Sampler: ctx.LinearSampler().NativeHandle()}},
	}
	// Borrowed views may be recreated by the caller between frames, so the
	// binding identity is the frame itself.
	key := t.frame.Index + 1
	if err := t.techAccumulate.EnsureBindings(t.device, key, entries); err != nil {
		return err
	}
	recordFullscreen(attrs.Encoder, "taa_accumulate", t.techAccumulate, t.accumulation[cur].view)
	barrierToSampled(attrs.Encoder, caps, t.accumulation[cur].texture)

	t.historyValid = true
	t.lastIndex = t.frame.Index
	return nil
}

// packParams writes TAAParams and uploads on change.
func (t *TAA) packParams(st TAASettings, jitter f32.Vec2, alpha float32, reset bool) {
	u := t.params
	u.reset()
	u.putF32(1 / float32(t.frame.Width))
	u.putF32(1 / float32(t.frame.Height))
	u.putF32(jitter[0])
	u.putF32(jitter[1])
	u.putF32(st.BlendFactor)
	u.putF32(alpha)
	u.putU32(uint32(t.frame.Index & 0xFFFFFFFF))
	if reset {
		u.putU32(1)
	} else {
		u.putU32(0)
	}
	u.upload(t.queue)
}

// recordPassthrough forwards the untouched scene while pipelines build.
func (t *TAA) recordPassthrough(encoder hal.CommandEncoder, ctx *Context, color hal.TextureView, cur int) {
	if err := ctx.CopyColor(encoder, color, t.accumulation[cur].view); err != nil {
		recordClear(encoder, "taa_placeholder", gputypes.Color{A: 1}, t.accumulation[cur].view)
	}
	barrierToSampled(encoder, t.opts.capabilities, t.accumulation[cur].texture)
}

// Destroy releases all GPU resources.
func (t *TAA) Destroy() {
	if t.destroyed {
		return
	}
	t.destroyed = true
	t.releaseTargets()
}
