// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package postfx

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/postfx/resset"
	"github.com/gogpu/postfx/technique"
)

// DoFFlags select structural variants of the depth-of-field effect.
// Changing flags between frames reallocates the effect's resources.
type DoFFlags uint32

const (
	// DoFTemporalCoC stabilizes the circle of confusion across frames,
	// preventing focus breathing under camera jitter.
	DoFTemporalCoC DoFFlags = 1 << iota
)

// DoFSettings tunes the depth-of-field composite.
type DoFSettings struct {
	// FocusDistance is the in-focus depth in world units. Default 10.
	FocusDistance float32

	// FocusRange is the depth span over which blur ramps in. Default 5.
	FocusRange float32

	// BokehRadius is the gather radius in pixels. Default 4.
	BokehRadius float32
}

// DefaultDoFSettings returns the default configuration.
func DefaultDoFSettings() DoFSettings {
	return DoFSettings{
		FocusDistance: 10,
		FocusRange:    5,
		BokehRadius:   4,
	}
}

// clamp normalizes the settings in place.
func (s *DoFSettings) clamp() {
	s.FocusDistance = math32.Max(s.FocusDistance, 0.01)
	s.FocusRange = math32.Max(s.FocusRange, 0.01)
	s.BokehRadius = math32.Min(math32.Max(s.BokehRadius, 0.5), 32)
}

// DoFExecuteAttribs are the per-frame inputs to DoF.Execute.
type DoFExecuteAttribs struct {
	// Encoder receives the depth-of-field passes.
	Encoder hal.CommandEncoder

	// Context supplies dilated motion, the camera, and shared samplers.
	Context *Context

	// Color is the scene radiance view, borrowed for this frame.
	Color hal.TextureView

	// ColorTexture is the texture backing Color, used for barriers. May
	// be nil when the caller manages transitions itself.
	ColorTexture hal.Texture

	// Depth is the scene depth view, borrowed for this frame.
	Depth hal.TextureView

	// Settings tunes the blur. Nil selects defaults.
	Settings *DoFSettings
}

// layerPair holds the premultiplied near and far fields at half
// resolution; the bokeh passes ping-pong between two pairs.
type layerPair struct {
	near *renderTarget
	far  *renderTarget
}

func (p *layerPair) destroy(device hal.Device) {
	if p == nil {
		return
	}
	p.near.destroy(device)
	p.far.destroy(device)
	p.near, p.far = nil, nil
}

// DoF implements a scatter-as-gather depth-of-field effect with a signed
// circle of confusion and separate near and far fields.
type DoF struct {
	device hal.Device
	queue  hal.Queue
	opts   options

	frame     FrameDesc
	flags     DoFFlags
	prepared  bool
	destroyed bool

	coc        *renderTarget
	cocHistory [2]*renderTarget
	layerA     layerPair
	layerB     layerPair
	output     *renderTarget

	techCoC         *technique.Technique
	techCoCTemporal *technique.Technique
	techPrefilter   *technique.Technique
	techBokeh       [2]*technique.Technique
	techPostfilter  *technique.Technique
	techCombine     *technique.Technique

	blocks []*uniformBlock

	set resset.Set

	fade         fadeTimer
	historyValid bool
	lastIndex    uint64
}

// Borrowed input slots, released at the end of every Execute.
const (
	dofSlotColor resset.Slot = iota
	dofSlotDepth
)

// NewDoF creates the depth-of-field effect.
func NewDoF(device hal.Device, queue hal.Queue, opts ...Option) (*DoF, error) {
	if device == nil {
		return nil, ErrNilDevice
	}
	if queue == nil {
		return nil, ErrNilQueue
	}
	d := &DoF{
		device: device,
		queue:  queue,
		opts:   applyOptions(opts),
	}
	d.fade = newFadeTimer(d.opts.now, d.opts.fadeDuration)
	return d, nil
}

// dofBindLayout is group(0) of every depth-of-field pass, matching the
// module binding order.
func dofBindLayout() []gputypes.BindGroupLayoutEntry {
	entries := []gputypes.BindGroupLayoutEntry{
		{
			Binding:    0,
			Visibility: gputypes.ShaderStageFragment,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
		},
	}
	for binding := uint32(1); binding <= 7; binding++ {
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
			Binding:    8,
			Visibility: gputypes.ShaderStageFragment,
			Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
		},
		gputypes.BindGroupLayoutEntry{
			Binding:    9,
			Visibility: gputypes.ShaderStageFragment,
			Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
		},
	)
	return entries
}

// ensureTechnique requests one depth-of-field program from the cache.
// Passes writing both layers carry two color targets.
func (d *DoF) ensureTechnique(pass, entry string, variant uint32, targets int) *technique.Technique {
	t := d.opts.cache.Get(technique.Key{
		Pass:         pass,
		Flags:        uint32(d.flags),
		Format:       gputypes.TextureFormatRGBA16Float,
		Variant:      variant,
		ReverseDepth: d.opts.reverseDepth,
	})
	colorTargets := make([]gputypes.ColorTargetState, targets)
	for i := range colorTargets {
		colorTargets[i] = gputypes.ColorTargetState{
			Format:    gputypes.TextureFormatRGBA16Float,
			WriteMask: gputypes.ColorWriteMaskAll,
		}
	}
	t.EnsureProgram(d.device, &technique.ProgramDesc{
		Label:         fmt.Sprintf("%s_%d", pass, variant),
		Source:        shaderSource(dofShaderSource),
		FragmentEntry: entry,
		Layout:        dofBindLayout(),
		ColorTargets:  colorTargets,
		Async:         d.opts.async,
	})
	return t
}

// ensureCoCTechnique requests a single-channel CoC program.
func (d *DoF) ensureCoCTechnique(pass, entry string) *technique.Technique {
	t := d.opts.cache.Get(technique.Key{
		Pass:         pass,
		Flags:        uint32(d.flags),
		Format:       gputypes.TextureFormatR32Float,
		ReverseDepth: d.opts.reverseDepth,
	})
	t.EnsureProgram(d.device, &technique.ProgramDesc{
		Label:         pass,
		Source:        shaderSource(dofShaderSource),
		FragmentEntry: entry,
		Layout:        dofBindLayout(),
		ColorTargets: []gputypes.ColorTargetState{
			{Format: gputypes.TextureFormatR32Float, WriteMask: gputypes.ColorWriteMaskAll},
		},
		Async: d.opts.async,
	})
	return t
}

// PrepareResources sizes the effect to the frame and flag set.
func (d *DoF) PrepareResources(desc FrameDesc, flags DoFFlags) error {
	if d.destroyed {
		return ErrDestroyed
	}
	fd := desc.resolve()
	if fd.Width == 0 || fd.Height == 0 {
		return ErrInvalidSize
	}
	if d.prepared && d.frame.sameSize(fd) && d.flags == flags {
		d.frame = fd
		return nil
	}

	d.releaseTargets()
	d.flags = flags
	d.historyValid = false

	halfW, halfH := max(fd.Width/2, 1), max(fd.Height/2, 1)

	var err error
	if d.coc, err = newRenderTarget(d.device, "dof_coc", fd.Width, fd.Height, gputypes.TextureFormatR32Float); err != nil {
		return err
	}
	if d.flags&DoFTemporalCoC != 0 {
		for i := range d.cocHistory {
			if d.cocHistory[i], err = newRenderTarget(d.device, fmt.Sprintf("dof_coc_history%d", i), fd.Width, fd.Height, gputypes.TextureFormatR32Float); err != nil {
				return err
			}
		}
	}
	for _, pair := range []struct {
		p     *layerPair
		label string
	}{{&d.layerA, "a"}, {&d.layerB, "b"}} {
		if pair.p.near, err = newRenderTarget(d.device, "dof_near_"+pair.label, halfW, halfH, gputypes.TextureFormatRGBA16Float); err != nil {
			return err
		}
		if pair.p.far, err = newRenderTarget(d.device, "dof_far_"+pair.label, halfW, halfH, gputypes.TextureFormatRGBA16Float); err != nil {
			return err
		}
	}
	if d.output, err = newRenderTarget(d.device, "dof_output", fd.Width, fd.Height, gputypes.TextureFormatRGBA16Float); err != nil {
		return err
	}

	d.blocks = make([]*uniformBlock, 7)
	for i := range d.blocks {
		if d.blocks[i], err = newUniformBlock(d.device, fmt.Sprintf("dof_params%d", i), 48); err != nil {
			return err
		}
	}

	d.techCoC = d.ensureCoCTechnique("dof_coc", "fs_coc")
	if d.flags&DoFTemporalCoC != 0 {
		d.techCoCTemporal = d.ensureCoCTechnique("dof_coc_temporal", "fs_coc_temporal")
	} else {
		d.techCoCTemporal = nil
	}
	d.techPrefilter = d.ensureTechnique("dof_prefilter", "fs_prefilter", 0, 2)
	d.techBokeh[0] = d.ensureTechnique("dof_bokeh", "fs_bokeh", 0, 2)
	d.techBokeh[1] = d.ensureTechnique("dof_bokeh", "fs_bokeh", 1, 2)
	d.techPostfilter = d.ensureTechnique("dof_postfilter", "fs_postfilter", 0, 2)
	d.techCombine = d.ensureTechnique("dof_combine", "fs_combine", 0, 1)

	for _, t := range d.allTechniques() {
		t.InvalidateBindings(d.device)
	}

	d.frame = fd
	d.prepared = true
	return nil
}

// releaseTargets frees the frame-sized resources.
func (d *DoF) releaseTargets() {
	d.coc.destroy(d.device)
	d.output.destroy(d.device)
	d.coc, d.output = nil, nil
	for i := range d.cocHistory {
		d.cocHistory[i].destroy(d.device)
		d.cocHistory[i] = nil
	}
	d.layerA.destroy(d.device)
	d.layerB.destroy(d.device)
	for _, u := range d.blocks {
		u.destroy(d.device)
	}
	d.blocks = nil
}

// allTechniques returns every active program.
func (d *DoF) allTechniques() []*technique.Technique {
	ts := make([]*technique.Technique, 0, 7)
	for _, t := range []*technique.Technique{
		d.techCoC, d.techCoCTemporal, d.techPrefilter,
		d.techBokeh[0], d.techBokeh[1], d.techPostfilter, d.techCombine,
	} {
		if t != nil {
			ts = append(ts, t)
		}
	}
	return ts
}

// PipelinesReady reports whether every active program is built.
func (d *DoF) PipelinesReady() bool {
	if !d.prepared {
		return false
	}
	return technique.AllReady(d.allTechniques()...)
}

// Output returns the composited view.
func (d *DoF) Output() hal.TextureView {
	if d.output == nil {
		return nil
	}
	return d.output.view
}

// Execute records the depth-of-field passes for one frame.
func (d *DoF) Execute(attrs *DoFExecuteAttribs) error {
	if d.destroyed {
		return ErrDestroyed
	}
	if attrs == nil || attrs.Encoder == nil {
		return ErrNilEncoder
	}
	if attrs.Context == nil {
		return ErrNilContext
	}
	if !d.prepared {
		return ErrNotPrepared
	}
	if attrs.Color == nil || attrs.Depth == nil {
		return ErrMissingInput
	}

	settings := DefaultDoFSettings()
	if attrs.Settings != nil {
		settings = *attrs.Settings
	}
	settings.clamp()

	ctx := attrs.Context
	caps := d.opts.capabilities
	cur, prev := HistoryIndex(d.frame.Index)

	d.set.Insert(dofSlotColor, resset.Resource{View: attrs.Color, Texture: attrs.ColorTexture})
	d.set.Insert(dofSlotDepth, resset.Resource{View: attrs.Depth})
	defer d.set.ReleaseRange(dofSlotColor, dofSlotDepth)

	if !d.PipelinesReady() {
		d.fade.Reset()
		d.historyValid = false
		d.lastIndex = d.frame.Index
		d.recordPassthrough(attrs.Encoder, ctx, attrs.Color)
		return nil
	}

	d.fade.Begin()
	alpha := d.fade.Alpha()
	// A skipped or repeated frame index means the previous-parity CoC
	// history is stale.
	if !d.historyValid || d.frame.Index != d.lastIndex+1 || ctx.Camera().IsCut() {
		d.historyValid = false
	}

	color := d.set.Get(dofSlotColor).View
	depth := d.set.Get(dofSlotDepth).View

	// Borrowed views may be recreated by the caller between frames, so the
	// binding identity is the frame itself.
	key := func(slot uint64) uint64 { return (d.frame.Index+1)*1000 + slot }

	fullTX, fullTY := 1/float32(d.frame.Width), 1/float32(d.frame.Height)
	halfTX, halfTY := 2*fullTX, 2*fullTY

	cam := ctx.Camera()
	point := ctx.PointSampler()
	linear := ctx.LinearSampler()
	motion := ctx.ClosestMotion()

	bindEntries := func(u *uniformBlock, color, coc, cocHist, near, far hal.TextureView) []gputypes.BindGroupEntry {
		return []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: u.buffer.NativeHandle(), Offset: 0, Size: u.size}},
			{Binding: 1, Resource: gputypes.TextureViewBinding{TextureView: color.NativeHandle()}},
			{Binding: 2, Resource: gputypes.TextureViewBinding{TextureView: depth.NativeHandle()}},
			{Binding: 3, Resource: gputypes.TextureViewBinding{TextureView: coc.NativeHandle()}},
			{Binding: 4, Resource: gputypes.TextureViewBinding{TextureView: cocHist.NativeHandle()}},
			{Binding: 5, Resource: gputypes.TextureViewBinding{TextureView: near.NativeHandle()}},
			{Binding: 6, Resource: gputypes.TextureViewBinding{TextureView: far.NativeHandle()}},
			{Binding: 7, Resource: gputypes.TextureViewBinding{TextureView: motion.NativeHandle()}},
			{Binding: 8, Resource: gputypes.SamplerBinding{Sampler: point.NativeHandle()}},
			{Binding: 9, Resource: gputypes.SamplerBinding{Sampler: linear.NativeHandle()}},
		}
	}

	blockIdx := 0
	nextBlock := func(tx, ty, radius, alpha float32) *uniformBlock {
		u := d.blocks[blockIdx]
		blockIdx++
		d.packParams(u, settings, cam, tx, ty, radius, alpha)
		return u
	}

	// Circle of confusion at full resolution.
	u := nextBlock(fullTX, fullTY, settings.BokehRadius, alpha)
	if err := d.techCoC.EnsureBindings(d.device, key(0), bindEntries(u, color, depth, depth, depth, depth)); err != nil {
		return err
	}
	recordFullscreen(attrs.Encoder, "dof_coc", d.techCoC, d.coc.view)
	barrierToSampled(attrs.Encoder, caps, d.coc.texture)

	// Temporal stabilization; first valid frame forwards the raw CoC.
	stabilized := d.coc
	if d.flags&DoFTemporalCoC != 0 {
		histAlpha := alpha
		if !d.historyValid {
			histAlpha = 0
		}
		u = nextBlock(fullTX, fullTY, settings.BokehRadius, histAlpha)
		if err := d.techCoCTemporal.EnsureBindings(d.device, key(100), bindEntries(u, color, d.coc.view, d.cocHistory[prev].view, depth, depth)); err != nil {
			return err
		}
		recordFullscreen(attrs.Encoder, "dof_coc_temporal", d.techCoCTemporal, d.cocHistory[cur].view)
		barrierToSampled(attrs.Encoder, caps, d.cocHistory[cur].texture)
		stabilized = d.cocHistory[cur]
	}

	// Near/far split into layer A at half resolution.
	u = nextBlock(halfTX, halfTY, settings.BokehRadius, alpha)
	if err := d.techPrefilter.EnsureBindings(d.device, key(200), bindEntries(u, color, stabilized.view, stabilized.view, depth, depth)); err != nil {
		return err
	}
	recordFullscreen(attrs.Encoder, "dof_prefilter", d.techPrefilter, d.layerA.near.view, d.layerA.far.view)
	barrierToSampled(attrs.Encoder, caps, d.layerA.near.texture)
	barrierToSampled(attrs.Encoder, caps, d.layerA.far.texture)

	// First bokeh gather, A into B.
	u = nextBlock(halfTX, halfTY, settings.BokehRadius, alpha)
	if err := d.techBokeh[0].EnsureBindings(d.device, key(300), bindEntries(u, color, stabilized.view, stabilized.view, d.layerA.near.view, d.layerA.far.view)); err != nil {
		return err
	}
	recordFullscreen(attrs.Encoder, "dof_bokeh", d.techBokeh[0], d.layerB.near.view, d.layerB.far.view)
	barrierToSampled(attrs.Encoder, caps, d.layerB.near.texture)
	barrierToSampled(attrs.Encoder, caps, d.layerB.far.texture)

	// Second gather widens the kernel, B back into A.
	u = nextBlock(halfTX, halfTY, settings.BokehRadius*0.5, alpha)
	if err := d.techBokeh[1].EnsureBindings(d.device, key(400), bindEntries(u, color, stabilized.view, stabilized.view, d.layerB.near.view, d.layerB.far.view)); err != nil {
		return err
	}
	recordFullscreen(attrs.Encoder, "dof_bokeh_wide", d.techBokeh[1], d.layerA.near.view, d.layerA.far.view)
	barrierToSampled(attrs.Encoder, caps, d.layerA.near.texture)
	barrierToSampled(attrs.Encoder, caps, d.layerA.far.texture)

	// Postfilter, A into B.
	u = nextBlock(halfTX, halfTY, settings.BokehRadius, alpha)
	if err := d.techPostfilter.EnsureBindings(d.device, key(500), bindEntries(u, color, stabilized.view, stabilized.view, d.layerA.near.view, d.layerA.far.view)); err != nil {
		return err
	}
	recordFullscreen(attrs.Encoder, "dof_postfilter", d.techPostfilter, d.layerB.near.view, d.layerB.far.view)
	barrierToSampled(attrs.Encoder, caps, d.layerB.near.texture)
	barrierToSampled(attrs.Encoder, caps, d.layerB.far.texture)

	// Composite at full resolution.
	u = nextBlock(fullTX, fullTY, settings.BokehRadius, alpha)
	if err := d.techCombine.EnsureBindings(d.device, key(600), bindEntries(u, color, stabilized.view, stabilized.view, d.layerB.near.view, d.layerB.far.view)); err != nil {
		return err
	}
	recordFullscreen(attrs.Encoder, "dof_combine", d.techCombine, d.output.view)
	barrierToSampled(attrs.Encoder, caps, d.output.texture)

	d.historyValid = true
	d.lastIndex = d.frame.Index
	return nil
}

// packParams writes DoFParams for one draw and uploads on change.
func (d *DoF) packParams(u *uniformBlock, st DoFSettings, cam CameraAttribs, tx, ty, radius, alpha float32) {
	u.reset()
	u.putF32(tx)
	u.putF32(ty)
	u.putF32(st.FocusDistance)
	u.putF32(st.FocusRange)
	u.putF32(radius)
	u.putF32(alpha)
	u.putU32(uint32(d.frame.Index & 0xFFFFFFFF))
	if d.opts.reverseDepth {
		u.putU32(1)
	} else {
		u.putU32(0)
	}
	u.putF32(cam.Near)
	u.putF32(cam.Far)
	u.upload(d.queue)
}

// recordPassthrough forwards the untouched scene while pipelines build.
func (d *DoF) recordPassthrough(encoder hal.CommandEncoder, ctx *Context, color hal.TextureView) {
	if err := ctx.CopyColor(encoder, color, d.output.view); err != nil {
		recordClear(encoder, "dof_placeholder", gputypes.Color{A: 1}, d.output.view)
	}
	barrierToSampled(encoder, d.opts.capabilities, d.output.texture)
}

// Destroy releases all GPU resources.
func (d *DoF) Destroy() {
	if d.destroyed {
		return
	}
	d.destroyed = true
	d.releaseTargets()
}
