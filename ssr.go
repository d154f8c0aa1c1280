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

// SSRFlags select structural variants of the reflection effect. Changing
// flags between frames reallocates the effect's resources.
type SSRFlags uint32

const (
	// SSRHalfResolution traces and resolves reflections at half resolution.
	SSRHalfResolution SSRFlags = 1 << iota

	// SSRPreviousFrameColor samples last frame's scene color instead of the
	// current one, allowing the effect to run before lighting is final.
	SSRPreviousFrameColor
)

// ssrHiZMipCount caps the hierarchical depth chain; the march never skips
// more than this many octaves.
const ssrHiZMipCount = 6

// SSRSettings tunes the screen-space reflection trace.
type SSRSettings struct {
	// MaxDistance is the screen-space march length in pixels. Default 128.
	MaxDistance float32

	// Thickness is the depth tolerance accepting a hit. Default 0.02.
	Thickness float32

	// RoughnessCutoff skips tracing above this roughness. Default 0.6.
	RoughnessCutoff float32

	// Intensity scales the reflection contribution. Default 1.0.
	Intensity float32

	// StepCount bounds the march iterations, at most 64. Default 32.
	StepCount uint32

	// ResetAccumulation drops the temporal history this frame.
	ResetAccumulation bool
}

// DefaultSSRSettings returns the default configuration.
func DefaultSSRSettings() SSRSettings {
	return SSRSettings{
		MaxDistance:     128,
		Thickness:       0.02,
		RoughnessCutoff: 0.6,
		Intensity:       1.0,
		StepCount:       32,
	}
}

// clamp normalizes the settings in place.
func (s *SSRSettings) clamp() {
	s.MaxDistance = math32.Max(s.MaxDistance, 1)
	s.Thickness = math32.Max(s.Thickness, 0.0001)
	s.RoughnessCutoff = math32.Min(math32.Max(s.RoughnessCutoff, 0), 1)
	s.Intensity = math32.Min(math32.Max(s.Intensity, 0), 4)
	if s.StepCount == 0 {
		s.StepCount = 32
	}
	if s.StepCount > 64 {
		s.StepCount = 64
	}
}

// SSRExecuteAttribs are the per-frame inputs to SSR.Execute.
type SSRExecuteAttribs struct {
	// Encoder receives the reflection passes.
	Encoder hal.CommandEncoder

	// Context supplies blue noise, dilated motion, and shared samplers.
	Context *Context

	// Color is the scene radiance view, borrowed for this frame.
	Color hal.TextureView

	// Depth is the scene depth view, borrowed for this frame.
	Depth hal.TextureView

	// Normal is the world-space normal buffer, borrowed for this frame.
	Normal hal.TextureView

	// Material carries roughness in its second channel, borrowed for this
	// frame.
	Material hal.TextureView

	// Settings tunes the trace. Nil selects defaults.
	Settings *SSRSettings
}

// SSR implements stochastic screen-space reflections with hierarchical
// depth traversal, spatial reconstruction, and variance-guided denoising.
type SSR struct {
	device hal.Device
	queue  hal.Queue
	opts   options

	frame     FrameDesc
	flags     SSRFlags
	prepared  bool
	destroyed bool

	hizChain      *mipChain
	roughness     *renderTarget
	intersected   *renderTarget
	reconstructed *renderTarget
	history       [2]*renderTarget
	variance      *renderTarget
	resolved      *renderTarget
	output        *renderTarget
	colorHistory  *renderTarget

	techReduce      []*technique.Technique
	techRoughness   *technique.Technique
	techIntersect   *technique.Technique
	techReconstruct *technique.Technique
	techTemporal    *technique.Technique
	techVariance    *technique.Technique
	techCleanup     *technique.Technique
	techUpsample    *technique.Technique

	params *uniformBlock

	set resset.Set

	fade         fadeTimer
	historyValid bool
	lastIndex    uint64
}

// Borrowed input slots, released at the end of every Execute.
const (
	ssrSlotColor resset.Slot = iota
	ssrSlotDepth
	ssrSlotNormal
	ssrSlotMaterial
)

// NewSSR creates the reflection effect.
func NewSSR(device hal.Device, queue hal.Queue, opts ...Option) (*SSR, error) {
	if device == nil {
		return nil, ErrNilDevice
	}
	if queue == nil {
		return nil, ErrNilQueue
	}
	s := &SSR{
		device: device,
		queue:  queue,
		opts:   applyOptions(opts),
	}
	s.fade = newFadeTimer(s.opts.now, s.opts.fadeDuration)
	return s, nil
}

// ssrBindLayout is group(0) of every reflection pass, matching the module
// binding order.
func ssrBindLayout() []gputypes.BindGroupLayoutEntry {
	entries := []gputypes.BindGroupLayoutEntry{
		{
			Binding:    0,
			Visibility: gputypes.ShaderStageFragment,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
		},
	}
	for binding := uint32(1); binding <= 9; binding++ {
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
			Binding:    10,
			Visibility: gputypes.ShaderStageFragment,
			Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
		},
		gputypes.BindGroupLayoutEntry{
			Binding:    11,
			Visibility: gputypes.ShaderStageFragment,
			Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
		},
	)
	return entries
}

// ensureTechnique requests one SSR program variant from the cache.
func (s *SSR) ensureTechnique(pass, entry string, format gputypes.TextureFormat, variant uint32) *technique.Technique {
	t := s.opts.cache.Get(technique.Key{
		Pass:         pass,
		Flags:        uint32(s.flags),
		Format:       format,
		Variant:      variant,
		ReverseDepth: s.opts.reverseDepth,
	})
	t.EnsureProgram(s.device, &technique.ProgramDesc{
		Label:         fmt.Sprintf("%s_%d", pass, variant),
		Source:        shaderSource(ssrShaderSource),
		FragmentEntry: entry,
		Layout:        ssrBindLayout(),
		ColorTargets: []gputypes.ColorTargetState{
			{Format: format, WriteMask: gputypes.ColorWriteMaskAll},
		},
		Async: s.opts.async,
	})
	return t
}

// workingSize returns the resolution the trace runs at.
func (s *SSR) workingSize(d FrameDesc) (uint32, uint32) {
	if s.flags&SSRHalfResolution != 0 {
		return max(d.Width/2, 1), max(d.Height/2, 1)
	}
	return d.Width, d.Height
}

// PrepareResources sizes the effect to the frame and flag set. Unchanged
// size and flags allocate nothing.
func (s *SSR) PrepareResources(desc FrameDesc, flags SSRFlags) error {
	if s.destroyed {
		return ErrDestroyed
	}
	d := desc.resolve()
	if d.Width == 0 || d.Height == 0 {
		return ErrInvalidSize
	}
	if s.prepared && s.frame.sameSize(d) && s.flags == flags {
		s.frame = d
		return nil
	}

	s.releaseTargets()
	s.flags = flags
	s.historyValid = false

	w, h := s.workingSize(d)
	subres := s.opts.capabilities.SubresourceViews
	levels := min(ssrHiZMipCount, MipLevelCount(w, h))

	var err error
	if s.hizChain, err = newMipChain(s.device, "ssr_hiz", w, h, levels, gputypes.TextureFormatR32Float, subres); err != nil {
		return err
	}
	if s.roughness, err = newRenderTarget(s.device, "ssr_roughness", w, h, gputypes.TextureFormatR8Unorm); err != nil {
		return err
	}
	if s.intersected, err = newRenderTarget(s.device, "ssr_intersect", w, h, gputypes.TextureFormatRGBA16Float); err != nil {
		return err
	}
	if s.reconstructed, err = newRenderTarget(s.device, "ssr_reconstruct", w, h, gputypes.TextureFormatRGBA16Float); err != nil {
		return err
	}
	for i := range s.history {
		if s.history[i], err = newRenderTarget(s.device, fmt.Sprintf("ssr_history%d", i), w, h, gputypes.TextureFormatRGBA16Float); err != nil {
			return err
		}
	}
	if s.variance, err = newRenderTarget(s.device, "ssr_variance", w, h, gputypes.TextureFormatR32Float); err != nil {
		return err
	}
	// The declared output is always full resolution so downstream passes
	// sample it 1:1; the half-resolution path resolves into an intermediate
	// and upsamples.
	if s.output, err = newRenderTarget(s.device, "ssr_output", d.Width, d.Height, gputypes.TextureFormatRGBA16Float); err != nil {
		return err
	}
	if s.flags&SSRHalfResolution != 0 {
		if s.resolved, err = newRenderTarget(s.device, "ssr_resolved", w, h, gputypes.TextureFormatRGBA16Float); err != nil {
			return err
		}
	}
	if s.flags&SSRPreviousFrameColor != 0 {
		if s.colorHistory, err = newRenderTarget(s.device, "ssr_color_history", d.Width, d.Height, gputypes.TextureFormatRGBA16Float); err != nil {
			return err
		}
	}
	if s.params, err = newUniformBlock(s.device, "ssr_params", 48); err != nil {
		return err
	}

	s.techReduce = s.techReduce[:0]
	for i := uint32(1); i < s.hizChain.levelCount(); i++ {
		s.techReduce = append(s.techReduce, s.ensureTechnique("ssr_hiz_reduce", "fs_hiz_reduce", gputypes.TextureFormatR32Float, i))
	}
	s.techRoughness = s.ensureTechnique("ssr_roughness", "fs_extract_roughness", gputypes.TextureFormatR8Unorm, 0)
	s.techIntersect = s.ensureTechnique("ssr_intersect", "fs_intersect", gputypes.TextureFormatRGBA16Float, 0)
	s.techReconstruct = s.ensureTechnique("ssr_reconstruct", "fs_reconstruct", gputypes.TextureFormatRGBA16Float, 0)
	s.techTemporal = s.ensureTechnique("ssr_temporal", "fs_temporal", gputypes.TextureFormatRGBA16Float, 0)
	s.techVariance = s.ensureTechnique("ssr_variance", "fs_variance", gputypes.TextureFormatR32Float, 0)
	s.techCleanup = s.ensureTechnique("ssr_cleanup", "fs_cleanup", gputypes.TextureFormatRGBA16Float, 0)
	if s.flags&SSRHalfResolution != 0 {
		s.techUpsample = s.ensureTechnique("ssr_upsample", "fs_upsample", gputypes.TextureFormatRGBA16Float, 0)
	} else {
		s.techUpsample = nil
	}

	for _, t := range s.allTechniques() {
		t.InvalidateBindings(s.device)
	}

	s.frame = d
	s.prepared = true
	return nil
}

// releaseTargets frees the frame-sized resources.
func (s *SSR) releaseTargets() {
	s.hizChain.destroy(s.device)
	s.roughness.destroy(s.device)
	s.intersected.destroy(s.device)
	s.reconstructed.destroy(s.device)
	s.variance.destroy(s.device)
	s.resolved.destroy(s.device)
	s.output.destroy(s.device)
	s.colorHistory.destroy(s.device)
	s.hizChain = nil
	s.roughness, s.intersected, s.reconstructed = nil, nil, nil
	s.variance, s.resolved, s.output, s.colorHistory = nil, nil, nil, nil
	for i := range s.history {
		s.history[i].destroy(s.device)
		s.history[i] = nil
	}
	s.params.destroy(s.device)
	s.params = nil
}

// allTechniques returns every active program.
func (s *SSR) allTechniques() []*technique.Technique {
	ts := make([]*technique.Technique, 0, len(s.techReduce)+7)
	ts = append(ts, s.techReduce...)
	for _, t := range []*technique.Technique{
		s.techRoughness, s.techIntersect, s.techReconstruct,
		s.techTemporal, s.techVariance, s.techCleanup, s.techUpsample,
	} {
		if t != nil {
			ts = append(ts, t)
		}
	}
	return ts
}

// PipelinesReady reports whether every active program is built.
func (s *SSR) PipelinesReady() bool {
	if !s.prepared {
		return false
	}
	return technique.AllReady(s.allTechniques()...)
}

// Output returns the denoised reflection view, premultiplied by the
// trace confidence in alpha. It is always full resolution, regardless of
// the working resolution of the trace.
func (s *SSR) Output() hal.TextureView {
	if s.output == nil {
		return nil
	}
	return s.output.view
}

// Execute records the reflection passes for one frame.
func (s *SSR) Execute(attrs *SSRExecuteAttribs) error {
	if s.destroyed {
		return ErrDestroyed
	}
	if attrs == nil || attrs.Encoder == nil {
		return ErrNilEncoder
	}
	if attrs.Context == nil {
		return ErrNilContext
	}
	if !s.prepared {
		return ErrNotPrepared
	}
	if attrs.Color == nil || attrs.Depth == nil || attrs.Normal == nil || attrs.Material == nil {
		return ErrMissingInput
	}

	settings := DefaultSSRSettings()
	if attrs.Settings != nil {
		settings = *attrs.Settings
	}
	settings.clamp()

	cur, prev := HistoryIndex(s.frame.Index)
	ctx := attrs.Context
	caps := s.opts.capabilities

	s.set.Insert(ssrSlotColor, resset.Resource{View: attrs.Color})
	s.set.Insert(ssrSlotDepth, resset.Resource{View: attrs.Depth})
	s.set.Insert(ssrSlotNormal, resset.Resource{View: attrs.Normal})
	s.set.Insert(ssrSlotMaterial, resset.Resource{View: attrs.Material})
	defer s.set.ReleaseRange(ssrSlotColor, ssrSlotMaterial)

	if !s.PipelinesReady() {
		s.fade.Reset()
		s.historyValid = false
		s.lastIndex = s.frame.Index
		recordClear(attrs.Encoder, "ssr_placeholder", gputypes.Color{}, s.output.view)
		barrierToSampled(attrs.Encoder, caps, s.output.texture)
		return nil
	}

	s.fade.Begin()
	alpha := s.fade.Alpha()
	// A skipped or repeated frame index means the previous-parity history
	// is stale, so the blend restarts like an explicit reset.
	if settings.ResetAccumulation || !s.historyValid ||
		s.frame.Index != s.lastIndex+1 || ctx.Camera().IsCut() {
		alpha = 0
	}

	color := s.set.Get(ssrSlotColor).View
	depth := s.set.Get(ssrSlotDepth).View
	normal := s.set.Get(ssrSlotNormal).View
	material := s.set.Get(ssrSlotMaterial).View

	// Borrowed views may be recreated by the caller between frames, so the
	// binding identity is the frame itself.
	key := func(slot uint64) uint64 { return (s.frame.Index+1)*1000 + slot }

	w, h := s.workingSize(s.frame)
	s.packParams(settings, 1/float32(w), 1/float32(h), alpha)

	point := ctx.PointSampler()
	linear := ctx.LinearSampler()
	noise := ctx.BlueNoiseXY()
	motion := ctx.ClosestMotion()

	bindEntries := func(color, depth, normal, material, radiance, history, variance hal.TextureView) []gputypes.BindGroupEntry {
		return []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: s.params.buffer.NativeHandle(), Offset: 0, Size: s.params.size}},
			{Binding: 1, Resource: gputypes.TextureViewBinding{TextureView: color.NativeHandle()}},
			{Binding: 2, Resource: gputypes.TextureViewBinding{TextureView: depth.NativeHandle()}},
			{Binding: 3, Resource: gputypes.TextureViewBinding{TextureView: normal.NativeHandle()}},
			{Binding: 4, Resource: gputypes.TextureViewBinding{TextureView: material.NativeHandle()}},
			{Binding: 5, Resource: gputypes.TextureViewBinding{TextureView: noise.NativeHandle()}},
			{Binding: 6, Resource: gputypes.TextureViewBinding{TextureView: radiance.NativeHandle()}},
			{Binding: 7, Resource: gputypes.TextureViewBinding{TextureView: history.NativeHandle()}},
			{Binding: 8, Resource: gputypes.TextureViewBinding{TextureView: variance.NativeHandle()}},
			{Binding: 9, Resource: gputypes.TextureViewBinding{TextureView: motion.NativeHandle()}},
			{Binding: 10, Resource: gputypes.SamplerBinding{Sampler: point.NativeHandle()}},
			{Binding: 11, Resource: gputypes.SamplerBinding{Sampler: linear.NativeHandle()}},
		}
	}

	// Hierarchical depth: snapshot scene depth into level 0, reduce the
	// rest of the chain.
	if err := ctx.CopyDepthToColor(attrs.Encoder, depth, s.hizChain.levels[0].view); err != nil {
		return err
	}
	barrierToSampled(attrs.Encoder, caps, s.hizChain.shared)
	barrierToSampled(attrs.Encoder, caps, s.hizChain.levels[0].texture)
	for i := uint32(1); i < s.hizChain.levelCount(); i++ {
		src := s.hizChain.levels[i-1].view
		tech := s.techReduce[i-1]
		if err := tech.EnsureBindings(s.device, key(uint64(i)), bindEntries(noise, src, noise, noise, noise, noise, noise)); err != nil {
			return err
		}
		recordFullscreen(attrs.Encoder, "ssr_hiz_reduce", tech, s.hizChain.levels[i].view)
		barrierToSampled(attrs.Encoder, caps, s.hizChain.levels[i].texture)
	}

	depthTop := s.hizChain.levels[0].view

	// Roughness extraction.
	if err := s.techRoughness.EnsureBindings(s.device, key(100), bindEntries(noise, depthTop, noise, material, noise, noise, noise)); err != nil {
		return err
	}
	recordFullscreen(attrs.Encoder, "ssr_roughness", s.techRoughness, s.roughness.view)
	barrierToSampled(attrs.Encoder, caps, s.roughness.texture)

	// Ray march. The previous-frame variant reads the retained color copy
	// so it can run before this frame's lighting resolves.
	traceColor := color
	if s.flags&SSRPreviousFrameColor != 0 {
		traceColor = s.colorHistory.view
	}
	if err := s.techIntersect.EnsureBindings(s.device, key(200), bindEntries(traceColor, depthTop, normal, s.roughness.view, noise, noise, noise)); err != nil {
		return err
	}
	recordFullscreen(attrs.Encoder, "ssr_intersect", s.techIntersect, s.intersected.view)
	barrierToSampled(attrs.Encoder, caps, s.intersected.texture)

	// Spatial reconstruction.
	if err := s.techReconstruct.EnsureBindings(s.device, key(300), bindEntries(noise, depthTop, noise, noise, s.intersected.view, noise, noise)); err != nil {
		return err
	}
	recordFullscreen(attrs.Encoder, "ssr_reconstruct", s.techReconstruct, s.reconstructed.view)
	barrierToSampled(attrs.Encoder, caps, s.reconstructed.texture)

	// Temporal accumulation into this frame's history target.
	if err := s.techTemporal.EnsureBindings(s.device, key(400), bindEntries(noise, depthTop, noise, noise, s.reconstructed.view, s.history[prev].view, noise)); err != nil {
		return err
	}
	recordFullscreen(attrs.Encoder, "ssr_temporal", s.techTemporal, s.history[cur].view)
	barrierToSampled(attrs.Encoder, caps, s.history[cur].texture)

	// Variance estimate between this frame and last.
	if err := s.techVariance.EnsureBindings(s.device, key(500), bindEntries(noise, depthTop, noise, noise, s.history[cur].view, s.history[prev].view, noise)); err != nil {
		return err
	}
	recordFullscreen(attrs.Encoder, "ssr_variance", s.techVariance, s.variance.view)
	barrierToSampled(attrs.Encoder, caps, s.variance.texture)

	// Variance-guided cleanup. The half-resolution path resolves into the
	// intermediate and upsamples to the full-resolution output; otherwise
	// the cleanup writes the output directly.
	cleanupTarget := s.output
	if s.flags&SSRHalfResolution != 0 {
		cleanupTarget = s.resolved
	}
	if err := s.techCleanup.EnsureBindings(s.device, key(600), bindEntries(noise, depthTop, noise, noise, s.history[cur].view, s.history[prev].view, s.variance.view)); err != nil {
		return err
	}
	recordFullscreen(attrs.Encoder, "ssr_cleanup", s.techCleanup, cleanupTarget.view)
	barrierToSampled(attrs.Encoder, caps, cleanupTarget.texture)

	// Depth-guided upsample back to full resolution.
	if s.flags&SSRHalfResolution != 0 {
		if err := s.techUpsample.EnsureBindings(s.device, key(700), bindEntries(noise, depth, noise, noise, s.resolved.view, noise, noise)); err != nil {
			return err
		}
		recordFullscreen(attrs.Encoder, "ssr_upsample", s.techUpsample, s.output.view)
		barrierToSampled(attrs.Encoder, caps, s.output.texture)
	}

	// Retain this frame's color for next frame's previous-frame trace.
	if s.flags&SSRPreviousFrameColor != 0 {
		if err := ctx.CopyColor(attrs.Encoder, color, s.colorHistory.view); err != nil {
			return err
		}
		barrierToSampled(attrs.Encoder, caps, s.colorHistory.texture)
	}

	s.historyValid = true
	s.lastIndex = s.frame.Index
	return nil
}

// packParams writes SSRParams and uploads on change.
func (s *SSR) packParams(st SSRSettings, tx, ty, alpha float32) {
	u := s.params
	u.reset()
	u.putF32(tx)
	u.putF32(ty)
	u.putF32(st.MaxDistance)
	u.putF32(st.Thickness)
	u.putF32(st.RoughnessCutoff)
	u.putF32(st.Intensity)
	u.putF32(alpha)
	u.putU32(uint32(s.frame.Index & 0xFFFFFFFF))
	if s.opts.reverseDepth {
		u.putU32(1)
	} else {
		u.putU32(0)
	}
	u.putU32(st.StepCount)
	u.upload(s.queue)
}

// Destroy releases all GPU resources.
func (s *SSR) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.releaseTargets()
}
