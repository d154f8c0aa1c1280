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

// SSAOFlags select structural variants of the ambient occlusion effect.
// Changing flags between frames reallocates the effect's resources.
type SSAOFlags uint32

const (
	// SSAOHalfResolution computes occlusion at half resolution and
	// upsamples with a depth-guided filter.
	SSAOHalfResolution SSAOFlags = 1 << iota
)

// ssaoDepthMipCount is the depth prefilter chain depth; deeper levels stop
// improving the far-field occlusion estimate.
const ssaoDepthMipCount = 5

// SSAOSettings tunes the ambient occlusion estimate.
type SSAOSettings struct {
	// Radius is the world-space occlusion radius. Default 0.5.
	Radius float32

	// Bias offsets depth comparisons to hide self-occlusion. Default 0.02.
	Bias float32

	// Intensity scales the darkening. Default 1.0.
	Intensity float32

	// ResetAccumulation drops the temporal history this frame.
	ResetAccumulation bool
}

// DefaultSSAOSettings returns the default configuration.
func DefaultSSAOSettings() SSAOSettings {
	return SSAOSettings{
		Radius:    0.5,
		Bias:      0.02,
		Intensity: 1.0,
	}
}

// clamp normalizes the settings in place.
func (s *SSAOSettings) clamp() {
	s.Radius = math32.Min(math32.Max(s.Radius, 0.01), 10)
	s.Bias = math32.Max(s.Bias, 0)
	s.Intensity = math32.Min(math32.Max(s.Intensity, 0), 4)
}

// SSAOExecuteAttribs are the per-frame inputs to SSAO.Execute.
type SSAOExecuteAttribs struct {
	// Encoder receives the occlusion passes.
	Encoder hal.CommandEncoder

	// Context supplies blue noise, dilated motion, and shared samplers.
	Context *Context

	// Depth is the scene depth view, borrowed for this frame.
	Depth hal.TextureView

	// Settings tunes the pass. Nil selects defaults.
	Settings *SSAOSettings
}

// SSAO implements temporally accumulated screen-space ambient occlusion
// with an optional half-resolution path.
type SSAO struct {
	device hal.Device
	queue  hal.Queue
	opts   options

	frame     FrameDesc
	flags     SSAOFlags
	prepared  bool
	destroyed bool

	depthChain *mipChain
	occlusion  *renderTarget
	history    [2]*renderTarget
	upsampled  *renderTarget

	techPrefilter []*technique.Technique
	techOcclusion *technique.Technique
	techTemporal  *technique.Technique
	techUpsample  *technique.Technique

	blocks []*uniformBlock

	set resset.Set

	fade         fadeTimer
	historyValid bool
	lastIndex    uint64
	near, far    float32
}

// Borrowed input slot, released at the end of every Execute.
const ssaoSlotDepth resset.Slot = 0

// NewSSAO creates the ambient occlusion effect.
func NewSSAO(device hal.Device, queue hal.Queue, opts ...Option) (*SSAO, error) {
	if device == nil {
		return nil, ErrNilDevice
	}
	if queue == nil {
		return nil, ErrNilQueue
	}
	s := &SSAO{
		device: device,
		queue:  queue,
		opts:   applyOptions(opts),
	}
	s.fade = newFadeTimer(s.opts.now, s.opts.fadeDuration)
	return s, nil
}

// ssaoBindLayout is group(0) of every occlusion pass, matching the module
// binding order.
func ssaoBindLayout() []gputypes.BindGroupLayoutEntry {
	entries := []gputypes.BindGroupLayoutEntry{
		{
			Binding:    0,
			Visibility: gputypes.ShaderStageFragment,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
		},
	}
	for binding := uint32(1); binding <= 5; binding++ {
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
			Binding:    6,
			Visibility: gputypes.ShaderStageFragment,
			Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
		},
		gputypes.BindGroupLayoutEntry{
			Binding:    7,
			Visibility: gputypes.ShaderStageFragment,
			Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
		},
	)
	return entries
}

// ensureTechnique requests one SSAO program variant from the cache. Flags
// partition the cache so toggling half resolution keeps both variants.
func (s *SSAO) ensureTechnique(pass, entry string, format gputypes.TextureFormat, variant uint32) *technique.Technique {
	t := s.opts.cache.Get(technique.Key{
		Pass:         pass,
		Flags:        uint32(s.flags),
		Format:       format,
		Variant:      variant,
		ReverseDepth: s.opts.reverseDepth,
	})
	t.EnsureProgram(s.device, &technique.ProgramDesc{
		Label:         fmt.Sprintf("%s_%d", pass, variant),
		Source:        shaderSource(ssaoShaderSource),
		FragmentEntry: entry,
		Layout:        ssaoBindLayout(),
		ColorTargets: []gputypes.ColorTargetState{
			{Format: format, WriteMask: gputypes.ColorWriteMaskAll},
		},
		Async: s.opts.async,
	})
	return t
}

// workingSize returns the resolution the occlusion estimate runs at.
func (s *SSAO) workingSize(d FrameDesc) (uint32, uint32) {
	if s.flags&SSAOHalfResolution != 0 {
		return max(d.Width/2, 1), max(d.Height/2, 1)
	}
	return d.Width, d.Height
}

// PrepareResources sizes the effect to the frame and flag set. Unchanged
// size and flags allocate nothing; any change reallocates everything and
// drops the temporal history.
func (s *SSAO) PrepareResources(desc FrameDesc, flags SSAOFlags) error {
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

	var err error
	if s.depthChain, err = newMipChain(s.device, "ssao_depth", w, h, min(ssaoDepthMipCount, MipLevelCount(w, h)), gputypes.TextureFormatR32Float, subres); err != nil {
		return err
	}
	if s.occlusion, err = newRenderTarget(s.device, "ssao_occlusion", w, h, gputypes.TextureFormatRG16Float); err != nil {
		return err
	}
	for i := range s.history {
		if s.history[i], err = newRenderTarget(s.device, fmt.Sprintf("ssao_history%d", i), w, h, gputypes.TextureFormatRG16Float); err != nil {
			return err
		}
	}
	if s.flags&SSAOHalfResolution != 0 {
		if s.upsampled, err = newRenderTarget(s.device, "ssao_upsampled", d.Width, d.Height, gputypes.TextureFormatRGBA8Unorm); err != nil {
			return err
		}
	}

	blockCount := int(s.depthChain.levelCount()) + 3
	s.blocks = make([]*uniformBlock, blockCount)
	for i := range s.blocks {
		if s.blocks[i], err = newUniformBlock(s.device, fmt.Sprintf("ssao_params%d", i), 48); err != nil {
			return err
		}
	}

	s.techPrefilter = s.techPrefilter[:0]
	for i := uint32(0); i < s.depthChain.levelCount(); i++ {
		s.techPrefilter = append(s.techPrefilter, s.ensureTechnique("ssao_depth_prefilter", "fs_depth_prefilter", gputypes.TextureFormatR32Float, i))
	}
	s.techOcclusion = s.ensureTechnique("ssao_occlusion", "fs_occlusion", gputypes.TextureFormatRG16Float, 0)
	s.techTemporal = s.ensureTechnique("ssao_temporal", "fs_temporal", gputypes.TextureFormatRG16Float, 0)
	if s.flags&SSAOHalfResolution != 0 {
		s.techUpsample = s.ensureTechnique("ssao_upsample", "fs_upsample", gputypes.TextureFormatRGBA8Unorm, 0)
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
func (s *SSAO) releaseTargets() {
	s.depthChain.destroy(s.device)
	s.occlusion.destroy(s.device)
	s.upsampled.destroy(s.device)
	s.depthChain, s.occlusion, s.upsampled = nil, nil, nil
	for i := range s.history {
		s.history[i].destroy(s.device)
		s.history[i] = nil
	}
	for _, u := range s.blocks {
		u.destroy(s.device)
	}
	s.blocks = nil
}

// allTechniques returns every active program.
func (s *SSAO) allTechniques() []*technique.Technique {
	ts := make([]*technique.Technique, 0, len(s.techPrefilter)+3)
	ts = append(ts, s.techPrefilter...)
	if s.techOcclusion != nil {
		ts = append(ts, s.techOcclusion)
	}
	if s.techTemporal != nil {
		ts = append(ts, s.techTemporal)
	}
	if s.techUpsample != nil {
		ts = append(ts, s.techUpsample)
	}
	return ts
}

// PipelinesReady reports whether every active program is built.
func (s *SSAO) PipelinesReady() bool {
	if !s.prepared {
		return false
	}
	return technique.AllReady(s.allTechniques()...)
}

// Output returns the ambient occlusion view sampled by the lighting pass.
// On the half-resolution path this is the upsampled full-resolution
// texture; otherwise it is the accumulated working-resolution result.
func (s *SSAO) Output() hal.TextureView {
	if s.flags&SSAOHalfResolution != 0 {
		if s.upsampled == nil {
			return nil
		}
		return s.upsampled.view
	}
	cur, _ := HistoryIndex(s.frame.Index)
	if s.history[cur] == nil {
		return nil
	}
	return s.history[cur].view
}

// Execute records the occlusion passes for one frame.
func (s *SSAO) Execute(attrs *SSAOExecuteAttribs) error {
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
	if attrs.Depth == nil {
		return ErrMissingInput
	}

	settings := DefaultSSAOSettings()
	if attrs.Settings != nil {
		settings = *attrs.Settings
	}
	settings.clamp()

	cam := attrs.Context.Camera()
	s.near, s.far = cam.Near, cam.Far

	cur, prev := HistoryIndex(s.frame.Index)

	s.set.Insert(ssaoSlotDepth, resset.Resource{View: attrs.Depth})
	defer s.set.ReleaseRange(ssaoSlotDepth, ssaoSlotDepth)

	if !s.PipelinesReady() {
		s.fade.Reset()
		s.historyValid = false
		s.lastIndex = s.frame.Index
		s.recordPlaceholder(attrs.Encoder, cur)
		return nil
	}

	s.fade.Begin()
	alpha := s.fade.Alpha()
	// A skipped or repeated frame index means the previous-parity history
	// is stale, so the blend restarts like an explicit reset.
	if settings.ResetAccumulation || !s.historyValid || s.frame.Index != s.lastIndex+1 {
		alpha = 0
	}

	// Borrowed views may be recreated by the caller between frames, so the
	// binding identity is the frame itself.
	key := func(slot uint64) uint64 { return (s.frame.Index+1)*1000 + slot }

	caps := s.opts.capabilities
	depth := s.set.Get(ssaoSlotDepth).View
	point := attrs.Context.PointSampler()
	linear := attrs.Context.LinearSampler()
	noise := attrs.Context.BlueNoiseXY()
	motion := attrs.Context.ClosestMotion()

	bindEntries := func(u *uniformBlock, t1, t2, t3, t4, t5 hal.TextureView) []gputypes.BindGroupEntry {
		return []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: u.buffer.NativeHandle(), Offset: 0, Size: u.size}},
			{Binding: 1, Resource: gputypes.TextureViewBinding{TextureView: t1.NativeHandle()}},
			{Binding: 2, Resource: gputypes.TextureViewBinding{TextureView: t2.NativeHandle()}},
			{Binding: 3, Resource: gputypes.TextureViewBinding{TextureView: t3.NativeHandle()}},
			{Binding: 4, Resource: gputypes.TextureViewBinding{TextureView: t4.NativeHandle()}},
			{Binding: 5, Resource: gputypes.TextureViewBinding{TextureView: t5.NativeHandle()}},
			{Binding: 6, Resource: gputypes.SamplerBinding{Sampler: point.NativeHandle()}},
			{Binding: 7, Resource: gputypes.SamplerBinding{Sampler: linear.NativeHandle()}},
		}
	}

	// Depth prefilter chain: scene depth feeds level 0, then each level
	// reduces the previous one.
	blockIdx := 0
	for i := uint32(0); i < s.depthChain.levelCount(); i++ {
		lvl := s.depthChain.levels[i]
		src := depth
		if i > 0 {
			src = s.depthChain.levels[i-1].view
		}
		u := s.blocks[blockIdx]
		blockIdx++
		s.packParams(u, settings, 1/float32(lvl.width), 1/float32(lvl.height), alpha)

		tech := s.techPrefilter[i]
		if err := tech.EnsureBindings(s.device, key(uint64(i)), bindEntries(u, src, noise, s.occlusion.view, s.history[prev].view, motion)); err != nil {
			return err
		}
		recordFullscreen(attrs.Encoder, "ssao_depth_prefilter", tech, lvl.view)
		barrierToSampled(attrs.Encoder, caps, s.depthChain.shared)
		barrierToSampled(attrs.Encoder, caps, lvl.texture)
	}

	w, h := s.workingSize(s.frame)
	depthTop := s.depthChain.levels[0].view

	// Occlusion estimate.
	u := s.blocks[blockIdx]
	blockIdx++
	s.packParams(u, settings, 1/float32(w), 1/float32(h), alpha)
	// The occlusion target is this pass's attachment, so slot 3 rebinds the
	// depth chain to keep the bind group free of attachment aliases.
	if err := s.techOcclusion.EnsureBindings(s.device, key(100), bindEntries(u, depthTop, noise, depthTop, s.history[prev].view, motion)); err != nil {
		return err
	}
	recordFullscreen(attrs.Encoder, "ssao_occlusion", s.techOcclusion, s.occlusion.view)
	barrierToSampled(attrs.Encoder, caps, s.occlusion.texture)

	// Temporal accumulation into this frame's history target.
	u = s.blocks[blockIdx]
	blockIdx++
	s.packParams(u, settings, 1/float32(w), 1/float32(h), alpha)
	if err := s.techTemporal.EnsureBindings(s.device, key(200), bindEntries(u, depthTop, noise, s.occlusion.view, s.history[prev].view, motion)); err != nil {
		return err
	}
	recordFullscreen(attrs.Encoder, "ssao_temporal", s.techTemporal, s.history[cur].view)
	barrierToSampled(attrs.Encoder, caps, s.history[cur].texture)

	// Guided upsample back to full resolution.
	if s.flags&SSAOHalfResolution != 0 {
		u = s.blocks[blockIdx]
		s.packParams(u, settings, 1/float32(s.frame.Width), 1/float32(s.frame.Height), alpha)
		if err := s.techUpsample.EnsureBindings(s.device, key(300), bindEntries(u, depth, noise, s.history[cur].view, s.history[prev].view, motion)); err != nil {
			return err
		}
		recordFullscreen(attrs.Encoder, "ssao_upsample", s.techUpsample, s.upsampled.view)
		barrierToSampled(attrs.Encoder, caps, s.upsampled.texture)
	}

	s.historyValid = true
	s.lastIndex = s.frame.Index
	return nil
}

// packParams writes SSAOParams for one draw and uploads on change.
func (s *SSAO) packParams(u *uniformBlock, st SSAOSettings, tx, ty, alpha float32) {
	u.reset()
	u.putF32(tx)
	u.putF32(ty)
	u.putF32(st.Radius)
	u.putF32(st.Bias)
	u.putF32(st.Intensity)
	u.putF32(alpha)
	u.putU32(uint32(s.frame.Index & 0xFFFFFFFF))
	if s.opts.reverseDepth {
		u.putU32(1)
	} else {
		u.putU32(0)
	}
	u.putF32(1)
	u.putF32(1)
	u.putF32(s.near)
	u.putF32(s.far)
	u.upload(s.queue)
}

// recordPlaceholder clears the outputs to unoccluded white.
func (s *SSAO) recordPlaceholder(encoder hal.CommandEncoder, cur int) {
	white := gputypes.Color{R: 1, G: 1, B: 1, A: 1}
	recordClear(encoder, "ssao_placeholder", white, s.history[cur].view)
	if s.upsampled != nil {
		recordClear(encoder, "ssao_placeholder_full", white, s.upsampled.view)
	}
}

// Destroy releases all GPU resources.
func (s *SSAO) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.releaseTargets()
}
