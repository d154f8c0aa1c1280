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

// BloomSettings tunes the bloom contribution. The zero value is replaced
// by defaults; out-of-range values are clamped, never rejected.
type BloomSettings struct {
	// Intensity scales the glow added to the scene. Default 0.8.
	Intensity float32

	// Threshold is the luminance above which pixels start to glow.
	// Default 1.0.
	Threshold float32

	// SoftKnee softens the threshold transition in [0, 1]. Default 0.5.
	SoftKnee float32

	// Radius in (0, 1] selects how much of the mip chain contributes;
	// the active level count is the floor of Radius times the full chain
	// depth. Default 0.5.
	Radius float32
}

// DefaultBloomSettings returns the default configuration.
func DefaultBloomSettings() BloomSettings {
	return BloomSettings{
		Intensity: 0.8,
		Threshold: 1.0,
		SoftKnee:  0.5,
		Radius:    0.5,
	}
}

// clamp normalizes the settings in place.
func (s *BloomSettings) clamp() {
	if s.Intensity <= 0 {
		s.Intensity = 0
	}
	s.Threshold = math32.Max(s.Threshold, 0)
	s.SoftKnee = math32.Min(math32.Max(s.SoftKnee, 0.01), 1)
	if s.Radius <= 0 || s.Radius > 1 {
		s.Radius = 0.5
	}
}

// BloomExecuteAttribs are the per-frame inputs to Bloom.Execute.
type BloomExecuteAttribs struct {
	// Encoder receives the bloom passes.
	Encoder hal.CommandEncoder

	// Context supplies shared samplers and copy utilities.
	Context *Context

	// Color is the scene color view, borrowed for this frame.
	Color hal.TextureView

	// ColorTexture optionally names the color texture for barriers.
	ColorTexture hal.Texture

	// Settings tunes the pass. Nil selects defaults.
	Settings *BloomSettings
}

// Bloom implements a mip-chain bloom: bright pass, progressive
// downsample, tent upsample accumulation, and additive combine.
type Bloom struct {
	device hal.Device
	queue  hal.Queue
	opts   options

	frame     FrameDesc
	prepared  bool
	destroyed bool

	downChain *mipChain
	upChain   *mipChain
	output    *renderTarget

	techPrefilter []*technique.Technique // one, kept as slice for symmetry
	techDown      []*technique.Technique
	techUp        []*technique.Technique
	techCombine   *technique.Technique

	levelBlocks  []*uniformBlock
	combineBlock *uniformBlock

	fade       fadeTimer
	activeMips uint32

	set resset.Set
}

const bloomSlotColor resset.Slot = 0

// NewBloom creates the bloom effect. Pipeline programs start building
// immediately; render targets follow on the first PrepareResources.
func NewBloom(device hal.Device, queue hal.Queue, opts ...Option) (*Bloom, error) {
	if device == nil {
		return nil, ErrNilDevice
	}
	if queue == nil {
		return nil, ErrNilQueue
	}
	b := &Bloom{
		device: device,
		queue:  queue,
		opts:   applyOptions(opts),
	}
	b.fade = newFadeTimer(b.opts.now, b.opts.fadeDuration)

	var err error
	if b.combineBlock, err = newUniformBlock(device, "bloom_combine", 32); err != nil {
		return nil, err
	}
	return b, nil
}

// bloomBindLayout is group(0) of every bloom pass.
func bloomBindLayout() []gputypes.BindGroupLayoutEntry {
	return []gputypes.BindGroupLayoutEntry{
		{
			Binding:    0,
			Visibility: gputypes.ShaderStageFragment,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
		},
		{
			Binding:    1,
			Visibility: gputypes.ShaderStageFragment,
			Texture: &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: gputypes.TextureViewDimension2D,
			},
		},
		{
			Binding:    2,
			Visibility: gputypes.ShaderStageFragment,
			Texture: &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: gputypes.TextureViewDimension2D,
			},
		},
		{
			Binding:    3,
			Visibility: gputypes.ShaderStageFragment,
			Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
		},
	}
}

// ensureTechnique requests one bloom program variant from the cache.
func (b *Bloom) ensureTechnique(pass, entry string, variant uint32) *technique.Technique {
	t := b.opts.cache.Get(technique.Key{
		Pass:    pass,
		Format:  gputypes.TextureFormatRGBA16Float,
		Variant: variant,
	})
	t.EnsureProgram(b.device, &technique.ProgramDesc{
		Label:         fmt.Sprintf("%s_%d", pass, variant),
		Source:        shaderSource(bloomShaderSource),
		FragmentEntry: entry,
		Layout:        bloomBindLayout(),
		ColorTargets: []gputypes.ColorTargetState{
			{Format: gputypes.TextureFormatRGBA16Float, WriteMask: gputypes.ColorWriteMaskAll},
		},
		Async: b.opts.async,
	})
	return t
}

// PrepareResources sizes the mip chains to the frame. The chain top is
// half the frame size; its depth is the full mip count of that top.
// Unchanged sizes allocate nothing.
func (b *Bloom) PrepareResources(desc FrameDesc) error {
	if b.destroyed {
		return ErrDestroyed
	}
	d := desc.resolve()
	if d.Width == 0 || d.Height == 0 {
		return ErrInvalidSize
	}
	if b.prepared && b.frame.sameSize(d) {
		b.frame = d
		return nil
	}

	b.releaseTargets()

	halfW := max(d.Width/2, 1)
	halfH := max(d.Height/2, 1)
	levels := MipLevelCount(halfW, halfH)
	subres := b.opts.capabilities.SubresourceViews

	var err error
	if b.downChain, err = newMipChain(b.device, "bloom_down", halfW, halfH, levels, gputypes.TextureFormatRGBA16Float, subres); err != nil {
		return err
	}
	if b.upChain, err = newMipChain(b.device, "bloom_up", halfW, halfH, levels, gputypes.TextureFormatRGBA16Float, subres); err != nil {
		return err
	}
	if b.output, err = newRenderTarget(b.device, "bloom_output", d.Width, d.Height, gputypes.TextureFormatRGBA16Float); err != nil {
		return err
	}

	// One uniform block per potential draw: prefilter, each downsample,
	// each upsample, sized for BloomParams.
	blockCount := int(levels)*2 + 1
	b.levelBlocks = make([]*uniformBlock, blockCount)
	for i := range b.levelBlocks {
		if b.levelBlocks[i], err = newUniformBlock(b.device, fmt.Sprintf("bloom_params%d", i), 32); err != nil {
			return err
		}
	}

	b.techPrefilter = []*technique.Technique{b.ensureTechnique("bloom_prefilter", "fs_prefilter", 0)}
	b.techDown = b.techDown[:0]
	b.techUp = b.techUp[:0]
	for i := uint32(1); i < levels; i++ {
		b.techDown = append(b.techDown, b.ensureTechnique("bloom_downsample", "fs_downsample", i))
	}
	for i := uint32(0); i+1 < levels; i++ {
		b.techUp = append(b.techUp, b.ensureTechnique("bloom_upsample", "fs_upsample", i))
	}
	b.techCombine = b.ensureTechnique("bloom_combine", "fs_combine", 0)

	for _, t := range b.allTechniques() {
		t.InvalidateBindings(b.device)
	}

	b.frame = d
	b.prepared = true
	return nil
}

// releaseTargets frees the frame-sized resources.
func (b *Bloom) releaseTargets() {
	b.downChain.destroy(b.device)
	b.upChain.destroy(b.device)
	b.output.destroy(b.device)
	b.downChain, b.upChain, b.output = nil, nil, nil
	for _, u := range b.levelBlocks {
		u.destroy(b.device)
	}
	b.levelBlocks = nil
}

// allTechniques returns every program of the current chain depth.
func (b *Bloom) allTechniques() []*technique.Technique {
	ts := make([]*technique.Technique, 0, len(b.techDown)+len(b.techUp)+2)
	ts = append(ts, b.techPrefilter...)
	ts = append(ts, b.techDown...)
	ts = append(ts, b.techUp...)
	if b.techCombine != nil {
		ts = append(ts, b.techCombine)
	}
	return ts
}

// PipelinesReady reports whether every bloom program is built.
func (b *Bloom) PipelinesReady() bool {
	if !b.prepared {
		return false
	}
	return technique.AllReady(b.allTechniques()...)
}

// ActiveMipCount returns the number of chain levels the last Execute used.
func (b *Bloom) ActiveMipCount() uint32 { return b.activeMips }

// Output returns the combined scene-plus-glow view.
func (b *Bloom) Output() hal.TextureView {
	if b.output == nil {
		return nil
	}
	return b.output.view
}

// Execute records the bloom passes. While programs are still compiling the
// output receives a plain copy of the scene instead, so downstream passes
// always see a full-resolution color texture.
func (b *Bloom) Execute(attrs *BloomExecuteAttribs) error {
	if b.destroyed {
		return ErrDestroyed
	}
	if attrs == nil || attrs.Encoder == nil {
		return ErrNilEncoder
	}
	if attrs.Context == nil {
		return ErrNilContext
	}
	if !b.prepared {
		return ErrNotPrepared
	}
	if attrs.Color == nil {
		return ErrMissingInput
	}

	settings := DefaultBloomSettings()
	if attrs.Settings != nil {
		settings = *attrs.Settings
	}
	settings.clamp()

	levels := b.downChain.levelCount()
	active := uint32(settings.Radius * float32(levels))
	if active < 1 {
		active = 1
	}
	if active > levels {
		active = levels
	}
	b.activeMips = active

	if !b.PipelinesReady() {
		return b.recordPassthrough(attrs)
	}

	b.set.Insert(bloomSlotColor, resset.Resource{View: attrs.Color})
	defer b.set.ReleaseRange(bloomSlotColor, bloomSlotColor)
	color := b.set.Get(bloomSlotColor).View

	b.fade.Begin()
	alpha := b.fade.Alpha()
	caps := b.opts.capabilities
	samp := attrs.Context.LinearSampler()

	blockIdx := 0
	nextBlock := func() *uniformBlock {
		u := b.levelBlocks[blockIdx]
		blockIdx++
		return u
	}

	// Prefilter: scene -> down[0].
	top := b.downChain.levels[0]
	u := nextBlock()
	b.packParams(u, settings, 1/float32(b.frame.Width), 1/float32(b.frame.Height), 0, alpha)
	err := b.techPrefilter[0].EnsureBindings(b.device, b.bindKey(0), []gputypes.BindGroupEntry{
		{Binding: 0, Resource: gputypes.BufferBinding{Buffer: u.buffer.NativeHandle(), Offset: 0, Size: u.size}},
		{Binding: 1, Resource: gputypes.TextureViewBinding{TextureView: color.NativeHandle()}},
		{Binding: 2, Resource: gputypes.TextureViewBinding{TextureView: color.NativeHandle()}},
		{Binding: 3, Resource: gputypes.SamplerBinding{Sampler: samp.NativeHandle()}},
	})
	if err != nil {
		return err
	}
	recordFullscreen(attrs.Encoder, "bloom_prefilter", b.techPrefilter[0], top.view)
	barrierToSampled(attrs.Encoder, caps, b.downChain.shared)

	// Downsample: down[i-1] -> down[i].
	for i := uint32(1); i < active; i++ {
		src := b.downChain.levels[i-1]
		dst := b.downChain.levels[i]
		u := nextBlock()
		b.packParams(u, settings, 1/float32(src.width), 1/float32(src.height), float32(i), alpha)
		tech := b.techDown[i-1]
		err := tech.EnsureBindings(b.device, b.bindKey(100+uint64(i)), []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: u.buffer.NativeHandle(), Offset: 0, Size: u.size}},
			{Binding: 1, Resource: gputypes.TextureViewBinding{TextureView: src.view.NativeHandle()}},
			{Binding: 2, Resource: gputypes.TextureViewBinding{TextureView: src.view.NativeHandle()}},
			{Binding: 3, Resource: gputypes.SamplerBinding{Sampler: samp.NativeHandle()}},
		})
		if err != nil {
			return err
		}
		recordFullscreen(attrs.Encoder, "bloom_downsample", tech, dst.view)
		barrierToSampled(attrs.Encoder, caps, b.downChain.shared)
		barrierToSampled(attrs.Encoder, caps, dst.texture)
	}

	// Upsample: up[i] = down[i] + tent(up[i+1]); the deepest level feeds
	// from the downsample chain directly.
	for i := int(active) - 2; i >= 0; i-- {
		coarse := b.upChain.levels[i+1].view
		if uint32(i) == active-2 {
			coarse = b.downChain.levels[i+1].view
		}
		dst := b.upChain.levels[i]
		u := nextBlock()
		b.packParams(u, settings, 1/float32(dst.width), 1/float32(dst.height), float32(i), alpha)
		tech := b.techUp[i]
		err := tech.EnsureBindings(b.device, b.bindKey(200+uint64(i)), []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: u.buffer.NativeHandle(), Offset: 0, Size: u.size}},
			{Binding: 1, Resource: gputypes.TextureViewBinding{TextureView: b.downChain.levels[i].view.NativeHandle()}},
			{Binding: 2, Resource: gputypes.TextureViewBinding{TextureView: coarse.NativeHandle()}},
			{Binding: 3, Resource: gputypes.SamplerBinding{Sampler: samp.NativeHandle()}},
		})
		if err != nil {
			return err
		}
		recordFullscreen(attrs.Encoder, "bloom_upsample", tech, dst.view)
		barrierToSampled(attrs.Encoder, caps, b.upChain.shared)
		barrierToSampled(attrs.Encoder, caps, dst.texture)
	}

	// Combine: scene + up[0] -> output.
	glow := b.upChain.levels[0].view
	if active == 1 {
		glow = b.downChain.levels[0].view
	}
	b.packParams(b.combineBlock, settings, 1/float32(b.frame.Width), 1/float32(b.frame.Height), 0, alpha)
	err = b.techCombine.EnsureBindings(b.device, b.bindKey(300), []gputypes.BindGroupEntry{
		{Binding: 0, Resource: gputypes.BufferBinding{Buffer: b.combineBlock.buffer.NativeHandle(), Offset: 0, Size: b.combineBlock.size}},
		{Binding: 1, Resource: gputypes.TextureViewBinding{TextureView: color.NativeHandle()}},
		{Binding: 2, Resource: gputypes.TextureViewBinding{TextureView: glow.NativeHandle()}},
		{Binding: 3, Resource: gputypes.SamplerBinding{Sampler: samp.NativeHandle()}},
	})
	if err != nil {
		return err
	}
	recordFullscreen(attrs.Encoder, "bloom_combine", b.techCombine, b.output.view)
	barrierToSampled(attrs.Encoder, caps, b.output.texture)
	return nil
}

// packParams writes BloomParams for one draw and uploads on change.
func (b *Bloom) packParams(u *uniformBlock, s BloomSettings, tx, ty, mip, alpha float32) {
	u.reset()
	u.putF32(tx)
	u.putF32(ty)
	u.putF32(s.Intensity)
	u.putF32(s.Threshold)
	u.putF32(s.SoftKnee)
	u.putF32(s.Radius)
	u.putF32(mip)
	u.putF32(alpha)
	u.upload(b.queue)
}

// bindKey derives a binding identity from the frame and the draw's slot in
// the pass order. The borrowed color view may be recreated by the caller at
// any frame boundary, so bindings never outlive the Execute that recorded
// them.
func (b *Bloom) bindKey(slot uint64) uint64 {
	return (b.frame.Index+1)*1000 + slot
}

// recordPassthrough copies the scene to the output unchanged.
func (b *Bloom) recordPassthrough(attrs *BloomExecuteAttribs) error {
	b.fade.Reset()
	if err := attrs.Context.CopyColor(attrs.Encoder, attrs.Color, b.output.view); err != nil {
		recordClear(attrs.Encoder, "bloom_placeholder", gputypes.Color{A: 1}, b.output.view)
	}
	barrierToSampled(attrs.Encoder, b.opts.capabilities, b.output.texture)
	return nil
}

// Destroy releases all GPU resources.
func (b *Bloom) Destroy() {
	if b.destroyed {
		return
	}
	b.destroyed = true
	b.releaseTargets()
	if b.combineBlock != nil {
		b.combineBlock.destroy(b.device)
	}
}
