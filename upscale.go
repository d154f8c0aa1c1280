// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package postfx

import (
	"github.com/chewxy/math32"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/postfx/resset"
	"github.com/gogpu/postfx/technique"
)

// UpscaleSettings tunes spatial super resolution.
type UpscaleSettings struct {
	// Sharpness scales the contrast-adaptive sharpen in [0, 1]. Default 0.5.
	Sharpness float32
}

// DefaultUpscaleSettings returns the default configuration.
func DefaultUpscaleSettings() UpscaleSettings {
	return UpscaleSettings{Sharpness: 0.5}
}

// clamp normalizes the settings in place.
func (s *UpscaleSettings) clamp() {
	s.Sharpness = math32.Min(math32.Max(s.Sharpness, 0), 1)
}

// UpscaleExecuteAttribs are the per-frame inputs to Upscale.Execute.
type UpscaleExecuteAttribs struct {
	// Encoder receives the upsample passes.
	Encoder hal.CommandEncoder

	// Context supplies the shared samplers.
	Context *Context

	// Color is the anti-aliased render-resolution view, borrowed for this
	// frame.
	Color hal.TextureView

	// Settings tunes the sharpen. Nil selects defaults.
	Settings *UpscaleSettings
}

// Upscale raises the render resolution to the output resolution with an
// edge-adaptive upsample followed by a contrast-adaptive sharpen.
type Upscale struct {
	device hal.Device
	queue  hal.Queue
	opts   options

	frame     FrameDesc
	prepared  bool
	destroyed bool

	upsampled *renderTarget
	output    *renderTarget

	techEASU *technique.Technique
	techRCAS *technique.Technique

	easuParams *uniformBlock
	rcasParams *uniformBlock

	fade fadeTimer

	set resset.Set
}

const upscaleSlotColor resset.Slot = 0

// NewUpscale creates the super-resolution effect.
func NewUpscale(device hal.Device, queue hal.Queue, opts ...Option) (*Upscale, error) {
	if device == nil {
		return nil, ErrNilDevice
	}
	if queue == nil {
		return nil, ErrNilQueue
	}
	u := &Upscale{
		device: device,
		queue:  queue,
		opts:   applyOptions(opts),
	}
	u.fade = newFadeTimer(u.opts.now, u.opts.fadeDuration)
	return u, nil
}

// upscaleBindLayout is group(0) of both upsample passes.
func upscaleBindLayout() []gputypes.BindGroupLayoutEntry {
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
			Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
		},
	}
}

// ensureTechnique requests one upsample program from the cache.
func (u *Upscale) ensureTechnique(pass, entry string) *technique.Technique {
	t := u.opts.cache.Get(technique.Key{
		Pass:   pass,
		Format: gputypes.TextureFormatRGBA16Float,
	})
	t.EnsureProgram(u.device, &technique.ProgramDesc{
		Label:         pass,
		Source:        shaderSource(upscaleShaderSource),
		FragmentEntry: entry,
		Layout:        upscaleBindLayout(),
		ColorTargets: []gputypes.ColorTargetState{
			{Format: gputypes.TextureFormatRGBA16Float, WriteMask: gputypes.ColorWriteMaskAll},
		},
		Async: u.opts.async,
	})
	return t
}

// PrepareResources sizes the effect to the frame. Both intermediate and
// final targets live at the output resolution.
func (u *Upscale) PrepareResources(desc FrameDesc) error {
	if u.destroyed {
		return ErrDestroyed
	}
	d := desc.resolve()
	if d.Width == 0 || d.Height == 0 || d.OutputWidth == 0 || d.OutputHeight == 0 {
		return ErrInvalidSize
	}
	if u.prepared && u.frame.sameSize(d) {
		u.frame = d
		return nil
	}

	u.releaseTargets()

	var err error
	if u.upsampled, err = newRenderTarget(u.device, "upscale_easu", d.OutputWidth, d.OutputHeight, gputypes.TextureFormatRGBA16Float); err != nil {
		return err
	}
	if u.output, err = newRenderTarget(u.device, "upscale_rcas", d.OutputWidth, d.OutputHeight, gputypes.TextureFormatRGBA16Float); err != nil {
		return err
	}
	if u.easuParams, err = newUniformBlock(u.device, "upscale_easu_params", 32); err != nil {
		return err
	}
	if u.rcasParams, err = newUniformBlock(u.device, "upscale_rcas_params", 32); err != nil {
		return err
	}

	u.techEASU = u.ensureTechnique("upscale_easu", "fs_easu")
	u.techRCAS = u.ensureTechnique("upscale_rcas", "fs_rcas")
	u.techEASU.InvalidateBindings(u.device)
	u.techRCAS.InvalidateBindings(u.device)

	u.frame = d
	u.prepared = true
	return nil
}

// releaseTargets frees the frame-sized resources.
func (u *Upscale) releaseTargets() {
	u.upsampled.destroy(u.device)
	u.output.destroy(u.device)
	u.upsampled, u.output = nil, nil
	u.easuParams.destroy(u.device)
	u.rcasParams.destroy(u.device)
	u.easuParams, u.rcasParams = nil, nil
}

// PipelinesReady reports whether both programs are built.
func (u *Upscale) PipelinesReady() bool {
	if !u.prepared {
		return false
	}
	return technique.AllReady(u.techEASU, u.techRCAS)
}

// Output returns the sharpened output-resolution view.
func (u *Upscale) Output() hal.TextureView {
	if u.output == nil {
		return nil
	}
	return u.output.view
}

// Execute records the upsample passes for one frame.
func (u *Upscale) Execute(attrs *UpscaleExecuteAttribs) error {
	if u.destroyed {
		return ErrDestroyed
	}
	if attrs == nil || attrs.Encoder == nil {
		return ErrNilEncoder
	}
	if attrs.Context == nil {
		return ErrNilContext
	}
	if !u.prepared {
		return ErrNotPrepared
	}
	if attrs.Color == nil {
		return ErrMissingInput
	}

	settings := DefaultUpscaleSettings()
	if attrs.Settings != nil {
		settings = *attrs.Settings
	}
	settings.clamp()

	ctx := attrs.Context
	caps := u.opts.capabilities

	if !u.PipelinesReady() {
		u.fade.Reset()
		// A plain bilinear stretch stands in while the programs build.
		if err := ctx.CopyColor(attrs.Encoder, attrs.Color, u.output.view); err != nil {
			recordClear(attrs.Encoder, "upscale_placeholder", gputypes.Color{A: 1}, u.output.view)
		}
		barrierToSampled(attrs.Encoder, caps, u.output.texture)
		return nil
	}

	u.fade.Begin()
	alpha := u.fade.Alpha()

	u.set.Insert(upscaleSlotColor, resset.Resource{View: attrs.Color})
	defer u.set.ReleaseRange(upscaleSlotColor, upscaleSlotColor)
	color := u.set.Get(upscaleSlotColor).View

	u.packParams(u.easuParams, settings, alpha)
	u.packParams(u.rcasParams, settings, alpha)

	linear := ctx.LinearSampler()
	// The borrowed color view may be recreated by the caller at any frame
	// boundary, so the binding identity is the frame itself.
	bind := func(tech *technique.Technique, params *uniformBlock, src hal.TextureView, slot uint64) error {
		return tech.EnsureBindings(u.device, (u.frame.Index+1)*10+slot, []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: params.buffer.NativeHandle(), Offset: 0, Size: params.size}},
			{Binding: 1, Resource: gputypes.TextureViewBinding{TextureView: src.NativeHandle()}},
			{Binding: 2, Resource: gputypes.SamplerBinding{Sampler: linear.NativeHandle()}},
		})
	}

	if err := bind(u.techEASU, u.easuParams, color, 0); err != nil {
		return err
	}
	recordFullscreen(attrs.Encoder, "upscale_easu", u.techEASU, u.upsampled.view)
	barrierToSampled(attrs.Encoder, caps, u.upsampled.texture)

	if err := bind(u.techRCAS, u.rcasParams, u.upsampled.view, 1); err != nil {
		return err
	}
	recordFullscreen(attrs.Encoder, "upscale_rcas", u.techRCAS, u.output.view)
	barrierToSampled(attrs.Encoder, caps, u.output.texture)

	return nil
}

// packParams writes UpscaleParams and uploads on change.
func (u *Upscale) packParams(block *uniformBlock, st UpscaleSettings, alpha float32) {
	block.reset()
	block.putF32(float32(u.frame.Width))
	block.putF32(float32(u.frame.Height))
	block.putF32(float32(u.frame.OutputWidth))
	block.putF32(float32(u.frame.OutputHeight))
	block.putF32(1 / float32(u.frame.Width))
	block.putF32(1 / float32(u.frame.Height))
	block.putF32(st.Sharpness)
	block.putF32(alpha)
	block.upload(u.queue)
}

// Destroy releases all GPU resources.
func (u *Upscale) Destroy() {
	if u.destroyed {
		return
	}
	u.destroyed = true
	u.releaseTargets()
}
