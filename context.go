// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package postfx

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/postfx/resset"
	"github.com/gogpu/postfx/technique"
)

// Resource slots of the shared frame context. Depth and motion are
// borrowed from the caller for the duration of one Execute; everything
// else is owned by the context.
const (
	// SlotDepth is the caller's scene depth view (borrowed).
	SlotDepth resset.Slot = iota

	// SlotMotion is the caller's motion vector view (borrowed).
	SlotMotion

	// SlotCamera is the shared camera uniform buffer.
	SlotCamera

	// SlotSobol is the static Sobol sequence tile.
	SlotSobol

	// SlotScrambling is the static scrambling tile.
	SlotScrambling

	// SlotNoiseXY is this frame's animated blue noise (offset channels).
	SlotNoiseXY

	// SlotNoiseUV is this frame's animated blue noise (UV channels).
	SlotNoiseUV

	// SlotReprojectedDepth is last frame's depth in current pixel positions.
	SlotReprojectedDepth

	// SlotPreviousDepth0 and SlotPreviousDepth1 are the depth history pair.
	SlotPreviousDepth0
	SlotPreviousDepth1

	// SlotClosestMotion is the dilated closest-fragment motion.
	SlotClosestMotion

	slotCount
)

// borrowed slot range, released at the end of every Execute.
const (
	borrowedFirst = SlotDepth
	borrowedLast  = SlotMotion
)

// noiseTileSize is the side length of the Sobol and scrambling tiles.
const noiseTileSize = 128

// ContextExecuteAttribs are the per-frame inputs to Context.Execute.
type ContextExecuteAttribs struct {
	// Encoder receives the precomputation passes.
	Encoder hal.CommandEncoder

	// Camera is this frame's camera state.
	Camera CameraAttribs

	// Depth is the scene depth view, borrowed for this frame only.
	Depth hal.TextureView

	// DepthTexture optionally names the depth texture for barrier
	// insertion. May be nil.
	DepthTexture hal.Texture

	// Motion is the motion vector view, borrowed for this frame only.
	Motion hal.TextureView

	// MotionTexture optionally names the motion texture for barriers.
	MotionTexture hal.Texture
}

// Context owns the per-frame state and precomputed resources shared by all
// effects: camera constants, animated blue noise, reprojected and history
// depth, and dilated motion vectors.
//
// The context runs four passes per frame, then individual effects consume
// its outputs through the slot accessors.
type Context struct {
	device hal.Device
	queue  hal.Queue
	opts   options

	frame     FrameDesc
	prepared  bool
	destroyed bool

	set resset.Set

	cameraBlock *uniformBlock
	frameBlock  *uniformBlock

	sobol      *staticTexture
	scrambling *staticTexture

	noiseXY          *renderTarget
	noiseUV          *renderTarget
	reprojectedDepth *renderTarget
	closestMotion    *renderTarget
	prevDepth        [2]*renderTarget

	techNoise     *technique.Technique
	techReproject *technique.Technique
	techMotion    *technique.Technique
	techCopyColor *technique.Technique
	techCopyR     *technique.Technique

	copyBlock *uniformBlock

	linearSamp hal.Sampler
	pointSamp  hal.Sampler

	copyKey uint64

	prevJitter [2]float32
	camera     CameraAttribs
	allocCount int
}

// staticTexture is an immutable sampled texture uploaded once at creation.
type staticTexture struct {
	texture hal.Texture
	view    hal.TextureView
}

func (s *staticTexture) destroy(device hal.Device) {
	if s == nil {
		return
	}
	if s.view != nil {
		device.DestroyTextureView(s.view)
		s.view = nil
	}
	if s.texture != nil {
		device.DestroyTexture(s.texture)
		s.texture = nil
	}
}

// NewContext creates the shared frame context. Static noise tiles are
// generated and uploaded immediately; render targets are allocated on the
// first PrepareResources.
func NewContext(device hal.Device, queue hal.Queue, opts ...Option) (*Context, error) {
	if device == nil {
		return nil, ErrNilDevice
	}
	if queue == nil {
		return nil, ErrNilQueue
	}

	c := &Context{
		device: device,
		queue:  queue,
		opts:   applyOptions(opts),
	}

	var err error
	if c.cameraBlock, err = newUniformBlock(device, "postfx_camera", 272); err != nil {
		return nil, err
	}
	if c.frameBlock, err = newUniformBlock(device, "postfx_frame", 48); err != nil {
		c.Destroy()
		return nil, err
	}
	if c.copyBlock, err = newUniformBlock(device, "postfx_copy", 16); err != nil {
		c.Destroy()
		return nil, err
	}
	if c.linearSamp, err = newLinearSampler(device, "postfx_linear"); err != nil {
		c.Destroy()
		return nil, err
	}
	if c.pointSamp, err = newPointSampler(device, "postfx_point"); err != nil {
		c.Destroy()
		return nil, err
	}

	if c.sobol, err = c.uploadNoiseTile("postfx_sobol", sobolTile()); err != nil {
		c.Destroy()
		return nil, err
	}
	if c.scrambling, err = c.uploadNoiseTile("postfx_scrambling", scramblingTile()); err != nil {
		c.Destroy()
		return nil, err
	}

	c.set.Insert(SlotCamera, resset.BufferResource(c.cameraBlock.buffer))
	c.set.Insert(SlotSobol, resset.TextureResource(c.sobol.texture, c.sobol.view))
	c.set.Insert(SlotScrambling, resset.TextureResource(c.scrambling.texture, c.scrambling.view))

	c.buildTechniques()
	return c, nil
}

// uploadNoiseTile creates a sampled RGBA8 tile and writes the given pixel
// data to it.
func (c *Context) uploadNoiseTile(label string, pixels []byte) (*staticTexture, error) {
	texture, err := c.device.CreateTexture(&hal.TextureDescriptor{
		Label: label,
		Size: hal.Extent3D{
			Width:              noiseTileSize,
			Height:             noiseTileSize,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatRGBA8Unorm,
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", label, err)
	}

	view, err := c.device.CreateTextureView(texture, &hal.TextureViewDescriptor{
		Label:           label + "_view",
		Format:          gputypes.TextureFormatRGBA8Unorm,
		Dimension:       gputypes.TextureViewDimension2D,
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   1,
		ArrayLayerCount: 1,
	})
	if err != nil {
		c.device.DestroyTexture(texture)
		return nil, fmt.Errorf("create %s view: %w", label, err)
	}

	c.queue.WriteTexture(
		&hal.ImageCopyTexture{Texture: texture, MipLevel: 0},
		pixels,
		&hal.ImageDataLayout{
			Offset:       0,
			BytesPerRow:  noiseTileSize * 4,
			RowsPerImage: noiseTileSize,
		},
		&hal.Extent3D{
			Width:              noiseTileSize,
			Height:             noiseTileSize,
			DepthOrArrayLayers: 1,
		},
	)

	return &staticTexture{texture: texture, view: view}, nil
}

// contextBindLayout is the shared group(0) layout of the precomputation
// passes, matching the module's binding order.
func contextBindLayout() []gputypes.BindGroupLayoutEntry {
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
	entries = append(entries, gputypes.BindGroupLayoutEntry{
		Binding:    6,
		Visibility: gputypes.ShaderStageFragment,
		Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
	})
	return entries
}

// copyBindLayout is group(0) of the copy utility passes.
func copyBindLayout() []gputypes.BindGroupLayoutEntry {
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

// buildTechniques requests all context pipeline programs. The copy
// programs build synchronously because history capture and placeholder
// output depend on them from the very first frame.
func (c *Context) buildTechniques() {
	cache := c.opts.cache
	source := shaderSource(contextShaderSource)
	layout := contextBindLayout()

	c.techNoise = cache.Get(technique.Key{Pass: "ctx_blue_noise", ReverseDepth: c.opts.reverseDepth})
	c.techNoise.EnsureProgram(c.device, &technique.ProgramDesc{
		Label:         "ctx_blue_noise",
		Source:        source,
		FragmentEntry: "fs_blue_noise",
		Layout:        layout,
		ColorTargets: []gputypes.ColorTargetState{
			{Format: gputypes.TextureFormatRGBA8Unorm, WriteMask: gputypes.ColorWriteMaskAll},
			{Format: gputypes.TextureFormatRGBA8Unorm, WriteMask: gputypes.ColorWriteMaskAll},
		},
		Async: c.opts.async,
	})

	c.techReproject = cache.Get(technique.Key{Pass: "ctx_reproject_depth", Format: gputypes.TextureFormatR32Float, ReverseDepth: c.opts.reverseDepth})
	c.techReproject.EnsureProgram(c.device, &technique.ProgramDesc{
		Label:         "ctx_reproject_depth",
		Source:        source,
		FragmentEntry: "fs_reproject_depth",
		Layout:        layout,
		ColorTargets: []gputypes.ColorTargetState{
			{Format: gputypes.TextureFormatR32Float, WriteMask: gputypes.ColorWriteMaskAll},
		},
		Async: c.opts.async,
	})

	c.techMotion = cache.Get(technique.Key{Pass: "ctx_closest_motion", Format: gputypes.TextureFormatRG16Float, ReverseDepth: c.opts.reverseDepth})
	c.techMotion.EnsureProgram(c.device, &technique.ProgramDesc{
		Label:         "ctx_closest_motion",
		Source:        source,
		FragmentEntry: "fs_closest_motion",
		Layout:        layout,
		ColorTargets: []gputypes.ColorTargetState{
			{Format: gputypes.TextureFormatRG16Float, WriteMask: gputypes.ColorWriteMaskAll},
		},
		Async: c.opts.async,
	})

	copySource := shaderSource(copyShaderSource)
	c.techCopyColor = cache.Get(technique.Key{Pass: "ctx_copy_color", Format: gputypes.TextureFormatRGBA16Float})
	c.techCopyColor.EnsureProgram(c.device, &technique.ProgramDesc{
		Label:         "ctx_copy_color",
		Source:        copySource,
		FragmentEntry: "fs_copy_color",
		Layout:        copyBindLayout(),
		ColorTargets: []gputypes.ColorTargetState{
			{Format: gputypes.TextureFormatRGBA16Float, WriteMask: gputypes.ColorWriteMaskAll},
		},
	})

	c.techCopyR = cache.Get(technique.Key{Pass: "ctx_copy_r", Format: gputypes.TextureFormatR32Float})
	c.techCopyR.EnsureProgram(c.device, &technique.ProgramDesc{
		Label:         "ctx_copy_r",
		Source:        copySource,
		FragmentEntry: "fs_copy_r",
		Layout:        copyBindLayout(),
		ColorTargets: []gputypes.ColorTargetState{
			{Format: gputypes.TextureFormatR32Float, WriteMask: gputypes.ColorWriteMaskAll},
		},
	})
}

// PrepareResources sizes the context's render targets to the frame. The
// call is idempotent: an unchanged size allocates nothing. A changed size
// reallocates every frame-sized target and invalidates bindings.
func (c *Context) PrepareResources(desc FrameDesc) error {
	if c.destroyed {
		return ErrDestroyed
	}
	d := desc.resolve()
	if d.Width == 0 || d.Height == 0 {
		return ErrInvalidSize
	}
	if c.prepared && c.frame.sameSize(d) {
		c.frame = d
		return nil
	}

	c.releaseTargets()

	var err error
	if c.noiseXY, err = newRenderTarget(c.device, "ctx_noise_xy", noiseTileSize, noiseTileSize, gputypes.TextureFormatRGBA8Unorm); err != nil {
		return err
	}
	if c.noiseUV, err = newRenderTarget(c.device, "ctx_noise_uv", noiseTileSize, noiseTileSize, gputypes.TextureFormatRGBA8Unorm); err != nil {
		return err
	}
	if c.reprojectedDepth, err = newRenderTarget(c.device, "ctx_reprojected_depth", d.Width, d.Height, gputypes.TextureFormatR32Float); err != nil {
		return err
	}
	if c.closestMotion, err = newRenderTarget(c.device, "ctx_closest_motion", d.Width, d.Height, gputypes.TextureFormatRG16Float); err != nil {
		return err
	}
	for i := range c.prevDepth {
		if c.prevDepth[i], err = newRenderTarget(c.device, fmt.Sprintf("ctx_prev_depth%d", i), d.Width, d.Height, gputypes.TextureFormatR32Float); err != nil {
			return err
		}
	}
	c.allocCount++

	c.set.Insert(SlotNoiseXY, resset.TextureResource(c.noiseXY.texture, c.noiseXY.view))
	c.set.Insert(SlotNoiseUV, resset.TextureResource(c.noiseUV.texture, c.noiseUV.view))
	c.set.Insert(SlotReprojectedDepth, resset.TextureResource(c.reprojectedDepth.texture, c.reprojectedDepth.view))
	c.set.Insert(SlotClosestMotion, resset.TextureResource(c.closestMotion.texture, c.closestMotion.view))
	c.set.Insert(SlotPreviousDepth0, resset.TextureResource(c.prevDepth[0].texture, c.prevDepth[0].view))
	c.set.Insert(SlotPreviousDepth1, resset.TextureResource(c.prevDepth[1].texture, c.prevDepth[1].view))

	c.techNoise.InvalidateBindings(c.device)
	c.techReproject.InvalidateBindings(c.device)
	c.techMotion.InvalidateBindings(c.device)

	c.frame = d
	c.prepared = true
	return nil
}

// releaseTargets drops all frame-sized targets and their slots.
func (c *Context) releaseTargets() {
	c.noiseXY.destroy(c.device)
	c.noiseUV.destroy(c.device)
	c.reprojectedDepth.destroy(c.device)
	c.closestMotion.destroy(c.device)
	for i := range c.prevDepth {
		c.prevDepth[i].destroy(c.device)
		c.prevDepth[i] = nil
	}
	c.noiseXY, c.noiseUV, c.reprojectedDepth, c.closestMotion = nil, nil, nil, nil
	c.set.ReleaseRange(SlotNoiseXY, SlotClosestMotion)
}

// PipelinesReady reports whether all precomputation programs are built.
func (c *Context) PipelinesReady() bool {
	return technique.AllReady(c.techNoise, c.techReproject, c.techMotion)
}

// Execute records this frame's precomputation passes: animated blue noise,
// closest-fragment motion, depth reprojection, and the depth history
// snapshot. While programs are still compiling the owned targets are
// cleared to neutral values instead, so consumers always sample textures
// of the expected shape.
func (c *Context) Execute(attrs *ContextExecuteAttribs) error {
	if c.destroyed {
		return ErrDestroyed
	}
	if attrs == nil || attrs.Encoder == nil {
		return ErrNilEncoder
	}
	if !c.prepared {
		return ErrNotPrepared
	}
	if attrs.Depth == nil || attrs.Motion == nil {
		return ErrMissingInput
	}

	// Borrow the caller's views for this frame.
	c.set.Insert(SlotDepth, resset.Resource{View: attrs.Depth, Texture: attrs.DepthTexture})
	c.set.Insert(SlotMotion, resset.Resource{View: attrs.Motion, Texture: attrs.MotionTexture})
	defer c.set.ReleaseRange(borrowedFirst, borrowedLast)

	cur, prev := HistoryIndex(c.frame.Index)

	c.camera = attrs.Camera
	c.uploadConstants(attrs.Camera)

	if !c.PipelinesReady() {
		c.recordPlaceholders(attrs.Encoder, cur)
		c.advanceFrame()
		return nil
	}

	entries := []gputypes.BindGroupEntry{
		{Binding: 0, Resource: gputypes.BufferBinding{Buffer: c.frameBlock.buffer.NativeHandle(), Offset: 0, Size: c.frameBlock.size}},
		{Binding: 1, Resource: gputypes.TextureViewBinding{TextureView: attrs.Depth.NativeHandle()}},
		{Binding: 2, Resource: gputypes.TextureViewBinding{TextureView: attrs.Motion.NativeHandle()}},
		{Binding: 3, Resource: gputypes.TextureViewBinding{TextureView: c.prevDepth[prev].view.NativeHandle()}},
		{Binding: 4, Resource: gputypes.TextureViewBinding{TextureView: c.sobol.view.NativeHandle()}},
		{Binding: 5, Resource: gputypes.TextureViewBinding{TextureView: c.scrambling.view.NativeHandle()}},
		{Binding: 6, Resource: gputypes.SamplerBinding{Sampler: c.pointSamp.NativeHandle()}},
	}
	// Borrowed views may be recreated by the caller at any frame boundary,
	// so the binding identity is the frame itself: bindings never outlive
	// the Execute that recorded them.
	key := c.frame.Index + 1
	if err := c.techNoise.EnsureBindings(c.device, key, entries); err != nil {
		return err
	}
	if err := c.techReproject.EnsureBindings(c.device, key, entries); err != nil {
		return err
	}
	if err := c.techMotion.EnsureBindings(c.device, key, entries); err != nil {
		return err
	}

	recordFullscreen(attrs.Encoder, "ctx_blue_noise", c.techNoise, c.noiseXY.view, c.noiseUV.view)
	barrierToSampled(attrs.Encoder, c.opts.capabilities, c.noiseXY.texture)
	barrierToSampled(attrs.Encoder, c.opts.capabilities, c.noiseUV.texture)

	recordFullscreen(attrs.Encoder, "ctx_closest_motion", c.techMotion, c.closestMotion.view)
	barrierToSampled(attrs.Encoder, c.opts.capabilities, c.closestMotion.texture)

	recordFullscreen(attrs.Encoder, "ctx_reproject_depth", c.techReproject, c.reprojectedDepth.view)
	barrierToSampled(attrs.Encoder, c.opts.capabilities, c.reprojectedDepth.texture)

	// Snapshot current depth into the history slot for the next frame.
	if err := c.CopyDepthToColor(attrs.Encoder, attrs.Depth, c.prevDepth[cur].view); err != nil {
		return err
	}
	barrierToSampled(attrs.Encoder, c.opts.capabilities, c.prevDepth[cur].texture)

	c.advanceFrame()
	return nil
}

// uploadConstants packs and diff-uploads the camera and frame blocks.
func (c *Context) uploadConstants(camera CameraAttribs) {
	c.cameraBlock.reset()
	camera.encode(c.cameraBlock)
	c.cameraBlock.upload(c.queue)

	jitter := JitterOffset(c.frame.Index)
	c.frameBlock.reset()
	c.frameBlock.putF32(float32(c.frame.Width))
	c.frameBlock.putF32(float32(c.frame.Height))
	c.frameBlock.putF32(1 / float32(c.frame.Width))
	c.frameBlock.putF32(1 / float32(c.frame.Height))
	c.frameBlock.putF32(jitter[0])
	c.frameBlock.putF32(jitter[1])
	c.frameBlock.putF32(c.prevJitter[0])
	c.frameBlock.putF32(c.prevJitter[1])
	c.frameBlock.putU32(uint32(c.frame.Index & 0xFFFFFFFF))
	if c.opts.reverseDepth {
		c.frameBlock.putU32(1)
	} else {
		c.frameBlock.putU32(0)
	}
	c.frameBlock.putU32(0)
	c.frameBlock.putU32(0)
	c.frameBlock.upload(c.queue)
}

// recordPlaceholders clears the owned targets to neutral values.
func (c *Context) recordPlaceholders(encoder hal.CommandEncoder, cur int) {
	grey := gputypes.Color{R: 0.5, G: 0.5, B: 0.5, A: 1}
	recordClear(encoder, "ctx_noise_placeholder", grey, c.noiseXY.view, c.noiseUV.view)
	recordClear(encoder, "ctx_motion_placeholder", gputypes.Color{A: 1}, c.closestMotion.view)

	far := gputypes.Color{R: 1, A: 1}
	if c.opts.reverseDepth {
		far = gputypes.Color{A: 1}
	}
	recordClear(encoder, "ctx_depth_placeholder", far, c.reprojectedDepth.view, c.prevDepth[cur].view)
}

// advanceFrame stores the values the next frame reprojects against.
func (c *Context) advanceFrame() {
	jitter := JitterOffset(c.frame.Index)
	c.prevJitter = [2]float32{jitter[0], jitter[1]}
}

// CopyColor records a full-screen copy of src into dst. Both views must be
// RGBA16Float color targets.
func (c *Context) CopyColor(encoder hal.CommandEncoder, src, dst hal.TextureView) error {
	return c.recordCopy(encoder, "ctx_copy_color", c.techCopyColor, src, dst)
}

// CopyDepthToColor snapshots a depth view into a single-channel color
// target. Used for depth history because depth formats cannot be resolved
// into themselves portably.
func (c *Context) CopyDepthToColor(encoder hal.CommandEncoder, src, dst hal.TextureView) error {
	return c.recordCopy(encoder, "ctx_copy_depth", c.techCopyR, src, dst)
}

func (c *Context) recordCopy(encoder hal.CommandEncoder, label string, tech *technique.Technique, src, dst hal.TextureView) error {
	if !tech.IsReady() {
		return technique.ErrNotReady
	}
	c.copyBlock.reset()
	c.copyBlock.putF32(1)
	c.copyBlock.putF32(1)
	c.copyBlock.putF32(1)
	c.copyBlock.putF32(1)
	c.copyBlock.upload(c.queue)

	c.copyKey++
	err := tech.EnsureBindings(c.device, c.copyKey, []gputypes.BindGroupEntry{
		{Binding: 0, Resource: gputypes.BufferBinding{Buffer: c.copyBlock.buffer.NativeHandle(), Offset: 0, Size: c.copyBlock.size}},
		{Binding: 1, Resource: gputypes.TextureViewBinding{TextureView: src.NativeHandle()}},
		{Binding: 2, Resource: gputypes.SamplerBinding{Sampler: c.pointSamp.NativeHandle()}},
	})
	if err != nil {
		return err
	}
	recordFullscreen(encoder, label, tech, dst)
	return nil
}

// Frame returns the frame description of the last PrepareResources.
func (c *Context) Frame() FrameDesc { return c.frame }

// Resource returns the resource at the given slot. Borrowed slots are only
// populated while Execute runs.
func (c *Context) Resource(slot resset.Slot) resset.Resource {
	return c.set.Get(slot)
}

// BlueNoiseXY returns this frame's animated blue noise offsets.
func (c *Context) BlueNoiseXY() hal.TextureView { return c.set.Get(SlotNoiseXY).View }

// BlueNoiseUV returns this frame's animated blue noise UV channels.
func (c *Context) BlueNoiseUV() hal.TextureView { return c.set.Get(SlotNoiseUV).View }

// ReprojectedDepth returns last frame's depth in current pixel positions.
func (c *Context) ReprojectedDepth() hal.TextureView { return c.set.Get(SlotReprojectedDepth).View }

// ClosestMotion returns the dilated motion vectors.
func (c *Context) ClosestMotion() hal.TextureView { return c.set.Get(SlotClosestMotion).View }

// PreviousDepth returns the depth history written two Executes ago.
func (c *Context) PreviousDepth() hal.TextureView {
	_, prev := HistoryIndex(c.frame.Index)
	return c.set.Get(SlotPreviousDepth0 + resset.Slot(prev)).View
}

// CameraBuffer returns the shared camera uniform buffer.
func (c *Context) CameraBuffer() hal.Buffer { return c.set.Get(SlotCamera).Buffer }

// Camera returns the camera state recorded by the most recent Execute.
func (c *Context) Camera() CameraAttribs { return c.camera }

// LinearSampler returns the shared bilinear clamp sampler.
func (c *Context) LinearSampler() hal.Sampler { return c.linearSamp }

// PointSampler returns the shared nearest clamp sampler.
func (c *Context) PointSampler() hal.Sampler { return c.pointSamp }

// Destroy releases all owned GPU resources. Borrowed slots are never
// destroyed; they belong to the caller.
func (c *Context) Destroy() {
	if c.destroyed {
		return
	}
	c.destroyed = true

	c.releaseTargets()
	c.sobol.destroy(c.device)
	c.scrambling.destroy(c.device)

	if c.cameraBlock != nil {
		c.cameraBlock.destroy(c.device)
	}
	if c.frameBlock != nil {
		c.frameBlock.destroy(c.device)
	}
	if c.copyBlock != nil {
		c.copyBlock.destroy(c.device)
	}
	if c.linearSamp != nil {
		c.device.DestroySampler(c.linearSamp)
		c.linearSamp = nil
	}
	if c.pointSamp != nil {
		c.device.DestroySampler(c.pointSamp)
		c.pointSamp = nil
	}
	c.set.ReleaseRange(0, slotCount-1)
}
