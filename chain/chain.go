// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package chain sequences the post-processing effects over one frame.
//
// The pass order is fixed: shared context, reflections, ambient
// occlusion, depth of field, bloom, temporal anti-aliasing, and finally
// super resolution. Individual effects toggle on and off per frame;
// disabled stages are skipped and the color stream flows through.
package chain

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/postfx"
	"github.com/gogpu/postfx/technique"
)

// Effects selects which stages run.
type Effects struct {
	SSR     bool
	SSAO    bool
	DoF     bool
	Bloom   bool
	TAA     bool
	Upscale bool
}

// Flags carries the structural variant flags for the stages that have
// them. Changing a flag reallocates that stage.
type Flags struct {
	SSR  postfx.SSRFlags
	SSAO postfx.SSAOFlags
	DoF  postfx.DoFFlags
}

// Settings carries per-stage tuning. Nil entries select defaults.
type Settings struct {
	SSR     *postfx.SSRSettings
	SSAO    *postfx.SSAOSettings
	DoF     *postfx.DoFSettings
	Bloom   *postfx.BloomSettings
	TAA     *postfx.TAASettings
	Upscale *postfx.UpscaleSettings
}

// FrameAttribs are the per-frame inputs to Chain.Execute.
type FrameAttribs struct {
	// Encoder receives every pass of the frame.
	Encoder hal.CommandEncoder

	// Camera is this frame's camera state.
	Camera postfx.CameraAttribs

	// Color is the lit scene, borrowed for this frame.
	Color hal.TextureView

	// Depth is the scene depth, borrowed for this frame.
	Depth hal.TextureView

	// Motion is the per-pixel motion vector buffer, borrowed for this
	// frame.
	Motion hal.TextureView

	// Normal is the world-space normal buffer. Required when reflections
	// are enabled.
	Normal hal.TextureView

	// Material is the roughness-carrying material buffer. Required when
	// reflections are enabled.
	Material hal.TextureView

	// Settings tunes the enabled stages.
	Settings Settings
}

// Chain owns one instance of every effect and runs them in order.
type Chain struct {
	device hal.Device
	queue  hal.Queue

	ctx     *postfx.Context
	ssr     *postfx.SSR
	ssao    *postfx.SSAO
	dof     *postfx.DoF
	bloom   *postfx.Bloom
	taa     *postfx.TAA
	upscale *postfx.Upscale

	enabled   Effects
	prepared  bool
	destroyed bool

	final hal.TextureView
}

// New creates the chain and every effect on the given device. All effects
// share one technique cache so flag-partitioned pipelines are reused
// across stages.
func New(device hal.Device, queue hal.Queue, opts ...postfx.Option) (*Chain, error) {
	c := &Chain{device: device, queue: queue}
	opts = append([]postfx.Option{postfx.WithTechniqueCache(technique.NewCache())}, opts...)

	var err error
	if c.ctx, err = postfx.NewContext(device, queue, opts...); err != nil {
		return nil, fmt.Errorf("chain: context: %w", err)
	}
	if c.ssr, err = postfx.NewSSR(device, queue, opts...); err != nil {
		return nil, fmt.Errorf("chain: ssr: %w", err)
	}
	if c.ssao, err = postfx.NewSSAO(device, queue, opts...); err != nil {
		return nil, fmt.Errorf("chain: ssao: %w", err)
	}
	if c.dof, err = postfx.NewDoF(device, queue, opts...); err != nil {
		return nil, fmt.Errorf("chain: dof: %w", err)
	}
	if c.bloom, err = postfx.NewBloom(device, queue, opts...); err != nil {
		return nil, fmt.Errorf("chain: bloom: %w", err)
	}
	if c.taa, err = postfx.NewTAA(device, queue, opts...); err != nil {
		return nil, fmt.Errorf("chain: taa: %w", err)
	}
	if c.upscale, err = postfx.NewUpscale(device, queue, opts...); err != nil {
		return nil, fmt.Errorf("chain: upscale: %w", err)
	}
	return c, nil
}

// NewFromProvider creates the chain from a shared device provider. The
// provider must additionally implement HalDevice() any and HalQueue() any
// returning hal.Device and hal.Queue.
func NewFromProvider(provider gpucontext.DeviceProvider, opts ...postfx.Option) (*Chain, error) {
	if provider == nil {
		return nil, postfx.ErrNilDevice
	}
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("chain: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("chain: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("chain: provider HalQueue is not hal.Queue")
	}
	return New(device, queue, opts...)
}

// PrepareResources sizes the context and every enabled stage for the
// frame. Stages disabled this frame keep their previous resources.
func (c *Chain) PrepareResources(desc postfx.FrameDesc, enabled Effects, flags Flags) error {
	if c.destroyed {
		return postfx.ErrDestroyed
	}
	if err := c.ctx.PrepareResources(desc); err != nil {
		return fmt.Errorf("chain: context: %w", err)
	}
	if enabled.SSR {
		if err := c.ssr.PrepareResources(desc, flags.SSR); err != nil {
			return fmt.Errorf("chain: ssr: %w", err)
		}
	}
	if enabled.SSAO {
		if err := c.ssao.PrepareResources(desc, flags.SSAO); err != nil {
			return fmt.Errorf("chain: ssao: %w", err)
		}
	}
	if enabled.DoF {
		if err := c.dof.PrepareResources(desc, flags.DoF); err != nil {
			return fmt.Errorf("chain: dof: %w", err)
		}
	}
	if enabled.Bloom {
		if err := c.bloom.PrepareResources(desc); err != nil {
			return fmt.Errorf("chain: bloom: %w", err)
		}
	}
	if enabled.TAA {
		if err := c.taa.PrepareResources(desc); err != nil {
			return fmt.Errorf("chain: taa: %w", err)
		}
	}
	if enabled.Upscale {
		if err := c.upscale.PrepareResources(desc); err != nil {
			return fmt.Errorf("chain: upscale: %w", err)
		}
	}
	c.enabled = enabled
	c.prepared = true
	return nil
}

// Execute records the frame. The color stream starts at attrs.Color and
// each compositing stage's output feeds the next; the reflection and
// occlusion layers are exposed through their accessors instead of being
// composited here.
func (c *Chain) Execute(attrs *FrameAttribs) error {
	if c.destroyed {
		return postfx.ErrDestroyed
	}
	if attrs == nil || attrs.Encoder == nil {
		return postfx.ErrNilEncoder
	}
	if !c.prepared {
		return postfx.ErrNotPrepared
	}
	if attrs.Color == nil || attrs.Depth == nil || attrs.Motion == nil {
		return postfx.ErrMissingInput
	}

	err := c.ctx.Execute(&postfx.ContextExecuteAttribs{
		Encoder: attrs.Encoder,
		Camera:  attrs.Camera,
		Depth:   attrs.Depth,
		Motion:  attrs.Motion,
	})
	if err != nil {
		return fmt.Errorf("chain: context: %w", err)
	}

	color := attrs.Color

	if c.enabled.SSR {
		if attrs.Normal == nil || attrs.Material == nil {
			return postfx.ErrMissingInput
		}
		err = c.ssr.Execute(&postfx.SSRExecuteAttribs{
			Encoder:  attrs.Encoder,
			Context:  c.ctx,
			Color:    color,
			Depth:    attrs.Depth,
			Normal:   attrs.Normal,
			Material: attrs.Material,
			Settings: attrs.Settings.SSR,
		})
		if err != nil {
			return fmt.Errorf("chain: ssr: %w", err)
		}
	}

	if c.enabled.SSAO {
		err = c.ssao.Execute(&postfx.SSAOExecuteAttribs{
			Encoder:  attrs.Encoder,
			Context:  c.ctx,
			Depth:    attrs.Depth,
			Settings: attrs.Settings.SSAO,
		})
		if err != nil {
			return fmt.Errorf("chain: ssao: %w", err)
		}
	}

	if c.enabled.DoF {
		err = c.dof.Execute(&postfx.DoFExecuteAttribs{
			Encoder:  attrs.Encoder,
			Context:  c.ctx,
			Color:    color,
			Depth:    attrs.Depth,
			Settings: attrs.Settings.DoF,
		})
		if err != nil {
			return fmt.Errorf("chain: dof: %w", err)
		}
		color = c.dof.Output()
	}

	if c.enabled.Bloom {
		err = c.bloom.Execute(&postfx.BloomExecuteAttribs{
			Encoder:  attrs.Encoder,
			Context:  c.ctx,
			Color:    color,
			Settings: attrs.Settings.Bloom,
		})
		if err != nil {
			return fmt.Errorf("chain: bloom: %w", err)
		}
		color = c.bloom.Output()
	}

	if c.enabled.TAA {
		err = c.taa.Execute(&postfx.TAAExecuteAttribs{
			Encoder:  attrs.Encoder,
			Context:  c.ctx,
			Color:    color,
			Settings: attrs.Settings.TAA,
		})
		if err != nil {
			return fmt.Errorf("chain: taa: %w", err)
		}
		color = c.taa.Output()
	}

	if c.enabled.Upscale {
		err = c.upscale.Execute(&postfx.UpscaleExecuteAttribs{
			Encoder:  attrs.Encoder,
			Context:  c.ctx,
			Color:    color,
			Settings: attrs.Settings.Upscale,
		})
		if err != nil {
			return fmt.Errorf("chain: upscale: %w", err)
		}
		color = c.upscale.Output()
	}

	c.final = color
	return nil
}

// Output returns the last executed frame's final view: the output of the
// last enabled compositing stage, or the input color when everything in
// the compositing tail is disabled.
func (c *Chain) Output() hal.TextureView { return c.final }

// Context exposes the shared frame context.
func (c *Chain) Context() *postfx.Context { return c.ctx }

// ReflectionLayer returns the reflection output, nil while disabled or
// unprepared.
func (c *Chain) ReflectionLayer() hal.TextureView {
	if !c.enabled.SSR {
		return nil
	}
	return c.ssr.Output()
}

// OcclusionLayer returns the ambient occlusion output, nil while disabled
// or unprepared.
func (c *Chain) OcclusionLayer() hal.TextureView {
	if !c.enabled.SSAO {
		return nil
	}
	return c.ssao.Output()
}

// PipelinesReady reports whether every enabled stage has built its
// pipelines.
func (c *Chain) PipelinesReady() bool {
	if !c.prepared || !c.ctx.PipelinesReady() {
		return false
	}
	if c.enabled.SSR && !c.ssr.PipelinesReady() {
		return false
	}
	if c.enabled.SSAO && !c.ssao.PipelinesReady() {
		return false
	}
	if c.enabled.DoF && !c.dof.PipelinesReady() {
		return false
	}
	if c.enabled.Bloom && !c.bloom.PipelinesReady() {
		return false
	}
	if c.enabled.TAA && !c.taa.PipelinesReady() {
		return false
	}
	if c.enabled.Upscale && !c.upscale.PipelinesReady() {
		return false
	}
	return true
}

// Destroy releases every stage.
func (c *Chain) Destroy() {
	if c.destroyed {
		return
	}
	c.destroyed = true
	c.upscale.Destroy()
	c.taa.Destroy()
	c.bloom.Destroy()
	c.dof.Destroy()
	c.ssao.Destroy()
	c.ssr.Destroy()
	c.ctx.Destroy()
}
