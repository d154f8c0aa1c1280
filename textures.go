// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package postfx

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// renderTarget owns one 2D texture that passes render into and later
// passes sample from.
type renderTarget struct {
	texture hal.Texture
	view    hal.TextureView
	format  gputypes.TextureFormat
	width   uint32
	height  uint32
}

// newRenderTarget allocates a single-mip render target.
func newRenderTarget(device hal.Device, label string, width, height uint32, format gputypes.TextureFormat) (*renderTarget, error) {
	texture, err := device.CreateTexture(&hal.TextureDescriptor{
		Label: label,
		Size: hal.Extent3D{
			Width:              width,
			Height:             height,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding,
	})
	if err != nil {
		return nil, fmt.Errorf("create texture %s: %w", label, err)
	}

	view, err := device.CreateTextureView(texture, &hal.TextureViewDescriptor{
		Label:           label + "_view",
		Format:          format,
		Dimension:       gputypes.TextureViewDimension2D,
		Aspect:          gputypes.TextureAspectAll,
		BaseMipLevel:    0,
		MipLevelCount:   1,
		BaseArrayLayer:  0,
		ArrayLayerCount: 1,
	})
	if err != nil {
		device.DestroyTexture(texture)
		return nil, fmt.Errorf("create view %s: %w", label, err)
	}

	return &renderTarget{
		texture: texture,
		view:    view,
		format:  format,
		width:   width,
		height:  height,
	}, nil
}

// destroy releases the target's texture and view.
func (rt *renderTarget) destroy(device hal.Device) {
	if rt == nil {
		return
	}
	if rt.view != nil {
		device.DestroyTextureView(rt.view)
		rt.view = nil
	}
	if rt.texture != nil {
		device.DestroyTexture(rt.texture)
		rt.texture = nil
	}
}

// mipLevel is one renderable level of a mip chain.
type mipLevel struct {
	// texture is non-nil only on the per-level fallback path.
	texture hal.Texture
	view    hal.TextureView
	width   uint32
	height  uint32
}

// mipChain is a chain of progressively halved render targets. On devices
// with subresource views one texture backs all levels and each level is a
// single-mip view into it; otherwise every level is its own texture.
type mipChain struct {
	shared hal.Texture
	// sampleView covers the full chain for sampling on the shared path.
	sampleView hal.TextureView
	levels     []mipLevel
	format     gputypes.TextureFormat
	width      uint32
	height     uint32
}

// newMipChain allocates a chain of levelCount levels starting at the given
// top size.
func newMipChain(device hal.Device, label string, width, height, levelCount uint32, format gputypes.TextureFormat, subresourceViews bool) (*mipChain, error) {
	if levelCount == 0 {
		levelCount = 1
	}
	m := &mipChain{
		format: format,
		width:  width,
		height: height,
		levels: make([]mipLevel, 0, levelCount),
	}

	if subresourceViews {
		texture, err := device.CreateTexture(&hal.TextureDescriptor{
			Label: label,
			Size: hal.Extent3D{
				Width:              width,
				Height:             height,
				DepthOrArrayLayers: 1,
			},
			MipLevelCount: levelCount,
			SampleCount:   1,
			Dimension:     gputypes.TextureDimension2D,
			Format:        format,
			Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding,
		})
		if err != nil {
			return nil, fmt.Errorf("create mip chain %s: %w", label, err)
		}
		m.shared = texture

		sampleView, err := device.CreateTextureView(texture, &hal.TextureViewDescriptor{
			Label:           label + "_all",
			Format:          format,
			Dimension:       gputypes.TextureViewDimension2D,
			Aspect:          gputypes.TextureAspectAll,
			BaseMipLevel:    0,
			MipLevelCount:   levelCount,
			BaseArrayLayer:  0,
			ArrayLayerCount: 1,
		})
		if err != nil {
			device.DestroyTexture(texture)
			return nil, fmt.Errorf("create mip chain view %s: %w", label, err)
		}
		m.sampleView = sampleView

		for i := uint32(0); i < levelCount; i++ {
			view, err := device.CreateTextureView(texture, &hal.TextureViewDescriptor{
				Label:           fmt.Sprintf("%s_mip%d", label, i),
				Format:          format,
				Dimension:       gputypes.TextureViewDimension2D,
				Aspect:          gputypes.TextureAspectAll,
				BaseMipLevel:    i,
				MipLevelCount:   1,
				BaseArrayLayer:  0,
				ArrayLayerCount: 1,
			})
			if err != nil {
				m.destroy(device)
				return nil, fmt.Errorf("create mip view %s/%d: %w", label, i, err)
			}
			m.levels = append(m.levels, mipLevel{
				view:   view,
				width:  max(width>>i, 1),
				height: max(height>>i, 1),
			})
		}
		return m, nil
	}

	// Per-level fallback: independent textures, halved per level.
	for i := uint32(0); i < levelCount; i++ {
		w := max(width>>i, 1)
		h := max(height>>i, 1)
		rt, err := newRenderTarget(device, fmt.Sprintf("%s_lvl%d", label, i), w, h, format)
		if err != nil {
			m.destroy(device)
			return nil, err
		}
		m.levels = append(m.levels, mipLevel{
			texture: rt.texture,
			view:    rt.view,
			width:   w,
			height:  h,
		})
	}
	return m, nil
}

// levelCount returns the number of levels in the chain.
func (m *mipChain) levelCount() uint32 {
	return uint32(len(m.levels))
}

// destroy releases all textures and views in the chain.
func (m *mipChain) destroy(device hal.Device) {
	if m == nil {
		return
	}
	for i := range m.levels {
		if m.levels[i].view != nil {
			device.DestroyTextureView(m.levels[i].view)
			m.levels[i].view = nil
		}
		if m.levels[i].texture != nil {
			device.DestroyTexture(m.levels[i].texture)
			m.levels[i].texture = nil
		}
	}
	m.levels = nil
	if m.sampleView != nil {
		device.DestroyTextureView(m.sampleView)
		m.sampleView = nil
	}
	if m.shared != nil {
		device.DestroyTexture(m.shared)
		m.shared = nil
	}
}

// newLinearSampler creates a clamping bilinear sampler.
func newLinearSampler(device hal.Device, label string) (hal.Sampler, error) {
	return device.CreateSampler(&hal.SamplerDescriptor{
		Label:        label,
		AddressModeU: gputypes.AddressModeClampToEdge,
		AddressModeV: gputypes.AddressModeClampToEdge,
		AddressModeW: gputypes.AddressModeClampToEdge,
		MagFilter:    gputypes.FilterModeLinear,
		MinFilter:    gputypes.FilterModeLinear,
		MipmapFilter: gputypes.FilterModeLinear,
	})
}

// newPointSampler creates a clamping nearest sampler.
func newPointSampler(device hal.Device, label string) (hal.Sampler, error) {
	return device.CreateSampler(&hal.SamplerDescriptor{
		Label:        label,
		AddressModeU: gputypes.AddressModeClampToEdge,
		AddressModeV: gputypes.AddressModeClampToEdge,
		AddressModeW: gputypes.AddressModeClampToEdge,
		MagFilter:    gputypes.FilterModeNearest,
		MinFilter:    gputypes.FilterModeNearest,
		MipmapFilter: gputypes.FilterModeNearest,
	})
}

// barrierToSampled inserts a write-to-sample transition for a texture when
// the device exposes explicit barriers. A nil texture is skipped, which
// covers borrowed views where only the view is known.
func barrierToSampled(encoder hal.CommandEncoder, caps Capabilities, texture hal.Texture) {
	if !caps.TextureBarriers || texture == nil {
		return
	}
	encoder.TransitionTextures([]hal.TextureBarrier{{
		Texture: texture,
		Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageRenderAttachment,
			NewUsage: gputypes.TextureUsageTextureBinding,
		},
	}})
}
