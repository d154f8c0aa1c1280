// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package postfx

import "math/bits"

// FrameDesc describes one frame of the post-processing pipeline. The host
// owns the frame counter and render dimensions and passes the descriptor by
// value into PrepareResources every frame.
//
// Width and Height are the render resolution: the size of the scene color,
// depth, and motion inputs. OutputWidth and OutputHeight are the presentation
// resolution and only differ from the render resolution when an upscaling
// pass is active.
type FrameDesc struct {
	// Index is a monotonic frame counter. Temporal effects derive their
	// history buffer parity from it; a gap in the sequence invalidates
	// accumulated history.
	Index uint64

	// Width is the render width in pixels.
	Width uint32

	// Height is the render height in pixels.
	Height uint32

	// OutputWidth is the final output width in pixels. Zero means Width.
	OutputWidth uint32

	// OutputHeight is the final output height in pixels. Zero means Height.
	OutputHeight uint32
}

// resolve fills zero output dimensions from the render dimensions.
func (d FrameDesc) resolve() FrameDesc {
	if d.OutputWidth == 0 {
		d.OutputWidth = d.Width
	}
	if d.OutputHeight == 0 {
		d.OutputHeight = d.Height
	}
	return d
}

// sameSize reports whether both descriptors describe identical render and
// output dimensions. The frame index is deliberately ignored: it advances
// every frame without affecting resource shapes.
func (d FrameDesc) sameSize(o FrameDesc) bool {
	d, o = d.resolve(), o.resolve()
	return d.Width == o.Width && d.Height == o.Height &&
		d.OutputWidth == o.OutputWidth && d.OutputHeight == o.OutputHeight
}

// HistoryIndex returns the current and previous history buffer indices for
// the given frame. The two indices are always distinct: current is
// frame & 1 and previous is (frame + 1) & 1.
func HistoryIndex(frame uint64) (current, previous int) {
	return int(frame & 1), int((frame + 1) & 1)
}

// MipLevelCount returns the number of mip levels in a full chain for a
// texture of the given dimensions: one level per halving down to 1×1.
// Returns 0 when either dimension is 0.
func MipLevelCount(width, height uint32) uint32 {
	if width == 0 || height == 0 {
		return 0
	}
	side := max(width, height)
	return uint32(bits.Len32(side))
}

// Capabilities describes device features that select between post-processing
// code paths. They are queried once by the host at startup and passed in at
// construction; they never change for the lifetime of an effect.
type Capabilities struct {
	// SubresourceViews reports whether individual mip levels of one texture
	// can be bound as render attachments while other levels of the same
	// texture are sampled. When false, mip-chain convolutions run against
	// per-level intermediate textures instead of subresource views. This is
	// a hard device switch, not a quality setting.
	SubresourceViews bool

	// TextureBarriers reports whether the backend requires (and supports)
	// explicit texture usage transitions between passes that write and then
	// sample a texture. Backends with implicit tracking leave this false.
	TextureBarriers bool
}

// DefaultCapabilities returns the capability set of a fully featured backend
// (Vulkan, Metal, DX12 via wgpu/hal).
func DefaultCapabilities() Capabilities {
	return Capabilities{
		SubresourceViews: true,
		TextureBarriers:  true,
	}
}
