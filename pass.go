// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package postfx

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/postfx/technique"
)

// colorAttachments builds a render pass color attachment list. When clear
// is true the targets start from the given color, otherwise the previous
// contents are loaded.
func colorAttachments(views []hal.TextureView, clear bool, clearColor gputypes.Color) []hal.RenderPassColorAttachment {
	attachments := make([]hal.RenderPassColorAttachment, 0, len(views))
	for _, view := range views {
		a := hal.RenderPassColorAttachment{
			View:    view,
			LoadOp:  gputypes.LoadOpLoad,
			StoreOp: gputypes.StoreOpStore,
		}
		if clear {
			a.LoadOp = gputypes.LoadOpClear
			a.ClearValue = clearColor
		}
		attachments = append(attachments, a)
	}
	return attachments
}

// recordFullscreen runs one full-screen technique pass into the given
// color targets.
func recordFullscreen(encoder hal.CommandEncoder, label string, tech *technique.Technique, views ...hal.TextureView) {
	rp := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label:            label,
		ColorAttachments: colorAttachments(views, false, gputypes.Color{}),
	})
	tech.Record(rp)
	rp.End()
}

// recordClear clears the given color targets to a flat value without any
// draw. Effects emit this while their programs are still compiling so the
// output keeps the shape downstream passes expect.
func recordClear(encoder hal.CommandEncoder, label string, clearColor gputypes.Color, views ...hal.TextureView) {
	rp := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label:            label,
		ColorAttachments: colorAttachments(views, true, clearColor),
	})
	rp.End()
}
