// Package postfx provides real-time post-processing effects for the GoGPU
// ecosystem.
//
// # Overview
//
// postfx implements the screen-space passes that turn a rendered scene into
// a presentable frame: bloom, depth of field, screen-space reflections,
// screen-space ambient occlusion, temporal anti-aliasing, and spatial
// super-resolution upscaling. All effects run against a wgpu/hal device
// supplied by the host application; postfx never creates its own device.
//
// # Quick Start
//
//	ctx, _ := postfx.NewContext(device, queue)
//	bloom, _ := postfx.NewBloom(device, queue)
//
//	// Every frame, in order:
//	ctx.PrepareResources(frame, 0)
//	bloom.PrepareResources(frame, 0)
//
//	ctx.Execute(&postfx.ContextExecuteAttribs{ ... })
//	bloom.Execute(&postfx.BloomExecuteAttribs{ ... })
//
//	composed := bloom.Output() // feed to the next stage or the swapchain
//
// # Architecture
//
// The library is organized into:
//   - Public API: Context (shared per-frame precomputation), one engine type
//     per effect (Bloom, SSR, SSAO, DoF, TAA, Upscale)
//   - technique: lazily built, key-indexed pipeline cache with asynchronous
//     WGSL compilation via gogpu/naga
//   - resset: slot-indexed resource tables separating borrowed per-frame
//     inputs from effect-owned textures and buffers
//   - chain: an optional fixed-order sequencer that drives a full effect
//     stack per frame
//
// # Pipeline readiness
//
// Pipelines may be compiled asynchronously (see WithAsyncPipelines). While an
// effect's pipelines are still compiling, Execute degrades to a placeholder
// pass: the declared output is produced with the correct size and format from
// a plain copy or clear, so downstream consumers never observe garbage.
// Once the pipelines become ready the effect fades in over wall-clock time
// rather than popping into the frame.
//
// # History buffers
//
// Temporal effects keep two buffers per history channel and select
// current/previous by frame-index parity. A skipped or repeated frame index,
// or an explicit reset request, invalidates history: the shaders receive a
// reset flag instead of ever trusting stale content.
package postfx

// Version information
const (
	// Version is the current version of the library
	Version = "0.3.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 3

	// VersionPatch is the patch version
	VersionPatch = 0
)
