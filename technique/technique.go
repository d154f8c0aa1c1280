// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package technique implements lazily built GPU render techniques and the
// key-indexed cache that owns them.
//
// A Technique bundles one render pipeline with the bind group that supplies
// its resources. Pipelines are built exactly once per cache key; builds may
// run asynchronously, in which case callers poll IsReady once per frame and
// fall back to a placeholder pass until the build completes. A failed build
// pins the technique in the failed state permanently: the effect degrades to
// its placeholder instead of retrying a broken shader every frame.
package technique

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/postfx/internal/cache"
)

// Technique errors.
var (
	// ErrNilDevice is returned when a device is required but nil.
	ErrNilDevice = errors.New("technique: device is nil")

	// ErrNilDescriptor is returned when EnsureProgram is called with a nil
	// descriptor.
	ErrNilDescriptor = errors.New("technique: program descriptor is nil")

	// ErrEmptySource is returned when the WGSL source is empty.
	ErrEmptySource = errors.New("technique: shader source is empty")

	// ErrNotReady is returned when bindings are requested before the
	// program finished building.
	ErrNotReady = errors.New("technique: program is not ready")
)

// State describes the lifecycle of a technique's pipeline program.
type State int32

const (
	// StateUnrequested means EnsureProgram has not been called yet.
	StateUnrequested State = iota

	// StateCompiling means an asynchronous build is in flight.
	StateCompiling

	// StateReady means the pipeline exists and can be drawn with.
	StateReady

	// StateFailed means the build failed; the technique stays unusable
	// until the owning effect is reconstructed.
	StateFailed
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateUnrequested:
		return "Unrequested"
	case StateCompiling:
		return "Compiling"
	case StateReady:
		return "Ready"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Unknown(%d)", int32(s))
	}
}

// ProgramDesc describes the pipeline program of a technique. All fields that
// affect GPU behavior are fixed at build time; bindings are supplied later
// through EnsureBindings.
type ProgramDesc struct {
	// Label is a debug name, also used in build failure logs.
	Label string

	// Source is the WGSL module containing both entry points.
	Source string

	// VertexEntry is the vertex entry point. Defaults to "vs_main".
	VertexEntry string

	// FragmentEntry is the fragment entry point. Defaults to "fs_main".
	FragmentEntry string

	// Layout declares group(0) of the program: uniform buffers, sampled
	// textures, and samplers in binding order.
	Layout []gputypes.BindGroupLayoutEntry

	// ColorTargets lists the render target formats and blend states.
	ColorTargets []gputypes.ColorTargetState

	// DepthStencil configures the optional depth attachment. Nil for
	// color-only passes, which is the common case for screen-space work.
	DepthStencil *hal.DepthStencilState

	// Async requests a non-blocking build. The calling thread returns
	// immediately and polls IsReady until the pipeline is available.
	Async bool
}

// Technique owns one render pipeline and its current resource bindings.
//
// The zero Technique is valid and reports StateUnrequested. EnsureProgram
// transitions it to compiling exactly once; every later call is a no-op
// regardless of outcome. Pipeline state, once ready, is immutable for the
// lifetime of the technique.
type Technique struct {
	state atomic.Int32

	// mu protects the fields below. The build goroutine writes them before
	// publishing StateReady; the frame thread reads them afterwards.
	mu sync.Mutex

	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.RenderPipeline

	bindGroup  hal.BindGroup
	bindKey    uint64
	hasBindKey bool

	buildErr error
}

// EnsureProgram builds the technique's pipeline exactly once. Subsequent
// calls are no-ops, including after a failed build. When desc.Async is set
// the build runs on its own goroutine and the call returns immediately;
// otherwise the pipeline is ready (or failed) on return.
func (t *Technique) EnsureProgram(device hal.Device, desc *ProgramDesc) {
	if device == nil || desc == nil || desc.Source == "" {
		// Contract violation: record it once and pin the failed state so
		// the owning effect degrades to its placeholder.
		if t.state.CompareAndSwap(int32(StateUnrequested), int32(StateCompiling)) {
			err := ErrNilDevice
			switch {
			case desc == nil:
				err = ErrNilDescriptor
			case desc != nil && desc.Source == "":
				err = ErrEmptySource
			}
			t.fail(desc, err)
		}
		return
	}
	if !t.state.CompareAndSwap(int32(StateUnrequested), int32(StateCompiling)) {
		return
	}

	d := *desc
	if d.VertexEntry == "" {
		d.VertexEntry = "vs_main"
	}
	if d.FragmentEntry == "" {
		d.FragmentEntry = "fs_main"
	}

	if d.Async {
		go t.build(device, &d)
		return
	}
	t.build(device, &d)
}

// build compiles the WGSL source and creates the pipeline objects. It runs
// on the caller's goroutine for synchronous builds and on a dedicated
// goroutine for asynchronous ones; hal devices are safe for concurrent
// resource creation.
func (t *Technique) build(device hal.Device, desc *ProgramDesc) {
	spirv, err := compileWGSL(desc.Source)
	if err != nil {
		t.fail(desc, fmt.Errorf("compile %s: %w", desc.Label, err))
		return
	}

	shader, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label + "_shader",
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		t.fail(desc, fmt.Errorf("create shader module %s: %w", desc.Label, err))
		return
	}

	bindLayout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   desc.Label + "_bind_layout",
		Entries: desc.Layout,
	})
	if err != nil {
		device.DestroyShaderModule(shader)
		t.fail(desc, fmt.Errorf("create bind group layout %s: %w", desc.Label, err))
		return
	}

	pipeLayout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            desc.Label + "_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
	})
	if err != nil {
		device.DestroyBindGroupLayout(bindLayout)
		device.DestroyShaderModule(shader)
		t.fail(desc, fmt.Errorf("create pipeline layout %s: %w", desc.Label, err))
		return
	}

	pipeline, err := device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  desc.Label + "_pipeline",
		Layout: pipeLayout,
		Vertex: hal.VertexState{
			Module:     shader,
			EntryPoint: desc.VertexEntry,
		},
		Fragment: &hal.FragmentState{
			Module:     shader,
			EntryPoint: desc.FragmentEntry,
			Targets:    desc.ColorTargets,
		},
		DepthStencil: desc.DepthStencil,
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		device.DestroyPipelineLayout(pipeLayout)
		device.DestroyBindGroupLayout(bindLayout)
		device.DestroyShaderModule(shader)
		t.fail(desc, fmt.Errorf("create pipeline %s: %w", desc.Label, err))
		return
	}

	t.mu.Lock()
	t.shader = shader
	t.bindLayout = bindLayout
	t.pipeLayout = pipeLayout
	t.pipeline = pipeline
	t.mu.Unlock()
	t.state.Store(int32(StateReady))
}

// fail records a permanent build failure.
func (t *Technique) fail(desc *ProgramDesc, err error) {
	label := ""
	if desc != nil {
		label = desc.Label
	}
	logger().Warn("technique build failed", "label", label, "err", err)
	t.mu.Lock()
	t.buildErr = err
	t.mu.Unlock()
	t.state.Store(int32(StateFailed))
}

// State returns the current program state.
func (t *Technique) State() State {
	return State(t.state.Load())
}

// IsReady reports whether the pipeline finished building and can be drawn
// with. Immediately true after a synchronous EnsureProgram; polled once per
// frame for asynchronous builds.
func (t *Technique) IsReady() bool {
	return t.State() == StateReady
}

// Err returns the build error, or nil if the build succeeded or has not
// finished.
func (t *Technique) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buildErr
}

// EnsureBindings creates or reuses the technique's bind group. The key
// identifies the set of bound resources; bindings are rebuilt only when the
// identity of an input changes, never when merely its contents do. Callers
// pass the same entries whenever they pass the same key.
func (t *Technique) EnsureBindings(device hal.Device, key uint64, entries []gputypes.BindGroupEntry) error {
	if !t.IsReady() {
		return ErrNotReady
	}
	if device == nil {
		return ErrNilDevice
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.hasBindKey && t.bindKey == key && t.bindGroup != nil {
		return nil
	}

	if t.bindGroup != nil {
		device.DestroyBindGroup(t.bindGroup)
		t.bindGroup = nil
	}

	bindGroup, err := device.CreateBindGroup(&hal.BindGroupDescriptor{
		Layout:  t.bindLayout,
		Entries: entries,
	})
	if err != nil {
		t.hasBindKey = false
		return fmt.Errorf("create bind group: %w", err)
	}
	t.bindGroup = bindGroup
	t.bindKey = key
	t.hasBindKey = true
	return nil
}

// InvalidateBindings destroys the current bind group, forcing the next
// EnsureBindings call to rebuild it. Effects call this when frame-sized
// resources were reallocated and stale views must not be rebound.
func (t *Technique) InvalidateBindings(device hal.Device) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bindGroup != nil && device != nil {
		device.DestroyBindGroup(t.bindGroup)
	}
	t.bindGroup = nil
	t.hasBindKey = false
}

// Record issues the technique's full-screen draw into an open render pass:
// pipeline, group(0) bindings, and a single three-vertex triangle covering
// the viewport. The caller must have verified IsReady and EnsureBindings.
func (t *Technique) Record(rp hal.RenderPassEncoder) {
	t.mu.Lock()
	pipeline := t.pipeline
	bindGroup := t.bindGroup
	t.mu.Unlock()

	if pipeline == nil {
		return
	}
	rp.SetPipeline(pipeline)
	if bindGroup != nil {
		rp.SetBindGroup(0, bindGroup, nil)
	}
	rp.Draw(3, 1, 0, 0)
}

// Destroy releases all GPU resources in reverse creation order. The
// technique is unusable afterwards.
func (t *Technique) Destroy(device hal.Device) {
	if device == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.bindGroup != nil {
		device.DestroyBindGroup(t.bindGroup)
		t.bindGroup = nil
	}
	if t.pipeline != nil {
		device.DestroyRenderPipeline(t.pipeline)
		t.pipeline = nil
	}
	if t.pipeLayout != nil {
		device.DestroyPipelineLayout(t.pipeLayout)
		t.pipeLayout = nil
	}
	if t.bindLayout != nil {
		device.DestroyBindGroupLayout(t.bindLayout)
		t.bindLayout = nil
	}
	if t.shader != nil {
		device.DestroyShaderModule(t.shader)
		t.shader = nil
	}
	t.hasBindKey = false
}

// AllReady reports whether every given technique is ready. Effects gate
// their frame on this before issuing any dependent draw.
func AllReady(techniques ...*Technique) bool {
	for _, t := range techniques {
		if t == nil || !t.IsReady() {
			return false
		}
	}
	return true
}

// translations memoizes WGSL to SPIR-V compilation. Program variants share
// module sources, so rebuilds after a resize or flag flip hit the cache.
var translations = cache.NewSharded[string, []uint32](cache.DefaultCapacity, cache.StringHasher)

// compileWGSL compiles WGSL source to SPIR-V words for hal shader module
// creation. SPIR-V is little-endian 32-bit words.
func compileWGSL(source string) ([]uint32, error) {
	return translations.GetOrCreate(source, func() ([]uint32, error) {
		spirvBytes, err := naga.Compile(source)
		if err != nil {
			return nil, fmt.Errorf("failed to compile shader: %w", err)
		}

		spirvCode := make([]uint32, len(spirvBytes)/4)
		for i := range spirvCode {
			spirvCode[i] = uint32(spirvBytes[i*4]) |
				uint32(spirvBytes[i*4+1])<<8 |
				uint32(spirvBytes[i*4+2])<<16 |
				uint32(spirvBytes[i*4+3])<<24
		}
		return spirvCode, nil
	})
}
