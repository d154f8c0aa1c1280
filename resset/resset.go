// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package resset implements slot-indexed resource tables for post-processing
// effects.
//
// Each effect declares a closed enumeration of resource slots. The low slot
// range refers to borrowed resources: caller-owned textures captured for the
// duration of a single Execute call and released at its end. The remaining
// slots hold resources the effect itself creates, resizes, and destroys.
//
// A Set performs no GPU calls of its own; it is pure bookkeeping. Destroying
// the underlying textures and buffers remains the responsibility of whoever
// owns them.
package resset

import (
	"github.com/gogpu/wgpu/hal"
)

// Slot identifies one entry in a Set. Effects define their slots as a
// compile-time enumeration starting at zero.
type Slot int

// Resource is a tagged handle to either a texture (with its default
// shader-resource view) or a buffer. The zero Resource is empty.
type Resource struct {
	// Texture is the underlying texture, nil for buffer resources.
	Texture hal.Texture

	// View is the texture's sampled view. Optional even for textures:
	// depth attachments that are never sampled carry no view.
	View hal.TextureView

	// Buffer is the underlying buffer, nil for texture resources.
	Buffer hal.Buffer
}

// TextureResource wraps a texture and its sampled view.
func TextureResource(tex hal.Texture, view hal.TextureView) Resource {
	return Resource{Texture: tex, View: view}
}

// BufferResource wraps a buffer.
func BufferResource(buf hal.Buffer) Resource {
	return Resource{Buffer: buf}
}

// Valid reports whether the resource holds a live texture or buffer.
func (r Resource) Valid() bool {
	return r.Texture != nil || r.Buffer != nil
}

// Set is a sparse table from slot index to resource handle. The zero Set is
// ready to use. A Set is not safe for concurrent use; effects record frames
// from a single goroutine.
type Set struct {
	entries []Resource
}

// Insert stores or replaces the resource at the given slot, growing the
// table as needed. Inserting at a negative slot is a caller contract
// violation and is ignored.
func (s *Set) Insert(slot Slot, r Resource) {
	if slot < 0 {
		return
	}
	if int(slot) >= len(s.entries) {
		grown := make([]Resource, slot+1)
		copy(grown, s.entries)
		s.entries = grown
	}
	s.entries[slot] = r
}

// Get returns the resource stored at slot, or an empty Resource if the slot
// was never inserted.
func (s *Set) Get(slot Slot) Resource {
	if slot < 0 || int(slot) >= len(s.entries) {
		return Resource{}
	}
	return s.entries[slot]
}

// Release drops the reference held at slot without shrinking the table.
// The underlying GPU object is untouched.
func (s *Set) Release(slot Slot) {
	if slot < 0 || int(slot) >= len(s.entries) {
		return
	}
	s.entries[slot] = Resource{}
}

// ReleaseRange releases every slot in [first, last]. Used to drop all
// borrowed input references at the end of an Execute call.
func (s *Set) ReleaseRange(first, last Slot) {
	for slot := first; slot <= last; slot++ {
		s.Release(slot)
	}
}

// Len returns the current table size (one past the highest inserted slot).
func (s *Set) Len() int {
	return len(s.entries)
}
