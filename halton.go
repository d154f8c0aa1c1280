// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package postfx

import "golang.org/x/image/math/f32"

// jitterSequenceLength is the period of the TAA jitter pattern. Sixteen
// Halton(2,3) samples cover the pixel footprint evenly before repeating.
const jitterSequenceLength = 16

// haltonSequence returns the radical inverse of index in the given base,
// a low-discrepancy value in [0, 1).
func haltonSequence(index uint64, base uint64) float32 {
	var result float64
	fraction := 1.0 / float64(base)
	for index > 0 {
		result += float64(index%base) * fraction
		index /= base
		fraction /= float64(base)
	}
	return float32(result)
}

// JitterOffset returns the subpixel camera jitter for the given frame index,
// in units of pixels, each component in [-0.5, 0.5). The sequence is
// Halton(2,3) with a period of 16 frames; the host applies the offset to the
// projection matrix and reports it back through CameraAttribs so TAA can
// unjitter its samples.
func JitterOffset(frame uint64) f32.Vec2 {
	index := frame%jitterSequenceLength + 1
	return f32.Vec2{
		haltonSequence(index, 2) - 0.5,
		haltonSequence(index, 3) - 0.5,
	}
}
