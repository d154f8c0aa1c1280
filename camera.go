// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package postfx

import (
	"github.com/chewxy/math32"
	"golang.org/x/image/math/f32"
)

// CameraAttribs carries the per-frame camera state the effects depend on.
// Matrices are column-major, matching WGSL mat4x4 layout.
type CameraAttribs struct {
	// View transforms world space to view space.
	View f32.Mat4

	// Proj is the unjittered projection matrix.
	Proj f32.Mat4

	// ViewProj is Proj * View, unjittered.
	ViewProj f32.Mat4

	// PrevViewProj is last frame's ViewProj, used for reprojection.
	PrevViewProj f32.Mat4

	// Near and Far are the clip plane distances.
	Near float32
	Far  float32

	// Jitter is the sub-pixel offset applied this frame, in UV units.
	Jitter f32.Vec2
}

// identityMat4 returns the column-major identity matrix.
func identityMat4() f32.Mat4 {
	return f32.Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// matrixDelta returns the largest absolute element difference between two
// matrices.
func matrixDelta(a, b f32.Mat4) float32 {
	var d float32
	for i := range a {
		d = math32.Max(d, math32.Abs(a[i]-b[i]))
	}
	return d
}

// cameraCutThreshold is the matrix delta beyond which a frame is treated
// as a hard cut rather than continuous motion.
const cameraCutThreshold = 0.25

// IsCut reports whether the camera moved discontinuously since the
// previous frame. Temporal effects drop their history on a cut.
func (c CameraAttribs) IsCut() bool {
	return matrixDelta(c.ViewProj, c.PrevViewProj) > cameraCutThreshold
}

// encode packs the camera state for the shared camera uniform buffer.
func (c *CameraAttribs) encode(u *uniformBlock) {
	for _, m := range []f32.Mat4{c.View, c.Proj, c.ViewProj, c.PrevViewProj} {
		for _, v := range m {
			u.putF32(v)
		}
	}
	u.putF32(c.Near)
	u.putF32(c.Far)
	u.putVec2(c.Jitter)
}
