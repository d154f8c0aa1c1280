// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package postfx

import (
	_ "embed"
)

// Embedded WGSL shader sources.
// These are compiled at build time using go:embed directives.

//go:embed shaders/fullscreen.wgsl
var fullscreenShaderSource string

//go:embed shaders/copy.wgsl
var copyShaderSource string

//go:embed shaders/context.wgsl
var contextShaderSource string

//go:embed shaders/bloom.wgsl
var bloomShaderSource string

//go:embed shaders/ssao.wgsl
var ssaoShaderSource string

//go:embed shaders/ssr.wgsl
var ssrShaderSource string

//go:embed shaders/dof.wgsl
var dofShaderSource string

//go:embed shaders/taa.wgsl
var taaShaderSource string

//go:embed shaders/upscale.wgsl
var upscaleShaderSource string

// shaderSource prepends the shared full-screen vertex stage to an effect's
// fragment module. WGSL has no include mechanism, so each pass module is
// compiled as one concatenated source string.
func shaderSource(body string) string {
	return fullscreenShaderSource + "\n" + body
}
