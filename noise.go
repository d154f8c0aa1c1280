// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package postfx

import "math/bits"

// The blue-noise passes animate two static 128x128 tiles: a Sobol sequence
// tile providing the low-discrepancy base points and a per-pixel
// scrambling tile that decorrelates neighboring pixels. Both are
// deterministic, generated on the CPU at context creation.

// sobolDim2 returns the second Sobol dimension for index i, using the
// direction vectors of the primitive polynomial x^2 + x + 1.
func sobolDim2(i uint32) uint32 {
	v := uint32(1 << 31)
	var result uint32
	for ; i != 0; i >>= 1 {
		if i&1 != 0 {
			result ^= v
		}
		v ^= v >> 1
	}
	return result
}

// hashWang is a small integer hash with good avalanche behavior.
func hashWang(v uint32) uint32 {
	v = (v ^ 61) ^ (v >> 16)
	v *= 9
	v ^= v >> 4
	v *= 0x27d4eb2d
	v ^= v >> 15
	return v
}

// sobolTile generates the RGBA8 Sobol base tile. The red and green
// channels hold the first two Sobol dimensions; blue and alpha hold two
// decorrelated shuffles of them.
func sobolTile() []byte {
	data := make([]byte, noiseTileSize*noiseTileSize*4)
	for y := 0; y < noiseTileSize; y++ {
		for x := 0; x < noiseTileSize; x++ {
			i := uint32(y*noiseTileSize + x)
			d0 := bits.Reverse32(i) >> 24
			d1 := sobolDim2(i) >> 24
			d2 := bits.Reverse32(i^0x5555) >> 24
			d3 := sobolDim2(i^0xAAAA) >> 24

			o := i * 4
			data[o] = byte(d0)
			data[o+1] = byte(d1)
			data[o+2] = byte(d2)
			data[o+3] = byte(d3)
		}
	}
	return data
}

// scramblingTile generates the RGBA8 per-pixel scrambling tile from a
// hash of the pixel position.
func scramblingTile() []byte {
	data := make([]byte, noiseTileSize*noiseTileSize*4)
	for y := 0; y < noiseTileSize; y++ {
		for x := 0; x < noiseTileSize; x++ {
			i := uint32(y*noiseTileSize + x)
			h := hashWang(i)

			o := i * 4
			data[o] = byte(h)
			data[o+1] = byte(h >> 8)
			data[o+2] = byte(h >> 16)
			data[o+3] = byte(h >> 24)
		}
	}
	return data
}
