// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package postfx

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/image/math/f32"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// uniformBlock packs shader constants into a little-endian byte block and
// uploads it to a uniform buffer. Uploads are skipped when the packed
// bytes are identical to the previous frame's, so static settings cost no
// queue traffic.
type uniformBlock struct {
	buffer hal.Buffer
	data   []byte
	prev   []byte
	size   uint64
}

// newUniformBlock allocates a uniform buffer of the given byte size.
// Size is rounded up to a 16-byte multiple to satisfy uniform alignment.
func newUniformBlock(device hal.Device, label string, size uint64) (*uniformBlock, error) {
	size = (size + 15) &^ 15
	buffer, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create uniform buffer %s: %w", label, err)
	}
	return &uniformBlock{
		buffer: buffer,
		data:   make([]byte, 0, size),
		size:   size,
	}, nil
}

// reset clears the packed data for a new frame.
func (u *uniformBlock) reset() {
	u.data = u.data[:0]
}

// putF32 appends one float32.
func (u *uniformBlock) putF32(v float32) {
	u.data = binary.LittleEndian.AppendUint32(u.data, math.Float32bits(v))
}

// putU32 appends one uint32.
func (u *uniformBlock) putU32(v uint32) {
	u.data = binary.LittleEndian.AppendUint32(u.data, v)
}

// putVec2 appends two float32 components.
func (u *uniformBlock) putVec2(v f32.Vec2) {
	u.putF32(v[0])
	u.putF32(v[1])
}

// upload pads the block to its buffer size and writes it, unless the bytes
// match the previous upload exactly.
func (u *uniformBlock) upload(queue hal.Queue) {
	for uint64(len(u.data)) < u.size {
		u.data = append(u.data, 0)
	}
	if bytes.Equal(u.data, u.prev) {
		return
	}
	queue.WriteBuffer(u.buffer, 0, u.data)
	u.prev = append(u.prev[:0], u.data...)
}

// invalidate forces the next upload to write regardless of content.
func (u *uniformBlock) invalidate() {
	u.prev = nil
}

// destroy releases the uniform buffer.
func (u *uniformBlock) destroy(device hal.Device) {
	if u.buffer != nil {
		device.DestroyBuffer(u.buffer)
		u.buffer = nil
	}
}
