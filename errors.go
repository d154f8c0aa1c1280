// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package postfx

import "errors"

// Package errors.
var (
	// ErrNilDevice is returned when an effect is constructed without a device.
	ErrNilDevice = errors.New("postfx: device is nil")

	// ErrNilQueue is returned when an effect is constructed without a queue.
	ErrNilQueue = errors.New("postfx: queue is nil")

	// ErrNilEncoder is returned when Execute is called without an encoder.
	ErrNilEncoder = errors.New("postfx: command encoder is nil")

	// ErrNilContext is returned when Execute is called without a frame context.
	ErrNilContext = errors.New("postfx: frame context is nil")

	// ErrInvalidSize is returned when PrepareResources receives a zero dimension.
	ErrInvalidSize = errors.New("postfx: frame size must be non-zero")

	// ErrNotPrepared is returned when Execute runs before PrepareResources.
	ErrNotPrepared = errors.New("postfx: resources not prepared")

	// ErrMissingInput is returned when a required input view was not provided.
	ErrMissingInput = errors.New("postfx: required input view is missing")

	// ErrDestroyed is returned when an effect is used after Destroy.
	ErrDestroyed = errors.New("postfx: effect is destroyed")
)
