// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package spike

import "errors"

var (
	// ErrFraming is returned for a frame that cannot be unstuffed.
	ErrFraming = errors.New("framing error")

	// ErrTruncatedMessage is returned when a message is shorter than the
	// layout its kind requires.
	ErrTruncatedMessage = errors.New("truncated message")

	// ErrUnknownMessageKind is returned for a message identifier with no
	// registered layout.
	ErrUnknownMessageKind = errors.New("unknown message kind")

	// ErrUnknownDeviceMessage is returned alongside the records decoded so
	// far when a device notification contains an unknown record kind.
	ErrUnknownDeviceMessage = errors.New("unknown device message")

	// ErrEncoding is returned for a message that cannot be encoded.
	ErrEncoding = errors.New("encoding error")
)
