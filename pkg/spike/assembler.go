// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package spike

import "bytes"

// Assembler reassembles frames from packets. The link delivers frames split
// across MTU-sized packets, and a packet may end one frame and begin the next.
type Assembler struct {
	buffer  []byte
	limit   int
	dropped uint64
}

// NewAssembler creates an assembler that buffers up to MaxFrameSize bytes.
func NewAssembler() *Assembler {
	return &Assembler{limit: MaxFrameSize}
}

// Feed appends a packet and returns every frame it completed, in order.
// Returned frames include the delimiter and are safe to retain.
func (a *Assembler) Feed(packet []byte) [][]byte {
	var frames [][]byte
	for len(packet) > 0 {
		i := bytes.IndexByte(packet, Delimiter)
		if i < 0 {
			a.buffer = append(a.buffer, packet...)
			break
		}
		frame := make([]byte, 0, len(a.buffer)+i+1)
		frame = append(frame, a.buffer...)
		frame = append(frame, packet[:i+1]...)
		frames = append(frames, frame)
		a.buffer = a.buffer[:0]
		packet = packet[i+1:]
	}

	if len(a.buffer) > a.limit {
		a.buffer = a.buffer[:0]
		a.dropped++
	}
	return frames
}

// Pending returns the number of buffered bytes awaiting a delimiter.
func (a *Assembler) Pending() int {
	return len(a.buffer)
}

// Dropped returns how many partial frames were discarded for exceeding the
// buffer limit.
func (a *Assembler) Dropped() uint64 {
	return a.dropped
}

// Reset discards any partial frame.
func (a *Assembler) Reset() {
	a.buffer = a.buffer[:0]
}
