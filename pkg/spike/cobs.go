// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package spike

import "fmt"

// Pack stuffs payload so it contains no byte at or below the delimiter,
// masks it and appends the delimiter. The result is one wire frame.
func Pack(payload []byte) []byte {
	frame := stuff(payload, make([]byte, 0, len(payload)+len(payload)/MaxBlockSize+3))
	for i := range frame {
		frame[i] ^= FrameXor
	}
	return append(frame, Delimiter)
}

// Unpack reverses Pack. A leading priority byte is skipped.
func Unpack(frame []byte) ([]byte, error) {
	if len(frame) == 0 || frame[len(frame)-1] != Delimiter {
		return nil, fmt.Errorf("%w: missing delimiter", ErrFraming)
	}
	body := frame[:len(frame)-1]
	if len(body) > 0 && body[0] == PriorityByte {
		body = body[1:]
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrFraming)
	}

	unmasked := make([]byte, len(body))
	for i, b := range body {
		unmasked[i] = b ^ FrameXor
	}
	return unstuff(unmasked)
}

// stuff encodes data in blocks of at most MaxBlockSize bytes, each led by a
// code word. A code word records the block length and which low byte (if
// any) ended the block.
func stuff(data []byte, out []byte) []byte {
	codeIndex := len(out)
	out = append(out, NoDelimiter)
	block := 1

	for _, b := range data {
		if b > Delimiter {
			out = append(out, b)
			block++
		}
		if b <= Delimiter || block > MaxBlockSize {
			if b <= Delimiter {
				out[codeIndex] = byte(int(b)*MaxBlockSize + block + CodeOffset)
			}
			codeIndex = len(out)
			out = append(out, NoDelimiter)
			block = 1
		}
	}

	out[codeIndex] = byte(block + CodeOffset)
	return out
}

// unescape splits a code word into the byte that ended its block and the
// block length including the code word.
func unescape(code byte) (value byte, block int, escaped bool, err error) {
	if code == NoDelimiter {
		return 0, MaxBlockSize + 1, false, nil
	}
	if code <= CodeOffset {
		return 0, 0, false, fmt.Errorf("%w: invalid code word 0x%02X", ErrFraming, code)
	}
	v, r := (int(code)-CodeOffset)/MaxBlockSize, (int(code)-CodeOffset)%MaxBlockSize
	if r == 0 {
		r = MaxBlockSize
		v--
	}
	return byte(v), r, true, nil
}

func unstuff(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data))

	value, block, escaped, err := unescape(data[0])
	if err != nil {
		return nil, err
	}

	for i, b := range data[1:] {
		block--
		if block > 0 {
			if b <= Delimiter {
				return nil, fmt.Errorf("%w: unstuffed byte 0x%02X at offset %d", ErrFraming, b, i+1)
			}
			out = append(out, b)
			continue
		}
		if escaped {
			out = append(out, value)
		}
		value, block, escaped, err = unescape(b)
		if err != nil {
			return nil, err
		}
	}

	if block != 1 {
		return nil, fmt.Errorf("%w: truncated block (%d bytes missing)", ErrFraming, block-1)
	}
	return out, nil
}
