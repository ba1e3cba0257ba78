// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package spike

import "hash/crc32"

// crcAlign is the padding boundary the hub applies before checksumming.
const crcAlign = 4

// UpdateCRC continues a CRC-32 (IEEE) from running over chunk. Folding it
// over any ordered partition of data yields UpdateCRC(0, data).
func UpdateCRC(running uint32, chunk []byte) uint32 {
	return crc32.Update(running, crc32.IEEETable, chunk)
}

// AlignedCRC continues running over chunk zero-padded to a multiple of four
// bytes. This is the form the hub verifies for files and transfer chunks.
func AlignedCRC(running uint32, chunk []byte) uint32 {
	crc := UpdateCRC(running, chunk)
	if r := len(chunk) % crcAlign; r != 0 {
		var pad [crcAlign]byte
		crc = UpdateCRC(crc, pad[:crcAlign-r])
	}
	return crc
}

// ChecksumCRC returns the aligned CRC of a whole file.
func ChecksumCRC(data []byte) uint32 {
	return AlignedCRC(0, data)
}
