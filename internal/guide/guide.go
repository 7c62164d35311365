// Copyright 2023 The ssht Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package guide manipulates the slot descriptor array ("guide") of a table.
// Each byte describes one slot: Empty means unoccupied, a set Busy bit with
// the low bits not all ones means an insert is in flight, and otherwise the
// low 7 bits are the mark of the stored key.
package guide

import "math/bits"

const (
	// SlotsPerSet is the number of slots (and guide bytes) in one set.
	SlotsPerSet = 64

	// Empty marks an unoccupied slot.
	Empty = 0xff
	// Busy is the high bit of a descriptor.  A descriptor equal to Busy
	// alone is a claimed slot whose line is still being written.
	Busy = 0x80
)

const (
	lsb = 0x0101010101010101
	msb = 0x8080808080808080
)

// Hint scans eight consecutive guide bytes, packed little-endian into vec,
// against a 7-bit mark.  Byte i of the result has its high bit set iff that
// slot is empty or in-progress (descriptor high bit set) or carries the mark
// (descriptor high bit clear, low 7 bits equal to mark).  Callers must
// re-inspect the descriptor to tell the two cases apart, and re-compare the
// full key on a mark match.
func Hint(vec uint64, mark byte) uint64 {
	vmark := ^(lsb * uint64(mark))
	match := (vec ^ msb) & msb & (((vec ^ vmark) &^ msb) + lsb)
	empty := vec & msb
	return empty | match
}

// Index converts the lowest set bit of a non-zero hint into its byte index.
// Clear the bit with hint &= hint-1 to advance to the next candidate.
func Index(hint uint64) uint32 {
	return uint32((bits.TrailingZeros64(hint)+1)>>3) - 1
}
