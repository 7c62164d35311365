// Copyright 2023 The ssht Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package guide

import (
	"sync/atomic"
	"unsafe"
)

// Atomic is a view of a guide byte array that supports the per-slot
// transitions of a concurrent build: claim an empty slot, then publish its
// mark once the line is written.  Go has no byte-wide atomics, so each
// descriptor is accessed through a CAS on the aligned 32-bit word that
// contains it.
//
// SAFETY: the backing slice must start at the beginning of its allocation
// (as returned by make), so every 4-byte word addressed here is aligned, and
// its length must be a multiple of 4.  Guide arrays are always a multiple of
// SlotsPerSet bytes, which satisfies both.
type Atomic struct {
	b []byte
}

// NewAtomic wraps a guide byte array for concurrent slot updates.
func NewAtomic(b []byte) Atomic {
	return Atomic{b: b}
}

func (g Atomic) word(i uint64) (*uint32, uint) {
	w := (*uint32)(unsafe.Pointer(&g.b[i&^3]))
	return w, uint(i&3) * 8
}

// Load returns the descriptor of slot i.
func (g Atomic) Load(i uint64) byte {
	w, sft := g.word(i)
	return byte(atomic.LoadUint32(w) >> sft)
}

// TryClaim transitions slot i from Empty to Busy.  It reports false when the
// slot is no longer empty or a neighboring descriptor changed concurrently;
// the caller re-examines the slot either way.
func (g Atomic) TryClaim(i uint64) bool {
	w, sft := g.word(i)
	old := atomic.LoadUint32(w)
	if byte(old>>sft) != Empty {
		return false
	}
	neu := old&^(uint32(0xff)<<sft) | uint32(Busy)<<sft
	return atomic.CompareAndSwapUint32(w, old, neu)
}

// Publish stores mark into slot i, making the slot's line visible to
// readers.  The caller must have claimed the slot.  Neighboring descriptors
// in the same word may change underneath us, so loop until the CAS lands.
func (g Atomic) Publish(i uint64, mark byte) {
	w, sft := g.word(i)
	for {
		old := atomic.LoadUint32(w)
		neu := old&^(uint32(0xff)<<sft) | uint32(mark)<<sft
		if atomic.CompareAndSwapUint32(w, old, neu) {
			return
		}
	}
}
