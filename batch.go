// Copyright 2023 The ssht Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package ssht

import (
	"bytes"
	"encoding/binary"
	"math/bits"
	"unsafe"

	"github.com/bpowers/ssht/internal/guide"
)

const (
	// batchWindow is the number of in-flight queries the pipeline keeps.
	batchWindow = 16

	// cacheBlockSize must be >= 64 and a power of two.
	cacheBlockSize = 64
)

// prefetch touches the first byte of p so its cache line is resident by the
// time the pipeline comes back to this query.
func prefetch(p []byte) {
	if len(p) != 0 {
		_ = p[0]
	}
}

// batchState is one query's position in the pipeline: which artifact it is
// probing (the patch first, then the base), where the probe stands, and the
// candidate line awaiting a key compare.
type batchState struct {
	idx     int
	sft     uint32
	cur     uint32
	mark    byte
	set     uint64
	scanned uint64
	line    []byte
	pack    *view
}

// batchProcess drives up to batchWindow queries concurrently through the
// probe steps: guide prefetch, guide scan, line prefetch, key compare and
// emit.  Each completed query is replaced from the input tail; the window
// shrinks once the input is exhausted.  When a patch is given it is
// consulted first and the base only on a patch miss.  Returns the hit count.
func batchProcess(batch int, base, patch *view, getKey func(int) []byte, fillVal func(int, []byte), dftVal []byte) int {
	if base.typ == KVSeparated {
		return 0
	}
	if patch != nil && (patch.typ != base.typ || patch.keyLen != base.keyLen || patch.valLen != base.valLen) {
		return 0
	}
	if patch == base {
		patch = nil
	}

	keyLen := base.keyLen
	lineSize := base.lineSize

	bind := func(st *batchState, pack *view) {
		st.pack = pack
		set, mark, sft := hashKey(getKey(st.idx), pack.seed, pack.setCnt)
		st.set = set
		st.mark = mark
		st.sft = sft
		st.cur = sft
		st.scanned = 0
		st.line = nil
		prefetch(pack.guide[set*guide.SlotsPerSet:])
	}
	initState := func(st *batchState, idx int) {
		st.idx = idx
		if patch != nil {
			bind(st, patch)
		} else {
			bind(st, base)
		}
	}

	prefetchLine := func(line []byte) {
		prefetch(line)
		off := uint32(uintptr(unsafe.Pointer(&line[0])) & (cacheBlockSize - 1))
		if off+lineSize > cacheBlockSize {
			prefetch(line[cacheBlockSize-off:])
		}
	}

	// scan advances st's guide scan until it has a candidate line (line
	// prefetched, compare next round), rebinds a patch miss to the base,
	// or emits a miss.  Reports whether the query completed.
	scan := func(st *batchState) bool {
		g := st.pack.guide[st.set*guide.SlotsPerSet:][:guide.SlotsPerSet]
		for st.cur < st.sft+guide.SlotsPerSet {
			off := st.cur & 63
			if st.cur <= st.sft+56 && off <= 56 {
				hint := guide.Hint(binary.LittleEndian.Uint64(g[off:]), st.mark)
				if hint == 0 {
					st.cur += 8
					continue
				}
				step := uint32(bits.TrailingZeros64(hint)+1) >> 3
				off += step - 1
				st.cur += step
			} else {
				st.cur++
			}
			m := g[off]
			if m == st.mark {
				st.line = st.pack.line(st.set, off)
				prefetchLine(st.line)
				return false
			}
			if m&guide.Busy != 0 {
				if st.pack == patch {
					bind(st, base)
					return false
				}
				fillVal(st.idx, dftVal)
				return true
			}
		}
		// exhausted this set, move on to the next
		st.cur = st.sft
		if st.set++; st.set >= st.pack.setCnt.Value() {
			st.set = 0
		}
		if st.scanned++; st.scanned > st.pack.setCnt.Value() {
			// every set scanned without an empty slot: corrupt
			fillVal(st.idx, dftVal)
			return true
		}
		prefetch(st.pack.guide[st.set*guide.SlotsPerSet:])
		return false
	}

	var states [batchWindow]batchState
	hit := 0
	window := batch
	if window > batchWindow {
		window = batchWindow
	}
	idx := 0
	for ; idx < window; idx++ {
		initState(&states[idx], idx)
	}

	for window > 0 {
		for i := 0; i < window; {
			st := &states[i]
			var completed bool
			if st.line != nil {
				if bytes.Equal(getKey(st.idx), st.line[:keyLen]) {
					hit++
					fillVal(st.idx, st.line[keyLen:])
					completed = true
				} else {
					st.line = nil
				}
			} else {
				completed = scan(st)
			}
			if !completed {
				i++
				continue
			}
			if idx < batch {
				initState(st, idx)
				idx++
				i++
			} else {
				window--
				*st = states[window]
			}
		}
	}
	return hit
}

// BatchSearch looks up each of keys and stores the value slice (or nil on a
// miss) into the corresponding element of out.  keys and out may alias.
// When patch is non-nil it is consulted first and must share the base's
// schema.  Separated-value tables are not supported.  Returns the hit
// count; 0 when the arguments are unusable.
func (t *Hashtable) BatchSearch(keys [][]byte, out [][]byte, patch *Hashtable) int {
	if t == nil || t.v == nil || len(keys) == 0 || len(out) < len(keys) {
		return 0
	}
	var pv *view
	if patch != nil {
		if patch.v == nil {
			return 0
		}
		pv = patch.v
	}
	return batchProcess(len(keys), t.v, pv,
		func(i int) []byte { return keys[i] },
		func(i int, val []byte) { out[i] = val },
		nil)
}

// BatchFetch copies the value of each key in the packed keys buffer (KeyLen
// bytes per key) into the corresponding ValLen-byte slot of data.  On a
// miss the slot is filled from dftVal when given, and left untouched
// otherwise.  Only inline dictionaries are supported.  Returns the hit
// count; 0 when the arguments are unusable.
func (t *Hashtable) BatchFetch(keys []byte, data []byte, dftVal []byte, patch *Hashtable) int {
	if t == nil || t.v == nil || t.v.typ != KVInline {
		return 0
	}
	keyLen := int(t.v.keyLen)
	valLen := int(t.v.valLen)
	batch := len(keys) / keyLen
	if batch == 0 || len(data) < batch*valLen {
		return 0
	}
	if dftVal != nil && len(dftVal) < valLen {
		return 0
	}
	var pv *view
	if patch != nil {
		if patch.v == nil {
			return 0
		}
		pv = patch.v
	}
	return batchProcess(batch, t.v, pv,
		func(i int) []byte { return keys[i*keyLen : (i+1)*keyLen] },
		func(i int, val []byte) {
			if val != nil {
				copy(data[i*valLen:(i+1)*valLen], val[:valLen])
			}
		},
		dftVal)
}
