// Copyright 2023 The ssht Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package ssht

import (
	"bytes"
	"encoding/binary"

	"github.com/bpowers/ssht/internal/guide"
)

// searchLine probes for key and returns the value field of its line (the
// bytes after the key, which are empty for a key set).  A miss returns
// false.  Probing starts at the key's shift within its set and wraps to the
// following set when a set is exhausted without finding the key or an empty
// slot; an empty slot is a definitive miss.
func (v *view) searchLine(key []byte) ([]byte, bool) {
	set, mark, sft := hashKey(key, v.seed, v.setCnt)

	// a well-formed artifact always has empty slots, so the probe chain
	// terminates on its own; the scanned bound only matters for corrupt
	// ones
	for scanned := uint64(0); scanned <= v.setCnt.Value(); scanned++ {
		g := v.guide[set*guide.SlotsPerSet:][:guide.SlotsPerSet]
		for j := sft; j < sft+guide.SlotsPerSet; {
			off := j & 63
			if j <= sft+56 && off <= 56 {
				vec := binary.LittleEndian.Uint64(g[off:])
				for hint := guide.Hint(vec, mark); hint != 0; hint &= hint - 1 {
					pos := off + guide.Index(hint)
					m := g[pos]
					if m == mark {
						line := v.line(set, pos)
						if bytes.Equal(key, line[:v.keyLen]) {
							return line[v.keyLen:], true
						}
					} else if m&guide.Busy != 0 {
						return nil, false
					}
				}
				j += 8
				continue
			}
			m := g[off]
			if m == mark {
				line := v.line(set, off)
				if bytes.Equal(key, line[:v.keyLen]) {
					return line[v.keyLen:], true
				}
			} else if m&guide.Busy != 0 {
				return nil, false
			}
			j++
		}
		if set++; set >= v.setCnt.Value() {
			set = 0
		}
	}
	return nil, false
}

// search looks up key and returns the value bytes.
func (v *view) search(key []byte) ([]byte, bool) {
	field, ok := v.searchLine(key)
	if !ok {
		return nil, false
	}
	if v.typ != KVSeparated {
		return field, true
	}
	return separatedValue(v.extend, readOffsetField(field))
}
