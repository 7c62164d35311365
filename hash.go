// Copyright 2023 The ssht Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package ssht

import (
	"github.com/dgryski/go-farm"

	"github.com/bpowers/ssht/internal/fastdiv"
)

// hashKey decomposes the keyed 64-bit hash of key into the three independent
// values probing needs: the set index, the 7-bit mark stored in the guide,
// and the starting shift within the set.
func hashKey(key []byte, seed uint64, setCnt fastdiv.Divisor) (set uint64, mark byte, sft uint32) {
	h := farm.Hash64WithSeed(key, seed)
	set = setCnt.Mod(h)
	mark = byte(h>>51) & 0x7f
	sft = uint32(h >> 58)
	return
}
