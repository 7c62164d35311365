// Copyright 2023 The ssht Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package unsafestring

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToBytes(t *testing.T) {
	for _, input := range []string{
		"a",
		"some-fixed-len-key",
	} {
		input := input
		allocs := testing.AllocsPerRun(1, func() {
			b := ToBytes(input)
			if string(b) != input {
				t.Fatal("expected contents equal")
			}
		})
		require.Zero(t, allocs)
	}
}

func TestToBytesEmpty(t *testing.T) {
	require.Nil(t, ToBytes(""))
}
