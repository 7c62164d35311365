// Copyright 2023 The ssht Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package ssht

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveShadow(t *testing.T) {
	base := buildArtifact(t, MapOnly, func(out DataWriter) Status {
		return BuildDict([]DataReader{readerOf(
			[2]string{"a", "1"}, [2]string{"b", "2"},
		)}, out)
	})

	derived := buildArtifact(t, MapOnly, func(out DataWriter) Status {
		return base.Derive([]DataReader{readerOf(
			[2]string{"a", "9"}, [2]string{"c", "3"},
		)}, out)
	})

	require.Equal(t, uint64(3), derived.Item())
	for k, v := range map[string]string{"a": "9", "b": "2", "c": "3"} {
		val, ok := derived.SearchString(k)
		require.True(t, ok, "key %q", k)
		require.Equal(t, v, string(val))
	}
}

func TestDeriveKeySet(t *testing.T) {
	base := buildArtifact(t, MapOnly, func(out DataWriter) Status {
		return BuildSet([]DataReader{readerOf(
			[2]string{"one", ""}, [2]string{"two", ""},
		)}, out)
	})

	derived := buildArtifact(t, MapOnly, func(out DataWriter) Status {
		return base.Derive([]DataReader{readerOf(
			[2]string{"two", ""}, [2]string{"six", ""},
		)}, out)
	})

	require.Equal(t, uint64(3), derived.Item())
	for _, k := range []string{"one", "two", "six"} {
		_, ok := derived.SearchString(k)
		require.True(t, ok, "key %q", k)
	}
	_, ok := derived.SearchString("ten")
	require.False(t, ok)
}

func TestDeriveIdempotent(t *testing.T) {
	in, expected := dictInput(100)
	base := buildArtifact(t, MapOnly, func(out DataWriter) Status {
		return BuildDict([]DataReader{in}, out)
	})

	derived := buildArtifact(t, MapOnly, func(out DataWriter) Status {
		return base.Derive([]DataReader{&memReader{}}, out)
	})

	require.Equal(t, base.Item(), derived.Item())
	for k, v := range expected {
		val, ok := derived.SearchString(k)
		require.True(t, ok, "key %q", k)
		require.Equal(t, v, string(val))
	}
}

func TestDeriveMultiStream(t *testing.T) {
	in, expected := dictInput(100)
	base := buildArtifact(t, MapOnly, func(out DataWriter) Status {
		return BuildDict([]DataReader{in}, out)
	})

	// overwrite half the keys across two streams and add new ones
	var s1, s2 memReader
	for i := 0; i < 50; i++ {
		k := fmt.Sprintf("k%02d", i)
		v := fmt.Sprintf("new_%04d", i)
		rec := Record{Key: []byte(k), Val: []byte(v)}
		if i%2 == 0 {
			s1.recs = append(s1.recs, rec)
		} else {
			s2.recs = append(s2.recs, rec)
		}
		expected[k] = v
	}
	for i := 100; i < 120; i++ {
		k := fmt.Sprintf("x%02d", i-100)
		v := fmt.Sprintf("add_%04d", i)
		s2.recs = append(s2.recs, Record{Key: []byte(k), Val: []byte(v)})
		expected[k] = v
	}

	derived := buildArtifact(t, MapOnly, func(out DataWriter) Status {
		return base.Derive([]DataReader{&s1, &s2}, out)
	})

	require.Equal(t, uint64(len(expected)), derived.Item())
	for k, v := range expected {
		val, ok := derived.SearchString(k)
		require.True(t, ok, "key %q", k)
		require.Equal(t, v, string(val))
	}
}

func TestDeriveVariedShadow(t *testing.T) {
	base := buildArtifact(t, MapOnly, func(out DataWriter) Status {
		return BuildDictWithVariedValue([]DataReader{readerOf(
			[2]string{"a", "alpha"}, [2]string{"b", "beta-value"},
		)}, out)
	})

	derived := buildArtifact(t, MapOnly, func(out DataWriter) Status {
		return base.Derive([]DataReader{&memReader{recs: []Record{
			{Key: []byte("a"), Val: []byte("AAAA")},
			{Key: []byte("c"), Val: nil},
		}}}, out)
	})

	require.Equal(t, KVSeparated, derived.Type())
	require.Equal(t, uint64(3), derived.Item())

	val, ok := derived.Search([]byte("a"))
	require.True(t, ok)
	require.Equal(t, "AAAA", string(val))

	val, ok = derived.Search([]byte("b"))
	require.True(t, ok)
	require.Equal(t, "beta-value", string(val))

	val, ok = derived.Search([]byte("c"))
	require.True(t, ok)
	require.Len(t, val, 0)
}

func TestDeriveVariedIdempotent(t *testing.T) {
	base := buildArtifact(t, MapOnly, func(out DataWriter) Status {
		return BuildDictWithVariedValue([]DataReader{readerOf(
			[2]string{"k1", "first"}, [2]string{"k2", ""}, [2]string{"k3", "third-value-here"},
		)}, out)
	})

	derived := buildArtifact(t, MapOnly, func(out DataWriter) Status {
		return base.Derive([]DataReader{&memReader{}}, out)
	})

	require.Equal(t, base.Item(), derived.Item())
	for _, k := range []string{"k1", "k2", "k3"} {
		want, ok := base.SearchString(k)
		require.True(t, ok)
		got, ok := derived.SearchString(k)
		require.True(t, ok, "key %q", k)
		require.Equal(t, string(want), string(got))
	}
}

func TestDeriveBadInput(t *testing.T) {
	base := buildArtifact(t, MapOnly, func(out DataWriter) Status {
		return BuildDict([]DataReader{readerOf([2]string{"a", "1"})}, out)
	})

	var w memWriter
	require.Equal(t, StatusBadInput, base.Derive(nil, &w))

	// key length disagreeing with the base
	require.Equal(t, StatusBadInput,
		base.Derive([]DataReader{readerOf([2]string{"long", "1"})}, &w))

	// value length disagreeing with the base
	require.Equal(t, StatusBadInput,
		base.Derive([]DataReader{readerOf([2]string{"b", "22"})}, &w))

	var tbl *Hashtable
	require.Equal(t, StatusBadInput,
		tbl.Derive([]DataReader{readerOf([2]string{"a", "1"})}, &w))
}

func TestDeriveSinkFailure(t *testing.T) {
	base := buildArtifact(t, MapOnly, func(out DataWriter) Status {
		return BuildDict([]DataReader{readerOf([2]string{"a", "1"})}, out)
	})
	require.Equal(t, StatusFailToOutput,
		base.Derive([]DataReader{readerOf([2]string{"b", "2"})}, &failWriter{limit: headerSize}))
}
