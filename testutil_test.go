// Copyright 2023 The ssht Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package ssht

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// memReader serves records from a slice, the way tests feed builds.
type memReader struct {
	recs []Record
	pos  int
}

func (r *memReader) Reset()        { r.pos = 0 }
func (r *memReader) Total() uint64 { return uint64(len(r.recs)) }

func (r *memReader) Read(keyOnly bool) Record {
	if r.pos >= len(r.recs) {
		return Record{}
	}
	rec := r.recs[r.pos]
	r.pos++
	return rec
}

func readerOf(pairs ...[2]string) *memReader {
	r := &memReader{}
	for _, p := range pairs {
		r.recs = append(r.recs, Record{Key: []byte(p[0]), Val: []byte(p[1])})
	}
	return r
}

// lyingReader misreports its record count.
type lyingReader struct {
	*memReader
	total uint64
}

func (r *lyingReader) Total() uint64 { return r.total }

// memWriter collects the artifact bytes in memory.
type memWriter struct {
	buf bytes.Buffer
}

func (w *memWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *memWriter) Flush() error                { return nil }

// failWriter starts failing once limit bytes have been accepted.
type failWriter struct {
	limit int
	n     int
}

func (w *failWriter) Write(p []byte) (int, error) {
	if w.n+len(p) > w.limit {
		return 0, errors.New("sink failure")
	}
	w.n += len(p)
	return len(p), nil
}

func (w *failWriter) Flush() error {
	if w.n >= w.limit {
		return errors.New("sink failure")
	}
	return nil
}

// buildArtifact runs build against a fresh file and opens the result.
func buildArtifact(t *testing.T, policy LoadPolicy, build func(out DataWriter) Status) *Hashtable {
	t.Helper()
	path := filepath.Join(t.TempDir(), "table.ssht")
	w, err := NewFileWriter(path)
	require.NoError(t, err)
	require.Equal(t, StatusOK, build(w))
	require.NoError(t, w.Close())

	tbl, err := Open(path, policy)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = tbl.Close()
	})
	return tbl
}

// openBytes round-trips artifact bytes through a file.
func openBytes(t *testing.T, artifact []byte, policy LoadPolicy) (*Hashtable, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "table.ssht")
	require.NoError(t, os.WriteFile(path, artifact, 0o644))
	tbl, err := Open(path, policy)
	if err == nil {
		t.Cleanup(func() {
			_ = tbl.Close()
		})
	}
	return tbl, err
}

func randKey(rng *rand.Rand, n int) []byte {
	k := make([]byte, n)
	for i := range k {
		k[i] = byte('a' + rng.Intn(26))
	}
	return k
}
