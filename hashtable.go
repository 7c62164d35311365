// Copyright 2023 The ssht Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package ssht

import (
	"fmt"

	"github.com/bpowers/ssht/internal/mmap"
	"github.com/bpowers/ssht/internal/unsafestring"
)

// LoadPolicy selects how Open brings the artifact into memory.
type LoadPolicy int

const (
	// MapOnly memory-maps the artifact with demand paging.
	MapOnly LoadPolicy = iota
	// MapFetch memory-maps the artifact and advises the kernel to fault
	// it in ahead of use.
	MapFetch
	// MapOccupy memory-maps the artifact and locks it into memory
	// (best effort).
	MapOccupy
	// CopyData reads the artifact fully into anonymous memory.
	CopyData
)

// Hashtable is a loaded artifact.  It is immutable and safe for concurrent
// use.  The view borrows its bytes from the residency handle, which stays
// alive until Close.
type Hashtable struct {
	res *mmap.Mapping
	v   *view
}

// Open loads the artifact at path.
func Open(path string, policy LoadPolicy) (*Hashtable, error) {
	var m *mmap.Mapping
	var err error
	switch policy {
	case CopyData:
		m, err = mmap.LoadFile(path)
	case MapFetch:
		m, err = mmap.Open(path, mmap.MapFetch)
	case MapOccupy:
		m, err = mmap.Open(path, mmap.MapOccupy)
	default:
		m, err = mmap.Open(path, mmap.MapOnly)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	v, err := createView(m.Data())
	if err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("createView(%s): %w", path, err)
	}
	return &Hashtable{res: m, v: v}, nil
}

// Close releases the artifact's memory.  No slice returned by Search or the
// batch operations may be used afterwards.
func (t *Hashtable) Close() error {
	if t == nil || t.res == nil {
		return nil
	}
	t.v = nil
	return t.res.Close()
}

// Type returns the artifact shape.
func (t *Hashtable) Type() Type {
	if t == nil || t.v == nil {
		return illegalType
	}
	return t.v.typ
}

// KeyLen returns the fixed key length of the artifact.
func (t *Hashtable) KeyLen() int {
	if t == nil || t.v == nil {
		return 0
	}
	return int(t.v.keyLen)
}

// ValLen returns the value field length: 0 for a key set, the inline value
// length for a dictionary, and 6 (the offset field size) for separated
// values.
func (t *Hashtable) ValLen() int {
	if t == nil || t.v == nil {
		return 0
	}
	return int(t.v.valLen)
}

// Item returns the number of unique keys stored.
func (t *Hashtable) Item() uint64 {
	if t == nil || t.v == nil {
		return 0
	}
	return t.v.item
}

// Search looks up key and returns its value: a zero-length slice for a key
// set hit, the inline value field, or the decoded separated value.  The
// returned slice points into the artifact; treat it as read-only.
func (t *Hashtable) Search(key []byte) ([]byte, bool) {
	if t == nil || t.v == nil || key == nil {
		return nil, false
	}
	return t.v.search(key)
}

// SearchString is Search for string keys, without copying the key.
func (t *Hashtable) SearchString(key string) ([]byte, bool) {
	return t.Search(unsafestring.ToBytes(key))
}
