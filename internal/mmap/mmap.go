// Copyright 2023 The ssht Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package mmap loads table artifacts into memory, either by memory mapping
// the file read-only or by copying it into an anonymous buffer.  A Mapping
// is the residency handle a table view borrows its bytes from; it must
// outlive every slice derived from Data.
package mmap

import (
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Policy selects how eagerly the mapped pages are brought into memory.
type Policy int

const (
	// MapOnly maps the file and lets demand paging do the rest.
	MapOnly Policy = iota
	// MapFetch additionally advises the kernel that the whole mapping
	// will be needed soon.
	MapFetch
	// MapOccupy additionally locks the mapping into memory.  Lock
	// failure (e.g. RLIMIT_MEMLOCK) is not fatal; the mapping still
	// works, just without the residency guarantee.
	MapOccupy
)

// Mapping owns a byte range backed by either a read-only file mapping or an
// ordinary heap buffer.
type Mapping struct {
	data   []byte
	mapped bool
	closed atomic.Bool
}

// Open maps the file at path read-only and applies the residency policy.
func Open(path string, policy Policy) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("os.Open(%s): %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	stats, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("f.Stat: %w", err)
	}
	size := stats.Size()
	if size <= 0 {
		return nil, fmt.Errorf("empty file %s", path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("unix.Mmap(%s): %w", path, err)
	}

	if err := unix.Madvise(data, unix.MADV_RANDOM); err != nil {
		_ = unix.Munmap(data)
		return nil, fmt.Errorf("unix.Madvise: %w", err)
	}

	switch policy {
	case MapFetch:
		if err := unix.Madvise(data, unix.MADV_WILLNEED); err != nil {
			_ = unix.Munmap(data)
			return nil, fmt.Errorf("unix.Madvise: %w", err)
		}
	case MapOccupy:
		// best effort, like mlock of an index bigger than the limit
		_ = unix.Mlock(data)
	}

	return &Mapping{data: data, mapped: true}, nil
}

// LoadFile reads the file at path fully into an anonymous buffer.
func LoadFile(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("os.ReadFile(%s): %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file %s", path)
	}
	return &Mapping{data: data}, nil
}

// Data returns the mapped bytes.  The slice is only valid until Close.
func (m *Mapping) Data() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Close releases the mapping.  It is idempotent.  No slice derived from
// Data may be used after Close returns.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	data := m.data
	m.data = nil
	if m.mapped {
		return unix.Munmap(data)
	}
	return nil
}
