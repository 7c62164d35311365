// Copyright 2023 The ssht Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package ssht implements a static, file-backed, set-associative hashtable
// for bulk-load-once, query-many workloads.
//
// A build pass ingests records from one or more input streams and writes a
// single immutable artifact; a query pass maps the artifact into memory and
// answers point and batched lookups against it.  Three shapes are supported:
// a pure key set, a dictionary with fixed-length inline values, and a
// dictionary with variable-length values stored in a trailing extend region.
//
// Typical usage:
//
//	w, _ := ssht.NewFileWriter("table.ssht")
//	if st := ssht.BuildDict(inputs, w); st != ssht.StatusOK {
//		// handle st
//	}
//	_ = w.Close()
//
//	t, err := ssht.Open("table.ssht", ssht.MapOnly)
//	if err != nil { ... }
//	defer t.Close()
//	val, ok := t.Search(key)
//
// # On-disk format
//
// The artifact is little-endian and starts with a 64-byte header: magic
// "SSHT", the table type, the fixed key length, the value field length, a
// per-build hash seed, the unique item count and the set count.  It is
// followed by the guide array (one descriptor byte per slot, 64 slots per
// set), the content array (one key+value line per slot) and, for tables
// with separated values, an extend region of varint-length-prefixed value
// bytes addressed by 6-byte offsets stored in the lines.
//
// Keys have a fixed length per artifact (1..255 bytes).  Inline values are
// 1..65535 bytes; separated values may be up to 2^35-1 bytes.
//
// Builds run one worker per input stream; duplicate keys across streams are
// collapsed to a single arbitrary winner.  Loaded tables are immutable and
// safe for concurrent use.  Derive produces a new artifact from a loaded
// one plus additional streams, with the new streams shadowing existing
// entries on key collision.
package ssht
