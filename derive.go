// Copyright 2023 The ssht Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package ssht

import (
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/bpowers/ssht/internal/bitset"
	"github.com/bpowers/ssht/internal/guide"
)

// Derive writes a new artifact combining this table with the records of the
// input streams.  New records shadow existing entries on key collision.
// The input streams must share this table's key length (and value length
// for inline dictionaries).
func (t *Hashtable) Derive(in []DataReader, out DataWriter, opts ...BuildOption) Status {
	if t == nil || t.v == nil || len(in) == 0 {
		return StatusBadInput
	}
	options := newBuildOptions(opts)
	switch t.v.typ {
	case KeySet, KVInline:
		return rebuildFixedValue(t.v, in, out, options)
	case KVSeparated:
		return rebuildVariedValue(t.v, in, out, options)
	default:
		return StatusBadInput
	}
}

// countHit counts how many of the stream's keys are already stored in base,
// leaving the stream reset for the insert pass.
func countHit(base *view, r DataReader) (uint64, error) {
	total := r.Total()
	var hit uint64
	for i := uint64(0); i < total; i++ {
		rec := r.Read(true)
		if rec.Key == nil || uint32(len(rec.Key)) != base.keyLen {
			return 0, errBadRecord
		}
		if _, ok := base.searchLine(rec.Key); ok {
			hit++
		}
	}
	r.Reset()
	return hit, nil
}

func deriveHeader(base *view, total uint64) *header {
	return &header{
		typ:    base.typ,
		keyLen: uint8(base.keyLen),
		valLen: uint16(base.valLen),
		seed:   newSeed(),
		setCnt: calcSetCnt(total),
	}
}

func rebuildFixedValue(base *view, in []DataReader, out DataWriter, options buildOptions) Status {
	var dirty atomic.Uint64
	var counters errgroup.Group
	for _, r := range in {
		r := r
		r.Reset()
		counters.Go(func() error {
			hit, err := countHit(base, r)
			if err != nil {
				return err
			}
			dirty.Add(hit)
			return nil
		})
	}
	if err := counters.Wait(); err != nil {
		return StatusBadInput
	}
	if dirty.Load() > base.item {
		return StatusBadInput
	}

	total := sumInputSize(in) + base.item - dirty.Load()
	h := deriveHeader(base, total)
	options.logger.Debug("sized derived table",
		"items", total, "dirty", dirty.Load(), "sets", h.setCnt)

	g := newGuideArray(h.slots())
	space := make([]byte, h.slots()*uint64(h.lineSize()))
	ins := newInserter(h, g, space)

	// new inputs first: a base line re-inserted afterwards with the same
	// key hits the duplicate path and is dropped, so new records shadow
	// old ones
	var item atomic.Uint64
	var workers errgroup.Group
	for _, r := range in {
		r := r
		workers.Go(func() error {
			cnt, err := ins.mapRecords(r)
			if err != nil {
				return err
			}
			item.Add(cnt)
			return nil
		})
	}
	if err := workers.Wait(); err != nil {
		return StatusBadInput
	}

	// re-insert surviving base lines, partitioning the base slots across
	// the same number of workers
	baseSlots := base.setCnt.Value() * guide.SlotsPerSet
	piece := baseSlots / uint64(len(in))
	remain := baseSlots % uint64(len(in))
	var rehomers errgroup.Group
	off := uint64(0)
	for i := uint64(0); i < uint64(len(in)); i++ {
		begin := off
		if i < remain {
			off += piece + 1
		} else {
			off += piece
		}
		end := off
		rehomers.Go(func() error {
			var cnt uint64
			for slot := begin; slot < end; slot++ {
				if base.guide[slot]&guide.Busy != 0 {
					continue
				}
				line := base.content[slot*uint64(base.lineSize):][:base.lineSize]
				inserted, err := ins.insert(line[:base.keyLen], func(dst []byte) {
					copy(dst, line)
				})
				if err != nil {
					return err
				}
				if inserted {
					cnt++
				}
			}
			item.Add(cnt)
			return nil
		})
	}
	if err := rehomers.Wait(); err != nil {
		return StatusBadInput
	}
	h.item = item.Load()

	if st := writeArtifact(out, h, g, space); st != StatusOK {
		return st
	}
	if err := out.Flush(); err != nil {
		return StatusFailToOutput
	}
	return StatusOK
}

func rebuildVariedValue(base *view, in []DataReader, out DataWriter, options buildOptions) Status {
	var dirty uint64
	for _, r := range in {
		r.Reset()
		hit, err := countHit(base, r)
		if err != nil {
			return StatusBadInput
		}
		dirty += hit
	}
	if dirty > base.item {
		return StatusBadInput
	}

	neo := sumInputSize(in)
	total := base.item + neo - dirty
	h := deriveHeader(base, total)
	options.logger.Debug("sized derived table",
		"items", total, "dirty", dirty, "sets", h.setCnt)

	g := newGuideArray(h.slots())
	space := make([]byte, h.slots()*uint64(h.lineSize()))
	ins := newInserter(h, g, space)

	offset := uint64(0)
	for _, r := range in {
		wrapped := newKeyOffReader(r, offset)
		cnt, err := ins.mapRecords(wrapped)
		if err != nil {
			return StatusBadInput
		}
		h.item += cnt
		offset = wrapped.offset
	}
	if h.item != neo {
		return StatusBadInput
	}

	// walk the base slots, assigning fresh offsets to the values of
	// surviving entries; the bitmap remembers which ones to replay
	baseSlots := base.setCnt.Value() * guide.SlotsPerSet
	survivors := bitset.New(baseSlots)
	corrupt := false
	for slot := uint64(0); slot < baseSlots; slot++ {
		if base.guide[slot]&guide.Busy != 0 {
			continue
		}
		line := base.content[slot*uint64(base.lineSize):][:base.lineSize]
		inserted, err := ins.insert(line[:base.keyLen], func(dst []byte) {
			copy(dst, line[:base.keyLen])
			val, ok := separatedValue(base.extend, readOffsetField(line[base.keyLen:]))
			if !ok {
				corrupt = true
				return
			}
			writeOffsetField(dst[base.keyLen:], offset)
			offset += varintSize(uint64(len(val))) + uint64(len(val))
		})
		if err != nil || corrupt {
			return StatusBadInput
		}
		if inserted {
			h.item++
			survivors.Set(slot)
		}
	}

	if st := writeArtifact(out, h, g, space); st != StatusOK {
		return st
	}
	g, space = nil, nil

	// value bytes: new streams in stream order, then surviving base
	// values in slot order
	for _, r := range in {
		r.Reset()
		cnt := r.Total()
		for i := uint64(0); i < cnt; i++ {
			rec := r.Read(false)
			if rec.Key == nil {
				return StatusBadInput
			}
			if err := dumpVariedValue(rec.Val, out); err != nil {
				return StatusFailToOutput
			}
		}
	}
	for slot := uint64(0); slot < baseSlots; slot++ {
		if !survivors.IsSet(slot) {
			continue
		}
		field := base.content[slot*uint64(base.lineSize)+uint64(base.keyLen):]
		val, ok := separatedValue(base.extend, readOffsetField(field))
		if !ok {
			return StatusBadInput
		}
		if err := dumpVariedValue(val, out); err != nil {
			return StatusFailToOutput
		}
	}
	// the loader requires at least one extend byte per slot; pad a short
	// region with zero bytes
	if offset < h.slots() {
		if _, err := out.Write(make([]byte, h.slots()-offset)); err != nil {
			return StatusFailToOutput
		}
	}
	if err := out.Flush(); err != nil {
		return StatusFailToOutput
	}
	return StatusOK
}
