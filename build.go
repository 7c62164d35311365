// Copyright 2023 The ssht Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package ssht

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bpowers/ssht/internal/fastdiv"
	"github.com/bpowers/ssht/internal/guide"
)

var (
	errBadRecord = errors.New("malformed record")
	errTableFull = errors.New("probed every set without finding a free slot")
)

// BuildOption configures a build or derive.
type BuildOption func(*buildOptions)

type buildOptions struct {
	logger *slog.Logger
}

// WithLogger sets an optional logger for progress updates.  If not
// provided, no logging output will be produced.
func WithLogger(logger *slog.Logger) BuildOption {
	return func(opts *buildOptions) {
		opts.logger = logger
	}
}

func newBuildOptions(opts []BuildOption) buildOptions {
	options := buildOptions{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func newSeed() uint64 {
	return uint64(time.Now().UnixNano())
}

func sumInputSize(in []DataReader) uint64 {
	var total uint64
	for _, r := range in {
		total += r.Total()
	}
	return total
}

// inserter writes records into a guide/content pair under construction.  It
// is shared by all build workers; the guide is the only mutable state they
// coordinate through.
type inserter struct {
	guide  guide.Atomic
	space  []byte
	keyLen uint32
	valLen uint32
	seed   uint64
	setCnt fastdiv.Divisor
}

func newInserter(h *header, g, space []byte) *inserter {
	return &inserter{
		guide:  guide.NewAtomic(g),
		space:  space,
		keyLen: uint32(h.keyLen),
		valLen: uint32(h.valLen),
		seed:   h.seed,
		setCnt: fastdiv.New(h.setCnt),
	}
}

func (ins *inserter) lineSize() uint64 {
	return uint64(ins.keyLen + ins.valLen)
}

// insert claims a slot for key and fills its line via fill.  It reports
// false without calling fill when the key is already stored.  Claiming
// transitions the slot descriptor from empty to busy; the mark is published
// only after fill returns, so concurrent workers observing busy spin until
// the line is readable.
func (ins *inserter) insert(key []byte, fill func(line []byte)) (bool, error) {
	set, mark, sft := hashKey(key, ins.seed, ins.setCnt)
	for scanned := uint64(0); scanned <= ins.setCnt.Value(); scanned++ {
		base := set * guide.SlotsPerSet
		for j := sft; j < sft+guide.SlotsPerSet; j++ {
			slot := base + uint64(j&63)
			line := ins.space[slot*ins.lineSize():][:ins.lineSize()]
			for {
				m := ins.guide.Load(slot)
				if m == guide.Empty {
					if !ins.guide.TryClaim(slot) {
						continue
					}
					fill(line)
					ins.guide.Publish(slot, mark)
					return true, nil
				}
				if m&guide.Busy != 0 {
					runtime.Gosched()
					continue
				}
				if m == mark && bytes.Equal(line[:ins.keyLen], key) {
					return false, nil
				}
				break
			}
		}
		if set++; set >= ins.setCnt.Value() {
			set = 0
		}
	}
	return false, errTableFull
}

// mapRecords drains one stream into the table and returns the number of
// records that were freshly inserted (duplicates are skipped).
func (ins *inserter) mapRecords(r DataReader) (uint64, error) {
	total := r.Total()
	cnt := total
	for i := uint64(0); i < total; i++ {
		rec := r.Read(false)
		if rec.Key == nil || uint32(len(rec.Key)) != ins.keyLen ||
			(ins.valLen != 0 && uint32(len(rec.Val)) != ins.valLen) {
			return 0, errBadRecord
		}
		inserted, err := ins.insert(rec.Key, func(line []byte) {
			copy(line, rec.Key)
			if ins.valLen != 0 {
				copy(line[ins.keyLen:], rec.Val)
			}
		})
		if err != nil {
			return 0, err
		}
		if !inserted {
			cnt--
		}
	}
	return cnt, nil
}

func newGuideArray(slots uint64) []byte {
	g := make([]byte, slots)
	for i := range g {
		g[i] = guide.Empty
	}
	return g
}

func writeArtifact(out DataWriter, h *header, g, space []byte) Status {
	for _, buf := range [][]byte{h.marshal(), g, space} {
		if _, err := out.Write(buf); err != nil {
			return StatusFailToOutput
		}
	}
	return StatusOK
}

func buildFixedValue(typ Type, keyLen uint8, valLen uint16, in []DataReader, out DataWriter, options buildOptions) Status {
	total := sumInputSize(in)
	if total == 0 {
		return StatusBadInput
	}

	h := &header{
		typ:    typ,
		keyLen: keyLen,
		valLen: valLen,
		seed:   newSeed(),
		setCnt: calcSetCnt(total),
	}
	options.logger.Debug("sized table",
		"type", typ.String(), "items", total, "sets", h.setCnt)

	g := newGuideArray(h.slots())
	space := make([]byte, h.slots()*uint64(h.lineSize()))

	ins := newInserter(h, g, space)
	var item atomic.Uint64
	var workers errgroup.Group
	for _, r := range in {
		r := r
		r.Reset()
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
	h.item = item.Load()
	options.logger.Debug("mapped records", "unique", h.item)

	if st := writeArtifact(out, h, g, space); st != StatusOK {
		return st
	}
	if err := out.Flush(); err != nil {
		return StatusFailToOutput
	}
	return StatusOK
}

// detectLens probes the first record of r for the key length (and, when
// wantVal is set, the inline value length) that every record of every
// stream must share.
func detectLens(r DataReader, wantVal bool) (uint8, uint16, bool) {
	rec := r.Read(!wantVal)
	if rec.Key == nil || len(rec.Key) == 0 || len(rec.Key) > MaxKeyLen {
		return 0, 0, false
	}
	keyLen := uint8(len(rec.Key))
	var valLen uint16
	if wantVal {
		if rec.Val == nil || len(rec.Val) == 0 || len(rec.Val) > MaxInlineValueLen {
			return 0, 0, false
		}
		valLen = uint16(len(rec.Val))
	}
	r.Reset()
	return keyLen, valLen, true
}

// BuildSet writes a key-set artifact holding the unique keys of the input
// streams.  Builds run one worker per stream.
func BuildSet(in []DataReader, out DataWriter, opts ...BuildOption) Status {
	if len(in) == 0 {
		return StatusBadInput
	}
	keyLen, _, ok := detectLens(in[0], false)
	if !ok {
		return StatusBadInput
	}
	return buildFixedValue(KeySet, keyLen, 0, in, out, newBuildOptions(opts))
}

// BuildDict writes a dictionary artifact with fixed-length inline values.
// Inlining a large value in every line costs memory during the build;
// consider BuildDictWithVariedValue for big values.
func BuildDict(in []DataReader, out DataWriter, opts ...BuildOption) Status {
	if len(in) == 0 {
		return StatusBadInput
	}
	keyLen, valLen, ok := detectLens(in[0], true)
	if !ok {
		return StatusBadInput
	}
	return buildFixedValue(KVInline, keyLen, valLen, in, out, newBuildOptions(opts))
}

// keyOffReader wraps a stream for a separated-value build: each record's
// value is replaced by the 6-byte offset its bytes will occupy in the
// extend region.  Offsets are assigned in stream order, which is also the
// order the second pass writes the value bytes in, so the wrapping must be
// single-threaded.
type keyOffReader struct {
	core   DataReader
	base   uint64
	offset uint64
	field  [offsetFieldSize]byte
}

func newKeyOffReader(core DataReader, off uint64) *keyOffReader {
	return &keyOffReader{core: core, base: off, offset: off}
}

func (r *keyOffReader) Reset() {
	r.core.Reset()
	r.offset = r.base
}

func (r *keyOffReader) Total() uint64 {
	return r.core.Total()
}

func (r *keyOffReader) Read(bool) Record {
	rec := r.core.Read(false)
	if rec.Key == nil || r.offset > maxExtendOffset || uint64(len(rec.Val)) > MaxValueLen {
		return Record{}
	}
	writeOffsetField(r.field[:], r.offset)
	r.offset += varintSize(uint64(len(rec.Val))) + uint64(len(rec.Val))
	rec.Val = r.field[:]
	return rec
}

func dumpVariedValue(val []byte, out DataWriter) error {
	if err := writeVarint(out, uint64(len(val))); err != nil {
		return err
	}
	if len(val) == 0 {
		return nil
	}
	_, err := out.Write(val)
	return err
}

// BuildDictWithVariedValue writes a dictionary artifact whose values live
// in the extend region, so each value may have a different length
// (including zero).  The insert pass is single-threaded because value
// offsets are assigned in stream order; the second pass replays the streams
// and must produce exactly the records the first pass saw.
func BuildDictWithVariedValue(in []DataReader, out DataWriter, opts ...BuildOption) Status {
	if len(in) == 0 {
		return StatusBadInput
	}
	options := newBuildOptions(opts)
	keyLen, _, ok := detectLens(in[0], false)
	if !ok {
		return StatusBadInput
	}
	total := sumInputSize(in)
	if total == 0 {
		return StatusBadInput
	}

	h := &header{
		typ:    KVSeparated,
		keyLen: keyLen,
		valLen: offsetFieldSize,
		seed:   newSeed(),
		setCnt: calcSetCnt(total),
	}
	options.logger.Debug("sized table",
		"type", KVSeparated.String(), "items", total, "sets", h.setCnt)

	g := newGuideArray(h.slots())
	space := make([]byte, h.slots()*uint64(h.lineSize()))

	ins := newInserter(h, g, space)
	offset := uint64(0)
	for _, r := range in {
		r.Reset()
		wrapped := newKeyOffReader(r, offset)
		cnt, err := ins.mapRecords(wrapped)
		if err != nil {
			return StatusBadInput
		}
		h.item += cnt
		offset = wrapped.offset
	}
	if h.item != total {
		// a duplicate key would leave a value in the extend region
		// with no line pointing at it, and offsets past it dangling
		return StatusBadInput
	}

	if st := writeArtifact(out, h, g, space); st != StatusOK {
		return st
	}
	// the guide and content are on disk now; drop them before streaming
	// value bytes
	g, space = nil, nil

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
