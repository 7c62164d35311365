// Copyright 2023 The ssht Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package ssht

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bpowers/ssht/internal/fastdiv"
	"github.com/bpowers/ssht/internal/guide"
)

// Type is the shape of a table artifact.
type Type uint8

const (
	// KeySet stores keys only.
	KeySet Type = 0
	// KVInline stores a fixed-length value next to each key.
	KVInline Type = 1
	// KVSeparated stores a 6-byte offset next to each key, pointing at a
	// varint-length-prefixed value in the extend region.
	KVSeparated Type = 2

	illegalType Type = 0xff
)

func (t Type) String() string {
	switch t {
	case KeySet:
		return "key set"
	case KVInline:
		return "kv inline"
	case KVSeparated:
		return "kv separated"
	default:
		return "illegal"
	}
}

const (
	magicTable = uint32(0x54485353) // "SSHT"

	headerSize = 64

	headerOffMagic  = 0
	headerOffType   = 4
	headerOffKeyLen = 5
	headerOffValLen = 6
	headerOffSeed   = 8
	headerOffItem   = 16
	headerOffSetCnt = 24

	// MaxKeyLen is the longest supported key.
	MaxKeyLen = (1 << 8) - 1
	// MaxInlineValueLen is the longest supported inline value.
	MaxInlineValueLen = (1 << 16) - 1

	maxValueLenBits = 35 // a multiple of 7, so varints are at most 5 bytes
	// MaxValueLen is the longest supported separated value.
	MaxValueLen = (1 << maxValueLenBits) - 1

	offsetFieldSize = 6
	maxExtendOffset = (1 << (offsetFieldSize * 8)) - 1

	// one extra free slot per reserveFactor items keeps probe chains short
	reserveFactor = 16

	defaultBufferSize = 4 * 1024 * 1024
)

type header struct {
	typ    Type
	keyLen uint8
	valLen uint16
	seed   uint64
	item   uint64
	setCnt uint64
}

func (h *header) lineSize() uint32 {
	return uint32(h.keyLen) + uint32(h.valLen)
}

func (h *header) slots() uint64 {
	return h.setCnt * guide.SlotsPerSet
}

func (h *header) marshal() []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[headerOffMagic:], magicTable)
	buf[headerOffType] = byte(h.typ)
	buf[headerOffKeyLen] = h.keyLen
	binary.LittleEndian.PutUint16(buf[headerOffValLen:], h.valLen)
	binary.LittleEndian.PutUint64(buf[headerOffSeed:], h.seed)
	binary.LittleEndian.PutUint64(buf[headerOffItem:], h.item)
	binary.LittleEndian.PutUint64(buf[headerOffSetCnt:], h.setCnt)
	return buf
}

// calcSetCnt sizes a table for item unique keys: enough sets that the items
// plus a 1/reserveFactor free-slot reserve fit, rounded up to an odd count.
// An odd set count keeps the set index from reducing to the low bits of the
// hash, as it would for a power-of-two count.
func calcSetCnt(item uint64) uint64 {
	reserved := (item + reserveFactor - 1) / reserveFactor
	return ((item+reserved+guide.SlotsPerSet-1)/guide.SlotsPerSet)&^1 + 1
}

// view is a parsed artifact: typed pointers into one contiguous byte range.
// It borrows the bytes; the residency handle that owns them must outlive it.
type view struct {
	typ      Type
	keyLen   uint32
	valLen   uint32
	lineSize uint32
	seed     uint64
	item     uint64
	setCnt   fastdiv.Divisor
	guide    []byte
	content  []byte
	// extend covers everything past the content array, through the end
	// of the artifact; only KVSeparated tables dereference into it
	extend []byte
}

var errBadArtifact = errors.New("not an ssht artifact or corrupted")

// createView validates the header and layout of an artifact and derives the
// region slices.
func createView(data []byte) (*view, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", errBadArtifact, len(data))
	}
	if m := binary.LittleEndian.Uint32(data[headerOffMagic:]); m != magicTable {
		return nil, fmt.Errorf("%w: bad magic %#x", errBadArtifact, m)
	}

	typ := Type(data[headerOffType])
	keyLen := uint32(data[headerOffKeyLen])
	valLen := uint32(binary.LittleEndian.Uint16(data[headerOffValLen:]))
	setCnt := binary.LittleEndian.Uint64(data[headerOffSetCnt:])
	if setCnt == 0 {
		return nil, fmt.Errorf("%w: zero set count", errBadArtifact)
	}

	switch typ {
	case KVSeparated:
		if valLen != offsetFieldSize {
			return nil, fmt.Errorf("%w: separated value field is %d bytes (expected %d)", errBadArtifact, valLen, offsetFieldSize)
		}
	case KVInline:
		if valLen == 0 {
			return nil, fmt.Errorf("%w: inline dictionary with zero value length", errBadArtifact)
		}
	case KeySet:
		if valLen != 0 {
			return nil, fmt.Errorf("%w: key set with value length %d", errBadArtifact, valLen)
		}
	default:
		return nil, fmt.Errorf("%w: unknown table type %d", errBadArtifact, typ)
	}
	if keyLen == 0 {
		return nil, fmt.Errorf("%w: zero key length", errBadArtifact)
	}

	slots := setCnt * guide.SlotsPerSet
	lineSize := keyLen + valLen
	contentOff := uint64(headerSize) + slots
	extendOff := contentOff + slots*uint64(lineSize)
	if uint64(len(data)) < extendOff {
		return nil, fmt.Errorf("%w: %d bytes is shorter than guide+content (%d)", errBadArtifact, len(data), extendOff)
	}
	if typ == KVSeparated && uint64(len(data)) < extendOff+slots {
		return nil, fmt.Errorf("%w: extend region shorter than %d bytes", errBadArtifact, slots)
	}

	return &view{
		typ:      typ,
		keyLen:   keyLen,
		valLen:   valLen,
		lineSize: lineSize,
		seed:     binary.LittleEndian.Uint64(data[headerOffSeed:]),
		item:     binary.LittleEndian.Uint64(data[headerOffItem:]),
		setCnt:   fastdiv.New(setCnt),
		guide:    data[headerSize:contentOff],
		content:  data[contentOff:extendOff],
		extend:   data[extendOff:],
	}, nil
}

// line returns the key+value line of slot pos in the given set.
func (v *view) line(set uint64, pos uint32) []byte {
	i := set*guide.SlotsPerSet + uint64(pos)
	return v.content[i*uint64(v.lineSize):][:v.lineSize]
}

func varintSize(n uint64) uint64 {
	cnt := uint64(1)
	for n&^0x7f != 0 {
		n >>= 7
		cnt++
	}
	return cnt
}

func writeVarint(out DataWriter, n uint64) error {
	var buf [10]byte
	w := 0
	for n&^0x7f != 0 {
		buf[w] = 0x80 | byte(n&0x7f)
		n >>= 7
		w++
	}
	buf[w] = byte(n)
	w++
	_, err := out.Write(buf[:w])
	return err
}

// separatedValue decodes the varint-length-prefixed value at off in the
// extend region.  It reports false when off or the decoded length runs past
// the end of the artifact, or when the length prefix exceeds the 35-bit
// limit.  A present zero-length value yields an empty slice and true.
func separatedValue(extend []byte, off uint64) ([]byte, bool) {
	if off >= uint64(len(extend)) {
		return nil, false
	}
	pt := extend[off:]
	var n uint64
	for sft := uint(0); sft < maxValueLenBits; sft += 7 {
		if len(pt) == 0 {
			return nil, false
		}
		b := pt[0]
		pt = pt[1:]
		if b&0x80 != 0 {
			n |= uint64(b&0x7f) << sft
			continue
		}
		n |= uint64(b) << sft
		if uint64(len(pt)) < n {
			return nil, false
		}
		return pt[:n:n], true
	}
	return nil, false
}

func readOffsetField(field []byte) uint64 {
	return uint64(binary.LittleEndian.Uint32(field)) |
		uint64(binary.LittleEndian.Uint16(field[4:]))<<32
}

func writeOffsetField(field []byte, off uint64) {
	binary.LittleEndian.PutUint32(field, uint32(off))
	binary.LittleEndian.PutUint16(field[4:], uint16(off>>32))
}
