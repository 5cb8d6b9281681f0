// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package mediameta

import (
	"encoding/binary"
	"math"
	"time"
)

// TIFF/Exif IFD entry type codes, per the TIFF 6.0 and Exif specifications.
const (
	tiffTypeByte      = 1
	tiffTypeAscii     = 2
	tiffTypeShort     = 3
	tiffTypeLong      = 4
	tiffTypeRational  = 5
	tiffTypeSByte     = 6
	tiffTypeUndefined = 7
	tiffTypeSShort    = 8
	tiffTypeSLong     = 9
	tiffTypeSRational = 10
	tiffTypeFloat     = 11
	tiffTypeDouble    = 12
)

// Well-known IFD pointer tags that chase to a sub-IFD.
const (
	tagExifIFD          = 0x8769
	tagGPSIFD            = 0x8825
	tagInteroperabilityIFD = 0xA005
)

var tiffTypeSizes = map[uint16]int64{
	tiffTypeByte: 1, tiffTypeAscii: 1, tiffTypeShort: 2, tiffTypeLong: 4,
	tiffTypeRational: 8, tiffTypeSByte: 1, tiffTypeUndefined: 1,
	tiffTypeSShort: 2, tiffTypeSLong: 4, tiffTypeSRational: 8,
	tiffTypeFloat: 4, tiffTypeDouble: 8,
}

// ifdEntryRaw is the raw 12-byte IFD entry, not yet materialized into an
// EntryValue. Materialization is deferred to ExifIter.Next so that a caller
// who only wants a handful of tags never pays to decode the rest.
type ifdEntryRaw struct {
	tagCode  uint16
	rawType  uint16
	count    uint32
	valueOff [4]byte // either the inline value or the offset to it
}

// tiffHeader identifies byte order and the offset of the first IFD,
// relative to the anchor (the start of the TIFF structure itself — for a
// bare .tiff file this is byte 0; for an Exif blob inside JPEG/HEIF,
// including a RAF file's embedded preview JPEG, it is the start of the
// "Exif\0\0"-prefixed TIFF body).
type tiffHeader struct {
	order     binary.ByteOrder
	firstIFD  int64 // absolute offset, anchor + the header-relative value
	anchor    int64
}

// parseTiffHeader reads the 8-byte TIFF header (byte-order mark, magic 42,
// first-IFD offset) from the start of w, anchored at anchor.
func parseTiffHeader(w Window, anchor int64) (tiffHeader, error) {
	b, ok := w.Slice(anchor, anchor+8)
	if !ok || len(b) < 8 {
		return tiffHeader{}, newFormatErrorf("%w: truncated tiff header", ErrMalformedTiff)
	}
	var order binary.ByteOrder
	switch {
	case b[0] == 'I' && b[1] == 'I':
		order = binary.LittleEndian
	case b[0] == 'M' && b[1] == 'M':
		order = binary.BigEndian
	default:
		return tiffHeader{}, newFormatErrorf("%w: bad byte-order mark %q", ErrMalformedTiff, b[0:2])
	}
	if magic := order.Uint16(b[2:4]); magic != 42 {
		return tiffHeader{}, newFormatErrorf("%w: bad magic %d", ErrMalformedTiff, magic)
	}
	off := int64(order.Uint32(b[4:8]))
	return tiffHeader{order: order, firstIFD: anchor + off, anchor: anchor}, nil
}

// ifdReader reads entries out of one IFD at a time. It is given a Window
// that must already contain every IFD this parse will visit — Exif blobs
// are bounded (at most MaxBody), so the caller loads the whole blob once
// and hands every ifdReader the same Window.
type ifdReader struct {
	w      Window
	order  binary.ByteOrder
	anchor int64

	visited map[int64]bool
	depth   int
	maxDepth int
	maxEntries int
	maxVisited int
}

func newIfdReader(w Window, order binary.ByteOrder, anchor int64, opts Options) *ifdReader {
	return &ifdReader{
		w: w, order: order, anchor: anchor,
		visited:    make(map[int64]bool),
		maxDepth:   opts.ifdDepthOrDefault(),
		maxEntries: opts.maxIfdEntriesOrDefault(),
		maxVisited: opts.maxVisitedOrDefault(),
	}
}

// readIFD reads the entry count, the entries, and the next-IFD offset (0 if
// absent) from the IFD at absolute offset ifdOff. It enforces the
// depth/cycle/entry-count caps from spec.md §4.5.
func (r *ifdReader) readIFD(ifdOff int64, depth int) ([]ifdEntryRaw, int64, error) {
	if depth > r.maxDepth {
		return nil, 0, ErrDepthExceeded
	}
	if r.visited[ifdOff] {
		return nil, 0, ErrIfdCycle
	}
	if len(r.visited) >= r.maxVisited {
		return nil, 0, newFormatErrorf("%w: too many distinct ifd offsets", ErrIfdCycle)
	}
	r.visited[ifdOff] = true

	countBytes, ok := r.w.Slice(ifdOff, ifdOff+2)
	if !ok {
		return nil, 0, newFormatErrorf("%w: ifd count out of range at %d", ErrMalformedTiff, ifdOff)
	}
	count := int(r.order.Uint16(countBytes))
	if count > r.maxEntries {
		return nil, 0, newFormatErrorf("%w: ifd entry count %d exceeds cap", ErrMalformedTiff, count)
	}

	entriesStart := ifdOff + 2
	entriesEnd := entriesStart + int64(count)*12
	raw, ok := r.w.Slice(entriesStart, entriesEnd)
	if !ok {
		return nil, 0, newFormatErrorf("%w: ifd entries out of range at %d", ErrMalformedTiff, ifdOff)
	}

	entries := make([]ifdEntryRaw, count)
	for i := 0; i < count; i++ {
		e := raw[i*12 : i*12+12]
		var ve ifdEntryRaw
		ve.tagCode = r.order.Uint16(e[0:2])
		ve.rawType = r.order.Uint16(e[2:4])
		ve.count = r.order.Uint32(e[4:8])
		copy(ve.valueOff[:], e[8:12])
		entries[i] = ve
	}

	nextBytes, ok := r.w.Slice(entriesEnd, entriesEnd+4)
	var next int64
	if ok {
		next = int64(r.order.Uint32(nextBytes))
		if next != 0 {
			next += r.anchor
		}
	}
	return entries, next, nil
}

// materialize decodes one raw entry into an EntryValue, reading any
// out-of-line payload (count*size > 4 bytes) from the shared Window via the
// entry's value-offset field interpreted as an anchor-relative offset.
func (r *ifdReader) materialize(e ifdEntryRaw) (EntryValue, error) {
	size, ok := tiffTypeSizes[e.rawType]
	if !ok {
		return EntryValue{}, &InvalidEntryError{TagCode: e.tagCode, Reason: "unknown type code"}
	}
	if e.count == 0 {
		return EntryValue{}, &InvalidEntryError{TagCode: e.tagCode, Reason: "zero value count"}
	}
	total := size * int64(e.count)

	var payload []byte
	if total <= 4 {
		payload = e.valueOff[:total]
	} else {
		off := r.anchor + int64(r.order.Uint32(e.valueOff[:]))
		b, ok := r.w.Slice(off, off+total)
		if !ok {
			return EntryValue{}, &InvalidEntryError{TagCode: e.tagCode, Reason: "value out of range"}
		}
		payload = b
	}

	switch e.rawType {
	case tiffTypeAscii:
		return TextValue(trimAtFirstNUL(payload)), nil
	case tiffTypeByte, tiffTypeUndefined:
		if e.count == 1 {
			return U8Value(payload[0]), nil
		}
		return U8ArrayValue(append([]byte(nil), payload...)), nil
	case tiffTypeSByte:
		return I32Value(int32(int8(payload[0]))), nil
	case tiffTypeShort:
		if e.count == 1 {
			return U16Value(r.order.Uint16(payload)), nil
		}
		shorts := make([]uint16, e.count)
		for i := range shorts {
			shorts[i] = r.order.Uint16(payload[i*2 : i*2+2])
		}
		return U16ArrayValue(shorts), nil
	case tiffTypeSShort:
		return I16Value(int16(r.order.Uint16(payload))), nil
	case tiffTypeLong:
		return U32Value(r.order.Uint32(payload)), nil
	case tiffTypeSLong:
		return I32Value(int32(r.order.Uint32(payload))), nil
	case tiffTypeFloat:
		bits := r.order.Uint32(payload)
		return F32Value(math.Float32frombits(bits)), nil
	case tiffTypeDouble:
		bits := r.order.Uint64(payload)
		return F64Value(math.Float64frombits(bits)), nil
	case tiffTypeRational:
		rats := make([]URational, e.count)
		for i := range rats {
			p := payload[i*8 : i*8+8]
			rats[i] = URational{Num: r.order.Uint32(p[0:4]), Den: r.order.Uint32(p[4:8])}
		}
		return URationalArrayValue(rats), nil
	case tiffTypeSRational:
		rats := make([]IRational, e.count)
		for i := range rats {
			p := payload[i*8 : i*8+8]
			rats[i] = IRational{Num: int32(r.order.Uint32(p[0:4])), Den: int32(r.order.Uint32(p[4:8]))}
		}
		return IRationalArrayValue(rats), nil
	default:
		return EntryValue{}, &InvalidEntryError{TagCode: e.tagCode, Reason: "unsupported type code"}
	}
}

// parseExifDateTime parses the Exif DateTime* string form "YYYY:MM:DD
// HH:MM:SS", optionally combined with a SubSec* fractional-second string
// and an OffsetTime* "+HH:MM"/"-HH:MM" string, per spec.md's date/time
// combination rule.
func parseExifDateTime(value, subsec, offset string) (EntryValue, error) {
	const layout = "2006:01:02 15:04:05"
	t, err := time.ParseInLocation(layout, value, time.UTC)
	if err != nil {
		return EntryValue{}, &InvalidDateTimeError{Value: value, Reason: err.Error()}
	}
	if subsec != "" {
		var frac time.Duration
		for i, c := range subsec {
			if c < '0' || c > '9' || i >= 9 {
				break
			}
			frac = frac*10 + time.Duration(c-'0')
		}
		scale := 1
		for i := 0; i < len(subsec) && i < 9; i++ {
			scale *= 10
		}
		t = t.Add(frac * time.Second / time.Duration(scale))
	}
	if offset == "" {
		return NaiveDateTimeValue(t), nil
	}
	loc, err := parseFixedOffset(offset)
	if err != nil {
		return EntryValue{}, &InvalidDateTimeError{Value: offset, Reason: err.Error()}
	}
	return TimeWithOffsetValue(t.In(loc)), nil
}

func parseFixedOffset(s string) (*time.Location, error) {
	if len(s) != 6 || (s[0] != '+' && s[0] != '-') || s[3] != ':' {
		return nil, newFormatErrorf("malformed offset %q", s)
	}
	sign := 1
	if s[0] == '-' {
		sign = -1
	}
	hh := int(s[1]-'0')*10 + int(s[2]-'0')
	mm := int(s[4]-'0')*10 + int(s[5]-'0')
	secs := sign * (hh*3600 + mm*60)
	return time.FixedZone(s, secs), nil
}
