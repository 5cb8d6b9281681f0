// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package mediameta

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// exifSnapshot extracts the baseline tags into a plain map so cmp.Diff can
// compare two passes without reaching into EntryValue's unexported fields.
func exifSnapshot(e *Exif) map[string]string {
	out := make(map[string]string)
	for _, tag := range []ExifTag{TagMake, TagModel, TagOrientation} {
		if v, ok := e.Get(tag); ok {
			out[string(tag)] = v.AsString()
		}
	}
	return out
}

// TestExifIterCloneAndRewindAgree checks that draining an iterator, then
// cloning-and-rewinding it to read the same IFD chain again, produces the
// identical set of tags: CloneAndRewind must not share mutable state with
// the iterator it was cloned from.
func TestExifIterCloneAndRewindAgree(t *testing.T) {
	order := binary.BigEndian
	tiff := buildTIFF(order, []tiffField{
		asciiField(0x010f, "Nikon"),
		asciiField(0x0110, "Z9"),
		u16Field(order, 0x0112, 1),
	})

	header, err := parseTiffHeader(newWindow(tiff, 0), 0)
	if err != nil {
		t.Fatalf("parseTiffHeader: %v", err)
	}

	first := newExifIter(newWindow(tiff, 0), header, Options{})
	firstExif, err := first.Into()
	if err != nil {
		t.Fatalf("first Into: %v", err)
	}

	second, err := first.CloneAndRewind().Into()
	if err != nil {
		t.Fatalf("rewound Into: %v", err)
	}

	if diff := cmp.Diff(exifSnapshot(firstExif), exifSnapshot(second)); diff != "" {
		t.Fatalf("rewound iterator disagreed with the first pass (-first +rewound):\n%s", diff)
	}
}

// TestExifIterStopsAtIfdCycle confirms a self-referencing "next IFD" link
// terminates iteration instead of looping forever; the cycle is logged via
// Warnf and the already-seen entries are still returned.
func TestExifIterStopsAtIfdCycle(t *testing.T) {
	order := binary.LittleEndian
	const headerLen = 8
	// An IFD whose "next IFD" offset points back at itself.
	ifd := buildIFD(order, headerLen, []tiffField{asciiField(0x010f, "Loop")})
	order.PutUint32(ifd[2+12:2+12+4], uint32(headerLen)) // next-IFD offset = self

	header := make([]byte, headerLen)
	header[0], header[1] = 'I', 'I'
	order.PutUint16(header[2:4], 42)
	order.PutUint32(header[4:8], headerLen)

	tiff := append(append([]byte{}, header...), ifd...)

	th, err := parseTiffHeader(newWindow(tiff, 0), 0)
	if err != nil {
		t.Fatalf("parseTiffHeader: %v", err)
	}
	var warnings int
	it := newExifIter(newWindow(tiff, 0), th, Options{Warnf: func(string, ...any) { warnings++ }})

	var tags []uint16
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		tags = append(tags, e.Code)
	}
	if len(tags) != 1 || tags[0] != 0x010f {
		t.Fatalf("expected exactly the one entry before the cycle, got %v", tags)
	}
	if warnings == 0 {
		t.Fatalf("expected the cycle to be reported via Warnf")
	}
}
