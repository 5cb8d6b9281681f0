// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package mediameta

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// --- ISOBMFF (MP4/MOV) box builders ---

func mp4Box(typ string, body []byte) []byte {
	var buf bytes.Buffer
	size := uint32(8 + len(body))
	binary.Write(&buf, binary.BigEndian, size)
	buf.WriteString(typ)
	buf.Write(body)
	return buf.Bytes()
}

func mvhdBody(created, modified uint32) []byte {
	b := make([]byte, 20) // version/flags(4) + created(4) + modified(4) + timescale(4) + duration(4)
	binary.BigEndian.PutUint32(b[4:8], created)
	binary.BigEndian.PutUint32(b[8:12], modified)
	binary.BigEndian.PutUint32(b[12:16], 600) // timescale
	return b
}

// tkhdBody builds a minimal version-0 tkhd box body carrying only enough
// bytes to reach the 16.16 fixed-point width/height fields tkhd parsing
// reads from the tail.
func tkhdBody(width, height uint32) []byte {
	const fixedOffset = 4 + 72 // version/flags + everything parseTkhd skips
	b := make([]byte, fixedOffset+8)
	binary.BigEndian.PutUint32(b[fixedOffset:fixedOffset+4], width<<16)
	binary.BigEndian.PutUint32(b[fixedOffset+4:fixedOffset+8], height<<16)
	return b
}

func xyzBody(s string) []byte {
	b := make([]byte, 4+len(s))
	binary.BigEndian.PutUint16(b[0:2], uint16(len(s)))
	copy(b[4:], s)
	return b
}

// qtKeysBody builds a moov/meta/keys box body: a 4-byte version/flags
// field, a 4-byte key count, then one "mdta"-namespaced entry per key
// name.
func qtKeysBody(names []string) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(names)))
	for _, name := range names {
		entry := make([]byte, 8+len(name))
		binary.BigEndian.PutUint32(entry[0:4], uint32(len(entry)))
		copy(entry[4:8], "mdta")
		copy(entry[8:], name)
		buf = append(buf, entry...)
	}
	return buf
}

// qtIlstBody builds a moov/meta/ilst box body: one 1-indexed entry per
// value, each wrapping a nested "data" atom carrying UTF-8 text (flags==1).
func qtIlstBody(values []string) []byte {
	var buf []byte
	for i, v := range values {
		data := mp4Box("data", append([]byte{0, 0, 0, 1, 0, 0, 0, 0}, []byte(v)...))
		entry := make([]byte, 8+len(data))
		binary.BigEndian.PutUint32(entry[4:8], uint32(i+1))
		copy(entry[8:], data)
		binary.BigEndian.PutUint32(entry[0:4], uint32(len(entry)))
		buf = append(buf, entry...)
	}
	return buf
}

func TestParseTrackFromMP4(t *testing.T) {
	ftyp := mp4Box("ftyp", append([]byte("isom"), []byte("\x00\x00\x02\x00isomiso2mp41")...))
	tkhd := mp4Box("tkhd", tkhdBody(1920, 1080))
	trak := mp4Box("trak", tkhd)
	// created left at 0 so the meta/keys+ilst creationdate assertion below
	// exercises that path rather than being pre-empted by mvhd's.
	mvhd := mp4Box("mvhd", mvhdBody(0, 3592944100))
	xyz := mp4Box("\xa9xyz", xyzBody("+35.6586+139.6812/"))
	udta := mp4Box("udta", xyz)

	keyNames := []string{
		"com.apple.quicktime.make",
		"com.apple.quicktime.model",
		"com.apple.quicktime.software",
		"com.apple.quicktime.creationdate",
	}
	keyValues := []string{"Apple", "iPhone X", "12.1.2", "2019-02-01T14:41:04+0800"}
	keys := mp4Box("keys", qtKeysBody(keyNames))
	ilst := mp4Box("ilst", qtIlstBody(keyValues))
	metaKeys := mp4Box("meta", append(append([]byte{}, keys...), ilst...))

	moov := mp4Box("moov", append(append(append(append([]byte{}, mvhd...), trak...), udta...), metaKeys...))

	file := append(append([]byte{}, ftyp...), moov...)

	src, err := NewMediaSource(bytes.NewReader(file), Options{})
	if err != nil {
		t.Fatalf("NewMediaSource: %v", err)
	}
	if src.Format() != FormatISOBMFF {
		t.Fatalf("got format %v, want isobmff", src.Format())
	}
	if !src.HasTrack() {
		t.Fatalf("expected HasTrack")
	}

	p := NewMediaParser(Options{})
	info, err := p.ParseTrack(src)
	if err != nil {
		t.Fatalf("ParseTrack: %v", err)
	}

	got := map[string]string{}
	if v, ok := info.Get(TagTrackImageWidth); ok {
		got["width"] = v.AsString()
	}
	if v, ok := info.Get(TagTrackImageHeight); ok {
		got["height"] = v.AsString()
	}
	want := map[string]string{"width": "1920", "height": "1080"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("track dimensions mismatch (-want +got):\n%s", diff)
	}

	gps, ok := info.GetGPSInfo()
	if !ok {
		t.Fatalf("expected GpsIso6709 to be populated from the udta/©xyz atom")
	}
	if gps.Latitude < 35.65 || gps.Latitude > 35.67 {
		t.Fatalf("unexpected latitude %v", gps.Latitude)
	}

	if v, ok := info.Get(TagGpsIso6709); !ok || v.AsString() != "+35.6586+139.6812/" {
		t.Fatalf("GpsIso6709 should carry the file's exact notation, got %q (ok=%v)", v.AsString(), ok)
	}

	quickTimeFields := map[TrackInfoTag]string{
		TagTrackMake:     "Apple",
		TagTrackModel:    "iPhone X",
		TagTrackSoftware: "12.1.2",
	}
	for tag, want := range quickTimeFields {
		v, ok := info.Get(tag)
		if !ok {
			t.Fatalf("expected %s to be populated from moov/meta/keys+ilst", tag)
		}
		if got := v.AsString(); got != want {
			t.Fatalf("%s: got %q, want %q", tag, got, want)
		}
	}

	ct, ok := info.Get(TagCreationTime)
	if !ok {
		t.Fatalf("expected CreationTime to be populated")
	}
	ctTime, ok := ct.AsTime()
	if !ok || ctTime.Year() != 2019 || ctTime.Month() != 2 || ctTime.Day() != 1 {
		t.Fatalf("unexpected CreationTime %v", ctTime)
	}
}

// --- Matroska/EBML element builders ---

func mkvID(id uint32) []byte {
	switch {
	case id <= 0xFF:
		return []byte{byte(id)}
	case id <= 0xFFFF:
		return []byte{byte(id >> 8), byte(id)}
	case id <= 0xFFFFFF:
		return []byte{byte(id >> 16), byte(id >> 8), byte(id)}
	default:
		return []byte{byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id)}
	}
}

// mkvVSize encodes n as a minimal-length EBML data-size VINT, choosing a
// length that keeps the encoded value strictly below the all-ones "unknown
// size" sentinel for that length.
func mkvVSize(n uint64) []byte {
	length := 1
	for {
		maxVal := uint64(1)<<uint(7*length) - 1
		if n < maxVal {
			break
		}
		length++
	}
	buf := make([]byte, length)
	v := n
	for i := length - 1; i >= 1; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	buf[0] = byte(0x80>>uint(length-1)) | byte(v)
	return buf
}

func mkvElem(id uint32, body []byte) []byte {
	var buf bytes.Buffer
	buf.Write(mkvID(id))
	buf.Write(mkvVSize(uint64(len(body))))
	buf.Write(body)
	return buf.Bytes()
}

func mkvUint(v uint64, n int) []byte {
	b := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func mkvFloat64(v float64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(v))
	return b
}

func TestParseTrackFromMatroska(t *testing.T) {
	video := mkvElem(ebmlIDTrackType, []byte{1})
	video = append(video, mkvElem(ebmlIDVideo,
		append(mkvElem(ebmlIDPixelWidth, mkvUint(1280, 2)),
			mkvElem(ebmlIDPixelHeight, mkvUint(720, 2))...))...)
	trackEntry := mkvElem(ebmlIDTrackEntry, video)
	tracks := mkvElem(ebmlIDTracks, trackEntry)

	info := mkvElem(ebmlIDTimecodeScale, mkvUint(1_000_000, 4))
	info = append(info, mkvElem(ebmlIDTitle, []byte("My Clip"))...)
	info = append(info, mkvElem(ebmlIDDuration, mkvFloat64(5000))...)
	infoElem := mkvElem(ebmlIDInfo, info)

	simpleTag := mkvElem(ebmlIDTagName, []byte("ARTIST"))
	simpleTag = append(simpleTag, mkvElem(ebmlIDTagString, []byte("Test Artist"))...)
	tag := mkvElem(ebmlIDTag, mkvElem(ebmlIDSimpleTag, simpleTag))
	tags := mkvElem(ebmlIDTags, tag)

	segmentBody := append(append(append([]byte{}, infoElem...), tracks...), tags...)
	header := mkvElem(ebmlIDHeader, nil)
	segment := mkvElem(ebmlIDSegment, segmentBody)
	file := append(header, segment...)

	src, err := NewMediaSource(bytes.NewReader(file), Options{})
	if err != nil {
		t.Fatalf("NewMediaSource: %v", err)
	}
	if src.Format() != FormatMatroska {
		t.Fatalf("got format %v, want matroska", src.Format())
	}

	p := NewMediaParser(Options{})
	ti, err := p.ParseTrack(src)
	if err != nil {
		t.Fatalf("ParseTrack: %v", err)
	}

	got := map[string]string{}
	if v, ok := ti.Get(TagTitle); ok {
		got["title"] = v.AsString()
	}
	if v, ok := ti.Get(TagTrackImageWidth); ok {
		got["width"] = v.AsString()
	}
	if v, ok := ti.Get(TagTrackImageHeight); ok {
		got["height"] = v.AsString()
	}
	if v, ok := ti.Get(TagAuthor); ok {
		got["author"] = v.AsString()
	}
	want := map[string]string{
		"title":  "My Clip",
		"width":  "1280",
		"height": "720",
		"author": "Test Artist",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("matroska track metadata mismatch (-want +got):\n%s", diff)
	}

	duration, ok := ti.Get(TagDuration)
	if !ok {
		t.Fatalf("expected Duration to be set")
	}
	seconds, _ := duration.AsFloat64()
	if seconds < 4.9 || seconds > 5.1 {
		t.Fatalf("unexpected duration %v seconds", seconds)
	}
}
